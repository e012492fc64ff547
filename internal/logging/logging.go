// Package logging builds the launcher's logrus logger.
package logging

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
)

// Formatter renders "[INF] message key=value ..." lines.
type Formatter struct{}

func (f *Formatter) Format(entry *logrus.Entry) ([]byte, error) {
	var b bytes.Buffer
	b.WriteString(levelText(entry.Level))
	b.WriteByte(' ')
	b.WriteString(entry.Message)

	keys := make([]string, 0, len(entry.Data))
	for k := range entry.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, entry.Data[k])
	}
	b.WriteByte('\n')
	return b.Bytes(), nil
}

func levelText(l logrus.Level) string {
	switch l {
	case logrus.TraceLevel:
		return "[TRC]"
	case logrus.DebugLevel:
		return "[DBG]"
	case logrus.InfoLevel:
		return "[INF]"
	case logrus.WarnLevel:
		return "[WRN]"
	case logrus.ErrorLevel:
		return "[ERR]"
	default:
		return "[FTL]"
	}
}

// ParseLevel accepts logrus level names plus "critical".
func ParseLevel(level string) (logrus.Level, error) {
	level = strings.ToLower(strings.TrimSpace(level))
	switch level {
	case "":
		return logrus.InfoLevel, nil
	case "critical":
		return logrus.FatalLevel, nil
	}
	return logrus.ParseLevel(level)
}

// New returns a logger writing to stderr at level.
func New(level string) (*logrus.Logger, error) {
	return NewWithWriter(os.Stderr, level)
}

// NewWithWriter is New with an explicit output.
func NewWithWriter(w io.Writer, level string) (*logrus.Logger, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	logger := logrus.New()
	logger.SetOutput(w)
	logger.SetLevel(lvl)
	logger.SetFormatter(&Formatter{})
	return logger, nil
}

// Discard returns a logger that drops everything. Useful in tests.
func Discard() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}
