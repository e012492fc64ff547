package runner

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	defaultHealthTimeout = 120 * time.Second
	stopGracePeriod      = 5 * time.Second

	// maxLogLine caps how much of one output line is logged.
	maxLogLine = 16 * 1024
)

// Subprocess manages the lifecycle of a llama-server child process.
// It handles environment setup, process start/stop, output logging,
// health polling, and graceful shutdown.
type Subprocess struct {
	cmd  *exec.Cmd
	mu   sync.Mutex
	port int

	binPath       string
	args          []string
	env           []string
	label         string
	quiet         bool
	baseURL       string
	healthy       bool
	stopped       bool          // true after GracefulStop
	doneCh        chan struct{} // closed when the process exits
	waitErr       error
	healthTimeout time.Duration
	log           *logrus.Entry
}

// SubprocessConfig holds everything needed to start a llama-server subprocess.
type SubprocessConfig struct {
	BinPath       string
	Args          []string      // args after the binary path, without --host/--port
	Env           []string      // full child environment
	Port          int           // 0 = auto-allocate
	Label         string        // log field value (default "llama-server")
	Quiet         bool          // suppress subprocess stdout/stderr
	HealthTimeout time.Duration // how long to wait for /health (default 120s)
	Logger        *logrus.Logger
}

// allocatePort finds a free loopback TCP port by binding to :0 and releasing it.
func allocatePort() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, fmt.Errorf("allocate port: %w", err)
	}
	port := l.Addr().(*net.TCPAddr).Port
	l.Close()
	return port, nil
}

// NewSubprocess creates a Subprocess but does not start it. Call Start() next.
func NewSubprocess(cfg SubprocessConfig) (*Subprocess, error) {
	if cfg.BinPath == "" {
		return nil, fmt.Errorf("subprocess: empty binary path")
	}

	port := cfg.Port
	if port == 0 {
		var err error
		port, err = allocatePort()
		if err != nil {
			return nil, err
		}
	}

	label := cfg.Label
	if label == "" {
		label = "llama-server"
	}

	healthTimeout := cfg.HealthTimeout
	if healthTimeout == 0 {
		healthTimeout = defaultHealthTimeout
	}

	logger := cfg.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	// Shared libraries ship next to the binary in release archives.
	env := withLibraryDir(cfg.Env, filepath.Dir(cfg.BinPath))

	return &Subprocess{
		binPath:       cfg.BinPath,
		args:          cfg.Args,
		env:           env,
		port:          port,
		label:         label,
		quiet:         cfg.Quiet,
		baseURL:       fmt.Sprintf("http://127.0.0.1:%d", port),
		healthTimeout: healthTimeout,
		doneCh:        make(chan struct{}),
		log:           logger.WithField("proc", label),
	}, nil
}

// withLibraryDir returns a copy of env with dir prepended to
// LD_LIBRARY_PATH. An operator-set value is kept behind it; as with
// os/exec, the last of duplicate entries is the one that counts.
func withLibraryDir(env []string, dir string) []string {
	const key = "LD_LIBRARY_PATH"
	out := make([]string, 0, len(env)+1)
	existing := ""
	for _, kv := range env {
		if k, v, ok := strings.Cut(kv, "="); ok && k == key {
			existing = v
			continue
		}
		out = append(out, kv)
	}
	value := dir
	if existing != "" {
		value += string(os.PathListSeparator) + existing
	}
	return append(out, key+"="+value)
}

func (s *Subprocess) logger() *logrus.Entry {
	if s.log == nil {
		return logrus.WithField("proc", s.label)
	}
	return s.log
}

// Port returns the port the subprocess is listening on.
func (s *Subprocess) Port() int {
	return s.port
}

// BaseURL returns the HTTP base URL of the subprocess.
func (s *Subprocess) BaseURL() string {
	return s.baseURL
}

// Healthy returns whether the subprocess last passed a health check.
func (s *Subprocess) Healthy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.healthy
}

// commandArgs returns the configured args with --host and --port pinned to
// the loopback address and allocated port.
func (s *Subprocess) commandArgs() []string {
	args := make([]string, 0, len(s.args)+4)
	for i := 0; i < len(s.args); i++ {
		if (s.args[i] == "--host" || s.args[i] == "--port") && i+1 < len(s.args) {
			i++
			continue
		}
		args = append(args, s.args[i])
	}
	return append(args, "--host", "127.0.0.1", "--port", strconv.Itoa(s.port))
}

// Start launches the subprocess and waits for it to become healthy.
// The provided ctx controls only the health-check wait; the subprocess
// itself runs until GracefulStop or until it exits on its own.
func (s *Subprocess) Start(ctx context.Context) error {
	s.mu.Lock()
	s.stopped = false
	s.healthy = false
	s.waitErr = nil
	s.doneCh = make(chan struct{})
	s.mu.Unlock()

	s.cmd = exec.Command(s.binPath, s.commandArgs()...)
	s.cmd.Env = s.env
	s.cmd.SysProcAttr = sysProcAttr()

	if s.quiet {
		s.cmd.Stdout = io.Discard
		s.cmd.Stderr = io.Discard
	} else {
		s.pipeOutput()
	}

	s.logger().WithField("port", s.port).Infof("starting %s", s.binPath)

	if err := s.cmd.Start(); err != nil {
		return fmt.Errorf("failed to start %s: %w", s.label, err)
	}

	doneCh := s.doneCh
	go func() {
		err := s.cmd.Wait()
		s.mu.Lock()
		s.waitErr = err
		s.healthy = false
		s.mu.Unlock()
		close(doneCh)
	}()

	if err := s.waitForHealth(ctx); err != nil {
		s.GracefulStop()
		return fmt.Errorf("%s failed to become healthy: %w", s.label, err)
	}

	s.mu.Lock()
	s.healthy = true
	s.mu.Unlock()

	s.logger().WithField("port", s.port).Info("ready")
	return nil
}

// Done returns a channel that is closed when the subprocess exits.
func (s *Subprocess) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doneCh
}

// Err returns the error from waiting on the process once Done is closed.
func (s *Subprocess) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.waitErr
}

// ExitCode returns the process exit code, or -1 if not yet exited.
func (s *Subprocess) ExitCode() int {
	select {
	case <-s.Done():
	default:
		return -1
	}
	if s.cmd == nil || s.cmd.ProcessState == nil {
		return -1
	}
	return s.cmd.ProcessState.ExitCode()
}

// GracefulStop asks the process to terminate, waits up to 5 seconds, then kills it.
func (s *Subprocess) GracefulStop() error {
	s.mu.Lock()
	s.stopped = true
	s.healthy = false
	s.mu.Unlock()

	if s.cmd == nil || s.cmd.Process == nil {
		return nil
	}

	pid := s.cmd.Process.Pid
	s.logger().WithField("pid", pid).Debug("terminating")

	if err := terminate(s.cmd.Process); err != nil {
		// Process may already be dead.
		s.logger().WithField("pid", pid).Debugf("terminate failed (process may have exited): %v", err)
		return nil
	}

	select {
	case <-s.doneCh:
		s.logger().Info("process exited cleanly")
		return nil
	case <-time.After(stopGracePeriod):
		s.logger().WithField("pid", pid).Warn("process did not exit after terminate, killing")
		if err := s.cmd.Process.Kill(); err != nil {
			return fmt.Errorf("failed to kill %s: %w", s.label, err)
		}
		<-s.doneCh
		return nil
	}
}

// WasStopped returns true if GracefulStop was called (i.e., this was an intentional shutdown).
func (s *Subprocess) WasStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

// waitForHealth polls /health until it returns 200, with progress logging.
func (s *Subprocess) waitForHealth(ctx context.Context) error {
	deadline := time.Now().Add(s.healthTimeout)
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	progressTicker := time.NewTicker(5 * time.Second)
	defer progressTicker.Stop()

	start := time.Now()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.doneCh:
			return fmt.Errorf("%s process exited during startup (exit code %d)", s.label, s.ExitCode())
		case <-progressTicker.C:
			s.logger().Infof("still loading model... (%.0fs elapsed)", time.Since(start).Seconds())
		case <-ticker.C:
			if time.Now().After(deadline) {
				return fmt.Errorf("timeout waiting for %s to become ready after %s", s.label, s.healthTimeout)
			}
			if s.healthCheck(ctx) == nil {
				return nil
			}
		}
	}
}

func (s *Subprocess) healthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned %d", resp.StatusCode)
	}
	return nil
}

// pipeOutput connects subprocess stdout+stderr to the logger.
func (s *Subprocess) pipeOutput() {
	stdoutPipe, err := s.cmd.StdoutPipe()
	if err == nil {
		go s.scanLines(stdoutPipe)
	}

	stderrPipe, err := s.cmd.StderrPipe()
	if err == nil {
		go s.scanLines(stderrPipe)
	}
}

// scanLines logs r line by line until EOF. Lines longer than maxLogLine
// are cut short but still read in full, so the child never blocks on a
// full pipe.
func (s *Subprocess) scanLines(r io.Reader) {
	br := bufio.NewReaderSize(r, 64*1024)
	var line []byte
	dropped := 0
	emit := func() {
		entry := s.logger()
		if dropped > 0 {
			entry = entry.WithField("truncated_bytes", dropped)
		}
		entry.Info(string(line))
		line = line[:0]
		dropped = 0
	}
	for {
		chunk, isPrefix, err := br.ReadLine()
		if err != nil {
			if len(line) > 0 || dropped > 0 {
				emit()
			}
			return
		}
		if room := maxLogLine - len(line); room > 0 {
			n := min(room, len(chunk))
			line = append(line, chunk[:n]...)
			dropped += len(chunk) - n
		} else {
			dropped += len(chunk)
		}
		if !isPrefix {
			emit()
		}
	}
}
