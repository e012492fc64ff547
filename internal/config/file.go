package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// File is the optional operator file. It only carries knobs that do not
// affect the launch policy: binding, threads, context and cache stay fixed.
type File struct {
	LogLevel    string `yaml:"log_level"`
	SSLKeyFile  string `yaml:"ssl_keyfile"`
	SSLCertFile string `yaml:"ssl_certfile"`
	APIKey      string `yaml:"api_key"`
	LlamaServer string `yaml:"llama_server"` // explicit llama-server path
}

var validLogLevels = map[string]bool{
	"trace": true, "debug": true, "info": true,
	"warning": true, "warn": true, "error": true, "critical": true,
}

// LoadFile reads path. A missing file yields (nil, nil).
func LoadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return ParseFile(data)
}

// ParseFile decodes and validates an operator file. Unknown keys are an
// error so policy fields cannot be smuggled in.
func ParseFile(data []byte) (*File, error) {
	var f File
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	if err := f.validate(); err != nil {
		return nil, fmt.Errorf("config file: %w", err)
	}
	return &f, nil
}

func (f *File) validate() error {
	if f.LogLevel != "" && !validLogLevels[strings.ToLower(f.LogLevel)] {
		return fmt.Errorf("unknown log_level %q", f.LogLevel)
	}
	return nil
}

func (f *File) apply(ss *ServerSettings, logLevel *string) {
	if f.LogLevel != "" {
		*logLevel = strings.ToLower(f.LogLevel)
	}
	if f.SSLKeyFile != "" {
		ss.SSLKeyFile = f.SSLKeyFile
	}
	if f.SSLCertFile != "" {
		ss.SSLCertFile = f.SSLCertFile
	}
	if f.APIKey != "" {
		ss.APIKey = f.APIKey
	}
}
