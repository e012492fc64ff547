package runner

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/ThatCatDev/tanrenai/gemma/internal/config"
)

// Runner is the inference backend the HTTP app forwards to.
type Runner interface {
	// BaseURL is the backend's loopback HTTP address.
	BaseURL() string

	// ModelName returns the alias the model is served under.
	ModelName() string

	// Health returns nil if the runner is ready to serve requests.
	Health(ctx context.Context) error

	// Done is closed when the backend stops for any reason.
	Done() <-chan struct{}

	// Err explains an unexpected stop. It is nil while running and after Close.
	Err() error

	// Close shuts down the runner and releases resources.
	Close() error
}

// ProcessRunner manages a llama-server subprocess for model inference.
// A crash is reported through Done/Err and never restarted; restart policy
// belongs to whatever supervises the launcher.
type ProcessRunner struct {
	sub       *Subprocess
	modelName string
	log       *logrus.Logger
}

// NewProcessRunner creates a new ProcessRunner.
func NewProcessRunner() *ProcessRunner {
	return &ProcessRunner{}
}

// Load starts llama-server for ms and blocks until it is healthy or ctx ends.
func (r *ProcessRunner) Load(ctx context.Context, ms config.ModelSettings, opts Options) error {
	r.modelName = ms.ModelAlias
	r.log = opts.Logger
	if r.log == nil {
		r.log = logrus.StandardLogger()
	}

	sub, err := NewSubprocess(SubprocessConfig{
		BinPath:       opts.BinPath,
		Args:          BuildArgs(ms),
		Env:           opts.Env,
		Port:          opts.Port,
		Label:         "llama-server",
		Quiet:         opts.Quiet,
		HealthTimeout: opts.HealthTimeout,
		Logger:        r.log,
	})
	if err != nil {
		return err
	}

	if err := sub.Start(ctx); err != nil {
		return err
	}

	r.sub = sub
	r.log.WithFields(logrus.Fields{
		"port":  sub.Port(),
		"model": r.modelName,
	}).Info("llama-server ready")
	return nil
}

func (r *ProcessRunner) BaseURL() string {
	if r.sub == nil {
		return ""
	}
	return r.sub.BaseURL()
}

func (r *ProcessRunner) ModelName() string {
	return r.modelName
}

func (r *ProcessRunner) Health(ctx context.Context) error {
	if r.sub == nil {
		return fmt.Errorf("llama-server not started")
	}
	return r.sub.healthCheck(ctx)
}

func (r *ProcessRunner) Done() <-chan struct{} {
	if r.sub == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return r.sub.Done()
}

func (r *ProcessRunner) Err() error {
	if r.sub == nil {
		return fmt.Errorf("llama-server not started")
	}
	select {
	case <-r.sub.Done():
	default:
		return nil
	}
	if r.sub.WasStopped() {
		return nil
	}
	if err := r.sub.Err(); err != nil {
		return fmt.Errorf("llama-server exited unexpectedly (exit code %d): %w", r.sub.ExitCode(), err)
	}
	return fmt.Errorf("llama-server exited unexpectedly (exit code %d)", r.sub.ExitCode())
}

func (r *ProcessRunner) Close() error {
	if r.sub != nil {
		return r.sub.GracefulStop()
	}
	return nil
}
