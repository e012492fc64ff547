// Package launcher turns host facts into a LaunchConfig and hands it to
// the serve phase. Startup happens in two phases: Preflight only inspects
// the filesystem, Serve spawns llama-server and binds the port.
package launcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/sirupsen/logrus"

	"github.com/ThatCatDev/tanrenai/gemma/internal/config"
	"github.com/ThatCatDev/tanrenai/gemma/internal/logging"
	"github.com/ThatCatDev/tanrenai/gemma/internal/runner"
	"github.com/ThatCatDev/tanrenai/gemma/internal/server"
)

// Checked is the outcome of a successful preflight.
type Checked struct {
	LauncherDir string
	ModelPath   string
	BinPath     string
	File        *config.File // nil when no operator file exists
}

// Preflight checks the model first, then reads the operator file and
// locates llama-server. It starts no processes and opens no sockets.
func Preflight(env Environment) (*Checked, error) {
	dir, err := config.LauncherDir(env.Executable)
	if err != nil {
		return nil, err
	}

	modelPath := config.ModelPath(dir)
	if _, err := os.Stat(modelPath); err != nil {
		return nil, &MissingArtifactError{Path: modelPath}
	}

	file, err := config.LoadFile(config.FilePath(dir))
	if err != nil {
		return nil, err
	}

	var override string
	if file != nil {
		override = file.LlamaServer
	}
	dirs := config.BinDirs(dir)
	bin, err := runner.ResolveBinary(override, dirs, env.LookPath)
	if err != nil {
		return nil, &MissingDependencyError{Searched: dirs, Err: err}
	}

	return &Checked{
		LauncherDir: dir,
		ModelPath:   modelPath,
		BinPath:     bin,
		File:        file,
	}, nil
}

// ServeFunc is the second startup phase. It blocks until shutdown.
type ServeFunc func(ctx context.Context, cfg *config.LaunchConfig, log *logrus.Logger) error

// Serve starts llama-server behind the HTTP app and runs it.
func Serve(ctx context.Context, cfg *config.LaunchConfig, log *logrus.Logger) error {
	app, err := server.Create(ctx, cfg, log)
	if err != nil {
		return err
	}
	return server.Run(ctx, app, server.RunOptions{
		Host:        cfg.Server.Host,
		Port:        cfg.Server.Port,
		LogLevel:    cfg.LogLevel,
		SSLKeyFile:  cfg.Server.SSLKeyFile,
		SSLCertFile: cfg.Server.SSLCertFile,
		Logger:      log,
		MaxConns:    config.MaxConns,
	})
}

// Launcher runs both startup phases and maps the outcome to an exit code.
type Launcher struct {
	Env    Environment
	Stderr io.Writer
	Serve  ServeFunc

	// Log overrides the logger built from the configured log level.
	Log *logrus.Logger
}

// New returns a Launcher for the real host.
func New() *Launcher {
	return &Launcher{Env: OS(), Stderr: os.Stderr, Serve: Serve}
}

// Run launches and returns the process exit code.
func (l *Launcher) Run(ctx context.Context) int {
	checked, err := Preflight(l.Env)
	if err != nil {
		return l.fail(err)
	}

	cfg, err := config.Build(config.Inputs{
		ModelPath: checked.ModelPath,
		BinPath:   checked.BinPath,
		CPUs:      l.Env.NumCPU(),
		Environ:   l.Env.Environ(),
		Lookup:    l.Env.LookupEnv,
		File:      checked.File,
	})
	if err != nil {
		return l.fail(err)
	}

	log := l.Log
	if log == nil {
		log, err = logging.NewWithWriter(l.Stderr, cfg.LogLevel)
		if err != nil {
			return l.fail(err)
		}
	}

	log.WithFields(logrus.Fields{
		"model":         cfg.Model.Model,
		"llama_server":  cfg.BinPath,
		"threads":       cfg.Model.NThreads,
		"threads_batch": cfg.Model.NThreadsBatch,
		"ctx":           cfg.Model.NCtx,
		"cache":         humanize.IBytes(uint64(cfg.Model.Cache.Size)),
	}).Info("launching gemma")
	log.Infof("OpenAI-compatible API at %s://%s/v1", scheme(cfg.Server), cfg.Server.Addr())

	if err := l.Serve(ctx, cfg, log); err != nil {
		log.WithError(err).Error("server stopped")
		return 1
	}
	return 0
}

func (l *Launcher) fail(err error) int {
	red := color.New(color.FgRed)
	var d diagnostic
	if errors.As(err, &d) {
		red.Fprintln(l.Stderr, d.Diagnostic())
	} else {
		red.Fprintln(l.Stderr, fmt.Sprintf("Error: %v", err))
	}
	return 1
}

func scheme(ss config.ServerSettings) string {
	if ss.TLS() {
		return "https"
	}
	return "http"
}
