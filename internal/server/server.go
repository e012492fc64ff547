package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/net/netutil"

	"github.com/ThatCatDev/tanrenai/gemma/internal/config"
	"github.com/ThatCatDev/tanrenai/gemma/internal/runner"
)

// App is the OpenAI-compatible front for one loaded model. It owns the
// runner it forwards to.
type App struct {
	server  config.ServerSettings
	model   config.ModelSettings
	runner  runner.Runner
	gate    *Gate
	log     *logrus.Logger
	handler http.Handler
}

// New wires an App around an already running backend.
func New(ss config.ServerSettings, ms config.ModelSettings, r runner.Runner, logger *logrus.Logger) *App {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	a := &App{
		server: ss,
		model:  ms,
		runner: r,
		gate:   NewGate(ss.InterruptRequests),
		log:    logger,
	}

	mux := http.NewServeMux()
	a.registerRoutes(mux)
	a.handler = withRequestID(withLogging(logger, withCORS(withAPIKey(ss.APIKey, mux))))
	return a
}

// Create starts llama-server for cfg and returns the App in front of it.
// It blocks until the model is loaded.
func Create(ctx context.Context, cfg *config.LaunchConfig, logger *logrus.Logger) (*App, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	r := runner.NewProcessRunner()
	err := r.Load(ctx, cfg.Model, runner.Options{
		BinPath: cfg.BinPath,
		Env:     cfg.Env,
		Logger:  logger,
	})
	if err != nil {
		return nil, fmt.Errorf("load model: %w", err)
	}
	return New(cfg.Server, cfg.Model, r, logger), nil
}

// Handler returns the app's HTTP handler, middleware included.
func (a *App) Handler() http.Handler {
	return a.handler
}

// Runner returns the backend the app forwards to.
func (a *App) Runner() runner.Runner {
	return a.runner
}

// Close stops the backend.
func (a *App) Close() error {
	return a.runner.Close()
}

// RunOptions configures the HTTP listener.
type RunOptions struct {
	Host        string
	Port        int
	LogLevel    string
	SSLKeyFile  string
	SSLCertFile string
	Logger      *logrus.Logger

	// MaxConns caps concurrent connections. 0 means unlimited.
	MaxConns int
}

// Run serves app until ctx is cancelled, the listener fails, or the backend
// dies. The app is closed before Run returns. A clean shutdown returns nil;
// a backend crash returns its error.
func Run(ctx context.Context, app *App, opts RunOptions) error {
	logger := opts.Logger
	if logger == nil {
		logger = app.log
	}
	defer app.Close()

	addr := net.JoinHostPort(opts.Host, fmt.Sprint(opts.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	if opts.MaxConns > 0 {
		ln = netutil.LimitListener(ln, opts.MaxConns)
	}

	errLog := logger.WriterLevel(logrus.ErrorLevel)
	defer errLog.Close()
	srv := &http.Server{
		Handler:           app.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          log.New(errLog, "", 0),
	}

	tls := opts.SSLKeyFile != "" && opts.SSLCertFile != ""
	scheme := "http"
	if tls {
		scheme = "https"
	}
	logger.WithFields(logrus.Fields{
		"addr":      ln.Addr().String(),
		"scheme":    scheme,
		"model":     app.model.ModelAlias,
		"log_level": opts.LogLevel,
	}).Info("listening")

	errCh := make(chan error, 1)
	go func() {
		if tls {
			errCh <- srv.ServeTLS(ln, opts.SSLCertFile, opts.SSLKeyFile)
			return
		}
		errCh <- srv.Serve(ln)
	}()

	shutdown := func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Warn("server shutdown error")
		}
	}

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdown()
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve: %w", err)
	case <-app.runner.Done():
		shutdown()
		if err := app.runner.Err(); err != nil {
			return err
		}
		return errors.New("llama-server stopped")
	}
}
