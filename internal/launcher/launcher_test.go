package launcher

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ThatCatDev/tanrenai/gemma/internal/config"
	"github.com/ThatCatDev/tanrenai/gemma/internal/logging"
)

type fakeEnv struct {
	dir  string
	cpus int
	vars map[string]string
}

func (f *fakeEnv) LookupEnv(key string) (string, bool) {
	v, ok := f.vars[key]
	return v, ok
}

func (f *fakeEnv) Environ() []string {
	var out []string
	for k, v := range f.vars {
		out = append(out, k+"="+v)
	}
	return out
}

func (f *fakeEnv) NumCPU() int                     { return f.cpus }
func (f *fakeEnv) Executable() (string, error)     { return filepath.Join(f.dir, "tanrenai-gemma"), nil }
func (f *fakeEnv) LookPath(string) (string, error) { return "", errors.New("not in PATH") }

// newHost lays out a launcher directory. withModel and withBinary control
// which artifacts exist.
func newHost(t *testing.T, withModel, withBinary bool) *fakeEnv {
	t.Helper()
	t.Setenv("TANRENAI_DATA_DIR", t.TempDir())

	dir, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "tanrenai-gemma"), []byte("bin"), 0o755))
	if withModel {
		require.NoError(t, os.MkdirAll(filepath.Join(dir, "Model"), 0o755))
		require.NoError(t, os.WriteFile(config.ModelPath(dir), []byte("GGUF"), 0o644))
	}
	if withBinary {
		require.NoError(t, os.MkdirAll(filepath.Join(dir, "bin"), 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "bin", "llama-server"), []byte("#!/bin/sh\n"), 0o755))
	}
	return &fakeEnv{dir: dir, cpus: 8, vars: map[string]string{"PATH": "/usr/bin"}}
}

type serveRecorder struct {
	calls int
	cfg   *config.LaunchConfig
	err   error
}

func (s *serveRecorder) serve(ctx context.Context, cfg *config.LaunchConfig, log *logrus.Logger) error {
	s.calls++
	s.cfg = cfg
	return s.err
}

func newLauncher(env Environment, rec *serveRecorder) (*Launcher, *bytes.Buffer) {
	var stderr bytes.Buffer
	return &Launcher{
		Env:    env,
		Stderr: &stderr,
		Serve:  rec.serve,
		Log:    logging.Discard(),
	}, &stderr
}

func TestMissingModel(t *testing.T) {
	env := newHost(t, false, true)
	rec := &serveRecorder{}
	l, stderr := newLauncher(env, rec)

	code := l.Run(context.Background())

	assert.Equal(t, 1, code)
	assert.Zero(t, rec.calls, "serve phase must not run without a model")
	want := "[!] Model file not found: " + config.ModelPath(env.dir)
	assert.Contains(t, stderr.String(), want)
}

func TestMissingModelReportedBeforeBadOperatorFile(t *testing.T) {
	env := newHost(t, false, true)
	require.NoError(t, os.WriteFile(config.FilePath(env.dir), []byte("log_level: [not, valid\n"), 0o644))
	rec := &serveRecorder{}
	l, stderr := newLauncher(env, rec)

	assert.Equal(t, 1, l.Run(context.Background()))
	assert.Zero(t, rec.calls)
	assert.Contains(t, stderr.String(), "[!] Model file not found: "+config.ModelPath(env.dir))
	assert.NotContains(t, stderr.String(), "config file")
}

func TestMissingDependency(t *testing.T) {
	env := newHost(t, true, false)
	rec := &serveRecorder{}
	l, stderr := newLauncher(env, rec)

	code := l.Run(context.Background())

	assert.Equal(t, 1, code)
	assert.Zero(t, rec.calls)
	assert.Contains(t, stderr.String(), "[!] Missing dependency:")
	assert.Contains(t, stderr.String(), InstallInstruction)
}

func TestLaunchEightCPUs(t *testing.T) {
	env := newHost(t, true, true)
	rec := &serveRecorder{}
	l, stderr := newLauncher(env, rec)

	code := l.Run(context.Background())

	require.Equal(t, 0, code, stderr.String())
	require.Equal(t, 1, rec.calls)
	cfg := rec.cfg
	assert.Equal(t, 7, cfg.Model.NThreads)
	assert.Equal(t, 8, cfg.Model.NThreadsBatch)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 54546, cfg.Server.Port)
	assert.Equal(t, 0, cfg.Model.NGPULayers)
	assert.Equal(t, 32768, cfg.Model.NCtx)
	assert.Equal(t, config.ModelPath(env.dir), cfg.Model.Model)
	assert.Equal(t, filepath.Join(env.dir, "bin", "llama-server"), cfg.BinPath)
	assert.Contains(t, cfg.Env, "LLAMA_CUBLAS=0")
	assert.Contains(t, cfg.Env, "LLAMA_METAL=0")
	assert.Contains(t, cfg.Env, "CUDA_VISIBLE_DEVICES=-1")
}

func TestLaunchKeepsExistingGPUVars(t *testing.T) {
	env := newHost(t, true, true)
	env.vars["CUDA_VISIBLE_DEVICES"] = "0"
	rec := &serveRecorder{}
	l, _ := newLauncher(env, rec)

	require.Equal(t, 0, l.Run(context.Background()))

	assert.Contains(t, rec.cfg.Env, "CUDA_VISIBLE_DEVICES=0")
	assert.NotContains(t, rec.cfg.Env, "CUDA_VISIBLE_DEVICES=-1")
	assert.Equal(t, "0", env.vars["CUDA_VISIBLE_DEVICES"])
}

func TestLaunchSingleCPU(t *testing.T) {
	env := newHost(t, true, true)
	env.cpus = 1
	rec := &serveRecorder{}
	l, _ := newLauncher(env, rec)

	require.Equal(t, 0, l.Run(context.Background()))
	assert.Equal(t, 1, rec.cfg.Model.NThreads)
	assert.Equal(t, 1, rec.cfg.Model.NThreadsBatch)
}

func TestServeFailurePropagates(t *testing.T) {
	env := newHost(t, true, true)
	rec := &serveRecorder{err: errors.New("llama-server exited unexpectedly (exit code 3)")}
	l, _ := newLauncher(env, rec)

	assert.Equal(t, 1, l.Run(context.Background()))
	assert.Equal(t, 1, rec.calls)
}

func TestOperatorFile(t *testing.T) {
	env := newHost(t, true, false)
	custom := filepath.Join(t.TempDir(), "llama-server-custom")
	require.NoError(t, os.WriteFile(custom, []byte("#!/bin/sh\n"), 0o755))
	yaml := "log_level: debug\napi_key: abc\nllama_server: " + custom + "\n"
	require.NoError(t, os.WriteFile(config.FilePath(env.dir), []byte(yaml), 0o644))

	rec := &serveRecorder{}
	l, stderr := newLauncher(env, rec)

	require.Equal(t, 0, l.Run(context.Background()), stderr.String())
	assert.Equal(t, custom, rec.cfg.BinPath)
	assert.Equal(t, "debug", rec.cfg.LogLevel)
	assert.Equal(t, "abc", rec.cfg.Server.APIKey)
}

func TestOperatorFileRejectsPolicyKeys(t *testing.T) {
	env := newHost(t, true, true)
	require.NoError(t, os.WriteFile(config.FilePath(env.dir), []byte("n_ctx: 4096\n"), 0o644))

	rec := &serveRecorder{}
	l, stderr := newLauncher(env, rec)

	assert.Equal(t, 1, l.Run(context.Background()))
	assert.Zero(t, rec.calls)
	assert.Contains(t, stderr.String(), "Error:")
}

func TestPreflightResult(t *testing.T) {
	env := newHost(t, true, true)
	checked, err := Preflight(env)
	require.NoError(t, err)
	assert.Nil(t, checked.File)
	assert.Equal(t, config.ModelPath(env.dir), checked.ModelPath)

	var missing *MissingArtifactError
	_, err = Preflight(newHost(t, false, false))
	require.ErrorAs(t, err, &missing)
}
