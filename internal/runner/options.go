package runner

import (
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ThatCatDev/tanrenai/gemma/internal/config"
)

const mib = 1 << 20

// BuildArgs translates ModelSettings into llama-server flags. --host and
// --port are owned by the Subprocess and not emitted here.
//
// logits_all has no llama-server equivalent; llama-server only returns
// logits when a request asks for them.
func BuildArgs(ms config.ModelSettings) []string {
	args := []string{
		"--model", ms.Model,
		"--ctx-size", strconv.Itoa(ms.NCtx),
		"--n-gpu-layers", strconv.Itoa(ms.NGPULayers),
		"--threads", strconv.Itoa(ms.NThreads),
		"--threads-batch", strconv.Itoa(ms.NThreadsBatch),
		"--batch-size", strconv.Itoa(ms.NBatch),
		"--ubatch-size", strconv.Itoa(ms.NUBatch),
	}

	if ms.ModelAlias != "" {
		args = append(args, "--alias", ms.ModelAlias)
	}
	if ms.ChatFormat != "" {
		args = append(args, "--chat-template", ms.ChatFormat)
	}

	if !ms.UseMMap {
		args = append(args, "--no-mmap")
	}
	if ms.UseMLock {
		args = append(args, "--mlock")
	}

	cacheMiB := int64(0)
	if ms.Cache.Enabled {
		cacheMiB = ms.Cache.Size / mib
	}
	args = append(args, "--cache-ram", strconv.FormatInt(cacheMiB, 10))

	if !ms.OffloadKQV {
		args = append(args, "--no-kv-offload")
	}

	if ms.FlashAttn {
		args = append(args, "--flash-attn", "on")
	} else {
		args = append(args, "--flash-attn", "off")
	}

	if ms.Verbose {
		args = append(args, "--verbose")
	}

	return args
}

// Options configures how a ProcessRunner starts llama-server.
type Options struct {
	// BinPath is the resolved llama-server executable.
	BinPath string

	// Env is the full child environment, GPU defaults already merged.
	Env []string

	// Port for the llama-server subprocess to listen on.
	// 0 means auto-allocate a free loopback port.
	Port int

	// Quiet suppresses subprocess stdout/stderr output.
	Quiet bool

	// HealthTimeout is how long to wait for the subprocess to become healthy.
	// 0 means use the default (120s).
	HealthTimeout time.Duration

	Logger *logrus.Logger
}
