package config

import (
	"fmt"
	"net"
)

// Fixed launch policy. None of these are operator-tunable.
const (
	Host = "127.0.0.1"
	Port = 54546

	ModelDirName  = "Model"
	ModelFileName = "gemma-3-270m-it-Q8_0.gguf"
	ModelAlias    = "gemma-3-270m-it"
	ChatFormat    = "gemma"

	CtxSize   = 32768
	GPULayers = 0
	BatchSize = 1024

	CacheSize int64 = 4 << 30 // prompt-eval reuse

	MaxConns = 64 // concurrent client connections on the front

	DefaultLogLevel = "info"
)

// CacheType is the storage medium for the prompt cache.
type CacheType string

const (
	CacheRAM  CacheType = "ram"
	CacheDisk CacheType = "disk"
)

// CachePolicy describes prompt-cache enablement and bounds. Eviction is
// owned by llama-server.
type CachePolicy struct {
	Enabled bool
	Type    CacheType
	Size    int64 // bytes
}

// ServerSettings holds network binding and request-handling behaviour.
type ServerSettings struct {
	Host              string
	Port              int
	InterruptRequests bool   // newer requests preempt an in-flight stream
	SSLKeyFile        string // optional
	SSLCertFile       string // optional
	APIKey            string // optional bearer token
}

// Addr returns host:port.
func (s ServerSettings) Addr() string {
	return net.JoinHostPort(s.Host, fmt.Sprint(s.Port))
}

// TLS reports whether both TLS files are configured.
func (s ServerSettings) TLS() bool {
	return s.SSLKeyFile != "" && s.SSLCertFile != ""
}

// Validate enforces loopback-only binding.
func (s ServerSettings) Validate() error {
	ip := net.ParseIP(s.Host)
	if ip == nil || !ip.IsLoopback() {
		return fmt.Errorf("bind host %q is not a loopback address", s.Host)
	}
	if s.Port <= 0 || s.Port > 65535 {
		return fmt.Errorf("invalid port %d", s.Port)
	}
	if (s.SSLKeyFile == "") != (s.SSLCertFile == "") {
		return fmt.Errorf("ssl_keyfile and ssl_certfile must be set together")
	}
	return nil
}

// ModelSettings describes model loading and inference tuning.
type ModelSettings struct {
	Model         string
	ModelAlias    string
	ChatFormat    string
	NCtx          int
	NGPULayers    int
	NThreads      int
	NThreadsBatch int
	NBatch        int
	NUBatch       int
	UseMMap       bool
	UseMLock      bool
	Cache         CachePolicy
	OffloadKQV    bool
	FlashAttn     bool
	LogitsAll     bool
	Verbose       bool
}

// Validate checks the invariants llama-server is launched under.
func (m ModelSettings) Validate() error {
	switch {
	case m.Model == "":
		return fmt.Errorf("model path is empty")
	case m.NCtx <= 0:
		return fmt.Errorf("context length must be positive, got %d", m.NCtx)
	case m.NGPULayers != 0:
		return fmt.Errorf("gpu layers must be 0, got %d", m.NGPULayers)
	case m.NThreads < 1 || m.NThreadsBatch < 1:
		return fmt.Errorf("thread counts must be >= 1 (threads=%d, batch=%d)", m.NThreads, m.NThreadsBatch)
	case m.NBatch <= 0 || m.NUBatch <= 0:
		return fmt.Errorf("batch sizes must be positive (n_batch=%d, n_ubatch=%d)", m.NBatch, m.NUBatch)
	case m.Cache.Enabled && m.Cache.Type != CacheRAM:
		return fmt.Errorf("unsupported cache type %q", m.Cache.Type)
	case m.Cache.Enabled && m.Cache.Size <= 0:
		return fmt.Errorf("cache size must be positive when the cache is enabled")
	}
	return nil
}

// LaunchConfig is the value bundle computed once at startup and consumed
// by the serve phase.
type LaunchConfig struct {
	Server   ServerSettings
	Model    ModelSettings
	BinPath  string   // llama-server executable
	Env      []string // child environment, GPU defaults applied
	LogLevel string
}

// Threads splits the logical CPU count between the inference pool, which
// leaves one core for the host, and the batch pool, which uses all of them.
func Threads(cpus int) (inference, batch int) {
	if cpus < 1 {
		cpus = 1
	}
	return max(cpus-1, 1), cpus
}

// DefaultServerSettings returns the fixed binding with interruption on.
func DefaultServerSettings() ServerSettings {
	return ServerSettings{
		Host:              Host,
		Port:              Port,
		InterruptRequests: true,
	}
}

// DefaultModelSettings returns the CPU-throughput policy for modelPath on a
// host with cpus logical CPUs.
func DefaultModelSettings(modelPath string, cpus int) ModelSettings {
	inference, batch := Threads(cpus)
	return ModelSettings{
		Model:         modelPath,
		ModelAlias:    ModelAlias,
		ChatFormat:    ChatFormat,
		NCtx:          CtxSize,
		NGPULayers:    GPULayers,
		NThreads:      inference,
		NThreadsBatch: batch,
		NBatch:        BatchSize,
		NUBatch:       BatchSize,
		UseMMap:       true,
		UseMLock:      false,
		Cache: CachePolicy{
			Enabled: true,
			Type:    CacheRAM,
			Size:    CacheSize,
		},
		OffloadKQV: false,
		FlashAttn:  false,
		LogitsAll:  false,
		Verbose:    true,
	}
}

// Inputs are the host facts a LaunchConfig is derived from.
type Inputs struct {
	ModelPath string
	BinPath   string
	CPUs      int
	Environ   []string
	Lookup    func(string) (string, bool)
	File      *File // optional operator overrides
}

// Build derives the LaunchConfig from host facts and the fixed policy.
func Build(in Inputs) (*LaunchConfig, error) {
	ss := DefaultServerSettings()
	logLevel := DefaultLogLevel
	if in.File != nil {
		in.File.apply(&ss, &logLevel)
	}
	applyEnvOverrides(&ss, in.Lookup)

	ms := DefaultModelSettings(in.ModelPath, in.CPUs)

	if err := ss.Validate(); err != nil {
		return nil, fmt.Errorf("server settings: %w", err)
	}
	if err := ms.Validate(); err != nil {
		return nil, fmt.Errorf("model settings: %w", err)
	}

	return &LaunchConfig{
		Server:   ss,
		Model:    ms,
		BinPath:  in.BinPath,
		Env:      MergeEnv(in.Environ, GPUEnvDefaults(in.Lookup)),
		LogLevel: logLevel,
	}, nil
}
