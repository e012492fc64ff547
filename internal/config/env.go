package config

import (
	"sort"
	"strings"
)

// gpuEnvDefaults disables every GPU backend llama.cpp may probe.
var gpuEnvDefaults = map[string]string{
	"LLAMA_CUBLAS":         "0",
	"LLAMA_METAL":          "0",
	"CUDA_VISIBLE_DEVICES": "-1",
}

// Environment variables that override operator-file server settings.
const (
	EnvSSLKeyFile  = "SSL_KEYFILE"
	EnvSSLCertFile = "SSL_CERTFILE"
	EnvAPIKey      = "API_KEY"
)

// GPUEnvKeys returns the GPU-disabling variable names in sorted order.
func GPUEnvKeys() []string {
	keys := make([]string, 0, len(gpuEnvDefaults))
	for k := range gpuEnvDefaults {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// GPUEnvDefaults returns the GPU-disabling defaults for keys absent from
// the environment. Keys the caller already set, even to "", are left out.
func GPUEnvDefaults(lookup func(string) (string, bool)) map[string]string {
	out := make(map[string]string, len(gpuEnvDefaults))
	for k, v := range gpuEnvDefaults {
		if lookup != nil {
			if _, ok := lookup(k); ok {
				continue
			}
		}
		out[k] = v
	}
	return out
}

// MergeEnv returns a copy of base with defaults appended in sorted key
// order. Keys already present in base are never overwritten.
func MergeEnv(base []string, defaults map[string]string) []string {
	present := make(map[string]bool, len(base))
	for _, kv := range base {
		if k, _, ok := strings.Cut(kv, "="); ok {
			present[k] = true
		}
	}

	keys := make([]string, 0, len(defaults))
	for k := range defaults {
		if !present[k] {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	out := make([]string, 0, len(base)+len(keys))
	out = append(out, base...)
	for _, k := range keys {
		out = append(out, k+"="+defaults[k])
	}
	return out
}

func applyEnvOverrides(ss *ServerSettings, lookup func(string) (string, bool)) {
	if lookup == nil {
		return
	}
	if v, ok := lookup(EnvSSLKeyFile); ok && v != "" {
		ss.SSLKeyFile = v
	}
	if v, ok := lookup(EnvSSLCertFile); ok && v != "" {
		ss.SSLCertFile = v
	}
	if v, ok := lookup(EnvAPIKey); ok && v != "" {
		ss.APIKey = v
	}
}
