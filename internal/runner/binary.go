package runner

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

// ErrBinaryNotFound is returned when llama-server cannot be located.
var ErrBinaryNotFound = errors.New("llama-server not found")

// BinaryName is the llama-server executable name for this platform.
func BinaryName() string {
	if runtime.GOOS == "windows" {
		return "llama-server.exe"
	}
	return "llama-server"
}

// ResolveBinary finds llama-server. An explicit override wins and must
// exist; otherwise each of dirs is tried in order, then lookPath (normally
// exec.LookPath) on the bare binary name.
func ResolveBinary(override string, dirs []string, lookPath func(string) (string, error)) (string, error) {
	if override != "" {
		if isExecutableFile(override) {
			return override, nil
		}
		return "", fmt.Errorf("%w at %s", ErrBinaryNotFound, override)
	}

	name := BinaryName()
	for _, dir := range dirs {
		p := filepath.Join(dir, name)
		if isExecutableFile(p) {
			return p, nil
		}
	}

	if lookPath != nil {
		if p, err := lookPath(name); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("%w in %v or PATH", ErrBinaryNotFound, dirs)
}

func isExecutableFile(path string) bool {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return false
	}
	if runtime.GOOS == "windows" {
		return true
	}
	return info.Mode().Perm()&0111 != 0
}
