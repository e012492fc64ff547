package launcher

import (
	"os"
	"os/exec"
	"runtime"
)

// Environment is the slice of the host the launcher reads. Tests supply a
// fake; production uses OS.
type Environment interface {
	LookupEnv(key string) (string, bool)
	Environ() []string
	NumCPU() int
	Executable() (string, error)
	LookPath(file string) (string, error)
}

type osEnv struct{}

// OS returns the real process environment.
func OS() Environment { return osEnv{} }

func (osEnv) LookupEnv(key string) (string, bool)  { return os.LookupEnv(key) }
func (osEnv) Environ() []string                    { return os.Environ() }
func (osEnv) NumCPU() int                          { return runtime.NumCPU() }
func (osEnv) Executable() (string, error)          { return os.Executable() }
func (osEnv) LookPath(file string) (string, error) { return exec.LookPath(file) }
