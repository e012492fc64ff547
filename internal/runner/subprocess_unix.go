//go:build !windows

package runner

import (
	"os"
	"syscall"

	"golang.org/x/sys/unix"
)

// sysProcAttr puts llama-server in its own process group so terminate
// reaches any helpers it forks.
func sysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setpgid: true}
}

// terminate sends SIGTERM to the process group, falling back to the
// process alone when the group is gone.
func terminate(p *os.Process) error {
	if err := unix.Kill(-p.Pid, unix.SIGTERM); err == nil {
		return nil
	}
	return p.Signal(unix.SIGTERM)
}
