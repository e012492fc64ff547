//go:build windows

package runner

import (
	"os"
	"syscall"
)

func sysProcAttr() *syscall.SysProcAttr {
	return nil
}

// terminate kills the process; Windows has no SIGTERM for console children.
func terminate(p *os.Process) error {
	return p.Kill()
}
