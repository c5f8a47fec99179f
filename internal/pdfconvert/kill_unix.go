//go:build !windows

package pdfconvert

import (
	"os/exec"
	"syscall"
)

// setupProcAttr places the child in its own process group so a timeout
// kill reaches the whole tree.
func setupProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

func killTree(pid int) {
	syscall.Kill(-pid, syscall.SIGKILL)
}
