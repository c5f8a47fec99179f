//go:build windows

package pdfconvert

import (
	"os/exec"
	"strconv"
)

func setupProcAttr(cmd *exec.Cmd) {}

// killTree terminates the child and everything it spawned; soffice
// forks helper processes that would otherwise outlive the timeout.
func killTree(pid int) {
	exec.Command("taskkill", "/PID", strconv.Itoa(pid), "/T", "/F").Run()
}
