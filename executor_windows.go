//go:build windows

package shtest

import (
	"os/exec"
	"strconv"
)

func configureCommandForCancellation(_ *exec.Cmd) {}

func terminateCommandOnCancel(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	// /T kills the process tree, /F forces termination.
	taskkill := exec.Command("taskkill", "/T", "/F", "/PID", strconv.Itoa(cmd.Process.Pid))
	_ = taskkill.Run()
	_ = cmd.Process.Kill()
}
