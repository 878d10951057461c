// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

//go:build unix

package procgroup

import (
	"os"
	"os/exec"
	"syscall"
)

// isolate makes the command the leader of a fresh group, so its pid is
// also the group id. streamlink forks ffmpeg and both must see the signal.
func isolate(cmd *exec.Cmd) {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Setpgid = true
}

func signalGroup(proc *os.Process, sig syscall.Signal) error {
	return syscall.Kill(-proc.Pid, sig)
}
