// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

//go:build !unix

package procgroup

import (
	"os"
	"os/exec"
	"syscall"
)

func isolate(*exec.Cmd) {}

// signalGroup can only kill the leader here; SIGTERM is not deliverable.
func signalGroup(proc *os.Process, sig syscall.Signal) error {
	if sig != syscall.SIGKILL {
		return nil
	}
	return proc.Kill()
}
