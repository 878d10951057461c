// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package procgroup supervises external tool processes (capture, remux, probe)
// as process groups so a stop request reaches every child they spawn.
package procgroup

import (
	"errors"
)

// ErrNotStarted is returned when a command could not be started.
var ErrNotStarted = errors.New("procgroup: process not started")
