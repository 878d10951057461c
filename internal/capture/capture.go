// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package capture runs the external live-capture tool and cuts its MPEG-TS
// output into time-bounded segment files.
package capture

import (
	"context"
	"errors"
	"time"
)

// ErrToolFailed means the capture tool exited unsuccessfully on its own.
var ErrToolFailed = errors.New("capture: tool failed")

// Request describes one capture.
type Request struct {
	URL      string
	Quality  []string // ordered preference, e.g. ["720p60", "best"]
	Dir      string   // segment files are created here
	Basename string   // segment files are named <Basename>_<nnnnn>.ts
}

// Segment is one completed output file.
type Segment struct {
	Path     string
	Size     int64
	Duration time.Duration
}

// Session is a running capture.
type Session interface {
	// Segments yields each completed segment and is closed after the last one.
	Segments() <-chan Segment
	// Stop asks the tool to exit and returns once it has.
	Stop() error
	// Wait blocks until the tool has exited and all segments were delivered.
	// A stop requested via Stop is not an error.
	Wait() error
}

// Tool starts capture sessions.
type Tool interface {
	Start(ctx context.Context, req Request) (Session, error)
}
