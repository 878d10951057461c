// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package log provides structured process logging built on zerolog.
//
// This is the process log on stdout. The operator log that the API serves
// lives in package logsink.
package log

import (
	"io"
	"os"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Config captures options for configuring the global logger.
type Config struct {
	Level   string    // "trace".."error"; empty falls back to LSDVR_LOG_LEVEL, then info
	Output  io.Writer // defaults to os.Stdout
	Service string    // defaults to "lsdvr"
	Version string
}

var base atomic.Pointer[zerolog.Logger]

// Configure (re)initialises the global logger. The daemon calls it once with
// defaults and again after the config file is loaded.
func Configure(cfg Config) {
	level := cfg.Level
	if level == "" {
		level = os.Getenv("LSDVR_LOG_LEVEL")
	}
	parsed, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		parsed = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(parsed)
	zerolog.TimeFieldFormat = time.RFC3339

	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}
	service := cfg.Service
	if service == "" {
		service = "lsdvr"
	}

	l := zerolog.New(out).With().
		Timestamp().
		Str("service", service).
		Str("version", cfg.Version).
		Logger()
	base.Store(&l)
}

// WithComponent returns a child logger annotated with the given component name.
func WithComponent(component string) zerolog.Logger {
	return base.Load().With().Str(FieldComponent, component).Logger()
}

func init() {
	Configure(Config{})
}
