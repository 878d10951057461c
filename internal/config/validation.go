// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ErrInvalidConfig wraps all validation failures.
var ErrInvalidConfig = errors.New("invalid configuration")

// Validate checks the resolved configuration and joins every problem it finds.
func Validate(cfg AppConfig) error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalidConfig}, args...)...))
	}

	if strings.TrimSpace(cfg.DataDir) == "" {
		add("dataDir must not be empty")
	}
	switch strings.ToLower(cfg.LogLevel) {
	case "trace", "debug", "info", "warn", "error":
	default:
		add("logLevel %q is not one of trace|debug|info|warn|error", cfg.LogLevel)
	}
	if cfg.LogBroadcastDebounce < 0 {
		add("logBroadcastDebounce must not be negative")
	}
	if cfg.API.ListenAddr == "" {
		add("api.listenAddr must not be empty")
	}
	if cfg.API.HookRateLimit < 0 {
		add("api.hookRateLimit must not be negative")
	}
	if cfg.API.MaxConnections < 0 {
		add("api.maxConnections must not be negative")
	}
	if cfg.Provider.RPS <= 0 {
		add("provider.rps must be positive")
	}
	for _, raw := range []string{cfg.Provider.BaseURL, cfg.Provider.AuthURL} {
		if u, err := url.Parse(raw); err != nil || u.Scheme == "" || u.Host == "" {
			add("provider url %q is not absolute", raw)
		}
	}
	switch cfg.Store.Backend {
	case "json", "sqlite", "badger", "memory":
	default:
		add("store.backend %q is not one of json|sqlite|badger|memory", cfg.Store.Backend)
	}
	if cfg.Telemetry.SamplingRate < 0 || cfg.Telemetry.SamplingRate > 1 {
		add("telemetry.samplingRate must be within [0,1]")
	}

	seen := make(map[string]struct{}, len(cfg.Channels))
	for i, ch := range cfg.Channels {
		if ch.Login == "" {
			add("channels[%d].login must not be empty", i)
			continue
		}
		if _, dup := seen[ch.Login]; dup {
			add("channels[%d].login %q is duplicated", i, ch.Login)
		}
		seen[ch.Login] = struct{}{}
	}

	return errors.Join(errs...)
}
