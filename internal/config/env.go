// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ManuGH/lsdvr/internal/log"
)

// fromEnv returns the parsed value of key, or def when the variable is
// unset, empty or unparsable. Values of secret-looking keys are never logged.
func fromEnv[T any](key string, def T, parse func(string) (T, error)) T {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return def
	}
	logger := log.WithComponent("config")
	v, err := parse(raw)
	if err != nil {
		logger.Warn().Str("key", key).Err(err).Msg("ignoring malformed environment override")
		return def
	}
	ev := logger.Debug().Str("key", key).Str("source", "environment")
	if sensitiveKey(key) {
		ev = ev.Bool("sensitive", true)
	} else {
		ev = ev.Str("value", raw)
	}
	ev.Msg("environment override applied")
	return v
}

func sensitiveKey(key string) bool {
	k := strings.ToUpper(key)
	return strings.Contains(k, "SECRET") || strings.Contains(k, "PASSWORD")
}

// ParseString reads key from the environment, falling back to def.
func ParseString(key, def string) string {
	return fromEnv(key, def, func(s string) (string, error) { return s, nil })
}

// ParseInt reads a base-10 integer.
func ParseInt(key string, def int) int { return fromEnv(key, def, strconv.Atoi) }

// ParseFloat reads a float64.
func ParseFloat(key string, def float64) float64 {
	return fromEnv(key, def, func(s string) (float64, error) { return strconv.ParseFloat(s, 64) })
}

// ParseDuration reads a Go duration such as "5s".
func ParseDuration(key string, def time.Duration) time.Duration {
	return fromEnv(key, def, time.ParseDuration)
}

// ParseBool accepts true/false, 1/0 and yes/no in any case.
func ParseBool(key string, def bool) bool {
	return fromEnv(key, def, func(s string) (bool, error) {
		switch strings.ToLower(s) {
		case "true", "1", "yes":
			return true, nil
		case "false", "0", "no":
			return false, nil
		}
		return false, strconv.ErrSyntax
	})
}
