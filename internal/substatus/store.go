// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package substatus records the per-channel EventSub subscription state.
package substatus

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// Status is the lifecycle state of one (channel, event type) subscription.
type Status string

const (
	// StatusUnknown is returned for keys that were never written.
	StatusUnknown    Status = ""
	StatusNone       Status = "none"
	StatusPending    Status = "pending"
	StatusSubscribed Status = "subscribed"
	StatusFailed     Status = "failed"
)

// ErrInvalidStatus is returned by Set for values outside the known set.
var ErrInvalidStatus = errors.New("substatus: invalid status")

// Valid reports whether s may be stored.
func (s Status) Valid() bool {
	switch s {
	case StatusNone, StatusPending, StatusSubscribed, StatusFailed:
		return true
	}
	return false
}

// Entry is one stored subscription state.
type Entry struct {
	ChannelID string `json:"channelId"`
	Type      string `json:"type"`
	Status    Status `json:"status"`
}

// Store persists subscription states. Each key is independent.
type Store interface {
	Get(ctx context.Context, channelID, subType string) (Status, error)
	Set(ctx context.Context, channelID, subType string, status Status) error
	All(ctx context.Context) ([]Entry, error)
	Close() error
}

const keySep = ".substatus."

// Key is the flat key under which a state is stored.
func Key(channelID, subType string) string {
	return channelID + keySep + subType
}

// SplitKey reverses Key.
func SplitKey(key string) (channelID, subType string, ok bool) {
	return strings.Cut(key, keySep)
}

// NewStore creates a store for backend rooted at dir.
func NewStore(backend, dir string) (Store, error) {
	if backend == "" {
		backend = "json"
	}

	switch backend {
	case "json":
		return OpenJSONStore(filepath.Join(dir, "kv.json"))
	case "sqlite":
		return OpenSqliteStore(filepath.Join(dir, "substatus.sqlite"))
	case "badger":
		return OpenBadgerStore(filepath.Join(dir, "substatus.badger"))
	case "memory":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown substatus backend: %s (supported: json, sqlite, badger, memory)", backend)
	}
}

func checkStatus(status Status) error {
	if !status.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	return nil
}
