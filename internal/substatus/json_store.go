// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package substatus

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"os"
	"slices"
	"sync"

	"github.com/ManuGH/lsdvr/internal/fsutil"
)

// JSONStore keeps all states in one JSON document and rewrites it on every Set.
type JSONStore struct {
	mu   sync.RWMutex
	path string
	data map[string]Status
}

// OpenJSONStore loads path if it exists.
func OpenJSONStore(path string) (*JSONStore, error) {
	s := &JSONStore{path: path, data: make(map[string]Status)}
	if err := fsutil.ReadJSON(path, &s.data); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("substatus: load %s: %w", path, err)
	}
	if s.data == nil {
		s.data = make(map[string]Status)
	}
	return s, nil
}

func (s *JSONStore) Get(_ context.Context, channelID, subType string) (Status, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data[Key(channelID, subType)], nil
}

// Set flushes synchronously. On write failure the in-memory value is rolled back.
func (s *JSONStore) Set(_ context.Context, channelID, subType string, status Status) error {
	if err := checkStatus(status); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := Key(channelID, subType)
	prev, had := s.data[key]
	s.data[key] = status
	if err := fsutil.WriteJSON(s.path, s.data); err != nil {
		if had {
			s.data[key] = prev
		} else {
			delete(s.data, key)
		}
		return fmt.Errorf("substatus: persist: %w", err)
	}
	return nil
}

func (s *JSONStore) All(_ context.Context) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Entry, 0, len(s.data))
	for _, key := range slices.Sorted(maps.Keys(s.data)) {
		ch, typ, ok := SplitKey(key)
		if !ok {
			continue
		}
		out = append(out, Entry{ChannelID: ch, Type: typ, Status: s.data[key]})
	}
	return out, nil
}

func (s *JSONStore) Close() error { return nil }
