package substatus

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore implements Store using a map (thread-safe).
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]Status
}

// NewMemoryStore creates an in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]Status)}
}

func (s *MemoryStore) Get(_ context.Context, channelID, subType string) (Status, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data[Key(channelID, subType)], nil
}

func (s *MemoryStore) Set(_ context.Context, channelID, subType string, status Status) error {
	if err := checkStatus(status); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[Key(channelID, subType)] = status
	return nil
}

func (s *MemoryStore) All(_ context.Context) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Entry, 0, len(s.data))
	for key, st := range s.data {
		if ch, typ, ok := SplitKey(key); ok {
			out = append(out, Entry{ChannelID: ch, Type: typ, Status: st})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return Key(out[i].ChannelID, out[i].Type) < Key(out[j].ChannelID, out[j].Type)
	})
	return out, nil
}

func (s *MemoryStore) Close() error { return nil }
