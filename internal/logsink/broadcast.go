// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package logsink

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Broadcaster receives debounced batches of log lines.
type Broadcaster interface {
	Name() string
	Broadcast(ctx context.Context, lines []Line) error
}

// Envelope is the message shape pushed to clients.
type Envelope struct {
	Action string `json:"action"`
	Data   []Line `json:"data"`
}

// Hub fans batches out to in-process subscribers. Slow subscribers miss batches.
type Hub struct {
	mu   sync.RWMutex
	subs map[int]chan []Line
	next int
	size int
}

// NewHub returns a hub whose subscriber channels buffer size batches.
func NewHub(size int) *Hub {
	if size <= 0 {
		size = 16
	}
	return &Hub{subs: make(map[int]chan []Line), size: size}
}

// Name implements Broadcaster.
func (h *Hub) Name() string { return "hub" }

// Subscribe registers a subscriber. The returned cancel func closes the channel.
func (h *Hub) Subscribe() (<-chan []Line, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.next
	h.next++
	ch := make(chan []Line, h.size)
	h.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
			close(ch)
		})
	}
}

// Broadcast implements Broadcaster.
func (h *Hub) Broadcast(_ context.Context, lines []Line) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.subs {
		select {
		case ch <- lines:
		default:
		}
	}
	return nil
}

// RedisBroadcaster publishes each batch as an Envelope on a Pub/Sub channel.
type RedisBroadcaster struct {
	client  *redis.Client
	channel string
}

// NewRedisBroadcaster wraps an existing client.
func NewRedisBroadcaster(client *redis.Client, channel string) *RedisBroadcaster {
	return &RedisBroadcaster{client: client, channel: channel}
}

// Name implements Broadcaster.
func (r *RedisBroadcaster) Name() string { return "redis" }

// Broadcast implements Broadcaster.
func (r *RedisBroadcaster) Broadcast(ctx context.Context, lines []Line) error {
	payload, err := json.Marshal(Envelope{Action: "log", Data: lines})
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	if err := r.client.Publish(ctx, r.channel, payload).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}
