// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package provider

import (
	"errors"
	"sync"
	"time"

	"github.com/ManuGH/lsdvr/internal/metrics"
)

type breakerState string

const (
	breakerClosed   breakerState = "closed"
	breakerOpen     breakerState = "open"
	breakerHalfOpen breakerState = "half-open"
)

var errBreakerOpen = errors.New("provider circuit open")

// breaker stops calling the provider API after a run of upstream failures.
// Only ErrUnavailable counts; auth and not-found answers prove the API is up.
// After cooldown a single probe is let through.
type breaker struct {
	threshold int
	cooldown  time.Duration
	now       func() time.Time

	mu       sync.Mutex
	state    breakerState
	failures int
	openedAt time.Time
	probing  bool
}

func newBreaker(threshold int, cooldown time.Duration) *breaker {
	b := &breaker{
		threshold: max(1, threshold),
		cooldown:  cooldown,
		now:       time.Now,
		state:     breakerClosed,
	}
	metrics.SetCircuitBreakerState("provider", string(b.state))
	return b
}

func (b *breaker) do(fn func() error) error {
	if !b.admit() {
		return errBreakerOpen
	}
	err := fn()
	b.mu.Lock()
	defer b.mu.Unlock()
	b.probing = false
	switch {
	case err == nil:
		b.failures = 0
		b.set(breakerClosed)
	case errors.Is(err, ErrUnavailable):
		b.failures++
		if b.state == breakerHalfOpen {
			metrics.RecordCircuitBreakerTrip("provider", "probe_failed")
			b.set(breakerOpen)
		} else if b.failures >= b.threshold {
			metrics.RecordCircuitBreakerTrip("provider", "threshold_exceeded")
			b.set(breakerOpen)
		}
	}
	return err
}

func (b *breaker) admit() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case breakerOpen:
		if b.now().Sub(b.openedAt) < b.cooldown {
			return false
		}
		b.set(breakerHalfOpen)
	case breakerHalfOpen:
		if b.probing {
			return false
		}
	default:
		return true
	}
	b.probing = true
	return true
}

// set must be called with mu held.
func (b *breaker) set(s breakerState) {
	if b.state == s {
		return
	}
	b.state = s
	if s == breakerOpen {
		b.openedAt = b.now()
	}
	metrics.SetCircuitBreakerState("provider", string(s))
}

func (b *breaker) current() breakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
