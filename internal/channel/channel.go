// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package channel keeps the TTL-bounded cache of provider channel data merged
// with the operator's per-channel capture preferences.
package channel

import (
	"context"
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/ManuGH/lsdvr/internal/config"
	"github.com/ManuGH/lsdvr/internal/fsutil"
	"github.com/ManuGH/lsdvr/internal/log"
	"github.com/ManuGH/lsdvr/internal/provider"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// DefaultTTL is how long cached provider data is trusted.
const DefaultTTL = 30 * 24 * time.Hour

// ErrUnknownChannel is returned when a channel is neither cached nor resolvable.
var ErrUnknownChannel = errors.New("channel: unknown channel")

// Channel is the merged view handed to callers. It is a copy.
type Channel struct {
	ID              string    `json:"id"`
	Login           string    `json:"login"`
	DisplayName     string    `json:"displayName"`
	ProfileImageURL string    `json:"profileImageUrl"`
	FetchedAt       time.Time `json:"fetchedAt"`
	SubbedAt        time.Time `json:"subbedAt,omitzero"`
	ExpiresAt       time.Time `json:"expiresAt,omitzero"`

	Quality    []string `json:"quality,omitempty"`
	Match      []string `json:"match,omitempty"`
	NoCapture  []string `json:"noCapture,omitempty"`
	Configured bool     `json:"configured"`

	// CurrentVOD is the basename of the capturing VOD, empty when idle.
	CurrentVOD string `json:"currentVod,omitempty"`
}

// DisplayNameOrLogin is the name to show operators.
func (c Channel) DisplayNameOrLogin() string {
	if c.DisplayName != "" {
		return c.DisplayName
	}
	return c.Login
}

// record is the persisted part of a channel.
type record struct {
	ID              string    `json:"id"`
	Login           string    `json:"login"`
	DisplayName     string    `json:"displayName"`
	ProfileImageURL string    `json:"profileImageUrl"`
	FetchedAt       time.Time `json:"fetchedAt"`
	SubbedAt        time.Time `json:"subbedAt,omitzero"`
	ExpiresAt       time.Time `json:"expiresAt,omitzero"`
}

// Option configures a Registry.
type Option func(*Registry)

// WithClock overrides the time source used for TTL checks.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// WithTTL overrides DefaultTTL.
func WithTTL(ttl time.Duration) Option {
	return func(r *Registry) { r.ttl = ttl }
}

// Registry resolves channels by id or login. Safe for concurrent use.
type Registry struct {
	provider provider.Client
	path     string
	now      func() time.Time
	ttl      time.Duration
	logger   zerolog.Logger
	sf       singleflight.Group

	mu      sync.RWMutex
	records map[string]record               // by id
	prefs   map[string]config.ChannelConfig // by lower-case login
	current map[string]string               // id -> capturing basename
}

// NewRegistry loads the cache document at path (if any).
func NewRegistry(p provider.Client, path string, prefs []config.ChannelConfig, opts ...Option) (*Registry, error) {
	r := &Registry{
		provider: p,
		path:     path,
		now:      time.Now,
		ttl:      DefaultTTL,
		logger:   log.WithComponent("channel"),
		records:  make(map[string]record),
		current:  make(map[string]string),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.ApplyConfig(prefs)

	if path != "" {
		if err := fsutil.ReadJSON(path, &r.records); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("channel: load cache: %w", err)
		}
		if r.records == nil {
			r.records = make(map[string]record)
		}
	}
	return r, nil
}

// ApplyConfig replaces the operator preferences (config reload).
func (r *Registry) ApplyConfig(prefs []config.ChannelConfig) {
	m := make(map[string]config.ChannelConfig, len(prefs))
	for _, p := range prefs {
		m[strings.ToLower(p.Login)] = p
	}
	r.mu.Lock()
	r.prefs = m
	r.mu.Unlock()
}

// Get resolves a channel by provider id, refreshing stale data.
func (r *Registry) Get(ctx context.Context, id string) (Channel, error) {
	r.mu.RLock()
	rec, ok := r.records[id]
	r.mu.RUnlock()
	if ok && r.fresh(rec) {
		return r.view(rec), nil
	}

	v, err, _ := r.sf.Do("id:"+id, func() (any, error) {
		return r.provider.GetChannelDataByID(ctx, id)
	})
	return r.resolve(rec, ok, v, err, "id", id)
}

// GetByLogin resolves a channel by login, refreshing stale data.
func (r *Registry) GetByLogin(ctx context.Context, login string) (Channel, error) {
	login = strings.ToLower(login)
	r.mu.RLock()
	var (
		rec record
		ok  bool
	)
	for _, c := range r.records {
		if strings.EqualFold(c.Login, login) {
			rec, ok = c, true
			break
		}
	}
	r.mu.RUnlock()
	if ok && r.fresh(rec) {
		return r.view(rec), nil
	}

	v, err, _ := r.sf.Do("login:"+login, func() (any, error) {
		return r.provider.GetChannelData(ctx, login)
	})
	return r.resolve(rec, ok, v, err, "login", login)
}

func (r *Registry) fresh(rec record) bool {
	return r.now().Sub(rec.FetchedAt) < r.ttl
}

func (r *Registry) resolve(stale record, haveStale bool, v any, err error, key, value string) (Channel, error) {
	if err != nil {
		if haveStale {
			r.logger.Warn().
				Err(err).
				Str("event", "channel.refresh_failed").
				Str(key, value).
				Msg("serving stale channel data")
			return r.view(stale), nil
		}
		if errors.Is(err, provider.ErrNotFound) {
			return Channel{}, fmt.Errorf("%w: %s=%s", ErrUnknownChannel, key, value)
		}
		return Channel{}, fmt.Errorf("channel: fetch %s=%s: %w", key, value, err)
	}

	data := v.(provider.ChannelData)
	rec := record{
		ID:              data.ID,
		Login:           strings.ToLower(data.Login),
		DisplayName:     data.DisplayName,
		ProfileImageURL: data.ProfileImageURL,
		FetchedAt:       r.now(),
	}

	r.mu.Lock()
	if old, ok := r.records[rec.ID]; ok {
		rec.SubbedAt = old.SubbedAt
		rec.ExpiresAt = old.ExpiresAt
	}
	r.records[rec.ID] = rec
	perr := r.persistLocked()
	r.mu.Unlock()
	if perr != nil {
		return Channel{}, fmt.Errorf("channel: persist cache: %w", perr)
	}

	r.logger.Info().
		Str("event", "channel.fetched").
		Str(log.FieldChannelID, rec.ID).
		Str(log.FieldLogin, rec.Login).
		Msg("fetched channel data from provider")
	return r.view(rec), nil
}

func (r *Registry) persistLocked() error {
	if r.path == "" {
		return nil
	}
	return fsutil.WriteJSON(r.path, r.records)
}

func (r *Registry) view(rec record) Channel {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c := Channel{
		ID:              rec.ID,
		Login:           rec.Login,
		DisplayName:     rec.DisplayName,
		ProfileImageURL: rec.ProfileImageURL,
		FetchedAt:       rec.FetchedAt,
		SubbedAt:        rec.SubbedAt,
		ExpiresAt:       rec.ExpiresAt,
		Quality:         []string{"best"},
		CurrentVOD:      r.current[rec.ID],
	}
	if p, ok := r.prefs[rec.Login]; ok {
		c.Configured = true
		if len(p.Quality) > 0 {
			c.Quality = slices.Clone(p.Quality)
		}
		c.Match = slices.Clone(p.Match)
		c.NoCapture = slices.Clone(p.NoCapture)
	}
	return c
}

// LoginFromID returns the cached login for id without contacting the provider.
func (r *Registry) LoginFromID(id string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[id]
	return rec.Login, ok
}

// IDFromLogin returns the cached id for login without contacting the provider.
func (r *Registry) IDFromLogin(login string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for id, rec := range r.records {
		if strings.EqualFold(rec.Login, login) {
			return id, true
		}
	}
	return "", false
}

// IsConfigured reports whether the operator lists login.
func (r *Registry) IsConfigured(login string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.prefs[strings.ToLower(login)]
	return ok
}

// SetCurrentVOD records the capturing VOD of a channel. Empty clears it.
func (r *Registry) SetCurrentVOD(id, basename string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if basename == "" {
		delete(r.current, id)
		return
	}
	r.current[id] = basename
}

// CurrentVOD returns the capturing VOD basename of a channel.
func (r *Registry) CurrentVOD(id string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current[id]
}

// MarkSubscribed stamps a successful subscription handshake.
func (r *Registry) MarkSubscribed(id string, at, expires time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok {
		rec = record{ID: id}
	}
	rec.SubbedAt = at
	rec.ExpiresAt = expires
	r.records[id] = rec
	return r.persistLocked()
}

// List returns every cached channel sorted by login.
func (r *Registry) List() []Channel {
	r.mu.RLock()
	recs := make([]record, 0, len(r.records))
	for _, rec := range r.records {
		recs = append(recs, rec)
	}
	r.mu.RUnlock()

	slices.SortFunc(recs, func(a, b record) int { return strings.Compare(a.Login, b.Login) })
	out := make([]Channel, 0, len(recs))
	for _, rec := range recs {
		out = append(out, r.view(rec))
	}
	return out
}
