// SPDX-License-Identifier: MIT

package config

import (
	"context"
	"fmt"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/ManuGH/lsdvr/internal/log"
	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// ConfigHolder owns the live configuration. Reloads are all-or-nothing: a
// file that fails to load or validate leaves the running config in place.
type ConfigHolder struct {
	mu      sync.RWMutex
	current AppConfig

	loader   *Loader
	path     string
	debounce time.Duration
	logger   zerolog.Logger

	watchMu sync.Mutex
	watcher *fsnotify.Watcher

	listenMu  sync.RWMutex
	listeners []chan<- AppConfig
}

// NewConfigHolder wraps the initially loaded config. path may be empty when
// the config comes from the environment only.
func NewConfigHolder(initial AppConfig, loader *Loader, path string) *ConfigHolder {
	return &ConfigHolder{
		current:  initial,
		loader:   loader,
		path:     path,
		debounce: 500 * time.Millisecond,
		logger:   log.WithComponent("config"),
	}
}

// Get returns a copy of the live configuration.
func (h *ConfigHolder) Get() AppConfig {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.current
}

// Reload re-reads the file and, when it is valid, swaps it in and
// notifies listeners.
func (h *ConfigHolder) Reload(_ context.Context) error {
	next, err := h.loader.Load()
	if err != nil {
		h.logger.Error().Err(err).Str("event", "config.reload_failed").Str(log.FieldPath, h.path).Msg("keeping previous configuration")
		return fmt.Errorf("load config: %w", err)
	}

	h.mu.Lock()
	prev := h.current
	h.current = next
	h.mu.Unlock()

	h.describeChanges(prev, next)
	h.broadcast(next)
	h.logger.Info().Str("event", "config.reloaded").Int("channels", len(next.Channels)).Msg("configuration reloaded")
	return nil
}

// StartWatcher reloads whenever the file changes. The parent directory is
// watched so editors that replace the file by rename are picked up too.
func (h *ConfigHolder) StartWatcher(ctx context.Context) error {
	if h.path == "" {
		h.logger.Info().Str("event", "config.watcher_disabled").Msg("no config file, watcher disabled")
		return nil
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(h.path)); err != nil {
		_ = w.Close()
		return fmt.Errorf("watch config dir: %w", err)
	}

	h.watchMu.Lock()
	h.watcher = w
	h.watchMu.Unlock()

	h.logger.Info().Str("event", "config.watcher_started").Str(log.FieldPath, h.path).Msg("watching config file")
	go h.watch(ctx, w)
	return nil
}

func (h *ConfigHolder) watch(ctx context.Context, w *fsnotify.Watcher) {
	target := filepath.Clean(h.path)
	var pending *time.Timer
	defer func() {
		if pending != nil {
			pending.Stop()
		}
		_ = w.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != target || !ev.Has(fsnotify.Write|fsnotify.Create) {
				continue
			}
			if pending != nil {
				pending.Stop()
			}
			pending = time.AfterFunc(h.debounce, func() {
				_ = h.Reload(ctx)
			})
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			h.logger.Warn().Err(err).Str("event", "config.watcher_error").Msg("config watcher error")
		}
	}
}

// Stop closes the watcher if one is running.
func (h *ConfigHolder) Stop() {
	h.watchMu.Lock()
	defer h.watchMu.Unlock()
	if h.watcher != nil {
		_ = h.watcher.Close()
		h.watcher = nil
	}
}

// RegisterListener subscribes ch to reloads. Sends never block; a full
// channel misses that reload.
func (h *ConfigHolder) RegisterListener(ch chan<- AppConfig) {
	h.listenMu.Lock()
	h.listeners = append(h.listeners, ch)
	h.listenMu.Unlock()
}

func (h *ConfigHolder) broadcast(cfg AppConfig) {
	h.listenMu.RLock()
	defer h.listenMu.RUnlock()
	for _, ch := range h.listeners {
		select {
		case ch <- cfg:
		default:
			h.logger.Warn().Str("event", "config.listener_skip").Msg("listener busy, reload not delivered")
		}
	}
}

// describeChanges logs what an operator would want to know about a reload.
// Settings read only at startup are flagged.
func (h *ConfigHolder) describeChanges(prev, next AppConfig) {
	added, removed := diffLogins(prev.Channels, next.Channels)
	if len(added) > 0 || len(removed) > 0 {
		h.logger.Info().Strs("added", added).Strs("removed", removed).Msg("config changed: channels")
	}
	if prev.Debug != next.Debug {
		h.logger.Info().Bool("old", prev.Debug).Bool("new", next.Debug).Msg("config changed: debug")
	}
	if prev.EventSubSecret != next.EventSubSecret {
		h.logger.Info().Bool("set", next.EventSubSecret != "").Msg("config changed: eventsubSecret rotated")
	}
	if prev.InstanceID != next.InstanceID {
		h.logger.Info().Str("old", prev.InstanceID).Str("new", next.InstanceID).Msg("config changed: instanceId")
	}

	var restart []string
	if prev.DataDir != next.DataDir {
		restart = append(restart, "dataDir")
	}
	if prev.API.ListenAddr != next.API.ListenAddr {
		restart = append(restart, "api.listenAddr")
	}
	if prev.Store.Backend != next.Store.Backend {
		restart = append(restart, "store.backend")
	}
	if prev.Redis != next.Redis {
		restart = append(restart, "redis")
	}
	if len(restart) > 0 {
		h.logger.Warn().Strs("keys", restart).Str("event", "config.restart_required").Msg("changed settings apply after restart")
	}
}

func diffLogins(prev, next []ChannelConfig) (added, removed []string) {
	set := func(chs []ChannelConfig) []string {
		out := make([]string, 0, len(chs))
		for _, c := range chs {
			out = append(out, strings.ToLower(c.Login))
		}
		return out
	}
	before, after := set(prev), set(next)
	for _, l := range after {
		if !slices.Contains(before, l) {
			added = append(added, l)
		}
	}
	for _, l := range before {
		if !slices.Contains(after, l) {
			removed = append(removed, l)
		}
	}
	return added, removed
}
