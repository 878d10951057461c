// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package vod

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/ManuGH/lsdvr/internal/fsutil"
	"github.com/ManuGH/lsdvr/internal/log"
	"github.com/ManuGH/lsdvr/internal/media"
	"github.com/ManuGH/lsdvr/internal/metrics"
	"github.com/ManuGH/lsdvr/internal/provider"
	"github.com/rs/zerolog"
)

// InterruptedError is recorded on recordings found capturing at startup.
const InterruptedError = "capture interrupted by restart"

// Option configures a Manager.
type Option func(*Manager)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithMatchTolerance overrides DefaultMatchTolerance.
func WithMatchTolerance(d time.Duration) Option {
	return func(m *Manager) { m.tolerance = d }
}

// Manager owns all recordings. Every mutation is persisted before it
// becomes visible; a failed write leaves the previous state in place.
type Manager struct {
	dir       string
	provider  provider.Client
	media     media.Tool
	now       func() time.Time
	tolerance time.Duration
	logger    zerolog.Logger

	mu   sync.RWMutex
	vods map[string]*VOD
}

// NewManager loads every <dir>/<login>/<basename>.json document.
func NewManager(dir string, p provider.Client, mt media.Tool, opts ...Option) (*Manager, error) {
	m := &Manager{
		dir:       dir,
		provider:  p,
		media:     mt,
		now:       time.Now,
		tolerance: DefaultMatchTolerance,
		logger:    log.WithComponent("vod"),
		vods:      make(map[string]*VOD),
	}
	for _, opt := range opts {
		opt(m)
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("vod: create dir: %w", err)
	}
	if err := m.load(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Manager) load() error {
	matches, err := filepath.Glob(filepath.Join(m.dir, "*", "*.json"))
	if err != nil {
		return fmt.Errorf("vod: scan: %w", err)
	}
	for _, path := range matches {
		var v VOD
		if err := fsutil.ReadJSON(path, &v); err != nil {
			m.logger.Warn().Err(err).Str("event", "vod.load_failed").Str(log.FieldPath, path).Msg("skipping unreadable recording")
			continue
		}
		if v.Basename == "" || !v.State.Valid() {
			m.logger.Warn().Str("event", "vod.load_invalid").Str(log.FieldPath, path).Msg("skipping invalid recording document")
			continue
		}
		if !v.sizeConsistent() {
			var total int64
			for _, s := range v.Segments {
				total += s.Size
			}
			m.logger.Warn().
				Str("event", "vod.size_repaired").
				Str(log.FieldBasename, v.Basename).
				Int64("stored", v.Size).
				Int64("actual", total).
				Msg("recording size did not match its segments")
			v.Size = total
		}
		if v.State == StateCapturing {
			// The capture process died with us.
			if v.EndedAt.IsZero() {
				v.EndedAt = m.now()
			}
			v.State = StateFinalizedWithError
			v.Error = InterruptedError
			if err := m.save(&v); err != nil {
				return err
			}
			metrics.IncVODTransition(string(StateCapturing), string(StateFinalizedWithError))
			m.logger.Warn().Str("event", "vod.interrupted").Str(log.FieldBasename, v.Basename).Msg(InterruptedError)
		}
		m.vods[v.Basename] = &v
	}
	m.logger.Info().Str("event", "vod.loaded").Int("count", len(m.vods)).Msg("recordings loaded")
	return nil
}

func (m *Manager) docPath(v *VOD) (string, error) {
	return fsutil.ConfineRelPath(m.dir, filepath.Join(v.Login, v.Basename+".json"))
}

func (m *Manager) save(v *VOD) error {
	path, err := m.docPath(v)
	if err != nil {
		return fmt.Errorf("vod: %w", err)
	}
	if err := fsutil.WriteJSON(path, v); err != nil {
		return fmt.Errorf("vod: save %s: %w", v.Basename, err)
	}
	return nil
}

// update applies fn to a copy of the recording, persists it and swaps it in.
func (m *Manager) update(basename string, fn func(v *VOD) error) (VOD, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.vods[basename]
	if !ok {
		return VOD{}, fmt.Errorf("%w: %s", ErrNotFound, basename)
	}
	next := cur.clone()
	if err := fn(next); err != nil {
		return VOD{}, err
	}
	if err := m.save(next); err != nil {
		return VOD{}, err
	}
	m.vods[basename] = next
	return *next.clone(), nil
}

// Create starts a new capturing recording for the channel.
func (m *Manager) Create(channelID, login string) (VOD, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, v := range m.vods {
		if v.ChannelID == channelID && v.State == StateCapturing {
			return VOD{}, fmt.Errorf("%w: %s has %s", ErrAlreadyCapturing, login, v.Basename)
		}
	}

	started := m.now().UTC().Truncate(time.Second)
	v := &VOD{
		Basename:  Basename(login, started),
		ChannelID: channelID,
		Login:     strings.ToLower(login),
		State:     StateCapturing,
		Segments:  []Segment{},
		StartedAt: started,
	}
	if _, exists := m.vods[v.Basename]; exists {
		return VOD{}, fmt.Errorf("%w: basename %s already used", ErrAlreadyCapturing, v.Basename)
	}
	if err := m.save(v); err != nil {
		return VOD{}, err
	}
	m.vods[v.Basename] = v

	m.logger.Info().
		Str("event", "vod.created").
		Str(log.FieldBasename, v.Basename).
		Str(log.FieldChannelID, channelID).
		Msg("recording created")
	return *v.clone(), nil
}

// Get returns a copy of the recording.
func (m *Manager) Get(basename string) (VOD, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.vods[basename]
	if !ok {
		return VOD{}, false
	}
	return *v.clone(), true
}

// List returns the channel's recordings (all when channelID is empty), oldest first.
func (m *Manager) List(channelID string) []VOD {
	m.mu.RLock()
	out := make([]VOD, 0, len(m.vods))
	for _, v := range m.vods {
		if channelID == "" || v.ChannelID == channelID {
			out = append(out, *v.clone())
		}
	}
	m.mu.RUnlock()
	slices.SortFunc(out, func(a, b VOD) int {
		if c := a.StartedAt.Compare(b.StartedAt); c != 0 {
			return c
		}
		return strings.Compare(a.Basename, b.Basename)
	})
	return out
}

// Capturing returns the channel's capturing recording, if any.
func (m *Manager) Capturing(channelID string) (VOD, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, v := range m.vods {
		if v.ChannelID == channelID && v.State == StateCapturing {
			return *v.clone(), true
		}
	}
	return VOD{}, false
}

// InState lists all recordings currently in state s.
func (m *Manager) InState(s State) []VOD {
	var out []VOD
	for _, v := range m.List("") {
		if v.State == s {
			out = append(out, v)
		}
	}
	return out
}

// AddSegment appends a completed segment to a capturing recording.
func (m *Manager) AddSegment(basename string, seg Segment) (VOD, error) {
	return m.update(basename, func(v *VOD) error { return v.AddSegment(seg) })
}

// AddChapter records a title or category change on a capturing recording.
func (m *Manager) AddChapter(basename string, ch Chapter) (VOD, error) {
	return m.update(basename, func(v *VOD) error {
		if v.State != StateCapturing {
			return fmt.Errorf("%w: %s is %s", ErrNotCapturing, v.Basename, v.State)
		}
		if ch.Time.IsZero() {
			ch.Time = m.now()
		}
		v.Chapters = append(v.Chapters, ch)
		return nil
	})
}

// Transition moves the recording to state to. Leaving capturing stamps
// EndedAt; errText is stored for the error states.
func (m *Manager) Transition(basename string, to State, errText string) (VOD, error) {
	var from State
	v, err := m.update(basename, func(v *VOD) error {
		from = v.State
		if err := v.Transition(to); err != nil {
			return err
		}
		if from == StateCapturing && v.EndedAt.IsZero() {
			v.EndedAt = m.now().UTC()
		}
		if to == StateFinalizedWithError && errText != "" {
			v.Error = errText
		}
		return nil
	})
	if err != nil {
		return VOD{}, err
	}
	metrics.IncVODTransition(string(from), string(to))

	ev := m.logger.Info()
	if to == StateFinalizedWithError {
		ev = m.logger.Warn().Str("error", errText)
	}
	ev.Str("event", "vod.transition").
		Str(log.FieldBasename, basename).
		Str(log.FieldOldState, string(from)).
		Str(log.FieldNewState, string(to)).
		Msg("recording state changed")
	return v, nil
}

// Remux concatenates the segments of a converting recording into one
// file, probes it and finalizes the recording. A failure finalizes the
// recording with the error and is also returned.
func (m *Manager) Remux(ctx context.Context, basename string) (VOD, error) {
	v, ok := m.Get(basename)
	if !ok {
		return VOD{}, fmt.Errorf("%w: %s", ErrNotFound, basename)
	}
	if v.State != StateConverting {
		return VOD{}, fmt.Errorf("%w: remux needs %s, have %s", ErrInvalidTransition, StateConverting, v.State)
	}

	start := time.Now()
	info, output, err := m.remux(ctx, v)
	if err != nil {
		metrics.ObservePostProcess("error", time.Since(start))
		if _, terr := m.Transition(basename, StateFinalizedWithError, err.Error()); terr != nil {
			return VOD{}, errors.Join(err, terr)
		}
		return VOD{}, err
	}
	metrics.ObservePostProcess("ok", time.Since(start))

	if _, err := m.update(basename, func(v *VOD) error {
		v.Output = output
		v.Media = &info
		return nil
	}); err != nil {
		return VOD{}, err
	}
	return m.Transition(basename, StateFinalized, "")
}

func (m *Manager) remux(ctx context.Context, v VOD) (media.Info, string, error) {
	if len(v.Segments) == 0 {
		return media.Info{}, "", fmt.Errorf("%w: no segments captured", media.ErrRemuxFailed)
	}
	output, err := fsutil.ConfineRelPath(m.dir, filepath.Join(v.Login, v.Basename+".mp4"))
	if err != nil {
		return media.Info{}, "", err
	}
	if err := m.media.Remux(ctx, v.SegmentPaths(), output); err != nil {
		return media.Info{}, "", err
	}
	info, err := m.media.Probe(ctx, output)
	if err != nil {
		return media.Info{}, "", err
	}
	return info, output, nil
}

// ChannelSize sums the recorded bytes of a channel, excluding deleted recordings.
func (m *Manager) ChannelSize(channelID string) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var total int64
	for _, v := range m.vods {
		if v.ChannelID == channelID && v.State != StateDeleted {
			total += v.Size
		}
	}
	return total
}

// Dir is the recordings root.
func (m *Manager) Dir() string { return m.dir }

// ChannelDir is where the channel's segment files are written.
func (m *Manager) ChannelDir(login string) (string, error) {
	dir, err := fsutil.ConfineRelPath(m.dir, strings.ToLower(login))
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o750); err != nil && !errors.Is(err, fs.ErrExist) {
		return "", fmt.Errorf("vod: create channel dir: %w", err)
	}
	return dir, nil
}
