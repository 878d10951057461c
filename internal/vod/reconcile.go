// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package vod

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/ManuGH/lsdvr/internal/log"
	"github.com/ManuGH/lsdvr/internal/provider"
)

// DefaultMatchTolerance bounds both the start-time and duration difference
// between a local recording and a provider video.
const DefaultMatchTolerance = 5 * time.Minute

var durationRe = regexp.MustCompile(`^(?:(\d+)h)?(?:(\d+)m)?(?:(\d+)s)?$`)

// ParseProviderDuration parses the provider's "1h2m3s" form.
func ParseProviderDuration(s string) (time.Duration, error) {
	m := durationRe.FindStringSubmatch(s)
	if s == "" || m == nil {
		return 0, fmt.Errorf("vod: invalid provider duration %q", s)
	}
	var d time.Duration
	for i, unit := range []time.Duration{time.Hour, time.Minute, time.Second} {
		if m[i+1] == "" {
			continue
		}
		n, err := strconv.Atoi(m[i+1])
		if err != nil {
			return 0, fmt.Errorf("vod: invalid provider duration %q: %w", s, err)
		}
		d += time.Duration(n) * unit
	}
	return d, nil
}

// CheckValidVods re-lists the channel's provider videos and marks every
// finalized recording whose linked video is gone as deleted. It reports
// whether anything was deleted. Local files are kept.
func (m *Manager) CheckValidVods(ctx context.Context, channelID string) (bool, error) {
	var linked []VOD
	for _, v := range m.List(channelID) {
		if v.State.IsFinal() && v.ProviderVideo != nil && v.ProviderVideo.ID != "" {
			linked = append(linked, v)
		}
	}
	if len(linked) == 0 {
		return false, nil
	}

	videos, err := m.provider.GetVideos(ctx, channelID)
	if err != nil {
		return false, fmt.Errorf("vod: list provider videos: %w", err)
	}
	online := make(map[string]struct{}, len(videos))
	for _, pv := range videos {
		online[pv.ID] = struct{}{}
	}

	deleted := false
	for _, v := range linked {
		if _, ok := online[v.ProviderVideo.ID]; ok {
			continue
		}
		if _, err := m.Transition(v.Basename, StateDeleted, ""); err != nil {
			return deleted, err
		}
		m.logger.Warn().
			Str("event", "vod.gone_upstream").
			Str(log.FieldBasename, v.Basename).
			Str(log.FieldVideoID, v.ProviderVideo.ID).
			Msg("provider video no longer exists")
		deleted = true
	}
	return deleted, nil
}

// MatchProviderVod links a finalized recording to the provider video that
// started and lasted about as long as it did. It reports whether a new link
// was written; an already linked recording is left alone.
func (m *Manager) MatchProviderVod(ctx context.Context, basename string) (bool, error) {
	v, ok := m.Get(basename)
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrNotFound, basename)
	}
	if !v.State.IsFinal() || v.ProviderVideo != nil {
		return false, nil
	}

	videos, err := m.provider.GetVideos(ctx, v.ChannelID)
	if err != nil {
		return false, fmt.Errorf("vod: list provider videos: %w", err)
	}
	best, found := m.bestMatch(v, videos)
	if !found {
		m.logger.Debug().Str("event", "vod.match_none").Str(log.FieldBasename, basename).Int("candidates", len(videos)).Msg("no provider video matched")
		return false, nil
	}

	linked := false
	_, err = m.update(basename, func(cur *VOD) error {
		if cur.ProviderVideo != nil {
			return nil
		}
		cur.ProviderVideo = &best
		linked = true
		return nil
	})
	if err != nil {
		return false, err
	}
	if linked {
		m.logger.Info().
			Str("event", "vod.matched").
			Str(log.FieldBasename, basename).
			Str(log.FieldVideoID, best.ID).
			Msg("recording linked to provider video")
	}
	return linked, nil
}

func (m *Manager) bestMatch(v VOD, videos []provider.Video) (ProviderVideo, bool) {
	local := v.Duration()
	var (
		best     ProviderVideo
		bestDiff time.Duration
		found    bool
	)
	for _, pv := range videos {
		if pv.Type != "" && pv.Type != "archive" {
			continue
		}
		dur, err := ParseProviderDuration(pv.Duration)
		if err != nil {
			continue
		}
		startDiff := absDuration(pv.CreatedAt.Sub(v.StartedAt))
		if startDiff > m.tolerance || absDuration(dur-local) > m.tolerance {
			continue
		}
		if !found || startDiff < bestDiff {
			best = ProviderVideo{ID: pv.ID, URL: pv.URL, CreatedAt: pv.CreatedAt, Duration: dur}
			bestDiff = startDiff
			found = true
		}
	}
	return best, found
}

// MatchVods runs MatchProviderVod over every unlinked finalized recording
// of the channel and returns how many were linked.
func (m *Manager) MatchVods(ctx context.Context, channelID string) (int, error) {
	n := 0
	for _, v := range m.List(channelID) {
		if !v.State.IsFinal() || v.ProviderVideo != nil {
			continue
		}
		ok, err := m.MatchProviderVod(ctx, v.Basename)
		if err != nil {
			return n, err
		}
		if ok {
			n++
		}
	}
	return n, nil
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
