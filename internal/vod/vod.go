// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package vod owns local recordings: their lifecycle, segment bookkeeping,
// persistence and reconciliation against the provider's archive.
package vod

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/ManuGH/lsdvr/internal/media"
)

var (
	// ErrNotCapturing is returned when appending to a recording that is no longer capturing.
	ErrNotCapturing = errors.New("vod: not capturing")
	// ErrNotFound is returned for an unknown basename.
	ErrNotFound = errors.New("vod: not found")
	// ErrAlreadyCapturing is returned when a channel already has a capturing recording.
	ErrAlreadyCapturing = errors.New("vod: channel already capturing")
)

// Segment is one contiguous media file.
type Segment struct {
	Path     string        `json:"path"`
	Size     int64         `json:"size"`
	Duration time.Duration `json:"duration"`
}

// Chapter marks a title or category change during a capture.
type Chapter struct {
	Time     time.Time `json:"time"`
	GameID   string    `json:"gameId,omitempty"`
	GameName string    `json:"gameName,omitempty"`
	Title    string    `json:"title,omitempty"`
}

// ProviderVideo links a recording to the provider-hosted copy.
type ProviderVideo struct {
	ID        string        `json:"id"`
	URL       string        `json:"url,omitempty"`
	CreatedAt time.Time     `json:"createdAt"`
	Duration  time.Duration `json:"duration"`
}

// VOD is one recording. Values handed out by Manager are copies.
type VOD struct {
	Basename      string         `json:"basename"`
	ChannelID     string         `json:"channelId"`
	Login         string         `json:"login"`
	State         State          `json:"state"`
	Segments      []Segment      `json:"segments"`
	Size          int64          `json:"size"`
	StartedAt     time.Time      `json:"startedAt"`
	EndedAt       time.Time      `json:"endedAt,omitzero"`
	Chapters      []Chapter      `json:"chapters,omitempty"`
	ProviderVideo *ProviderVideo `json:"providerVideo,omitempty"`
	Output        string         `json:"output,omitempty"`
	Media         *media.Info    `json:"media,omitempty"`
	Error         string         `json:"error,omitempty"`
}

// Basename builds the unique name of a recording started at t.
func Basename(login string, t time.Time) string {
	return strings.ToLower(login) + "_" + t.UTC().Format("2006-01-02T15_04_05Z")
}

// AddSegment appends seg and keeps Size equal to the sum of segment sizes.
func (v *VOD) AddSegment(seg Segment) error {
	if v.State != StateCapturing {
		return fmt.Errorf("%w: %s is %s", ErrNotCapturing, v.Basename, v.State)
	}
	if seg.Size < 0 {
		return fmt.Errorf("vod: negative segment size %d", seg.Size)
	}
	v.Segments = append(v.Segments, seg)
	v.Size += seg.Size
	return nil
}

// Transition moves v to state to.
func (v *VOD) Transition(to State) error {
	if err := checkTransition(v.State, to); err != nil {
		return err
	}
	v.State = to
	return nil
}

// Duration is the wall-clock capture length, or the segment total while capturing.
func (v *VOD) Duration() time.Duration {
	if !v.EndedAt.IsZero() {
		return v.EndedAt.Sub(v.StartedAt)
	}
	var d time.Duration
	for _, s := range v.Segments {
		d += s.Duration
	}
	return d
}

// SegmentPaths lists the segment files in order.
func (v *VOD) SegmentPaths() []string {
	out := make([]string, len(v.Segments))
	for i, s := range v.Segments {
		out[i] = s.Path
	}
	return out
}

func (v *VOD) clone() *VOD {
	c := *v
	c.Segments = slices.Clone(v.Segments)
	c.Chapters = slices.Clone(v.Chapters)
	if v.ProviderVideo != nil {
		pv := *v.ProviderVideo
		c.ProviderVideo = &pv
	}
	if v.Media != nil {
		m := *v.Media
		c.Media = &m
	}
	return &c
}

func (v *VOD) sizeConsistent() bool {
	var total int64
	for _, s := range v.Segments {
		total += s.Size
	}
	return total == v.Size
}
