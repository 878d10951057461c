// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package media probes and remuxes captured recordings with ffprobe/ffmpeg.
package media

import (
	"context"
	"errors"
)

// ErrProbeFailed means the file could not be read as playable media.
var ErrProbeFailed = errors.New("media: probe failed")

// ErrRemuxFailed means the remux tool exited unsuccessfully.
var ErrRemuxFailed = errors.New("media: remux failed")

// Tool is the probe/remux capability used during post-processing.
type Tool interface {
	Probe(ctx context.Context, path string) (Info, error)
	Remux(ctx context.Context, inputs []string, output string) error
}

// Info is the track metadata of a recording.
type Info struct {
	General General `json:"general"`
	Video   *Video  `json:"video,omitempty"`
	Audio   *Audio  `json:"audio,omitempty"`
}

// General describes the container.
type General struct {
	Format   string  `json:"format"`
	Duration float64 `json:"duration"` // seconds
	Size     int64   `json:"size"`
	BitRate  int64   `json:"bitRate,omitempty"`
}

// Video describes the first video track.
type Video struct {
	Codec  string  `json:"codec"`
	Width  int     `json:"width"`
	Height int     `json:"height"`
	FPS    float64 `json:"fps,omitempty"`
}

// Audio describes the first audio track.
type Audio struct {
	Codec      string `json:"codec"`
	Channels   int    `json:"channels,omitempty"`
	SampleRate int    `json:"sampleRate,omitempty"`
}
