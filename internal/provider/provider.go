// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package provider talks to the livestreaming provider's REST API.
package provider

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrAuth means no valid access token could be obtained.
	ErrAuth = errors.New("provider: authentication failed")
	// ErrNotFound means the requested channel or video does not exist.
	ErrNotFound = errors.New("provider: not found")
	// ErrUnavailable wraps transport failures and 5xx responses.
	ErrUnavailable = errors.New("provider: unavailable")
)

// ChannelData is the provider's view of a channel.
type ChannelData struct {
	ID              string `json:"id"`
	Login           string `json:"login"`
	DisplayName     string `json:"display_name"`
	ProfileImageURL string `json:"profile_image_url"`
	BroadcasterType string `json:"broadcaster_type"`
	Description     string `json:"description"`
}

// Video is an archived broadcast on the provider.
type Video struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	UserLogin string    `json:"user_login"`
	Title     string    `json:"title"`
	URL       string    `json:"url"`
	CreatedAt time.Time `json:"created_at"`
	Duration  string    `json:"duration"` // e.g. "1h2m3s"
	Type      string    `json:"type"`
}

// Client is the subset of the provider API the daemon depends on.
type Client interface {
	AccessToken(ctx context.Context, force bool) (string, error)
	GetChannelData(ctx context.Context, login string) (ChannelData, error)
	GetChannelDataByID(ctx context.Context, id string) (ChannelData, error)
	GetVideos(ctx context.Context, channelID string) ([]Video, error)
	GetVideo(ctx context.Context, videoID string) (Video, error)
}
