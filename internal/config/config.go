// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package config provides configuration management for lsdvr.
//
// Precedence is ENV > YAML file > defaults. The file is parsed strictly:
// unknown keys are a startup error.
package config

import (
	"path/filepath"
	"strings"
	"time"
)

// AppConfig is the fully resolved runtime configuration.
type AppConfig struct {
	Version string `yaml:"-"`

	DataDir  string `yaml:"dataDir"`
	LogLevel string `yaml:"logLevel"`
	Debug    bool   `yaml:"debug"`

	// Webhook
	EventSubSecret string `yaml:"eventsubSecret"`
	InstanceID     string `yaml:"instanceId"`
	DumpPayloads   bool   `yaml:"dumpPayloads"`

	// Operator log broadcast
	WebsocketLog         bool          `yaml:"websocketLog"`
	LogBroadcastDebounce time.Duration `yaml:"logBroadcastDebounce"`

	API       APIConfig       `yaml:"api"`
	Provider  ProviderConfig  `yaml:"provider"`
	Capture   CaptureConfig   `yaml:"capture"`
	Media     MediaConfig     `yaml:"media"`
	Notify    NotifyConfig    `yaml:"notify"`
	Redis     RedisConfig     `yaml:"redis"`
	Store     StoreConfig     `yaml:"store"`
	Telemetry TelemetryConfig `yaml:"telemetry"`

	Channels []ChannelConfig `yaml:"channels"`
}

// APIConfig configures the HTTP listener.
type APIConfig struct {
	ListenAddr      string        `yaml:"listenAddr"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
	HookRateLimit   int           `yaml:"hookRateLimit"`  // requests per minute per IP, 0 disables
	MaxConnections  int           `yaml:"maxConnections"` // concurrent connections, 0 is unlimited
}

// ProviderConfig configures the streaming provider API client.
type ProviderConfig struct {
	ClientID     string        `yaml:"clientId"`
	ClientSecret string        `yaml:"clientSecret"`
	BaseURL      string        `yaml:"baseURL"`
	AuthURL      string        `yaml:"authURL"`
	RPS          float64       `yaml:"rps"`
	Timeout      time.Duration `yaml:"timeout"`
}

// CaptureConfig configures the capture tool.
type CaptureConfig struct {
	Bin           string        `yaml:"bin"`
	StreamURLBase string        `yaml:"streamURLBase"`
	SegmentLength time.Duration `yaml:"segmentLength"`
	StopGrace     time.Duration `yaml:"stopGrace"`
}

// MediaConfig configures the remux/probe tools.
type MediaConfig struct {
	FFmpegBin  string `yaml:"ffmpegBin"`
	FFprobeBin string `yaml:"ffprobeBin"`
}

// NotifyConfig configures operator push notifications.
type NotifyConfig struct {
	NtfyTopic string        `yaml:"ntfyTopic"`
	Timeout   time.Duration `yaml:"timeout"`
}

// RedisConfig configures the optional Redis log broadcaster.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Channel  string `yaml:"channel"`
}

// StoreConfig selects the subscription status backend.
type StoreConfig struct {
	Backend string `yaml:"backend"` // json|sqlite|badger|memory
}

// TelemetryConfig configures OpenTelemetry tracing.
type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled"`
	ExporterType string  `yaml:"exporter"`
	Endpoint     string  `yaml:"endpoint"`
	SamplingRate float64 `yaml:"samplingRate"`
}

// ChannelConfig is the operator's per-channel capture preference.
type ChannelConfig struct {
	Login     string   `yaml:"login"`
	ID        string   `yaml:"id"`
	Quality   []string `yaml:"quality"`
	Match     []string `yaml:"match"`
	NoCapture []string `yaml:"noCapture"`
}

// LogsDir is where the day-partitioned operator log lives.
func (c AppConfig) LogsDir() string { return filepath.Join(c.DataDir, "logs") }

// CacheDir holds the key-value, channel and game documents.
func (c AppConfig) CacheDir() string { return filepath.Join(c.DataDir, "cache") }

// VodsDir is the root of the recordings tree.
func (c AppConfig) VodsDir() string { return filepath.Join(c.DataDir, "storage", "vods") }

// PayloadsDir receives raw webhook dumps in debug mode.
func (c AppConfig) PayloadsDir() string { return filepath.Join(c.DataDir, "payloads") }

// GamesPath is the read-only game lookup table.
func (c AppConfig) GamesPath() string { return filepath.Join(c.CacheDir(), "games.json") }

// ChannelByLogin returns the configured channel entry for login (case-insensitive).
func (c AppConfig) ChannelByLogin(login string) (ChannelConfig, bool) {
	for _, ch := range c.Channels {
		if strings.EqualFold(ch.Login, login) {
			return ch, true
		}
	}
	return ChannelConfig{}, false
}
