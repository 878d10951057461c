// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/ManuGH/lsdvr/internal/log"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is prepended to every environment override.
const EnvPrefix = "LSDVR_"

// Loader handles configuration loading with precedence
type Loader struct {
	configPath      string
	version         string
	ConsumedEnvKeys map[string]struct{}
}

// NewLoader creates a new configuration loader
func NewLoader(configPath, version string) *Loader {
	return &Loader{
		configPath:      configPath,
		version:         version,
		ConsumedEnvKeys: make(map[string]struct{}),
	}
}

// envOverride records key as consumed and applies parse to it.
func envOverride[T any](l *Loader, key string, current T, parse func(string, T) T) T {
	name := EnvPrefix + key
	l.ConsumedEnvKeys[name] = struct{}{}
	return parse(name, current)
}

// Load loads configuration with precedence: ENV > File > Defaults.
// Order is: defaults, strict file parse, env overrides, validation.
func (l *Loader) Load() (AppConfig, error) {
	cfg := Defaults()

	if l.configPath != "" {
		if err := l.loadFile(l.configPath, &cfg); err != nil {
			return cfg, fmt.Errorf("load config file: %w", err)
		}
	}

	l.mergeEnv(&cfg)
	l.warnUnknownEnv()

	if abs, err := filepath.Abs(cfg.DataDir); err == nil {
		cfg.DataDir = abs
	}
	for i := range cfg.Channels {
		cfg.Channels[i].Login = strings.ToLower(strings.TrimSpace(cfg.Channels[i].Login))
		if len(cfg.Channels[i].Quality) == 0 {
			cfg.Channels[i].Quality = []string{"best"}
		}
	}

	cfg.Version = l.version

	if err := Validate(cfg); err != nil {
		return cfg, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// Defaults returns the built-in configuration.
func Defaults() AppConfig {
	return AppConfig{
		DataDir:              "./data",
		LogLevel:             "info",
		LogBroadcastDebounce: 5 * time.Second,
		API: APIConfig{
			ListenAddr:      ":8080",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			HookRateLimit:   120,
			MaxConnections:  256,
		},
		Provider: ProviderConfig{
			BaseURL: "https://api.twitch.tv/helix",
			AuthURL: "https://id.twitch.tv/oauth2/token",
			RPS:     10,
			Timeout: 10 * time.Second,
		},
		Capture: CaptureConfig{
			Bin:           "streamlink",
			StreamURLBase: "https://twitch.tv/",
			SegmentLength: 30 * time.Second,
			StopGrace:     10 * time.Second,
		},
		Media: MediaConfig{
			FFmpegBin:  "ffmpeg",
			FFprobeBin: "ffprobe",
		},
		Notify: NotifyConfig{
			Timeout: 5 * time.Second,
		},
		Redis: RedisConfig{
			Channel: "lsdvr:log",
		},
		Store: StoreConfig{
			Backend: "json",
		},
		Telemetry: TelemetryConfig{
			ExporterType: "grpc",
			Endpoint:     "localhost:4317",
			SamplingRate: 1.0,
		},
	}
}

// loadFile decodes the YAML file onto cfg with STRICT parsing.
// Unknown fields cause a fatal error to prevent misconfiguration.
func (l *Loader) loadFile(path string, cfg *AppConfig) error {
	path = filepath.Clean(path)

	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".yaml" && ext != ".yml" {
		return fmt.Errorf("unsupported config format: %s (only YAML supported)", ext)
	}

	// #nosec G304 -- configuration file paths are provided by the operator via CLI/ENV
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("strict config parse error: %w", err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return fmt.Errorf("config file contains multiple documents or trailing content")
	}
	return nil
}

func (l *Loader) mergeEnv(cfg *AppConfig) {
	cfg.DataDir = envOverride(l, "DATA", cfg.DataDir, ParseString)
	cfg.LogLevel = envOverride(l, "LOG_LEVEL", cfg.LogLevel, ParseString)
	cfg.Debug = envOverride(l, "DEBUG", cfg.Debug, ParseBool)

	cfg.EventSubSecret = envOverride(l, "EVENTSUB_SECRET", cfg.EventSubSecret, ParseString)
	cfg.InstanceID = envOverride(l, "INSTANCE_ID", cfg.InstanceID, ParseString)
	cfg.DumpPayloads = envOverride(l, "DUMP_PAYLOADS", cfg.DumpPayloads, ParseBool)

	cfg.WebsocketLog = envOverride(l, "WEBSOCKET_LOG", cfg.WebsocketLog, ParseBool)
	cfg.LogBroadcastDebounce = envOverride(l, "LOG_BROADCAST_DEBOUNCE", cfg.LogBroadcastDebounce, ParseDuration)

	cfg.API.ListenAddr = envOverride(l, "LISTEN", cfg.API.ListenAddr, ParseString)
	cfg.API.HookRateLimit = envOverride(l, "HOOK_RATE_LIMIT", cfg.API.HookRateLimit, ParseInt)
	cfg.API.MaxConnections = envOverride(l, "MAX_CONNECTIONS", cfg.API.MaxConnections, ParseInt)

	cfg.Provider.ClientID = envOverride(l, "CLIENT_ID", cfg.Provider.ClientID, ParseString)
	cfg.Provider.ClientSecret = envOverride(l, "CLIENT_SECRET", cfg.Provider.ClientSecret, ParseString)
	cfg.Provider.BaseURL = envOverride(l, "PROVIDER_BASE_URL", cfg.Provider.BaseURL, ParseString)
	cfg.Provider.AuthURL = envOverride(l, "PROVIDER_AUTH_URL", cfg.Provider.AuthURL, ParseString)
	cfg.Provider.RPS = envOverride(l, "PROVIDER_RPS", cfg.Provider.RPS, ParseFloat)

	cfg.Capture.Bin = envOverride(l, "CAPTURE_BIN", cfg.Capture.Bin, ParseString)
	cfg.Media.FFmpegBin = envOverride(l, "FFMPEG_BIN", cfg.Media.FFmpegBin, ParseString)
	cfg.Media.FFprobeBin = envOverride(l, "FFPROBE_BIN", cfg.Media.FFprobeBin, ParseString)

	cfg.Notify.NtfyTopic = envOverride(l, "NTFY_TOPIC", cfg.Notify.NtfyTopic, ParseString)

	cfg.Redis.Addr = envOverride(l, "REDIS_ADDR", cfg.Redis.Addr, ParseString)
	cfg.Redis.Password = envOverride(l, "REDIS_PASSWORD", cfg.Redis.Password, ParseString)
	cfg.Redis.DB = envOverride(l, "REDIS_DB", cfg.Redis.DB, ParseInt)

	cfg.Store.Backend = envOverride(l, "STORE_BACKEND", cfg.Store.Backend, ParseString)

	cfg.Telemetry.Enabled = envOverride(l, "TELEMETRY_ENABLED", cfg.Telemetry.Enabled, ParseBool)
	cfg.Telemetry.Endpoint = envOverride(l, "TELEMETRY_ENDPOINT", cfg.Telemetry.Endpoint, ParseString)
}

// UnknownEnvKeys lists LSDVR_* variables in the environment that no setting reads.
func (l *Loader) UnknownEnvKeys() []string {
	var unknown []string
	for _, kv := range os.Environ() {
		key, _, _ := strings.Cut(kv, "=")
		if !strings.HasPrefix(key, EnvPrefix) {
			continue
		}
		if _, ok := l.ConsumedEnvKeys[key]; !ok {
			unknown = append(unknown, key)
		}
	}
	slices.Sort(unknown)
	return unknown
}

func (l *Loader) warnUnknownEnv() {
	if unknown := l.UnknownEnvKeys(); len(unknown) > 0 {
		logger := log.WithComponent("config")
		logger.Warn().
			Str("event", "config.unknown_env").
			Strs("keys", unknown).
			Msg("environment variables with the lsdvr prefix are not recognised")
	}
}
