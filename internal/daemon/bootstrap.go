// SPDX-License-Identifier: MIT

// Package daemon wires the lsdvr components together and owns their lifecycle.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/ManuGH/lsdvr/internal/api"
	"github.com/ManuGH/lsdvr/internal/automator"
	"github.com/ManuGH/lsdvr/internal/capture"
	"github.com/ManuGH/lsdvr/internal/channel"
	"github.com/ManuGH/lsdvr/internal/config"
	"github.com/ManuGH/lsdvr/internal/games"
	"github.com/ManuGH/lsdvr/internal/health"
	"github.com/ManuGH/lsdvr/internal/log"
	"github.com/ManuGH/lsdvr/internal/logsink"
	"github.com/ManuGH/lsdvr/internal/media"
	"github.com/ManuGH/lsdvr/internal/notify"
	"github.com/ManuGH/lsdvr/internal/provider"
	"github.com/ManuGH/lsdvr/internal/substatus"
	"github.com/ManuGH/lsdvr/internal/telemetry"
	"github.com/ManuGH/lsdvr/internal/vod"
	"github.com/ManuGH/lsdvr/internal/webhook"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Layout is where each component keeps its files under the data dir.
type Layout struct {
	Logs     string
	Cache    string
	VODs     string
	Payloads string
	Games    string
}

// LayoutFor derives the layout from the configured data dir.
func LayoutFor(cfg config.AppConfig) Layout {
	return Layout{
		Logs:     cfg.LogsDir(),
		Cache:    cfg.CacheDir(),
		VODs:     cfg.VodsDir(),
		Payloads: cfg.PayloadsDir(),
		Games:    cfg.GamesPath(),
	}
}

// Overrides replaces external collaborators. Zero fields use the real ones.
type Overrides struct {
	Provider provider.Client
	Capture  capture.Tool
	Media    media.Tool
}

// Runtime is the fully wired daemon.
type Runtime struct {
	Config    config.AppConfig
	Layout    Layout
	Sink      *logsink.Sink
	Hub       *logsink.Hub
	Subs      substatus.Store
	Provider  provider.Client
	Channels  *channel.Registry
	VODs      *vod.Manager
	Automator *automator.Automator
	Gateway   *webhook.Gateway
	API       *api.Server
	Health    *health.Manager
	Notifier  notify.Broker
	Manager   Manager

	logger zerolog.Logger
}

// Build constructs every component in dependency order. On error, anything
// already opened is closed.
func Build(ctx context.Context, cfg config.AppConfig, ov Overrides) (rt *Runtime, err error) {
	logger := log.WithComponent("daemon")
	layout := LayoutFor(cfg)
	rt = &Runtime{Config: cfg, Layout: layout, logger: logger}

	var closers []namedHook
	onClose := func(name string, fn ShutdownHook) {
		closers = append(closers, namedHook{name: name, hook: fn})
	}
	defer func() {
		if err == nil {
			return
		}
		for i := len(closers) - 1; i >= 0; i-- {
			_ = closers[i].hook(context.Background())
		}
	}()

	tp, err := telemetry.NewProvider(ctx, cfg.Telemetry, cfg.Version)
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}
	onClose("telemetry", tp.Shutdown)

	var broadcasters []logsink.Broadcaster
	if cfg.WebsocketLog {
		rt.Hub = logsink.NewHub(32)
		broadcasters = append(broadcasters, rt.Hub)
	}
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		onClose("redis", func(context.Context) error { return client.Close() })
		broadcasters = append(broadcasters, logsink.NewRedisBroadcaster(client, cfg.Redis.Channel))
	}

	rt.Sink, err = logsink.New(logsink.Options{
		Dir:          layout.Logs,
		Debug:        cfg.Debug,
		Broadcast:    len(broadcasters) > 0,
		Debounce:     cfg.LogBroadcastDebounce,
		Broadcasters: broadcasters,
	})
	if err != nil {
		return nil, err
	}
	sink := rt.Sink
	onClose("logsink", func(context.Context) error { return sink.Close() })
	if err := rt.Sink.ReadToday(); err != nil {
		logger.Warn().Err(err).Str("event", "daemon.read_today_failed").Msg("could not reload today's log")
	}

	rt.Subs, err = substatus.NewStore(cfg.Store.Backend, layout.Cache)
	if err != nil {
		return nil, fmt.Errorf("substatus: %w", err)
	}
	subs := rt.Subs
	onClose("substatus", func(context.Context) error { return subs.Close() })

	rt.Provider = ov.Provider
	if rt.Provider == nil {
		rt.Provider = provider.NewHelixClient(provider.Config{
			ClientID:       cfg.Provider.ClientID,
			ClientSecret:   cfg.Provider.ClientSecret,
			BaseURL:        cfg.Provider.BaseURL,
			AuthURL:        cfg.Provider.AuthURL,
			RPS:            cfg.Provider.RPS,
			Timeout:        cfg.Provider.Timeout,
			TokenCachePath: filepath.Join(layout.Cache, "token.json"),
		})
	}

	gameTable, err := games.Load(layout.Games)
	if err != nil {
		logger.Warn().Err(err).Str("event", "daemon.games_unreadable").Msg("continuing without game names")
		gameTable = games.New(nil)
	}

	rt.Channels, err = channel.NewRegistry(rt.Provider, filepath.Join(layout.Cache, "channels.json"), cfg.Channels)
	if err != nil {
		return nil, fmt.Errorf("channels: %w", err)
	}

	mediaTool := ov.Media
	if mediaTool == nil {
		mediaTool = media.NewFFmpeg(cfg.Media.FFmpegBin, cfg.Media.FFprobeBin)
	}
	rt.VODs, err = vod.NewManager(layout.VODs, rt.Provider, mediaTool)
	if err != nil {
		return nil, fmt.Errorf("vods: %w", err)
	}

	captureTool := ov.Capture
	if captureTool == nil {
		captureTool = capture.NewStreamlink(cfg.Capture.Bin, cfg.Capture.SegmentLength, cfg.Capture.StopGrace)
	}

	rt.Notifier = notify.New(cfg.Notify, rt.Sink)
	if c, ok := rt.Notifier.(interface{ Close() error }); ok {
		onClose("notify", func(context.Context) error { return c.Close() })
	}

	rt.Automator = automator.New(automator.Options{
		Channels:      rt.Channels,
		VODs:          rt.VODs,
		Subs:          rt.Subs,
		Capture:       captureTool,
		Notifier:      rt.Notifier,
		Sink:          rt.Sink,
		Games:         gameTable,
		StreamURLBase: cfg.Capture.StreamURLBase,
	})
	auto := rt.Automator
	onClose("automator", auto.Shutdown)

	rt.Gateway, err = webhook.NewGateway(webhook.Options{
		Settings:   gatewaySettings(cfg),
		Store:      rt.Subs,
		Dispatcher: rt.Automator,
		Channels:   rt.Channels,
		Sink:       rt.Sink,
		Notifier:   rt.Notifier,
		PayloadDir: layout.Payloads,
	})
	if err != nil {
		return nil, err
	}

	rt.Health = health.NewManager(cfg.Version)
	rt.Health.RegisterChecker(health.NewDirChecker("data_dir", cfg.DataDir))
	rt.Health.RegisterChecker(health.NewFuncChecker("substatus", health.StatusUnhealthy, func(ctx context.Context) error {
		if ic, ok := rt.Subs.(interface {
			Integrity(context.Context) ([]string, error)
		}); ok {
			issues, err := ic.Integrity(ctx)
			if err != nil {
				return err
			}
			if len(issues) > 0 {
				return fmt.Errorf("integrity: %s", strings.Join(issues, "; "))
			}
			return nil
		}
		_, err := rt.Subs.All(ctx)
		return err
	}))
	rt.Health.RegisterChecker(health.NewBinaryChecker("capture_tool", cfg.Capture.Bin))
	rt.Health.RegisterChecker(health.NewBinaryChecker("ffmpeg", cfg.Media.FFmpegBin))

	rt.API = api.New(api.Deps{
		Hook:          rt.Gateway,
		Sink:          rt.Sink,
		Hub:           rt.Hub,
		Channels:      rt.Channels,
		VODs:          rt.VODs,
		Captures:      rt.Automator,
		Notifier:      rt.Notifier,
		Health:        rt.Health,
		HookRateLimit: cfg.API.HookRateLimit,
		Debug:         cfg.Debug,
	})

	rt.Manager, err = NewManager(cfg.API, Deps{Logger: logger, APIHandler: rt.API.Handler()})
	if err != nil {
		return nil, err
	}
	for _, c := range closers {
		rt.Manager.RegisterShutdownHook(c.name, c.hook)
	}

	if n := rt.Automator.Resume(); n > 0 {
		logger.Info().Str("event", "daemon.resumed").Int("vods", n).Msg("resumed post-processing")
	}
	logger.Info().
		Str("event", "daemon.built").
		Str(log.FieldPath, cfg.DataDir).
		Int("channels", len(cfg.Channels)).
		Msg("daemon wired")
	return rt, nil
}

// Apply pushes a reloaded configuration into the running components.
func (rt *Runtime) Apply(cfg config.AppConfig) {
	rt.Channels.ApplyConfig(cfg.Channels)
	rt.Sink.SetDebug(cfg.Debug)
	rt.Gateway.Apply(gatewaySettings(cfg))
	rt.API.SetDebug(cfg.Debug)
	rt.Config = cfg
	rt.logger.Info().Str("event", "config.applied").Int("channels", len(cfg.Channels)).Msg("configuration applied")
}

// Reconcile links unmatched recordings and prunes ones deleted upstream for every cached channel.
func (rt *Runtime) Reconcile(ctx context.Context) error {
	var errs []error
	for _, ch := range rt.Channels.List() {
		if _, err := rt.VODs.MatchVods(ctx, ch.ID); err != nil {
			errs = append(errs, fmt.Errorf("match %s: %w", ch.Login, err))
			continue
		}
		deleted, err := rt.VODs.CheckValidVods(ctx, ch.ID)
		if err != nil {
			errs = append(errs, fmt.Errorf("check %s: %w", ch.Login, err))
			continue
		}
		if deleted {
			rt.Notifier.Notify(ctx, "Recording removed upstream",
				fmt.Sprintf("A provider video for %s no longer exists", ch.DisplayNameOrLogin()), notify.CategoryVODDeleted)
		}
	}
	return errors.Join(errs...)
}

func gatewaySettings(cfg config.AppConfig) webhook.Settings {
	return webhook.Settings{
		Secret:       cfg.EventSubSecret,
		InstanceID:   cfg.InstanceID,
		DumpPayloads: cfg.DumpPayloads,
		Debug:        cfg.Debug,
	}
}
