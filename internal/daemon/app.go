// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package daemon

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ManuGH/lsdvr/internal/config"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// DefaultReconcileInterval is how often recordings are matched against provider videos.
const DefaultReconcileInterval = 6 * time.Hour

// App owns the long-lived runtime loops (config watch, reload signal,
// reconciliation) and delegates server management to the Manager.
type App struct {
	logger            zerolog.Logger
	runtime           *Runtime
	cfgHolder         *config.ConfigHolder
	reloadSignal      os.Signal
	reconcileInterval time.Duration
}

// NewApp creates an App. cfgHolder may be nil when config comes from the environment only.
func NewApp(logger zerolog.Logger, rt *Runtime, cfgHolder *config.ConfigHolder) *App {
	return &App{
		logger:            logger,
		runtime:           rt,
		cfgHolder:         cfgHolder,
		reloadSignal:      syscall.SIGHUP,
		reconcileInterval: DefaultReconcileInterval,
	}
}

// Run blocks until ctx is cancelled or the server fails.
func (a *App) Run(ctx context.Context) error {
	if a.runtime == nil || a.runtime.Manager == nil {
		return ErrMissingManager
	}

	g, ctx := errgroup.WithContext(ctx)

	if a.cfgHolder != nil {
		if err := a.cfgHolder.StartWatcher(ctx); err != nil {
			a.logger.Warn().Err(err).Str("event", "config.watcher_start_failed").Msg("failed to start config watcher")
		}
		defer a.cfgHolder.Stop()

		applyCh := make(chan config.AppConfig, 1)
		a.cfgHolder.RegisterListener(applyCh)
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return nil
				case cfg := <-applyCh:
					a.runtime.Apply(cfg)
				}
			}
		})

		if a.reloadSignal != nil {
			g.Go(func() error {
				hup := make(chan os.Signal, 1)
				signal.Notify(hup, a.reloadSignal)
				defer signal.Stop(hup)
				for {
					select {
					case <-ctx.Done():
						return nil
					case <-hup:
						a.logger.Info().
							Str("event", "config.reload_signal").
							Str("signal", a.reloadSignal.String()).
							Msg("received reload signal, reloading config")
						if err := a.cfgHolder.Reload(ctx); err != nil {
							a.logger.Warn().Err(err).Str("event", "config.reload_failed").Msg("config reload failed")
						}
					}
				}
			})
		}
	}

	if a.reconcileInterval > 0 {
		g.Go(func() error {
			t := time.NewTicker(a.reconcileInterval)
			defer t.Stop()
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-t.C:
					if err := a.runtime.Reconcile(ctx); err != nil {
						a.logger.Warn().Err(err).Str("event", "vod.reconcile_failed").Msg("reconciliation incomplete")
					}
				}
			}
		})
	}

	g.Go(func() error {
		err := a.runtime.Manager.Start(ctx)
		if err != nil {
			_ = a.runtime.Manager.Shutdown(context.Background())
		}
		return err
	})

	return g.Wait()
}

// SignalContext is cancelled on SIGINT or SIGTERM.
func SignalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
