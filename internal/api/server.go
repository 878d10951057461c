// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package api is the HTTP surface of lsdvr: the EventSub webhook, the
// operator log, channel and VOD listings, and debug helpers.
package api

import (
	"context"
	"net/http"
	"sync/atomic"

	"github.com/ManuGH/lsdvr/internal/api/middleware"
	"github.com/ManuGH/lsdvr/internal/channel"
	"github.com/ManuGH/lsdvr/internal/health"
	"github.com/ManuGH/lsdvr/internal/log"
	"github.com/ManuGH/lsdvr/internal/logsink"
	"github.com/ManuGH/lsdvr/internal/notify"
	"github.com/ManuGH/lsdvr/internal/vod"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// V0BaseURL prefixes the JSON endpoints.
const V0BaseURL = "/api/v0"

// ChannelLister lists cached channels.
type ChannelLister interface {
	List() []channel.Channel
}

// VODStore is the recording state the API reads and reconciles.
type VODStore interface {
	Get(basename string) (vod.VOD, bool)
	List(channelID string) []vod.VOD
	ChannelSize(channelID string) int64
	CheckValidVods(ctx context.Context, channelID string) (bool, error)
	MatchProviderVod(ctx context.Context, basename string) (bool, error)
}

// CaptureLister reports running captures keyed by channel id.
type CaptureLister interface {
	Active() map[string]string
}

// Deps wires the server. Hub, Captures, Notifier and Health are optional.
type Deps struct {
	Hook          http.Handler
	Sink          *logsink.Sink
	Hub           *logsink.Hub
	Channels      ChannelLister
	VODs          VODStore
	Captures      CaptureLister
	Notifier      notify.Broker
	Health        *health.Manager
	HookRateLimit int
	Debug         bool
}

// Server builds the HTTP handler tree.
type Server struct {
	deps    Deps
	debug   atomic.Bool
	handler http.Handler
	logger  zerolog.Logger
}

// New builds the router.
func New(deps Deps) *Server {
	if deps.Notifier == nil {
		deps.Notifier = notify.Noop{}
	}
	if deps.Health == nil {
		deps.Health = health.NewManager("")
	}
	s := &Server{deps: deps, logger: log.WithComponent("api")}
	s.debug.Store(deps.Debug)
	s.handler = middleware.OTelHTTP(s.routes(), "lsdvr-api")
	return s
}

// Handler is the instrumented root handler.
func (s *Server) Handler() http.Handler { return s.handler }

// SetDebug toggles the debug endpoints.
func (s *Server) SetDebug(debug bool) { s.debug.Store(debug) }

func (s *Server) routes() chi.Router {
	r := middleware.NewRouter(middleware.StackConfig{EnableMetrics: true, EnableLogging: true})

	r.Get("/healthz", s.deps.Health.ServeHealth)
	r.Get("/readyz", s.deps.Health.ServeReady)
	r.Handle("/metrics", promhttp.Handler())

	if s.deps.Hook != nil {
		r.With(middleware.HookRateLimit(s.deps.HookRateLimit)).Post("/hook", s.deps.Hook.ServeHTTP)
	}

	r.Route(V0BaseURL, func(r chi.Router) {
		r.Get("/log/{day}", s.handleFetchLog)
		if s.deps.Hub != nil {
			r.Get("/log/stream", s.handleLogStream)
		}
		r.Get("/channels", s.handleChannels)
		r.Get("/channels/{id}/vods", s.handleChannelVods)
		r.Get("/vods/{basename}", s.handleVod)

		r.Route("/debug", func(r chi.Router) {
			r.Use(s.requireDebug)
			r.Get("/vods", s.handleDebugVods)
			r.Get("/captures", s.handleDebugCaptures)
			r.Post("/notify", s.handleDebugNotify)
			r.Post("/channels/{id}/check", s.handleDebugCheck)
			r.Post("/vods/{basename}/match", s.handleDebugMatch)
		})
	})
	return r
}

func (s *Server) requireDebug(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.debug.Load() {
			writeNotFound(w)
			return
		}
		next.ServeHTTP(w, r)
	})
}
