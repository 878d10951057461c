// SPDX-License-Identifier: MIT

// Package middleware holds the HTTP ingress middleware shared by the lsdvr API.
package middleware

import (
	"github.com/ManuGH/lsdvr/internal/log"
	"github.com/go-chi/chi/v5"
)

// StackConfig selects the cross-cutting middleware applied to every route.
type StackConfig struct {
	EnableMetrics bool
	EnableLogging bool
}

// NewRouter constructs a chi router with the middleware stack applied.
func NewRouter(cfg StackConfig) *chi.Mux {
	r := chi.NewRouter()
	ApplyStack(r, cfg)
	return r
}

// ApplyStack applies the middleware stack to r. Order matters: recovery is outermost.
func ApplyStack(r chi.Router, cfg StackConfig) {
	r.Use(Recoverer)
	r.Use(RequestID)
	if cfg.EnableMetrics {
		r.Use(Metrics())
	}
	if cfg.EnableLogging {
		r.Use(log.Middleware())
	}
}
