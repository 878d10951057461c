// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	routeLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "lsdvr_http_request_duration_seconds",
		Help:    "API request latency by route pattern",
		Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
	}, []string{"method", "route", "status"})

	routeBytes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lsdvr_http_response_bytes_total",
		Help: "Response bytes written by route pattern",
	}, []string{"route"})

	openRequests = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "lsdvr_http_requests_in_flight",
		Help: "API requests currently being served, log streams included",
	})
)

// Metrics records latency and response volume per chi route pattern.
// Requests that matched no route share the "unmatched" label.
func Metrics() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			openRequests.Inc()
			defer openRequests.Dec()

			start := time.Now()
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			route := routePattern(r)
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			routeBytes.WithLabelValues(route).Add(float64(ww.BytesWritten()))
			routeLatency.WithLabelValues(r.Method, route, strconv.Itoa(status)).Observe(time.Since(start).Seconds())
		})
	}
}

func routePattern(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
		return rc.RoutePattern()
	}
	return "unmatched"
}
