// SPDX-License-Identifier: MIT

// Package health serves liveness and readiness with per-component detail.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/ManuGH/lsdvr/internal/log"
	"golang.org/x/sync/errgroup"
)

// Status is the overall or per-component health.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// CheckResult is the outcome of one component check.
type CheckResult struct {
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Response is the body of /healthz and /readyz.
type Response struct {
	Status    Status                 `json:"status"`
	Ready     bool                   `json:"ready"`
	Version   string                 `json:"version,omitempty"`
	Uptime    int64                  `json:"uptimeSeconds"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
}

// Checker reports the health of one component.
type Checker interface {
	Name() string
	Check(ctx context.Context) CheckResult
}

// Manager aggregates registered checkers.
type Manager struct {
	version string
	started time.Time

	mu       sync.RWMutex
	checkers []Checker
}

// NewManager returns a manager with no checkers.
func NewManager(version string) *Manager {
	return &Manager{version: version, started: time.Now()}
}

// RegisterChecker adds c to every subsequent evaluation.
func (m *Manager) RegisterChecker(c Checker) {
	m.mu.Lock()
	m.checkers = append(m.checkers, c)
	m.mu.Unlock()
}

// checkTimeout bounds each component check.
var checkTimeout = 3 * time.Second

// Evaluate runs every checker concurrently. Any unhealthy component makes
// the service not ready.
func (m *Manager) Evaluate(ctx context.Context) Response {
	m.mu.RLock()
	checkers := slices.Clone(m.checkers)
	m.mu.RUnlock()

	resp := m.baseResponse()
	if len(checkers) == 0 {
		return resp
	}

	results := make([]CheckResult, len(checkers))
	var g errgroup.Group
	for i, c := range checkers {
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(ctx, checkTimeout)
			defer cancel()
			results[i] = c.Check(cctx)
			return nil
		})
	}
	_ = g.Wait()

	resp.Checks = make(map[string]CheckResult, len(checkers))
	for i, c := range checkers {
		res := results[i]
		resp.Checks[c.Name()] = res
		switch res.Status {
		case StatusUnhealthy:
			resp.Status = StatusUnhealthy
			resp.Ready = false
		case StatusDegraded:
			if resp.Status == StatusHealthy {
				resp.Status = StatusDegraded
			}
		}
	}
	return resp
}

func (m *Manager) baseResponse() Response {
	return Response{
		Status:    StatusHealthy,
		Ready:     true,
		Version:   m.version,
		Uptime:    int64(time.Since(m.started).Seconds()),
		Timestamp: time.Now().UTC(),
	}
}

// ServeHealth always answers 200 while the process is alive.
// Component detail is included with ?verbose=true.
func (m *Manager) ServeHealth(w http.ResponseWriter, r *http.Request) {
	resp := m.baseResponse()
	if r.URL.Query().Get("verbose") == "true" {
		resp = m.Evaluate(r.Context())
	}
	m.write(w, r, http.StatusOK, resp)
}

// ServeReady answers 503 when any component is unhealthy.
func (m *Manager) ServeReady(w http.ResponseWriter, r *http.Request) {
	resp := m.Evaluate(r.Context())
	code := http.StatusOK
	if !resp.Ready {
		code = http.StatusServiceUnavailable
	}
	m.write(w, r, code, resp)
}

func (m *Manager) write(w http.ResponseWriter, r *http.Request, code int, resp Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		logger := log.WithComponentFromContext(r.Context(), "health")
		logger.Error().Err(err).Str("event", "health.encode_error").Msg("failed to encode health response")
	}
}
