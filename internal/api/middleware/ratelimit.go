// SPDX-License-Identifier: MIT

package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/ManuGH/lsdvr/internal/log"
	"github.com/ManuGH/lsdvr/internal/metrics"
	"github.com/go-chi/httprate"
)

const hookWindow = time.Minute

// HookRateLimit caps webhook deliveries per client IP in a sliding one
// minute window. perMinute <= 0 disables it. Rejected deliveries get 429
// and are redelivered by the provider later.
func HookRateLimit(perMinute int) func(http.Handler) http.Handler {
	if perMinute <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	retryAfter := strconv.Itoa(int(hookWindow.Seconds()))
	return httprate.Limit(
		perMinute,
		hookWindow,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			metrics.IncWebhook("any", "rate_limited")
			logger := log.WithComponentFromContext(r.Context(), "hook")
			logger.Warn().
				Str("event", "hook.rate_limited").
				Str("remote", r.RemoteAddr).
				Msg("webhook delivery rate limited")
			w.Header().Set("Retry-After", retryAfter)
			http.Error(w, "Too many requests", http.StatusTooManyRequests)
		}),
	)
}
