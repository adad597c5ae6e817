package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/httprate"
)

// IPRateLimit caps requests per source IP across the whole API. This is a
// coarse abuse guard in front of the per-key quota enforcement, so it uses
// a high ceiling.
func IPRateLimit(requestsPerMinute int) func(http.Handler) http.Handler {
	return httprate.LimitByIP(requestsPerMinute, time.Minute)
}

// LoginRateLimit throttles the admin session endpoint per IP. The login
// route is unauthenticated, so it gets a much tighter ceiling than the
// rest of the API.
func LoginRateLimit(attemptsPerMinute int) func(http.Handler) http.Handler {
	return httprate.Limit(
		attemptsPerMinute,
		time.Minute,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			writeAuthJSON(w, http.StatusTooManyRequests, "", "Too many login attempts, slow down")
		}),
	)
}
