package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/helioscrm/helios/internal/model"
	"github.com/helioscrm/helios/internal/service"
)

type contextKeyAuth string

const (
	// AdminKey is the context key for the authenticated admin principal.
	AdminKey contextKeyAuth = "admin_principal"
	// APIKeyKey is the context key for the authorized partner key.
	APIKeyKey contextKeyAuth = "authorized_key"
)

// AdminAuth returns a middleware that validates the admin session JWT from
// the Authorization header and attaches the AdminPrincipal to the request
// context. Key-management routes sit behind this.
func AdminAuth(sessions *service.SessionService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				writeAuthJSON(w, http.StatusUnauthorized, "", "Authentication required. Provide a Bearer session token.")
				return
			}
			principal, err := sessions.ValidateJWT(r.Context(), token)
			if err != nil {
				writeAuthJSON(w, http.StatusUnauthorized, "", "Invalid or expired session token")
				return
			}
			ctx := context.WithValue(r.Context(), AdminKey, principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireScope returns a middleware guarding a partner route with a scope.
// It authorizes the presented secret (advancing the key's rate-limit
// counters atomically) and, once the response has been written, hands a
// usage log entry to the background recorder. Rate-limited responses carry
// the violated window in X-RateLimit-Window.
func RequireScope(auth *service.AuthService, scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			meta := &service.RequestMeta{
				Endpoint:    r.URL.Path,
				Method:      r.Method,
				SourceIP:    clientIP(r),
				UserAgent:   r.UserAgent(),
				RequestSize: r.ContentLength,
			}

			key, err := auth.Authorize(r.Context(), bearerToken(r), scope, meta)
			if err != nil {
				writeAuthFailure(w, err)
				return
			}

			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			ctx := context.WithValue(r.Context(), APIKeyKey, key)
			next.ServeHTTP(ww, r.WithContext(ctx))

			auth.RecordUsage(model.UsageLogEntry{
				APIKeyID:       key.APIKeyID,
				Endpoint:       meta.Endpoint,
				Method:         meta.Method,
				StatusCode:     ww.status,
				ResponseTimeMs: time.Since(start).Milliseconds(),
				RequestSize:    meta.RequestSize,
				ResponseSize:   int64(ww.bytes),
				IPAddress:      meta.SourceIP,
				UserAgent:      meta.UserAgent,
			})
		})
	}
}

// GetAdmin extracts the authenticated admin from the context, or nil.
func GetAdmin(ctx context.Context) *service.AdminPrincipal {
	if p, ok := ctx.Value(AdminKey).(*service.AdminPrincipal); ok {
		return p
	}
	return nil
}

// GetAuthorizedKey extracts the authorized partner key from the context,
// or nil on admin-authenticated requests.
func GetAuthorizedKey(ctx context.Context) *model.AuthorizedKey {
	if k, ok := ctx.Value(APIKeyKey).(*model.AuthorizedKey); ok {
		return k
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return ""
}

// clientIP strips the port from RemoteAddr; the RealIP middleware has
// already rewritten it from X-Forwarded-For when present, in which case
// the value is a bare address with no port at all.
func clientIP(r *http.Request) string {
	addr := r.RemoteAddr
	if net.ParseIP(addr) != nil {
		return addr
	}
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}

// writeAuthFailure renders an authorization error in the standard envelope.
// Unexpected error types collapse to 500 so nothing internal leaks.
func writeAuthFailure(w http.ResponseWriter, err error) {
	var authErr *service.AuthError
	if !errors.As(err, &authErr) {
		writeAuthJSON(w, http.StatusInternalServerError, "", "Internal error")
		return
	}
	if authErr.Kind == service.KindRateLimited {
		w.Header().Set("X-RateLimit-Window", string(authErr.Window))
		w.Header().Set("Retry-After", "60")
	}
	writeAuthJSON(w, authErr.HTTPStatus(), string(authErr.Kind), authErr.Error())
}

func writeAuthJSON(w http.ResponseWriter, status int, kind, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(model.ErrorResponse{
		Error: model.ErrorDetail{
			Code:    status,
			Kind:    kind,
			Message: message,
		},
	})
}
