package service

import (
	"fmt"
	"net/http"

	"github.com/helioscrm/helios/internal/model"
	"github.com/helioscrm/helios/internal/ratelimit"
)

// ErrorKind is the closed set of failure kinds surfaced to callers. The
// strings are part of the API contract and must stay stable.
type ErrorKind string

const (
	KindMalformedSecret   ErrorKind = "malformed_secret"
	KindKeyNotFound       ErrorKind = "key_not_found"
	KindKeyInactive       ErrorKind = "key_inactive"
	KindIPNotAllowed      ErrorKind = "ip_not_allowed"
	KindScopeDenied       ErrorKind = "scope_denied"
	KindRateLimited       ErrorKind = "rate_limited"
	KindOwnershipMismatch ErrorKind = "ownership_mismatch"
	KindNotFound          ErrorKind = "not_found"
	KindInternal          ErrorKind = "internal"
)

// AuthError is a typed authorization or management failure. Detail is safe
// to show to callers: it never contains secrets, hashes, or another
// caller's data.
type AuthError struct {
	Kind   ErrorKind
	Status model.KeyStatus  // set for KindKeyInactive
	Window ratelimit.Window // set for KindRateLimited
	Detail string
}

func (e *AuthError) Error() string {
	switch e.Kind {
	case KindKeyInactive:
		return fmt.Sprintf("%s: key is %s", e.Kind, e.Status)
	case KindRateLimited:
		return fmt.Sprintf("%s: %s window exceeded", e.Kind, e.Window)
	default:
		return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
	}
}

// HTTPStatus maps the error kind to the HTTP status code used by the
// transport layer.
func (e *AuthError) HTTPStatus() int {
	switch e.Kind {
	case KindMalformedSecret, KindKeyNotFound:
		return http.StatusUnauthorized
	case KindKeyInactive, KindIPNotAllowed, KindScopeDenied, KindOwnershipMismatch:
		return http.StatusForbidden
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func errMalformed() *AuthError {
	return &AuthError{Kind: KindMalformedSecret, Detail: "secret does not match the expected format"}
}

func errKeyNotFound() *AuthError {
	return &AuthError{Kind: KindKeyNotFound, Detail: "no key matches the presented secret"}
}

func errInactive(status model.KeyStatus) *AuthError {
	return &AuthError{Kind: KindKeyInactive, Status: status}
}

func errIPNotAllowed() *AuthError {
	return &AuthError{Kind: KindIPNotAllowed, Detail: "caller address is not on the key's allow-list"}
}

func errScopeDenied(scope string) *AuthError {
	return &AuthError{Kind: KindScopeDenied, Detail: fmt.Sprintf("key does not grant scope %q", scope)}
}

func errRateLimited(window ratelimit.Window) *AuthError {
	return &AuthError{Kind: KindRateLimited, Window: window}
}

func errOwnership() *AuthError {
	return &AuthError{Kind: KindOwnershipMismatch, Detail: "key is owned by another principal"}
}

func errNotFound() *AuthError {
	return &AuthError{Kind: KindNotFound, Detail: "no such key"}
}

// errInternal wraps a storage or transport failure without leaking it.
func errInternal() *AuthError {
	return &AuthError{Kind: KindInternal, Detail: "internal error"}
}
