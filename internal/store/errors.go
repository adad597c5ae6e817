package store

import "errors"

// ErrNotFound is returned when a requested resource does not exist.
var ErrNotFound = errors.New("not found")

// ErrDuplicateHash is returned when an insert would violate the unique index
// on key_hash. Callers must treat this as a hard failure rather than retry
// silently; it means two secrets collided, which should never happen.
var ErrDuplicateHash = errors.New("key hash already exists")

// ErrDuplicateEmail is returned when an admin insert collides with an
// existing account.
var ErrDuplicateEmail = errors.New("email already registered")
