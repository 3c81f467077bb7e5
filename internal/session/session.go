// Package session owns the single shared storefront session for a batch:
// lazy establishment, health tracking, invalidation and teardown.
package session

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Health is the session slot's lifecycle state.
type Health string

const (
	Unestablished Health = "unestablished"
	Healthy       Health = "healthy"
	Invalid       Health = "invalid"
)

// ErrUnavailable is returned by Acquire when no usable session can be
// established. It is fatal to the whole job.
var ErrUnavailable = errors.New("session unavailable")

// AuthError reports a login failure during establishment. Establishment
// is not retried for auth errors: bad credentials do not heal.
type AuthError struct {
	Reason string
	Err    error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("authentication failed: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("authentication failed: %s", e.Reason)
}

func (e *AuthError) Unwrap() error { return e.Err }

// IsAuthError reports whether err is an authentication failure.
func IsAuthError(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}

// Session is the opaque shared handle reused across all items in one
// batch. Callers get it only through Manager.Acquire and must not retain
// it past the stage call it was acquired for.
type Session struct {
	ID            string
	Client        *http.Client
	Authenticated bool
	Headless      bool
	EstablishedAt time.Time
}
