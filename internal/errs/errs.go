// Package errs defines the error kinds shared across the session and
// reliability layer. Handlers and callers match on these sentinels with
// errors.Is; the wrapped detail is for logs only and never reaches end users.
package errs

import "errors"

var (
	// ErrAuth marks bad client credentials or an unrecoverable
	// authentication exchange with a provider.
	ErrAuth = errors.New("authentication failed")

	// ErrNotAuthorized means there is no usable token for the user and a
	// new login is required.
	ErrNotAuthorized = errors.New("not authorized, login required")

	// ErrTransient marks a 5xx or timeout that was retried locally and is
	// surfaced only after the retry budget is exhausted.
	ErrTransient = errors.New("service temporarily unavailable")

	// ErrRateLimit marks a 429 response; never retried locally.
	ErrRateLimit = errors.New("rate limited")

	// ErrProvider marks any other provider-side 4xx failure.
	ErrProvider = errors.New("provider error")

	// ErrPersistence marks a storage failure. Storage internals stay in the
	// wrapped detail and must not be shown to users.
	ErrPersistence = errors.New("persistence failure")

	// ErrInvalidState marks a session operation invoked in the wrong state.
	ErrInvalidState = errors.New("invalid session state")
)
