package core

import (
	"errors"
	"fmt"
)

// Sentinel error kinds. Callers match with errors.Is so degradation
// decisions never depend on message text or raw status codes.
var (
	// ErrUsage marks malformed or out-of-range parameters. Always raised
	// before any network call and never retried.
	ErrUsage = errors.New("usage error")
	// ErrConflict marks a snapshot token mismatch during a guarded apply.
	ErrConflict = errors.New("snapshot conflict")
	// ErrEndpointUnavailable marks a permission/not-found class response
	// from a remote feature endpoint.
	ErrEndpointUnavailable = errors.New("endpoint unavailable")
	// ErrNetwork marks timeouts, connection failures, and exhausted
	// rate-limit retries.
	ErrNetwork = errors.New("network error")
)

func UsageErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrUsage, fmt.Sprintf(format, args...))
}

func ConflictErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConflict, fmt.Sprintf(format, args...))
}

func IsUsage(err error) bool {
	return errors.Is(err, ErrUsage)
}

func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

// IsEndpointUnavailable reports whether err is the degradable
// feature-unavailable class (as opposed to a transient network failure).
func IsEndpointUnavailable(err error) bool {
	return errors.Is(err, ErrEndpointUnavailable)
}

func IsNetwork(err error) bool {
	return errors.Is(err, ErrNetwork)
}
