package sandbox

import (
	"errors"
	"fmt"
)

// ErrSessionNotFound is returned by Provider.Reconnect when the provider
// no longer knows the session id, typically because its lifetime elapsed.
var ErrSessionNotFound = errors.New("sandbox session not found")

// TransientError marks a provider failure worth retrying (network blips,
// capacity). Transient creates are retried with backoff.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return fmt.Sprintf("transient provider error: %v", e.Err) }
func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError marks a provider failure that retrying cannot fix
// (auth, quota, bad template). Fails immediately.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return fmt.Sprintf("permanent provider error: %v", e.Err) }
func (e *PermanentError) Unwrap() error { return e.Err }

// Transient reports whether err is (or wraps) a TransientError.
func Transient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}
