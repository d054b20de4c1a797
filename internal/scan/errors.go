package scan

import (
	"errors"
	"fmt"
)

// BackendUnavailableError reports a session that could not be opened.
type BackendUnavailableError struct {
	// Ranges is the size of the batch the session was for.
	Ranges int
	Err    error
}

func (e *BackendUnavailableError) Error() string {
	return fmt.Sprintf("backend unavailable: open session for %d ranges: %v", e.Ranges, e.Err)
}

func (e *BackendUnavailableError) Unwrap() error { return e.Err }

// DecodeError reports a raw record that could not be decoded. It is only
// returned in strict mode; otherwise such records are skipped.
type DecodeError struct {
	Key []byte
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode record %x: %v", e.Key, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// IsBackendUnavailable reports whether err is or wraps a BackendUnavailableError.
func IsBackendUnavailable(err error) bool {
	var be *BackendUnavailableError
	return errors.As(err, &be)
}

// IsDecodeError reports whether err is or wraps a DecodeError.
func IsDecodeError(err error) bool {
	var de *DecodeError
	return errors.As(err, &de)
}
