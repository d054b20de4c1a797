package operation

import (
	"errors"
	"fmt"
)

// UnregisteredKindError reports an operation with no handler.
type UnregisteredKindError struct {
	Kind Kind
}

func (e *UnregisteredKindError) Error() string {
	return fmt.Sprintf("no handler registered for operation %q", e.Kind)
}

// ValidationError reports a malformed operation or an incomplete registry.
type ValidationError struct {
	Kind    Kind
	Message string
}

func (e *ValidationError) Error() string {
	if e.Kind != "" {
		return fmt.Sprintf("invalid %s operation: %s", e.Kind, e.Message)
	}
	return e.Message
}

// IsUnregisteredKind reports whether err is or wraps an UnregisteredKindError.
func IsUnregisteredKind(err error) bool {
	var ue *UnregisteredKindError
	return errors.As(err, &ue)
}

// IsValidationError reports whether err is or wraps a ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
