package federation

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNoMembers is returned when a call targets no member graphs.
var ErrNoMembers = errors.New("federation: no member graphs to dispatch to")

// Phase is where in a federated call a member failed.
type Phase string

const (
	PhaseDispatch Phase = "dispatch"
	PhaseIterate  Phase = "iterate"
	PhaseClose    Phase = "close"
)

// MemberFailure reports one member's failure during a federated call.
type MemberFailure struct {
	MemberID string
	Phase    Phase
	Err      error
}

func (e *MemberFailure) Error() string {
	return fmt.Sprintf("member %s failed during %s: %v", e.MemberID, e.Phase, e.Err)
}

func (e *MemberFailure) Unwrap() error { return e.Err }

// PartialFailureError collects the member failures a skip-policy call
// tolerated.
type PartialFailureError struct {
	Failures []*MemberFailure
}

func (e *PartialFailureError) Error() string {
	ids := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		ids[i] = f.MemberID
	}
	return fmt.Sprintf("%d member(s) failed: %s", len(e.Failures), strings.Join(ids, ", "))
}

// Unwrap exposes every member failure to errors.Is and errors.As.
func (e *PartialFailureError) Unwrap() []error {
	errs := make([]error, len(e.Failures))
	for i, f := range e.Failures {
		errs[i] = f
	}
	return errs
}

// ConfigurationError reports a federated call that names members the
// store does not have, or a store set up inconsistently.
type ConfigurationError struct {
	Message string
}

func (e *ConfigurationError) Error() string {
	return "federation configuration: " + e.Message
}

// IsMemberFailure reports whether err is or wraps a MemberFailure.
func IsMemberFailure(err error) bool {
	var mf *MemberFailure
	return errors.As(err, &mf)
}

// IsConfigurationError reports whether err is or wraps a ConfigurationError.
func IsConfigurationError(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}

// partialFailure returns nil when there are no failures.
func partialFailure(failures []*MemberFailure) error {
	if len(failures) == 0 {
		return nil
	}
	return &PartialFailureError{Failures: failures}
}
