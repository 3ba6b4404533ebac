// Package errs defines the pipeline error taxonomy. Callers distinguish the
// categories with errors.As / errors.Is; only validation and state-corruption
// errors ever surface to API callers as failures.
package errs

import (
	"errors"
	"fmt"
)

// ErrSuppressed marks an anomaly intentionally dropped by the correlation
// cooldown. It is not a processing failure and is never surfaced as an error
// to API callers.
var ErrSuppressed = errors.New("alert suppressed by cooldown")

// ValidationError reports a malformed telemetry event, anomaly, or alert.
// The input is rejected before entering the pipeline and never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation failed: %s", e.Reason)
	}
	return fmt.Sprintf("validation failed: field %q: %s", e.Field, e.Reason)
}

// NewValidation creates a ValidationError for the named field.
func NewValidation(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// ActionFailure reports that a single playbook step could not mutate defense
// state. It is recorded in the action log with status=failed and does not
// abort the remaining playbook.
type ActionFailure struct {
	ActionType string
	Target     string
	Err        error
}

func (e *ActionFailure) Error() string {
	return fmt.Sprintf("action %s on %q failed: %v", e.ActionType, e.Target, e.Err)
}

func (e *ActionFailure) Unwrap() error { return e.Err }

// StateCorruption reports defense maps found in an inconsistent state. It
// should be unreachable given the idempotency contract; if detected it is
// fatal to the single operation that observed it.
type StateCorruption struct {
	Detail string
}

func (e *StateCorruption) Error() string {
	return fmt.Sprintf("defense state corrupted: %s", e.Detail)
}

// IsStateCorruption reports whether err is a StateCorruption.
func IsStateCorruption(err error) bool {
	var sc *StateCorruption
	return errors.As(err, &sc)
}
