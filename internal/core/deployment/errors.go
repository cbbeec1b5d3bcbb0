package deployment

import (
	"errors"
	"fmt"
)

// =============================================================================
// Error Types
// =============================================================================

var (
	// ErrPull is returned when the service image could not be pulled.
	ErrPull = errors.New("image pull failed")

	// ErrCreate is returned when the runtime rejected a unit.
	ErrCreate = errors.New("unit create failed")

	// ErrInspect is returned when the production unit could not be inspected.
	ErrInspect = errors.New("unit inspect failed")

	// ErrConfigFetch is returned when the environment bundle is missing or undecodable.
	ErrConfigFetch = errors.New("environment bundle unavailable")

	// ErrHealthTimeout is returned when a unit did not reach the running state in time.
	ErrHealthTimeout = errors.New("health check timed out")

	// ErrPromote is returned when the staging unit could not take over the stable name.
	ErrPromote = errors.New("promotion failed")

	// ErrRemoval marks a best-effort removal that failed. It is logged, never
	// returned from an attempt.
	ErrRemoval = errors.New("unit removal failed")

	// ErrDeploymentInProgress is returned when another attempt for the same
	// service is already running in this process.
	ErrDeploymentInProgress = errors.New("deployment already in progress")
)

// AttemptError describes why a deployment attempt failed.
type AttemptError struct {
	Service string
	State   State // state the attempt was in when it failed
	Kind    error // one of the sentinel errors, or nil
	Err     error
}

func (e *AttemptError) Error() string {
	if e.Kind != nil && e.Err != nil && !errors.Is(e.Err, e.Kind) {
		return fmt.Sprintf("deploy %s: %s: %v: %v", e.Service, e.State, e.Kind, e.Err)
	}
	return fmt.Sprintf("deploy %s: %s: %v", e.Service, e.State, e.Err)
}

// Unwrap exposes both the kind and the cause to errors.Is / errors.As.
func (e *AttemptError) Unwrap() []error {
	var errs []error
	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// NewAttemptError creates a new AttemptError.
func NewAttemptError(service string, state State, kind, err error) *AttemptError {
	return &AttemptError{
		Service: service,
		State:   state,
		Kind:    kind,
		Err:     err,
	}
}
