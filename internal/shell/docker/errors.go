package docker

import (
	"errors"
	"fmt"
)

// =============================================================================
// Error Types
// =============================================================================

var (
	// Unit (swarm service) errors
	ErrUnitNotFound        = errors.New("unit not found")
	ErrUnitAlreadyExists   = errors.New("unit already exists")
	ErrUnitCreateFailed    = errors.New("unit create failed")
	ErrUnitUpdateFailed    = errors.New("unit update failed")
	ErrNoNetworkAttachment = errors.New("unit has no network attachment")

	// Image errors
	ErrImageNotFound   = errors.New("image not found")
	ErrImagePullFailed = errors.New("image pull failed")

	// Config store errors
	ErrConfigNotFound = errors.New("config entry not found")

	// Connection errors
	ErrConnectionFailed = errors.New("docker connection failed")
	ErrNotSwarmManager  = errors.New("docker node is not a swarm manager")
)

// DockerError wraps errors with additional context.
type DockerError struct {
	Op      string // Operation that failed
	Entity  string // Entity type (service, task, image, config)
	ID      string // Entity name or ID if applicable
	Message string
	Err     error
}

func (e *DockerError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("%s %s %s: %s", e.Op, e.Entity, e.ID, e.Message)
	}
	if e.Entity != "" {
		return fmt.Sprintf("%s %s: %s", e.Op, e.Entity, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func (e *DockerError) Unwrap() error {
	return e.Err
}

// NewDockerError creates a new DockerError.
func NewDockerError(op, entity, id, message string, err error) *DockerError {
	return &DockerError{
		Op:      op,
		Entity:  entity,
		ID:      id,
		Message: message,
		Err:     err,
	}
}
