package orchestrator

import (
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/swecc-uw/deployctl/internal/core/deployment"
)

// attempt tracks the state of one Deploy call.
type attempt struct {
	id      string
	service string
	state   deployment.State
	started time.Time
	logger  *slog.Logger
}

func newAttemptID() string {
	return uuid.NewString()
}

func newAttempt(id, service string, logger *slog.Logger) *attempt {
	return &attempt{
		id:      id,
		service: service,
		state:   deployment.StateValidating,
		started: time.Now(),
		logger:  logger.With("attempt_id", id, "service", service),
	}
}

// transition moves the attempt to next and logs the change.
func (a *attempt) transition(next deployment.State) {
	if !a.state.CanTransitionTo(next) {
		a.logger.Error("unexpected state transition", "from", a.state, "to", next)
	}
	a.logger.Info("state transition", "from", a.state, "to", next)
	a.state = next
}

// fail records the failure in the current state and moves to failed.
func (a *attempt) fail(kind, err error) error {
	attemptErr := deployment.NewAttemptError(a.service, a.state, kind, err)
	a.logger.Error("deployment failed",
		"state", a.state,
		"cluster_touched", a.state.Mutating(),
		"duration", a.elapsed(),
		"error", err,
	)
	a.transition(deployment.StateFailed)
	return attemptErr
}

func (a *attempt) elapsed() time.Duration {
	return time.Since(a.started).Round(time.Millisecond)
}
