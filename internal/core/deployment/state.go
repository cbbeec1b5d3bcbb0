package deployment

// =============================================================================
// Attempt States
// =============================================================================

// State is a step of a deployment attempt.
type State string

const (
	StateValidating               State = "validating"
	StatePulling                  State = "pulling"
	StatePreparingEnv             State = "preparing_env"
	StateCreatingStaging          State = "creating_staging"
	StateAwaitingStagingHealth    State = "awaiting_staging_health"
	StatePromoting                State = "promoting"
	StateRemovingOldProduction    State = "removing_old_production"
	StateCreatingProduction       State = "creating_production"
	StateCleaningUp               State = "cleaning_up"
	StateAwaitingProductionHealth State = "awaiting_production_health"
	StateDone                     State = "done"
	StateFailed                   State = "failed"
)

// validTransitions lists the states reachable from each state. StateFailed is
// reachable from every non-terminal state and is not listed.
var validTransitions = map[State][]State{
	StateValidating:               {StatePulling},
	StatePulling:                  {StatePreparingEnv},
	StatePreparingEnv:             {StateCreatingStaging, StateCreatingProduction},
	StateCreatingStaging:          {StateAwaitingStagingHealth},
	StateAwaitingStagingHealth:    {StatePromoting},
	StatePromoting:                {StateRemovingOldProduction},
	StateRemovingOldProduction:    {StateCreatingProduction},
	StateCreatingProduction:       {StateCleaningUp},
	StateCleaningUp:               {StateAwaitingProductionHealth},
	StateAwaitingProductionHealth: {StateDone},
}

// IsTerminal reports whether no further transition is possible.
func (s State) IsTerminal() bool {
	return s == StateDone || s == StateFailed
}

// CanTransitionTo reports whether next may follow s.
func (s State) CanTransitionTo(next State) bool {
	if s.IsTerminal() {
		return false
	}
	if next == StateFailed {
		return true
	}
	for _, allowed := range validTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Mutating reports whether the runtime may have been changed by the time an
// attempt reaches s.
func (s State) Mutating() bool {
	switch s {
	case StateValidating, StatePulling, StatePreparingEnv:
		return false
	default:
		return true
	}
}
