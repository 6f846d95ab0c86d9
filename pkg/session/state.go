package session

import "fmt"

// State is the lifecycle state of a challenge session.
type State string

const (
	// StateIdle means no challenge is selected or deployed.
	StateIdle State = "IDLE"

	// StateDeploying means a deploy is in flight.
	StateDeploying State = "DEPLOYING"

	// StateActive means the challenge environment is up and the player
	// is working on it.
	StateActive State = "ACTIVE"

	// StateValidating means a submitted flag is being checked.
	StateValidating State = "VALIDATING"

	// StateCompleted means the flag passed and XP was awarded.
	StateCompleted State = "COMPLETED"

	// StateFailed means deployment or validation failed unrecoverably.
	StateFailed State = "FAILED"

	// StateCleanedUp means challenge resources were removed.
	StateCleanedUp State = "CLEANED_UP"
)

// Validate checks the state is a recognized value.
func (s State) Validate() error {
	switch s {
	case StateIdle, StateDeploying, StateActive, StateValidating,
		StateCompleted, StateFailed, StateCleanedUp:
		return nil
	default:
		return fmt.Errorf("unrecognized session state: %q", s)
	}
}

// Terminal reports whether the session is finished for the current
// challenge. A terminal session needs a new Select to continue.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCleanedUp
}

// HoldsNamespace reports whether the state owns backend resources that
// must be cleaned up before another challenge can deploy.
func (s State) HoldsNamespace() bool {
	switch s {
	case StateDeploying, StateActive, StateValidating, StateCompleted, StateFailed:
		return true
	default:
		return false
	}
}

// transitions is the allowed state graph. Skip and Quit bypass it: they
// may move to CLEANED_UP from anywhere.
var transitions = map[State][]State{
	StateIdle:       {StateDeploying},
	StateDeploying:  {StateActive, StateFailed},
	StateActive:     {StateValidating},
	StateValidating: {StateCompleted, StateActive, StateFailed},
	StateCompleted:  {},
	StateFailed:     {},
	StateCleanedUp:  {StateDeploying},
}

// canTransition reports whether from→to is in the state graph.
func canTransition(from, to State) bool {
	if to == StateCleanedUp {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
