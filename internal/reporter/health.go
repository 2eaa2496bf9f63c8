package reporter

import (
	"time"

	"github.com/g960059/aistatus/internal/model"
)

type HealthPolicy struct {
	DownWindow       time.Duration
	DownFailures     int
	RecoverSuccesses int
}

func DefaultHealthPolicy() HealthPolicy {
	return HealthPolicy{DownWindow: 30 * time.Second, DownFailures: 3, RecoverSuccesses: 1}
}

type HealthState struct {
	Current              model.Connectivity
	ConsecutiveFailures  int
	ConsecutiveSuccesses int
	LastTransitionAt     time.Time
}

// NextHealth folds one call outcome into the health state: ok degrades on the
// first failure and goes down after DownFailures failures inside DownWindow.
func NextHealth(policy HealthPolicy, state HealthState, success bool, now time.Time) HealthState {
	if state.Current == "" {
		state.Current = model.ConnectivityOK
	}
	if state.LastTransitionAt.IsZero() {
		state.LastTransitionAt = now
	}

	if success {
		state.ConsecutiveSuccesses++
		state.ConsecutiveFailures = 0
		if state.Current != model.ConnectivityOK && state.ConsecutiveSuccesses >= policy.RecoverSuccesses {
			state.Current = model.ConnectivityOK
			state.LastTransitionAt = now
		}
		return state
	}

	state.ConsecutiveFailures++
	state.ConsecutiveSuccesses = 0
	switch state.Current {
	case model.ConnectivityOK:
		state.Current = model.ConnectivityDegraded
		state.LastTransitionAt = now
	case model.ConnectivityDegraded:
		if policy.DownWindow > 0 && now.Sub(state.LastTransitionAt) > policy.DownWindow {
			// window expired; restart counting from this failure
			state.ConsecutiveFailures = 1
			state.LastTransitionAt = now
			return state
		}
		if state.ConsecutiveFailures >= policy.DownFailures {
			state.Current = model.ConnectivityDown
			state.LastTransitionAt = now
		}
	case model.ConnectivityDown:
		// stays down until enough successes arrive
	}
	return state
}
