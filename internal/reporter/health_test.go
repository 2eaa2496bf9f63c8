package reporter

import (
	"testing"
	"time"

	"github.com/g960059/aistatus/internal/model"
)

func TestHealthTransitionPolicy(t *testing.T) {
	policy := DefaultHealthPolicy()
	policy.RecoverSuccesses = 2
	now := time.Now().UTC()
	state := HealthState{Current: model.ConnectivityOK, LastTransitionAt: now}

	state = NextHealth(policy, state, false, now.Add(1*time.Second))
	if state.Current != model.ConnectivityDegraded {
		t.Fatalf("ok->degraded expected, got %s", state.Current)
	}
	state = NextHealth(policy, state, false, now.Add(2*time.Second))
	state = NextHealth(policy, state, false, now.Add(3*time.Second))
	if state.Current != model.ConnectivityDown {
		t.Fatalf("degraded->down expected after failures, got %s", state.Current)
	}
	state = NextHealth(policy, state, true, now.Add(4*time.Second))
	if state.Current != model.ConnectivityDown {
		t.Fatalf("still down until enough successes, got %s", state.Current)
	}
	state = NextHealth(policy, state, true, now.Add(5*time.Second))
	if state.Current != model.ConnectivityOK {
		t.Fatalf("down->ok expected on recovery threshold, got %s", state.Current)
	}
}

func TestDownTransitionRequiresFailureWindow(t *testing.T) {
	policy := DefaultHealthPolicy()
	policy.DownWindow = 2 * time.Second
	now := time.Now().UTC()
	state := NextHealth(policy, HealthState{}, false, now)
	state = NextHealth(policy, state, false, now.Add(5*time.Second))
	if state.Current != model.ConnectivityDegraded || state.ConsecutiveFailures != 1 {
		t.Fatalf("expired window should restart counting, got %+v", state)
	}
	state = NextHealth(policy, state, false, now.Add(6*time.Second))
	state = NextHealth(policy, state, false, now.Add(7*time.Second))
	if state.Current != model.ConnectivityDown {
		t.Fatalf("expected down within the new window, got %+v", state)
	}
}
