package stateengine_test

import (
	"testing"
	"time"

	"pgregory.net/rapid"

	"github.com/g960059/aistatus/internal/stateengine"
)

func TestDefaultIdleTiers(t *testing.T) {
	p := stateengine.DefaultConfig().Idle
	cases := []struct {
		insert int
		want   time.Duration
	}{
		{0, 15 * time.Second},
		{199, 15 * time.Second},
		{200, 30 * time.Second},
		{599, 30 * time.Second},
		{600, 45 * time.Second},
		{5000, 45 * time.Second},
	}
	for _, tc := range cases {
		if got := p.TimeoutFor(tc.insert); got != tc.want {
			t.Fatalf("TimeoutFor(%d) = %v, want %v", tc.insert, got, tc.want)
		}
	}
}

func TestCustomIdleTiersAreInclusive(t *testing.T) {
	p := stateengine.IdlePolicy{
		Base: 15 * time.Second,
		Tiers: []stateengine.IdleTier{
			{MinInsert: 2000, Timeout: 45 * time.Second},
			{MinInsert: 600, Timeout: 30 * time.Second},
		},
	}
	if got := p.TimeoutFor(599); got != 15*time.Second {
		t.Fatalf("599 should stay on base timeout, got %v", got)
	}
	if got := p.TimeoutFor(600); got != 30*time.Second {
		t.Fatalf("600 should reach first tier, got %v", got)
	}
	if got := p.TimeoutFor(2000); got != 45*time.Second {
		t.Fatalf("2000 should reach top tier regardless of order, got %v", got)
	}
}

func TestRemainingRun(t *testing.T) {
	p := stateengine.IdlePolicy{MinRun: 5 * time.Second}
	start := time.Unix(10, 0)
	if got := p.RemainingRun(start, start.Add(2*time.Second)); got != 3*time.Second {
		t.Fatalf("expected 3s remaining, got %v", got)
	}
	if got := p.RemainingRun(start, start.Add(5*time.Second)); got != 0 {
		t.Fatalf("floor reached should return zero, got %v", got)
	}
	if got := p.RemainingRun(time.Time{}, start); got != 0 {
		t.Fatalf("unknown start should not hold the run, got %v", got)
	}
}

func TestIdleTimeoutMonotonic(t *testing.T) {
	p := stateengine.DefaultConfig().Idle
	rapid.Check(t, func(t *rapid.T) {
		a := rapid.IntRange(0, 10000).Draw(t, "a")
		b := rapid.IntRange(a, 20000).Draw(t, "b")
		if p.TimeoutFor(a) > p.TimeoutFor(b) {
			t.Fatalf("timeout decreased from %d to %d inserts", a, b)
		}
	})
}
