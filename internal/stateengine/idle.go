package stateengine

import "time"

type IdleTier struct {
	MinInsert int
	Timeout   time.Duration
}

// IdlePolicy maps the cumulative session size to an idle-completion deadline.
type IdlePolicy struct {
	Base   time.Duration
	Tiers  []IdleTier
	MinRun time.Duration
}

// TimeoutFor returns the timeout of the highest tier reached; thresholds are inclusive.
func (p IdlePolicy) TimeoutFor(sessionInsert int) time.Duration {
	timeout := p.Base
	reached := -1
	for _, tier := range p.Tiers {
		if sessionInsert >= tier.MinInsert && tier.MinInsert > reached {
			timeout = tier.Timeout
			reached = tier.MinInsert
		}
	}
	return timeout
}

// RemainingRun is how long a session started at startedAt must still run
// before an idle firing may complete it. Zero means the floor has elapsed.
func (p IdlePolicy) RemainingRun(startedAt, now time.Time) time.Duration {
	if p.MinRun <= 0 || startedAt.IsZero() {
		return 0
	}
	left := p.MinRun - now.Sub(startedAt)
	if left < 0 {
		return 0
	}
	return left
}
