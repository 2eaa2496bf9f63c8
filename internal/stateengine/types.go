package stateengine

import (
	"time"

	"github.com/g960059/aistatus/internal/config"
	"github.com/g960059/aistatus/internal/model"
)

// State is the focus-derived state of the editor window.
type State string

const (
	// StateActive: window focused, no detection.
	StateActive State = "active"
	// StateArmed: window unfocused, edits are classified.
	StateArmed State = "armed"
)

type Session struct {
	Insert    int
	Events    int
	StartedAt time.Time
}

type Config struct {
	SlidingWindow      time.Duration
	Idle               IdlePolicy
	FocusDebounce      time.Duration
	UpdateThrottle     time.Duration
	ActiveFileThrottle time.Duration
}

func DefaultConfig() Config {
	return FromDetection(config.DefaultDetection())
}

func FromDetection(d config.Detection) Config {
	return Config{
		SlidingWindow: d.SlidingWindow,
		Idle: IdlePolicy{
			Base: d.BaseIdleTimeout,
			Tiers: []IdleTier{
				{MinInsert: d.MediumIdleAt, Timeout: d.MediumIdleTimeout},
				{MinInsert: d.LargeIdleAt, Timeout: d.LargeIdleTimeout},
			},
			MinRun: d.MinRun,
		},
		FocusDebounce:      d.FocusDebounce,
		UpdateThrottle:     d.UpdateThrottle,
		ActiveFileThrottle: d.ActiveFileThrottle,
	}
}

// IntentSink receives lifecycle intents. Emit must not block the caller on I/O.
type IntentSink interface {
	Emit(intent model.Intent)
}

type IntentSinkFunc func(model.Intent)

func (f IntentSinkFunc) Emit(intent model.Intent) { f(intent) }

type Timer interface {
	Stop() bool
}

// Clock abstracts time so timers can be driven deterministically in tests.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, fn func()) Timer
}

type realClock struct{}

func RealClock() Clock { return realClock{} }

func (realClock) Now() time.Time { return time.Now().UTC() }

func (realClock) AfterFunc(d time.Duration, fn func()) Timer {
	return time.AfterFunc(d, fn)
}
