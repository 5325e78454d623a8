package transport

import "time"

// Strategy computes the delay before a reconnection attempt. Attempt numbers
// start at 1. A false second return means no automatic retry should happen.
type Strategy interface {
	// Name returns the strategy identifier.
	Name() string
	// Delay returns the wait before the given attempt.
	Delay(attempt int) (time.Duration, bool)
}

// Immediate retries without delay.
type Immediate struct{}

func (Immediate) Name() string { return "immediate" }

func (Immediate) Delay(int) (time.Duration, bool) { return 0, true }

// Exponential multiplies the base delay for every attempt after the first.
type Exponential struct {
	Base       time.Duration
	Multiplier float64
}

func (Exponential) Name() string { return "exponential" }

func (s Exponential) Delay(attempt int) (time.Duration, bool) {
	delay := s.Base
	for i := 1; i < attempt; i++ {
		delay = time.Duration(float64(delay) * s.Multiplier)
	}
	return delay, true
}

// Linear grows the delay by a fixed step per attempt.
type Linear struct {
	Step time.Duration
}

func (Linear) Name() string { return "linear" }

func (s Linear) Delay(attempt int) (time.Duration, bool) {
	return time.Duration(attempt) * s.Step, true
}

// Manual disables automatic retry; the caller must call Connect again.
type Manual struct{}

func (Manual) Name() string { return "manual" }

func (Manual) Delay(int) (time.Duration, bool) { return 0, false }
