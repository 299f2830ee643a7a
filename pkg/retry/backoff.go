package retry

import (
	"math"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Schedule is a capped exponential delay: Base * Multiplier^attempt, never
// more than Max.
type Schedule struct {
	Base       time.Duration
	Max        time.Duration
	Multiplier float64
}

func NewSchedule(base, max time.Duration) Schedule {
	return Schedule{Base: base, Max: max, Multiplier: 2.0}
}

func (s Schedule) Delay(attempt int) time.Duration {
	multiplier := s.Multiplier
	if multiplier <= 0 {
		multiplier = 2.0
	}
	return CalculateBackoffDuration(attempt, s.Base, multiplier, s.Max)
}

// Due reports whether a message that has been delivered attempt times and
// idle for idle has waited out its delay.
func (s Schedule) Due(attempt int, idle time.Duration) bool {
	return idle >= s.Delay(attempt)
}

func CalculateBackoffDuration(attempt int, initialInterval time.Duration, multiplier float64, maxInterval time.Duration) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	duration := float64(initialInterval) * math.Pow(multiplier, float64(attempt))
	if maxInterval > 0 && duration > float64(maxInterval) {
		return maxInterval
	}
	return time.Duration(duration)
}

func exponentialBackoff(policy Policy) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = policy.InitialInterval
	exp.MaxInterval = policy.MaxInterval
	exp.Multiplier = policy.Multiplier
	exp.MaxElapsedTime = policy.MaxElapsedTime
	return exp
}
