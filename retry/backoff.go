// Package retry provides exponential backoff with jitter and a generic retry
// helper. The dispatch queue uses [Backoff] to reschedule failed deliveries;
// [Do] wraps connection attempts and admin RPCs.
package retry

import (
	"math"
	"math/rand/v2"
	"time"
)

// Backoff returns the delay for the given attempt (0-indexed):
// BaseDelay * 2^attempt, capped at MaxDelay when MaxDelay > 0, with optional
// jitter of ±Jitter of the delay.
func Backoff(cfg Config, attempt int) time.Duration {
	delay := float64(cfg.BaseDelay) * math.Pow(2, float64(max(attempt, 0)))
	if cfg.MaxDelay > 0 {
		delay = min(delay, float64(cfg.MaxDelay))
	}
	if cfg.Jitter > 0 {
		delay += delay * cfg.Jitter * (rand.Float64()*2 - 1)
	}
	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay)
}
