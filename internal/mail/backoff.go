package mail

import (
	"math"
	"math/rand/v2"
	"time"

	"chesshelper/internal/types"
)

// BackoffParams defines the exponential backoff curve for delivery retries.
type BackoffParams struct {
	// Base is the delay before the first retry.
	Base time.Duration

	// Multiplier is the exponential growth factor between retries.
	Multiplier float64

	// Ceiling caps the deterministic component of the delay.
	Ceiling time.Duration

	// Jitter enables a bounded random perturbation so concurrently failing
	// items do not retry in lockstep.
	Jitter bool
}

// JitterFraction bounds the random perturbation applied to a jittered delay.
// The delay is scaled by a uniform factor in [1-JitterFraction, 1+JitterFraction].
const JitterFraction = 0.2

// PriorityWeight returns the backoff weighting for a priority. High-priority
// items retry sooner than the base curve, low-priority items later.
func PriorityWeight(p types.Priority) float64 {
	switch p {
	case types.PriorityHigh:
		return 0.5
	case types.PriorityLow:
		return 1.5
	default:
		return 1.0
	}
}

// Delay computes the deterministic retry delay for the given attempt:
//
//	min(ceiling, base * multiplier^(attempt-1) * weight)
//
// attempt is 1-indexed: the first retry after the first failure uses
// exponent 0. Attempts below 1 are treated as 1. Pure and side-effect-free;
// jitter is applied separately via WithJitter.
func Delay(attempt int, p BackoffParams, weight float64) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if weight <= 0 {
		weight = 1.0
	}

	d := float64(p.Base) * math.Pow(p.Multiplier, float64(attempt-1)) * weight

	// Guard against overflow from large exponents.
	if d < 0 || d > float64(p.Ceiling) {
		return p.Ceiling
	}
	return time.Duration(d)
}

// WithJitter perturbs a delay by a uniform factor in
// [1-JitterFraction, 1+JitterFraction] drawn from rng. A nil rng returns the
// delay unchanged, which keeps callers deterministic in tests.
func WithJitter(d time.Duration, rng *rand.Rand) time.Duration {
	if rng == nil || d <= 0 {
		return d
	}
	factor := 1 - JitterFraction + 2*JitterFraction*rng.Float64()
	return time.Duration(float64(d) * factor)
}
