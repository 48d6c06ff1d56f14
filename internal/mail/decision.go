package mail

import (
	"fmt"
	"math/rand/v2"
	"time"

	"chesshelper/internal/types"
)

// DecisionContext bundles everything the decision engine needs to judge one
// failed delivery attempt.
type DecisionContext struct {
	// RetryCount is the number of retries already consumed before this
	// attempt (0 on the first failure).
	RetryCount int

	// MaxRetries is the item's own budget, captured at enqueue. Zero means
	// "use the policy's budget".
	MaxRetries int

	Priority    types.Priority
	FailureKind types.FailureKind
	History     types.RecipientHistory
	Policy      RetryPolicy
	Now         time.Time
}

// Engine is the retry decision engine. It combines the failure
// classification, the recipient's failure history, and the named retry
// policy into a single verdict: retry later, suppress the recipient, or
// abandon to dead-letter. The engine holds only an RNG for jitter; all
// policy state lives in the DecisionContext.
type Engine struct {
	rng    *rand.Rand
	logger types.Logger
}

// NewEngine creates a decision engine. rng may be nil to disable jitter
// (deterministic mode for tests).
func NewEngine(rng *rand.Rand, logger types.Logger) *Engine {
	return &Engine{rng: rng, logger: logger}
}

// Decide produces the retry verdict for a failed attempt.
//
// Evaluation order:
//  1. Non-retryable failure kind ends retrying; kinds implying recipient
//     permanence (hard bounce, complaint, invalid address) also recommend
//     suppression.
//  2. Exhausted retry budget (per-priority override applies by replacement)
//     ends retrying; past the dead-letter threshold the item is flagged for
//     operator inspection.
//  3. The recipient-reputation override: a recipient whose failure history
//     breaches the policy thresholds is suppressed even when the current
//     failure looks transient. This runs before any retry is emitted, so a
//     suppression recommendation always beats a bare retry.
//  4. Otherwise schedule a retry, using the rate-limit backoff bounds when
//     the failure kind is rate limiting.
func (e *Engine) Decide(ctx DecisionContext) types.RetryDecision {
	policy := ctx.Policy

	// Step 1: non-retryable classification.
	if !policy.Retryable(ctx.FailureKind) {
		decision := types.RetryDecision{
			ShouldRetry: false,
			Reason:      fmt.Sprintf("failure kind %q is not retryable under policy %q", ctx.FailureKind, policy.Name),
		}
		if reason, ok := SuppressionReasonFor(ctx.FailureKind); ok {
			decision.Suppress = true
			decision.SuppressionReason = reason
		}
		return decision
	}

	// Step 2: retry budget exhausted.
	maxRetries := policy.MaxRetriesFor(ctx.Priority)
	if ctx.MaxRetries > 0 {
		maxRetries = ctx.MaxRetries
	}
	if ctx.RetryCount >= maxRetries {
		return types.RetryDecision{
			ShouldRetry: false,
			Reason:      fmt.Sprintf("retry budget exhausted (%d/%d)", ctx.RetryCount, maxRetries),
			DeadLetter:  ctx.RetryCount >= policy.DeadLetterThreshold,
		}
	}

	// Step 3: recipient reputation override. Protects sender reputation even
	// when the individual failure is transient.
	if e.historyBreached(ctx.History, policy) {
		if e.logger != nil {
			e.logger.Warn("recipient failure history breached suppression threshold",
				"total_failures", ctx.History.TotalFailures,
				"recent_failures", ctx.History.RecentFailures,
				"policy", policy.Name,
			)
		}
		return types.RetryDecision{
			ShouldRetry:       false,
			Reason:            "recipient failure rate too high",
			Suppress:          true,
			SuppressionReason: types.SuppressionHighFailureRate,
		}
	}

	// Step 4: schedule the retry.
	params := policy.BackoffFor(ctx.FailureKind)
	attempt := ctx.RetryCount + 1
	delay := Delay(attempt, params, PriorityWeight(ctx.Priority))
	if params.Jitter {
		delay = WithJitter(delay, e.rng)
	}

	return types.RetryDecision{
		ShouldRetry: true,
		NextRetryAt: ctx.Now.Add(delay),
		Reason:      fmt.Sprintf("retry %d/%d after %s (%s)", attempt, maxRetries, delay.Round(time.Second), ctx.FailureKind),
	}
}

// historyBreached reports whether the recipient's accumulated failures
// exceed either suppression threshold. Thresholds of zero disable the check.
func (e *Engine) historyBreached(h types.RecipientHistory, policy RetryPolicy) bool {
	if policy.SuppressionTotalThreshold > 0 && h.TotalFailures >= policy.SuppressionTotalThreshold {
		return true
	}
	if policy.SuppressionRecentThreshold > 0 && h.RecentFailures >= policy.SuppressionRecentThreshold {
		return true
	}
	return false
}
