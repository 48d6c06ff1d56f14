package mail

import (
	"time"

	"chesshelper/internal/types"
)

// RetryPolicy is a named, immutable retry configuration. Policies are
// selected by name at enqueue or retry time and never mutated at runtime;
// the retry semantics live entirely in this data, not in branching at call
// sites.
type RetryPolicy struct {
	Name string

	// MaxRetries is the retry budget. Per-priority overrides in
	// PriorityMaxRetries replace (not compose with) this value.
	MaxRetries         int
	PriorityMaxRetries map[types.Priority]int

	// Backoff is the standard retry curve; RateLimitBackoff replaces it
	// entirely when the latest failure is classified as rate limiting.
	Backoff          BackoffParams
	RateLimitBackoff BackoffParams

	// NonRetryableKinds lists the failure kinds that end retrying
	// immediately. Every kind not listed — including unknown — is
	// retryable.
	NonRetryableKinds map[types.FailureKind]bool

	// DeadLetterThreshold marks an exhausted item for dead-letter visibility
	// once its retry count reaches this value.
	DeadLetterThreshold int

	// Recipient reputation thresholds: a recipient whose failure history
	// reaches either bound is suppressed regardless of the current failure's
	// classification.
	SuppressionTotalThreshold  int
	SuppressionRecentThreshold int

	// RecentWindow is the lookback for the recent-failure count.
	RecentWindow time.Duration

	// SuppressionTTL bounds non-permanent suppressions created by the
	// high-failure-rate override. Zero means no expiry.
	SuppressionTTL time.Duration
}

// MaxRetriesFor returns the retry budget for a priority, applying the
// per-priority override by replacement when one is configured.
func (p RetryPolicy) MaxRetriesFor(priority types.Priority) int {
	if override, ok := p.PriorityMaxRetries[priority]; ok {
		return override
	}
	return p.MaxRetries
}

// Retryable reports whether a failure kind is retryable under this policy.
func (p RetryPolicy) Retryable(kind types.FailureKind) bool {
	return !p.NonRetryableKinds[kind]
}

// BackoffFor selects the backoff curve for a failure kind: the rate-limit
// bounds for rate-limiting failures, the standard curve otherwise.
func (p RetryPolicy) BackoffFor(kind types.FailureKind) BackoffParams {
	if kind == types.FailureRateLimit {
		return p.RateLimitBackoff
	}
	return p.Backoff
}

// defaultNonRetryable is the shared non-retryable set: failures that either
// indicate recipient-side permanence or will not self-correct with time.
func defaultNonRetryable() map[types.FailureKind]bool {
	return map[types.FailureKind]bool{
		types.FailurePermanent:     true,
		types.FailureInvalidEmail:  true,
		types.FailureBouncedHard:   true,
		types.FailureSpamComplaint: true,
		types.FailureAuthFailure:   true,
	}
}

// Built-in policies. "default" serves the alert templates, "digest" tolerates
// longer delays for non-urgent mail, and "aggressive" is for operator-driven
// redelivery of items that already failed once.
var policies = map[string]RetryPolicy{
	"default": {
		Name:       "default",
		MaxRetries: 5,
		PriorityMaxRetries: map[types.Priority]int{
			types.PriorityHigh: 7,
		},
		Backoff: BackoffParams{
			Base:       30 * time.Second,
			Multiplier: 2.0,
			Ceiling:    30 * time.Minute,
			Jitter:     true,
		},
		RateLimitBackoff: BackoffParams{
			Base:       2 * time.Minute,
			Multiplier: 2.0,
			Ceiling:    2 * time.Hour,
			Jitter:     true,
		},
		NonRetryableKinds:          defaultNonRetryable(),
		DeadLetterThreshold:        5,
		SuppressionTotalThreshold:  10,
		SuppressionRecentThreshold: 5,
		RecentWindow:               24 * time.Hour,
		SuppressionTTL:             30 * 24 * time.Hour,
	},
	"digest": {
		Name:       "digest",
		MaxRetries: 3,
		Backoff: BackoffParams{
			Base:       5 * time.Minute,
			Multiplier: 3.0,
			Ceiling:    6 * time.Hour,
			Jitter:     true,
		},
		RateLimitBackoff: BackoffParams{
			Base:       15 * time.Minute,
			Multiplier: 2.0,
			Ceiling:    12 * time.Hour,
			Jitter:     true,
		},
		NonRetryableKinds:          defaultNonRetryable(),
		DeadLetterThreshold:        3,
		SuppressionTotalThreshold:  10,
		SuppressionRecentThreshold: 5,
		RecentWindow:               24 * time.Hour,
		SuppressionTTL:             30 * 24 * time.Hour,
	},
	"aggressive": {
		Name:       "aggressive",
		MaxRetries: 8,
		Backoff: BackoffParams{
			Base:       10 * time.Second,
			Multiplier: 1.5,
			Ceiling:    5 * time.Minute,
			Jitter:     true,
		},
		RateLimitBackoff: BackoffParams{
			Base:       1 * time.Minute,
			Multiplier: 2.0,
			Ceiling:    30 * time.Minute,
			Jitter:     true,
		},
		NonRetryableKinds:          defaultNonRetryable(),
		DeadLetterThreshold:        8,
		SuppressionTotalThreshold:  10,
		SuppressionRecentThreshold: 5,
		RecentWindow:               24 * time.Hour,
		SuppressionTTL:             30 * 24 * time.Hour,
	},
}

// PolicyByName returns the named retry policy, falling back to "default"
// for unknown names so a stale policy reference on an old queue item can
// never stall processing.
func PolicyByName(name string) RetryPolicy {
	if p, ok := policies[name]; ok {
		return p
	}
	return policies["default"]
}

// PolicyNames returns the registered policy names, for validation and the
// admin surface.
func PolicyNames() []string {
	names := make([]string, 0, len(policies))
	for name := range policies {
		names = append(names, name)
	}
	return names
}
