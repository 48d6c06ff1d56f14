// Package types defines the shared domain model for the chesshelper email
// delivery queue: queue items and their lifecycle, retry attempts, the
// failure-kind taxonomy, suppression entries, and the small interfaces
// (Logger, Clock, Renderer) the rest of the platform depends on.
package types

import "time"

// Status is the lifecycle state of a QueueItem.
type Status string

const (
	// StatusPending means the item is awaiting delivery (initial state, and
	// the state a retryable failure returns to with an advanced scheduled_at).
	StatusPending Status = "pending"

	// StatusProcessing means a worker has claimed the item and a delivery
	// attempt is in flight. Transient: items stuck here past the processing
	// timeout are reclaimed to pending by the sweep.
	StatusProcessing Status = "processing"

	// StatusSent is terminal: the provider accepted the email.
	StatusSent Status = "sent"

	// StatusFailed is terminal: the item exhausted its retry budget or hit a
	// non-retryable failure. Dead-lettered items carry this status.
	StatusFailed Status = "failed"

	// StatusCancelled is terminal: a producer or operator cancelled the item
	// while it was still pending.
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusSent || s == StatusFailed || s == StatusCancelled
}

// Priority orders queue items for claiming. Lower ordinal claims first.
type Priority int

const (
	PriorityHigh   Priority = 1
	PriorityMedium Priority = 2
	PriorityLow    Priority = 3
)

// Valid reports whether p is one of the three defined priorities.
func (p Priority) Valid() bool {
	return p >= PriorityHigh && p <= PriorityLow
}

func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "high"
	case PriorityMedium:
		return "medium"
	case PriorityLow:
		return "low"
	default:
		return "unknown"
	}
}

// ParsePriority converts a priority name to its ordinal. Returns
// (0, false) for unrecognized names.
func ParsePriority(s string) (Priority, bool) {
	switch s {
	case "high":
		return PriorityHigh, true
	case "medium":
		return PriorityMedium, true
	case "low":
		return PriorityLow, true
	default:
		return 0, false
	}
}

// TemplateKind identifies which email template renders a queue item.
// The set is closed; enqueue rejects unknown kinds.
type TemplateKind string

const (
	// TemplateGameStarted alerts subscribers that a tracked player began a
	// live game on Chess.com.
	TemplateGameStarted TemplateKind = "game_started"

	// TemplateGameEnded alerts subscribers that a tracked player's live game
	// finished, including the result.
	TemplateGameEnded TemplateKind = "game_ended"

	// TemplateDailyDigest summarizes a day of tracked-player activity.
	TemplateDailyDigest TemplateKind = "daily_digest"

	// TemplateWelcome confirms a new subscription.
	TemplateWelcome TemplateKind = "welcome"
)

// Valid reports whether k is a known template kind.
func (k TemplateKind) Valid() bool {
	switch k {
	case TemplateGameStarted, TemplateGameEnded, TemplateDailyDigest, TemplateWelcome:
		return true
	}
	return false
}

// QueueItem is one email awaiting or having completed delivery. Content is
// rendered once at enqueue time and never re-rendered on retry.
type QueueItem struct {
	ID             string         `json:"id"`
	UserID         string         `json:"user_id"`
	RecipientEmail string         `json:"recipient_email"`
	TemplateKind   TemplateKind   `json:"template_kind"`
	TemplateData   map[string]any `json:"template_data,omitempty"`
	Priority       Priority       `json:"priority"`

	// Rendered content, produced by the templating collaborator at enqueue.
	Subject  string `json:"subject"`
	BodyHTML string `json:"body_html"`
	BodyText string `json:"body_text"`

	Status     Status `json:"status"`
	RetryCount int    `json:"retry_count"`
	MaxRetries int    `json:"max_retries"`
	PolicyName string `json:"policy_name"`

	ScheduledAt    time.Time `json:"scheduled_at"`
	FirstAttemptAt time.Time `json:"first_attempt_at,omitempty"`
	LastAttemptAt  time.Time `json:"last_attempt_at,omitempty"`
	SentAt         time.Time `json:"sent_at,omitempty"`

	LastErrorMessage string `json:"last_error_message,omitempty"`
	LastErrorCode    string `json:"last_error_code,omitempty"`

	// ProviderMessageID is the transport-assigned identifier on success.
	ProviderMessageID string `json:"provider_message_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// FailureKind classifies why a delivery attempt failed. Closed enumeration;
// the classifier maps every transport outcome to exactly one kind.
type FailureKind string

const (
	FailureTemporary          FailureKind = "temporary"
	FailurePermanent          FailureKind = "permanent"
	FailureRateLimit          FailureKind = "rate_limit"
	FailureInvalidEmail       FailureKind = "invalid_email"
	FailureBouncedHard        FailureKind = "bounced_hard"
	FailureBouncedSoft        FailureKind = "bounced_soft"
	FailureSpamComplaint      FailureKind = "spam_complaint"
	FailureNetworkError       FailureKind = "network_error"
	FailureServiceUnavailable FailureKind = "service_unavailable"
	FailureAuthFailure        FailureKind = "auth_failure"
	FailureQuotaExceeded      FailureKind = "quota_exceeded"
	FailureUnknown            FailureKind = "unknown"
)

// TransportResult is the normalized outcome of one transport call, the input
// to the failure classifier. StatusCode 0 means the request never produced
// an HTTP response (network-level failure).
type TransportResult struct {
	StatusCode   int    `json:"status_code"`
	ProviderCode string `json:"provider_code,omitempty"`
	Message      string `json:"message,omitempty"`
}

// RetryAttempt is the append-only audit record of one delivery attempt.
// Attempts reference their item by ID only; the item never holds attempts.
type RetryAttempt struct {
	ID             string      `json:"id"`
	QueueItemID    string      `json:"queue_item_id"`
	RecipientEmail string      `json:"recipient_email"`
	AttemptNumber  int         `json:"attempt_number"`
	AttemptedAt    time.Time   `json:"attempted_at"`
	FailureKind    FailureKind `json:"failure_kind,omitempty"`
	ErrorDetail    string      `json:"error_detail,omitempty"`
	RetryScheduled bool        `json:"retry_scheduled"`
	NextRetryAt    time.Time   `json:"next_retry_at,omitempty"`
	PolicyName     string      `json:"policy_name"`
}

// RecipientHistory aggregates a recipient's failed attempts, the reputation
// signal consumed by the retry decision engine.
type RecipientHistory struct {
	TotalFailures  int `json:"total_failures"`
	RecentFailures int `json:"recent_failures"`
}

// SuppressionReason enumerates why a recipient address was suppressed.
type SuppressionReason string

const (
	SuppressionHardBounce      SuppressionReason = "hard_bounce"
	SuppressionComplaint       SuppressionReason = "spam_complaint"
	SuppressionInvalidEmail    SuppressionReason = "invalid_email"
	SuppressionUnsubscribe     SuppressionReason = "unsubscribe"
	SuppressionHighFailureRate SuppressionReason = "high_failure_rate"
	SuppressionManual          SuppressionReason = "manual"
)

// SuppressionSource indicates where the suppression signal originated.
type SuppressionSource string

const (
	SourceRetryEngine     SuppressionSource = "retry_engine"
	SourceProviderWebhook SuppressionSource = "provider_webhook"
	SourceUnsubscribe     SuppressionSource = "unsubscribe"
	SourceAdmin           SuppressionSource = "admin"
)

// SuppressionEntry bars a recipient address from delivery. Keyed by address;
// removable only by explicit administrative action.
type SuppressionEntry struct {
	Email        string            `json:"email"`
	Reason       SuppressionReason `json:"reason"`
	Source       SuppressionSource `json:"source"`
	Permanent    bool              `json:"permanent"`
	ExpiresAt    time.Time         `json:"expires_at,omitempty"`
	FailureCount int               `json:"failure_count"`
	CreatedAt    time.Time         `json:"created_at"`
}

// ActiveAt reports whether the suppression is in force at the given time.
// Permanent entries never expire; others expire once ExpiresAt passes.
func (e SuppressionEntry) ActiveAt(now time.Time) bool {
	if e.Permanent || e.ExpiresAt.IsZero() {
		return true
	}
	return now.Before(e.ExpiresAt)
}

// RetryDecision is the verdict of the retry decision engine for one failed
// attempt. Suppression recommendations take priority over retry.
type RetryDecision struct {
	ShouldRetry bool      `json:"should_retry"`
	NextRetryAt time.Time `json:"next_retry_at,omitempty"`
	Reason      string    `json:"reason"`

	Suppress          bool              `json:"suppress"`
	SuppressionReason SuppressionReason `json:"suppression_reason,omitempty"`

	// DeadLetter marks the item for terminal failed status with operator
	// visibility (retry budget exhausted past the dead-letter threshold).
	DeadLetter bool `json:"dead_letter"`
}

// QueueStatistics are the store's aggregate counters, the replacement for
// any in-process shared counters.
type QueueStatistics struct {
	TotalPending    int64 `json:"total_pending"`
	TotalProcessing int64 `json:"total_processing"`
	TotalSent       int64 `json:"total_sent"`
	TotalFailed     int64 `json:"total_failed"`
	TotalCancelled  int64 `json:"total_cancelled"`

	// DueNow counts pending items with scheduled_at <= now.
	DueNow int64 `json:"due_now"`

	// OldestPendingAt is the scheduled_at of the oldest pending item
	// (zero when the queue is empty).
	OldestPendingAt time.Time `json:"oldest_pending_at,omitempty"`

	// AvgDeliverySeconds is the mean time from creation to sent_at over
	// recently sent items.
	AvgDeliverySeconds float64 `json:"avg_delivery_seconds"`
}

// ItemResult records one item's outcome within a batch run.
type ItemResult struct {
	ID          string      `json:"id"`
	Status      Status      `json:"status"`
	FailureKind FailureKind `json:"failure_kind,omitempty"`
	Error       string      `json:"error,omitempty"`
	NextRetryAt time.Time   `json:"next_retry_at,omitempty"`
}

// BatchResult aggregates one batch processor run.
type BatchResult struct {
	Processed  int          `json:"emails_processed"`
	Sent       int          `json:"emails_sent"`
	Failed     int          `json:"emails_failed"`
	Suppressed int          `json:"emails_suppressed"`
	DryRun     bool         `json:"dry_run,omitempty"`
	Results    []ItemResult `json:"results,omitempty"`
}

// HealthStatus is the health monitor's report over queue aggregates.
type HealthStatus struct {
	Healthy              bool      `json:"is_healthy"`
	QueueSize            int64     `json:"queue_size"`
	ErrorRate            float64   `json:"error_rate"`
	AvgDeliverySeconds   float64   `json:"average_wait_seconds"`
	OldestItemAgeSeconds float64   `json:"oldest_item_age_seconds"`
	Issues               []string  `json:"issues"`
	CheckedAt            time.Time `json:"checked_at"`
}

// SenderIdentity is the From address and display name for outbound mail.
type SenderIdentity struct {
	Name    string `json:"name"`
	Address string `json:"address"`
}

// SendInput carries pre-rendered email content to the transport collaborator.
type SendInput struct {
	To          string         `json:"to"`
	From        SenderIdentity `json:"from"`
	Subject     string         `json:"subject"`
	BodyHTML    string         `json:"body_html"`
	BodyText    string         `json:"body_text"`
	ReferenceID string         `json:"reference_id,omitempty"`
}

// RenderedEmail is the templating collaborator's output.
type RenderedEmail struct {
	Subject  string `json:"subject"`
	BodyHTML string `json:"body_html"`
	BodyText string `json:"body_text"`
}

// EnqueueRequest is the producer-facing input to the queue service.
type EnqueueRequest struct {
	UserID         string         `json:"user_id" validate:"required"`
	RecipientEmail string         `json:"recipient_email" validate:"required,email"`
	TemplateKind   TemplateKind   `json:"template_kind" validate:"required"`
	TemplateData   map[string]any `json:"template_data,omitempty"`

	// Priority defaults to low when zero.
	Priority Priority `json:"priority,omitempty"`

	// ScheduledAt defaults to now when zero.
	ScheduledAt time.Time `json:"scheduled_at,omitempty"`

	// MaxRetries overrides the policy's per-priority budget when positive.
	// Omitted or zero, the item stores the policy's resolved budget.
	MaxRetries *int `json:"max_retries,omitempty"`

	// PolicyName selects a named retry policy; empty means "default".
	PolicyName string `json:"policy_name,omitempty"`
}

// ListFilter selects queue items for the admin list/inspect surface.
type ListFilter struct {
	Status       Status       `json:"status,omitempty"`
	Priority     Priority     `json:"priority,omitempty"`
	TemplateKind TemplateKind `json:"template_kind,omitempty"`
	UserID       string       `json:"user_id,omitempty"`
	Limit        int          `json:"limit,omitempty"`
}
