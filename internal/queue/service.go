// Package queue implements the producer-facing queue service: validated
// admission with synchronous rendering, cancellation, operator redelivery,
// and the read surface (list, statistics, attempt history).
package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"chesshelper/internal/mail"
	"chesshelper/internal/types"
)

// ItemStore is the queue persistence boundary consumed by the service.
// Satisfied by *db.QueueRepository.
type ItemStore interface {
	Enqueue(ctx context.Context, item *types.QueueItem) error
	Get(ctx context.Context, id string) (*types.QueueItem, error)
	Cancel(ctx context.Context, id string) error
	Requeue(ctx context.Context, id, policyName string, scheduledAt time.Time) error
	List(ctx context.Context, filter types.ListFilter) ([]*types.QueueItem, error)
	Statistics(ctx context.Context, now time.Time) (types.QueueStatistics, error)
}

// SuppressionChecker is the read-only suppression surface the admission path
// needs. Satisfied by *db.SuppressionRepository.
type SuppressionChecker interface {
	IsSuppressed(ctx context.Context, email string, now time.Time) (bool, error)
}

// AttemptReader exposes per-item attempt history. Satisfied by
// *db.AttemptRepository.
type AttemptReader interface {
	ListForItem(ctx context.Context, queueItemID string) ([]*types.RetryAttempt, error)
}

// Service is the producer-facing queue API. Validation, suppression
// screening, and template rendering all happen synchronously at enqueue so a
// bad request never becomes a stored item.
type Service struct {
	items        ItemStore
	suppressions SuppressionChecker
	attempts     AttemptReader
	renderer     types.Renderer
	validate     *validator.Validate
	clock        types.Clock
	logger       types.Logger

	defaultPolicy string
}

// NewService creates a queue Service. defaultPolicy is applied to requests
// that do not name a policy; it must be a registered policy name.
func NewService(
	items ItemStore,
	suppressions SuppressionChecker,
	attempts AttemptReader,
	renderer types.Renderer,
	clock types.Clock,
	logger types.Logger,
	defaultPolicy string,
) *Service {
	if defaultPolicy == "" {
		defaultPolicy = "default"
	}
	return &Service{
		items:         items,
		suppressions:  suppressions,
		attempts:      attempts,
		renderer:      renderer,
		validate:      validator.New(),
		clock:         clock,
		logger:        logger,
		defaultPolicy: defaultPolicy,
	}
}

// Enqueue admits one email into the queue. The request is validated, the
// recipient screened against the suppression list, and the template rendered
// before anything is written; any of those failing rejects the call.
//
// Defaults: priority low, scheduled_at now, policy from the service default.
func (s *Service) Enqueue(ctx context.Context, req types.EnqueueRequest) (*types.QueueItem, error) {
	if err := s.validate.Struct(req); err != nil {
		var invalid *validator.InvalidValidationError
		if errors.As(err, &invalid) {
			return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "enqueue request not validatable", err)
		}
		return nil, types.NewAppError(
			types.ErrCodeValidationMissingField,
			fmt.Sprintf("invalid enqueue request: %v", err),
			err,
		)
	}

	if !req.TemplateKind.Valid() {
		return nil, types.NewAppError(
			types.ErrCodeValidationInvalidTemplate,
			fmt.Sprintf("unknown template kind %q", req.TemplateKind),
			nil,
		)
	}

	priority := req.Priority
	if priority == 0 {
		priority = types.PriorityLow
	}
	if !priority.Valid() {
		return nil, types.NewAppError(
			types.ErrCodeValidationInvalidPriority,
			fmt.Sprintf("invalid priority %d", priority),
			nil,
		)
	}

	policyName := req.PolicyName
	if policyName == "" {
		policyName = s.defaultPolicy
	}
	if !policyKnown(policyName) {
		return nil, types.NewAppError(
			types.ErrCodeNotFoundPolicy,
			fmt.Sprintf("unknown retry policy %q", policyName),
			nil,
		)
	}

	now := s.clock.Now()

	suppressed, err := s.suppressions.IsSuppressed(ctx, req.RecipientEmail, now)
	if err != nil {
		return nil, err
	}
	if suppressed {
		return nil, types.NewAppError(
			types.ErrCodeRecipientSuppressed,
			"recipient address is on the suppression list",
			nil,
		)
	}

	// Render once at admission. Retries reuse this content verbatim.
	rendered, err := s.renderer.Render(req.TemplateKind, req.TemplateData)
	if err != nil {
		return nil, err
	}

	// The stored budget is always the effective one, so a persisted row's
	// retry_count can never legitimately pass its max_retries: an omitted
	// override resolves to the policy's per-priority budget here.
	maxRetries := mail.PolicyByName(policyName).MaxRetriesFor(priority)
	if req.MaxRetries != nil {
		if *req.MaxRetries < 0 {
			return nil, types.NewAppError(
				types.ErrCodeValidationMissingField,
				"max_retries must not be negative",
				nil,
			)
		}
		if *req.MaxRetries > 0 {
			maxRetries = *req.MaxRetries
		}
	}

	item := &types.QueueItem{
		UserID:         req.UserID,
		RecipientEmail: req.RecipientEmail,
		TemplateKind:   req.TemplateKind,
		TemplateData:   req.TemplateData,
		Priority:       priority,
		Subject:        rendered.Subject,
		BodyHTML:       rendered.BodyHTML,
		BodyText:       rendered.BodyText,
		MaxRetries:     maxRetries,
		PolicyName:     policyName,
		ScheduledAt:    req.ScheduledAt,
	}

	if err := s.items.Enqueue(ctx, item); err != nil {
		return nil, err
	}

	s.logger.Info("email enqueued",
		"item_id", item.ID,
		"user_id", item.UserID,
		"template_kind", string(item.TemplateKind),
		"priority", item.Priority.String(),
		"policy", item.PolicyName,
		"scheduled_at", item.ScheduledAt,
	)
	return item, nil
}

// Get returns a single queue item by ID.
func (s *Service) Get(ctx context.Context, id string) (*types.QueueItem, error) {
	return s.items.Get(ctx, id)
}

// Cancel cancels a pending item. Items in any other status are not
// cancellable; the store reports the conflict.
func (s *Service) Cancel(ctx context.Context, id string) error {
	if err := s.items.Cancel(ctx, id); err != nil {
		return err
	}
	s.logger.Info("queue item cancelled", "item_id", id)
	return nil
}

// RetryFailed returns a failed item to pending with a fresh retry budget,
// optionally under a different policy. Empty policyName keeps the item's
// current policy.
func (s *Service) RetryFailed(ctx context.Context, id, policyName string) (*types.QueueItem, error) {
	if policyName != "" && !policyKnown(policyName) {
		return nil, types.NewAppError(
			types.ErrCodeNotFoundPolicy,
			fmt.Sprintf("unknown retry policy %q", policyName),
			nil,
		)
	}

	item, err := s.items.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if item.Status != types.StatusFailed {
		return nil, types.NewAppError(
			types.ErrCodeConflictTerminalStatus,
			fmt.Sprintf("only failed items can be retried; item is %q", item.Status),
			nil,
		)
	}

	if policyName == "" {
		policyName = item.PolicyName
	}
	if err := s.items.Requeue(ctx, id, policyName, s.clock.Now()); err != nil {
		return nil, err
	}

	s.logger.Info("failed item requeued", "item_id", id, "policy", policyName)
	return s.items.Get(ctx, id)
}

// List returns queue items matching the filter, newest first.
func (s *Service) List(ctx context.Context, filter types.ListFilter) ([]*types.QueueItem, error) {
	if filter.Status != "" {
		switch filter.Status {
		case types.StatusPending, types.StatusProcessing, types.StatusSent, types.StatusFailed, types.StatusCancelled:
		default:
			return nil, types.NewAppError(
				types.ErrCodeValidationMissingField,
				fmt.Sprintf("unknown status filter %q", filter.Status),
				nil,
			)
		}
	}
	return s.items.List(ctx, filter)
}

// Attempts returns the delivery attempt history for an item, oldest first.
// The item is looked up first so a missing ID reports not-found rather than
// an empty history.
func (s *Service) Attempts(ctx context.Context, id string) ([]*types.RetryAttempt, error) {
	if _, err := s.items.Get(ctx, id); err != nil {
		return nil, err
	}
	return s.attempts.ListForItem(ctx, id)
}

// Statistics returns the store's aggregate queue counters.
func (s *Service) Statistics(ctx context.Context) (types.QueueStatistics, error) {
	return s.items.Statistics(ctx, s.clock.Now())
}

// policyKnown reports whether name is a registered retry policy.
func policyKnown(name string) bool {
	return mail.PolicyByName(name).Name == name
}
