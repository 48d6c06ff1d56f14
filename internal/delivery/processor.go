// Package delivery implements the batch processor: claim due items, screen
// recipients against the suppression list, dispatch to the transport with
// bounded concurrency, and apply the retry decision engine's verdict to each
// outcome.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"chesshelper/internal/external"
	"chesshelper/internal/mail"
	"chesshelper/internal/observability"
	"chesshelper/internal/types"
)

// ItemStore is the queue mutation surface the processor needs. Satisfied by
// *db.QueueRepository.
type ItemStore interface {
	ClaimDue(ctx context.Context, priority *types.Priority, limit int, now time.Time) ([]*types.QueueItem, error)
	CountDue(ctx context.Context, priority *types.Priority, limit int, now time.Time) (int, error)
	MarkSent(ctx context.Context, id, providerMessageID string, sentAt time.Time) error
	MarkFailed(ctx context.Context, id string, kind types.FailureKind, errMessage string) error
	Reschedule(ctx context.Context, id string, nextRetryAt time.Time, kind types.FailureKind, errMessage string) error
}

// SuppressionStore combines the read check before dispatch with the writes
// the decision engine recommends. Satisfied by *db.SuppressionRepository.
type SuppressionStore interface {
	IsSuppressed(ctx context.Context, email string, now time.Time) (bool, error)
	Upsert(ctx context.Context, e *types.SuppressionEntry) error
}

// AttemptStore records the per-attempt audit log and serves the recipient
// reputation signal. Satisfied by *db.AttemptRepository.
type AttemptStore interface {
	Record(ctx context.Context, a *types.RetryAttempt) error
	RecipientHistory(ctx context.Context, email string, recentSince time.Time) (types.RecipientHistory, error)
}

// Processor drives one batch of deliveries per ProcessQueue call. It holds
// no mutable state of its own; the queue store is the only shared resource,
// so concurrent processors on separate workers coordinate purely through the
// store's atomic claim.
type Processor struct {
	items        ItemStore
	suppressions SuppressionStore
	attempts     AttemptStore
	engine       *mail.Engine
	provider     external.EmailProvider
	clock        types.Clock
	logger       types.Logger
	metrics      *observability.Metrics

	from        types.SenderIdentity
	concurrency int64
	sendTimeout time.Duration
}

// ProcessorConfig bundles the processor's tunables.
type ProcessorConfig struct {
	From        types.SenderIdentity
	Concurrency int
	SendTimeout time.Duration
}

// NewProcessor creates a batch processor. metrics may be nil.
func NewProcessor(
	items ItemStore,
	suppressions SuppressionStore,
	attempts AttemptStore,
	engine *mail.Engine,
	provider external.EmailProvider,
	clock types.Clock,
	logger types.Logger,
	metrics *observability.Metrics,
	cfg ProcessorConfig,
) *Processor {
	concurrency := int64(cfg.Concurrency)
	if concurrency < 1 {
		concurrency = 1
	}
	sendTimeout := cfg.SendTimeout
	if sendTimeout <= 0 {
		sendTimeout = 30 * time.Second
	}
	return &Processor{
		items:        items,
		suppressions: suppressions,
		attempts:     attempts,
		engine:       engine,
		provider:     provider,
		clock:        clock,
		logger:       logger,
		metrics:      metrics,
		from:         cfg.From,
		concurrency:  concurrency,
		sendTimeout:  sendTimeout,
	}
}

// ProcessQueue runs one batch: claim up to maxBatch due items (optionally
// restricted to one priority band), dispatch them concurrently up to the
// configured limit, and apply the per-item verdicts. A store error on the
// claim aborts the run; per-item failures never do.
//
// In dry-run mode nothing is claimed or mutated; the result reports how many
// items a real run would have picked up.
func (p *Processor) ProcessQueue(ctx context.Context, priority *types.Priority, maxBatch int, dryRun bool) (*types.BatchResult, error) {
	now := p.clock.Now()

	if dryRun {
		count, err := p.items.CountDue(ctx, priority, maxBatch, now)
		if err != nil {
			return nil, err
		}
		return &types.BatchResult{Processed: count, DryRun: true}, nil
	}

	started := time.Now()
	items, err := p.items.ClaimDue(ctx, priority, maxBatch, now)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return &types.BatchResult{}, nil
	}

	sem := semaphore.NewWeighted(p.concurrency)
	var wg sync.WaitGroup
	var mu sync.Mutex
	result := &types.BatchResult{Results: make([]types.ItemResult, 0, len(items))}

	for _, item := range items {
		if err := sem.Acquire(ctx, 1); err != nil {
			// Context cancelled mid-batch. Unclaimed dispatches stay in
			// processing and the sweep reclaims them.
			p.logger.Warn("batch interrupted before dispatch", "remaining", len(items)-result.Processed)
			break
		}
		wg.Add(1)
		go func(item *types.QueueItem) {
			defer wg.Done()
			defer sem.Release(1)

			outcome := p.processItem(ctx, item)

			mu.Lock()
			defer mu.Unlock()
			result.Processed++
			result.Results = append(result.Results, outcome.result)
			switch {
			case outcome.suppressed:
				result.Suppressed++
				result.Failed++
			case outcome.result.Status == types.StatusSent:
				result.Sent++
			case outcome.result.Status == types.StatusFailed:
				result.Failed++
			}
		}(item)
	}
	wg.Wait()

	p.metrics.ObserveBatchDuration(time.Since(started).Seconds())
	p.logger.Info("batch complete",
		"processed", result.Processed,
		"sent", result.Sent,
		"failed", result.Failed,
		"suppressed", result.Suppressed,
	)
	return result, nil
}

// itemOutcome pairs an ItemResult with the flags the batch aggregator needs.
type itemOutcome struct {
	result     types.ItemResult
	suppressed bool
}

// processItem handles one claimed item end to end. A panic anywhere inside
// is confined to this item: the item is marked failed and the batch
// continues.
func (p *Processor) processItem(ctx context.Context, item *types.QueueItem) (outcome itemOutcome) {
	defer func() {
		if r := recover(); r != nil {
			detail := fmt.Sprintf("panic during delivery: %v", r)
			p.logger.Error("recovered panic while processing item", "item_id", item.ID, "panic", fmt.Sprint(r))
			if err := p.items.MarkFailed(context.WithoutCancel(ctx), item.ID, types.FailureUnknown, detail); err != nil {
				p.logger.Error("failed to mark panicked item", "item_id", item.ID, "error", err)
			}
			outcome = itemOutcome{result: types.ItemResult{
				ID:          item.ID,
				Status:      types.StatusFailed,
				FailureKind: types.FailureUnknown,
				Error:       detail,
			}}
		}
	}()

	now := p.clock.Now()

	suppressed, err := p.suppressions.IsSuppressed(ctx, item.RecipientEmail, now)
	if err != nil {
		// Store unreachable for this item: leave it in processing for the
		// sweep rather than consuming an attempt.
		p.logger.Error("suppression check failed", "item_id", item.ID, "error", err)
		return itemOutcome{result: types.ItemResult{ID: item.ID, Status: types.StatusProcessing, Error: err.Error()}}
	}
	if suppressed {
		return p.skipSuppressed(ctx, item)
	}

	sendCtx, cancel := context.WithTimeout(ctx, p.sendTimeout)
	sendStarted := time.Now()
	messageID, sendErr := p.provider.Send(sendCtx, types.SendInput{
		To:          item.RecipientEmail,
		From:        p.from,
		Subject:     item.Subject,
		BodyHTML:    item.BodyHTML,
		BodyText:    item.BodyText,
		ReferenceID: item.ID,
	})
	cancel()
	p.metrics.ObserveSendLatency(time.Since(sendStarted).Seconds())

	if sendErr == nil {
		return p.completeSent(ctx, item, messageID)
	}
	return p.completeFailed(ctx, item, sendErr, now)
}

// skipSuppressed terminates a claimed item whose recipient is on the
// suppression list without calling the transport.
func (p *Processor) skipSuppressed(ctx context.Context, item *types.QueueItem) itemOutcome {
	const detail = "recipient suppressed"
	if err := p.items.MarkFailed(ctx, item.ID, types.FailurePermanent, detail); err != nil {
		p.logger.Error("failed to mark suppressed item", "item_id", item.ID, "error", err)
	}
	p.metrics.RecordOutcome("suppressed")
	p.logger.Info("skipped suppressed recipient",
		"item_id", item.ID,
		"recipient", types.RedactEmail(item.RecipientEmail),
	)
	return itemOutcome{
		suppressed: true,
		result: types.ItemResult{
			ID:          item.ID,
			Status:      types.StatusFailed,
			FailureKind: types.FailurePermanent,
			Error:       detail,
		},
	}
}

// completeSent finalizes a successful delivery.
func (p *Processor) completeSent(ctx context.Context, item *types.QueueItem, messageID string) itemOutcome {
	sentAt := p.clock.Now()
	if err := p.items.MarkSent(ctx, item.ID, messageID, sentAt); err != nil {
		p.logger.Error("failed to mark item sent", "item_id", item.ID, "error", err)
		return itemOutcome{result: types.ItemResult{ID: item.ID, Status: types.StatusProcessing, Error: err.Error()}}
	}

	p.recordAttempt(ctx, &types.RetryAttempt{
		QueueItemID:    item.ID,
		RecipientEmail: item.RecipientEmail,
		AttemptNumber:  item.RetryCount + 1,
		PolicyName:     item.PolicyName,
	})

	p.metrics.RecordOutcome("sent")
	p.logger.Info("email sent",
		"item_id", item.ID,
		"recipient", types.RedactEmail(item.RecipientEmail),
		"provider_message_id", messageID,
		"attempt", item.RetryCount+1,
	)
	return itemOutcome{result: types.ItemResult{ID: item.ID, Status: types.StatusSent}}
}

// completeFailed classifies the transport failure, consults the decision
// engine, records the attempt, and applies the verdict.
func (p *Processor) completeFailed(ctx context.Context, item *types.QueueItem, sendErr error, now time.Time) itemOutcome {
	transportResult := resultFromSendError(sendErr)
	kind := mail.Classify(transportResult)
	policy := mail.PolicyByName(item.PolicyName)

	history, err := p.attempts.RecipientHistory(ctx, item.RecipientEmail, now.Add(-policy.RecentWindow))
	if err != nil {
		// Reputation is an enhancement signal, not a gate. Decide without it.
		p.logger.Warn("recipient history unavailable", "item_id", item.ID, "error", err)
		history = types.RecipientHistory{}
	}

	decision := p.engine.Decide(mail.DecisionContext{
		RetryCount:  item.RetryCount,
		MaxRetries:  item.MaxRetries,
		Priority:    item.Priority,
		FailureKind: kind,
		History:     history,
		Policy:      policy,
		Now:         now,
	})

	p.recordAttempt(ctx, &types.RetryAttempt{
		QueueItemID:    item.ID,
		RecipientEmail: item.RecipientEmail,
		AttemptNumber:  item.RetryCount + 1,
		FailureKind:    kind,
		ErrorDetail:    transportResult.Message,
		RetryScheduled: decision.ShouldRetry,
		NextRetryAt:    decision.NextRetryAt,
		PolicyName:     policy.Name,
	})

	if decision.Suppress {
		p.applySuppression(ctx, item, decision, history, policy, now)
	}

	if decision.ShouldRetry {
		if err := p.items.Reschedule(ctx, item.ID, decision.NextRetryAt, kind, transportResult.Message); err != nil {
			p.logger.Error("failed to reschedule item", "item_id", item.ID, "error", err)
			return itemOutcome{result: types.ItemResult{ID: item.ID, Status: types.StatusProcessing, Error: err.Error()}}
		}
		p.metrics.RecordOutcome("retried")
		p.logger.Info("delivery failed, retry scheduled",
			"item_id", item.ID,
			"failure_kind", string(kind),
			"next_retry_at", decision.NextRetryAt,
			"reason", decision.Reason,
		)
		return itemOutcome{result: types.ItemResult{
			ID:          item.ID,
			Status:      types.StatusPending,
			FailureKind: kind,
			Error:       transportResult.Message,
			NextRetryAt: decision.NextRetryAt,
		}}
	}

	if err := p.items.MarkFailed(ctx, item.ID, kind, transportResult.Message); err != nil {
		p.logger.Error("failed to mark item failed", "item_id", item.ID, "error", err)
		return itemOutcome{result: types.ItemResult{ID: item.ID, Status: types.StatusProcessing, Error: err.Error()}}
	}
	p.metrics.RecordOutcome("failed")
	if decision.DeadLetter {
		p.logger.Error("item dead-lettered",
			"item_id", item.ID,
			"failure_kind", string(kind),
			"retry_count", item.RetryCount,
			"reason", decision.Reason,
		)
	} else {
		p.logger.Warn("delivery abandoned",
			"item_id", item.ID,
			"failure_kind", string(kind),
			"reason", decision.Reason,
		)
	}
	return itemOutcome{result: types.ItemResult{
		ID:          item.ID,
		Status:      types.StatusFailed,
		FailureKind: kind,
		Error:       transportResult.Message,
	}}
}

// applySuppression writes the suppression entry the decision engine
// recommended. Recipient-permanence reasons are permanent entries; the
// high-failure-rate override carries the policy's TTL.
func (p *Processor) applySuppression(
	ctx context.Context,
	item *types.QueueItem,
	decision types.RetryDecision,
	history types.RecipientHistory,
	policy mail.RetryPolicy,
	now time.Time,
) {
	entry := &types.SuppressionEntry{
		Email:        item.RecipientEmail,
		Reason:       decision.SuppressionReason,
		Source:       types.SourceRetryEngine,
		Permanent:    decision.SuppressionReason != types.SuppressionHighFailureRate,
		FailureCount: history.TotalFailures + 1,
	}
	if !entry.Permanent && policy.SuppressionTTL > 0 {
		entry.ExpiresAt = now.Add(policy.SuppressionTTL)
	}

	if err := p.suppressions.Upsert(ctx, entry); err != nil {
		p.logger.Error("failed to write suppression entry",
			"recipient", types.RedactEmail(item.RecipientEmail),
			"reason", string(entry.Reason),
			"error", err,
		)
		return
	}
	p.logger.Warn("recipient suppressed",
		"recipient", types.RedactEmail(item.RecipientEmail),
		"reason", string(entry.Reason),
		"permanent", entry.Permanent,
	)
}

// recordAttempt appends to the audit log. A logging failure here must not
// change the delivery outcome.
func (p *Processor) recordAttempt(ctx context.Context, attempt *types.RetryAttempt) {
	if err := p.attempts.Record(ctx, attempt); err != nil {
		p.logger.Error("failed to record delivery attempt",
			"item_id", attempt.QueueItemID,
			"attempt", attempt.AttemptNumber,
			"error", err,
		)
	}
}

// resultFromSendError normalizes a transport error for the classifier. A
// deadline expiry without an HTTP response is a network-level failure.
func resultFromSendError(err error) types.TransportResult {
	var transportErr *types.TransportError
	if errors.As(err, &transportErr) {
		return transportErr.Result()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return types.TransportResult{StatusCode: 0, Message: "send timed out: " + err.Error()}
	}
	return types.TransportResult{StatusCode: 0, Message: err.Error()}
}
