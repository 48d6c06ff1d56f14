package db

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"chesshelper/internal/types"
)

// QueueRepository provides data access for the queue_items table. The
// claim path uses FOR UPDATE SKIP LOCKED so concurrent workers never hand
// the same item to two senders.
type QueueRepository struct {
	db DBTX
}

// NewQueueRepository creates a QueueRepository backed by the given database
// connection (pool or transaction).
func NewQueueRepository(db DBTX) *QueueRepository {
	return &QueueRepository{db: db}
}

// queueItemColumns is the canonical SELECT column list for queue_items,
// matched by scanItem.
const queueItemColumns = `id, user_id, recipient_email, template_kind, template_data,
	priority, subject, body_html, body_text, status, retry_count, max_retries,
	policy_name, scheduled_at, first_attempt_at, last_attempt_at, sent_at,
	last_error_message, last_error_code, provider_message_id, created_at, updated_at`

// Enqueue inserts a new queue item in pending status. The database assigns
// the ID and timestamps, which are written back into the item.
func (r *QueueRepository) Enqueue(ctx context.Context, item *types.QueueItem) error {
	templateData, err := json.Marshal(item.TemplateData)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "failed to encode template data", err)
	}

	row := r.db.QueryRow(ctx,
		`INSERT INTO queue_items
		 (user_id, recipient_email, template_kind, template_data, priority,
		  subject, body_html, body_text, max_retries, policy_name, scheduled_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, COALESCE($11, NOW()))
		 RETURNING id, status, scheduled_at, created_at, updated_at`,
		item.UserID,
		item.RecipientEmail,
		string(item.TemplateKind),
		templateData,
		int(item.Priority),
		item.Subject,
		item.BodyHTML,
		item.BodyText,
		item.MaxRetries,
		item.PolicyName,
		nilIfZeroTime(item.ScheduledAt),
	)
	if err := row.Scan(&item.ID, &item.Status, &item.ScheduledAt, &item.CreatedAt, &item.UpdatedAt); err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to enqueue item", err)
	}
	return nil
}

// Get retrieves a single queue item by ID.
func (r *QueueRepository) Get(ctx context.Context, id string) (*types.QueueItem, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+queueItemColumns+` FROM queue_items WHERE id = $1`, id)

	item, err := scanItem(row)
	if err != nil {
		if isNoRows(err) {
			return nil, types.NewAppError(types.ErrCodeNotFoundQueueItem, "queue item not found", err)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to get queue item", err)
	}
	return item, nil
}

// ClaimDue atomically claims up to limit due pending items, moving them to
// processing and stamping the attempt times. Items are claimed in priority
// order, oldest schedule first. The inner SELECT uses FOR UPDATE SKIP LOCKED
// so concurrent claimers pass over rows another transaction already holds
// instead of blocking on them.
//
// A non-nil priority restricts the claim to that priority band.
func (r *QueueRepository) ClaimDue(ctx context.Context, priority *types.Priority, limit int, now time.Time) ([]*types.QueueItem, error) {
	if limit <= 0 {
		limit = 50
	}

	priorityClause := ""
	args := []any{now, limit}
	if priority != nil {
		priorityClause = "AND priority = $3"
		args = append(args, int(*priority))
	}

	// RETURNING qualifies the first column because both queue_items and the
	// "due" subquery expose an id column; the rest are unambiguous.
	query := fmt.Sprintf(
		`UPDATE queue_items SET
			status = 'processing',
			first_attempt_at = COALESCE(first_attempt_at, $1),
			last_attempt_at = $1,
			updated_at = NOW()
		 FROM (
			SELECT id FROM queue_items
			WHERE status = 'pending' AND scheduled_at <= $1 %s
			ORDER BY priority, scheduled_at
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		 ) due
		 WHERE queue_items.id = due.id
		 RETURNING queue_items.`+queueItemColumns,
		priorityClause,
	)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to claim due items", err)
	}
	defer rows.Close()

	var items []*types.QueueItem
	for rows.Next() {
		item, scanErr := scanItem(rows)
		if scanErr != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan claimed item", scanErr)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating claimed items", err)
	}

	// Claimed items sort by priority then schedule, but the outer UPDATE
	// does not guarantee RETURNING order, so restore it.
	sortItemsForDelivery(items)
	return items, nil
}

// CountDue counts the pending items a claim at now would pick up, capped at
// limit and optionally restricted to one priority band. Serves dry-run
// processing; takes no locks and mutates nothing.
func (r *QueueRepository) CountDue(ctx context.Context, priority *types.Priority, limit int, now time.Time) (int, error) {
	if limit <= 0 {
		limit = 50
	}

	priorityClause := ""
	args := []any{now, limit}
	if priority != nil {
		priorityClause = "AND priority = $3"
		args = append(args, int(*priority))
	}

	query := fmt.Sprintf(
		`SELECT COUNT(*) FROM (
			SELECT id FROM queue_items
			WHERE status = 'pending' AND scheduled_at <= $1 %s
			LIMIT $2
		 ) due`,
		priorityClause,
	)

	var count int
	if err := r.db.QueryRow(ctx, query, args...).Scan(&count); err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to count due items", err)
	}
	return count, nil
}

// CountTerminalBefore counts terminal items last touched before cutoff,
// i.e. what a retention purge would delete. Serves cleanup dry-run.
func (r *QueueRepository) CountTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	var count int64
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM queue_items
		 WHERE status IN ('sent', 'failed', 'cancelled') AND updated_at < $1`,
		cutoff,
	).Scan(&count)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to count terminal items", err)
	}
	return count, nil
}

// MarkSent transitions a processing item to sent. A repeat call on an item
// already in sent is an idempotent no-op; any other status (swept back to
// pending mid-flight, cancelled) surfaces a conflict so the caller can log
// the anomaly.
func (r *QueueRepository) MarkSent(ctx context.Context, id, providerMessageID string, sentAt time.Time) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE queue_items SET
			status = 'sent',
			sent_at = $1,
			provider_message_id = $2,
			last_error_message = NULL,
			last_error_code = NULL,
			updated_at = NOW()
		 WHERE id = $3 AND status = 'processing'`,
		sentAt, nilIfEmpty(providerMessageID), id,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to mark item sent", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var status string
	err = r.db.QueryRow(ctx, `SELECT status FROM queue_items WHERE id = $1`, id).Scan(&status)
	if err != nil {
		if isNoRows(err) {
			return types.NewAppError(types.ErrCodeNotFoundQueueItem, "queue item not found", nil)
		}
		return types.NewAppError(types.ErrCodeInternalDB, "failed to inspect item status", err)
	}
	if status == string(types.StatusSent) {
		return nil
	}
	return types.NewAppError(types.ErrCodeConflictTerminalStatus,
		fmt.Sprintf("item in status %q cannot be marked sent", status), nil)
}

// MarkFailed transitions a processing item to terminal failed, recording the
// final failure classification and error detail.
func (r *QueueRepository) MarkFailed(ctx context.Context, id string, kind types.FailureKind, errMessage string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE queue_items SET
			status = 'failed',
			last_error_message = $1,
			last_error_code = $2,
			updated_at = NOW()
		 WHERE id = $3 AND status = 'processing'`,
		nilIfEmpty(errMessage), string(kind), id,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to mark item failed", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeConflictTerminalStatus, "item is not in processing status", nil)
	}
	return nil
}

// Reschedule returns a processing item to pending with an advanced schedule
// and an incremented retry count, recording the failure that caused it.
func (r *QueueRepository) Reschedule(ctx context.Context, id string, nextRetryAt time.Time, kind types.FailureKind, errMessage string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE queue_items SET
			status = 'pending',
			retry_count = retry_count + 1,
			scheduled_at = $1,
			last_error_message = $2,
			last_error_code = $3,
			updated_at = NOW()
		 WHERE id = $4 AND status = 'processing'`,
		nextRetryAt, nilIfEmpty(errMessage), string(kind), id,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to reschedule item", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeConflictTerminalStatus, "item is not in processing status", nil)
	}
	return nil
}

// Cancel transitions a pending item to cancelled. Items in any other status
// cannot be cancelled: in-flight delivery is not interruptible and terminal
// states are immutable.
func (r *QueueRepository) Cancel(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE queue_items SET status = 'cancelled', updated_at = NOW()
		 WHERE id = $1 AND status = 'pending'`,
		id,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to cancel item", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	// Distinguish "not found" from "wrong status" for the caller.
	var status string
	err = r.db.QueryRow(ctx, `SELECT status FROM queue_items WHERE id = $1`, id).Scan(&status)
	if err != nil {
		if isNoRows(err) {
			return types.NewAppError(types.ErrCodeNotFoundQueueItem, "queue item not found", nil)
		}
		return types.NewAppError(types.ErrCodeInternalDB, "failed to inspect item status", err)
	}
	return types.NewAppError(types.ErrCodeConflictNotCancellable,
		fmt.Sprintf("item in status %q cannot be cancelled", status), nil)
}

// Requeue resets a terminal failed item to pending for operator-driven
// redelivery: the retry count restarts, the error fields clear, and the
// chosen policy takes over.
func (r *QueueRepository) Requeue(ctx context.Context, id, policyName string, scheduledAt time.Time) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE queue_items SET
			status = 'pending',
			retry_count = 0,
			policy_name = $1,
			scheduled_at = $2,
			last_error_message = NULL,
			last_error_code = NULL,
			updated_at = NOW()
		 WHERE id = $3 AND status = 'failed'`,
		policyName, scheduledAt, id,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to requeue item", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeConflictTerminalStatus, "only failed items can be requeued", nil)
	}
	return nil
}

// SweepStale reclaims processing items whose last attempt started before the
// cutoff, returning them to pending for another claim. Recovers items
// orphaned by a worker crash mid-delivery.
func (r *QueueRepository) SweepStale(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE queue_items SET status = 'pending', updated_at = NOW()
		 WHERE status = 'processing' AND last_attempt_at < $1`,
		cutoff,
	)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to sweep stale items", err)
	}
	return tag.RowsAffected(), nil
}

// Statistics returns the aggregate queue counters in a single scan.
func (r *QueueRepository) Statistics(ctx context.Context, now time.Time) (types.QueueStatistics, error) {
	var stats types.QueueStatistics
	var oldestPending *time.Time
	var avgDelivery *float64

	row := r.db.QueryRow(ctx,
		`SELECT
			COUNT(*) FILTER (WHERE status = 'pending'),
			COUNT(*) FILTER (WHERE status = 'processing'),
			COUNT(*) FILTER (WHERE status = 'sent'),
			COUNT(*) FILTER (WHERE status = 'failed'),
			COUNT(*) FILTER (WHERE status = 'cancelled'),
			COUNT(*) FILTER (WHERE status = 'pending' AND scheduled_at <= $1),
			MIN(scheduled_at) FILTER (WHERE status = 'pending'),
			AVG(EXTRACT(EPOCH FROM (sent_at - created_at))) FILTER (WHERE status = 'sent')
		 FROM queue_items`,
		now,
	)
	err := row.Scan(
		&stats.TotalPending,
		&stats.TotalProcessing,
		&stats.TotalSent,
		&stats.TotalFailed,
		&stats.TotalCancelled,
		&stats.DueNow,
		&oldestPending,
		&avgDelivery,
	)
	if err != nil {
		return types.QueueStatistics{}, types.NewAppError(types.ErrCodeInternalDB, "failed to compute queue statistics", err)
	}

	if oldestPending != nil {
		stats.OldestPendingAt = *oldestPending
	}
	if avgDelivery != nil {
		stats.AvgDeliverySeconds = *avgDelivery
	}
	return stats, nil
}

// List retrieves queue items matching the filter, newest first.
func (r *QueueRepository) List(ctx context.Context, filter types.ListFilter) ([]*types.QueueItem, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}

	var conditions []string
	var args []any
	argIdx := 1

	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argIdx))
		args = append(args, string(filter.Status))
		argIdx++
	}
	if filter.Priority != 0 {
		conditions = append(conditions, fmt.Sprintf("priority = $%d", argIdx))
		args = append(args, int(filter.Priority))
		argIdx++
	}
	if filter.TemplateKind != "" {
		conditions = append(conditions, fmt.Sprintf("template_kind = $%d", argIdx))
		args = append(args, string(filter.TemplateKind))
		argIdx++
	}
	if filter.UserID != "" {
		conditions = append(conditions, fmt.Sprintf("user_id = $%d", argIdx))
		args = append(args, filter.UserID)
		argIdx++
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = "WHERE " + strings.Join(conditions, " AND ")
	}

	query := fmt.Sprintf(
		`SELECT `+queueItemColumns+` FROM queue_items %s ORDER BY created_at DESC LIMIT $%d`,
		whereClause, argIdx,
	)
	args = append(args, limit)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list queue items", err)
	}
	defer rows.Close()

	var items []*types.QueueItem
	for rows.Next() {
		item, scanErr := scanItem(rows)
		if scanErr != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan queue item", scanErr)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating queue items", err)
	}
	return items, nil
}

// DeleteTerminalBefore deletes up to limit terminal items last updated
// before the cutoff and returns the deleted rows so the caller can archive
// them. Associated retry_attempts cascade.
func (r *QueueRepository) DeleteTerminalBefore(ctx context.Context, cutoff time.Time, limit int) ([]*types.QueueItem, error) {
	if limit <= 0 {
		limit = 1000
	}

	rows, err := r.db.Query(ctx,
		`DELETE FROM queue_items
		 WHERE id IN (
			SELECT id FROM queue_items
			WHERE status IN ('sent', 'failed', 'cancelled') AND updated_at < $1
			ORDER BY updated_at
			LIMIT $2
		 )
		 RETURNING `+queueItemColumns,
		cutoff, limit,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to purge terminal items", err)
	}
	defer rows.Close()

	var items []*types.QueueItem
	for rows.Next() {
		item, scanErr := scanItem(rows)
		if scanErr != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan purged item", scanErr)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating purged items", err)
	}
	return items, nil
}

// rowScanner is satisfied by both pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanItem scans one queue_items row in queueItemColumns order. Nullable
// columns map to the struct's zero values.
func scanItem(row rowScanner) (*types.QueueItem, error) {
	var (
		item           types.QueueItem
		templateKind   string
		templateData   []byte
		priority       int
		status         string
		firstAttemptAt *time.Time
		lastAttemptAt  *time.Time
		sentAt         *time.Time
		lastErrMessage *string
		lastErrCode    *string
		providerMsgID  *string
	)

	err := row.Scan(
		&item.ID,
		&item.UserID,
		&item.RecipientEmail,
		&templateKind,
		&templateData,
		&priority,
		&item.Subject,
		&item.BodyHTML,
		&item.BodyText,
		&status,
		&item.RetryCount,
		&item.MaxRetries,
		&item.PolicyName,
		&item.ScheduledAt,
		&firstAttemptAt,
		&lastAttemptAt,
		&sentAt,
		&lastErrMessage,
		&lastErrCode,
		&providerMsgID,
		&item.CreatedAt,
		&item.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	item.TemplateKind = types.TemplateKind(templateKind)
	item.Priority = types.Priority(priority)
	item.Status = types.Status(status)
	if len(templateData) > 0 {
		_ = json.Unmarshal(templateData, &item.TemplateData)
	}
	if firstAttemptAt != nil {
		item.FirstAttemptAt = *firstAttemptAt
	}
	if lastAttemptAt != nil {
		item.LastAttemptAt = *lastAttemptAt
	}
	if sentAt != nil {
		item.SentAt = *sentAt
	}
	if lastErrMessage != nil {
		item.LastErrorMessage = *lastErrMessage
	}
	if lastErrCode != nil {
		item.LastErrorCode = *lastErrCode
	}
	if providerMsgID != nil {
		item.ProviderMessageID = *providerMsgID
	}
	return &item, nil
}

// sortItemsForDelivery orders claimed items by priority then scheduled_at,
// matching the claim query's intent.
func sortItemsForDelivery(items []*types.QueueItem) {
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Priority != items[j].Priority {
			return items[i].Priority < items[j].Priority
		}
		return items[i].ScheduledAt.Before(items[j].ScheduledAt)
	})
}
