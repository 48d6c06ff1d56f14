package db

import (
	"context"
	"time"

	"chesshelper/internal/types"
)

// AttemptRepository provides data access for the retry_attempts audit log.
// Attempts are append-only; the recipient email is denormalized onto each
// row so reputation queries survive queue item purges.
type AttemptRepository struct {
	db DBTX
}

// NewAttemptRepository creates an AttemptRepository backed by the given
// database connection (pool or transaction).
func NewAttemptRepository(db DBTX) *AttemptRepository {
	return &AttemptRepository{db: db}
}

// Record appends one delivery attempt. A successful attempt carries an empty
// FailureKind, stored as NULL so the reputation index skips it.
func (r *AttemptRepository) Record(ctx context.Context, a *types.RetryAttempt) error {
	row := r.db.QueryRow(ctx,
		`INSERT INTO retry_attempts
		 (queue_item_id, recipient_email, attempt_number, attempted_at,
		  failure_kind, error_detail, retry_scheduled, next_retry_at, policy_name)
		 VALUES ($1, $2, $3, COALESCE($4, NOW()), $5, $6, $7, $8, $9)
		 RETURNING id, attempted_at`,
		a.QueueItemID,
		a.RecipientEmail,
		a.AttemptNumber,
		nilIfZeroTime(a.AttemptedAt),
		nilIfEmpty(string(a.FailureKind)),
		nilIfEmpty(a.ErrorDetail),
		a.RetryScheduled,
		nilIfZeroTime(a.NextRetryAt),
		a.PolicyName,
	)
	if err := row.Scan(&a.ID, &a.AttemptedAt); err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to record attempt", err)
	}
	return nil
}

// ListForItem returns every attempt for a queue item in attempt order.
func (r *AttemptRepository) ListForItem(ctx context.Context, queueItemID string) ([]*types.RetryAttempt, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, queue_item_id, recipient_email, attempt_number, attempted_at,
		        failure_kind, error_detail, retry_scheduled, next_retry_at, policy_name
		 FROM retry_attempts
		 WHERE queue_item_id = $1
		 ORDER BY attempt_number`,
		queueItemID,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list attempts", err)
	}
	defer rows.Close()

	var attempts []*types.RetryAttempt
	for rows.Next() {
		var (
			a           types.RetryAttempt
			failureKind *string
			errorDetail *string
			nextRetryAt *time.Time
		)
		err := rows.Scan(
			&a.ID,
			&a.QueueItemID,
			&a.RecipientEmail,
			&a.AttemptNumber,
			&a.AttemptedAt,
			&failureKind,
			&errorDetail,
			&a.RetryScheduled,
			&nextRetryAt,
			&a.PolicyName,
		)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan attempt row", err)
		}
		if failureKind != nil {
			a.FailureKind = types.FailureKind(*failureKind)
		}
		if errorDetail != nil {
			a.ErrorDetail = *errorDetail
		}
		if nextRetryAt != nil {
			a.NextRetryAt = *nextRetryAt
		}
		attempts = append(attempts, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating attempt rows", err)
	}
	return attempts, nil
}

// RecipientHistory aggregates a recipient's failed attempts: the all-time
// total and the count within the recent window. Input to the decision
// engine's reputation override.
func (r *AttemptRepository) RecipientHistory(ctx context.Context, email string, recentSince time.Time) (types.RecipientHistory, error) {
	var h types.RecipientHistory
	row := r.db.QueryRow(ctx,
		`SELECT COUNT(*), COUNT(*) FILTER (WHERE attempted_at >= $2)
		 FROM retry_attempts
		 WHERE recipient_email = $1 AND failure_kind IS NOT NULL`,
		email, recentSince,
	)
	if err := row.Scan(&h.TotalFailures, &h.RecentFailures); err != nil {
		return types.RecipientHistory{}, types.NewAppError(types.ErrCodeInternalDB, "failed to load recipient history", err)
	}
	return h, nil
}

// FailureRate returns the fraction of attempts since the given time that
// failed, for the health monitor. Returns 0 when there were no attempts.
func (r *AttemptRepository) FailureRate(ctx context.Context, since time.Time) (float64, error) {
	var total, failed int64
	row := r.db.QueryRow(ctx,
		`SELECT COUNT(*), COUNT(*) FILTER (WHERE failure_kind IS NOT NULL)
		 FROM retry_attempts WHERE attempted_at >= $1`,
		since,
	)
	if err := row.Scan(&total, &failed); err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to compute failure rate", err)
	}
	if total == 0 {
		return 0, nil
	}
	return float64(failed) / float64(total), nil
}
