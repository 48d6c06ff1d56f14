package db

import (
	"context"
	"time"

	"chesshelper/internal/types"
)

// SuppressionRepository provides data access for the suppressions table,
// keyed by recipient address.
type SuppressionRepository struct {
	db DBTX
}

// NewSuppressionRepository creates a SuppressionRepository backed by the
// given database connection (pool or transaction).
func NewSuppressionRepository(db DBTX) *SuppressionRepository {
	return &SuppressionRepository{db: db}
}

// Upsert inserts or refreshes a suppression entry. On conflict the stronger
// state wins: a permanent suppression is never downgraded to an expiring
// one, and the failure count accumulates.
func (r *SuppressionRepository) Upsert(ctx context.Context, e *types.SuppressionEntry) error {
	row := r.db.QueryRow(ctx,
		`INSERT INTO suppressions
		 (email, reason, source, permanent, expires_at, failure_count)
		 VALUES ($1, $2, $3, $4, $5, GREATEST($6, 1))
		 ON CONFLICT (email) DO UPDATE SET
			reason = CASE WHEN suppressions.permanent THEN suppressions.reason ELSE EXCLUDED.reason END,
			source = CASE WHEN suppressions.permanent THEN suppressions.source ELSE EXCLUDED.source END,
			permanent = suppressions.permanent OR EXCLUDED.permanent,
			expires_at = CASE WHEN suppressions.permanent OR EXCLUDED.permanent
				THEN NULL ELSE EXCLUDED.expires_at END,
			failure_count = suppressions.failure_count + 1
		 RETURNING reason, source, permanent, expires_at, failure_count, created_at`,
		e.Email,
		string(e.Reason),
		string(e.Source),
		e.Permanent,
		nilIfZeroTime(e.ExpiresAt),
		e.FailureCount,
	)

	var expiresAt *time.Time
	err := row.Scan(&e.Reason, &e.Source, &e.Permanent, &expiresAt, &e.FailureCount, &e.CreatedAt)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to upsert suppression", err)
	}
	e.ExpiresAt = time.Time{}
	if expiresAt != nil {
		e.ExpiresAt = *expiresAt
	}
	return nil
}

// Get retrieves the suppression entry for an address, expired or not.
func (r *SuppressionRepository) Get(ctx context.Context, email string) (*types.SuppressionEntry, error) {
	row := r.db.QueryRow(ctx,
		`SELECT email, reason, source, permanent, expires_at, failure_count, created_at
		 FROM suppressions WHERE email = $1`,
		email,
	)

	var (
		e         types.SuppressionEntry
		expiresAt *time.Time
	)
	err := row.Scan(&e.Email, &e.Reason, &e.Source, &e.Permanent, &expiresAt, &e.FailureCount, &e.CreatedAt)
	if err != nil {
		if isNoRows(err) {
			return nil, types.NewAppError(types.ErrCodeNotFoundSuppression, "no suppression entry for address", err)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to get suppression", err)
	}
	if expiresAt != nil {
		e.ExpiresAt = *expiresAt
	}
	return &e, nil
}

// IsSuppressed reports whether an address has an active suppression at the
// given time. Expired entries do not count.
func (r *SuppressionRepository) IsSuppressed(ctx context.Context, email string, now time.Time) (bool, error) {
	var suppressed bool
	row := r.db.QueryRow(ctx,
		`SELECT EXISTS (
			SELECT 1 FROM suppressions
			WHERE email = $1 AND (permanent OR expires_at IS NULL OR expires_at > $2)
		 )`,
		email, now,
	)
	if err := row.Scan(&suppressed); err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to check suppression", err)
	}
	return suppressed, nil
}

// Delete removes a suppression entry. This is the only way a suppression
// leaves the list; it is reserved for the administrative surface.
func (r *SuppressionRepository) Delete(ctx context.Context, email string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM suppressions WHERE email = $1`, email)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to delete suppression", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundSuppression, "no suppression entry for address", nil)
	}
	return nil
}

// List returns suppression entries, newest first.
func (r *SuppressionRepository) List(ctx context.Context, limit int) ([]*types.SuppressionEntry, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := r.db.Query(ctx,
		`SELECT email, reason, source, permanent, expires_at, failure_count, created_at
		 FROM suppressions ORDER BY created_at DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list suppressions", err)
	}
	defer rows.Close()

	var entries []*types.SuppressionEntry
	for rows.Next() {
		var (
			e         types.SuppressionEntry
			expiresAt *time.Time
		)
		err := rows.Scan(&e.Email, &e.Reason, &e.Source, &e.Permanent, &expiresAt, &e.FailureCount, &e.CreatedAt)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan suppression row", err)
		}
		if expiresAt != nil {
			e.ExpiresAt = *expiresAt
		}
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating suppression rows", err)
	}
	return entries, nil
}
