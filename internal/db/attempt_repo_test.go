package db

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"chesshelper/internal/types"
)

func TestAttemptRepository_Record(t *testing.T) {
	db := new(mockDBTX)
	repo := NewAttemptRepository(db)
	ctx := context.Background()

	attempt := &types.RetryAttempt{
		QueueItemID:    "item_1",
		RecipientEmail: "player@example.com",
		AttemptNumber:  2,
		FailureKind:    types.FailureTemporary,
		ErrorDetail:    "503 from provider",
		RetryScheduled: true,
		NextRetryAt:    repoNow.Add(time.Minute),
		PolicyName:     "default",
	}

	db.On("QueryRow", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(&mockRow{scanFn: func(dest ...any) error {
			*dest[0].(*string) = "att_1"
			*dest[1].(*time.Time) = repoNow
			return nil
		}})

	err := repo.Record(ctx, attempt)
	require.NoError(t, err)
	assert.Equal(t, "att_1", attempt.ID)
	assert.Equal(t, repoNow, attempt.AttemptedAt)
	db.AssertExpectations(t)
}

func TestAttemptRepository_Record_SuccessAttemptHasNullKind(t *testing.T) {
	db := new(mockDBTX)
	repo := NewAttemptRepository(db)
	ctx := context.Background()

	// An empty FailureKind must be stored as NULL, not empty string, so the
	// reputation queries skip it.
	db.On("QueryRow", ctx, mock.AnythingOfType("string"), mock.MatchedBy(func(args []any) bool {
		return args[4] == (*string)(nil)
	})).Return(&mockRow{scanFn: func(dest ...any) error {
		*dest[0].(*string) = "att_1"
		*dest[1].(*time.Time) = repoNow
		return nil
	}})

	err := repo.Record(ctx, &types.RetryAttempt{
		QueueItemID:    "item_1",
		RecipientEmail: "player@example.com",
		AttemptNumber:  1,
		PolicyName:     "default",
	})
	require.NoError(t, err)
	db.AssertExpectations(t)
}

func TestAttemptRepository_RecipientHistory(t *testing.T) {
	db := new(mockDBTX)
	repo := NewAttemptRepository(db)
	ctx := context.Background()

	db.On("QueryRow", ctx, mock.MatchedBy(func(sql string) bool {
		return strings.Contains(sql, "failure_kind IS NOT NULL")
	}), mock.Anything).Return(&mockRow{scanFn: func(dest ...any) error {
		*dest[0].(*int) = 11
		*dest[1].(*int) = 6
		return nil
	}})

	h, err := repo.RecipientHistory(ctx, "player@example.com", repoNow.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 11, h.TotalFailures)
	assert.Equal(t, 6, h.RecentFailures)
}

func TestAttemptRepository_ListForItem(t *testing.T) {
	db := new(mockDBTX)
	repo := NewAttemptRepository(db)
	ctx := context.Background()

	next := repoNow.Add(time.Minute)
	db.On("Query", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(newMockRows(
			[]any{"att_1", "item_1", "player@example.com", 1, repoNow, "temporary", "503", true, next, "default"},
			[]any{"att_2", "item_1", "player@example.com", 2, next, nil, nil, false, nil, "default"},
		), nil)

	attempts, err := repo.ListForItem(ctx, "item_1")
	require.NoError(t, err)
	require.Len(t, attempts, 2)
	assert.Equal(t, types.FailureTemporary, attempts[0].FailureKind)
	assert.True(t, attempts[0].RetryScheduled)
	assert.Equal(t, next, attempts[0].NextRetryAt)
	// The second attempt succeeded: no failure kind, no next retry.
	assert.Empty(t, attempts[1].FailureKind)
	assert.True(t, attempts[1].NextRetryAt.IsZero())
}

func TestAttemptRepository_FailureRate(t *testing.T) {
	db := new(mockDBTX)
	repo := NewAttemptRepository(db)
	ctx := context.Background()

	db.On("QueryRow", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(&mockRow{scanFn: func(dest ...any) error {
			*dest[0].(*int64) = 20
			*dest[1].(*int64) = 5
			return nil
		}})

	rate, err := repo.FailureRate(ctx, repoNow.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 0.25, rate)
}

func TestAttemptRepository_FailureRate_NoAttempts(t *testing.T) {
	db := new(mockDBTX)
	repo := NewAttemptRepository(db)
	ctx := context.Background()

	db.On("QueryRow", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(&mockRow{scanFn: func(dest ...any) error {
			*dest[0].(*int64) = 0
			*dest[1].(*int64) = 0
			return nil
		}})

	rate, err := repo.FailureRate(ctx, repoNow.Add(-time.Hour))
	require.NoError(t, err)
	assert.Zero(t, rate)
}
