package health

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"chesshelper/internal/config"
	"chesshelper/internal/types"
)

type mockStatsSource struct {
	mock.Mock
}

func (m *mockStatsSource) Statistics(ctx context.Context, now time.Time) (types.QueueStatistics, error) {
	args := m.Called(ctx, now)
	return args.Get(0).(types.QueueStatistics), args.Error(1)
}

type mockFailureRateSource struct {
	mock.Mock
}

func (m *mockFailureRateSource) FailureRate(ctx context.Context, since time.Time) (float64, error) {
	args := m.Called(ctx, since)
	return args.Get(0).(float64), args.Error(1)
}

var healthNow = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

func testHealthConfig() config.HealthConfig {
	return config.HealthConfig{
		PendingWarn:       500,
		PendingCritical:   2000,
		OldestWarn:        15 * time.Minute,
		OldestCritical:    time.Hour,
		FailureRateWarn:   0.1,
		FailureRateWindow: time.Hour,
		AvgDeliveryWarn:   2 * time.Minute,
	}
}

func newTestMonitor(stats *mockStatsSource, failures *mockFailureRateSource) *Monitor {
	return NewMonitor(stats, failures, fixedClock{t: healthNow}, types.NopLogger{}, testHealthConfig())
}

func hasIssueContaining(issues []string, substr string) bool {
	for _, issue := range issues {
		if strings.Contains(issue, substr) {
			return true
		}
	}
	return false
}

func TestCheck_HealthyQueue(t *testing.T) {
	stats := &mockStatsSource{}
	failures := &mockFailureRateSource{}

	stats.On("Statistics", mock.Anything, healthNow).Return(types.QueueStatistics{
		TotalPending:       12,
		TotalProcessing:    3,
		TotalSent:          900,
		OldestPendingAt:    healthNow.Add(-2 * time.Minute),
		AvgDeliverySeconds: 4.2,
	}, nil)
	failures.On("FailureRate", mock.Anything, healthNow.Add(-time.Hour)).Return(0.02, nil)

	status := newTestMonitor(stats, failures).Check(context.Background())

	assert.True(t, status.Healthy)
	assert.Empty(t, status.Issues)
	assert.Equal(t, int64(15), status.QueueSize)
	assert.Equal(t, 0.02, status.ErrorRate)
	assert.Equal(t, 4.2, status.AvgDeliverySeconds)
	assert.Equal(t, 120.0, status.OldestItemAgeSeconds)
}

func TestCheck_PendingBacklogCritical(t *testing.T) {
	stats := &mockStatsSource{}
	failures := &mockFailureRateSource{}

	stats.On("Statistics", mock.Anything, mock.Anything).Return(types.QueueStatistics{
		TotalPending: 2500,
	}, nil)
	failures.On("FailureRate", mock.Anything, mock.Anything).Return(0.0, nil)

	status := newTestMonitor(stats, failures).Check(context.Background())

	assert.False(t, status.Healthy)
	assert.True(t, hasIssueContaining(status.Issues, "pending backlog critical"))
}

func TestCheck_PendingBacklogWarnStaysHealthy(t *testing.T) {
	stats := &mockStatsSource{}
	failures := &mockFailureRateSource{}

	stats.On("Statistics", mock.Anything, mock.Anything).Return(types.QueueStatistics{
		TotalPending: 700,
	}, nil)
	failures.On("FailureRate", mock.Anything, mock.Anything).Return(0.0, nil)

	status := newTestMonitor(stats, failures).Check(context.Background())

	assert.True(t, status.Healthy, "warn-level backlog degrades but does not fail")
	assert.True(t, hasIssueContaining(status.Issues, "pending backlog elevated"))
}

func TestCheck_StaleOldestItem(t *testing.T) {
	stats := &mockStatsSource{}
	failures := &mockFailureRateSource{}

	stats.On("Statistics", mock.Anything, mock.Anything).Return(types.QueueStatistics{
		TotalPending:    1,
		OldestPendingAt: healthNow.Add(-2 * time.Hour),
	}, nil)
	failures.On("FailureRate", mock.Anything, mock.Anything).Return(0.0, nil)

	status := newTestMonitor(stats, failures).Check(context.Background())

	assert.False(t, status.Healthy)
	assert.True(t, hasIssueContaining(status.Issues, "oldest pending item stale"))
}

func TestCheck_HighFailureRate(t *testing.T) {
	stats := &mockStatsSource{}
	failures := &mockFailureRateSource{}

	stats.On("Statistics", mock.Anything, mock.Anything).Return(types.QueueStatistics{}, nil)
	failures.On("FailureRate", mock.Anything, mock.Anything).Return(0.35, nil)

	status := newTestMonitor(stats, failures).Check(context.Background())

	assert.False(t, status.Healthy)
	assert.True(t, hasIssueContaining(status.Issues, "failure rate"))
	assert.Equal(t, 0.35, status.ErrorRate)
}

func TestCheck_SlowAverageDelivery(t *testing.T) {
	stats := &mockStatsSource{}
	failures := &mockFailureRateSource{}

	stats.On("Statistics", mock.Anything, mock.Anything).Return(types.QueueStatistics{
		TotalPending:       5,
		AvgDeliverySeconds: 300,
	}, nil)
	failures.On("FailureRate", mock.Anything, mock.Anything).Return(0.0, nil)

	status := newTestMonitor(stats, failures).Check(context.Background())

	assert.False(t, status.Healthy)
	assert.True(t, hasIssueContaining(status.Issues, "average delivery time"))
}

func TestCheck_MultipleBreachesAccumulateIssues(t *testing.T) {
	stats := &mockStatsSource{}
	failures := &mockFailureRateSource{}

	stats.On("Statistics", mock.Anything, mock.Anything).Return(types.QueueStatistics{
		TotalPending:    3000,
		OldestPendingAt: healthNow.Add(-3 * time.Hour),
	}, nil)
	failures.On("FailureRate", mock.Anything, mock.Anything).Return(0.5, nil)

	status := newTestMonitor(stats, failures).Check(context.Background())

	assert.False(t, status.Healthy)
	assert.Len(t, status.Issues, 3)
}

func TestCheck_StoreUnreachableDegradesGracefully(t *testing.T) {
	stats := &mockStatsSource{}
	failures := &mockFailureRateSource{}

	dbErr := types.NewAppError(types.ErrCodeInternalDB, "connection refused", nil)
	stats.On("Statistics", mock.Anything, mock.Anything).Return(types.QueueStatistics{}, dbErr)

	status := newTestMonitor(stats, failures).Check(context.Background())

	assert.False(t, status.Healthy)
	assert.True(t, hasIssueContaining(status.Issues, "health check failed"))
	failures.AssertNotCalled(t, "FailureRate", mock.Anything, mock.Anything)
}

func TestCheck_AttemptLogUnreachableDegradesGracefully(t *testing.T) {
	stats := &mockStatsSource{}
	failures := &mockFailureRateSource{}

	stats.On("Statistics", mock.Anything, mock.Anything).Return(types.QueueStatistics{TotalPending: 1}, nil)
	failures.On("FailureRate", mock.Anything, mock.Anything).
		Return(0.0, types.NewAppError(types.ErrCodeInternalDB, "connection refused", nil))

	status := newTestMonitor(stats, failures).Check(context.Background())

	assert.False(t, status.Healthy)
	assert.True(t, hasIssueContaining(status.Issues, "health check failed"))
}
