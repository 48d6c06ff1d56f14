// Package health reports queue health from the store's aggregate counters.
// The monitor only reads; every threshold it applies comes from
// configuration.
package health

import (
	"context"
	"fmt"
	"time"

	"chesshelper/internal/config"
	"chesshelper/internal/types"
)

// StatsSource is the aggregate read surface the monitor consumes.
// Satisfied by *db.QueueRepository.
type StatsSource interface {
	Statistics(ctx context.Context, now time.Time) (types.QueueStatistics, error)
}

// FailureRateSource reports the fraction of failed delivery attempts over a
// window. Satisfied by *db.AttemptRepository.
type FailureRateSource interface {
	FailureRate(ctx context.Context, since time.Time) (float64, error)
}

// Monitor evaluates queue aggregates against configured thresholds. It never
// panics and never returns an error: an unreachable store degrades the
// report to unhealthy with an explanatory issue.
type Monitor struct {
	stats    StatsSource
	failures FailureRateSource
	clock    types.Clock
	logger   types.Logger
	cfg      config.HealthConfig
}

// NewMonitor creates a health monitor.
func NewMonitor(
	stats StatsSource,
	failures FailureRateSource,
	clock types.Clock,
	logger types.Logger,
	cfg config.HealthConfig,
) *Monitor {
	return &Monitor{
		stats:    stats,
		failures: failures,
		clock:    clock,
		logger:   logger,
		cfg:      cfg,
	}
}

// Check produces the current health report. Healthy is the conjunction of
// every threshold check passing; each breach appends a human-readable issue.
func (m *Monitor) Check(ctx context.Context) types.HealthStatus {
	now := m.clock.Now()
	status := types.HealthStatus{
		Healthy:   true,
		Issues:    []string{},
		CheckedAt: now,
	}

	stats, err := m.stats.Statistics(ctx, now)
	if err != nil {
		m.logger.Error("health check could not read queue statistics", "error", err)
		status.Healthy = false
		status.Issues = append(status.Issues, fmt.Sprintf("health check failed: queue store unreachable: %v", err))
		return status
	}

	status.QueueSize = stats.TotalPending + stats.TotalProcessing
	status.AvgDeliverySeconds = stats.AvgDeliverySeconds

	if m.cfg.PendingCritical > 0 && stats.TotalPending >= int64(m.cfg.PendingCritical) {
		status.Healthy = false
		status.Issues = append(status.Issues,
			fmt.Sprintf("pending backlog critical: %d items (threshold %d)", stats.TotalPending, m.cfg.PendingCritical))
	} else if m.cfg.PendingWarn > 0 && stats.TotalPending >= int64(m.cfg.PendingWarn) {
		status.Issues = append(status.Issues,
			fmt.Sprintf("pending backlog elevated: %d items (threshold %d)", stats.TotalPending, m.cfg.PendingWarn))
	}

	if !stats.OldestPendingAt.IsZero() {
		age := now.Sub(stats.OldestPendingAt)
		status.OldestItemAgeSeconds = age.Seconds()

		if m.cfg.OldestCritical > 0 && age >= m.cfg.OldestCritical {
			status.Healthy = false
			status.Issues = append(status.Issues,
				fmt.Sprintf("oldest pending item stale: %s (threshold %s)", age.Round(time.Second), m.cfg.OldestCritical))
		} else if m.cfg.OldestWarn > 0 && age >= m.cfg.OldestWarn {
			status.Issues = append(status.Issues,
				fmt.Sprintf("oldest pending item aging: %s (threshold %s)", age.Round(time.Second), m.cfg.OldestWarn))
		}
	}

	if m.cfg.AvgDeliveryWarn > 0 && stats.AvgDeliverySeconds >= m.cfg.AvgDeliveryWarn.Seconds() {
		status.Healthy = false
		status.Issues = append(status.Issues,
			fmt.Sprintf("average delivery time %.0fs exceeds %s", stats.AvgDeliverySeconds, m.cfg.AvgDeliveryWarn))
	}

	rate, err := m.failures.FailureRate(ctx, now.Add(-m.cfg.FailureRateWindow))
	if err != nil {
		m.logger.Error("health check could not read failure rate", "error", err)
		status.Healthy = false
		status.Issues = append(status.Issues, fmt.Sprintf("health check failed: attempt log unreachable: %v", err))
		return status
	}
	status.ErrorRate = rate

	if m.cfg.FailureRateWarn > 0 && rate >= m.cfg.FailureRateWarn {
		status.Healthy = false
		status.Issues = append(status.Issues,
			fmt.Sprintf("delivery failure rate %.1f%% over last %s (threshold %.1f%%)",
				rate*100, m.cfg.FailureRateWindow, m.cfg.FailureRateWarn*100))
	}

	return status
}
