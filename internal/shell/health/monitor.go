// Package health waits for deployment units to report a running task and to
// finish their rolling updates.
package health

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/swecc-uw/deployctl/internal/core/deployment"
	"github.com/swecc-uw/deployctl/internal/core/monitoring"
	"github.com/swecc-uw/deployctl/internal/shell/docker"
)

// UnitReader is the slice of the runtime client the monitor needs.
type UnitReader interface {
	InspectUnit(ctx context.Context, name string) (*docker.UnitInfo, error)
	ListTaskStates(ctx context.Context, name string) ([]string, error)
}

// Config configures the health monitor.
type Config struct {
	// MaxAttempts is the number of polls before giving up.
	// Default: 30.
	MaxAttempts int

	// Interval is the pause between polls.
	// Default: 2 seconds.
	Interval time.Duration
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 30,
		Interval:    2 * time.Second,
	}
}

// TimeoutError is returned when a unit never reported a running task, or
// never finished its rolling update.
type TimeoutError struct {
	Unit       string
	Attempts   int
	LastStates []string
	LastUpdate string // rollout state of the final poll, if still in flight
	LastErr    error  // error of the final poll, if it failed
}

func (e *TimeoutError) Error() string {
	var msg string
	if e.LastUpdate != "" {
		msg = fmt.Sprintf("unit %s rollout not finished after %d polls (update: %s)",
			e.Unit, e.Attempts, e.LastUpdate)
	} else {
		msg = fmt.Sprintf("unit %s not running after %d polls (last: %s)",
			e.Unit, e.Attempts, monitoring.FormatStates(e.LastStates))
	}
	if e.LastErr != nil {
		msg += fmt.Sprintf(": %v", e.LastErr)
	}
	return msg
}

// Is matches deployment.ErrHealthTimeout.
func (e *TimeoutError) Is(target error) bool {
	return target == deployment.ErrHealthTimeout
}

// Monitor polls a unit's task states until one is running.
type Monitor struct {
	units  UnitReader
	config Config
	logger *slog.Logger

	// sleep waits between polls; replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewMonitor creates a new health monitor.
func NewMonitor(units UnitReader, config Config, logger *slog.Logger) *Monitor {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 30
	}
	if config.Interval <= 0 {
		config.Interval = 2 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Monitor{
		units:  units,
		config: config,
		logger: logger.With("component", "health_monitor"),
		sleep:  sleepContext,
	}
}

// AwaitRunning polls unit until any of its tasks reports running.
//
// It makes at most MaxAttempts polls with Interval between them and does not
// sleep after the final poll. A failed poll counts as an unsuccessful one.
// The unit is never touched on timeout; callers decide what to do with it.
func (m *Monitor) AwaitRunning(ctx context.Context, unit string) error {
	logger := m.logger.With("unit", unit)
	return m.poll(ctx, unit, func(ctx context.Context, attempt int, last *TimeoutError) bool {
		return m.checkRunning(ctx, logger, unit, attempt, last)
	})
}

// AwaitSettled polls unit until its latest rolling update has completed and
// one of its tasks reports running. A unit that never ran an update only
// needs the running task. Polling follows the same rules as AwaitRunning.
func (m *Monitor) AwaitSettled(ctx context.Context, unit string) error {
	logger := m.logger.With("unit", unit)
	return m.poll(ctx, unit, func(ctx context.Context, attempt int, last *TimeoutError) bool {
		info, err := m.units.InspectUnit(ctx, unit)
		if err != nil {
			last.LastStates, last.LastUpdate, last.LastErr = nil, "", err
			logger.Debug("unit inspect failed", "attempt", attempt, "error", err)
			return false
		}
		if !info.UpdateSettled() {
			last.LastStates, last.LastUpdate, last.LastErr = nil, info.Update, nil
			logger.Debug("rollout in progress", "attempt", attempt, "update", info.Update)
			return false
		}
		last.LastUpdate = ""
		return m.checkRunning(ctx, logger, unit, attempt, last)
	})
}

// checkRunning makes one task poll and records its outcome in last.
func (m *Monitor) checkRunning(ctx context.Context, logger *slog.Logger, unit string, attempt int, last *TimeoutError) bool {
	states, err := m.units.ListTaskStates(ctx, unit)
	switch {
	case err != nil:
		last.LastStates, last.LastErr = nil, err
		logger.Debug("task poll failed", "attempt", attempt, "error", err)
		return false
	case monitoring.AnyRunning(states):
		logger.Debug("unit running", "attempt", attempt)
		return true
	default:
		last.LastStates, last.LastErr = states, nil
		logger.Debug("unit not running yet",
			"attempt", attempt,
			"states", monitoring.FormatStates(states),
		)
		return false
	}
}

// poll runs check up to MaxAttempts times, sleeping Interval between calls.
func (m *Monitor) poll(ctx context.Context, unit string, check func(ctx context.Context, attempt int, last *TimeoutError) bool) error {
	last := &TimeoutError{Unit: unit, Attempts: m.config.MaxAttempts}
	for attempt := 1; attempt <= m.config.MaxAttempts; attempt++ {
		if check(ctx, attempt, last) {
			return nil
		}
		if attempt == m.config.MaxAttempts {
			break
		}
		if err := m.sleep(ctx, m.config.Interval); err != nil {
			return err
		}
	}
	return last
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
