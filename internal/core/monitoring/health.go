// Package monitoring provides pure functions for interpreting unit task states.
// This package contains NO I/O.
package monitoring

import (
	"sort"
	"strconv"
	"strings"
)

// Task states reported by the runtime for a unit's tasks.
const (
	TaskRunning  = "running"
	TaskPending  = "pending"
	TaskStarting = "starting"
	TaskFailed   = "failed"
	TaskRejected = "rejected"
)

// Health is the aggregate condition of a unit derived from its task states.
type Health string

const (
	HealthRunning  Health = "running"  // at least one task is running
	HealthStarting Health = "starting" // no task running yet, none failed
	HealthFailing  Health = "failing"  // no task running, at least one failed or rejected
	HealthAbsent   Health = "absent"   // no tasks at all
)

// =============================================================================
// Task State Aggregation (Pure Functions)
// =============================================================================

// AnyRunning reports whether any reported task state is running.
// This is the only readiness signal a deployment waits for.
func AnyRunning(states []string) bool {
	for _, s := range states {
		if strings.EqualFold(s, TaskRunning) {
			return true
		}
	}
	return false
}

// Aggregate determines the overall health of a unit from its task states.
func Aggregate(states []string) Health {
	if len(states) == 0 {
		return HealthAbsent
	}
	if AnyRunning(states) {
		return HealthRunning
	}
	for _, s := range states {
		switch strings.ToLower(s) {
		case TaskFailed, TaskRejected:
			return HealthFailing
		}
	}
	return HealthStarting
}

// CountStates returns how many tasks are in each state.
func CountStates(states []string) map[string]int {
	counts := make(map[string]int, len(states))
	for _, s := range states {
		counts[strings.ToLower(s)]++
	}
	return counts
}

// FormatStates renders state counts as "running=1 shutdown=2", sorted by state.
func FormatStates(states []string) string {
	if len(states) == 0 {
		return "-"
	}
	counts := CountStates(states)
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+strconv.Itoa(counts[k]))
	}
	return strings.Join(parts, " ")
}
