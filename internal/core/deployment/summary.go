package deployment

import (
	"fmt"
	"strings"
	"time"
)

// =============================================================================
// Batch Summary
// =============================================================================

// Result is the outcome of one service's attempt within a batch.
type Result struct {
	Service  string
	Err      error
	Duration time.Duration
}

// OK reports whether the attempt succeeded.
func (r Result) OK() bool {
	return r.Err == nil
}

// Summary aggregates the results of a batch run, in run order.
type Summary struct {
	Results []Result
}

// Add appends a result.
func (s *Summary) Add(r Result) {
	s.Results = append(s.Results, r)
}

// Failed returns the services whose attempts failed, in run order.
func (s Summary) Failed() []string {
	var failed []string
	for _, r := range s.Results {
		if !r.OK() {
			failed = append(failed, r.Service)
		}
	}
	return failed
}

// OK reports whether every attempt succeeded.
func (s Summary) OK() bool {
	return len(s.Failed()) == 0
}

// Report renders a human-readable summary, one line per service followed by
// the list of failed services.
func (s Summary) Report() string {
	var b strings.Builder
	for _, r := range s.Results {
		if r.OK() {
			fmt.Fprintf(&b, "  ok      %-12s %s\n", r.Service, r.Duration.Round(time.Millisecond))
		} else {
			fmt.Fprintf(&b, "  FAILED  %-12s %s: %v\n", r.Service, r.Duration.Round(time.Millisecond), r.Err)
		}
	}
	failed := s.Failed()
	if len(failed) == 0 {
		fmt.Fprintf(&b, "%d/%d services deployed\n", len(s.Results), len(s.Results))
	} else {
		fmt.Fprintf(&b, "%d/%d services failed: %s\n", len(failed), len(s.Results), strings.Join(failed, ", "))
	}
	return b.String()
}
