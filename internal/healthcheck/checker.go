// Package healthcheck collects runtime checks for the /api/health endpoint.
package healthcheck

import (
	"cmp"
	"context"
	"slices"
)

// Status is the outcome of one check.
type Status string

const (
	StatusOK      Status = "ok"
	StatusWarn    Status = "warn"
	StatusError   Status = "error"
	StatusUnknown Status = "unknown"
)

// rank orders statuses by severity. Unrecognised values rank as warnings.
func (s Status) rank() int {
	switch s {
	case StatusOK:
		return 0
	case StatusError:
		return 2
	default:
		return 1
	}
}

// CheckResult is one item on the health report.
type CheckResult struct {
	ID       string         `json:"id"`
	Type     string         `json:"type"`
	Subtitle string         `json:"subtitle,omitempty"`
	Status   Status         `json:"status"`
	Summary  string         `json:"summary"`
	Detail   string         `json:"detail,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Checker produces health items.
type Checker interface {
	ListChecks(ctx context.Context) []CheckResult
}

type Report struct {
	Status Status        `json:"status"`
	Checks []CheckResult `json:"checks"`
}

// Run gathers items from every checker, ordered by id. The overall status is the most
// severe one seen, with unknown reported as warn.
func Run(ctx context.Context, checkers ...Checker) Report {
	var items []CheckResult
	for _, c := range checkers {
		if c != nil {
			items = append(items, c.ListChecks(ctx)...)
		}
	}
	slices.SortStableFunc(items, func(a, b CheckResult) int { return cmp.Compare(a.ID, b.ID) })

	overall := StatusOK
	for _, it := range items {
		if it.Status.rank() > overall.rank() {
			overall = it.Status
		}
	}
	if overall != StatusOK && overall != StatusError {
		overall = StatusWarn
	}
	if items == nil {
		items = []CheckResult{}
	}
	return Report{Status: overall, Checks: items}
}
