// Package cycle implements the cycle status-aggregation model: the pure
// roll-up of item statuses into a cycle summary, and the execution bridge
// that turns completion events into persisted, broadcast item updates.
package cycle

import (
	"math"

	"github.com/verdantqa/greenlight/internal/status"
)

// Summary is the derived counter block cached on a cycle. Failed includes
// ERROR items; ERROR stays a distinct item status but counts as a failure
// at the cycle level.
type Summary struct {
	Total          int `json:"total"`
	Passed         int `json:"passed"`
	Failed         int `json:"failed"`
	AutomationRate int `json:"automationRate"`
}

// ItemView is the minimal per-item view the aggregator needs.
type ItemView struct {
	ID          string            `json:"id"`
	Type        status.ItemType   `json:"type"`
	Title       string            `json:"title"`
	Status      status.ItemStatus `json:"status"`
	ExecutionID string            `json:"executionId,omitempty"`
}

// Recompute derives a cycle's summary and overall status from its items in
// one pass. The reduction is commutative: permuting the item list never
// changes the result. An empty list yields a zero summary and PENDING.
func Recompute(items []ItemView) (Summary, status.CycleStatus) {
	s := Summary{Total: len(items)}
	if s.Total == 0 {
		return s, status.CyclePending
	}

	automated := 0
	terminal := 0
	pending := 0
	for _, it := range items {
		if it.Type == status.TypeAutomated {
			automated++
		}
		switch it.Status {
		case status.ItemPassed:
			s.Passed++
		case status.ItemFailed, status.ItemError:
			s.Failed++
		case status.ItemPending:
			pending++
		}
		if it.Status.IsTerminal() {
			terminal++
		}
	}

	s.AutomationRate = int(math.Round(100 * float64(automated) / float64(s.Total)))

	switch {
	case terminal == s.Total:
		return s, status.CycleCompleted
	case pending == s.Total:
		return s, status.CyclePending
	default:
		return s, status.CycleRunning
	}
}
