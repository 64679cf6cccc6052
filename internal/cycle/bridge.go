package cycle

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/verdantqa/greenlight/internal/metrics"
	"github.com/verdantqa/greenlight/internal/status"
)

// View is a read model of one cycle with its full item list, as returned by
// the store. Version changes whenever the summary cache is rewritten.
type View struct {
	ID      string
	OrgID   string
	Name    string
	Status  status.CycleStatus
	Summary Summary
	Version int
	Items   []ItemView
}

// StepResult is one step outcome submitted by a human completing a manual
// item. Status must be terminal; Comment is optional.
type StepResult struct {
	StepID  string            `json:"stepId"`
	Status  status.StepStatus `json:"status"`
	Comment string            `json:"comment,omitempty"`
}

// ItemUpdate carries the extra fields persisted alongside an item status
// write.
type ItemUpdate struct {
	Steps       []StepResult
	CompletedAt *time.Time
}

// Store is the persistence adapter the bridge writes through. Every method
// is scoped by organization; misses from any tenant's perspective are
// ErrNotFound. ApplyItemStatus must touch exactly the addressed item row,
// never the whole item list, so sibling updates cannot be lost. When the
// update carries step results it must reject non-manual items and any
// submission that does not cover the item's checklist exactly, so a derived
// status can never coexist with a step the submission skipped.
type Store interface {
	FindCycle(ctx context.Context, orgID, cycleID string) (*View, error)
	FindItemByExecution(ctx context.Context, orgID, executionID string) (cycleID, itemID string, err error)
	ApplyItemStatus(ctx context.Context, orgID, cycleID, itemID string, newStatus status.ItemStatus, upd ItemUpdate) (*View, error)
	RecordSummary(ctx context.Context, orgID, cycleID string, summary Summary, overall status.CycleStatus, version int) error
}

// Event is the update pushed to subscribers after a persisted item change.
type Event struct {
	CycleID   string             `json:"cycleId"`
	CycleName string             `json:"cycleName"`
	Status    status.CycleStatus `json:"status"`
	Summary   Summary            `json:"summary"`
	Item      ItemView           `json:"item"`
}

// Notifier fans an event out to subscribers. Delivery is best-effort: the
// bridge logs failures and never rolls back the persisted update.
type Notifier interface {
	Publish(orgID string, ev Event) error
}

// Bridge translates manual and automated completion events into a single
// item-update path: validate, apply the one-row status write, recompute the
// cycle, record the summary, publish exactly once.
type Bridge struct {
	store    Store
	notifier Notifier
}

// NewBridge wires a bridge to its store and notifier.
func NewBridge(store Store, notifier Notifier) *Bridge {
	return &Bridge{store: store, notifier: notifier}
}

// CompleteManual applies a submitted manual checklist to its item. The
// item status is derived from the step outcomes; every step must carry a
// terminal step status.
func (b *Bridge) CompleteManual(ctx context.Context, orgID, cycleID, itemID string, steps []StepResult) (*View, error) {
	if orgID == "" || cycleID == "" || itemID == "" {
		return nil, fmt.Errorf("%w: org, cycle and item ids are required", ErrValidation)
	}
	stepStatuses := make([]status.StepStatus, len(steps))
	for i, sr := range steps {
		if sr.StepID == "" {
			return nil, fmt.Errorf("%w: steps[%d].stepId is required", ErrValidation, i)
		}
		if !sr.Status.IsTerminal() {
			return nil, fmt.Errorf("%w: steps[%d].status %q is not terminal", ErrValidation, i, sr.Status)
		}
		stepStatuses[i] = sr.Status
	}

	derived := status.DeriveManualItemStatus(stepStatuses)
	now := time.Now().UTC()
	view, err := b.apply(ctx, orgID, cycleID, itemID, derived, ItemUpdate{
		Steps:       steps,
		CompletedAt: &now,
	})
	if err != nil {
		return nil, err
	}
	metrics.RecordItemTransition("manual", string(derived))
	return view, nil
}

// CompleteAutomated applies a worker's terminal execution report to the
// item linked to that execution.
func (b *Bridge) CompleteAutomated(ctx context.Context, orgID, executionID string, report status.ItemStatus) (*View, error) {
	if orgID == "" || executionID == "" {
		return nil, fmt.Errorf("%w: org and execution ids are required", ErrValidation)
	}
	switch report {
	case status.ItemPassed, status.ItemFailed, status.ItemError:
	default:
		return nil, fmt.Errorf("%w: execution status %q is not a terminal report", ErrValidation, report)
	}

	cycleID, itemID, err := b.store.FindItemByExecution(ctx, orgID, executionID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	view, err := b.apply(ctx, orgID, cycleID, itemID, report, ItemUpdate{CompletedAt: &now})
	if err != nil {
		return nil, err
	}
	metrics.RecordItemTransition("automated", string(report))
	return view, nil
}

// apply runs the shared update path: one-row item write, recompute, summary
// record, publish. A summary write conflict gets one immediate retry; the
// item write itself is idempotent so replaying is safe.
func (b *Bridge) apply(ctx context.Context, orgID, cycleID, itemID string, newStatus status.ItemStatus, upd ItemUpdate) (*View, error) {
	view, err := b.store.ApplyItemStatus(ctx, orgID, cycleID, itemID, newStatus, upd)
	if err != nil {
		return nil, err
	}

	summary, overall := Recompute(view.Items)
	err = b.store.RecordSummary(ctx, orgID, cycleID, summary, overall, view.Version)
	if errors.Is(err, ErrConflict) {
		view, summary, overall, err = b.retrySummary(ctx, orgID, cycleID)
	}
	if err != nil {
		return nil, err
	}
	view.Summary = summary
	view.Status = overall

	var updated ItemView
	for _, it := range view.Items {
		if it.ID == itemID {
			updated = it
			break
		}
	}
	ev := Event{
		CycleID:   view.ID,
		CycleName: view.Name,
		Status:    overall,
		Summary:   summary,
		Item:      updated,
	}
	if err := b.notifier.Publish(orgID, ev); err != nil {
		log.Printf("cycle: publish update for %s: %v", cycleID, err)
		metrics.RecordNotifyFailure("bridge")
	}
	return view, nil
}

// retrySummary re-reads the cycle and rewrites the summary once after a
// version conflict. A sibling item landed between our read and write; its
// writer recorded a summary that missed our item, so recompute from the
// fresh read and try again.
func (b *Bridge) retrySummary(ctx context.Context, orgID, cycleID string) (*View, Summary, status.CycleStatus, error) {
	view, err := b.store.FindCycle(ctx, orgID, cycleID)
	if err != nil {
		return nil, Summary{}, "", err
	}
	summary, overall := Recompute(view.Items)
	if err := b.store.RecordSummary(ctx, orgID, cycleID, summary, overall, view.Version); err != nil {
		return nil, Summary{}, "", fmt.Errorf("cycle: summary retry for %s: %w", cycleID, err)
	}
	return view, summary, overall, nil
}
