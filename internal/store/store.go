// Package store implements the cycle persistence adapter on GORM. Cycle
// items live in their own table, so an item status write is a single-row
// UPDATE keyed by item id; concurrent completions of sibling items never
// overwrite each other.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/verdantqa/greenlight/internal/cycle"
	"github.com/verdantqa/greenlight/internal/models"
	"github.com/verdantqa/greenlight/internal/status"
	"gorm.io/gorm"
)

// Store wraps a GORM handle with org-scoped cycle operations.
type Store struct {
	db *gorm.DB
}

// New creates a Store.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// FindCycle loads a cycle and its items, scoped to the organization. A
// cycle belonging to another tenant is indistinguishable from a missing one.
func (s *Store) FindCycle(ctx context.Context, orgID, cycleID string) (*cycle.View, error) {
	return findCycleView(s.db.WithContext(ctx), orgID, cycleID)
}

// FindItemByExecution resolves the cycle item linked to an execution id.
func (s *Store) FindItemByExecution(ctx context.Context, orgID, executionID string) (string, string, error) {
	var item models.CycleItem
	err := s.db.WithContext(ctx).
		Where("execution_id = ? AND org_id = ?", executionID, orgID).
		First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", "", cycle.ErrNotFound
	}
	if err != nil {
		return "", "", fmt.Errorf("store: find item by execution %s: %w", executionID, err)
	}
	return item.CycleID, item.ID, nil
}

// ApplyItemStatus writes one item's status (and step outcomes for manual
// items) inside a transaction and returns the fresh cycle view. Only the
// addressed rows are touched. A step submission must target a MANUAL item
// and cover its checklist exactly; a partial submission would let the
// derived item status contradict its own pending steps.
func (s *Store) ApplyItemStatus(ctx context.Context, orgID, cycleID, itemID string, newStatus status.ItemStatus, upd cycle.ItemUpdate) (*cycle.View, error) {
	var view *cycle.View
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var item models.CycleItem
		err := tx.Where("id = ? AND cycle_id = ? AND org_id = ?", itemID, cycleID, orgID).
			First(&item).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return cycle.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("store: find item %s: %w", itemID, err)
		}

		if upd.Steps != nil {
			if item.Type != status.TypeManual {
				return fmt.Errorf("%w: item %s is not a manual item", cycle.ErrValidation, itemID)
			}
			if err := verifyChecklist(tx, itemID, upd.Steps); err != nil {
				return err
			}
		}

		updates := map[string]interface{}{"status": newStatus}
		if upd.CompletedAt != nil {
			updates["completed_at"] = upd.CompletedAt
		}
		if err := tx.Model(&models.CycleItem{}).
			Where("id = ?", item.ID).
			Updates(updates).Error; err != nil {
			return fmt.Errorf("store: update item %s: %w", itemID, err)
		}

		// Step existence was settled by verifyChecklist; RowsAffected is
		// not checked so re-submitting identical outcomes stays idempotent.
		for _, sr := range upd.Steps {
			err := tx.Model(&models.ManualStep{}).
				Where("id = ? AND item_id = ?", sr.StepID, itemID).
				Updates(map[string]interface{}{"status": sr.Status, "comment": sr.Comment}).Error
			if err != nil {
				return fmt.Errorf("store: update step %s: %w", sr.StepID, err)
			}
		}

		v, err := findCycleView(tx, orgID, cycleID)
		if err != nil {
			return err
		}
		view = v
		return nil
	})
	if err != nil {
		return nil, err
	}
	return view, nil
}

// verifyChecklist requires the submission to address the item's checklist
// exactly: every persisted step once, nothing else. Unknown step ids stay
// not-found; missing or duplicated ones are validation failures.
func verifyChecklist(tx *gorm.DB, itemID string, steps []cycle.StepResult) error {
	var ids []string
	if err := tx.Model(&models.ManualStep{}).
		Where("item_id = ?", itemID).Pluck("id", &ids).Error; err != nil {
		return fmt.Errorf("store: load checklist for item %s: %w", itemID, err)
	}
	known := make(map[string]bool, len(ids))
	for _, id := range ids {
		known[id] = true
	}
	seen := make(map[string]bool, len(steps))
	for _, sr := range steps {
		if !known[sr.StepID] {
			return cycle.ErrNotFound
		}
		if seen[sr.StepID] {
			return fmt.Errorf("%w: step %s submitted more than once", cycle.ErrValidation, sr.StepID)
		}
		seen[sr.StepID] = true
	}
	if len(seen) != len(ids) {
		return fmt.Errorf("%w: submission covers %d of %d checklist steps", cycle.ErrValidation, len(seen), len(ids))
	}
	return nil
}

// RecordSummary persists the recomputed summary cache, guarded by the
// version read alongside the item list. A version mismatch means a sibling
// writer got there first; the caller re-reads and retries.
func (s *Store) RecordSummary(ctx context.Context, orgID, cycleID string, summary cycle.Summary, overall status.CycleStatus, version int) error {
	res := s.db.WithContext(ctx).Model(&models.Cycle{}).
		Where("id = ? AND org_id = ? AND version = ?", cycleID, orgID, version).
		Updates(map[string]interface{}{
			"status":          overall,
			"total":           summary.Total,
			"passed":          summary.Passed,
			"failed":          summary.Failed,
			"automation_rate": summary.AutomationRate,
			"version":         version + 1,
		})
	if res.Error != nil {
		return fmt.Errorf("store: record summary for %s: %w", cycleID, res.Error)
	}
	if res.RowsAffected == 0 {
		var count int64
		s.db.WithContext(ctx).Model(&models.Cycle{}).
			Where("id = ? AND org_id = ?", cycleID, orgID).Count(&count)
		if count == 0 {
			return cycle.ErrNotFound
		}
		return cycle.ErrConflict
	}
	return nil
}

// findCycleView builds a cycle.View from the cycle row and its items.
func findCycleView(tx *gorm.DB, orgID, cycleID string) (*cycle.View, error) {
	var c models.Cycle
	err := tx.Where("id = ? AND org_id = ?", cycleID, orgID).First(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, cycle.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: find cycle %s: %w", cycleID, err)
	}

	var items []models.CycleItem
	if err := tx.Where("cycle_id = ?", cycleID).Order("created_at ASC, id ASC").Find(&items).Error; err != nil {
		return nil, fmt.Errorf("store: load items for %s: %w", cycleID, err)
	}

	view := &cycle.View{
		ID:     c.ID,
		OrgID:  c.OrgID,
		Name:   c.Name,
		Status: c.Status,
		Summary: cycle.Summary{
			Total:          c.Total,
			Passed:         c.Passed,
			Failed:         c.Failed,
			AutomationRate: c.AutomationRate,
		},
		Version: c.Version,
		Items:   make([]cycle.ItemView, 0, len(items)),
	}
	for _, it := range items {
		iv := cycle.ItemView{
			ID:     it.ID,
			Type:   it.Type,
			Title:  it.Title,
			Status: it.Status,
		}
		if it.ExecutionID != nil {
			iv.ExecutionID = *it.ExecutionID
		}
		view.Items = append(view.Items, iv)
	}
	return view, nil
}
