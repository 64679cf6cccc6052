package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/verdantqa/greenlight/internal/cycle"
	"github.com/verdantqa/greenlight/internal/models"
	"github.com/verdantqa/greenlight/internal/status"
	"gorm.io/gorm"
)

// CreateCycleOpts describes a new cycle: manual items come from test case
// selections (steps are copied at creation time), plus at most one
// synthesized automated-run item.
type CreateCycleOpts struct {
	OrgID       string
	ProjectID   string
	Name        string
	TestCaseIDs []string
	// AutomatedTitle, when non-empty, adds one AUTOMATED item linked to
	// ExecutionID.
	AutomatedTitle string
	ExecutionID    string
}

// CreateCycle materializes a cycle aggregate in one transaction. The item
// list is fixed for the cycle's lifetime.
func (s *Store) CreateCycle(ctx context.Context, opts CreateCycleOpts) (*cycle.View, error) {
	if opts.OrgID == "" {
		return nil, fmt.Errorf("%w: org id is required", cycle.ErrValidation)
	}
	if opts.Name == "" {
		return nil, fmt.Errorf("%w: cycle name is required", cycle.ErrValidation)
	}
	if len(opts.TestCaseIDs) == 0 && opts.AutomatedTitle == "" {
		return nil, fmt.Errorf("%w: a cycle needs at least one item", cycle.ErrValidation)
	}
	if opts.AutomatedTitle != "" && opts.ExecutionID == "" {
		return nil, fmt.Errorf("%w: automated item needs an execution id", cycle.ErrValidation)
	}

	cycleID := uuid.NewString()
	now := time.Now().UTC()

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		c := models.Cycle{
			ID:        cycleID,
			OrgID:     opts.OrgID,
			ProjectID: opts.ProjectID,
			Name:      opts.Name,
			Status:    status.CyclePending,
			CreatedAt: now,
		}
		if err := tx.Create(&c).Error; err != nil {
			return fmt.Errorf("store: create cycle: %w", err)
		}

		for _, caseID := range opts.TestCaseIDs {
			var tc models.TestCase
			err := tx.Where("id = ? AND org_id = ?", caseID, opts.OrgID).First(&tc).Error
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return cycle.ErrNotFound
			}
			if err != nil {
				return fmt.Errorf("store: load case %s: %w", caseID, err)
			}

			itemID := uuid.NewString()
			item := models.CycleItem{
				ID:         itemID,
				CycleID:    cycleID,
				OrgID:      opts.OrgID,
				Type:       status.TypeManual,
				Title:      tc.Title,
				Status:     status.ItemPending,
				TestCaseID: &caseID,
				CreatedAt:  now,
			}
			if err := tx.Create(&item).Error; err != nil {
				return fmt.Errorf("store: create item for case %s: %w", caseID, err)
			}

			var caseSteps []models.CaseStep
			if tc.Steps != "" {
				if err := json.Unmarshal([]byte(tc.Steps), &caseSteps); err != nil {
					return fmt.Errorf("store: decode steps of case %s: %w", caseID, err)
				}
			}
			for pos, cs := range caseSteps {
				step := models.ManualStep{
					ID:             uuid.NewString(),
					ItemID:         itemID,
					Position:       pos,
					Action:         cs.Action,
					ExpectedResult: cs.ExpectedResult,
					Status:         status.StepPending,
				}
				if err := tx.Create(&step).Error; err != nil {
					return fmt.Errorf("store: create step: %w", err)
				}
			}
		}

		if opts.AutomatedTitle != "" {
			execID := opts.ExecutionID
			item := models.CycleItem{
				ID:          uuid.NewString(),
				CycleID:     cycleID,
				OrgID:       opts.OrgID,
				Type:        status.TypeAutomated,
				Title:       opts.AutomatedTitle,
				Status:      status.ItemPending,
				ExecutionID: &execID,
				CreatedAt:   now,
			}
			if err := tx.Create(&item).Error; err != nil {
				return fmt.Errorf("store: create automated item: %w", err)
			}
		}

		// Seed the summary cache from the fixed item list.
		view, err := findCycleView(tx, opts.OrgID, cycleID)
		if err != nil {
			return err
		}
		summary, overall := cycle.Recompute(view.Items)
		return tx.Model(&models.Cycle{}).Where("id = ?", cycleID).
			Updates(map[string]interface{}{
				"status":          overall,
				"total":           summary.Total,
				"passed":          summary.Passed,
				"failed":          summary.Failed,
				"automation_rate": summary.AutomationRate,
			}).Error
	})
	if err != nil {
		return nil, err
	}
	return s.FindCycle(ctx, opts.OrgID, cycleID)
}

// DeleteCycle removes the whole aggregate: steps, items, then the cycle
// row. Cycles are never partially deleted.
func (s *Store) DeleteCycle(ctx context.Context, orgID, cycleID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var c models.Cycle
		err := tx.Where("id = ? AND org_id = ?", cycleID, orgID).First(&c).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return cycle.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("store: find cycle %s: %w", cycleID, err)
		}

		if err := tx.Where("item_id IN (?)",
			tx.Model(&models.CycleItem{}).Select("id").Where("cycle_id = ?", cycleID),
		).Delete(&models.ManualStep{}).Error; err != nil {
			return fmt.Errorf("store: delete steps of %s: %w", cycleID, err)
		}
		if err := tx.Where("cycle_id = ?", cycleID).Delete(&models.CycleItem{}).Error; err != nil {
			return fmt.Errorf("store: delete items of %s: %w", cycleID, err)
		}
		if err := tx.Delete(&models.Cycle{}, "id = ?", cycleID).Error; err != nil {
			return fmt.Errorf("store: delete cycle %s: %w", cycleID, err)
		}
		return nil
	})
}

// ItemSteps returns a manual item's checklist in position order, org scoped.
func (s *Store) ItemSteps(ctx context.Context, orgID, cycleID, itemID string) ([]models.ManualStep, error) {
	var item models.CycleItem
	err := s.db.WithContext(ctx).
		Where("id = ? AND cycle_id = ? AND org_id = ?", itemID, cycleID, orgID).
		First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, cycle.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: find item %s: %w", itemID, err)
	}

	var steps []models.ManualStep
	if err := s.db.WithContext(ctx).Where("item_id = ?", itemID).
		Order("position ASC").Find(&steps).Error; err != nil {
		return nil, fmt.Errorf("store: load steps of %s: %w", itemID, err)
	}
	return steps, nil
}
