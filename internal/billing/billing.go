// Package billing meters billable events and folds them into per-org usage
// periods on a cron schedule. Raw records stay the source of truth; periods
// are the read model the usage endpoint serves.
package billing

import (
	"fmt"
	"log"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/verdantqa/greenlight/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Record appends one raw usage event.
func Record(db *gorm.DB, orgID, kind, cycleID string, quantity int) error {
	if orgID == "" {
		return fmt.Errorf("billing: orgID is required")
	}
	if kind == "" {
		return fmt.Errorf("billing: kind is required")
	}
	if quantity <= 0 {
		quantity = 1
	}
	rec := models.UsageRecord{
		OrgID:     orgID,
		Kind:      kind,
		CycleID:   cycleID,
		Quantity:  quantity,
		CreatedAt: time.Now().UTC(),
	}
	if err := db.Create(&rec).Error; err != nil {
		return fmt.Errorf("billing: record %s/%s: %w", orgID, kind, err)
	}
	return nil
}

// Rollup folds all pending raw records into hourly usage periods and marks
// them rolled up, in one transaction. Returns the number of records folded.
func Rollup(db *gorm.DB) (int, error) {
	var folded int
	err := db.Transaction(func(tx *gorm.DB) error {
		var pending []models.UsageRecord
		if err := tx.Where("rolled_up = ?", false).Find(&pending).Error; err != nil {
			return fmt.Errorf("billing: load pending records: %w", err)
		}
		if len(pending) == 0 {
			return nil
		}

		type bucket struct {
			orgID, kind string
			start       time.Time
		}
		totals := make(map[bucket]int)
		ids := make([]uint, 0, len(pending))
		for _, rec := range pending {
			b := bucket{rec.OrgID, rec.Kind, rec.CreatedAt.UTC().Truncate(time.Hour)}
			totals[b] += rec.Quantity
			ids = append(ids, rec.ID)
		}

		for b, qty := range totals {
			period := models.UsagePeriod{
				OrgID:       b.orgID,
				Kind:        b.kind,
				PeriodStart: b.start,
				Quantity:    qty,
			}
			err := tx.Clauses(clause.OnConflict{
				Columns: []clause.Column{{Name: "org_id"}, {Name: "kind"}, {Name: "period_start"}},
				DoUpdates: clause.Assignments(map[string]interface{}{
					"quantity": gorm.Expr("quantity + ?", qty),
				}),
			}).Create(&period).Error
			if err != nil {
				return fmt.Errorf("billing: upsert period %s/%s: %w", b.orgID, b.kind, err)
			}
		}

		if err := tx.Model(&models.UsageRecord{}).Where("id IN ?", ids).
			Update("rolled_up", true).Error; err != nil {
			return fmt.Errorf("billing: mark rolled up: %w", err)
		}
		folded = len(ids)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return folded, nil
}

// Summary returns an org's usage periods newest first, plus the count of
// raw records not yet folded in.
func Summary(db *gorm.DB, orgID string) ([]models.UsagePeriod, int64, error) {
	if orgID == "" {
		return nil, 0, fmt.Errorf("billing: orgID is required")
	}
	var periods []models.UsagePeriod
	if err := db.Where("org_id = ?", orgID).
		Order("period_start DESC").Find(&periods).Error; err != nil {
		return nil, 0, fmt.Errorf("billing: summary for %s: %w", orgID, err)
	}
	var pending int64
	if err := db.Model(&models.UsageRecord{}).
		Where("org_id = ? AND rolled_up = ?", orgID, false).
		Count(&pending).Error; err != nil {
		return nil, 0, fmt.Errorf("billing: pending count for %s: %w", orgID, err)
	}
	return periods, pending, nil
}

// StartScheduler runs Rollup on the given 5-field cron spec until the
// returned cron is stopped.
func StartScheduler(db *gorm.DB, spec string) (*cron.Cron, error) {
	c := cron.New()
	_, err := c.AddFunc(spec, func() {
		n, err := Rollup(db)
		if err != nil {
			log.Printf("billing: scheduled rollup: %v", err)
			return
		}
		if n > 0 {
			log.Printf("billing: rolled up %d usage records", n)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("billing: cron spec %q: %w", spec, err)
	}
	c.Start()
	return c, nil
}
