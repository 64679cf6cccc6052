package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/verdantqa/greenlight/internal/billing"
	"github.com/verdantqa/greenlight/internal/cycle"
	"github.com/verdantqa/greenlight/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

func validIntegrationKind(kind string) bool {
	switch kind {
	case models.IntegrationSlack, models.IntegrationDiscord, models.IntegrationGitHub:
		return true
	}
	return false
}

func (s *Server) handleListIntegrations(c *gin.Context) {
	var ints []models.Integration
	if err := s.db.Where("org_id = ?", orgID(c)).Order("kind ASC").Find(&ints).Error; err != nil {
		fail(c, err)
		return
	}
	out := make([]gin.H, 0, len(ints))
	for _, in := range ints {
		var settings map[string]interface{}
		if in.Settings != "" {
			json.Unmarshal([]byte(in.Settings), &settings)
		}
		out = append(out, gin.H{
			"kind":     in.Kind,
			"enabled":  in.Enabled,
			"settings": settings,
		})
	}
	c.JSON(http.StatusOK, gin.H{"integrations": out})
}

func (s *Server) handleUpsertIntegration(c *gin.Context) {
	kind := c.Param("kind")
	if !validIntegrationKind(kind) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown integration kind"})
		return
	}
	var req struct {
		Enabled  *bool                  `json:"enabled"`
		Settings map[string]interface{} `json:"settings"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed body"})
		return
	}
	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	settings, _ := json.Marshal(req.Settings)

	in := models.Integration{
		ID:        uuid.NewString(),
		OrgID:     orgID(c),
		Kind:      kind,
		Enabled:   enabled,
		Settings:  string(settings),
		CreatedAt: time.Now().UTC(),
	}
	err := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "org_id"}, {Name: "kind"}},
		DoUpdates: clause.AssignmentColumns([]string{"enabled", "settings", "updated_at"}),
	}).Create(&in).Error
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"kind": kind, "enabled": enabled, "settings": req.Settings})
}

func (s *Server) handleDeleteIntegration(c *gin.Context) {
	kind := c.Param("kind")
	res := s.db.Where("org_id = ? AND kind = ?", orgID(c), kind).Delete(&models.Integration{})
	if res.Error != nil {
		fail(c, res.Error)
		return
	}
	if res.RowsAffected == 0 {
		fail(c, cycle.ErrNotFound)
		return
	}
	c.Status(http.StatusNoContent)
}

// IntegrationChannel is the alert dispatcher's per-org channel lookup,
// backed by the integrations table.
func IntegrationChannel(db *gorm.DB) func(orgID, kind string) (string, bool) {
	return func(orgID, kind string) (string, bool) {
		var in models.Integration
		err := db.Where("org_id = ? AND kind = ? AND enabled = ?", orgID, kind, true).First(&in).Error
		if err != nil {
			return "", false
		}
		var settings struct {
			Channel    string `json:"channel"`
			Repository string `json:"repository"`
		}
		if in.Settings != "" {
			if err := json.Unmarshal([]byte(in.Settings), &settings); err != nil {
				return "", false
			}
		}
		if kind == models.IntegrationGitHub {
			return settings.Repository, true
		}
		return settings.Channel, true
	}
}

func (s *Server) handleUsage(c *gin.Context) {
	periods, pending, err := billing.Summary(s.db, orgID(c))
	if err != nil {
		fail(c, err)
		return
	}
	out := make([]gin.H, 0, len(periods))
	for _, p := range periods {
		out = append(out, gin.H{
			"kind":        p.Kind,
			"periodStart": p.PeriodStart,
			"quantity":    p.Quantity,
		})
	}
	c.JSON(http.StatusOK, gin.H{"periods": out, "pending": pending})
}
