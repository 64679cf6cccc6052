package api

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/verdantqa/greenlight/internal/cycle"
	"github.com/verdantqa/greenlight/internal/models"
	"gorm.io/gorm"
)

const invitationTTL = 7 * 24 * time.Hour

func (s *Server) handleGetOrg(c *gin.Context) {
	var org models.Organization
	err := s.db.Where("id = ?", orgID(c)).First(&org).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		fail(c, cycle.ErrNotFound)
		return
	}
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"id":   org.ID,
		"name": org.Name,
		"slug": org.Slug,
		"plan": org.Plan,
	})
}

func (s *Server) handleUpdateOrg(c *gin.Context) {
	var req struct {
		Name string `json:"name"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name is required"})
		return
	}
	res := s.db.Model(&models.Organization{}).Where("id = ?", orgID(c)).Update("name", req.Name)
	if res.Error != nil {
		fail(c, res.Error)
		return
	}
	if res.RowsAffected == 0 {
		fail(c, cycle.ErrNotFound)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": orgID(c), "name": req.Name})
}

func (s *Server) handleListMembers(c *gin.Context) {
	var members []models.Member
	if err := s.db.Where("org_id = ?", orgID(c)).Order("created_at ASC").Find(&members).Error; err != nil {
		fail(c, err)
		return
	}
	out := make([]gin.H, 0, len(members))
	for _, m := range members {
		out = append(out, gin.H{"id": m.ID, "email": m.Email, "name": m.Name, "role": m.Role})
	}
	c.JSON(http.StatusOK, gin.H{"members": out})
}

// handleCreateInvitation mints an invitation token. Delivering it (email
// etc.) is the caller's concern; the token comes back in the response.
func (s *Server) handleCreateInvitation(c *gin.Context) {
	var req struct {
		Email string `json:"email"`
		Role  string `json:"role"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Email == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "email is required"})
		return
	}
	if req.Role == "" {
		req.Role = "member"
	}

	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		fail(c, err)
		return
	}
	inv := models.Invitation{
		ID:        uuid.NewString(),
		OrgID:     orgID(c),
		Email:     req.Email,
		Role:      req.Role,
		Token:     hex.EncodeToString(buf),
		CreatedAt: time.Now().UTC(),
		ExpiresAt: time.Now().UTC().Add(invitationTTL),
	}
	if err := s.db.Create(&inv).Error; err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"id":        inv.ID,
		"email":     inv.Email,
		"role":      inv.Role,
		"token":     inv.Token,
		"expiresAt": inv.ExpiresAt,
	})
}

func (s *Server) handleListInvitations(c *gin.Context) {
	var invs []models.Invitation
	if err := s.db.Where("org_id = ? AND accepted_at IS NULL", orgID(c)).
		Order("created_at DESC").Find(&invs).Error; err != nil {
		fail(c, err)
		return
	}
	out := make([]gin.H, 0, len(invs))
	for _, inv := range invs {
		out = append(out, gin.H{
			"id":        inv.ID,
			"email":     inv.Email,
			"role":      inv.Role,
			"expiresAt": inv.ExpiresAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"invitations": out})
}

func (s *Server) handleRevokeInvitation(c *gin.Context) {
	res := s.db.Where("id = ? AND org_id = ? AND accepted_at IS NULL", c.Param("id"), orgID(c)).
		Delete(&models.Invitation{})
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

// handleAcceptInvitation consumes an invitation token and creates the
// member. Unauthenticated: the invitee has no token yet.
func (s *Server) handleAcceptInvitation(c *gin.Context) {
	var req struct {
		Token string `json:"token"`
		Name  string `json:"name"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Token == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "token is required"})
		return
	}

	var member *models.Member
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var inv models.Invitation
		err := tx.Where("token = ? AND accepted_at IS NULL", req.Token).First(&inv).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return cycle.ErrNotFound
		}
		if err != nil {
			return err
		}
		if time.Now().After(inv.ExpiresAt) {
			return cycle.ErrNotFound
		}

		now := time.Now().UTC()
		if err := tx.Model(&inv).Update("accepted_at", now).Error; err != nil {
			return err
		}
		m := models.Member{
			ID:        uuid.NewString(),
			OrgID:     inv.OrgID,
			Email:     inv.Email,
			Name:      req.Name,
			Role:      inv.Role,
			CreatedAt: now,
		}
		if err := tx.Create(&m).Error; err != nil {
			return err
		}
		member = &m
		return nil
	})
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"memberId": member.ID,
		"orgId":    member.OrgID,
		"email":    member.Email,
		"role":     member.Role,
	})
}
