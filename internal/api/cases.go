package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/verdantqa/greenlight/internal/cycle"
	"github.com/verdantqa/greenlight/internal/models"
	"gorm.io/gorm"
)

type caseReq struct {
	Title       string            `json:"title"`
	Description string            `json:"description"`
	ProjectID   string            `json:"projectId"`
	Priority    int               `json:"priority"`
	Tags        []string          `json:"tags"`
	Steps       []models.CaseStep `json:"steps"`
}

func caseJSON(tc *models.TestCase) gin.H {
	var tags []string
	if tc.Tags != "" {
		json.Unmarshal([]byte(tc.Tags), &tags)
	}
	var steps []models.CaseStep
	if tc.Steps != "" {
		json.Unmarshal([]byte(tc.Steps), &steps)
	}
	return gin.H{
		"id":          tc.ID,
		"title":       tc.Title,
		"description": tc.Description,
		"projectId":   tc.ProjectID,
		"priority":    tc.Priority,
		"tags":        tags,
		"steps":       steps,
		"updatedAt":   tc.UpdatedAt,
	}
}

func (s *Server) handleListCases(c *gin.Context) {
	q := s.db.Where("org_id = ?", orgID(c))
	if project := c.Query("projectId"); project != "" {
		q = q.Where("project_id = ?", project)
	}
	var cases []models.TestCase
	if err := q.Order("updated_at DESC").Find(&cases).Error; err != nil {
		fail(c, err)
		return
	}
	out := make([]gin.H, 0, len(cases))
	for i := range cases {
		out = append(out, caseJSON(&cases[i]))
	}
	c.JSON(http.StatusOK, gin.H{"cases": out})
}

func (s *Server) handleCreateCase(c *gin.Context) {
	var req caseReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed body"})
		return
	}
	if req.Title == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "title is required"})
		return
	}

	tags, _ := json.Marshal(req.Tags)
	steps, _ := json.Marshal(req.Steps)
	tc := models.TestCase{
		ID:          uuid.NewString(),
		OrgID:       orgID(c),
		ProjectID:   req.ProjectID,
		Title:       req.Title,
		Description: req.Description,
		Priority:    req.Priority,
		Tags:        string(tags),
		Steps:       string(steps),
		CreatedAt:   time.Now().UTC(),
	}
	if tc.Priority == 0 {
		tc.Priority = 2
	}
	if err := s.db.Create(&tc).Error; err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, caseJSON(&tc))
}

func (s *Server) findCase(c *gin.Context) (*models.TestCase, bool) {
	var tc models.TestCase
	err := s.db.Where("id = ? AND org_id = ?", c.Param("id"), orgID(c)).First(&tc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		fail(c, cycle.ErrNotFound)
		return nil, false
	}
	if err != nil {
		fail(c, err)
		return nil, false
	}
	return &tc, true
}

func (s *Server) handleGetCase(c *gin.Context) {
	tc, ok := s.findCase(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, caseJSON(tc))
}

func (s *Server) handleUpdateCase(c *gin.Context) {
	tc, ok := s.findCase(c)
	if !ok {
		return
	}
	var req caseReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed body"})
		return
	}
	if req.Title == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "title is required"})
		return
	}

	tags, _ := json.Marshal(req.Tags)
	steps, _ := json.Marshal(req.Steps)
	tc.Title = req.Title
	tc.Description = req.Description
	tc.ProjectID = req.ProjectID
	tc.Priority = req.Priority
	tc.Tags = string(tags)
	tc.Steps = string(steps)
	if err := s.db.Save(tc).Error; err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, caseJSON(tc))
}

func (s *Server) handleDeleteCase(c *gin.Context) {
	res := s.db.Where("id = ? AND org_id = ?", c.Param("id"), orgID(c)).Delete(&models.TestCase{})
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
