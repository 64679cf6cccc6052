package api

import (
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/verdantqa/greenlight/internal/billing"
	"github.com/verdantqa/greenlight/internal/cycle"
	"github.com/verdantqa/greenlight/internal/metrics"
	"github.com/verdantqa/greenlight/internal/models"
	"github.com/verdantqa/greenlight/internal/status"
	"github.com/verdantqa/greenlight/internal/store"
)

// cycleJSON renders a cycle view in the wire shape.
func cycleJSON(v *cycle.View) gin.H {
	items := make([]gin.H, 0, len(v.Items))
	for _, it := range v.Items {
		item := gin.H{
			"id":     it.ID,
			"type":   it.Type,
			"title":  it.Title,
			"status": it.Status,
		}
		if it.ExecutionID != "" {
			item["executionId"] = it.ExecutionID
		}
		items = append(items, item)
	}
	return gin.H{
		"id":     v.ID,
		"name":   v.Name,
		"status": v.Status,
		"summary": gin.H{
			"total":          v.Summary.Total,
			"passed":         v.Summary.Passed,
			"failed":         v.Summary.Failed,
			"automationRate": v.Summary.AutomationRate,
		},
		"items": items,
	}
}

func (s *Server) handleListCycles(c *gin.Context) {
	var cycles []models.Cycle
	if err := s.db.Where("org_id = ?", orgID(c)).
		Order("created_at DESC").Find(&cycles).Error; err != nil {
		fail(c, err)
		return
	}
	out := make([]gin.H, 0, len(cycles))
	for _, cy := range cycles {
		out = append(out, gin.H{
			"id":     cy.ID,
			"name":   cy.Name,
			"status": cy.Status,
			"summary": gin.H{
				"total":          cy.Total,
				"passed":         cy.Passed,
				"failed":         cy.Failed,
				"automationRate": cy.AutomationRate,
			},
			"createdAt": cy.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"cycles": out})
}

type createCycleReq struct {
	Name        string   `json:"name"`
	ProjectID   string   `json:"projectId"`
	TestCaseIDs []string `json:"testCaseIds"`
	Automated   *struct {
		Title string `json:"title"`
	} `json:"automated"`
}

func (s *Server) handleCreateCycle(c *gin.Context) {
	var req createCycleReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed body"})
		return
	}

	opts := store.CreateCycleOpts{
		OrgID:       orgID(c),
		ProjectID:   req.ProjectID,
		Name:        req.Name,
		TestCaseIDs: req.TestCaseIDs,
	}
	if req.Automated != nil {
		// Synthesize the execution record the worker will report against.
		exec := models.Execution{
			ID:        uuid.NewString(),
			OrgID:     orgID(c),
			Status:    status.ItemPending,
			StartedAt: time.Now().UTC(),
		}
		if err := s.db.Create(&exec).Error; err != nil {
			fail(c, err)
			return
		}
		opts.AutomatedTitle = req.Automated.Title
		opts.ExecutionID = exec.ID
	}

	view, err := s.store.CreateCycle(c.Request.Context(), opts)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, cycleJSON(view))
}

func (s *Server) handleGetCycle(c *gin.Context) {
	view, err := s.store.FindCycle(c.Request.Context(), orgID(c), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, cycleJSON(view))
}

func (s *Server) handleRenameCycle(c *gin.Context) {
	var req struct {
		Name string `json:"name"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name is required"})
		return
	}
	res := s.db.Model(&models.Cycle{}).
		Where("id = ? AND org_id = ?", c.Param("id"), orgID(c)).
		Update("name", req.Name)
	if res.Error != nil {
		fail(c, res.Error)
		return
	}
	if res.RowsAffected == 0 {
		fail(c, cycle.ErrNotFound)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": c.Param("id"), "name": req.Name})
}

func (s *Server) handleDeleteCycle(c *gin.Context) {
	if err := s.store.DeleteCycle(c.Request.Context(), orgID(c), c.Param("id")); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleItemSteps(c *gin.Context) {
	steps, err := s.store.ItemSteps(c.Request.Context(), orgID(c), c.Param("id"), c.Param("itemID"))
	if err != nil {
		fail(c, err)
		return
	}
	out := make([]gin.H, 0, len(steps))
	for _, st := range steps {
		out = append(out, gin.H{
			"id":             st.ID,
			"action":         st.Action,
			"expectedResult": st.ExpectedResult,
			"status":         st.Status,
			"comment":        st.Comment,
		})
	}
	c.JSON(http.StatusOK, gin.H{"steps": out})
}

type manualRunReq struct {
	Steps []struct {
		StepID  string `json:"stepId"`
		Status  string `json:"status"`
		Comment string `json:"comment"`
	} `json:"steps"`
}

// handleManualRun is the manual completion event: the human submits every
// step with a terminal outcome and the bridge derives the item status.
func (s *Server) handleManualRun(c *gin.Context) {
	var req manualRunReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed body"})
		return
	}

	results := make([]cycle.StepResult, 0, len(req.Steps))
	for _, st := range req.Steps {
		parsed, err := status.ParseStepStatus(st.Status)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		results = append(results, cycle.StepResult{StepID: st.StepID, Status: parsed, Comment: st.Comment})
	}

	view, err := s.bridge.CompleteManual(c.Request.Context(), orgID(c), c.Param("id"), c.Param("itemID"), results)
	if err != nil {
		fail(c, err)
		return
	}

	if err := billing.Record(s.db, orgID(c), models.UsageManualRun, view.ID, 1); err != nil {
		log.Printf("api: meter manual run for %s: %v", view.ID, err)
	}
	c.JSON(http.StatusOK, cycleJSON(view))
}

type executionReportReq struct {
	ExecutionID string `json:"executionId"`
	Status      string `json:"status"`
	RunID       int64  `json:"runId"`
}

// handleExecutionReport is the worker callback: a terminal status report
// for a linked execution. Redeliveries are harmless.
func (s *Server) handleExecutionReport(c *gin.Context) {
	var req executionReportReq
	if err := c.ShouldBindJSON(&req); err != nil {
		metrics.RecordExecutionReport("rejected")
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed body"})
		return
	}
	reported, err := status.ParseTerminalItemStatus(req.Status)
	if err != nil {
		metrics.RecordExecutionReport("rejected")
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	view, err := s.bridge.CompleteAutomated(c.Request.Context(), orgID(c), req.ExecutionID, reported)
	if err != nil {
		metrics.RecordExecutionReport(reportOutcome(err))
		fail(c, err)
		return
	}
	metrics.RecordExecutionReport("applied")

	s.recordExecution(c, req, reported)

	if err := billing.Record(s.db, orgID(c), models.UsageAutomatedRun, view.ID, 1); err != nil {
		log.Printf("api: meter automated run for %s: %v", view.ID, err)
	}
	c.JSON(http.StatusOK, cycleJSON(view))
}

// recordExecution updates the execution row with the outcome and, when a
// workflow run id was reported and the CI hook is configured, a run link.
func (s *Server) recordExecution(c *gin.Context, req executionReportReq, reported status.ItemStatus) {
	now := time.Now().UTC()
	updates := map[string]interface{}{"status": reported, "finished_at": now}
	if req.RunID != 0 && s.hook != nil {
		if url, err := s.hook.RunURL(c.Request.Context(), req.RunID); err == nil {
			updates["run_url"] = url
		}
	}
	s.db.Model(&models.Execution{}).
		Where("id = ? AND org_id = ?", req.ExecutionID, orgID(c)).
		Updates(updates)
}

func reportOutcome(err error) string {
	if errors.Is(err, cycle.ErrNotFound) {
		return "not_found"
	}
	return "error"
}

func (s *Server) handleWS(c *gin.Context) {
	if err := s.hub.ServeWS(c.Writer, c.Request, orgID(c)); err != nil {
		// Upgrade failures already wrote a response.
		return
	}
}
