package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/verdantqa/greenlight/internal/alert"
	"github.com/verdantqa/greenlight/internal/auth"
	"github.com/verdantqa/greenlight/internal/cycle"
	"github.com/verdantqa/greenlight/internal/db"
	"github.com/verdantqa/greenlight/internal/hub"
	"github.com/verdantqa/greenlight/internal/models"
	"github.com/verdantqa/greenlight/internal/store"
	"gorm.io/gorm"
)

const testSecret = "test-secret"

type testEnv struct {
	db     *gorm.DB
	router *gin.Engine
	orgID  string
	token  string
}

func newEnv(t *testing.T) *testEnv {
	t.Helper()
	gdb, err := db.ConnectSQLite(":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(gdb); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	org := models.Organization{ID: uuid.NewString(), Name: "Acme QA", Slug: "acme"}
	if err := gdb.Create(&org).Error; err != nil {
		t.Fatal(err)
	}

	st := store.New(gdb)
	h := hub.New()
	t.Cleanup(h.Close)
	dispatcher := alert.NewDispatcher(h, IntegrationChannel(gdb))
	bridge := cycle.NewBridge(st, dispatcher)

	_, router, err := New(Opts{
		DB:     gdb,
		Store:  st,
		Bridge: bridge,
		Hub:    h,
		Secret: testSecret,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	return &testEnv{
		db:     gdb,
		router: router,
		orgID:  org.ID,
		token:  mintToken(t, gdb, org.ID),
	}
}

func mintToken(t *testing.T, gdb *gorm.DB, orgID string) string {
	t.Helper()
	tokenID := uuid.NewString()
	rec := models.APIToken{
		ID:        tokenID,
		OrgID:     orgID,
		Label:     "test",
		CreatedAt: time.Now(),
		ExpiresAt: time.Now().Add(time.Hour),
	}
	if err := gdb.Create(&rec).Error; err != nil {
		t.Fatal(err)
	}
	token, err := auth.Mint(testSecret, orgID, "", tokenID, time.Hour)
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	return token
}

// do runs an authenticated JSON request and returns the recorder.
func (e *testEnv) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	return e.doAs(t, e.token, method, path, body)
}

func (e *testEnv) doAs(t *testing.T, token, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, into interface{}) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), into); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
}

// createHybridCycle seeds a case via the API, creates a hybrid cycle and
// returns (cycleID, manualItemID, executionID).
func (e *testEnv) createHybridCycle(t *testing.T) (string, string, string) {
	t.Helper()
	w := e.do(t, http.MethodPost, "/api/v1/cases", map[string]interface{}{
		"title": "login flow",
		"steps": []map[string]string{
			{"action": "open login", "expectedResult": "form renders"},
		},
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create case: %d %s", w.Code, w.Body.String())
	}
	var created struct {
		ID string `json:"id"`
	}
	decode(t, w, &created)

	w = e.do(t, http.MethodPost, "/api/v1/cycles", map[string]interface{}{
		"name":        "release 1.4",
		"testCaseIds": []string{created.ID},
		"automated":   map[string]string{"title": "api suite"},
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create cycle: %d %s", w.Code, w.Body.String())
	}
	var cy struct {
		ID    string `json:"id"`
		Items []struct {
			ID          string `json:"id"`
			Type        string `json:"type"`
			ExecutionID string `json:"executionId"`
		} `json:"items"`
	}
	decode(t, w, &cy)

	var manualID, execID string
	for _, it := range cy.Items {
		if it.Type == "MANUAL" {
			manualID = it.ID
		} else {
			execID = it.ExecutionID
		}
	}
	if manualID == "" || execID == "" {
		t.Fatalf("unexpected cycle items: %+v", cy.Items)
	}
	return cy.ID, manualID, execID
}

// --- Auth ---

func TestAuth_MissingToken(t *testing.T) {
	e := newEnv(t)
	w := e.doAs(t, "", http.MethodGet, "/api/v1/cycles", nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("code = %d, want 401", w.Code)
	}
}

func TestAuth_RevokedToken(t *testing.T) {
	e := newEnv(t)
	now := time.Now()
	if err := e.db.Model(&models.APIToken{}).Where("org_id = ?", e.orgID).
		Update("revoked_at", now).Error; err != nil {
		t.Fatal(err)
	}
	w := e.do(t, http.MethodGet, "/api/v1/cycles", nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("code = %d, want 401 for revoked token", w.Code)
	}
}

func TestHealthz(t *testing.T) {
	e := newEnv(t)
	w := e.doAs(t, "", http.MethodGet, "/healthz", nil)
	if w.Code != http.StatusOK {
		t.Errorf("code = %d", w.Code)
	}
}

// --- Cases CRUD ---

func TestCases_CRUD(t *testing.T) {
	e := newEnv(t)

	w := e.do(t, http.MethodPost, "/api/v1/cases", map[string]interface{}{
		"title": "checkout", "tags": []string{"payments"},
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create: %d %s", w.Code, w.Body.String())
	}
	var tc struct {
		ID string `json:"id"`
	}
	decode(t, w, &tc)

	w = e.do(t, http.MethodGet, "/api/v1/cases/"+tc.ID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get: %d", w.Code)
	}

	w = e.do(t, http.MethodPut, "/api/v1/cases/"+tc.ID, map[string]interface{}{
		"title": "checkout v2",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("update: %d %s", w.Code, w.Body.String())
	}

	w = e.do(t, http.MethodGet, "/api/v1/cases", nil)
	var list struct {
		Cases []map[string]interface{} `json:"cases"`
	}
	decode(t, w, &list)
	if len(list.Cases) != 1 || list.Cases[0]["title"] != "checkout v2" {
		t.Errorf("list = %+v", list.Cases)
	}

	w = e.do(t, http.MethodDelete, "/api/v1/cases/"+tc.ID, nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("delete: %d", w.Code)
	}
	w = e.do(t, http.MethodGet, "/api/v1/cases/"+tc.ID, nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("get after delete: %d, want 404", w.Code)
	}
}

func TestCases_CreateRequiresTitle(t *testing.T) {
	e := newEnv(t)
	w := e.do(t, http.MethodPost, "/api/v1/cases", map[string]interface{}{"description": "no title"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("code = %d, want 400", w.Code)
	}
}

func TestCases_CrossTenantIs404(t *testing.T) {
	e := newEnv(t)
	w := e.do(t, http.MethodPost, "/api/v1/cases", map[string]interface{}{"title": "mine"})
	var tc struct {
		ID string `json:"id"`
	}
	decode(t, w, &tc)

	otherOrg := models.Organization{ID: uuid.NewString(), Name: "Rival", Slug: "rival"}
	if err := e.db.Create(&otherOrg).Error; err != nil {
		t.Fatal(err)
	}
	otherToken := mintToken(t, e.db, otherOrg.ID)

	w = e.doAs(t, otherToken, http.MethodGet, "/api/v1/cases/"+tc.ID, nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("code = %d, want 404 not 403", w.Code)
	}
}

// --- Cycle lifecycle ---

func TestCycle_Lifecycle(t *testing.T) {
	e := newEnv(t)
	cycleID, manualID, execID := e.createHybridCycle(t)

	// Fresh hybrid cycle: PENDING with 50% automation.
	w := e.do(t, http.MethodGet, "/api/v1/cycles/"+cycleID, nil)
	var got struct {
		Status  string `json:"status"`
		Summary struct {
			Total          int `json:"total"`
			Passed         int `json:"passed"`
			Failed         int `json:"failed"`
			AutomationRate int `json:"automationRate"`
		} `json:"summary"`
	}
	decode(t, w, &got)
	if got.Status != "PENDING" || got.Summary.Total != 2 || got.Summary.AutomationRate != 50 {
		t.Fatalf("fresh cycle = %+v", got)
	}

	// Worker reports the automated run: cycle is RUNNING, one passed.
	w = e.do(t, http.MethodPost, "/api/v1/hooks/executions", map[string]interface{}{
		"executionId": execID, "status": "PASSED",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("execution report: %d %s", w.Code, w.Body.String())
	}
	decode(t, w, &got)
	if got.Status != "RUNNING" || got.Summary.Passed != 1 {
		t.Fatalf("after automated: %+v", got)
	}

	// Human submits the checklist: cycle COMPLETED, both passed.
	var stepsResp struct {
		Steps []struct {
			ID string `json:"id"`
		} `json:"steps"`
	}
	w = e.do(t, http.MethodGet, fmt.Sprintf("/api/v1/cycles/%s/items/%s/steps", cycleID, manualID), nil)
	decode(t, w, &stepsResp)
	if len(stepsResp.Steps) != 1 {
		t.Fatalf("steps = %+v", stepsResp.Steps)
	}

	w = e.do(t, http.MethodPost, fmt.Sprintf("/api/v1/cycles/%s/items/%s/manual-run", cycleID, manualID),
		map[string]interface{}{
			"steps": []map[string]string{
				{"stepId": stepsResp.Steps[0].ID, "status": "PASSED", "comment": "clean"},
			},
		})
	if w.Code != http.StatusOK {
		t.Fatalf("manual run: %d %s", w.Code, w.Body.String())
	}
	decode(t, w, &got)
	if got.Status != "COMPLETED" || got.Summary.Passed != 2 || got.Summary.Failed != 0 {
		t.Fatalf("after manual: %+v", got)
	}
	if got.Summary.AutomationRate != 50 {
		t.Errorf("automationRate = %d, want 50", got.Summary.AutomationRate)
	}
}

func TestCycle_ManualRunUnknownItem(t *testing.T) {
	e := newEnv(t)
	cycleID, _, _ := e.createHybridCycle(t)

	w := e.do(t, http.MethodPost, fmt.Sprintf("/api/v1/cycles/%s/items/%s/manual-run", cycleID, "it-nope"),
		map[string]interface{}{
			"steps": []map[string]string{{"stepId": "st-1", "status": "PASSED"}},
		})
	if w.Code != http.StatusNotFound {
		t.Errorf("code = %d, want 404", w.Code)
	}
}

func TestCycle_ManualRunPartialChecklist(t *testing.T) {
	e := newEnv(t)

	// Two-step case, so a one-step submission is incomplete.
	w := e.do(t, http.MethodPost, "/api/v1/cases", map[string]interface{}{
		"title": "signup flow",
		"steps": []map[string]string{
			{"action": "open signup", "expectedResult": "form renders"},
			{"action": "submit form", "expectedResult": "welcome page"},
		},
	})
	var created struct {
		ID string `json:"id"`
	}
	decode(t, w, &created)

	w = e.do(t, http.MethodPost, "/api/v1/cycles", map[string]interface{}{
		"name": "release 2.0", "testCaseIds": []string{created.ID},
	})
	var cy struct {
		ID    string `json:"id"`
		Items []struct {
			ID string `json:"id"`
		} `json:"items"`
	}
	decode(t, w, &cy)
	itemID := cy.Items[0].ID

	var stepsResp struct {
		Steps []struct {
			ID string `json:"id"`
		} `json:"steps"`
	}
	w = e.do(t, http.MethodGet, fmt.Sprintf("/api/v1/cycles/%s/items/%s/steps", cy.ID, itemID), nil)
	decode(t, w, &stepsResp)
	if len(stepsResp.Steps) != 2 {
		t.Fatalf("steps = %+v", stepsResp.Steps)
	}

	w = e.do(t, http.MethodPost, fmt.Sprintf("/api/v1/cycles/%s/items/%s/manual-run", cy.ID, itemID),
		map[string]interface{}{
			"steps": []map[string]string{
				{"stepId": stepsResp.Steps[0].ID, "status": "PASSED"},
			},
		})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("code = %d, want 400 for a partial checklist", w.Code)
	}

	// Nothing stuck: the item and both steps are still pending.
	w = e.do(t, http.MethodGet, "/api/v1/cycles/"+cy.ID, nil)
	var got struct {
		Status string `json:"status"`
		Items  []struct {
			Status string `json:"status"`
		} `json:"items"`
	}
	decode(t, w, &got)
	if got.Status != "PENDING" || got.Items[0].Status != "PENDING" {
		t.Errorf("after rejected submission: %+v", got)
	}
}

func TestCycle_ManualRunAgainstAutomatedItem(t *testing.T) {
	e := newEnv(t)
	cycleID, _, _ := e.createHybridCycle(t)

	w := e.do(t, http.MethodGet, "/api/v1/cycles/"+cycleID, nil)
	var cy struct {
		Items []struct {
			ID   string `json:"id"`
			Type string `json:"type"`
		} `json:"items"`
	}
	decode(t, w, &cy)
	var autoID string
	for _, it := range cy.Items {
		if it.Type == "AUTOMATED" {
			autoID = it.ID
		}
	}
	if autoID == "" {
		t.Fatalf("no automated item: %+v", cy.Items)
	}

	w = e.do(t, http.MethodPost, fmt.Sprintf("/api/v1/cycles/%s/items/%s/manual-run", cycleID, autoID),
		map[string]interface{}{"steps": []map[string]string{}})
	if w.Code != http.StatusBadRequest {
		t.Errorf("code = %d, want 400 for manual run at an automated item", w.Code)
	}
}

func TestCycle_ManualRunInvalidStatus(t *testing.T) {
	e := newEnv(t)
	cycleID, manualID, _ := e.createHybridCycle(t)

	w := e.do(t, http.MethodPost, fmt.Sprintf("/api/v1/cycles/%s/items/%s/manual-run", cycleID, manualID),
		map[string]interface{}{
			"steps": []map[string]string{{"stepId": "st-1", "status": "GREAT"}},
		})
	if w.Code != http.StatusBadRequest {
		t.Errorf("code = %d, want 400", w.Code)
	}
}

func TestCycle_ExecutionReportValidation(t *testing.T) {
	e := newEnv(t)
	_, _, execID := e.createHybridCycle(t)

	// Non-terminal status rejected.
	w := e.do(t, http.MethodPost, "/api/v1/hooks/executions", map[string]interface{}{
		"executionId": execID, "status": "RUNNING",
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("code = %d, want 400", w.Code)
	}

	// Unknown execution id is a 404.
	w = e.do(t, http.MethodPost, "/api/v1/hooks/executions", map[string]interface{}{
		"executionId": "ex-nope", "status": "PASSED",
	})
	if w.Code != http.StatusNotFound {
		t.Errorf("code = %d, want 404", w.Code)
	}
}

func TestCycle_ExecutionReportReplayIsIdempotent(t *testing.T) {
	e := newEnv(t)
	_, _, execID := e.createHybridCycle(t)

	report := map[string]interface{}{"executionId": execID, "status": "FAILED"}
	w := e.do(t, http.MethodPost, "/api/v1/hooks/executions", report)
	if w.Code != http.StatusOK {
		t.Fatalf("first report: %d", w.Code)
	}
	var first struct {
		Summary struct{ Failed int } `json:"summary"`
	}
	decode(t, w, &first)

	w = e.do(t, http.MethodPost, "/api/v1/hooks/executions", report)
	if w.Code != http.StatusOK {
		t.Fatalf("replay: %d", w.Code)
	}
	var second struct {
		Summary struct{ Failed int } `json:"summary"`
	}
	decode(t, w, &second)
	if first.Summary.Failed != 1 || second.Summary.Failed != 1 {
		t.Errorf("failed counts = %d then %d, want 1 and 1", first.Summary.Failed, second.Summary.Failed)
	}
}

func TestCycle_RenameAndDelete(t *testing.T) {
	e := newEnv(t)
	cycleID, _, _ := e.createHybridCycle(t)

	w := e.do(t, http.MethodPatch, "/api/v1/cycles/"+cycleID, map[string]string{"name": "release 1.4.1"})
	if w.Code != http.StatusOK {
		t.Fatalf("rename: %d", w.Code)
	}

	w = e.do(t, http.MethodDelete, "/api/v1/cycles/"+cycleID, nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("delete: %d", w.Code)
	}
	w = e.do(t, http.MethodGet, "/api/v1/cycles/"+cycleID, nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("get after delete: %d", w.Code)
	}
}

// --- Invitations ---

func TestInvitations_FullFlow(t *testing.T) {
	e := newEnv(t)

	w := e.do(t, http.MethodPost, "/api/v1/org/invitations", map[string]string{
		"email": "new@acme.test", "role": "admin",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create invitation: %d %s", w.Code, w.Body.String())
	}
	var inv struct {
		ID    string `json:"id"`
		Token string `json:"token"`
	}
	decode(t, w, &inv)

	// Acceptance needs no auth.
	w = e.doAs(t, "", http.MethodPost, "/api/v1/invitations/accept", map[string]string{
		"token": inv.Token, "name": "New Person",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("accept: %d %s", w.Code, w.Body.String())
	}
	var accepted struct {
		OrgID string `json:"orgId"`
		Role  string `json:"role"`
	}
	decode(t, w, &accepted)
	if accepted.OrgID != e.orgID || accepted.Role != "admin" {
		t.Errorf("accepted = %+v", accepted)
	}

	// Token is consumed.
	w = e.doAs(t, "", http.MethodPost, "/api/v1/invitations/accept", map[string]string{"token": inv.Token})
	if w.Code != http.StatusNotFound {
		t.Errorf("second accept: %d, want 404", w.Code)
	}

	// Member shows up.
	w = e.do(t, http.MethodGet, "/api/v1/org/members", nil)
	var members struct {
		Members []map[string]interface{} `json:"members"`
	}
	decode(t, w, &members)
	if len(members.Members) != 1 {
		t.Errorf("members = %+v", members.Members)
	}
}

func TestInvitations_Revoke(t *testing.T) {
	e := newEnv(t)
	w := e.do(t, http.MethodPost, "/api/v1/org/invitations", map[string]string{"email": "x@acme.test"})
	var inv struct {
		ID string `json:"id"`
	}
	decode(t, w, &inv)

	w = e.do(t, http.MethodDelete, "/api/v1/org/invitations/"+inv.ID, nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("revoke: %d", w.Code)
	}
	w = e.do(t, http.MethodGet, "/api/v1/org/invitations", nil)
	var list struct {
		Invitations []map[string]interface{} `json:"invitations"`
	}
	decode(t, w, &list)
	if len(list.Invitations) != 0 {
		t.Errorf("invitations = %+v", list.Invitations)
	}
}

// --- Integrations ---

func TestIntegrations_UpsertAndLookup(t *testing.T) {
	e := newEnv(t)

	w := e.do(t, http.MethodPut, "/api/v1/integrations/slack", map[string]interface{}{
		"settings": map[string]string{"channel": "C-QA"},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("upsert: %d %s", w.Code, w.Body.String())
	}

	// Upsert again flips enabled without duplicating the row.
	disabled := false
	w = e.do(t, http.MethodPut, "/api/v1/integrations/slack", map[string]interface{}{
		"enabled":  &disabled,
		"settings": map[string]string{"channel": "C-QA"},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("second upsert: %d", w.Code)
	}

	var count int64
	e.db.Model(&models.Integration{}).Where("org_id = ?", e.orgID).Count(&count)
	if count != 1 {
		t.Errorf("integration rows = %d, want 1", count)
	}

	lookup := IntegrationChannel(e.db)
	if _, ok := lookup(e.orgID, "slack"); ok {
		t.Error("disabled integration must not resolve")
	}

	enabled := true
	e.do(t, http.MethodPut, "/api/v1/integrations/slack", map[string]interface{}{
		"enabled":  &enabled,
		"settings": map[string]string{"channel": "C-QA"},
	})
	ch, ok := lookup(e.orgID, "slack")
	if !ok || ch != "C-QA" {
		t.Errorf("lookup = %q, %v", ch, ok)
	}
}

func TestIntegrations_UnknownKind(t *testing.T) {
	e := newEnv(t)
	w := e.do(t, http.MethodPut, "/api/v1/integrations/pagerduty", map[string]interface{}{})
	if w.Code != http.StatusBadRequest {
		t.Errorf("code = %d, want 400", w.Code)
	}
}

// --- Usage ---

func TestUsage_MetersRuns(t *testing.T) {
	e := newEnv(t)
	_, _, execID := e.createHybridCycle(t)

	e.do(t, http.MethodPost, "/api/v1/hooks/executions", map[string]interface{}{
		"executionId": execID, "status": "PASSED",
	})

	w := e.do(t, http.MethodGet, "/api/v1/usage", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("usage: %d", w.Code)
	}
	var usage struct {
		Pending int64 `json:"pending"`
	}
	decode(t, w, &usage)
	if usage.Pending != 1 {
		t.Errorf("pending = %d, want 1 unrolled record", usage.Pending)
	}
}
