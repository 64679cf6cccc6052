package store

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/verdantqa/greenlight/internal/cycle"
	"github.com/verdantqa/greenlight/internal/db"
	"github.com/verdantqa/greenlight/internal/models"
	"github.com/verdantqa/greenlight/internal/status"
	"gorm.io/gorm"
)

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	gdb, err := db.ConnectSQLite(":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(gdb); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return gdb
}

func seedOrg(t *testing.T, gdb *gorm.DB, name string) string {
	t.Helper()
	org := models.Organization{ID: uuid.NewString(), Name: name, Slug: name}
	if err := gdb.Create(&org).Error; err != nil {
		t.Fatalf("seed org: %v", err)
	}
	return org.ID
}

func seedCase(t *testing.T, gdb *gorm.DB, orgID, title string, steps []models.CaseStep) string {
	t.Helper()
	raw, err := json.Marshal(steps)
	if err != nil {
		t.Fatalf("marshal steps: %v", err)
	}
	tc := models.TestCase{
		ID:    uuid.NewString(),
		OrgID: orgID,
		Title: title,
		Steps: string(raw),
	}
	if err := gdb.Create(&tc).Error; err != nil {
		t.Fatalf("seed case: %v", err)
	}
	return tc.ID
}

// seedHybrid creates a cycle with one two-step manual item and one
// automated item, returning (store, orgID, view).
func seedHybrid(t *testing.T) (*Store, string, *cycle.View) {
	t.Helper()
	gdb := testDB(t)
	s := New(gdb)
	orgID := seedOrg(t, gdb, "acme")
	caseID := seedCase(t, gdb, orgID, "login flow", []models.CaseStep{
		{Action: "open login page", ExpectedResult: "form renders"},
		{Action: "submit credentials", ExpectedResult: "dashboard loads"},
	})

	view, err := s.CreateCycle(context.Background(), CreateCycleOpts{
		OrgID:          orgID,
		Name:           "release 1.4",
		TestCaseIDs:    []string{caseID},
		AutomatedTitle: "api suite",
		ExecutionID:    "ex-1",
	})
	if err != nil {
		t.Fatalf("CreateCycle: %v", err)
	}
	return s, orgID, view
}

func manualItem(t *testing.T, view *cycle.View) cycle.ItemView {
	t.Helper()
	for _, it := range view.Items {
		if it.Type == status.TypeManual {
			return it
		}
	}
	t.Fatal("no manual item in view")
	return cycle.ItemView{}
}

// --- CreateCycle ---

func TestCreateCycle_MaterializesItemsAndSteps(t *testing.T) {
	s, orgID, view := seedHybrid(t)

	if len(view.Items) != 2 {
		t.Fatalf("items = %d, want 2", len(view.Items))
	}
	if view.Status != status.CyclePending {
		t.Errorf("status = %s, want PENDING", view.Status)
	}
	want := cycle.Summary{Total: 2, Passed: 0, Failed: 0, AutomationRate: 50}
	if view.Summary != want {
		t.Errorf("summary = %+v, want %+v", view.Summary, want)
	}

	mi := manualItem(t, view)
	steps, err := s.ItemSteps(context.Background(), orgID, view.ID, mi.ID)
	if err != nil {
		t.Fatalf("ItemSteps: %v", err)
	}
	if len(steps) != 2 {
		t.Fatalf("steps = %d, want 2 copied from the case", len(steps))
	}
	if steps[0].Action != "open login page" || steps[0].Status != status.StepPending {
		t.Errorf("step[0] = %+v", steps[0])
	}
}

func TestCreateCycle_RequiresItems(t *testing.T) {
	gdb := testDB(t)
	s := New(gdb)
	orgID := seedOrg(t, gdb, "acme")

	_, err := s.CreateCycle(context.Background(), CreateCycleOpts{OrgID: orgID, Name: "empty"})
	if !errors.Is(err, cycle.ErrValidation) {
		t.Fatalf("err = %v, want ErrValidation", err)
	}
}

func TestCreateCycle_UnknownCase(t *testing.T) {
	gdb := testDB(t)
	s := New(gdb)
	orgID := seedOrg(t, gdb, "acme")

	_, err := s.CreateCycle(context.Background(), CreateCycleOpts{
		OrgID: orgID, Name: "x", TestCaseIDs: []string{"nope"},
	})
	if !errors.Is(err, cycle.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestCreateCycle_CrossTenantCase(t *testing.T) {
	gdb := testDB(t)
	s := New(gdb)
	orgA := seedOrg(t, gdb, "acme")
	orgB := seedOrg(t, gdb, "rival")
	caseID := seedCase(t, gdb, orgB, "their case", nil)

	_, err := s.CreateCycle(context.Background(), CreateCycleOpts{
		OrgID: orgA, Name: "x", TestCaseIDs: []string{caseID},
	})
	if !errors.Is(err, cycle.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound for another tenant's case", err)
	}
}

// --- FindCycle / FindItemByExecution scoping ---

func TestFindCycle_CrossTenant(t *testing.T) {
	s, _, view := seedHybrid(t)

	if _, err := s.FindCycle(context.Background(), "other-org", view.ID); !errors.Is(err, cycle.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestFindItemByExecution(t *testing.T) {
	s, orgID, view := seedHybrid(t)

	cycleID, itemID, err := s.FindItemByExecution(context.Background(), orgID, "ex-1")
	if err != nil {
		t.Fatalf("FindItemByExecution: %v", err)
	}
	if cycleID != view.ID {
		t.Errorf("cycleID = %s, want %s", cycleID, view.ID)
	}
	var found bool
	for _, it := range view.Items {
		if it.ID == itemID && it.Type == status.TypeAutomated {
			found = true
		}
	}
	if !found {
		t.Errorf("itemID %s is not the automated item", itemID)
	}

	if _, _, err := s.FindItemByExecution(context.Background(), "other-org", "ex-1"); !errors.Is(err, cycle.ErrNotFound) {
		t.Errorf("cross-tenant lookup: err = %v, want ErrNotFound", err)
	}
}

// --- ApplyItemStatus ---

func TestApplyItemStatus_TouchesOneRow(t *testing.T) {
	s, orgID, view := seedHybrid(t)
	_, autoItemID, err := s.FindItemByExecution(context.Background(), orgID, "ex-1")
	if err != nil {
		t.Fatalf("FindItemByExecution: %v", err)
	}

	got, err := s.ApplyItemStatus(context.Background(), orgID, view.ID, autoItemID,
		status.ItemPassed, cycle.ItemUpdate{})
	if err != nil {
		t.Fatalf("ApplyItemStatus: %v", err)
	}
	for _, it := range got.Items {
		switch it.ID {
		case autoItemID:
			if it.Status != status.ItemPassed {
				t.Errorf("automated item = %s, want PASSED", it.Status)
			}
		default:
			if it.Status != status.ItemPending {
				t.Errorf("sibling item = %s, want untouched PENDING", it.Status)
			}
		}
	}
}

func TestApplyItemStatus_WritesSteps(t *testing.T) {
	s, orgID, view := seedHybrid(t)
	mi := manualItem(t, view)
	steps, err := s.ItemSteps(context.Background(), orgID, view.ID, mi.ID)
	if err != nil {
		t.Fatalf("ItemSteps: %v", err)
	}

	upd := cycle.ItemUpdate{Steps: []cycle.StepResult{
		{StepID: steps[0].ID, Status: status.StepPassed, Comment: "ok"},
		{StepID: steps[1].ID, Status: status.StepFailed, Comment: "dashboard 500"},
	}}
	if _, err := s.ApplyItemStatus(context.Background(), orgID, view.ID, mi.ID, status.ItemFailed, upd); err != nil {
		t.Fatalf("ApplyItemStatus: %v", err)
	}

	after, err := s.ItemSteps(context.Background(), orgID, view.ID, mi.ID)
	if err != nil {
		t.Fatalf("ItemSteps: %v", err)
	}
	if after[1].Status != status.StepFailed || after[1].Comment != "dashboard 500" {
		t.Errorf("step[1] = %+v", after[1])
	}
}

func TestApplyItemStatus_UnknownItem(t *testing.T) {
	s, orgID, view := seedHybrid(t)

	_, err := s.ApplyItemStatus(context.Background(), orgID, view.ID, "nope",
		status.ItemPassed, cycle.ItemUpdate{})
	if !errors.Is(err, cycle.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestApplyItemStatus_PartialChecklistRejected(t *testing.T) {
	s, orgID, view := seedHybrid(t)
	mi := manualItem(t, view)
	steps, err := s.ItemSteps(context.Background(), orgID, view.ID, mi.ID)
	if err != nil {
		t.Fatalf("ItemSteps: %v", err)
	}

	// One of two checklist steps submitted: the write must be refused, or
	// the item would read PASSED while its other step is still PENDING.
	upd := cycle.ItemUpdate{Steps: []cycle.StepResult{
		{StepID: steps[0].ID, Status: status.StepPassed},
	}}
	_, err = s.ApplyItemStatus(context.Background(), orgID, view.ID, mi.ID, status.ItemPassed, upd)
	if !errors.Is(err, cycle.ErrValidation) {
		t.Fatalf("err = %v, want ErrValidation for partial checklist", err)
	}

	after, err := s.FindCycle(context.Background(), orgID, view.ID)
	if err != nil {
		t.Fatalf("FindCycle: %v", err)
	}
	for _, it := range after.Items {
		if it.ID == mi.ID && it.Status != status.ItemPending {
			t.Errorf("item status = %s, want PENDING after rejected submission", it.Status)
		}
	}
	stepsAfter, err := s.ItemSteps(context.Background(), orgID, view.ID, mi.ID)
	if err != nil {
		t.Fatalf("ItemSteps: %v", err)
	}
	for _, st := range stepsAfter {
		if st.Status != status.StepPending {
			t.Errorf("step %s = %s, want untouched PENDING", st.ID, st.Status)
		}
	}
}

func TestApplyItemStatus_DuplicateStepRejected(t *testing.T) {
	s, orgID, view := seedHybrid(t)
	mi := manualItem(t, view)
	steps, err := s.ItemSteps(context.Background(), orgID, view.ID, mi.ID)
	if err != nil {
		t.Fatalf("ItemSteps: %v", err)
	}

	upd := cycle.ItemUpdate{Steps: []cycle.StepResult{
		{StepID: steps[0].ID, Status: status.StepPassed},
		{StepID: steps[0].ID, Status: status.StepFailed},
	}}
	_, err = s.ApplyItemStatus(context.Background(), orgID, view.ID, mi.ID, status.ItemFailed, upd)
	if !errors.Is(err, cycle.ErrValidation) {
		t.Fatalf("err = %v, want ErrValidation for duplicated step", err)
	}
}

func TestApplyItemStatus_StepsAgainstAutomatedItem(t *testing.T) {
	s, orgID, view := seedHybrid(t)
	_, autoItemID, err := s.FindItemByExecution(context.Background(), orgID, "ex-1")
	if err != nil {
		t.Fatalf("FindItemByExecution: %v", err)
	}

	// A manual completion aimed at the automated item must not bypass the
	// execution-report path, even with an empty step list.
	upd := cycle.ItemUpdate{Steps: []cycle.StepResult{}}
	_, err = s.ApplyItemStatus(context.Background(), orgID, view.ID, autoItemID, status.ItemPassed, upd)
	if !errors.Is(err, cycle.ErrValidation) {
		t.Fatalf("err = %v, want ErrValidation for non-manual target", err)
	}

	after, err := s.FindCycle(context.Background(), orgID, view.ID)
	if err != nil {
		t.Fatalf("FindCycle: %v", err)
	}
	for _, it := range after.Items {
		if it.ID == autoItemID && it.Status != status.ItemPending {
			t.Errorf("automated item = %s, want untouched PENDING", it.Status)
		}
	}
}

func TestApplyItemStatus_UnknownStepRollsBack(t *testing.T) {
	s, orgID, view := seedHybrid(t)
	mi := manualItem(t, view)

	upd := cycle.ItemUpdate{Steps: []cycle.StepResult{{StepID: "nope", Status: status.StepPassed}}}
	_, err := s.ApplyItemStatus(context.Background(), orgID, view.ID, mi.ID, status.ItemPassed, upd)
	if !errors.Is(err, cycle.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}

	// The transaction rolled back: the item status write did not stick.
	after, err := s.FindCycle(context.Background(), orgID, view.ID)
	if err != nil {
		t.Fatalf("FindCycle: %v", err)
	}
	for _, it := range after.Items {
		if it.ID == mi.ID && it.Status != status.ItemPending {
			t.Errorf("item status = %s, want rollback to PENDING", it.Status)
		}
	}
}

// --- RecordSummary versioning ---

func TestRecordSummary_VersionConflict(t *testing.T) {
	s, orgID, view := seedHybrid(t)

	sum := cycle.Summary{Total: 2, Passed: 1, AutomationRate: 50}
	if err := s.RecordSummary(context.Background(), orgID, view.ID, sum, status.CycleRunning, view.Version); err != nil {
		t.Fatalf("first RecordSummary: %v", err)
	}

	// Same stale version again: conflict.
	err := s.RecordSummary(context.Background(), orgID, view.ID, sum, status.CycleRunning, view.Version)
	if !errors.Is(err, cycle.ErrConflict) {
		t.Fatalf("err = %v, want ErrConflict", err)
	}

	// Fresh read carries the bumped version and succeeds.
	fresh, err := s.FindCycle(context.Background(), orgID, view.ID)
	if err != nil {
		t.Fatalf("FindCycle: %v", err)
	}
	if fresh.Version != view.Version+1 {
		t.Errorf("version = %d, want %d", fresh.Version, view.Version+1)
	}
	if err := s.RecordSummary(context.Background(), orgID, view.ID, sum, status.CycleRunning, fresh.Version); err != nil {
		t.Errorf("RecordSummary with fresh version: %v", err)
	}
}

func TestRecordSummary_UnknownCycle(t *testing.T) {
	s, orgID, _ := seedHybrid(t)

	err := s.RecordSummary(context.Background(), orgID, "nope", cycle.Summary{}, status.CyclePending, 0)
	if !errors.Is(err, cycle.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

// --- DeleteCycle ---

func TestDeleteCycle_RemovesAggregate(t *testing.T) {
	s, orgID, view := seedHybrid(t)

	if err := s.DeleteCycle(context.Background(), orgID, view.ID); err != nil {
		t.Fatalf("DeleteCycle: %v", err)
	}
	if _, err := s.FindCycle(context.Background(), orgID, view.ID); !errors.Is(err, cycle.ErrNotFound) {
		t.Errorf("cycle still findable after delete: %v", err)
	}

	var itemCount, stepCount int64
	s.db.Model(&models.CycleItem{}).Where("cycle_id = ?", view.ID).Count(&itemCount)
	s.db.Model(&models.ManualStep{}).Count(&stepCount)
	if itemCount != 0 || stepCount != 0 {
		t.Errorf("leftover rows: items=%d steps=%d", itemCount, stepCount)
	}
}

func TestDeleteCycle_CrossTenant(t *testing.T) {
	s, _, view := seedHybrid(t)

	if err := s.DeleteCycle(context.Background(), "other-org", view.ID); !errors.Is(err, cycle.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

// --- Bridge against the real store ---

func TestBridge_EndToEndOverSQLite(t *testing.T) {
	s, orgID, view := seedHybrid(t)
	notifier := &captureNotifier{}
	bridge := cycle.NewBridge(s, notifier)

	// Worker reports the automated run.
	v, err := bridge.CompleteAutomated(context.Background(), orgID, "ex-1", status.ItemPassed)
	if err != nil {
		t.Fatalf("CompleteAutomated: %v", err)
	}
	if v.Status != status.CycleRunning || v.Summary.Passed != 1 {
		t.Errorf("after automated: status=%s summary=%+v", v.Status, v.Summary)
	}

	// Human submits the checklist.
	mi := manualItem(t, view)
	steps, err := s.ItemSteps(context.Background(), orgID, view.ID, mi.ID)
	if err != nil {
		t.Fatalf("ItemSteps: %v", err)
	}
	results := []cycle.StepResult{
		{StepID: steps[0].ID, Status: status.StepPassed},
		{StepID: steps[1].ID, Status: status.StepSkipped, Comment: "env quirk"},
	}
	v, err = bridge.CompleteManual(context.Background(), orgID, view.ID, mi.ID, results)
	if err != nil {
		t.Fatalf("CompleteManual: %v", err)
	}
	if v.Status != status.CycleCompleted {
		t.Errorf("status = %s, want COMPLETED", v.Status)
	}
	want := cycle.Summary{Total: 2, Passed: 2, Failed: 0, AutomationRate: 50}
	if v.Summary != want {
		t.Errorf("summary = %+v, want %+v (pass+skip steps still pass)", v.Summary, want)
	}
	if len(notifier.events) != 2 {
		t.Errorf("published %d events, want 2", len(notifier.events))
	}

	// Persisted cache agrees with the recomputed result.
	persisted, err := s.FindCycle(context.Background(), orgID, view.ID)
	if err != nil {
		t.Fatalf("FindCycle: %v", err)
	}
	if persisted.Summary != want || persisted.Status != status.CycleCompleted {
		t.Errorf("persisted = (%+v, %s)", persisted.Summary, persisted.Status)
	}
}

type captureNotifier struct {
	events []cycle.Event
}

func (c *captureNotifier) Publish(_ string, ev cycle.Event) error {
	c.events = append(c.events, ev)
	return nil
}
