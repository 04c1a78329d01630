package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"leadflow/internal/models"
	"leadflow/pkg/utils"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

func newApplier(db *gorm.DB) *ActionApplier {
	return NewActionApplier(db, NewWriteLock(), NewAuditService(db), logrus.New())
}

func seedRun(t *testing.T, db *gorm.DB, tenantID string, maxActions int) *models.AutomationRun {
	t.Helper()
	run := &models.AutomationRun{
		ID:          utils.GenerateID(),
		TenantID:    tenantID,
		TriggeredBy: "test",
		Status:      models.RunStatusRunning,
		MaxActions:  maxActions,
		StartedAt:   time.Now(),
	}
	if err := db.Create(run).Error; err != nil {
		t.Fatalf("failed to seed run: %v", err)
	}
	return run
}

func TestActionHash_StableAcrossEquivalentDefinitions(t *testing.T) {
	// Two rules that differ only in client key order canonicalize to the
	// same Action value and therefore the same hash.
	a, err := ValidateActions([]byte(`[{"kind":"lead_pin","lead_pin":{"pinned":true}}]`))
	if err != nil {
		t.Fatalf("validate a: %v", err)
	}
	b, err := ValidateActions([]byte(`[{"lead_pin":{"pinned":true},"kind":"lead_pin"}]`))
	if err != nil {
		t.Fatalf("validate b: %v", err)
	}
	target := Target{EntityType: EntityLead, EntityID: "lead-1"}
	ha, err := ActionHash(a[0], target)
	if err != nil {
		t.Fatalf("hash a: %v", err)
	}
	hb, err := ActionHash(b[0], target)
	if err != nil {
		t.Fatalf("hash b: %v", err)
	}
	if ha != hb {
		t.Fatalf("equivalent definitions must hash equal: %s vs %s", ha, hb)
	}

	other, err := ActionHash(a[0], Target{EntityType: EntityLead, EntityID: "lead-2"})
	if err != nil {
		t.Fatalf("hash other: %v", err)
	}
	if other == ha {
		t.Fatal("different targets must hash differently")
	}
}

func TestApply_CreateTaskIdempotent(t *testing.T) {
	db := newAutomationTestDB(t)
	tenant := seedTenant(t, db, false)
	lead := seedLead(t, db, tenant.ID, nil)
	run := seedRun(t, db, tenant.ID, 10)
	applier := newApplier(db)

	actions, err := ValidateActions([]byte(`[{"kind":"create_task","create_task":{"title_template":"Follow up {lead_name} ({lead_id_short})"}}]`))
	if err != nil {
		t.Fatalf("validate actions: %v", err)
	}
	target := Target{EntityType: EntityLead, EntityID: lead.ID}

	first, err := applier.Apply(context.Background(), run, "rule-1", actions[0], target, time.Now())
	if err != nil {
		t.Fatalf("first Apply failed: %v", err)
	}
	if first.Status != models.ActionStatusOK {
		t.Fatalf("expected ok, got %+v", first)
	}

	second, err := applier.Apply(context.Background(), run, "rule-1", actions[0], target, time.Now())
	if err != nil {
		t.Fatalf("second Apply failed: %v", err)
	}
	if second.Status != models.ActionStatusSkipped {
		t.Fatalf("expected skipped on replay, got %+v", second)
	}

	var tasks []models.Task
	if err := db.Where("tenant_id = ? AND source = ?", tenant.ID, "automation").Find(&tasks).Error; err != nil {
		t.Fatalf("failed to load tasks: %v", err)
	}
	if len(tasks) != 1 {
		t.Fatalf("replay must not duplicate the side effect, got %d tasks", len(tasks))
	}
	if tasks[0].RuleID != "rule-1" || tasks[0].RunID != run.ID || tasks[0].LeadID != lead.ID {
		t.Fatalf("task provenance wrong: %+v", tasks[0])
	}
	if tasks[0].Title != "Follow up "+lead.Name+" ("+utils.ShortID(lead.ID)+")" {
		t.Fatalf("template not rendered: %q", tasks[0].Title)
	}

	var reservations []models.AutomationRunAction
	if err := db.Where("run_id = ?", run.ID).Find(&reservations).Error; err != nil {
		t.Fatalf("failed to load reservations: %v", err)
	}
	if len(reservations) != 1 || reservations[0].Status != models.ActionStatusOK {
		t.Fatalf("expected one ok reservation, got %+v", reservations)
	}
}

func TestApply_LeadMutations(t *testing.T) {
	db := newAutomationTestDB(t)
	tenant := seedTenant(t, db, false)
	lead := seedLead(t, db, tenant.ID, nil)
	run := seedRun(t, db, tenant.ID, 10)
	applier := newApplier(db)
	now := time.Now()

	raw := `[
		{"kind":"lead_set_priority","lead_set_priority":{"priority":"high"}},
		{"kind":"lead_pin","lead_pin":{"pinned":true}},
		{"kind":"lead_assign","lead_assign":{"assignee":"agent-9"}},
		{"kind":"lead_set_response_due","lead_set_response_due":{"hours":24}},
		{"kind":"lead_add_event","lead_add_event":{"note":"escalated"}}
	]`
	actions, err := ValidateActions([]byte(raw))
	if err != nil {
		t.Fatalf("validate actions: %v", err)
	}
	target := Target{EntityType: EntityLead, EntityID: lead.ID}
	for _, action := range actions {
		outcome, err := applier.Apply(context.Background(), run, "rule-1", action, target, now)
		if err != nil {
			t.Fatalf("Apply(%s) failed: %v", action.Kind, err)
		}
		if outcome.Status != models.ActionStatusOK {
			t.Fatalf("Apply(%s) outcome %+v", action.Kind, outcome)
		}
	}

	var reloaded models.Lead
	if err := db.Where("id = ?", lead.ID).First(&reloaded).Error; err != nil {
		t.Fatalf("failed to reload lead: %v", err)
	}
	if reloaded.Priority != "high" || !reloaded.Pinned || reloaded.AssignedTo != "agent-9" {
		t.Fatalf("mutations not applied: %+v", reloaded)
	}
	if reloaded.ResponseDue == nil {
		t.Fatal("response_due not set")
	}
	want := now.Add(24 * time.Hour)
	if diff := reloaded.ResponseDue.Sub(want); diff < -time.Minute || diff > time.Minute {
		t.Fatalf("response_due off: got %v want ~%v", reloaded.ResponseDue, want)
	}

	// Every applied action leaves an audit event on the lead.
	var events int64
	db.Model(&models.AuditEvent{}).
		Where("tenant_id = ? AND entity_id = ? AND event_type = ?", tenant.ID, lead.ID, EventActionApplied).
		Count(&events)
	if events != int64(len(actions)) {
		t.Fatalf("expected %d audit events, got %d", len(actions), events)
	}
}

func TestApply_MissingTargetRecordsErrorOutcome(t *testing.T) {
	db := newAutomationTestDB(t)
	tenant := seedTenant(t, db, false)
	run := seedRun(t, db, tenant.ID, 10)
	applier := newApplier(db)

	actions, err := ValidateActions([]byte(`[{"kind":"lead_pin","lead_pin":{"pinned":true}}]`))
	if err != nil {
		t.Fatalf("validate actions: %v", err)
	}
	outcome, err := applier.Apply(context.Background(), run, "rule-1",
		actions[0], Target{EntityType: EntityLead, EntityID: "gone"}, time.Now())
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if outcome.Status != models.ActionStatusError || outcome.Error != "not_found" {
		t.Fatalf("expected not_found error outcome, got %+v", outcome)
	}

	var reservation models.AutomationRunAction
	if err := db.Where("run_id = ?", run.ID).First(&reservation).Error; err != nil {
		t.Fatalf("failed to load reservation: %v", err)
	}
	if reservation.Status != models.ActionStatusError {
		t.Fatalf("expected error reservation, got %+v", reservation)
	}
}

func TestApply_ReadOnlyTenantIsFatal(t *testing.T) {
	db := newAutomationTestDB(t)
	tenant := seedTenant(t, db, false)
	lead := seedLead(t, db, tenant.ID, nil)
	run := seedRun(t, db, tenant.ID, 10)
	applier := newApplier(db)

	// Flip read-only after the run started.
	if err := db.Model(&models.Tenant{}).Where("id = ?", tenant.ID).Update("read_only", true).Error; err != nil {
		t.Fatalf("failed to flip read-only: %v", err)
	}

	actions, err := ValidateActions([]byte(`[{"kind":"lead_pin","lead_pin":{"pinned":true}}]`))
	if err != nil {
		t.Fatalf("validate actions: %v", err)
	}
	outcome, err := applier.Apply(context.Background(), run, "rule-1",
		actions[0], Target{EntityType: EntityLead, EntityID: lead.ID}, time.Now())
	if !errors.Is(err, ErrReadOnly) {
		t.Fatalf("expected ErrReadOnly, got %v", err)
	}
	if outcome == nil || outcome.Status != models.ActionStatusError {
		t.Fatalf("expected error outcome, got %+v", outcome)
	}

	var reloaded models.Lead
	if err := db.Where("id = ?", lead.ID).First(&reloaded).Error; err != nil {
		t.Fatalf("failed to reload lead: %v", err)
	}
	if reloaded.Pinned {
		t.Fatal("no side effect may run against a read-only tenant")
	}
}
