package services

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"leadflow/internal/models"
	"leadflow/pkg/utils"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func newAutomationTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	err = db.AutoMigrate(
		&models.Tenant{}, &models.Lead{}, &models.Task{}, &models.AuditEvent{},
		&models.AutomationRule{}, &models.AutomationRun{}, &models.AutomationRunAction{},
	)
	if err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return db
}

func seedTenant(t *testing.T, db *gorm.DB, readOnly bool) *models.Tenant {
	t.Helper()
	tenant := &models.Tenant{
		ID:        utils.GenerateID(),
		Name:      "acme",
		ReadOnly:  readOnly,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	if err := db.Create(tenant).Error; err != nil {
		t.Fatalf("failed to seed tenant: %v", err)
	}
	return tenant
}

func newRuleService(db *gorm.DB) *AutomationRuleService {
	return NewAutomationRuleService(db, NewWriteLock(), NewAuditService(db), logrus.New())
}

func validRuleRequest() *AutomationRuleCreateRequest {
	return &AutomationRuleCreateRequest{
		Name:          "Chase overdue leads",
		Scope:         "leads",
		ConditionKind: ConditionLeadOverdue,
		Condition:     json.RawMessage(`{"days_overdue":1,"status_in":["screening","new"]}`),
		Actions:       json.RawMessage(`[{"kind":"create_task","create_task":{"title_template":"Follow up {lead_name}"}}]`),
	}
}

func TestCreateRule_PersistsCanonicalFormAndAudit(t *testing.T) {
	db := newAutomationTestDB(t)
	tenant := seedTenant(t, db, false)
	svc := newRuleService(db)

	rule, err := svc.CreateRule(context.Background(), tenant.ID, validRuleRequest(), "user-1")
	if err != nil {
		t.Fatalf("CreateRule failed: %v", err)
	}
	if !rule.Enabled {
		t.Fatal("new rule should be enabled")
	}
	if rule.Condition != `{"days_overdue":1,"status_in":["new","screening"]}` {
		t.Fatalf("condition not canonical: %s", rule.Condition)
	}

	var stored models.AutomationRule
	if err := db.Where("id = ?", rule.ID).First(&stored).Error; err != nil {
		t.Fatalf("rule not persisted: %v", err)
	}
	if stored.ActionList != rule.ActionList {
		t.Fatalf("stored action list mismatch: %s", stored.ActionList)
	}

	var events []models.AuditEvent
	if err := db.Where("tenant_id = ? AND entity_id = ?", tenant.ID, rule.ID).Find(&events).Error; err != nil {
		t.Fatalf("failed to load audit events: %v", err)
	}
	if len(events) != 1 || events[0].EventType != EventRuleCreated {
		t.Fatalf("expected one rule_created event, got %+v", events)
	}
}

func TestCreateRule_InvalidDefinitionRejected(t *testing.T) {
	db := newAutomationTestDB(t)
	tenant := seedTenant(t, db, false)
	svc := newRuleService(db)

	req := validRuleRequest()
	req.Actions = json.RawMessage(`[{"kind":"delete_everything"}]`)
	if _, err := svc.CreateRule(context.Background(), tenant.ID, req, "user-1"); !IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}

	var count int64
	db.Model(&models.AutomationRule{}).Count(&count)
	if count != 0 {
		t.Fatalf("invalid rule must not persist, found %d rows", count)
	}
}

func TestCreateRule_ReadOnlyTenantRejected(t *testing.T) {
	db := newAutomationTestDB(t)
	tenant := seedTenant(t, db, true)
	svc := newRuleService(db)

	_, err := svc.CreateRule(context.Background(), tenant.ID, validRuleRequest(), "user-1")
	if !errors.Is(err, ErrReadOnly) {
		t.Fatalf("expected ErrReadOnly, got %v", err)
	}

	var rules, events int64
	db.Model(&models.AutomationRule{}).Count(&rules)
	db.Model(&models.AuditEvent{}).Count(&events)
	if rules != 0 || events != 0 {
		t.Fatalf("read-only rejection must leave no rows: rules=%d events=%d", rules, events)
	}
}

func TestToggleRule(t *testing.T) {
	db := newAutomationTestDB(t)
	tenant := seedTenant(t, db, false)
	svc := newRuleService(db)

	rule, err := svc.CreateRule(context.Background(), tenant.ID, validRuleRequest(), "user-1")
	if err != nil {
		t.Fatalf("CreateRule failed: %v", err)
	}

	toggled, err := svc.ToggleRule(context.Background(), tenant.ID, rule.ID, false, "user-2")
	if err != nil {
		t.Fatalf("ToggleRule failed: %v", err)
	}
	if toggled.Enabled {
		t.Fatal("rule should be disabled")
	}

	enabled, err := svc.EnabledRules(context.Background(), tenant.ID)
	if err != nil {
		t.Fatalf("EnabledRules failed: %v", err)
	}
	if len(enabled) != 0 {
		t.Fatalf("disabled rule must not appear in enabled set, got %d", len(enabled))
	}

	if _, err := svc.ToggleRule(context.Background(), tenant.ID, "missing", true, "user-2"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for missing rule, got %v", err)
	}
}

func TestDeleteRule(t *testing.T) {
	db := newAutomationTestDB(t)
	tenant := seedTenant(t, db, false)
	svc := newRuleService(db)

	rule, err := svc.CreateRule(context.Background(), tenant.ID, validRuleRequest(), "user-1")
	if err != nil {
		t.Fatalf("CreateRule failed: %v", err)
	}
	if err := svc.DeleteRule(context.Background(), tenant.ID, rule.ID, "user-1"); err != nil {
		t.Fatalf("DeleteRule failed: %v", err)
	}
	if _, err := svc.GetRule(context.Background(), tenant.ID, rule.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
	if err := svc.DeleteRule(context.Background(), tenant.ID, rule.ID, "user-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}
}

func TestMarkRuleInvalid_DisablesAndRecordsError(t *testing.T) {
	db := newAutomationTestDB(t)
	tenant := seedTenant(t, db, false)
	svc := newRuleService(db)

	rule, err := svc.CreateRule(context.Background(), tenant.ID, validRuleRequest(), "user-1")
	if err != nil {
		t.Fatalf("CreateRule failed: %v", err)
	}

	svc.MarkRuleInvalid(context.Background(), tenant.ID, rule.ID, "condition no longer valid")

	reloaded, err := svc.GetRule(context.Background(), tenant.ID, rule.ID)
	if err != nil {
		t.Fatalf("GetRule failed: %v", err)
	}
	if reloaded.Enabled {
		t.Fatal("invalid rule should be disabled")
	}
	if reloaded.LastError == "" || reloaded.LastErrorAt == nil {
		t.Fatalf("expected last_error recorded, got %+v", reloaded)
	}
}
