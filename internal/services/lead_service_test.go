package services

import (
	"context"
	"errors"
	"testing"

	"leadflow/internal/models"

	"github.com/sirupsen/logrus"
)

func TestLeadService_CreateAndUpdate(t *testing.T) {
	db := newAutomationTestDB(t)
	tenant := seedTenant(t, db, false)
	svc := NewLeadService(db, NewWriteLock(), logrus.New())

	lead, err := svc.CreateLead(context.Background(), tenant.ID, &LeadCreateRequest{Name: "Big Corp"})
	if err != nil {
		t.Fatalf("CreateLead failed: %v", err)
	}
	if lead.Status != "new" || lead.Priority != "normal" {
		t.Fatalf("defaults not applied: %+v", lead)
	}

	status := "screening"
	pinned := true
	updated, err := svc.UpdateLead(context.Background(), tenant.ID, lead.ID, &LeadUpdateRequest{
		Status: &status,
		Pinned: &pinned,
	})
	if err != nil {
		t.Fatalf("UpdateLead failed: %v", err)
	}
	if updated.Status != "screening" || !updated.Pinned {
		t.Fatalf("update not applied: %+v", updated)
	}

	bad := "teleported"
	if _, err := svc.UpdateLead(context.Background(), tenant.ID, lead.ID, &LeadUpdateRequest{Status: &bad}); !IsValidation(err) {
		t.Fatalf("expected validation error for bad status, got %v", err)
	}
}

func TestLeadService_ReadOnlyTenant(t *testing.T) {
	db := newAutomationTestDB(t)
	tenant := seedTenant(t, db, true)
	svc := NewLeadService(db, NewWriteLock(), logrus.New())

	if _, err := svc.CreateLead(context.Background(), tenant.ID, &LeadCreateRequest{Name: "Blocked"}); !errors.Is(err, ErrReadOnly) {
		t.Fatalf("expected ErrReadOnly, got %v", err)
	}
}

func TestLeadService_ListFilters(t *testing.T) {
	db := newAutomationTestDB(t)
	tenant := seedTenant(t, db, false)
	svc := NewLeadService(db, NewWriteLock(), logrus.New())

	for _, status := range []string{"new", "screening", "screening", "won"} {
		if _, err := svc.CreateLead(context.Background(), tenant.ID, &LeadCreateRequest{Name: "L", Status: status}); err != nil {
			t.Fatalf("CreateLead failed: %v", err)
		}
	}

	leads, total, err := svc.ListLeads(context.Background(), tenant.ID, &LeadListRequest{Status: []string{"screening"}})
	if err != nil {
		t.Fatalf("ListLeads failed: %v", err)
	}
	if total != 2 || len(leads) != 2 {
		t.Fatalf("expected 2 screening leads, got total=%d len=%d", total, len(leads))
	}
}

func TestTaskService_LifecycleAndFilters(t *testing.T) {
	db := newAutomationTestDB(t)
	tenant := seedTenant(t, db, false)
	svc := NewTaskService(db, NewWriteLock(), logrus.New())

	task, err := svc.CreateTask(context.Background(), tenant.ID, &TaskCreateRequest{Title: "Call back"})
	if err != nil {
		t.Fatalf("CreateTask failed: %v", err)
	}
	if task.Status != "open" || task.Source != "manual" {
		t.Fatalf("defaults not applied: %+v", task)
	}

	moved, err := svc.SetTaskStatus(context.Background(), tenant.ID, task.ID, "done")
	if err != nil {
		t.Fatalf("SetTaskStatus failed: %v", err)
	}
	if moved.Status != "done" {
		t.Fatalf("status not updated: %+v", moved)
	}

	if _, err := svc.SetTaskStatus(context.Background(), tenant.ID, task.ID, "paused"); !IsValidation(err) {
		t.Fatalf("expected validation error for bad status, got %v", err)
	}
	if _, err := svc.SetTaskStatus(context.Background(), tenant.ID, "missing", "done"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	tasks, total, err := svc.ListTasks(context.Background(), tenant.ID, &TaskListRequest{Status: []string{"done"}})
	if err != nil {
		t.Fatalf("ListTasks failed: %v", err)
	}
	if total != 1 || tasks[0].ID != task.ID {
		t.Fatalf("filter mismatch: total=%d tasks=%+v", total, tasks)
	}

	var stored models.Task
	if err := db.Where("id = ?", task.ID).First(&stored).Error; err != nil {
		t.Fatalf("task not persisted: %v", err)
	}
}
