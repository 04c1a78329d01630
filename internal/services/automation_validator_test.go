package services

import (
	"strings"
	"testing"
)

func TestValidateCondition_Bounds(t *testing.T) {
	tests := []struct {
		name    string
		kind    string
		raw     string
		wantErr bool
	}{
		{"lead_overdue ok", ConditionLeadOverdue, `{"days_overdue":3}`, false},
		{"lead_overdue zero", ConditionLeadOverdue, `{"days_overdue":0}`, false},
		{"lead_overdue negative", ConditionLeadOverdue, `{"days_overdue":-1}`, true},
		{"lead_overdue too large", ConditionLeadOverdue, `{"days_overdue":366}`, true},
		{"lead_overdue bad status", ConditionLeadOverdue, `{"days_overdue":1,"status_in":["bogus"]}`, true},
		{"lead_overdue unknown field", ConditionLeadOverdue, `{"days_overdue":1,"surprise":true}`, true},
		{"lead_overdue trailing data", ConditionLeadOverdue, `{"days_overdue":1}{}`, true},
		{"screening ok", ConditionLeadScreeningStale, `{"hours_in_screening":48}`, false},
		{"screening zero", ConditionLeadScreeningStale, `{"hours_in_screening":0}`, true},
		{"screening too large", ConditionLeadScreeningStale, `{"hours_in_screening":721}`, true},
		{"high_unassigned ok", ConditionLeadHighUnassigned, `{"hours_since_created":0}`, false},
		{"high_unassigned too large", ConditionLeadHighUnassigned, `{"hours_since_created":721}`, true},
		{"task_overdue ok", ConditionTaskOverdue, `{"days_overdue":7,"status_in":["open"]}`, false},
		{"task_overdue lead vocab rejected", ConditionTaskOverdue, `{"days_overdue":7,"status_in":["screening"]}`, true},
		{"unknown kind", "lead_full_moon", `{}`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ValidateCondition(tt.kind, []byte(tt.raw))
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidateCondition(%s) error = %v, wantErr %v", tt.name, err, tt.wantErr)
			}
			if err != nil && !IsValidation(err) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}

func TestConditionCanonicalJSON_Deterministic(t *testing.T) {
	// Same logical condition submitted with different key order and
	// duplicated, unsorted enum values.
	a, err := ValidateCondition(ConditionLeadOverdue, []byte(`{"status_in":["screening","new","screening"],"days_overdue":2}`))
	if err != nil {
		t.Fatalf("validate a: %v", err)
	}
	b, err := ValidateCondition(ConditionLeadOverdue, []byte(`{"days_overdue":2,"status_in":["new","screening"]}`))
	if err != nil {
		t.Fatalf("validate b: %v", err)
	}
	ja, err := a.CanonicalJSON()
	if err != nil {
		t.Fatalf("canonical a: %v", err)
	}
	jb, err := b.CanonicalJSON()
	if err != nil {
		t.Fatalf("canonical b: %v", err)
	}
	if ja != jb {
		t.Fatalf("canonical forms differ:\n%s\n%s", ja, jb)
	}
	if !strings.Contains(ja, `["new","screening"]`) {
		t.Fatalf("expected sorted deduped status_in, got %s", ja)
	}
}

func TestConditionCanonicalJSON_EmptyFilterOmitted(t *testing.T) {
	cond, err := ValidateCondition(ConditionLeadOverdue, []byte(`{"days_overdue":1,"status_in":[]}`))
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	out, err := cond.CanonicalJSON()
	if err != nil {
		t.Fatalf("canonical: %v", err)
	}
	if strings.Contains(out, "status_in") {
		t.Fatalf("empty status_in should be omitted, got %s", out)
	}
}

func TestValidateActions(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantErr bool
	}{
		{"create_task ok", `[{"kind":"create_task","create_task":{"title_template":"Follow up {lead_name}"}}]`, false},
		{"empty list", `[]`, true},
		{"unknown kind", `[{"kind":"delete_lead"}]`, true},
		{"missing params", `[{"kind":"create_task"}]`, true},
		{"two params objects", `[{"kind":"create_task","create_task":{"title_template":"x"},"lead_pin":{"pinned":true}}]`, true},
		{"mismatched params", `[{"kind":"create_task","lead_pin":{"pinned":true}}]`, true},
		{"empty title", `[{"kind":"create_task","create_task":{"title_template":""}}]`, true},
		{"bad priority", `[{"kind":"lead_set_priority","lead_set_priority":{"priority":"urgent"}}]`, true},
		{"pin ok", `[{"kind":"lead_pin","lead_pin":{"pinned":false}}]`, false},
		{"assign ok", `[{"kind":"lead_assign","lead_assign":{"assignee":"agent-7"}}]`, false},
		{"response_due zero hours", `[{"kind":"lead_set_response_due","lead_set_response_due":{"hours":0}}]`, true},
		{"response_due ok", `[{"kind":"lead_set_response_due","lead_set_response_due":{"hours":24}}]`, false},
		{"note ok", `[{"kind":"lead_add_event","lead_add_event":{"note":"ping"}}]`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ValidateActions([]byte(tt.raw))
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidateActions(%s) error = %v, wantErr %v", tt.name, err, tt.wantErr)
			}
		})
	}
}

func TestValidateActions_TooMany(t *testing.T) {
	item := `{"kind":"lead_pin","lead_pin":{"pinned":true}}`
	items := make([]string, MaxActionsPerRule+1)
	for i := range items {
		items[i] = item
	}
	raw := "[" + strings.Join(items, ",") + "]"
	if _, err := ValidateActions([]byte(raw)); err == nil {
		t.Fatal("expected error for oversized action list")
	}
}

func TestCanonicalActions_RoundTripStable(t *testing.T) {
	// Canonicalizing already-canonical JSON must be a fixed point.
	raw := `[{"create_task":{"title_template":"Call {lead_name}"},"kind":"create_task"},{"kind":"lead_pin","lead_pin":{"pinned":true}}]`
	actions, err := ValidateActions([]byte(raw))
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	first, err := CanonicalActions(actions)
	if err != nil {
		t.Fatalf("canonical: %v", err)
	}
	again, err := ValidateActions([]byte(first))
	if err != nil {
		t.Fatalf("re-validate canonical form: %v", err)
	}
	second, err := CanonicalActions(again)
	if err != nil {
		t.Fatalf("re-canonicalize: %v", err)
	}
	if first != second {
		t.Fatalf("canonical form not stable:\n%s\n%s", first, second)
	}
}
