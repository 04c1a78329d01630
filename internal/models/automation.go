package models

import "time"

// Run lifecycle statuses. Running is the only non-terminal state.
const (
	RunStatusRunning = "running"
	RunStatusOK      = "ok"
	RunStatusAborted = "aborted"
	RunStatusError   = "error"
)

// Per-action outcomes recorded on AutomationRunAction rows.
const (
	ActionStatusOK      = "ok"
	ActionStatusSkipped = "skipped"
	ActionStatusError   = "error"
)

// Run abort reasons.
const (
	AbortReasonMaxActions = "max_actions"
	AbortReasonReadOnly   = "read_only"
)

// AutomationRule is a stored condition/action definition. Condition and
// ActionList hold canonical JSON produced by the validator so downstream
// hashing is stable regardless of client key order.
type AutomationRule struct {
	ID            string     `gorm:"primaryKey;size:32" json:"id"`
	TenantID      string     `gorm:"index;size:32;not null" json:"tenant_id"`
	Enabled       bool       `gorm:"default:true" json:"enabled"`
	Name          string     `gorm:"size:200;not null" json:"name"`
	Scope         string     `gorm:"size:32" json:"scope"`
	ConditionKind string     `gorm:"size:64;not null" json:"condition_kind"`
	Condition     string     `gorm:"type:text" json:"condition"`   // canonical JSON object
	ActionList    string     `gorm:"type:text" json:"action_list"` // canonical JSON array
	CreatedBy     string     `gorm:"size:32" json:"created_by"`
	LastError     string     `gorm:"size:500" json:"last_error"`
	LastErrorAt   *time.Time `json:"last_error_at"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `gorm:"index" json:"updated_at"`
}

// AutomationRun is one execution pass over a tenant's enabled rules. One row
// per invocation: created at start (status=running), updated exactly once at
// the end.
type AutomationRun struct {
	ID              string     `gorm:"primaryKey;size:32" json:"id"`
	TenantID        string     `gorm:"index;size:32;not null" json:"tenant_id"`
	TriggeredBy     string     `gorm:"size:32" json:"triggered_by"`
	Status          string     `gorm:"size:16;index" json:"status"` // running, ok, aborted, error
	MaxActions      int        `json:"max_actions"`
	ActionsExecuted int        `json:"actions_executed"`
	AbortedReason   string     `gorm:"size:64" json:"aborted_reason"`
	Warnings        string     `gorm:"type:text" json:"warnings"` // JSON array of strings
	StartedAt       time.Time  `json:"started_at"`
	FinishedAt      *time.Time `json:"finished_at"`
}

// AutomationRunAction is the idempotency reservation plus outcome record for
// one (rule, action, target) triple. The composite unique index is the
// reservation key: a second insert for the same key within a run is ignored.
type AutomationRunAction struct {
	ID               string    `gorm:"primaryKey;size:32" json:"id"`
	TenantID         string    `gorm:"size:32;not null;uniqueIndex:idx_run_action_dedup" json:"tenant_id"`
	RunID            string    `gorm:"size:32;not null;index;uniqueIndex:idx_run_action_dedup" json:"run_id"`
	RuleID           string    `gorm:"size:32;not null;uniqueIndex:idx_run_action_dedup" json:"rule_id"`
	ActionHash       string    `gorm:"size:64;not null;uniqueIndex:idx_run_action_dedup" json:"action_hash"`
	TargetEntityType string    `gorm:"size:16" json:"target_entity_type"`
	TargetEntityID   string    `gorm:"size:32" json:"target_entity_id"`
	ActionKind       string    `gorm:"size:64" json:"action_kind"`
	Status           string    `gorm:"size:16" json:"status"` // ok, skipped, error
	Error            string    `gorm:"size:500" json:"error"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}
