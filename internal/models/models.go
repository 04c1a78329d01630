package models

import "time"

// Tenant is an isolated customer account. Every business and automation row
// carries its TenantID; ReadOnly blocks all mutating operations.
type Tenant struct {
	ID        string    `gorm:"primaryKey;size:32" json:"id"`
	Name      string    `gorm:"size:200;not null" json:"name"`
	ReadOnly  bool      `gorm:"default:false" json:"read_only"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Lead is an inbound sales/service inquiry.
type Lead struct {
	ID          string     `gorm:"primaryKey;size:32" json:"id"`
	TenantID    string     `gorm:"index;size:32;not null" json:"tenant_id"`
	Name        string     `gorm:"size:200" json:"name"`
	Status      string     `gorm:"size:32;default:'new';index" json:"status"` // new, screening, qualified, negotiating, won, lost, archived
	Priority    string     `gorm:"size:16;default:'normal'" json:"priority"`  // low, normal, high
	AssignedTo  string     `gorm:"size:128" json:"assigned_to"`
	Pinned      bool       `gorm:"default:false" json:"pinned"`
	ResponseDue *time.Time `gorm:"index" json:"response_due"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Task is a unit of follow-up work, created manually or by the automation
// engine. Engine-created tasks carry rule/run provenance.
type Task struct {
	ID        string    `gorm:"primaryKey;size:32" json:"id"`
	TenantID  string    `gorm:"index;size:32;not null" json:"tenant_id"`
	Title     string    `gorm:"size:300;not null" json:"title"`
	Status    string    `gorm:"size:32;default:'open';index" json:"status"` // open, in_progress, blocked, done
	LeadID    string    `gorm:"size:32;index" json:"lead_id"`
	Source    string    `gorm:"size:32;default:'manual'" json:"source"` // manual, automation
	RuleID    string    `gorm:"size:32" json:"rule_id"`
	RunID     string    `gorm:"size:32" json:"run_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AuditEvent is an append-only trace record. Engine payloads always include
// run_id and rule_id.
type AuditEvent struct {
	ID         string    `gorm:"primaryKey;size:32" json:"id"`
	TenantID   string    `gorm:"index;size:32;not null" json:"tenant_id"`
	EventType  string    `gorm:"size:64;index" json:"event_type"`
	EntityType string    `gorm:"size:32" json:"entity_type"`
	EntityID   string    `gorm:"size:32;index" json:"entity_id"`
	Payload    string    `gorm:"type:text" json:"payload"` // canonical JSON
	CreatedAt  time.Time `json:"created_at"`
}
