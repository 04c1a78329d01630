package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"leadflow/internal/models"
	"leadflow/pkg/utils"

	"gorm.io/gorm"
)

// Audit event types appended by the engine and the rule store.
const (
	EventRuleCreated   = "rule_created"
	EventRuleToggled   = "rule_toggled"
	EventRuleDeleted   = "rule_deleted"
	EventActionApplied = "automation_action_applied"
)

// AuditService appends immutable trace events. Append takes the caller's
// transaction handle so the event commits together with the mutation it
// describes; reads go through the service's own handle.
type AuditService struct {
	db *gorm.DB
}

func NewAuditService(db *gorm.DB) *AuditService { return &AuditService{db: db} }

// Append writes one audit event on tx. The payload map is serialized with
// deterministic key order.
func (s *AuditService) Append(tx *gorm.DB, tenantID, eventType, entityType, entityID string, payload map[string]interface{}) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode audit payload: %w", err)
	}
	event := &models.AuditEvent{
		ID:         utils.GenerateID(),
		TenantID:   tenantID,
		EventType:  eventType,
		EntityType: entityType,
		EntityID:   entityID,
		Payload:    string(raw),
		CreatedAt:  time.Now(),
	}
	return tx.Create(event).Error
}

// ListEvents returns the newest events for one entity.
func (s *AuditService) ListEvents(ctx context.Context, tenantID, entityID string, limit int) ([]models.AuditEvent, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var events []models.AuditEvent
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND entity_id = ?", tenantID, entityID).
		Order("created_at DESC").
		Limit(limit).
		Find(&events).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list audit events: %w", err)
	}
	return events, nil
}
