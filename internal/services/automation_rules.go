package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"leadflow/internal/models"
	"leadflow/pkg/utils"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
)

// AutomationRuleService is the tenant-scoped store for rule definitions.
// Every mutation is audited, and rule + audit event commit in one
// transaction.
type AutomationRuleService struct {
	db     *gorm.DB
	lock   *WriteLock
	audit  *AuditService
	logger *logrus.Logger
	tracer trace.Tracer
}

func NewAutomationRuleService(db *gorm.DB, lock *WriteLock, audit *AuditService, logger *logrus.Logger) *AutomationRuleService {
	if logger == nil {
		logger = logrus.New()
	}
	return &AutomationRuleService{
		db:     db,
		lock:   lock,
		audit:  audit,
		logger: logger,
		tracer: otel.Tracer("leadflow.automation"),
	}
}

// AutomationRuleCreateRequest carries raw client JSON; the validator
// canonicalizes it before persistence.
type AutomationRuleCreateRequest struct {
	Name          string          `json:"name" binding:"required"`
	Scope         string          `json:"scope"`
	ConditionKind string          `json:"condition_kind" binding:"required"`
	Condition     json.RawMessage `json:"condition"`
	Actions       json.RawMessage `json:"actions"`
}

// CreateRule validates, canonicalizes and persists a rule, appending a
// rule_created audit event in the same transaction.
func (s *AutomationRuleService) CreateRule(ctx context.Context, tenantID string, req *AutomationRuleCreateRequest, createdBy string) (*models.AutomationRule, error) {
	ctx, span := s.tracer.Start(ctx, "automation.create_rule")
	defer span.End()

	if req == nil {
		return nil, invalidf("request", "required")
	}
	if req.Name == "" {
		return nil, invalidf("name", "required")
	}
	if len(req.Name) > maxRuleNameLen {
		return nil, invalidf("name", "exceeds %d chars", maxRuleNameLen)
	}
	if len(req.Scope) > maxScopeLen {
		return nil, invalidf("scope", "exceeds %d chars", maxScopeLen)
	}

	if err := checkTenantWritable(ctx, s.db, tenantID); err != nil {
		return nil, err
	}

	cond, err := ValidateCondition(req.ConditionKind, req.Condition)
	if err != nil {
		return nil, err
	}
	conditionJSON, err := cond.CanonicalJSON()
	if err != nil {
		return nil, err
	}
	actions, err := ValidateActions(req.Actions)
	if err != nil {
		return nil, err
	}
	actionsJSON, err := CanonicalActions(actions)
	if err != nil {
		return nil, err
	}

	rule := &models.AutomationRule{
		ID:            utils.GenerateID(),
		TenantID:      tenantID,
		Enabled:       true,
		Name:          req.Name,
		Scope:         req.Scope,
		ConditionKind: req.ConditionKind,
		Condition:     conditionJSON,
		ActionList:    actionsJSON,
		CreatedBy:     createdBy,
		CreatedAt:     time.Now(),
		UpdatedAt:     time.Now(),
	}
	span.SetAttributes(
		attribute.String("automation.rule.id", rule.ID),
		attribute.String("automation.rule.condition_kind", rule.ConditionKind),
	)

	defer s.lock.Acquire()()
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(rule).Error; err != nil {
			return err
		}
		return s.audit.Append(tx, tenantID, EventRuleCreated, "automation_rule", rule.ID, map[string]interface{}{
			"run_id":         "",
			"rule_id":        rule.ID,
			"condition_kind": rule.ConditionKind,
			"created_by":     createdBy,
		})
	})
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to create rule: %w", err)
	}

	s.logger.Infof("automation: created rule %s (%s) for tenant %s", rule.ID, rule.ConditionKind, tenantID)
	return rule, nil
}

// ListRules returns the tenant's rules, newest-updated first.
func (s *AutomationRuleService) ListRules(ctx context.Context, tenantID string) ([]models.AutomationRule, error) {
	var rules []models.AutomationRule
	err := s.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("updated_at DESC").
		Find(&rules).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	return rules, nil
}

// EnabledRules returns the rules a run will process, newest-updated first.
func (s *AutomationRuleService) EnabledRules(ctx context.Context, tenantID string) ([]models.AutomationRule, error) {
	var rules []models.AutomationRule
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND enabled = ?", tenantID, true).
		Order("updated_at DESC").
		Find(&rules).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load enabled rules: %w", err)
	}
	return rules, nil
}

func (s *AutomationRuleService) GetRule(ctx context.Context, tenantID, ruleID string) (*models.AutomationRule, error) {
	var rule models.AutomationRule
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND id = ?", tenantID, ruleID).
		First(&rule).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("rule %s: %w", ruleID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get rule: %w", err)
	}
	return &rule, nil
}

// ToggleRule enables or disables a rule and audits the change.
func (s *AutomationRuleService) ToggleRule(ctx context.Context, tenantID, ruleID string, enabled bool, actor string) (*models.AutomationRule, error) {
	ctx, span := s.tracer.Start(ctx, "automation.toggle_rule")
	defer span.End()
	span.SetAttributes(
		attribute.String("automation.rule.id", ruleID),
		attribute.Bool("automation.rule.enabled", enabled),
	)

	if err := checkTenantWritable(ctx, s.db, tenantID); err != nil {
		return nil, err
	}
	rule, err := s.GetRule(ctx, tenantID, ruleID)
	if err != nil {
		return nil, err
	}

	rule.Enabled = enabled
	rule.UpdatedAt = time.Now()

	defer s.lock.Acquire()()
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.AutomationRule{}).
			Where("tenant_id = ? AND id = ?", tenantID, ruleID).
			Updates(map[string]interface{}{"enabled": enabled, "updated_at": rule.UpdatedAt}).Error; err != nil {
			return err
		}
		return s.audit.Append(tx, tenantID, EventRuleToggled, "automation_rule", ruleID, map[string]interface{}{
			"run_id":  "",
			"rule_id": ruleID,
			"enabled": enabled,
			"actor":   actor,
		})
	})
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to toggle rule: %w", err)
	}

	s.logger.Infof("automation: rule %s enabled=%v by %s", ruleID, enabled, actor)
	return rule, nil
}

// DeleteRule removes a rule. Peripheral: runs reference rules by id only,
// so past run actions stay intact.
func (s *AutomationRuleService) DeleteRule(ctx context.Context, tenantID, ruleID string, actor string) error {
	if err := checkTenantWritable(ctx, s.db, tenantID); err != nil {
		return err
	}
	defer s.lock.Acquire()()
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Where("tenant_id = ? AND id = ?", tenantID, ruleID).Delete(&models.AutomationRule{})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("rule %s: %w", ruleID, ErrNotFound)
		}
		return s.audit.Append(tx, tenantID, EventRuleDeleted, "automation_rule", ruleID, map[string]interface{}{
			"run_id":  "",
			"rule_id": ruleID,
			"actor":   actor,
		})
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return err
		}
		return fmt.Errorf("failed to delete rule: %w", err)
	}
	s.logger.Infof("automation: deleted rule %s by %s", ruleID, actor)
	return nil
}

// MarkRuleInvalid is the self-healing control invoked by the run
// coordinator when a stored rule no longer validates. It disables the rule
// and records the error without raising to the caller.
func (s *AutomationRuleService) MarkRuleInvalid(ctx context.Context, tenantID, ruleID, message string) {
	now := time.Now()
	defer s.lock.Acquire()()
	err := s.db.WithContext(ctx).Model(&models.AutomationRule{}).
		Where("tenant_id = ? AND id = ?", tenantID, ruleID).
		Updates(map[string]interface{}{
			"enabled":       false,
			"last_error":    utils.Truncate(message, maxMessageLen),
			"last_error_at": now,
			"updated_at":    now,
		}).Error
	if err != nil {
		s.logger.Errorf("automation: mark rule %s invalid failed: %v", ruleID, err)
		return
	}
	s.logger.Warnf("automation: disabled invalid rule %s: %s", ruleID, utils.Truncate(message, 120))
}
