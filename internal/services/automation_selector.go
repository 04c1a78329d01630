package services

import (
	"context"
	"fmt"
	"time"

	"leadflow/internal/models"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Target entity types the engine can act on.
const (
	EntityLead = "lead"
	EntityTask = "task"
)

// Target identifies one candidate entity for action application.
type Target struct {
	EntityType string
	EntityID   string
}

// TargetSelector maps a validated condition to candidate entities. One
// deterministic query per condition kind, always ordered and bounded.
// Selection is a lock-free read snapshot: targets may go stale before
// application, which is fine because the applier re-reads them fresh.
type TargetSelector struct {
	db     *gorm.DB
	logger *logrus.Logger
}

func NewTargetSelector(db *gorm.DB, logger *logrus.Logger) *TargetSelector {
	if logger == nil {
		logger = logrus.New()
	}
	return &TargetSelector{db: db, logger: logger}
}

// Select returns at most MaxTargetsPerRule targets for the condition. When
// an optional column is missing from the schema the affected kind degrades
// to an empty selection instead of failing the rule.
func (s *TargetSelector) Select(ctx context.Context, tenantID string, cond *Condition, now time.Time) ([]Target, error) {
	switch cond.Kind {
	case ConditionLeadOverdue:
		return s.selectLeadOverdue(ctx, tenantID, cond.LeadOverdue, now)
	case ConditionLeadScreeningStale:
		return s.selectScreeningStale(ctx, tenantID, cond.ScreeningStale, now)
	case ConditionLeadHighUnassigned:
		return s.selectHighUnassigned(ctx, tenantID, cond.HighUnassigned, now)
	case ConditionTaskOverdue:
		return s.selectTaskOverdue(ctx, tenantID, cond.TaskOverdue, now)
	default:
		return nil, invalidf("condition_kind", "unknown kind %q", cond.Kind)
	}
}

// Oldest overdue first: response_due ascending, then creation descending.
func (s *TargetSelector) selectLeadOverdue(ctx context.Context, tenantID string, params *LeadOverdueParams, now time.Time) ([]Target, error) {
	if !s.hasColumn(&models.Lead{}, "response_due") {
		s.logger.Warnf("automation: leads.response_due column missing, skipping %s selection", ConditionLeadOverdue)
		return nil, nil
	}
	cutoff := now.Add(-time.Duration(params.DaysOverdue) * 24 * time.Hour)
	query := s.db.WithContext(ctx).Model(&models.Lead{}).
		Where("tenant_id = ? AND response_due IS NOT NULL AND response_due <= ?", tenantID, cutoff)
	if len(params.StatusIn) > 0 {
		query = query.Where("status IN ?", params.StatusIn)
	}
	if len(params.PriorityIn) > 0 {
		query = query.Where("priority IN ?", params.PriorityIn)
	}
	var leads []models.Lead
	err := query.Order("response_due ASC, created_at DESC").
		Limit(MaxTargetsPerRule).
		Find(&leads).Error
	if err != nil {
		return nil, fmt.Errorf("failed to select overdue leads: %w", err)
	}
	return leadTargets(leads), nil
}

func (s *TargetSelector) selectScreeningStale(ctx context.Context, tenantID string, params *ScreeningStaleParams, now time.Time) ([]Target, error) {
	cutoff := now.Add(-time.Duration(params.HoursInScreening) * time.Hour)
	var leads []models.Lead
	err := s.db.WithContext(ctx).Model(&models.Lead{}).
		Where("tenant_id = ? AND status = ? AND created_at <= ?", tenantID, "screening", cutoff).
		Order("created_at ASC").
		Limit(MaxTargetsPerRule).
		Find(&leads).Error
	if err != nil {
		return nil, fmt.Errorf("failed to select stale screening leads: %w", err)
	}
	return leadTargets(leads), nil
}

func (s *TargetSelector) selectHighUnassigned(ctx context.Context, tenantID string, params *HighUnassignedParams, now time.Time) ([]Target, error) {
	if !s.hasColumn(&models.Lead{}, "assigned_to") {
		s.logger.Warnf("automation: leads.assigned_to column missing, skipping %s selection", ConditionLeadHighUnassigned)
		return nil, nil
	}
	cutoff := now.Add(-time.Duration(params.HoursSinceCreated) * time.Hour)
	var leads []models.Lead
	err := s.db.WithContext(ctx).Model(&models.Lead{}).
		Where("tenant_id = ? AND priority = ? AND (assigned_to IS NULL OR assigned_to = '') AND created_at <= ?",
			tenantID, "high", cutoff).
		Order("created_at ASC").
		Limit(MaxTargetsPerRule).
		Find(&leads).Error
	if err != nil {
		return nil, fmt.Errorf("failed to select unassigned high-priority leads: %w", err)
	}
	return leadTargets(leads), nil
}

func (s *TargetSelector) selectTaskOverdue(ctx context.Context, tenantID string, params *TaskOverdueParams, now time.Time) ([]Target, error) {
	cutoff := now.Add(-time.Duration(params.DaysOverdue) * 24 * time.Hour)
	query := s.db.WithContext(ctx).Model(&models.Task{}).
		Where("tenant_id = ? AND created_at <= ?", tenantID, cutoff)
	if len(params.StatusIn) > 0 {
		query = query.Where("status IN ?", params.StatusIn)
	}
	var tasks []models.Task
	err := query.Order("created_at ASC").
		Limit(MaxTargetsPerRule).
		Find(&tasks).Error
	if err != nil {
		return nil, fmt.Errorf("failed to select overdue tasks: %w", err)
	}
	targets := make([]Target, 0, len(tasks))
	for _, task := range tasks {
		targets = append(targets, Target{EntityType: EntityTask, EntityID: task.ID})
	}
	return targets, nil
}

func (s *TargetSelector) hasColumn(model interface{}, column string) bool {
	return s.db.Migrator().HasColumn(model, column)
}

func leadTargets(leads []models.Lead) []Target {
	targets := make([]Target, 0, len(leads))
	for _, lead := range leads {
		targets = append(targets, Target{EntityType: EntityLead, EntityID: lead.ID})
	}
	return targets
}
