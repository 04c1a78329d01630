package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"leadflow/internal/metrics"
	"leadflow/internal/models"
	"leadflow/pkg/utils"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
)

// AutomationRunService orchestrates one full pass over a tenant's enabled
// rules: re-validation, target selection and idempotent action application.
// A run moves running -> {ok, aborted, error}; the run row is created at
// start and updated exactly once at the end. One corrupt rule never aborts
// a run.
type AutomationRunService struct {
	db                *gorm.DB
	lock              *WriteLock
	rules             *AutomationRuleService
	selector          *TargetSelector
	applier           *ActionApplier
	logger            *logrus.Logger
	tracer            trace.Tracer
	defaultMaxActions int
}

func NewAutomationRunService(db *gorm.DB, lock *WriteLock, rules *AutomationRuleService, selector *TargetSelector, applier *ActionApplier, logger *logrus.Logger, defaultMaxActions int) *AutomationRunService {
	if logger == nil {
		logger = logrus.New()
	}
	if defaultMaxActions < 1 || defaultMaxActions > MaxRunActions {
		defaultMaxActions = 100
	}
	return &AutomationRunService{
		db:                db,
		lock:              lock,
		rules:             rules,
		selector:          selector,
		applier:           applier,
		logger:            logger,
		tracer:            otel.Tracer("leadflow.automation"),
		defaultMaxActions: defaultMaxActions,
	}
}

// TriggerRun inserts the run row and returns its id immediately; the pass
// executes on a background goroutine. Callers poll GetRun for the outcome.
func (s *AutomationRunService) TriggerRun(ctx context.Context, tenantID, triggeredBy string, maxActions int) (string, error) {
	run, err := s.beginRun(ctx, tenantID, triggeredBy, maxActions)
	if err != nil {
		return "", err
	}
	go func() {
		if _, err := s.executeRun(context.Background(), run); err != nil {
			s.logger.Errorf("automation: run %s failed: %v", run.ID, err)
		}
	}()
	return run.ID, nil
}

// RunNow executes a full pass synchronously and returns the finished run.
// Used by the CLI, the background worker and tests.
func (s *AutomationRunService) RunNow(ctx context.Context, tenantID, triggeredBy string, maxActions int) (*models.AutomationRun, error) {
	run, err := s.beginRun(ctx, tenantID, triggeredBy, maxActions)
	if err != nil {
		return nil, err
	}
	return s.executeRun(ctx, run)
}

func (s *AutomationRunService) beginRun(ctx context.Context, tenantID, triggeredBy string, maxActions int) (*models.AutomationRun, error) {
	if err := checkTenantWritable(ctx, s.db, tenantID); err != nil {
		return nil, err
	}
	if maxActions <= 0 {
		maxActions = s.defaultMaxActions
	}
	if maxActions > MaxRunActions {
		maxActions = MaxRunActions
	}
	run := &models.AutomationRun{
		ID:          utils.GenerateID(),
		TenantID:    tenantID,
		TriggeredBy: triggeredBy,
		Status:      models.RunStatusRunning,
		MaxActions:  maxActions,
		StartedAt:   time.Now(),
	}
	defer s.lock.Acquire()()
	if err := s.db.WithContext(ctx).Create(run).Error; err != nil {
		return nil, fmt.Errorf("failed to create run: %w", err)
	}
	return run, nil
}

func (s *AutomationRunService) executeRun(ctx context.Context, run *models.AutomationRun) (*models.AutomationRun, error) {
	ctx, span := s.tracer.Start(ctx, "automation.run")
	defer span.End()
	span.SetAttributes(
		attribute.String("automation.run.id", run.ID),
		attribute.String("automation.run.tenant_id", run.TenantID),
		attribute.Int("automation.run.max_actions", run.MaxActions),
	)

	status := models.RunStatusOK
	abortedReason := ""
	var warnings []string
	warn := func(format string, args ...interface{}) {
		warnings = append(warnings, utils.Truncate(fmt.Sprintf(format, args...), maxMessageLen))
	}

	rules, err := s.rules.EnabledRules(ctx, run.TenantID)
	if err != nil {
		warn("load_rules_failed: %v", err)
		return s.finishRun(ctx, run, models.RunStatusError, "internal", warnings)
	}

	now := time.Now()

pass:
	for _, rule := range rules {
		// Stored JSON is re-validated on every run: a vocabulary change
		// can invalidate a previously-valid rule, and a corrupt rule must
		// be disabled without aborting the rest of the pass.
		cond, actions, err := s.revalidate(&rule)
		if err != nil {
			warn("rule_invalid:%s", rule.ID)
			s.rules.MarkRuleInvalid(ctx, run.TenantID, rule.ID, err.Error())
			continue
		}

		targets, err := s.selector.Select(ctx, run.TenantID, cond, now)
		if err != nil {
			warn("rule_select_failed:%s: %v", rule.ID, err)
			continue
		}

		for _, target := range targets {
			for _, action := range actions {
				if run.ActionsExecuted == run.MaxActions {
					status = models.RunStatusAborted
					abortedReason = models.AbortReasonMaxActions
					break pass
				}
				outcome, err := s.applier.Apply(ctx, run, rule.ID, action, target, now)
				if errors.Is(err, ErrReadOnly) {
					run.ActionsExecuted++
					status = models.RunStatusError
					abortedReason = models.AbortReasonReadOnly
					break pass
				}
				run.ActionsExecuted++
				if err != nil {
					warn("action_failed:%s:%s: %v", rule.ID, action.Kind, err)
					continue
				}
				if outcome.Status == models.ActionStatusError {
					warn("action_error:%s:%s:%s", rule.ID, action.Kind, outcome.Error)
				}
			}
		}
	}

	return s.finishRun(ctx, run, status, abortedReason, warnings)
}

func (s *AutomationRunService) revalidate(rule *models.AutomationRule) (*Condition, []Action, error) {
	cond, err := ValidateCondition(rule.ConditionKind, []byte(rule.Condition))
	if err != nil {
		return nil, nil, err
	}
	actions, err := ValidateActions([]byte(rule.ActionList))
	if err != nil {
		return nil, nil, err
	}
	return cond, actions, nil
}

// finishRun performs the single terminal update of the run row. Already
// recorded action outcomes are never discarded, whatever the final status.
func (s *AutomationRunService) finishRun(ctx context.Context, run *models.AutomationRun, status, abortedReason string, warnings []string) (*models.AutomationRun, error) {
	if warnings == nil {
		warnings = []string{}
	}
	warningsJSON, err := json.Marshal(warnings)
	if err != nil {
		warningsJSON = []byte("[]")
	}
	now := time.Now()
	run.Status = status
	run.AbortedReason = abortedReason
	run.Warnings = string(warningsJSON)
	run.FinishedAt = &now

	defer s.lock.Acquire()()
	err = s.db.WithContext(ctx).Model(&models.AutomationRun{}).
		Where("id = ?", run.ID).
		Updates(map[string]interface{}{
			"status":           status,
			"aborted_reason":   abortedReason,
			"actions_executed": run.ActionsExecuted,
			"warnings":         run.Warnings,
			"finished_at":      now,
		}).Error
	if err != nil {
		return run, fmt.Errorf("failed to finish run %s: %w", run.ID, err)
	}

	metrics.IncRunFinished(status)
	s.logger.Infof("automation: run %s finished status=%s executed=%d warnings=%d",
		run.ID, status, run.ActionsExecuted, len(warnings))
	return run, nil
}

// GetRun returns a run row with its per-action outcome rows, oldest first.
func (s *AutomationRunService) GetRun(ctx context.Context, tenantID, runID string) (*models.AutomationRun, []models.AutomationRunAction, error) {
	var run models.AutomationRun
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND id = ?", tenantID, runID).
		First(&run).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, fmt.Errorf("run %s: %w", runID, ErrNotFound)
		}
		return nil, nil, fmt.Errorf("failed to get run: %w", err)
	}
	var actions []models.AutomationRunAction
	err = s.db.WithContext(ctx).
		Where("tenant_id = ? AND run_id = ?", tenantID, runID).
		Order("created_at ASC").
		Find(&actions).Error
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list run actions: %w", err)
	}
	return &run, actions, nil
}

// ListRuns returns the tenant's most recent runs.
func (s *AutomationRunService) ListRuns(ctx context.Context, tenantID string, limit int) ([]models.AutomationRun, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var runs []models.AutomationRun
	err := s.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("started_at DESC").
		Limit(limit).
		Find(&runs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	return runs, nil
}

// StartAutomationWorker runs a scheduled pass for every tenant at the given
// interval until ctx is cancelled. Read-only tenants are skipped.
func (s *AutomationRunService) StartAutomationWorker(ctx context.Context, interval time.Duration) {
	s.logger.Info("Starting automation worker")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Automation worker stopped")
			return
		case <-ticker.C:
			s.runAllTenants(ctx)
		}
	}
}

func (s *AutomationRunService) runAllTenants(ctx context.Context) {
	var tenants []models.Tenant
	if err := s.db.WithContext(ctx).Find(&tenants).Error; err != nil {
		s.logger.Errorf("automation: list tenants failed: %v", err)
		return
	}
	for _, tenant := range tenants {
		if tenant.ReadOnly {
			s.logger.Debugf("automation: tenant %s is read-only, skipping scheduled run", tenant.ID)
			continue
		}
		run, err := s.RunNow(ctx, tenant.ID, "scheduler", 0)
		if err != nil {
			s.logger.Errorf("automation: scheduled run for tenant %s failed: %v", tenant.ID, err)
			continue
		}
		s.logger.Debugf("automation: scheduled run %s for tenant %s status=%s", run.ID, tenant.ID, run.Status)
	}
}
