package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"leadflow/internal/metrics"
	"leadflow/internal/models"
	"leadflow/pkg/utils"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ActionOutcome is the terminal result of one (rule, action, target) triple.
type ActionOutcome struct {
	Status string // ok, skipped, error
	Error  string
}

// ActionApplier executes one action against one target with at-most-one
// side effect per (run, rule, action, target). The protocol is
// Reserve -> Apply -> Record-outcome: the reservation insert is the sole
// serialization point, the effect runs only after a fresh reservation, and
// the outcome is a second write. A crash between effect and outcome-write
// can strand a reservation as `skipped` despite the effect having applied;
// effects are at-least-once across crashes.
type ActionApplier struct {
	db     *gorm.DB
	lock   *WriteLock
	audit  *AuditService
	logger *logrus.Logger
}

func NewActionApplier(db *gorm.DB, lock *WriteLock, audit *AuditService, logger *logrus.Logger) *ActionApplier {
	if logger == nil {
		logger = logrus.New()
	}
	return &ActionApplier{db: db, lock: lock, audit: audit, logger: logger}
}

// ActionHash returns the idempotency digest for an action/target pair. The
// action is hashed in canonical form, so two definitions differing only in
// client key order produce the same key.
func ActionHash(action Action, target Target) (string, error) {
	canonical, err := json.Marshal(action)
	if err != nil {
		return "", fmt.Errorf("encode action: %w", err)
	}
	payload := map[string]interface{}{
		"action":      json.RawMessage(canonical),
		"target_type": target.EntityType,
		"target_id":   target.EntityID,
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode hash payload: %w", err)
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}

// Apply runs one (rule, action, target) triple for the given run.
// ErrReadOnly is returned when the tenant lost write access; it is fatal to
// the run. Per-target problems (target deleted) are recorded as an error
// outcome and do not fail the run.
func (a *ActionApplier) Apply(ctx context.Context, run *models.AutomationRun, ruleID string, action Action, target Target, now time.Time) (*ActionOutcome, error) {
	hash, err := ActionHash(action, target)
	if err != nil {
		return nil, err
	}

	reservation, reserved, err := a.reserve(ctx, run, ruleID, action.Kind, target, hash)
	if err != nil {
		return nil, err
	}
	if !reserved {
		metrics.IncActionOutcome(models.ActionStatusSkipped)
		return &ActionOutcome{Status: models.ActionStatusSkipped}, nil
	}

	if err := checkTenantWritable(ctx, a.db, run.TenantID); err != nil {
		if errors.Is(err, ErrReadOnly) {
			a.recordOutcome(ctx, reservation, models.ActionStatusError, "tenant is read-only")
			return &ActionOutcome{Status: models.ActionStatusError, Error: "read_only"}, ErrReadOnly
		}
		return nil, err
	}

	outcome := a.execute(ctx, run, ruleID, action, target, now)
	a.recordOutcome(ctx, reservation, outcome.Status, outcome.Error)
	metrics.IncActionOutcome(outcome.Status)
	return outcome, nil
}

// reserve attempts the atomic insert-or-ignore of the reservation row. A
// false return means the key already exists in this run: no side effect may
// execute.
func (a *ActionApplier) reserve(ctx context.Context, run *models.AutomationRun, ruleID, actionKind string, target Target, hash string) (*models.AutomationRunAction, bool, error) {
	reservation := &models.AutomationRunAction{
		ID:               utils.GenerateID(),
		TenantID:         run.TenantID,
		RunID:            run.ID,
		RuleID:           ruleID,
		ActionHash:       hash,
		TargetEntityType: target.EntityType,
		TargetEntityID:   target.EntityID,
		ActionKind:       actionKind,
		Status:           models.ActionStatusSkipped,
		CreatedAt:        time.Now(),
		UpdatedAt:        time.Now(),
	}
	defer a.lock.Acquire()()
	result := a.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "tenant_id"}, {Name: "run_id"}, {Name: "rule_id"}, {Name: "action_hash"},
		},
		DoNothing: true,
	}).Create(reservation)
	if result.Error != nil {
		return nil, false, fmt.Errorf("failed to reserve action: %w", result.Error)
	}
	return reservation, result.RowsAffected > 0, nil
}

func (a *ActionApplier) execute(ctx context.Context, run *models.AutomationRun, ruleID string, action Action, target Target, now time.Time) *ActionOutcome {
	switch action.Kind {
	case ActionCreateTask:
		return a.applyCreateTask(ctx, run, ruleID, action.CreateTask, target)
	case ActionLeadAddEvent, ActionLeadSetPriority, ActionLeadPin, ActionLeadAssign, ActionLeadSetResponseDue:
		return a.applyLeadMutation(ctx, run, ruleID, action, target, now)
	default:
		// Unreachable for validated rules; fail closed anyway.
		return &ActionOutcome{Status: models.ActionStatusError, Error: fmt.Sprintf("unsupported action kind: %s", action.Kind)}
	}
}

func (a *ActionApplier) applyCreateTask(ctx context.Context, run *models.AutomationRun, ruleID string, params *CreateTaskParams, target Target) *ActionOutcome {
	title := a.renderTitle(ctx, run.TenantID, params.TitleTemplate, target)
	task := &models.Task{
		ID:        utils.GenerateID(),
		TenantID:  run.TenantID,
		Title:     title,
		Status:    "open",
		Source:    "automation",
		RuleID:    ruleID,
		RunID:     run.ID,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	if target.EntityType == EntityLead {
		task.LeadID = target.EntityID
	}

	defer a.lock.Acquire()()
	err := a.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(task).Error; err != nil {
			return err
		}
		return a.audit.Append(tx, run.TenantID, EventActionApplied, EntityTask, task.ID, map[string]interface{}{
			"run_id":      run.ID,
			"rule_id":     ruleID,
			"action":      ActionCreateTask,
			"target_type": target.EntityType,
			"target_id":   target.EntityID,
			"title":       title,
		})
	})
	if err != nil {
		return &ActionOutcome{Status: models.ActionStatusError, Error: utils.Truncate(err.Error(), maxMessageLen)}
	}
	return &ActionOutcome{Status: models.ActionStatusOK}
}

// applyLeadMutation re-reads the target fresh, applies exactly one
// whitelisted field mutation (none for lead_add_event) and appends the
// audit event in the same transaction.
func (a *ActionApplier) applyLeadMutation(ctx context.Context, run *models.AutomationRun, ruleID string, action Action, target Target, now time.Time) *ActionOutcome {
	if target.EntityType != EntityLead {
		return &ActionOutcome{Status: models.ActionStatusError, Error: fmt.Sprintf("%s requires a lead target", action.Kind)}
	}

	var lead models.Lead
	err := a.db.WithContext(ctx).
		Where("tenant_id = ? AND id = ?", run.TenantID, target.EntityID).
		First(&lead).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return &ActionOutcome{Status: models.ActionStatusError, Error: "not_found"}
		}
		return &ActionOutcome{Status: models.ActionStatusError, Error: utils.Truncate(err.Error(), maxMessageLen)}
	}

	updates := map[string]interface{}{}
	payload := map[string]interface{}{
		"run_id":      run.ID,
		"rule_id":     ruleID,
		"action":      action.Kind,
		"target_type": EntityLead,
		"target_id":   lead.ID,
	}
	switch action.Kind {
	case ActionLeadSetPriority:
		updates["priority"] = action.SetPriority.Priority
		payload["priority"] = action.SetPriority.Priority
	case ActionLeadPin:
		updates["pinned"] = action.Pin.Pinned
		payload["pinned"] = action.Pin.Pinned
	case ActionLeadAssign:
		updates["assigned_to"] = action.Assign.Assignee
		payload["assignee"] = action.Assign.Assignee
	case ActionLeadSetResponseDue:
		due := now.Add(time.Duration(action.SetResponseDue.Hours) * time.Hour)
		updates["response_due"] = due
		payload["response_due"] = due.UTC().Format(time.RFC3339)
	case ActionLeadAddEvent:
		payload["note"] = action.AddEvent.Note
	}

	defer a.lock.Acquire()()
	err = a.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if len(updates) > 0 {
			updates["updated_at"] = time.Now()
			if err := tx.Model(&models.Lead{}).
				Where("tenant_id = ? AND id = ?", run.TenantID, lead.ID).
				Updates(updates).Error; err != nil {
				return err
			}
		}
		return a.audit.Append(tx, run.TenantID, EventActionApplied, EntityLead, lead.ID, payload)
	})
	if err != nil {
		return &ActionOutcome{Status: models.ActionStatusError, Error: utils.Truncate(err.Error(), maxMessageLen)}
	}
	return &ActionOutcome{Status: models.ActionStatusOK}
}

// recordOutcome is the second write of the protocol: it flips the
// reservation row from `skipped` to the terminal status.
func (a *ActionApplier) recordOutcome(ctx context.Context, reservation *models.AutomationRunAction, status, message string) {
	defer a.lock.Acquire()()
	err := a.db.WithContext(ctx).Model(&models.AutomationRunAction{}).
		Where("id = ?", reservation.ID).
		Updates(map[string]interface{}{
			"status":     status,
			"error":      utils.Truncate(message, maxMessageLen),
			"updated_at": time.Now(),
		}).Error
	if err != nil {
		a.logger.Errorf("automation: record outcome for action %s failed: %v", reservation.ID, err)
	}
}

// renderTitle substitutes the supported placeholders. Unknown placeholders
// pass through untouched; a missing target entity blanks its value fields
// but keeps id-derived ones.
func (a *ActionApplier) renderTitle(ctx context.Context, tenantID, template string, target Target) string {
	pairs := []string{}
	switch target.EntityType {
	case EntityLead:
		pairs = append(pairs,
			"{lead_id}", target.EntityID,
			"{lead_id_short}", utils.ShortID(target.EntityID),
		)
		var lead models.Lead
		if err := a.db.WithContext(ctx).Where("tenant_id = ? AND id = ?", tenantID, target.EntityID).First(&lead).Error; err == nil {
			pairs = append(pairs, "{lead_name}", lead.Name, "{lead_status}", lead.Status)
		} else {
			pairs = append(pairs, "{lead_name}", "", "{lead_status}", "")
		}
	case EntityTask:
		pairs = append(pairs,
			"{task_id}", target.EntityID,
			"{task_id_short}", utils.ShortID(target.EntityID),
		)
		var task models.Task
		if err := a.db.WithContext(ctx).Where("tenant_id = ? AND id = ?", tenantID, target.EntityID).First(&task).Error; err == nil {
			pairs = append(pairs, "{task_title}", task.Title)
		} else {
			pairs = append(pairs, "{task_title}", "")
		}
	}
	title := strings.NewReplacer(pairs...).Replace(template)
	return utils.Truncate(title, maxTitleTemplateLen)
}
