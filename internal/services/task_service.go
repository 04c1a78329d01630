package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"leadflow/internal/models"
	"leadflow/pkg/utils"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// TaskService is the tenant-scoped CRUD surface for follow-up tasks.
type TaskService struct {
	db     *gorm.DB
	lock   *WriteLock
	logger *logrus.Logger
}

func NewTaskService(db *gorm.DB, lock *WriteLock, logger *logrus.Logger) *TaskService {
	if logger == nil {
		logger = logrus.New()
	}
	return &TaskService{db: db, lock: lock, logger: logger}
}

// TaskCreateRequest 创建任务请求
type TaskCreateRequest struct {
	Title  string `json:"title" binding:"required"`
	Status string `json:"status"`
	LeadID string `json:"lead_id"`
}

// TaskListRequest 任务列表请求
type TaskListRequest struct {
	Page     int      `form:"page,default=1"`
	PageSize int      `form:"page_size,default=20"`
	Status   []string `form:"status"`
	Source   string   `form:"source"`
	LeadID   string   `form:"lead_id"`
}

func (s *TaskService) CreateTask(ctx context.Context, tenantID string, req *TaskCreateRequest) (*models.Task, error) {
	if req == nil {
		return nil, invalidf("request", "required")
	}
	if req.Title == "" {
		return nil, invalidf("title", "required")
	}
	if req.Status == "" {
		req.Status = "open"
	}
	if !contains(taskStatuses, req.Status) {
		return nil, invalidf("status", "invalid status %q", req.Status)
	}
	if err := checkTenantWritable(ctx, s.db, tenantID); err != nil {
		return nil, err
	}

	task := &models.Task{
		ID:        utils.GenerateID(),
		TenantID:  tenantID,
		Title:     utils.Truncate(req.Title, maxTitleTemplateLen),
		Status:    req.Status,
		LeadID:    req.LeadID,
		Source:    "manual",
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	defer s.lock.Acquire()()
	if err := s.db.WithContext(ctx).Create(task).Error; err != nil {
		return nil, fmt.Errorf("failed to create task: %w", err)
	}
	s.logger.Infof("Created task %s for tenant %s", task.ID, tenantID)
	return task, nil
}

func (s *TaskService) GetTask(ctx context.Context, tenantID, taskID string) (*models.Task, error) {
	var task models.Task
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND id = ?", tenantID, taskID).
		First(&task).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("task %s: %w", taskID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get task: %w", err)
	}
	return &task, nil
}

// SetTaskStatus moves a task through its lifecycle.
func (s *TaskService) SetTaskStatus(ctx context.Context, tenantID, taskID, status string) (*models.Task, error) {
	if !contains(taskStatuses, status) {
		return nil, invalidf("status", "invalid status %q", status)
	}
	if err := checkTenantWritable(ctx, s.db, tenantID); err != nil {
		return nil, err
	}
	defer s.lock.Acquire()()
	result := s.db.WithContext(ctx).Model(&models.Task{}).
		Where("tenant_id = ? AND id = ?", tenantID, taskID).
		Updates(map[string]interface{}{"status": status, "updated_at": time.Now()})
	if result.Error != nil {
		return nil, fmt.Errorf("failed to update task: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, fmt.Errorf("task %s: %w", taskID, ErrNotFound)
	}
	return s.GetTask(ctx, tenantID, taskID)
}

func (s *TaskService) ListTasks(ctx context.Context, tenantID string, req *TaskListRequest) ([]models.Task, int64, error) {
	query := s.db.WithContext(ctx).Model(&models.Task{}).Where("tenant_id = ?", tenantID)
	if req != nil {
		if len(req.Status) > 0 {
			query = query.Where("status IN ?", req.Status)
		}
		if req.Source != "" {
			query = query.Where("source = ?", req.Source)
		}
		if req.LeadID != "" {
			query = query.Where("lead_id = ?", req.LeadID)
		}
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count tasks: %w", err)
	}

	page, pageSize := 1, 20
	if req != nil && req.Page > 0 {
		page = req.Page
	}
	if req != nil && req.PageSize > 0 && req.PageSize <= 100 {
		pageSize = req.PageSize
	}

	var tasks []models.Task
	err := query.Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&tasks).Error
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list tasks: %w", err)
	}
	return tasks, total, nil
}
