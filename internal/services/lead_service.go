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

// LeadService is the tenant-scoped CRUD surface for leads. The automation
// engine reads and mutates leads directly through the shared handle; this
// service is the external boundary.
type LeadService struct {
	db     *gorm.DB
	lock   *WriteLock
	logger *logrus.Logger
}

func NewLeadService(db *gorm.DB, lock *WriteLock, logger *logrus.Logger) *LeadService {
	if logger == nil {
		logger = logrus.New()
	}
	return &LeadService{db: db, lock: lock, logger: logger}
}

// LeadCreateRequest 创建线索请求
type LeadCreateRequest struct {
	Name        string     `json:"name" binding:"required"`
	Status      string     `json:"status"`
	Priority    string     `json:"priority"`
	AssignedTo  string     `json:"assigned_to"`
	ResponseDue *time.Time `json:"response_due"`
}

// LeadUpdateRequest 更新线索请求
type LeadUpdateRequest struct {
	Name        *string    `json:"name"`
	Status      *string    `json:"status"`
	Priority    *string    `json:"priority"`
	AssignedTo  *string    `json:"assigned_to"`
	Pinned      *bool      `json:"pinned"`
	ResponseDue *time.Time `json:"response_due"`
}

// LeadListRequest 线索列表请求
type LeadListRequest struct {
	Page     int      `form:"page,default=1"`
	PageSize int      `form:"page_size,default=20"`
	Status   []string `form:"status"`
	Priority []string `form:"priority"`
}

func (s *LeadService) CreateLead(ctx context.Context, tenantID string, req *LeadCreateRequest) (*models.Lead, error) {
	if req == nil {
		return nil, invalidf("request", "required")
	}
	if req.Name == "" {
		return nil, invalidf("name", "required")
	}
	if req.Status == "" {
		req.Status = "new"
	}
	if !contains(leadStatuses, req.Status) {
		return nil, invalidf("status", "invalid status %q", req.Status)
	}
	if req.Priority == "" {
		req.Priority = "normal"
	}
	if !contains(leadPriorities, req.Priority) {
		return nil, invalidf("priority", "invalid priority %q", req.Priority)
	}
	if err := checkTenantWritable(ctx, s.db, tenantID); err != nil {
		return nil, err
	}

	lead := &models.Lead{
		ID:          utils.GenerateID(),
		TenantID:    tenantID,
		Name:        utils.Truncate(req.Name, 200),
		Status:      req.Status,
		Priority:    req.Priority,
		AssignedTo:  utils.Truncate(req.AssignedTo, maxAssigneeLen),
		ResponseDue: req.ResponseDue,
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}
	defer s.lock.Acquire()()
	if err := s.db.WithContext(ctx).Create(lead).Error; err != nil {
		return nil, fmt.Errorf("failed to create lead: %w", err)
	}
	s.logger.Infof("Created lead %s for tenant %s", lead.ID, tenantID)
	return lead, nil
}

func (s *LeadService) GetLead(ctx context.Context, tenantID, leadID string) (*models.Lead, error) {
	var lead models.Lead
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND id = ?", tenantID, leadID).
		First(&lead).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("lead %s: %w", leadID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get lead: %w", err)
	}
	return &lead, nil
}

func (s *LeadService) UpdateLead(ctx context.Context, tenantID, leadID string, req *LeadUpdateRequest) (*models.Lead, error) {
	if req == nil {
		return nil, invalidf("request", "required")
	}
	if err := checkTenantWritable(ctx, s.db, tenantID); err != nil {
		return nil, err
	}
	if _, err := s.GetLead(ctx, tenantID, leadID); err != nil {
		return nil, err
	}

	updates := map[string]interface{}{}
	if req.Name != nil {
		updates["name"] = utils.Truncate(*req.Name, 200)
	}
	if req.Status != nil {
		if !contains(leadStatuses, *req.Status) {
			return nil, invalidf("status", "invalid status %q", *req.Status)
		}
		updates["status"] = *req.Status
	}
	if req.Priority != nil {
		if !contains(leadPriorities, *req.Priority) {
			return nil, invalidf("priority", "invalid priority %q", *req.Priority)
		}
		updates["priority"] = *req.Priority
	}
	if req.AssignedTo != nil {
		updates["assigned_to"] = utils.Truncate(*req.AssignedTo, maxAssigneeLen)
	}
	if req.Pinned != nil {
		updates["pinned"] = *req.Pinned
	}
	if req.ResponseDue != nil {
		updates["response_due"] = *req.ResponseDue
	}
	if len(updates) == 0 {
		return s.GetLead(ctx, tenantID, leadID)
	}
	updates["updated_at"] = time.Now()

	defer s.lock.Acquire()()
	err := s.db.WithContext(ctx).Model(&models.Lead{}).
		Where("tenant_id = ? AND id = ?", tenantID, leadID).
		Updates(updates).Error
	if err != nil {
		return nil, fmt.Errorf("failed to update lead: %w", err)
	}
	return s.GetLead(ctx, tenantID, leadID)
}

func (s *LeadService) ListLeads(ctx context.Context, tenantID string, req *LeadListRequest) ([]models.Lead, int64, error) {
	query := s.db.WithContext(ctx).Model(&models.Lead{}).Where("tenant_id = ?", tenantID)
	if req != nil && len(req.Status) > 0 {
		query = query.Where("status IN ?", req.Status)
	}
	if req != nil && len(req.Priority) > 0 {
		query = query.Where("priority IN ?", req.Priority)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count leads: %w", err)
	}

	page, pageSize := 1, 20
	if req != nil && req.Page > 0 {
		page = req.Page
	}
	if req != nil && req.PageSize > 0 && req.PageSize <= 100 {
		pageSize = req.PageSize
	}

	var leads []models.Lead
	err := query.Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&leads).Error
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list leads: %w", err)
	}
	return leads, total, nil
}
