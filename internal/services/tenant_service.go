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

// TenantService manages tenant accounts and the read-only flag.
type TenantService struct {
	db     *gorm.DB
	lock   *WriteLock
	logger *logrus.Logger
}

func NewTenantService(db *gorm.DB, lock *WriteLock, logger *logrus.Logger) *TenantService {
	if logger == nil {
		logger = logrus.New()
	}
	return &TenantService{db: db, lock: lock, logger: logger}
}

func (s *TenantService) CreateTenant(ctx context.Context, name string) (*models.Tenant, error) {
	if name == "" {
		return nil, invalidf("name", "required")
	}
	tenant := &models.Tenant{
		ID:        utils.GenerateID(),
		Name:      utils.Truncate(name, 200),
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	defer s.lock.Acquire()()
	if err := s.db.WithContext(ctx).Create(tenant).Error; err != nil {
		return nil, fmt.Errorf("failed to create tenant: %w", err)
	}
	s.logger.Infof("Created tenant %s (%s)", tenant.ID, tenant.Name)
	return tenant, nil
}

func (s *TenantService) GetTenant(ctx context.Context, id string) (*models.Tenant, error) {
	var tenant models.Tenant
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&tenant).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("tenant %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get tenant: %w", err)
	}
	return &tenant, nil
}

// SetReadOnly flips the tenant's read-only flag. This is the one tenant
// mutation allowed while the flag is set.
func (s *TenantService) SetReadOnly(ctx context.Context, id string, readOnly bool) error {
	defer s.lock.Acquire()()
	result := s.db.WithContext(ctx).Model(&models.Tenant{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{"read_only": readOnly, "updated_at": time.Now()})
	if result.Error != nil {
		return fmt.Errorf("failed to update tenant: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("tenant %s: %w", id, ErrNotFound)
	}
	s.logger.Infof("Tenant %s read_only=%v", id, readOnly)
	return nil
}

func (s *TenantService) ListTenants(ctx context.Context) ([]models.Tenant, error) {
	var tenants []models.Tenant
	if err := s.db.WithContext(ctx).Order("created_at ASC").Find(&tenants).Error; err != nil {
		return nil, fmt.Errorf("failed to list tenants: %w", err)
	}
	return tenants, nil
}

// checkTenantWritable is the gate every mutating call passes before any
// write is attempted.
func checkTenantWritable(ctx context.Context, db *gorm.DB, tenantID string) error {
	var tenant models.Tenant
	if err := db.WithContext(ctx).Where("id = ?", tenantID).First(&tenant).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("tenant %s: %w", tenantID, ErrNotFound)
		}
		return fmt.Errorf("failed to load tenant: %w", err)
	}
	if tenant.ReadOnly {
		return ErrReadOnly
	}
	return nil
}
