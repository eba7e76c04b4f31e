package repository

import (
	"github.com/TobiasKnoll/SubSync/app/models"
	"gorm.io/gorm"
)

// tenantRepository implements the TenantRepository interface
type tenantRepository struct {
	db *gorm.DB
}

// NewTenantRepository creates a new tenant repository instance
func NewTenantRepository(db *gorm.DB) TenantRepository {
	return &tenantRepository{db: db}
}

// Create creates a new tenant in the database
func (r *tenantRepository) Create(tenant *models.Tenant) error {
	return r.db.Create(tenant).Error
}

// GetByID retrieves a tenant by its ID
func (r *tenantRepository) GetByID(id uint) (*models.Tenant, error) {
	var tenant models.Tenant
	err := r.db.First(&tenant, id).Error
	if err != nil {
		return nil, err
	}
	return &tenant, nil
}

// GetByUserID retrieves all tenants owned by a user
func (r *tenantRepository) GetByUserID(userID uint) ([]models.Tenant, error) {
	var tenants []models.Tenant
	err := r.db.Where("user_id = ?", userID).Order("id ASC").Find(&tenants).Error
	return tenants, err
}

// ListActiveTenantIDsByUser returns the ids of a user's non-archived tenants.
// Enterprise fan-out resolves its targets through this at processing time.
func (r *tenantRepository) ListActiveTenantIDsByUser(userID uint) ([]uint, error) {
	var ids []uint
	err := r.db.Model(&models.Tenant{}).
		Where("user_id = ? AND status = ?", userID, models.TenantStatusActive).
		Order("id ASC").
		Pluck("id", &ids).Error
	return ids, err
}

// Update updates an existing tenant
func (r *tenantRepository) Update(tenant *models.Tenant) error {
	return r.db.Save(tenant).Error
}

// Archive marks a tenant as archived. Rows are kept for ledger traceability.
func (r *tenantRepository) Archive(id uint) error {
	return r.db.Model(&models.Tenant{}).Where("id = ?", id).
		Update("status", models.TenantStatusArchived).Error
}

// Count returns the total number of tenants
func (r *tenantRepository) Count() (int64, error) {
	var count int64
	err := r.db.Model(&models.Tenant{}).Count(&count).Error
	return count, err
}
