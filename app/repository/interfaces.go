package repository

import (
	"github.com/TobiasKnoll/SubSync/app/models"
	"gorm.io/gorm"
)

// UserRepository defines the interface for user-related database operations
type UserRepository interface {
	Create(user *models.User) error
	GetByID(id uint) (*models.User, error)
	GetByEmail(email string) (*models.User, error)
	Update(user *models.User) error
	List(offset, limit int) ([]models.User, error)
	Count() (int64, error)
}

// TenantRepository defines the interface for tenant-related database operations
type TenantRepository interface {
	Create(tenant *models.Tenant) error
	GetByID(id uint) (*models.Tenant, error)
	GetByUserID(userID uint) ([]models.Tenant, error)
	ListActiveTenantIDsByUser(userID uint) ([]uint, error)
	Update(tenant *models.Tenant) error
	Archive(id uint) error
	Count() (int64, error)
}

// SubscriptionRepository defines read access for admin and support surfaces.
// Event-driven writes go through the reconciliation engine exclusively.
type SubscriptionRepository interface {
	GetByID(id uint) (*models.Subscription, error)
	GetByProviderID(providerSubscriptionID string) (*models.Subscription, error)
	GetByUserID(userID uint) ([]models.Subscription, error)
	List(offset, limit int) ([]models.Subscription, error)
	Count() (int64, error)
}

// Repositories holds all repository instances
type Repositories struct {
	User         UserRepository
	Tenant       TenantRepository
	Subscription SubscriptionRepository
}

// NewRepositories creates a new instance of all repositories
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		User:         NewUserRepository(db),
		Tenant:       NewTenantRepository(db),
		Subscription: NewSubscriptionRepository(db),
	}
}
