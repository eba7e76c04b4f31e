package reconcile

import (
	"time"

	"github.com/TobiasKnoll/SubSync/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository provides the atomic upsert-by-natural-key operations the engine
// relies on. No implementation may do read-modify-write across process
// boundaries for these entities.
type Repository interface {
	ClaimEvent(event *models.BillingEvent) (bool, *models.BillingEvent, error)
	MarkEventProcessed(eventID uint, outcome string, processingErr error) error
	RecordEventError(eventID uint, processingErr error) error

	GetSubscriptionByProviderID(providerSubscriptionID string) (*models.Subscription, error)
	GetSubscriptionByID(id uint) (*models.Subscription, error)
	ListSubscriptionsByUser(userID uint) ([]models.Subscription, error)
	UpsertSubscription(sub *models.Subscription) error

	ApplyEntitlement(ent *models.Entitlement, audit *models.TransactionLog) error
	ListActiveEntitlementsBySubscription(subscriptionID uint) ([]models.Entitlement, error)
	CountOtherActiveGrants(tenantID, excludeSubscriptionID uint) (int64, error)

	CreateLedgerEntryIfNotExists(entry *models.LedgerEntry) (bool, error)
	AppendTransactionLog(entry *models.TransactionLog) error
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a reconciliation repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

// ClaimEvent atomically claims a provider event id. The unique index on
// provider_event_id turns the insert into an exclusive claim: claimed=false
// means another delivery already holds it, and the stored row tells the
// caller whether effects completed.
func (r *gormRepository) ClaimEvent(event *models.BillingEvent) (bool, *models.BillingEvent, error) {
	tx := r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "provider_event_id"}},
		DoNothing: true,
	}).Create(event)
	if tx.Error != nil {
		return false, nil, tx.Error
	}

	claimed := tx.RowsAffected > 0
	var stored models.BillingEvent
	if err := r.db.Where("provider_event_id = ?", event.ProviderEventID).First(&stored).Error; err != nil {
		return false, nil, err
	}
	return claimed, &stored, nil
}

func (r *gormRepository) MarkEventProcessed(eventID uint, outcome string, processingErr error) error {
	now := time.Now()
	errMsg := ""
	if processingErr != nil {
		errMsg = processingErr.Error()
	}
	updates := map[string]interface{}{
		"processed_at":     &now,
		"outcome":          outcome,
		"processing_error": errMsg,
	}
	return r.db.Model(&models.BillingEvent{}).Where("id = ?", eventID).Updates(updates).Error
}

// RecordEventError stores the failure without marking the event processed, so
// a redelivery resumes instead of skipping.
func (r *gormRepository) RecordEventError(eventID uint, processingErr error) error {
	errMsg := ""
	if processingErr != nil {
		errMsg = processingErr.Error()
	}
	return r.db.Model(&models.BillingEvent{}).Where("id = ?", eventID).
		Update("processing_error", errMsg).Error
}

func (r *gormRepository) GetSubscriptionByProviderID(providerSubscriptionID string) (*models.Subscription, error) {
	var sub models.Subscription
	err := r.db.Where("provider_subscription_id = ?", providerSubscriptionID).First(&sub).Error
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *gormRepository) GetSubscriptionByID(id uint) (*models.Subscription, error) {
	var sub models.Subscription
	if err := r.db.First(&sub, id).Error; err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *gormRepository) ListSubscriptionsByUser(userID uint) ([]models.Subscription, error) {
	var subs []models.Subscription
	err := r.db.Where("user_id = ?", userID).Find(&subs).Error
	return subs, err
}

func (r *gormRepository) UpsertSubscription(sub *models.Subscription) error {
	if err := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "provider_subscription_id"},
		},
		DoUpdates: clause.AssignmentColumns([]string{
			"user_id",
			"provider_customer_id",
			"tier",
			"status",
			"tenant_ids_json",
			"current_period_start",
			"current_period_end",
			"cancel_at_period_end",
			"canceled_at",
			"metadata_json",
			"updated_at",
		}),
	}).Create(sub).Error; err != nil {
		return err
	}

	// Ensure ID is populated after upsert.
	return r.db.Where("provider_subscription_id = ?", sub.ProviderSubscriptionID).First(sub).Error
}

// ApplyEntitlement upserts one per-tenant grant and its audit row in a single
// transaction, keyed by (tenant_id, subscription_id).
func (r *gormRepository) ApplyEntitlement(ent *models.Entitlement, audit *models.TransactionLog) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{
				{Name: "tenant_id"},
				{Name: "subscription_id"},
			},
			DoUpdates: clause.AssignmentColumns([]string{
				"tier",
				"active",
				"granted_at",
				"revoked_at",
				"updated_at",
			}),
		}).Create(ent).Error; err != nil {
			return err
		}
		if audit != nil {
			if err := tx.Create(audit).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *gormRepository) ListActiveEntitlementsBySubscription(subscriptionID uint) ([]models.Entitlement, error) {
	var ents []models.Entitlement
	err := r.db.Where("subscription_id = ? AND active = ?", subscriptionID, true).Find(&ents).Error
	return ents, err
}

// CountOtherActiveGrants counts active entitlements for a tenant from other,
// still entitling subscriptions. Zero means the tenant loses premium access
// once the excluded subscription revokes.
func (r *gormRepository) CountOtherActiveGrants(tenantID, excludeSubscriptionID uint) (int64, error) {
	var count int64
	err := r.db.Model(&models.Entitlement{}).
		Joins("JOIN subscriptions ON subscriptions.id = entitlements.subscription_id").
		Where("entitlements.tenant_id = ? AND entitlements.subscription_id <> ? AND entitlements.active = ?", tenantID, excludeSubscriptionID, true).
		Where("subscriptions.status IN ?", []string{models.SubscriptionStatusActive, models.SubscriptionStatusPastDue}).
		Count(&count).Error
	return count, err
}

// CreateLedgerEntryIfNotExists writes one immutable ledger row, keyed by
// (provider_invoice_id, tenant_id) so replays insert nothing.
func (r *gormRepository) CreateLedgerEntryIfNotExists(entry *models.LedgerEntry) (bool, error) {
	tx := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "provider_invoice_id"},
			{Name: "tenant_id"},
		},
		DoNothing: true,
	}).Create(entry)
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

func (r *gormRepository) AppendTransactionLog(entry *models.TransactionLog) error {
	return r.db.Create(entry).Error
}
