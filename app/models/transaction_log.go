package models

import (
	"time"

	"gorm.io/gorm"
)

// Transaction log actions, one per externally significant state transition.
const (
	TxActionCheckoutCompleted    = "checkout_completed"
	TxActionSubscriptionCreated  = "subscription_created"
	TxActionSubscriptionUpdated  = "subscription_updated"
	TxActionSubscriptionCanceled = "subscription_canceled"
	TxActionPaymentSucceeded     = "payment_succeeded"
	TxActionPaymentFailed        = "payment_failed"
	TxActionEntitlementGranted   = "entitlement_granted"
	TxActionEntitlementRevoked   = "entitlement_revoked"
	TxActionOrphanEvent          = "orphan_event"
	TxActionOutOfOrderUpdate     = "out_of_order_update"
)

// TransactionLog is the append-only audit trail for support and manual
// reconciliation. Rows are written alongside the effect they describe and are
// never updated.
type TransactionLog struct {
	ID              uint      `gorm:"primaryKey" json:"id"`
	ProviderEventID string    `gorm:"type:varchar(191);not null;index" json:"provider_event_id"`
	SubscriptionID  uint      `gorm:"index" json:"subscription_id"`
	TenantID        *uint     `gorm:"index" json:"tenant_id,omitempty"`
	Action          string    `gorm:"type:varchar(50);not null;index" json:"action"`
	Detail          string    `gorm:"type:text" json:"detail"`
	CreatedAt       time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}

// AppendTransactionLog writes one audit row.
func AppendTransactionLog(db *gorm.DB, entry *TransactionLog) error {
	return db.Create(entry).Error
}
