package models

import "time"

// LedgerEntry is an immutable record of a successful charge, one row per
// covered tenant. Corrections are new offsetting entries, never updates. The
// unique key (provider_invoice_id, tenant_id) makes replayed payment events
// produce no duplicates.
type LedgerEntry struct {
	ID                uint       `gorm:"primaryKey" json:"id"`
	ProviderInvoiceID string     `gorm:"type:varchar(191);not null;uniqueIndex:ux_ledger_entries_invoice_tenant,priority:1" json:"provider_invoice_id"`
	TenantID          uint       `gorm:"not null;uniqueIndex:ux_ledger_entries_invoice_tenant,priority:2;index" json:"tenant_id"`
	SubscriptionID    uint       `gorm:"not null;index" json:"subscription_id"`
	AmountCents       int64      `gorm:"not null" json:"amount_cents"`
	Currency          string     `gorm:"type:varchar(8);not null" json:"currency"`
	PeriodStart       *time.Time `gorm:"type:timestamp;default:null" json:"period_start,omitempty"`
	PeriodEnd         *time.Time `gorm:"type:timestamp;default:null" json:"period_end,omitempty"`
	CreatedAt         time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
}
