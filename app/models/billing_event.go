package models

import "time"

// Processing outcomes recorded on a BillingEvent once handling finishes.
const (
	EventOutcomeApplied    = "applied"
	EventOutcomePartial    = "partial"
	EventOutcomeOrphan     = "orphan"
	EventOutcomeIgnored    = "ignored"
	EventOutcomeOutOfOrder = "out_of_order"
	EventOutcomeFailed     = "failed"
)

// BillingEvent is one provider notification. The row doubles as the durable
// idempotency marker: the unique index on provider_event_id makes the insert
// an exclusive claim, and processed_at records whether effects completed.
// Rows are never mutated after processing, only referenced for deduplication.
type BillingEvent struct {
	ID              uint       `gorm:"primaryKey" json:"id"`
	ProviderEventID string     `gorm:"type:varchar(191);not null;uniqueIndex:ux_billing_events_provider_event" json:"provider_event_id"`
	EventType       string     `gorm:"type:varchar(100);not null;index" json:"event_type"`
	PayloadJSON     string     `gorm:"type:longtext;not null" json:"payload_json"`
	Livemode        bool       `gorm:"default:false" json:"livemode"`
	ProcessedAt     *time.Time `gorm:"type:timestamp;default:null" json:"processed_at,omitempty"`
	Outcome         string     `gorm:"type:varchar(32);not null;default:''" json:"outcome"`
	ProcessingError string     `gorm:"type:text" json:"processing_error"`
	CreatedAt       time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt       time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}
