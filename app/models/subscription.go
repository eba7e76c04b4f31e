package models

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// Subscription lifecycle states. Transitions come exclusively from provider
// events; nothing here is ever inferred from elapsed time.
const (
	SubscriptionStatusPending  = "pending"
	SubscriptionStatusActive   = "active"
	SubscriptionStatusPastDue  = "past_due"
	SubscriptionStatusCanceled = "canceled"
)

// Subscription tiers. Company covers the tenants listed on the subscription;
// enterprise covers every tenant the owning user has at processing time.
const (
	TierCompany    = "company"
	TierEnterprise = "enterprise"
)

// Subscription mirrors one provider subscription and attaches it to the
// tenants it entitles. Status and period bounds always reflect the last
// provider-confirmed state. Cancelled rows are kept for audit, never deleted.
type Subscription struct {
	ID                     uint       `gorm:"primaryKey" json:"id"`
	UserID                 uint       `gorm:"not null;index" json:"user_id"`
	ProviderSubscriptionID string     `gorm:"type:varchar(191);not null;uniqueIndex:ux_subscriptions_provider_subid" json:"provider_subscription_id"`
	ProviderCustomerID     string     `gorm:"type:varchar(191);not null;default:'';index" json:"provider_customer_id"`
	Tier                   string     `gorm:"type:varchar(32);not null;default:'company';index" json:"tier"`
	Status                 string     `gorm:"type:varchar(32);not null;default:'pending';index" json:"status"`
	TenantIDsJSON          string     `gorm:"type:text;not null;default:'[]'" json:"tenant_ids_json"`
	CurrentPeriodStart     *time.Time `gorm:"type:timestamp;default:null" json:"current_period_start,omitempty"`
	CurrentPeriodEnd       *time.Time `gorm:"type:timestamp;default:null" json:"current_period_end,omitempty"`
	CancelAtPeriodEnd      bool       `gorm:"default:false" json:"cancel_at_period_end"`
	CanceledAt             *time.Time `gorm:"type:timestamp;default:null" json:"canceled_at,omitempty"`
	MetadataJSON           string     `gorm:"type:text;not null;default:'{}'" json:"metadata_json"`
	CreatedAt              time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt              time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// TenantIDs decodes the attached tenant id list. A broken blob decodes to an
// empty list rather than failing reconciliation.
func (s *Subscription) TenantIDs() []uint {
	var ids []uint
	if strings.TrimSpace(s.TenantIDsJSON) == "" {
		return ids
	}
	if err := json.Unmarshal([]byte(s.TenantIDsJSON), &ids); err != nil {
		return nil
	}
	return ids
}

// SetTenantIDs encodes the attached tenant id list.
func (s *Subscription) SetTenantIDs(ids []uint) {
	if ids == nil {
		ids = []uint{}
	}
	raw, err := json.Marshal(ids)
	if err != nil {
		s.TenantIDsJSON = "[]"
		return
	}
	s.TenantIDsJSON = string(raw)
}

// Metadata decodes the free-form metadata blob.
func (s *Subscription) Metadata() map[string]string {
	meta := map[string]string{}
	if strings.TrimSpace(s.MetadataJSON) == "" {
		return meta
	}
	_ = json.Unmarshal([]byte(s.MetadataJSON), &meta)
	return meta
}

// SetMetadataValue writes one key into the metadata blob.
func (s *Subscription) SetMetadataValue(key, value string) {
	meta := s.Metadata()
	meta[key] = value
	raw, err := json.Marshal(meta)
	if err != nil {
		return
	}
	s.MetadataJSON = string(raw)
}

// IsEntitling reports whether this subscription currently grants entitlements.
// past_due keeps access during the provider's grace period.
func (s *Subscription) IsEntitling() bool {
	switch s.Status {
	case SubscriptionStatusActive, SubscriptionStatusPastDue:
		return true
	default:
		return false
	}
}

// ParseTenantIDList parses a comma separated tenant id list as carried in
// provider metadata ("3,17,42") into numeric ids.
func ParseTenantIDList(raw string) ([]uint, error) {
	parts := strings.Split(raw, ",")
	ids := make([]uint, 0, len(parts))
	for _, part := range parts {
		p := strings.TrimSpace(part)
		if p == "" {
			continue
		}
		id, err := strconv.ParseUint(p, 10, 32)
		if err != nil {
			return nil, err
		}
		ids = append(ids, uint(id))
	}
	return ids, nil
}
