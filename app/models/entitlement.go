package models

import "time"

// Entitlement is the derived per-tenant access flag, always traceable to the
// subscription that granted it. It is recomputed from subscription state and
// never independently authoritative: the unique key (tenant_id,
// subscription_id) makes every grant and revocation an idempotent upsert.
type Entitlement struct {
	ID             uint       `gorm:"primaryKey" json:"id"`
	TenantID       uint       `gorm:"not null;uniqueIndex:ux_entitlements_tenant_sub,priority:1;index" json:"tenant_id"`
	SubscriptionID uint       `gorm:"not null;uniqueIndex:ux_entitlements_tenant_sub,priority:2;index" json:"subscription_id"`
	Tier           string     `gorm:"type:varchar(32);not null;default:'company'" json:"tier"`
	Active         bool       `gorm:"default:false;index" json:"active"`
	GrantedAt      *time.Time `gorm:"type:timestamp;default:null" json:"granted_at,omitempty"`
	RevokedAt      *time.Time `gorm:"type:timestamp;default:null" json:"revoked_at,omitempty"`
	CreatedAt      time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}
