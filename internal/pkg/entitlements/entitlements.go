package entitlements

import (
	"strings"

	"github.com/TobiasKnoll/SubSync/app/models"
)

type Tier string

const (
	TierNone       Tier = "none"
	TierCompany    Tier = Tier(models.TierCompany)
	TierEnterprise Tier = Tier(models.TierEnterprise)
)

// NormalizeTier maps arbitrary provider tier strings to a known tier.
func NormalizeTier(raw string) Tier {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(TierCompany):
		return TierCompany
	case string(TierEnterprise):
		return TierEnterprise
	default:
		return TierNone
	}
}

// TierRank orders tiers so overlapping grants resolve to the strongest one.
func TierRank(tier Tier) int {
	switch tier {
	case TierEnterprise:
		return 2
	case TierCompany:
		return 1
	default:
		return 0
	}
}

// BestTier picks the strongest tier among the active grants of a tenant.
func BestTier(tiers []Tier) Tier {
	best := TierNone
	for _, t := range tiers {
		if TierRank(t) > TierRank(best) {
			best = t
		}
	}
	return best
}

// AllowedFeatures returns the feature switches a tier unlocks: premium
// document templates, multi-user seats and API access.
func AllowedFeatures(tier Tier) (templates, seats, api bool) {
	switch tier {
	case TierEnterprise:
		return true, true, true
	case TierCompany:
		return true, true, false
	default:
		return false, false, false
	}
}
