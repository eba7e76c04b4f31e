package reconcile

import "github.com/TobiasKnoll/SubSync/app/models"

// allowedTransitions is the subscription lifecycle. Self-transitions are
// allowed everywhere except the terminal state so replayed events stay
// idempotent. Nothing transitions on elapsed time; the provider is the sole
// source of truth, including for expiry.
var allowedTransitions = map[string][]string{
	models.SubscriptionStatusPending: {
		models.SubscriptionStatusPending,
		models.SubscriptionStatusActive,
		models.SubscriptionStatusPastDue,
		models.SubscriptionStatusCanceled,
	},
	models.SubscriptionStatusActive: {
		models.SubscriptionStatusActive,
		models.SubscriptionStatusPastDue,
		models.SubscriptionStatusCanceled,
	},
	models.SubscriptionStatusPastDue: {
		models.SubscriptionStatusPastDue,
		models.SubscriptionStatusActive,
		models.SubscriptionStatusCanceled,
	},
	models.SubscriptionStatusCanceled: {
		models.SubscriptionStatusCanceled,
	},
}

// CanTransition reports whether a provider-confirmed status change is valid.
func CanTransition(from, to string) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
