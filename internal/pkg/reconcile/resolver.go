package reconcile

import (
	"context"
	"errors"
	"fmt"

	"github.com/TobiasKnoll/SubSync/app/models"
	"github.com/TobiasKnoll/SubSync/internal/pkg/billing"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"
)

// resolution is the outcome of mapping a lifecycle intent onto stored state.
type resolution struct {
	sub        *models.Subscription
	created    bool
	outOfOrder bool
	prevStatus string
}

// resolveSubscriptionChange loads or synthesizes the target subscription for
// a lifecycle intent. Update/delete events without a stored subscription are
// orphans. Out-of-order deliveries never regress period bounds; only
// order-independent fields are applied then.
func (s *Service) resolveSubscriptionChange(ctx context.Context, eventID string, intent *billing.SubscriptionIntent, creationClass bool) (*resolution, error) {
	existing, err := s.repo.GetSubscriptionByProviderID(intent.SubscriptionID)
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("loading subscription %s: %w", intent.SubscriptionID, err)
		}
		if !creationClass || intent.UserID == 0 {
			// Creation-class events still need owner metadata to synthesize;
			// without it there is nothing consistent to create.
			return nil, ErrOrphanEvent
		}
		sub := &models.Subscription{
			UserID:                 intent.UserID,
			ProviderSubscriptionID: intent.SubscriptionID,
			ProviderCustomerID:     intent.CustomerID,
			Tier:                   intent.Tier,
			Status:                 intent.Status,
			CurrentPeriodStart:     intent.PeriodStart,
			CurrentPeriodEnd:       intent.PeriodEnd,
			CancelAtPeriodEnd:      intent.CancelAtPeriodEnd,
			CanceledAt:             intent.CanceledAt,
		}
		sub.SetTenantIDs(intent.TenantIDs)
		if len(intent.TenantAmounts) > 0 {
			sub.SetMetadataValue(metaKeyTenantAmounts, billing.FormatTenantAmounts(intent.TenantAmounts))
		}
		return &resolution{sub: sub, created: true, prevStatus: ""}, nil
	}

	res := &resolution{sub: existing, prevStatus: existing.Status}
	res.outOfOrder = intent.PeriodEnd != nil && existing.CurrentPeriodEnd != nil &&
		intent.PeriodEnd.Before(*existing.CurrentPeriodEnd)

	if res.outOfOrder {
		// A stale delivery. The stored bounds stay; only fields that are safe
		// regardless of ordering may apply. When a provider client is wired we
		// confirm the current state instead of guessing.
		if s.confirmer != nil {
			confirmed, cErr := s.confirmer.ConfirmSubscription(ctx, intent.SubscriptionID)
			if cErr != nil {
				log.Warnf("[Resolver] event %s: confirm of %s failed: %v", eventID, intent.SubscriptionID, cErr)
			} else {
				s.mergeIntent(existing, confirmed)
				return res, nil
			}
		}
		s.mergeSafeFields(existing, intent)
		return res, nil
	}

	s.mergeIntent(existing, intent)
	return res, nil
}

// mergeIntent applies a provider-confirmed state onto the stored record.
// Period end stays monotonic and the terminal state is sticky even here, so
// duplicated late deliveries cannot resurrect a cancelled subscription.
func (s *Service) mergeIntent(sub *models.Subscription, intent *billing.SubscriptionIntent) {
	if CanTransition(sub.Status, intent.Status) {
		sub.Status = intent.Status
	}
	if intent.PeriodStart != nil {
		sub.CurrentPeriodStart = intent.PeriodStart
	}
	if intent.PeriodEnd != nil && (sub.CurrentPeriodEnd == nil || !intent.PeriodEnd.Before(*sub.CurrentPeriodEnd)) {
		sub.CurrentPeriodEnd = intent.PeriodEnd
	}
	sub.CancelAtPeriodEnd = intent.CancelAtPeriodEnd
	if intent.CanceledAt != nil {
		sub.CanceledAt = intent.CanceledAt
	}
	if intent.CustomerID != "" {
		sub.ProviderCustomerID = intent.CustomerID
	}
	if intent.UserID != 0 {
		sub.UserID = intent.UserID
	}
	if intent.Tier != "" {
		sub.Tier = intent.Tier
	}
	if len(intent.TenantIDs) > 0 {
		sub.SetTenantIDs(intent.TenantIDs)
	}
	if len(intent.TenantAmounts) > 0 {
		sub.SetMetadataValue(metaKeyTenantAmounts, billing.FormatTenantAmounts(intent.TenantAmounts))
	}
}

// mergeSafeFields applies only the order-independent fields of a stale
// delivery: the cancellation flag and a terminal cancellation itself.
func (s *Service) mergeSafeFields(sub *models.Subscription, intent *billing.SubscriptionIntent) {
	sub.CancelAtPeriodEnd = intent.CancelAtPeriodEnd
	if intent.Status == models.SubscriptionStatusCanceled && CanTransition(sub.Status, models.SubscriptionStatusCanceled) {
		sub.Status = models.SubscriptionStatusCanceled
		if intent.CanceledAt != nil {
			sub.CanceledAt = intent.CanceledAt
		}
	}
}
