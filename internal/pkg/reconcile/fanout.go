package reconcile

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/TobiasKnoll/SubSync/app/models"
	"github.com/gofiber/fiber/v2/log"
)

// TenantFailure records one tenant whose entitlement write failed during
// fan-out. The tenant is queued for background retry; the event as a whole
// still succeeds.
type TenantFailure struct {
	TenantID uint
	Reason   string
}

// FanOutResult is the per-tenant outcome of applying one subscription change.
type FanOutResult struct {
	Granted []uint
	Revoked []uint
	Failed  []TenantFailure
}

// Partial reports whether at least one tenant failed while others succeeded.
func (r *FanOutResult) Partial() bool {
	return len(r.Failed) > 0 && (len(r.Granted) > 0 || len(r.Revoked) > 0)
}

// Summary renders a support-friendly one-liner, e.g. "7 of 8 tenants updated, 1 failed".
func (r *FanOutResult) Summary() string {
	applied := len(r.Granted) + len(r.Revoked)
	total := applied + len(r.Failed)
	if len(r.Failed) == 0 {
		return fmt.Sprintf("%d of %d tenants updated", applied, total)
	}
	return fmt.Sprintf("%d of %d tenants updated, %d failed", applied, total, len(r.Failed))
}

// targetTenants computes the tenants a subscription covers. Enterprise
// subscriptions fan out to every tenant the user owns right now, looked up
// fresh because ownership can change between billing cycles.
func (s *Service) targetTenants(sub *models.Subscription) ([]uint, error) {
	if sub.Tier == models.TierEnterprise {
		return s.tenants.ListActiveTenantIDsByUser(sub.UserID)
	}
	return sub.TenantIDs(), nil
}

// fanOutEntitlements applies a subscription's current entitlement state to
// each covered tenant independently. Grants and revocations are both plain
// upserts keyed by (tenant, subscription), so retries and resumed partial
// applies are safe. Tenants no longer covered (ownership moved, list changed)
// get their grant from this subscription revoked.
func (s *Service) fanOutEntitlements(ctx context.Context, eventID string, sub *models.Subscription) (*FanOutResult, error) {
	targets, err := s.targetTenants(sub)
	if err != nil {
		return nil, fmt.Errorf("resolving fan-out targets: %w", err)
	}

	grant := sub.IsEntitling()
	targetSet := make(map[uint]struct{}, len(targets))
	work := make([]entitlementChange, 0, len(targets))
	for _, tenantID := range targets {
		targetSet[tenantID] = struct{}{}
		work = append(work, entitlementChange{TenantID: tenantID, Grant: grant})
	}

	// Previously granted tenants that fell out of the covered set are revoked
	// even while the subscription stays entitling.
	existing, err := s.repo.ListActiveEntitlementsBySubscription(sub.ID)
	if err != nil {
		return nil, fmt.Errorf("listing existing grants: %w", err)
	}
	for _, ent := range existing {
		if _, covered := targetSet[ent.TenantID]; !covered {
			work = append(work, entitlementChange{TenantID: ent.TenantID, Grant: false})
		}
	}

	result := &FanOutResult{}
	if len(work) == 0 {
		return result, nil
	}

	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		sem = make(chan struct{}, s.fanOutWorkers)
	)
	for _, change := range work {
		wg.Add(1)
		sem <- struct{}{}
		go func(change entitlementChange) {
			defer wg.Done()
			defer func() { <-sem }()

			err := s.applyTenantEntitlement(eventID, sub, change.TenantID, change.Grant)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				log.Errorf("[FanOut] event %s: tenant %d failed: %v", eventID, change.TenantID, err)
				result.Failed = append(result.Failed, TenantFailure{TenantID: change.TenantID, Reason: err.Error()})
				if s.retries != nil {
					if qErr := s.retries.ScheduleEntitlementRetry(sub.ID, change.TenantID, err.Error()); qErr != nil {
						log.Errorf("[FanOut] event %s: scheduling retry for tenant %d failed: %v", eventID, change.TenantID, qErr)
					}
				}
				return
			}
			if change.Grant {
				result.Granted = append(result.Granted, change.TenantID)
			} else {
				result.Revoked = append(result.Revoked, change.TenantID)
			}
		}(change)
	}
	wg.Wait()

	log.Infof("[FanOut] event %s: subscription %s: %s", eventID, sub.ProviderSubscriptionID, result.Summary())
	return result, nil
}

type entitlementChange struct {
	TenantID uint
	Grant    bool
}

// applyTenantEntitlement upserts a single tenant's grant together with its
// audit row. On revocation the tenant only loses premium access if no other
// entitling subscription still covers it; losing the last grant notifies the
// owning user.
func (s *Service) applyTenantEntitlement(eventID string, sub *models.Subscription, tenantID uint, grant bool) error {
	now := time.Now()
	ent := &models.Entitlement{
		TenantID:       tenantID,
		SubscriptionID: sub.ID,
		Tier:           sub.Tier,
		Active:         grant,
	}
	action := models.TxActionEntitlementGranted
	if grant {
		ent.GrantedAt = &now
	} else {
		ent.RevokedAt = &now
		action = models.TxActionEntitlementRevoked
	}

	tid := tenantID
	audit := &models.TransactionLog{
		ProviderEventID: eventID,
		SubscriptionID:  sub.ID,
		TenantID:        &tid,
		Action:          action,
		Detail:          fmt.Sprintf("tier=%s subscription=%s", sub.Tier, sub.ProviderSubscriptionID),
	}
	if err := s.repo.ApplyEntitlement(ent, audit); err != nil {
		return err
	}

	if !grant {
		others, err := s.repo.CountOtherActiveGrants(tenantID, sub.ID)
		if err != nil {
			// The revocation itself is durable; the union check only gates the
			// user-facing notification.
			log.Errorf("[FanOut] event %s: union check for tenant %d failed: %v", eventID, tenantID, err)
			return nil
		}
		if others == 0 && s.notifier != nil {
			s.notifier.EntitlementRevoked(sub.UserID, tenantID)
		}
	}
	return nil
}
