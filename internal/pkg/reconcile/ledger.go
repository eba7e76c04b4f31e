package reconcile

import (
	"fmt"
	"time"

	"github.com/TobiasKnoll/SubSync/app/models"
	"github.com/gofiber/fiber/v2/log"
)

// ApportionAmount splits a charge total across tenants. When per-tenant
// pricing components cover every tenant and sum to the total they are used
// verbatim; otherwise the total is split evenly with the leftover cents going
// to the first tenants in list order, so the per-tenant amounts always sum to
// the total.
func ApportionAmount(total int64, tenantIDs []uint, components map[uint]int64) map[uint]int64 {
	amounts := make(map[uint]int64, len(tenantIDs))
	if len(tenantIDs) == 0 {
		return amounts
	}

	if len(components) > 0 {
		var sum int64
		covered := true
		for _, tenantID := range tenantIDs {
			amount, ok := components[tenantID]
			if !ok {
				covered = false
				break
			}
			sum += amount
		}
		if covered && sum == total {
			for _, tenantID := range tenantIDs {
				amounts[tenantID] = components[tenantID]
			}
			return amounts
		}
		log.Warnf("[Ledger] tenant amount components do not cover total (%d), falling back to even split", total)
	}

	n := int64(len(tenantIDs))
	base := total / n
	remainder := total % n
	for i, tenantID := range tenantIDs {
		amounts[tenantID] = base
		if int64(i) < remainder {
			amounts[tenantID]++
		}
	}
	return amounts
}

// writeLedgerEntries records one immutable entry per covered tenant for a
// confirmed charge. Replays create nothing thanks to the (invoice, tenant)
// natural key, so this is safe on every resume path.
func (s *Service) writeLedgerEntries(
	eventID string,
	sub *models.Subscription,
	invoiceID string,
	total int64,
	currency string,
	periodStart, periodEnd *time.Time,
	tenantIDs []uint,
	components map[uint]int64,
) (int, error) {
	amounts := ApportionAmount(total, tenantIDs, components)

	created := 0
	for _, tenantID := range tenantIDs {
		entry := &models.LedgerEntry{
			ProviderInvoiceID: invoiceID,
			TenantID:          tenantID,
			SubscriptionID:    sub.ID,
			AmountCents:       amounts[tenantID],
			Currency:          currency,
			PeriodStart:       periodStart,
			PeriodEnd:         periodEnd,
		}
		wasCreated, err := s.repo.CreateLedgerEntryIfNotExists(entry)
		if err != nil {
			return created, fmt.Errorf("ledger entry for tenant %d: %w", tenantID, err)
		}
		if wasCreated {
			created++
		}
	}

	if created > 0 {
		log.Infof("[Ledger] event %s: wrote %d entries for invoice %s", eventID, created, invoiceID)
	}
	return created, nil
}
