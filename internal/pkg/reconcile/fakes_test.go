package reconcile

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/TobiasKnoll/SubSync/app/models"
	"github.com/TobiasKnoll/SubSync/internal/pkg/billing"
	"gorm.io/gorm"
)

// fakeRepo is an in-memory Repository with the same conflict semantics as the
// GORM implementation. Mutex-guarded because fan-out applies concurrently.
type fakeRepo struct {
	mu     sync.Mutex
	nextID uint

	events map[string]*models.BillingEvent
	subs   []*models.Subscription
	ents   map[string]*models.Entitlement
	ledger map[string]*models.LedgerEntry
	txlog  []models.TransactionLog

	failApplyTenants map[uint]bool
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		events:           map[string]*models.BillingEvent{},
		ents:             map[string]*models.Entitlement{},
		ledger:           map[string]*models.LedgerEntry{},
		failApplyTenants: map[uint]bool{},
	}
}

func entKey(tenantID, subscriptionID uint) string {
	return fmt.Sprintf("%d:%d", tenantID, subscriptionID)
}

func ledgerKey(invoiceID string, tenantID uint) string {
	return fmt.Sprintf("%s:%d", invoiceID, tenantID)
}

func (r *fakeRepo) seedSubscription(sub models.Subscription) *models.Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	sub.ID = r.nextID
	cp := sub
	r.subs = append(r.subs, &cp)
	return &cp
}

func (r *fakeRepo) seedEntitlement(ent models.Entitlement) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := ent
	r.ents[entKey(ent.TenantID, ent.SubscriptionID)] = &cp
}

func (r *fakeRepo) ClaimEvent(event *models.BillingEvent) (bool, *models.BillingEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if stored, exists := r.events[event.ProviderEventID]; exists {
		cp := *stored
		return false, &cp, nil
	}
	r.nextID++
	event.ID = r.nextID
	cp := *event
	r.events[event.ProviderEventID] = &cp
	out := *event
	return true, &out, nil
}

func (r *fakeRepo) MarkEventProcessed(eventID uint, outcome string, processingErr error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ev := range r.events {
		if ev.ID == eventID {
			now := time.Now()
			ev.ProcessedAt = &now
			ev.Outcome = outcome
			if processingErr != nil {
				ev.ProcessingError = processingErr.Error()
			}
			return nil
		}
	}
	return gorm.ErrRecordNotFound
}

func (r *fakeRepo) RecordEventError(eventID uint, processingErr error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ev := range r.events {
		if ev.ID == eventID {
			if processingErr != nil {
				ev.ProcessingError = processingErr.Error()
			}
			return nil
		}
	}
	return gorm.ErrRecordNotFound
}

func (r *fakeRepo) GetSubscriptionByProviderID(providerSubscriptionID string) (*models.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, sub := range r.subs {
		if sub.ProviderSubscriptionID == providerSubscriptionID {
			cp := *sub
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *fakeRepo) GetSubscriptionByID(id uint) (*models.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, sub := range r.subs {
		if sub.ID == id {
			cp := *sub
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *fakeRepo) ListSubscriptionsByUser(userID uint) ([]models.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Subscription
	for _, sub := range r.subs {
		if sub.UserID == userID {
			out = append(out, *sub)
		}
	}
	return out, nil
}

func (r *fakeRepo) UpsertSubscription(sub *models.Subscription) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.subs {
		if existing.ProviderSubscriptionID == sub.ProviderSubscriptionID {
			sub.ID = existing.ID
			*existing = *sub
			return nil
		}
	}
	r.nextID++
	sub.ID = r.nextID
	cp := *sub
	r.subs = append(r.subs, &cp)
	return nil
}

func (r *fakeRepo) ApplyEntitlement(ent *models.Entitlement, audit *models.TransactionLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failApplyTenants[ent.TenantID] {
		return fmt.Errorf("injected failure for tenant %d", ent.TenantID)
	}
	cp := *ent
	r.ents[entKey(ent.TenantID, ent.SubscriptionID)] = &cp
	if audit != nil {
		r.txlog = append(r.txlog, *audit)
	}
	return nil
}

func (r *fakeRepo) ListActiveEntitlementsBySubscription(subscriptionID uint) ([]models.Entitlement, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Entitlement
	for _, ent := range r.ents {
		if ent.SubscriptionID == subscriptionID && ent.Active {
			out = append(out, *ent)
		}
	}
	return out, nil
}

func (r *fakeRepo) CountOtherActiveGrants(tenantID, excludeSubscriptionID uint) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var count int64
	for _, ent := range r.ents {
		if ent.TenantID != tenantID || ent.SubscriptionID == excludeSubscriptionID || !ent.Active {
			continue
		}
		for _, sub := range r.subs {
			if sub.ID == ent.SubscriptionID && sub.IsEntitling() {
				count++
				break
			}
		}
	}
	return count, nil
}

func (r *fakeRepo) CreateLedgerEntryIfNotExists(entry *models.LedgerEntry) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := ledgerKey(entry.ProviderInvoiceID, entry.TenantID)
	if _, exists := r.ledger[key]; exists {
		return false, nil
	}
	cp := *entry
	r.ledger[key] = &cp
	return true, nil
}

func (r *fakeRepo) AppendTransactionLog(entry *models.TransactionLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.txlog = append(r.txlog, *entry)
	return nil
}

func (r *fakeRepo) entitlement(tenantID, subscriptionID uint) *models.Entitlement {
	r.mu.Lock()
	defer r.mu.Unlock()
	ent, ok := r.ents[entKey(tenantID, subscriptionID)]
	if !ok {
		return nil
	}
	cp := *ent
	return &cp
}

func (r *fakeRepo) txActions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	actions := make([]string, 0, len(r.txlog))
	for _, entry := range r.txlog {
		actions = append(actions, entry.Action)
	}
	return actions
}

type fakeTenants struct {
	byUser map[uint][]uint
}

func (f *fakeTenants) ListActiveTenantIDsByUser(userID uint) ([]uint, error) {
	return f.byUser[userID], nil
}

type fakeLocker struct {
	busy     bool
	acquired int
	released int
}

func (f *fakeLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), bool, error) {
	if f.busy {
		return nil, false, nil
	}
	f.acquired++
	return func() { f.released++ }, true, nil
}

type paymentFailedCall struct {
	UserID         uint
	SubscriptionID uint
	Detail         string
}

type revokedCall struct {
	UserID   uint
	TenantID uint
}

type fakeNotifier struct {
	mu            sync.Mutex
	paymentFailed []paymentFailedCall
	revoked       []revokedCall
}

func (f *fakeNotifier) PaymentFailed(userID uint, subscriptionID uint, detail string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paymentFailed = append(f.paymentFailed, paymentFailedCall{userID, subscriptionID, detail})
}

func (f *fakeNotifier) EntitlementRevoked(userID uint, tenantID uint) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.revoked = append(f.revoked, revokedCall{userID, tenantID})
}

type retryCall struct {
	SubscriptionID uint
	TenantID       uint
	Reason         string
}

type fakeRetries struct {
	mu        sync.Mutex
	scheduled []retryCall
}

func (f *fakeRetries) ScheduleEntitlementRetry(subscriptionID, tenantID uint, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scheduled = append(f.scheduled, retryCall{subscriptionID, tenantID, reason})
	return nil
}

type fakeConfirmer struct {
	intent *billing.SubscriptionIntent
	err    error
	calls  int
}

func (f *fakeConfirmer) ConfirmSubscription(ctx context.Context, providerSubscriptionID string) (*billing.SubscriptionIntent, error) {
	f.calls++
	return f.intent, f.err
}
