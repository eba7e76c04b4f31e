package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/TobiasKnoll/SubSync/app/models"
	"github.com/TobiasKnoll/SubSync/internal/pkg/billing"
	"github.com/gofiber/fiber/v2/log"
	"github.com/stripe/stripe-go/v79"
	"gorm.io/gorm"
)

const (
	defaultFanOutWorkers   = 4
	subscriptionLeaseTTL   = 60 * time.Second
	metaKeyLastPaymentFail = "last_payment_failure"
	metaKeyTenantAmounts   = "tenant_amounts"
)

// TenantSource resolves current tenant ownership at processing time.
type TenantSource interface {
	ListActiveTenantIDsByUser(userID uint) ([]uint, error)
}

// StatusConfirmer re-fetches provider state to settle out-of-order
// deliveries. It is only ever used to confirm, never to decide.
type StatusConfirmer interface {
	ConfirmSubscription(ctx context.Context, providerSubscriptionID string) (*billing.SubscriptionIntent, error)
}

// Notifier delivers user-facing billing signals. Implementations are
// fire-and-forget: their failures never roll back reconciliation.
type Notifier interface {
	PaymentFailed(userID uint, subscriptionID uint, detail string)
	EntitlementRevoked(userID uint, tenantID uint)
}

// RetryScheduler queues a failed per-tenant entitlement write for background
// retry.
type RetryScheduler interface {
	ScheduleEntitlementRetry(subscriptionID, tenantID uint, reason string) error
}

// ProcessOutcome summarizes what one delivery did.
type ProcessOutcome struct {
	ProviderEventID string
	Outcome         string
	Duplicate       bool
	FanOut          *FanOutResult
	LedgerEntries   int
}

// Service is the event reconciliation engine. It holds no per-request state;
// every delivery is an independent, re-entrant unit of work.
type Service struct {
	repo          Repository
	tenants       TenantSource
	locker        Locker
	confirmer     StatusConfirmer
	notifier      Notifier
	retries       RetryScheduler
	fanOutWorkers int
}

// ServiceConfig wires the engine's collaborators. Confirmer, Notifier and
// Retries are optional.
type ServiceConfig struct {
	Repo          Repository
	Tenants       TenantSource
	Locker        Locker
	Confirmer     StatusConfirmer
	Notifier      Notifier
	Retries       RetryScheduler
	FanOutWorkers int
}

// NewService creates the reconciliation engine.
func NewService(cfg ServiceConfig) *Service {
	workers := cfg.FanOutWorkers
	if workers <= 0 {
		workers = defaultFanOutWorkers
	}
	return &Service{
		repo:          cfg.Repo,
		tenants:       cfg.Tenants,
		locker:        cfg.Locker,
		confirmer:     cfg.Confirmer,
		notifier:      cfg.Notifier,
		retries:       cfg.Retries,
		fanOutWorkers: workers,
	}
}

// NewServiceFromDB creates the engine with the default GORM repository.
func NewServiceFromDB(db *gorm.DB, cfg ServiceConfig) *Service {
	cfg.Repo = NewRepository(db)
	return NewService(cfg)
}

// ProcessEvent applies one verified provider event. The claim insert makes
// replays no-ops; a claim without a processed marker (crash mid-apply) is
// resumed, which is safe because every downstream effect is an upsert by
// natural key.
func (s *Service) ProcessEvent(ctx context.Context, event *stripe.Event) (*ProcessOutcome, error) {
	outcome := &ProcessOutcome{ProviderEventID: event.ID}

	claimed, stored, err := s.repo.ClaimEvent(&models.BillingEvent{
		ProviderEventID: event.ID,
		EventType:       string(event.Type),
		PayloadJSON:     string(event.Data.Raw),
		Livemode:        event.Livemode,
	})
	if err != nil {
		return nil, fmt.Errorf("claiming event %s: %w", event.ID, err)
	}
	if !claimed && stored.ProcessedAt != nil {
		log.Infof("[Reconcile] event %s already applied, skipping", event.ID)
		outcome.Duplicate = true
		outcome.Outcome = stored.Outcome
		return outcome, nil
	}
	if !claimed {
		// Claim exists but effects never completed: a previous delivery
		// crashed mid-apply. Resume instead of skipping.
		log.Warnf("[Reconcile] event %s claimed but unprocessed, resuming", event.ID)
	}

	intent, err := billing.ParseEventIntent(event)
	if err != nil {
		_ = s.repo.MarkEventProcessed(stored.ID, models.EventOutcomeFailed, err)
		return nil, err
	}
	if intent == nil {
		_ = s.repo.MarkEventProcessed(stored.ID, models.EventOutcomeIgnored, nil)
		outcome.Outcome = models.EventOutcomeIgnored
		return outcome, nil
	}

	// Serialize per subscription. Contention answers transient so the
	// provider redelivers once the competing apply finished.
	release, ok, err := s.locker.Acquire(ctx, SubscriptionLockKey(intent.SubscriptionID()), subscriptionLeaseTTL)
	if err != nil {
		_ = s.repo.RecordEventError(stored.ID, err)
		return nil, fmt.Errorf("acquiring subscription lease: %w", err)
	}
	if !ok {
		return nil, ErrSubscriptionBusy
	}
	defer release()

	result, err := s.applyIntent(ctx, event.ID, intent)
	if err != nil {
		if errors.Is(err, ErrOrphanEvent) {
			s.logOrphan(event.ID, intent)
			_ = s.repo.MarkEventProcessed(stored.ID, models.EventOutcomeOrphan, err)
			outcome.Outcome = models.EventOutcomeOrphan
			return outcome, nil
		}
		_ = s.repo.RecordEventError(stored.ID, err)
		return nil, err
	}

	outcome.Outcome = result.outcomeLabel()
	outcome.FanOut = result.fanOut
	outcome.LedgerEntries = result.ledgerEntries
	if err := s.repo.MarkEventProcessed(stored.ID, outcome.Outcome, nil); err != nil {
		return nil, fmt.Errorf("marking event %s processed: %w", event.ID, err)
	}
	return outcome, nil
}

// RecordIgnoredEvent claims a delivery and marks it ignored without applying
// any effects. Authentic deliveries that are out of scope for this
// deployment, such as a livemode mismatch, still leave an audit row this way.
func (s *Service) RecordIgnoredEvent(ctx context.Context, event *stripe.Event, reason string) (*ProcessOutcome, error) {
	outcome := &ProcessOutcome{ProviderEventID: event.ID, Outcome: models.EventOutcomeIgnored}

	claimed, stored, err := s.repo.ClaimEvent(&models.BillingEvent{
		ProviderEventID: event.ID,
		EventType:       string(event.Type),
		PayloadJSON:     string(event.Data.Raw),
		Livemode:        event.Livemode,
	})
	if err != nil {
		return nil, fmt.Errorf("claiming event %s: %w", event.ID, err)
	}
	if !claimed && stored.ProcessedAt != nil {
		outcome.Duplicate = true
		outcome.Outcome = stored.Outcome
		return outcome, nil
	}

	log.Infof("[Reconcile] event %s ignored: %s", event.ID, reason)
	if err := s.repo.MarkEventProcessed(stored.ID, models.EventOutcomeIgnored, nil); err != nil {
		return nil, fmt.Errorf("marking event %s processed: %w", event.ID, err)
	}
	return outcome, nil
}

// applyResult collects what a dispatch branch did.
type applyResult struct {
	fanOut        *FanOutResult
	ledgerEntries int
	outOfOrder    bool
}

func (r *applyResult) outcomeLabel() string {
	switch {
	case r.outOfOrder:
		return models.EventOutcomeOutOfOrder
	case r.fanOut != nil && r.fanOut.Partial():
		return models.EventOutcomePartial
	default:
		return models.EventOutcomeApplied
	}
}

func (s *Service) applyIntent(ctx context.Context, eventID string, intent *billing.EventIntent) (*applyResult, error) {
	switch intent.Kind {
	case billing.IntentCheckout:
		return s.applyCheckout(ctx, eventID, intent.Checkout)
	case billing.IntentSubscriptionChange:
		return s.applySubscriptionChange(ctx, eventID, intent)
	case billing.IntentInvoice:
		return s.applyInvoice(ctx, eventID, intent.Invoice)
	default:
		return nil, fmt.Errorf("unknown intent kind %q", intent.Kind)
	}
}

// applyCheckout handles checkout.session.completed: the creation-class event
// binding a provider subscription to a user and their tenants. A paid session
// activates immediately and charges the ledger; an unpaid one stays pending
// until the payment events arrive.
func (s *Service) applyCheckout(ctx context.Context, eventID string, intent *billing.CheckoutIntent) (*applyResult, error) {
	status := models.SubscriptionStatusPending
	if intent.Paid {
		status = models.SubscriptionStatusActive
	}
	res, err := s.resolveSubscriptionChange(ctx, eventID, &billing.SubscriptionIntent{
		SubscriptionID: intent.SubscriptionID,
		CustomerID:     intent.CustomerID,
		UserID:         intent.UserID,
		TenantIDs:      intent.TenantIDs,
		Tier:           intent.Tier,
		Status:         status,
		TenantAmounts:  intent.TenantAmounts,
	}, true)
	if err != nil {
		return nil, err
	}
	if err := s.repo.UpsertSubscription(res.sub); err != nil {
		return nil, fmt.Errorf("persisting subscription %s: %w", intent.SubscriptionID, err)
	}

	if err := s.repo.AppendTransactionLog(&models.TransactionLog{
		ProviderEventID: eventID,
		SubscriptionID:  res.sub.ID,
		Action:          models.TxActionCheckoutCompleted,
		Detail:          fmt.Sprintf("session=%s tier=%s paid=%t amount=%d%s", intent.SessionID, intent.Tier, intent.Paid, intent.AmountTotal, intent.Currency),
	}); err != nil {
		return nil, err
	}

	result := &applyResult{}
	if res.sub.IsEntitling() {
		result.fanOut, err = s.fanOutEntitlements(ctx, eventID, res.sub)
		if err != nil {
			return nil, err
		}
	}

	if intent.Paid {
		tenantIDs, err := s.targetTenants(res.sub)
		if err != nil {
			return nil, err
		}
		result.ledgerEntries, err = s.writeLedgerEntries(
			eventID, res.sub, intent.InvoiceID, intent.AmountTotal, intent.Currency,
			res.sub.CurrentPeriodStart, res.sub.CurrentPeriodEnd, tenantIDs, intent.TenantAmounts,
		)
		if err != nil {
			return nil, err
		}
	}
	return result, nil
}

func (s *Service) applySubscriptionChange(ctx context.Context, eventID string, intent *billing.EventIntent) (*applyResult, error) {
	si := intent.Subscription
	res, err := s.resolveSubscriptionChange(ctx, eventID, si, billing.IsCreationEventType(intent.EventType))
	if err != nil {
		return nil, err
	}
	if err := s.repo.UpsertSubscription(res.sub); err != nil {
		return nil, fmt.Errorf("persisting subscription %s: %w", si.SubscriptionID, err)
	}

	action := models.TxActionSubscriptionUpdated
	switch {
	case res.created:
		action = models.TxActionSubscriptionCreated
	case res.sub.Status == models.SubscriptionStatusCanceled && res.prevStatus != models.SubscriptionStatusCanceled:
		action = models.TxActionSubscriptionCanceled
	}
	detail := fmt.Sprintf("status=%s", res.sub.Status)
	if res.outOfOrder {
		detail += " (stale delivery, safe fields only)"
		if err := s.repo.AppendTransactionLog(&models.TransactionLog{
			ProviderEventID: eventID,
			SubscriptionID:  res.sub.ID,
			Action:          models.TxActionOutOfOrderUpdate,
			Detail:          detail,
		}); err != nil {
			return nil, err
		}
	}
	if err := s.repo.AppendTransactionLog(&models.TransactionLog{
		ProviderEventID: eventID,
		SubscriptionID:  res.sub.ID,
		Action:          action,
		Detail:          detail,
	}); err != nil {
		return nil, err
	}

	result := &applyResult{outOfOrder: res.outOfOrder}
	result.fanOut, err = s.fanOutEntitlements(ctx, eventID, res.sub)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// applyInvoice handles payment outcomes for an existing subscription. A
// missing subscription is an orphan here: invoices never create state.
func (s *Service) applyInvoice(ctx context.Context, eventID string, intent *billing.InvoiceIntent) (*applyResult, error) {
	sub, err := s.repo.GetSubscriptionByProviderID(intent.SubscriptionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrOrphanEvent
		}
		return nil, fmt.Errorf("loading subscription %s: %w", intent.SubscriptionID, err)
	}

	result := &applyResult{}
	if intent.Paid {
		if CanTransition(sub.Status, models.SubscriptionStatusActive) {
			sub.Status = models.SubscriptionStatusActive
		}
		if intent.PeriodStart != nil {
			sub.CurrentPeriodStart = intent.PeriodStart
		}
		if intent.PeriodEnd != nil && (sub.CurrentPeriodEnd == nil || !intent.PeriodEnd.Before(*sub.CurrentPeriodEnd)) {
			sub.CurrentPeriodEnd = intent.PeriodEnd
		}
		sub.SetMetadataValue(metaKeyLastPaymentFail, "")
		if err := s.repo.UpsertSubscription(sub); err != nil {
			return nil, fmt.Errorf("persisting subscription %s: %w", intent.SubscriptionID, err)
		}

		if err := s.repo.AppendTransactionLog(&models.TransactionLog{
			ProviderEventID: eventID,
			SubscriptionID:  sub.ID,
			Action:          models.TxActionPaymentSucceeded,
			Detail:          fmt.Sprintf("invoice=%s amount=%d%s", intent.InvoiceID, intent.AmountCents, intent.Currency),
		}); err != nil {
			return nil, err
		}

		result.fanOut, err = s.fanOutEntitlements(ctx, eventID, sub)
		if err != nil {
			return nil, err
		}
		tenantIDs, err := s.targetTenants(sub)
		if err != nil {
			return nil, err
		}
		// Renewal charges follow the per-tenant pricing recorded on the
		// subscription. An unreadable blob degrades to an even split.
		components, cErr := billing.ParseTenantAmounts(sub.Metadata()[metaKeyTenantAmounts])
		if cErr != nil {
			log.Warnf("[Reconcile] event %s: stored pricing components unreadable: %v", eventID, cErr)
			components = nil
		}
		result.ledgerEntries, err = s.writeLedgerEntries(
			eventID, sub, intent.InvoiceID, intent.AmountCents, intent.Currency,
			intent.PeriodStart, intent.PeriodEnd, tenantIDs, components,
		)
		if err != nil {
			return nil, err
		}
		return result, nil
	}

	// Payment failed: enter the grace period, keep entitlements, annotate the
	// subscription and tell the user. No ledger entry is ever written here.
	if CanTransition(sub.Status, models.SubscriptionStatusPastDue) {
		sub.Status = models.SubscriptionStatusPastDue
	}
	failDetail := fmt.Sprintf("invoice=%s attempt=%d", intent.InvoiceID, intent.AttemptCount)
	sub.SetMetadataValue(metaKeyLastPaymentFail, failDetail)
	if err := s.repo.UpsertSubscription(sub); err != nil {
		return nil, fmt.Errorf("persisting subscription %s: %w", intent.SubscriptionID, err)
	}

	if err := s.repo.AppendTransactionLog(&models.TransactionLog{
		ProviderEventID: eventID,
		SubscriptionID:  sub.ID,
		Action:          models.TxActionPaymentFailed,
		Detail:          failDetail,
	}); err != nil {
		return nil, err
	}
	if s.notifier != nil {
		s.notifier.PaymentFailed(sub.UserID, sub.ID, failDetail)
	}
	return result, nil
}

// RetryEntitlement re-applies a single tenant's entitlement from current
// subscription state. Used by the background retry queue after a partial
// fan-out failure; the grant/revoke decision is recomputed fresh so a stale
// job cannot resurrect an outdated state.
func (s *Service) RetryEntitlement(ctx context.Context, subscriptionID, tenantID uint) error {
	sub, err := s.repo.GetSubscriptionByID(subscriptionID)
	if err != nil {
		return fmt.Errorf("loading subscription %d: %w", subscriptionID, err)
	}

	targets, err := s.targetTenants(sub)
	if err != nil {
		return err
	}
	grant := false
	if sub.IsEntitling() {
		for _, id := range targets {
			if id == tenantID {
				grant = true
				break
			}
		}
	}
	return s.applyTenantEntitlement(fmt.Sprintf("retry:%s", sub.ProviderSubscriptionID), sub, tenantID, grant)
}

// ResyncUser recomputes entitlements for every subscription of a user from
// stored state. Operational tool for support, not part of event processing.
func (s *Service) ResyncUser(ctx context.Context, userID uint) (int, error) {
	subs, err := s.repo.ListSubscriptionsByUser(userID)
	if err != nil {
		return 0, err
	}
	applied := 0
	for i := range subs {
		result, err := s.fanOutEntitlements(ctx, fmt.Sprintf("resync:user:%d", userID), &subs[i])
		if err != nil {
			return applied, err
		}
		applied += len(result.Granted) + len(result.Revoked)
	}
	return applied, nil
}

func (s *Service) logOrphan(eventID string, intent *billing.EventIntent) {
	log.Warnf("[Reconcile] event %s: orphan %s for subscription %q, flagged for manual reconciliation",
		eventID, intent.EventType, intent.SubscriptionID())
	_ = s.repo.AppendTransactionLog(&models.TransactionLog{
		ProviderEventID: eventID,
		Action:          models.TxActionOrphanEvent,
		Detail:          fmt.Sprintf("type=%s subscription=%s", intent.EventType, intent.SubscriptionID()),
	})
}
