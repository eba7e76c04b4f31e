package billing

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/TobiasKnoll/SubSync/app/models"
	"github.com/go-playground/validator/v10"
	"github.com/stripe/stripe-go/v79"
)

// ErrMalformedIntent marks a verified event whose payload does not carry the
// typed intent the reconciler needs. These are payload-shape errors and fatal
// to the request; the provider must not retry them.
var ErrMalformedIntent = errors.New("malformed event intent")

// Metadata keys the checkout integration stamps onto provider objects.
const (
	metaKeyUserID        = "user_id"
	metaKeyTenantIDs     = "tenant_ids"
	metaKeyTier          = "tier"
	metaKeyTenantAmounts = "tenant_amounts"
)

type IntentKind string

const (
	IntentCheckout           IntentKind = "checkout"
	IntentSubscriptionChange IntentKind = "subscription_change"
	IntentInvoice            IntentKind = "invoice"
)

// EventIntent is the tagged variant produced once at the boundary. The
// engine never threads raw provider payloads or untyped metadata maps.
type EventIntent struct {
	Kind         IntentKind
	EventType    string
	Checkout     *CheckoutIntent
	Subscription *SubscriptionIntent
	Invoice      *InvoiceIntent
}

// SubscriptionID returns the provider subscription id the intent refers to,
// used as the serialization key for event processing.
func (i *EventIntent) SubscriptionID() string {
	switch i.Kind {
	case IntentCheckout:
		return i.Checkout.SubscriptionID
	case IntentSubscriptionChange:
		return i.Subscription.SubscriptionID
	case IntentInvoice:
		return i.Invoice.SubscriptionID
	default:
		return ""
	}
}

// CheckoutIntent is a completed checkout session: the creation-class event
// that binds a provider subscription to a user and their tenants.
type CheckoutIntent struct {
	SessionID      string `validate:"required"`
	SubscriptionID string `validate:"required"`
	CustomerID     string
	InvoiceID      string
	UserID         uint `validate:"required"`
	// Empty only for enterprise, where targets come from current ownership.
	TenantIDs []uint
	Tier      string `validate:"oneof=company enterprise"`
	Paid           bool
	AmountTotal    int64  `validate:"gte=0"`
	Currency       string `validate:"required"`
	TenantAmounts  map[uint]int64
}

// SubscriptionIntent is a subscription lifecycle change. UserID and TenantIDs
// may be absent on updates; the resolver falls back to stored state then.
type SubscriptionIntent struct {
	SubscriptionID    string `validate:"required"`
	CustomerID        string
	UserID            uint
	TenantIDs         []uint
	Tier              string
	Status            string `validate:"oneof=pending active past_due canceled"`
	PeriodStart       *time.Time
	PeriodEnd         *time.Time
	CancelAtPeriodEnd bool
	CanceledAt        *time.Time
	TenantAmounts     map[uint]int64
}

// InvoiceIntent is a payment outcome for an existing subscription.
type InvoiceIntent struct {
	InvoiceID      string `validate:"required"`
	SubscriptionID string `validate:"required"`
	AmountCents    int64  `validate:"gte=0"`
	Currency       string
	PeriodStart    *time.Time
	PeriodEnd      *time.Time
	Paid           bool
	AttemptCount   int64
}

// ParseEventIntent decodes a verified event envelope into the typed intent
// for its event type. Unknown event types return (nil, nil) so the caller can
// acknowledge without effects.
func ParseEventIntent(event *stripe.Event) (*EventIntent, error) {
	eventType := string(event.Type)
	if !IsHandledEventType(eventType) {
		return nil, nil
	}

	switch eventType {
	case EventCheckoutCompleted:
		return parseCheckoutIntent(event)
	case EventSubscriptionCreated, EventSubscriptionUpdated, EventSubscriptionDeleted:
		return parseSubscriptionIntent(event)
	default:
		return parseInvoiceIntent(event)
	}
}

func parseCheckoutIntent(event *stripe.Event) (*EventIntent, error) {
	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return nil, fmt.Errorf("%w: checkout session: %v", ErrMalformedIntent, err)
	}
	if session.Subscription == nil || session.Subscription.ID == "" {
		return nil, fmt.Errorf("%w: checkout session %s carries no subscription", ErrMalformedIntent, session.ID)
	}

	userID, tenantIDs, tier, err := parseEntitlementMetadata(session.Metadata)
	if err != nil {
		return nil, err
	}
	tenantAmounts, err := ParseTenantAmounts(session.Metadata[metaKeyTenantAmounts])
	if err != nil {
		return nil, err
	}

	intent := &CheckoutIntent{
		SessionID:      session.ID,
		SubscriptionID: session.Subscription.ID,
		Paid:           session.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid,
		AmountTotal:    session.AmountTotal,
		Currency:       string(session.Currency),
		UserID:         userID,
		TenantIDs:      tenantIDs,
		Tier:           tier,
		TenantAmounts:  tenantAmounts,
	}
	if session.Customer != nil {
		intent.CustomerID = session.Customer.ID
	}
	if session.Invoice != nil {
		intent.InvoiceID = session.Invoice.ID
	}
	if intent.InvoiceID == "" {
		// Sessions without an invoice still need a stable ledger key.
		intent.InvoiceID = session.ID
	}

	if err := validateIntent(intent); err != nil {
		return nil, err
	}
	return &EventIntent{Kind: IntentCheckout, EventType: string(event.Type), Checkout: intent}, nil
}

func parseSubscriptionIntent(event *stripe.Event) (*EventIntent, error) {
	var sub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		return nil, fmt.Errorf("%w: subscription: %v", ErrMalformedIntent, err)
	}
	if sub.ID == "" {
		return nil, fmt.Errorf("%w: subscription event without id", ErrMalformedIntent)
	}

	intent := &SubscriptionIntent{
		SubscriptionID:    sub.ID,
		Status:            MapProviderStatus(string(sub.Status)),
		PeriodStart:       unixTimePtr(sub.CurrentPeriodStart),
		PeriodEnd:         unixTimePtr(sub.CurrentPeriodEnd),
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
		CanceledAt:        unixTimePtr(sub.CanceledAt),
	}
	if sub.Customer != nil {
		intent.CustomerID = sub.Customer.ID
	}
	if string(event.Type) == EventSubscriptionDeleted {
		intent.Status = models.SubscriptionStatusCanceled
	}

	// Metadata is optional on lifecycle events; when present it must be sound.
	if raw := strings.TrimSpace(sub.Metadata[metaKeyUserID]); raw != "" {
		userID, tenantIDs, tier, err := parseEntitlementMetadata(sub.Metadata)
		if err != nil {
			return nil, err
		}
		intent.UserID = userID
		intent.TenantIDs = tenantIDs
		intent.Tier = tier
	}
	tenantAmounts, err := ParseTenantAmounts(sub.Metadata[metaKeyTenantAmounts])
	if err != nil {
		return nil, err
	}
	intent.TenantAmounts = tenantAmounts

	if err := validateIntent(intent); err != nil {
		return nil, err
	}
	return &EventIntent{Kind: IntentSubscriptionChange, EventType: string(event.Type), Subscription: intent}, nil
}

func parseInvoiceIntent(event *stripe.Event) (*EventIntent, error) {
	var inv stripe.Invoice
	if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
		return nil, fmt.Errorf("%w: invoice: %v", ErrMalformedIntent, err)
	}
	if inv.Subscription == nil || inv.Subscription.ID == "" {
		return nil, fmt.Errorf("%w: invoice %s carries no subscription", ErrMalformedIntent, inv.ID)
	}

	amount := inv.AmountPaid
	if amount == 0 {
		amount = inv.AmountDue
	}
	intent := &InvoiceIntent{
		InvoiceID:      inv.ID,
		SubscriptionID: inv.Subscription.ID,
		AmountCents:    amount,
		Currency:       string(inv.Currency),
		PeriodStart:    unixTimePtr(inv.PeriodStart),
		PeriodEnd:      unixTimePtr(inv.PeriodEnd),
		Paid:           string(event.Type) == EventInvoicePaymentSucceeded,
		AttemptCount:   inv.AttemptCount,
	}

	if err := validateIntent(intent); err != nil {
		return nil, err
	}
	return &EventIntent{Kind: IntentInvoice, EventType: string(event.Type), Invoice: intent}, nil
}

// MapProviderStatus maps provider subscription statuses to the internal
// lifecycle states.
func MapProviderStatus(providerStatus string) string {
	switch strings.ToLower(strings.TrimSpace(providerStatus)) {
	case "active", "trialing":
		return models.SubscriptionStatusActive
	case "past_due", "unpaid":
		return models.SubscriptionStatusPastDue
	case "canceled", "incomplete_expired":
		return models.SubscriptionStatusCanceled
	default:
		return models.SubscriptionStatusPending
	}
}

func parseEntitlementMetadata(meta map[string]string) (uint, []uint, string, error) {
	rawUser := strings.TrimSpace(meta[metaKeyUserID])
	userID, err := strconv.ParseUint(rawUser, 10, 32)
	if err != nil || userID == 0 {
		return 0, nil, "", fmt.Errorf("%w: metadata %s=%q", ErrMalformedIntent, metaKeyUserID, rawUser)
	}

	tier := strings.ToLower(strings.TrimSpace(meta[metaKeyTier]))
	if tier == "" {
		tier = models.TierCompany
	}

	tenantIDs, err := models.ParseTenantIDList(meta[metaKeyTenantIDs])
	if err != nil {
		return 0, nil, "", fmt.Errorf("%w: metadata %s=%q", ErrMalformedIntent, metaKeyTenantIDs, meta[metaKeyTenantIDs])
	}
	// Enterprise fan-out targets are computed from current tenant ownership at
	// processing time, so the list may be empty there.
	if len(tenantIDs) == 0 && tier != models.TierEnterprise {
		return 0, nil, "", fmt.Errorf("%w: metadata %s is empty", ErrMalformedIntent, metaKeyTenantIDs)
	}

	return uint(userID), tenantIDs, tier, nil
}

// ParseTenantAmounts decodes per-tenant pricing components formatted as
// "3:5000,17:2500" (tenant id : amount in cents).
func ParseTenantAmounts(raw string) (map[uint]int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}

	amounts := make(map[uint]int64)
	for _, pair := range strings.Split(raw, ",") {
		parts := strings.SplitN(strings.TrimSpace(pair), ":", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("%w: metadata %s=%q", ErrMalformedIntent, metaKeyTenantAmounts, raw)
		}
		tenantID, err := strconv.ParseUint(strings.TrimSpace(parts[0]), 10, 32)
		if err != nil {
			return nil, fmt.Errorf("%w: metadata %s=%q", ErrMalformedIntent, metaKeyTenantAmounts, raw)
		}
		amount, err := strconv.ParseInt(strings.TrimSpace(parts[1]), 10, 64)
		if err != nil || amount < 0 {
			return nil, fmt.Errorf("%w: metadata %s=%q", ErrMalformedIntent, metaKeyTenantAmounts, raw)
		}
		amounts[uint(tenantID)] = amount
	}
	return amounts, nil
}

// FormatTenantAmounts is the inverse of ParseTenantAmounts. Components are
// sorted by tenant id so the encoding is stable across replays.
func FormatTenantAmounts(amounts map[uint]int64) string {
	if len(amounts) == 0 {
		return ""
	}
	ids := make([]uint, 0, len(amounts))
	for id := range amounts {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		parts = append(parts, fmt.Sprintf("%d:%d", id, amounts[id]))
	}
	return strings.Join(parts, ",")
}

func validateIntent(intent interface{}) error {
	v := validator.New()
	if err := v.Struct(intent); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedIntent, err)
	}
	return nil
}

func unixTimePtr(ts int64) *time.Time {
	if ts <= 0 {
		return nil
	}
	t := time.Unix(ts, 0).UTC()
	return &t
}
