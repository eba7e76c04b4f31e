package billing

import (
	"encoding/json"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/TobiasKnoll/SubSync/app/models"
	"github.com/stripe/stripe-go/v79"
)

func eventWithRaw(t *testing.T, eventType string, raw string) *stripe.Event {
	t.Helper()
	return &stripe.Event{
		ID:   "evt_test",
		Type: stripe.EventType(eventType),
		Data: &stripe.EventData{Raw: json.RawMessage(raw)},
	}
}

func TestParseEventIntent_Checkout(t *testing.T) {
	raw := `{
		"id": "cs_123",
		"amount_total": 7500,
		"currency": "eur",
		"payment_status": "paid",
		"customer": {"id": "cus_9"},
		"subscription": {"id": "sub_1"},
		"invoice": {"id": "in_55"},
		"metadata": {
			"user_id": "7",
			"tenant_ids": "3,17",
			"tier": "enterprise",
			"tenant_amounts": "3:5000,17:2500"
		}
	}`

	intent, err := ParseEventIntent(eventWithRaw(t, EventCheckoutCompleted, raw))
	if err != nil {
		t.Fatalf("unexpected parse error: %v", err)
	}
	if intent.Kind != IntentCheckout {
		t.Fatalf("unexpected intent kind %q", intent.Kind)
	}
	co := intent.Checkout
	if co.SessionID != "cs_123" || co.SubscriptionID != "sub_1" || co.InvoiceID != "in_55" {
		t.Fatalf("unexpected ids: %+v", co)
	}
	if co.UserID != 7 || len(co.TenantIDs) != 2 || co.Tier != models.TierEnterprise {
		t.Fatalf("unexpected entitlement metadata: %+v", co)
	}
	if !co.Paid || co.AmountTotal != 7500 || co.Currency != "eur" {
		t.Fatalf("unexpected payment fields: %+v", co)
	}
	if co.TenantAmounts[3] != 5000 || co.TenantAmounts[17] != 2500 {
		t.Fatalf("unexpected tenant amounts: %+v", co.TenantAmounts)
	}
	if intent.SubscriptionID() != "sub_1" {
		t.Fatalf("unexpected serialization key %q", intent.SubscriptionID())
	}
}

func TestParseEventIntent_CheckoutWithoutInvoiceUsesSessionID(t *testing.T) {
	raw := `{
		"id": "cs_456",
		"amount_total": 1000,
		"currency": "eur",
		"payment_status": "paid",
		"subscription": {"id": "sub_2"},
		"metadata": {"user_id": "4", "tenant_ids": "9", "tier": "company"}
	}`

	intent, err := ParseEventIntent(eventWithRaw(t, EventCheckoutCompleted, raw))
	if err != nil {
		t.Fatalf("unexpected parse error: %v", err)
	}
	if intent.Checkout.InvoiceID != "cs_456" {
		t.Fatalf("expected session id fallback for ledger key, got %q", intent.Checkout.InvoiceID)
	}
}

func TestParseEventIntent_EnterpriseCheckoutWithoutTenantList(t *testing.T) {
	raw := `{
		"id": "cs_ent",
		"amount_total": 20000,
		"currency": "eur",
		"payment_status": "paid",
		"subscription": {"id": "sub_4"},
		"metadata": {"user_id": "7", "tier": "enterprise"}
	}`

	intent, err := ParseEventIntent(eventWithRaw(t, EventCheckoutCompleted, raw))
	if err != nil {
		t.Fatalf("unexpected parse error: %v", err)
	}
	// Enterprise coverage is resolved from current ownership, so the
	// metadata may omit the tenant list entirely.
	if len(intent.Checkout.TenantIDs) != 0 {
		t.Fatalf("expected empty tenant list, got %v", intent.Checkout.TenantIDs)
	}
	if intent.Checkout.Tier != models.TierEnterprise {
		t.Fatalf("unexpected tier %q", intent.Checkout.Tier)
	}
}

func TestParseEventIntent_CompanyCheckoutRequiresTenantList(t *testing.T) {
	raw := `{
		"id": "cs_co",
		"amount_total": 7500,
		"currency": "eur",
		"payment_status": "paid",
		"subscription": {"id": "sub_5"},
		"metadata": {"user_id": "7", "tier": "company"}
	}`

	_, err := ParseEventIntent(eventWithRaw(t, EventCheckoutCompleted, raw))
	if !errors.Is(err, ErrMalformedIntent) {
		t.Fatalf("expected ErrMalformedIntent for missing tenant_ids, got %v", err)
	}
}

func TestParseEventIntent_CheckoutMissingMetadata(t *testing.T) {
	raw := `{
		"id": "cs_789",
		"payment_status": "paid",
		"currency": "eur",
		"subscription": {"id": "sub_3"},
		"metadata": {"tenant_ids": "1,2"}
	}`

	_, err := ParseEventIntent(eventWithRaw(t, EventCheckoutCompleted, raw))
	if !errors.Is(err, ErrMalformedIntent) {
		t.Fatalf("expected ErrMalformedIntent for missing user_id, got %v", err)
	}
}

func TestParseEventIntent_SubscriptionUpdated(t *testing.T) {
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0)
	raw := `{
		"id": "sub_1",
		"status": "past_due",
		"customer": {"id": "cus_9"},
		"current_period_start": ` + formatUnix(start) + `,
		"current_period_end": ` + formatUnix(end) + `,
		"cancel_at_period_end": true
	}`

	intent, err := ParseEventIntent(eventWithRaw(t, EventSubscriptionUpdated, raw))
	if err != nil {
		t.Fatalf("unexpected parse error: %v", err)
	}
	si := intent.Subscription
	if si.Status != models.SubscriptionStatusPastDue {
		t.Fatalf("unexpected status %q", si.Status)
	}
	if si.PeriodStart == nil || !si.PeriodStart.Equal(start) {
		t.Fatalf("unexpected period start %v", si.PeriodStart)
	}
	if si.PeriodEnd == nil || !si.PeriodEnd.Equal(end) {
		t.Fatalf("unexpected period end %v", si.PeriodEnd)
	}
	if !si.CancelAtPeriodEnd {
		t.Fatalf("expected cancel_at_period_end to survive parsing")
	}
}

func TestParseEventIntent_SubscriptionDeletedForcesCanceled(t *testing.T) {
	raw := `{"id": "sub_1", "status": "active"}`

	intent, err := ParseEventIntent(eventWithRaw(t, EventSubscriptionDeleted, raw))
	if err != nil {
		t.Fatalf("unexpected parse error: %v", err)
	}
	if intent.Subscription.Status != models.SubscriptionStatusCanceled {
		t.Fatalf("deleted event must map to canceled, got %q", intent.Subscription.Status)
	}
}

func TestParseEventIntent_InvoiceFailed(t *testing.T) {
	raw := `{
		"id": "in_77",
		"amount_due": 4900,
		"currency": "eur",
		"attempt_count": 2,
		"subscription": {"id": "sub_1"}
	}`

	intent, err := ParseEventIntent(eventWithRaw(t, EventInvoicePaymentFailed, raw))
	if err != nil {
		t.Fatalf("unexpected parse error: %v", err)
	}
	ii := intent.Invoice
	if ii.Paid {
		t.Fatalf("payment_failed event must not be paid")
	}
	if ii.AmountCents != 4900 || ii.AttemptCount != 2 {
		t.Fatalf("unexpected invoice fields: %+v", ii)
	}
}

func TestParseEventIntent_InvoiceWithoutSubscription(t *testing.T) {
	raw := `{"id": "in_88", "currency": "eur"}`

	_, err := ParseEventIntent(eventWithRaw(t, EventInvoicePaymentSucceeded, raw))
	if !errors.Is(err, ErrMalformedIntent) {
		t.Fatalf("expected ErrMalformedIntent, got %v", err)
	}
}

func TestParseEventIntent_UnhandledType(t *testing.T) {
	intent, err := ParseEventIntent(eventWithRaw(t, "payment_intent.created", `{}`))
	if err != nil || intent != nil {
		t.Fatalf("expected unhandled types to be silently skipped, got %v / %v", intent, err)
	}
}

func TestMapProviderStatus(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "active", want: models.SubscriptionStatusActive},
		{in: "trialing", want: models.SubscriptionStatusActive},
		{in: "past_due", want: models.SubscriptionStatusPastDue},
		{in: "unpaid", want: models.SubscriptionStatusPastDue},
		{in: "canceled", want: models.SubscriptionStatusCanceled},
		{in: "incomplete_expired", want: models.SubscriptionStatusCanceled},
		{in: "incomplete", want: models.SubscriptionStatusPending},
		{in: "", want: models.SubscriptionStatusPending},
	}

	for _, tt := range tests {
		if got := MapProviderStatus(tt.in); got != tt.want {
			t.Fatalf("MapProviderStatus(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestParseTenantAmounts(t *testing.T) {
	amounts, err := ParseTenantAmounts(" 3:5000, 17:2500 ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(amounts) != 2 || amounts[3] != 5000 || amounts[17] != 2500 {
		t.Fatalf("unexpected amounts: %+v", amounts)
	}

	if _, err := ParseTenantAmounts("3=5000"); !errors.Is(err, ErrMalformedIntent) {
		t.Fatalf("expected ErrMalformedIntent for bad separator, got %v", err)
	}
	if _, err := ParseTenantAmounts("3:-1"); !errors.Is(err, ErrMalformedIntent) {
		t.Fatalf("expected ErrMalformedIntent for negative amount, got %v", err)
	}

	amounts, err = ParseTenantAmounts("")
	if err != nil || amounts != nil {
		t.Fatalf("expected empty input to yield nil map, got %v / %v", amounts, err)
	}
}

func TestFormatTenantAmountsRoundTrip(t *testing.T) {
	encoded := FormatTenantAmounts(map[uint]int64{17: 2500, 3: 5000})
	if encoded != "3:5000,17:2500" {
		t.Fatalf("expected stable sorted encoding, got %q", encoded)
	}
	decoded, err := ParseTenantAmounts(encoded)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decoded[3] != 5000 || decoded[17] != 2500 {
		t.Fatalf("round trip lost components: %+v", decoded)
	}
	if FormatTenantAmounts(nil) != "" {
		t.Fatalf("expected empty encoding for nil map")
	}
}

func formatUnix(t time.Time) string {
	return strconv.FormatInt(t.Unix(), 10)
}
