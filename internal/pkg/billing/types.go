package billing

import (
	"strings"

	"github.com/TobiasKnoll/SubSync/internal/pkg/env"
)

// Provider event types the reconciler handles. Everything else is recorded
// and acknowledged without effects.
const (
	EventCheckoutCompleted       = "checkout.session.completed"
	EventSubscriptionCreated     = "customer.subscription.created"
	EventSubscriptionUpdated     = "customer.subscription.updated"
	EventSubscriptionDeleted     = "customer.subscription.deleted"
	EventInvoicePaymentSucceeded = "invoice.payment_succeeded"
	EventInvoicePaymentFailed    = "invoice.payment_failed"
)

// IsHandledEventType reports whether an event type drives reconciliation.
func IsHandledEventType(eventType string) bool {
	switch eventType {
	case EventCheckoutCompleted,
		EventSubscriptionCreated,
		EventSubscriptionUpdated,
		EventSubscriptionDeleted,
		EventInvoicePaymentSucceeded,
		EventInvoicePaymentFailed:
		return true
	default:
		return false
	}
}

// IsCreationEventType reports whether an event may create a subscription that
// does not exist yet. Update/delete events for unknown subscriptions are
// orphans instead.
func IsCreationEventType(eventType string) bool {
	switch eventType {
	case EventCheckoutCompleted, EventSubscriptionCreated:
		return true
	default:
		return false
	}
}

// WebhookConfig carries the webhook verification settings for one request.
// It is resolved fresh per request and passed into the verifier explicitly;
// there is no process-wide mutable secret.
type WebhookConfig struct {
	Secret   string
	Livemode bool
}

// ResolveWebhookConfig builds the webhook config for the current mode.
// BILLING_MODE=live selects the live secret, everything else runs on the
// test secret.
func ResolveWebhookConfig() WebhookConfig {
	mode := strings.ToLower(strings.TrimSpace(env.GetEnv("BILLING_MODE", "test")))
	if mode == "live" {
		return WebhookConfig{
			Secret:   strings.TrimSpace(env.GetEnv("STRIPE_WEBHOOK_SECRET_LIVE", "")),
			Livemode: true,
		}
	}
	secret := strings.TrimSpace(env.GetEnv("STRIPE_WEBHOOK_SECRET_TEST", ""))
	if secret == "" {
		secret = strings.TrimSpace(env.GetEnv("STRIPE_WEBHOOK_SECRET", ""))
	}
	return WebhookConfig{Secret: secret, Livemode: false}
}
