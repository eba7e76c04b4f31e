package billing

import "testing"

func TestIsHandledEventType(t *testing.T) {
	for _, eventType := range []string{
		EventCheckoutCompleted,
		EventSubscriptionCreated,
		EventSubscriptionUpdated,
		EventSubscriptionDeleted,
		EventInvoicePaymentSucceeded,
		EventInvoicePaymentFailed,
	} {
		if !IsHandledEventType(eventType) {
			t.Fatalf("expected %q to be handled", eventType)
		}
	}

	for _, eventType := range []string{"payment_intent.created", "charge.refunded", ""} {
		if IsHandledEventType(eventType) {
			t.Fatalf("expected %q to be unhandled", eventType)
		}
	}
}

func TestIsCreationEventType(t *testing.T) {
	if !IsCreationEventType(EventCheckoutCompleted) || !IsCreationEventType(EventSubscriptionCreated) {
		t.Fatalf("expected checkout and subscription-created to be creation-class")
	}
	for _, eventType := range []string{EventSubscriptionUpdated, EventSubscriptionDeleted, EventInvoicePaymentFailed} {
		if IsCreationEventType(eventType) {
			t.Fatalf("expected %q to be update-class", eventType)
		}
	}
}

func TestResolveWebhookConfig_ModeSwitch(t *testing.T) {
	t.Setenv("BILLING_MODE", "live")
	t.Setenv("STRIPE_WEBHOOK_SECRET_LIVE", "whsec_live")
	t.Setenv("STRIPE_WEBHOOK_SECRET_TEST", "whsec_test")

	cfg := ResolveWebhookConfig()
	if !cfg.Livemode || cfg.Secret != "whsec_live" {
		t.Fatalf("expected live config, got %+v", cfg)
	}

	t.Setenv("BILLING_MODE", "test")
	cfg = ResolveWebhookConfig()
	if cfg.Livemode || cfg.Secret != "whsec_test" {
		t.Fatalf("expected test config, got %+v", cfg)
	}
}
