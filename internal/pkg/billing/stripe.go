package billing

import (
	"context"
	"errors"
	"strings"

	"github.com/TobiasKnoll/SubSync/internal/pkg/env"
	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/client"
)

// StripeClient wraps the provider API. The reconciler only ever uses it to
// confirm current subscription state when deliveries arrive out of order,
// never to decide outcomes speculatively.
type StripeClient struct {
	api *client.API
}

// NewStripeClientFromEnv builds a provider client for the configured mode.
func NewStripeClientFromEnv() *StripeClient {
	api := &client.API{}
	api.Init(resolveAPIKey(), nil)
	return &StripeClient{api: api}
}

// HasProviderAPIKey reports whether an API key is configured for the current
// mode. Without one the reconciler skips provider confirmation entirely.
func HasProviderAPIKey() bool {
	return resolveAPIKey() != ""
}

func resolveAPIKey() string {
	mode := strings.ToLower(strings.TrimSpace(env.GetEnv("BILLING_MODE", "test")))
	key := strings.TrimSpace(env.GetEnv("STRIPE_SECRET_KEY_TEST", ""))
	if mode == "live" {
		key = strings.TrimSpace(env.GetEnv("STRIPE_SECRET_KEY_LIVE", ""))
	}
	if key == "" {
		key = strings.TrimSpace(env.GetEnv("STRIPE_SECRET_KEY", ""))
	}
	return key
}

// ConfirmSubscription re-fetches the provider's current view of a
// subscription and returns it as a normalized intent.
func (c *StripeClient) ConfirmSubscription(ctx context.Context, providerSubscriptionID string) (*SubscriptionIntent, error) {
	id := strings.TrimSpace(providerSubscriptionID)
	if id == "" {
		return nil, errors.New("provider subscription id is required")
	}

	params := &stripe.SubscriptionParams{}
	params.Context = ctx
	sub, err := c.api.Subscriptions.Get(id, params)
	if err != nil {
		return nil, err
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
	if raw := strings.TrimSpace(sub.Metadata[metaKeyUserID]); raw != "" {
		userID, tenantIDs, tier, err := parseEntitlementMetadata(sub.Metadata)
		if err == nil {
			intent.UserID = userID
			intent.TenantIDs = tenantIDs
			intent.Tier = tier
		}
	}
	if amounts, err := ParseTenantAmounts(sub.Metadata[metaKeyTenantAmounts]); err == nil {
		intent.TenantAmounts = amounts
	}
	return intent, nil
}
