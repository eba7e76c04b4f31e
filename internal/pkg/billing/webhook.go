package billing

import (
	"errors"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/webhook"
)

// ErrInvalidSignature marks a webhook body that was not produced with the
// configured secret. Callers must not touch any business state before this
// check passes, and must answer with a non-retryable status.
var ErrInvalidSignature = errors.New("invalid webhook signature")

// VerifyWebhookEvent checks the provider signature over the raw body and
// returns the decoded event envelope. Verification is the provider-sanctioned
// constant-time HMAC scheme; a signature mismatch, an expired timestamp and a
// malformed header all come back as ErrInvalidSignature.
func VerifyWebhookEvent(payload []byte, signatureHeader string, cfg WebhookConfig) (*stripe.Event, error) {
	if strings.TrimSpace(cfg.Secret) == "" {
		return nil, errors.New("webhook secret is not configured")
	}
	if strings.TrimSpace(signatureHeader) == "" {
		return nil, fmt.Errorf("%w: missing signature header", ErrInvalidSignature)
	}

	event, err := webhook.ConstructEventWithOptions(payload, signatureHeader, cfg.Secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return &event, nil
}
