package controllers

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/TobiasKnoll/SubSync/app/models"
	"github.com/TobiasKnoll/SubSync/app/repository"
	"github.com/TobiasKnoll/SubSync/internal/pkg/billing"
	"github.com/TobiasKnoll/SubSync/internal/pkg/database"
	"github.com/TobiasKnoll/SubSync/internal/pkg/jobqueue"
	"github.com/TobiasKnoll/SubSync/internal/pkg/mail"
	"github.com/TobiasKnoll/SubSync/internal/pkg/metrics/counter"
	"github.com/TobiasKnoll/SubSync/internal/pkg/notify"
	"github.com/TobiasKnoll/SubSync/internal/pkg/reconcile"
)

const webhookProcessTimeout = 25 * time.Second

var (
	reconcileService *reconcile.Service
	reconcileOnce    sync.Once
)

// InitializeReconcileService wires the reconciliation engine with its
// collaborators: GORM repository, Redis lease locker, job queue retries,
// notification sink and the optional provider client for out-of-order
// confirmation.
func InitializeReconcileService() {
	reconcileOnce.Do(func() {
		db := database.GetDB()
		queue := jobqueue.GetManager().GetQueue()
		scheduler := jobqueue.NewScheduler(queue)

		var confirmer reconcile.StatusConfirmer
		if billing.HasProviderAPIKey() {
			confirmer = billing.NewStripeClientFromEnv()
		} else {
			log.Warn("[Webhook] no provider API key, stale deliveries use safe-field merge")
		}

		reconcileService = reconcile.NewServiceFromDB(db, reconcile.ServiceConfig{
			Tenants:   repository.NewTenantRepository(db),
			Locker:    reconcile.NewRedisLocker(),
			Confirmer: confirmer,
			Notifier:  notify.NewNotifier(db, scheduler),
			Retries:   scheduler,
		})

		queue.SetReconciler(reconcileService)
		queue.SetMailer(mail.SendMail)
	})
}

// GetReconcileService returns the shared reconciliation engine.
func GetReconcileService() *reconcile.Service {
	InitializeReconcileService()
	return reconcileService
}

// HandleBillingWebhook receives provider event deliveries. Raw body bytes are
// verified against the per-request webhook config before anything is parsed.
func HandleBillingWebhook(c *fiber.Ctx) error {
	rawBody := append([]byte(nil), c.BodyRaw()...)
	sigHeader := c.Get("Stripe-Signature")
	cfg := billing.ResolveWebhookConfig()

	event, err := billing.VerifyWebhookEvent(rawBody, sigHeader, cfg)
	if err != nil {
		if errors.Is(err, billing.ErrInvalidSignature) {
			log.Warnf("[Webhook] rejected delivery with invalid signature from %s", c.IP())
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_signature"})
		}
		log.Errorf("[Webhook] verification unavailable: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "verification_unavailable"})
	}

	ctx, cancel := context.WithTimeout(context.Background(), webhookProcessTimeout)
	defer cancel()

	if event.Livemode != cfg.Livemode {
		// A test event on the live endpoint (or vice versa) is acknowledged
		// without effects so the provider stops redelivering it. The claim
		// row keeps the delivery visible in the audit trail.
		log.Warnf("[Webhook] mode mismatch for event %s (livemode=%t), ignoring", event.ID, event.Livemode)
		reason := fmt.Sprintf("livemode=%t does not match endpoint mode", event.Livemode)
		if _, rErr := GetReconcileService().RecordIgnoredEvent(ctx, event, reason); rErr != nil {
			log.Errorf("[Webhook] recording ignored event %s: %v", event.ID, rErr)
		}
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true, "ignored": true})
	}

	outcome, err := GetReconcileService().ProcessEvent(ctx, event)
	if err != nil {
		switch {
		case errors.Is(err, billing.ErrMalformedIntent):
			log.Warnf("[Webhook] malformed event %s: %v", event.ID, err)
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_payload"})
		case errors.Is(err, reconcile.ErrSubscriptionBusy):
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "busy", "retry": true})
		default:
			log.Errorf("[Webhook] processing event %s failed: %v", event.ID, err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "processing_failed"})
		}
	}

	if !outcome.Duplicate {
		if cErr := counter.AddEventOutcome(outcome.Outcome); cErr != nil {
			log.Debugf("[Webhook] outcome counter: %v", cErr)
		}
	}

	resp := fiber.Map{"ok": true, "outcome": outcome.Outcome}
	if outcome.Duplicate {
		resp["duplicate"] = true
	}
	if outcome.FanOut != nil && len(outcome.FanOut.Failed) > 0 {
		resp["fan_out"] = outcome.FanOut.Summary()
	}
	if outcome.Outcome == models.EventOutcomePartial {
		log.Warnf("[Webhook] event %s applied partially: %s", event.ID, outcome.FanOut.Summary())
	}
	return c.Status(fiber.StatusOK).JSON(resp)
}
