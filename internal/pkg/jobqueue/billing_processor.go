package jobqueue

import (
	"context"
	"fmt"

	"github.com/gofiber/fiber/v2/log"
)

// processEntitlementRetryJob re-applies one tenant's entitlement after a
// failed fan-out write. The engine recomputes grant or revoke from current
// subscription state, so a job that outlived the state it was queued for
// simply converges on the newer truth.
func (q *Queue) processEntitlementRetryJob(ctx context.Context, job *Job) error {
	payload, err := EntitlementRetryJobPayloadFromMap(job.Payload)
	if err != nil {
		return fmt.Errorf("invalid entitlement retry payload: %w", err)
	}
	if q.reconciler == nil {
		return fmt.Errorf("no reconciler wired for job %s", job.ID)
	}

	log.Infof("[JobQueue] Retrying entitlement for subscription %d, tenant %d (reason: %s)",
		payload.SubscriptionID, payload.TenantID, payload.Reason)
	return q.reconciler.RetryEntitlement(ctx, payload.SubscriptionID, payload.TenantID)
}

// processUserResyncJob recomputes every entitlement of one user from stored
// subscription state.
func (q *Queue) processUserResyncJob(ctx context.Context, job *Job) error {
	payload, err := UserResyncJobPayloadFromMap(job.Payload)
	if err != nil {
		return fmt.Errorf("invalid user resync payload: %w", err)
	}
	if q.reconciler == nil {
		return fmt.Errorf("no reconciler wired for job %s", job.ID)
	}

	applied, err := q.reconciler.ResyncUser(ctx, payload.UserID)
	if err != nil {
		return err
	}
	log.Infof("[JobQueue] Resync for user %d applied %d entitlement changes", payload.UserID, applied)
	return nil
}

// processNotificationEmailJob sends one queued billing email.
func (q *Queue) processNotificationEmailJob(job *Job) error {
	payload, err := NotificationEmailJobPayloadFromMap(job.Payload)
	if err != nil {
		return fmt.Errorf("invalid notification email payload: %w", err)
	}
	if q.mailer == nil {
		return fmt.Errorf("no mailer wired for job %s", job.ID)
	}
	if payload.To == "" {
		// Nothing to deliver; dropping beats retrying forever.
		log.Warnf("[JobQueue] Notification job %s has no recipient, dropping", job.ID)
		return nil
	}
	return q.mailer(payload.To, payload.Subject, payload.Body)
}
