package jobqueue

// Scheduler enqueues reconciliation follow-up work. It satisfies the
// reconciliation engine's RetryScheduler without the engine knowing about
// Redis or job shapes.
type Scheduler struct {
	queue *Queue
}

// NewScheduler creates a scheduler on top of a queue.
func NewScheduler(q *Queue) *Scheduler {
	return &Scheduler{queue: q}
}

// ScheduleEntitlementRetry queues one failed per-tenant entitlement write.
func (s *Scheduler) ScheduleEntitlementRetry(subscriptionID, tenantID uint, reason string) error {
	payload := EntitlementRetryJobPayload{
		SubscriptionID: subscriptionID,
		TenantID:       tenantID,
		Reason:         reason,
	}
	_, err := s.queue.EnqueueJob(JobTypeEntitlementRetry, payload.ToMap())
	return err
}

// ScheduleUserResync queues a full entitlement recompute for one user.
func (s *Scheduler) ScheduleUserResync(userID uint) error {
	payload := UserResyncJobPayload{UserID: userID}
	_, err := s.queue.EnqueueJob(JobTypeUserResync, payload.ToMap())
	return err
}

// ScheduleNotificationEmail queues one outbound billing email.
func (s *Scheduler) ScheduleNotificationEmail(to, subject, body string) error {
	payload := NotificationEmailJobPayload{To: to, Subject: subject, Body: body}
	_, err := s.queue.EnqueueJob(JobTypeNotificationEmail, payload.ToMap())
	return err
}
