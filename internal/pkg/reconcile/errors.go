package reconcile

import "errors"

var (
	// ErrOrphanEvent marks an update/delete-class event for a subscription the
	// reconciler has no record of. Orphans are logged for manual
	// reconciliation and acknowledged so the provider stops retrying.
	ErrOrphanEvent = errors.New("orphan event: no matching subscription")

	// ErrSubscriptionBusy means another delivery for the same subscription is
	// currently being applied. Callers answer with a transient status so the
	// provider retries later.
	ErrSubscriptionBusy = errors.New("subscription is locked by another delivery")
)
