package reconcile

import (
	"context"
	"time"

	"github.com/TobiasKnoll/SubSync/internal/pkg/cache"
	"github.com/google/uuid"
)

const subscriptionLockPrefix = "billing:sublock:"

// Locker serializes event processing per subscription id. Events for
// different subscriptions run fully in parallel; two deliveries for the same
// subscription must never apply concurrently.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(), ok bool, err error)
}

type redisLocker struct{}

// NewRedisLocker returns a Locker backed by Redis SET NX leases.
func NewRedisLocker() Locker {
	return &redisLocker{}
}

func (l *redisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), bool, error) {
	token := uuid.New().String()
	ok, err := cache.AcquireLease(ctx, key, token, ttl)
	if err != nil || !ok {
		return nil, false, err
	}
	release := func() {
		// Release must not inherit a cancelled request context.
		_ = cache.ReleaseLease(context.Background(), key, token)
	}
	return release, true, nil
}

// SubscriptionLockKey builds the lease key for a provider subscription id.
func SubscriptionLockKey(providerSubscriptionID string) string {
	return subscriptionLockPrefix + providerSubscriptionID
}
