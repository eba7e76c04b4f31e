package jobqueue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEntitlementRetryJobPayloadRoundTrip(t *testing.T) {
	payload := EntitlementRetryJobPayload{
		SubscriptionID: 12,
		TenantID:       3,
		Reason:         "deadlock detected",
	}

	decoded, err := EntitlementRetryJobPayloadFromMap(payload.ToMap())
	require.NoError(t, err)
	assert.Equal(t, payload, *decoded)
}

func TestUserResyncJobPayloadRoundTrip(t *testing.T) {
	payload := UserResyncJobPayload{UserID: 7}

	decoded, err := UserResyncJobPayloadFromMap(payload.ToMap())
	require.NoError(t, err)
	assert.Equal(t, payload, *decoded)
}

func TestNotificationEmailJobPayloadRoundTrip(t *testing.T) {
	payload := NotificationEmailJobPayload{
		To:      "owner@example.com",
		Subject: "Payment failed",
		Body:    "<p>Your payment failed.</p>",
	}

	decoded, err := NotificationEmailJobPayloadFromMap(payload.ToMap())
	require.NoError(t, err)
	assert.Equal(t, payload, *decoded)
}

func TestJobLifecycleMarkers(t *testing.T) {
	job := &Job{
		ID:         "test-id",
		Type:       JobTypeEntitlementRetry,
		Status:     JobStatusPending,
		MaxRetries: DefaultMaxRetries,
		CreatedAt:  time.Now(),
	}

	job.MarkAsProcessing()
	assert.Equal(t, JobStatusProcessing, job.Status)
	require.NotNil(t, job.ProcessedAt)

	job.MarkAsFailed("redis timeout")
	assert.Equal(t, JobStatusFailed, job.Status)
	assert.Equal(t, "redis timeout", job.ErrorMsg)
	assert.Equal(t, 1, job.RetryCount)
	assert.True(t, job.IsRetryable())

	job.MarkAsRetrying()
	assert.Equal(t, JobStatusRetrying, job.Status)
	assert.False(t, job.IsRetryable())

	job.MarkAsCompleted()
	assert.Equal(t, JobStatusCompleted, job.Status)
	assert.Empty(t, job.ErrorMsg)
	require.NotNil(t, job.CompletedAt)
}

func TestJobIsNotRetryableAfterMaxRetries(t *testing.T) {
	job := &Job{Status: JobStatusFailed, RetryCount: DefaultMaxRetries, MaxRetries: DefaultMaxRetries}
	assert.False(t, job.IsRetryable())
}
