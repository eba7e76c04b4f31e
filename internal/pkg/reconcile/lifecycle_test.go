package reconcile

import (
	"testing"

	"github.com/TobiasKnoll/SubSync/app/models"
	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to string
		want     bool
	}{
		{models.SubscriptionStatusPending, models.SubscriptionStatusActive, true},
		{models.SubscriptionStatusPending, models.SubscriptionStatusPastDue, true},
		{models.SubscriptionStatusPending, models.SubscriptionStatusCanceled, true},
		{models.SubscriptionStatusPending, models.SubscriptionStatusPending, true},
		{models.SubscriptionStatusActive, models.SubscriptionStatusActive, true},
		{models.SubscriptionStatusActive, models.SubscriptionStatusPastDue, true},
		{models.SubscriptionStatusActive, models.SubscriptionStatusCanceled, true},
		{models.SubscriptionStatusActive, models.SubscriptionStatusPending, false},
		{models.SubscriptionStatusPastDue, models.SubscriptionStatusActive, true},
		{models.SubscriptionStatusPastDue, models.SubscriptionStatusCanceled, true},
		{models.SubscriptionStatusPastDue, models.SubscriptionStatusPending, false},
		{models.SubscriptionStatusCanceled, models.SubscriptionStatusCanceled, true},
		{models.SubscriptionStatusCanceled, models.SubscriptionStatusActive, false},
		{models.SubscriptionStatusCanceled, models.SubscriptionStatusPastDue, false},
		{models.SubscriptionStatusCanceled, models.SubscriptionStatusPending, false},
		{"", models.SubscriptionStatusActive, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, CanTransition(tc.from, tc.to), "%s -> %s", tc.from, tc.to)
	}
}
