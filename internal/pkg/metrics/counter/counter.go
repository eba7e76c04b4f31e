// Package counter keeps cheap Redis-side tallies of webhook processing
// outcomes. Counters are advisory: losing them costs a dashboard number,
// never a reconciliation result.
package counter

import (
	"context"
	"strconv"

	"github.com/TobiasKnoll/SubSync/internal/pkg/cache"
)

const eventOutcomesKey = "billing:counters:outcomes"

// AddEventOutcome increments the tally for one processing outcome.
func AddEventOutcome(outcome string) error {
	if outcome == "" {
		return nil
	}
	ctx := context.Background()
	return cache.GetClient().HIncrBy(ctx, eventOutcomesKey, outcome, 1).Err()
}

// GetEventOutcomeTotals returns all outcome tallies since the last reset.
func GetEventOutcomeTotals(ctx context.Context) (map[string]int64, error) {
	raw, err := cache.GetClient().HGetAll(ctx, eventOutcomesKey).Result()
	if err != nil {
		return nil, err
	}
	totals := make(map[string]int64, len(raw))
	for outcome, count := range raw {
		if n, err := strconv.ParseInt(count, 10, 64); err == nil {
			totals[outcome] = n
		}
	}
	return totals, nil
}

// ResetEventOutcomeTotals clears all outcome tallies.
func ResetEventOutcomeTotals(ctx context.Context) error {
	return cache.GetClient().Del(ctx, eventOutcomesKey).Err()
}
