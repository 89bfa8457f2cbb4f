package service

import (
	"context"
	"fmt"
	"time"

	"github.com/punchamoorthee/dropledger/internal/domain"
	"github.com/punchamoorthee/dropledger/internal/store"
)

// StatsRecomputer rebuilds a seller's aggregate from source rows. It never
// adjusts the stored document incrementally.
type StatsRecomputer struct {
	store store.Store
	now   func() time.Time
}

func NewStatsRecomputer(st store.Store) *StatsRecomputer {
	return &StatsRecomputer{store: st, now: utcNow}
}

func (r *StatsRecomputer) Recompute(ctx context.Context, userID string) (domain.UserStats, error) {
	stats, err := r.store.AggregateSeller(ctx, userID)
	if err != nil {
		return domain.UserStats{}, fmt.Errorf("aggregate seller %s: %w", userID, err)
	}
	stats.UserID = userID
	stats.ComputedAt = r.now()
	if err := r.store.PutUserStats(ctx, stats); err != nil {
		return domain.UserStats{}, fmt.Errorf("store stats %s: %w", userID, err)
	}
	return stats, nil
}
