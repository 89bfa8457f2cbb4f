package service

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/punchamoorthee/dropledger/internal/domain"
	"github.com/punchamoorthee/dropledger/internal/store"
)

type SweepConfig struct {
	TTL         time.Duration
	DeleteBatch int
	MaxProducts int
	Timeout     time.Duration
}

type SweepReport struct {
	Products        int
	Failed          int
	StorageFailures int
	Deleted         map[string]int
	Sellers         []string
}

// Sweeper purges listings past their time-to-live. Ledger and payout rows are
// outside the cascade and survive.
type Sweeper struct {
	store   store.Store
	objects ObjectStore
	stats   *StatsRecomputer
	cfg     SweepConfig
	logger  *slog.Logger
	now     func() time.Time
}

func NewSweeper(st store.Store, objects ObjectStore, cfg SweepConfig, logger *slog.Logger) *Sweeper {
	return &Sweeper{
		store:   st,
		objects: objects,
		stats:   NewStatsRecomputer(st),
		cfg:     cfg,
		logger:  loggerOr(logger),
		now:     utcNow,
	}
}

func (s *Sweeper) Run(ctx context.Context) (SweepReport, error) {
	report := SweepReport{Deleted: make(map[string]int)}
	cutoff := s.now().Add(-s.cfg.TTL)
	products, err := s.store.ListProductsCreatedBefore(ctx, cutoff, s.cfg.MaxProducts)
	if err != nil {
		return report, err
	}

	affected := make(map[string]bool)
	for _, p := range products {
		deleted, storageFailures, err := s.Purge(ctx, p)
		report.StorageFailures += storageFailures
		for collection, n := range deleted {
			report.Deleted[collection] += n
		}
		if err != nil {
			report.Failed++
			s.logger.Error("product purge failed",
				"module", "cleanup",
				"operation", "purge",
				"outcome", "failed",
				"product_id", p.ID,
				"error", err,
			)
			continue
		}
		report.Products++
		affected[p.OwnerID] = true
	}

	for seller := range affected {
		report.Sellers = append(report.Sellers, seller)
	}
	sort.Strings(report.Sellers)
	for _, seller := range report.Sellers {
		if _, err := s.stats.Recompute(ctx, seller); err != nil {
			s.logger.Warn("stats recompute failed",
				"module", "cleanup",
				"operation", "recompute_stats",
				"outcome", "failed",
				"seller_id", seller,
				"error", err,
			)
		}
	}

	s.logger.Info("expiration sweep finished",
		"module", "cleanup",
		"operation", "sweep",
		"outcome", "completed",
		"products", report.Products,
		"failed", report.Failed,
		"storage_failures", report.StorageFailures,
		"sellers", len(report.Sellers),
	)
	return report, nil
}

// Purge removes a product's objects best-effort, then its rows through the
// declarative cascade. It is shared by the sweep and owner deletion.
func (s *Sweeper) Purge(ctx context.Context, p domain.Product) (map[string]int, int, error) {
	storageFailures := 0
	for _, key := range []string{p.FileKey, p.CoverKey} {
		if key == "" {
			continue
		}
		callCtx, cancel := withTimeout(ctx, s.cfg.Timeout)
		err := s.objects.Remove(callCtx, key)
		cancel()
		if err != nil {
			storageFailures++
			s.logger.Warn("object removal failed",
				"module", "cleanup",
				"operation", "remove_object",
				"outcome", "failed",
				"product_id", p.ID,
				"key", key,
				"error", err,
			)
		}
	}

	deleted, err := store.PurgeProduct(ctx, s.store, p.ID, s.cfg.DeleteBatch)
	for collection, n := range deleted {
		sweepDeleted.WithLabelValues(collection).Add(float64(n))
	}
	return deleted, storageFailures, err
}
