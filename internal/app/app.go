// Package app builds the process-wide settlement context: one store, one set of
// gateway clients and the services on top of them.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/punchamoorthee/dropledger/internal/config"
	"github.com/punchamoorthee/dropledger/internal/gateway"
	"github.com/punchamoorthee/dropledger/internal/jobs"
	"github.com/punchamoorthee/dropledger/internal/ledger"
	"github.com/punchamoorthee/dropledger/internal/notify"
	"github.com/punchamoorthee/dropledger/internal/service"
	"github.com/punchamoorthee/dropledger/internal/store"
)

type sink interface {
	notify.Sender
	Close() error
}

type App struct {
	Config *config.Config
	Logger *slog.Logger
	Store  *store.Postgres
	Stripe *gateway.Stripe
	Ledger *ledger.Writer

	Fulfillment *service.FulfillmentProcessor
	Access      *service.AccessService
	Catalog     *service.Catalog
	Sweeper     *service.Sweeper
	Notifier    *service.ExpirationNotifier
	Drainer     *notify.Drainer
	// Payout is nil when no payout network credentials are configured.
	Payout *service.PayoutProcessor
	// Lease is nil without REDIS_URL.
	Lease *jobs.RedisLease

	sink sink
}

func Build(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	schedule, err := cfg.FeeSchedule()
	if err != nil {
		return nil, err
	}
	threshold, err := cfg.PayoutThreshold()
	if err != nil {
		return nil, err
	}

	st, err := store.NewPostgres(ctx, cfg.DBSource, cfg.MaxDBConns)
	if err != nil {
		return nil, err
	}
	a := &App{Config: cfg, Logger: logger, Store: st, Ledger: ledger.NewWriter(st)}

	objects, err := gateway.NewObjectStore(cfg.Storage)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Stripe = gateway.NewStripe(cfg.Stripe)

	a.Fulfillment = service.NewFulfillmentProcessor(st, objects, service.FulfillmentConfig{
		Fees:          schedule,
		Timeout:       cfg.ExternalTimeout,
		PublicBaseURL: cfg.PublicBaseURL,
	}, logger)
	a.Access = service.NewAccessService(st, objects, cfg.ExternalTimeout, logger)
	a.Sweeper = service.NewSweeper(st, objects, service.SweepConfig{
		TTL:         cfg.ProductTTL,
		DeleteBatch: cfg.Sweep.DeleteBatchSize,
		MaxProducts: cfg.Sweep.MaxProductsPerRun,
		Timeout:     cfg.ExternalTimeout,
	}, logger)
	a.Catalog = service.NewCatalog(st, a.Stripe, a.Sweeper, service.CatalogConfig{
		Fees:     schedule,
		TTL:      cfg.ProductTTL,
		Currency: cfg.Currency,
		Timeout:  cfg.ExternalTimeout,
	}, logger)
	a.Notifier = service.NewExpirationNotifier(st, service.NotifierConfig{
		Lookahead: cfg.Notifier.Lookahead,
		Tolerance: cfg.Notifier.Tolerance,
	}, logger)

	if len(cfg.Kafka.Brokers) > 0 {
		k, err := gateway.NewKafkaSink(cfg.Kafka.Brokers, cfg.Kafka.NotifyTopic)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.sink = k
	} else {
		a.sink = gateway.NewLogSink(logger)
	}
	a.Drainer = notify.NewDrainer(st, a.sink, notify.Config{
		BatchSize:      cfg.Outbox.BatchSize,
		SendsPerSecond: cfg.Notifier.SendsPerSecond,
		Timeout:        cfg.ExternalTimeout,
	}, logger)

	if cfg.PayPal.ClientID != "" {
		pp, err := gateway.NewPayPal(cfg.PayPal)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.Payout = service.NewPayoutProcessor(st, pp, service.PayoutConfig{
			Fees:           schedule,
			Threshold:      threshold,
			ChunkSize:      cfg.Payout.ChunkSize,
			ChunkPause:     cfg.Payout.ChunkPause,
			CallsPerSecond: cfg.Payout.CallsPerSecond,
			Timeout:        cfg.ExternalTimeout,
			Currency:       cfg.Currency,
		}, logger)
	}

	if cfg.RedisURL != "" {
		lease, err := jobs.NewRedisLease(cfg.RedisURL)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.Lease = lease
	}
	return a, nil
}

// Jobs returns the three scheduled lifecycle jobs.
func (a *App) Jobs() []jobs.Job {
	js := []jobs.Job{
		{
			Name:     "cleanup",
			Schedule: a.Config.Schedules.Cleanup,
			LeaseTTL: 2 * time.Hour,
			Run: func(ctx context.Context) error {
				_, err := a.Sweeper.Run(ctx)
				return err
			},
		},
		{
			Name:     "expiration_warnings",
			Schedule: a.Config.Schedules.Warnings,
			LeaseTTL: 30 * time.Minute,
			Run: func(ctx context.Context) error {
				_, err := a.Notifier.Run(ctx)
				return err
			},
		},
	}
	if a.Payout != nil {
		js = append(js, jobs.Job{
			Name:     "payout",
			Schedule: a.Config.Schedules.Payout,
			LeaseTTL: 6 * time.Hour,
			Run: func(ctx context.Context) error {
				_, err := a.Payout.Run(ctx)
				return err
			},
		})
	}
	return js
}

func (a *App) Job(name string) (jobs.Job, error) {
	for _, j := range a.Jobs() {
		if j.Name == name {
			return j, nil
		}
	}
	return jobs.Job{}, fmt.Errorf("unknown or unconfigured job %q", name)
}

// Scheduler wires the jobs' lease only when one is configured.
func (a *App) Scheduler(ctx context.Context) *jobs.Scheduler {
	if a.Lease == nil {
		return jobs.NewScheduler(ctx, a.Store, nil, a.Logger)
	}
	return jobs.NewScheduler(ctx, a.Store, a.Lease, a.Logger)
}

func (a *App) Close() {
	if a.sink != nil {
		if err := a.sink.Close(); err != nil {
			a.Logger.Warn("notification sink close failed", "module", "app", "operation", "close", "outcome", "failed", "error", err)
		}
	}
	if a.Lease != nil {
		_ = a.Lease.Close()
	}
	if a.Store != nil {
		a.Store.Close()
	}
}
