// Package notify delivers queued notification intents. Delivery is at least
// once: a row is marked sent only after the transport accepted it.
package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/punchamoorthee/dropledger/internal/domain"
	"golang.org/x/time/rate"
)

var outboxSent = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "market_outbox_sent_total",
	Help: "Outbox notifications handed to the transport, by outcome",
}, []string{"outcome"})

type Sender interface {
	Send(ctx context.Context, n domain.NotificationIntent) error
}

// Outbox is the store surface the drainer reads and updates.
type Outbox interface {
	ListPendingNotifications(ctx context.Context, limit int) ([]domain.NotificationIntent, error)
	MarkNotificationSent(ctx context.Context, id string, at time.Time) error
	MarkNotificationFailed(ctx context.Context, id, reason string) error
}

type Config struct {
	BatchSize      int
	SendsPerSecond float64
	Timeout        time.Duration
}

type Drainer struct {
	outbox  Outbox
	sender  Sender
	limiter *rate.Limiter
	cfg     Config
	logger  *slog.Logger
	now     func() time.Time
}

func NewDrainer(outbox Outbox, sender Sender, cfg Config, logger *slog.Logger) *Drainer {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	limit := rate.Inf
	if cfg.SendsPerSecond > 0 {
		limit = rate.Limit(cfg.SendsPerSecond)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Drainer{
		outbox:  outbox,
		sender:  sender,
		limiter: rate.NewLimiter(limit, 1),
		cfg:     cfg,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Drain sends one batch of pending intents, paced by the send limiter. A failed
// send stays pending for the next drain.
func (d *Drainer) Drain(ctx context.Context) (sent, failed int, err error) {
	pending, err := d.outbox.ListPendingNotifications(ctx, d.cfg.BatchSize)
	if err != nil {
		return 0, 0, err
	}
	for _, n := range pending {
		if err := d.limiter.Wait(ctx); err != nil {
			return sent, failed, err
		}
		callCtx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
		sendErr := d.sender.Send(callCtx, n)
		cancel()

		if sendErr != nil {
			failed++
			outboxSent.WithLabelValues("failed").Inc()
			d.logger.Warn("notification send failed",
				"module", "notify",
				"operation", "send",
				"outcome", "failed",
				"notification_id", n.ID,
				"kind", n.Kind,
				"error", sendErr,
			)
			if err := d.outbox.MarkNotificationFailed(ctx, n.ID, sendErr.Error()); err != nil {
				d.logger.Error("outbox update failed", "module", "notify", "operation", "mark_failed", "outcome", "failed", "notification_id", n.ID, "error", err)
			}
			continue
		}

		sent++
		outboxSent.WithLabelValues("sent").Inc()
		if err := d.outbox.MarkNotificationSent(ctx, n.ID, d.now()); err != nil {
			d.logger.Error("outbox update failed", "module", "notify", "operation", "mark_sent", "outcome", "failed", "notification_id", n.ID, "error", err)
		}
	}
	return sent, failed, nil
}

// Run drains on every tick until ctx is cancelled.
func (d *Drainer) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		sent, failed, err := d.Drain(ctx)
		switch {
		case err != nil && ctx.Err() == nil:
			d.logger.Error("outbox drain failed", "module", "notify", "operation", "drain", "outcome", "failed", "error", err)
		case sent+failed > 0:
			d.logger.Info("outbox drained", "module", "notify", "operation", "drain", "outcome", "completed", "sent", sent, "failed", failed)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
