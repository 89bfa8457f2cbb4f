package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/punchamoorthee/dropledger/internal/domain"
	"github.com/punchamoorthee/dropledger/internal/store"
)

type NotifierConfig struct {
	Lookahead time.Duration
	Tolerance time.Duration
}

// ExpirationNotifier queues one warning per listing entering the lookahead
// window. Delivery pacing is applied by the outbox drainer.
type ExpirationNotifier struct {
	store  store.Store
	cfg    NotifierConfig
	logger *slog.Logger
	now    func() time.Time
}

func NewExpirationNotifier(st store.Store, cfg NotifierConfig, logger *slog.Logger) *ExpirationNotifier {
	return &ExpirationNotifier{store: st, cfg: cfg, logger: loggerOr(logger), now: utcNow}
}

// Run returns the number of warnings queued.
func (n *ExpirationNotifier) Run(ctx context.Context) (int, error) {
	now := n.now()
	from := now.Add(n.cfg.Lookahead - n.cfg.Tolerance)
	to := now.Add(n.cfg.Lookahead + n.cfg.Tolerance)
	products, err := n.store.ListProductsExpiringBetween(ctx, from, to)
	if err != nil {
		return 0, err
	}

	queued := 0
	for _, p := range products {
		warned, err := n.store.HasWarning(ctx, p.ID)
		if err != nil {
			n.logger.Warn("warning lookup failed", "module", "notifier", "operation", "lookup", "outcome", "failed", "product_id", p.ID, "error", err)
			continue
		}
		if warned {
			continue
		}

		owner, err := n.store.GetAccount(ctx, p.OwnerID)
		if errors.Is(err, domain.ErrNotFound) || (err == nil && owner.Email == "") {
			n.logger.Warn("no contact for listing owner", "module", "notifier", "operation", "warn", "outcome", "skipped", "product_id", p.ID)
			continue
		}
		if err != nil {
			n.logger.Warn("owner lookup failed", "module", "notifier", "operation", "warn", "outcome", "failed", "product_id", p.ID, "error", err)
			continue
		}

		enqueue(ctx, n.store, n.logger, domain.NotificationIntent{
			ID:        string(domain.NotifyExpirationWarning) + ":" + p.ID,
			Kind:      domain.NotifyExpirationWarning,
			Recipient: owner.Email,
			ProductID: p.ID,
			Data: map[string]string{
				"title":      p.Title,
				"expires_at": p.ExpiresAt.UTC().Format(time.RFC3339),
			},
			CreatedAt: now,
		})
		if err := n.store.MarkWarning(ctx, domain.WarningSent{ProductID: p.ID, SentAt: now}); err != nil {
			n.logger.Warn("warning log write failed", "module", "notifier", "operation", "mark", "outcome", "failed", "product_id", p.ID, "error", err)
			continue
		}
		queued++
	}

	n.logger.Info("expiration warnings queued",
		"module", "notifier",
		"operation", "run",
		"outcome", "completed",
		"candidates", len(products),
		"queued", queued,
	)
	return queued, nil
}
