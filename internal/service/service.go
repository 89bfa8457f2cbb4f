// Package service implements the settlement and lifecycle operations of the
// marketplace on top of the store, the ledger writer and the external gateways.
package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"net/mail"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/punchamoorthee/dropledger/internal/domain"
	"github.com/punchamoorthee/dropledger/internal/store"
)

// ObjectStore is the storage surface used for listing files and covers.
type ObjectStore interface {
	Exists(ctx context.Context, key string) (bool, error)
	Remove(ctx context.Context, key string) error
	PresignGet(ctx context.Context, key string) (domain.ContentLink, error)
}

type CheckoutGateway interface {
	CreateCheckout(ctx context.Context, req domain.CheckoutRequest) (domain.CheckoutLink, error)
}

type PayoutNetwork interface {
	SendPayout(ctx context.Context, req domain.PayoutRequest) (domain.PayoutReceipt, error)
}

var (
	fulfillmentTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "market_fulfillment_total",
		Help: "Payment events processed, by outcome",
	}, []string{"outcome"})

	payoutsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "market_payouts_total",
		Help: "Payout attempts, by outcome",
	}, []string{"outcome"})

	sweepDeleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "market_sweep_deleted_documents_total",
		Help: "Rows removed by product purges, by collection",
	}, []string{"collection"})
)

const defaultTimeout = 10 * time.Second

func utcNow() time.Time { return time.Now().UTC() }

// withTimeout bounds a single external call.
func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		d = defaultTimeout
	}
	return context.WithTimeout(ctx, d)
}

// newAccessToken returns 32 random bytes, hex encoded.
func newAccessToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

func validEmail(addr string) bool {
	if addr == "" {
		return false
	}
	parsed, err := mail.ParseAddress(addr)
	return err == nil && parsed.Address == addr
}

func loggerOr(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.Default()
	}
	return l
}

// enqueue appends an outbox intent. Failures are logged and never returned:
// notification delivery does not gate settlement.
func enqueue(ctx context.Context, st store.Store, logger *slog.Logger, n domain.NotificationIntent) {
	if n.CreatedAt.IsZero() {
		n.CreatedAt = utcNow()
	}
	if err := st.EnqueueNotification(ctx, n); err != nil {
		logger.Warn("enqueue notification failed",
			"module", "notify",
			"operation", "enqueue",
			"outcome", "failed",
			"kind", n.Kind,
			"notification_id", n.ID,
			"error", err,
		)
	}
}
