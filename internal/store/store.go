package store

import (
	"context"
	"time"

	"github.com/punchamoorthee/dropledger/internal/domain"
	"github.com/shopspring/decimal"
)

// Cascade names one collection holding rows keyed by a product id.
type Cascade struct {
	Collection string
	ForeignKey string
}

// ProductCascade lists every non-financial collection purged with a product, in
// deletion order. The product row itself is removed last by DeleteProduct.
var ProductCascade = []Cascade{
	{Collection: "access_logs", ForeignKey: "product_id"},
	{Collection: "access_attempts", ForeignKey: "product_id"},
	{Collection: "link_details", ForeignKey: "product_id"},
	{Collection: "orders", ForeignKey: "product_id"},
	{Collection: "payment_sessions", ForeignKey: "product_id"},
	{Collection: "warnings_sent", ForeignKey: "product_id"},
	{Collection: "product_views", ForeignKey: "product_id"},
}

// financial collections are never reachable from a cascade.
var financial = map[string]bool{
	"transactions":   true,
	"payout_records": true,
	"payout_errors":  true,
	"user_accounts":  true,
}

// Store is the full persistence surface used by the settlement core.
type Store interface {
	GetProduct(ctx context.Context, id string) (domain.Product, error)
	InsertProduct(ctx context.Context, p domain.Product) error
	IncrementProductSales(ctx context.Context, id string, gross decimal.Decimal) error
	ListProductsCreatedBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.Product, error)
	ListProductsExpiringBetween(ctx context.Context, from, to time.Time) ([]domain.Product, error)
	DeleteProduct(ctx context.Context, id string) error
	RecordView(ctx context.Context, v domain.ProductView) error

	GetSession(ctx context.Context, id string) (domain.PaymentSession, error)
	InsertSession(ctx context.Context, s domain.PaymentSession) error
	// CompleteSession flips completed once. It returns false if it was already set.
	CompleteSession(ctx context.Context, id, orderID string) (bool, error)

	// InsertOrder is keyed by session id. On conflict the existing order is returned
	// with created=false.
	InsertOrder(ctx context.Context, o domain.Order) (domain.Order, bool, error)
	GetOrderByToken(ctx context.Context, token string) (domain.Order, error)
	GetOrderBySession(ctx context.Context, sessionID string) (domain.Order, error)
	// BindFirstAccess sets the fingerprint and moves completed->shipped only if no
	// fingerprint is bound yet. It returns false when another access won.
	BindFirstAccess(ctx context.Context, orderID, fingerprint string, at time.Time) (bool, error)
	InsertAccessLog(ctx context.Context, l domain.AccessLog) error
	InsertAccessAttempt(ctx context.Context, a domain.AccessAttempt) error
	InsertLinkDetail(ctx context.Context, l domain.LinkDetail) error

	GetAccount(ctx context.Context, id string) (domain.UserAccount, error)
	UpsertAccount(ctx context.Context, a domain.UserAccount) error
	ListAccountsWithBalance(ctx context.Context) ([]domain.UserAccount, error)
	// ApplyTransaction appends t and applies its delta to the balance as one unit.
	// A repeated idempotency key is a no-op returning false.
	ApplyTransaction(ctx context.Context, t domain.Transaction) (bool, error)
	ListTransactions(ctx context.Context, userID string) ([]domain.Transaction, error)

	// InsertPayoutRecord is keyed by sender batch id. A repeated id is a no-op.
	InsertPayoutRecord(ctx context.Context, r domain.PayoutRecord) error
	ListPayoutRecords(ctx context.Context, userID string) ([]domain.PayoutRecord, error)
	// ListUnsettledPayouts returns records whose debit has not been confirmed, oldest first.
	ListUnsettledPayouts(ctx context.Context) ([]domain.PayoutRecord, error)
	MarkPayoutSent(ctx context.Context, senderBatchID, batchID, status string) error
	SettlePayout(ctx context.Context, senderBatchID, batchID, status string, at time.Time) error
	InsertPayoutError(ctx context.Context, e domain.PayoutError) error
	InsertPayoutSession(ctx context.Context, s domain.PayoutSession) error

	AggregateSeller(ctx context.Context, userID string) (domain.UserStats, error)
	PutUserStats(ctx context.Context, s domain.UserStats) error
	GetUserStats(ctx context.Context, userID string) (domain.UserStats, error)
	IncrementShipped(ctx context.Context, userID string) error

	HasWarning(ctx context.Context, productID string) (bool, error)
	MarkWarning(ctx context.Context, w domain.WarningSent) error

	EnqueueNotification(ctx context.Context, n domain.NotificationIntent) error
	ListPendingNotifications(ctx context.Context, limit int) ([]domain.NotificationIntent, error)
	MarkNotificationSent(ctx context.Context, id string, at time.Time) error
	MarkNotificationFailed(ctx context.Context, id, reason string) error

	InsertSystemError(ctx context.Context, e domain.SystemError) error

	// DeleteByProduct removes at most batchSize rows per round trip until none remain.
	DeleteByProduct(ctx context.Context, c Cascade, productID string, batchSize int) (int, error)
}
