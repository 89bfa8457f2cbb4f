package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Product is a listed digital good with a fixed time-to-live.
type Product struct {
	ID         string          `json:"id"`
	OwnerID    string          `json:"owner_id"`
	Title      string          `json:"title"`
	Price      decimal.Decimal `json:"price"`
	Currency   string          `json:"currency"`
	FileKey    string          `json:"-"`
	CoverKey   string          `json:"cover_key,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	ExpiresAt  time.Time       `json:"expires_at"`
	SalesCount int64           `json:"sales_count"`
	Revenue    decimal.Decimal `json:"revenue"`
}

// IsExpired is the read-time gate. It does not depend on the sweep having run.
func (p Product) IsExpired(now time.Time) bool {
	return !now.Before(p.ExpiresAt)
}

// PaymentSession is a buyer's checkout attempt. Its ID is the settlement idempotency key.
type PaymentSession struct {
	ID                string    `json:"id"`
	ProductID         string    `json:"product_id"`
	BuyerEmail        string    `json:"buyer_email"`
	Channel           string    `json:"channel"`
	ExternalSessionID string    `json:"external_session_id"`
	CheckoutURL       string    `json:"checkout_url,omitempty"`
	Completed         bool      `json:"completed"`
	OrderID           string    `json:"order_id,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
}

// Order is a completed purchase.
type Order struct {
	ID                string          `json:"id"`
	SessionID         string          `json:"session_id"`
	ProductID         string          `json:"product_id"`
	SellerID          string          `json:"seller_id"`
	BuyerEmail        string          `json:"buyer_email"`
	Gross             decimal.Decimal `json:"gross"`
	ChannelFee        decimal.Decimal `json:"channel_fee"`
	Commission        decimal.Decimal `json:"commission"`
	NetSeller         decimal.Decimal `json:"net_seller"`
	Status            OrderStatus     `json:"status"`
	AccessToken       string          `json:"-"`
	DeviceFingerprint string          `json:"device_fingerprint,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	FirstAccessAt     *time.Time      `json:"first_access_at,omitempty"`
}

// Transaction is an immutable ledger line. IdempotencyKey is unique across the ledger.
// Amount is the balance-affecting magnitude: the net credit for a sale, the gross debit
// for a payout. Net is what actually reached the user.
type Transaction struct {
	ID             string          `json:"id"`
	IdempotencyKey string          `json:"idempotency_key"`
	UserID         string          `json:"user_id"`
	Type           TransactionType `json:"type"`
	Amount         decimal.Decimal `json:"amount"`
	Net            decimal.Decimal `json:"net"`
	Gross          decimal.Decimal `json:"gross"`
	Fees           decimal.Decimal `json:"fees"`
	Commission     decimal.Decimal `json:"commission"`
	OrderID        string          `json:"order_id,omitempty"`
	ProductID      string          `json:"product_id,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

// Delta is the signed balance change this line represents.
func (t Transaction) Delta() decimal.Decimal {
	if t.Type == TransactionPayout {
		return t.Amount.Neg()
	}
	return t.Amount
}

// PayoutRecord is reserved before the network call and settled after the debit.
type PayoutRecord struct {
	ID            string          `json:"id"`
	UserID        string          `json:"user_id"`
	Net           decimal.Decimal `json:"net"`
	Gross         decimal.Decimal `json:"gross"`
	Fee           decimal.Decimal `json:"fee"`
	SenderBatchID string          `json:"sender_batch_id"`
	BatchID       string          `json:"batch_id"`
	Status        string          `json:"status"`
	CreatedAt     time.Time       `json:"created_at"`
	// SettledAt is set once the balance debit for this payout is applied.
	SettledAt *time.Time `json:"settled_at,omitempty"`
}

// Sent reports whether the payout network accepted the batch.
func (r PayoutRecord) Sent() bool { return r.BatchID != "" }

func (r PayoutRecord) Settled() bool { return r.SettledAt != nil }

// UserAccount holds a seller's money owed but not yet paid out.
type UserAccount struct {
	ID          string          `json:"id"`
	Email       string          `json:"email"`
	Balance     decimal.Decimal `json:"balance"`
	PayoutEmail string          `json:"payout_email,omitempty"`
	Onboarded   bool            `json:"onboarded"`
}

// UserStats is a derived projection and is always rebuilt wholesale.
type UserStats struct {
	UserID     string          `json:"user_id"`
	Listings   int64           `json:"listings"`
	Views      int64           `json:"views"`
	Orders     int64           `json:"orders"`
	Shipped    int64           `json:"shipped"`
	Revenue    decimal.Decimal `json:"revenue"`
	ComputedAt time.Time       `json:"computed_at"`
}

type ProductView struct {
	ID        string    `json:"id"`
	ProductID string    `json:"product_id"`
	OwnerID   string    `json:"owner_id"`
	ViewedAt  time.Time `json:"viewed_at"`
}

type AccessLog struct {
	ID          string    `json:"id"`
	OrderID     string    `json:"order_id"`
	ProductID   string    `json:"product_id"`
	Fingerprint string    `json:"fingerprint"`
	AccessedAt  time.Time `json:"accessed_at"`
}

type AccessAttempt struct {
	ID          string    `json:"id"`
	OrderID     string    `json:"order_id"`
	ProductID   string    `json:"product_id"`
	Fingerprint string    `json:"fingerprint"`
	Reason      string    `json:"reason"`
	AttemptedAt time.Time `json:"attempted_at"`
}

// LinkDetail records an issued download link.
type LinkDetail struct {
	ID        string    `json:"id"`
	OrderID   string    `json:"order_id"`
	ProductID string    `json:"product_id"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// WarningSent marks a product whose expiration notice already went out.
type WarningSent struct {
	ProductID string    `json:"product_id"`
	SentAt    time.Time `json:"sent_at"`
}

type PayoutError struct {
	ID        string          `json:"id"`
	UserID    string          `json:"user_id"`
	Gross     decimal.Decimal `json:"gross"`
	Reason    string          `json:"reason"`
	CreatedAt time.Time       `json:"created_at"`
}

// PayoutSession summarises one payout batch run.
type PayoutSession struct {
	ID           string          `json:"id"`
	StartedAt    time.Time       `json:"started_at"`
	FinishedAt   time.Time       `json:"finished_at"`
	Eligible     int             `json:"eligible"`
	Paid         int             `json:"paid"`
	Failed       int             `json:"failed"`
	BelowMinimum int             `json:"below_minimum"`
	TotalGross   decimal.Decimal `json:"total_gross"`
	TotalNet     decimal.Decimal `json:"total_net"`
}

type SystemError struct {
	ID        string    `json:"id"`
	Job       string    `json:"job"`
	Message   string    `json:"message"`
	Stack     string    `json:"stack"`
	CreatedAt time.Time `json:"created_at"`
}

// NotificationIntent is an outbox row drained by a best-effort sender.
type NotificationIntent struct {
	ID        string            `json:"id"`
	Kind      NotificationKind  `json:"kind"`
	Recipient string            `json:"recipient"`
	ProductID string            `json:"product_id,omitempty"`
	Data      map[string]string `json:"data"`
	CreatedAt time.Time         `json:"created_at"`
	SentAt    *time.Time        `json:"sent_at,omitempty"`
	Attempts  int               `json:"attempts"`
	LastError string            `json:"last_error,omitempty"`
}
