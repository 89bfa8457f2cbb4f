// Package ledger applies balance movements exactly once per settlement event.
//
// A credit or debit is keyed by the identifier of the event that caused it (the
// payment session for sales, the sender batch id for payouts). The store appends
// the transaction and applies the delta together; a replay of the same key does
// nothing. Callers can therefore re-run a partially completed settlement without
// double-crediting.
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/punchamoorthee/dropledger/internal/domain"
	"github.com/punchamoorthee/dropledger/internal/fees"
	"github.com/shopspring/decimal"
)

// Appender is the slice of the store the writer needs.
type Appender interface {
	ApplyTransaction(ctx context.Context, t domain.Transaction) (bool, error)
	ListTransactions(ctx context.Context, userID string) ([]domain.Transaction, error)
	GetAccount(ctx context.Context, id string) (domain.UserAccount, error)
}

type Writer struct {
	store Appender
	now   func() time.Time
}

func NewWriter(store Appender) *Writer {
	return &Writer{store: store, now: func() time.Time { return time.Now().UTC() }}
}

type SaleCredit struct {
	SessionID string
	OrderID   string
	ProductID string
	SellerID  string
	Split     fees.SaleSplit
}

type PayoutDebit struct {
	SenderBatchID string
	UserID        string
	Split         fees.PayoutSplit
}

func SaleKey(sessionID string) string       { return "sale:" + sessionID }
func PayoutKey(senderBatchID string) string { return "payout:" + senderBatchID }

// CreditSale credits the seller with the net amount of a sale.
func (w *Writer) CreditSale(ctx context.Context, c SaleCredit) (domain.Transaction, bool, error) {
	if !c.Split.NetSeller.IsPositive() {
		return domain.Transaction{}, false, domain.ErrInvalidAmount
	}
	t := domain.Transaction{
		ID:             uuid.NewString(),
		IdempotencyKey: SaleKey(c.SessionID),
		UserID:         c.SellerID,
		Type:           domain.TransactionSale,
		Amount:         c.Split.NetSeller,
		Net:            c.Split.NetSeller,
		Gross:          c.Split.Gross,
		Fees:           c.Split.ChannelFee,
		Commission:     c.Split.Commission,
		OrderID:        c.OrderID,
		ProductID:      c.ProductID,
		CreatedAt:      w.now(),
	}
	applied, err := w.store.ApplyTransaction(ctx, t)
	if err != nil {
		return domain.Transaction{}, false, fmt.Errorf("credit sale %s: %w", c.SessionID, err)
	}
	return t, applied, nil
}

// DebitPayout debits the full gross. The network fee is absorbed in the transfer.
func (w *Writer) DebitPayout(ctx context.Context, d PayoutDebit) (domain.Transaction, bool, error) {
	if !d.Split.Gross.IsPositive() {
		return domain.Transaction{}, false, domain.ErrInvalidAmount
	}
	t := domain.Transaction{
		ID:             uuid.NewString(),
		IdempotencyKey: PayoutKey(d.SenderBatchID),
		UserID:         d.UserID,
		Type:           domain.TransactionPayout,
		Amount:         d.Split.Gross,
		Net:            d.Split.Net,
		Gross:          d.Split.Gross,
		Fees:           d.Split.Fee,
		Commission:     decimal.Zero,
		CreatedAt:      w.now(),
	}
	applied, err := w.store.ApplyTransaction(ctx, t)
	if err != nil {
		return domain.Transaction{}, false, fmt.Errorf("debit payout %s: %w", d.SenderBatchID, err)
	}
	return t, applied, nil
}

// Reconciliation compares the ledger sum against the stored balance.
type Reconciliation struct {
	UserID    string
	LedgerSum decimal.Decimal
	Balance   decimal.Decimal
}

func (r Reconciliation) Balanced() bool { return r.LedgerSum.Equal(r.Balance) }

func (w *Writer) Reconcile(ctx context.Context, userID string) (Reconciliation, error) {
	txs, err := w.store.ListTransactions(ctx, userID)
	if err != nil {
		return Reconciliation{}, err
	}
	sum := decimal.Zero
	for _, t := range txs {
		sum = sum.Add(t.Delta())
	}
	acct, err := w.store.GetAccount(ctx, userID)
	if err != nil {
		return Reconciliation{}, err
	}
	return Reconciliation{UserID: userID, LedgerSum: sum, Balance: acct.Balance}, nil
}
