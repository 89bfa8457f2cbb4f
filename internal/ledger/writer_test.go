package ledger

import (
	"context"
	"errors"
	"testing"

	"github.com/punchamoorthee/dropledger/internal/domain"
	"github.com/punchamoorthee/dropledger/internal/fees"
	"github.com/punchamoorthee/dropledger/internal/store"
	"github.com/shopspring/decimal"
)

func TestCreditSaleAppliedOnce(t *testing.T) {
	t.Parallel()

	mem := store.NewMemory()
	w := NewWriter(mem)
	split, err := fees.DefaultSchedule().ComputeSaleSplit(decimal.RequireFromString("100.00"), "card")
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	credit := SaleCredit{SessionID: "sess-1", OrderID: "ord-1", ProductID: "prod-1", SellerID: "seller-1", Split: split}

	if _, applied, err := w.CreditSale(context.Background(), credit); err != nil || !applied {
		t.Fatalf("first credit: applied=%v err=%v", applied, err)
	}
	if _, applied, err := w.CreditSale(context.Background(), credit); err != nil || applied {
		t.Fatalf("replayed credit: applied=%v err=%v", applied, err)
	}

	acct, err := mem.GetAccount(context.Background(), "seller-1")
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	if !acct.Balance.Equal(decimal.RequireFromString("84.80")) {
		t.Fatalf("balance = %s, want 84.80", acct.Balance)
	}
	txs, _ := mem.ListTransactions(context.Background(), "seller-1")
	if len(txs) != 1 {
		t.Fatalf("expected one transaction, got %d", len(txs))
	}
}

func TestReconcileAfterSalesAndPayout(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	mem := store.NewMemory()
	w := NewWriter(mem)
	schedule := fees.DefaultSchedule()

	for i, gross := range []string{"100.00", "20.00", "5.00"} {
		split, err := schedule.ComputeSaleSplit(decimal.RequireFromString(gross), "card")
		if err != nil {
			t.Fatalf("split %s: %v", gross, err)
		}
		_, _, err = w.CreditSale(ctx, SaleCredit{SessionID: string(rune('a' + i)), SellerID: "seller-1", Split: split})
		if err != nil {
			t.Fatalf("credit: %v", err)
		}
	}

	acct, _ := mem.GetAccount(ctx, "seller-1")
	payout, err := schedule.ComputePayoutSplit(acct.Balance)
	if err != nil {
		t.Fatalf("payout split: %v", err)
	}
	if _, _, err := w.DebitPayout(ctx, PayoutDebit{SenderBatchID: "batch-1", UserID: "seller-1", Split: payout}); err != nil {
		t.Fatalf("debit: %v", err)
	}

	rec, err := w.Reconcile(ctx, "seller-1")
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if !rec.Balanced() {
		t.Fatalf("ledger %s != balance %s", rec.LedgerSum, rec.Balance)
	}
	if !rec.Balance.IsZero() {
		t.Fatalf("expected zero balance after full payout, got %s", rec.Balance)
	}
}

func TestCreditSaleRejectsNonPositive(t *testing.T) {
	t.Parallel()

	w := NewWriter(store.NewMemory())
	_, _, err := w.CreditSale(context.Background(), SaleCredit{SessionID: "s", SellerID: "u", Split: fees.SaleSplit{NetSeller: decimal.Zero}})
	if !errors.Is(err, domain.ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
}
