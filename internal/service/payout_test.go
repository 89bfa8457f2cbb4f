package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/punchamoorthee/dropledger/internal/domain"
	"github.com/punchamoorthee/dropledger/internal/fees"
	"github.com/punchamoorthee/dropledger/internal/store"
)

func creditSeller(t *testing.T, st *store.Memory, id, amount string) {
	t.Helper()
	ctx := context.Background()
	if err := st.UpsertAccount(ctx, domain.UserAccount{ID: id, Email: id + "@example.com", PayoutEmail: id + "@pay.example.com", Onboarded: true}); err != nil {
		t.Fatalf("account: %v", err)
	}
	if _, err := st.ApplyTransaction(ctx, domain.Transaction{
		ID: "seed-" + id, IdempotencyKey: "seed:" + id, UserID: id,
		Type: domain.TransactionSale, Amount: dec(amount), Net: dec(amount), Gross: dec(amount),
	}); err != nil {
		t.Fatalf("credit: %v", err)
	}
}

func newTestPayout(st *store.Memory, network PayoutNetwork, chunk int) (*PayoutProcessor, *int) {
	p := NewPayoutProcessor(st, network, PayoutConfig{
		Fees:       fees.DefaultSchedule(),
		Threshold:  dec("10.00"),
		ChunkSize:  chunk,
		ChunkPause: time.Minute,
		Timeout:    time.Second,
		Currency:   "USD",
	}, quietLogger())
	pauses := 0
	p.sleep = func(context.Context, time.Duration) { pauses++ }
	return p, &pauses
}

func TestPayoutThreshold(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := store.NewMemory()
	creditSeller(t, st, "below", "9.99")
	creditSeller(t, st, "exact", "10.00")
	network := &fakeNetwork{}
	proc, _ := newTestPayout(st, network, 50)

	run, err := proc.Run(ctx)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if run.Paid != 1 || run.BelowMinimum != 1 || run.Failed != 0 {
		t.Fatalf("run = %+v", run)
	}

	below, _ := st.GetAccount(ctx, "below")
	if !below.Balance.Equal(dec("9.99")) {
		t.Fatalf("below-threshold balance changed: %s", below.Balance)
	}
	exact, _ := st.GetAccount(ctx, "exact")
	if !exact.Balance.IsZero() {
		t.Fatalf("exact balance = %s, want 0", exact.Balance)
	}

	if len(network.requests) != 1 || !network.requests[0].Amount.Equal(dec("9.80")) {
		t.Fatalf("network requests = %+v", network.requests)
	}
	txs, _ := st.ListTransactions(ctx, "exact")
	var debit domain.Transaction
	for _, tx := range txs {
		if tx.Type == domain.TransactionPayout {
			debit = tx
		}
	}
	if !debit.Amount.Equal(dec("10.00")) || !debit.Fees.Equal(dec("0.20")) {
		t.Fatalf("payout transaction = %+v", debit)
	}
	records, _ := st.ListPayoutRecords(ctx, "exact")
	if len(records) != 1 || records[0].BatchID != "PB-exact" {
		t.Fatalf("records = %+v", records)
	}

	var notice *domain.NotificationIntent
	for _, n := range st.Notifications() {
		n := n
		if n.Kind == domain.NotifyBelowMinimum {
			notice = &n
		}
	}
	if notice == nil || notice.Recipient != "below@example.com" {
		t.Fatalf("below-minimum notice missing: %+v", st.Notifications())
	}
	if sessions := st.PayoutSessions(); len(sessions) != 1 || !sessions[0].TotalGross.Equal(dec("10.00")) {
		t.Fatalf("payout sessions = %+v", sessions)
	}
}

func TestPayoutFailureDoesNotBlockOthers(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := store.NewMemory()
	for _, id := range []string{"a", "b", "c"} {
		creditSeller(t, st, id, "50.00")
	}
	network := &fakeNetwork{failFor: map[string]bool{"a": true}}
	proc, pauses := newTestPayout(st, network, 2)

	run, err := proc.Run(ctx)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if run.Paid != 2 || run.Failed != 1 || run.Eligible != 3 {
		t.Fatalf("run = %+v", run)
	}
	if *pauses != 1 {
		t.Fatalf("pauses = %d, want 1 between two chunks", *pauses)
	}

	a, _ := st.GetAccount(ctx, "a")
	if !a.Balance.Equal(dec("50.00")) {
		t.Fatalf("failed user debited: %s", a.Balance)
	}
	for _, id := range []string{"b", "c"} {
		acct, _ := st.GetAccount(ctx, id)
		if !acct.Balance.IsZero() {
			t.Fatalf("%s balance = %s", id, acct.Balance)
		}
		records, _ := st.ListPayoutRecords(ctx, id)
		if len(records) != 1 {
			t.Fatalf("%s payout records = %d", id, len(records))
		}
	}
	errs := st.PayoutErrors()
	if len(errs) != 1 || errs[0].UserID != "a" {
		t.Fatalf("payout errors = %+v", errs)
	}
}

func TestPayoutSkipsMissingDestination(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := store.NewMemory()
	creditSeller(t, st, "nodest", "25.00")
	_ = st.UpsertAccount(ctx, domain.UserAccount{ID: "nodest", Email: "nodest@example.com"})
	network := &fakeNetwork{}
	proc, _ := newTestPayout(st, network, 50)

	run, err := proc.Run(ctx)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if run.Eligible != 0 || len(network.requests) != 0 {
		t.Fatalf("user without destination was paid: %+v", run)
	}
}

var errLedgerDown = errors.New("ledger unavailable")

// flakyStore fails selected ledger and payout writes until healed.
type flakyStore struct {
	*store.Memory
	mu          sync.Mutex
	failSales   bool
	failDebits  bool
	failSettles bool
}

func (f *flakyStore) heal() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failSales, f.failDebits, f.failSettles = false, false, false
}

func (f *flakyStore) ApplyTransaction(ctx context.Context, t domain.Transaction) (bool, error) {
	f.mu.Lock()
	fail := (f.failDebits && t.Type == domain.TransactionPayout) || (f.failSales && t.Type == domain.TransactionSale)
	f.mu.Unlock()
	if fail {
		return false, errLedgerDown
	}
	return f.Memory.ApplyTransaction(ctx, t)
}

func (f *flakyStore) SettlePayout(ctx context.Context, senderBatchID, batchID, status string, at time.Time) error {
	f.mu.Lock()
	fail := f.failSettles
	f.mu.Unlock()
	if fail {
		return errLedgerDown
	}
	return f.Memory.SettlePayout(ctx, senderBatchID, batchID, status, at)
}

func newFlakyPayout(st *flakyStore, network PayoutNetwork, at *time.Time) *PayoutProcessor {
	p := NewPayoutProcessor(st, network, PayoutConfig{
		Fees:      fees.DefaultSchedule(),
		Threshold: dec("10.00"),
		Timeout:   time.Second,
		Currency:  "USD",
	}, quietLogger())
	p.now = func() time.Time { return *at }
	p.sleep = func(context.Context, time.Duration) {}
	return p
}

func payoutDebits(t *testing.T, st store.Store, userID string) int {
	t.Helper()
	txs, err := st.ListTransactions(context.Background(), userID)
	if err != nil {
		t.Fatalf("transactions: %v", err)
	}
	n := 0
	for _, tx := range txs {
		if tx.Type == domain.TransactionPayout {
			n++
		}
	}
	return n
}

func TestPayoutDebitFailureIsFinishedWithoutResending(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	mem := store.NewMemory()
	creditSeller(t, mem, "seller", "50.00")
	st := &flakyStore{Memory: mem, failDebits: true}
	network := &fakeNetwork{}
	at := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	proc := newFlakyPayout(st, network, &at)

	first, err := proc.Run(ctx)
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	if first.Paid != 0 || first.Failed != 1 || len(network.requests) != 1 {
		t.Fatalf("first run = %+v, network calls = %d", first, len(network.requests))
	}
	acct, _ := st.GetAccount(ctx, "seller")
	if !acct.Balance.Equal(dec("50.00")) {
		t.Fatalf("balance after failed debit = %s", acct.Balance)
	}
	unsettled, _ := st.ListUnsettledPayouts(ctx)
	if len(unsettled) != 1 || !unsettled[0].Sent() {
		t.Fatalf("unsettled = %+v, want one sent record", unsettled)
	}
	if errs := mem.SystemErrors(); len(errs) != 1 || errs[0].Job != "payout" {
		t.Fatalf("system errors = %+v, want the unpaid debit recorded", errs)
	}

	st.heal()
	at = at.Add(7 * 24 * time.Hour)
	second, err := proc.Run(ctx)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if second.Paid != 1 || second.Failed != 0 {
		t.Fatalf("second run = %+v", second)
	}
	if len(network.requests) != 1 {
		t.Fatalf("network calls = %d, want the seller paid once", len(network.requests))
	}
	acct, _ = st.GetAccount(ctx, "seller")
	if !acct.Balance.IsZero() {
		t.Fatalf("balance = %s, want 0", acct.Balance)
	}
	if n := payoutDebits(t, st, "seller"); n != 1 {
		t.Fatalf("payout debits = %d, want 1", n)
	}
	records, _ := st.ListPayoutRecords(ctx, "seller")
	if len(records) != 1 || !records[0].Settled() || records[0].BatchID != "PB-seller" {
		t.Fatalf("records = %+v", records)
	}
}

func TestPayoutNetworkFailureRetriesSameBatch(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	mem := store.NewMemory()
	creditSeller(t, mem, "seller", "50.00")
	st := &flakyStore{Memory: mem}
	network := &fakeNetwork{failFor: map[string]bool{"seller": true}}
	at := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	proc := newFlakyPayout(st, network, &at)

	if _, err := proc.Run(ctx); err != nil {
		t.Fatalf("first run: %v", err)
	}
	network.mu.Lock()
	network.failFor = nil
	network.mu.Unlock()
	at = at.Add(7 * 24 * time.Hour)
	if _, err := mem.ApplyTransaction(ctx, domain.Transaction{
		ID: "sale-2", IdempotencyKey: "sale:later", UserID: "seller",
		Type: domain.TransactionSale, Amount: dec("20.00"), Net: dec("20.00"), Gross: dec("20.00"),
	}); err != nil {
		t.Fatalf("later sale: %v", err)
	}

	run, err := proc.Run(ctx)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if len(network.requests) < 2 || network.requests[0].SenderBatchID != network.requests[1].SenderBatchID {
		t.Fatalf("retry used a new sender batch id: %+v", network.requests)
	}
	if !network.requests[1].Amount.Equal(dec("49.00")) {
		t.Fatalf("retried amount = %s, want the reserved 49.00", network.requests[1].Amount)
	}
	// The 20.00 credited since the reservation is paid as a fresh batch in the same run.
	if run.Paid != 2 || len(network.requests) != 3 {
		t.Fatalf("run = %+v, network calls = %d", run, len(network.requests))
	}
	acct, _ := st.GetAccount(ctx, "seller")
	if !acct.Balance.IsZero() {
		t.Fatalf("balance = %s, want 0", acct.Balance)
	}
}

func TestPayoutSettleFailureIsRecordedAndRepaired(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	mem := store.NewMemory()
	creditSeller(t, mem, "seller", "50.00")
	st := &flakyStore{Memory: mem, failSettles: true}
	network := &fakeNetwork{}
	at := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	proc := newFlakyPayout(st, network, &at)

	run, err := proc.Run(ctx)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if run.Paid != 1 {
		t.Fatalf("run = %+v", run)
	}
	if errs := mem.SystemErrors(); len(errs) != 1 || errs[0].Job != "payout" {
		t.Fatalf("system errors = %+v", errs)
	}

	st.heal()
	at = at.Add(7 * 24 * time.Hour)
	if _, err := proc.Run(ctx); err != nil {
		t.Fatalf("repair run: %v", err)
	}
	if len(network.requests) != 1 || payoutDebits(t, st, "seller") != 1 {
		t.Fatalf("repair moved money again: calls=%d debits=%d", len(network.requests), payoutDebits(t, st, "seller"))
	}
	if unsettled, _ := st.ListUnsettledPayouts(ctx); len(unsettled) != 0 {
		t.Fatalf("unsettled after repair = %+v", unsettled)
	}
}
