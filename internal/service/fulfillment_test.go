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

func TestProcessDuplicateDeliveryIsIdempotent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := store.NewMemory()
	now := time.Now().UTC()
	p := seedProduct(t, st, "prod-1", "seller-1", now.Add(-time.Hour), 72*time.Hour)
	seedSession(t, st, "sess-1", p.ID)
	_ = st.UpsertAccount(ctx, domain.UserAccount{ID: "seller-1", Email: "seller@example.com"})
	proc := newTestProcessor(st, newFakeObjects(p.FileKey))

	first, err := proc.Process(ctx, paymentEvent("sess-1", p))
	if err != nil {
		t.Fatalf("first delivery: %v", err)
	}
	if first.Outcome != OutcomeFulfilled {
		t.Fatalf("first outcome = %s", first.Outcome)
	}
	second, err := proc.Process(ctx, paymentEvent("sess-1", p))
	if err != nil {
		t.Fatalf("second delivery: %v", err)
	}
	if second.Outcome != OutcomeDuplicate {
		t.Fatalf("second outcome = %s", second.Outcome)
	}

	if n := st.CountByProduct("orders", p.ID); n != 1 {
		t.Fatalf("orders = %d, want 1", n)
	}
	txs, _ := st.ListTransactions(ctx, "seller-1")
	if len(txs) != 1 || txs[0].Type != domain.TransactionSale {
		t.Fatalf("transactions = %+v", txs)
	}
	acct, _ := st.GetAccount(ctx, "seller-1")
	if !acct.Balance.Equal(dec("84.80")) {
		t.Fatalf("balance = %s, want 84.80", acct.Balance)
	}
	prod, _ := st.GetProduct(ctx, p.ID)
	if prod.SalesCount != 1 || !prod.Revenue.Equal(dec("100")) {
		t.Fatalf("counters = %d/%s", prod.SalesCount, prod.Revenue)
	}
	sess, _ := st.GetSession(ctx, "sess-1")
	if !sess.Completed || sess.OrderID != first.Order.ID {
		t.Fatalf("session not consumed: %+v", sess)
	}
	if first.Order.Status != domain.OrderCompleted || first.Order.AccessToken == "" {
		t.Fatalf("order = %+v", first.Order)
	}

	kinds := map[domain.NotificationKind]int{}
	for _, n := range st.Notifications() {
		kinds[n.Kind]++
	}
	if kinds[domain.NotifyBuyerAccess] != 1 || kinds[domain.NotifySellerSale] != 1 {
		t.Fatalf("notifications = %v", kinds)
	}
	stats, err := st.GetUserStats(ctx, "seller-1")
	if err != nil || stats.Orders != 1 || !stats.Revenue.Equal(dec("84.80")) {
		t.Fatalf("stats = %+v err=%v", stats, err)
	}
}

func TestProcessResumesAfterPartialRun(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := store.NewMemory()
	p := seedProduct(t, st, "prod-1", "seller-1", time.Now().UTC(), 72*time.Hour)
	seedSession(t, st, "sess-1", p.ID)
	proc := newTestProcessor(st, newFakeObjects(p.FileKey))

	// An earlier run created the order but stopped before crediting the seller.
	if _, _, err := st.InsertOrder(ctx, domain.Order{
		ID: "order-prior", SessionID: "sess-1", ProductID: p.ID, SellerID: "seller-1",
		Gross: dec("100.00"), ChannelFee: dec("3.20"), Commission: dec("12.00"), NetSeller: dec("84.80"),
		Status: domain.OrderCompleted, AccessToken: "tok-prior",
	}); err != nil {
		t.Fatalf("seed order: %v", err)
	}

	res, err := proc.Process(ctx, paymentEvent("sess-1", p))
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if res.Outcome != OutcomeFulfilled || res.Order.ID != "order-prior" {
		t.Fatalf("result = %s order=%s", res.Outcome, res.Order.ID)
	}
	acct, _ := st.GetAccount(ctx, "seller-1")
	if !acct.Balance.Equal(dec("84.80")) {
		t.Fatalf("balance = %s", acct.Balance)
	}
	prod, _ := st.GetProduct(ctx, p.ID)
	if prod.SalesCount != 0 {
		t.Fatalf("sales counter bumped for a pre-existing order: %d", prod.SalesCount)
	}
}

func TestProcessRedeliveryAfterExpiryFinishesOrder(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	mem := store.NewMemory()
	created := time.Now().UTC().Add(-71 * time.Hour)
	p := seedProduct(t, mem, "prod-1", "seller-1", created, 72*time.Hour)
	seedSession(t, mem, "sess-1", p.ID)
	st := &flakyStore{Memory: mem, failSales: true}
	objects := newFakeObjects(p.FileKey)
	proc := NewFulfillmentProcessor(st, objects, FulfillmentConfig{Fees: fees.DefaultSchedule(), Timeout: time.Second}, quietLogger())

	if _, err := proc.Process(ctx, paymentEvent("sess-1", p)); !errors.Is(err, errLedgerDown) {
		t.Fatalf("first delivery err = %v, want ledger failure", err)
	}

	// The listing expires and its file is swept before the gateway redelivers.
	st.heal()
	proc.now = func() time.Time { return created.Add(74 * time.Hour) }
	_ = objects.Remove(ctx, p.FileKey)

	res, err := proc.Process(ctx, paymentEvent("sess-1", p))
	if err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	if res.Outcome != OutcomeFulfilled {
		t.Fatalf("redelivery outcome = %s, want fulfilled", res.Outcome)
	}
	txs, _ := mem.ListTransactions(ctx, "seller-1")
	if len(txs) != 1 || txs[0].Type != domain.TransactionSale {
		t.Fatalf("transactions = %+v", txs)
	}
	sess, _ := mem.GetSession(ctx, "sess-1")
	if !sess.Completed || sess.OrderID != res.Order.ID {
		t.Fatalf("session = %+v", sess)
	}
	prod, _ := mem.GetProduct(ctx, p.ID)
	if prod.SalesCount != 1 {
		t.Fatalf("sales count = %d, want 1", prod.SalesCount)
	}
}

func TestProcessConcurrentDeliveriesFulfillOnce(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := store.NewMemory()
	p := seedProduct(t, st, "prod-1", "seller-1", time.Now().UTC(), 72*time.Hour)
	seedSession(t, st, "sess-1", p.ID)
	proc := newTestProcessor(st, newFakeObjects(p.FileKey))

	const deliveries = 16
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		results = make(map[Outcome]int)
	)
	for i := 0; i < deliveries; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := proc.Process(ctx, paymentEvent("sess-1", p))
			if err != nil {
				t.Errorf("delivery: %v", err)
				return
			}
			mu.Lock()
			results[res.Outcome]++
			mu.Unlock()
		}()
	}
	wg.Wait()

	if results[OutcomeFulfilled] != 1 || results[OutcomeDuplicate] != deliveries-1 {
		t.Fatalf("outcomes = %v", results)
	}
	if n := st.CountByProduct("orders", p.ID); n != 1 {
		t.Fatalf("orders = %d, want 1", n)
	}
	if n := st.CountByProduct("transactions", p.ID); n != 1 {
		t.Fatalf("sale transactions = %d, want 1", n)
	}
	prod, _ := st.GetProduct(ctx, p.ID)
	if prod.SalesCount != 1 {
		t.Fatalf("sales count = %d, want 1", prod.SalesCount)
	}
}

func TestProcessSkips(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()
	tests := []struct {
		name    string
		setup   func(t *testing.T, st *store.Memory) domain.PaymentEvent
		noAsset bool
		want    Outcome
	}{
		{
			name: "unknown session",
			setup: func(t *testing.T, st *store.Memory) domain.PaymentEvent {
				p := seedProduct(t, st, "prod-1", "seller-1", now, 72*time.Hour)
				return paymentEvent("sess-missing", p)
			},
			want: OutcomeUnknownSession,
		},
		{
			name: "expired listing",
			setup: func(t *testing.T, st *store.Memory) domain.PaymentEvent {
				p := seedProduct(t, st, "prod-1", "seller-1", now.Add(-73*time.Hour), 72*time.Hour)
				seedSession(t, st, "sess-1", p.ID)
				return paymentEvent("sess-1", p)
			},
			want: OutcomeExpired,
		},
		{
			name: "swept listing",
			setup: func(t *testing.T, st *store.Memory) domain.PaymentEvent {
				p := domain.Product{ID: "prod-gone", OwnerID: "seller-1", Title: "Gone"}
				seedSession(t, st, "sess-1", p.ID)
				return paymentEvent("sess-1", p)
			},
			want: OutcomeExpired,
		},
		{
			name: "missing asset",
			setup: func(t *testing.T, st *store.Memory) domain.PaymentEvent {
				p := seedProduct(t, st, "prod-1", "seller-1", now, 72*time.Hour)
				seedSession(t, st, "sess-1", p.ID)
				return paymentEvent("sess-1", p)
			},
			noAsset: true,
			want:    OutcomeMissingAsset,
		},
		{
			name: "missing metadata",
			setup: func(t *testing.T, st *store.Memory) domain.PaymentEvent {
				p := seedProduct(t, st, "prod-1", "seller-1", now, 72*time.Hour)
				seedSession(t, st, "sess-1", p.ID)
				ev := paymentEvent("sess-1", p)
				ev.BuyerEmail = ""
				return ev
			},
			want: OutcomeMissingMetadata,
		},
		{
			name: "net not positive",
			setup: func(t *testing.T, st *store.Memory) domain.PaymentEvent {
				p := seedProduct(t, st, "prod-1", "seller-1", now, 72*time.Hour)
				p.Price = dec("0.30")
				_ = st.InsertProduct(context.Background(), p)
				seedSession(t, st, "sess-1", p.ID)
				return paymentEvent("sess-1", p)
			},
			want: OutcomeInvalidAmount,
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			ctx := context.Background()
			st := store.NewMemory()
			ev := tc.setup(t, st)
			objects := newFakeObjects("seller-1/prod-1/file.zip")
			if tc.noAsset {
				objects = newFakeObjects()
			}
			res, err := newTestProcessor(st, objects).Process(ctx, ev)
			if err != nil {
				t.Fatalf("process: %v", err)
			}
			if res.Outcome != tc.want {
				t.Fatalf("outcome = %s, want %s", res.Outcome, tc.want)
			}
			txs, _ := st.ListTransactions(ctx, "")
			if len(txs) != 0 {
				t.Fatalf("skipped event wrote %d transactions", len(txs))
			}
			if sess, err := st.GetSession(ctx, ev.SessionID); err == nil && sess.Completed {
				t.Fatalf("skipped event consumed the session")
			}
		})
	}
}
