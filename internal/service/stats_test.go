package service

import (
	"context"
	"testing"
	"time"

	"github.com/punchamoorthee/dropledger/internal/domain"
	"github.com/punchamoorthee/dropledger/internal/store"
)

func TestRecomputeExcludesCancelledOrders(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := store.NewMemory()
	now := time.Now().UTC()
	seedProduct(t, st, "p1", "seller-1", now, 72*time.Hour)
	seedProduct(t, st, "p2", "seller-1", now, 72*time.Hour)
	seedProduct(t, st, "p3", "seller-2", now, 72*time.Hour)

	for i, id := range []string{"v1", "v2"} {
		_ = st.RecordView(ctx, domain.ProductView{ID: id, ProductID: "p1", OwnerID: "seller-1", ViewedAt: now.Add(time.Duration(i) * time.Second)})
	}

	orders := []domain.Order{
		{ID: "o1", SessionID: "s1", ProductID: "p1", SellerID: "seller-1", NetSeller: dec("84.80"), Status: domain.OrderCompleted, AccessToken: "t1"},
		{ID: "o2", SessionID: "s2", ProductID: "p1", SellerID: "seller-1", NetSeller: dec("84.80"), Status: domain.OrderShipped, AccessToken: "t2"},
		{ID: "o3", SessionID: "s3", ProductID: "p2", SellerID: "seller-1", NetSeller: dec("84.80"), Status: domain.OrderCancelled, AccessToken: "t3"},
		{ID: "o4", SessionID: "s4", ProductID: "p3", SellerID: "seller-2", NetSeller: dec("50.00"), Status: domain.OrderCompleted, AccessToken: "t4"},
	}
	for _, o := range orders {
		if _, _, err := st.InsertOrder(ctx, o); err != nil {
			t.Fatalf("insert order %s: %v", o.ID, err)
		}
	}

	got, err := NewStatsRecomputer(st).Recompute(ctx, "seller-1")
	if err != nil {
		t.Fatalf("recompute: %v", err)
	}
	if got.Listings != 2 || got.Views != 2 || got.Orders != 2 || got.Shipped != 1 {
		t.Fatalf("stats = %+v", got)
	}
	if !got.Revenue.Equal(dec("169.60")) {
		t.Fatalf("revenue = %s, want 169.60", got.Revenue)
	}

	stored, err := st.GetUserStats(ctx, "seller-1")
	if err != nil {
		t.Fatalf("stored stats: %v", err)
	}
	if !stored.Revenue.Equal(got.Revenue) {
		t.Fatalf("stored revenue = %s", stored.Revenue)
	}
}
