package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/punchamoorthee/dropledger/internal/domain"
	"github.com/punchamoorthee/dropledger/internal/fees"
	"github.com/punchamoorthee/dropledger/internal/store"
)

func newTestCatalog(st *store.Memory, checkout CheckoutGateway, objects ObjectStore) *Catalog {
	sweeper := NewSweeper(st, objects, SweepConfig{TTL: 72 * time.Hour, Timeout: time.Second}, quietLogger())
	return NewCatalog(st, checkout, sweeper, CatalogConfig{
		Fees:     fees.DefaultSchedule(),
		TTL:      72 * time.Hour,
		Currency: "USD",
		Timeout:  time.Second,
	}, quietLogger())
}

func TestExpiredListingGatedOnEveryReadPath(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := store.NewMemory()
	// Past expiration but never swept.
	p := seedProduct(t, st, "prod-1", "seller-1", time.Now().UTC().Add(-73*time.Hour), 72*time.Hour)
	checkout := &fakeCheckout{}
	cat := newTestCatalog(st, checkout, newFakeObjects(p.FileKey))

	if _, err := cat.GetListing(ctx, p.ID); !errors.Is(err, domain.ErrExpired) {
		t.Fatalf("GetListing: got %v, want ErrExpired", err)
	}
	if _, err := cat.CreateCheckout(ctx, p.ID, "buyer@example.com", "card"); !errors.Is(err, domain.ErrExpired) {
		t.Fatalf("CreateCheckout: got %v, want ErrExpired", err)
	}
	if checkout.calls != 0 {
		t.Fatalf("gateway called for expired listing")
	}
	if n := st.CountByProduct("product_views", p.ID); n != 0 {
		t.Fatalf("view recorded for expired listing")
	}
}

func TestCreateCheckoutStoresSession(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := store.NewMemory()
	cat := newTestCatalog(st, &fakeCheckout{}, newFakeObjects())
	p, err := cat.CreateListing(ctx, NewListing{OwnerID: "seller-1", Title: "Brushes", Price: dec("12.50"), FileKey: "seller-1/brushes.zip"})
	if err != nil {
		t.Fatalf("create listing: %v", err)
	}
	if !p.ExpiresAt.Equal(p.CreatedAt.Add(72 * time.Hour)) {
		t.Fatalf("ttl not applied: %s -> %s", p.CreatedAt, p.ExpiresAt)
	}

	if _, err := cat.GetListing(ctx, p.ID); err != nil {
		t.Fatalf("get listing: %v", err)
	}
	if n := st.CountByProduct("product_views", p.ID); n != 1 {
		t.Fatalf("views = %d", n)
	}

	sess, err := cat.CreateCheckout(ctx, p.ID, "buyer@example.com", "Card")
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}
	stored, err := st.GetSession(ctx, sess.ID)
	if err != nil || stored.Completed || stored.Channel != "card" || stored.CheckoutURL == "" {
		t.Fatalf("stored session = %+v err=%v", stored, err)
	}

	if _, err := cat.CreateCheckout(ctx, p.ID, "not-an-email", "card"); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("bad email: got %v", err)
	}
	if _, err := cat.CreateCheckout(ctx, p.ID, "buyer@example.com", "wire"); !errors.Is(err, domain.ErrUnknownChannel) {
		t.Fatalf("bad channel: got %v", err)
	}
}

func TestDeleteProductOwnerOnly(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := store.NewMemory()
	p := seedProduct(t, st, "prod-1", "seller-1", time.Now().UTC(), 72*time.Hour)
	objects := newFakeObjects(p.FileKey, p.CoverKey)
	seedSession(t, st, "sess-1", p.ID)
	if res, err := newTestProcessor(st, objects).Process(ctx, paymentEvent("sess-1", p)); err != nil || res.Outcome != OutcomeFulfilled {
		t.Fatalf("fulfill: %v", err)
	}
	cat := newTestCatalog(st, &fakeCheckout{}, objects)

	if err := cat.DeleteProduct(ctx, "someone-else", p.ID); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("non-owner delete: got %v", err)
	}
	if err := cat.DeleteProduct(ctx, "seller-1", p.ID); err != nil {
		t.Fatalf("owner delete: %v", err)
	}
	if _, err := st.GetProduct(ctx, p.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("product still present")
	}
	if n := st.CountByProduct("transactions", p.ID); n != 1 {
		t.Fatalf("ledger line removed by owner delete")
	}
}
