package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/punchamoorthee/dropledger/internal/domain"
	"github.com/punchamoorthee/dropledger/internal/fees"
	"github.com/punchamoorthee/dropledger/internal/store"
	"github.com/shopspring/decimal"
)

var errNetworkDown = errors.New("network unavailable")

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type fakeObjects struct {
	mu        sync.Mutex
	present   map[string]bool
	removed   []string
	removeErr error
}

func newFakeObjects(keys ...string) *fakeObjects {
	f := &fakeObjects{present: make(map[string]bool)}
	for _, k := range keys {
		f.present[k] = true
	}
	return f
}

func (f *fakeObjects) Exists(_ context.Context, key string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.present[key], nil
}

func (f *fakeObjects) Remove(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.removeErr != nil {
		return f.removeErr
	}
	delete(f.present, key)
	f.removed = append(f.removed, key)
	return nil
}

func (f *fakeObjects) PresignGet(_ context.Context, key string) (domain.ContentLink, error) {
	return domain.ContentLink{URL: "https://objects.test/" + key, ExpiresAt: time.Now().Add(15 * time.Minute)}, nil
}

type fakeCheckout struct {
	calls int
}

func (f *fakeCheckout) CreateCheckout(_ context.Context, req domain.CheckoutRequest) (domain.CheckoutLink, error) {
	f.calls++
	return domain.CheckoutLink{ExternalSessionID: "cs_" + req.SessionID, URL: "https://pay.test/" + req.SessionID}, nil
}

type fakeNetwork struct {
	mu       sync.Mutex
	failFor  map[string]bool
	requests []domain.PayoutRequest
}

func (f *fakeNetwork) SendPayout(_ context.Context, req domain.PayoutRequest) (domain.PayoutReceipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.failFor[req.UserID] {
		return domain.PayoutReceipt{}, errNetworkDown
	}
	return domain.PayoutReceipt{BatchID: "PB-" + req.UserID, Status: "PENDING"}, nil
}

func seedProduct(t *testing.T, st *store.Memory, id, owner string, created time.Time, ttl time.Duration) domain.Product {
	t.Helper()
	p := domain.Product{
		ID:        id,
		OwnerID:   owner,
		Title:     "Listing " + id,
		Price:     dec("100.00"),
		Currency:  "USD",
		FileKey:   owner + "/" + id + "/file.zip",
		CoverKey:  owner + "/" + id + "/cover.png",
		CreatedAt: created,
		ExpiresAt: created.Add(ttl),
		Revenue:   decimal.Zero,
	}
	if err := st.InsertProduct(context.Background(), p); err != nil {
		t.Fatalf("insert product: %v", err)
	}
	return p
}

func seedSession(t *testing.T, st *store.Memory, id, productID string) domain.PaymentSession {
	t.Helper()
	s := domain.PaymentSession{ID: id, ProductID: productID, BuyerEmail: "buyer@example.com", Channel: "card", CreatedAt: time.Now().UTC()}
	if err := st.InsertSession(context.Background(), s); err != nil {
		t.Fatalf("insert session: %v", err)
	}
	return s
}

func paymentEvent(sessionID string, p domain.Product) domain.PaymentEvent {
	return domain.PaymentEvent{
		ExternalSessionID: "cs_" + sessionID,
		SessionID:         sessionID,
		ProductID:         p.ID,
		SellerID:          p.OwnerID,
		Title:             p.Title,
		BuyerEmail:        "buyer@example.com",
		Channel:           "card",
		AmountTotal:       p.Price,
	}
}

func newTestProcessor(st *store.Memory, objects ObjectStore) *FulfillmentProcessor {
	return NewFulfillmentProcessor(st, objects, FulfillmentConfig{
		Fees:          fees.DefaultSchedule(),
		Timeout:       time.Second,
		PublicBaseURL: "https://market.test",
	}, quietLogger())
}
