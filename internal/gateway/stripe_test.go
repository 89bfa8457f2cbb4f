package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/punchamoorthee/dropledger/internal/domain"
	"github.com/shopspring/decimal"
)

const testSecret = "whsec_test"

func sign(payload []byte, secret string, at time.Time) string {
	ts := at.Unix()
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(fmt.Sprintf("%d.%s", ts, payload)))
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

func checkoutPayload(eventType string) []byte {
	return []byte(fmt.Sprintf(`{
  "id": "evt_1",
  "object": "event",
  "type": %q,
  "data": {"object": {
    "id": "cs_ext_1",
    "object": "checkout.session",
    "amount_total": 1000,
    "payment_method_types": ["card"],
    "customer_details": {"email": "fallback@example.com"},
    "metadata": {
      "session_id": "sess-1",
      "product_id": "prod-1",
      "seller_id": "seller-1",
      "title": "Preset pack",
      "buyer_email": "buyer@example.com"
    }
  }}
}`, eventType))
}

func TestParseWebhookCheckoutCompleted(t *testing.T) {
	t.Parallel()

	payload := checkoutPayload("checkout.session.completed")
	ev, err := parseWebhook(payload, sign(payload, testSecret, time.Now()), testSecret)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if ev.SessionID != "sess-1" || ev.ProductID != "prod-1" || ev.SellerID != "seller-1" {
		t.Fatalf("unexpected ids: %+v", ev)
	}
	if ev.BuyerEmail != "buyer@example.com" {
		t.Fatalf("buyer email = %q", ev.BuyerEmail)
	}
	if ev.Channel != "card" {
		t.Fatalf("channel fallback = %q", ev.Channel)
	}
	if !ev.AmountTotal.Equal(decimal.RequireFromString("10.00")) {
		t.Fatalf("amount = %s", ev.AmountTotal)
	}
}

func TestParseWebhookRejectsBadSignature(t *testing.T) {
	t.Parallel()

	payload := checkoutPayload("checkout.session.completed")
	_, err := parseWebhook(payload, sign(payload, "whsec_other", time.Now()), testSecret)
	if !errors.Is(err, ErrBadSignature) {
		t.Fatalf("expected ErrBadSignature, got %v", err)
	}
}

func TestParseWebhookIgnoresOtherEvents(t *testing.T) {
	t.Parallel()

	payload := checkoutPayload("payment_intent.created")
	_, err := parseWebhook(payload, sign(payload, testSecret, time.Now()), testSecret)
	if !errors.Is(err, ErrIgnoredEvent) {
		t.Fatalf("expected ErrIgnoredEvent, got %v", err)
	}
}

func TestParseWebhookSignedMalformedBody(t *testing.T) {
	t.Parallel()

	payload := []byte(`{"id": "evt_1", "type": "checkout.session.completed", "data": `)
	_, err := parseWebhook(payload, sign(payload, testSecret, time.Now()), testSecret)
	if errors.Is(err, ErrBadSignature) {
		t.Fatalf("signed body reported as bad signature: %v", err)
	}
	if !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestParseWebhookRejectsStaleSignature(t *testing.T) {
	t.Parallel()

	payload := checkoutPayload("checkout.session.completed")
	_, err := parseWebhook(payload, sign(payload, testSecret, time.Now().Add(-time.Hour)), testSecret)
	if !errors.Is(err, ErrBadSignature) {
		t.Fatalf("expected ErrBadSignature, got %v", err)
	}
}
