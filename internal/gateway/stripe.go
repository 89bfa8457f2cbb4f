// Package gateway holds the adapters for the settlement core's external
// collaborators: payment gateway, payout network, object storage and the
// notification transport.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/punchamoorthee/dropledger/internal/config"
	"github.com/punchamoorthee/dropledger/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"
)

const eventCheckoutCompleted = "checkout.session.completed"

var (
	ErrBadSignature = errors.New("webhook signature verification failed")
	ErrIgnoredEvent = errors.New("event type not handled")
)

// Metadata keys written at checkout creation and read back from the webhook.
const (
	metaSessionID  = "session_id"
	metaProductID  = "product_id"
	metaSellerID   = "seller_id"
	metaTitle      = "title"
	metaBuyerEmail = "buyer_email"
	metaChannel    = "channel"
)

type Stripe struct {
	api           *client.API
	webhookSecret string
	successURL    string
	cancelURL     string
}

func NewStripe(cfg config.StripeConfig) *Stripe {
	sc := &client.API{}
	sc.Init(cfg.SecretKey, nil)
	return &Stripe{
		api:           sc,
		webhookSecret: cfg.WebhookSecret,
		successURL:    cfg.SuccessURL,
		cancelURL:     cfg.CancelURL,
	}
}

// ParseWebhook verifies the signature header and decodes a completed checkout.
// Any other event type returns ErrIgnoredEvent.
func (s *Stripe) ParseWebhook(payload []byte, signature string) (domain.PaymentEvent, error) {
	return parseWebhook(payload, signature, s.webhookSecret)
}

func parseWebhook(payload []byte, signature, secret string) (domain.PaymentEvent, error) {
	// Signature first, then decoding: a signed body that fails to decode is
	// malformed input, not a forgery.
	if err := webhook.ValidatePayloadWithTolerance(payload, signature, secret, webhook.DefaultTolerance); err != nil {
		return domain.PaymentEvent{}, fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	var event stripe.Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return domain.PaymentEvent{}, fmt.Errorf("%w: decode event: %v", domain.ErrInvalidInput, err)
	}
	if string(event.Type) != eventCheckoutCompleted {
		return domain.PaymentEvent{}, ErrIgnoredEvent
	}
	if event.Data == nil {
		return domain.PaymentEvent{}, fmt.Errorf("%w: event has no data", domain.ErrInvalidInput)
	}

	var cs stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &cs); err != nil {
		return domain.PaymentEvent{}, fmt.Errorf("%w: decode checkout session: %v", domain.ErrInvalidInput, err)
	}

	ev := domain.PaymentEvent{
		ExternalSessionID: cs.ID,
		SessionID:         cs.Metadata[metaSessionID],
		ProductID:         cs.Metadata[metaProductID],
		SellerID:          cs.Metadata[metaSellerID],
		Title:             cs.Metadata[metaTitle],
		BuyerEmail:        cs.Metadata[metaBuyerEmail],
		Channel:           cs.Metadata[metaChannel],
		AmountTotal:       decimal.New(cs.AmountTotal, -2),
	}
	if ev.BuyerEmail == "" && cs.CustomerDetails != nil {
		ev.BuyerEmail = cs.CustomerDetails.Email
	}
	if ev.Channel == "" && len(cs.PaymentMethodTypes) > 0 {
		ev.Channel = cs.PaymentMethodTypes[0]
	}
	return ev, nil
}

// CreateCheckout opens a hosted checkout session carrying the ids needed at fulfillment.
func (s *Stripe) CreateCheckout(ctx context.Context, req domain.CheckoutRequest) (domain.CheckoutLink, error) {
	params := &stripe.CheckoutSessionParams{
		Mode:               stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:         stripe.String(s.successURL),
		CancelURL:          stripe.String(s.cancelURL),
		CustomerEmail:      stripe.String(req.BuyerEmail),
		PaymentMethodTypes: stripe.StringSlice([]string{req.Channel}),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String(strings.ToLower(req.Currency)),
					UnitAmount: stripe.Int64(req.Price.Shift(2).Round(0).IntPart()),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(req.Title),
					},
				},
				Quantity: stripe.Int64(1),
			},
		},
	}
	params.Context = ctx
	params.AddMetadata(metaSessionID, req.SessionID)
	params.AddMetadata(metaProductID, req.ProductID)
	params.AddMetadata(metaSellerID, req.SellerID)
	params.AddMetadata(metaTitle, req.Title)
	params.AddMetadata(metaBuyerEmail, req.BuyerEmail)
	params.AddMetadata(metaChannel, req.Channel)

	sess, err := s.api.CheckoutSessions.New(params)
	if err != nil {
		return domain.CheckoutLink{}, fmt.Errorf("create checkout session: %w", err)
	}
	return domain.CheckoutLink{ExternalSessionID: sess.ID, URL: sess.URL}, nil
}
