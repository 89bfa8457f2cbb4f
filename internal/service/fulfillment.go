package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/punchamoorthee/dropledger/internal/domain"
	"github.com/punchamoorthee/dropledger/internal/fees"
	"github.com/punchamoorthee/dropledger/internal/ledger"
	"github.com/punchamoorthee/dropledger/internal/store"
)

// Outcome classifies a processed payment event. Everything except a returned
// error is acknowledged to the gateway.
type Outcome string

const (
	OutcomeFulfilled       Outcome = "fulfilled"
	OutcomeDuplicate       Outcome = "duplicate"
	OutcomeUnknownSession  Outcome = "unknown_session"
	OutcomeExpired         Outcome = "expired"
	OutcomeMissingAsset    Outcome = "missing_asset"
	OutcomeInvalidAmount   Outcome = "invalid_amount"
	OutcomeUnknownChannel  Outcome = "unknown_channel"
	OutcomeMissingMetadata Outcome = "missing_metadata"
)

type FulfillmentResult struct {
	Outcome Outcome
	Order   domain.Order
}

type FulfillmentConfig struct {
	Fees          fees.Schedule
	Timeout       time.Duration
	PublicBaseURL string
}

// FulfillmentProcessor turns a verified checkout completion into an order, a
// seller credit and buyer access.
//
// The session's completed flag is written last. Every earlier step is keyed by
// the session id (one order per session, one ledger line per session), so a run
// that stops halfway is finished by the next delivery of the same event instead
// of being short-circuited.
type FulfillmentProcessor struct {
	store   store.Store
	ledger  *ledger.Writer
	objects ObjectStore
	stats   *StatsRecomputer
	cfg     FulfillmentConfig
	logger  *slog.Logger
	now     func() time.Time
}

func NewFulfillmentProcessor(st store.Store, objects ObjectStore, cfg FulfillmentConfig, logger *slog.Logger) *FulfillmentProcessor {
	return &FulfillmentProcessor{
		store:   st,
		ledger:  ledger.NewWriter(st),
		objects: objects,
		stats:   NewStatsRecomputer(st),
		cfg:     cfg,
		logger:  loggerOr(logger),
		now:     utcNow,
	}
}

func (p *FulfillmentProcessor) Process(ctx context.Context, ev domain.PaymentEvent) (FulfillmentResult, error) {
	res, err := p.process(ctx, ev)
	if err != nil {
		fulfillmentTotal.WithLabelValues("error").Inc()
		p.logger.Error("fulfillment failed",
			"module", "fulfillment",
			"operation", "process",
			"outcome", "error",
			"session_id", ev.SessionID,
			"error", err,
		)
		return res, err
	}
	fulfillmentTotal.WithLabelValues(string(res.Outcome)).Inc()

	level := slog.LevelInfo
	if res.Outcome != OutcomeFulfilled && res.Outcome != OutcomeDuplicate {
		level = slog.LevelWarn
	}
	if res.Outcome == OutcomeInvalidAmount {
		level = slog.LevelError
	}
	p.logger.Log(ctx, level, "payment event processed",
		"module", "fulfillment",
		"operation", "process",
		"outcome", string(res.Outcome),
		"session_id", ev.SessionID,
		"product_id", ev.ProductID,
		"order_id", res.Order.ID,
	)
	return res, nil
}

func (p *FulfillmentProcessor) process(ctx context.Context, ev domain.PaymentEvent) (FulfillmentResult, error) {
	if ev.SessionID == "" || ev.ProductID == "" || ev.SellerID == "" || ev.BuyerEmail == "" || ev.Title == "" {
		return FulfillmentResult{Outcome: OutcomeMissingMetadata}, nil
	}

	// 1. Idempotency
	session, err := p.store.GetSession(ctx, ev.SessionID)
	if errors.Is(err, domain.ErrNotFound) {
		return FulfillmentResult{Outcome: OutcomeUnknownSession}, nil
	}
	if err != nil {
		return FulfillmentResult{}, fmt.Errorf("load session: %w", err)
	}
	if session.Completed {
		return FulfillmentResult{Outcome: OutcomeDuplicate}, nil
	}
	if session.ProductID != ev.ProductID {
		return FulfillmentResult{Outcome: OutcomeMissingMetadata}, nil
	}

	// A delivery that created the order and then stopped is finished here,
	// whatever the listing and asset gates would say now.
	existing, err := p.store.GetOrderBySession(ctx, session.ID)
	switch {
	case err == nil:
		return p.resume(ctx, ev, session, existing)
	case !errors.Is(err, domain.ErrNotFound):
		return FulfillmentResult{}, fmt.Errorf("load order: %w", err)
	}

	// 2. Validity
	product, err := p.store.GetProduct(ctx, ev.ProductID)
	if errors.Is(err, domain.ErrNotFound) {
		return FulfillmentResult{Outcome: OutcomeExpired}, nil
	}
	if err != nil {
		return FulfillmentResult{}, fmt.Errorf("load product: %w", err)
	}
	if product.IsExpired(p.now()) {
		return FulfillmentResult{Outcome: OutcomeExpired}, nil
	}

	// 3. Asset
	callCtx, cancel := withTimeout(ctx, p.cfg.Timeout)
	exists, err := p.objects.Exists(callCtx, product.FileKey)
	cancel()
	if err != nil {
		return FulfillmentResult{}, fmt.Errorf("check asset %s: %w", product.FileKey, err)
	}
	if !exists {
		return FulfillmentResult{Outcome: OutcomeMissingAsset}, nil
	}

	// 4. Fees and order
	channel := session.Channel
	if channel == "" {
		channel = ev.Channel
	}
	split, err := p.cfg.Fees.ComputeSaleSplit(product.Price, channel)
	switch {
	case errors.Is(err, domain.ErrInvalidAmount):
		return FulfillmentResult{Outcome: OutcomeInvalidAmount}, nil
	case errors.Is(err, domain.ErrUnknownChannel):
		return FulfillmentResult{Outcome: OutcomeUnknownChannel}, nil
	case err != nil:
		return FulfillmentResult{}, err
	}
	if ev.AmountTotal.IsPositive() && !ev.AmountTotal.Equal(split.Gross) {
		p.logger.Warn("captured amount differs from listing price",
			"module", "fulfillment",
			"operation", "process",
			"outcome", "amount_mismatch",
			"session_id", ev.SessionID,
			"captured", ev.AmountTotal.StringFixed(2),
			"price", split.Gross.StringFixed(2),
		)
	}

	token, err := newAccessToken()
	if err != nil {
		return FulfillmentResult{}, fmt.Errorf("access token: %w", err)
	}
	order, created, err := p.store.InsertOrder(ctx, domain.Order{
		ID:          uuid.NewString(),
		SessionID:   session.ID,
		ProductID:   product.ID,
		SellerID:    product.OwnerID,
		BuyerEmail:  ev.BuyerEmail,
		Gross:       split.Gross,
		ChannelFee:  split.ChannelFee,
		Commission:  split.Commission,
		NetSeller:   split.NetSeller,
		Status:      domain.OrderCompleted,
		AccessToken: token,
		CreatedAt:   p.now(),
	})
	if err != nil {
		return FulfillmentResult{}, fmt.Errorf("create order: %w", err)
	}

	return p.finish(ctx, session, order, product, created)
}

// finish runs the steps every delivery repeats until the session is consumed.
// Counters move only for the delivery that created the order.
func (p *FulfillmentProcessor) finish(ctx context.Context, session domain.PaymentSession, order domain.Order, product domain.Product, created bool) (FulfillmentResult, error) {
	// 5. Product counters, only for the delivery that created the order
	if created {
		if err := p.store.IncrementProductSales(ctx, product.ID, order.Gross); err != nil {
			return FulfillmentResult{}, fmt.Errorf("increment sales: %w", err)
		}
	}

	// 6. Seller credit
	if _, _, err := p.ledger.CreditSale(ctx, ledger.SaleCredit{
		SessionID: session.ID,
		OrderID:   order.ID,
		ProductID: product.ID,
		SellerID:  order.SellerID,
		Split: fees.SaleSplit{
			Gross:      order.Gross,
			ChannelFee: order.ChannelFee,
			Commission: order.Commission,
			NetSeller:  order.NetSeller,
		},
	}); err != nil {
		return FulfillmentResult{}, err
	}

	// 7. Consume the session
	won, err := p.store.CompleteSession(ctx, session.ID, order.ID)
	if err != nil {
		return FulfillmentResult{}, fmt.Errorf("complete session: %w", err)
	}
	if !won {
		return FulfillmentResult{Outcome: OutcomeDuplicate, Order: order}, nil
	}

	// 8. Side effects
	p.notify(ctx, order, product)
	if _, err := p.stats.Recompute(ctx, order.SellerID); err != nil {
		p.logger.Warn("stats recompute failed",
			"module", "fulfillment",
			"operation", "recompute_stats",
			"outcome", "failed",
			"seller_id", order.SellerID,
			"error", err,
		)
	}
	return FulfillmentResult{Outcome: OutcomeFulfilled, Order: order}, nil
}

func (p *FulfillmentProcessor) resume(ctx context.Context, ev domain.PaymentEvent, session domain.PaymentSession, order domain.Order) (FulfillmentResult, error) {
	product, err := p.store.GetProduct(ctx, order.ProductID)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		product = domain.Product{ID: order.ProductID, OwnerID: order.SellerID, Title: ev.Title}
	case err != nil:
		return FulfillmentResult{}, fmt.Errorf("load product: %w", err)
	}
	p.logger.Info("resuming partial fulfillment",
		"module", "fulfillment",
		"operation", "resume",
		"outcome", "started",
		"session_id", session.ID,
		"order_id", order.ID,
	)
	return p.finish(ctx, session, order, product, false)
}

func (p *FulfillmentProcessor) notify(ctx context.Context, order domain.Order, product domain.Product) {
	accessURL := strings.TrimRight(p.cfg.PublicBaseURL, "/") + "/api/v1/access/" + order.AccessToken
	enqueue(ctx, p.store, p.logger, domain.NotificationIntent{
		ID:        string(domain.NotifyBuyerAccess) + ":" + order.SessionID,
		Kind:      domain.NotifyBuyerAccess,
		Recipient: order.BuyerEmail,
		ProductID: product.ID,
		Data: map[string]string{
			"title":      product.Title,
			"access_url": accessURL,
		},
	})

	seller, err := p.store.GetAccount(ctx, order.SellerID)
	if err != nil {
		p.logger.Warn("seller account unavailable for sale alert",
			"module", "fulfillment",
			"operation", "notify",
			"outcome", "skipped",
			"seller_id", order.SellerID,
			"error", err,
		)
		return
	}
	enqueue(ctx, p.store, p.logger, domain.NotificationIntent{
		ID:        string(domain.NotifySellerSale) + ":" + order.SessionID,
		Kind:      domain.NotifySellerSale,
		Recipient: seller.Email,
		ProductID: product.ID,
		Data: map[string]string{
			"title": product.Title,
			"net":   order.NetSeller.StringFixed(2),
			"gross": order.Gross.StringFixed(2),
		},
	})
}
