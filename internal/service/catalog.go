package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/punchamoorthee/dropledger/internal/domain"
	"github.com/punchamoorthee/dropledger/internal/fees"
	"github.com/punchamoorthee/dropledger/internal/store"
	"github.com/shopspring/decimal"
)

type CatalogConfig struct {
	Fees     fees.Schedule
	TTL      time.Duration
	Currency string
	Timeout  time.Duration
}

type NewListing struct {
	OwnerID  string
	Title    string
	Price    decimal.Decimal
	FileKey  string
	CoverKey string
}

// Catalog is the buyer and owner facing read/write path for listings. Every read
// applies the expiration gate itself.
type Catalog struct {
	store    store.Store
	checkout CheckoutGateway
	sweeper  *Sweeper
	stats    *StatsRecomputer
	cfg      CatalogConfig
	logger   *slog.Logger
	now      func() time.Time
}

func NewCatalog(st store.Store, checkout CheckoutGateway, sweeper *Sweeper, cfg CatalogConfig, logger *slog.Logger) *Catalog {
	return &Catalog{
		store:    st,
		checkout: checkout,
		sweeper:  sweeper,
		stats:    NewStatsRecomputer(st),
		cfg:      cfg,
		logger:   loggerOr(logger),
		now:      utcNow,
	}
}

func (c *Catalog) CreateListing(ctx context.Context, in NewListing) (domain.Product, error) {
	if in.OwnerID == "" || strings.TrimSpace(in.Title) == "" || in.FileKey == "" || !in.Price.IsPositive() {
		return domain.Product{}, domain.ErrInvalidInput
	}
	now := c.now()
	p := domain.Product{
		ID:        uuid.NewString(),
		OwnerID:   in.OwnerID,
		Title:     strings.TrimSpace(in.Title),
		Price:     in.Price.Round(2),
		Currency:  c.cfg.Currency,
		FileKey:   in.FileKey,
		CoverKey:  in.CoverKey,
		CreatedAt: now,
		ExpiresAt: now.Add(c.cfg.TTL),
		Revenue:   decimal.Zero,
	}
	if err := c.store.InsertProduct(ctx, p); err != nil {
		return domain.Product{}, fmt.Errorf("insert product: %w", err)
	}
	if _, err := c.stats.Recompute(ctx, p.OwnerID); err != nil {
		c.logger.Warn("stats recompute failed", "module", "catalog", "operation", "create", "outcome", "failed", "seller_id", p.OwnerID, "error", err)
	}
	return p, nil
}

// live loads a product and refuses it once expired, whether or not the sweep
// has removed it yet.
func (c *Catalog) live(ctx context.Context, productID string) (domain.Product, error) {
	p, err := c.store.GetProduct(ctx, productID)
	if err != nil {
		return domain.Product{}, err
	}
	if p.IsExpired(c.now()) {
		return domain.Product{}, domain.ErrExpired
	}
	return p, nil
}

func (c *Catalog) GetListing(ctx context.Context, productID string) (domain.Product, error) {
	p, err := c.live(ctx, productID)
	if err != nil {
		return domain.Product{}, err
	}
	if err := c.store.RecordView(ctx, domain.ProductView{
		ID:        uuid.NewString(),
		ProductID: p.ID,
		OwnerID:   p.OwnerID,
		ViewedAt:  c.now(),
	}); err != nil {
		c.logger.Warn("view not recorded", "module", "catalog", "operation", "view", "outcome", "failed", "product_id", p.ID, "error", err)
	}
	return p, nil
}

// CreateCheckout opens a payment session for a buyer. The returned session id is
// the idempotency key of the eventual settlement.
func (c *Catalog) CreateCheckout(ctx context.Context, productID, buyerEmail, channel string) (domain.PaymentSession, error) {
	channel = strings.ToLower(strings.TrimSpace(channel))
	if !validEmail(buyerEmail) {
		return domain.PaymentSession{}, fmt.Errorf("%w: buyer email", domain.ErrInvalidInput)
	}
	if _, ok := c.cfg.Fees.Channels[channel]; !ok {
		return domain.PaymentSession{}, domain.ErrUnknownChannel
	}
	p, err := c.live(ctx, productID)
	if err != nil {
		return domain.PaymentSession{}, err
	}
	if _, err := c.cfg.Fees.ComputeSaleSplit(p.Price, channel); err != nil {
		return domain.PaymentSession{}, err
	}

	session := domain.PaymentSession{
		ID:         uuid.NewString(),
		ProductID:  p.ID,
		BuyerEmail: buyerEmail,
		Channel:    channel,
		CreatedAt:  c.now(),
	}
	callCtx, cancel := withTimeout(ctx, c.cfg.Timeout)
	link, err := c.checkout.CreateCheckout(callCtx, domain.CheckoutRequest{
		SessionID:  session.ID,
		ProductID:  p.ID,
		SellerID:   p.OwnerID,
		Title:      p.Title,
		BuyerEmail: buyerEmail,
		Channel:    channel,
		Price:      p.Price,
		Currency:   p.Currency,
	})
	cancel()
	if err != nil {
		return domain.PaymentSession{}, err
	}
	session.ExternalSessionID = link.ExternalSessionID
	session.CheckoutURL = link.URL

	if err := c.store.InsertSession(ctx, session); err != nil {
		return domain.PaymentSession{}, fmt.Errorf("insert session: %w", err)
	}
	c.logger.Info("checkout created",
		"module", "catalog",
		"operation", "checkout",
		"outcome", "created",
		"session_id", session.ID,
		"product_id", p.ID,
	)
	return session, nil
}

// DeleteProduct lets an owner withdraw a listing early. It uses the same purge
// as the sweep.
func (c *Catalog) DeleteProduct(ctx context.Context, ownerID, productID string) error {
	p, err := c.store.GetProduct(ctx, productID)
	if err != nil {
		return err
	}
	if p.OwnerID != ownerID {
		return domain.ErrForbidden
	}
	if _, _, err := c.sweeper.Purge(ctx, p); err != nil {
		return err
	}
	if _, err := c.stats.Recompute(ctx, p.OwnerID); err != nil {
		c.logger.Warn("stats recompute failed", "module", "catalog", "operation", "delete", "outcome", "failed", "seller_id", p.OwnerID, "error", err)
	}
	c.logger.Info("product deleted by owner",
		"module", "catalog",
		"operation", "delete",
		"outcome", "deleted",
		"product_id", p.ID,
	)
	return nil
}
