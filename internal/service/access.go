package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mssola/user_agent"
	"github.com/punchamoorthee/dropledger/internal/domain"
	"github.com/punchamoorthee/dropledger/internal/store"
)

// Fingerprint reduces a user agent to "browser|os" family names.
func Fingerprint(userAgent string) string {
	ua := user_agent.New(userAgent)
	browser, _ := ua.Browser()
	osName := ua.OSInfo().Name
	if browser == "" {
		browser = "unknown"
	}
	if osName == "" {
		osName = "unknown"
	}
	return strings.ToLower(browser + "|" + osName)
}

type AccessGrant struct {
	Order       domain.Order
	Link        domain.ContentLink
	FirstAccess bool
}

// AccessService serves purchased content and binds each order to the first
// device that opens it.
type AccessService struct {
	store   store.Store
	objects ObjectStore
	timeout time.Duration
	logger  *slog.Logger
	now     func() time.Time
}

func NewAccessService(st store.Store, objects ObjectStore, timeout time.Duration, logger *slog.Logger) *AccessService {
	return &AccessService{store: st, objects: objects, timeout: timeout, logger: loggerOr(logger), now: utcNow}
}

func (s *AccessService) Access(ctx context.Context, token, userAgent string) (AccessGrant, error) {
	if token == "" {
		return AccessGrant{}, domain.ErrNotFound
	}
	order, err := s.store.GetOrderByToken(ctx, token)
	if err != nil {
		return AccessGrant{}, err
	}
	fp := Fingerprint(userAgent)
	now := s.now()

	product, err := s.store.GetProduct(ctx, order.ProductID)
	if errors.Is(err, domain.ErrNotFound) || (err == nil && product.IsExpired(now)) {
		s.refuse(ctx, order, fp, "expired")
		return AccessGrant{}, domain.ErrExpired
	}
	if err != nil {
		return AccessGrant{}, fmt.Errorf("load product: %w", err)
	}
	if order.Status == domain.OrderCancelled {
		s.refuse(ctx, order, fp, "cancelled")
		return AccessGrant{}, domain.ErrForbidden
	}

	first := false
	if order.DeviceFingerprint == "" {
		bound, err := s.store.BindFirstAccess(ctx, order.ID, fp, now)
		if err != nil {
			return AccessGrant{}, fmt.Errorf("bind device: %w", err)
		}
		if bound {
			first = true
			order.DeviceFingerprint = fp
			order.FirstAccessAt = &now
			if order.Status.CanTransition(domain.OrderShipped) {
				order.Status = domain.OrderShipped
			}
			if err := s.store.IncrementShipped(ctx, order.SellerID); err != nil {
				s.logger.Warn("shipped counter update failed",
					"module", "access",
					"operation", "bind",
					"outcome", "failed",
					"seller_id", order.SellerID,
					"error", err,
				)
			}
		} else {
			// Another request bound first; compare against its fingerprint.
			if order, err = s.store.GetOrderByToken(ctx, token); err != nil {
				return AccessGrant{}, err
			}
		}
	}

	if order.DeviceFingerprint != fp {
		s.refuse(ctx, order, fp, "device_mismatch")
		return AccessGrant{}, domain.ErrDeviceMismatch
	}

	callCtx, cancel := withTimeout(ctx, s.timeout)
	link, err := s.objects.PresignGet(callCtx, product.FileKey)
	cancel()
	if err != nil {
		return AccessGrant{}, fmt.Errorf("content link: %w", err)
	}

	if err := s.store.InsertLinkDetail(ctx, domain.LinkDetail{
		ID:        uuid.NewString(),
		OrderID:   order.ID,
		ProductID: order.ProductID,
		IssuedAt:  now,
		ExpiresAt: link.ExpiresAt,
	}); err != nil {
		s.logger.Warn("link detail not recorded", "module", "access", "operation", "link", "outcome", "failed", "error", err)
	}
	if err := s.store.InsertAccessLog(ctx, domain.AccessLog{
		ID:          uuid.NewString(),
		OrderID:     order.ID,
		ProductID:   order.ProductID,
		Fingerprint: fp,
		AccessedAt:  now,
	}); err != nil {
		s.logger.Warn("access log not recorded", "module", "access", "operation", "log", "outcome", "failed", "error", err)
	}

	s.logger.Info("content access granted",
		"module", "access",
		"operation", "access",
		"outcome", "granted",
		"order_id", order.ID,
		"first_access", first,
	)
	return AccessGrant{Order: order, Link: link, FirstAccess: first}, nil
}

func (s *AccessService) refuse(ctx context.Context, order domain.Order, fp, reason string) {
	s.logger.Warn("content access refused",
		"module", "access",
		"operation", "access",
		"outcome", reason,
		"order_id", order.ID,
	)
	if err := s.store.InsertAccessAttempt(ctx, domain.AccessAttempt{
		ID:          uuid.NewString(),
		OrderID:     order.ID,
		ProductID:   order.ProductID,
		Fingerprint: fp,
		Reason:      reason,
		AttemptedAt: s.now(),
	}); err != nil {
		s.logger.Warn("access attempt not recorded", "module", "access", "operation", "refuse", "outcome", "failed", "error", err)
	}
}
