package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/punchamoorthee/dropledger/internal/domain"
	"github.com/punchamoorthee/dropledger/internal/service"
	"github.com/shopspring/decimal"
)

// Metrics
var (
	httpReqTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "market_http_requests_total",
		Help: "Total HTTP requests processed, labeled by status code",
	}, []string{"method", "endpoint", "status"})

	httpLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "market_http_request_duration_seconds",
		Help:    "Latency distribution of HTTP requests",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"method", "endpoint"})
)

type WebhookVerifier interface {
	ParseWebhook(payload []byte, signature string) (domain.PaymentEvent, error)
}

type Fulfiller interface {
	Process(ctx context.Context, ev domain.PaymentEvent) (service.FulfillmentResult, error)
}

type ContentAccess interface {
	Access(ctx context.Context, token, userAgent string) (service.AccessGrant, error)
}

type Listings interface {
	CreateListing(ctx context.Context, in service.NewListing) (domain.Product, error)
	GetListing(ctx context.Context, productID string) (domain.Product, error)
	CreateCheckout(ctx context.Context, productID, buyerEmail, channel string) (domain.PaymentSession, error)
	DeleteProduct(ctx context.Context, ownerID, productID string) error
}

// OwnerHeader carries the authenticated seller id set by the edge proxy.
const OwnerHeader = "X-User-ID"

type Handler struct {
	verifier WebhookVerifier
	fulfill  Fulfiller
	access   ContentAccess
	listings Listings
	logger   *slog.Logger
}

func NewHandler(verifier WebhookVerifier, fulfill Fulfiller, access ContentAccess, listings Listings, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{verifier: verifier, fulfill: fulfill, access: access, listings: listings, logger: logger}
}

func (h *Handler) Routes(r *mux.Router) {
	r.HandleFunc("/health", h.Health).Methods(http.MethodGet)

	apiV1 := r.PathPrefix("/api/v1").Subrouter()
	apiV1.HandleFunc("/webhooks/stripe", h.StripeWebhook).Methods(http.MethodPost)
	apiV1.HandleFunc("/access/{token}", h.Access).Methods(http.MethodGet)
	apiV1.HandleFunc("/checkout", h.CreateCheckout).Methods(http.MethodPost)
	apiV1.HandleFunc("/products", h.CreateProduct).Methods(http.MethodPost)
	apiV1.HandleFunc("/products/{id}", h.GetProduct).Methods(http.MethodGet)
	apiV1.HandleFunc("/products/{id}", h.DeleteProduct).Methods(http.MethodDelete)
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"}, "GET", "/health")
}

type accessResponse struct {
	OrderID     string             `json:"order_id"`
	Status      domain.OrderStatus `json:"status"`
	DownloadURL string             `json:"download_url"`
	ExpiresAt   time.Time          `json:"expires_at"`
	FirstAccess bool               `json:"first_access"`
}

func (h *Handler) Access(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/access/{token}"
	timer := prometheus.NewTimer(httpLatency.WithLabelValues("GET", endpoint))
	defer timer.ObserveDuration()

	grant, err := h.access.Access(r.Context(), mux.Vars(r)["token"], r.UserAgent())
	if err != nil {
		h.respondDomainError(w, err, "GET", endpoint)
		return
	}
	respondJSON(w, http.StatusOK, accessResponse{
		OrderID:     grant.Order.ID,
		Status:      grant.Order.Status,
		DownloadURL: grant.Link.URL,
		ExpiresAt:   grant.Link.ExpiresAt,
		FirstAccess: grant.FirstAccess,
	}, "GET", endpoint)
}

type checkoutRequest struct {
	ProductID  string `json:"product_id"`
	BuyerEmail string `json:"buyer_email"`
	Channel    string `json:"channel"`
}

type checkoutResponse struct {
	SessionID   string `json:"session_id"`
	CheckoutURL string `json:"checkout_url"`
}

func (h *Handler) CreateCheckout(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/checkout"
	timer := prometheus.NewTimer(httpLatency.WithLabelValues("POST", endpoint))
	defer timer.ObserveDuration()

	var req checkoutRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Malformed JSON body", "POST", endpoint)
		return
	}
	if req.ProductID == "" {
		respondError(w, http.StatusUnprocessableEntity, "product_id required", "POST", endpoint)
		return
	}
	if req.Channel == "" {
		req.Channel = "card"
	}

	sess, err := h.listings.CreateCheckout(r.Context(), req.ProductID, req.BuyerEmail, req.Channel)
	if err != nil {
		h.respondDomainError(w, err, "POST", endpoint)
		return
	}
	respondJSON(w, http.StatusCreated, checkoutResponse{SessionID: sess.ID, CheckoutURL: sess.CheckoutURL}, "POST", endpoint)
}

type createProductRequest struct {
	Title    string          `json:"title"`
	Price    decimal.Decimal `json:"price"`
	FileKey  string          `json:"file_key"`
	CoverKey string          `json:"cover_key"`
}

func (h *Handler) CreateProduct(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/products"
	timer := prometheus.NewTimer(httpLatency.WithLabelValues("POST", endpoint))
	defer timer.ObserveDuration()

	owner := r.Header.Get(OwnerHeader)
	if owner == "" {
		respondError(w, http.StatusUnauthorized, "Missing "+OwnerHeader+" header", "POST", endpoint)
		return
	}
	var req createProductRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Malformed JSON body", "POST", endpoint)
		return
	}

	p, err := h.listings.CreateListing(r.Context(), service.NewListing{
		OwnerID:  owner,
		Title:    req.Title,
		Price:    req.Price,
		FileKey:  req.FileKey,
		CoverKey: req.CoverKey,
	})
	if err != nil {
		h.respondDomainError(w, err, "POST", endpoint)
		return
	}
	respondJSON(w, http.StatusCreated, p, "POST", endpoint)
}

func (h *Handler) GetProduct(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/products/{id}"
	timer := prometheus.NewTimer(httpLatency.WithLabelValues("GET", endpoint))
	defer timer.ObserveDuration()

	p, err := h.listings.GetListing(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.respondDomainError(w, err, "GET", endpoint)
		return
	}
	respondJSON(w, http.StatusOK, p, "GET", endpoint)
}

func (h *Handler) DeleteProduct(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/products/{id}"
	timer := prometheus.NewTimer(httpLatency.WithLabelValues("DELETE", endpoint))
	defer timer.ObserveDuration()

	owner := r.Header.Get(OwnerHeader)
	if owner == "" {
		respondError(w, http.StatusUnauthorized, "Missing "+OwnerHeader+" header", "DELETE", endpoint)
		return
	}
	if err := h.listings.DeleteProduct(r.Context(), owner, mux.Vars(r)["id"]); err != nil {
		h.respondDomainError(w, err, "DELETE", endpoint)
		return
	}
	httpReqTotal.WithLabelValues("DELETE", endpoint, "204").Inc()
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) respondDomainError(w http.ResponseWriter, err error, method, endpoint string) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		respondError(w, http.StatusNotFound, "Not found", method, endpoint)
	case errors.Is(err, domain.ErrExpired):
		respondError(w, http.StatusGone, "Listing expired", method, endpoint)
	case errors.Is(err, domain.ErrDeviceMismatch):
		respondError(w, http.StatusForbidden, "Content is bound to another device", method, endpoint)
	case errors.Is(err, domain.ErrForbidden):
		respondError(w, http.StatusForbidden, "Forbidden", method, endpoint)
	case errors.Is(err, domain.ErrInvalidInput):
		respondError(w, http.StatusUnprocessableEntity, err.Error(), method, endpoint)
	case errors.Is(err, domain.ErrUnknownChannel), errors.Is(err, domain.ErrInvalidAmount):
		respondError(w, http.StatusUnprocessableEntity, err.Error(), method, endpoint)
	default:
		h.logger.Error("request failed",
			"module", "api",
			"operation", method+" "+endpoint,
			"outcome", "error",
			"error", err,
		)
		respondError(w, http.StatusInternalServerError, "Internal Server Error", method, endpoint)
	}
}

// Helpers
func respondJSON(w http.ResponseWriter, code int, payload interface{}, method, endpoint string) {
	httpReqTotal.WithLabelValues(method, endpoint, strconv.Itoa(code)).Inc()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}

func respondError(w http.ResponseWriter, code int, msg, method, endpoint string) {
	respondJSON(w, code, map[string]string{"error": msg}, method, endpoint)
}
