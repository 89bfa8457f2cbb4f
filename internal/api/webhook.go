package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/punchamoorthee/dropledger/internal/gateway"
)

const maxWebhookBody = 1 << 20

// StripeWebhook verifies the raw payload before decoding anything. Only a bad
// signature or a storage failure is answered with an error status; every
// business skip is acknowledged so the gateway stops redelivering.
func (h *Handler) StripeWebhook(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/webhooks/stripe"
	timer := prometheus.NewTimer(httpLatency.WithLabelValues("POST", endpoint))
	defer timer.ObserveDuration()

	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Unreadable body", "POST", endpoint)
		return
	}

	ev, err := h.verifier.ParseWebhook(payload, r.Header.Get("Stripe-Signature"))
	switch {
	case errors.Is(err, gateway.ErrBadSignature):
		h.logger.Warn("webhook signature rejected", "module", "api", "operation", "webhook", "outcome", "bad_signature", "error", err)
		respondError(w, http.StatusBadRequest, "Invalid signature", "POST", endpoint)
		return
	case errors.Is(err, gateway.ErrIgnoredEvent):
		respondJSON(w, http.StatusOK, map[string]string{"status": "ignored"}, "POST", endpoint)
		return
	case err != nil:
		h.logger.Warn("webhook payload dropped", "module", "api", "operation", "webhook", "outcome", "malformed", "error", err)
		respondJSON(w, http.StatusOK, map[string]string{"status": "malformed"}, "POST", endpoint)
		return
	}

	res, err := h.fulfill.Process(r.Context(), ev)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Internal Server Error", "POST", endpoint)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": string(res.Outcome)}, "POST", endpoint)
}
