// This file implements the Stripe webhook handler for quota pack purchases.
//
// Route:
//   - POST /webhooks/stripe -> HandleStripeWebhook
//
// This route is PUBLIC (no auth middleware) because Stripe calls it directly.
// Authentication is via the Stripe webhook signature verification.
package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/stripe/stripe-go/v79"

	"github.com/mingpian/cardbase/internal/billing"
	"github.com/mingpian/cardbase/internal/domain"
	"github.com/mingpian/cardbase/internal/service"
)

// WebhookHandler handles incoming webhook events from Stripe.
type WebhookHandler struct {
	billing billing.Service
	quotas  service.QuotaService
	logger  *slog.Logger
}

// NewWebhookHandler creates a new WebhookHandler.
// billingService may be nil when Stripe is not configured.
func NewWebhookHandler(billingService billing.Service, quotas service.QuotaService, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{
		billing: billingService,
		quotas:  quotas,
		logger:  logger,
	}
}

// RegisterRoutes registers webhook routes on the provided mux.
// These routes are PUBLIC, no auth middleware.
func (h *WebhookHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /webhooks/stripe", h.HandleStripeWebhook)
}

// HandleStripeWebhook processes incoming Stripe webhook events.
func (h *WebhookHandler) HandleStripeWebhook(w http.ResponseWriter, r *http.Request) {
	if h.billing == nil {
		h.logger.Warn("stripe webhook received but billing is not configured")
		w.WriteHeader(http.StatusOK)
		return
	}

	// Read body (limit to 64KB)
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
	if err != nil {
		h.logger.Error("failed to read webhook body", "error", err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	// Verify signature
	signature := r.Header.Get("Stripe-Signature")
	event, err := h.billing.VerifyWebhookSignature(body, signature)
	if err != nil {
		h.logger.Warn("webhook signature verification failed", "error", err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	h.logger.Info("stripe webhook received", "type", event.Type, "id", event.ID)

	switch event.Type {
	case "checkout.session.completed":
		h.handleCheckoutCompleted(r.Context(), event)
	default:
		h.logger.Debug("unhandled webhook event type", "type", event.Type)
	}

	w.WriteHeader(http.StatusOK)
}

// handleCheckoutCompleted grants the purchased quota pack to the tenant
// referenced by the checkout session.
func (h *WebhookHandler) handleCheckoutCompleted(ctx context.Context, event stripe.Event) {
	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		h.logger.Error("failed to parse checkout session", "error", err)
		return
	}

	tenantID := session.ClientReferenceID
	if tenantID == "" {
		tenantID = session.Metadata["tenant_id"]
	}
	if tenantID == "" {
		h.logger.Warn("checkout session missing tenant reference", "session_id", session.ID)
		return
	}

	priceID := session.Metadata["price_id"]
	pack := h.billing.PackForPriceID(priceID)
	if pack == 0 {
		h.logger.Warn("checkout session for unknown price",
			"session_id", session.ID,
			"price_id", priceID,
		)
		return
	}

	ref := session.ID
	result, err := h.quotas.AddBonusQuota(ctx, domain.AddBonusQuotaParams{
		TenantID:         tenantID,
		Amount:           pack,
		Description:      "quota pack purchase via Stripe",
		PaymentReference: &ref,
		CreatedBy:        "stripe",
	})
	if err != nil {
		h.logger.Error("failed to grant purchased quota",
			"error", err,
			"tenant_id", tenantID,
			"session_id", session.ID,
		)
		return
	}

	h.logger.Info("purchased quota granted",
		"tenant_id", tenantID,
		"amount", pack,
		"new_balance", result.NewBalance,
		"session_id", session.ID,
	)
}
