package handler

import (
	"log/slog"
	"net/http"

	"github.com/mingpian/cardbase/internal/billing"
	"github.com/mingpian/cardbase/internal/domain"
	"github.com/mingpian/cardbase/internal/service"
)

// BillingHandler creates Stripe Checkout sessions for quota pack purchases.
//
// Routes (behind admin auth):
//   - POST /api/tenants/{id}/quota/checkout -> CreateCheckout
type BillingHandler struct {
	billing billing.Service
	quotas  service.QuotaService
	logger  *slog.Logger
}

// NewBillingHandler creates a new BillingHandler.
// billingService may be nil when Stripe is not configured; checkout requests
// then fail with a validation error.
func NewBillingHandler(billingService billing.Service, quotas service.QuotaService, logger *slog.Logger) *BillingHandler {
	return &BillingHandler{
		billing: billingService,
		quotas:  quotas,
		logger:  logger,
	}
}

// RegisterRoutes registers billing routes with the provided middleware.
func (h *BillingHandler) RegisterRoutes(mux *http.ServeMux, requireAdmin func(http.Handler) http.Handler) {
	mux.Handle("POST /api/tenants/{id}/quota/checkout", requireAdmin(http.HandlerFunc(h.CreateCheckout)))
}

type checkoutRequest struct {
	PriceID    string `json:"price_id"`
	SuccessURL string `json:"success_url"`
	CancelURL  string `json:"cancel_url"`
}

// CreateCheckout starts a Stripe Checkout session for a quota pack. The
// quota itself is granted later by the checkout.session.completed webhook.
func (h *BillingHandler) CreateCheckout(w http.ResponseWriter, r *http.Request) {
	if h.billing == nil {
		ErrorResponse(w, r, h.logger, domain.Invalid("billing.checkout", "billing is not configured"))
		return
	}

	var req checkoutRequest
	if err := decodeJSON(r, &req); err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	if req.PriceID == "" || req.SuccessURL == "" || req.CancelURL == "" {
		ErrorResponse(w, r, h.logger, domain.Invalid("billing.checkout", "price_id, success_url and cancel_url are required"))
		return
	}
	if h.billing.PackForPriceID(req.PriceID) == 0 {
		ErrorResponse(w, r, h.logger, domain.Invalid("billing.checkout", "unknown quota pack price"))
		return
	}

	tenantID := r.PathValue("id")

	// The tenant must exist before we let them pay for quota.
	if _, err := h.quotas.GetQuotaStatus(r.Context(), tenantID); err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	url, err := h.billing.CreateCheckoutSession(tenantID, req.PriceID, req.SuccessURL, req.CancelURL)
	if err != nil {
		ErrorResponse(w, r, h.logger, domain.Internal(err, "billing.checkout", "failed to create checkout session"))
		return
	}

	respondJSON(w, h.logger, http.StatusCreated, map[string]string{"checkout_url": url})
}
