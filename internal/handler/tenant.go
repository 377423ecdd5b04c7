package handler

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/mingpian/cardbase/internal/domain"
	"github.com/mingpian/cardbase/internal/service"
)

// TenantHandler handles tenant subscription and quota HTTP requests.
//
// Routes (all behind admin auth):
//   - GET  /api/tenants/{id}/subscription        -> GetSubscription
//   - POST /api/tenants/{id}/plan                -> AssignPlan
//   - POST /api/tenants/{id}/renew               -> Renew
//   - GET  /api/tenants/{id}/quota               -> GetQuota
//   - GET  /api/tenants/{id}/quota/users         -> CheckUserLimit
//   - GET  /api/tenants/{id}/quota/scans         -> CheckScanQuota
//   - POST /api/tenants/{id}/quota/consume       -> ConsumeScan
//   - POST /api/tenants/{id}/quota/bonus         -> AddBonusQuota
//   - GET  /api/tenants/{id}/quota/transactions  -> ListTransactions
type TenantHandler struct {
	quotas        service.QuotaService
	subscriptions service.SubscriptionService
	logger        *slog.Logger
}

// NewTenantHandler creates a new TenantHandler.
func NewTenantHandler(quotas service.QuotaService, subscriptions service.SubscriptionService, logger *slog.Logger) *TenantHandler {
	return &TenantHandler{
		quotas:        quotas,
		subscriptions: subscriptions,
		logger:        logger,
	}
}

// RegisterRoutes registers tenant routes with the provided middleware.
func (h *TenantHandler) RegisterRoutes(mux *http.ServeMux, requireAdmin func(http.Handler) http.Handler) {
	mux.Handle("GET /api/tenants/{id}/subscription", requireAdmin(http.HandlerFunc(h.GetSubscription)))
	mux.Handle("POST /api/tenants/{id}/plan", requireAdmin(http.HandlerFunc(h.AssignPlan)))
	mux.Handle("POST /api/tenants/{id}/renew", requireAdmin(http.HandlerFunc(h.Renew)))
	mux.Handle("GET /api/tenants/{id}/quota", requireAdmin(http.HandlerFunc(h.GetQuota)))
	mux.Handle("GET /api/tenants/{id}/quota/users", requireAdmin(http.HandlerFunc(h.CheckUserLimit)))
	mux.Handle("GET /api/tenants/{id}/quota/scans", requireAdmin(http.HandlerFunc(h.CheckScanQuota)))
	mux.Handle("POST /api/tenants/{id}/quota/consume", requireAdmin(http.HandlerFunc(h.ConsumeScan)))
	mux.Handle("POST /api/tenants/{id}/quota/bonus", requireAdmin(http.HandlerFunc(h.AddBonusQuota)))
	mux.Handle("GET /api/tenants/{id}/quota/transactions", requireAdmin(http.HandlerFunc(h.ListTransactions)))
}

// subscriptionResponse is the JSON representation of a tenant's subscription.
type subscriptionResponse struct {
	TenantID        string               `json:"tenant_id"`
	TenantName      string               `json:"tenant_name"`
	Plan            *planResponse        `json:"plan,omitempty"`
	BoundVersion    *planVersionResponse `json:"bound_version,omitempty"`
	CurrentVersion  *planVersionResponse `json:"current_version,omitempty"`
	PlanStartedAt   *time.Time           `json:"plan_started_at,omitempty"`
	PlanExpiresAt   *time.Time           `json:"plan_expires_at,omitempty"`
	UpdateAvailable bool                 `json:"update_available"`
	IsExpired       bool                 `json:"is_expired"`
	DaysUntilExpiry *int                 `json:"days_until_expiry,omitempty"`
}

// GetSubscription returns the tenant's subscription view.
func (h *TenantHandler) GetSubscription(w http.ResponseWriter, r *http.Request) {
	sub, err := h.subscriptions.GetTenantSubscription(r.Context(), r.PathValue("id"))
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	resp := subscriptionResponse{
		TenantID:        sub.TenantID,
		TenantName:      sub.TenantName,
		PlanStartedAt:   sub.PlanStartedAt,
		PlanExpiresAt:   sub.PlanExpiresAt,
		UpdateAvailable: sub.UpdateAvailable,
		IsExpired:       sub.IsExpired,
		DaysUntilExpiry: sub.DaysUntilExpiry,
	}
	if sub.Plan != nil {
		p := toPlanResponse(domain.PlanWithVersion{Plan: *sub.Plan})
		resp.Plan = &p
	}
	if sub.BoundVersion != nil {
		v := toPlanVersionResponse(*sub.BoundVersion)
		resp.BoundVersion = &v
	}
	if sub.CurrentVersion != nil {
		v := toPlanVersionResponse(*sub.CurrentVersion)
		resp.CurrentVersion = &v
	}
	respondJSON(w, h.logger, http.StatusOK, resp)
}

type assignPlanRequest struct {
	Plan           string `json:"plan"`
	DurationMonths int    `json:"duration_months"`
}

// assignmentResponse is the JSON representation of a plan binding.
type assignmentResponse struct {
	TenantID      string    `json:"tenant_id"`
	PlanID        string    `json:"plan_id"`
	PlanName      string    `json:"plan_name"`
	VersionID     string    `json:"version_id"`
	VersionNumber int       `json:"version_number"`
	StartedAt     time.Time `json:"started_at"`
	ExpiresAt     time.Time `json:"expires_at"`
}

func toAssignmentResponse(a *domain.SubscriptionAssignment) assignmentResponse {
	return assignmentResponse{
		TenantID:      a.TenantID,
		PlanID:        a.PlanID,
		PlanName:      a.PlanName,
		VersionID:     a.VersionID.String(),
		VersionNumber: a.VersionNumber,
		StartedAt:     a.StartedAt,
		ExpiresAt:     a.ExpiresAt,
	}
}

// AssignPlan binds the tenant to the named plan's current version.
func (h *TenantHandler) AssignPlan(w http.ResponseWriter, r *http.Request) {
	var req assignPlanRequest
	if err := decodeJSON(r, &req); err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	if req.Plan == "" {
		ErrorResponse(w, r, h.logger, domain.Invalid("", "plan is required"))
		return
	}

	assignment, err := h.subscriptions.AssignPlan(r.Context(), r.PathValue("id"), req.Plan, req.DurationMonths)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	respondJSON(w, h.logger, http.StatusOK, toAssignmentResponse(assignment))
}

type renewRequest struct {
	DurationMonths int `json:"duration_months"`
}

// Renew rebinds the tenant to its plan's current version and extends the
// expiry. This is where a grandfathered tenant catches up to new terms.
func (h *TenantHandler) Renew(w http.ResponseWriter, r *http.Request) {
	var req renewRequest
	if err := decodeJSON(r, &req); err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	assignment, err := h.subscriptions.RenewSubscription(r.Context(), r.PathValue("id"), req.DurationMonths)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	respondJSON(w, h.logger, http.StatusOK, toAssignmentResponse(assignment))
}

// quotaStatusResponse is the JSON representation of a quota snapshot.
type quotaStatusResponse struct {
	PlanName          string `json:"plan_name"`
	PlanDisplayName   string `json:"plan_display_name"`
	UserLimit         *int   `json:"user_limit"` // null = unlimited
	CurrentUsers      int    `json:"current_users"`
	HasUserCapacity   bool   `json:"has_user_capacity"`
	MonthlyScanQuota  int    `json:"monthly_scan_quota"`
	BonusScanQuota    int    `json:"bonus_scan_quota"`
	TotalScanQuota    int    `json:"total_scan_quota"`
	CurrentMonthScans int    `json:"current_month_scans"`
	RemainingScans    int    `json:"remaining_scans"`
	HasScanQuota      bool   `json:"has_scan_quota"`
	QuotaResetDate    string `json:"quota_reset_date,omitempty"`
	DailyCardLimit    int    `json:"daily_card_limit"`
	BatchSizeLimit    int    `json:"batch_size_limit"`
}

// GetQuota returns a comprehensive quota snapshot for the tenant.
func (h *TenantHandler) GetQuota(w http.ResponseWriter, r *http.Request) {
	status, err := h.quotas.GetQuotaStatus(r.Context(), r.PathValue("id"))
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	respondJSON(w, h.logger, http.StatusOK, quotaStatusResponse{
		PlanName:          status.PlanName,
		PlanDisplayName:   status.PlanDisplayName,
		UserLimit:         status.UserLimit,
		CurrentUsers:      status.CurrentUsers,
		HasUserCapacity:   status.HasUserCapacity,
		MonthlyScanQuota:  status.MonthlyScanQuota,
		BonusScanQuota:    status.BonusScanQuota,
		TotalScanQuota:    status.TotalScanQuota,
		CurrentMonthScans: status.CurrentMonthScans,
		RemainingScans:    status.RemainingScans,
		HasScanQuota:      status.HasScanQuota,
		QuotaResetDate:    status.QuotaResetDate,
		DailyCardLimit:    status.DailyCardLimit,
		BatchSizeLimit:    status.BatchSizeLimit,
	})
}

// CheckUserLimit reports whether the tenant can add more users.
func (h *TenantHandler) CheckUserLimit(w http.ResponseWriter, r *http.Request) {
	check, err := h.quotas.CheckUserLimit(r.Context(), r.PathValue("id"))
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	respondJSON(w, h.logger, http.StatusOK, map[string]any{
		"allowed":       check.Allowed,
		"current_users": check.CurrentUsers,
		"user_limit":    check.UserLimit,
		"message":       check.Message,
	})
}

// CheckScanQuota reports whether the tenant has scan quota available.
func (h *TenantHandler) CheckScanQuota(w http.ResponseWriter, r *http.Request) {
	check, err := h.quotas.CheckScanQuota(r.Context(), r.PathValue("id"))
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	respondJSON(w, h.logger, http.StatusOK, map[string]any{
		"has_quota":           check.HasQuota,
		"remaining_scans":     check.RemainingScans,
		"total_quota":         check.TotalQuota,
		"current_month_scans": check.CurrentMonthScans,
		"message":             check.Message,
	})
}

type consumeRequest struct {
	Count int `json:"count"`
}

// ConsumeScan deducts scan quota. An exhausted quota responds 200 with
// allowed=false; it is a normal outcome, not an error.
func (h *TenantHandler) ConsumeScan(w http.ResponseWriter, r *http.Request) {
	req := consumeRequest{Count: 1}
	if r.ContentLength > 0 {
		if err := decodeJSON(r, &req); err != nil {
			ErrorResponse(w, r, h.logger, err)
			return
		}
	}

	result, err := h.quotas.ConsumeScan(r.Context(), r.PathValue("id"), req.Count)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	respondJSON(w, h.logger, http.StatusOK, map[string]any{
		"allowed":         result.Allowed,
		"remaining_scans": result.RemainingScans,
		"message":         result.Message,
	})
}

type bonusQuotaRequest struct {
	Amount           int     `json:"amount"`
	Description      string  `json:"description"`
	PaymentReference *string `json:"payment_reference"`
	CreatedBy        string  `json:"created_by"`
}

// AddBonusQuota grants purchased quota to the tenant.
func (h *TenantHandler) AddBonusQuota(w http.ResponseWriter, r *http.Request) {
	var req bonusQuotaRequest
	if err := decodeJSON(r, &req); err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	result, err := h.quotas.AddBonusQuota(r.Context(), domain.AddBonusQuotaParams{
		TenantID:         r.PathValue("id"),
		Amount:           req.Amount,
		Description:      req.Description,
		PaymentReference: req.PaymentReference,
		CreatedBy:        req.CreatedBy,
	})
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	respondJSON(w, h.logger, http.StatusCreated, map[string]any{
		"transaction_id": result.TransactionID.String(),
		"amount_added":   result.AmountAdded,
		"old_balance":    result.OldBalance,
		"new_balance":    result.NewBalance,
		"message":        result.Message,
	})
}

// transactionResponse is the JSON representation of a ledger row.
type transactionResponse struct {
	ID               string    `json:"id"`
	TenantID         string    `json:"tenant_id"`
	Type             string    `json:"type"`
	QuotaAmount      int       `json:"quota_amount"`
	BalanceAfter     int       `json:"balance_after"`
	Description      string    `json:"description,omitempty"`
	PaymentReference *string   `json:"payment_reference,omitempty"`
	CreatedBy        string    `json:"created_by"`
	CreatedAt        time.Time `json:"created_at"`
}

// ListTransactions returns the tenant's bonus-quota ledger, newest first.
// The optional ?limit query parameter caps the number of rows.
func (h *TenantHandler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			ErrorResponse(w, r, h.logger, domain.Invalid("", "limit must be a non-negative integer"))
			return
		}
		limit = n
	}

	txns, err := h.quotas.GetQuotaTransactions(r.Context(), r.PathValue("id"), limit)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	resp := make([]transactionResponse, 0, len(txns))
	for _, t := range txns {
		resp = append(resp, transactionResponse{
			ID:               t.ID.String(),
			TenantID:         t.TenantID,
			Type:             string(t.Type),
			QuotaAmount:      t.QuotaAmount,
			BalanceAfter:     t.BalanceAfter,
			Description:      t.Description,
			PaymentReference: t.PaymentReference,
			CreatedBy:        t.CreatedBy,
			CreatedAt:        t.CreatedAt,
		})
	}
	respondJSON(w, h.logger, http.StatusOK, map[string]any{"transactions": resp})
}
