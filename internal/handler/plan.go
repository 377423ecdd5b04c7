package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/mingpian/cardbase/internal/domain"
	"github.com/mingpian/cardbase/internal/service"
)

// PlanHandler handles plan catalog HTTP requests.
//
// Routes (all behind admin auth):
//   - GET    /api/plans                  -> List
//   - POST   /api/plans                  -> Create
//   - GET    /api/plans/{id}             -> Get
//   - PATCH  /api/plans/{id}             -> Update
//   - GET    /api/plans/{id}/versions    -> ListVersions
//   - POST   /api/plans/{id}/versions    -> CreateVersion
type PlanHandler struct {
	subscriptions service.SubscriptionService
	logger        *slog.Logger
}

// NewPlanHandler creates a new PlanHandler.
func NewPlanHandler(subscriptions service.SubscriptionService, logger *slog.Logger) *PlanHandler {
	return &PlanHandler{
		subscriptions: subscriptions,
		logger:        logger,
	}
}

// RegisterRoutes registers plan routes with the provided middleware.
func (h *PlanHandler) RegisterRoutes(mux *http.ServeMux, requireAdmin func(http.Handler) http.Handler) {
	mux.Handle("GET /api/plans", requireAdmin(http.HandlerFunc(h.List)))
	mux.Handle("POST /api/plans", requireAdmin(http.HandlerFunc(h.Create)))
	mux.Handle("GET /api/plans/{id}", requireAdmin(http.HandlerFunc(h.Get)))
	mux.Handle("PATCH /api/plans/{id}", requireAdmin(http.HandlerFunc(h.Update)))
	mux.Handle("GET /api/plans/{id}/versions", requireAdmin(http.HandlerFunc(h.ListVersions)))
	mux.Handle("POST /api/plans/{id}/versions", requireAdmin(http.HandlerFunc(h.CreateVersion)))
}

// planResponse is the JSON representation of a plan with its current version.
type planResponse struct {
	ID          string               `json:"id"`
	Name        string               `json:"name"`
	DisplayName string               `json:"display_name"`
	Description string               `json:"description,omitempty"`
	IsActive    bool                 `json:"is_active"`
	SortOrder   int                  `json:"sort_order"`
	Current     *planVersionResponse `json:"current_version,omitempty"`
}

// planVersionResponse is the JSON representation of a plan version.
type planVersionResponse struct {
	ID               string    `json:"id"`
	PlanID           string    `json:"plan_id"`
	VersionNumber    int       `json:"version_number"`
	UserLimit        *int      `json:"user_limit"` // null = unlimited
	MonthlyScanQuota int       `json:"monthly_scan_quota"`
	DailyCardLimit   int       `json:"daily_card_limit"`
	BatchSizeLimit   int       `json:"batch_size_limit"`
	PriceMonthly     int       `json:"price_monthly"`
	PriceYearly      *int      `json:"price_yearly,omitempty"`
	IsCurrent        bool      `json:"is_current"`
	EffectiveFrom    time.Time `json:"effective_from"`
	CreatedAt        time.Time `json:"created_at"`
}

func toPlanResponse(p domain.PlanWithVersion) planResponse {
	resp := planResponse{
		ID:          p.ID,
		Name:        p.Name,
		DisplayName: p.DisplayName,
		Description: p.Description,
		IsActive:    p.IsActive,
		SortOrder:   p.SortOrder,
	}
	if p.Current != nil {
		v := toPlanVersionResponse(*p.Current)
		resp.Current = &v
	}
	return resp
}

func toPlanVersionResponse(v domain.PlanVersion) planVersionResponse {
	return planVersionResponse{
		ID:               v.ID.String(),
		PlanID:           v.PlanID,
		VersionNumber:    v.VersionNumber,
		UserLimit:        v.UserLimit,
		MonthlyScanQuota: v.MonthlyScanQuota,
		DailyCardLimit:   v.DailyCardLimit,
		BatchSizeLimit:   v.BatchSizeLimit,
		PriceMonthly:     v.PriceMonthly,
		PriceYearly:      v.PriceYearly,
		IsCurrent:        v.IsCurrent,
		EffectiveFrom:    v.EffectiveFrom,
		CreatedAt:        v.CreatedAt,
	}
}

// List returns the plan catalog. Inactive plans are included only when
// ?include_inactive=true is set.
func (h *PlanHandler) List(w http.ResponseWriter, r *http.Request) {
	includeInactive := r.URL.Query().Get("include_inactive") == "true"

	plans, err := h.subscriptions.ListPlans(r.Context(), includeInactive)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	resp := make([]planResponse, 0, len(plans))
	for _, p := range plans {
		resp = append(resp, toPlanResponse(p))
	}
	respondJSON(w, h.logger, http.StatusOK, map[string]any{"plans": resp})
}

// Get returns a single plan by ID or name.
func (h *PlanHandler) Get(w http.ResponseWriter, r *http.Request) {
	plan, err := h.subscriptions.GetPlan(r.Context(), r.PathValue("id"))
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	respondJSON(w, h.logger, http.StatusOK, toPlanResponse(*plan))
}

type createPlanRequest struct {
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
	Description string `json:"description"`
	SortOrder   int    `json:"sort_order"`
}

// Create adds a new plan to the catalog.
func (h *PlanHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createPlanRequest
	if err := decodeJSON(r, &req); err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	plan, err := h.subscriptions.CreatePlan(r.Context(), domain.CreatePlanParams{
		Name:        req.Name,
		DisplayName: req.DisplayName,
		Description: req.Description,
		SortOrder:   req.SortOrder,
	})
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	respondJSON(w, h.logger, http.StatusCreated, toPlanResponse(domain.PlanWithVersion{Plan: *plan}))
}

type updatePlanRequest struct {
	DisplayName *string `json:"display_name"`
	Description *string `json:"description"`
	IsActive    *bool   `json:"is_active"`
	SortOrder   *int    `json:"sort_order"`
}

// Update changes plan metadata. Limits and pricing must go through a new
// version instead.
func (h *PlanHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req updatePlanRequest
	if err := decodeJSON(r, &req); err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	plan, err := h.subscriptions.UpdatePlan(r.Context(), domain.UpdatePlanParams{
		PlanID:      r.PathValue("id"),
		DisplayName: req.DisplayName,
		Description: req.Description,
		IsActive:    req.IsActive,
		SortOrder:   req.SortOrder,
	})
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	respondJSON(w, h.logger, http.StatusOK, toPlanResponse(*plan))
}

// ListVersions returns a plan's full version history, newest first.
func (h *PlanHandler) ListVersions(w http.ResponseWriter, r *http.Request) {
	versions, err := h.subscriptions.GetPlanVersions(r.Context(), r.PathValue("id"))
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	resp := make([]planVersionResponse, 0, len(versions))
	for _, v := range versions {
		resp = append(resp, toPlanVersionResponse(v))
	}
	respondJSON(w, h.logger, http.StatusOK, map[string]any{"versions": resp})
}

type createPlanVersionRequest struct {
	UserLimit        *int       `json:"user_limit"`
	MonthlyScanQuota int        `json:"monthly_scan_quota"`
	DailyCardLimit   int        `json:"daily_card_limit"`
	BatchSizeLimit   int        `json:"batch_size_limit"`
	PriceMonthly     int        `json:"price_monthly"`
	PriceYearly      *int       `json:"price_yearly"`
	EffectiveFrom    *time.Time `json:"effective_from"`
}

// CreateVersion publishes a new current version of the plan. Tenants bound
// to older versions are unaffected until they renew.
func (h *PlanHandler) CreateVersion(w http.ResponseWriter, r *http.Request) {
	var req createPlanVersionRequest
	if err := decodeJSON(r, &req); err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	version, err := h.subscriptions.CreatePlanVersion(r.Context(), domain.CreatePlanVersionParams{
		PlanID:           r.PathValue("id"),
		UserLimit:        req.UserLimit,
		MonthlyScanQuota: req.MonthlyScanQuota,
		DailyCardLimit:   req.DailyCardLimit,
		BatchSizeLimit:   req.BatchSizeLimit,
		PriceMonthly:     req.PriceMonthly,
		PriceYearly:      req.PriceYearly,
		EffectiveFrom:    req.EffectiveFrom,
	})
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	respondJSON(w, h.logger, http.StatusCreated, toPlanVersionResponse(*version))
}
