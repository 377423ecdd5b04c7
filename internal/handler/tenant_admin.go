package handler

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/mingpian/cardbase/internal/domain"
	"github.com/mingpian/cardbase/internal/repository"
	"github.com/mingpian/cardbase/internal/service"
)

// TenantAdminHandler provisions tenants and their users. It talks to the
// store directly; there is no business logic beyond validation and the
// user-limit gate.
//
// Routes (behind admin auth):
//   - POST /api/tenants             -> Create
//   - POST /api/tenants/{id}/users  -> AddUser
type TenantAdminHandler struct {
	store  repository.Store
	quotas service.QuotaService
	logger *slog.Logger
}

// NewTenantAdminHandler creates a new TenantAdminHandler.
func NewTenantAdminHandler(store repository.Store, quotas service.QuotaService, logger *slog.Logger) *TenantAdminHandler {
	return &TenantAdminHandler{
		store:  store,
		quotas: quotas,
		logger: logger,
	}
}

// RegisterRoutes registers tenant provisioning routes with the provided middleware.
func (h *TenantAdminHandler) RegisterRoutes(mux *http.ServeMux, requireAdmin func(http.Handler) http.Handler) {
	mux.Handle("POST /api/tenants", requireAdmin(http.HandlerFunc(h.Create)))
	mux.Handle("POST /api/tenants/{id}/users", requireAdmin(http.HandlerFunc(h.AddUser)))
}

type createTenantRequest struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	QuotaResetCycle string `json:"quota_reset_cycle"`
	QuotaResetDay   int    `json:"quota_reset_day"`
}

// Create provisions a new tenant on the default free tier.
func (h *TenantAdminHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createTenantRequest
	if err := decodeJSON(r, &req); err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	req.ID = strings.TrimSpace(req.ID)
	if req.ID == "" {
		ErrorResponse(w, r, h.logger, domain.Invalid("tenant.create", "tenant id is required"))
		return
	}

	cycle := domain.ResetCycle(req.QuotaResetCycle)
	switch cycle {
	case "", domain.ResetCycleDaily, domain.ResetCycleWeekly, domain.ResetCycleMonthly:
	default:
		ErrorResponse(w, r, h.logger, domain.Invalid("tenant.create", "quota_reset_cycle must be daily, weekly or monthly"))
		return
	}

	if _, err := h.store.GetTenant(r.Context(), req.ID); err == nil {
		ErrorResponse(w, r, h.logger, domain.Conflict("tenant.create", "tenant already exists"))
		return
	}

	err := h.store.CreateTenant(r.Context(), domain.Tenant{
		ID:              req.ID,
		Name:            req.Name,
		QuotaResetCycle: cycle,
		QuotaResetDay:   req.QuotaResetDay,
	})
	if err != nil {
		ErrorResponse(w, r, h.logger, domain.Internal(err, "tenant.create", "failed to create tenant"))
		return
	}

	h.logger.Info("tenant created", "tenant_id", req.ID)
	respondJSON(w, h.logger, http.StatusCreated, map[string]string{"id": req.ID, "name": req.Name})
}

type addUserRequest struct {
	DisplayName string `json:"display_name"`
}

// AddUser registers a user under the tenant, enforcing the plan's user limit.
func (h *TenantAdminHandler) AddUser(w http.ResponseWriter, r *http.Request) {
	var req addUserRequest
	if err := decodeJSON(r, &req); err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	if strings.TrimSpace(req.DisplayName) == "" {
		ErrorResponse(w, r, h.logger, domain.Invalid("tenant.add_user", "display_name is required"))
		return
	}

	tenantID := r.PathValue("id")
	check, err := h.quotas.CheckUserLimit(r.Context(), tenantID)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	if !check.Allowed {
		ErrorResponse(w, r, h.logger, domain.Errorf(domain.EFORBIDDEN, "tenant.add_user", "%s", check.Message))
		return
	}

	if err := h.store.AddTenantUser(r.Context(), tenantID, req.DisplayName); err != nil {
		ErrorResponse(w, r, h.logger, domain.Internal(err, "tenant.add_user", "failed to add tenant user"))
		return
	}

	respondJSON(w, h.logger, http.StatusCreated, map[string]any{
		"tenant_id":     tenantID,
		"display_name":  req.DisplayName,
		"current_users": check.CurrentUsers + 1,
	})
}
