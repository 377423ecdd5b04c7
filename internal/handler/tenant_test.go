package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mingpian/cardbase/internal/domain"
	"github.com/mingpian/cardbase/internal/repository"
	"github.com/mingpian/cardbase/internal/service"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestMux wires handlers against the in-memory store with a pass-through
// auth middleware.
func newTestMux(t *testing.T) (*http.ServeMux, *repository.Memory) {
	t.Helper()
	store := repository.NewMemory()
	logger := testLogger()
	quotas := service.NewQuotaService(store, logger)
	subs := service.NewSubscriptionService(store, logger)

	passthrough := func(h http.Handler) http.Handler { return h }

	mux := http.NewServeMux()
	NewPlanHandler(subs, logger).RegisterRoutes(mux, passthrough)
	NewTenantHandler(quotas, subs, logger).RegisterRoutes(mux, passthrough)
	return mux, store
}

// seedTenant creates a tenant whose reset date is already current, so the
// handlers under test exercise quota logic without a rollover firing.
func seedTenant(t *testing.T, store *repository.Memory, tenant domain.Tenant) {
	t.Helper()
	if tenant.QuotaResetDate == "" {
		now := time.Now()
		tenant.QuotaResetDate = time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location()).Format(domain.ResetDateLayout)
	}
	require.NoError(t, store.CreateTenant(context.Background(), tenant))
}

func doJSON(t *testing.T, mux *http.ServeMux, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestTenantHandler_ConsumeFlow(t *testing.T) {
	mux, store := newTestMux(t)
	seedTenant(t, store, domain.Tenant{ID: "t1", CurrentMonthScans: 49})

	// Default free tier: 50 scans. One left.
	rec := doJSON(t, mux, http.MethodPost, "/api/tenants/t1/quota/consume", map[string]int{"count": 1})
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, true, body["allowed"])
	assert.Equal(t, float64(0), body["remaining_scans"])

	// Exhausted: still 200, allowed=false.
	rec = doJSON(t, mux, http.MethodPost, "/api/tenants/t1/quota/consume", map[string]int{"count": 1})
	require.Equal(t, http.StatusOK, rec.Code)
	body = decodeBody(t, rec)
	assert.Equal(t, false, body["allowed"])
}

func TestTenantHandler_ConsumeDefaultsToOne(t *testing.T) {
	mux, store := newTestMux(t)
	seedTenant(t, store, domain.Tenant{ID: "t1"})

	rec := doJSON(t, mux, http.MethodPost, "/api/tenants/t1/quota/consume", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, true, body["allowed"])
	assert.Equal(t, float64(49), body["remaining_scans"])
}

func TestTenantHandler_ConsumeInvalidCount(t *testing.T) {
	mux, store := newTestMux(t)
	seedTenant(t, store, domain.Tenant{ID: "t1"})

	rec := doJSON(t, mux, http.MethodPost, "/api/tenants/t1/quota/consume", map[string]int{"count": -1})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var jsonErr JSONError
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &jsonErr))
	assert.Equal(t, domain.EINVALID, jsonErr.Error.Code)
}

func TestTenantHandler_UnknownTenant(t *testing.T) {
	mux, _ := newTestMux(t)

	rec := doJSON(t, mux, http.MethodGet, "/api/tenants/ghost/quota", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	var jsonErr JSONError
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &jsonErr))
	assert.Equal(t, domain.ENOTFOUND, jsonErr.Error.Code)
}

func TestTenantHandler_BonusQuota(t *testing.T) {
	mux, store := newTestMux(t)
	seedTenant(t, store, domain.Tenant{ID: "t1"})

	rec := doJSON(t, mux, http.MethodPost, "/api/tenants/t1/quota/bonus", map[string]any{
		"amount":      100,
		"description": "support credit",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, float64(100), body["new_balance"])
	assert.Equal(t, float64(0), body["old_balance"])

	rec = doJSON(t, mux, http.MethodGet, "/api/tenants/t1/quota/transactions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	txns := decodeBody(t, rec)["transactions"].([]any)
	require.Len(t, txns, 1)
	first := txns[0].(map[string]any)
	assert.Equal(t, "purchase", first["type"])
	assert.Equal(t, float64(100), first["quota_amount"])
}

func TestTenantHandler_BonusQuotaRejectsNegative(t *testing.T) {
	mux, store := newTestMux(t)
	seedTenant(t, store, domain.Tenant{ID: "t1"})

	rec := doJSON(t, mux, http.MethodPost, "/api/tenants/t1/quota/bonus", map[string]any{"amount": -10})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTenantHandler_SubscriptionLifecycle(t *testing.T) {
	mux, store := newTestMux(t)
	seedTenant(t, store, domain.Tenant{ID: "t1", Name: "Acme"})

	// Build the catalog over the API.
	rec := doJSON(t, mux, http.MethodPost, "/api/plans", map[string]any{
		"name":         "pro",
		"display_name": "Pro",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, mux, http.MethodPost, "/api/plans/pro/versions", map[string]any{
		"monthly_scan_quota": 500,
		"daily_card_limit":   20,
		"batch_size_limit":   10,
		"price_monthly":      29900,
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	// Assign the plan.
	rec = doJSON(t, mux, http.MethodPost, "/api/tenants/t1/plan", map[string]any{
		"plan":            "pro",
		"duration_months": 1,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), decodeBody(t, rec)["version_number"])

	// Publish new terms; the tenant stays grandfathered.
	rec = doJSON(t, mux, http.MethodPost, "/api/plans/pro/versions", map[string]any{
		"monthly_scan_quota": 3000,
		"daily_card_limit":   50,
		"batch_size_limit":   20,
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, mux, http.MethodGet, "/api/tenants/t1/subscription", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	sub := decodeBody(t, rec)
	assert.Equal(t, true, sub["update_available"])
	bound := sub["bound_version"].(map[string]any)
	assert.Equal(t, float64(500), bound["monthly_scan_quota"])

	rec = doJSON(t, mux, http.MethodGet, "/api/tenants/t1/quota", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(500), decodeBody(t, rec)["monthly_scan_quota"])

	// Renewal picks up the new terms.
	rec = doJSON(t, mux, http.MethodPost, "/api/tenants/t1/renew", map[string]any{"duration_months": 12})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(2), decodeBody(t, rec)["version_number"])

	rec = doJSON(t, mux, http.MethodGet, "/api/tenants/t1/quota", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(3000), decodeBody(t, rec)["monthly_scan_quota"])
}

func TestTenantHandler_AssignUnpublishedPlan(t *testing.T) {
	mux, store := newTestMux(t)
	seedTenant(t, store, domain.Tenant{ID: "t1"})

	rec := doJSON(t, mux, http.MethodPost, "/api/plans", map[string]any{
		"name":         "draft",
		"display_name": "Draft",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, mux, http.MethodPost, "/api/tenants/t1/plan", map[string]any{"plan": "draft"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	var jsonErr JSONError
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &jsonErr))
	assert.Equal(t, domain.ENOVERSION, jsonErr.Error.Code)
}

func TestTenantHandler_RenewWithoutPlan(t *testing.T) {
	mux, store := newTestMux(t)
	seedTenant(t, store, domain.Tenant{ID: "t1"})

	rec := doJSON(t, mux, http.MethodPost, "/api/tenants/t1/renew", map[string]any{"duration_months": 1})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	var jsonErr JSONError
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &jsonErr))
	assert.Equal(t, domain.ENOPLAN, jsonErr.Error.Code)
}

func TestTenantHandler_CheckEndpoints(t *testing.T) {
	mux, store := newTestMux(t)
	seedTenant(t, store, domain.Tenant{ID: "t1"})

	rec := doJSON(t, mux, http.MethodGet, "/api/tenants/t1/quota/users", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decodeBody(t, rec)["allowed"])

	rec = doJSON(t, mux, http.MethodGet, "/api/tenants/t1/quota/scans", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, true, body["has_quota"])
	assert.Equal(t, float64(50), body["total_quota"])
}
