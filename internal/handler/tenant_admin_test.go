package handler

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mingpian/cardbase/internal/repository"
	"github.com/mingpian/cardbase/internal/service"
)

func newAdminMux(t *testing.T) (*http.ServeMux, *repository.Memory) {
	t.Helper()
	store := repository.NewMemory()
	quotas := service.NewQuotaService(store, testLogger())

	mux := http.NewServeMux()
	passthrough := func(h http.Handler) http.Handler { return h }
	NewTenantAdminHandler(store, quotas, testLogger()).RegisterRoutes(mux, passthrough)
	return mux, store
}

func TestTenantAdmin_Create(t *testing.T) {
	mux, store := newAdminMux(t)

	rec := doJSON(t, mux, http.MethodPost, "/api/tenants", map[string]any{
		"id":                "acme",
		"name":              "Acme Inc",
		"quota_reset_cycle": "weekly",
		"quota_reset_day":   1,
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	tenant, err := store.GetTenant(context.Background(), "acme")
	require.NoError(t, err)
	assert.Equal(t, "Acme Inc", tenant.Name)
	assert.Equal(t, "weekly", string(tenant.QuotaResetCycle))

	// Duplicate IDs conflict.
	rec = doJSON(t, mux, http.MethodPost, "/api/tenants", map[string]any{"id": "acme"})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestTenantAdmin_CreateValidation(t *testing.T) {
	mux, _ := newAdminMux(t)

	rec := doJSON(t, mux, http.MethodPost, "/api/tenants", map[string]any{"name": "No ID"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, mux, http.MethodPost, "/api/tenants", map[string]any{
		"id":                "t1",
		"quota_reset_cycle": "quarterly",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTenantAdmin_AddUserEnforcesLimit(t *testing.T) {
	mux, store := newAdminMux(t)

	rec := doJSON(t, mux, http.MethodPost, "/api/tenants", map[string]any{"id": "acme", "name": "Acme"})
	require.Equal(t, http.StatusCreated, rec.Code)

	// Default free tier allows 5 users.
	for i := 0; i < 5; i++ {
		rec = doJSON(t, mux, http.MethodPost, "/api/tenants/acme/users", map[string]any{"display_name": "member"})
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	rec = doJSON(t, mux, http.MethodPost, "/api/tenants/acme/users", map[string]any{"display_name": "one too many"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	count, err := store.CountTenantUsers(context.Background(), "acme")
	require.NoError(t, err)
	assert.Equal(t, 5, count)
}
