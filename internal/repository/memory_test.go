package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mingpian/cardbase/internal/domain"
)

func TestMemory_ConsumeScans(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()
	require.NoError(t, store.CreateTenant(ctx, domain.Tenant{ID: "t1", CurrentMonthScans: 10}))

	t.Run("matching expected value succeeds", func(t *testing.T) {
		ok, err := store.ConsumeScans(ctx, "t1", 3, 10)
		require.NoError(t, err)
		assert.True(t, ok)

		tenant, err := store.GetTenant(ctx, "t1")
		require.NoError(t, err)
		assert.Equal(t, 13, tenant.CurrentMonthScans)
	})

	t.Run("stale expected value fails", func(t *testing.T) {
		ok, err := store.ConsumeScans(ctx, "t1", 3, 10)
		require.NoError(t, err)
		assert.False(t, ok)

		tenant, err := store.GetTenant(ctx, "t1")
		require.NoError(t, err)
		assert.Equal(t, 13, tenant.CurrentMonthScans)
	})

	t.Run("unknown tenant fails", func(t *testing.T) {
		ok, err := store.ConsumeScans(ctx, "nope", 1, 0)
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestMemory_ApplyQuotaReset(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()
	require.NoError(t, store.CreateTenant(ctx, domain.Tenant{
		ID:                "t1",
		CurrentMonthScans: 42,
		QuotaResetDate:    "2025-02-01",
	}))

	require.NoError(t, store.ApplyQuotaReset(ctx, "t1", "2025-03-01"))

	tenant, err := store.GetTenant(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, 0, tenant.CurrentMonthScans)
	assert.Equal(t, "2025-03-01", tenant.QuotaResetDate)

	// A repeat with the same date must not zero progress made since.
	ok, err := store.ConsumeScans(ctx, "t1", 5, 0)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, store.ApplyQuotaReset(ctx, "t1", "2025-03-01"))
	tenant, err = store.GetTenant(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, 5, tenant.CurrentMonthScans)
}

func TestMemory_AddBonusQuota(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()
	require.NoError(t, store.CreateTenant(ctx, domain.Tenant{ID: "t1"}))

	txn, err := store.AddBonusQuota(ctx, domain.AddBonusQuotaParams{
		TenantID:    "t1",
		Amount:      100,
		Description: "first pack",
		CreatedBy:   "admin",
	})
	require.NoError(t, err)
	assert.Equal(t, 100, txn.BalanceAfter)
	assert.Equal(t, domain.QuotaTransactionPurchase, txn.Type)

	txn, err = store.AddBonusQuota(ctx, domain.AddBonusQuotaParams{
		TenantID: "t1",
		Amount:   50,
	})
	require.NoError(t, err)
	assert.Equal(t, 150, txn.BalanceAfter)

	tenant, err := store.GetTenant(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, 150, tenant.BonusScanQuota)

	// Ledger is newest first.
	txns, err := store.ListQuotaTransactions(ctx, "t1", 10)
	require.NoError(t, err)
	require.Len(t, txns, 2)
	assert.Equal(t, 50, txns[0].QuotaAmount)
	assert.Equal(t, 100, txns[1].QuotaAmount)

	// Limit caps the listing.
	txns, err = store.ListQuotaTransactions(ctx, "t1", 1)
	require.NoError(t, err)
	assert.Len(t, txns, 1)

	_, err = store.AddBonusQuota(ctx, domain.AddBonusQuotaParams{TenantID: "nope", Amount: 1})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemory_PublishPlanVersion(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()
	require.NoError(t, store.CreatePlan(ctx, domain.Plan{ID: "pro", Name: "pro", DisplayName: "Pro", IsActive: true}))

	v1, err := store.PublishPlanVersion(ctx, domain.PlanVersion{PlanID: "pro", MonthlyScanQuota: 500})
	require.NoError(t, err)
	assert.Equal(t, 1, v1.VersionNumber)
	assert.True(t, v1.IsCurrent)

	v2, err := store.PublishPlanVersion(ctx, domain.PlanVersion{PlanID: "pro", MonthlyScanQuota: 3000})
	require.NoError(t, err)
	assert.Equal(t, 2, v2.VersionNumber)
	assert.True(t, v2.IsCurrent)

	// Old version is retired but still resolvable.
	old, err := store.GetPlanVersion(ctx, v1.ID)
	require.NoError(t, err)
	assert.False(t, old.IsCurrent)
	assert.Equal(t, 500, old.MonthlyScanQuota)

	plan, err := store.GetPlan(ctx, "pro")
	require.NoError(t, err)
	require.NotNil(t, plan.Current)
	assert.Equal(t, v2.ID, plan.Current.ID)

	versions, err := store.ListPlanVersions(ctx, "pro")
	require.NoError(t, err)
	require.Len(t, versions, 2)
	assert.Equal(t, 2, versions[0].VersionNumber)

	_, err = store.PublishPlanVersion(ctx, domain.PlanVersion{PlanID: "nope"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemory_GetPlanByName(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()
	require.NoError(t, store.CreatePlan(ctx, domain.Plan{ID: "starter", Name: "starter", DisplayName: "Starter", IsActive: true}))

	byID, err := store.GetPlan(ctx, "starter")
	require.NoError(t, err)
	assert.Equal(t, "Starter", byID.DisplayName)

	_, err = store.GetPlan(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemory_ListPlans(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()
	require.NoError(t, store.CreatePlan(ctx, domain.Plan{ID: "b", Name: "b", DisplayName: "B", IsActive: true, SortOrder: 2}))
	require.NoError(t, store.CreatePlan(ctx, domain.Plan{ID: "a", Name: "a", DisplayName: "A", IsActive: true, SortOrder: 1}))
	require.NoError(t, store.CreatePlan(ctx, domain.Plan{ID: "legacy", Name: "legacy", DisplayName: "Legacy", IsActive: false, SortOrder: 3}))

	active, err := store.ListPlans(ctx, false)
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, "a", active[0].ID)
	assert.Equal(t, "b", active[1].ID)

	all, err := store.ListPlans(ctx, true)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestMemory_SetTenantPlan(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()
	require.NoError(t, store.CreatePlan(ctx, domain.Plan{ID: "pro", Name: "pro", DisplayName: "Pro", IsActive: true}))
	v, err := store.PublishPlanVersion(ctx, domain.PlanVersion{PlanID: "pro", MonthlyScanQuota: 500})
	require.NoError(t, err)
	require.NoError(t, store.CreateTenant(ctx, domain.Tenant{ID: "t1"}))

	started := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	expires := started.AddDate(0, 0, 30)
	require.NoError(t, store.SetTenantPlan(ctx, "t1", v.ID, started, expires))

	tenant, err := store.GetTenant(ctx, "t1")
	require.NoError(t, err)
	require.NotNil(t, tenant.PlanVersionID)
	assert.Equal(t, v.ID, *tenant.PlanVersionID)
	assert.Equal(t, started, *tenant.PlanStartedAt)
	assert.Equal(t, expires, *tenant.PlanExpiresAt)

	assert.ErrorIs(t, store.SetTenantPlan(ctx, "nope", v.ID, started, expires), ErrNotFound)
}
