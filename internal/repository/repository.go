// Package repository provides persistence for tenants, the plan catalog and
// the quota ledger.
//
// Two implementations exist: Postgres (production) and Memory (tests and
// local development). Both honor the same conditional-write semantics, so
// the consumption engine's optimistic concurrency behaves identically
// against either.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/mingpian/cardbase/internal/domain"
)

// ErrNotFound is returned when a referenced row does not exist.
// Services translate it into the appropriate domain error.
var ErrNotFound = errors.New("repository: not found")

// Store defines the persistence operations used by the quota and
// subscription services.
type Store interface {
	// --- tenants ---

	// GetTenant returns a tenant by ID, or ErrNotFound.
	GetTenant(ctx context.Context, id string) (*domain.Tenant, error)

	// CreateTenant inserts a new tenant row.
	CreateTenant(ctx context.Context, t domain.Tenant) error

	// CountTenantUsers returns the number of users registered under a tenant.
	CountTenantUsers(ctx context.Context, tenantID string) (int, error)

	// AddTenantUser registers a user under a tenant.
	AddTenantUser(ctx context.Context, tenantID, displayName string) error

	// ApplyQuotaReset zeroes the consumption counter and records the new
	// reset date in a single conditional write. The write is a no-op when
	// another caller already recorded the same (or a newer) reset date, so
	// concurrent reset checks commit exactly one logical rollover.
	ApplyQuotaReset(ctx context.Context, tenantID, newDate string) error

	// ConsumeScans atomically increments current_month_scans by count, but
	// only if the stored value still equals expected. Returns false when the
	// conditional write lost to a concurrent writer and should be retried
	// with fresh state.
	ConsumeScans(ctx context.Context, tenantID string, count, expected int) (bool, error)

	// AddBonusQuota increments the tenant's bonus balance and appends the
	// matching ledger row atomically. Both writes commit or neither does.
	AddBonusQuota(ctx context.Context, params domain.AddBonusQuotaParams) (*domain.QuotaTransaction, error)

	// ListQuotaTransactions returns the tenant's ledger, newest first.
	ListQuotaTransactions(ctx context.Context, tenantID string, limit int) ([]domain.QuotaTransaction, error)

	// SetTenantPlan binds a tenant to a plan version and updates the
	// subscription window. Any scheduled future version is cleared.
	SetTenantPlan(ctx context.Context, tenantID string, versionID uuid.UUID, startedAt, expiresAt time.Time) error

	// --- plan catalog ---

	// ListPlans returns plans with their current versions, ordered by sort
	// order. Inactive plans are included only when requested.
	ListPlans(ctx context.Context, includeInactive bool) ([]domain.PlanWithVersion, error)

	// GetPlan resolves a plan by ID or name, with its current version
	// (nil when none has been published).
	GetPlan(ctx context.Context, idOrName string) (*domain.PlanWithVersion, error)

	// CreatePlan inserts a new catalog plan.
	CreatePlan(ctx context.Context, p domain.Plan) error

	// UpdatePlan changes plan metadata. Limits and pricing are immutable on
	// the plan itself; they live in versions.
	UpdatePlan(ctx context.Context, params domain.UpdatePlanParams) error

	// GetPlanVersion returns a version by ID, or ErrNotFound.
	GetPlanVersion(ctx context.Context, id uuid.UUID) (*domain.PlanVersion, error)

	// ListPlanVersions returns all versions of a plan, newest first.
	ListPlanVersions(ctx context.Context, planID string) ([]domain.PlanVersion, error)

	// PublishPlanVersion allocates the next version number for v.PlanID,
	// retires the previous current version, and inserts v as current, all in
	// one transaction. Tenant rows are never touched; existing tenants keep
	// the version they are bound to.
	PublishPlanVersion(ctx context.Context, v domain.PlanVersion) (*domain.PlanVersion, error)
}
