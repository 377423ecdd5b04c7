package domain

import (
	"time"

	"github.com/google/uuid"
)

// Tenant represents a workspace with its subscription binding and live
// quota counters.
//
// PlanVersionID is the version the tenant is contractually bound to; nil
// means the tenant runs on the catalog-defined free defaults. The counters
// (CurrentMonthScans, BonusScanQuota) are the only mutable shared state in
// the subsystem and are updated through conditional writes.
type Tenant struct {
	ID                string
	Name              string
	PlanVersionID     *uuid.UUID
	PlanStartedAt     *time.Time
	PlanExpiresAt     *time.Time
	NextPlanVersionID *uuid.UUID // reserved for scheduled future changes
	CurrentMonthScans int
	BonusScanQuota    int
	QuotaResetDate    string // YYYY-MM-DD; empty until the first reset
	QuotaResetCycle   ResetCycle
	QuotaResetDay     int
	CreatedAt         time.Time
}

// TenantSubscription is the derived subscription view for a tenant.
//
// Plan, BoundVersion and CurrentVersion are nil for tenants with no plan
// bound. UpdateAvailable is true when the plan's current version number
// exceeds the tenant's bound version number.
type TenantSubscription struct {
	TenantID        string
	TenantName      string
	Plan            *Plan
	BoundVersion    *PlanVersion
	CurrentVersion  *PlanVersion
	PlanStartedAt   *time.Time
	PlanExpiresAt   *time.Time
	UpdateAvailable bool
	IsExpired       bool
	DaysUntilExpiry *int // nil when no expiry is set
}

// SubscriptionAssignment is the result of assigning or renewing a plan.
type SubscriptionAssignment struct {
	TenantID      string
	PlanID        string
	PlanName      string
	VersionID     uuid.UUID
	VersionNumber int
	StartedAt     time.Time
	ExpiresAt     time.Time
}
