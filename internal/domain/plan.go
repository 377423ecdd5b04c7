// Package domain contains core business types and interfaces.
//
// This file defines the subscription plan catalog types. A Plan is a named
// product tier; its limits and pricing live in immutable PlanVersion
// snapshots. Tenants bind to a specific version, which is what makes
// grandfathering sound: publishing a new version never changes the numbers
// an already-subscribed tenant sees.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// Plan represents a product tier in the subscription catalog.
//
// Plans are never hard-deleted, only deactivated, because historical
// tenants may still reference their versions.
type Plan struct {
	ID          string
	Name        string
	DisplayName string
	Description string
	IsActive    bool
	SortOrder   int
	CreatedAt   time.Time
}

// PlanVersion is an immutable snapshot of a plan's limits and pricing.
//
// Version numbers are strictly increasing per plan and never reused.
// Exactly one version per plan is marked current at any time.
type PlanVersion struct {
	ID               uuid.UUID
	PlanID           string
	VersionNumber    int
	UserLimit        *int // nil = unlimited
	MonthlyScanQuota int
	DailyCardLimit   int
	BatchSizeLimit   int
	PriceMonthly     int  // TWD cents
	PriceYearly      *int // TWD cents, nil when not offered
	IsCurrent        bool
	EffectiveFrom    time.Time
	CreatedAt        time.Time
}

// PlanWithVersion pairs a plan with its current version.
// Current is nil for plans that have never had a version published.
type PlanWithVersion struct {
	Plan
	Current *PlanVersion
}

// Default free-tier identity used when a tenant has no bound version.
const (
	DefaultPlanName        = "free"
	DefaultPlanDisplayName = "Free (Default)"
)

// PlanLimits holds the effective limits a tenant operates under.
type PlanLimits struct {
	UserLimit        *int // nil = unlimited
	MonthlyScanQuota int
	DailyCardLimit   int
	BatchSizeLimit   int
}

// DefaultLimits returns the catalog-defined free-tier limits applied to
// tenants with no bound plan version. These defaults must never require a
// PlanVersion row to exist.
func DefaultLimits() PlanLimits {
	users := 5
	return PlanLimits{
		UserLimit:        &users,
		MonthlyScanQuota: 50,
		DailyCardLimit:   10,
		BatchSizeLimit:   5,
	}
}

// EffectiveLimits resolves the limits for a bound version, falling back to
// the default free tier when the tenant has no version bound.
func EffectiveLimits(bound *PlanVersion) PlanLimits {
	if bound == nil {
		return DefaultLimits()
	}
	return PlanLimits{
		UserLimit:        bound.UserLimit,
		MonthlyScanQuota: bound.MonthlyScanQuota,
		DailyCardLimit:   bound.DailyCardLimit,
		BatchSizeLimit:   bound.BatchSizeLimit,
	}
}

// CreatePlanParams contains the validated parameters for creating a plan.
type CreatePlanParams struct {
	Name        string
	DisplayName string
	Description string
	SortOrder   int
}

// UpdatePlanParams contains the metadata fields an administrator may change
// on an existing plan. Limits and pricing are version-controlled and must go
// through CreatePlanVersion instead.
type UpdatePlanParams struct {
	PlanID      string
	DisplayName *string
	Description *string
	IsActive    *bool
	SortOrder   *int
}

// CreatePlanVersionParams contains the parameters for publishing a new
// version of a plan.
type CreatePlanVersionParams struct {
	PlanID           string
	UserLimit        *int // nil = unlimited
	MonthlyScanQuota int
	DailyCardLimit   int
	BatchSizeLimit   int
	PriceMonthly     int
	PriceYearly      *int
	EffectiveFrom    *time.Time // nil = now
}
