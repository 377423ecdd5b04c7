// Package service contains the business logic layer.
//
// This file implements the subscription service: the plan catalog, plan
// version publication, and tenant plan assignment/renewal.
//
// Grandfathering works through version binding: publishing a new plan
// version never touches tenant rows, so an already-subscribed tenant keeps
// the exact limits it signed up under until it explicitly renews.
package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/mingpian/cardbase/internal/domain"
	"github.com/mingpian/cardbase/internal/metrics"
	"github.com/mingpian/cardbase/internal/repository"
)

// subscriptionMonth is the billing month used for expiry arithmetic.
// Durations are flat 30-day windows, not calendar months.
const subscriptionMonth = 30 * 24 * time.Hour

// =============================================================================
// Interface Definition
// =============================================================================

// SubscriptionService defines operations on the plan catalog and tenant
// subscriptions.
type SubscriptionService interface {
	// ListPlans returns catalog plans with their current versions.
	ListPlans(ctx context.Context, includeInactive bool) ([]domain.PlanWithVersion, error)

	// GetPlan resolves a plan by ID or name.
	// Returns domain.ENOTFOUND if it does not exist.
	GetPlan(ctx context.Context, idOrName string) (*domain.PlanWithVersion, error)

	// GetPlanVersions returns a plan's full version history, newest first.
	GetPlanVersions(ctx context.Context, planID string) ([]domain.PlanVersion, error)

	// CreatePlan adds a new plan to the catalog. The plan has no versions
	// until CreatePlanVersion publishes one.
	CreatePlan(ctx context.Context, params domain.CreatePlanParams) (*domain.Plan, error)

	// UpdatePlan changes plan metadata (display name, description, active
	// flag, sort order). Limits and pricing are version-controlled and must
	// go through CreatePlanVersion.
	UpdatePlan(ctx context.Context, params domain.UpdatePlanParams) (*domain.PlanWithVersion, error)

	// CreatePlanVersion publishes a new current version of a plan with the
	// next version number. Existing tenants keep their bound versions.
	CreatePlanVersion(ctx context.Context, params domain.CreatePlanVersionParams) (*domain.PlanVersion, error)

	// AssignPlan binds a tenant to the plan's current version for the given
	// duration. Returns domain.ENOTFOUND for unknown plans or tenants, and
	// domain.ENOVERSION when the plan has never had a version published.
	AssignPlan(ctx context.Context, tenantID, planIDOrName string, durationMonths int) (*domain.SubscriptionAssignment, error)

	// RenewSubscription rebinds the tenant to its plan's current version and
	// extends the expiry. This is the only point where a tenant picks up
	// updated plan terms. Returns domain.ENOPLAN when no plan is bound.
	RenewSubscription(ctx context.Context, tenantID string, durationMonths int) (*domain.SubscriptionAssignment, error)

	// GetTenantSubscription returns the tenant's subscription view,
	// including whether a newer plan version is available and expiry state.
	GetTenantSubscription(ctx context.Context, tenantID string) (*domain.TenantSubscription, error)
}

// =============================================================================
// Implementation
// =============================================================================

type subscriptionService struct {
	store  repository.Store
	logger *slog.Logger
	now    func() time.Time
}

// NewSubscriptionService creates a new SubscriptionService.
func NewSubscriptionService(store repository.Store, logger *slog.Logger) SubscriptionService {
	return &subscriptionService{
		store:  store,
		logger: logger,
		now:    time.Now,
	}
}

func (s *subscriptionService) ListPlans(ctx context.Context, includeInactive bool) ([]domain.PlanWithVersion, error) {
	const op = "subscription.list_plans"

	plans, err := s.store.ListPlans(ctx, includeInactive)
	if err != nil {
		return nil, domain.Internal(err, op, "failed to list plans")
	}
	return plans, nil
}

func (s *subscriptionService) GetPlan(ctx context.Context, idOrName string) (*domain.PlanWithVersion, error) {
	const op = "subscription.get_plan"
	return s.getPlan(ctx, op, idOrName)
}

func (s *subscriptionService) GetPlanVersions(ctx context.Context, planID string) ([]domain.PlanVersion, error) {
	const op = "subscription.get_plan_versions"

	versions, err := s.store.ListPlanVersions(ctx, planID)
	if err != nil {
		return nil, domain.Internal(err, op, "failed to list plan versions")
	}
	return versions, nil
}

func (s *subscriptionService) CreatePlan(ctx context.Context, params domain.CreatePlanParams) (*domain.Plan, error) {
	const op = "subscription.create_plan"

	name := strings.ToLower(strings.TrimSpace(params.Name))
	if name == "" {
		return nil, domain.Invalid(op, "plan name is required")
	}
	if params.DisplayName == "" {
		return nil, domain.Invalid(op, "display name is required")
	}

	plan := domain.Plan{
		ID:          name,
		Name:        name,
		DisplayName: params.DisplayName,
		Description: params.Description,
		IsActive:    true,
		SortOrder:   params.SortOrder,
	}
	if err := s.store.CreatePlan(ctx, plan); err != nil {
		return nil, domain.Internal(err, op, "failed to create plan")
	}

	s.logger.Info("plan created", "plan_id", plan.ID)
	return &plan, nil
}

func (s *subscriptionService) UpdatePlan(ctx context.Context, params domain.UpdatePlanParams) (*domain.PlanWithVersion, error) {
	const op = "subscription.update_plan"

	err := s.store.UpdatePlan(ctx, params)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, domain.NotFound(op, "plan", params.PlanID)
	}
	if err != nil {
		return nil, domain.Internal(err, op, "failed to update plan")
	}

	s.logger.Info("plan updated", "plan_id", params.PlanID)
	return s.getPlan(ctx, op, params.PlanID)
}

func (s *subscriptionService) CreatePlanVersion(ctx context.Context, params domain.CreatePlanVersionParams) (*domain.PlanVersion, error) {
	const op = "subscription.create_plan_version"

	if params.PlanID == "" {
		return nil, domain.Invalid(op, "plan id is required")
	}
	// Defaults mirror the free tier.
	if params.MonthlyScanQuota <= 0 {
		params.MonthlyScanQuota = 50
	}
	if params.DailyCardLimit <= 0 {
		params.DailyCardLimit = 10
	}
	if params.BatchSizeLimit <= 0 {
		params.BatchSizeLimit = 5
	}
	effectiveFrom := s.now()
	if params.EffectiveFrom != nil {
		effectiveFrom = *params.EffectiveFrom
	}

	version, err := s.store.PublishPlanVersion(ctx, domain.PlanVersion{
		PlanID:           params.PlanID,
		UserLimit:        params.UserLimit,
		MonthlyScanQuota: params.MonthlyScanQuota,
		DailyCardLimit:   params.DailyCardLimit,
		BatchSizeLimit:   params.BatchSizeLimit,
		PriceMonthly:     params.PriceMonthly,
		PriceYearly:      params.PriceYearly,
		EffectiveFrom:    effectiveFrom,
	})
	if errors.Is(err, repository.ErrNotFound) {
		return nil, domain.NotFound(op, "plan", params.PlanID)
	}
	if err != nil {
		return nil, domain.Internal(err, op, "failed to publish plan version")
	}

	metrics.PlanVersionsPublished.WithLabelValues(params.PlanID).Inc()
	s.logger.Info("plan version published",
		"plan_id", params.PlanID,
		"version_id", version.ID,
		"version_number", version.VersionNumber,
	)
	return version, nil
}

func (s *subscriptionService) AssignPlan(ctx context.Context, tenantID, planIDOrName string, durationMonths int) (*domain.SubscriptionAssignment, error) {
	const op = "subscription.assign_plan"

	if durationMonths <= 0 {
		durationMonths = 1
	}
	plan, err := s.getPlan(ctx, op, planIDOrName)
	if err != nil {
		return nil, err
	}
	if plan.Current == nil {
		return nil, domain.NoCurrentVersion(op, plan.ID)
	}

	assignment, err := s.bindTenant(ctx, op, tenantID, plan, durationMonths)
	if err != nil {
		return nil, err
	}

	metrics.SubscriptionsAssigned.WithLabelValues("assign").Inc()
	s.logger.Info("plan assigned to tenant",
		"tenant_id", tenantID,
		"plan_id", plan.ID,
		"version_id", plan.Current.ID,
		"expires_at", assignment.ExpiresAt,
	)
	return assignment, nil
}

func (s *subscriptionService) RenewSubscription(ctx context.Context, tenantID string, durationMonths int) (*domain.SubscriptionAssignment, error) {
	const op = "subscription.renew"

	if durationMonths <= 0 {
		durationMonths = 1
	}
	tenant, err := s.store.GetTenant(ctx, tenantID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, domain.NotFound(op, "tenant", tenantID)
	}
	if err != nil {
		return nil, domain.Internal(err, op, "failed to load tenant")
	}
	if tenant.PlanVersionID == nil {
		return nil, domain.NoAssignedPlan(op, tenantID)
	}

	boundVersion, err := s.store.GetPlanVersion(ctx, *tenant.PlanVersionID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, domain.NoAssignedPlan(op, tenantID)
	}
	if err != nil {
		return nil, domain.Internal(err, op, "failed to load bound plan version")
	}

	// Re-resolve the plan's current version: renewal is where the tenant
	// catches up to updated terms.
	plan, err := s.getPlan(ctx, op, boundVersion.PlanID)
	if err != nil {
		return nil, err
	}
	if plan.Current == nil {
		return nil, domain.NoCurrentVersion(op, plan.ID)
	}

	assignment, err := s.bindTenant(ctx, op, tenantID, plan, durationMonths)
	if err != nil {
		return nil, err
	}

	metrics.SubscriptionsAssigned.WithLabelValues("renew").Inc()
	s.logger.Info("subscription renewed",
		"tenant_id", tenantID,
		"plan_id", plan.ID,
		"new_version_id", plan.Current.ID,
		"expires_at", assignment.ExpiresAt,
	)
	return assignment, nil
}

func (s *subscriptionService) GetTenantSubscription(ctx context.Context, tenantID string) (*domain.TenantSubscription, error) {
	const op = "subscription.get_tenant_subscription"

	tenant, err := s.store.GetTenant(ctx, tenantID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, domain.NotFound(op, "tenant", tenantID)
	}
	if err != nil {
		return nil, domain.Internal(err, op, "failed to load tenant")
	}

	sub := &domain.TenantSubscription{
		TenantID:      tenant.ID,
		TenantName:    tenant.Name,
		PlanStartedAt: tenant.PlanStartedAt,
		PlanExpiresAt: tenant.PlanExpiresAt,
	}

	if tenant.PlanVersionID != nil {
		boundVersion, err := s.store.GetPlanVersion(ctx, *tenant.PlanVersionID)
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			return nil, domain.Internal(err, op, "failed to load bound plan version")
		}
		if boundVersion != nil {
			sub.BoundVersion = boundVersion
			plan, err := s.getPlan(ctx, op, boundVersion.PlanID)
			if err == nil {
				sub.Plan = &plan.Plan
				sub.CurrentVersion = plan.Current
				if plan.Current != nil && plan.Current.VersionNumber > boundVersion.VersionNumber {
					sub.UpdateAvailable = true
				}
			}
		}
	}

	if tenant.PlanExpiresAt != nil {
		now := s.now()
		sub.IsExpired = tenant.PlanExpiresAt.Before(now)
		days := int(tenant.PlanExpiresAt.Sub(now).Hours() / 24)
		sub.DaysUntilExpiry = &days
	}
	return sub, nil
}

// bindTenant writes the version binding and subscription window.
func (s *subscriptionService) bindTenant(ctx context.Context, op, tenantID string, plan *domain.PlanWithVersion, durationMonths int) (*domain.SubscriptionAssignment, error) {
	now := s.now()
	expiresAt := now.Add(time.Duration(durationMonths) * subscriptionMonth)

	err := s.store.SetTenantPlan(ctx, tenantID, plan.Current.ID, now, expiresAt)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, domain.NotFound(op, "tenant", tenantID)
	}
	if err != nil {
		return nil, domain.Internal(err, op, "failed to bind tenant plan")
	}

	return &domain.SubscriptionAssignment{
		TenantID:      tenantID,
		PlanID:        plan.ID,
		PlanName:      plan.DisplayName,
		VersionID:     plan.Current.ID,
		VersionNumber: plan.Current.VersionNumber,
		StartedAt:     now,
		ExpiresAt:     expiresAt,
	}, nil
}

// getPlan resolves a plan by ID or name, translating the store sentinel.
func (s *subscriptionService) getPlan(ctx context.Context, op, idOrName string) (*domain.PlanWithVersion, error) {
	plan, err := s.store.GetPlan(ctx, idOrName)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, domain.NotFound(op, "plan", idOrName)
	}
	if err != nil {
		return nil, domain.Internal(err, op, "failed to load plan")
	}
	return plan, nil
}
