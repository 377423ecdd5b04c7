// Package service contains the business logic layer.
//
// Services orchestrate interactions between the store, domain logic and
// metrics. They are responsible for:
// - Input validation
// - Business rule enforcement
// - Error translation (store errors -> domain errors)
//
// This file implements the quota service: cycle-based counter resets,
// atomic scan consumption, and the bonus-quota ledger.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/mingpian/cardbase/internal/domain"
	"github.com/mingpian/cardbase/internal/metrics"
	"github.com/mingpian/cardbase/internal/repository"
)

const (
	// maxConsumeRetries bounds the optimistic-concurrency loop in
	// ConsumeScan: one initial attempt plus up to three retries with fresh
	// state. The bound prevents livelock under sustained contention.
	maxConsumeRetries = 3

	// consumeRetryDelay spaces out retries after a lost conditional write.
	consumeRetryDelay = 10 * time.Millisecond

	// defaultLedgerLimit caps transaction history listings.
	defaultLedgerLimit = 50
)

// errConcurrentModification marks a conditional write that lost to another
// writer. It never escapes this package; exhausted retries surface as a
// domain conflict error.
var errConcurrentModification = errors.New("concurrent modification")

// =============================================================================
// Interface Definition
// =============================================================================

// QuotaService defines operations for checking and consuming tenant quota.
type QuotaService interface {
	// GetQuotaStatus returns a comprehensive quota snapshot for a tenant.
	GetQuotaStatus(ctx context.Context, tenantID string) (*domain.QuotaStatus, error)

	// CheckUserLimit reports whether the tenant can add more users.
	CheckUserLimit(ctx context.Context, tenantID string) (*domain.UserLimitCheck, error)

	// CheckScanQuota reports whether the tenant has scan quota available,
	// rolling the counter over first if a cycle reset is due.
	CheckScanQuota(ctx context.Context, tenantID string) (*domain.ScanQuotaCheck, error)

	// ConsumeScan deducts count units of scan quota. Insufficient quota is
	// reported via ConsumeResult.Allowed=false with a nil error; an error is
	// returned only for faults (unknown tenant, storage failure, or a
	// conditional write that kept losing after the bounded retries).
	ConsumeScan(ctx context.Context, tenantID string, count int) (*domain.ConsumeResult, error)

	// AddBonusQuota grants purchased quota and appends a ledger row
	// atomically. Bonus quota is additive and never reset by cycle rollover.
	AddBonusQuota(ctx context.Context, params domain.AddBonusQuotaParams) (*domain.BonusQuotaResult, error)

	// GetQuotaTransactions returns the tenant's bonus-quota ledger, newest
	// first.
	GetQuotaTransactions(ctx context.Context, tenantID string, limit int) ([]domain.QuotaTransaction, error)
}

// =============================================================================
// Implementation
// =============================================================================

type quotaService struct {
	store  repository.Store
	logger *slog.Logger
	now    func() time.Time
}

// NewQuotaService creates a new QuotaService.
func NewQuotaService(store repository.Store, logger *slog.Logger) QuotaService {
	return &quotaService{
		store:  store,
		logger: logger,
		now:    time.Now,
	}
}

// boundPlan resolves a tenant's effective plan: either the version the
// tenant is bound to, or the catalog-defined free defaults.
type boundPlan struct {
	limits      domain.PlanLimits
	name        string
	displayName string
	version     *domain.PlanVersion // nil on the default tier
}

func (s *quotaService) GetQuotaStatus(ctx context.Context, tenantID string) (*domain.QuotaStatus, error) {
	const op = "quota.get_status"

	tenant, err := s.getTenant(ctx, op, tenantID)
	if err != nil {
		return nil, err
	}
	bound, err := s.resolveBoundPlan(ctx, op, tenant)
	if err != nil {
		return nil, err
	}
	currentUsers, err := s.store.CountTenantUsers(ctx, tenantID)
	if err != nil {
		return nil, domain.Internal(err, op, "failed to count tenant users")
	}

	total := bound.limits.MonthlyScanQuota + tenant.BonusScanQuota
	remaining := total - tenant.CurrentMonthScans
	if remaining < 0 {
		remaining = 0
	}

	return &domain.QuotaStatus{
		PlanName:          bound.name,
		PlanDisplayName:   bound.displayName,
		UserLimit:         bound.limits.UserLimit,
		CurrentUsers:      currentUsers,
		HasUserCapacity:   bound.limits.UserLimit == nil || currentUsers < *bound.limits.UserLimit,
		MonthlyScanQuota:  bound.limits.MonthlyScanQuota,
		BonusScanQuota:    tenant.BonusScanQuota,
		TotalScanQuota:    total,
		CurrentMonthScans: tenant.CurrentMonthScans,
		RemainingScans:    remaining,
		HasScanQuota:      remaining > 0,
		QuotaResetDate:    tenant.QuotaResetDate,
		DailyCardLimit:    bound.limits.DailyCardLimit,
		BatchSizeLimit:    bound.limits.BatchSizeLimit,
	}, nil
}

func (s *quotaService) CheckUserLimit(ctx context.Context, tenantID string) (*domain.UserLimitCheck, error) {
	const op = "quota.check_user_limit"

	tenant, err := s.getTenant(ctx, op, tenantID)
	if err != nil {
		return nil, err
	}
	bound, err := s.resolveBoundPlan(ctx, op, tenant)
	if err != nil {
		return nil, err
	}
	currentUsers, err := s.store.CountTenantUsers(ctx, tenantID)
	if err != nil {
		return nil, domain.Internal(err, op, "failed to count tenant users")
	}

	limit := bound.limits.UserLimit
	allowed := limit == nil || currentUsers < *limit

	var message string
	switch {
	case limit == nil:
		message = fmt.Sprintf("%d users (unlimited)", currentUsers)
	case allowed:
		message = fmt.Sprintf("%d/%d users", currentUsers, *limit)
	default:
		message = fmt.Sprintf("user limit reached (%d), upgrade to add more", *limit)
	}

	return &domain.UserLimitCheck{
		Allowed:      allowed,
		CurrentUsers: currentUsers,
		UserLimit:    limit,
		Message:      message,
	}, nil
}

func (s *quotaService) CheckScanQuota(ctx context.Context, tenantID string) (*domain.ScanQuotaCheck, error) {
	const op = "quota.check_scan_quota"

	tenant, err := s.getTenant(ctx, op, tenantID)
	if err != nil {
		return nil, err
	}
	if err := s.checkQuotaReset(ctx, op, tenant); err != nil {
		return nil, err
	}
	bound, err := s.resolveBoundPlan(ctx, op, tenant)
	if err != nil {
		return nil, err
	}

	total := bound.limits.MonthlyScanQuota + tenant.BonusScanQuota
	remaining := total - tenant.CurrentMonthScans
	if remaining < 0 {
		remaining = 0
	}
	hasQuota := remaining > 0

	var message string
	if hasQuota {
		message = fmt.Sprintf("%d/%d scans remaining", remaining, total)
	} else {
		message = fmt.Sprintf("quota exhausted (%d/%d used), purchase bonus quota or wait for the next reset", tenant.CurrentMonthScans, total)
	}

	return &domain.ScanQuotaCheck{
		HasQuota:          hasQuota,
		RemainingScans:    remaining,
		TotalQuota:        total,
		CurrentMonthScans: tenant.CurrentMonthScans,
		Message:           message,
	}, nil
}

func (s *quotaService) ConsumeScan(ctx context.Context, tenantID string, count int) (*domain.ConsumeResult, error) {
	const op = "quota.consume"

	if count <= 0 {
		return nil, domain.Invalid(op, "count must be a positive integer")
	}

	tenant, err := s.getTenant(ctx, op, tenantID)
	if err != nil {
		return nil, err
	}
	if err := s.checkQuotaReset(ctx, op, tenant); err != nil {
		return nil, err
	}

	var result *domain.ConsumeResult
	attempt := 0
	backoff := retry.WithMaxRetries(maxConsumeRetries, retry.NewConstant(consumeRetryDelay))

	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		if attempt > 0 {
			// Lost the conditional write: start over from fresh state,
			// including a new reset check in case the cycle rolled over.
			tenant, err = s.getTenant(ctx, op, tenantID)
			if err != nil {
				return err
			}
			if err := s.checkQuotaReset(ctx, op, tenant); err != nil {
				return err
			}
		}
		attempt++

		bound, err := s.resolveBoundPlan(ctx, op, tenant)
		if err != nil {
			return err
		}
		total := bound.limits.MonthlyScanQuota + tenant.BonusScanQuota
		remaining := total - tenant.CurrentMonthScans

		if remaining < count {
			metrics.QuotaDenied.Inc()
			if remaining < 0 {
				remaining = 0
			}
			result = &domain.ConsumeResult{
				Allowed:        false,
				RemainingScans: remaining,
				Message:        fmt.Sprintf("insufficient quota: need %d but only %d remaining", count, remaining),
			}
			return nil
		}

		// Conditional increment: succeeds only if the counter still holds
		// the value we read. A lost race is retried with fresh state.
		ok, err := s.store.ConsumeScans(ctx, tenantID, count, tenant.CurrentMonthScans)
		if err != nil {
			return domain.Internal(err, op, "failed to consume quota")
		}
		if !ok {
			metrics.ConsumeRetries.Inc()
			s.logger.Warn("quota consumption retry",
				"tenant_id", tenantID,
				"attempt", attempt,
				"reason", "concurrent_modification",
			)
			return retry.RetryableError(errConcurrentModification)
		}

		metrics.ScansConsumed.Add(float64(count))
		result = &domain.ConsumeResult{
			Allowed:        true,
			RemainingScans: remaining - count,
			Message:        fmt.Sprintf("consumed %d, %d remaining", count, remaining-count),
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, errConcurrentModification) {
			s.logger.Error("quota consumption failed after max retries",
				"tenant_id", tenantID,
				"attempts", attempt,
			)
			return nil, domain.Conflict(op, "quota update kept conflicting, please retry")
		}
		return nil, err
	}

	if result.Allowed {
		s.logger.Info("scan quota consumed",
			"tenant_id", tenantID,
			"count", count,
			"remaining", result.RemainingScans,
		)
	}
	return result, nil
}

func (s *quotaService) AddBonusQuota(ctx context.Context, params domain.AddBonusQuotaParams) (*domain.BonusQuotaResult, error) {
	const op = "quota.add_bonus"

	if params.Amount <= 0 {
		return nil, domain.Invalid(op, "amount must be a positive integer")
	}
	if params.Description == "" {
		params.Description = "quota pack purchase"
	}
	if params.CreatedBy == "" {
		params.CreatedBy = "admin"
	}

	txn, err := s.store.AddBonusQuota(ctx, params)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, domain.NotFound(op, "tenant", params.TenantID)
	}
	if err != nil {
		return nil, domain.Internal(err, op, "failed to add bonus quota")
	}

	metrics.BonusQuotaAdded.Add(float64(params.Amount))
	s.logger.Info("bonus quota added",
		"tenant_id", params.TenantID,
		"amount", params.Amount,
		"new_balance", txn.BalanceAfter,
		"transaction_id", txn.ID,
	)

	return &domain.BonusQuotaResult{
		TransactionID: txn.ID,
		AmountAdded:   params.Amount,
		OldBalance:    txn.BalanceAfter - params.Amount,
		NewBalance:    txn.BalanceAfter,
		Message:       fmt.Sprintf("added %d scans, bonus balance is now %d", params.Amount, txn.BalanceAfter),
	}, nil
}

func (s *quotaService) GetQuotaTransactions(ctx context.Context, tenantID string, limit int) ([]domain.QuotaTransaction, error) {
	const op = "quota.list_transactions"

	if limit <= 0 {
		limit = defaultLedgerLimit
	}
	txns, err := s.store.ListQuotaTransactions(ctx, tenantID, limit)
	if err != nil {
		return nil, domain.Internal(err, op, "failed to list quota transactions")
	}
	return txns, nil
}

// checkQuotaReset rolls the tenant's consumption counter over when the
// cycle boundary has passed. The rollover commits regardless of whether a
// subsequent consumption succeeds. On a reset, the in-memory tenant is
// updated to match the committed state.
func (s *quotaService) checkQuotaReset(ctx context.Context, op string, tenant *domain.Tenant) error {
	decision := domain.EvaluateReset(tenant.QuotaResetCycle, tenant.QuotaResetDay, tenant.QuotaResetDate, s.now())
	if !decision.Due {
		return nil
	}

	if err := s.store.ApplyQuotaReset(ctx, tenant.ID, decision.NewDate); err != nil {
		return domain.Internal(err, op, "failed to apply quota reset")
	}

	cycle := tenant.QuotaResetCycle
	if cycle == "" {
		cycle = domain.ResetCycleMonthly
	}
	metrics.QuotaResets.WithLabelValues(string(cycle)).Inc()
	s.logger.Info("quota reset performed",
		"tenant_id", tenant.ID,
		"cycle", cycle,
		"old_scans", tenant.CurrentMonthScans,
		"reset_date", decision.NewDate,
	)

	tenant.CurrentMonthScans = 0
	tenant.QuotaResetDate = decision.NewDate
	return nil
}

// resolveBoundPlan loads the tenant's bound plan version and catalog entry,
// falling back to the default free tier when no version is bound or the
// binding is dangling.
func (s *quotaService) resolveBoundPlan(ctx context.Context, op string, tenant *domain.Tenant) (*boundPlan, error) {
	if tenant.PlanVersionID == nil {
		return &boundPlan{
			limits:      domain.DefaultLimits(),
			name:        domain.DefaultPlanName,
			displayName: domain.DefaultPlanDisplayName,
		}, nil
	}

	version, err := s.store.GetPlanVersion(ctx, *tenant.PlanVersionID)
	if errors.Is(err, repository.ErrNotFound) {
		return &boundPlan{
			limits:      domain.DefaultLimits(),
			name:        domain.DefaultPlanName,
			displayName: domain.DefaultPlanDisplayName,
		}, nil
	}
	if err != nil {
		return nil, domain.Internal(err, op, "failed to load bound plan version")
	}

	bound := &boundPlan{
		limits:  domain.EffectiveLimits(version),
		version: version,
	}
	plan, err := s.store.GetPlan(ctx, version.PlanID)
	if err == nil {
		bound.name = plan.Name
		bound.displayName = plan.DisplayName
	}
	return bound, nil
}

// getTenant loads a tenant, translating the store's not-found sentinel.
func (s *quotaService) getTenant(ctx context.Context, op, tenantID string) (*domain.Tenant, error) {
	tenant, err := s.store.GetTenant(ctx, tenantID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, domain.NotFound(op, "tenant", tenantID)
	}
	if err != nil {
		return nil, domain.Internal(err, op, "failed to load tenant")
	}
	return tenant, nil
}
