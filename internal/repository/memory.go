package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mingpian/cardbase/internal/domain"
)

// Memory is an in-memory Store used by tests and local development.
//
// A single mutex guards all state. The conditional-write operations keep
// the same compare-then-write semantics as the Postgres implementation, so
// optimistic-concurrency behavior is faithful: a ConsumeScans call whose
// expected value went stale between the caller's read and the write still
// fails and forces a retry.
type Memory struct {
	mu        sync.Mutex
	tenants   map[string]*domain.Tenant
	userCount map[string]int
	plans     map[string]*domain.Plan
	versions  map[uuid.UUID]*domain.PlanVersion
	ledger    map[string][]domain.QuotaTransaction
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		tenants:   make(map[string]*domain.Tenant),
		userCount: make(map[string]int),
		plans:     make(map[string]*domain.Plan),
		versions:  make(map[uuid.UUID]*domain.PlanVersion),
		ledger:    make(map[string][]domain.QuotaTransaction),
	}
}

// =============================================================================
// Tenants
// =============================================================================

func (s *Memory) GetTenant(_ context.Context, id string) (*domain.Tenant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tenants[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (s *Memory) CreateTenant(_ context.Context, t domain.Tenant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.QuotaResetCycle == "" {
		t.QuotaResetCycle = domain.ResetCycleMonthly
	}
	if t.QuotaResetDay < 1 {
		t.QuotaResetDay = 1
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	cp := t
	s.tenants[t.ID] = &cp
	return nil
}

func (s *Memory) CountTenantUsers(_ context.Context, tenantID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userCount[tenantID], nil
}

func (s *Memory) AddTenantUser(_ context.Context, tenantID, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.userCount[tenantID]++
	return nil
}

func (s *Memory) ApplyQuotaReset(_ context.Context, tenantID, newDate string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tenants[tenantID]
	if !ok {
		return nil
	}
	if t.QuotaResetDate == newDate {
		return nil
	}
	t.CurrentMonthScans = 0
	t.QuotaResetDate = newDate
	return nil
}

func (s *Memory) ConsumeScans(_ context.Context, tenantID string, count, expected int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tenants[tenantID]
	if !ok {
		return false, nil
	}
	if t.CurrentMonthScans != expected {
		return false, nil
	}
	t.CurrentMonthScans += count
	return true, nil
}

func (s *Memory) AddBonusQuota(_ context.Context, params domain.AddBonusQuotaParams) (*domain.QuotaTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tenants[params.TenantID]
	if !ok {
		return nil, ErrNotFound
	}
	t.BonusScanQuota += params.Amount
	txn := domain.QuotaTransaction{
		ID:               uuid.New(),
		TenantID:         params.TenantID,
		Type:             domain.QuotaTransactionPurchase,
		QuotaAmount:      params.Amount,
		BalanceAfter:     t.BonusScanQuota,
		Description:      params.Description,
		PaymentReference: params.PaymentReference,
		CreatedBy:        params.CreatedBy,
		CreatedAt:        time.Now(),
	}
	s.ledger[params.TenantID] = append(s.ledger[params.TenantID], txn)
	return &txn, nil
}

func (s *Memory) ListQuotaTransactions(_ context.Context, tenantID string, limit int) ([]domain.QuotaTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := s.ledger[tenantID]
	// Newest first.
	out := make([]domain.QuotaTransaction, 0, len(entries))
	for i := len(entries) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, entries[i])
	}
	return out, nil
}

func (s *Memory) SetTenantPlan(_ context.Context, tenantID string, versionID uuid.UUID, startedAt, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tenants[tenantID]
	if !ok {
		return ErrNotFound
	}
	t.PlanVersionID = &versionID
	t.PlanStartedAt = &startedAt
	t.PlanExpiresAt = &expiresAt
	t.NextPlanVersionID = nil
	return nil
}

// =============================================================================
// Plan catalog
// =============================================================================

func (s *Memory) ListPlans(_ context.Context, includeInactive bool) ([]domain.PlanWithVersion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var plans []domain.PlanWithVersion
	for _, p := range s.plans {
		if !includeInactive && !p.IsActive {
			continue
		}
		plans = append(plans, domain.PlanWithVersion{
			Plan:    *p,
			Current: s.currentVersionLocked(p.ID),
		})
	}
	sort.Slice(plans, func(i, j int) bool { return plans[i].SortOrder < plans[j].SortOrder })
	return plans, nil
}

func (s *Memory) GetPlan(_ context.Context, idOrName string) (*domain.PlanWithVersion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.plans[idOrName]
	if !ok {
		for _, candidate := range s.plans {
			if candidate.Name == idOrName {
				p = candidate
				ok = true
				break
			}
		}
	}
	if !ok {
		return nil, ErrNotFound
	}
	return &domain.PlanWithVersion{Plan: *p, Current: s.currentVersionLocked(p.ID)}, nil
}

func (s *Memory) CreatePlan(_ context.Context, p domain.Plan) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	cp := p
	s.plans[p.ID] = &cp
	return nil
}

func (s *Memory) UpdatePlan(_ context.Context, params domain.UpdatePlanParams) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.plans[params.PlanID]
	if !ok {
		return ErrNotFound
	}
	if params.DisplayName != nil {
		p.DisplayName = *params.DisplayName
	}
	if params.Description != nil {
		p.Description = *params.Description
	}
	if params.IsActive != nil {
		p.IsActive = *params.IsActive
	}
	if params.SortOrder != nil {
		p.SortOrder = *params.SortOrder
	}
	return nil
}

func (s *Memory) GetPlanVersion(_ context.Context, id uuid.UUID) (*domain.PlanVersion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.versions[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *v
	return &cp, nil
}

func (s *Memory) ListPlanVersions(_ context.Context, planID string) ([]domain.PlanVersion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var versions []domain.PlanVersion
	for _, v := range s.versions {
		if v.PlanID == planID {
			versions = append(versions, *v)
		}
	}
	sort.Slice(versions, func(i, j int) bool {
		return versions[i].VersionNumber > versions[j].VersionNumber
	})
	return versions, nil
}

func (s *Memory) PublishPlanVersion(_ context.Context, v domain.PlanVersion) (*domain.PlanVersion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.plans[v.PlanID]; !ok {
		return nil, ErrNotFound
	}
	maxVersion := 0
	for _, existing := range s.versions {
		if existing.PlanID != v.PlanID {
			continue
		}
		if existing.VersionNumber > maxVersion {
			maxVersion = existing.VersionNumber
		}
		existing.IsCurrent = false
	}
	v.VersionNumber = maxVersion + 1
	v.IsCurrent = true
	if v.ID == uuid.Nil {
		v.ID = uuid.New()
	}
	if v.CreatedAt.IsZero() {
		v.CreatedAt = time.Now()
	}
	cp := v
	s.versions[v.ID] = &cp
	return &v, nil
}

// currentVersionLocked returns a copy of the plan's current version, or nil.
// Callers must hold s.mu.
func (s *Memory) currentVersionLocked(planID string) *domain.PlanVersion {
	for _, v := range s.versions {
		if v.PlanID == planID && v.IsCurrent {
			cp := *v
			return &cp
		}
	}
	return nil
}
