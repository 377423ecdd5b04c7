// Package domain contains core business types and interfaces.
//
// This file defines quota status, consumption results, and the bonus-quota
// ledger types.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// QuotaStatus is a comprehensive snapshot of a tenant's quota position.
type QuotaStatus struct {
	PlanName          string
	PlanDisplayName   string
	UserLimit         *int // nil = unlimited
	CurrentUsers      int
	HasUserCapacity   bool
	MonthlyScanQuota  int
	BonusScanQuota    int
	TotalScanQuota    int
	CurrentMonthScans int
	RemainingScans    int
	HasScanQuota      bool
	QuotaResetDate    string
	DailyCardLimit    int
	BatchSizeLimit    int
}

// UserLimitCheck reports whether a tenant can add more users.
type UserLimitCheck struct {
	Allowed      bool
	CurrentUsers int
	UserLimit    *int // nil = unlimited
	Message      string
}

// ScanQuotaCheck reports whether a tenant has scan quota available.
type ScanQuotaCheck struct {
	HasQuota          bool
	RemainingScans    int
	TotalQuota        int
	CurrentMonthScans int
	Message           string
}

// ConsumeResult is the outcome of a quota consumption attempt.
//
// Allowed=false with a nil error is the normal "quota exhausted" outcome,
// not a fault; the caller decides the UX.
type ConsumeResult struct {
	Allowed        bool
	RemainingScans int
	Message        string
}

// QuotaTransactionType identifies the kind of ledger entry.
type QuotaTransactionType string

// Purchase is currently the only transaction type. Refunds and corrections
// must be modeled as distinct types if added later; negative amounts are
// rejected outright.
const QuotaTransactionPurchase QuotaTransactionType = "purchase"

// QuotaTransaction is an immutable, append-only ledger row recording a
// bonus-quota grant.
type QuotaTransaction struct {
	ID               uuid.UUID
	TenantID         string
	Type             QuotaTransactionType
	QuotaAmount      int
	BalanceAfter     int // bonus balance immediately after this transaction
	Description      string
	PaymentReference *string
	CreatedBy        string
	CreatedAt        time.Time
}

// AddBonusQuotaParams contains the parameters for granting bonus quota.
type AddBonusQuotaParams struct {
	TenantID         string
	Amount           int
	Description      string
	PaymentReference *string
	CreatedBy        string
}

// BonusQuotaResult is the outcome of a bonus-quota grant.
type BonusQuotaResult struct {
	TransactionID uuid.UUID
	AmountAdded   int
	OldBalance    int
	NewBalance    int
	Message       string
}
