package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mingpian/cardbase/internal/domain"
)

// Postgres implements Store against a PostgreSQL database.
type Postgres struct {
	db *sql.DB
}

// NewPostgres creates a Postgres-backed store.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// =============================================================================
// Tenants
// =============================================================================

const tenantColumns = `
	id, name, plan_version_id, plan_started_at, plan_expires_at,
	next_plan_version_id, current_month_scans, bonus_scan_quota,
	COALESCE(quota_reset_date, ''), quota_reset_cycle, quota_reset_day, created_at`

func (s *Postgres) GetTenant(ctx context.Context, id string) (*domain.Tenant, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT`+tenantColumns+` FROM tenants WHERE id = $1`, id)
	return scanTenant(row)
}

func (s *Postgres) CreateTenant(ctx context.Context, t domain.Tenant) error {
	cycle := t.QuotaResetCycle
	if cycle == "" {
		cycle = domain.ResetCycleMonthly
	}
	day := t.QuotaResetDay
	if day < 1 {
		day = 1
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tenants (
			id, name, plan_version_id, plan_started_at, plan_expires_at,
			next_plan_version_id, current_month_scans, bonus_scan_quota,
			quota_reset_date, quota_reset_cycle, quota_reset_day
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULLIF($9, ''), $10, $11)`,
		t.ID, t.Name, uuidOrNil(t.PlanVersionID), timeOrNil(t.PlanStartedAt),
		timeOrNil(t.PlanExpiresAt), uuidOrNil(t.NextPlanVersionID),
		t.CurrentMonthScans, t.BonusScanQuota, t.QuotaResetDate,
		string(cycle), day)
	if err != nil {
		return fmt.Errorf("create tenant: %w", err)
	}
	return nil
}

func (s *Postgres) CountTenantUsers(ctx context.Context, tenantID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM tenant_users WHERE tenant_id = $1`, tenantID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count tenant users: %w", err)
	}
	return count, nil
}

func (s *Postgres) AddTenantUser(ctx context.Context, tenantID, displayName string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tenant_users (id, tenant_id, display_name) VALUES ($1, $2, $3)`,
		uuid.New(), tenantID, displayName)
	if err != nil {
		return fmt.Errorf("add tenant user: %w", err)
	}
	return nil
}

func (s *Postgres) ApplyQuotaReset(ctx context.Context, tenantID, newDate string) error {
	// Counter zeroing and the new reset date commit in one statement. The
	// date guard makes concurrent reset checks converge on a single
	// rollover instead of zeroing twice.
	_, err := s.db.ExecContext(ctx, `
		UPDATE tenants
		SET current_month_scans = 0, quota_reset_date = $2
		WHERE id = $1
		  AND (quota_reset_date IS NULL OR quota_reset_date <> $2)`,
		tenantID, newDate)
	if err != nil {
		return fmt.Errorf("apply quota reset: %w", err)
	}
	return nil
}

func (s *Postgres) ConsumeScans(ctx context.Context, tenantID string, count, expected int) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE tenants
		SET current_month_scans = current_month_scans + $2
		WHERE id = $1 AND current_month_scans = $3`,
		tenantID, count, expected)
	if err != nil {
		return false, fmt.Errorf("consume scans: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("consume scans: %w", err)
	}
	return affected > 0, nil
}

func (s *Postgres) AddBonusQuota(ctx context.Context, params domain.AddBonusQuotaParams) (*domain.QuotaTransaction, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("add bonus quota: %w", err)
	}
	defer tx.Rollback()

	var newBalance int
	err = tx.QueryRowContext(ctx, `
		UPDATE tenants
		SET bonus_scan_quota = bonus_scan_quota + $2
		WHERE id = $1
		RETURNING bonus_scan_quota`,
		params.TenantID, params.Amount).Scan(&newBalance)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("add bonus quota: %w", err)
	}

	txn := domain.QuotaTransaction{
		ID:               uuid.New(),
		TenantID:         params.TenantID,
		Type:             domain.QuotaTransactionPurchase,
		QuotaAmount:      params.Amount,
		BalanceAfter:     newBalance,
		Description:      params.Description,
		PaymentReference: params.PaymentReference,
		CreatedBy:        params.CreatedBy,
	}
	err = tx.QueryRowContext(ctx, `
		INSERT INTO quota_transactions (
			id, tenant_id, transaction_type, quota_amount, balance_after,
			description, payment_reference, created_by
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at`,
		txn.ID, txn.TenantID, string(txn.Type), txn.QuotaAmount, txn.BalanceAfter,
		txn.Description, stringOrNil(txn.PaymentReference), txn.CreatedBy,
	).Scan(&txn.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("add bonus quota: record transaction: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("add bonus quota: %w", err)
	}
	return &txn, nil
}

func (s *Postgres) ListQuotaTransactions(ctx context.Context, tenantID string, limit int) ([]domain.QuotaTransaction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, transaction_type, quota_amount, balance_after,
		       description, payment_reference, created_by, created_at
		FROM quota_transactions
		WHERE tenant_id = $1
		ORDER BY created_at DESC
		LIMIT $2`,
		tenantID, limit)
	if err != nil {
		return nil, fmt.Errorf("list quota transactions: %w", err)
	}
	defer rows.Close()

	var txns []domain.QuotaTransaction
	for rows.Next() {
		var t domain.QuotaTransaction
		var ref sql.NullString
		var typ string
		if err := rows.Scan(&t.ID, &t.TenantID, &typ, &t.QuotaAmount,
			&t.BalanceAfter, &t.Description, &ref, &t.CreatedBy, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("list quota transactions: %w", err)
		}
		t.Type = domain.QuotaTransactionType(typ)
		if ref.Valid {
			t.PaymentReference = &ref.String
		}
		txns = append(txns, t)
	}
	return txns, rows.Err()
}

func (s *Postgres) SetTenantPlan(ctx context.Context, tenantID string, versionID uuid.UUID, startedAt, expiresAt time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE tenants
		SET plan_version_id = $2,
		    plan_started_at = $3,
		    plan_expires_at = $4,
		    next_plan_version_id = NULL
		WHERE id = $1`,
		tenantID, versionID, startedAt, expiresAt)
	if err != nil {
		return fmt.Errorf("set tenant plan: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set tenant plan: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// =============================================================================
// Plan catalog
// =============================================================================

const planJoinColumns = `
	sp.id, sp.name, sp.display_name, COALESCE(sp.description, ''),
	sp.is_active, sp.sort_order, sp.created_at,
	pv.id, pv.version_number, pv.user_limit, pv.monthly_scan_quota,
	pv.daily_card_limit, pv.batch_size_limit, pv.price_monthly,
	pv.price_yearly, pv.effective_from, pv.created_at`

func (s *Postgres) ListPlans(ctx context.Context, includeInactive bool) ([]domain.PlanWithVersion, error) {
	query := `
		SELECT` + planJoinColumns + `
		FROM subscription_plans sp
		LEFT JOIN plan_versions pv ON pv.plan_id = sp.id AND pv.is_current`
	if !includeInactive {
		query += `
		WHERE sp.is_active`
	}
	query += `
		ORDER BY sp.sort_order`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list plans: %w", err)
	}
	defer rows.Close()

	var plans []domain.PlanWithVersion
	for rows.Next() {
		p, err := scanPlanWithVersion(rows)
		if err != nil {
			return nil, fmt.Errorf("list plans: %w", err)
		}
		plans = append(plans, *p)
	}
	return plans, rows.Err()
}

func (s *Postgres) GetPlan(ctx context.Context, idOrName string) (*domain.PlanWithVersion, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT`+planJoinColumns+`
		FROM subscription_plans sp
		LEFT JOIN plan_versions pv ON pv.plan_id = sp.id AND pv.is_current
		WHERE sp.id = $1 OR sp.name = $1`,
		idOrName)
	p, err := scanPlanWithVersion(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get plan: %w", err)
	}
	return p, nil
}

func (s *Postgres) CreatePlan(ctx context.Context, p domain.Plan) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO subscription_plans (id, name, display_name, description, is_active, sort_order)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6)`,
		p.ID, p.Name, p.DisplayName, p.Description, p.IsActive, p.SortOrder)
	if err != nil {
		return fmt.Errorf("create plan: %w", err)
	}
	return nil
}

func (s *Postgres) UpdatePlan(ctx context.Context, params domain.UpdatePlanParams) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE subscription_plans
		SET display_name = COALESCE($2, display_name),
		    description  = COALESCE($3, description),
		    is_active    = COALESCE($4, is_active),
		    sort_order   = COALESCE($5, sort_order)
		WHERE id = $1`,
		params.PlanID, params.DisplayName, params.Description,
		params.IsActive, params.SortOrder)
	if err != nil {
		return fmt.Errorf("update plan: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update plan: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

const versionColumns = `
	id, plan_id, version_number, user_limit, monthly_scan_quota,
	daily_card_limit, batch_size_limit, price_monthly, price_yearly,
	is_current, effective_from, created_at`

func (s *Postgres) GetPlanVersion(ctx context.Context, id uuid.UUID) (*domain.PlanVersion, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT`+versionColumns+` FROM plan_versions WHERE id = $1`, id)
	v, err := scanPlanVersion(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get plan version: %w", err)
	}
	return v, nil
}

func (s *Postgres) ListPlanVersions(ctx context.Context, planID string) ([]domain.PlanVersion, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT`+versionColumns+`
		FROM plan_versions
		WHERE plan_id = $1
		ORDER BY version_number DESC`,
		planID)
	if err != nil {
		return nil, fmt.Errorf("list plan versions: %w", err)
	}
	defer rows.Close()

	var versions []domain.PlanVersion
	for rows.Next() {
		v, err := scanPlanVersion(rows)
		if err != nil {
			return nil, fmt.Errorf("list plan versions: %w", err)
		}
		versions = append(versions, *v)
	}
	return versions, rows.Err()
}

func (s *Postgres) PublishPlanVersion(ctx context.Context, v domain.PlanVersion) (*domain.PlanVersion, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("publish plan version: %w", err)
	}
	defer tx.Rollback()

	// Lock the plan row so concurrent publications serialize and version
	// numbers stay strictly increasing.
	var planID string
	err = tx.QueryRowContext(ctx,
		`SELECT id FROM subscription_plans WHERE id = $1 FOR UPDATE`, v.PlanID).Scan(&planID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("publish plan version: %w", err)
	}

	var maxVersion int
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version_number), 0) FROM plan_versions WHERE plan_id = $1`,
		v.PlanID).Scan(&maxVersion)
	if err != nil {
		return nil, fmt.Errorf("publish plan version: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE plan_versions SET is_current = FALSE WHERE plan_id = $1 AND is_current`,
		v.PlanID); err != nil {
		return nil, fmt.Errorf("publish plan version: retire current: %w", err)
	}

	v.VersionNumber = maxVersion + 1
	v.IsCurrent = true
	if v.ID == uuid.Nil {
		v.ID = uuid.New()
	}
	err = tx.QueryRowContext(ctx, `
		INSERT INTO plan_versions (
			id, plan_id, version_number, user_limit, monthly_scan_quota,
			daily_card_limit, batch_size_limit, price_monthly, price_yearly,
			is_current, effective_from
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, TRUE, $10)
		RETURNING created_at`,
		v.ID, v.PlanID, v.VersionNumber, intOrNil(v.UserLimit),
		v.MonthlyScanQuota, v.DailyCardLimit, v.BatchSizeLimit,
		v.PriceMonthly, intOrNil(v.PriceYearly), v.EffectiveFrom,
	).Scan(&v.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("publish plan version: insert: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("publish plan version: %w", err)
	}
	return &v, nil
}

// =============================================================================
// Scan helpers
// =============================================================================

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTenant(row rowScanner) (*domain.Tenant, error) {
	var t domain.Tenant
	var planVersionID, nextVersionID uuid.NullUUID
	var startedAt, expiresAt sql.NullTime
	var cycle string
	err := row.Scan(&t.ID, &t.Name, &planVersionID, &startedAt, &expiresAt,
		&nextVersionID, &t.CurrentMonthScans, &t.BonusScanQuota,
		&t.QuotaResetDate, &cycle, &t.QuotaResetDay, &t.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan tenant: %w", err)
	}
	t.QuotaResetCycle = domain.ResetCycle(cycle)
	if planVersionID.Valid {
		t.PlanVersionID = &planVersionID.UUID
	}
	if nextVersionID.Valid {
		t.NextPlanVersionID = &nextVersionID.UUID
	}
	if startedAt.Valid {
		t.PlanStartedAt = &startedAt.Time
	}
	if expiresAt.Valid {
		t.PlanExpiresAt = &expiresAt.Time
	}
	return &t, nil
}

func scanPlanWithVersion(row rowScanner) (*domain.PlanWithVersion, error) {
	var p domain.PlanWithVersion
	var versionID uuid.NullUUID
	var versionNumber, monthlyQuota, dailyLimit, batchLimit, priceMonthly sql.NullInt64
	var userLimit, priceYearly sql.NullInt64
	var effectiveFrom, versionCreatedAt sql.NullTime
	err := row.Scan(&p.ID, &p.Name, &p.DisplayName, &p.Description,
		&p.IsActive, &p.SortOrder, &p.CreatedAt,
		&versionID, &versionNumber, &userLimit, &monthlyQuota,
		&dailyLimit, &batchLimit, &priceMonthly, &priceYearly,
		&effectiveFrom, &versionCreatedAt)
	if err != nil {
		return nil, err
	}
	if versionID.Valid {
		p.Current = &domain.PlanVersion{
			ID:               versionID.UUID,
			PlanID:           p.ID,
			VersionNumber:    int(versionNumber.Int64),
			UserLimit:        nullableInt(userLimit),
			MonthlyScanQuota: int(monthlyQuota.Int64),
			DailyCardLimit:   int(dailyLimit.Int64),
			BatchSizeLimit:   int(batchLimit.Int64),
			PriceMonthly:     int(priceMonthly.Int64),
			PriceYearly:      nullableInt(priceYearly),
			IsCurrent:        true,
			EffectiveFrom:    effectiveFrom.Time,
			CreatedAt:        versionCreatedAt.Time,
		}
	}
	return &p, nil
}

func scanPlanVersion(row rowScanner) (*domain.PlanVersion, error) {
	var v domain.PlanVersion
	var userLimit, priceYearly sql.NullInt64
	err := row.Scan(&v.ID, &v.PlanID, &v.VersionNumber, &userLimit,
		&v.MonthlyScanQuota, &v.DailyCardLimit, &v.BatchSizeLimit,
		&v.PriceMonthly, &priceYearly, &v.IsCurrent, &v.EffectiveFrom,
		&v.CreatedAt)
	if err != nil {
		return nil, err
	}
	v.UserLimit = nullableInt(userLimit)
	v.PriceYearly = nullableInt(priceYearly)
	return &v, nil
}

func nullableInt(n sql.NullInt64) *int {
	if !n.Valid {
		return nil
	}
	i := int(n.Int64)
	return &i
}

func intOrNil(p *int) any {
	if p == nil {
		return nil
	}
	return *p
}

func stringOrNil(p *string) any {
	if p == nil {
		return nil
	}
	return *p
}

func uuidOrNil(p *uuid.UUID) any {
	if p == nil {
		return nil
	}
	return *p
}

func timeOrNil(p *time.Time) any {
	if p == nil {
		return nil
	}
	return *p
}
