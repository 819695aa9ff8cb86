/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository`
 * interface. The same implementation runs against the connection pool or,
 * inside WithTx, against a pgx transaction, so every method can participate
 * in the reconciliation engine's atomic scope.
 *
 * @dependencies
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - internal/domain: Contains the domain models used for data transfer.
 */

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/appdotbuilder/iklan-baris-online/internal/domain"
)

var (
	ErrPaymentNotFound    = errors.New("payment not found")
	ErrPackageNotFound    = errors.New("membership package not found")
	ErrMembershipNotFound = errors.New("membership not found")
	ErrAdNotFound         = errors.New("ad not found")
	ErrQuotaExhausted     = errors.New("quota exhausted")
	ErrDuplicateOrderID   = errors.New("order id already exists")
	ErrStorageConflict    = errors.New("storage conflict")
)

const (
	txRetryAttempts = 3
	txRetryBackoff  = 100 * time.Millisecond
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresRepository is a concrete implementation of the Repository interface for PostgreSQL.
type PostgresRepository struct {
	pool *pgxpool.Pool
	db   querier
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool, db: pool}
}

func isRetryableTxError(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	// serialization_failure and deadlock_detected
	return pgErr.Code == "40001" || pgErr.Code == "40P01"
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// WithTx runs fn inside one transaction, retrying serialization conflicts a
// bounded number of times. A repository already bound to a transaction runs
// fn on the same transaction, so nested scopes compose.
func (r *PostgresRepository) WithTx(ctx context.Context, fn func(ctx context.Context, r Repository) error) error {
	if _, inTx := r.db.(pgx.Tx); inTx {
		return fn(ctx, r)
	}

	var lastErr error
	for attempt := 1; attempt <= txRetryAttempts; attempt++ {
		lastErr = r.runTx(ctx, fn)
		if lastErr == nil || !isRetryableTxError(lastErr) {
			return lastErr
		}
		log.Printf("level=warn component=store msg=\"transaction conflict; retrying\" attempt=%d err=%v", attempt, lastErr)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * txRetryBackoff):
		}
	}
	return fmt.Errorf("%w: %v", ErrStorageConflict, lastErr)
}

func (r *PostgresRepository) runTx(ctx context.Context, fn func(ctx context.Context, r Repository) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(ctx, &PostgresRepository{pool: r.pool, db: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// --- Payment methods ---

const paymentColumns = `
	id, user_id, payment_type, membership_package_id, boosted_ad_id,
	amount, currency, status, midtrans_order_id, midtrans_transaction_id,
	payment_method, payment_details, paid_at, expires_at, created_at, updated_at
`

func scanPayment(row pgx.Row) (*domain.Payment, error) {
	var p domain.Payment
	var details []byte
	err := row.Scan(
		&p.ID, &p.UserID, &p.PaymentType, &p.MembershipPackageID, &p.BoostedAdID,
		&p.Amount, &p.Currency, &p.Status, &p.MidtransOrderID, &p.MidtransTransactionID,
		&p.PaymentMethod, &details, &p.PaidAt, &p.ExpiresAt, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPaymentNotFound
		}
		return nil, err
	}
	if len(details) > 0 {
		if err := json.Unmarshal(details, &p.PaymentDetails); err != nil {
			return nil, fmt.Errorf("decode payment details: %w", err)
		}
	}
	return &p, nil
}

// CreatePayment inserts a new pending payment. The order id carries a unique
// constraint; a duplicate surfaces as ErrDuplicateOrderID.
func (r *PostgresRepository) CreatePayment(ctx context.Context, p *domain.Payment) error {
	details, err := json.Marshal(p.PaymentDetails)
	if err != nil {
		return fmt.Errorf("encode payment details: %w", err)
	}
	query := `
		INSERT INTO payments (
			id, user_id, payment_type, membership_package_id, boosted_ad_id,
			amount, currency, status, midtrans_order_id, midtrans_transaction_id,
			payment_method, payment_details, paid_at, expires_at, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12::jsonb, $13, $14, $15, $16)
	`
	_, err = r.db.Exec(ctx, query,
		p.ID, p.UserID, p.PaymentType, p.MembershipPackageID, p.BoostedAdID,
		p.Amount, p.Currency, p.Status, p.MidtransOrderID, p.MidtransTransactionID,
		p.PaymentMethod, string(details), p.PaidAt, p.ExpiresAt, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateOrderID
		}
		return err
	}
	return nil
}

func (r *PostgresRepository) FindPaymentByID(ctx context.Context, id uuid.UUID) (*domain.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE id = $1`
	return scanPayment(r.db.QueryRow(ctx, query, id))
}

func (r *PostgresRepository) FindPaymentByOrderID(ctx context.Context, orderID string) (*domain.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE midtrans_order_id = $1`
	return scanPayment(r.db.QueryRow(ctx, query, orderID))
}

// FindPaymentByOrderIDForUpdate locks the payment row for the remainder of
// the enclosing transaction so concurrent deliveries of the same
// notification serialize on it.
func (r *PostgresRepository) FindPaymentByOrderIDForUpdate(ctx context.Context, orderID string) (*domain.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE midtrans_order_id = $1 FOR UPDATE`
	return scanPayment(r.db.QueryRow(ctx, query, orderID))
}

// UpdatePaymentReconciliation persists the fields a status transition mutates.
// The order id is immutable and deliberately absent from the SET list.
func (r *PostgresRepository) UpdatePaymentReconciliation(ctx context.Context, p *domain.Payment) error {
	query := `
		UPDATE payments
		SET status = $2,
			midtrans_transaction_id = $3,
			payment_method = $4,
			paid_at = $5,
			updated_at = $6
		WHERE id = $1
	`
	result, err := r.db.Exec(ctx, query, p.ID, p.Status, p.MidtransTransactionID, p.PaymentMethod, p.PaidAt, p.UpdatedAt)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrPaymentNotFound
	}
	return nil
}

// --- Membership methods ---

func scanMembership(row pgx.Row) (*domain.UserMembership, error) {
	var m domain.UserMembership
	err := row.Scan(
		&m.ID, &m.UserID, &m.PackageID, &m.GrantedByPaymentID, &m.Status, &m.StartDate, &m.EndDate,
		&m.RemainingAds, &m.RemainingBoostCredits, &m.AutoRenew, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrMembershipNotFound
		}
		return nil, err
	}
	return &m, nil
}

const membershipColumns = `
	id, user_id, package_id, granted_by_payment_id, status, start_date, end_date,
	remaining_ads, remaining_boost_credits, auto_renew, created_at, updated_at
`

// LockUserMemberships takes a transaction-scoped advisory lock keyed on the
// user id. Grants and revokes acquire it before the active-membership
// lookup: FOR UPDATE alone cannot serialize two grants when the user has no
// active row yet, because locking zero rows locks nothing.
func (r *PostgresRepository) LockUserMemberships(ctx context.Context, userID uuid.UUID) error {
	_, err := r.db.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1::text, 0))`, userID.String())
	return err
}

func (r *PostgresRepository) FindMembershipPackageByID(ctx context.Context, id uuid.UUID) (*domain.MembershipPackage, error) {
	var pkg domain.MembershipPackage
	query := `
		SELECT id, name, price, duration_days, max_ads, boost_credits, is_active, created_at
		FROM membership_packages
		WHERE id = $1
	`
	err := r.db.QueryRow(ctx, query, id).Scan(
		&pkg.ID, &pkg.Name, &pkg.Price, &pkg.DurationDays, &pkg.MaxAds,
		&pkg.BoostCredits, &pkg.IsActive, &pkg.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPackageNotFound
		}
		return nil, err
	}
	return &pkg, nil
}

// FindActiveMembershipByUserID resolves the user's current membership as a
// derived query: at most one row per user carries status 'active'.
func (r *PostgresRepository) FindActiveMembershipByUserID(ctx context.Context, userID uuid.UUID) (*domain.UserMembership, error) {
	query := `SELECT ` + membershipColumns + ` FROM user_memberships WHERE user_id = $1 AND status = 'active'`
	return scanMembership(r.db.QueryRow(ctx, query, userID))
}

func (r *PostgresRepository) FindActiveMembershipByUserIDForUpdate(ctx context.Context, userID uuid.UUID) (*domain.UserMembership, error) {
	query := `SELECT ` + membershipColumns + ` FROM user_memberships WHERE user_id = $1 AND status = 'active' FOR UPDATE`
	return scanMembership(r.db.QueryRow(ctx, query, userID))
}

func (r *PostgresRepository) CreateMembership(ctx context.Context, m *domain.UserMembership) error {
	query := `
		INSERT INTO user_memberships (
			id, user_id, package_id, granted_by_payment_id, status, start_date, end_date,
			remaining_ads, remaining_boost_credits, auto_renew, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err := r.db.Exec(ctx, query,
		m.ID, m.UserID, m.PackageID, m.GrantedByPaymentID, m.Status, m.StartDate, m.EndDate,
		m.RemainingAds, m.RemainingBoostCredits, m.AutoRenew, m.CreatedAt, m.UpdatedAt,
	)
	if err != nil && isUniqueViolation(err) {
		// The partial unique index on (user_id) WHERE status = 'active'
		// backstops the advisory-lock serialization of grants.
		return fmt.Errorf("%w: %v", ErrStorageConflict, err)
	}
	return err
}

func (r *PostgresRepository) SetMembershipStatus(ctx context.Context, membershipID uuid.UUID, status domain.MembershipStatus) error {
	query := `UPDATE user_memberships SET status = $2, updated_at = NOW() WHERE id = $1`
	result, err := r.db.Exec(ctx, query, membershipID, status)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrMembershipNotFound
	}
	return nil
}

// ConsumeAdQuota atomically decrements the ad counter. The WHERE clause
// checks status and period, not just the counter, so expired rows are never
// honored even if their counters were left non-zero for audit.
func (r *PostgresRepository) ConsumeAdQuota(ctx context.Context, membershipID uuid.UUID) error {
	query := `
		UPDATE user_memberships
		SET remaining_ads = remaining_ads - 1, updated_at = NOW()
		WHERE id = $1 AND status = 'active' AND end_date >= NOW() AND remaining_ads > 0
	`
	result, err := r.db.Exec(ctx, query, membershipID)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrQuotaExhausted
	}
	return nil
}

// ConsumeBoostCredit follows the same conditional-decrement pattern over the
// boost credit counter.
func (r *PostgresRepository) ConsumeBoostCredit(ctx context.Context, membershipID uuid.UUID) error {
	query := `
		UPDATE user_memberships
		SET remaining_boost_credits = remaining_boost_credits - 1, updated_at = NOW()
		WHERE id = $1 AND status = 'active' AND end_date >= NOW() AND remaining_boost_credits > 0
	`
	result, err := r.db.Exec(ctx, query, membershipID)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrQuotaExhausted
	}
	return nil
}

// --- Ad methods ---

const adColumns = `
	id, user_id, category_id, status, is_boosted, boost_expires_at,
	expires_at, created_at, updated_at
`

func scanAd(row pgx.Row) (*domain.Ad, error) {
	var a domain.Ad
	err := row.Scan(
		&a.ID, &a.UserID, &a.CategoryID, &a.Status, &a.IsBoosted, &a.BoostExpiresAt,
		&a.ExpiresAt, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAdNotFound
		}
		return nil, err
	}
	return &a, nil
}

func (r *PostgresRepository) FindAdByID(ctx context.Context, id uuid.UUID) (*domain.Ad, error) {
	query := `SELECT ` + adColumns + ` FROM ads WHERE id = $1`
	return scanAd(r.db.QueryRow(ctx, query, id))
}

func (r *PostgresRepository) FindAdByIDForUpdate(ctx context.Context, id uuid.UUID) (*domain.Ad, error) {
	query := `SELECT ` + adColumns + ` FROM ads WHERE id = $1 FOR UPDATE`
	return scanAd(r.db.QueryRow(ctx, query, id))
}

func (r *PostgresRepository) UpdateAdBoost(ctx context.Context, adID uuid.UUID, isBoosted bool, boostExpiresAt *time.Time) error {
	query := `UPDATE ads SET is_boosted = $2, boost_expires_at = $3, updated_at = NOW() WHERE id = $1`
	result, err := r.db.Exec(ctx, query, adID, isBoosted, boostExpiresAt)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrAdNotFound
	}
	return nil
}

// --- Statistics methods ---

// IncrementAdStatistic upserts the daily counter row. Counters are
// append/increment only, so a plain ON CONFLICT update is safe under
// concurrent trackers.
func (r *PostgresRepository) IncrementAdStatistic(ctx context.Context, adID, userID uuid.UUID, day time.Time, views, contacts int) error {
	query := `
		INSERT INTO ad_statistics (id, ad_id, user_id, date, views, contacts, created_at)
		VALUES ($1, $2, $3, $4::date, $5, $6, NOW())
		ON CONFLICT (ad_id, date)
		DO UPDATE SET
			views = ad_statistics.views + EXCLUDED.views,
			contacts = ad_statistics.contacts + EXCLUDED.contacts
	`
	_, err := r.db.Exec(ctx, query, uuid.New(), adID, userID, day, views, contacts)
	return err
}

func (r *PostgresRepository) GetUserStatistics(ctx context.Context, userID uuid.UUID) (*domain.UserStatistics, error) {
	var stats domain.UserStatistics
	adQuery := `
		SELECT COUNT(*), COUNT(*) FILTER (WHERE status = 'active')
		FROM ads
		WHERE user_id = $1 AND status <> 'deleted'
	`
	if err := r.db.QueryRow(ctx, adQuery, userID).Scan(&stats.TotalAds, &stats.ActiveAds); err != nil {
		return nil, err
	}

	statQuery := `
		SELECT COALESCE(SUM(views), 0), COALESCE(SUM(contacts), 0)
		FROM ad_statistics
		WHERE user_id = $1
	`
	if err := r.db.QueryRow(ctx, statQuery, userID).Scan(&stats.TotalViews, &stats.TotalContacts); err != nil {
		return nil, err
	}

	membership, err := r.FindActiveMembershipByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrMembershipNotFound) {
			return &stats, nil
		}
		return nil, err
	}
	stats.BoostCreditsRemaining = membership.RemainingBoostCredits
	endDate := membership.EndDate
	stats.MembershipExpiresAt = &endDate
	return &stats, nil
}

// --- Sweep methods ---

// FailExpiredPendingPayments fails pending payments past their expiry window.
// No benefit was ever granted for them, so no reversal is needed.
func (r *PostgresRepository) FailExpiredPendingPayments(ctx context.Context, now time.Time) (int64, error) {
	query := `
		UPDATE payments
		SET status = 'failed', updated_at = $1
		WHERE status = 'pending' AND expires_at IS NOT NULL AND expires_at < $1
	`
	result, err := r.db.Exec(ctx, query, now)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

// ExpireMemberships demotes active memberships past their end date. Counters
// are left untouched for audit.
func (r *PostgresRepository) ExpireMemberships(ctx context.Context, now time.Time) (int64, error) {
	query := `
		UPDATE user_memberships
		SET status = 'expired', updated_at = $1
		WHERE status = 'active' AND end_date < $1
	`
	result, err := r.db.Exec(ctx, query, now)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

// ClearLapsedBoosts drops the boost flag once the window passes; the expiry
// timestamp is kept for history.
func (r *PostgresRepository) ClearLapsedBoosts(ctx context.Context, now time.Time) (int64, error) {
	query := `
		UPDATE ads
		SET is_boosted = FALSE, updated_at = $1
		WHERE is_boosted AND boost_expires_at IS NOT NULL AND boost_expires_at < $1
	`
	result, err := r.db.Exec(ctx, query, now)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

// ExpireAds ends listings past their own lifetime, independent of boost state.
func (r *PostgresRepository) ExpireAds(ctx context.Context, now time.Time) (int64, error) {
	query := `
		UPDATE ads
		SET status = 'expired', updated_at = $1
		WHERE status = 'active' AND expires_at IS NOT NULL AND expires_at < $1
	`
	result, err := r.db.Exec(ctx, query, now)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}
