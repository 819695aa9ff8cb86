/**
 * @description
 * This file defines the `Repository` interface, the contract for all data
 * access the lifecycle engine needs. Defining an interface decouples the
 * business logic from PostgreSQL and lets tests substitute stubs.
 *
 * Methods suffixed ForUpdate take a row-level exclusive lock and are only
 * meaningful inside a WithTx scope.
 */

package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/appdotbuilder/iklan-baris-online/internal/domain"
)

// Repository defines the set of methods for interacting with the database.
type Repository interface {
	// WithTx runs fn inside one atomic transaction. The Repository passed to
	// fn operates on that transaction; ForUpdate locks are held until fn
	// returns. Serialization conflicts are retried with bounded backoff
	// before surfacing as ErrStorageConflict.
	WithTx(ctx context.Context, fn func(ctx context.Context, r Repository) error) error

	// Payment methods
	CreatePayment(ctx context.Context, p *domain.Payment) error
	FindPaymentByID(ctx context.Context, id uuid.UUID) (*domain.Payment, error)
	FindPaymentByOrderID(ctx context.Context, orderID string) (*domain.Payment, error)
	FindPaymentByOrderIDForUpdate(ctx context.Context, orderID string) (*domain.Payment, error)
	UpdatePaymentReconciliation(ctx context.Context, p *domain.Payment) error

	// Membership methods
	// LockUserMemberships serializes membership grants and revokes for one
	// user within the surrounding transaction. Row locks cannot do this when
	// the user has no active membership row yet.
	LockUserMemberships(ctx context.Context, userID uuid.UUID) error
	FindMembershipPackageByID(ctx context.Context, id uuid.UUID) (*domain.MembershipPackage, error)
	FindActiveMembershipByUserID(ctx context.Context, userID uuid.UUID) (*domain.UserMembership, error)
	FindActiveMembershipByUserIDForUpdate(ctx context.Context, userID uuid.UUID) (*domain.UserMembership, error)
	CreateMembership(ctx context.Context, m *domain.UserMembership) error
	SetMembershipStatus(ctx context.Context, membershipID uuid.UUID, status domain.MembershipStatus) error
	ConsumeAdQuota(ctx context.Context, membershipID uuid.UUID) error
	ConsumeBoostCredit(ctx context.Context, membershipID uuid.UUID) error

	// Ad methods
	FindAdByID(ctx context.Context, id uuid.UUID) (*domain.Ad, error)
	FindAdByIDForUpdate(ctx context.Context, id uuid.UUID) (*domain.Ad, error)
	UpdateAdBoost(ctx context.Context, adID uuid.UUID, isBoosted bool, boostExpiresAt *time.Time) error

	// Statistics methods
	IncrementAdStatistic(ctx context.Context, adID, userID uuid.UUID, day time.Time, views, contacts int) error
	GetUserStatistics(ctx context.Context, userID uuid.UUID) (*domain.UserStatistics, error)

	// Sweep methods: set-based, idempotent time-driven transitions.
	FailExpiredPendingPayments(ctx context.Context, now time.Time) (int64, error)
	ExpireMemberships(ctx context.Context, now time.Time) (int64, error)
	ClearLapsedBoosts(ctx context.Context, now time.Time) (int64, error)
	ExpireAds(ctx context.Context, now time.Time) (int64, error)
}
