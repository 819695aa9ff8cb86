/**
 * @description
 * This file defines the membership domain models: the immutable package
 * catalog and the per-user membership ledger rows that carry ad and boost
 * quotas. At most one membership per user may be `active` at any time; the
 * engine enforces this with the transactional replace-on-grant rule,
 * serialized per user by an advisory lock in the store layer.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// MembershipStatus enumerates the membership lifecycle states.
type MembershipStatus string

const (
	MembershipActive   MembershipStatus = "active"
	MembershipInactive MembershipStatus = "inactive"
	MembershipExpired  MembershipStatus = "expired"
)

// MembershipPackage is catalog reference data read when a membership payment
// completes. Packages are never mutated by the lifecycle engine.
type MembershipPackage struct {
	ID           uuid.UUID `json:"id"`
	Name         string    `json:"name"`
	Price        int64     `json:"price"` // in rupiah
	DurationDays int       `json:"duration_days"`
	MaxAds       int       `json:"max_ads"`
	BoostCredits int       `json:"boost_credits"`
	IsActive     bool      `json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
}

// UserMembership represents one granted membership period and its remaining
// quotas. Superseded rows are kept as `inactive` for audit; counters on
// expired rows are left as-is and no longer honored.
type UserMembership struct {
	ID                    uuid.UUID        `json:"id"`
	UserID                uuid.UUID        `json:"user_id"`
	PackageID             uuid.UUID        `json:"package_id"`
	GrantedByPaymentID    uuid.UUID        `json:"granted_by_payment_id"`
	Status                MembershipStatus `json:"status"`
	StartDate             time.Time        `json:"start_date"`
	EndDate               time.Time        `json:"end_date"`
	RemainingAds          int              `json:"remaining_ads"`
	RemainingBoostCredits int              `json:"remaining_boost_credits"`
	AutoRenew             bool             `json:"auto_renew"`
	CreatedAt             time.Time        `json:"created_at"`
	UpdatedAt             time.Time        `json:"updated_at"`
}

// IsCurrent reports whether the membership should be honored by quota checks:
// status must be active and the period must cover now. Counters alone are
// never consulted for this decision.
func (m *UserMembership) IsCurrent(now time.Time) bool {
	return m.Status == MembershipActive && !m.EndDate.Before(now)
}

// NewMembershipFromPackage builds the membership granted by a completed
// membership payment, with fresh counters from the package catalog. The
// granting payment id is recorded so a later refund can tell whether this
// row is still the one it paid for.
func NewMembershipFromPackage(userID uuid.UUID, pkg *MembershipPackage, paymentID uuid.UUID, now time.Time) *UserMembership {
	return &UserMembership{
		ID:                    uuid.New(),
		UserID:                userID,
		PackageID:             pkg.ID,
		GrantedByPaymentID:    paymentID,
		Status:                MembershipActive,
		StartDate:             now,
		EndDate:               now.AddDate(0, 0, pkg.DurationDays),
		RemainingAds:          pkg.MaxAds,
		RemainingBoostCredits: pkg.BoostCredits,
		CreatedAt:             now,
		UpdatedAt:             now,
	}
}

// MembershipStatusView is the DTO returned to clients asking about their
// current membership and remaining quotas.
type MembershipStatusView struct {
	Status       MembershipStatus `json:"status"`
	PackageID    *uuid.UUID       `json:"package_id,omitempty"`
	EndDate      *time.Time       `json:"end_date,omitempty"`
	RemainingAds int              `json:"remaining_ads"`
	BoostCredits int              `json:"remaining_boost_credits"`
	AutoRenew    bool             `json:"auto_renew"`
	IsActive     bool             `json:"is_active"`
}
