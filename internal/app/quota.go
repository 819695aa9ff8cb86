/**
 * @description
 * This file contains the quota ledger: the accounting rules for membership
 * ad quotas and boost credits. Grant and revoke run inside the reconciliation
 * transaction; the consume operations are called by the ad-creation and
 * boost-request handlers.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/appdotbuilder/iklan-baris-online/internal/domain"
	"github.com/appdotbuilder/iklan-baris-online/internal/store"
)

// ErrNoActiveMembership is returned when a quota operation requires a current
// membership and the user has none.
var ErrNoActiveMembership = errors.New("no active membership")

// QuotaLedger applies membership and boost accounting against whichever
// repository scope the caller passes in, so it composes with WithTx.
type QuotaLedger struct {
	now func() time.Time
}

// NewQuotaLedger creates a ledger with an injected clock for deterministic
// expiry arithmetic in tests.
func NewQuotaLedger(now func() time.Time) *QuotaLedger {
	if now == nil {
		now = time.Now
	}
	return &QuotaLedger{now: now}
}

// GrantMembership supersedes any existing active membership and creates a new
// one with fresh counters from the package catalog. Replace, never merge:
// the superseded row is forced to inactive and kept for audit. The per-user
// lock is taken before the supersede check; without it, two grants for a
// user with no active row would both see nothing to supersede and both
// insert an active membership.
func (q *QuotaLedger) GrantMembership(ctx context.Context, r store.Repository, userID, packageID, paymentID uuid.UUID) (*domain.UserMembership, error) {
	if err := r.LockUserMemberships(ctx, userID); err != nil {
		return nil, fmt.Errorf("lock user memberships: %w", err)
	}

	pkg, err := r.FindMembershipPackageByID(ctx, packageID)
	if err != nil {
		return nil, fmt.Errorf("load package: %w", err)
	}

	current, err := r.FindActiveMembershipByUserIDForUpdate(ctx, userID)
	if err != nil && !errors.Is(err, store.ErrMembershipNotFound) {
		return nil, fmt.Errorf("load active membership: %w", err)
	}
	if current != nil {
		if err := r.SetMembershipStatus(ctx, current.ID, domain.MembershipInactive); err != nil {
			return nil, fmt.Errorf("supersede membership %s: %w", current.ID, err)
		}
		log.Printf("level=info component=quota msg=\"superseded active membership\" user_id=%s membership_id=%s", userID, current.ID)
	}

	membership := domain.NewMembershipFromPackage(userID, pkg, paymentID, q.now())
	if err := r.CreateMembership(ctx, membership); err != nil {
		return nil, fmt.Errorf("create membership: %w", err)
	}
	return membership, nil
}

// ConsumeAdQuota spends one ad slot from the user's current membership.
func (q *QuotaLedger) ConsumeAdQuota(ctx context.Context, r store.Repository, userID uuid.UUID) error {
	membership, err := r.FindActiveMembershipByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrMembershipNotFound) {
			return ErrNoActiveMembership
		}
		return err
	}
	return r.ConsumeAdQuota(ctx, membership.ID)
}

// ConsumeBoostCredit spends one boost credit from the user's current
// membership. Callers fall back to the paid ad_boost path when this returns
// ErrQuotaExhausted or ErrNoActiveMembership; paid boosts never touch
// membership counters.
func (q *QuotaLedger) ConsumeBoostCredit(ctx context.Context, r store.Repository, userID uuid.UUID) error {
	membership, err := r.FindActiveMembershipByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrMembershipNotFound) {
			return ErrNoActiveMembership
		}
		return err
	}
	return r.ConsumeBoostCredit(ctx, membership.ID)
}

// ExtendBoost stacks a boost window onto the ad from whichever is later,
// now or the existing expiry.
func (q *QuotaLedger) ExtendBoost(ctx context.Context, r store.Repository, adID uuid.UUID, days int) (time.Time, error) {
	ad, err := r.FindAdByIDForUpdate(ctx, adID)
	if err != nil {
		return time.Time{}, fmt.Errorf("load ad: %w", err)
	}
	expiry := ad.ExtendBoost(q.now(), days)
	if err := r.UpdateAdBoost(ctx, ad.ID, true, &expiry); err != nil {
		return time.Time{}, fmt.Errorf("persist boost: %w", err)
	}
	return expiry, nil
}

// RevokeBenefit mirrors the grant a refunded payment applied, best-effort.
// Already-consumed quota is reported through the returned audit event rather
// than reversed: spent slots cannot be un-spent without double-booking.
func (q *QuotaLedger) RevokeBenefit(ctx context.Context, r store.Repository, p *domain.Payment) (*domain.RefundGapAuditEvent, error) {
	now := q.now()
	switch p.PaymentType {
	case domain.PaymentTypeMembership:
		return q.revokeMembership(ctx, r, p, now)
	case domain.PaymentTypeAdBoost:
		return nil, q.revokeBoost(ctx, r, p, now)
	default:
		return nil, domain.ErrTargetMismatch
	}
}

func (q *QuotaLedger) revokeMembership(ctx context.Context, r store.Repository, p *domain.Payment, now time.Time) (*domain.RefundGapAuditEvent, error) {
	if err := r.LockUserMemberships(ctx, p.UserID); err != nil {
		return nil, fmt.Errorf("lock user memberships: %w", err)
	}

	membership, err := r.FindActiveMembershipByUserIDForUpdate(ctx, p.UserID)
	if err != nil {
		if errors.Is(err, store.ErrMembershipNotFound) {
			log.Printf("level=warn component=quota msg=\"refund revoke found no active membership\" payment_id=%s user_id=%s", p.ID, p.UserID)
			return nil, nil
		}
		return nil, err
	}
	if membership.GrantedByPaymentID != p.ID {
		// The refunded grant was already superseded; the current membership
		// was paid for by a different payment (possibly a renewal of the
		// same package) and is not ours to touch.
		log.Printf("level=warn component=quota msg=\"refund revoke skipped; membership superseded\" payment_id=%s membership_id=%s granted_by=%s", p.ID, membership.ID, membership.GrantedByPaymentID)
		return nil, nil
	}

	if err := r.SetMembershipStatus(ctx, membership.ID, domain.MembershipInactive); err != nil {
		return nil, fmt.Errorf("deactivate refunded membership: %w", err)
	}

	pkg, err := r.FindMembershipPackageByID(ctx, membership.PackageID)
	if err != nil {
		return nil, fmt.Errorf("load package for refund audit: %w", err)
	}
	adsConsumed := pkg.MaxAds - membership.RemainingAds
	creditsConsumed := pkg.BoostCredits - membership.RemainingBoostCredits
	if adsConsumed <= 0 && creditsConsumed <= 0 {
		return nil, nil
	}

	log.Printf("level=warn component=quota msg=\"refund with consumed quota; reporting accounting gap\" payment_id=%s membership_id=%s ads_consumed=%d credits_consumed=%d",
		p.ID, membership.ID, adsConsumed, creditsConsumed)
	return &domain.RefundGapAuditEvent{
		PaymentID:       p.ID,
		UserID:          p.UserID,
		OrderID:         p.MidtransOrderID,
		MembershipID:    membership.ID,
		AdsConsumed:     adsConsumed,
		CreditsConsumed: creditsConsumed,
		Timestamp:       now,
	}, nil
}

func (q *QuotaLedger) revokeBoost(ctx context.Context, r store.Repository, p *domain.Payment, now time.Time) error {
	ad, err := r.FindAdByIDForUpdate(ctx, *p.BoostedAdID)
	if err != nil {
		return fmt.Errorf("load boosted ad: %w", err)
	}
	if ad.BoostExpiresAt == nil {
		return nil
	}

	reduced := ad.BoostExpiresAt.AddDate(0, 0, -p.BoostDurationDays())
	if reduced.After(now) {
		// Another boost still covers part of the window; shrink it.
		return r.UpdateAdBoost(ctx, ad.ID, true, &reduced)
	}
	return r.UpdateAdBoost(ctx, ad.ID, false, &reduced)
}
