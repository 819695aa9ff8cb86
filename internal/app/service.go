/**
 * @description
 * This file contains the checkout-facing business logic: creating pending
 * payments for memberships and ad boosts, spending membership quotas during
 * ad creation and boost requests, and the owner statistics rollup.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/appdotbuilder/iklan-baris-online/internal/config"
	"github.com/appdotbuilder/iklan-baris-online/internal/domain"
	"github.com/appdotbuilder/iklan-baris-online/internal/store"
)

const (
	orderIDPrefix   = "IKL-"
	minBoostDays    = 1
	maxBoostDays    = 30
	defaultCurrency = "IDR"
)

var (
	ErrInvalidBoostDuration = errors.New("boost duration must be between 1 and 30 days")
	ErrPackageUnavailable   = errors.New("membership package is not available for purchase")
	ErrAdNotBoostable       = errors.New("ad is not in a boostable state")
)

// Service provides the checkout and quota-consumption operations.
type Service struct {
	repo  store.Repository
	quota *QuotaLedger
	cfg   config.Config
	now   func() time.Time
}

// NewService creates a new checkout service.
func NewService(repo store.Repository, quota *QuotaLedger, cfg config.Config, now func() time.Time) *Service {
	if now == nil {
		now = time.Now
	}
	return &Service{repo: repo, quota: quota, cfg: cfg, now: now}
}

func (s *Service) newOrderID() string {
	return orderIDPrefix + uuid.New().String()
}

// CreateMembershipPayment creates a pending payment for a membership package.
// The amount is read from the catalog, never from the request.
func (s *Service) CreateMembershipPayment(ctx context.Context, userID, packageID uuid.UUID) (*domain.Payment, error) {
	pkg, err := s.repo.FindMembershipPackageByID(ctx, packageID)
	if err != nil {
		return nil, err
	}
	if !pkg.IsActive {
		return nil, ErrPackageUnavailable
	}

	now := s.now()
	expiresAt := now.Add(time.Duration(s.cfg.PaymentExpiryMinutes) * time.Minute)
	payment := &domain.Payment{
		ID:                  uuid.New(),
		UserID:              userID,
		PaymentType:         domain.PaymentTypeMembership,
		MembershipPackageID: &pkg.ID,
		Amount:              pkg.Price,
		Currency:            defaultCurrency,
		Status:              domain.PaymentPending,
		MidtransOrderID:     s.newOrderID(),
		PaymentDetails:      map[string]any{"package_name": pkg.Name},
		ExpiresAt:           &expiresAt,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if err := payment.ValidateTargets(); err != nil {
		return nil, err
	}
	if err := s.repo.CreatePayment(ctx, payment); err != nil {
		return nil, fmt.Errorf("create membership payment: %w", err)
	}
	return payment, nil
}

// CreateBoostPayment creates a pending payment for a direct (paid) ad boost.
// Paid boosts never touch membership counters.
func (s *Service) CreateBoostPayment(ctx context.Context, userID, adID uuid.UUID, durationDays int) (*domain.Payment, error) {
	if durationDays < minBoostDays || durationDays > maxBoostDays {
		return nil, ErrInvalidBoostDuration
	}

	ad, err := s.repo.FindAdByID(ctx, adID)
	if err != nil {
		return nil, err
	}
	if ad.Status != domain.AdActive {
		return nil, ErrAdNotBoostable
	}

	now := s.now()
	expiresAt := now.Add(time.Duration(s.cfg.PaymentExpiryMinutes) * time.Minute)
	payment := &domain.Payment{
		ID:              uuid.New(),
		UserID:          userID,
		PaymentType:     domain.PaymentTypeAdBoost,
		BoostedAdID:     &ad.ID,
		Amount:          s.cfg.BoostPricePerDayRupiah * int64(durationDays),
		Currency:        defaultCurrency,
		Status:          domain.PaymentPending,
		MidtransOrderID: s.newOrderID(),
		PaymentDetails:  map[string]any{"boost_duration_days": durationDays},
		ExpiresAt:       &expiresAt,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := payment.ValidateTargets(); err != nil {
		return nil, err
	}
	if err := s.repo.CreatePayment(ctx, payment); err != nil {
		return nil, fmt.Errorf("create boost payment: %w", err)
	}
	return payment, nil
}

// ConsumeAdQuota spends one ad slot from the caller's current membership;
// the listing API calls this while creating an ad.
func (s *Service) ConsumeAdQuota(ctx context.Context, userID uuid.UUID) error {
	return s.repo.WithTx(ctx, func(ctx context.Context, tx store.Repository) error {
		return s.quota.ConsumeAdQuota(ctx, tx, userID)
	})
}

// BoostAdWithCredit spends one membership boost credit and extends the ad's
// boost window, atomically. Callers with no credits fall back to
// CreateBoostPayment.
func (s *Service) BoostAdWithCredit(ctx context.Context, userID, adID uuid.UUID) (time.Time, error) {
	var expiry time.Time
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx store.Repository) error {
		ad, err := tx.FindAdByID(ctx, adID)
		if err != nil {
			return err
		}
		if ad.Status != domain.AdActive {
			return ErrAdNotBoostable
		}
		if err := s.quota.ConsumeBoostCredit(ctx, tx, userID); err != nil {
			return err
		}
		expiry, err = s.quota.ExtendBoost(ctx, tx, adID, s.cfg.BoostCreditDurationDays)
		return err
	})
	if err != nil {
		return time.Time{}, err
	}
	return expiry, nil
}

// GetMembershipStatus reports the caller's current membership and quotas.
func (s *Service) GetMembershipStatus(ctx context.Context, userID uuid.UUID) (*domain.MembershipStatusView, error) {
	membership, err := s.repo.FindActiveMembershipByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrMembershipNotFound) {
			return &domain.MembershipStatusView{Status: domain.MembershipInactive}, nil
		}
		return nil, err
	}

	view := &domain.MembershipStatusView{
		Status:       membership.Status,
		PackageID:    &membership.PackageID,
		RemainingAds: membership.RemainingAds,
		BoostCredits: membership.RemainingBoostCredits,
		AutoRenew:    membership.AutoRenew,
		IsActive:     membership.IsCurrent(s.now()),
	}
	endDate := membership.EndDate
	view.EndDate = &endDate
	return view, nil
}

// TrackAdView increments the daily view counter for an ad.
func (s *Service) TrackAdView(ctx context.Context, adID uuid.UUID) error {
	ad, err := s.repo.FindAdByID(ctx, adID)
	if err != nil {
		return err
	}
	return s.repo.IncrementAdStatistic(ctx, ad.ID, ad.UserID, s.now(), 1, 0)
}

// TrackAdContact increments the daily contact counter for an ad.
func (s *Service) TrackAdContact(ctx context.Context, adID uuid.UUID) error {
	ad, err := s.repo.FindAdByID(ctx, adID)
	if err != nil {
		return err
	}
	return s.repo.IncrementAdStatistic(ctx, ad.ID, ad.UserID, s.now(), 0, 1)
}

// GetUserStatistics returns the owner rollup (ads, views, contacts, quota).
func (s *Service) GetUserStatistics(ctx context.Context, userID uuid.UUID) (*domain.UserStatistics, error) {
	return s.repo.GetUserStatistics(ctx, userID)
}
