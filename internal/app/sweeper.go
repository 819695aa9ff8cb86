/**
 * @description
 * Scheduled expiration sweep for the lifecycle engine. Each category is swept
 * independently with a set-based update, so a re-run over already-expired
 * rows is a no-op and an overlapping invocation is safe.
 */
package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/appdotbuilder/iklan-baris-online/internal/store"
)

// SweepResult reports how many rows each category transitioned.
type SweepResult struct {
	PaymentsFailed     int64 `json:"payments_failed"`
	MembershipsExpired int64 `json:"memberships_expired"`
	BoostsCleared      int64 `json:"boosts_cleared"`
	AdsExpired         int64 `json:"ads_expired"`
}

// Sweeper applies the time-based transitions no external event triggers.
type Sweeper struct {
	repo   store.Repository
	logger *slog.Logger
	now    func() time.Time
}

// NewSweeper creates a sweeper. The clock is injected so expiry boundaries
// are deterministic in tests.
func NewSweeper(repo store.Repository, logger *slog.Logger, now func() time.Time) *Sweeper {
	if now == nil {
		now = time.Now
	}
	return &Sweeper{repo: repo, logger: logger, now: now}
}

// Sweep runs all four expiry categories against a single observation of the
// clock. Categories are independent: a failure in one does not stop the rest.
func (s *Sweeper) Sweep(ctx context.Context) SweepResult {
	now := s.now()
	var result SweepResult

	if n, err := s.repo.FailExpiredPendingPayments(ctx, now); err != nil {
		s.logger.Error("failed to expire pending payments", "error", err)
	} else {
		result.PaymentsFailed = n
	}

	if n, err := s.repo.ExpireMemberships(ctx, now); err != nil {
		s.logger.Error("failed to expire memberships", "error", err)
	} else {
		result.MembershipsExpired = n
	}

	if n, err := s.repo.ClearLapsedBoosts(ctx, now); err != nil {
		s.logger.Error("failed to clear lapsed boosts", "error", err)
	} else {
		result.BoostsCleared = n
	}

	if n, err := s.repo.ExpireAds(ctx, now); err != nil {
		s.logger.Error("failed to expire ads", "error", err)
	} else {
		result.AdsExpired = n
	}

	return result
}

// RunSweepJob is the cron entry point.
func (s *Sweeper) RunSweepJob() {
	s.logger.Info("starting expiration sweep")
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	result := s.Sweep(ctx)
	s.logger.Info("expiration sweep finished",
		"payments_failed", result.PaymentsFailed,
		"memberships_expired", result.MembershipsExpired,
		"boosts_cleared", result.BoostsCleared,
		"ads_expired", result.AdsExpired,
	)
}
