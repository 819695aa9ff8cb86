package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/appdotbuilder/iklan-baris-online/internal/store"
)

type sweepRepoStub struct {
	store.Repository

	payments    int64
	memberships int64
	boosts      int64
	ads         int64

	paymentsErr    error
	membershipsErr error

	calls []string
	seen  []time.Time
}

func (s *sweepRepoStub) FailExpiredPendingPayments(ctx context.Context, now time.Time) (int64, error) {
	s.calls = append(s.calls, "payments")
	s.seen = append(s.seen, now)
	return s.payments, s.paymentsErr
}

func (s *sweepRepoStub) ExpireMemberships(ctx context.Context, now time.Time) (int64, error) {
	s.calls = append(s.calls, "memberships")
	s.seen = append(s.seen, now)
	return s.memberships, s.membershipsErr
}

func (s *sweepRepoStub) ClearLapsedBoosts(ctx context.Context, now time.Time) (int64, error) {
	s.calls = append(s.calls, "boosts")
	s.seen = append(s.seen, now)
	return s.boosts, nil
}

func (s *sweepRepoStub) ExpireAds(ctx context.Context, now time.Time) (int64, error) {
	s.calls = append(s.calls, "ads")
	s.seen = append(s.seen, now)
	return s.ads, nil
}

func newTestSweeper(repo store.Repository) *Sweeper {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewSweeper(repo, logger, fixedNow)
}

func TestSweep_RunsAllCategories(t *testing.T) {
	repo := &sweepRepoStub{payments: 3, memberships: 2, boosts: 5, ads: 1}

	result := newTestSweeper(repo).Sweep(context.Background())

	if len(repo.calls) != 4 {
		t.Fatalf("expected all four categories to run, got %v", repo.calls)
	}
	if result.PaymentsFailed != 3 || result.MembershipsExpired != 2 || result.BoostsCleared != 5 || result.AdsExpired != 1 {
		t.Fatalf("unexpected sweep result: %+v", result)
	}
}

func TestSweep_SingleClockObservation(t *testing.T) {
	repo := &sweepRepoStub{}

	newTestSweeper(repo).Sweep(context.Background())

	for _, seen := range repo.seen {
		if !seen.Equal(testNow) {
			t.Fatalf("expected every category to see the same clock value %v, got %v", testNow, seen)
		}
	}
}

func TestSweep_CategoryFailureDoesNotStopOthers(t *testing.T) {
	repo := &sweepRepoStub{
		paymentsErr: errors.New("db unavailable"),
		boosts:      4,
	}

	result := newTestSweeper(repo).Sweep(context.Background())

	if len(repo.calls) != 4 {
		t.Fatalf("expected remaining categories to run after a failure, got %v", repo.calls)
	}
	if result.PaymentsFailed != 0 {
		t.Fatalf("failed category must report zero, got %d", result.PaymentsFailed)
	}
	if result.BoostsCleared != 4 {
		t.Fatalf("expected later categories unaffected, got %d", result.BoostsCleared)
	}
}

func TestSweep_NoRowsIsNoOp(t *testing.T) {
	repo := &sweepRepoStub{}

	first := newTestSweeper(repo).Sweep(context.Background())
	second := newTestSweeper(repo).Sweep(context.Background())

	if first != (SweepResult{}) || second != (SweepResult{}) {
		t.Fatalf("repeat sweeps over clean data must be no-ops, got %+v then %+v", first, second)
	}
}
