package domain

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestExtendBoost_FromNowWhenNotBoosted(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	ad := &Ad{ID: uuid.New(), Status: AdActive}

	expiry := ad.ExtendBoost(now, 7)

	want := now.AddDate(0, 0, 7)
	if !expiry.Equal(want) {
		t.Fatalf("expected expiry %v, got %v", want, expiry)
	}
	if !ad.IsBoosted {
		t.Fatal("expected ad to be flagged boosted")
	}
}

func TestExtendBoost_StacksOnUnexpiredBoost(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	existing := now.AddDate(0, 0, 3)
	ad := &Ad{ID: uuid.New(), Status: AdActive, IsBoosted: true, BoostExpiresAt: &existing}

	expiry := ad.ExtendBoost(now, 7)

	// 3 days remaining plus 7 purchased: extensions count from the existing
	// expiry, never shorten it.
	want := existing.AddDate(0, 0, 7)
	if !expiry.Equal(want) {
		t.Fatalf("expected stacked expiry %v, got %v", want, expiry)
	}
}

func TestExtendBoost_IgnoresLapsedExpiry(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	lapsed := now.AddDate(0, 0, -10)
	ad := &Ad{ID: uuid.New(), Status: AdActive, IsBoosted: true, BoostExpiresAt: &lapsed}

	expiry := ad.ExtendBoost(now, 7)

	want := now.AddDate(0, 0, 7)
	if !expiry.Equal(want) {
		t.Fatalf("expected expiry from now %v, got %v", want, expiry)
	}
}

func TestBoostLapsed(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	tests := []struct {
		name string
		ad   Ad
		want bool
	}{
		{"boosted past expiry", Ad{IsBoosted: true, BoostExpiresAt: &past}, true},
		{"boosted future expiry", Ad{IsBoosted: true, BoostExpiresAt: &future}, false},
		{"not boosted", Ad{IsBoosted: false, BoostExpiresAt: &past}, false},
		{"boosted without expiry", Ad{IsBoosted: true}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.ad.BoostLapsed(now); got != tt.want {
				t.Fatalf("expected lapsed=%t, got %t", tt.want, got)
			}
		})
	}
}

func TestMembershipIsCurrent(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name       string
		membership UserMembership
		want       bool
	}{
		{"active within period", UserMembership{Status: MembershipActive, EndDate: now.AddDate(0, 0, 10)}, true},
		{"active past end date", UserMembership{Status: MembershipActive, EndDate: now.AddDate(0, 0, -1)}, false},
		{"inactive within period", UserMembership{Status: MembershipInactive, EndDate: now.AddDate(0, 0, 10)}, false},
		{"expired status", UserMembership{Status: MembershipExpired, EndDate: now.AddDate(0, 0, 10)}, false},
		// Exhausted counters do not make a membership stale.
		{"zero counters still current", UserMembership{Status: MembershipActive, EndDate: now.AddDate(0, 0, 10), RemainingAds: 0}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.membership.IsCurrent(now); got != tt.want {
				t.Fatalf("expected current=%t, got %t", tt.want, got)
			}
		})
	}
}

func TestNewMembershipFromPackage(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	userID := uuid.New()
	pkg := &MembershipPackage{
		ID:           uuid.New(),
		Name:         "Paket Bisnis",
		Price:        250000,
		DurationDays: 30,
		MaxAds:       25,
		BoostCredits: 5,
		IsActive:     true,
	}

	paymentID := uuid.New()
	m := NewMembershipFromPackage(userID, pkg, paymentID, now)

	if m.Status != MembershipActive {
		t.Fatalf("expected active status, got %s", m.Status)
	}
	if m.GrantedByPaymentID != paymentID {
		t.Fatalf("expected granting payment recorded, got %s", m.GrantedByPaymentID)
	}
	if !m.EndDate.Equal(now.AddDate(0, 0, 30)) {
		t.Fatalf("expected end date 30 days out, got %v", m.EndDate)
	}
	if m.RemainingAds != 25 || m.RemainingBoostCredits != 5 {
		t.Fatalf("expected fresh counters from package, got ads=%d credits=%d", m.RemainingAds, m.RemainingBoostCredits)
	}
}
