/**
 * @description
 * This file defines the Ad entity, the boost window rules, and the daily
 * ad-statistics counters. Only the lifecycle fields matter to this service;
 * descriptive fields (title, images, pricing) belong to the listing API.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// AdStatus enumerates the listing lifecycle states.
type AdStatus string

const (
	AdDraft       AdStatus = "draft"
	AdActive      AdStatus = "active"
	AdUnderReview AdStatus = "under_review"
	AdRejected    AdStatus = "rejected"
	AdExpired     AdStatus = "expired"
	AdDeleted     AdStatus = "deleted"
)

// Ad represents the lifecycle view of a classified listing.
type Ad struct {
	ID             uuid.UUID  `json:"id"`
	UserID         uuid.UUID  `json:"user_id"`
	CategoryID     uuid.UUID  `json:"category_id"`
	Status         AdStatus   `json:"status"`
	IsBoosted      bool       `json:"is_boosted"`
	BoostExpiresAt *time.Time `json:"boost_expires_at,omitempty"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// ExtendBoost stacks a paid or credit-funded boost onto the ad. Extensions
// count from whichever is later, the current time or the existing expiry, so
// an unexpired boost is never shortened.
func (a *Ad) ExtendBoost(now time.Time, days int) time.Time {
	base := now
	if a.BoostExpiresAt != nil && a.BoostExpiresAt.After(now) {
		base = *a.BoostExpiresAt
	}
	expiry := base.AddDate(0, 0, days)
	a.IsBoosted = true
	a.BoostExpiresAt = &expiry
	a.UpdatedAt = now
	return expiry
}

// BoostLapsed reports whether the boost flag is stale and due to be cleared
// by the sweep. The expiry timestamp itself is kept for history.
func (a *Ad) BoostLapsed(now time.Time) bool {
	return a.IsBoosted && a.BoostExpiresAt != nil && a.BoostExpiresAt.Before(now)
}

// AdStatistic is the daily (ad, user, date) view/contact aggregate. It is
// append/increment only and sits outside the lifecycle state machines.
type AdStatistic struct {
	ID        uuid.UUID `json:"id"`
	AdID      uuid.UUID `json:"ad_id"`
	UserID    uuid.UUID `json:"user_id"`
	Date      time.Time `json:"date"`
	Views     int       `json:"views"`
	Contacts  int       `json:"contacts"`
	CreatedAt time.Time `json:"created_at"`
}

// UserStatistics is the rollup served to an ad owner.
type UserStatistics struct {
	TotalAds              int        `json:"total_ads"`
	ActiveAds             int        `json:"active_ads"`
	TotalViews            int64      `json:"total_views"`
	TotalContacts         int64      `json:"total_contacts"`
	BoostCreditsRemaining int        `json:"boost_credits_remaining"`
	MembershipExpiresAt   *time.Time `json:"membership_expires_at,omitempty"`
}
