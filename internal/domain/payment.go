/**
 * @description
 * This file defines the Payment entity and its state machine. A payment is the
 * only trigger that may grant a membership or extend an ad boost, so the legal
 * status transitions are encoded as an explicit table and every transition
 * returns the side effects it implies without applying them.
 *
 * @notes
 * - Amounts are stored as `int64` in the smallest currency unit (IDR rupiah),
 *   which avoids floating-point inaccuracies with financial data.
 * - The Midtrans order id is the idempotency key for gateway notifications;
 *   it is unique and immutable once the payment row is created.
 */

package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// PaymentStatus enumerates the internal payment lifecycle states.
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
	PaymentFailed    PaymentStatus = "failed"
	PaymentCancelled PaymentStatus = "cancelled"
	PaymentRefunded  PaymentStatus = "refunded"
)

// PaymentType distinguishes what a completed payment pays for.
type PaymentType string

const (
	PaymentTypeMembership PaymentType = "membership"
	PaymentTypeAdBoost    PaymentType = "ad_boost"
)

var (
	ErrInvalidTransition = errors.New("payment status transition not allowed")
	ErrOrderIDMismatch   = errors.New("event order id does not match payment")
	ErrDuplicateStatus   = errors.New("payment already in requested terminal status")
	ErrTargetMismatch    = errors.New("payment target does not match payment type")
)

// paymentTransitions is the closed set of legal status edges. Anything not
// listed here is rejected, never silently ignored.
var paymentTransitions = map[PaymentStatus]map[PaymentStatus]bool{
	PaymentPending: {
		PaymentCompleted: true,
		PaymentFailed:    true,
		PaymentCancelled: true,
	},
	PaymentCompleted: {
		PaymentRefunded: true,
	},
}

// Payment represents a single checkout attempt against the payment gateway.
// This struct maps directly to the `payments` table.
type Payment struct {
	ID                    uuid.UUID      `json:"id"`
	UserID                uuid.UUID      `json:"user_id"`
	PaymentType           PaymentType    `json:"payment_type"`
	MembershipPackageID   *uuid.UUID     `json:"membership_package_id,omitempty"`
	BoostedAdID           *uuid.UUID     `json:"boosted_ad_id,omitempty"`
	Amount                int64          `json:"amount"` // in rupiah
	Currency              string         `json:"currency"`
	Status                PaymentStatus  `json:"status"`
	MidtransOrderID       string         `json:"midtrans_order_id"`
	MidtransTransactionID *string        `json:"midtrans_transaction_id,omitempty"`
	PaymentMethod         *string        `json:"payment_method,omitempty"`
	PaymentDetails        map[string]any `json:"payment_details,omitempty"`
	PaidAt                *time.Time     `json:"paid_at,omitempty"`
	ExpiresAt             *time.Time     `json:"expires_at,omitempty"`
	CreatedAt             time.Time      `json:"created_at"`
	UpdatedAt             time.Time      `json:"updated_at"`
}

// StatusEvent carries a requested payment transition, resolved from a gateway
// notification or an internal trigger (manual refund, expiry sweep).
type StatusEvent struct {
	OrderID       string
	Target        PaymentStatus
	TransactionID *string
	GatewayMethod *string
	OccurredAt    time.Time
}

// EffectKind tags the benefit mutation a payment transition implies.
type EffectKind string

const (
	EffectGrantMembership EffectKind = "grant_membership"
	EffectExtendBoost     EffectKind = "extend_boost"
	EffectRevokeBenefit   EffectKind = "revoke_benefit"
)

// SideEffect describes a membership or ad mutation that must be applied in the
// same transaction as the payment transition that produced it.
type SideEffect struct {
	Kind         EffectKind
	PaymentID    uuid.UUID
	UserID       uuid.UUID
	PackageID    uuid.UUID
	AdID         uuid.UUID
	DurationDays int
}

// IsTerminal reports whether the status permits no further gateway-driven
// transition except the explicit completed -> refunded edge.
func (s PaymentStatus) IsTerminal() bool {
	return s == PaymentCompleted || s == PaymentFailed || s == PaymentCancelled || s == PaymentRefunded
}

// DefaultBoostDurationDays applies when a boost checkout omits the duration.
const DefaultBoostDurationDays = 7

// BoostDurationDays reads the boost window from the payment details blob.
// The checkout flow validates the 1-30 day range before persisting it.
func (p *Payment) BoostDurationDays() int {
	if p.PaymentDetails != nil {
		switch v := p.PaymentDetails["boost_duration_days"].(type) {
		case int:
			if v > 0 {
				return v
			}
		case int64:
			if v > 0 {
				return int(v)
			}
		case float64:
			if v > 0 {
				return int(v)
			}
		}
	}
	return DefaultBoostDurationDays
}

// ValidateTargets enforces that exactly the target matching the payment type
// is set. The storage schema does not carry this constraint, so every write
// path goes through here.
func (p *Payment) ValidateTargets() error {
	switch p.PaymentType {
	case PaymentTypeMembership:
		if p.MembershipPackageID == nil || p.BoostedAdID != nil {
			return ErrTargetMismatch
		}
	case PaymentTypeAdBoost:
		if p.BoostedAdID == nil || p.MembershipPackageID != nil {
			return ErrTargetMismatch
		}
	default:
		return ErrTargetMismatch
	}
	return nil
}

// Transition applies a status event to the payment and returns the side
// effects the new status implies. It mutates only the payment struct; the
// caller is responsible for persisting payment and effects atomically.
//
// A repeated delivery of the current terminal status returns
// ErrDuplicateStatus so the caller can acknowledge it without reapplying
// side effects.
func (p *Payment) Transition(ev StatusEvent) ([]SideEffect, error) {
	if ev.OrderID != p.MidtransOrderID {
		return nil, ErrOrderIDMismatch
	}
	if ev.Target == p.Status && p.Status.IsTerminal() {
		return nil, ErrDuplicateStatus
	}
	if !paymentTransitions[p.Status][ev.Target] {
		return nil, ErrInvalidTransition
	}
	if err := p.ValidateTargets(); err != nil {
		return nil, err
	}

	prev := p.Status
	p.Status = ev.Target
	if ev.TransactionID != nil {
		p.MidtransTransactionID = ev.TransactionID
	}
	if ev.GatewayMethod != nil {
		p.PaymentMethod = ev.GatewayMethod
	}
	p.UpdatedAt = ev.OccurredAt

	switch {
	case prev == PaymentPending && ev.Target == PaymentCompleted:
		paidAt := ev.OccurredAt
		p.PaidAt = &paidAt
		return []SideEffect{p.grantEffect()}, nil
	case prev == PaymentCompleted && ev.Target == PaymentRefunded:
		effect := p.grantEffect()
		effect.Kind = EffectRevokeBenefit
		return []SideEffect{effect}, nil
	default:
		// pending -> failed/cancelled granted nothing, so nothing to undo.
		return nil, nil
	}
}

func (p *Payment) grantEffect() SideEffect {
	effect := SideEffect{PaymentID: p.ID, UserID: p.UserID, DurationDays: p.BoostDurationDays()}
	if p.PaymentType == PaymentTypeMembership {
		effect.Kind = EffectGrantMembership
		effect.PackageID = *p.MembershipPackageID
	} else {
		effect.Kind = EffectExtendBoost
		effect.AdID = *p.BoostedAdID
	}
	return effect
}
