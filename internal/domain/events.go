/**
 * @description
 * Message payloads published to RabbitMQ after a reconciliation commit.
 * Publishing is best-effort and never part of the database transaction.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// PaymentLifecycleEvent announces a payment reaching a terminal status.
type PaymentLifecycleEvent struct {
	PaymentID   uuid.UUID     `json:"payment_id"`
	UserID      uuid.UUID     `json:"user_id"`
	OrderID     string        `json:"order_id"`
	PaymentType PaymentType   `json:"payment_type"`
	Status      PaymentStatus `json:"status"`
	Amount      int64         `json:"amount"`
	Timestamp   time.Time     `json:"timestamp"`
}

// RefundGapAuditEvent records a refund whose granted benefit was already
// partially consumed. Consumed quota cannot be un-spent without
// double-booking, so the gap is reported for manual review instead of
// reversed.
type RefundGapAuditEvent struct {
	PaymentID       uuid.UUID `json:"payment_id"`
	UserID          uuid.UUID `json:"user_id"`
	OrderID         string    `json:"order_id"`
	MembershipID    uuid.UUID `json:"membership_id,omitempty"`
	AdsConsumed     int       `json:"ads_consumed"`
	CreditsConsumed int       `json:"credits_consumed"`
	Timestamp       time.Time `json:"timestamp"`
}
