/**
 * @description
 * This file contains the reconciliation engine: it consumes Midtrans payment
 * notifications, resolves them to a payment record, applies the payment state
 * machine and, within one atomic transaction, every side effect the
 * transition implies. Duplicate deliveries are detected on the locked payment
 * row and acknowledged without reapplying anything.
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
	"github.com/appdotbuilder/iklan-baris-online/pkg/midtrans"
	"github.com/appdotbuilder/iklan-baris-online/pkg/rabbitmq"
)

var (
	// ErrUnknownOrder is returned when a notification references no payment.
	ErrUnknownOrder = errors.New("no payment found for order id")
	// ErrConflictingStatus is returned when the gateway requests a terminal
	// status for a payment already settled in a different terminal status.
	// This indicates gateway inconsistency and is surfaced, never overwritten.
	ErrConflictingStatus = errors.New("payment already in a conflicting terminal status")
)

// ReconciliationResult summarizes what a notification did.
type ReconciliationResult struct {
	PaymentID uuid.UUID            `json:"payment_id"`
	OrderID   string               `json:"order_id"`
	Status    domain.PaymentStatus `json:"status"`
	Applied   bool                 `json:"applied"`
	Duplicate bool                 `json:"duplicate"`
}

// Reconciler applies gateway notifications to the lifecycle entities.
type Reconciler struct {
	repo     store.Repository
	verifier midtrans.Verifier
	quota    *QuotaLedger
	producer rabbitmq.Publisher
	now      func() time.Time
}

// NewReconciler creates a reconciler. The clock is injected so expiry and
// paid-at arithmetic is deterministic under test.
func NewReconciler(repo store.Repository, verifier midtrans.Verifier, quota *QuotaLedger, producer rabbitmq.Publisher, now func() time.Time) *Reconciler {
	if now == nil {
		now = time.Now
	}
	return &Reconciler{repo: repo, verifier: verifier, quota: quota, producer: producer, now: now}
}

// Reconcile processes one gateway notification end to end: signature check,
// vocabulary mapping, then the atomic transition + side-effect application.
// Validation failures abandon the notification before any lock is taken.
func (r *Reconciler) Reconcile(ctx context.Context, n midtrans.Notification) (*ReconciliationResult, error) {
	if err := r.verifier.Verify(n); err != nil {
		log.Printf("level=warn component=reconciler msg=\"rejected notification\" order_id=%s err=%v", n.OrderID, err)
		return nil, err
	}

	target, transitions, err := midtrans.MapStatus(n.TransactionStatus)
	if err != nil {
		log.Printf("level=warn component=reconciler msg=\"unmapped gateway status\" order_id=%s transaction_status=%q", n.OrderID, n.TransactionStatus)
		return nil, err
	}

	if !transitions {
		// pending/authorize notifications carry no transition; acknowledge
		// so the gateway stops retrying, but verify the order exists.
		payment, err := r.repo.FindPaymentByOrderID(ctx, n.OrderID)
		if err != nil {
			if errors.Is(err, store.ErrPaymentNotFound) {
				return nil, ErrUnknownOrder
			}
			return nil, err
		}
		return &ReconciliationResult{PaymentID: payment.ID, OrderID: n.OrderID, Status: payment.Status}, nil
	}

	var txnID *string
	if n.TransactionID != "" {
		id := n.TransactionID
		txnID = &id
	}
	var method *string
	if n.PaymentType != "" {
		m := n.PaymentType
		method = &m
	}

	result, auditEvents, err := r.applyStatus(ctx, n.OrderID, target, txnID, method)
	if err != nil {
		return nil, err
	}

	r.publishOutcome(ctx, result, auditEvents)
	return result, nil
}

// RefundPayment feeds a manual refund through the same transition path the
// gateway notifications use, so revocation side effects stay consistent.
func (r *Reconciler) RefundPayment(ctx context.Context, paymentID uuid.UUID) (*ReconciliationResult, error) {
	payment, err := r.repo.FindPaymentByID(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	result, auditEvents, err := r.applyStatus(ctx, payment.MidtransOrderID, domain.PaymentRefunded, nil, nil)
	if err != nil {
		return nil, err
	}
	r.publishOutcome(ctx, result, auditEvents)
	return result, nil
}

// applyStatus holds an exclusive lock on the payment row for the duration of
// the transition and side-effect application, so concurrent deliveries of
// the same notification serialize and at most one applies effects.
func (r *Reconciler) applyStatus(ctx context.Context, orderID string, target domain.PaymentStatus, txnID, method *string) (*ReconciliationResult, []domain.RefundGapAuditEvent, error) {
	var result *ReconciliationResult
	var auditEvents []domain.RefundGapAuditEvent

	err := r.repo.WithTx(ctx, func(ctx context.Context, tx store.Repository) error {
		payment, err := tx.FindPaymentByOrderIDForUpdate(ctx, orderID)
		if err != nil {
			if errors.Is(err, store.ErrPaymentNotFound) {
				return ErrUnknownOrder
			}
			return fmt.Errorf("lock payment: %w", err)
		}

		ev := domain.StatusEvent{
			OrderID:       orderID,
			Target:        target,
			TransactionID: txnID,
			GatewayMethod: method,
			OccurredAt:    r.now(),
		}

		effects, terr := payment.Transition(ev)
		switch {
		case errors.Is(terr, domain.ErrDuplicateStatus):
			// Repeated delivery of an already-applied terminal status:
			// success, zero side effects.
			result = &ReconciliationResult{PaymentID: payment.ID, OrderID: orderID, Status: payment.Status, Duplicate: true}
			return nil
		case errors.Is(terr, domain.ErrInvalidTransition) && payment.Status.IsTerminal():
			return fmt.Errorf("%w: have %s, gateway wants %s", ErrConflictingStatus, payment.Status, target)
		case terr != nil:
			return terr
		}

		if err := tx.UpdatePaymentReconciliation(ctx, payment); err != nil {
			return fmt.Errorf("persist payment transition: %w", err)
		}

		for _, effect := range effects {
			audit, err := r.applyEffect(ctx, tx, payment, effect)
			if err != nil {
				return fmt.Errorf("apply %s: %w", effect.Kind, err)
			}
			if audit != nil {
				auditEvents = append(auditEvents, *audit)
			}
		}

		result = &ReconciliationResult{PaymentID: payment.ID, OrderID: orderID, Status: payment.Status, Applied: true}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return result, auditEvents, nil
}

func (r *Reconciler) applyEffect(ctx context.Context, tx store.Repository, payment *domain.Payment, effect domain.SideEffect) (*domain.RefundGapAuditEvent, error) {
	switch effect.Kind {
	case domain.EffectGrantMembership:
		membership, err := r.quota.GrantMembership(ctx, tx, effect.UserID, effect.PackageID, effect.PaymentID)
		if err != nil {
			return nil, err
		}
		log.Printf("level=info component=reconciler msg=\"membership granted\" payment_id=%s membership_id=%s remaining_ads=%d",
			payment.ID, membership.ID, membership.RemainingAds)
		return nil, nil
	case domain.EffectExtendBoost:
		expiry, err := r.quota.ExtendBoost(ctx, tx, effect.AdID, effect.DurationDays)
		if err != nil {
			return nil, err
		}
		log.Printf("level=info component=reconciler msg=\"boost extended\" payment_id=%s ad_id=%s boost_expires_at=%s",
			payment.ID, effect.AdID, expiry.UTC().Format(time.RFC3339))
		return nil, nil
	case domain.EffectRevokeBenefit:
		return r.quota.RevokeBenefit(ctx, tx, payment)
	default:
		return nil, fmt.Errorf("unknown side effect kind %q", effect.Kind)
	}
}

// publishOutcome emits lifecycle events after the transaction committed.
// Publishing is best-effort: a broker outage must not fail an already
// reconciled payment.
func (r *Reconciler) publishOutcome(ctx context.Context, result *ReconciliationResult, auditEvents []domain.RefundGapAuditEvent) {
	if r.producer == nil || result == nil || !result.Applied {
		return
	}

	routingKey := ""
	switch result.Status {
	case domain.PaymentCompleted:
		routingKey = rabbitmq.RouteKeyPaymentCompleted
	case domain.PaymentFailed:
		routingKey = rabbitmq.RouteKeyPaymentFailed
	case domain.PaymentCancelled:
		routingKey = rabbitmq.RouteKeyPaymentCancelled
	case domain.PaymentRefunded:
		routingKey = rabbitmq.RouteKeyPaymentRefunded
	}
	if routingKey != "" {
		payment, err := r.repo.FindPaymentByID(ctx, result.PaymentID)
		if err != nil {
			log.Printf("level=warn component=reconciler msg=\"event payload lookup failed\" payment_id=%s err=%v", result.PaymentID, err)
		} else {
			event := domain.PaymentLifecycleEvent{
				PaymentID:   payment.ID,
				UserID:      payment.UserID,
				OrderID:     payment.MidtransOrderID,
				PaymentType: payment.PaymentType,
				Status:      payment.Status,
				Amount:      payment.Amount,
				Timestamp:   r.now(),
			}
			if err := r.producer.Publish(ctx, rabbitmq.EventsExchange, routingKey, event); err != nil {
				log.Printf("level=warn component=reconciler msg=\"lifecycle event publish failed\" payment_id=%s err=%v", payment.ID, err)
			}
		}
	}

	for _, audit := range auditEvents {
		if err := r.producer.Publish(ctx, rabbitmq.EventsExchange, rabbitmq.RouteKeyRefundGapAudit, audit); err != nil {
			log.Printf("level=warn component=reconciler msg=\"refund gap audit publish failed\" payment_id=%s err=%v", audit.PaymentID, err)
		}
	}
}
