/**
 * @description
 * This package holds the Midtrans-facing collaborators: the notification
 * payload shape, the SHA-512 signature verifier, and the fixed table mapping
 * the gateway's transaction_status vocabulary onto the internal payment
 * statuses. Nothing in here touches storage.
 *
 * @dependencies
 * - crypto/sha512, crypto/subtle, encoding/hex: signature verification per the
 *   Midtrans HTTP notification spec (sha512(order_id+status_code+gross_amount+server_key)).
 */

package midtrans

import (
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"strings"

	"github.com/appdotbuilder/iklan-baris-online/internal/domain"
)

var (
	ErrInvalidSignature = errors.New("midtrans signature verification failed")
	ErrUnmappedStatus   = errors.New("unrecognized midtrans transaction status")
)

// Notification is the payment notification payload Midtrans POSTs to the
// callback endpoint. PaymentType here is the gateway's own method label
// (gopay, bank_transfer, ...), distinct from the internal PaymentType.
type Notification struct {
	OrderID           string `json:"order_id"`
	TransactionStatus string `json:"transaction_status"`
	StatusCode        string `json:"status_code"`
	TransactionID     string `json:"transaction_id,omitempty"`
	PaymentType       string `json:"payment_type,omitempty"`
	GrossAmount       string `json:"gross_amount,omitempty"`
	FraudStatus       string `json:"fraud_status,omitempty"`
	SignatureKey      string `json:"signature_key"`
}

// statusMap is the closed gateway -> internal vocabulary. Unlisted statuses
// must not mutate state.
var statusMap = map[string]domain.PaymentStatus{
	"capture":        domain.PaymentCompleted,
	"settlement":     domain.PaymentCompleted,
	"deny":           domain.PaymentFailed,
	"expire":         domain.PaymentFailed,
	"failure":        domain.PaymentFailed,
	"cancel":         domain.PaymentCancelled,
	"refund":         domain.PaymentRefunded,
	"partial_refund": domain.PaymentRefunded,
	// Midtrans emits these while the payer has not settled yet; they carry no
	// transition and are acknowledged without touching the payment.
	"pending":   domain.PaymentPending,
	"authorize": domain.PaymentPending,
}

// MapStatus resolves the gateway transaction_status to an internal payment
// status. The second return is false for the non-transition pending family.
func MapStatus(transactionStatus string) (domain.PaymentStatus, bool, error) {
	status, ok := statusMap[strings.ToLower(strings.TrimSpace(transactionStatus))]
	if !ok {
		return "", false, ErrUnmappedStatus
	}
	return status, status != domain.PaymentPending, nil
}

// Verifier validates notification authenticity against the merchant server key.
type Verifier interface {
	Verify(n Notification) error
}

// SignatureVerifier implements Verifier with the documented Midtrans digest.
type SignatureVerifier struct {
	serverKey string
}

func NewSignatureVerifier(serverKey string) *SignatureVerifier {
	return &SignatureVerifier{serverKey: strings.TrimSpace(serverKey)}
}

// Verify recomputes sha512(order_id + status_code + gross_amount + server_key)
// and compares it to the provided signature_key in constant time.
func (v *SignatureVerifier) Verify(n Notification) error {
	if v.serverKey == "" {
		// An unset key would accept anything; treat it as a rejection so a
		// misconfigured deployment fails closed.
		return ErrInvalidSignature
	}
	provided := strings.ToLower(strings.TrimSpace(n.SignatureKey))
	if provided == "" {
		return ErrInvalidSignature
	}

	sum := sha512.Sum512([]byte(n.OrderID + n.StatusCode + n.GrossAmount + v.serverKey))
	expected := hex.EncodeToString(sum[:])
	if subtle.ConstantTimeCompare([]byte(provided), []byte(expected)) != 1 {
		return ErrInvalidSignature
	}
	return nil
}
