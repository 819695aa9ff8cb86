package midtrans

import (
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"testing"

	"github.com/appdotbuilder/iklan-baris-online/internal/domain"
)

func TestMapStatus(t *testing.T) {
	tests := []struct {
		status      string
		want        domain.PaymentStatus
		transitions bool
		wantErr     bool
	}{
		{"capture", domain.PaymentCompleted, true, false},
		{"settlement", domain.PaymentCompleted, true, false},
		{"deny", domain.PaymentFailed, true, false},
		{"expire", domain.PaymentFailed, true, false},
		{"failure", domain.PaymentFailed, true, false},
		{"cancel", domain.PaymentCancelled, true, false},
		{"refund", domain.PaymentRefunded, true, false},
		{"partial_refund", domain.PaymentRefunded, true, false},
		{"pending", domain.PaymentPending, false, false},
		{"authorize", domain.PaymentPending, false, false},
		{"  Settlement  ", domain.PaymentCompleted, true, false},
		{"chargeback", "", false, true},
		{"", "", false, true},
	}

	for _, tt := range tests {
		t.Run("status "+tt.status, func(t *testing.T) {
			got, transitions, err := MapStatus(tt.status)
			if tt.wantErr {
				if !errors.Is(err, ErrUnmappedStatus) {
					t.Fatalf("expected ErrUnmappedStatus for %q, got %v", tt.status, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("MapStatus(%q) returned error: %v", tt.status, err)
			}
			if got != tt.want || transitions != tt.transitions {
				t.Fatalf("MapStatus(%q) = (%s, %t), want (%s, %t)", tt.status, got, transitions, tt.want, tt.transitions)
			}
		})
	}
}

func signNotification(n Notification, serverKey string) string {
	sum := sha512.Sum512([]byte(n.OrderID + n.StatusCode + n.GrossAmount + serverKey))
	return hex.EncodeToString(sum[:])
}

func TestSignatureVerifier_AcceptsValidSignature(t *testing.T) {
	const serverKey = "SB-Mid-server-testkey"
	n := Notification{
		OrderID:           "IKL-9c2f8a11",
		TransactionStatus: "settlement",
		StatusCode:        "200",
		GrossAmount:       "150000.00",
	}
	n.SignatureKey = signNotification(n, serverKey)

	v := NewSignatureVerifier(serverKey)
	if err := v.Verify(n); err != nil {
		t.Fatalf("expected valid signature to verify, got %v", err)
	}
}

func TestSignatureVerifier_RejectsTamperedPayload(t *testing.T) {
	const serverKey = "SB-Mid-server-testkey"
	n := Notification{
		OrderID:           "IKL-9c2f8a11",
		TransactionStatus: "settlement",
		StatusCode:        "200",
		GrossAmount:       "150000.00",
	}
	n.SignatureKey = signNotification(n, serverKey)

	// Attacker inflates the amount after signing.
	n.GrossAmount = "1.00"

	v := NewSignatureVerifier(serverKey)
	if !errors.Is(v.Verify(n), ErrInvalidSignature) {
		t.Fatal("expected tampered payload to be rejected")
	}
}

func TestSignatureVerifier_RejectsWrongServerKey(t *testing.T) {
	n := Notification{OrderID: "IKL-1", StatusCode: "200", GrossAmount: "5000.00"}
	n.SignatureKey = signNotification(n, "other-merchant-key")

	v := NewSignatureVerifier("SB-Mid-server-testkey")
	if !errors.Is(v.Verify(n), ErrInvalidSignature) {
		t.Fatal("expected signature from another merchant key to be rejected")
	}
}

func TestSignatureVerifier_FailsClosedWithoutServerKey(t *testing.T) {
	n := Notification{OrderID: "IKL-1", StatusCode: "200", GrossAmount: "5000.00"}
	n.SignatureKey = signNotification(n, "")

	v := NewSignatureVerifier("   ")
	if !errors.Is(v.Verify(n), ErrInvalidSignature) {
		t.Fatal("expected verifier with no server key to reject everything")
	}
}

func TestSignatureVerifier_RejectsEmptySignature(t *testing.T) {
	v := NewSignatureVerifier("SB-Mid-server-testkey")
	n := Notification{OrderID: "IKL-1", StatusCode: "200", GrossAmount: "5000.00"}

	if !errors.Is(v.Verify(n), ErrInvalidSignature) {
		t.Fatal("expected missing signature_key to be rejected")
	}
}
