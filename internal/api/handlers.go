/**
 * @description
 * This file contains the HTTP handlers for the lifecycle engine's API
 * endpoints. Handlers parse incoming requests, call the reconciliation or
 * checkout services, and translate domain errors into HTTP status codes.
 *
 * @dependencies
 * - encoding/json, log, net/http: Standard Go libraries.
 * - internal/app, internal/domain, internal/store, pkg/midtrans: service
 *   logic, models, and custom errors.
 */

package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/appdotbuilder/iklan-baris-online/internal/app"
	"github.com/appdotbuilder/iklan-baris-online/internal/domain"
	"github.com/appdotbuilder/iklan-baris-online/internal/store"
	"github.com/appdotbuilder/iklan-baris-online/pkg/midtrans"
)

// Handlers holds the application services the HTTP layer dispatches to.
type Handlers struct {
	reconciler *app.Reconciler
	service    *app.Service
}

// NewHandlers creates the handler set for the router.
func NewHandlers(reconciler *app.Reconciler, service *app.Service) *Handlers {
	return &Handlers{reconciler: reconciler, service: service}
}

type createMembershipPaymentRequest struct {
	PackageID string `json:"package_id"`
}

type createBoostPaymentRequest struct {
	AdID         string `json:"ad_id"`
	DurationDays int    `json:"duration_days"`
}

type paymentResponse struct {
	PaymentID   string               `json:"payment_id"`
	OrderID     string               `json:"order_id"`
	PaymentType domain.PaymentType   `json:"payment_type"`
	Amount      int64                `json:"amount"`
	Currency    string               `json:"currency"`
	Status      domain.PaymentStatus `json:"status"`
	ExpiresAt   *time.Time           `json:"expires_at,omitempty"`
}

func buildPaymentResponse(p *domain.Payment) paymentResponse {
	return paymentResponse{
		PaymentID:   p.ID.String(),
		OrderID:     p.MidtransOrderID,
		PaymentType: p.PaymentType,
		Amount:      p.Amount,
		Currency:    p.Currency,
		Status:      p.Status,
		ExpiresAt:   p.ExpiresAt,
	}
}

// MidtransCallbackHandler ingests an asynchronous payment notification from
// the gateway. A 2xx tells the gateway to stop retrying, so duplicates of an
// already-applied status return 200; everything that should be retried or
// investigated returns a non-2xx.
func (h *Handlers) MidtransCallbackHandler(w http.ResponseWriter, r *http.Request) {
	var notification midtrans.Notification
	if err := json.NewDecoder(r.Body).Decode(&notification); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid notification payload")
		return
	}

	result, err := h.reconciler.Reconcile(r.Context(), notification)
	if err != nil {
		switch {
		case errors.Is(err, midtrans.ErrInvalidSignature):
			h.writeError(w, http.StatusForbidden, "Invalid signature")
		case errors.Is(err, midtrans.ErrUnmappedStatus):
			h.writeError(w, http.StatusBadRequest, "Unrecognized transaction status")
		case errors.Is(err, app.ErrUnknownOrder):
			h.writeError(w, http.StatusNotFound, "Unknown order")
		case errors.Is(err, app.ErrConflictingStatus):
			h.writeError(w, http.StatusConflict, "Conflicting terminal status")
		case errors.Is(err, domain.ErrInvalidTransition):
			h.writeError(w, http.StatusConflict, "Invalid payment transition")
		case errors.Is(err, store.ErrStorageConflict):
			h.writeError(w, http.StatusServiceUnavailable, "Storage contention, retry later")
		default:
			log.Printf("level=error component=api endpoint=midtrans_callback outcome=failed order_id=%s err=%v", notification.OrderID, err)
			h.writeError(w, http.StatusInternalServerError, "Could not process notification")
		}
		return
	}

	h.writeJSON(w, http.StatusOK, result)
}

// CreateMembershipPaymentHandler starts a membership purchase.
func (h *Handlers) CreateMembershipPaymentHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.authenticatedUserID(w, r)
	if !ok {
		return
	}

	var req createMembershipPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	packageID, err := uuid.Parse(req.PackageID)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid package ID")
		return
	}

	payment, err := h.service.CreateMembershipPayment(r.Context(), userID, packageID)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrPackageNotFound):
			h.writeError(w, http.StatusNotFound, "Membership package not found")
		case errors.Is(err, app.ErrPackageUnavailable):
			h.writeError(w, http.StatusUnprocessableEntity, "Membership package is not available")
		default:
			log.Printf("level=error component=api endpoint=create_membership_payment outcome=failed user_id=%s err=%v", userID, err)
			h.writeError(w, http.StatusInternalServerError, "Could not create payment")
		}
		return
	}

	h.writeJSON(w, http.StatusCreated, buildPaymentResponse(payment))
}

// CreateBoostPaymentHandler starts a direct paid boost for an ad.
func (h *Handlers) CreateBoostPaymentHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.authenticatedUserID(w, r)
	if !ok {
		return
	}

	var req createBoostPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	adID, err := uuid.Parse(req.AdID)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid ad ID")
		return
	}

	payment, err := h.service.CreateBoostPayment(r.Context(), userID, adID, req.DurationDays)
	if err != nil {
		switch {
		case errors.Is(err, app.ErrInvalidBoostDuration):
			h.writeError(w, http.StatusBadRequest, "Boost duration must be between 1 and 30 days")
		case errors.Is(err, store.ErrAdNotFound):
			h.writeError(w, http.StatusNotFound, "Ad not found")
		case errors.Is(err, app.ErrAdNotBoostable):
			h.writeError(w, http.StatusUnprocessableEntity, "Only active ads can be boosted")
		default:
			log.Printf("level=error component=api endpoint=create_boost_payment outcome=failed user_id=%s ad_id=%s err=%v", userID, adID, err)
			h.writeError(w, http.StatusInternalServerError, "Could not create payment")
		}
		return
	}

	h.writeJSON(w, http.StatusCreated, buildPaymentResponse(payment))
}

// ConsumeAdQuotaHandler spends one ad slot from the caller's membership.
// The listing service calls this while publishing a new ad.
func (h *Handlers) ConsumeAdQuotaHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.authenticatedUserID(w, r)
	if !ok {
		return
	}

	if err := h.service.ConsumeAdQuota(r.Context(), userID); err != nil {
		h.writeQuotaError(w, "consume_ad_quota", userID, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]bool{"consumed": true})
}

// BoostAdWithCreditHandler spends one membership boost credit on an ad.
func (h *Handlers) BoostAdWithCreditHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.authenticatedUserID(w, r)
	if !ok {
		return
	}
	adID, err := uuid.Parse(chi.URLParam(r, "adID"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid ad ID")
		return
	}

	expiry, err := h.service.BoostAdWithCredit(r.Context(), userID, adID)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrAdNotFound):
			h.writeError(w, http.StatusNotFound, "Ad not found")
		case errors.Is(err, app.ErrAdNotBoostable):
			h.writeError(w, http.StatusUnprocessableEntity, "Only active ads can be boosted")
		default:
			h.writeQuotaError(w, "boost_with_credit", userID, err)
		}
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{"boost_expires_at": expiry.UTC().Format(time.RFC3339)})
}

// MembershipStatusHandler reports the caller's membership and remaining quotas.
func (h *Handlers) MembershipStatusHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.authenticatedUserID(w, r)
	if !ok {
		return
	}

	view, err := h.service.GetMembershipStatus(r.Context(), userID)
	if err != nil {
		log.Printf("level=error component=api endpoint=membership_status outcome=failed user_id=%s err=%v", userID, err)
		h.writeError(w, http.StatusInternalServerError, "Could not retrieve membership status")
		return
	}

	h.writeJSON(w, http.StatusOK, view)
}

// UserStatisticsHandler returns the caller's ad and engagement rollup.
func (h *Handlers) UserStatisticsHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.authenticatedUserID(w, r)
	if !ok {
		return
	}

	stats, err := h.service.GetUserStatistics(r.Context(), userID)
	if err != nil {
		log.Printf("level=error component=api endpoint=user_statistics outcome=failed user_id=%s err=%v", userID, err)
		h.writeError(w, http.StatusInternalServerError, "Could not retrieve statistics")
		return
	}

	h.writeJSON(w, http.StatusOK, stats)
}

// TrackAdViewHandler increments the daily view counter for an ad.
func (h *Handlers) TrackAdViewHandler(w http.ResponseWriter, r *http.Request) {
	h.trackAdStatistic(w, r, h.service.TrackAdView)
}

// TrackAdContactHandler increments the daily contact counter for an ad.
func (h *Handlers) TrackAdContactHandler(w http.ResponseWriter, r *http.Request) {
	h.trackAdStatistic(w, r, h.service.TrackAdContact)
}

// RefundPaymentHandler applies a manual refund to a completed payment. This
// route is internal: support tooling calls it, never end users.
func (h *Handlers) RefundPaymentHandler(w http.ResponseWriter, r *http.Request) {
	paymentID, err := uuid.Parse(chi.URLParam(r, "paymentID"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid payment ID")
		return
	}

	result, err := h.reconciler.RefundPayment(r.Context(), paymentID)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrPaymentNotFound), errors.Is(err, app.ErrUnknownOrder):
			h.writeError(w, http.StatusNotFound, "Payment not found")
		case errors.Is(err, app.ErrConflictingStatus):
			h.writeError(w, http.StatusConflict, "Payment is already in a conflicting terminal status")
		case errors.Is(err, domain.ErrInvalidTransition):
			h.writeError(w, http.StatusConflict, "Only completed payments can be refunded")
		case errors.Is(err, store.ErrStorageConflict):
			h.writeError(w, http.StatusServiceUnavailable, "Storage contention, retry later")
		default:
			log.Printf("level=error component=api endpoint=refund_payment outcome=failed payment_id=%s err=%v", paymentID, err)
			h.writeError(w, http.StatusInternalServerError, "Could not refund payment")
		}
		return
	}

	h.writeJSON(w, http.StatusOK, result)
}

func (h *Handlers) trackAdStatistic(w http.ResponseWriter, r *http.Request, track func(ctx context.Context, adID uuid.UUID) error) {
	adID, err := uuid.Parse(chi.URLParam(r, "adID"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid ad ID")
		return
	}

	if err := track(r.Context(), adID); err != nil {
		if errors.Is(err, store.ErrAdNotFound) {
			h.writeError(w, http.StatusNotFound, "Ad not found")
			return
		}
		log.Printf("level=error component=api endpoint=track_ad_statistic outcome=failed ad_id=%s err=%v", adID, err)
		h.writeError(w, http.StatusInternalServerError, "Could not record statistic")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// authenticatedUserID resolves the JWT subject into a user UUID, writing the
// error response itself when the caller cannot be identified.
func (h *Handlers) authenticatedUserID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	subject, ok := GetUserID(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "Could not get user ID from context")
		return uuid.Nil, false
	}
	userID, err := uuid.Parse(subject)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid user ID format")
		return uuid.Nil, false
	}
	return userID, true
}

// writeQuotaError maps the quota ledger errors shared by the consume routes.
func (h *Handlers) writeQuotaError(w http.ResponseWriter, endpoint string, userID uuid.UUID, err error) {
	switch {
	case errors.Is(err, app.ErrNoActiveMembership):
		h.writeError(w, http.StatusPaymentRequired, "No active membership")
	case errors.Is(err, store.ErrQuotaExhausted):
		h.writeError(w, http.StatusConflict, "Membership quota exhausted")
	case errors.Is(err, store.ErrStorageConflict):
		h.writeError(w, http.StatusServiceUnavailable, "Storage contention, retry later")
	default:
		log.Printf("level=error component=api endpoint=%s outcome=failed user_id=%s err=%v", endpoint, userID, err)
		h.writeError(w, http.StatusInternalServerError, "Could not update quota")
	}
}

// writeJSON is a helper for writing JSON responses.
func (h *Handlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError is a helper for writing JSON error responses.
func (h *Handlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
