package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/appdotbuilder/iklan-baris-online/internal/domain"
	"github.com/appdotbuilder/iklan-baris-online/internal/store"
	"github.com/appdotbuilder/iklan-baris-online/pkg/midtrans"
	"github.com/appdotbuilder/iklan-baris-online/pkg/rabbitmq"
)

var testNow = time.Date(2025, 7, 15, 9, 0, 0, 0, time.UTC)

func fixedNow() time.Time { return testNow }

type acceptAllVerifier struct{}

func (acceptAllVerifier) Verify(n midtrans.Notification) error { return nil }

type rejectAllVerifier struct{}

func (rejectAllVerifier) Verify(n midtrans.Notification) error { return midtrans.ErrInvalidSignature }

type publishedEvent struct {
	exchange   string
	routingKey string
	body       interface{}
}

type publisherStub struct {
	events []publishedEvent
}

func (p *publisherStub) Publish(ctx context.Context, exchange, routingKey string, body interface{}) error {
	p.events = append(p.events, publishedEvent{exchange, routingKey, body})
	return nil
}

func (p *publisherStub) Close() {}

// reconcileRepoStub embeds the Repository interface so unimplemented methods
// panic loudly when a code path touches them unexpectedly.
type reconcileRepoStub struct {
	store.Repository

	payment          *domain.Payment
	pkg              *domain.MembershipPackage
	activeMembership *domain.UserMembership
	ad               *domain.Ad

	updatePaymentErr error

	lockCalled        bool
	createdMembership *domain.UserMembership
	statusChanges     map[uuid.UUID]domain.MembershipStatus
	paymentUpdated    bool
	updateBoostCalled bool
	updateBoostFlag   bool
	updateBoostExpiry *time.Time
}

func (s *reconcileRepoStub) WithTx(ctx context.Context, fn func(ctx context.Context, r store.Repository) error) error {
	return fn(ctx, s)
}

func (s *reconcileRepoStub) FindPaymentByID(ctx context.Context, id uuid.UUID) (*domain.Payment, error) {
	if s.payment == nil || s.payment.ID != id {
		return nil, store.ErrPaymentNotFound
	}
	return s.payment, nil
}

func (s *reconcileRepoStub) FindPaymentByOrderID(ctx context.Context, orderID string) (*domain.Payment, error) {
	if s.payment == nil || s.payment.MidtransOrderID != orderID {
		return nil, store.ErrPaymentNotFound
	}
	return s.payment, nil
}

func (s *reconcileRepoStub) FindPaymentByOrderIDForUpdate(ctx context.Context, orderID string) (*domain.Payment, error) {
	s.lockCalled = true
	return s.FindPaymentByOrderID(ctx, orderID)
}

func (s *reconcileRepoStub) UpdatePaymentReconciliation(ctx context.Context, p *domain.Payment) error {
	if s.updatePaymentErr != nil {
		return s.updatePaymentErr
	}
	s.paymentUpdated = true
	return nil
}

func (s *reconcileRepoStub) FindMembershipPackageByID(ctx context.Context, id uuid.UUID) (*domain.MembershipPackage, error) {
	if s.pkg == nil || s.pkg.ID != id {
		return nil, store.ErrPackageNotFound
	}
	return s.pkg, nil
}

func (s *reconcileRepoStub) LockUserMemberships(ctx context.Context, userID uuid.UUID) error {
	return nil
}

func (s *reconcileRepoStub) FindActiveMembershipByUserIDForUpdate(ctx context.Context, userID uuid.UUID) (*domain.UserMembership, error) {
	if s.activeMembership == nil || s.activeMembership.UserID != userID {
		return nil, store.ErrMembershipNotFound
	}
	return s.activeMembership, nil
}

func (s *reconcileRepoStub) CreateMembership(ctx context.Context, m *domain.UserMembership) error {
	s.createdMembership = m
	return nil
}

func (s *reconcileRepoStub) SetMembershipStatus(ctx context.Context, membershipID uuid.UUID, status domain.MembershipStatus) error {
	if s.statusChanges == nil {
		s.statusChanges = make(map[uuid.UUID]domain.MembershipStatus)
	}
	s.statusChanges[membershipID] = status
	return nil
}

func (s *reconcileRepoStub) FindAdByIDForUpdate(ctx context.Context, id uuid.UUID) (*domain.Ad, error) {
	if s.ad == nil || s.ad.ID != id {
		return nil, store.ErrAdNotFound
	}
	return s.ad, nil
}

func (s *reconcileRepoStub) UpdateAdBoost(ctx context.Context, adID uuid.UUID, isBoosted bool, boostExpiresAt *time.Time) error {
	s.updateBoostCalled = true
	s.updateBoostFlag = isBoosted
	s.updateBoostExpiry = boostExpiresAt
	return nil
}

func pendingMembershipPayment(pkg *domain.MembershipPackage) *domain.Payment {
	pkgID := pkg.ID
	return &domain.Payment{
		ID:                  uuid.New(),
		UserID:              uuid.New(),
		PaymentType:         domain.PaymentTypeMembership,
		MembershipPackageID: &pkgID,
		Amount:              pkg.Price,
		Currency:            "IDR",
		Status:              domain.PaymentPending,
		MidtransOrderID:     "IKL-" + uuid.New().String(),
	}
}

func testPackage() *domain.MembershipPackage {
	return &domain.MembershipPackage{
		ID:           uuid.New(),
		Name:         "Paket Pro",
		Price:        150000,
		DurationDays: 30,
		MaxAds:       10,
		BoostCredits: 3,
		IsActive:     true,
	}
}

func settlementFor(p *domain.Payment) midtrans.Notification {
	return midtrans.Notification{
		OrderID:           p.MidtransOrderID,
		TransactionStatus: "settlement",
		StatusCode:        "200",
		TransactionID:     "mt-" + uuid.New().String(),
		PaymentType:       "gopay",
	}
}

func newTestReconciler(repo *reconcileRepoStub, producer rabbitmq.Publisher) *Reconciler {
	return NewReconciler(repo, acceptAllVerifier{}, NewQuotaLedger(fixedNow), producer, fixedNow)
}

func TestReconcile_SettlementGrantsMembership(t *testing.T) {
	pkg := testPackage()
	payment := pendingMembershipPayment(pkg)
	repo := &reconcileRepoStub{payment: payment, pkg: pkg}
	producer := &publisherStub{}

	result, err := newTestReconciler(repo, producer).Reconcile(context.Background(), settlementFor(payment))
	if err != nil {
		t.Fatalf("Reconcile returned error: %v", err)
	}

	if !result.Applied || result.Duplicate {
		t.Fatalf("expected applied result, got %+v", result)
	}
	if payment.Status != domain.PaymentCompleted {
		t.Fatalf("expected payment completed, got %s", payment.Status)
	}
	if payment.PaidAt == nil || !payment.PaidAt.Equal(testNow) {
		t.Fatalf("expected PaidAt %v, got %v", testNow, payment.PaidAt)
	}
	if !repo.paymentUpdated {
		t.Fatal("expected payment row to be persisted")
	}

	m := repo.createdMembership
	if m == nil {
		t.Fatal("expected a membership to be created")
	}
	if m.RemainingAds != pkg.MaxAds || m.RemainingBoostCredits != pkg.BoostCredits {
		t.Fatalf("expected fresh counters from package, got ads=%d credits=%d", m.RemainingAds, m.RemainingBoostCredits)
	}
	if !m.EndDate.Equal(testNow.AddDate(0, 0, pkg.DurationDays)) {
		t.Fatalf("expected end date %v, got %v", testNow.AddDate(0, 0, pkg.DurationDays), m.EndDate)
	}

	if len(producer.events) != 1 || producer.events[0].routingKey != rabbitmq.RouteKeyPaymentCompleted {
		t.Fatalf("expected one payment.completed event, got %+v", producer.events)
	}
}

func TestReconcile_SettlementSupersedesExistingMembership(t *testing.T) {
	pkg := testPackage()
	payment := pendingMembershipPayment(pkg)
	existing := &domain.UserMembership{
		ID:                    uuid.New(),
		UserID:                payment.UserID,
		PackageID:             uuid.New(),
		Status:                domain.MembershipActive,
		EndDate:               testNow.AddDate(0, 0, 12),
		RemainingAds:          4,
		RemainingBoostCredits: 1,
	}
	repo := &reconcileRepoStub{payment: payment, pkg: pkg, activeMembership: existing}

	if _, err := newTestReconciler(repo, &publisherStub{}).Reconcile(context.Background(), settlementFor(payment)); err != nil {
		t.Fatalf("Reconcile returned error: %v", err)
	}

	// Replace, never merge: the old row goes inactive and the new one starts
	// with full package counters.
	if repo.statusChanges[existing.ID] != domain.MembershipInactive {
		t.Fatal("expected the existing membership to be superseded")
	}
	if repo.createdMembership == nil || repo.createdMembership.RemainingAds != pkg.MaxAds {
		t.Fatal("expected a fresh membership with package counters")
	}
}

func TestReconcile_DuplicateSettlementIsNoOp(t *testing.T) {
	pkg := testPackage()
	payment := pendingMembershipPayment(pkg)
	payment.Status = domain.PaymentCompleted
	repo := &reconcileRepoStub{payment: payment, pkg: pkg}
	producer := &publisherStub{}

	result, err := newTestReconciler(repo, producer).Reconcile(context.Background(), settlementFor(payment))
	if err != nil {
		t.Fatalf("expected duplicate delivery to succeed, got %v", err)
	}

	if !result.Duplicate || result.Applied {
		t.Fatalf("expected duplicate no-op result, got %+v", result)
	}
	if repo.createdMembership != nil {
		t.Fatal("duplicate delivery must not grant a second membership")
	}
	if repo.paymentUpdated {
		t.Fatal("duplicate delivery must not rewrite the payment row")
	}
	if len(producer.events) != 0 {
		t.Fatal("duplicate delivery must not publish events")
	}
}

func TestReconcile_ConflictingTerminalStatus(t *testing.T) {
	pkg := testPackage()
	payment := pendingMembershipPayment(pkg)
	payment.Status = domain.PaymentCompleted
	repo := &reconcileRepoStub{payment: payment, pkg: pkg}

	n := settlementFor(payment)
	n.TransactionStatus = "cancel"

	_, err := newTestReconciler(repo, &publisherStub{}).Reconcile(context.Background(), n)
	if !errors.Is(err, ErrConflictingStatus) {
		t.Fatalf("expected ErrConflictingStatus, got %v", err)
	}
	if payment.Status != domain.PaymentCompleted {
		t.Fatalf("conflicting delivery must not mutate the payment, got %s", payment.Status)
	}
}

func TestReconcile_InvalidSignatureStopsBeforeStorage(t *testing.T) {
	repo := &reconcileRepoStub{}
	r := NewReconciler(repo, rejectAllVerifier{}, NewQuotaLedger(fixedNow), &publisherStub{}, fixedNow)

	_, err := r.Reconcile(context.Background(), midtrans.Notification{OrderID: "IKL-x", TransactionStatus: "settlement"})
	if !errors.Is(err, midtrans.ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
	if repo.lockCalled {
		t.Fatal("rejected notifications must not reach storage")
	}
}

func TestReconcile_UnknownOrder(t *testing.T) {
	repo := &reconcileRepoStub{}

	n := midtrans.Notification{OrderID: "IKL-missing", TransactionStatus: "settlement"}
	_, err := newTestReconciler(repo, &publisherStub{}).Reconcile(context.Background(), n)
	if !errors.Is(err, ErrUnknownOrder) {
		t.Fatalf("expected ErrUnknownOrder, got %v", err)
	}
}

func TestReconcile_UnmappedStatus(t *testing.T) {
	pkg := testPackage()
	payment := pendingMembershipPayment(pkg)
	repo := &reconcileRepoStub{payment: payment, pkg: pkg}

	n := settlementFor(payment)
	n.TransactionStatus = "chargeback"

	_, err := newTestReconciler(repo, &publisherStub{}).Reconcile(context.Background(), n)
	if !errors.Is(err, midtrans.ErrUnmappedStatus) {
		t.Fatalf("expected ErrUnmappedStatus, got %v", err)
	}
	if repo.lockCalled {
		t.Fatal("unmapped statuses must not mutate state")
	}
}

func TestReconcile_PendingStatusAcknowledgesWithoutTransition(t *testing.T) {
	pkg := testPackage()
	payment := pendingMembershipPayment(pkg)
	repo := &reconcileRepoStub{payment: payment, pkg: pkg}

	n := settlementFor(payment)
	n.TransactionStatus = "pending"

	result, err := newTestReconciler(repo, &publisherStub{}).Reconcile(context.Background(), n)
	if err != nil {
		t.Fatalf("expected pending notification to be acknowledged, got %v", err)
	}
	if result.Applied {
		t.Fatal("pending family must not apply a transition")
	}
	if payment.Status != domain.PaymentPending {
		t.Fatalf("expected payment untouched, got %s", payment.Status)
	}
	if repo.paymentUpdated {
		t.Fatal("pending family must not write the payment row")
	}
}

func TestReconcile_BoostSettlementExtendsAd(t *testing.T) {
	adID := uuid.New()
	payment := &domain.Payment{
		ID:              uuid.New(),
		UserID:          uuid.New(),
		PaymentType:     domain.PaymentTypeAdBoost,
		BoostedAdID:     &adID,
		Amount:          140000,
		Currency:        "IDR",
		Status:          domain.PaymentPending,
		MidtransOrderID: "IKL-" + uuid.New().String(),
		PaymentDetails:  map[string]any{"boost_duration_days": 14},
	}
	repo := &reconcileRepoStub{
		payment: payment,
		ad:      &domain.Ad{ID: adID, UserID: payment.UserID, Status: domain.AdActive},
	}

	result, err := newTestReconciler(repo, &publisherStub{}).Reconcile(context.Background(), settlementFor(payment))
	if err != nil {
		t.Fatalf("Reconcile returned error: %v", err)
	}

	if !result.Applied {
		t.Fatal("expected boost settlement to apply")
	}
	if !repo.updateBoostCalled || !repo.updateBoostFlag {
		t.Fatal("expected the ad to be flagged boosted")
	}
	want := testNow.AddDate(0, 0, 14)
	if repo.updateBoostExpiry == nil || !repo.updateBoostExpiry.Equal(want) {
		t.Fatalf("expected boost expiry %v, got %v", want, repo.updateBoostExpiry)
	}
}

func TestReconcile_RefundRevokesMembershipAndReportsGap(t *testing.T) {
	pkg := testPackage()
	payment := pendingMembershipPayment(pkg)
	payment.Status = domain.PaymentCompleted
	membership := &domain.UserMembership{
		ID:                 uuid.New(),
		UserID:             payment.UserID,
		PackageID:          pkg.ID,
		GrantedByPaymentID: payment.ID,
		Status:             domain.MembershipActive,
		EndDate:            testNow.AddDate(0, 0, 20),
		// Two ads already published against this membership.
		RemainingAds:          pkg.MaxAds - 2,
		RemainingBoostCredits: pkg.BoostCredits,
	}
	repo := &reconcileRepoStub{payment: payment, pkg: pkg, activeMembership: membership}
	producer := &publisherStub{}

	n := settlementFor(payment)
	n.TransactionStatus = "refund"

	result, err := newTestReconciler(repo, producer).Reconcile(context.Background(), n)
	if err != nil {
		t.Fatalf("Reconcile returned error: %v", err)
	}

	if !result.Applied || payment.Status != domain.PaymentRefunded {
		t.Fatalf("expected refunded payment, got %+v status=%s", result, payment.Status)
	}
	if repo.statusChanges[membership.ID] != domain.MembershipInactive {
		t.Fatal("expected the refunded membership to be deactivated")
	}

	var gotAudit *domain.RefundGapAuditEvent
	for _, ev := range producer.events {
		if ev.routingKey == rabbitmq.RouteKeyRefundGapAudit {
			audit := ev.body.(domain.RefundGapAuditEvent)
			gotAudit = &audit
		}
	}
	if gotAudit == nil {
		t.Fatal("expected a refund gap audit event for consumed quota")
	}
	if gotAudit.AdsConsumed != 2 {
		t.Fatalf("expected 2 consumed ads reported, got %d", gotAudit.AdsConsumed)
	}
}

func TestReconcile_PersistenceFailurePropagates(t *testing.T) {
	pkg := testPackage()
	payment := pendingMembershipPayment(pkg)
	repo := &reconcileRepoStub{payment: payment, pkg: pkg, updatePaymentErr: errors.New("db unavailable")}
	producer := &publisherStub{}

	_, err := newTestReconciler(repo, producer).Reconcile(context.Background(), settlementFor(payment))
	if err == nil {
		t.Fatal("expected persistence failure to surface")
	}
	if len(producer.events) != 0 {
		t.Fatal("failed reconciliation must not publish events")
	}
}

func TestRefundPayment_OnlyCompletedPaymentsRefund(t *testing.T) {
	pkg := testPackage()
	payment := pendingMembershipPayment(pkg)
	repo := &reconcileRepoStub{payment: payment, pkg: pkg}

	_, err := newTestReconciler(repo, &publisherStub{}).RefundPayment(context.Background(), payment.ID)
	if !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition for pending payment, got %v", err)
	}
}
