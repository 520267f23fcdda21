package services

import (
	"context"
	"errors"
	"testing"

	domain "github.com/swiftcart/api/internal/domain"
	"github.com/swiftcart/api/internal/payments"
)

type stubWebhookEventRepo struct {
	seen      map[string]domain.WebhookEvent
	recordErr error
}

func newStubWebhookEventRepo() *stubWebhookEventRepo {
	return &stubWebhookEventRepo{seen: map[string]domain.WebhookEvent{}}
}

func (s *stubWebhookEventRepo) Record(ctx context.Context, event domain.WebhookEvent) (bool, error) {
	if s.recordErr != nil {
		return false, s.recordErr
	}
	key := event.Provider + "__" + event.EventID
	if _, ok := s.seen[key]; ok {
		return false, nil
	}
	s.seen[key] = event
	return true, nil
}

func (s *stubWebhookEventRepo) Find(ctx context.Context, provider string, eventID string) (domain.WebhookEvent, error) {
	event, ok := s.seen[provider+"__"+eventID]
	if !ok {
		return domain.WebhookEvent{}, stubRepoError{notFound: true}
	}
	return event, nil
}

type stubGateway struct {
	webhook    payments.WebhookResult
	webhookErr error
	details    payments.PaymentDetails
	lookupErr  error
	lastLookup payments.LookupRequest
}

func (s *stubGateway) VerifyWebhook(ctx context.Context, providerKey string, payload []byte, headers map[string]string) (payments.WebhookResult, error) {
	if s.webhookErr != nil {
		return payments.WebhookResult{}, s.webhookErr
	}
	return s.webhook, nil
}

func (s *stubGateway) LookupPayment(ctx context.Context, paymentCtx payments.PaymentContext, req payments.LookupRequest) (payments.PaymentDetails, error) {
	s.lastLookup = req
	if s.lookupErr != nil {
		return payments.PaymentDetails{}, s.lookupErr
	}
	return s.details, nil
}

type stubShipmentBooker struct {
	calls []string
	err   error
	// orders, when set, lets the stub echo back the persisted order the way
	// the real EnsureShipment re-reads it from the repository.
	orders *stubOrderRepo
}

func (s *stubShipmentBooker) EnsureShipment(ctx context.Context, orderID string) (Order, error) {
	s.calls = append(s.calls, orderID)
	if s.err != nil {
		return Order{}, s.err
	}
	if s.orders != nil {
		if stored, ok := s.orders.orders[orderID]; ok {
			return stored, nil
		}
	}
	return Order{ID: orderID}, nil
}

type stubRetryQueue struct {
	jobs []ShipmentRetryJob
	err  error
}

func (s *stubRetryQueue) PublishShipmentRetry(ctx context.Context, job ShipmentRetryJob) error {
	s.jobs = append(s.jobs, job)
	return s.err
}

func pendingOnlineOrder(id string) domain.Order {
	order := confirmedOrder(id)
	order.Status = domain.OrderStatusPending
	order.PaymentStatus = domain.PaymentStatusPending
	order.PaymentMethod = domain.PaymentMethodOnline
	order.PaymentProvider = "cashfree"
	order.PaymentSessionID = "sess_1"
	order.Version = 2
	return order
}

func newTestPaymentService(t *testing.T, repo *stubOrderRepo, events *stubWebhookEventRepo, gateway *stubGateway, booker *stubShipmentBooker, queue *stubRetryQueue) PaymentService {
	t.Helper()
	deps := PaymentServiceDeps{
		Orders:  repo,
		Events:  events,
		Gateway: gateway,
		Clock:   fixedClock,
	}
	if booker != nil {
		deps.Shipments = booker
	}
	if queue != nil {
		deps.RetryQueue = queue
	}
	svc, err := NewPaymentService(deps)
	if err != nil {
		t.Fatalf("new payment service: %v", err)
	}
	return svc
}

func TestPaymentServiceWebhookSuccessConfirmsAndBooks(t *testing.T) {
	repo := newStubOrderRepo(pendingOnlineOrder("ord_1"))
	gateway := &stubGateway{webhook: payments.WebhookResult{
		EventID:   "evt_1",
		SessionID: "sess_1",
		OrderID:   "ord_1",
		Status:    payments.StatusSucceeded,
	}}
	booker := &stubShipmentBooker{}
	svc := newTestPaymentService(t, repo, newStubWebhookEventRepo(), gateway, booker, nil)

	outcome, err := svc.HandleWebhook(context.Background(), PaymentWebhookCommand{
		Provider: "cashfree",
		Payload:  []byte(`{"type":"PAYMENT_SUCCESS_WEBHOOK"}`),
	})
	if err != nil {
		t.Fatalf("handle webhook: %v", err)
	}
	if !outcome.Applied || outcome.Duplicate {
		t.Fatalf("expected applied outcome, got %+v", outcome)
	}

	stored := repo.orders["ord_1"]
	if stored.Status != domain.OrderStatusConfirmed || stored.PaymentStatus != domain.PaymentStatusSuccess {
		t.Fatalf("order not confirmed: status=%s payment=%s", stored.Status, stored.PaymentStatus)
	}
	if stored.ConfirmedAt == nil {
		t.Fatalf("expected confirmedAt stamp")
	}
	if len(booker.calls) != 1 || booker.calls[0] != "ord_1" {
		t.Fatalf("expected shipment booking for ord_1, got %v", booker.calls)
	}
}

func TestPaymentServiceWebhookDuplicateAcknowledged(t *testing.T) {
	repo := newStubOrderRepo(pendingOnlineOrder("ord_1"))
	events := newStubWebhookEventRepo()
	gateway := &stubGateway{webhook: payments.WebhookResult{
		EventID: "evt_1",
		OrderID: "ord_1",
		Status:  payments.StatusSucceeded,
	}}
	svc := newTestPaymentService(t, repo, events, gateway, &stubShipmentBooker{}, nil)

	ctx := context.Background()
	cmd := PaymentWebhookCommand{Provider: "cashfree", Payload: []byte(`{}`)}
	if _, err := svc.HandleWebhook(ctx, cmd); err != nil {
		t.Fatalf("first delivery: %v", err)
	}
	versionAfterFirst := repo.orders["ord_1"].Version

	outcome, err := svc.HandleWebhook(ctx, cmd)
	if err != nil {
		t.Fatalf("second delivery: %v", err)
	}
	if !outcome.Duplicate || outcome.Applied {
		t.Fatalf("expected duplicate outcome, got %+v", outcome)
	}
	if repo.orders["ord_1"].Version != versionAfterFirst {
		t.Fatalf("duplicate delivery must not touch the order")
	}
}

func TestPaymentServiceWebhookFailureRecordsReason(t *testing.T) {
	repo := newStubOrderRepo(pendingOnlineOrder("ord_1"))
	gateway := &stubGateway{webhook: payments.WebhookResult{
		EventID:       "evt_1",
		OrderID:       "ord_1",
		Status:        payments.StatusFailed,
		FailureReason: "insufficient funds",
	}}
	booker := &stubShipmentBooker{}
	svc := newTestPaymentService(t, repo, newStubWebhookEventRepo(), gateway, booker, nil)

	outcome, err := svc.HandleWebhook(context.Background(), PaymentWebhookCommand{Provider: "cashfree", Payload: []byte(`{}`)})
	if err != nil {
		t.Fatalf("handle webhook: %v", err)
	}
	if !outcome.Applied {
		t.Fatalf("failure should still apply, got %+v", outcome)
	}

	stored := repo.orders["ord_1"]
	if stored.Status != domain.OrderStatusPending || stored.PaymentStatus != domain.PaymentStatusFailed {
		t.Fatalf("expected pending/failed, got %s/%s", stored.Status, stored.PaymentStatus)
	}
	if stored.PaymentFailure != "insufficient funds" {
		t.Fatalf("failure reason not stored: %q", stored.PaymentFailure)
	}
	if len(booker.calls) != 0 {
		t.Fatalf("failed payment must not book a shipment")
	}
}

func TestPaymentServiceWebhookSuccessOnCancelledOrderNoops(t *testing.T) {
	order := pendingOnlineOrder("ord_1")
	order.Status = domain.OrderStatusCancelled
	repo := newStubOrderRepo(order)
	gateway := &stubGateway{webhook: payments.WebhookResult{
		EventID: "evt_1",
		OrderID: "ord_1",
		Status:  payments.StatusSucceeded,
	}}
	svc := newTestPaymentService(t, repo, newStubWebhookEventRepo(), gateway, &stubShipmentBooker{}, nil)

	outcome, err := svc.HandleWebhook(context.Background(), PaymentWebhookCommand{Provider: "cashfree", Payload: []byte(`{}`)})
	if err != nil {
		t.Fatalf("handle webhook: %v", err)
	}
	if outcome.Applied {
		t.Fatalf("success must not resurrect a cancelled order")
	}
	if repo.orders["ord_1"].Status != domain.OrderStatusCancelled {
		t.Fatalf("cancelled order mutated: %s", repo.orders["ord_1"].Status)
	}
}

func TestPaymentServiceWebhookBadSignature(t *testing.T) {
	repo := newStubOrderRepo()
	gateway := &stubGateway{webhookErr: payments.ErrInvalidSignature}
	svc := newTestPaymentService(t, repo, newStubWebhookEventRepo(), gateway, nil, nil)

	_, err := svc.HandleWebhook(context.Background(), PaymentWebhookCommand{Provider: "cashfree", Payload: []byte(`{}`)})
	if !errors.Is(err, ErrPaymentWebhookInvalid) {
		t.Fatalf("expected ErrPaymentWebhookInvalid, got %v", err)
	}
}

func TestPaymentServiceWebhookRetriesOnConflict(t *testing.T) {
	repo := newStubOrderRepo(pendingOnlineOrder("ord_1"))
	repo.conflictOnce = true
	gateway := &stubGateway{webhook: payments.WebhookResult{
		EventID: "evt_1",
		OrderID: "ord_1",
		Status:  payments.StatusSucceeded,
	}}
	svc := newTestPaymentService(t, repo, newStubWebhookEventRepo(), gateway, &stubShipmentBooker{}, nil)

	outcome, err := svc.HandleWebhook(context.Background(), PaymentWebhookCommand{Provider: "cashfree", Payload: []byte(`{}`)})
	if err != nil {
		t.Fatalf("handle webhook: %v", err)
	}
	if !outcome.Applied {
		t.Fatalf("expected apply after conflict retry, got %+v", outcome)
	}
	if repo.updateCalls != 2 {
		t.Fatalf("expected one retry after conflict, got %d update calls", repo.updateCalls)
	}
}

func TestPaymentServiceBookingFailureQueuesRetry(t *testing.T) {
	repo := newStubOrderRepo(pendingOnlineOrder("ord_1"))
	gateway := &stubGateway{webhook: payments.WebhookResult{
		EventID: "evt_1",
		OrderID: "ord_1",
		Status:  payments.StatusSucceeded,
	}}
	booker := &stubShipmentBooker{err: ErrShipmentUnavailable}
	queue := &stubRetryQueue{}
	svc := newTestPaymentService(t, repo, newStubWebhookEventRepo(), gateway, booker, queue)

	outcome, err := svc.HandleWebhook(context.Background(), PaymentWebhookCommand{Provider: "cashfree", Payload: []byte(`{}`)})
	if err != nil {
		t.Fatalf("handle webhook: %v", err)
	}
	if !outcome.Applied {
		t.Fatalf("booking failure must not undo the payment, got %+v", outcome)
	}
	if len(queue.jobs) != 1 || queue.jobs[0].OrderID != "ord_1" || queue.jobs[0].Attempt != 1 {
		t.Fatalf("expected queued retry job, got %+v", queue.jobs)
	}
}

func TestPaymentServiceVerifyAppliesGatewayVerdict(t *testing.T) {
	repo := newStubOrderRepo(pendingOnlineOrder("ord_1"))
	gateway := &stubGateway{details: payments.PaymentDetails{
		Provider:  "cashfree",
		SessionID: "sess_1",
		OrderID:   "ord_1",
		Status:    payments.StatusSucceeded,
	}}
	booker := &stubShipmentBooker{}
	svc := newTestPaymentService(t, repo, newStubWebhookEventRepo(), gateway, booker, nil)

	result, err := svc.VerifyPayment(context.Background(), VerifyPaymentCommand{OrderID: "ord_1", UserID: "user_1"})
	if err != nil {
		t.Fatalf("verify payment: %v", err)
	}
	if !result.Succeeded {
		t.Fatalf("expected succeeded result, got %+v", result)
	}
	if gateway.lastLookup.SessionID != "sess_1" {
		t.Fatalf("expected lookup by stored session, got %q", gateway.lastLookup.SessionID)
	}
	if repo.orders["ord_1"].Status != domain.OrderStatusConfirmed {
		t.Fatalf("verify must confirm the order, got %s", repo.orders["ord_1"].Status)
	}
	if len(booker.calls) != 1 {
		t.Fatalf("expected shipment booking after verify")
	}
}

func TestPaymentServiceVerifyShortCircuitsTerminalState(t *testing.T) {
	order := pendingOnlineOrder("ord_1")
	order.PaymentStatus = domain.PaymentStatusSuccess
	repo := newStubOrderRepo(order)
	gateway := &stubGateway{lookupErr: errors.New("gateway must not be called")}
	svc := newTestPaymentService(t, repo, newStubWebhookEventRepo(), gateway, nil, nil)

	result, err := svc.VerifyPayment(context.Background(), VerifyPaymentCommand{OrderID: "ord_1", UserID: "user_1"})
	if err != nil {
		t.Fatalf("verify payment: %v", err)
	}
	if !result.Succeeded || result.SessionID != "sess_1" {
		t.Fatalf("expected stored success, got %+v", result)
	}
}

func TestPaymentServiceVerifyPendingLeavesOrderUntouched(t *testing.T) {
	repo := newStubOrderRepo(pendingOnlineOrder("ord_1"))
	gateway := &stubGateway{details: payments.PaymentDetails{
		SessionID: "sess_1",
		Status:    payments.StatusPending,
	}}
	svc := newTestPaymentService(t, repo, newStubWebhookEventRepo(), gateway, nil, nil)

	result, err := svc.VerifyPayment(context.Background(), VerifyPaymentCommand{OrderID: "ord_1", UserID: "user_1"})
	if err != nil {
		t.Fatalf("verify payment: %v", err)
	}
	if result.Succeeded {
		t.Fatalf("pending lookup must not succeed")
	}
	if repo.updateCalls != 0 {
		t.Fatalf("pending lookup must not write, got %d updates", repo.updateCalls)
	}
}

func TestPaymentServiceVerifyForeignOrder(t *testing.T) {
	repo := newStubOrderRepo(pendingOnlineOrder("ord_1"))
	svc := newTestPaymentService(t, repo, newStubWebhookEventRepo(), &stubGateway{}, nil, nil)

	_, err := svc.VerifyPayment(context.Background(), VerifyPaymentCommand{OrderID: "ord_1", UserID: "user_2"})
	if !errors.Is(err, ErrPaymentOrderUnknown) {
		t.Fatalf("expected ErrPaymentOrderUnknown, got %v", err)
	}
}
