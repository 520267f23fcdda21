package services

import (
	"context"
	"errors"
	"testing"

	domain "github.com/swiftcart/api/internal/domain"
	"github.com/swiftcart/api/internal/payments"
)

type stubSessionManager struct {
	session  payments.CheckoutSession
	err      error
	lastReq  payments.CheckoutSessionRequest
	lastCtx  payments.PaymentContext
	sessions int
}

func (s *stubSessionManager) CreateCheckoutSession(ctx context.Context, paymentCtx payments.PaymentContext, req payments.CheckoutSessionRequest) (payments.CheckoutSession, error) {
	s.sessions++
	s.lastCtx = paymentCtx
	s.lastReq = req
	if s.err != nil {
		return payments.CheckoutSession{}, s.err
	}
	return s.session, nil
}

func checkoutAddress() domain.ShippingAddress {
	return domain.ShippingAddress{
		Name:     "Asha Rao",
		Mobile:   "9876543210",
		Pincode:  "560001",
		Address:  "12 MG Road",
		Locality: "Shivajinagar",
		City:     "Bengaluru",
		State:    "Karnataka",
	}
}

func checkoutCatalog() *stubProductRepo {
	return &stubProductRepo{products: map[string]domain.Product{
		"prod_1": {ID: "prod_1", Name: "Steel Bottle", UnitPrice: 24900, EnableOnlinePayment: true, EnableCashOnDelivery: true},
		"prod_2": {ID: "prod_2", Name: "Lunch Box", UnitPrice: 9900, EnableOnlinePayment: true, EnableCashOnDelivery: false},
	}}
}

type checkoutFixture struct {
	orders   *stubOrderRepo
	carts    *stubCartRepo
	gateway  *stubSessionManager
	booker   *stubShipmentBooker
	queue    *stubRetryQueue
	counters *stubCounterRepo
	svc      CheckoutService
}

func newCheckoutFixture(t *testing.T, mutate func(*CheckoutServiceDeps)) *checkoutFixture {
	t.Helper()

	products := checkoutCatalog()
	resolver, err := NewEligibilityResolver(EligibilityResolverDeps{Products: products})
	if err != nil {
		t.Fatalf("new eligibility resolver: %v", err)
	}

	fix := &checkoutFixture{
		orders: newStubOrderRepo(),
		carts:  newStubCartRepo(),
		gateway: &stubSessionManager{session: payments.CheckoutSession{
			ID:          "sess_1",
			Provider:    "cashfree",
			RedirectURL: "https://pay.example/view/sess_1",
		}},
		booker:   &stubShipmentBooker{},
		queue:    &stubRetryQueue{},
		counters: &stubCounterRepo{value: 42},
	}
	fix.booker.orders = fix.orders

	deps := CheckoutServiceDeps{
		Orders:      fix.orders,
		Carts:       fix.carts,
		Products:    products,
		Counters:    fix.counters,
		Eligibility: resolver,
		Payments:    fix.gateway,
		Shipments:   fix.booker,
		RetryQueue:  fix.queue,
		Discount:    FractionDiscount{BasisPoints: 0},
		Shipping:    FlatRateShipping{Charge: 4900, FreeThreshold: 100000},
		CODEnabled:  true,
		Clock:       fixedClock,
	}
	if mutate != nil {
		mutate(&deps)
	}

	svc, err := NewCheckoutService(deps)
	if err != nil {
		t.Fatalf("new checkout service: %v", err)
	}
	fix.svc = svc
	return fix
}

func onlineCheckoutCommand() CreateOrderCommand {
	return CreateOrderCommand{
		UserID:          "user_1",
		Items:           []domain.CartItem{{ProductID: "prod_1", Quantity: 2}},
		ShippingAddress: checkoutAddress(),
		PaymentMethod:   domain.PaymentMethodOnline,
		SuccessURL:      "https://shop.example/success",
		CancelURL:       "https://shop.example/cancel",
	}
}

func TestCheckoutOnlineOrderOpensSession(t *testing.T) {
	fix := newCheckoutFixture(t, nil)

	result, err := fix.svc.CreateOrder(context.Background(), onlineCheckoutCommand())
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	if result.Order.Status != domain.OrderStatusPending || result.Order.PaymentStatus != domain.PaymentStatusPending {
		t.Fatalf("online order must stay pending, got %s/%s", result.Order.Status, result.Order.PaymentStatus)
	}
	if result.Order.OrderNumber != "SC-000042" {
		t.Fatalf("unexpected order number %q", result.Order.OrderNumber)
	}
	// 2 x 24900 = 49800 subtotal, flat shipping below the free threshold.
	if result.Order.Totals.FinalAmount != 54700 {
		t.Fatalf("unexpected final amount %d", result.Order.Totals.FinalAmount)
	}
	if result.Session == nil || result.Session.SessionID != "sess_1" || result.Session.RedirectURL == "" {
		t.Fatalf("expected gateway session, got %+v", result.Session)
	}
	if fix.gateway.lastReq.Amount != 54700 {
		t.Fatalf("gateway must charge the computed final amount, got %d", fix.gateway.lastReq.Amount)
	}
	stored := fix.orders.orders[result.Order.ID]
	if stored.PaymentSessionID != "sess_1" || stored.PaymentProvider != "cashfree" {
		t.Fatalf("session handles not persisted: %+v", stored)
	}
	if fix.carts.deleteCalls != 1 {
		t.Fatalf("checkout must clear the cart")
	}
}

func TestCheckoutRepricesFromCatalog(t *testing.T) {
	fix := newCheckoutFixture(t, nil)

	cmd := onlineCheckoutCommand()
	// Client-supplied price must not survive into the order.
	cmd.Items = []domain.CartItem{{ProductID: "prod_1", UnitPrice: 1, Quantity: 2}}

	result, err := fix.svc.CreateOrder(context.Background(), cmd)
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	if result.Order.Items[0].UnitPrice != 24900 || result.Order.Items[0].LineTotal != 49800 {
		t.Fatalf("expected catalog price, got %+v", result.Order.Items[0])
	}
}

func TestCheckoutRetryReusesPendingOrder(t *testing.T) {
	fix := newCheckoutFixture(t, nil)

	ctx := context.Background()
	cmd := onlineCheckoutCommand()
	first, err := fix.svc.CreateOrder(ctx, cmd)
	if err != nil {
		t.Fatalf("first checkout: %v", err)
	}

	second, err := fix.svc.CreateOrder(ctx, cmd)
	if err != nil {
		t.Fatalf("retried checkout: %v", err)
	}
	if second.Order.ID != first.Order.ID {
		t.Fatalf("retry created a duplicate order: %s vs %s", second.Order.ID, first.Order.ID)
	}
	if second.Session == nil || second.Session.SessionID != "sess_1" {
		t.Fatalf("retry must return the existing session, got %+v", second.Session)
	}
	if fix.gateway.sessions != 1 {
		t.Fatalf("retry must not open a second gateway session, got %d", fix.gateway.sessions)
	}
}

func TestCheckoutDifferentContentCreatesNewOrder(t *testing.T) {
	fix := newCheckoutFixture(t, nil)

	ctx := context.Background()
	first, err := fix.svc.CreateOrder(ctx, onlineCheckoutCommand())
	if err != nil {
		t.Fatalf("first checkout: %v", err)
	}

	cmd := onlineCheckoutCommand()
	cmd.Items = []domain.CartItem{{ProductID: "prod_1", Quantity: 3}}
	second, err := fix.svc.CreateOrder(ctx, cmd)
	if err != nil {
		t.Fatalf("second checkout: %v", err)
	}
	if second.Order.ID == first.Order.ID {
		t.Fatalf("different content must create a new order")
	}
}

func TestCheckoutGatewayFailureLeavesOrderPending(t *testing.T) {
	fix := newCheckoutFixture(t, nil)
	fix.gateway.err = errors.New("gateway 502")

	_, err := fix.svc.CreateOrder(context.Background(), onlineCheckoutCommand())
	if !errors.Is(err, ErrPaymentInitialization) {
		t.Fatalf("expected ErrPaymentInitialization, got %v", err)
	}
	if len(fix.orders.orders) != 1 {
		t.Fatalf("pending order must survive the gateway failure")
	}
	for _, order := range fix.orders.orders {
		if order.Status != domain.OrderStatusPending {
			t.Fatalf("expected pending order, got %s", order.Status)
		}
	}
}

func TestCheckoutRetryAfterGatewayFailureOpensSession(t *testing.T) {
	fix := newCheckoutFixture(t, nil)
	fix.gateway.err = errors.New("gateway 502")

	ctx := context.Background()
	cmd := onlineCheckoutCommand()
	if _, err := fix.svc.CreateOrder(ctx, cmd); !errors.Is(err, ErrPaymentInitialization) {
		t.Fatalf("expected ErrPaymentInitialization, got %v", err)
	}

	// The gateway recovers; the retry must reuse the pending order and
	// open the session it never got.
	fix.gateway.err = nil
	result, err := fix.svc.CreateOrder(ctx, cmd)
	if err != nil {
		t.Fatalf("retried checkout: %v", err)
	}
	if len(fix.orders.orders) != 1 {
		t.Fatalf("retry must not create a duplicate order, have %d", len(fix.orders.orders))
	}
	if result.Session == nil || result.Session.SessionID != "sess_1" {
		t.Fatalf("retry must open a gateway session, got %+v", result.Session)
	}
	if fix.gateway.sessions != 2 {
		t.Fatalf("expected a second gateway call on retry, got %d", fix.gateway.sessions)
	}
	stored := fix.orders.orders[result.Order.ID]
	if stored.PaymentSessionID != "sess_1" {
		t.Fatalf("retried session must be persisted, got %+v", stored)
	}
}

func TestCheckoutCODConfirmsAndBooksInline(t *testing.T) {
	fix := newCheckoutFixture(t, nil)

	cmd := onlineCheckoutCommand()
	cmd.PaymentMethod = domain.PaymentMethodCOD

	result, err := fix.svc.CreateOrder(context.Background(), cmd)
	if err != nil {
		t.Fatalf("cod checkout: %v", err)
	}
	if result.Order.Status != domain.OrderStatusConfirmed {
		t.Fatalf("cod order must confirm immediately, got %s", result.Order.Status)
	}
	if result.Session != nil {
		t.Fatalf("cod checkout must not open a gateway session")
	}
	if len(fix.booker.calls) != 1 {
		t.Fatalf("expected inline shipment booking, got %v", fix.booker.calls)
	}
	if fix.gateway.sessions != 0 {
		t.Fatalf("gateway must not be called for cod")
	}
}

func TestCheckoutCODBookingFailureQueuesRetry(t *testing.T) {
	fix := newCheckoutFixture(t, nil)
	fix.booker.err = ErrShipmentUnavailable

	cmd := onlineCheckoutCommand()
	cmd.PaymentMethod = domain.PaymentMethodCOD

	result, err := fix.svc.CreateOrder(context.Background(), cmd)
	if err != nil {
		t.Fatalf("cod checkout must survive booking failure: %v", err)
	}
	if result.Order.Status != domain.OrderStatusConfirmed {
		t.Fatalf("expected confirmed order, got %s", result.Order.Status)
	}
	if len(fix.queue.jobs) != 1 || fix.queue.jobs[0].OrderID != result.Order.ID {
		t.Fatalf("expected queued retry, got %+v", fix.queue.jobs)
	}
}

func TestCheckoutCODDisabled(t *testing.T) {
	fix := newCheckoutFixture(t, func(deps *CheckoutServiceDeps) {
		deps.CODEnabled = false
	})

	cmd := onlineCheckoutCommand()
	cmd.PaymentMethod = domain.PaymentMethodCOD

	_, err := fix.svc.CreateOrder(context.Background(), cmd)
	if !errors.Is(err, ErrCheckoutMethodDisabled) {
		t.Fatalf("expected ErrCheckoutMethodDisabled, got %v", err)
	}
}

func TestCheckoutCODRejectedByEligibility(t *testing.T) {
	fix := newCheckoutFixture(t, nil)

	cmd := onlineCheckoutCommand()
	cmd.PaymentMethod = domain.PaymentMethodCOD
	// prod_2 disables cash on delivery; the whole cart loses the method.
	cmd.Items = []domain.CartItem{
		{ProductID: "prod_1", Quantity: 1},
		{ProductID: "prod_2", Quantity: 1},
	}

	_, err := fix.svc.CreateOrder(context.Background(), cmd)
	if !errors.Is(err, ErrPaymentMethodNotEligible) {
		t.Fatalf("expected ErrPaymentMethodNotEligible, got %v", err)
	}
}

func TestCheckoutEmptyCart(t *testing.T) {
	fix := newCheckoutFixture(t, nil)

	cmd := onlineCheckoutCommand()
	cmd.Items = nil

	_, err := fix.svc.CreateOrder(context.Background(), cmd)
	if !errors.Is(err, ErrCheckoutEmptyCart) {
		t.Fatalf("expected ErrCheckoutEmptyCart, got %v", err)
	}
}

func TestCheckoutAddressValidation(t *testing.T) {
	fix := newCheckoutFixture(t, nil)

	cases := map[string]func(*domain.ShippingAddress){
		"missing name":     func(a *domain.ShippingAddress) { a.Name = "" },
		"short mobile":     func(a *domain.ShippingAddress) { a.Mobile = "98765" },
		"letters mobile":   func(a *domain.ShippingAddress) { a.Mobile = "98765abcde" },
		"short pincode":    func(a *domain.ShippingAddress) { a.Pincode = "5600" },
		"missing locality": func(a *domain.ShippingAddress) { a.Locality = "" },
		"missing city":     func(a *domain.ShippingAddress) { a.City = "" },
		"bad alternate":    func(a *domain.ShippingAddress) { a.AlternatePhone = "12" },
	}
	for name, corrupt := range cases {
		t.Run(name, func(t *testing.T) {
			cmd := onlineCheckoutCommand()
			corrupt(&cmd.ShippingAddress)
			_, err := fix.svc.CreateOrder(context.Background(), cmd)
			if !errors.Is(err, ErrCheckoutInvalidInput) {
				t.Fatalf("expected ErrCheckoutInvalidInput, got %v", err)
			}
		})
	}
}

func TestCheckoutCounterOutageFallsBackToUniqueNumber(t *testing.T) {
	fix := newCheckoutFixture(t, func(deps *CheckoutServiceDeps) {
		deps.Counters = &stubCounterRepo{err: errors.New("counter down")}
	})

	result, err := fix.svc.CreateOrder(context.Background(), onlineCheckoutCommand())
	if err != nil {
		t.Fatalf("checkout during counter outage: %v", err)
	}
	if len(result.Order.OrderNumber) < 4 || result.Order.OrderNumber[:3] != "SC-" {
		t.Fatalf("expected fallback order number, got %q", result.Order.OrderNumber)
	}
}
