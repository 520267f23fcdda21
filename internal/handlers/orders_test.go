package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/swiftcart/api/internal/domain"
	"github.com/swiftcart/api/internal/services"
)

type stubOrderService struct {
	order      services.Order
	status     services.OrderStatusView
	page       domain.CursorPage[services.Order]
	cancel     services.CancelResult
	err        error
	lastQuery  services.OrderQuery
	lastCancel services.CancelOrderCommand
	lastFilter services.OrderListFilter
}

func (s *stubOrderService) GetOrder(_ context.Context, cmd services.OrderQuery) (services.Order, error) {
	s.lastQuery = cmd
	return s.order, s.err
}

func (s *stubOrderService) GetStatus(_ context.Context, cmd services.OrderQuery) (services.OrderStatusView, error) {
	s.lastQuery = cmd
	return s.status, s.err
}

func (s *stubOrderService) ListOrders(_ context.Context, filter services.OrderListFilter) (domain.CursorPage[services.Order], error) {
	s.lastFilter = filter
	return s.page, s.err
}

func (s *stubOrderService) Cancel(_ context.Context, cmd services.CancelOrderCommand) (services.CancelResult, error) {
	s.lastCancel = cmd
	return s.cancel, s.err
}

type stubCheckoutService struct {
	result  services.CheckoutResult
	err     error
	lastCmd services.CreateOrderCommand
}

func (s *stubCheckoutService) CreateOrder(_ context.Context, cmd services.CreateOrderCommand) (services.CheckoutResult, error) {
	s.lastCmd = cmd
	return s.result, s.err
}

type stubPaymentService struct {
	outcome services.WebhookOutcome
	result  services.PaymentResult
	err     error
	lastCmd services.PaymentWebhookCommand
	verify  services.VerifyPaymentCommand
	calls   int
}

func (s *stubPaymentService) HandleWebhook(_ context.Context, cmd services.PaymentWebhookCommand) (services.WebhookOutcome, error) {
	s.lastCmd = cmd
	return s.outcome, s.err
}

func (s *stubPaymentService) VerifyPayment(_ context.Context, cmd services.VerifyPaymentCommand) (services.PaymentResult, error) {
	s.verify = cmd
	s.calls++
	return s.result, s.err
}

type stubShipmentService struct {
	order    services.Order
	tracking services.TrackingView
	outcome  services.ShipmentCancelOutcome
	err      error
	ensured  []string
}

func (s *stubShipmentService) EnsureShipment(_ context.Context, orderID string) (services.Order, error) {
	s.ensured = append(s.ensured, orderID)
	return s.order, s.err
}

func (s *stubShipmentService) Track(_ context.Context, cmd services.OrderQuery) (services.TrackingView, error) {
	return s.tracking, s.err
}

func (s *stubShipmentService) CancelShipment(_ context.Context, order services.Order) services.ShipmentCancelOutcome {
	return s.outcome
}

func sampleOrder() services.Order {
	confirmed := time.Date(2024, 5, 1, 12, 5, 0, 0, time.UTC)
	return services.Order{
		ID:          "ord_1",
		OrderNumber: "SC-000042",
		UserID:      "user_1",
		Items: []domain.OrderItem{
			{ProductID: "prod_1", Name: "Walnut Stamp", UnitPrice: 24900, Quantity: 2},
		},
		ShippingAddress: domain.ShippingAddress{
			Name: "Asha Rao", Mobile: "9876543210", Pincode: "560001",
			Address: "12 MG Road", City: "Bengaluru", State: "Karnataka",
		},
		Totals:        domain.OrderTotals{TotalAmount: 49800, ShippingCharge: 4900, FinalAmount: 54700},
		PaymentMethod: domain.PaymentMethodCOD,
		Status:        domain.OrderStatusConfirmed,
		PaymentStatus: domain.PaymentStatusPending,
		Version:       2,
		PlacedAt:      time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		ConfirmedAt:   &confirmed,
		UpdatedAt:     confirmed,
	}
}

type orderRouterDeps struct {
	orders    *stubOrderService
	checkout  *stubCheckoutService
	payments  *stubPaymentService
	shipments *stubShipmentService
}

func newOrderRouter(deps orderRouterDeps) chi.Router {
	if deps.orders == nil {
		deps.orders = &stubOrderService{}
	}
	if deps.checkout == nil {
		deps.checkout = &stubCheckoutService{}
	}
	if deps.payments == nil {
		deps.payments = &stubPaymentService{}
	}
	if deps.shipments == nil {
		deps.shipments = &stubShipmentService{}
	}
	h := NewOrderHandlers(nil, deps.checkout, deps.orders, deps.payments, deps.shipments)
	r := chi.NewRouter()
	h.Routes(r)
	return r
}

func TestOrderHandlersCreateOrderOnline(t *testing.T) {
	order := sampleOrder()
	order.PaymentMethod = domain.PaymentMethodOnline
	order.Status = domain.OrderStatusPending
	checkout := &stubCheckoutService{
		result: services.CheckoutResult{
			Order: order,
			Session: &domain.PaymentSession{
				Provider:    "cashfree",
				SessionID:   "sess_1",
				OrderID:     "ord_1",
				Amount:      54700,
				Currency:    "INR",
				RedirectURL: "https://pay.example.com/sess_1",
			},
		},
	}
	router := newOrderRouter(orderRouterDeps{checkout: checkout})

	payload := `{
		"items":[{"productId":"prod_1","quantity":2}],
		"shippingAddress":{"name":"Asha Rao","mobile":"9876543210","pincode":"560001","address":"12 MG Road","city":"Bengaluru","state":"Karnataka"},
		"paymentMethod":"ONLINE"
	}`
	req := authenticatedRequest(http.MethodPost, "/create", payload)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if checkout.lastCmd.UserID != "user_1" {
		t.Fatalf("expected checkout for user_1, got %q", checkout.lastCmd.UserID)
	}
	if checkout.lastCmd.PaymentMethod != domain.PaymentMethodOnline {
		t.Fatalf("expected normalised online method, got %q", checkout.lastCmd.PaymentMethod)
	}

	var body struct {
		Order struct {
			OrderNumber string `json:"orderNumber"`
		} `json:"order"`
		Payment struct {
			SessionID   string `json:"sessionId"`
			RedirectURL string `json:"redirectUrl"`
		} `json:"payment"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if body.Order.OrderNumber != "SC-000042" {
		t.Fatalf("unexpected order number %q", body.Order.OrderNumber)
	}
	if body.Payment.SessionID != "sess_1" || body.Payment.RedirectURL == "" {
		t.Fatalf("unexpected payment payload: %+v", body.Payment)
	}
}

func TestOrderHandlersCreateOrderMethodNotEligible(t *testing.T) {
	checkout := &stubCheckoutService{err: services.ErrPaymentMethodNotEligible}
	router := newOrderRouter(orderRouterDeps{checkout: checkout})

	req := authenticatedRequest(http.MethodPost, "/create", `{"items":[{"productId":"prod_2","quantity":1}],"paymentMethod":"cod"}`)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected status 422, got %d", rr.Code)
	}

	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("expected JSON body: %v", err)
	}
	if body["error"] != "payment_method_not_eligible" {
		t.Fatalf("unexpected error code %v", body["error"])
	}
}

func TestOrderHandlersCreateOrderGatewayFailure(t *testing.T) {
	checkout := &stubCheckoutService{err: services.ErrPaymentInitialization}
	router := newOrderRouter(orderRouterDeps{checkout: checkout})

	req := authenticatedRequest(http.MethodPost, "/create", `{"items":[{"productId":"prod_1","quantity":1}],"paymentMethod":"online"}`)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadGateway {
		t.Fatalf("expected status 502, got %d", rr.Code)
	}
}

func TestOrderHandlersGetStatus(t *testing.T) {
	orders := &stubOrderService{
		status: services.OrderStatusView{
			OrderID:       "ord_1",
			OrderNumber:   "SC-000042",
			Status:        domain.OrderStatusShipped,
			PaymentStatus: domain.PaymentStatusSuccess,
			TrackingID:    "EK-1",
			UpdatedAt:     time.Date(2024, 5, 2, 9, 0, 0, 0, time.UTC),
		},
	}
	router := newOrderRouter(orderRouterDeps{orders: orders})

	req := authenticatedRequest(http.MethodGet, "/status/ord_1", "")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if orders.lastQuery.OrderID != "ord_1" || orders.lastQuery.UserID != "user_1" {
		t.Fatalf("expected owner-scoped query, got %+v", orders.lastQuery)
	}

	var body struct {
		Status        string `json:"status"`
		PaymentStatus string `json:"paymentStatus"`
		TrackingID    string `json:"trackingId"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if body.Status != "shipped" || body.PaymentStatus != "success" || body.TrackingID != "EK-1" {
		t.Fatalf("unexpected status payload: %+v", body)
	}
}

func TestOrderHandlersGetStatusNotFound(t *testing.T) {
	orders := &stubOrderService{err: services.ErrOrderNotFound}
	router := newOrderRouter(orderRouterDeps{orders: orders})

	req := authenticatedRequest(http.MethodGet, "/status/ord_missing", "")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rr.Code)
	}
}

func TestOrderHandlersListOrders(t *testing.T) {
	orders := &stubOrderService{
		page: domain.CursorPage[services.Order]{
			Items:      []services.Order{sampleOrder()},
			NextCursor: "cursor_2",
		},
	}
	router := newOrderRouter(orderRouterDeps{orders: orders})

	req := authenticatedRequest(http.MethodGet, "/?pageSize=5&status=confirmed,shipped", "")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if orders.lastFilter.UserID != "user_1" || orders.lastFilter.Pagination.PageSize != 5 {
		t.Fatalf("unexpected filter: %+v", orders.lastFilter)
	}
	if len(orders.lastFilter.Status) != 2 {
		t.Fatalf("expected two status filters, got %v", orders.lastFilter.Status)
	}

	var body struct {
		Orders     []json.RawMessage `json:"orders"`
		NextCursor string            `json:"nextCursor"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if len(body.Orders) != 1 || body.NextCursor != "cursor_2" {
		t.Fatalf("unexpected list payload: %d orders, cursor %q", len(body.Orders), body.NextCursor)
	}
}

func TestOrderHandlersTrackOrder(t *testing.T) {
	shipments := &stubShipmentService{
		tracking: services.TrackingView{
			OrderID:    "ord_1",
			TrackingID: "EK-1",
			Status:     domain.OrderStatusShipped,
			Carrier:    "ekart",
			Scans: []domain.ScanEvent{
				{Status: "IN_TRANSIT", Location: "Bengaluru Hub", Timestamp: time.Date(2024, 5, 2, 8, 0, 0, 0, time.UTC)},
			},
			FetchedAt: time.Date(2024, 5, 2, 9, 0, 0, 0, time.UTC),
		},
	}
	router := newOrderRouter(orderRouterDeps{shipments: shipments})

	req := authenticatedRequest(http.MethodGet, "/track/ord_1", "")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var body struct {
		TrackingID string `json:"trackingId"`
		Carrier    string `json:"carrier"`
		Scans      []struct {
			Status   string `json:"status"`
			Location string `json:"location"`
		} `json:"scans"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if body.TrackingID != "EK-1" || body.Carrier != "ekart" {
		t.Fatalf("unexpected tracking payload: %+v", body)
	}
	if len(body.Scans) != 1 || body.Scans[0].Status != "IN_TRANSIT" {
		t.Fatalf("unexpected scans: %+v", body.Scans)
	}
}

func TestOrderHandlersTrackOrderNotBooked(t *testing.T) {
	shipments := &stubShipmentService{err: services.ErrShipmentNotBooked}
	router := newOrderRouter(orderRouterDeps{shipments: shipments})

	req := authenticatedRequest(http.MethodGet, "/track/ord_1", "")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", rr.Code)
	}
}

func TestOrderHandlersCancelOrder(t *testing.T) {
	cancelled := sampleOrder()
	cancelled.Status = domain.OrderStatusCancelled
	orders := &stubOrderService{
		cancel: services.CancelResult{
			Order:            cancelled,
			CarrierCancelled: false,
			CarrierError:     "carrier timeout",
		},
	}
	router := newOrderRouter(orderRouterDeps{orders: orders})

	req := authenticatedRequest(http.MethodPut, "/cancel/ord_1", `{"reason":"changed my mind"}`)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if orders.lastCancel.Reason != "changed my mind" {
		t.Fatalf("expected cancel reason, got %q", orders.lastCancel.Reason)
	}

	var body struct {
		Success          bool   `json:"success"`
		Status           string `json:"status"`
		CarrierCancelled bool   `json:"ekartCancelled"`
		CarrierError     string `json:"ekartCancelError"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if !body.Success || body.Status != "cancelled" {
		t.Fatalf("unexpected cancel payload: %+v", body)
	}
	if body.CarrierCancelled || body.CarrierError != "carrier timeout" {
		t.Fatalf("expected carrier failure to surface, got %+v", body)
	}
}

func TestOrderHandlersCancelOrderNotCancellable(t *testing.T) {
	orders := &stubOrderService{err: services.ErrOrderNotCancellable}
	router := newOrderRouter(orderRouterDeps{orders: orders})

	req := authenticatedRequest(http.MethodPut, "/cancel/ord_1", "")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", rr.Code)
	}

	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("expected JSON body: %v", err)
	}
	if body["error"] != "order_not_cancellable" {
		t.Fatalf("unexpected error code %v", body["error"])
	}
}

func TestOrderHandlersVerifyPayment(t *testing.T) {
	order := sampleOrder()
	order.PaymentMethod = domain.PaymentMethodOnline
	order.PaymentStatus = domain.PaymentStatusSuccess
	payments := &stubPaymentService{result: services.PaymentResult{Succeeded: true, SessionID: "sess_1"}}
	orders := &stubOrderService{order: order}
	router := newOrderRouter(orderRouterDeps{orders: orders, payments: payments})

	req := authenticatedRequest(http.MethodPost, "/verify-payment/ord_1", "")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if payments.verify.OrderID != "ord_1" || payments.verify.UserID != "user_1" {
		t.Fatalf("unexpected verify command: %+v", payments.verify)
	}

	var body struct {
		Succeeded     bool   `json:"succeeded"`
		PaymentStatus string `json:"paymentStatus"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if !body.Succeeded || body.PaymentStatus != "success" {
		t.Fatalf("unexpected verify payload: %+v", body)
	}
}

func TestOrderHandlersVerifyPaymentRateLimited(t *testing.T) {
	payments := &stubPaymentService{result: services.PaymentResult{Succeeded: false}}
	orders := &stubOrderService{order: sampleOrder()}
	router := newOrderRouter(orderRouterDeps{orders: orders, payments: payments})

	var last int
	for i := 0; i < verifyPaymentLimit+1; i++ {
		req := authenticatedRequest(http.MethodPost, "/verify-payment/ord_1", "")
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		last = rr.Code
	}

	if last != http.StatusTooManyRequests {
		t.Fatalf("expected status 429 after limit, got %d", last)
	}
	if payments.calls != verifyPaymentLimit {
		t.Fatalf("expected %d verification calls, got %d", verifyPaymentLimit, payments.calls)
	}
}
