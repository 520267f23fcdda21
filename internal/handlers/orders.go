package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/swiftcart/api/internal/domain"
	"github.com/swiftcart/api/internal/platform/auth"
	"github.com/swiftcart/api/internal/platform/httpx"
	"github.com/swiftcart/api/internal/services"
)

const (
	defaultOrderPageSize = 20
	maxOrderPageSize     = 100
	maxOrderBodySize     = 32 * 1024

	verifyPaymentLimit  = 10
	verifyPaymentWindow = time.Minute
)

// OrderHandlers exposes checkout and order lifecycle endpoints for
// authenticated users.
type OrderHandlers struct {
	authn     *auth.Authenticator
	checkout  services.CheckoutService
	orders    services.OrderService
	payments  services.PaymentService
	shipments services.ShipmentService
	verifier  rateLimiter
}

// NewOrderHandlers constructs a new OrderHandlers instance.
func NewOrderHandlers(
	authn *auth.Authenticator,
	checkout services.CheckoutService,
	orders services.OrderService,
	payments services.PaymentService,
	shipments services.ShipmentService,
) *OrderHandlers {
	return &OrderHandlers{
		authn:     authn,
		checkout:  checkout,
		orders:    orders,
		payments:  payments,
		shipments: shipments,
		verifier:  newSimpleRateLimiter(verifyPaymentLimit, verifyPaymentWindow, nil),
	}
}

// Routes registers the /orders endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	r.Get("/", h.listOrders)
	r.Post("/create", h.createOrder)
	r.Get("/{orderID}", h.getOrder)
	r.Get("/status/{orderID}", h.getStatus)
	r.Get("/track/{orderID}", h.trackOrder)
	r.Put("/cancel/{orderID}", h.cancelOrder)
	r.Post("/verify-payment/{orderID}", h.verifyPayment)
}

type createOrderRequest struct {
	Items           []cartItemInput        `json:"items"`
	ShippingAddress shippingAddressPayload `json:"shippingAddress"`
	PaymentMethod   string                 `json:"paymentMethod"`
	Provider        string                 `json:"provider,omitempty"`
	SuccessURL      string                 `json:"successUrl,omitempty"`
	CancelURL       string                 `json:"cancelUrl,omitempty"`
}

type shippingAddressPayload struct {
	Name           string `json:"name"`
	Mobile         string `json:"mobile"`
	Pincode        string `json:"pincode"`
	Locality       string `json:"locality,omitempty"`
	Address        string `json:"address"`
	City           string `json:"city"`
	State          string `json:"state"`
	Landmark       string `json:"landmark,omitempty"`
	AlternatePhone string `json:"alternatePhone,omitempty"`
}

type createOrderResponse struct {
	Order   orderPayload            `json:"order"`
	Session *paymentSessionResponse `json:"payment,omitempty"`
}

type paymentSessionResponse struct {
	Provider    string `json:"provider"`
	SessionID   string `json:"sessionId"`
	Amount      int64  `json:"amount"`
	Currency    string `json:"currency"`
	RedirectURL string `json:"redirectUrl,omitempty"`
}

func (h *OrderHandlers) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	uid, ok := h.requireUser(ctx, w)
	if !ok {
		return
	}
	if h.checkout == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "checkout is unavailable", http.StatusServiceUnavailable))
		return
	}

	var req createOrderRequest
	if !decodeJSONBody(ctx, w, r, maxOrderBodySize, &req) {
		return
	}

	result, err := h.checkout.CreateOrder(ctx, services.CreateOrderCommand{
		UserID:          uid,
		Items:           cartItemsFromInput(req.Items),
		ShippingAddress: addressFromPayload(req.ShippingAddress),
		PaymentMethod:   domain.PaymentMethod(strings.TrimSpace(strings.ToLower(req.PaymentMethod))),
		Provider:        strings.TrimSpace(req.Provider),
		SuccessURL:      strings.TrimSpace(req.SuccessURL),
		CancelURL:       strings.TrimSpace(req.CancelURL),
	})
	if err != nil {
		writeCheckoutError(ctx, w, err)
		return
	}

	resp := createOrderResponse{Order: buildOrderPayload(result.Order)}
	if result.Session != nil {
		resp.Session = &paymentSessionResponse{
			Provider:    result.Session.Provider,
			SessionID:   result.Session.SessionID,
			Amount:      result.Session.Amount,
			Currency:    result.Session.Currency,
			RedirectURL: result.Session.RedirectURL,
		}
	}
	writeJSONResponse(w, http.StatusCreated, resp)
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	uid, ok := h.requireUser(ctx, w)
	if !ok {
		return
	}

	filter := services.OrderListFilter{
		UserID: uid,
		Pagination: domain.Pagination{
			PageSize:  parsePageSize(r.URL.Query().Get("pageSize")),
			PageToken: strings.TrimSpace(r.URL.Query().Get("pageToken")),
		},
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
		for _, status := range strings.Split(raw, ",") {
			status = strings.TrimSpace(status)
			if status != "" {
				filter.Status = append(filter.Status, status)
			}
		}
	}

	page, err := h.orders.ListOrders(ctx, filter)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	items := make([]orderPayload, 0, len(page.Items))
	for _, order := range page.Items {
		items = append(items, buildOrderPayload(order))
	}
	writeJSONResponse(w, http.StatusOK, orderListResponse{
		Orders:     items,
		NextCursor: page.NextCursor,
	})
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	uid, ok := h.requireUser(ctx, w)
	if !ok {
		return
	}
	orderID, ok := orderIDParam(ctx, w, r)
	if !ok {
		return
	}

	order, err := h.orders.GetOrder(ctx, services.OrderQuery{OrderID: orderID, UserID: uid})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

type orderStatusResponse struct {
	OrderID       string `json:"orderId"`
	OrderNumber   string `json:"orderNumber"`
	Status        string `json:"status"`
	PaymentStatus string `json:"paymentStatus"`
	TrackingID    string `json:"trackingId,omitempty"`
	UpdatedAt     string `json:"updatedAt"`
}

func (h *OrderHandlers) getStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	uid, ok := h.requireUser(ctx, w)
	if !ok {
		return
	}
	orderID, ok := orderIDParam(ctx, w, r)
	if !ok {
		return
	}

	view, err := h.orders.GetStatus(ctx, services.OrderQuery{OrderID: orderID, UserID: uid})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderStatusResponse{
		OrderID:       view.OrderID,
		OrderNumber:   view.OrderNumber,
		Status:        string(view.Status),
		PaymentStatus: string(view.PaymentStatus),
		TrackingID:    view.TrackingID,
		UpdatedAt:     formatTime(view.UpdatedAt),
	})
}

type trackOrderResponse struct {
	OrderID    string        `json:"orderId"`
	TrackingID string        `json:"trackingId,omitempty"`
	Status     string        `json:"status"`
	Carrier    string        `json:"carrier,omitempty"`
	Scans      []scanPayload `json:"scans"`
	FetchedAt  string        `json:"fetchedAt,omitempty"`
}

type scanPayload struct {
	Status    string `json:"status"`
	Location  string `json:"location,omitempty"`
	Remarks   string `json:"remarks,omitempty"`
	Timestamp string `json:"timestamp"`
}

func (h *OrderHandlers) trackOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	uid, ok := h.requireUser(ctx, w)
	if !ok {
		return
	}
	if h.shipments == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "tracking is unavailable", http.StatusServiceUnavailable))
		return
	}
	orderID, ok := orderIDParam(ctx, w, r)
	if !ok {
		return
	}

	view, err := h.shipments.Track(ctx, services.OrderQuery{OrderID: orderID, UserID: uid})
	if err != nil {
		writeShipmentError(ctx, w, err)
		return
	}

	scans := make([]scanPayload, 0, len(view.Scans))
	for _, scan := range view.Scans {
		scans = append(scans, scanPayload{
			Status:    scan.Status,
			Location:  scan.Location,
			Remarks:   scan.Remarks,
			Timestamp: formatTime(scan.Timestamp),
		})
	}
	writeJSONResponse(w, http.StatusOK, trackOrderResponse{
		OrderID:    view.OrderID,
		TrackingID: view.TrackingID,
		Status:     string(view.Status),
		Carrier:    view.Carrier,
		Scans:      scans,
		FetchedAt:  formatTime(view.FetchedAt),
	})
}

type cancelOrderRequest struct {
	Reason string `json:"reason,omitempty"`
}

type cancelOrderResponse struct {
	Success          bool   `json:"success"`
	Status           string `json:"status"`
	CarrierCancelled bool   `json:"ekartCancelled"`
	CarrierError     string `json:"ekartCancelError,omitempty"`
}

func (h *OrderHandlers) cancelOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	uid, ok := h.requireUser(ctx, w)
	if !ok {
		return
	}
	orderID, ok := orderIDParam(ctx, w, r)
	if !ok {
		return
	}

	// Reason is optional; an absent or malformed body cancels without one.
	var req cancelOrderRequest
	if body, err := readLimitedBody(r, maxOrderBodySize); err == nil && len(body) > 0 {
		_ = decodeLenient(body, &req)
	}

	result, err := h.orders.Cancel(ctx, services.CancelOrderCommand{
		OrderID: orderID,
		UserID:  uid,
		Reason:  strings.TrimSpace(req.Reason),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, cancelOrderResponse{
		Success:          true,
		Status:           string(result.Order.Status),
		CarrierCancelled: result.CarrierCancelled,
		CarrierError:     result.CarrierError,
	})
}

type verifyPaymentResponse struct {
	OrderID       string `json:"orderId"`
	Succeeded     bool   `json:"succeeded"`
	Status        string `json:"status"`
	PaymentStatus string `json:"paymentStatus"`
	FailureReason string `json:"failureReason,omitempty"`
}

func (h *OrderHandlers) verifyPayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	uid, ok := h.requireUser(ctx, w)
	if !ok {
		return
	}
	if h.payments == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "payment verification is unavailable", http.StatusServiceUnavailable))
		return
	}
	orderID, ok := orderIDParam(ctx, w, r)
	if !ok {
		return
	}
	if h.verifier != nil && !h.verifier.Allow(uid) {
		httpx.WriteError(ctx, w, httpx.NewError("rate_limited", "too many verification attempts; try again shortly", http.StatusTooManyRequests))
		return
	}

	result, err := h.payments.VerifyPayment(ctx, services.VerifyPaymentCommand{OrderID: orderID, UserID: uid})
	if err != nil {
		writePaymentError(ctx, w, err)
		return
	}

	order, err := h.orders.GetOrder(ctx, services.OrderQuery{OrderID: orderID, UserID: uid})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, verifyPaymentResponse{
		OrderID:       order.ID,
		Succeeded:     result.Succeeded,
		Status:        string(order.Status),
		PaymentStatus: string(order.PaymentStatus),
		FailureReason: result.FailureReason,
	})
}

func (h *OrderHandlers) requireUser(ctx context.Context, w http.ResponseWriter) (string, bool) {
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service is unavailable", http.StatusServiceUnavailable))
		return "", false
	}
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return "", false
	}
	return strings.TrimSpace(identity.UID), true
}

func orderIDParam(ctx context.Context, w http.ResponseWriter, r *http.Request) (string, bool) {
	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return "", false
	}
	return orderID, true
}

func parsePageSize(raw string) int {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return defaultOrderPageSize
	}
	size, err := strconv.Atoi(raw)
	if err != nil || size <= 0 {
		return defaultOrderPageSize
	}
	if size > maxOrderPageSize {
		return maxOrderPageSize
	}
	return size
}

func writeOrderError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrOrderInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrOrderNotCancellable):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_cancellable", "order can no longer be cancelled", http.StatusConflict))
	case errors.Is(err, services.ErrOrderConflict):
		httpx.WriteError(ctx, w, httpx.NewError("order_conflict", "order was modified concurrently; retry", http.StatusConflict))
	case errors.Is(err, services.ErrOrderUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service is unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("order_error", "failed to process order request", http.StatusInternalServerError))
	}
}

func writeCheckoutError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrCheckoutEmptyCart):
		httpx.WriteError(ctx, w, httpx.NewError("empty_cart", "no items to order", http.StatusBadRequest))
	case errors.Is(err, services.ErrCheckoutMethodDisabled):
		httpx.WriteError(ctx, w, httpx.NewError("payment_method_disabled", "payment method is currently disabled", http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrPaymentMethodNotEligible):
		httpx.WriteError(ctx, w, httpx.NewError("payment_method_not_eligible", "payment method is not available for an item in the order", http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrNoPaymentMethodAvailable):
		httpx.WriteError(ctx, w, httpx.NewError("no_payment_method", "no payment method is available for this order", http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrEligibilityProductNotFound), errors.Is(err, services.ErrCartProductNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("product_not_found", "an item references an unknown product", http.StatusConflict))
	case errors.Is(err, services.ErrPaymentInitialization):
		httpx.WriteError(ctx, w, httpx.NewError("payment_initialization_failed", "payment session could not be created; retry checkout", http.StatusBadGateway))
	case errors.Is(err, services.ErrCheckoutInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrCheckoutUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "checkout is unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("checkout_error", "failed to create order", http.StatusInternalServerError))
	}
}

func writeShipmentError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrShipmentInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrShipmentOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrShipmentNotBooked):
		httpx.WriteError(ctx, w, httpx.NewError("shipment_not_booked", "shipment has not been booked yet", http.StatusConflict))
	case errors.Is(err, services.ErrShipmentOrderNotReady):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_ready", "order is not ready for shipment", http.StatusConflict))
	case errors.Is(err, services.ErrShipmentUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("shipment_service_unavailable", "shipment service is unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("shipment_error", "failed to process shipment request", http.StatusInternalServerError))
	}
}

func writePaymentError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrPaymentInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrPaymentOrderUnknown):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrPaymentWebhookInvalid):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_signature", "webhook signature verification failed", http.StatusUnauthorized))
	case errors.Is(err, services.ErrPaymentUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("payment_service_unavailable", "payment service is unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("payment_error", "failed to process payment request", http.StatusInternalServerError))
	}
}

func addressFromPayload(payload shippingAddressPayload) domain.ShippingAddress {
	return domain.ShippingAddress{
		Name:           strings.TrimSpace(payload.Name),
		Mobile:         strings.TrimSpace(payload.Mobile),
		Pincode:        strings.TrimSpace(payload.Pincode),
		Locality:       strings.TrimSpace(payload.Locality),
		Address:        strings.TrimSpace(payload.Address),
		City:           strings.TrimSpace(payload.City),
		State:          strings.TrimSpace(payload.State),
		Landmark:       strings.TrimSpace(payload.Landmark),
		AlternatePhone: strings.TrimSpace(payload.AlternatePhone),
	}
}

type orderResponse struct {
	Order orderPayload `json:"order"`
}

type orderListResponse struct {
	Orders     []orderPayload `json:"orders"`
	NextCursor string         `json:"nextCursor,omitempty"`
}

type orderPayload struct {
	ID              string                 `json:"id"`
	OrderNumber     string                 `json:"orderNumber"`
	Items           []orderItemPayload     `json:"items"`
	ShippingAddress shippingAddressPayload `json:"shippingAddress"`
	Totals          orderTotalsPayload     `json:"totals"`
	PaymentMethod   string                 `json:"paymentMethod"`
	Status          string                 `json:"status"`
	PaymentStatus   string                 `json:"paymentStatus"`
	PaymentProvider string                 `json:"paymentProvider,omitempty"`
	PaymentFailure  string                 `json:"paymentFailure,omitempty"`
	Shipment        *shipmentPayload       `json:"shipment,omitempty"`
	PlacedAt        string                 `json:"placedAt"`
	ConfirmedAt     string                 `json:"confirmedAt,omitempty"`
	ShippedAt       string                 `json:"shippedAt,omitempty"`
	DeliveredAt     string                 `json:"deliveredAt,omitempty"`
	CancelledAt     string                 `json:"cancelledAt,omitempty"`
	UpdatedAt       string                 `json:"updatedAt"`
}

type orderItemPayload struct {
	ProductID string `json:"productId"`
	Name      string `json:"name"`
	UnitPrice int64  `json:"unitPrice"`
	Image     string `json:"image,omitempty"`
	Quantity  int    `json:"quantity"`
	LineTotal int64  `json:"lineTotal"`
}

type orderTotalsPayload struct {
	TotalAmount    int64 `json:"totalAmount"`
	Discount       int64 `json:"discount"`
	ShippingCharge int64 `json:"shippingCharge"`
	FinalAmount    int64 `json:"finalAmount"`
}

type shipmentPayload struct {
	TrackingID  string `json:"trackingId,omitempty"`
	AWB         string `json:"awb,omitempty"`
	Cancelled   bool   `json:"cancelled"`
	CancelError string `json:"cancelError,omitempty"`
}

func buildOrderPayload(order domain.Order) orderPayload {
	items := make([]orderItemPayload, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, orderItemPayload{
			ProductID: item.ProductID,
			Name:      item.Name,
			UnitPrice: item.UnitPrice,
			Image:     item.Image,
			Quantity:  item.Quantity,
			LineTotal: item.UnitPrice * int64(item.Quantity),
		})
	}
	payload := orderPayload{
		ID:          order.ID,
		OrderNumber: order.OrderNumber,
		Items:       items,
		ShippingAddress: shippingAddressPayload{
			Name:           order.ShippingAddress.Name,
			Mobile:         order.ShippingAddress.Mobile,
			Pincode:        order.ShippingAddress.Pincode,
			Locality:       order.ShippingAddress.Locality,
			Address:        order.ShippingAddress.Address,
			City:           order.ShippingAddress.City,
			State:          order.ShippingAddress.State,
			Landmark:       order.ShippingAddress.Landmark,
			AlternatePhone: order.ShippingAddress.AlternatePhone,
		},
		Totals: orderTotalsPayload{
			TotalAmount:    order.Totals.TotalAmount,
			Discount:       order.Totals.Discount,
			ShippingCharge: order.Totals.ShippingCharge,
			FinalAmount:    order.Totals.FinalAmount,
		},
		PaymentMethod:   string(order.PaymentMethod),
		Status:          string(order.Status),
		PaymentStatus:   string(order.PaymentStatus),
		PaymentProvider: order.PaymentProvider,
		PaymentFailure:  order.PaymentFailure,
		PlacedAt:        formatTime(order.PlacedAt),
		UpdatedAt:       formatTime(order.UpdatedAt),
	}
	if order.Shipment != nil {
		payload.Shipment = &shipmentPayload{
			TrackingID:  order.Shipment.TrackingID,
			AWB:         order.Shipment.AWB,
			Cancelled:   order.Shipment.Cancelled,
			CancelError: order.Shipment.CancelError,
		}
	}
	if order.ConfirmedAt != nil {
		payload.ConfirmedAt = formatTime(*order.ConfirmedAt)
	}
	if order.ShippedAt != nil {
		payload.ShippedAt = formatTime(*order.ShippedAt)
	}
	if order.DeliveredAt != nil {
		payload.DeliveredAt = formatTime(*order.DeliveredAt)
	}
	if order.CancelledAt != nil {
		payload.CancelledAt = formatTime(*order.CancelledAt)
	}
	return payload
}

func decodeLenient(body []byte, target any) error {
	if len(body) == 0 {
		return nil
	}
	return json.Unmarshal(body, target)
}
