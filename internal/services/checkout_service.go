package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/swiftcart/api/internal/domain"
	"github.com/swiftcart/api/internal/payments"
	"github.com/swiftcart/api/internal/repositories"
)

const orderNumberCounterID = "orders"

var (
	// ErrCheckoutInvalidInput indicates the caller supplied invalid input parameters.
	ErrCheckoutInvalidInput = errors.New("checkout: invalid input")
	// ErrCheckoutUnavailable indicates checkout dependencies are currently unavailable.
	ErrCheckoutUnavailable = errors.New("checkout: unavailable")
	// ErrCheckoutEmptyCart indicates the checkout request carried no purchasable items.
	ErrCheckoutEmptyCart = errors.New("checkout: empty cart")
	// ErrCheckoutMethodDisabled indicates the requested payment method is switched off.
	ErrCheckoutMethodDisabled = errors.New("checkout: payment method disabled")
	// ErrPaymentInitialization indicates the gateway session could not be
	// created. The order stays pending and the client may retry.
	ErrPaymentInitialization = errors.New("checkout: payment initialization failed")
)

// checkoutSessionManager abstracts payments.Manager for easier testing.
type checkoutSessionManager interface {
	CreateCheckoutSession(ctx context.Context, paymentCtx payments.PaymentContext, req payments.CheckoutSessionRequest) (payments.CheckoutSession, error)
}

// shipmentBooker abstracts the shipment service for the COD inline booking.
type shipmentBooker interface {
	EnsureShipment(ctx context.Context, orderID string) (Order, error)
}

// CheckoutServiceDeps wires the dependencies required by the checkout service.
type CheckoutServiceDeps struct {
	Orders      repositories.OrderRepository
	Carts       repositories.CartRepository
	Products    repositories.ProductRepository
	Counters    repositories.CounterRepository
	Eligibility EligibilityResolver
	Payments    checkoutSessionManager
	Shipments   shipmentBooker
	RetryQueue  ShipmentJobPublisher
	Discount    DiscountPolicy
	Shipping    ShippingPolicy
	Currency    string
	CODEnabled  bool
	Clock       func() time.Time
	Logger      func(ctx context.Context, event string, fields map[string]any)
	IDGenerator func() string
}

type checkoutService struct {
	orders      repositories.OrderRepository
	carts       repositories.CartRepository
	products    repositories.ProductRepository
	counters    repositories.CounterRepository
	eligibility EligibilityResolver
	payments    checkoutSessionManager
	shipments   shipmentBooker
	retryQueue  ShipmentJobPublisher
	discount    DiscountPolicy
	shipping    ShippingPolicy
	currency    string
	codEnabled  bool
	now         func() time.Time
	logger      func(ctx context.Context, event string, fields map[string]any)
	newID       func() string
}

// NewCheckoutService constructs a CheckoutService validating required dependencies.
func NewCheckoutService(deps CheckoutServiceDeps) (CheckoutService, error) {
	if deps.Orders == nil {
		return nil, errors.New("checkout service: order repository is required")
	}
	if deps.Products == nil {
		return nil, errors.New("checkout service: product repository is required")
	}
	if deps.Eligibility == nil {
		return nil, errors.New("checkout service: eligibility resolver is required")
	}
	if deps.Payments == nil {
		return nil, errors.New("checkout service: payment manager is required")
	}

	currency := strings.ToUpper(strings.TrimSpace(deps.Currency))
	if currency == "" {
		currency = "INR"
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}

	return &checkoutService{
		orders:      deps.Orders,
		carts:       deps.Carts,
		products:    deps.Products,
		counters:    deps.Counters,
		eligibility: deps.Eligibility,
		payments:    deps.Payments,
		shipments:   deps.Shipments,
		retryQueue:  deps.RetryQueue,
		discount:    deps.Discount,
		shipping:    deps.Shipping,
		currency:    currency,
		codEnabled:  deps.CODEnabled,
		now: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
		newID:  idGen,
	}, nil
}

// CreateOrder validates the items and address, prices the order server-side,
// persists it, and for online payments opens a gateway session. Retried
// requests with identical content reuse the still pending order.
func (s *checkoutService) CreateOrder(ctx context.Context, cmd CreateOrderCommand) (CheckoutResult, error) {
	if s == nil || s.orders == nil || s.payments == nil {
		return CheckoutResult{}, ErrCheckoutUnavailable
	}

	userID := strings.TrimSpace(cmd.UserID)
	if userID == "" {
		return CheckoutResult{}, ErrCheckoutInvalidInput
	}
	if cmd.PaymentMethod != domain.PaymentMethodOnline && cmd.PaymentMethod != domain.PaymentMethodCOD {
		return CheckoutResult{}, fmt.Errorf("%w: unknown payment method", ErrCheckoutInvalidInput)
	}
	if cmd.PaymentMethod == domain.PaymentMethodCOD && !s.codEnabled {
		return CheckoutResult{}, ErrCheckoutMethodDisabled
	}
	if err := validateShippingAddress(cmd.ShippingAddress); err != nil {
		return CheckoutResult{}, err
	}

	items := MergeCarts(nil, cmd.Items)
	if len(items) == 0 {
		return CheckoutResult{}, ErrCheckoutEmptyCart
	}

	checkoutKey := checkoutKeyFor(userID, cmd.PaymentMethod, items, cmd.ShippingAddress)
	if existing, err := s.orders.FindPendingByCheckoutKey(ctx, userID, checkoutKey); err == nil {
		// An earlier attempt may have persisted the order but failed to open
		// the gateway session. Retry the session instead of returning a
		// pending order the client can never pay.
		if existing.PaymentMethod == domain.PaymentMethodOnline && existing.PaymentSessionID == "" {
			result, err := s.openPaymentSession(ctx, existing, cmd)
			if err != nil {
				return CheckoutResult{}, err
			}
			s.clearCartBestEffort(ctx, userID)
			s.logger(ctx, "checkout.retry_reopened_session", map[string]any{
				"userId":  userID,
				"orderId": existing.ID,
			})
			return result, nil
		}
		s.logger(ctx, "checkout.retry_reused_order", map[string]any{
			"userId":  userID,
			"orderId": existing.ID,
		})
		return CheckoutResult{Order: existing, Session: sessionFromOrder(existing)}, nil
	} else if !isRepoNotFound(err) {
		return CheckoutResult{}, s.translateRepoError(err)
	}

	productIDs := make([]string, 0, len(items))
	for _, item := range items {
		productIDs = append(productIDs, item.ProductID)
	}

	eligibility, err := s.eligibility.ResolveProducts(ctx, productIDs)
	if err != nil {
		return CheckoutResult{}, translateEligibilityError(err)
	}
	if err := RequireMethod(eligibility, cmd.PaymentMethod); err != nil {
		return CheckoutResult{}, err
	}

	catalog, err := s.products.FindByIDs(ctx, productIDs)
	if err != nil {
		return CheckoutResult{}, s.translateRepoError(err)
	}
	lines, err := BuildOrderItems(items, catalog)
	if err != nil {
		return CheckoutResult{}, ErrCheckoutInvalidInput
	}
	totals, err := ComputeTotals(lines, s.discount, s.shipping)
	if err != nil {
		return CheckoutResult{}, ErrCheckoutInvalidInput
	}

	now := s.now()
	order := domain.Order{
		ID:              s.newID(),
		OrderNumber:     s.nextOrderNumber(ctx),
		UserID:          userID,
		Items:           lines,
		ShippingAddress: cmd.ShippingAddress,
		Totals:          totals,
		PaymentMethod:   cmd.PaymentMethod,
		CheckoutKey:     checkoutKey,
		Status:          domain.OrderStatusPending,
		PaymentStatus:   domain.PaymentStatusPending,
		Version:         1,
		Metadata:        stringMapToAny(cmd.Metadata),
		PlacedAt:        now,
		UpdatedAt:       now,
	}

	if err := s.orders.Insert(ctx, order); err != nil {
		return CheckoutResult{}, s.translateRepoError(err)
	}

	var result CheckoutResult
	switch cmd.PaymentMethod {
	case domain.PaymentMethodOnline:
		result, err = s.openPaymentSession(ctx, order, cmd)
		if err != nil {
			return CheckoutResult{}, err
		}
	case domain.PaymentMethodCOD:
		result, err = s.confirmCashOrder(ctx, order)
		if err != nil {
			return CheckoutResult{}, err
		}
	}

	s.clearCartBestEffort(ctx, userID)

	s.logger(ctx, "checkout.order_created", map[string]any{
		"userId":        userID,
		"orderId":       result.Order.ID,
		"orderNumber":   result.Order.OrderNumber,
		"paymentMethod": string(cmd.PaymentMethod),
		"finalAmount":   totals.FinalAmount,
	})
	return result, nil
}

func (s *checkoutService) openPaymentSession(ctx context.Context, order domain.Order, cmd CreateOrderCommand) (CheckoutResult, error) {
	req := payments.CheckoutSessionRequest{
		OrderID:        order.ID,
		Amount:         order.Totals.FinalAmount,
		Currency:       s.currency,
		CustomerID:     order.UserID,
		CustomerPhone:  order.ShippingAddress.Mobile,
		SuccessURL:     strings.TrimSpace(cmd.SuccessURL),
		CancelURL:      strings.TrimSpace(cmd.CancelURL),
		Metadata:       map[string]string{"orderNumber": order.OrderNumber},
		IdempotencyKey: order.CheckoutKey,
		Items:          paymentLineItems(order.Items, s.currency),
	}
	paymentCtx := payments.PaymentContext{
		PreferredProvider: strings.TrimSpace(cmd.Provider),
		Currency:          s.currency,
	}

	session, err := s.payments.CreateCheckoutSession(ctx, paymentCtx, req)
	if err != nil {
		if errors.Is(err, payments.ErrUnsupportedProvider) {
			return CheckoutResult{}, ErrCheckoutInvalidInput
		}
		s.logger(ctx, "checkout.payment_session_failed", map[string]any{
			"userId":  order.UserID,
			"orderId": order.ID,
			"error":   err.Error(),
		})
		return CheckoutResult{}, ErrPaymentInitialization
	}

	order.PaymentProvider = session.Provider
	order.PaymentSessionID = session.ID
	order.Version++
	order.UpdatedAt = s.now()
	if err := s.orders.Update(ctx, order); err != nil {
		return CheckoutResult{}, s.translateRepoError(err)
	}

	return CheckoutResult{
		Order: order,
		Session: &domain.PaymentSession{
			Provider:    session.Provider,
			SessionID:   session.ID,
			OrderID:     order.ID,
			Amount:      order.Totals.FinalAmount,
			Currency:    s.currency,
			RedirectURL: session.RedirectURL,
			CreatedAt:   s.now(),
		},
	}, nil
}

// confirmCashOrder confirms a COD order immediately and attempts the carrier
// booking inline. A failed booking never fails the checkout; it queues a
// retry instead.
func (s *checkoutService) confirmCashOrder(ctx context.Context, order domain.Order) (CheckoutResult, error) {
	now := s.now()
	order.Status = domain.OrderStatusConfirmed
	order.ConfirmedAt = &now
	order.Version++
	order.UpdatedAt = now
	if err := s.orders.Update(ctx, order); err != nil {
		return CheckoutResult{}, s.translateRepoError(err)
	}

	if s.shipments != nil {
		updated, err := s.shipments.EnsureShipment(ctx, order.ID)
		if err != nil {
			s.logger(ctx, "checkout.cod_shipment_failed", map[string]any{
				"orderId": order.ID,
				"error":   err.Error(),
			})
			s.queueShipmentRetry(ctx, order.ID)
		} else {
			order = updated
		}
	}

	return CheckoutResult{Order: order}, nil
}

func (s *checkoutService) queueShipmentRetry(ctx context.Context, orderID string) {
	if s.retryQueue == nil {
		return
	}
	err := s.retryQueue.PublishShipmentRetry(ctx, ShipmentRetryJob{
		OrderID:  orderID,
		Attempt:  1,
		QueuedAt: s.now(),
	})
	if err != nil {
		s.logger(ctx, "checkout.shipment_retry_publish_failed", map[string]any{
			"orderId": orderID,
			"error":   err.Error(),
		})
	}
}

func (s *checkoutService) clearCartBestEffort(ctx context.Context, userID string) {
	if s.carts == nil {
		return
	}
	if err := s.carts.DeleteCart(ctx, userID); err != nil && !isRepoNotFound(err) {
		s.logger(ctx, "checkout.cart_clear_failed", map[string]any{
			"userId": userID,
			"error":  err.Error(),
		})
	}
}

func (s *checkoutService) nextOrderNumber(ctx context.Context) string {
	if s.counters != nil {
		if value, err := s.counters.Next(ctx, orderNumberCounterID, 1); err == nil {
			return fmt.Sprintf("SC-%06d", value)
		}
	}
	// Counter outage must not block checkout; fall back to a unique id.
	return "SC-" + s.newID()
}

func (s *checkoutService) translateRepoError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) && repoErr.IsNotFound() {
		return ErrCheckoutInvalidInput
	}
	return ErrCheckoutUnavailable
}

func translateEligibilityError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrEligibilityProductNotFound), errors.Is(err, ErrEligibilityInvalidInput):
		return ErrCheckoutInvalidInput
	default:
		return ErrCheckoutUnavailable
	}
}

func validateShippingAddress(addr ShippingAddress) error {
	if strings.TrimSpace(addr.Name) == "" {
		return fmt.Errorf("%w: recipient name is required", ErrCheckoutInvalidInput)
	}
	if !isDigits(addr.Mobile, 10) {
		return fmt.Errorf("%w: mobile must be a 10-digit number", ErrCheckoutInvalidInput)
	}
	if !isDigits(addr.Pincode, 6) {
		return fmt.Errorf("%w: pincode must be a 6-digit number", ErrCheckoutInvalidInput)
	}
	if strings.TrimSpace(addr.Address) == "" || strings.TrimSpace(addr.Locality) == "" {
		return fmt.Errorf("%w: address and locality are required", ErrCheckoutInvalidInput)
	}
	if strings.TrimSpace(addr.City) == "" || strings.TrimSpace(addr.State) == "" {
		return fmt.Errorf("%w: city and state are required", ErrCheckoutInvalidInput)
	}
	if addr.AlternatePhone != "" && !isDigits(addr.AlternatePhone, 10) {
		return fmt.Errorf("%w: alternate phone must be a 10-digit number", ErrCheckoutInvalidInput)
	}
	return nil
}

func isDigits(value string, length int) bool {
	value = strings.TrimSpace(value)
	if len(value) != length {
		return false
	}
	for _, r := range value {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// checkoutKeyFor derives a deterministic key from the request content so a
// network-level retry maps onto the same pending order.
func checkoutKeyFor(userID string, method PaymentMethod, items []domain.CartItem, addr ShippingAddress) string {
	lines := make([]string, 0, len(items))
	for _, item := range items {
		lines = append(lines, fmt.Sprintf("%s:%d", item.ProductID, item.Quantity))
	}
	sort.Strings(lines)
	base := strings.Join([]string{
		userID,
		string(method),
		strings.Join(lines, ","),
		strings.TrimSpace(addr.Pincode),
	}, "|")
	sum := sha256.Sum256([]byte(base))
	return hex.EncodeToString(sum[:])
}

func sessionFromOrder(order domain.Order) *domain.PaymentSession {
	if order.PaymentMethod != domain.PaymentMethodOnline || order.PaymentSessionID == "" {
		return nil
	}
	return &domain.PaymentSession{
		Provider:  order.PaymentProvider,
		SessionID: order.PaymentSessionID,
		OrderID:   order.ID,
		Amount:    order.Totals.FinalAmount,
		CreatedAt: order.PlacedAt,
	}
}

func paymentLineItems(items []domain.OrderItem, currency string) []payments.CheckoutLineItem {
	lines := make([]payments.CheckoutLineItem, 0, len(items))
	for _, item := range items {
		lines = append(lines, payments.CheckoutLineItem{
			Name:     item.Name,
			SKU:      item.ProductID,
			Quantity: int64(item.Quantity),
			Amount:   item.UnitPrice,
			Currency: currency,
		})
	}
	return lines
}

func stringMapToAny(values map[string]string) map[string]any {
	if len(values) == 0 {
		return nil
	}
	out := make(map[string]any, len(values))
	for k, v := range values {
		out[k] = v
	}
	return out
}
