package services

import (
	"context"
	"time"

	domain "github.com/swiftcart/api/internal/domain"
	"github.com/swiftcart/api/internal/repositories"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Pagination         = domain.Pagination
	Cart               = domain.Cart
	CartItem           = domain.CartItem
	Product            = domain.Product
	ProductRef         = domain.ProductRef
	ProductSummary     = domain.ProductSummary
	Eligibility        = domain.Eligibility
	PaymentMethod      = domain.PaymentMethod
	ShippingAddress    = domain.ShippingAddress
	Order              = domain.Order
	OrderItem          = domain.OrderItem
	OrderTotals        = domain.OrderTotals
	OrderStatus        = domain.OrderStatus
	PaymentStatus      = domain.PaymentStatus
	PaymentSession     = domain.PaymentSession
	PaymentResult      = domain.PaymentResult
	ShipmentInfo       = domain.ShipmentInfo
	ScanEvent          = domain.ScanEvent
	WebhookEvent       = domain.WebhookEvent
	SystemHealthReport = domain.SystemHealthReport
)

// CartService manages server-side cart state keyed by user. AddItem
// increments an existing line; UpdateItemQuantity sets the absolute quantity.
type CartService interface {
	GetCart(ctx context.Context, userID string) (Cart, error)
	AddItem(ctx context.Context, cmd AddCartItemCommand) (Cart, error)
	UpdateItemQuantity(ctx context.Context, cmd UpdateCartItemCommand) (Cart, error)
	RemoveItem(ctx context.Context, cmd RemoveCartItemCommand) (Cart, error)
	ReplaceCart(ctx context.Context, cmd ReplaceCartCommand) (Cart, error)
	MergeGuestCart(ctx context.Context, cmd MergeGuestCartCommand) (Cart, error)
	ClearCart(ctx context.Context, userID string) error
}

// EligibilityResolver decides which payment methods a cart's products allow.
type EligibilityResolver interface {
	ResolveCart(ctx context.Context, cart Cart) (Eligibility, error)
	ResolveProducts(ctx context.Context, productIDs []string) (Eligibility, error)
}

// CheckoutService turns a validated cart into a persisted order, including
// payment session creation for online orders.
type CheckoutService interface {
	CreateOrder(ctx context.Context, cmd CreateOrderCommand) (CheckoutResult, error)
}

// OrderService exposes order reads and the cancellation flow.
type OrderService interface {
	GetOrder(ctx context.Context, cmd OrderQuery) (Order, error)
	GetStatus(ctx context.Context, cmd OrderQuery) (OrderStatusView, error)
	ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error)
	Cancel(ctx context.Context, cmd CancelOrderCommand) (CancelResult, error)
}

// PaymentService handles idempotent gateway webhook processing and the
// synchronous verification fallback.
type PaymentService interface {
	HandleWebhook(ctx context.Context, cmd PaymentWebhookCommand) (WebhookOutcome, error)
	VerifyPayment(ctx context.Context, cmd VerifyPaymentCommand) (PaymentResult, error)
}

// ShipmentService coordinates carrier bookings, tracking reads, and
// best-effort cancellation.
type ShipmentService interface {
	EnsureShipment(ctx context.Context, orderID string) (Order, error)
	Track(ctx context.Context, cmd OrderQuery) (TrackingView, error)
	CancelShipment(ctx context.Context, order Order) ShipmentCancelOutcome
}

// ShipmentJobPublisher queues shipment bookings that failed inline for
// asynchronous retry.
type ShipmentJobPublisher interface {
	PublishShipmentRetry(ctx context.Context, job ShipmentRetryJob) error
}

// SystemService aggregates utility endpoints (health checks, counters).
type SystemService interface {
	HealthReport(ctx context.Context) (SystemHealthReport, error)
	NextCounterValue(ctx context.Context, cmd CounterCommand) (int64, error)
}

// Command and DTO definitions ------------------------------------------------

type AddCartItemCommand struct {
	UserID    string
	ProductID string
	Quantity  int
}

type UpdateCartItemCommand struct {
	UserID    string
	ProductID string
	Quantity  int
}

type RemoveCartItemCommand struct {
	UserID    string
	ProductID string
}

type ReplaceCartCommand struct {
	UserID string
	Items  []CartItem
}

type MergeGuestCartCommand struct {
	UserID     string
	MergeID    string
	GuestItems []CartItem
}

type CreateOrderCommand struct {
	UserID          string
	Items           []CartItem
	ShippingAddress ShippingAddress
	PaymentMethod   PaymentMethod
	Provider        string
	SuccessURL      string
	CancelURL       string
	Metadata        map[string]string
}

// CheckoutResult reports the persisted order plus, for online payments, the
// gateway session the client must be redirected to.
type CheckoutResult struct {
	Order   Order
	Session *PaymentSession
}

type OrderQuery struct {
	OrderID string
	UserID  string
}

// OrderStatusView is the condensed status payload returned to clients polling
// an order.
type OrderStatusView struct {
	OrderID       string
	OrderNumber   string
	Status        OrderStatus
	PaymentStatus PaymentStatus
	TrackingID    string
	UpdatedAt     time.Time
}

type OrderListFilter = repositories.OrderListFilter

type CancelOrderCommand struct {
	OrderID string
	UserID  string
	Reason  string
}

// CancelResult reports the order cancellation alongside the independent
// carrier cancellation outcome.
type CancelResult struct {
	Order            Order
	CarrierCancelled bool
	CarrierError     string
}

// ShipmentCancelOutcome is the carrier-side result of a cancellation attempt.
type ShipmentCancelOutcome struct {
	Attempted bool
	Cancelled bool
	Error     string
}

type PaymentWebhookCommand struct {
	Provider string
	Payload  []byte
	Headers  map[string]string
}

// WebhookOutcome reports how a webhook delivery was handled.
type WebhookOutcome struct {
	EventID   string
	OrderID   string
	Duplicate bool
	Applied   bool
}

type VerifyPaymentCommand struct {
	OrderID string
	UserID  string
}

// TrackingView combines stored shipment state with fresh carrier scans.
type TrackingView struct {
	OrderID    string
	TrackingID string
	Status     OrderStatus
	Carrier    string
	Scans      []ScanEvent
	FetchedAt  time.Time
}

// ShipmentRetryJob is the payload queued when an inline carrier booking fails.
type ShipmentRetryJob struct {
	OrderID  string    `json:"orderId"`
	Attempt  int       `json:"attempt"`
	QueuedAt time.Time `json:"queuedAt"`
}

type CounterCommand struct {
	CounterID string
	Step      int64
}
