package domain

import (
	"time"
)

// Pagination defines standard cursor-based paging inputs for list operations.
type Pagination struct {
	PageSize  int
	PageToken string
}

// CursorPage wraps a page of results with the cursor for the next page.
type CursorPage[T any] struct {
	Items      []T    `json:"items"`
	NextCursor string `json:"nextCursor,omitempty"`
}

// PaymentMethod identifies how the buyer pays for an order.
type PaymentMethod string

const (
	// PaymentMethodOnline routes the order through the hosted payment gateway.
	PaymentMethodOnline PaymentMethod = "online"
	// PaymentMethodCOD collects cash on delivery; settlement happens outside this system.
	PaymentMethodCOD PaymentMethod = "cod"
)

// OrderStatus enumerates the order lifecycle states.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusConfirmed OrderStatus = "confirmed"
	OrderStatusShipped   OrderStatus = "shipped"
	OrderStatusDelivered OrderStatus = "delivered"
	OrderStatusCancelled OrderStatus = "cancelled"
)

// PaymentStatus enumerates payment settlement states for an order.
type PaymentStatus string

const (
	PaymentStatusPending PaymentStatus = "pending"
	PaymentStatusSuccess PaymentStatus = "success"
	PaymentStatusFailed  PaymentStatus = "failed"
)

// Product carries the catalog fields the order lifecycle reads. The catalog
// itself is owned elsewhere; orders only consume prices and payment flags.
type Product struct {
	ID                   string `json:"id"`
	Name                 string `json:"name"`
	UnitPrice            int64  `json:"unitPrice"`
	Image                string `json:"image,omitempty"`
	EnableOnlinePayment  bool   `json:"enableOnlinePayment"`
	EnableCashOnDelivery bool   `json:"enableCashOnDelivery"`
}

// ProductSummary is the expanded form of a product reference.
type ProductSummary struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	UnitPrice int64  `json:"unitPrice"`
	Image     string `json:"image,omitempty"`
}

// ProductRef is either a bare product ID or an expanded summary. References
// are resolved once at the data-access boundary; callers check Expanded
// before reading Summary.
type ProductRef struct {
	ID       string          `json:"id"`
	Expanded bool            `json:"expanded"`
	Summary  *ProductSummary `json:"summary,omitempty"`
}

// RefFromSummary builds an expanded product reference.
func RefFromSummary(summary ProductSummary) ProductRef {
	return ProductRef{ID: summary.ID, Expanded: true, Summary: &summary}
}

// CartItem is one selected product with its quantity and add-time snapshots.
type CartItem struct {
	ProductID string `json:"productId"`
	Name      string `json:"name"`
	UnitPrice int64  `json:"unitPrice"`
	Image     string `json:"image,omitempty"`
	Quantity  int    `json:"quantity"`
}

// Cart is a buyer's pending selection. Items are keyed by product ID and
// totals are always derived from the items, never stored independently.
type Cart struct {
	ID        string         `json:"id"`
	UserID    string         `json:"userId"`
	Items     []CartItem     `json:"items"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

// TotalQuantity sums the quantities over all items.
func (c Cart) TotalQuantity() int {
	total := 0
	for _, item := range c.Items {
		total += item.Quantity
	}
	return total
}

// TotalAmount sums unitPrice×quantity over all items.
func (c Cart) TotalAmount() int64 {
	var total int64
	for _, item := range c.Items {
		total += item.UnitPrice * int64(item.Quantity)
	}
	return total
}

// Eligibility reports which payment methods every item in a cart permits.
type Eligibility struct {
	Online bool `json:"online"`
	COD    bool `json:"cod"`
}

// Allows reports whether the given method is in the eligible set.
func (e Eligibility) Allows(method PaymentMethod) bool {
	switch method {
	case PaymentMethodOnline:
		return e.Online
	case PaymentMethodCOD:
		return e.COD
	default:
		return false
	}
}

// Empty reports whether no payment method is available.
func (e Eligibility) Empty() bool {
	return !e.Online && !e.COD
}

// ShippingAddress is the delivery address snapshot copied onto an order at
// creation. Address-book edits never change a placed order.
type ShippingAddress struct {
	Name           string `json:"name"`
	Mobile         string `json:"mobile"`
	Pincode        string `json:"pincode"`
	Locality       string `json:"locality"`
	Address        string `json:"address"`
	City           string `json:"city"`
	State          string `json:"state"`
	Landmark       string `json:"landmark,omitempty"`
	AlternatePhone string `json:"alternatePhone,omitempty"`
}

// OrderItem is a cart item frozen onto an order. All fields are snapshots
// taken at checkout and stay fixed through later catalog mutation.
type OrderItem struct {
	ProductID string `json:"productId"`
	Name      string `json:"name"`
	UnitPrice int64  `json:"unitPrice"`
	Image     string `json:"image,omitempty"`
	Quantity  int    `json:"quantity"`
	LineTotal int64  `json:"lineTotal"`
}

// OrderTotals is the pricing breakdown fixed at checkout.
// FinalAmount = TotalAmount - Discount + ShippingCharge.
type OrderTotals struct {
	TotalAmount    int64 `json:"totalAmount"`
	Discount       int64 `json:"discount"`
	ShippingCharge int64 `json:"shippingCharge"`
	FinalAmount    int64 `json:"finalAmount"`
}

// ShipmentInfo records the logistics provider handles and the outcome of a
// provider-side cancellation attempt. Cancelled and CancelError stay separate
// from the order's own status so a provider failure remains visible.
type ShipmentInfo struct {
	TrackingID  string      `json:"trackingId,omitempty"`
	AWB         string      `json:"awb,omitempty"`
	Cancelled   bool        `json:"cancelled"`
	CancelError string      `json:"cancelError,omitempty"`
	Scans       []ScanEvent `json:"scans,omitempty"`
	CreatedAt   time.Time   `json:"createdAt,omitempty"`
}

// Order is a checkout attempt and its fulfillment progress. Orders are never
// deleted; cancellation is a terminal state, not removal.
type Order struct {
	ID               string          `json:"id"`
	OrderNumber      string          `json:"orderNumber"`
	UserID           string          `json:"userId"`
	Items            []OrderItem     `json:"items"`
	ShippingAddress  ShippingAddress `json:"shippingAddress"`
	Totals           OrderTotals     `json:"totals"`
	PaymentMethod    PaymentMethod   `json:"paymentMethod"`
	// CheckoutKey is the idempotency key derived from the checkout request.
	// A retry that hits an existing pending order with the same key reuses it
	// instead of creating a duplicate.
	CheckoutKey      string          `json:"checkoutKey,omitempty"`
	Status           OrderStatus     `json:"status"`
	PaymentStatus    PaymentStatus   `json:"paymentStatus"`
	PaymentProvider  string          `json:"paymentProvider,omitempty"`
	PaymentSessionID string          `json:"paymentSessionId,omitempty"`
	PaymentFailure   string          `json:"paymentFailure,omitempty"`
	Shipment         *ShipmentInfo   `json:"shipment,omitempty"`
	Version          int64           `json:"version"`
	Metadata         map[string]any  `json:"metadata,omitempty"`
	PlacedAt         time.Time       `json:"placedAt"`
	ConfirmedAt      *time.Time      `json:"confirmedAt,omitempty"`
	ShippedAt        *time.Time      `json:"shippedAt,omitempty"`
	DeliveredAt      *time.Time      `json:"deliveredAt,omitempty"`
	CancelledAt      *time.Time      `json:"cancelledAt,omitempty"`
	UpdatedAt        time.Time       `json:"updatedAt"`
}

// TrackingID returns the logistics tracking identifier, if any.
func (o Order) TrackingID() string {
	if o.Shipment == nil {
		return ""
	}
	return o.Shipment.TrackingID
}

// PaymentSession is the gateway-issued handle for collecting payment for one
// order. Read-only once issued.
type PaymentSession struct {
	Provider    string    `json:"provider"`
	SessionID   string    `json:"sessionId"`
	OrderID     string    `json:"orderId"`
	Amount      int64     `json:"amount"`
	Currency    string    `json:"currency"`
	RedirectURL string    `json:"redirectUrl,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// PaymentResult is the gateway's verdict on a payment session, carried by a
// webhook event or a synchronous lookup.
type PaymentResult struct {
	Succeeded     bool   `json:"succeeded"`
	SessionID     string `json:"sessionId"`
	FailureReason string `json:"failureReason,omitempty"`
}

// WebhookEvent records a processed gateway notification. The
// (provider, eventId) pair is processed at most once.
type WebhookEvent struct {
	Provider   string    `json:"provider"`
	EventID    string    `json:"eventId"`
	OrderID    string    `json:"orderId,omitempty"`
	ReceivedAt time.Time `json:"receivedAt"`
}

// ScanEvent is one provider-reported milestone in a shipment's journey.
// Providers resend the full history newest-first; histories are replaced
// wholesale, never merged.
type ScanEvent struct {
	Status    string    `json:"status"`
	Location  string    `json:"location,omitempty"`
	Remarks   string    `json:"remarks,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
