package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"

	domain "github.com/swiftcart/api/internal/domain"
	"github.com/swiftcart/api/internal/logistics"
	"github.com/swiftcart/api/internal/repositories"
)

var (
	// ErrShipmentInvalidInput indicates the caller supplied invalid input.
	ErrShipmentInvalidInput = errors.New("shipment service: invalid input")
	// ErrShipmentUnavailable indicates the carrier or storage backend cannot be reached.
	ErrShipmentUnavailable = errors.New("shipment service: unavailable")
	// ErrShipmentOrderNotFound indicates the order does not exist or belongs to another user.
	ErrShipmentOrderNotFound = errors.New("shipment service: order not found")
	// ErrShipmentNotBooked indicates no carrier shipment exists for the order yet.
	ErrShipmentNotBooked = errors.New("shipment service: not booked")
	// ErrShipmentOrderNotReady indicates the order's state does not allow booking.
	ErrShipmentOrderNotReady = errors.New("shipment service: order not ready")
)

// carrierStatusTransitions maps carrier-reported shipment states onto order
// statuses worth advancing to.
var carrierStatusTransitions = map[string]domain.OrderStatus{
	"PICKED":     domain.OrderStatusShipped,
	"IN_TRANSIT": domain.OrderStatusShipped,
	"SHIPPED":    domain.OrderStatusShipped,
	"DELIVERED":  domain.OrderStatusDelivered,
}

// ShipmentServiceDeps wires the order storage and carrier dependencies.
type ShipmentServiceDeps struct {
	Orders  repositories.OrderRepository
	Carrier logistics.Provider
	Clock   func() time.Time
	Logger  func(ctx context.Context, event string, fields map[string]any)
}

type shipmentService struct {
	orders    repositories.OrderRepository
	carrier   logistics.Provider
	sanitizer *bluemonday.Policy
	now       func() time.Time
	logger    func(ctx context.Context, event string, fields map[string]any)
}

// NewShipmentService constructs a ShipmentService validating required dependencies.
func NewShipmentService(deps ShipmentServiceDeps) (ShipmentService, error) {
	if deps.Orders == nil {
		return nil, errors.New("shipment service: order repository is required")
	}
	if deps.Carrier == nil {
		return nil, errors.New("shipment service: carrier is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &shipmentService{
		orders:    deps.Orders,
		carrier:   deps.Carrier,
		sanitizer: bluemonday.StrictPolicy(),
		now: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// EnsureShipment books a carrier shipment for a confirmed order exactly once.
// An order that already carries a tracking id is returned untouched, so the
// inline booking, webhook path, and retry worker can all call this safely.
func (s *shipmentService) EnsureShipment(ctx context.Context, orderID string) (Order, error) {
	if s == nil || s.orders == nil || s.carrier == nil {
		return Order{}, ErrShipmentUnavailable
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Order{}, ErrShipmentInvalidInput
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.translateRepoError(err)
	}
	if order.TrackingID() != "" {
		return order, nil
	}
	if order.Status != domain.OrderStatusConfirmed {
		return Order{}, ErrShipmentOrderNotReady
	}

	shipment, err := s.carrier.CreateShipment(ctx, shipmentRequestFor(order))
	if err != nil {
		s.logger(ctx, "shipment.booking_failed", map[string]any{
			"orderId": order.ID,
			"error":   err.Error(),
		})
		return Order{}, ErrShipmentUnavailable
	}

	order.Shipment = &domain.ShipmentInfo{
		TrackingID: shipment.TrackingID,
		AWB:        shipment.AWB,
		CreatedAt:  shipment.CreatedAt,
	}
	order.Version++
	order.UpdatedAt = s.now()

	if err := s.orders.Update(ctx, order); err != nil {
		if isRepoConflict(err) {
			// A concurrent writer got there first; their booking wins.
			current, readErr := s.orders.FindByID(ctx, orderID)
			if readErr == nil && current.TrackingID() != "" {
				return current, nil
			}
		}
		return Order{}, s.translateRepoError(err)
	}

	s.logger(ctx, "shipment.booked", map[string]any{
		"orderId":    order.ID,
		"trackingId": shipment.TrackingID,
	})
	return order, nil
}

// Track fetches the carrier's current scan history, replaces the stored
// history wholesale, and advances the order status when the carrier reports
// movement. Carrier remarks are sanitised before storage.
func (s *shipmentService) Track(ctx context.Context, cmd OrderQuery) (TrackingView, error) {
	if s == nil || s.orders == nil {
		return TrackingView{}, ErrShipmentUnavailable
	}
	orderID := strings.TrimSpace(cmd.OrderID)
	userID := strings.TrimSpace(cmd.UserID)
	if orderID == "" || userID == "" {
		return TrackingView{}, ErrShipmentInvalidInput
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return TrackingView{}, s.translateRepoError(err)
	}
	if !strings.EqualFold(order.UserID, userID) {
		return TrackingView{}, ErrShipmentOrderNotFound
	}
	trackingID := order.TrackingID()
	if trackingID == "" {
		return TrackingView{}, ErrShipmentNotBooked
	}

	details, err := s.carrier.FetchTracking(ctx, trackingID)
	if err != nil {
		// Serve the last stored history when the carrier is unreachable.
		s.logger(ctx, "shipment.tracking_fetch_failed", map[string]any{
			"orderId":    order.ID,
			"trackingId": trackingID,
			"error":      err.Error(),
		})
		return TrackingView{
			OrderID:    order.ID,
			TrackingID: trackingID,
			Status:     order.Status,
			Carrier:    "ekart",
			Scans:      order.Shipment.Scans,
		}, nil
	}

	scans := make([]domain.ScanEvent, 0, len(details.Scans))
	for _, scan := range details.Scans {
		scans = append(scans, domain.ScanEvent{
			Status:    strings.TrimSpace(scan.Status),
			Location:  strings.TrimSpace(scan.Location),
			Remarks:   s.sanitizer.Sanitize(scan.Remark),
			Timestamp: scan.At,
		})
	}

	order.Shipment.Scans = scans
	if next, ok := carrierStatusTransitions[strings.ToUpper(strings.TrimSpace(details.Status))]; ok {
		if next != order.Status && domain.CanTransition(order.Status, next) {
			now := s.now()
			order.Status = next
			switch next {
			case domain.OrderStatusShipped:
				order.ShippedAt = &now
			case domain.OrderStatusDelivered:
				order.DeliveredAt = &now
			}
		}
	}
	order.Version++
	order.UpdatedAt = s.now()

	if err := s.orders.Update(ctx, order); err != nil {
		// Persisting refreshed scans is best-effort; the view is still valid.
		s.logger(ctx, "shipment.tracking_persist_failed", map[string]any{
			"orderId": order.ID,
			"error":   err.Error(),
		})
	}

	return TrackingView{
		OrderID:    order.ID,
		TrackingID: trackingID,
		Status:     order.Status,
		Carrier:    "ekart",
		Scans:      scans,
		FetchedAt:  details.FetchedAt,
	}, nil
}

// CancelShipment asks the carrier to cancel the order's shipment. The outcome
// is reported, never escalated; the caller decides what to persist.
func (s *shipmentService) CancelShipment(ctx context.Context, order Order) ShipmentCancelOutcome {
	if s == nil || s.carrier == nil {
		return ShipmentCancelOutcome{}
	}
	trackingID := order.TrackingID()
	if trackingID == "" {
		return ShipmentCancelOutcome{}
	}
	if order.Shipment != nil && order.Shipment.Cancelled {
		return ShipmentCancelOutcome{Attempted: true, Cancelled: true}
	}

	if err := s.carrier.CancelShipment(ctx, trackingID); err != nil {
		s.logger(ctx, "shipment.cancel_failed", map[string]any{
			"orderId":    order.ID,
			"trackingId": trackingID,
			"error":      err.Error(),
		})
		return ShipmentCancelOutcome{Attempted: true, Error: err.Error()}
	}
	return ShipmentCancelOutcome{Attempted: true, Cancelled: true}
}

func (s *shipmentService) translateRepoError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return ErrShipmentOrderNotFound
		case repoErr.IsConflict():
			return ErrShipmentUnavailable
		}
	}
	return ErrShipmentUnavailable
}

func shipmentRequestFor(order Order) logistics.CreateShipmentRequest {
	items := make([]logistics.ShipmentItem, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, logistics.ShipmentItem{
			ProductID: item.ProductID,
			Name:      item.Name,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
		})
	}
	req := logistics.CreateShipmentRequest{
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		Recipient: logistics.Recipient{
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
		Items: items,
	}
	if order.PaymentMethod == domain.PaymentMethodCOD {
		req.CashOnDelivery = true
		req.AmountDue = order.Totals.FinalAmount
	}
	return req
}
