package services

import (
	"context"
	"errors"
	"strings"
	"time"

	domain "github.com/swiftcart/api/internal/domain"
	"github.com/swiftcart/api/internal/repositories"
)

var (
	// ErrOrderInvalidInput indicates the caller supplied invalid input.
	ErrOrderInvalidInput = errors.New("order service: invalid input")
	// ErrOrderUnavailable indicates the order backend cannot be reached.
	ErrOrderUnavailable = errors.New("order service: unavailable")
	// ErrOrderNotFound indicates the order does not exist or belongs to another user.
	ErrOrderNotFound = errors.New("order service: not found")
	// ErrOrderConflict indicates a concurrent modification was detected.
	ErrOrderConflict = errors.New("order service: conflict")
	// ErrOrderNotCancellable indicates the order's state forbids cancellation.
	ErrOrderNotCancellable = errors.New("order service: not cancellable")
)

// shipmentCanceller abstracts the shipment service for order cancellation.
type shipmentCanceller interface {
	CancelShipment(ctx context.Context, order Order) ShipmentCancelOutcome
}

// OrderServiceDeps wires the order repository and the carrier-facing
// cancellation dependency.
type OrderServiceDeps struct {
	Orders    repositories.OrderRepository
	Shipments shipmentCanceller
	Clock     func() time.Time
	Logger    func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders    repositories.OrderRepository
	shipments shipmentCanceller
	now       func() time.Time
	logger    func(ctx context.Context, event string, fields map[string]any)
}

// NewOrderService constructs an OrderService validating required dependencies.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &orderService{
		orders:    deps.Orders,
		shipments: deps.Shipments,
		now: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// GetOrder loads one order, scoped to its owner. An order belonging to a
// different user reads as not found, never as forbidden.
func (s *orderService) GetOrder(ctx context.Context, cmd OrderQuery) (Order, error) {
	if s == nil || s.orders == nil {
		return Order{}, ErrOrderUnavailable
	}
	orderID := strings.TrimSpace(cmd.OrderID)
	userID := strings.TrimSpace(cmd.UserID)
	if orderID == "" || userID == "" {
		return Order{}, ErrOrderInvalidInput
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.translateRepoError(err)
	}
	if !strings.EqualFold(order.UserID, userID) {
		return Order{}, ErrOrderNotFound
	}
	return order, nil
}

// GetStatus returns the condensed status view clients poll after checkout.
func (s *orderService) GetStatus(ctx context.Context, cmd OrderQuery) (OrderStatusView, error) {
	order, err := s.GetOrder(ctx, cmd)
	if err != nil {
		return OrderStatusView{}, err
	}
	return OrderStatusView{
		OrderID:       order.ID,
		OrderNumber:   order.OrderNumber,
		Status:        order.Status,
		PaymentStatus: order.PaymentStatus,
		TrackingID:    order.TrackingID(),
		UpdatedAt:     order.UpdatedAt,
	}, nil
}

// ListOrders pages through the user's order history, newest first.
func (s *orderService) ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error) {
	if s == nil || s.orders == nil {
		return domain.CursorPage[Order]{}, ErrOrderUnavailable
	}
	if strings.TrimSpace(filter.UserID) == "" {
		return domain.CursorPage[Order]{}, ErrOrderInvalidInput
	}

	page, err := s.orders.List(ctx, filter)
	if err != nil {
		return domain.CursorPage[Order]{}, s.translateRepoError(err)
	}
	return page, nil
}

// Cancel moves an order to cancelled when its state allows it. The carrier
// cancellation is attempted first but its outcome never blocks the order
// cancellation; both results travel back to the caller independently.
func (s *orderService) Cancel(ctx context.Context, cmd CancelOrderCommand) (CancelResult, error) {
	if s == nil || s.orders == nil {
		return CancelResult{}, ErrOrderUnavailable
	}

	order, err := s.GetOrder(ctx, OrderQuery{OrderID: cmd.OrderID, UserID: cmd.UserID})
	if err != nil {
		return CancelResult{}, err
	}

	if order.Status == domain.OrderStatusCancelled {
		// Cancelling twice is a no-op, not an error.
		return CancelResult{
			Order:            order,
			CarrierCancelled: order.Shipment != nil && order.Shipment.Cancelled,
			CarrierError:     shipmentCancelError(order),
		}, nil
	}
	if !domain.Cancellable(order.Status) {
		return CancelResult{}, ErrOrderNotCancellable
	}

	outcome := ShipmentCancelOutcome{}
	if s.shipments != nil && order.TrackingID() != "" {
		outcome = s.shipments.CancelShipment(ctx, order)
	}

	now := s.now()
	order.Status = domain.OrderStatusCancelled
	order.CancelledAt = &now
	order.UpdatedAt = now
	if reason := strings.TrimSpace(cmd.Reason); reason != "" {
		if order.Metadata == nil {
			order.Metadata = map[string]any{}
		}
		order.Metadata["cancelReason"] = reason
	}
	if order.Shipment != nil && outcome.Attempted {
		order.Shipment.Cancelled = outcome.Cancelled
		order.Shipment.CancelError = outcome.Error
	}
	order.Version++

	if err := s.orders.Update(ctx, order); err != nil {
		return CancelResult{}, s.translateRepoError(err)
	}

	s.logger(ctx, "order.cancelled", map[string]any{
		"orderId":          order.ID,
		"userId":           order.UserID,
		"carrierAttempted": outcome.Attempted,
		"carrierCancelled": outcome.Cancelled,
	})

	return CancelResult{
		Order:            order,
		CarrierCancelled: outcome.Cancelled,
		CarrierError:     outcome.Error,
	}, nil
}

func (s *orderService) translateRepoError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return ErrOrderNotFound
		case repoErr.IsConflict():
			return ErrOrderConflict
		case repoErr.IsUnavailable():
			return ErrOrderUnavailable
		}
		return ErrOrderUnavailable
	}
	return ErrOrderUnavailable
}

func shipmentCancelError(order Order) string {
	if order.Shipment == nil {
		return ""
	}
	return order.Shipment.CancelError
}
