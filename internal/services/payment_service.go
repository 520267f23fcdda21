package services

import (
	"context"
	"errors"
	"strings"
	"time"

	domain "github.com/swiftcart/api/internal/domain"
	"github.com/swiftcart/api/internal/payments"
	"github.com/swiftcart/api/internal/repositories"
)

const paymentApplyAttempts = 3

var (
	// ErrPaymentInvalidInput indicates the caller supplied invalid input.
	ErrPaymentInvalidInput = errors.New("payment service: invalid input")
	// ErrPaymentUnavailable indicates payment dependencies are currently unavailable.
	ErrPaymentUnavailable = errors.New("payment service: unavailable")
	// ErrPaymentWebhookInvalid indicates the webhook payload failed signature verification.
	ErrPaymentWebhookInvalid = errors.New("payment service: webhook verification failed")
	// ErrPaymentOrderUnknown indicates the gateway event references no known order.
	ErrPaymentOrderUnknown = errors.New("payment service: order unknown")
)

// paymentGateway abstracts payments.Manager for easier testing.
type paymentGateway interface {
	VerifyWebhook(ctx context.Context, providerKey string, payload []byte, headers map[string]string) (payments.WebhookResult, error)
	LookupPayment(ctx context.Context, paymentCtx payments.PaymentContext, req payments.LookupRequest) (payments.PaymentDetails, error)
}

// PaymentServiceDeps wires gateway, storage, and shipment dependencies.
type PaymentServiceDeps struct {
	Orders     repositories.OrderRepository
	Events     repositories.WebhookEventRepository
	Gateway    paymentGateway
	Shipments  shipmentBooker
	RetryQueue ShipmentJobPublisher
	Clock      func() time.Time
	Logger     func(ctx context.Context, event string, fields map[string]any)
}

type paymentService struct {
	orders     repositories.OrderRepository
	events     repositories.WebhookEventRepository
	gateway    paymentGateway
	shipments  shipmentBooker
	retryQueue ShipmentJobPublisher
	now        func() time.Time
	logger     func(ctx context.Context, event string, fields map[string]any)
}

// NewPaymentService constructs a PaymentService validating required dependencies.
func NewPaymentService(deps PaymentServiceDeps) (PaymentService, error) {
	if deps.Orders == nil {
		return nil, errors.New("payment service: order repository is required")
	}
	if deps.Events == nil {
		return nil, errors.New("payment service: webhook event repository is required")
	}
	if deps.Gateway == nil {
		return nil, errors.New("payment service: gateway is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &paymentService{
		orders:     deps.Orders,
		events:     deps.Events,
		gateway:    deps.Gateway,
		shipments:  deps.Shipments,
		retryQueue: deps.RetryQueue,
		now: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// HandleWebhook verifies, deduplicates, and applies one gateway notification.
// A duplicate delivery acknowledges without touching the order; a success
// event for a cancelled order is recorded but never resurrects it.
func (s *paymentService) HandleWebhook(ctx context.Context, cmd PaymentWebhookCommand) (WebhookOutcome, error) {
	if s == nil || s.orders == nil || s.gateway == nil {
		return WebhookOutcome{}, ErrPaymentUnavailable
	}

	provider := strings.TrimSpace(cmd.Provider)
	if provider == "" || len(cmd.Payload) == 0 {
		return WebhookOutcome{}, ErrPaymentInvalidInput
	}

	result, err := s.gateway.VerifyWebhook(ctx, provider, cmd.Payload, cmd.Headers)
	if err != nil {
		if errors.Is(err, payments.ErrInvalidSignature) || errors.Is(err, payments.ErrUnsupportedProvider) {
			return WebhookOutcome{}, ErrPaymentWebhookInvalid
		}
		return WebhookOutcome{}, ErrPaymentUnavailable
	}

	firstSeen, err := s.events.Record(ctx, domain.WebhookEvent{
		Provider:   provider,
		EventID:    result.EventID,
		OrderID:    result.OrderID,
		ReceivedAt: s.now(),
	})
	if err != nil {
		return WebhookOutcome{}, ErrPaymentUnavailable
	}
	if !firstSeen {
		s.logger(ctx, "payment.webhook_duplicate", map[string]any{
			"provider": provider,
			"eventId":  result.EventID,
		})
		return WebhookOutcome{EventID: result.EventID, OrderID: result.OrderID, Duplicate: true}, nil
	}

	if result.Status == payments.StatusPending {
		// Informational event; nothing to apply.
		return WebhookOutcome{EventID: result.EventID, OrderID: result.OrderID}, nil
	}

	orderID := strings.TrimSpace(result.OrderID)
	if orderID == "" {
		s.logger(ctx, "payment.webhook_order_missing", map[string]any{
			"provider": provider,
			"eventId":  result.EventID,
		})
		return WebhookOutcome{}, ErrPaymentOrderUnknown
	}

	applied, err := s.applyPaymentResult(ctx, orderID, domain.PaymentResult{
		Succeeded:     result.Status == payments.StatusSucceeded,
		SessionID:     result.SessionID,
		FailureReason: result.FailureReason,
	})
	if err != nil {
		return WebhookOutcome{}, err
	}

	return WebhookOutcome{EventID: result.EventID, OrderID: orderID, Applied: applied}, nil
}

// VerifyPayment reconciles an order against the gateway directly, covering
// webhooks that are delayed or lost.
func (s *paymentService) VerifyPayment(ctx context.Context, cmd VerifyPaymentCommand) (PaymentResult, error) {
	if s == nil || s.orders == nil || s.gateway == nil {
		return PaymentResult{}, ErrPaymentUnavailable
	}

	orderID := strings.TrimSpace(cmd.OrderID)
	userID := strings.TrimSpace(cmd.UserID)
	if orderID == "" || userID == "" {
		return PaymentResult{}, ErrPaymentInvalidInput
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return PaymentResult{}, s.translateRepoError(err)
	}
	if !strings.EqualFold(order.UserID, userID) {
		return PaymentResult{}, ErrPaymentOrderUnknown
	}

	switch order.PaymentStatus {
	case domain.PaymentStatusSuccess:
		return PaymentResult{Succeeded: true, SessionID: order.PaymentSessionID}, nil
	case domain.PaymentStatusFailed:
		return PaymentResult{SessionID: order.PaymentSessionID, FailureReason: order.PaymentFailure}, nil
	}

	if order.PaymentMethod != domain.PaymentMethodOnline || order.PaymentSessionID == "" {
		return PaymentResult{}, ErrPaymentInvalidInput
	}

	details, err := s.gateway.LookupPayment(ctx,
		payments.PaymentContext{PreferredProvider: order.PaymentProvider},
		payments.LookupRequest{SessionID: order.PaymentSessionID},
	)
	if err != nil {
		if errors.Is(err, payments.ErrUnsupportedProvider) {
			return PaymentResult{}, ErrPaymentInvalidInput
		}
		return PaymentResult{}, ErrPaymentUnavailable
	}

	result := domain.PaymentResult{
		Succeeded:     details.Status == payments.StatusSucceeded,
		SessionID:     details.SessionID,
		FailureReason: details.FailureReason,
	}
	if details.Status == payments.StatusPending {
		return result, nil
	}

	if _, err := s.applyPaymentResult(ctx, order.ID, result); err != nil {
		return PaymentResult{}, err
	}
	return result, nil
}

// applyPaymentResult funnels webhook and poll verdicts through the same
// guarded transition. Conflicting writers are retried against a fresh read;
// whoever loses the race observes the winner's state and no-ops.
func (s *paymentService) applyPaymentResult(ctx context.Context, orderID string, result domain.PaymentResult) (bool, error) {
	for attempt := 0; attempt < paymentApplyAttempts; attempt++ {
		order, err := s.orders.FindByID(ctx, orderID)
		if err != nil {
			return false, s.translateRepoError(err)
		}

		nextStatus, nextPayment, apply := domain.PaymentOutcome(order.Status, order.PaymentStatus, result.Succeeded)
		if !apply {
			s.logger(ctx, "payment.result_noop", map[string]any{
				"orderId":   orderID,
				"status":    string(order.Status),
				"succeeded": result.Succeeded,
			})
			return false, nil
		}

		now := s.now()
		confirmed := order.Status != domain.OrderStatusConfirmed && nextStatus == domain.OrderStatusConfirmed
		order.Status = nextStatus
		order.PaymentStatus = nextPayment
		if confirmed {
			order.ConfirmedAt = &now
		}
		if !result.Succeeded {
			order.PaymentFailure = strings.TrimSpace(result.FailureReason)
		}
		order.Version++
		order.UpdatedAt = now

		if err := s.orders.Update(ctx, order); err != nil {
			if isRepoConflict(err) {
				continue
			}
			return false, s.translateRepoError(err)
		}

		if confirmed {
			s.bookShipment(ctx, order.ID)
		}
		return true, nil
	}
	return false, ErrPaymentUnavailable
}

func (s *paymentService) bookShipment(ctx context.Context, orderID string) {
	if s.shipments == nil {
		return
	}
	if _, err := s.shipments.EnsureShipment(ctx, orderID); err != nil {
		s.logger(ctx, "payment.shipment_booking_failed", map[string]any{
			"orderId": orderID,
			"error":   err.Error(),
		})
		if s.retryQueue != nil {
			if err := s.retryQueue.PublishShipmentRetry(ctx, ShipmentRetryJob{
				OrderID:  orderID,
				Attempt:  1,
				QueuedAt: s.now(),
			}); err != nil {
				s.logger(ctx, "payment.shipment_retry_publish_failed", map[string]any{
					"orderId": orderID,
					"error":   err.Error(),
				})
			}
		}
	}
}

func (s *paymentService) translateRepoError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return ErrPaymentOrderUnknown
		default:
			return ErrPaymentUnavailable
		}
	}
	return ErrPaymentUnavailable
}

func isRepoConflict(err error) bool {
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		return repoErr.IsConflict()
	}
	return false
}
