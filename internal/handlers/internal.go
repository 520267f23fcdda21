package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/swiftcart/api/internal/platform/httpx"
	"github.com/swiftcart/api/internal/services"
)

const maxInternalBodySize = 64 * 1024

// InternalHandlers serves operational endpoints that are not reachable by end
// users. The router guards the group with OIDC middleware, so handlers here
// trust the caller.
type InternalHandlers struct {
	shipments services.ShipmentService
	system    services.SystemService
}

// NewInternalHandlers constructs handlers for the internal route group.
func NewInternalHandlers(shipments services.ShipmentService, system services.SystemService) *InternalHandlers {
	return &InternalHandlers{shipments: shipments, system: system}
}

// Routes registers internal endpoints.
func (h *InternalHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/shipments/retry", h.retryShipment)
	r.Post("/counters/next", h.nextCounterValue)
}

// pushEnvelope is the Pub/Sub push delivery wrapper. Direct JSON posts from
// operators skip the wrapper and carry the job at the top level.
type pushEnvelope struct {
	Message struct {
		Data       []byte            `json:"data"`
		Attributes map[string]string `json:"attributes"`
		MessageID  string            `json:"messageId"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

type retryShipmentResponse struct {
	OrderID    string `json:"orderId"`
	Status     string `json:"status"`
	TrackingID string `json:"trackingId,omitempty"`
}

func (h *InternalHandlers) retryShipment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.shipments == nil {
		httpx.WriteError(ctx, w, httpx.NewError("shipment_service_unavailable", "shipment service is unavailable", http.StatusServiceUnavailable))
		return
	}

	body, err := readLimitedBody(r, maxInternalBodySize)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, errBodyTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), status))
		return
	}

	job, err := decodeRetryJob(body)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	order, err := h.shipments.EnsureShipment(ctx, job.OrderID)
	if err != nil {
		// Orders that were cancelled or refunded between queueing and drain
		// must not bounce back onto the queue.
		if errors.Is(err, services.ErrShipmentOrderNotReady) || errors.Is(err, services.ErrShipmentOrderNotFound) {
			writeJSONResponse(w, http.StatusOK, retryShipmentResponse{OrderID: job.OrderID, Status: "skipped"})
			return
		}
		writeShipmentError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, retryShipmentResponse{
		OrderID:    order.ID,
		Status:     "booked",
		TrackingID: order.TrackingID(),
	})
}

type nextCounterRequest struct {
	CounterID string `json:"counterId"`
	Step      int64  `json:"step"`
}

type nextCounterResponse struct {
	CounterID string `json:"counterId"`
	Value     int64  `json:"value"`
}

// nextCounterValue reserves sequence values, used by back-office tooling to
// pre-allocate order-number blocks.
func (h *InternalHandlers) nextCounterValue(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.system == nil {
		httpx.WriteError(ctx, w, httpx.NewError("system_service_unavailable", "system service is unavailable", http.StatusServiceUnavailable))
		return
	}

	body, err := readLimitedBody(r, maxInternalBodySize)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, errBodyTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), status))
		return
	}

	var req nextCounterRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return
	}
	counterID := strings.TrimSpace(req.CounterID)
	if counterID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "counterId is required", http.StatusBadRequest))
		return
	}

	value, err := h.system.NextCounterValue(ctx, services.CounterCommand{CounterID: counterID, Step: req.Step})
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("counter_unavailable", "failed to advance counter", http.StatusServiceUnavailable))
		return
	}

	writeJSONResponse(w, http.StatusOK, nextCounterResponse{CounterID: counterID, Value: value})
}

func decodeRetryJob(body []byte) (services.ShipmentRetryJob, error) {
	if len(body) == 0 {
		return services.ShipmentRetryJob{}, errors.New("request body is required")
	}

	// json.Unmarshal base64-decodes the []byte Data field of the envelope.
	var envelope pushEnvelope
	if err := json.Unmarshal(body, &envelope); err == nil && len(envelope.Message.Data) > 0 {
		var job services.ShipmentRetryJob
		if err := json.Unmarshal(envelope.Message.Data, &job); err != nil {
			return services.ShipmentRetryJob{}, errors.New("push message data must be a shipment retry job")
		}
		if strings.TrimSpace(job.OrderID) == "" {
			return services.ShipmentRetryJob{}, errors.New("orderId is required")
		}
		return job, nil
	}

	var job services.ShipmentRetryJob
	if err := json.Unmarshal(body, &job); err != nil {
		return services.ShipmentRetryJob{}, errors.New("request body must be valid JSON")
	}
	if strings.TrimSpace(job.OrderID) == "" {
		return services.ShipmentRetryJob{}, errors.New("orderId is required")
	}
	return job, nil
}
