package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/swiftcart/api/internal/platform/httpx"
	"github.com/swiftcart/api/internal/platform/textutil"
	"github.com/swiftcart/api/internal/services"
)

const maxWebhookBodySize = 256 * 1024

// PaymentWebhookHandlers receives gateway callbacks. Authenticity comes from
// the provider signature inside the payload, not from user credentials, so
// these routes carry no Firebase middleware.
type PaymentWebhookHandlers struct {
	payments services.PaymentService
}

// NewPaymentWebhookHandlers constructs webhook handlers for the payment service.
func NewPaymentWebhookHandlers(payments services.PaymentService) *PaymentWebhookHandlers {
	return &PaymentWebhookHandlers{payments: payments}
}

// Routes registers the webhook endpoint per provider.
func (h *PaymentWebhookHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/payments/{provider}", h.handleWebhook)
}

type webhookResponse struct {
	Received  bool   `json:"received"`
	Duplicate bool   `json:"duplicate,omitempty"`
	EventID   string `json:"eventId,omitempty"`
}

func (h *PaymentWebhookHandlers) handleWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.payments == nil {
		httpx.WriteError(ctx, w, httpx.NewError("payment_service_unavailable", "payment service is unavailable", http.StatusServiceUnavailable))
		return
	}

	provider := strings.TrimSpace(chi.URLParam(r, "provider"))
	if provider == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "provider is required", http.StatusBadRequest))
		return
	}

	body, err := readLimitedBody(r, maxWebhookBodySize)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, errBodyTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), status))
		return
	}
	if len(body) == 0 {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body is required", http.StatusBadRequest))
		return
	}

	outcome, err := h.payments.HandleWebhook(ctx, services.PaymentWebhookCommand{
		Provider: provider,
		Payload:  body,
		Headers:  headerMap(r.Header),
	})
	if err != nil {
		writeWebhookError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, webhookResponse{
		Received:  true,
		Duplicate: outcome.Duplicate,
		EventID:   outcome.EventID,
	})
}

func writeWebhookError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrPaymentWebhookInvalid):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_signature", "webhook verification failed", http.StatusUnauthorized))
	case errors.Is(err, services.ErrPaymentOrderUnknown):
		// Ack; the gateway must not retry an event that can never be
		// attributed to an order.
		writeJSONResponse(w, http.StatusOK, webhookResponse{Received: true})
	case errors.Is(err, services.ErrPaymentInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "webhook payload is invalid", http.StatusBadRequest))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("payment_service_unavailable", "webhook processing failed; retry later", http.StatusServiceUnavailable))
	}
}

func headerMap(header http.Header) map[string]string {
	out := make(map[string]string, len(header))
	for name, values := range header {
		if len(values) == 0 {
			continue
		}
		out[name] = values[0]
	}
	return textutil.NormalizeStringMap(out)
}
