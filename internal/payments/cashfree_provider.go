package payments

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	cashfreeAPIVersion     = "2023-08-01"
	cashfreeDefaultTimeout = 20 * time.Second
)

// CashfreeLogger defines the logging contract for Cashfree provider operations.
type CashfreeLogger func(ctx context.Context, event string, fields map[string]any)

type cashfreeDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// CashfreeProviderConfig configures the CashfreeProvider. BaseURL selects the
// sandbox or production gateway endpoint.
type CashfreeProviderConfig struct {
	AppID         string
	SecretKey     string
	BaseURL       string
	WebhookSecret string
	Timeout       time.Duration
	HTTPClient    cashfreeDoer
	Logger        CashfreeLogger
	Clock         func() time.Time
}

// CashfreeProvider implements the Provider interface against the Cashfree
// hosted checkout API. Credentials stay inside the provider; callers only see
// session handles.
type CashfreeProvider struct {
	appID         string
	secretKey     string
	baseURL       string
	webhookSecret string
	httpClient    cashfreeDoer
	clock         func() time.Time
	logger        CashfreeLogger
}

// NewCashfreeProvider constructs a Cashfree Provider using the given configuration.
func NewCashfreeProvider(cfg CashfreeProviderConfig) (*CashfreeProvider, error) {
	appID := strings.TrimSpace(cfg.AppID)
	secretKey := strings.TrimSpace(cfg.SecretKey)
	if appID == "" || secretKey == "" {
		return nil, errors.New("cashfree: app id and secret key are required")
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("cashfree: base url is required")
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = cashfreeDefaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &CashfreeProvider{
		appID:         appID,
		secretKey:     secretKey,
		baseURL:       baseURL,
		webhookSecret: strings.TrimSpace(cfg.WebhookSecret),
		httpClient:    httpClient,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

type cashfreeOrderRequest struct {
	OrderID         string            `json:"order_id"`
	OrderAmount     float64           `json:"order_amount"`
	OrderCurrency   string            `json:"order_currency"`
	CustomerDetails cashfreeCustomer  `json:"customer_details"`
	OrderMeta       map[string]string `json:"order_meta,omitempty"`
	OrderTags       map[string]string `json:"order_tags,omitempty"`
}

type cashfreeCustomer struct {
	CustomerID    string `json:"customer_id"`
	CustomerPhone string `json:"customer_phone,omitempty"`
}

type cashfreeOrderResponse struct {
	CFOrderID        string  `json:"cf_order_id"`
	OrderID          string  `json:"order_id"`
	OrderStatus      string  `json:"order_status"`
	OrderAmount      float64 `json:"order_amount"`
	OrderCurrency    string  `json:"order_currency"`
	PaymentSessionID string  `json:"payment_session_id"`
	OrderExpiryTime  string  `json:"order_expiry_time"`
}

type cashfreeErrorResponse struct {
	Message string `json:"message"`
	Code    string `json:"code"`
	Type    string `json:"type"`
}

// CreateCheckoutSession creates a hosted Cashfree order. The gateway order ID
// equals the request's order ID, which keeps reconciliation a direct lookup.
func (p *CashfreeProvider) CreateCheckoutSession(ctx context.Context, req CheckoutSessionRequest) (CheckoutSession, error) {
	if p == nil {
		return CheckoutSession{}, errors.New("cashfree: provider is nil")
	}
	if strings.TrimSpace(req.OrderID) == "" {
		return CheckoutSession{}, errors.New("cashfree: order id is required")
	}

	body := cashfreeOrderRequest{
		OrderID:       req.OrderID,
		OrderAmount:   float64(req.Amount) / 100,
		OrderCurrency: strings.ToUpper(defaultString(req.Currency, "INR")),
		CustomerDetails: cashfreeCustomer{
			CustomerID:    defaultString(req.CustomerID, "guest"),
			CustomerPhone: req.CustomerPhone,
		},
	}
	meta := map[string]string{}
	if req.SuccessURL != "" {
		meta["return_url"] = req.SuccessURL
	}
	if len(meta) > 0 {
		body.OrderMeta = meta
	}
	if len(req.Metadata) > 0 {
		body.OrderTags = req.Metadata
	}

	var resp cashfreeOrderResponse
	if err := p.call(ctx, http.MethodPost, "/orders", req.IdempotencyKey, body, &resp); err != nil {
		return CheckoutSession{}, err
	}

	p.logger(ctx, "payments.cashfree.session.created", map[string]any{
		"orderId":   resp.OrderID,
		"cfOrderId": resp.CFOrderID,
		"status":    resp.OrderStatus,
	})

	expiresAt := p.clock().Add(30 * time.Minute)
	if resp.OrderExpiryTime != "" {
		if parsed, err := time.Parse(time.RFC3339, resp.OrderExpiryTime); err == nil {
			expiresAt = parsed.UTC()
		}
	}

	return CheckoutSession{
		ID:          resp.OrderID,
		Provider:    "cashfree",
		RedirectURL: fmt.Sprintf("%s/view/%s", p.baseURL, resp.PaymentSessionID),
		ExpiresAt:   expiresAt,
		Raw: map[string]any{
			"cfOrderId":        resp.CFOrderID,
			"paymentSessionId": resp.PaymentSessionID,
			"orderStatus":      resp.OrderStatus,
		},
	}, nil
}

type cashfreeWebhookEnvelope struct {
	Type      string `json:"type"`
	EventTime string `json:"event_time"`
	Data      struct {
		Order struct {
			OrderID       string  `json:"order_id"`
			OrderAmount   float64 `json:"order_amount"`
			OrderCurrency string  `json:"order_currency"`
		} `json:"order"`
		Payment struct {
			CFPaymentID    json.Number `json:"cf_payment_id"`
			PaymentStatus  string      `json:"payment_status"`
			PaymentMessage string      `json:"payment_message"`
		} `json:"payment"`
	} `json:"data"`
}

// VerifyWebhook authenticates the payload using Cashfree's timestamped HMAC
// scheme: base64(HMAC-SHA256(timestamp + body)) must equal the signature
// header. Nothing in the payload is trusted before this check passes.
func (p *CashfreeProvider) VerifyWebhook(ctx context.Context, payload []byte, headers map[string]string) (WebhookResult, error) {
	if p == nil {
		return WebhookResult{}, errors.New("cashfree: provider is nil")
	}
	if p.webhookSecret == "" {
		return WebhookResult{}, errors.New("cashfree: webhook secret is not configured")
	}

	signature := headerValue(headers, "x-webhook-signature")
	timestamp := headerValue(headers, "x-webhook-timestamp")
	if signature == "" || timestamp == "" {
		return WebhookResult{}, fmt.Errorf("%w: missing signature headers", ErrInvalidSignature)
	}

	mac := hmac.New(sha256.New, []byte(p.webhookSecret))
	mac.Write([]byte(timestamp))
	mac.Write(payload)
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	if subtle.ConstantTimeCompare([]byte(expected), []byte(signature)) != 1 {
		p.logger(ctx, "payments.cashfree.webhook.rejected", map[string]any{
			"reason": "signature mismatch",
		})
		return WebhookResult{}, ErrInvalidSignature
	}

	var envelope cashfreeWebhookEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return WebhookResult{}, fmt.Errorf("cashfree: decode webhook payload: %w", err)
	}

	// Redeliveries carry a fresh timestamp, so the dedupe id must come from
	// the payment event itself.
	result := WebhookResult{
		EventID:   fmt.Sprintf("%s:%s", envelope.Type, envelope.Data.Payment.CFPaymentID.String()),
		SessionID: envelope.Data.Order.OrderID,
		OrderID:   envelope.Data.Order.OrderID,
		Status:    StatusPending,
		Raw: map[string]any{
			"type":      envelope.Type,
			"eventTime": envelope.EventTime,
		},
	}

	switch strings.ToUpper(envelope.Data.Payment.PaymentStatus) {
	case "SUCCESS":
		result.Status = StatusSucceeded
	case "FAILED", "USER_DROPPED", "CANCELLED":
		result.Status = StatusFailed
		result.FailureReason = defaultString(envelope.Data.Payment.PaymentMessage, strings.ToLower(envelope.Data.Payment.PaymentStatus))
	}

	return result, nil
}

// LookupPayment queries the gateway order directly, used as the synchronous
// fallback while a webhook is still in flight.
func (p *CashfreeProvider) LookupPayment(ctx context.Context, req LookupRequest) (PaymentDetails, error) {
	if p == nil {
		return PaymentDetails{}, errors.New("cashfree: provider is nil")
	}
	sessionID := strings.TrimSpace(req.SessionID)
	if sessionID == "" {
		return PaymentDetails{}, errors.New("cashfree: session id is required")
	}

	var resp cashfreeOrderResponse
	if err := p.call(ctx, http.MethodGet, "/orders/"+sessionID, "", nil, &resp); err != nil {
		return PaymentDetails{}, err
	}

	status := StatusPending
	var failureReason string
	switch strings.ToUpper(resp.OrderStatus) {
	case "PAID":
		status = StatusSucceeded
	case "EXPIRED", "TERMINATED":
		status = StatusFailed
		failureReason = strings.ToLower(resp.OrderStatus)
	}

	return PaymentDetails{
		Provider:      "cashfree",
		SessionID:     resp.OrderID,
		OrderID:       resp.OrderID,
		Status:        status,
		Amount:        int64(resp.OrderAmount * 100),
		Currency:      strings.ToUpper(resp.OrderCurrency),
		FailureReason: failureReason,
		Raw: map[string]any{
			"cfOrderId":   resp.CFOrderID,
			"orderStatus": resp.OrderStatus,
		},
	}, nil
}

func (p *CashfreeProvider) call(ctx context.Context, method, path, idempotencyKey string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("cashfree: encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("cashfree: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("x-api-version", cashfreeAPIVersion)
	httpReq.Header.Set("x-client-id", p.appID)
	httpReq.Header.Set("x-client-secret", p.secretKey)
	if key := strings.TrimSpace(idempotencyKey); key != "" {
		httpReq.Header.Set("x-idempotency-key", key)
	}

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("cashfree: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("cashfree: read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr cashfreeErrorResponse
		if err := json.Unmarshal(data, &apiErr); err == nil && apiErr.Message != "" {
			return fmt.Errorf("cashfree: %s %s: %s (%s)", method, path, apiErr.Message, apiErr.Code)
		}
		return fmt.Errorf("cashfree: %s %s: unexpected status %d", method, path, resp.StatusCode)
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("cashfree: decode response: %w", err)
		}
	}
	return nil
}
