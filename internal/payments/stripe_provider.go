package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
	"github.com/stripe/stripe-go/v78/webhook"
)

// StripeLogger defines the logging contract for Stripe provider operations.
type StripeLogger func(ctx context.Context, event string, fields map[string]any)

type stripeSessionAPI interface {
	New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
	Get(id string, params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

type stripeClients struct {
	sessions stripeSessionAPI
}

// StripeProviderConfig configures the StripeProvider.
type StripeProviderConfig struct {
	APIKey        string
	WebhookSecret string
	AccountID     string
	Backends      *stripe.Backends
	Logger        StripeLogger
	Clock         func() time.Time
	Clients       *stripeClients
}

// StripeProvider implements the Provider interface using Stripe Checkout.
type StripeProvider struct {
	api           stripeClients
	webhookSecret string
	account       string
	clock         func() time.Time
	logger        StripeLogger
}

// NewStripeProvider constructs a Stripe Provider using the given configuration.
func NewStripeProvider(cfg StripeProviderConfig) (*StripeProvider, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" && cfg.Clients == nil {
		return nil, errors.New("stripe: api key is required")
	}

	var clients stripeClients
	if cfg.Clients != nil {
		clients = *cfg.Clients
	} else {
		sc := client.New(apiKey, cfg.Backends)
		clients = stripeClients{
			sessions: sc.CheckoutSessions,
		}
	}

	if clients.sessions == nil {
		return nil, errors.New("stripe: incomplete client configuration")
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &StripeProvider{
		api:           clients,
		webhookSecret: strings.TrimSpace(cfg.WebhookSecret),
		account:       strings.TrimSpace(cfg.AccountID),
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// CreateCheckoutSession creates a Stripe Checkout session.
func (p *StripeProvider) CreateCheckoutSession(ctx context.Context, req CheckoutSessionRequest) (CheckoutSession, error) {
	if p == nil {
		return CheckoutSession{}, errors.New("stripe: provider is nil")
	}

	params := &stripe.CheckoutSessionParams{
		Mode:       stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL: stripe.String(req.SuccessURL),
		CancelURL:  stripe.String(req.CancelURL),
	}

	params.Context = ctx
	if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
		params.SetIdempotencyKey(key)
	}
	if p.account != "" {
		params.SetStripeAccount(p.account)
	}
	if req.CustomerID != "" {
		params.ClientReferenceID = stripe.String(req.CustomerID)
	}

	metadata := make(map[string]string, len(req.Metadata)+1)
	for k, v := range req.Metadata {
		metadata[k] = v
	}
	if req.OrderID != "" {
		metadata["orderId"] = req.OrderID
	}
	if len(metadata) > 0 {
		params.Metadata = metadata
	}

	lineItems := make([]*stripe.CheckoutSessionLineItemParams, 0, len(req.Items))
	for _, item := range req.Items {
		line := &stripe.CheckoutSessionLineItemParams{
			Quantity: stripe.Int64(max64(item.Quantity, 1)),
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(strings.ToLower(defaultString(item.Currency, req.Currency))),
				UnitAmount: stripe.Int64(item.Amount),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(item.Name),
				},
			},
		}
		if item.SKU != "" {
			line.PriceData.ProductData.Metadata = map[string]string{
				"sku": item.SKU,
			}
		}
		lineItems = append(lineItems, line)
	}

	if len(lineItems) == 0 {
		lineItems = append(lineItems, &stripe.CheckoutSessionLineItemParams{
			Quantity: stripe.Int64(1),
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(strings.ToLower(req.Currency)),
				UnitAmount: stripe.Int64(req.Amount),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String("Order"),
				},
			},
		})
	}

	params.LineItems = lineItems
	if len(metadata) > 0 {
		params.PaymentIntentData = &stripe.CheckoutSessionPaymentIntentDataParams{
			Metadata: metadata,
		}
	}

	session, err := p.api.sessions.New(params)
	if err != nil {
		return CheckoutSession{}, fmt.Errorf("stripe: create checkout session: %w", err)
	}

	p.logger(ctx, "payments.stripe.session.created", map[string]any{
		"sessionId": session.ID,
		"orderId":   req.OrderID,
		"currency":  session.Currency,
	})

	expiresAt := p.clock().Add(30 * time.Minute)
	if session.ExpiresAt != 0 {
		expiresAt = time.Unix(session.ExpiresAt, 0).UTC()
	}

	return CheckoutSession{
		ID:          session.ID,
		Provider:    "stripe",
		RedirectURL: session.URL,
		ExpiresAt:   expiresAt,
		Raw:         stripeRawMap(session),
	}, nil
}

// VerifyWebhook validates the Stripe-Signature header and normalises the
// event. Payloads that fail verification are rejected before any field is
// read.
func (p *StripeProvider) VerifyWebhook(ctx context.Context, payload []byte, headers map[string]string) (WebhookResult, error) {
	if p == nil {
		return WebhookResult{}, errors.New("stripe: provider is nil")
	}
	if p.webhookSecret == "" {
		return WebhookResult{}, errors.New("stripe: webhook secret is not configured")
	}

	signature := headerValue(headers, "Stripe-Signature")
	event, err := webhook.ConstructEvent(payload, signature, p.webhookSecret)
	if err != nil {
		p.logger(ctx, "payments.stripe.webhook.rejected", map[string]any{
			"error": err.Error(),
		})
		return WebhookResult{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return WebhookResult{}, fmt.Errorf("stripe: decode webhook payload: %w", err)
	}

	result := WebhookResult{
		EventID:   event.ID,
		SessionID: session.ID,
		OrderID:   session.Metadata["orderId"],
		Status:    StatusPending,
		Raw:       stripeRawMap(&session),
	}

	switch event.Type {
	case "checkout.session.completed":
		if session.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid {
			result.Status = StatusSucceeded
		}
	case "checkout.session.expired":
		result.Status = StatusFailed
		result.FailureReason = "checkout session expired"
	case "checkout.session.async_payment_failed":
		result.Status = StatusFailed
		result.FailureReason = "asynchronous payment failed"
	case "checkout.session.async_payment_succeeded":
		result.Status = StatusSucceeded
	}

	return result, nil
}

// LookupPayment retrieves the checkout session state directly from Stripe.
func (p *StripeProvider) LookupPayment(ctx context.Context, req LookupRequest) (PaymentDetails, error) {
	if p == nil {
		return PaymentDetails{}, errors.New("stripe: provider is nil")
	}
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	if p.account != "" {
		params.SetStripeAccount(p.account)
	}
	session, err := p.api.sessions.Get(req.SessionID, params)
	if err != nil {
		return PaymentDetails{}, fmt.Errorf("stripe: lookup checkout session: %w", err)
	}

	status := StatusPending
	var failureReason string
	switch {
	case session.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid:
		status = StatusSucceeded
	case session.Status == stripe.CheckoutSessionStatusExpired:
		status = StatusFailed
		failureReason = "checkout session expired"
	}

	return PaymentDetails{
		Provider:      "stripe",
		SessionID:     session.ID,
		OrderID:       session.Metadata["orderId"],
		Status:        status,
		Amount:        session.AmountTotal,
		Currency:      strings.ToUpper(string(session.Currency)),
		FailureReason: failureReason,
		Raw:           stripeRawMap(session),
	}, nil
}

func stripeRawMap(value any) map[string]any {
	raw := map[string]any{}
	if data, err := json.Marshal(value); err == nil {
		_ = json.Unmarshal(data, &raw)
	}
	return raw
}

func headerValue(headers map[string]string, name string) string {
	if headers == nil {
		return ""
	}
	if v, ok := headers[name]; ok {
		return v
	}
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

func defaultString(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return value
	}
	return fallback
}
