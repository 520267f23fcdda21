package logistics

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const ekartDefaultTimeout = 15 * time.Second

// EkartLogger defines the logging contract for Ekart client operations.
type EkartLogger func(ctx context.Context, event string, fields map[string]any)

type ekartDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// EkartClientConfig configures the EkartClient.
type EkartClientConfig struct {
	BaseURL    string
	ClientID   string
	APIKey     string
	Timeout    time.Duration
	HTTPClient ekartDoer
	Logger     EkartLogger
	Clock      func() time.Time
}

// EkartClient implements the Provider interface against the Ekart logistics
// API. Every call carries a bounded timeout through the request context.
type EkartClient struct {
	baseURL    string
	clientID   string
	apiKey     string
	timeout    time.Duration
	httpClient ekartDoer
	clock      func() time.Time
	logger     EkartLogger
}

// NewEkartClient constructs an Ekart Provider using the given configuration.
func NewEkartClient(cfg EkartClientConfig) (*EkartClient, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("ekart: base url is required")
	}
	clientID := strings.TrimSpace(cfg.ClientID)
	apiKey := strings.TrimSpace(cfg.APIKey)
	if clientID == "" || apiKey == "" {
		return nil, errors.New("ekart: client id and api key are required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = ekartDefaultTimeout
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
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

	return &EkartClient{
		baseURL:    baseURL,
		clientID:   clientID,
		apiKey:     apiKey,
		timeout:    timeout,
		httpClient: httpClient,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

type ekartShipmentRequest struct {
	OrderID        string          `json:"order_id"`
	OrderNumber    string          `json:"order_number"`
	PaymentMode    string          `json:"payment_mode"`
	CollectableAmt float64         `json:"collectable_amount,omitempty"`
	Consignee      ekartConsignee  `json:"consignee"`
	Items          []ekartLineItem `json:"items"`
}

type ekartConsignee struct {
	Name           string `json:"name"`
	Mobile         string `json:"mobile"`
	Pincode        string `json:"pincode"`
	Locality       string `json:"locality,omitempty"`
	Address        string `json:"address"`
	City           string `json:"city"`
	State          string `json:"state"`
	Landmark       string `json:"landmark,omitempty"`
	AlternatePhone string `json:"alternate_phone,omitempty"`
}

type ekartLineItem struct {
	SKU       string  `json:"sku"`
	Name      string  `json:"name"`
	Quantity  int     `json:"quantity"`
	UnitPrice float64 `json:"unit_price"`
}

type ekartShipmentResponse struct {
	TrackingID string `json:"tracking_id"`
	AWB        string `json:"awb_number"`
	Status     string `json:"status"`
}

type ekartTrackingResponse struct {
	TrackingID string `json:"tracking_id"`
	Status     string `json:"status"`
	Scans      []struct {
		Status   string `json:"status"`
		Remark   string `json:"remark"`
		Location string `json:"location"`
		Time     string `json:"time"`
	} `json:"scans"`
}

type ekartErrorResponse struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

// CreateShipment books a pickup with Ekart and returns the tracking handle.
func (c *EkartClient) CreateShipment(ctx context.Context, req CreateShipmentRequest) (Shipment, error) {
	if c == nil {
		return Shipment{}, errors.New("ekart: client is nil")
	}
	if strings.TrimSpace(req.OrderID) == "" {
		return Shipment{}, errors.New("ekart: order id is required")
	}

	paymentMode := "PREPAID"
	body := ekartShipmentRequest{
		OrderID:     req.OrderID,
		OrderNumber: req.OrderNumber,
		PaymentMode: paymentMode,
		Consignee: ekartConsignee{
			Name:           req.Recipient.Name,
			Mobile:         req.Recipient.Mobile,
			Pincode:        req.Recipient.Pincode,
			Locality:       req.Recipient.Locality,
			Address:        req.Recipient.Address,
			City:           req.Recipient.City,
			State:          req.Recipient.State,
			Landmark:       req.Recipient.Landmark,
			AlternatePhone: req.Recipient.AlternatePhone,
		},
	}
	if req.CashOnDelivery {
		body.PaymentMode = "COD"
		body.CollectableAmt = float64(req.AmountDue) / 100
	}
	for _, item := range req.Items {
		body.Items = append(body.Items, ekartLineItem{
			SKU:       item.ProductID,
			Name:      item.Name,
			Quantity:  item.Quantity,
			UnitPrice: float64(item.UnitPrice) / 100,
		})
	}

	var resp ekartShipmentResponse
	if err := c.call(ctx, http.MethodPost, "/shipments", body, &resp); err != nil {
		return Shipment{}, err
	}
	if resp.TrackingID == "" {
		return Shipment{}, errors.New("ekart: carrier returned empty tracking id")
	}

	c.logger(ctx, "logistics.ekart.shipment.created", map[string]any{
		"orderId":    req.OrderID,
		"trackingId": resp.TrackingID,
	})

	return Shipment{
		TrackingID: resp.TrackingID,
		AWB:        resp.AWB,
		Carrier:    "ekart",
		CreatedAt:  c.clock(),
		Raw: map[string]any{
			"status": resp.Status,
		},
	}, nil
}

// FetchTracking returns the current scan history for a shipment.
func (c *EkartClient) FetchTracking(ctx context.Context, trackingID string) (TrackingDetails, error) {
	if c == nil {
		return TrackingDetails{}, errors.New("ekart: client is nil")
	}
	trackingID = strings.TrimSpace(trackingID)
	if trackingID == "" {
		return TrackingDetails{}, errors.New("ekart: tracking id is required")
	}

	var resp ekartTrackingResponse
	if err := c.call(ctx, http.MethodGet, "/shipments/"+trackingID+"/track", nil, &resp); err != nil {
		return TrackingDetails{}, err
	}

	details := TrackingDetails{
		TrackingID: resp.TrackingID,
		Status:     resp.Status,
		FetchedAt:  c.clock(),
	}
	if details.TrackingID == "" {
		details.TrackingID = trackingID
	}
	for _, scan := range resp.Scans {
		at := time.Time{}
		if scan.Time != "" {
			if parsed, err := time.Parse(time.RFC3339, scan.Time); err == nil {
				at = parsed.UTC()
			}
		}
		details.Scans = append(details.Scans, TrackingScan{
			Status:   scan.Status,
			Remark:   scan.Remark,
			Location: scan.Location,
			At:       at,
		})
	}
	return details, nil
}

// CancelShipment asks the carrier to cancel a booked shipment. A rejection
// from the carrier surfaces as ErrCancellationRejected so callers can record
// the outcome without treating it as an infrastructure failure.
func (c *EkartClient) CancelShipment(ctx context.Context, trackingID string) error {
	if c == nil {
		return errors.New("ekart: client is nil")
	}
	trackingID = strings.TrimSpace(trackingID)
	if trackingID == "" {
		return errors.New("ekart: tracking id is required")
	}

	err := c.call(ctx, http.MethodPost, "/shipments/"+trackingID+"/cancel", nil, nil)
	if err != nil {
		return err
	}

	c.logger(ctx, "logistics.ekart.shipment.cancelled", map[string]any{
		"trackingId": trackingID,
	})
	return nil
}

func (c *EkartClient) call(ctx context.Context, method, path string, body any, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("ekart: encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("ekart: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("X-Client-Id", c.clientID)
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("ekart: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("ekart: read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrShipmentNotFound, path)
	case resp.StatusCode == http.StatusConflict:
		reason := "shipment state does not allow cancellation"
		var apiErr ekartErrorResponse
		if err := json.Unmarshal(data, &apiErr); err == nil && apiErr.Message != "" {
			reason = apiErr.Message
		}
		return fmt.Errorf("%w: %s", ErrCancellationRejected, reason)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		var apiErr ekartErrorResponse
		if err := json.Unmarshal(data, &apiErr); err == nil && apiErr.Message != "" {
			return fmt.Errorf("ekart: %s %s: %s (%s)", method, path, apiErr.Message, apiErr.Code)
		}
		return fmt.Errorf("ekart: %s %s: unexpected status %d", method, path, resp.StatusCode)
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("ekart: decode response: %w", err)
		}
	}
	return nil
}
