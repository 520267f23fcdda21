package logistics

import (
	"context"
	"errors"
	"time"
)

// ErrShipmentNotFound indicates the carrier has no record of the tracking id.
var ErrShipmentNotFound = errors.New("logistics: shipment not found")

// ErrCancellationRejected indicates the carrier refused to cancel, typically
// because the shipment already left the origin facility.
var ErrCancellationRejected = errors.New("logistics: cancellation rejected")

// CreateShipmentRequest carries everything the carrier needs to book a pickup.
type CreateShipmentRequest struct {
	OrderID        string
	OrderNumber    string
	Recipient      Recipient
	Items          []ShipmentItem
	AmountDue      int64
	CashOnDelivery bool
}

// Recipient is the delivery contact as it appears on the shipping label.
type Recipient struct {
	Name           string
	Mobile         string
	Pincode        string
	Locality       string
	Address        string
	City           string
	State          string
	Landmark       string
	AlternatePhone string
}

// ShipmentItem describes one order line for the carrier manifest.
type ShipmentItem struct {
	ProductID string
	Name      string
	Quantity  int
	UnitPrice int64
}

// Shipment is the carrier's booking confirmation.
type Shipment struct {
	TrackingID string
	AWB        string
	Carrier    string
	CreatedAt  time.Time
	Raw        map[string]any
}

// TrackingScan is one event in a shipment's movement history.
type TrackingScan struct {
	Status   string
	Remark   string
	Location string
	At       time.Time
}

// TrackingDetails is the current carrier view of a shipment.
type TrackingDetails struct {
	TrackingID string
	Status     string
	Scans      []TrackingScan
	FetchedAt  time.Time
}

// Provider abstracts a shipping carrier. Implementations must be safe for
// concurrent use.
type Provider interface {
	CreateShipment(ctx context.Context, req CreateShipmentRequest) (Shipment, error)
	FetchTracking(ctx context.Context, trackingID string) (TrackingDetails, error)
	CancelShipment(ctx context.Context, trackingID string) error
}
