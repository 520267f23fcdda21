package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/swiftcart/api/internal/domain"
	"github.com/swiftcart/api/internal/logistics"
)

type stubCarrier struct {
	shipment    logistics.Shipment
	createErr   error
	createCalls int
	lastCreate  logistics.CreateShipmentRequest

	tracking logistics.TrackingDetails
	fetchErr error

	cancelErr   error
	cancelCalls int
}

func (s *stubCarrier) CreateShipment(ctx context.Context, req logistics.CreateShipmentRequest) (logistics.Shipment, error) {
	s.createCalls++
	s.lastCreate = req
	if s.createErr != nil {
		return logistics.Shipment{}, s.createErr
	}
	return s.shipment, nil
}

func (s *stubCarrier) FetchTracking(ctx context.Context, trackingID string) (logistics.TrackingDetails, error) {
	if s.fetchErr != nil {
		return logistics.TrackingDetails{}, s.fetchErr
	}
	return s.tracking, nil
}

func (s *stubCarrier) CancelShipment(ctx context.Context, trackingID string) error {
	s.cancelCalls++
	return s.cancelErr
}

func newTestShipmentService(t *testing.T, repo *stubOrderRepo, carrier *stubCarrier) ShipmentService {
	t.Helper()
	svc, err := NewShipmentService(ShipmentServiceDeps{
		Orders:  repo,
		Carrier: carrier,
		Clock:   fixedClock,
	})
	if err != nil {
		t.Fatalf("new shipment service: %v", err)
	}
	return svc
}

func TestShipmentServiceEnsureShipmentBooksCODCollection(t *testing.T) {
	repo := newStubOrderRepo(confirmedOrder("ord_1"))
	carrier := &stubCarrier{shipment: logistics.Shipment{
		TrackingID: "EK123",
		AWB:        "AWB-9",
		CreatedAt:  fixedClock(),
	}}
	svc := newTestShipmentService(t, repo, carrier)

	order, err := svc.EnsureShipment(context.Background(), "ord_1")
	if err != nil {
		t.Fatalf("ensure shipment: %v", err)
	}
	if order.TrackingID() != "EK123" {
		t.Fatalf("expected tracking id set, got %q", order.TrackingID())
	}
	if !carrier.lastCreate.CashOnDelivery || carrier.lastCreate.AmountDue != 54700 {
		t.Fatalf("COD order must collect the final amount: %+v", carrier.lastCreate)
	}
	stored := repo.orders["ord_1"]
	if stored.Shipment == nil || stored.Shipment.AWB != "AWB-9" {
		t.Fatalf("shipment not persisted: %+v", stored.Shipment)
	}
}

func TestShipmentServiceEnsureShipmentIsIdempotent(t *testing.T) {
	order := confirmedOrder("ord_1")
	order.Shipment = &domain.ShipmentInfo{TrackingID: "EK123"}
	repo := newStubOrderRepo(order)
	carrier := &stubCarrier{}
	svc := newTestShipmentService(t, repo, carrier)

	got, err := svc.EnsureShipment(context.Background(), "ord_1")
	if err != nil {
		t.Fatalf("ensure shipment: %v", err)
	}
	if got.TrackingID() != "EK123" {
		t.Fatalf("expected existing tracking id, got %q", got.TrackingID())
	}
	if carrier.createCalls != 0 || repo.updateCalls != 0 {
		t.Fatalf("booked order must not be rebooked")
	}
}

func TestShipmentServiceEnsureShipmentRejectsPendingOrder(t *testing.T) {
	order := confirmedOrder("ord_1")
	order.Status = domain.OrderStatusPending
	svc := newTestShipmentService(t, newStubOrderRepo(order), &stubCarrier{})

	_, err := svc.EnsureShipment(context.Background(), "ord_1")
	if !errors.Is(err, ErrShipmentOrderNotReady) {
		t.Fatalf("expected ErrShipmentOrderNotReady, got %v", err)
	}
}

func TestShipmentServiceEnsureShipmentAcceptsConcurrentBooking(t *testing.T) {
	order := confirmedOrder("ord_1")
	repo := newStubOrderRepo(order)
	carrier := &stubCarrier{shipment: logistics.Shipment{TrackingID: "EK-MINE"}}
	svc := newTestShipmentService(t, repo, carrier)

	// A racer books between our read and write; our update conflicts and we
	// must adopt the racer's tracking id.
	repo.conflictOnce = true
	repo.onUpdate = func() {
		racer := order
		racer.Shipment = &domain.ShipmentInfo{TrackingID: "EK-THEIRS"}
		racer.Version = order.Version + 1
		repo.orders["ord_1"] = racer
	}

	got, err := svc.EnsureShipment(context.Background(), "ord_1")
	if err != nil {
		t.Fatalf("ensure shipment: %v", err)
	}
	if got.TrackingID() != "EK-THEIRS" {
		t.Fatalf("conflict loser must adopt the racer's booking, got %q", got.TrackingID())
	}
}

func TestShipmentServiceTrackReplacesScansAndAdvancesStatus(t *testing.T) {
	order := confirmedOrder("ord_1")
	order.Shipment = &domain.ShipmentInfo{
		TrackingID: "EK123",
		Scans:      []domain.ScanEvent{{Status: "PICKED"}},
	}
	repo := newStubOrderRepo(order)
	carrier := &stubCarrier{tracking: logistics.TrackingDetails{
		TrackingID: "EK123",
		Status:     "IN_TRANSIT",
		Scans: []logistics.TrackingScan{
			{Status: "IN_TRANSIT", Location: "Pune Hub", Remark: "Out of facility", At: fixedClock()},
			{Status: "PICKED", Location: "Mumbai", At: fixedClock().Add(-2 * time.Hour)},
		},
		FetchedAt: fixedClock(),
	}}
	svc := newTestShipmentService(t, repo, carrier)

	view, err := svc.Track(context.Background(), OrderQuery{OrderID: "ord_1", UserID: "user_1"})
	if err != nil {
		t.Fatalf("track: %v", err)
	}
	if view.Status != domain.OrderStatusShipped {
		t.Fatalf("IN_TRANSIT should advance to shipped, got %s", view.Status)
	}
	if len(view.Scans) != 2 || view.Scans[0].Status != "IN_TRANSIT" {
		t.Fatalf("scan history must be replaced wholesale: %+v", view.Scans)
	}
	stored := repo.orders["ord_1"]
	if stored.Status != domain.OrderStatusShipped || stored.ShippedAt == nil {
		t.Fatalf("shipped transition not persisted: %+v", stored.Status)
	}
	if len(stored.Shipment.Scans) != 2 {
		t.Fatalf("stored scans not refreshed: %+v", stored.Shipment.Scans)
	}
}

func TestShipmentServiceTrackSanitisesCarrierRemarks(t *testing.T) {
	order := confirmedOrder("ord_1")
	order.Status = domain.OrderStatusShipped
	order.Shipment = &domain.ShipmentInfo{TrackingID: "EK123"}
	repo := newStubOrderRepo(order)
	carrier := &stubCarrier{tracking: logistics.TrackingDetails{
		TrackingID: "EK123",
		Status:     "IN_TRANSIT",
		Scans: []logistics.TrackingScan{
			{Status: "IN_TRANSIT", Remark: `<script>alert(1)</script>Handed to courier`, At: fixedClock()},
		},
	}}
	svc := newTestShipmentService(t, repo, carrier)

	view, err := svc.Track(context.Background(), OrderQuery{OrderID: "ord_1", UserID: "user_1"})
	if err != nil {
		t.Fatalf("track: %v", err)
	}
	if view.Scans[0].Remarks != "Handed to courier" {
		t.Fatalf("remark not sanitised: %q", view.Scans[0].Remarks)
	}
}

func TestShipmentServiceTrackServesStoredHistoryOnCarrierOutage(t *testing.T) {
	order := confirmedOrder("ord_1")
	order.Status = domain.OrderStatusShipped
	order.Shipment = &domain.ShipmentInfo{
		TrackingID: "EK123",
		Scans:      []domain.ScanEvent{{Status: "PICKED", Location: "Mumbai"}},
	}
	repo := newStubOrderRepo(order)
	carrier := &stubCarrier{fetchErr: errors.New("gateway timeout")}
	svc := newTestShipmentService(t, repo, carrier)

	view, err := svc.Track(context.Background(), OrderQuery{OrderID: "ord_1", UserID: "user_1"})
	if err != nil {
		t.Fatalf("track during outage: %v", err)
	}
	if len(view.Scans) != 1 || view.Scans[0].Status != "PICKED" {
		t.Fatalf("expected stored history, got %+v", view.Scans)
	}
	if repo.updateCalls != 0 {
		t.Fatalf("outage path must not write")
	}
}

func TestShipmentServiceTrackWithoutBooking(t *testing.T) {
	repo := newStubOrderRepo(confirmedOrder("ord_1"))
	svc := newTestShipmentService(t, repo, &stubCarrier{})

	_, err := svc.Track(context.Background(), OrderQuery{OrderID: "ord_1", UserID: "user_1"})
	if !errors.Is(err, ErrShipmentNotBooked) {
		t.Fatalf("expected ErrShipmentNotBooked, got %v", err)
	}
}

func TestShipmentServiceCancelShipmentOutcomes(t *testing.T) {
	svcFor := func(t *testing.T, carrier *stubCarrier) ShipmentService {
		t.Helper()
		return newTestShipmentService(t, newStubOrderRepo(), carrier)
	}
	booked := confirmedOrder("ord_1")
	booked.Shipment = &domain.ShipmentInfo{TrackingID: "EK123"}

	t.Run("no tracking id", func(t *testing.T) {
		carrier := &stubCarrier{}
		outcome := svcFor(t, carrier).CancelShipment(context.Background(), confirmedOrder("ord_1"))
		if outcome.Attempted || carrier.cancelCalls != 0 {
			t.Fatalf("nothing to cancel, got %+v", outcome)
		}
	})

	t.Run("carrier accepts", func(t *testing.T) {
		carrier := &stubCarrier{}
		outcome := svcFor(t, carrier).CancelShipment(context.Background(), booked)
		if !outcome.Attempted || !outcome.Cancelled || outcome.Error != "" {
			t.Fatalf("expected cancelled outcome, got %+v", outcome)
		}
	})

	t.Run("carrier rejects", func(t *testing.T) {
		carrier := &stubCarrier{cancelErr: logistics.ErrCancellationRejected}
		outcome := svcFor(t, carrier).CancelShipment(context.Background(), booked)
		if !outcome.Attempted || outcome.Cancelled || outcome.Error == "" {
			t.Fatalf("expected attempted failure, got %+v", outcome)
		}
	})

	t.Run("already cancelled", func(t *testing.T) {
		carrier := &stubCarrier{}
		cancelled := booked
		cancelled.Shipment = &domain.ShipmentInfo{TrackingID: "EK123", Cancelled: true}
		outcome := svcFor(t, carrier).CancelShipment(context.Background(), cancelled)
		if !outcome.Attempted || !outcome.Cancelled || carrier.cancelCalls != 0 {
			t.Fatalf("repeat cancel must not call the carrier: %+v", outcome)
		}
	})
}
