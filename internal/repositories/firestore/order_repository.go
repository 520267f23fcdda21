package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/swiftcart/api/internal/domain"
	pfirestore "github.com/swiftcart/api/internal/platform/firestore"
	"github.com/swiftcart/api/internal/platform/pagination"
	"github.com/swiftcart/api/internal/repositories"
)

const orderCollection = "orders"

var errOrderVersionConflict = errors.New("orders: version conflict")

// OrderRepository persists order documents in Firestore. Updates run inside a
// transaction guarded by the order's version field so concurrent transition
// attempts surface as conflicts.
type OrderRepository struct {
	base     *pfirestore.BaseRepository[orderDocument]
	provider *pfirestore.Provider
}

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[orderDocument](provider, orderCollection, nil, nil)
	return &OrderRepository{
		base:     base,
		provider: provider,
	}, nil
}

// Insert creates the order document. Inserting an existing ID fails with a
// conflict error.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	if r == nil || r.base == nil {
		return errors.New("order repository not initialised")
	}
	id := strings.TrimSpace(order.ID)
	if id == "" {
		return errors.New("order repository: order id is required")
	}

	ref, err := r.base.DocumentRef(ctx, id)
	if err != nil {
		return err
	}
	if _, err := ref.Create(ctx, encodeOrder(order)); err != nil {
		return pfirestore.WrapError("orders.insert", err)
	}
	return nil
}

// Update replaces the order document. The stored version must equal the
// incoming version minus one; anything else reports a conflict so callers
// re-read and re-apply their transition.
func (r *OrderRepository) Update(ctx context.Context, order domain.Order) error {
	if r == nil || r.provider == nil {
		return errors.New("order repository not initialised")
	}
	id := strings.TrimSpace(order.ID)
	if id == "" {
		return errors.New("order repository: order id is required")
	}
	if order.Version < 1 {
		return errors.New("order repository: order version must be positive")
	}

	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.base.DocumentRef(ctx, id)
		if err != nil {
			return err
		}
		snapshot, err := tx.Get(ref)
		if err != nil {
			return err
		}
		var current orderDocument
		if err := snapshot.DataTo(&current); err != nil {
			return fmt.Errorf("orders decode %s: %w", id, err)
		}
		if current.Version != order.Version-1 {
			return errOrderVersionConflict
		}
		return tx.Set(ref, encodeOrder(order))
	})
	if err != nil {
		if errors.Is(err, errOrderVersionConflict) {
			return pfirestore.NewConflictError("orders.update", err)
		}
		return pfirestore.WrapError("orders.update", err)
	}
	return nil
}

// FindByID loads an order by its internal ID.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if r == nil || r.base == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	id := strings.TrimSpace(orderID)
	if id == "" {
		return domain.Order{}, errors.New("order repository: order id is required")
	}

	doc, err := r.base.Get(ctx, id)
	if err != nil {
		return domain.Order{}, err
	}
	return decodeOrder(doc.ID, doc.Data), nil
}

// FindPendingByCheckoutKey returns the pending order carrying the given
// checkout idempotency key for the user, if one exists.
func (r *OrderRepository) FindPendingByCheckoutKey(ctx context.Context, userID string, checkoutKey string) (domain.Order, error) {
	if r == nil || r.base == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	uid := strings.TrimSpace(userID)
	key := strings.TrimSpace(checkoutKey)
	if uid == "" || key == "" {
		return domain.Order{}, errors.New("order repository: user id and checkout key are required")
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("userId", "==", uid).
			Where("checkoutKey", "==", key).
			Where("status", "==", string(domain.OrderStatusPending)).
			Limit(1)
	})
	if err != nil {
		return domain.Order{}, err
	}
	if len(docs) == 0 {
		return domain.Order{}, pfirestore.NewNotFoundError("orders.findPendingByCheckoutKey", errors.New("orders: pending order not found"))
	}
	return decodeOrder(docs[0].ID, docs[0].Data), nil
}

// List returns the user's orders newest-first with cursor pagination.
func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	if r == nil || r.base == nil {
		return domain.CursorPage[domain.Order]{}, errors.New("order repository not initialised")
	}

	pageSize := filter.Pagination.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		if uid := strings.TrimSpace(filter.UserID); uid != "" {
			q = q.Where("userId", "==", uid)
		}
		if len(filter.Status) > 0 {
			q = q.Where("status", "in", filter.Status)
		}
		if filter.PlacedFrom != nil {
			q = q.Where("placedAt", ">=", filter.PlacedFrom.UTC())
		}
		if filter.PlacedTo != nil {
			q = q.Where("placedAt", "<=", filter.PlacedTo.UTC())
		}
		q = q.OrderBy("placedAt", firestore.Desc).OrderBy(firestore.DocumentID, firestore.Desc)
		if cursor, ok := decodeOrderCursor(filter.Pagination.PageToken); ok {
			q = q.StartAfter(cursor.placedAt, cursor.id)
		}
		return q.Limit(pageSize + 1)
	})
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}

	page := domain.CursorPage[domain.Order]{}
	for i, doc := range docs {
		if i == pageSize {
			last := docs[pageSize-1]
			page.NextCursor = encodeOrderCursor(last.Data.PlacedAt, last.ID)
			break
		}
		page.Items = append(page.Items, decodeOrder(doc.ID, doc.Data))
	}
	return page, nil
}

type orderCursor struct {
	placedAt time.Time
	id       string
}

func encodeOrderCursor(placedAt time.Time, id string) string {
	token, err := pagination.EncodeToken(pagination.Cursor{
		StartAfter: []any{placedAt.UTC().Format(time.RFC3339Nano), id},
	})
	if err != nil {
		return ""
	}
	return token
}

func decodeOrderCursor(token string) (orderCursor, bool) {
	cursor, err := pagination.DecodeToken(token)
	if err != nil || len(cursor.StartAfter) != 2 {
		return orderCursor{}, false
	}
	stamp, ok := cursor.StartAfter[0].(string)
	if !ok {
		return orderCursor{}, false
	}
	placedAt, err := time.Parse(time.RFC3339Nano, stamp)
	if err != nil {
		return orderCursor{}, false
	}
	id, ok := cursor.StartAfter[1].(string)
	if !ok || id == "" {
		return orderCursor{}, false
	}
	return orderCursor{placedAt: placedAt, id: id}, true
}

type orderDocument struct {
	OrderNumber      string               `firestore:"orderNumber"`
	UserID           string               `firestore:"userId"`
	Items            []orderItemDocument  `firestore:"items"`
	ShippingAddress  addressDocument      `firestore:"shippingAddress"`
	TotalAmount      int64                `firestore:"totalAmount"`
	Discount         int64                `firestore:"discount"`
	ShippingCharge   int64                `firestore:"shippingCharge"`
	FinalAmount      int64                `firestore:"finalAmount"`
	PaymentMethod    string               `firestore:"paymentMethod"`
	CheckoutKey      string               `firestore:"checkoutKey,omitempty"`
	Status           string               `firestore:"status"`
	PaymentStatus    string               `firestore:"paymentStatus"`
	PaymentProvider  string               `firestore:"paymentProvider,omitempty"`
	PaymentSessionID string               `firestore:"paymentSessionId,omitempty"`
	PaymentFailure   string               `firestore:"paymentFailure,omitempty"`
	Shipment         *shipmentDocument    `firestore:"shipment,omitempty"`
	Version          int64                `firestore:"version"`
	Metadata         map[string]any       `firestore:"metadata,omitempty"`
	PlacedAt         time.Time            `firestore:"placedAt"`
	ConfirmedAt      *time.Time           `firestore:"confirmedAt,omitempty"`
	ShippedAt        *time.Time           `firestore:"shippedAt,omitempty"`
	DeliveredAt      *time.Time           `firestore:"deliveredAt,omitempty"`
	CancelledAt      *time.Time           `firestore:"cancelledAt,omitempty"`
	UpdatedAt        time.Time            `firestore:"updatedAt"`
}

type orderItemDocument struct {
	ProductID string `firestore:"productId"`
	Name      string `firestore:"name"`
	UnitPrice int64  `firestore:"unitPrice"`
	Image     string `firestore:"image,omitempty"`
	Quantity  int    `firestore:"quantity"`
	LineTotal int64  `firestore:"lineTotal"`
}

type addressDocument struct {
	Name           string `firestore:"name"`
	Mobile         string `firestore:"mobile"`
	Pincode        string `firestore:"pincode"`
	Locality       string `firestore:"locality"`
	Address        string `firestore:"address"`
	City           string `firestore:"city"`
	State          string `firestore:"state"`
	Landmark       string `firestore:"landmark,omitempty"`
	AlternatePhone string `firestore:"alternatePhone,omitempty"`
}

type shipmentDocument struct {
	TrackingID  string             `firestore:"trackingId,omitempty"`
	AWB         string             `firestore:"awb,omitempty"`
	Cancelled   bool               `firestore:"cancelled"`
	CancelError string             `firestore:"cancelError,omitempty"`
	Scans       []scanEventDocument `firestore:"scans,omitempty"`
	CreatedAt   time.Time          `firestore:"createdAt,omitempty"`
}

type scanEventDocument struct {
	Status    string    `firestore:"status"`
	Location  string    `firestore:"location,omitempty"`
	Remarks   string    `firestore:"remarks,omitempty"`
	Timestamp time.Time `firestore:"timestamp"`
}

func encodeOrder(order domain.Order) orderDocument {
	doc := orderDocument{
		OrderNumber: order.OrderNumber,
		UserID:      order.UserID,
		ShippingAddress: addressDocument{
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
		TotalAmount:      order.Totals.TotalAmount,
		Discount:         order.Totals.Discount,
		ShippingCharge:   order.Totals.ShippingCharge,
		FinalAmount:      order.Totals.FinalAmount,
		PaymentMethod:    string(order.PaymentMethod),
		CheckoutKey:      order.CheckoutKey,
		Status:           string(order.Status),
		PaymentStatus:    string(order.PaymentStatus),
		PaymentProvider:  order.PaymentProvider,
		PaymentSessionID: order.PaymentSessionID,
		PaymentFailure:   order.PaymentFailure,
		Version:          order.Version,
		Metadata:         cloneAnyMap(order.Metadata),
		PlacedAt:         order.PlacedAt.UTC(),
		ConfirmedAt:      order.ConfirmedAt,
		ShippedAt:        order.ShippedAt,
		DeliveredAt:      order.DeliveredAt,
		CancelledAt:      order.CancelledAt,
		UpdatedAt:        order.UpdatedAt.UTC(),
	}
	for _, item := range order.Items {
		doc.Items = append(doc.Items, orderItemDocument{
			ProductID: item.ProductID,
			Name:      item.Name,
			UnitPrice: item.UnitPrice,
			Image:     item.Image,
			Quantity:  item.Quantity,
			LineTotal: item.LineTotal,
		})
	}
	if order.Shipment != nil {
		shipment := &shipmentDocument{
			TrackingID:  order.Shipment.TrackingID,
			AWB:         order.Shipment.AWB,
			Cancelled:   order.Shipment.Cancelled,
			CancelError: order.Shipment.CancelError,
			CreatedAt:   order.Shipment.CreatedAt,
		}
		for _, scan := range order.Shipment.Scans {
			shipment.Scans = append(shipment.Scans, scanEventDocument{
				Status:    scan.Status,
				Location:  scan.Location,
				Remarks:   scan.Remarks,
				Timestamp: scan.Timestamp,
			})
		}
		doc.Shipment = shipment
	}
	return doc
}

func decodeOrder(id string, doc orderDocument) domain.Order {
	order := domain.Order{
		ID:          id,
		OrderNumber: doc.OrderNumber,
		UserID:      doc.UserID,
		ShippingAddress: domain.ShippingAddress{
			Name:           doc.ShippingAddress.Name,
			Mobile:         doc.ShippingAddress.Mobile,
			Pincode:        doc.ShippingAddress.Pincode,
			Locality:       doc.ShippingAddress.Locality,
			Address:        doc.ShippingAddress.Address,
			City:           doc.ShippingAddress.City,
			State:          doc.ShippingAddress.State,
			Landmark:       doc.ShippingAddress.Landmark,
			AlternatePhone: doc.ShippingAddress.AlternatePhone,
		},
		Totals: domain.OrderTotals{
			TotalAmount:    doc.TotalAmount,
			Discount:       doc.Discount,
			ShippingCharge: doc.ShippingCharge,
			FinalAmount:    doc.FinalAmount,
		},
		PaymentMethod:    domain.PaymentMethod(doc.PaymentMethod),
		CheckoutKey:      doc.CheckoutKey,
		Status:           domain.OrderStatus(doc.Status),
		PaymentStatus:    domain.PaymentStatus(doc.PaymentStatus),
		PaymentProvider:  doc.PaymentProvider,
		PaymentSessionID: doc.PaymentSessionID,
		PaymentFailure:   doc.PaymentFailure,
		Version:          doc.Version,
		Metadata:         cloneAnyMap(doc.Metadata),
		PlacedAt:         doc.PlacedAt,
		ConfirmedAt:      doc.ConfirmedAt,
		ShippedAt:        doc.ShippedAt,
		DeliveredAt:      doc.DeliveredAt,
		CancelledAt:      doc.CancelledAt,
		UpdatedAt:        doc.UpdatedAt,
	}
	for _, item := range doc.Items {
		order.Items = append(order.Items, domain.OrderItem{
			ProductID: item.ProductID,
			Name:      item.Name,
			UnitPrice: item.UnitPrice,
			Image:     item.Image,
			Quantity:  item.Quantity,
			LineTotal: item.LineTotal,
		})
	}
	if doc.Shipment != nil {
		shipment := &domain.ShipmentInfo{
			TrackingID:  doc.Shipment.TrackingID,
			AWB:         doc.Shipment.AWB,
			Cancelled:   doc.Shipment.Cancelled,
			CancelError: doc.Shipment.CancelError,
			CreatedAt:   doc.Shipment.CreatedAt,
		}
		for _, scan := range doc.Shipment.Scans {
			shipment.Scans = append(shipment.Scans, domain.ScanEvent{
				Status:    scan.Status,
				Location:  scan.Location,
				Remarks:   scan.Remarks,
				Timestamp: scan.Timestamp,
			})
		}
		order.Shipment = shipment
	}
	return order
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)
