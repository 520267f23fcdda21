package repositories

import (
	"context"
	"time"

	domain "github.com/swiftcart/api/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Carts() CartRepository
	Products() ProductRepository
	Orders() OrderRepository
	WebhookEvents() WebhookEventRepository
	Counters() CounterRepository
	Health() HealthRepository
	UnitOfWork
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork allows grouping repository operations in a transactional boundary when supported.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// CartRepository owns server-side cart persistence with optimistic locking on
// the cart's update timestamp.
type CartRepository interface {
	UpsertCart(ctx context.Context, cart domain.Cart, expectedUpdate *time.Time) (domain.Cart, error)
	GetCart(ctx context.Context, userID string) (domain.Cart, error)
	DeleteCart(ctx context.Context, userID string) error
}

// ProductRepository reads catalog data the order lifecycle depends on. The
// catalog is owned elsewhere; this surface is read-only.
type ProductRepository interface {
	FindByID(ctx context.Context, productID string) (domain.Product, error)
	FindByIDs(ctx context.Context, productIDs []string) (map[string]domain.Product, error)
	// Resolve expands a product reference at the data-access boundary so
	// downstream code never branches on reference shape.
	Resolve(ctx context.Context, ref domain.ProductRef) (domain.ProductRef, error)
}

// OrderRepository persists order documents. Update applies an optimistic
// version precondition and reports a conflict RepositoryError on mismatch.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	Update(ctx context.Context, order domain.Order) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	FindPendingByCheckoutKey(ctx context.Context, userID string, checkoutKey string) (domain.Order, error)
	List(ctx context.Context, filter OrderListFilter) (domain.CursorPage[domain.Order], error)
}

// WebhookEventRepository records processed gateway events for dedupe.
// Record returns false when the (provider, eventId) pair was already stored.
type WebhookEventRepository interface {
	Record(ctx context.Context, event domain.WebhookEvent) (bool, error)
	Find(ctx context.Context, provider string, eventID string) (domain.WebhookEvent, error)
}

// CounterRepository provides transaction-safe sequence numbers.
type CounterRepository interface {
	Next(ctx context.Context, counterID string, step int64) (int64, error)
	Configure(ctx context.Context, counterID string, cfg CounterConfig) error
}

// HealthRepository exposes status of downstream dependencies for health checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}

// OrderListFilter narrows order listings for buyer history queries.
type OrderListFilter struct {
	UserID     string
	Status     []string
	PlacedFrom *time.Time
	PlacedTo   *time.Time
	Pagination domain.Pagination
}

// CounterConfig customises increment behaviour and bounds for a counter.
type CounterConfig struct {
	Step         int64
	MaxValue     *int64
	InitialValue *int64
}
