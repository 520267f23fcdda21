package firestore

import (
	"context"
	"errors"

	"cloud.google.com/go/firestore"

	pfirestore "github.com/swiftcart/api/internal/platform/firestore"
	"github.com/swiftcart/api/internal/repositories"
)

// Registry bundles the Firestore-backed repositories behind the
// repositories.Registry contract.
type Registry struct {
	provider *pfirestore.Provider

	carts    *CartRepository
	products *ProductRepository
	orders   *OrderRepository
	events   *WebhookEventRepository
	counters *CounterRepository
	health   repositories.HealthRepository
}

// RegistryOption customises registry construction.
type RegistryOption func(*Registry)

// WithHealthRepository installs the health repository served by Health().
// Health checks usually span more than Firestore, so the caller assembles it.
func WithHealthRepository(health repositories.HealthRepository) RegistryOption {
	return func(r *Registry) {
		r.health = health
	}
}

// NewRegistry wires every Firestore repository against the shared provider.
func NewRegistry(provider *pfirestore.Provider, opts ...RegistryOption) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("firestore registry: provider is required")
	}

	carts, err := NewCartRepository(provider)
	if err != nil {
		return nil, err
	}
	products, err := NewProductRepository(provider)
	if err != nil {
		return nil, err
	}
	orders, err := NewOrderRepository(provider)
	if err != nil {
		return nil, err
	}
	events, err := NewWebhookEventRepository(provider)
	if err != nil {
		return nil, err
	}
	counters, err := NewCounterRepository(provider)
	if err != nil {
		return nil, err
	}

	reg := &Registry{
		provider: provider,
		carts:    carts,
		products: products,
		orders:   orders,
		events:   events,
		counters: counters,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(reg)
		}
	}
	return reg, nil
}

func (r *Registry) Carts() repositories.CartRepository { return r.carts }

func (r *Registry) Products() repositories.ProductRepository { return r.products }

func (r *Registry) Orders() repositories.OrderRepository { return r.orders }

func (r *Registry) WebhookEvents() repositories.WebhookEventRepository { return r.events }

func (r *Registry) Counters() repositories.CounterRepository { return r.counters }

func (r *Registry) Health() repositories.HealthRepository { return r.health }

// RunInTx groups repository operations inside one Firestore transaction.
func (r *Registry) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if r == nil || r.provider == nil {
		return errors.New("firestore registry: not initialised")
	}
	return r.provider.RunTransaction(ctx, func(txCtx context.Context, _ *firestore.Transaction) error {
		return fn(txCtx)
	})
}

// Close releases the underlying Firestore client.
func (r *Registry) Close(ctx context.Context) error {
	if r == nil || r.provider == nil {
		return nil
	}
	return r.provider.Close(ctx)
}

var _ repositories.Registry = (*Registry)(nil)
