package firestore

import (
	"context"
	"errors"
	"strings"

	domain "github.com/swiftcart/api/internal/domain"
	pfirestore "github.com/swiftcart/api/internal/platform/firestore"
	"github.com/swiftcart/api/internal/repositories"
)

const productCollection = "products"

// ProductRepository reads the catalog fields the order lifecycle depends on.
// Catalog writes happen elsewhere; this surface is read-only.
type ProductRepository struct {
	base *pfirestore.BaseRepository[productDocument]
}

// NewProductRepository constructs a Firestore-backed product reader.
func NewProductRepository(provider *pfirestore.Provider) (*ProductRepository, error) {
	if provider == nil {
		return nil, errors.New("product repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[productDocument](provider, productCollection, nil, nil)
	return &ProductRepository{base: base}, nil
}

// FindByID loads a single product.
func (r *ProductRepository) FindByID(ctx context.Context, productID string) (domain.Product, error) {
	if r == nil || r.base == nil {
		return domain.Product{}, errors.New("product repository not initialised")
	}
	id := strings.TrimSpace(productID)
	if id == "" {
		return domain.Product{}, errors.New("product repository: product id is required")
	}

	doc, err := r.base.Get(ctx, id)
	if err != nil {
		return domain.Product{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

// FindByIDs loads the given products keyed by ID. Missing products are simply
// absent from the result; callers decide whether that is an error.
func (r *ProductRepository) FindByIDs(ctx context.Context, productIDs []string) (map[string]domain.Product, error) {
	if r == nil || r.base == nil {
		return nil, errors.New("product repository not initialised")
	}

	out := make(map[string]domain.Product, len(productIDs))
	for _, productID := range productIDs {
		id := strings.TrimSpace(productID)
		if id == "" {
			continue
		}
		if _, ok := out[id]; ok {
			continue
		}

		doc, err := r.base.Get(ctx, id)
		if err != nil {
			var repoErr repositories.RepositoryError
			if errors.As(err, &repoErr) && repoErr.IsNotFound() {
				continue
			}
			return nil, err
		}
		out[id] = doc.Data.toDomain(doc.ID)
	}
	return out, nil
}

// Resolve expands a bare product reference into its summary form. Already
// expanded references pass through untouched.
func (r *ProductRepository) Resolve(ctx context.Context, ref domain.ProductRef) (domain.ProductRef, error) {
	if ref.Expanded && ref.Summary != nil {
		return ref, nil
	}

	product, err := r.FindByID(ctx, ref.ID)
	if err != nil {
		return domain.ProductRef{}, err
	}
	return domain.RefFromSummary(domain.ProductSummary{
		ID:        product.ID,
		Name:      product.Name,
		UnitPrice: product.UnitPrice,
		Image:     product.Image,
	}), nil
}

type productDocument struct {
	Name                 string `firestore:"name"`
	UnitPrice            int64  `firestore:"unitPrice"`
	Image                string `firestore:"image,omitempty"`
	EnableOnlinePayment  bool   `firestore:"enableOnlinePayment"`
	EnableCashOnDelivery bool   `firestore:"enableCashOnDelivery"`
}

func (d productDocument) toDomain(id string) domain.Product {
	return domain.Product{
		ID:                   id,
		Name:                 strings.TrimSpace(d.Name),
		UnitPrice:            d.UnitPrice,
		Image:                strings.TrimSpace(d.Image),
		EnableOnlinePayment:  d.EnableOnlinePayment,
		EnableCashOnDelivery: d.EnableCashOnDelivery,
	}
}

var _ repositories.ProductRepository = (*ProductRepository)(nil)
