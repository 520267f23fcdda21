package services

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	domain "github.com/swiftcart/api/internal/domain"
	"github.com/swiftcart/api/internal/repositories"
)

var (
	// ErrEligibilityInvalidInput indicates the caller supplied invalid input.
	ErrEligibilityInvalidInput = errors.New("eligibility: invalid input")
	// ErrEligibilityUnavailable indicates the catalog backend cannot be reached.
	ErrEligibilityUnavailable = errors.New("eligibility: unavailable")
	// ErrEligibilityProductNotFound indicates a referenced product does not exist.
	ErrEligibilityProductNotFound = errors.New("eligibility: product not found")
	// ErrNoPaymentMethodAvailable indicates no payment method is allowed by
	// every product in the cart.
	ErrNoPaymentMethodAvailable = errors.New("eligibility: no payment method available")
	// ErrPaymentMethodNotEligible indicates the chosen method is disabled for
	// at least one product in the cart.
	ErrPaymentMethodNotEligible = errors.New("eligibility: payment method not eligible")
)

// EligibilityResolverDeps wires the catalog dependency for eligibility checks.
type EligibilityResolverDeps struct {
	Products repositories.ProductRepository
	Logger   func(context.Context, string, map[string]any)
	Clock    func() time.Time
}

type eligibilityResolver struct {
	products repositories.ProductRepository
	logger   func(context.Context, string, map[string]any)
}

// NewEligibilityResolver constructs an EligibilityResolver backed by the
// product catalog.
func NewEligibilityResolver(deps EligibilityResolverDeps) (EligibilityResolver, error) {
	if deps.Products == nil {
		return nil, errors.New("eligibility resolver: product repository is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &eligibilityResolver{
		products: deps.Products,
		logger:   logger,
	}, nil
}

// ResolveCart computes the payment methods every product in the cart allows.
func (r *eligibilityResolver) ResolveCart(ctx context.Context, cart Cart) (Eligibility, error) {
	if r == nil || r.products == nil {
		return Eligibility{}, ErrEligibilityUnavailable
	}
	ids := make([]string, 0, len(cart.Items))
	for _, item := range cart.Items {
		if item.Quantity <= 0 {
			continue
		}
		ids = append(ids, item.ProductID)
	}
	return r.ResolveProducts(ctx, ids)
}

// ResolveProducts intersects per-product payment flags. The eligible set for
// a method is the AND over all products; an empty product set allows nothing.
func (r *eligibilityResolver) ResolveProducts(ctx context.Context, productIDs []string) (Eligibility, error) {
	if r == nil || r.products == nil {
		return Eligibility{}, ErrEligibilityUnavailable
	}

	unique := dedupeProductIDs(productIDs)
	if len(unique) == 0 {
		return Eligibility{}, ErrEligibilityInvalidInput
	}

	catalog, err := r.products.FindByIDs(ctx, unique)
	if err != nil {
		r.logger(ctx, "eligibility.catalog_lookup_failed", map[string]any{
			"productIds": unique,
			"error":      err.Error(),
		})
		return Eligibility{}, ErrEligibilityUnavailable
	}

	eligibility := domain.Eligibility{Online: true, COD: true}
	for _, id := range unique {
		product, ok := catalog[id]
		if !ok {
			return Eligibility{}, ErrEligibilityProductNotFound
		}
		eligibility.Online = eligibility.Online && product.EnableOnlinePayment
		eligibility.COD = eligibility.COD && product.EnableCashOnDelivery
	}
	return eligibility, nil
}

// RequireMethod validates a chosen method against a resolved eligibility set,
// distinguishing an empty set from a disallowed choice.
func RequireMethod(eligibility Eligibility, method PaymentMethod) error {
	if eligibility.Empty() {
		return ErrNoPaymentMethodAvailable
	}
	if !eligibility.Allows(method) {
		return ErrPaymentMethodNotEligible
	}
	return nil
}

func dedupeProductIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	unique := make([]string, 0, len(ids))
	for _, id := range ids {
		trimmed := strings.TrimSpace(id)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		unique = append(unique, trimmed)
	}
	sort.Strings(unique)
	return unique
}
