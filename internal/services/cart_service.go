package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/swiftcart/api/internal/domain"
	"github.com/swiftcart/api/internal/repositories"
)

const maxCartItemQuantity = 99

// ErrCartInvalidInput indicates the caller supplied invalid input.
var ErrCartInvalidInput = errors.New("cart service: invalid input")

// ErrCartUnavailable indicates the cart service cannot fulfil the request due to missing dependencies or backend issues.
var ErrCartUnavailable = errors.New("cart service: unavailable")

// ErrCartNotFound indicates the requested cart does not exist.
var ErrCartNotFound = errors.New("cart service: not found")

// ErrCartConflict indicates the cart could not be updated due to concurrent modifications.
var ErrCartConflict = errors.New("cart service: conflict")

// ErrCartProductNotFound indicates a referenced product does not exist in the catalog.
var ErrCartProductNotFound = errors.New("cart service: product not found")

// CartServiceDeps wires the repository and catalog dependencies for cart operations.
type CartServiceDeps struct {
	Repository repositories.CartRepository
	Products   repositories.ProductRepository
	Clock      func() time.Time
	Logger     func(context.Context, string, map[string]any)
}

type cartService struct {
	repo     repositories.CartRepository
	products repositories.ProductRepository
	now      func() time.Time
	logger   func(context.Context, string, map[string]any)
}

// NewCartService constructs a CartService enforcing dependency validation.
func NewCartService(deps CartServiceDeps) (CartService, error) {
	if deps.Repository == nil {
		return nil, errors.New("cart service: repository is required")
	}
	if deps.Products == nil {
		return nil, errors.New("cart service: product repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &cartService{
		repo:     deps.Repository,
		products: deps.Products,
		now: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// GetCart loads the user's cart, returning an empty cart when none exists yet.
func (s *cartService) GetCart(ctx context.Context, userID string) (Cart, error) {
	if s == nil || s.repo == nil {
		return Cart{}, ErrCartUnavailable
	}
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return Cart{}, ErrCartInvalidInput
	}

	cart, err := s.repo.GetCart(ctx, uid)
	if err != nil {
		if isRepoNotFound(err) {
			return s.newCart(uid), nil
		}
		return Cart{}, s.translateRepoError(err)
	}
	return s.normaliseCart(cart, uid), nil
}

// AddItem adds a product line, incrementing the quantity when the product is
// already in the cart. New lines snapshot the catalog price; the client never
// controls the stored unit price.
func (s *cartService) AddItem(ctx context.Context, cmd AddCartItemCommand) (Cart, error) {
	if s == nil || s.repo == nil {
		return Cart{}, ErrCartUnavailable
	}

	userID, productID, err := validateCartItemCommand(cmd.UserID, cmd.ProductID, cmd.Quantity)
	if err != nil {
		return Cart{}, err
	}

	product, err := s.products.FindByID(ctx, productID)
	if err != nil {
		if isRepoNotFound(err) {
			return Cart{}, ErrCartProductNotFound
		}
		return Cart{}, s.translateRepoError(err)
	}

	cart, expected, err := s.loadForWrite(ctx, userID)
	if err != nil {
		return Cart{}, err
	}

	items := cloneCartItems(cart.Items)
	idx := indexOfCartItem(items, productID)
	if idx >= 0 {
		quantity := items[idx].Quantity + cmd.Quantity
		if quantity > maxCartItemQuantity {
			quantity = maxCartItemQuantity
		}
		items[idx].Quantity = quantity
	} else {
		items = append(items, domain.CartItem{
			ProductID: product.ID,
			Name:      product.Name,
			UnitPrice: product.UnitPrice,
			Image:     product.Image,
			Quantity:  cmd.Quantity,
		})
	}

	return s.save(ctx, cart, items, expected)
}

// UpdateItemQuantity sets the absolute quantity for an existing product line.
// Removal goes through RemoveItem, so a quantity below one is rejected.
func (s *cartService) UpdateItemQuantity(ctx context.Context, cmd UpdateCartItemCommand) (Cart, error) {
	if s == nil || s.repo == nil {
		return Cart{}, ErrCartUnavailable
	}

	userID, productID, err := validateCartItemCommand(cmd.UserID, cmd.ProductID, cmd.Quantity)
	if err != nil {
		return Cart{}, err
	}

	cart, expected, err := s.loadForWrite(ctx, userID)
	if err != nil {
		return Cart{}, err
	}

	items := cloneCartItems(cart.Items)
	idx := indexOfCartItem(items, productID)
	if idx < 0 {
		return Cart{}, ErrCartNotFound
	}
	items[idx].Quantity = cmd.Quantity

	return s.save(ctx, cart, items, expected)
}

func validateCartItemCommand(userID, productID string, quantity int) (string, string, error) {
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return "", "", ErrCartInvalidInput
	}
	pid := strings.TrimSpace(productID)
	if pid == "" {
		return "", "", fmt.Errorf("%w: productId is required", ErrCartInvalidInput)
	}
	if quantity <= 0 || quantity > maxCartItemQuantity {
		return "", "", fmt.Errorf("%w: quantity must be between 1 and %d", ErrCartInvalidInput, maxCartItemQuantity)
	}
	return uid, pid, nil
}

// RemoveItem drops one product line from the cart.
func (s *cartService) RemoveItem(ctx context.Context, cmd RemoveCartItemCommand) (Cart, error) {
	if s == nil || s.repo == nil {
		return Cart{}, ErrCartUnavailable
	}

	userID := strings.TrimSpace(cmd.UserID)
	productID := strings.TrimSpace(cmd.ProductID)
	if userID == "" || productID == "" {
		return Cart{}, ErrCartInvalidInput
	}

	cart, err := s.repo.GetCart(ctx, userID)
	if err != nil {
		if isRepoNotFound(err) {
			return Cart{}, ErrCartNotFound
		}
		return Cart{}, s.translateRepoError(err)
	}
	cart = s.normaliseCart(cart, userID)

	items := cloneCartItems(cart.Items)
	idx := indexOfCartItem(items, productID)
	if idx < 0 {
		return Cart{}, ErrCartNotFound
	}
	items = append(items[:idx], items[idx+1:]...)

	expected := cart.UpdatedAt.UTC()
	return s.save(ctx, cart, items, &expected)
}

// ReplaceCart swaps the whole item set, repricing every line from the
// catalog.
func (s *cartService) ReplaceCart(ctx context.Context, cmd ReplaceCartCommand) (Cart, error) {
	if s == nil || s.repo == nil {
		return Cart{}, ErrCartUnavailable
	}

	userID := strings.TrimSpace(cmd.UserID)
	if userID == "" {
		return Cart{}, ErrCartInvalidInput
	}

	items, err := s.repriceItems(ctx, cmd.Items)
	if err != nil {
		return Cart{}, err
	}

	cart, expected, err := s.loadForWrite(ctx, userID)
	if err != nil {
		return Cart{}, err
	}
	return s.save(ctx, cart, items, expected)
}

// MergeGuestCart folds a guest device's cart into the server cart. Repeated
// deliveries of the same merge id return the already merged cart unchanged.
func (s *cartService) MergeGuestCart(ctx context.Context, cmd MergeGuestCartCommand) (Cart, error) {
	if s == nil || s.repo == nil {
		return Cart{}, ErrCartUnavailable
	}

	userID := strings.TrimSpace(cmd.UserID)
	mergeID := strings.TrimSpace(cmd.MergeID)
	if userID == "" || mergeID == "" {
		return Cart{}, ErrCartInvalidInput
	}

	cart, expected, err := s.loadForWrite(ctx, userID)
	if err != nil {
		return Cart{}, err
	}

	if applied, ok := cart.Metadata["lastMergeId"].(string); ok && applied == mergeID {
		return cart, nil
	}

	guestItems, err := s.repriceItems(ctx, cmd.GuestItems)
	if err != nil {
		return Cart{}, err
	}

	merged := MergeCarts(cart.Items, guestItems)
	cart.Metadata["lastMergeId"] = mergeID

	saved, err := s.save(ctx, cart, merged, expected)
	if err != nil {
		return Cart{}, err
	}

	s.logger(ctx, "cart.guest_merged", map[string]any{
		"userId":  userID,
		"mergeId": mergeID,
		"items":   len(saved.Items),
	})
	return saved, nil
}

// ClearCart removes the user's cart entirely. Clearing an absent cart is a
// no-op.
func (s *cartService) ClearCart(ctx context.Context, userID string) error {
	if s == nil || s.repo == nil {
		return ErrCartUnavailable
	}
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return ErrCartInvalidInput
	}
	if err := s.repo.DeleteCart(ctx, uid); err != nil {
		if isRepoNotFound(err) {
			return nil
		}
		return s.translateRepoError(err)
	}
	return nil
}

func (s *cartService) loadForWrite(ctx context.Context, userID string) (domain.Cart, *time.Time, error) {
	cart, err := s.repo.GetCart(ctx, userID)
	if err != nil {
		if isRepoNotFound(err) {
			return s.newCart(userID), nil, nil
		}
		return domain.Cart{}, nil, s.translateRepoError(err)
	}
	cart = s.normaliseCart(cart, userID)
	expected := cart.UpdatedAt.UTC()
	return cart, &expected, nil
}

func (s *cartService) save(ctx context.Context, cart domain.Cart, items []domain.CartItem, expected *time.Time) (Cart, error) {
	cart.Items = items
	cart.UpdatedAt = s.now()
	if cart.CreatedAt.IsZero() {
		cart.CreatedAt = cart.UpdatedAt
	}

	saved, err := s.repo.UpsertCart(ctx, cart, expected)
	if err != nil {
		return Cart{}, s.translateRepoError(err)
	}
	return s.normaliseCart(saved, cart.UserID), nil
}

func (s *cartService) repriceItems(ctx context.Context, items []CartItem) ([]domain.CartItem, error) {
	collapsed := MergeCarts(nil, items)
	if len(collapsed) == 0 {
		return []domain.CartItem{}, nil
	}

	ids := make([]string, 0, len(collapsed))
	for _, item := range collapsed {
		if item.Quantity > maxCartItemQuantity {
			return nil, fmt.Errorf("%w: quantity must be between 1 and %d", ErrCartInvalidInput, maxCartItemQuantity)
		}
		ids = append(ids, item.ProductID)
	}

	catalog, err := s.products.FindByIDs(ctx, ids)
	if err != nil {
		return nil, s.translateRepoError(err)
	}

	repriced := make([]domain.CartItem, 0, len(collapsed))
	for _, item := range collapsed {
		product, ok := catalog[item.ProductID]
		if !ok {
			return nil, ErrCartProductNotFound
		}
		repriced = append(repriced, domain.CartItem{
			ProductID: product.ID,
			Name:      product.Name,
			UnitPrice: product.UnitPrice,
			Image:     product.Image,
			Quantity:  item.Quantity,
		})
	}
	return repriced, nil
}

func (s *cartService) newCart(userID string) domain.Cart {
	now := s.now()
	return domain.Cart{
		ID:        userID,
		UserID:    userID,
		Items:     []domain.CartItem{},
		Metadata:  map[string]any{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func (s *cartService) normaliseCart(cart domain.Cart, userID string) domain.Cart {
	if cart.ID = strings.TrimSpace(cart.ID); cart.ID == "" {
		cart.ID = userID
	}
	cart.UserID = strings.TrimSpace(firstNonEmpty(cart.UserID, userID))
	if cart.Items == nil {
		cart.Items = []domain.CartItem{}
	}
	if cart.Metadata == nil {
		cart.Metadata = map[string]any{}
	}
	if cart.CreatedAt.IsZero() {
		cart.CreatedAt = s.now()
	}
	if cart.UpdatedAt.IsZero() {
		cart.UpdatedAt = s.now()
	}
	return cart
}

func (s *cartService) translateRepoError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return ErrCartNotFound
		case repoErr.IsConflict():
			return ErrCartConflict
		case repoErr.IsUnavailable():
			return ErrCartUnavailable
		}
		return ErrCartUnavailable
	}
	return ErrCartUnavailable
}

func indexOfCartItem(items []domain.CartItem, productID string) int {
	target := strings.TrimSpace(productID)
	if target == "" {
		return -1
	}
	for i, item := range items {
		if strings.EqualFold(strings.TrimSpace(item.ProductID), target) {
			return i
		}
	}
	return -1
}

func cloneCartItems(items []domain.CartItem) []domain.CartItem {
	if len(items) == 0 {
		return []domain.CartItem{}
	}
	dup := make([]domain.CartItem, len(items))
	copy(dup, items)
	return dup
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func isRepoNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		return repoErr.IsNotFound()
	}
	return false
}
