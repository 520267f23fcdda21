package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/swiftcart/api/internal/domain"
	"github.com/swiftcart/api/internal/repositories"
)

type stubRepoError struct {
	notFound    bool
	conflict    bool
	unavailable bool
}

func (e stubRepoError) Error() string       { return "stub repository error" }
func (e stubRepoError) IsNotFound() bool    { return e.notFound }
func (e stubRepoError) IsConflict() bool    { return e.conflict }
func (e stubRepoError) IsUnavailable() bool { return e.unavailable }

var _ repositories.RepositoryError = stubRepoError{}

type stubCartRepo struct {
	carts        map[string]domain.Cart
	upsertErr    error
	getErr       error
	deleteCalls  int
	lastExpected *time.Time
}

func newStubCartRepo() *stubCartRepo {
	return &stubCartRepo{carts: map[string]domain.Cart{}}
}

func (s *stubCartRepo) UpsertCart(ctx context.Context, cart domain.Cart, expectedUpdate *time.Time) (domain.Cart, error) {
	s.lastExpected = expectedUpdate
	if s.upsertErr != nil {
		return domain.Cart{}, s.upsertErr
	}
	s.carts[cart.UserID] = cart
	return cart, nil
}

func (s *stubCartRepo) GetCart(ctx context.Context, userID string) (domain.Cart, error) {
	if s.getErr != nil {
		return domain.Cart{}, s.getErr
	}
	cart, ok := s.carts[userID]
	if !ok {
		return domain.Cart{}, stubRepoError{notFound: true}
	}
	return cart, nil
}

func (s *stubCartRepo) DeleteCart(ctx context.Context, userID string) error {
	s.deleteCalls++
	delete(s.carts, userID)
	return nil
}

func fixedClock() time.Time {
	return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
}

func newTestCartService(t *testing.T, repo *stubCartRepo, products *stubProductRepo) CartService {
	t.Helper()
	svc, err := NewCartService(CartServiceDeps{
		Repository: repo,
		Products:   products,
		Clock:      fixedClock,
	})
	if err != nil {
		t.Fatalf("new cart service: %v", err)
	}
	return svc
}

func TestCartServiceGetCartReturnsEmptyCartWhenAbsent(t *testing.T) {
	svc := newTestCartService(t, newStubCartRepo(), &stubProductRepo{})

	cart, err := svc.GetCart(context.Background(), "user_1")
	if err != nil {
		t.Fatalf("get cart: %v", err)
	}
	if cart.UserID != "user_1" || len(cart.Items) != 0 {
		t.Fatalf("unexpected cart %+v", cart)
	}
}

func TestCartServiceAddItemSnapshotsCatalogPrice(t *testing.T) {
	repo := newStubCartRepo()
	products := &stubProductRepo{products: map[string]domain.Product{
		"prod_1": {ID: "prod_1", Name: "Steel Bottle", UnitPrice: 24900},
	}}
	svc := newTestCartService(t, repo, products)

	cart, err := svc.AddItem(context.Background(), AddCartItemCommand{
		UserID:    "user_1",
		ProductID: "prod_1",
		Quantity:  2,
	})
	if err != nil {
		t.Fatalf("add item: %v", err)
	}
	if len(cart.Items) != 1 {
		t.Fatalf("expected 1 item, got %d", len(cart.Items))
	}
	if cart.Items[0].UnitPrice != 24900 || cart.Items[0].Name != "Steel Bottle" {
		t.Fatalf("catalog snapshot missing: %+v", cart.Items[0])
	}
	if cart.TotalAmount() != 49800 {
		t.Fatalf("expected derived total 49800, got %d", cart.TotalAmount())
	}
}

func TestCartServiceAddItemIncrementsExistingLine(t *testing.T) {
	repo := newStubCartRepo()
	products := &stubProductRepo{products: map[string]domain.Product{
		"prod_1": {ID: "prod_1", UnitPrice: 100},
	}}
	svc := newTestCartService(t, repo, products)

	ctx := context.Background()
	if _, err := svc.AddItem(ctx, AddCartItemCommand{UserID: "user_1", ProductID: "prod_1", Quantity: 2}); err != nil {
		t.Fatalf("first add: %v", err)
	}
	cart, err := svc.AddItem(ctx, AddCartItemCommand{UserID: "user_1", ProductID: "prod_1", Quantity: 2})
	if err != nil {
		t.Fatalf("second add: %v", err)
	}
	if len(cart.Items) != 1 || cart.Items[0].Quantity != 4 {
		t.Fatalf("expected quantity 4 after adding 2 twice, got %+v", cart.Items)
	}
	if repo.lastExpected == nil {
		t.Fatalf("expected optimistic precondition on existing cart")
	}
}

func TestCartServiceAddItemCapsQuantity(t *testing.T) {
	repo := newStubCartRepo()
	products := &stubProductRepo{products: map[string]domain.Product{
		"prod_1": {ID: "prod_1", UnitPrice: 100},
	}}
	svc := newTestCartService(t, repo, products)

	ctx := context.Background()
	if _, err := svc.AddItem(ctx, AddCartItemCommand{UserID: "user_1", ProductID: "prod_1", Quantity: 60}); err != nil {
		t.Fatalf("first add: %v", err)
	}
	cart, err := svc.AddItem(ctx, AddCartItemCommand{UserID: "user_1", ProductID: "prod_1", Quantity: 60})
	if err != nil {
		t.Fatalf("second add: %v", err)
	}
	if cart.Items[0].Quantity != maxCartItemQuantity {
		t.Fatalf("expected quantity capped at %d, got %d", maxCartItemQuantity, cart.Items[0].Quantity)
	}
}

func TestCartServiceUpdateItemQuantitySetsAbsoluteValue(t *testing.T) {
	repo := newStubCartRepo()
	products := &stubProductRepo{products: map[string]domain.Product{
		"prod_1": {ID: "prod_1", UnitPrice: 100},
	}}
	svc := newTestCartService(t, repo, products)

	ctx := context.Background()
	if _, err := svc.AddItem(ctx, AddCartItemCommand{UserID: "user_1", ProductID: "prod_1", Quantity: 2}); err != nil {
		t.Fatalf("add: %v", err)
	}
	cart, err := svc.UpdateItemQuantity(ctx, UpdateCartItemCommand{UserID: "user_1", ProductID: "prod_1", Quantity: 5})
	if err != nil {
		t.Fatalf("update quantity: %v", err)
	}
	if len(cart.Items) != 1 || cart.Items[0].Quantity != 5 {
		t.Fatalf("expected quantity set to 5, got %+v", cart.Items)
	}
}

func TestCartServiceUpdateItemQuantityRejectsZero(t *testing.T) {
	svc := newTestCartService(t, newStubCartRepo(), &stubProductRepo{})

	_, err := svc.UpdateItemQuantity(context.Background(), UpdateCartItemCommand{UserID: "user_1", ProductID: "prod_1", Quantity: 0})
	if !errors.Is(err, ErrCartInvalidInput) {
		t.Fatalf("expected ErrCartInvalidInput, got %v", err)
	}
}

func TestCartServiceUpdateItemQuantityMissingLine(t *testing.T) {
	repo := newStubCartRepo()
	repo.carts["user_1"] = domain.Cart{ID: "user_1", UserID: "user_1", UpdatedAt: fixedClock()}
	svc := newTestCartService(t, repo, &stubProductRepo{})

	_, err := svc.UpdateItemQuantity(context.Background(), UpdateCartItemCommand{UserID: "user_1", ProductID: "ghost", Quantity: 1})
	if !errors.Is(err, ErrCartNotFound) {
		t.Fatalf("expected ErrCartNotFound, got %v", err)
	}
}

func TestCartServiceAddItemUnknownProduct(t *testing.T) {
	svc := newTestCartService(t, newStubCartRepo(), &stubProductRepo{products: map[string]domain.Product{}, err: nil})

	_, err := svc.AddItem(context.Background(), AddCartItemCommand{UserID: "user_1", ProductID: "ghost", Quantity: 1})
	if err == nil {
		t.Fatalf("expected error for unknown product")
	}
}

func TestCartServiceRemoveItem(t *testing.T) {
	repo := newStubCartRepo()
	repo.carts["user_1"] = domain.Cart{
		ID:     "user_1",
		UserID: "user_1",
		Items: []domain.CartItem{
			{ProductID: "prod_1", Quantity: 1},
			{ProductID: "prod_2", Quantity: 2},
		},
		UpdatedAt: fixedClock(),
	}
	svc := newTestCartService(t, repo, &stubProductRepo{})

	cart, err := svc.RemoveItem(context.Background(), RemoveCartItemCommand{UserID: "user_1", ProductID: "prod_1"})
	if err != nil {
		t.Fatalf("remove item: %v", err)
	}
	if len(cart.Items) != 1 || cart.Items[0].ProductID != "prod_2" {
		t.Fatalf("unexpected items %+v", cart.Items)
	}
}

func TestCartServiceRemoveMissingItem(t *testing.T) {
	repo := newStubCartRepo()
	repo.carts["user_1"] = domain.Cart{ID: "user_1", UserID: "user_1", UpdatedAt: fixedClock()}
	svc := newTestCartService(t, repo, &stubProductRepo{})

	_, err := svc.RemoveItem(context.Background(), RemoveCartItemCommand{UserID: "user_1", ProductID: "ghost"})
	if !errors.Is(err, ErrCartNotFound) {
		t.Fatalf("expected ErrCartNotFound, got %v", err)
	}
}

func TestCartServiceMergeGuestCartSumsQuantities(t *testing.T) {
	repo := newStubCartRepo()
	repo.carts["user_1"] = domain.Cart{
		ID:     "user_1",
		UserID: "user_1",
		Items: []domain.CartItem{
			{ProductID: "prod_1", Name: "Steel Bottle", UnitPrice: 24900, Quantity: 1},
		},
		Metadata:  map[string]any{},
		UpdatedAt: fixedClock(),
	}
	products := &stubProductRepo{products: map[string]domain.Product{
		"prod_1": {ID: "prod_1", Name: "Steel Bottle", UnitPrice: 24900},
		"prod_2": {ID: "prod_2", Name: "Lunch Box", UnitPrice: 9900},
	}}
	svc := newTestCartService(t, repo, products)

	cart, err := svc.MergeGuestCart(context.Background(), MergeGuestCartCommand{
		UserID:  "user_1",
		MergeID: "merge_1",
		GuestItems: []domain.CartItem{
			{ProductID: "prod_1", UnitPrice: 1, Quantity: 2},
			{ProductID: "prod_2", Quantity: 1},
		},
	})
	if err != nil {
		t.Fatalf("merge guest cart: %v", err)
	}
	if len(cart.Items) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(cart.Items))
	}
	if cart.Items[0].Quantity != 3 || cart.Items[0].UnitPrice != 24900 {
		t.Fatalf("expected summed quantity with server price, got %+v", cart.Items[0])
	}
}

func TestCartServiceMergeGuestCartIdempotentByMergeID(t *testing.T) {
	repo := newStubCartRepo()
	products := &stubProductRepo{products: map[string]domain.Product{
		"prod_1": {ID: "prod_1", UnitPrice: 100},
	}}
	svc := newTestCartService(t, repo, products)

	ctx := context.Background()
	cmd := MergeGuestCartCommand{
		UserID:     "user_1",
		MergeID:    "merge_1",
		GuestItems: []domain.CartItem{{ProductID: "prod_1", Quantity: 2}},
	}

	first, err := svc.MergeGuestCart(ctx, cmd)
	if err != nil {
		t.Fatalf("first merge: %v", err)
	}
	second, err := svc.MergeGuestCart(ctx, cmd)
	if err != nil {
		t.Fatalf("second merge: %v", err)
	}
	if first.Items[0].Quantity != 2 || second.Items[0].Quantity != 2 {
		t.Fatalf("repeated merge must not double quantities: first=%+v second=%+v", first.Items, second.Items)
	}
}

func TestCartServiceClearCartMissingIsNoop(t *testing.T) {
	repo := newStubCartRepo()
	svc := newTestCartService(t, repo, &stubProductRepo{})

	if err := svc.ClearCart(context.Background(), "user_1"); err != nil {
		t.Fatalf("clear cart: %v", err)
	}
	if repo.deleteCalls != 1 {
		t.Fatalf("expected delete call, got %d", repo.deleteCalls)
	}
}
