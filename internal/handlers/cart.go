package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/swiftcart/api/internal/domain"
	"github.com/swiftcart/api/internal/platform/auth"
	"github.com/swiftcart/api/internal/platform/httpx"
	"github.com/swiftcart/api/internal/services"
)

const maxCartBodySize = 16 * 1024

// CartHandlers exposes authenticated cart endpoints for the current user.
type CartHandlers struct {
	authn       *auth.Authenticator
	carts       services.CartService
	eligibility services.EligibilityResolver
}

// NewCartHandlers constructs handlers enforcing Firebase authentication before invoking the cart service.
func NewCartHandlers(authn *auth.Authenticator, carts services.CartService, eligibility services.EligibilityResolver) *CartHandlers {
	return &CartHandlers{
		authn:       authn,
		carts:       carts,
		eligibility: eligibility,
	}
}

// Routes wires the /cart endpoints onto the provided router.
func (h *CartHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	r.Get("/", h.getCart)
	r.Put("/", h.replaceCart)
	r.Delete("/", h.clearCart)
	r.Post("/items", h.addItem)
	r.Put("/items/{productID}", h.updateItemQuantity)
	r.Delete("/items/{productID}", h.removeItem)
	r.Post("/merge", h.mergeGuestCart)
	r.Get("/payment-options", h.paymentOptions)
}

func (h *CartHandlers) getCart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	uid, ok := h.requireUser(ctx, w)
	if !ok {
		return
	}

	cart, err := h.carts.GetCart(ctx, uid)
	if err != nil {
		writeCartError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, cartResponse{Cart: buildCartPayload(cart)})
}

type addCartItemRequest struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

func (h *CartHandlers) addItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	uid, ok := h.requireUser(ctx, w)
	if !ok {
		return
	}

	var req addCartItemRequest
	if !decodeJSONBody(ctx, w, r, maxCartBodySize, &req) {
		return
	}

	cart, err := h.carts.AddItem(ctx, services.AddCartItemCommand{
		UserID:    uid,
		ProductID: strings.TrimSpace(req.ProductID),
		Quantity:  req.Quantity,
	})
	if err != nil {
		writeCartError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, cartResponse{Cart: buildCartPayload(cart)})
}

type updateCartItemRequest struct {
	Quantity int `json:"quantity"`
}

func (h *CartHandlers) updateItemQuantity(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	uid, ok := h.requireUser(ctx, w)
	if !ok {
		return
	}

	productID := strings.TrimSpace(chi.URLParam(r, "productID"))
	if productID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "product id is required", http.StatusBadRequest))
		return
	}

	var req updateCartItemRequest
	if !decodeJSONBody(ctx, w, r, maxCartBodySize, &req) {
		return
	}

	cart, err := h.carts.UpdateItemQuantity(ctx, services.UpdateCartItemCommand{
		UserID:    uid,
		ProductID: productID,
		Quantity:  req.Quantity,
	})
	if err != nil {
		writeCartError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, cartResponse{Cart: buildCartPayload(cart)})
}

func (h *CartHandlers) removeItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	uid, ok := h.requireUser(ctx, w)
	if !ok {
		return
	}

	productID := strings.TrimSpace(chi.URLParam(r, "productID"))
	if productID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "product id is required", http.StatusBadRequest))
		return
	}

	cart, err := h.carts.RemoveItem(ctx, services.RemoveCartItemCommand{UserID: uid, ProductID: productID})
	if err != nil {
		writeCartError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, cartResponse{Cart: buildCartPayload(cart)})
}

type replaceCartRequest struct {
	Items []cartItemInput `json:"items"`
}

type cartItemInput struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

func (h *CartHandlers) replaceCart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	uid, ok := h.requireUser(ctx, w)
	if !ok {
		return
	}

	var req replaceCartRequest
	if !decodeJSONBody(ctx, w, r, maxCartBodySize, &req) {
		return
	}

	cart, err := h.carts.ReplaceCart(ctx, services.ReplaceCartCommand{
		UserID: uid,
		Items:  cartItemsFromInput(req.Items),
	})
	if err != nil {
		writeCartError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, cartResponse{Cart: buildCartPayload(cart)})
}

type mergeCartRequest struct {
	MergeID string          `json:"mergeId"`
	Items   []cartItemInput `json:"items"`
}

func (h *CartHandlers) mergeGuestCart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	uid, ok := h.requireUser(ctx, w)
	if !ok {
		return
	}

	var req mergeCartRequest
	if !decodeJSONBody(ctx, w, r, maxCartBodySize, &req) {
		return
	}
	if strings.TrimSpace(req.MergeID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "mergeId is required", http.StatusBadRequest))
		return
	}

	cart, err := h.carts.MergeGuestCart(ctx, services.MergeGuestCartCommand{
		UserID:     uid,
		MergeID:    strings.TrimSpace(req.MergeID),
		GuestItems: cartItemsFromInput(req.Items),
	})
	if err != nil {
		writeCartError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, cartResponse{Cart: buildCartPayload(cart)})
}

func (h *CartHandlers) clearCart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	uid, ok := h.requireUser(ctx, w)
	if !ok {
		return
	}

	if err := h.carts.ClearCart(ctx, uid); err != nil {
		writeCartError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *CartHandlers) paymentOptions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	uid, ok := h.requireUser(ctx, w)
	if !ok {
		return
	}
	if h.eligibility == nil {
		httpx.WriteError(ctx, w, httpx.NewError("cart_service_unavailable", "payment options are unavailable", http.StatusServiceUnavailable))
		return
	}

	cart, err := h.carts.GetCart(ctx, uid)
	if err != nil {
		writeCartError(ctx, w, err)
		return
	}

	eligibility, err := h.eligibility.ResolveCart(ctx, cart)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrEligibilityProductNotFound):
			httpx.WriteError(ctx, w, httpx.NewError("product_not_found", "a cart item references an unknown product", http.StatusConflict))
		case errors.Is(err, services.ErrEligibilityInvalidInput):
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		default:
			httpx.WriteError(ctx, w, httpx.NewError("cart_service_unavailable", "payment options are unavailable", http.StatusServiceUnavailable))
		}
		return
	}

	writeJSONResponse(w, http.StatusOK, paymentOptionsResponse{
		Online:         eligibility.Online,
		CashOnDelivery: eligibility.COD,
	})
}

func (h *CartHandlers) requireUser(ctx context.Context, w http.ResponseWriter) (string, bool) {
	if h.carts == nil {
		httpx.WriteError(ctx, w, httpx.NewError("cart_service_unavailable", "cart service is unavailable", http.StatusServiceUnavailable))
		return "", false
	}
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return "", false
	}
	return strings.TrimSpace(identity.UID), true
}

func decodeJSONBody(ctx context.Context, w http.ResponseWriter, r *http.Request, limit int64, target any) bool {
	body, err := readLimitedBody(r, limit)
	if err != nil {
		switch {
		case errors.Is(err, errBodyTooLarge):
			httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
		default:
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		}
		return false
	}
	if err := json.Unmarshal(body, target); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return false
	}
	return true
}

func writeCartError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrCartInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrCartProductNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("product_not_found", "product not found", http.StatusNotFound))
	case errors.Is(err, services.ErrCartNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("cart_not_found", "cart not found", http.StatusNotFound))
	case errors.Is(err, services.ErrCartConflict):
		httpx.WriteError(ctx, w, httpx.NewError("cart_conflict", "cart has been modified; refresh and retry", http.StatusConflict))
	case errors.Is(err, services.ErrCartUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("cart_service_unavailable", "cart service is unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("cart_error", "failed to process cart request", http.StatusInternalServerError))
	}
}

func cartItemsFromInput(items []cartItemInput) []domain.CartItem {
	out := make([]domain.CartItem, 0, len(items))
	for _, item := range items {
		out = append(out, domain.CartItem{
			ProductID: strings.TrimSpace(item.ProductID),
			Quantity:  item.Quantity,
		})
	}
	return out
}

type cartResponse struct {
	Cart cartPayload `json:"cart"`
}

type cartPayload struct {
	ID            string            `json:"id"`
	UserID        string            `json:"userId"`
	Items         []cartItemPayload `json:"items"`
	ItemsCount    int               `json:"itemsCount"`
	TotalQuantity int               `json:"totalQuantity"`
	TotalAmount   int64             `json:"totalAmount"`
	UpdatedAt     string            `json:"updatedAt,omitempty"`
}

type cartItemPayload struct {
	ProductID string `json:"productId"`
	Name      string `json:"name,omitempty"`
	UnitPrice int64  `json:"unitPrice"`
	Image     string `json:"image,omitempty"`
	Quantity  int    `json:"quantity"`
	LineTotal int64  `json:"lineTotal"`
}

type paymentOptionsResponse struct {
	Online         bool `json:"online"`
	CashOnDelivery bool `json:"cod"`
}

func buildCartPayload(cart services.Cart) cartPayload {
	items := make([]cartItemPayload, 0, len(cart.Items))
	for _, item := range cart.Items {
		items = append(items, cartItemPayload{
			ProductID: item.ProductID,
			Name:      item.Name,
			UnitPrice: item.UnitPrice,
			Image:     item.Image,
			Quantity:  item.Quantity,
			LineTotal: item.UnitPrice * int64(item.Quantity),
		})
	}
	return cartPayload{
		ID:            strings.TrimSpace(cart.ID),
		UserID:        strings.TrimSpace(cart.UserID),
		Items:         items,
		ItemsCount:    len(items),
		TotalQuantity: cart.TotalQuantity(),
		TotalAmount:   cart.TotalAmount(),
		UpdatedAt:     formatTime(cart.UpdatedAt),
	}
}
