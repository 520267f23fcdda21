package services

import (
	"errors"

	domain "github.com/swiftcart/api/internal/domain"
)

// ErrPricingInvalidInput signals bad pricing data such as missing items or
// negative prices.
var ErrPricingInvalidInput = errors.New("pricing: invalid input")

// DiscountPolicy computes the discount, in minor units, for an order subtotal.
type DiscountPolicy interface {
	Discount(subtotal int64) int64
}

// ShippingPolicy computes the shipping charge, in minor units, for an order
// subtotal after discount.
type ShippingPolicy interface {
	ShippingCharge(netSubtotal int64) int64
}

// FractionDiscount applies a fixed basis-point fraction of the subtotal.
type FractionDiscount struct {
	// BasisPoints of discount; 500 means 5%.
	BasisPoints int64
}

func (d FractionDiscount) Discount(subtotal int64) int64 {
	if subtotal <= 0 || d.BasisPoints <= 0 {
		return 0
	}
	discount := subtotal * d.BasisPoints / 10000
	if discount > subtotal {
		return subtotal
	}
	return discount
}

// FlatRateShipping charges a flat fee below a free-shipping threshold.
type FlatRateShipping struct {
	Charge        int64
	FreeThreshold int64
}

func (s FlatRateShipping) ShippingCharge(netSubtotal int64) int64 {
	if netSubtotal <= 0 {
		return 0
	}
	if s.FreeThreshold > 0 && netSubtotal >= s.FreeThreshold {
		return 0
	}
	if s.Charge < 0 {
		return 0
	}
	return s.Charge
}

// BuildOrderItems converts cart items into priced order lines using the
// catalog's unit prices. Client-sent prices never survive this step.
func BuildOrderItems(items []CartItem, catalog map[string]Product) ([]OrderItem, error) {
	if len(items) == 0 {
		return nil, ErrPricingInvalidInput
	}
	lines := make([]OrderItem, 0, len(items))
	for _, item := range items {
		if item.Quantity <= 0 {
			return nil, ErrPricingInvalidInput
		}
		product, ok := catalog[item.ProductID]
		if !ok {
			return nil, ErrPricingInvalidInput
		}
		if product.UnitPrice < 0 {
			return nil, ErrPricingInvalidInput
		}
		lines = append(lines, OrderItem{
			ProductID: product.ID,
			Name:      product.Name,
			UnitPrice: product.UnitPrice,
			Image:     product.Image,
			Quantity:  item.Quantity,
			LineTotal: product.UnitPrice * int64(item.Quantity),
		})
	}
	return lines, nil
}

// ComputeTotals derives the order totals from priced lines. The final amount
// is always recomputed here, never accepted from the client.
func ComputeTotals(items []OrderItem, discount DiscountPolicy, shipping ShippingPolicy) (OrderTotals, error) {
	if len(items) == 0 {
		return OrderTotals{}, ErrPricingInvalidInput
	}
	var subtotal int64
	for _, item := range items {
		if item.Quantity <= 0 || item.UnitPrice < 0 {
			return OrderTotals{}, ErrPricingInvalidInput
		}
		subtotal += item.LineTotal
	}

	var discountAmount int64
	if discount != nil {
		discountAmount = discount.Discount(subtotal)
	}
	if discountAmount < 0 {
		discountAmount = 0
	}
	if discountAmount > subtotal {
		discountAmount = subtotal
	}

	var shippingCharge int64
	if shipping != nil {
		shippingCharge = shipping.ShippingCharge(subtotal - discountAmount)
	}
	if shippingCharge < 0 {
		shippingCharge = 0
	}

	return domain.OrderTotals{
		TotalAmount:    subtotal,
		Discount:       discountAmount,
		ShippingCharge: shippingCharge,
		FinalAmount:    subtotal - discountAmount + shippingCharge,
	}, nil
}
