package services

import (
	"errors"
	"testing"
)

func TestBuildOrderItemsUsesCatalogPrices(t *testing.T) {
	catalog := map[string]Product{
		"prod_1": {ID: "prod_1", Name: "Steel Bottle", UnitPrice: 24900},
		"prod_2": {ID: "prod_2", Name: "Lunch Box", UnitPrice: 19900},
	}
	items := []CartItem{
		{ProductID: "prod_1", UnitPrice: 1, Quantity: 2},
		{ProductID: "prod_2", UnitPrice: 999999, Quantity: 1},
	}

	lines, err := BuildOrderItems(items, catalog)
	if err != nil {
		t.Fatalf("build order items: %v", err)
	}
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
	if lines[0].UnitPrice != 24900 || lines[0].LineTotal != 49800 {
		t.Fatalf("client price leaked into line: %+v", lines[0])
	}
	if lines[1].UnitPrice != 19900 {
		t.Fatalf("client price leaked into line: %+v", lines[1])
	}
}

func TestBuildOrderItemsRejectsUnknownProduct(t *testing.T) {
	_, err := BuildOrderItems([]CartItem{{ProductID: "missing", Quantity: 1}}, map[string]Product{})
	if !errors.Is(err, ErrPricingInvalidInput) {
		t.Fatalf("expected ErrPricingInvalidInput, got %v", err)
	}
}

func TestBuildOrderItemsRejectsNonPositiveQuantity(t *testing.T) {
	catalog := map[string]Product{"prod_1": {ID: "prod_1", UnitPrice: 100}}
	_, err := BuildOrderItems([]CartItem{{ProductID: "prod_1", Quantity: 0}}, catalog)
	if !errors.Is(err, ErrPricingInvalidInput) {
		t.Fatalf("expected ErrPricingInvalidInput, got %v", err)
	}
}

func TestComputeTotalsAppliesDiscountAndShipping(t *testing.T) {
	items := []OrderItem{
		{ProductID: "prod_1", UnitPrice: 24900, Quantity: 2, LineTotal: 49800},
		{ProductID: "prod_2", UnitPrice: 19900, Quantity: 1, LineTotal: 19900},
	}

	totals, err := ComputeTotals(items, FractionDiscount{BasisPoints: 1000}, FlatRateShipping{Charge: 4900, FreeThreshold: 100000})
	if err != nil {
		t.Fatalf("compute totals: %v", err)
	}

	if totals.TotalAmount != 69700 {
		t.Fatalf("expected subtotal 69700, got %d", totals.TotalAmount)
	}
	if totals.Discount != 6970 {
		t.Fatalf("expected discount 6970, got %d", totals.Discount)
	}
	if totals.ShippingCharge != 4900 {
		t.Fatalf("expected shipping 4900, got %d", totals.ShippingCharge)
	}
	want := totals.TotalAmount - totals.Discount + totals.ShippingCharge
	if totals.FinalAmount != want {
		t.Fatalf("final amount %d does not match derivation %d", totals.FinalAmount, want)
	}
}

func TestComputeTotalsFreeShippingAboveThreshold(t *testing.T) {
	items := []OrderItem{{ProductID: "prod_1", UnitPrice: 120000, Quantity: 1, LineTotal: 120000}}

	totals, err := ComputeTotals(items, nil, FlatRateShipping{Charge: 4900, FreeThreshold: 100000})
	if err != nil {
		t.Fatalf("compute totals: %v", err)
	}
	if totals.ShippingCharge != 0 {
		t.Fatalf("expected free shipping, got %d", totals.ShippingCharge)
	}
	if totals.FinalAmount != 120000 {
		t.Fatalf("unexpected final amount %d", totals.FinalAmount)
	}
}

func TestComputeTotalsClampsDiscountToSubtotal(t *testing.T) {
	items := []OrderItem{{ProductID: "prod_1", UnitPrice: 100, Quantity: 1, LineTotal: 100}}

	totals, err := ComputeTotals(items, FractionDiscount{BasisPoints: 25000}, nil)
	if err != nil {
		t.Fatalf("compute totals: %v", err)
	}
	if totals.Discount != 100 {
		t.Fatalf("expected discount clamped to 100, got %d", totals.Discount)
	}
	if totals.FinalAmount != 0 {
		t.Fatalf("expected final amount 0, got %d", totals.FinalAmount)
	}
}

func TestComputeTotalsRejectsEmptyItems(t *testing.T) {
	if _, err := ComputeTotals(nil, nil, nil); !errors.Is(err, ErrPricingInvalidInput) {
		t.Fatalf("expected ErrPricingInvalidInput, got %v", err)
	}
}
