package services

import (
	"strings"

	domain "github.com/swiftcart/api/internal/domain"
)

// MergeCarts folds guest items into server items. Quantities for the same
// product sum; the server's price snapshot wins when both sides carry one.
// Ordering is stable: server lines first, then new guest lines in input
// order. Lines with non-positive quantities are dropped.
func MergeCarts(server, guest []domain.CartItem) []domain.CartItem {
	merged := make([]domain.CartItem, 0, len(server)+len(guest))
	index := make(map[string]int, len(server)+len(guest))

	appendLine := func(item domain.CartItem, trustSnapshot bool) {
		id := strings.TrimSpace(item.ProductID)
		if id == "" || item.Quantity <= 0 {
			return
		}
		if pos, ok := index[id]; ok {
			merged[pos].Quantity += item.Quantity
			if merged[pos].Name == "" && trustSnapshot {
				merged[pos].Name = item.Name
				merged[pos].UnitPrice = item.UnitPrice
				merged[pos].Image = item.Image
			}
			return
		}
		item.ProductID = id
		index[id] = len(merged)
		merged = append(merged, item)
	}

	for _, item := range server {
		appendLine(item, true)
	}
	for _, item := range guest {
		appendLine(item, false)
	}
	return merged
}
