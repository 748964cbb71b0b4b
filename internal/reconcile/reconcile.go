// Package reconcile compares the commerce platform's copy of an order with the
// fulfillment platform's copy and reports added, removed and re-quantified lines.
//
// Lines are matched by SKU, falling back to the display name when the SKU is
// empty. Two unrelated lines that share a generic name and have no SKU are
// merged by that fallback.
package reconcile

import (
	"strings"

	"github.com/angelmondragon/opsconsole/internal/classifier"
	"github.com/shopspring/decimal"
)

// ChangeKind tags an ItemDiffEntry.
type ChangeKind string

const (
	KindAdded           ChangeKind = "added"
	KindRemoved         ChangeKind = "removed"
	KindQuantityChanged ChangeKind = "quantity_changed"

	DirectionIncreased = "increased"
	DirectionDecreased = "decreased"
)

// CommerceLineItem is a line as reported by the commerce platform.
type CommerceLineItem struct {
	ProductRef string
	GiftCard   bool
	SKU        string
	Name       string
	Quantity   int
	Price      *decimal.Decimal
}

// FulfillmentLineItem is a line as reported by the fulfillment platform.
type FulfillmentLineItem struct {
	SKU       string
	Name      string
	Quantity  int
	UnitPrice *decimal.Decimal
}

// ItemDiffEntry is one difference between the two sides.
// Quantity is set for added and removed lines; the remaining quantity
// fields are set for quantity changes.
type ItemDiffEntry struct {
	Kind                ChangeKind `json:"type"`
	SKU                 string     `json:"sku"`
	Name                string     `json:"name"`
	Quantity            int        `json:"quantity,omitempty"`
	CommerceQuantity    int        `json:"commerceQuantity,omitempty"`
	FulfillmentQuantity int        `json:"fulfillmentQuantity,omitempty"`
	Difference          int        `json:"difference,omitempty"`
	Direction           string     `json:"direction,omitempty"`
}

// Summary counts filtered lines on one side.
type Summary struct {
	Lines int `json:"lines"`
	Units int `json:"units"`
}

// ComparisonResult is the outcome of Compare.
type ComparisonResult struct {
	Changes     []ItemDiffEntry `json:"changes"`
	HasChanges  bool            `json:"hasChanges"`
	Commerce    Summary         `json:"commerce"`
	Fulfillment Summary         `json:"fulfillment"`
}

type aggregate struct {
	sku      string
	name     string
	quantity int
}

// keyedLines keeps aggregated lines in first-seen key order so results are
// stable for identical inputs.
type keyedLines struct {
	order []string
	byKey map[string]*aggregate
}

func newKeyedLines() *keyedLines {
	return &keyedLines{byKey: map[string]*aggregate{}}
}

func (k *keyedLines) add(sku, name string, qty int) {
	key := lineKey(sku, name)
	if agg, ok := k.byKey[key]; ok {
		agg.quantity += qty
		return
	}
	k.order = append(k.order, key)
	k.byKey[key] = &aggregate{sku: sku, name: name, quantity: qty}
}

func (k *keyedLines) summary() Summary {
	s := Summary{Lines: len(k.order)}
	for _, key := range k.order {
		s.Units += k.byKey[key].quantity
	}
	return s
}

// Compare diffs commerce against fulfillment after dropping non-product lines.
func Compare(commerce []CommerceLineItem, fulfillment []FulfillmentLineItem) ComparisonResult {
	left := newKeyedLines()
	for _, item := range commerce {
		if !isCommerceProduct(item) {
			continue
		}
		left.add(item.SKU, item.Name, item.Quantity)
	}

	right := newKeyedLines()
	for _, item := range fulfillment {
		if !isFulfillmentProduct(item) {
			continue
		}
		right.add(item.SKU, item.Name, item.Quantity)
	}

	changes := []ItemDiffEntry{}
	for _, key := range left.order {
		c := left.byKey[key]
		f, ok := right.byKey[key]
		if !ok {
			changes = append(changes, ItemDiffEntry{Kind: KindRemoved, SKU: c.sku, Name: c.name, Quantity: c.quantity})
			continue
		}
		if c.quantity == f.quantity {
			continue
		}
		entry := ItemDiffEntry{
			Kind:                KindQuantityChanged,
			SKU:                 c.sku,
			Name:                c.name,
			CommerceQuantity:    c.quantity,
			FulfillmentQuantity: f.quantity,
			Difference:          abs(f.quantity - c.quantity),
			Direction:           DirectionIncreased,
		}
		if f.quantity < c.quantity {
			entry.Direction = DirectionDecreased
		}
		changes = append(changes, entry)
	}

	for _, key := range right.order {
		if _, ok := left.byKey[key]; ok {
			continue
		}
		f := right.byKey[key]
		changes = append(changes, ItemDiffEntry{Kind: KindAdded, SKU: f.sku, Name: f.name, Quantity: f.quantity})
	}

	return ComparisonResult{
		Changes:     changes,
		HasChanges:  len(changes) > 0,
		Commerce:    left.summary(),
		Fulfillment: right.summary(),
	}
}

func isCommerceProduct(item CommerceLineItem) bool {
	if strings.TrimSpace(item.ProductRef) == "" || item.GiftCard {
		return false
	}
	return !classifier.IsNoiseItem(item.SKU, item.Name, item.Price)
}

func isFulfillmentProduct(item FulfillmentLineItem) bool {
	if strings.TrimSpace(item.Name) == "" {
		return false
	}
	return !classifier.IsNoiseItem(item.SKU, item.Name, item.UnitPrice)
}

func lineKey(sku, name string) string {
	if sku != "" {
		return sku
	}
	return name
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
