package domain

import "github.com/shopspring/decimal"

// CartItem is a quantity of one product reserved within one cart. Title and
// UnitPrice carry the referenced product's current values, loaded alongside
// the item.
type CartItem struct {
	ID        int64
	CartID    int64
	ProductID int64
	Title     string
	UnitPrice decimal.Decimal
	Quantity  int32
}

// Cart is a mutable collection of line items until completed, after which it
// is immutable.
type Cart struct {
	ID        int64
	Completed bool
	Items     []CartItem
}

// Total is the sum of quantity times current unit price over the live items.
// It is recomputed on every call, never stored.
func (c Cart) Total() decimal.Decimal {
	total := decimal.Zero
	for _, it := range c.Items {
		total = total.Add(it.UnitPrice.Mul(decimal.NewFromInt32(it.Quantity)))
	}
	return total
}
