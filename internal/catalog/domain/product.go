package domain

import "github.com/shopspring/decimal"

// Product is a catalog entry. Inventory is mutated only by cart completion.
type Product struct {
	ID             int64
	Title          string
	Price          decimal.Decimal
	InventoryCount int32
}

func (p Product) Available() bool {
	return p.InventoryCount > 0
}
