package app

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/Scetch/ShopifySummer2019/internal/cart/domain"
)

// Product is the cart service's read view of a catalog entry.
type Product struct {
	ID             int64
	Title          string
	UnitPrice      decimal.Decimal
	InventoryCount int32
}

// Tx is the set of store operations available inside one unit of work. Every
// mutation runs against exactly one Tx; the store commits or rolls back as a
// whole.
type Tx interface {
	InsertCart(ctx context.Context) (int64, error)
	CartByID(ctx context.Context, id int64) (domain.Cart, error)
	// CartForUpdate reads the cart header with the row locked until the
	// transaction ends. Every mutation takes this lock first, so work on one
	// cart is serialized and a stale completed flag can never be acted on.
	CartForUpdate(ctx context.Context, id int64) (domain.Cart, error)
	CartWithItems(ctx context.Context, id int64) (domain.Cart, error)
	Carts(ctx context.Context) ([]domain.Cart, error)

	// UpsertItemAdd creates the (cart, product) line item or increments its
	// quantity. The store's uniqueness constraint keeps one row per pair.
	UpsertItemAdd(ctx context.Context, cartID, productID int64, quantity int32) error
	ItemForProduct(ctx context.Context, cartID, productID int64) (domain.CartItem, error)
	UpdateItemQuantity(ctx context.Context, itemID int64, quantity int32) error
	DeleteItem(ctx context.Context, itemID int64) error

	ProductByID(ctx context.Context, id int64) (Product, error)
	// ProductsForUpdate locks the given product rows in ascending id order and
	// returns them, holding the locks until the transaction ends.
	ProductsForUpdate(ctx context.Context, ids []int64) ([]Product, error)
	DecrementInventory(ctx context.Context, productID int64, quantity int32) error
	// MarkCompleted flips the completed flag and fails with ErrCartCompleted
	// if it was already set.
	MarkCompleted(ctx context.Context, cartID int64) error
}

type Store interface {
	RunInTx(ctx context.Context, fn func(tx Tx) error) error
}
