package app

import "errors"

var (
	ErrInvalidQuantity       = errors.New("quantity must be greater than zero")
	ErrCartNotFound          = errors.New("cart not found")
	ErrProductNotFound       = errors.New("product not found")
	ErrCartCompleted         = errors.New("cart is already completed")
	ErrItemNotInCart         = errors.New("product is not in the cart")
	ErrInsufficientInventory = errors.New("insufficient inventory")
)
