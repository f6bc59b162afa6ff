package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"

	"github.com/Scetch/ShopifySummer2019/internal/cart/app"
	"github.com/Scetch/ShopifySummer2019/internal/cart/domain"
)

// Store implements app.Store over Postgres. Each RunInTx call owns one
// database transaction; the callback either commits as a whole or leaves no
// trace.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) RunInTx(ctx context.Context, fn func(tx app.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	if err := fn(&queries{tx: tx}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("tx err: %w; rollback err: %v", err, rbErr)
		}
		return err
	}

	return tx.Commit()
}

type queries struct {
	tx *sql.Tx
}

func (q *queries) InsertCart(ctx context.Context) (int64, error) {
	var id int64
	err := q.tx.QueryRowContext(ctx,
		`INSERT INTO cart (completed) VALUES (FALSE) RETURNING id`,
	).Scan(&id)
	return id, err
}

func (q *queries) CartByID(ctx context.Context, id int64) (domain.Cart, error) {
	var c domain.Cart
	err := q.tx.QueryRowContext(ctx,
		`SELECT id, completed FROM cart WHERE id = $1`,
		id,
	).Scan(&c.ID, &c.Completed)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Cart{}, app.ErrCartNotFound
	}
	if err != nil {
		return domain.Cart{}, err
	}
	return c, nil
}

// CartForUpdate takes the cart row lock. Mutations go through here so that
// concurrent work on one cart serializes on the header row and never acts on
// a completed flag read before another transaction committed.
func (q *queries) CartForUpdate(ctx context.Context, id int64) (domain.Cart, error) {
	var c domain.Cart
	err := q.tx.QueryRowContext(ctx,
		`SELECT id, completed FROM cart WHERE id = $1 FOR UPDATE`,
		id,
	).Scan(&c.ID, &c.Completed)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Cart{}, app.ErrCartNotFound
	}
	if err != nil {
		return domain.Cart{}, err
	}
	return c, nil
}

func (q *queries) Carts(ctx context.Context) ([]domain.Cart, error) {
	rows, err := q.tx.QueryContext(ctx,
		`SELECT id, completed FROM cart ORDER BY id`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []domain.Cart{}
	for rows.Next() {
		var c domain.Cart
		if err := rows.Scan(&c.ID, &c.Completed); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (q *queries) CartWithItems(ctx context.Context, id int64) (domain.Cart, error) {
	cart, err := q.CartByID(ctx, id)
	if err != nil {
		return domain.Cart{}, err
	}

	rows, err := q.tx.QueryContext(ctx,
		`SELECT ci.id, ci.cart_id, ci.product_id, p.title, p.price, ci.quantity
		 FROM cart_item ci
		 JOIN product p ON p.id = ci.product_id
		 WHERE ci.cart_id = $1
		 ORDER BY ci.product_id`,
		id,
	)
	if err != nil {
		return domain.Cart{}, err
	}
	defer rows.Close()

	cart.Items = []domain.CartItem{}
	for rows.Next() {
		var it domain.CartItem
		if err := rows.Scan(&it.ID, &it.CartID, &it.ProductID, &it.Title, &it.UnitPrice, &it.Quantity); err != nil {
			return domain.Cart{}, err
		}
		cart.Items = append(cart.Items, it)
	}
	return cart, rows.Err()
}

func (q *queries) UpsertItemAdd(ctx context.Context, cartID, productID int64, quantity int32) error {
	_, err := q.tx.ExecContext(ctx,
		`INSERT INTO cart_item (cart_id, product_id, quantity)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (cart_id, product_id)
		 DO UPDATE SET quantity = cart_item.quantity + EXCLUDED.quantity`,
		cartID, productID, quantity,
	)
	return err
}

func (q *queries) ItemForProduct(ctx context.Context, cartID, productID int64) (domain.CartItem, error) {
	var it domain.CartItem
	err := q.tx.QueryRowContext(ctx,
		`SELECT id, cart_id, product_id, quantity FROM cart_item WHERE cart_id = $1 AND product_id = $2`,
		cartID, productID,
	).Scan(&it.ID, &it.CartID, &it.ProductID, &it.Quantity)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.CartItem{}, app.ErrItemNotInCart
	}
	if err != nil {
		return domain.CartItem{}, err
	}
	return it, nil
}

func (q *queries) UpdateItemQuantity(ctx context.Context, itemID int64, quantity int32) error {
	_, err := q.tx.ExecContext(ctx,
		`UPDATE cart_item SET quantity = $2 WHERE id = $1`,
		itemID, quantity,
	)
	return err
}

func (q *queries) DeleteItem(ctx context.Context, itemID int64) error {
	_, err := q.tx.ExecContext(ctx,
		`DELETE FROM cart_item WHERE id = $1`,
		itemID,
	)
	return err
}

func (q *queries) ProductByID(ctx context.Context, id int64) (app.Product, error) {
	var p app.Product
	err := q.tx.QueryRowContext(ctx,
		`SELECT id, title, price, inventory_count FROM product WHERE id = $1`,
		id,
	).Scan(&p.ID, &p.Title, &p.UnitPrice, &p.InventoryCount)
	if errors.Is(err, sql.ErrNoRows) {
		return app.Product{}, app.ErrProductNotFound
	}
	if err != nil {
		return app.Product{}, err
	}
	return p, nil
}

// ProductsForUpdate locks the given product rows one by one in ascending id
// order. The fixed ordering keeps concurrent completions over overlapping
// products from deadlocking.
func (q *queries) ProductsForUpdate(ctx context.Context, ids []int64) ([]app.Product, error) {
	sorted := make([]int64, len(ids))
	copy(sorted, ids)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	out := make([]app.Product, 0, len(sorted))
	for _, id := range sorted {
		var p app.Product
		err := q.tx.QueryRowContext(ctx,
			`SELECT id, title, price, inventory_count FROM product WHERE id = $1 FOR UPDATE`,
			id,
		).Scan(&p.ID, &p.Title, &p.UnitPrice, &p.InventoryCount)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, app.ErrProductNotFound
		}
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func (q *queries) DecrementInventory(ctx context.Context, productID int64, quantity int32) error {
	_, err := q.tx.ExecContext(ctx,
		`UPDATE product SET inventory_count = inventory_count - $2 WHERE id = $1`,
		productID, quantity,
	)
	return err
}

// MarkCompleted is guarded against a cart that already completed: the WHERE
// clause makes the flip a no-op in that case and the zero row count surfaces
// as ErrCartCompleted.
func (q *queries) MarkCompleted(ctx context.Context, cartID int64) error {
	res, err := q.tx.ExecContext(ctx,
		`UPDATE cart SET completed = TRUE WHERE id = $1 AND NOT completed`,
		cartID,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return app.ErrCartCompleted
	}
	return nil
}
