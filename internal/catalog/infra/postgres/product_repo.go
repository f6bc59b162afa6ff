package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/Scetch/ShopifySummer2019/internal/catalog/app"
	"github.com/Scetch/ShopifySummer2019/internal/catalog/domain"
)

type ProductRepo struct {
	db *sql.DB
}

func NewProductRepo(db *sql.DB) *ProductRepo {
	return &ProductRepo{db: db}
}

func (r *ProductRepo) Create(ctx context.Context, p domain.Product) (domain.Product, error) {
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO product (title, price, inventory_count) VALUES ($1, $2, $3) RETURNING id`,
		p.Title, p.Price, p.InventoryCount,
	).Scan(&p.ID)
	if err != nil {
		return domain.Product{}, err
	}
	return p, nil
}

func (r *ProductRepo) Get(ctx context.Context, id int64) (domain.Product, error) {
	var p domain.Product
	err := r.db.QueryRowContext(ctx,
		`SELECT id, title, price, inventory_count FROM product WHERE id = $1`,
		id,
	).Scan(&p.ID, &p.Title, &p.Price, &p.InventoryCount)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Product{}, app.ErrNotFound
	}
	if err != nil {
		return domain.Product{}, err
	}
	return p, nil
}

func (r *ProductRepo) ListAvailable(ctx context.Context) ([]domain.Product, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, title, price, inventory_count FROM product WHERE inventory_count > 0 ORDER BY id`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanProducts(rows)
}

func (r *ProductRepo) List(ctx context.Context, limit int, cursor int64) ([]domain.Product, int64, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, title, price, inventory_count FROM product WHERE id > $1 ORDER BY id LIMIT $2`,
		cursor, limit,
	)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	out, err := scanProducts(rows)
	if err != nil {
		return nil, 0, err
	}

	var next int64
	if len(out) == limit {
		next = out[len(out)-1].ID
	}
	return out, next, nil
}

func scanProducts(rows *sql.Rows) ([]domain.Product, error) {
	out := []domain.Product{}
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.Title, &p.Price, &p.InventoryCount); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
