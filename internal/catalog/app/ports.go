package app

import (
	"context"

	"github.com/Scetch/ShopifySummer2019/internal/catalog/domain"
)

type ProductRepo interface {
	Create(ctx context.Context, p domain.Product) (domain.Product, error)
	Get(ctx context.Context, id int64) (domain.Product, error)
	ListAvailable(ctx context.Context) ([]domain.Product, error)
	List(ctx context.Context, limit int, cursor int64) ([]domain.Product, int64, error)
}
