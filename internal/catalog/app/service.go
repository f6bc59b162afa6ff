package app

import (
	"context"
	"errors"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/Scetch/ShopifySummer2019/internal/catalog/domain"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrNotFound     = errors.New("product not found")
)

type Service struct {
	repo ProductRepo
}

func NewService(repo ProductRepo) *Service {
	return &Service{
		repo: repo,
	}
}

// CreateProduct seeds a new catalog entry. Products are otherwise
// administered outside this service.
func (s *Service) CreateProduct(ctx context.Context, title string, price decimal.Decimal, inventory int32) (domain.Product, error) {
	title = strings.TrimSpace(title)

	if title == "" || price.IsNegative() || inventory < 0 {
		return domain.Product{}, ErrInvalidInput
	}

	return s.repo.Create(ctx, domain.Product{
		Title:          title,
		Price:          price,
		InventoryCount: inventory,
	})
}

func (s *Service) GetProduct(ctx context.Context, id int64) (domain.Product, error) {
	if id <= 0 {
		return domain.Product{}, ErrInvalidInput
	}
	return s.repo.Get(ctx, id)
}

// AvailableProducts lists every product that still has inventory, ordered by
// id so pagination stays deterministic.
func (s *Service) AvailableProducts(ctx context.Context) ([]domain.Product, error) {
	return s.repo.ListAvailable(ctx)
}

func (s *Service) ListProducts(ctx context.Context, limit int, cursor int64) ([]domain.Product, int64, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if cursor < 0 {
		return nil, 0, ErrInvalidInput
	}
	return s.repo.List(ctx, limit, cursor)
}
