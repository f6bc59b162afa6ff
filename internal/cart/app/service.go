package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Scetch/ShopifySummer2019/internal/cart/domain"
)

type Service struct {
	store Store
	pub   EventPublisher
	log   *slog.Logger
}

// NewService wires the cart service. pub may be nil when event publishing is
// disabled.
func NewService(store Store, pub EventPublisher, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		store: store,
		pub:   pub,
		log:   log,
	}
}

type AddProductRequest struct {
	CartID    int64
	ProductID int64
	Quantity  int32
}

type RemoveProductRequest struct {
	CartID    int64
	ProductID int64
	Quantity  int32
}

// Create inserts a new open cart with no items.
func (s *Service) Create(ctx context.Context) (domain.Cart, error) {
	var cart domain.Cart
	err := s.store.RunInTx(ctx, func(tx Tx) error {
		id, err := tx.InsertCart(ctx)
		if err != nil {
			return err
		}
		cart = domain.Cart{ID: id, Items: []domain.CartItem{}}
		return nil
	})
	if err != nil {
		return domain.Cart{}, err
	}

	s.log.Info("cart created", "cart_id", cart.ID)
	return cart, nil
}

func (s *Service) Get(ctx context.Context, cartID int64) (domain.Cart, error) {
	var cart domain.Cart
	err := s.store.RunInTx(ctx, func(tx Tx) error {
		var err error
		cart, err = tx.CartWithItems(ctx, cartID)
		return err
	})
	if err != nil {
		return domain.Cart{}, err
	}
	return cart, nil
}

// List returns every cart, open and completed, with its items.
func (s *Service) List(ctx context.Context) ([]domain.Cart, error) {
	carts := []domain.Cart{}
	err := s.store.RunInTx(ctx, func(tx Tx) error {
		headers, err := tx.Carts(ctx)
		if err != nil {
			return err
		}
		for _, h := range headers {
			c, err := tx.CartWithItems(ctx, h.ID)
			if err != nil {
				return err
			}
			carts = append(carts, c)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return carts, nil
}

// AddProduct adds quantity units of a product to an open cart. Repeated adds
// of the same product aggregate into one line item. Inventory is not checked
// here; reservation is soft until completion.
func (s *Service) AddProduct(ctx context.Context, req AddProductRequest) (domain.Cart, error) {
	if req.Quantity <= 0 {
		return domain.Cart{}, fmt.Errorf("%w: got %d", ErrInvalidQuantity, req.Quantity)
	}

	var cart domain.Cart
	err := s.store.RunInTx(ctx, func(tx Tx) error {
		if _, err := tx.ProductByID(ctx, req.ProductID); err != nil {
			return err
		}

		c, err := tx.CartForUpdate(ctx, req.CartID)
		if err != nil {
			return err
		}
		if c.Completed {
			return ErrCartCompleted
		}

		if err := tx.UpsertItemAdd(ctx, req.CartID, req.ProductID, req.Quantity); err != nil {
			return err
		}

		cart, err = tx.CartWithItems(ctx, req.CartID)
		return err
	})
	if err != nil {
		return domain.Cart{}, err
	}

	s.log.Debug("product added to cart", "cart_id", req.CartID, "product_id", req.ProductID, "quantity", req.Quantity)
	return cart, nil
}

// RemoveProduct takes quantity units of a product out of an open cart. A
// removal that would drive the line item to zero or below deletes it.
func (s *Service) RemoveProduct(ctx context.Context, req RemoveProductRequest) (domain.Cart, error) {
	if req.Quantity <= 0 {
		return domain.Cart{}, fmt.Errorf("%w: got %d", ErrInvalidQuantity, req.Quantity)
	}

	var cart domain.Cart
	err := s.store.RunInTx(ctx, func(tx Tx) error {
		if _, err := tx.ProductByID(ctx, req.ProductID); err != nil {
			return err
		}

		c, err := tx.CartForUpdate(ctx, req.CartID)
		if err != nil {
			return err
		}
		if c.Completed {
			return ErrCartCompleted
		}

		item, err := tx.ItemForProduct(ctx, req.CartID, req.ProductID)
		if err != nil {
			return err
		}

		if item.Quantity-req.Quantity <= 0 {
			if err := tx.DeleteItem(ctx, item.ID); err != nil {
				return err
			}
		} else {
			if err := tx.UpdateItemQuantity(ctx, item.ID, item.Quantity-req.Quantity); err != nil {
				return err
			}
		}

		cart, err = tx.CartWithItems(ctx, req.CartID)
		return err
	})
	if err != nil {
		return domain.Cart{}, err
	}

	s.log.Debug("product removed from cart", "cart_id", req.CartID, "product_id", req.ProductID, "quantity", req.Quantity)
	return cart, nil
}

// Complete transitions the cart to its terminal state and deducts every line
// item's quantity from product inventory. The cart row is locked first, so
// concurrent work on the same cart serializes and a second completion always
// observes the flag the first one set. The checks and the decrements then run
// against product rows locked in ascending id order inside one transaction,
// so concurrent completions contending for the same product serialize and
// can never jointly oversell. Either every decrement commits or none does.
func (s *Service) Complete(ctx context.Context, cartID int64) (domain.Cart, error) {
	var cart domain.Cart
	err := s.store.RunInTx(ctx, func(tx Tx) error {
		c, err := tx.CartForUpdate(ctx, cartID)
		if err != nil {
			return err
		}
		if c.Completed {
			return ErrCartCompleted
		}

		cart, err = tx.CartWithItems(ctx, cartID)
		if err != nil {
			return err
		}

		need := make(map[int64]int32, len(cart.Items))
		ids := make([]int64, 0, len(cart.Items))
		for _, it := range cart.Items {
			need[it.ProductID] = it.Quantity
			ids = append(ids, it.ProductID)
		}

		products, err := tx.ProductsForUpdate(ctx, ids)
		if err != nil {
			return err
		}

		for _, p := range products {
			if need[p.ID] > p.InventoryCount {
				return fmt.Errorf("%w for product %d", ErrInsufficientInventory, p.ID)
			}
		}
		for _, p := range products {
			if err := tx.DecrementInventory(ctx, p.ID, need[p.ID]); err != nil {
				return err
			}
		}

		if err := tx.MarkCompleted(ctx, cartID); err != nil {
			return err
		}
		cart.Completed = true
		return nil
	})
	if err != nil {
		return domain.Cart{}, err
	}

	s.log.Info("cart completed", "cart_id", cart.ID, "items", len(cart.Items), "total", cart.Total().String())
	s.publishCompleted(ctx, cart)
	return cart, nil
}

// publishCompleted is best effort: the deduction is already committed, so a
// publish failure is logged rather than surfaced.
func (s *Service) publishCompleted(ctx context.Context, cart domain.Cart) {
	if s.pub == nil {
		return
	}

	lines := make([]CartCompletedLine, 0, len(cart.Items))
	for _, it := range cart.Items {
		lines = append(lines, CartCompletedLine{
			ProductID: it.ProductID,
			Quantity:  it.Quantity,
			UnitPrice: it.UnitPrice,
		})
	}

	ev := CartCompleted{
		EventID:     uuid.NewString(),
		CartID:      cart.ID,
		Total:       cart.Total(),
		Lines:       lines,
		CompletedAt: time.Now().UTC(),
	}
	if err := s.pub.PublishCartCompleted(ctx, ev); err != nil {
		s.log.Warn("cart completed event not published", "cart_id", cart.ID, "event_id", ev.EventID, "err", err)
	}
}
