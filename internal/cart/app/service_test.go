package app_test

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/Scetch/ShopifySummer2019/internal/cart/app"
	"github.com/Scetch/ShopifySummer2019/internal/cart/domain"
)

// memStore is an in-memory app.Store with transactional semantics: every
// unit of work runs serialized against a deep copy of the state and is
// swapped in only on success, so a failed callback leaves no trace.
type memStore struct {
	mu    sync.Mutex
	state memState
}

type memState struct {
	nextCartID int64
	nextItemID int64
	carts      map[int64]*memCart
	products   map[int64]app.Product
}

type memCart struct {
	completed bool
	items     map[int64]memItem // keyed by product id
}

type memItem struct {
	id       int64
	quantity int32
}

func newMemStore(products ...app.Product) *memStore {
	s := &memStore{state: memState{
		nextCartID: 1,
		nextItemID: 1,
		carts:      map[int64]*memCart{},
		products:   map[int64]app.Product{},
	}}
	for _, p := range products {
		s.state.products[p.ID] = p
	}
	return s
}

func (s *memStore) RunInTx(_ context.Context, fn func(tx app.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.state.clone()
	if err := fn(&memTx{state: &work}); err != nil {
		return err
	}
	s.state = work
	return nil
}

func (s *memStore) inventory(productID int64) int32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.products[productID].InventoryCount
}

func (st memState) clone() memState {
	out := memState{
		nextCartID: st.nextCartID,
		nextItemID: st.nextItemID,
		carts:      make(map[int64]*memCart, len(st.carts)),
		products:   make(map[int64]app.Product, len(st.products)),
	}
	for id, c := range st.carts {
		items := make(map[int64]memItem, len(c.items))
		for pid, it := range c.items {
			items[pid] = it
		}
		out.carts[id] = &memCart{completed: c.completed, items: items}
	}
	for id, p := range st.products {
		out.products[id] = p
	}
	return out
}

type memTx struct {
	state *memState
}

func (t *memTx) InsertCart(context.Context) (int64, error) {
	id := t.state.nextCartID
	t.state.nextCartID++
	t.state.carts[id] = &memCart{items: map[int64]memItem{}}
	return id, nil
}

func (t *memTx) CartByID(_ context.Context, id int64) (domain.Cart, error) {
	c, ok := t.state.carts[id]
	if !ok {
		return domain.Cart{}, app.ErrCartNotFound
	}
	return domain.Cart{ID: id, Completed: c.completed}, nil
}

// CartForUpdate has the same read semantics as CartByID here: the store mutex
// already serializes whole transactions the way the row lock does.
func (t *memTx) CartForUpdate(ctx context.Context, id int64) (domain.Cart, error) {
	return t.CartByID(ctx, id)
}

func (t *memTx) Carts(context.Context) ([]domain.Cart, error) {
	ids := make([]int64, 0, len(t.state.carts))
	for id := range t.state.carts {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	out := make([]domain.Cart, 0, len(ids))
	for _, id := range ids {
		out = append(out, domain.Cart{ID: id, Completed: t.state.carts[id].completed})
	}
	return out, nil
}

func (t *memTx) CartWithItems(ctx context.Context, id int64) (domain.Cart, error) {
	cart, err := t.CartByID(ctx, id)
	if err != nil {
		return domain.Cart{}, err
	}

	c := t.state.carts[id]
	cart.Items = []domain.CartItem{}
	for pid, it := range c.items {
		p := t.state.products[pid]
		cart.Items = append(cart.Items, domain.CartItem{
			ID:        it.id,
			CartID:    id,
			ProductID: pid,
			Title:     p.Title,
			UnitPrice: p.UnitPrice,
			Quantity:  it.quantity,
		})
	}
	sort.Slice(cart.Items, func(i, j int) bool { return cart.Items[i].ProductID < cart.Items[j].ProductID })
	return cart, nil
}

func (t *memTx) UpsertItemAdd(_ context.Context, cartID, productID int64, quantity int32) error {
	c := t.state.carts[cartID]
	if it, ok := c.items[productID]; ok {
		it.quantity += quantity
		c.items[productID] = it
		return nil
	}
	c.items[productID] = memItem{id: t.state.nextItemID, quantity: quantity}
	t.state.nextItemID++
	return nil
}

func (t *memTx) ItemForProduct(_ context.Context, cartID, productID int64) (domain.CartItem, error) {
	c := t.state.carts[cartID]
	it, ok := c.items[productID]
	if !ok {
		return domain.CartItem{}, app.ErrItemNotInCart
	}
	return domain.CartItem{ID: it.id, CartID: cartID, ProductID: productID, Quantity: it.quantity}, nil
}

func (t *memTx) UpdateItemQuantity(_ context.Context, itemID int64, quantity int32) error {
	for _, c := range t.state.carts {
		for pid, it := range c.items {
			if it.id == itemID {
				it.quantity = quantity
				c.items[pid] = it
				return nil
			}
		}
	}
	return errors.New("item not found")
}

func (t *memTx) DeleteItem(_ context.Context, itemID int64) error {
	for _, c := range t.state.carts {
		for pid, it := range c.items {
			if it.id == itemID {
				delete(c.items, pid)
				return nil
			}
		}
	}
	return errors.New("item not found")
}

func (t *memTx) ProductByID(_ context.Context, id int64) (app.Product, error) {
	p, ok := t.state.products[id]
	if !ok {
		return app.Product{}, app.ErrProductNotFound
	}
	return p, nil
}

func (t *memTx) ProductsForUpdate(ctx context.Context, ids []int64) ([]app.Product, error) {
	sorted := make([]int64, len(ids))
	copy(sorted, ids)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	out := make([]app.Product, 0, len(sorted))
	for _, id := range sorted {
		p, err := t.ProductByID(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func (t *memTx) DecrementInventory(_ context.Context, productID int64, quantity int32) error {
	p := t.state.products[productID]
	p.InventoryCount -= quantity
	t.state.products[productID] = p
	return nil
}

func (t *memTx) MarkCompleted(_ context.Context, cartID int64) error {
	c := t.state.carts[cartID]
	if c.completed {
		return app.ErrCartCompleted
	}
	c.completed = true
	return nil
}

func price(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	require.NoError(t, err)
	return d
}

func TestAddProductAggregatesQuantity(t *testing.T) {
	ctx := context.Background()
	store := newMemStore(app.Product{ID: 1, Title: "Mug", UnitPrice: price(t, "4.99"), InventoryCount: 100})
	svc := app.NewService(store, nil, nil)

	cart, err := svc.Create(ctx)
	require.NoError(t, err)

	for _, q := range []int32{2, 3, 1} {
		_, err = svc.AddProduct(ctx, app.AddProductRequest{CartID: cart.ID, ProductID: 1, Quantity: q})
		require.NoError(t, err)
	}

	got, err := svc.Get(ctx, cart.ID)
	require.NoError(t, err)
	require.Len(t, got.Items, 1, "repeated adds must aggregate into one line item")
	require.Equal(t, int32(6), got.Items[0].Quantity)
}

func TestAddProductValidation(t *testing.T) {
	ctx := context.Background()
	store := newMemStore(app.Product{ID: 1, UnitPrice: price(t, "1.00"), InventoryCount: 10})
	svc := app.NewService(store, nil, nil)

	cart, err := svc.Create(ctx)
	require.NoError(t, err)

	t.Run("zero quantity", func(t *testing.T) {
		_, err := svc.AddProduct(ctx, app.AddProductRequest{CartID: cart.ID, ProductID: 1, Quantity: 0})
		require.ErrorIs(t, err, app.ErrInvalidQuantity)
	})

	t.Run("negative quantity", func(t *testing.T) {
		_, err := svc.AddProduct(ctx, app.AddProductRequest{CartID: cart.ID, ProductID: 1, Quantity: -2})
		require.ErrorIs(t, err, app.ErrInvalidQuantity)
	})

	t.Run("unknown product", func(t *testing.T) {
		_, err := svc.AddProduct(ctx, app.AddProductRequest{CartID: cart.ID, ProductID: 99, Quantity: 1})
		require.ErrorIs(t, err, app.ErrProductNotFound)
	})

	t.Run("unknown cart", func(t *testing.T) {
		_, err := svc.AddProduct(ctx, app.AddProductRequest{CartID: 99, ProductID: 1, Quantity: 1})
		require.ErrorIs(t, err, app.ErrCartNotFound)
	})
}

func TestRemoveProduct(t *testing.T) {
	ctx := context.Background()

	setup := func(t *testing.T) (*app.Service, int64) {
		store := newMemStore(app.Product{ID: 1, Title: "Pen", UnitPrice: price(t, "0.50"), InventoryCount: 10})
		svc := app.NewService(store, nil, nil)
		cart, err := svc.Create(ctx)
		require.NoError(t, err)
		_, err = svc.AddProduct(ctx, app.AddProductRequest{CartID: cart.ID, ProductID: 1, Quantity: 5})
		require.NoError(t, err)
		return svc, cart.ID
	}

	t.Run("partial removal decrements in place", func(t *testing.T) {
		svc, cartID := setup(t)
		cart, err := svc.RemoveProduct(ctx, app.RemoveProductRequest{CartID: cartID, ProductID: 1, Quantity: 2})
		require.NoError(t, err)
		require.Len(t, cart.Items, 1)
		require.Equal(t, int32(3), cart.Items[0].Quantity)
	})

	t.Run("removal to exactly zero deletes the item", func(t *testing.T) {
		svc, cartID := setup(t)
		cart, err := svc.RemoveProduct(ctx, app.RemoveProductRequest{CartID: cartID, ProductID: 1, Quantity: 5})
		require.NoError(t, err)
		require.Empty(t, cart.Items)
	})

	t.Run("removal past zero deletes the item", func(t *testing.T) {
		svc, cartID := setup(t)
		cart, err := svc.RemoveProduct(ctx, app.RemoveProductRequest{CartID: cartID, ProductID: 1, Quantity: 50})
		require.NoError(t, err)
		require.Empty(t, cart.Items)
	})

	t.Run("product not in cart", func(t *testing.T) {
		store := newMemStore(
			app.Product{ID: 1, UnitPrice: price(t, "0.50"), InventoryCount: 10},
			app.Product{ID: 2, UnitPrice: price(t, "0.75"), InventoryCount: 10},
		)
		svc := app.NewService(store, nil, nil)
		cart, err := svc.Create(ctx)
		require.NoError(t, err)
		_, err = svc.RemoveProduct(ctx, app.RemoveProductRequest{CartID: cart.ID, ProductID: 2, Quantity: 1})
		require.ErrorIs(t, err, app.ErrItemNotInCart)
	})

	t.Run("invalid quantity", func(t *testing.T) {
		svc, cartID := setup(t)
		_, err := svc.RemoveProduct(ctx, app.RemoveProductRequest{CartID: cartID, ProductID: 1, Quantity: 0})
		require.ErrorIs(t, err, app.ErrInvalidQuantity)
	})
}

func TestCompletedCartIsImmutable(t *testing.T) {
	ctx := context.Background()
	store := newMemStore(app.Product{ID: 1, UnitPrice: price(t, "2.00"), InventoryCount: 10})
	svc := app.NewService(store, nil, nil)

	cart, err := svc.Create(ctx)
	require.NoError(t, err)
	_, err = svc.AddProduct(ctx, app.AddProductRequest{CartID: cart.ID, ProductID: 1, Quantity: 1})
	require.NoError(t, err)
	_, err = svc.Complete(ctx, cart.ID)
	require.NoError(t, err)

	_, err = svc.AddProduct(ctx, app.AddProductRequest{CartID: cart.ID, ProductID: 1, Quantity: 1})
	require.ErrorIs(t, err, app.ErrCartCompleted)

	_, err = svc.RemoveProduct(ctx, app.RemoveProductRequest{CartID: cart.ID, ProductID: 1, Quantity: 1})
	require.ErrorIs(t, err, app.ErrCartCompleted)
}

func TestCompleteIsNotIdempotent(t *testing.T) {
	ctx := context.Background()
	store := newMemStore(app.Product{ID: 1, UnitPrice: price(t, "2.50"), InventoryCount: 10})
	svc := app.NewService(store, nil, nil)

	cart, err := svc.Create(ctx)
	require.NoError(t, err)
	_, err = svc.AddProduct(ctx, app.AddProductRequest{CartID: cart.ID, ProductID: 1, Quantity: 3})
	require.NoError(t, err)

	done, err := svc.Complete(ctx, cart.ID)
	require.NoError(t, err)
	require.True(t, done.Completed)
	require.Equal(t, "7.50", done.Total().StringFixed(2))
	require.Equal(t, int32(7), store.inventory(1))

	_, err = svc.Complete(ctx, cart.ID)
	require.ErrorIs(t, err, app.ErrCartCompleted)
	require.Equal(t, int32(7), store.inventory(1), "second completion must not decrement again")
}

func TestCompleteUnknownCart(t *testing.T) {
	svc := app.NewService(newMemStore(), nil, nil)
	_, err := svc.Complete(context.Background(), 42)
	require.ErrorIs(t, err, app.ErrCartNotFound)
}

func TestCompleteEmptyCart(t *testing.T) {
	ctx := context.Background()
	svc := app.NewService(newMemStore(), nil, nil)

	cart, err := svc.Create(ctx)
	require.NoError(t, err)
	done, err := svc.Complete(ctx, cart.ID)
	require.NoError(t, err)
	require.True(t, done.Completed)
}

func TestCompleteAllOrNothing(t *testing.T) {
	ctx := context.Background()
	store := newMemStore(
		app.Product{ID: 1, Title: "Plenty", UnitPrice: price(t, "1.00"), InventoryCount: 100},
		app.Product{ID: 2, Title: "Scarce", UnitPrice: price(t, "1.00"), InventoryCount: 1},
	)
	svc := app.NewService(store, nil, nil)

	cart, err := svc.Create(ctx)
	require.NoError(t, err)
	_, err = svc.AddProduct(ctx, app.AddProductRequest{CartID: cart.ID, ProductID: 1, Quantity: 5})
	require.NoError(t, err)
	_, err = svc.AddProduct(ctx, app.AddProductRequest{CartID: cart.ID, ProductID: 2, Quantity: 3})
	require.NoError(t, err)

	_, err = svc.Complete(ctx, cart.ID)
	require.ErrorIs(t, err, app.ErrInsufficientInventory)
	require.ErrorContains(t, err, "product 2", "failure must name the offending product")

	require.Equal(t, int32(100), store.inventory(1), "no partial decrement may survive")
	require.Equal(t, int32(1), store.inventory(2))

	got, err := svc.Get(ctx, cart.ID)
	require.NoError(t, err)
	require.False(t, got.Completed, "failed completion must leave the cart open")
}

func TestConcurrentCompletionsNeverOversell(t *testing.T) {
	ctx := context.Background()
	store := newMemStore(app.Product{ID: 1, Title: "Limited", UnitPrice: price(t, "9.99"), InventoryCount: 5})
	svc := app.NewService(store, nil, nil)

	var cartIDs []int64
	for i := 0; i < 2; i++ {
		cart, err := svc.Create(ctx)
		require.NoError(t, err)
		_, err = svc.AddProduct(ctx, app.AddProductRequest{CartID: cart.ID, ProductID: 1, Quantity: 3})
		require.NoError(t, err)
		cartIDs = append(cartIDs, cart.ID)
	}

	errs := make([]error, len(cartIDs))
	g, gctx := errgroup.WithContext(ctx)
	for i, id := range cartIDs {
		i, id := i, id
		g.Go(func() error {
			_, errs[i] = svc.Complete(gctx, id)
			return nil
		})
	}
	require.NoError(t, g.Wait())

	var ok, insufficient int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, app.ErrInsufficientInventory):
			insufficient++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	require.Equal(t, 1, ok, "exactly one completion must win")
	require.Equal(t, 1, insufficient)
	require.Equal(t, int32(2), store.inventory(1), "5 - 3 = 2, never negative, never double-decremented")
}

func TestConcurrentCompletionsOfOneCartDecrementOnce(t *testing.T) {
	ctx := context.Background()
	store := newMemStore(app.Product{ID: 1, Title: "Mug", UnitPrice: price(t, "2.00"), InventoryCount: 10})
	svc := app.NewService(store, nil, nil)

	cart, err := svc.Create(ctx)
	require.NoError(t, err)
	_, err = svc.AddProduct(ctx, app.AddProductRequest{CartID: cart.ID, ProductID: 1, Quantity: 3})
	require.NoError(t, err)

	const workers = 4
	errs := make([]error, workers)
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < workers; i++ {
		i := i
		g.Go(func() error {
			_, errs[i] = svc.Complete(gctx, cart.ID)
			return nil
		})
	}
	require.NoError(t, g.Wait())

	var ok, completed int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, app.ErrCartCompleted):
			completed++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	require.Equal(t, 1, ok, "exactly one completion of one cart may win")
	require.Equal(t, workers-1, completed, "losers must see the completed flag")
	require.Equal(t, int32(7), store.inventory(1), "one cart deducts its quantity exactly once")
}

func TestListCarts(t *testing.T) {
	ctx := context.Background()
	store := newMemStore(app.Product{ID: 1, Title: "Mug", UnitPrice: price(t, "2.00"), InventoryCount: 10})
	svc := app.NewService(store, nil, nil)

	empty, err := svc.List(ctx)
	require.NoError(t, err)
	require.Empty(t, empty)

	first, err := svc.Create(ctx)
	require.NoError(t, err)
	_, err = svc.AddProduct(ctx, app.AddProductRequest{CartID: first.ID, ProductID: 1, Quantity: 2})
	require.NoError(t, err)
	_, err = svc.Complete(ctx, first.ID)
	require.NoError(t, err)

	second, err := svc.Create(ctx)
	require.NoError(t, err)

	carts, err := svc.List(ctx)
	require.NoError(t, err)
	require.Len(t, carts, 2)
	require.Equal(t, first.ID, carts[0].ID)
	require.True(t, carts[0].Completed)
	require.Len(t, carts[0].Items, 1)
	require.Equal(t, second.ID, carts[1].ID)
	require.False(t, carts[1].Completed)
}

// stubPublisher records events and optionally fails.
type stubPublisher struct {
	mu     sync.Mutex
	events []app.CartCompleted
	err    error
}

func (p *stubPublisher) PublishCartCompleted(_ context.Context, ev app.CartCompleted) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return p.err
}

func TestCompletePublishesEvent(t *testing.T) {
	ctx := context.Background()
	store := newMemStore(app.Product{ID: 1, Title: "Mug", UnitPrice: price(t, "2.50"), InventoryCount: 10})
	pub := &stubPublisher{}
	svc := app.NewService(store, pub, nil)

	cart, err := svc.Create(ctx)
	require.NoError(t, err)
	_, err = svc.AddProduct(ctx, app.AddProductRequest{CartID: cart.ID, ProductID: 1, Quantity: 3})
	require.NoError(t, err)
	_, err = svc.Complete(ctx, cart.ID)
	require.NoError(t, err)

	require.Len(t, pub.events, 1)
	ev := pub.events[0]
	require.Equal(t, cart.ID, ev.CartID)
	require.NotEmpty(t, ev.EventID)
	require.Equal(t, "7.5", ev.Total.String())
	require.Len(t, ev.Lines, 1)
	require.Equal(t, int32(3), ev.Lines[0].Quantity)
}

func TestPublishFailureDoesNotFailCompletion(t *testing.T) {
	ctx := context.Background()
	store := newMemStore(app.Product{ID: 1, UnitPrice: price(t, "1.00"), InventoryCount: 10})
	pub := &stubPublisher{err: errors.New("broker down")}
	svc := app.NewService(store, pub, nil)

	cart, err := svc.Create(ctx)
	require.NoError(t, err)
	_, err = svc.AddProduct(ctx, app.AddProductRequest{CartID: cart.ID, ProductID: 1, Quantity: 1})
	require.NoError(t, err)

	done, err := svc.Complete(ctx, cart.ID)
	require.NoError(t, err, "publishing is best effort after commit")
	require.True(t, done.Completed)
}
