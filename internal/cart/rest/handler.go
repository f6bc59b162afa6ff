package rest

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/Scetch/ShopifySummer2019/internal/cart/app"
	"github.com/Scetch/ShopifySummer2019/internal/cart/domain"
	"github.com/Scetch/ShopifySummer2019/pkg/httperr"
	"github.com/Scetch/ShopifySummer2019/pkg/metrics"
	"github.com/Scetch/ShopifySummer2019/pkg/relay"
)

// Service is the slice of the cart application the HTTP layer needs.
type Service interface {
	Create(ctx context.Context) (domain.Cart, error)
	Get(ctx context.Context, cartID int64) (domain.Cart, error)
	List(ctx context.Context) ([]domain.Cart, error)
	AddProduct(ctx context.Context, req app.AddProductRequest) (domain.Cart, error)
	RemoveProduct(ctx context.Context, req app.RemoveProductRequest) (domain.Cart, error)
	Complete(ctx context.Context, cartID int64) (domain.Cart, error)
}

type Handler struct {
	svc Service
	log *slog.Logger
	m   *metrics.CartMetrics
}

func NewHandler(svc Service, log *slog.Logger, m *metrics.CartMetrics) *Handler {
	return &Handler{svc: svc, log: log, m: m}
}

func (h *Handler) Register(r *mux.Router) {
	r.HandleFunc("/carts", h.createCart).Methods(http.MethodPost)
	r.HandleFunc("/carts", h.listCarts).Methods(http.MethodGet)
	r.HandleFunc("/carts/{id}", h.getCart).Methods(http.MethodGet)
	r.HandleFunc("/carts/{id}/items", h.addItem).Methods(http.MethodPost)
	r.HandleFunc("/carts/{id}/items/{productId}", h.removeItem).Methods(http.MethodDelete)
	r.HandleFunc("/carts/{id}/complete", h.completeCart).Methods(http.MethodPost)
}

func (h *Handler) createCart(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	cart, err := h.svc.Create(r.Context())
	h.m.Observe("create_cart", start, err)
	if err != nil {
		httperr.Write(w, h.log, mapErr(err))
		return
	}
	writeJSON(w, http.StatusCreated, toCartResponse(cart))
}

func (h *Handler) listCarts(w http.ResponseWriter, r *http.Request) {
	carts, err := h.svc.List(r.Context())
	if err != nil {
		httperr.Write(w, h.log, mapErr(err))
		return
	}

	out := make([]cartResponse, 0, len(carts))
	for _, c := range carts {
		out = append(out, toCartResponse(c))
	}
	writeJSON(w, http.StatusOK, cartListResponse{Carts: out})
}

func (h *Handler) getCart(w http.ResponseWriter, r *http.Request) {
	cart, err := func() (domain.Cart, error) {
		id, err := relay.DecodeID("Cart", mux.Vars(r)["id"])
		if err != nil {
			return domain.Cart{}, err
		}
		return h.svc.Get(r.Context(), id)
	}()
	if err != nil {
		httperr.Write(w, h.log, mapErr(err))
		return
	}
	writeJSON(w, http.StatusOK, toCartResponse(cart))
}

type addItemRequest struct {
	ProductID string `json:"productId"`
	Quantity  int32  `json:"quantity"`
}

func (h *Handler) addItem(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	cart, err := func() (domain.Cart, error) {
		cartID, err := relay.DecodeID("Cart", mux.Vars(r)["id"])
		if err != nil {
			return domain.Cart{}, err
		}

		var body addItemRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			return domain.Cart{}, status.Error(codes.InvalidArgument, "invalid json body")
		}

		productID, err := relay.DecodeID("Product", body.ProductID)
		if err != nil {
			return domain.Cart{}, err
		}

		return h.svc.AddProduct(r.Context(), app.AddProductRequest{
			CartID:    cartID,
			ProductID: productID,
			Quantity:  body.Quantity,
		})
	}()
	h.m.Observe("add_product", start, err)
	if err != nil {
		httperr.Write(w, h.log, mapErr(err))
		return
	}
	writeJSON(w, http.StatusOK, toCartResponse(cart))
}

func (h *Handler) removeItem(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	cart, err := func() (domain.Cart, error) {
		vars := mux.Vars(r)
		cartID, err := relay.DecodeID("Cart", vars["id"])
		if err != nil {
			return domain.Cart{}, err
		}
		productID, err := relay.DecodeID("Product", vars["productId"])
		if err != nil {
			return domain.Cart{}, err
		}

		qty, err := strconv.ParseInt(r.URL.Query().Get("quantity"), 10, 32)
		if err != nil {
			return domain.Cart{}, status.Error(codes.InvalidArgument, "quantity query parameter is required")
		}

		return h.svc.RemoveProduct(r.Context(), app.RemoveProductRequest{
			CartID:    cartID,
			ProductID: productID,
			Quantity:  int32(qty),
		})
	}()
	h.m.Observe("remove_product", start, err)
	if err != nil {
		httperr.Write(w, h.log, mapErr(err))
		return
	}
	writeJSON(w, http.StatusOK, toCartResponse(cart))
}

func (h *Handler) completeCart(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	cart, err := func() (domain.Cart, error) {
		id, err := relay.DecodeID("Cart", mux.Vars(r)["id"])
		if err != nil {
			return domain.Cart{}, err
		}
		return h.svc.Complete(r.Context(), id)
	}()
	h.m.Observe("complete_cart", start, err)
	if err != nil {
		httperr.Write(w, h.log, mapErr(err))
		return
	}
	writeJSON(w, http.StatusOK, toCartResponse(cart))
}

type cartListResponse struct {
	Carts []cartResponse `json:"carts"`
}

type cartResponse struct {
	ID        string         `json:"id"`
	Completed bool           `json:"completed"`
	Total     string         `json:"total"`
	Items     []itemResponse `json:"items"`
}

type itemResponse struct {
	ID        string `json:"id"`
	ProductID string `json:"productId"`
	Title     string `json:"title"`
	UnitPrice string `json:"unitPrice"`
	Quantity  int32  `json:"quantity"`
}

func toCartResponse(c domain.Cart) cartResponse {
	items := make([]itemResponse, 0, len(c.Items))
	for _, it := range c.Items {
		items = append(items, itemResponse{
			ID:        relay.EncodeID("CartItem", it.ID),
			ProductID: relay.EncodeID("Product", it.ProductID),
			Title:     it.Title,
			UnitPrice: it.UnitPrice.StringFixed(2),
			Quantity:  it.Quantity,
		})
	}

	return cartResponse{
		ID:        relay.EncodeID("Cart", c.ID),
		Completed: c.Completed,
		Total:     c.Total().StringFixed(2),
		Items:     items,
	}
}

func mapErr(err error) error {
	switch {
	case httperr.IsCode(err, codes.InvalidArgument):
		return err
	case errors.Is(err, relay.ErrInvalidID), errors.Is(err, app.ErrInvalidQuantity):
		return httperr.Wrap(codes.InvalidArgument, err)
	case errors.Is(err, app.ErrCartNotFound), errors.Is(err, app.ErrProductNotFound):
		return httperr.Wrap(codes.NotFound, err)
	case errors.Is(err, app.ErrCartCompleted),
		errors.Is(err, app.ErrItemNotInCart),
		errors.Is(err, app.ErrInsufficientInventory):
		return httperr.Wrap(codes.FailedPrecondition, err)
	case errors.Is(err, driver.ErrBadConn),
		errors.Is(err, sql.ErrConnDone),
		errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.Unavailable, "store unavailable")
	default:
		return httperr.Wrap(codes.Internal, err)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
