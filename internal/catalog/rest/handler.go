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

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/Scetch/ShopifySummer2019/internal/catalog/app"
	"github.com/Scetch/ShopifySummer2019/internal/catalog/domain"
	"github.com/Scetch/ShopifySummer2019/pkg/httperr"
	"github.com/Scetch/ShopifySummer2019/pkg/relay"
)

type Service interface {
	CreateProduct(ctx context.Context, title string, price decimal.Decimal, inventory int32) (domain.Product, error)
	GetProduct(ctx context.Context, id int64) (domain.Product, error)
	AvailableProducts(ctx context.Context) ([]domain.Product, error)
	ListProducts(ctx context.Context, limit int, cursor int64) ([]domain.Product, int64, error)
}

type Handler struct {
	svc Service
	log *slog.Logger
}

func NewHandler(svc Service, log *slog.Logger) *Handler {
	return &Handler{svc: svc, log: log}
}

func (h *Handler) Register(r *mux.Router) {
	r.HandleFunc("/products", h.createProduct).Methods(http.MethodPost)
	r.HandleFunc("/products", h.listProducts).Methods(http.MethodGet)
	r.HandleFunc("/products/{id}", h.getProduct).Methods(http.MethodGet)
}

type createProductRequest struct {
	Title     string `json:"title"`
	Price     string `json:"price"`
	Inventory int32  `json:"inventory"`
}

func (h *Handler) createProduct(w http.ResponseWriter, r *http.Request) {
	var body createProductRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		httperr.Write(w, h.log, status.Error(codes.InvalidArgument, "invalid json body"))
		return
	}

	price, err := decimal.NewFromString(body.Price)
	if err != nil {
		httperr.Write(w, h.log, status.Error(codes.InvalidArgument, "price must be a decimal string"))
		return
	}

	p, err := h.svc.CreateProduct(r.Context(), body.Title, price, body.Inventory)
	if err != nil {
		httperr.Write(w, h.log, mapErr(err))
		return
	}
	writeJSON(w, http.StatusCreated, toProductResponse(p))
}

func (h *Handler) getProduct(w http.ResponseWriter, r *http.Request) {
	id, err := relay.DecodeID("Product", mux.Vars(r)["id"])
	if err != nil {
		httperr.Write(w, h.log, mapErr(err))
		return
	}

	p, err := h.svc.GetProduct(r.Context(), id)
	if err != nil {
		httperr.Write(w, h.log, mapErr(err))
		return
	}
	writeJSON(w, http.StatusOK, toProductResponse(p))
}

// listProducts serves the available-products view by default; ?all=true pages
// through the whole catalog.
func (h *Handler) listProducts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	if q.Get("all") != "true" {
		products, err := h.svc.AvailableProducts(r.Context())
		if err != nil {
			httperr.Write(w, h.log, mapErr(err))
			return
		}
		writeJSON(w, http.StatusOK, toProductList(products, ""))
		return
	}

	limit := 0
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			httperr.Write(w, h.log, status.Error(codes.InvalidArgument, "limit must be an integer"))
			return
		}
		limit = n
	}

	var cursor int64
	if v := q.Get("cursor"); v != "" {
		id, err := relay.DecodeID("Product", v)
		if err != nil {
			httperr.Write(w, h.log, mapErr(err))
			return
		}
		cursor = id
	}

	products, next, err := h.svc.ListProducts(r.Context(), limit, cursor)
	if err != nil {
		httperr.Write(w, h.log, mapErr(err))
		return
	}

	nextCursor := ""
	if next > 0 {
		nextCursor = relay.EncodeID("Product", next)
	}
	writeJSON(w, http.StatusOK, toProductList(products, nextCursor))
}

type productResponse struct {
	ID             string `json:"id"`
	Title          string `json:"title"`
	Price          string `json:"price"`
	InventoryCount int32  `json:"inventoryCount"`
}

type productListResponse struct {
	Products   []productResponse `json:"products"`
	NextCursor string            `json:"nextCursor,omitempty"`
}

func toProductResponse(p domain.Product) productResponse {
	return productResponse{
		ID:             relay.EncodeID("Product", p.ID),
		Title:          p.Title,
		Price:          p.Price.StringFixed(2),
		InventoryCount: p.InventoryCount,
	}
}

func toProductList(products []domain.Product, nextCursor string) productListResponse {
	out := make([]productResponse, 0, len(products))
	for _, p := range products {
		out = append(out, toProductResponse(p))
	}
	return productListResponse{Products: out, NextCursor: nextCursor}
}

func mapErr(err error) error {
	switch {
	case errors.Is(err, relay.ErrInvalidID), errors.Is(err, app.ErrInvalidInput):
		return httperr.Wrap(codes.InvalidArgument, err)
	case errors.Is(err, app.ErrNotFound):
		return httperr.Wrap(codes.NotFound, err)
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
