package app

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

type CartCompletedLine struct {
	ProductID int64           `json:"product_id"`
	Quantity  int32           `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

// CartCompleted is emitted after a cart's inventory deductions have been
// committed.
type CartCompleted struct {
	EventID     string              `json:"event_id"`
	CartID      int64               `json:"cart_id"`
	Total       decimal.Decimal     `json:"total"`
	Lines       []CartCompletedLine `json:"lines"`
	CompletedAt time.Time           `json:"completed_at"`
}

type EventPublisher interface {
	PublishCartCompleted(ctx context.Context, ev CartCompleted) error
}
