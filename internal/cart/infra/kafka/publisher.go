package kafka

import (
	"context"
	"strconv"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/Scetch/ShopifySummer2019/internal/cart/app"
	"github.com/Scetch/ShopifySummer2019/pkg/kafka"
)

// Publisher emits cart lifecycle events to Kafka, keyed by cart id so events
// for one cart stay ordered within a partition.
type Publisher struct {
	writer *kafkago.Writer
}

func NewPublisher(client *kafka.Client, topic string) *Publisher {
	return &Publisher{writer: client.NewWriter(topic)}
}

func (p *Publisher) PublishCartCompleted(ctx context.Context, ev app.CartCompleted) error {
	return kafka.PublishJSON(ctx, p.writer, strconv.FormatInt(ev.CartID, 10), ev)
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}
