package messaging

import (
	"context"

	"github.com/fastbite/payments/internal/domain"
)

// ConfirmationDispatcher publishes order confirmations onto Kafka, keyed by
// order id. It sits behind recon.Dispatcher so the engine never learns about
// brokers.
type ConfirmationDispatcher struct {
	producer *Producer
}

func NewConfirmationDispatcher(producer *Producer) *ConfirmationDispatcher {
	return &ConfirmationDispatcher{producer: producer}
}

func (d *ConfirmationDispatcher) OrderConfirmed(ctx context.Context, event domain.OrderConfirmedEvent) error {
	return d.producer.Publish(ctx, event.OrderID, event)
}
