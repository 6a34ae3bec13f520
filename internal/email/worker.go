package email

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/fastbite/payments/internal/domain"
)

// Worker consumes order confirmation events and forwards them to the email
// service. It runs outside the commit's critical path: a failed send is
// retried through Kafka redelivery and can never touch the order.
type Worker struct {
	emailServiceURL string
	httpClient      *http.Client
	logger          *slog.Logger
}

func NewWorker(emailServiceURL string, client *http.Client, logger *slog.Logger) *Worker {
	return &Worker{
		emailServiceURL: emailServiceURL,
		httpClient:      client,
		logger:          logger,
	}
}

func (w *Worker) Handle(ctx context.Context, payload []byte) error {
	var event domain.OrderConfirmedEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return fmt.Errorf("unmarshal order confirmed event: %w", err)
	}

	w.logger.Info("processing order confirmed event", "order_id", event.OrderID, "checkout_id", event.CheckoutID)

	if event.CustomerEmail == "" {
		w.logger.Info("no customer email on checkout, skipping confirmation", "order_id", event.OrderID)
		return nil
	}

	if err := w.sendConfirmation(ctx, event); err != nil {
		w.logger.Error("failed to send confirmation email", "error", err, "order_id", event.OrderID)
		return fmt.Errorf("send confirmation email: %w", err)
	}

	w.logger.Info("confirmation email sent", "order_id", event.OrderID)
	return nil
}

func (w *Worker) sendConfirmation(ctx context.Context, event domain.OrderConfirmedEvent) error {
	body := sendRequest{
		To:      event.CustomerEmail,
		Name:    event.CustomerName,
		OrderID: event.OrderID,
		Amount:  event.TotalAmount.StringFixed(2),
	}

	data, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.emailServiceURL+"/send", bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("email service returned status %d", resp.StatusCode)
	}

	return nil
}
