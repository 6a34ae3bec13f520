package email

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fastbite/payments/internal/domain"
)

func eventPayload(t *testing.T, email string) []byte {
	t.Helper()
	payload, err := json.Marshal(domain.OrderConfirmedEvent{
		OrderID:       "ord-1",
		CheckoutID:    "chk-1",
		CustomerName:  "Ada Lovelace",
		CustomerEmail: email,
		TotalAmount:   decimal.RequireFromString("39.00"),
		Timestamp:     time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("failed to marshal event: %v", err)
	}
	return payload
}

func TestWorkerHandle(t *testing.T) {
	t.Run("forwards confirmation to the email service", func(t *testing.T) {
		var received sendRequest
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/send" {
				t.Errorf("unexpected path: %s", r.URL.Path)
			}
			if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
				t.Errorf("failed to decode request: %v", err)
			}
			w.WriteHeader(http.StatusOK)
		}))
		defer server.Close()

		worker := NewWorker(server.URL, server.Client(), slog.Default())
		if err := worker.Handle(context.Background(), eventPayload(t, "ada@example.com")); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if received.To != "ada@example.com" {
			t.Fatalf("unexpected recipient: %s", received.To)
		}
		if received.OrderID != "ord-1" {
			t.Fatalf("unexpected order id: %s", received.OrderID)
		}
		if received.Amount != "39.00" {
			t.Fatalf("unexpected amount: %s", received.Amount)
		}
	})

	t.Run("skips events without a customer email", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
			t.Error("email service should not be called")
		}))
		defer server.Close()

		worker := NewWorker(server.URL, server.Client(), slog.Default())
		if err := worker.Handle(context.Background(), eventPayload(t, "")); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("returns an error so the message is redelivered", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer server.Close()

		worker := NewWorker(server.URL, server.Client(), slog.Default())
		if err := worker.Handle(context.Background(), eventPayload(t, "ada@example.com")); err == nil {
			t.Fatal("expected error for failed send")
		}
	})

	t.Run("rejects malformed payloads", func(t *testing.T) {
		worker := NewWorker("http://unused", http.DefaultClient, slog.Default())
		if err := worker.Handle(context.Background(), []byte("{not json")); err == nil {
			t.Fatal("expected error for malformed payload")
		}
	})
}
