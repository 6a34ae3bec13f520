package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestClient_CreateSession(t *testing.T) {
	t.Run("creates a session and returns the redirect url", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost {
				t.Errorf("expected POST, got %s", r.Method)
			}
			if r.URL.Path != "/v1/checkout/sessions" {
				t.Errorf("unexpected path: %s", r.URL.Path)
			}
			if r.Header.Get("Authorization") != "Bearer sk_test" {
				t.Errorf("unexpected authorization header: %s", r.Header.Get("Authorization"))
			}

			var params CreateSessionParams
			if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
				t.Errorf("failed to decode params: %v", err)
			}
			if params.AmountCents != 3900 {
				t.Errorf("expected amount 3900, got %d", params.AmountCents)
			}
			if params.Metadata[MetadataCheckoutID] != "chk-1" {
				t.Errorf("missing checkout id metadata: %v", params.Metadata)
			}

			w.WriteHeader(http.StatusCreated)
			_ = json.NewEncoder(w).Encode(Session{ID: "cs_1", URL: "https://pay.example.com/cs_1"})
		}))
		defer server.Close()

		client := NewClient(server.URL, "sk_test", server.Client())
		session, err := client.CreateSession(context.Background(), CreateSessionParams{
			AmountCents: 3900,
			Currency:    "usd",
			Metadata:    map[string]string{MetadataCheckoutID: "chk-1"},
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if session.ID != "cs_1" {
			t.Fatalf("unexpected session id: %s", session.ID)
		}
		if session.URL != "https://pay.example.com/cs_1" {
			t.Fatalf("unexpected session url: %s", session.URL)
		}
	})

	t.Run("fails when the session has no redirect url", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_ = json.NewEncoder(w).Encode(Session{ID: "cs_1"})
		}))
		defer server.Close()

		client := NewClient(server.URL, "sk_test", server.Client())
		_, err := client.CreateSession(context.Background(), CreateSessionParams{AmountCents: 100})
		if !errors.Is(err, ErrNoSessionURL) {
			t.Fatalf("expected ErrNoSessionURL, got %v", err)
		}
	})

	t.Run("maps server errors to ErrUnavailable", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer server.Close()

		client := NewClient(server.URL, "sk_test", server.Client())
		_, err := client.CreateSession(context.Background(), CreateSessionParams{AmountCents: 100})
		if !errors.Is(err, ErrUnavailable) {
			t.Fatalf("expected ErrUnavailable, got %v", err)
		}
	})

	t.Run("maps transport failures to ErrUnavailable", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
		server.Close()

		client := NewClient(server.URL, "sk_test", nil)
		_, err := client.CreateSession(context.Background(), CreateSessionParams{AmountCents: 100})
		if !errors.Is(err, ErrUnavailable) {
			t.Fatalf("expected ErrUnavailable, got %v", err)
		}
	})
}

func TestClient_GetSession(t *testing.T) {
	t.Run("fetches session status", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/v1/checkout/sessions/cs_1" {
				t.Errorf("unexpected path: %s", r.URL.Path)
			}
			_ = json.NewEncoder(w).Encode(Session{
				ID:            "cs_1",
				PaymentStatus: PaymentStatusPaid,
				Metadata:      map[string]string{MetadataCheckoutID: "chk-1"},
			})
		}))
		defer server.Close()

		client := NewClient(server.URL, "sk_test", server.Client())
		session, err := client.GetSession(context.Background(), "cs_1")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if session.PaymentStatus != PaymentStatusPaid {
			t.Fatalf("unexpected payment status: %s", session.PaymentStatus)
		}
		if session.Metadata[MetadataCheckoutID] != "chk-1" {
			t.Fatalf("unexpected metadata: %v", session.Metadata)
		}
	})

	t.Run("maps not found to ErrUnavailable", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		}))
		defer server.Close()

		client := NewClient(server.URL, "sk_test", server.Client())
		_, err := client.GetSession(context.Background(), "cs_missing")
		if !errors.Is(err, ErrUnavailable) {
			t.Fatalf("expected ErrUnavailable, got %v", err)
		}
	})
}
