package recon

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/fastbite/payments/internal/database"
	"github.com/fastbite/payments/internal/gateway"
)

type fakeReconciler struct {
	calls  []string
	result Result
	err    error
}

func (f *fakeReconciler) Reconcile(_ context.Context, checkoutID string) (Result, error) {
	f.calls = append(f.calls, checkoutID)
	return f.result, f.err
}

type fakeSessionGetter struct {
	session *gateway.Session
	err     error
}

func (f *fakeSessionGetter) GetSession(_ context.Context, _ string) (*gateway.Session, error) {
	return f.session, f.err
}

func newTestVerifier() *gateway.WebhookVerifier {
	return gateway.NewWebhookVerifier("whsec_test", 5*time.Minute)
}

func completedEventPayload(t *testing.T, checkoutID string) []byte {
	t.Helper()
	payload, err := json.Marshal(map[string]any{
		"id":   "evt_1",
		"type": gateway.EventCheckoutSessionCompleted,
		"data": map[string]any{
			"id":       "cs_1",
			"metadata": map[string]string{gateway.MetadataCheckoutID: checkoutID},
		},
	})
	if err != nil {
		t.Fatalf("failed to marshal payload: %v", err)
	}
	return payload
}

func postWebhook(handler *Handler, payload []byte, signature string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/payment/webhook", bytes.NewReader(payload))
	req.Header.Set(SignatureHeader, signature)
	rec := httptest.NewRecorder()
	handler.HandleWebhook(rec, req)
	return rec
}

func TestHandleWebhook(t *testing.T) {
	t.Run("verified completed event reconciles the checkout", func(t *testing.T) {
		engine := &fakeReconciler{result: Result{OrderID: "ord-1"}}
		verifier := newTestVerifier()
		handler := NewHandler(engine, nil, verifier, nil, nil, "", slog.Default())

		payload := completedEventPayload(t, "chk-1")
		rec := postWebhook(handler, payload, verifier.Sign(payload, time.Now()))

		if rec.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
		}
		if len(engine.calls) != 1 || engine.calls[0] != "chk-1" {
			t.Fatalf("expected one reconcile call for chk-1, got %v", engine.calls)
		}

		var resp map[string]string
		if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
		if resp["order_id"] != "ord-1" {
			t.Fatalf("expected order_id ord-1, got %q", resp["order_id"])
		}
	})

	t.Run("bad signature is rejected without reconciling", func(t *testing.T) {
		engine := &fakeReconciler{}
		handler := NewHandler(engine, nil, newTestVerifier(), nil, nil, "", slog.Default())

		payload := completedEventPayload(t, "chk-1")
		rec := postWebhook(handler, payload, fmt.Sprintf("t=%d,v1=deadbeef", time.Now().Unix()))

		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected status 400, got %d", rec.Code)
		}
		if len(engine.calls) != 0 {
			t.Fatalf("engine was called for a rejected delivery: %v", engine.calls)
		}
	})

	t.Run("stale signature is rejected", func(t *testing.T) {
		engine := &fakeReconciler{}
		verifier := newTestVerifier()
		handler := NewHandler(engine, nil, verifier, nil, nil, "", slog.Default())

		payload := completedEventPayload(t, "chk-1")
		rec := postWebhook(handler, payload, verifier.Sign(payload, time.Now().Add(-time.Hour)))

		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected status 400, got %d", rec.Code)
		}
		if len(engine.calls) != 0 {
			t.Fatalf("engine was called for a stale delivery: %v", engine.calls)
		}
	})

	t.Run("tampered payload fails verification", func(t *testing.T) {
		engine := &fakeReconciler{}
		verifier := newTestVerifier()
		handler := NewHandler(engine, nil, verifier, nil, nil, "", slog.Default())

		payload := completedEventPayload(t, "chk-1")
		signature := verifier.Sign(payload, time.Now())
		tampered := bytes.Replace(payload, []byte("chk-1"), []byte("chk-2"), 1)
		rec := postWebhook(handler, tampered, signature)

		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected status 400, got %d", rec.Code)
		}
		if len(engine.calls) != 0 {
			t.Fatalf("engine was called for a tampered delivery: %v", engine.calls)
		}
	})

	t.Run("unrelated event types are acknowledged and ignored", func(t *testing.T) {
		engine := &fakeReconciler{}
		verifier := newTestVerifier()
		handler := NewHandler(engine, nil, verifier, nil, nil, "", slog.Default())

		payload, _ := json.Marshal(map[string]any{
			"id":   "evt_2",
			"type": "charge.refunded",
			"data": map[string]any{"id": "cs_1"},
		})
		rec := postWebhook(handler, payload, verifier.Sign(payload, time.Now()))

		if rec.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rec.Code)
		}
		if len(engine.calls) != 0 {
			t.Fatalf("engine was called for an ignored event: %v", engine.calls)
		}
	})

	t.Run("unknown checkout is acknowledged so redelivery stops", func(t *testing.T) {
		engine := &fakeReconciler{err: fmt.Errorf("claim: %w", database.ErrCheckoutNotFound)}
		verifier := newTestVerifier()
		handler := NewHandler(engine, nil, verifier, nil, nil, "", slog.Default())

		payload := completedEventPayload(t, "chk-missing")
		rec := postWebhook(handler, payload, verifier.Sign(payload, time.Now()))

		if rec.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
		}
	})

	t.Run("reconciliation failure returns 500 so the gateway redelivers", func(t *testing.T) {
		engine := &fakeReconciler{err: fmt.Errorf("database down")}
		verifier := newTestVerifier()
		handler := NewHandler(engine, nil, verifier, nil, nil, "", slog.Default())

		payload := completedEventPayload(t, "chk-1")
		rec := postWebhook(handler, payload, verifier.Sign(payload, time.Now()))

		if rec.Code != http.StatusInternalServerError {
			t.Fatalf("expected status 500, got %d", rec.Code)
		}
	})

	t.Run("event without checkout id is rejected", func(t *testing.T) {
		engine := &fakeReconciler{}
		verifier := newTestVerifier()
		handler := NewHandler(engine, nil, verifier, nil, nil, "", slog.Default())

		payload, _ := json.Marshal(map[string]any{
			"id":   "evt_3",
			"type": gateway.EventCheckoutSessionCompleted,
			"data": map[string]any{"id": "cs_1"},
		})
		rec := postWebhook(handler, payload, verifier.Sign(payload, time.Now()))

		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected status 400, got %d", rec.Code)
		}
	})
}

func getReturn(handler *Handler, sessionID string) *httptest.ResponseRecorder {
	target := "/payment/return"
	if sessionID != "" {
		target += "?session_id=" + sessionID
	}
	req := httptest.NewRequest(http.MethodGet, target, nil)
	rec := httptest.NewRecorder()
	handler.HandleReturn(rec, req)
	return rec
}

func decodeStatus(t *testing.T, rec *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var resp map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return resp
}

func TestHandleReturn(t *testing.T) {
	t.Run("paid session commits and confirms", func(t *testing.T) {
		engine := &fakeReconciler{result: Result{OrderID: "ord-1"}}
		sessions := &fakeSessionGetter{session: &gateway.Session{
			ID:            "cs_1",
			PaymentStatus: gateway.PaymentStatusPaid,
			Metadata:      map[string]string{gateway.MetadataCheckoutID: "chk-1"},
		}}
		handler := NewHandler(engine, sessions, newTestVerifier(), nil, nil, "", slog.Default())

		rec := getReturn(handler, "cs_1")
		if rec.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rec.Code)
		}

		resp := decodeStatus(t, rec)
		if resp["status"] != "confirmed" || resp["order_id"] != "ord-1" {
			t.Fatalf("unexpected response: %v", resp)
		}
		if len(engine.calls) != 1 || engine.calls[0] != "chk-1" {
			t.Fatalf("expected one reconcile call for chk-1, got %v", engine.calls)
		}
	})

	t.Run("unpaid session defers to webhook", func(t *testing.T) {
		engine := &fakeReconciler{}
		sessions := &fakeSessionGetter{session: &gateway.Session{
			ID:            "cs_1",
			PaymentStatus: gateway.PaymentStatusUnpaid,
			Metadata:      map[string]string{gateway.MetadataCheckoutID: "chk-1"},
		}}
		handler := NewHandler(engine, sessions, newTestVerifier(), nil, nil, "", slog.Default())

		rec := getReturn(handler, "cs_1")
		if rec.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rec.Code)
		}
		if resp := decodeStatus(t, rec); resp["status"] != "processing" {
			t.Fatalf("expected processing, got %v", resp)
		}
		if len(engine.calls) != 0 {
			t.Fatalf("engine was called for an unpaid session: %v", engine.calls)
		}
	})

	t.Run("gateway outage degrades to processing", func(t *testing.T) {
		engine := &fakeReconciler{}
		sessions := &fakeSessionGetter{err: gateway.ErrUnavailable}
		handler := NewHandler(engine, sessions, newTestVerifier(), nil, nil, "", slog.Default())

		rec := getReturn(handler, "cs_1")
		if rec.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rec.Code)
		}
		if resp := decodeStatus(t, rec); resp["status"] != "processing" {
			t.Fatalf("expected processing, got %v", resp)
		}
		if len(engine.calls) != 0 {
			t.Fatalf("engine was called despite gateway outage: %v", engine.calls)
		}
	})

	t.Run("missing session id degrades to processing", func(t *testing.T) {
		engine := &fakeReconciler{}
		handler := NewHandler(engine, &fakeSessionGetter{}, newTestVerifier(), nil, nil, "", slog.Default())

		rec := getReturn(handler, "")
		if rec.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rec.Code)
		}
		if resp := decodeStatus(t, rec); resp["status"] != "processing" {
			t.Fatalf("expected processing, got %v", resp)
		}
	})

	t.Run("concurrent claim in flight reads as processing", func(t *testing.T) {
		engine := &fakeReconciler{result: Result{AlreadyProcessed: true}}
		sessions := &fakeSessionGetter{session: &gateway.Session{
			ID:            "cs_1",
			PaymentStatus: gateway.PaymentStatusPaid,
			Metadata:      map[string]string{gateway.MetadataCheckoutID: "chk-1"},
		}}
		handler := NewHandler(engine, sessions, newTestVerifier(), nil, nil, "", slog.Default())

		rec := getReturn(handler, "cs_1")
		if rec.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rec.Code)
		}
		if resp := decodeStatus(t, rec); resp["status"] != "processing" {
			t.Fatalf("expected processing, got %v", resp)
		}
	})
}

func TestAdminEndpointsRequireToken(t *testing.T) {
	t.Run("empty configured token denies everything", func(t *testing.T) {
		handler := NewHandler(&fakeReconciler{}, nil, newTestVerifier(), nil, nil, "", slog.Default())

		req := httptest.NewRequest(http.MethodPost, "/admin/checkouts/chk-1/reconcile", nil)
		req.SetPathValue("id", "chk-1")
		rec := httptest.NewRecorder()
		handler.HandleForceReconcile(rec, req)

		if rec.Code != http.StatusForbidden {
			t.Fatalf("expected status 403, got %d", rec.Code)
		}
	})

	t.Run("wrong token is denied", func(t *testing.T) {
		handler := NewHandler(&fakeReconciler{}, nil, newTestVerifier(), nil, nil, "secret", slog.Default())

		req := httptest.NewRequest(http.MethodPost, "/admin/checkouts/chk-1/reconcile", nil)
		req.SetPathValue("id", "chk-1")
		req.Header.Set("X-Admin-Token", "guess")
		rec := httptest.NewRecorder()
		handler.HandleForceReconcile(rec, req)

		if rec.Code != http.StatusForbidden {
			t.Fatalf("expected status 403, got %d", rec.Code)
		}
	})

	t.Run("correct token forces reconciliation", func(t *testing.T) {
		engine := &fakeReconciler{result: Result{OrderID: "ord-1"}}
		handler := NewHandler(engine, nil, newTestVerifier(), nil, nil, "secret", slog.Default())

		req := httptest.NewRequest(http.MethodPost, "/admin/checkouts/chk-1/reconcile", nil)
		req.SetPathValue("id", "chk-1")
		req.Header.Set("X-Admin-Token", "secret")
		rec := httptest.NewRecorder()
		handler.HandleForceReconcile(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
		}
		if len(engine.calls) != 1 || engine.calls[0] != "chk-1" {
			t.Fatalf("expected one reconcile call for chk-1, got %v", engine.calls)
		}
	})
}
