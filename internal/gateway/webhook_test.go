package gateway

import (
	"errors"
	"testing"
	"time"
)

func TestWebhookVerifier(t *testing.T) {
	payload := []byte(`{"id":"evt_1","type":"checkout.session.completed"}`)
	verifier := NewWebhookVerifier("whsec_test", 5*time.Minute)

	t.Run("accepts a fresh valid signature", func(t *testing.T) {
		header := verifier.Sign(payload, time.Now())
		if err := verifier.Verify(payload, header); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("rejects a tampered payload", func(t *testing.T) {
		header := verifier.Sign(payload, time.Now())
		tampered := []byte(`{"id":"evt_2","type":"checkout.session.completed"}`)
		if err := verifier.Verify(tampered, header); !errors.Is(err, ErrBadSignature) {
			t.Fatalf("expected ErrBadSignature, got %v", err)
		}
	})

	t.Run("rejects a signature from the wrong secret", func(t *testing.T) {
		other := NewWebhookVerifier("whsec_other", 5*time.Minute)
		header := other.Sign(payload, time.Now())
		if err := verifier.Verify(payload, header); !errors.Is(err, ErrBadSignature) {
			t.Fatalf("expected ErrBadSignature, got %v", err)
		}
	})

	t.Run("rejects a stale timestamp", func(t *testing.T) {
		header := verifier.Sign(payload, time.Now().Add(-time.Hour))
		if err := verifier.Verify(payload, header); !errors.Is(err, ErrStaleSignature) {
			t.Fatalf("expected ErrStaleSignature, got %v", err)
		}
	})

	t.Run("rejects a timestamp from the future", func(t *testing.T) {
		header := verifier.Sign(payload, time.Now().Add(time.Hour))
		if err := verifier.Verify(payload, header); !errors.Is(err, ErrStaleSignature) {
			t.Fatalf("expected ErrStaleSignature, got %v", err)
		}
	})

	t.Run("rejects malformed headers", func(t *testing.T) {
		for _, header := range []string{"", "garbage", "t=abc,v1=feed", "t=123", "v1=feed"} {
			if err := verifier.Verify(payload, header); !errors.Is(err, ErrBadSignature) {
				t.Fatalf("header %q: expected ErrBadSignature, got %v", header, err)
			}
		}
	})
}

func TestParseWebhookEvent(t *testing.T) {
	t.Run("parses a completed session event", func(t *testing.T) {
		payload := []byte(`{
			"id": "evt_1",
			"type": "checkout.session.completed",
			"data": {"id": "cs_1", "metadata": {"checkout_id": "chk-1"}}
		}`)

		event, err := ParseWebhookEvent(payload)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if event.Type != EventCheckoutSessionCompleted {
			t.Fatalf("unexpected type: %s", event.Type)
		}
		if event.Session.Metadata[MetadataCheckoutID] != "chk-1" {
			t.Fatalf("unexpected checkout id: %q", event.Session.Metadata[MetadataCheckoutID])
		}
	})

	t.Run("rejects invalid json", func(t *testing.T) {
		if _, err := ParseWebhookEvent([]byte("{not json")); !errors.Is(err, ErrMalformedPayload) {
			t.Fatalf("expected ErrMalformedPayload, got %v", err)
		}
	})

	t.Run("rejects events without a type", func(t *testing.T) {
		if _, err := ParseWebhookEvent([]byte(`{"id":"evt_1"}`)); !errors.Is(err, ErrMalformedPayload) {
			t.Fatalf("expected ErrMalformedPayload, got %v", err)
		}
	})
}
