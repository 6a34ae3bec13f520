package recon

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/fastbite/payments/internal/database"
	"github.com/fastbite/payments/internal/gateway"
	"github.com/fastbite/payments/internal/telemetry"
)

const maxWebhookBody = 1 << 20

// SignatureHeader carries the gateway's webhook signature.
const SignatureHeader = "Paylane-Signature"

// Reconciler is the engine surface the handlers need.
type Reconciler interface {
	Reconcile(ctx context.Context, checkoutID string) (Result, error)
}

// SessionGetter re-verifies payment status with the gateway. The redirect
// handler never trusts the browser-supplied session id on its own.
type SessionGetter interface {
	GetSession(ctx context.Context, sessionID string) (*gateway.Session, error)
}

type Handler struct {
	engine     Reconciler
	sessions   SessionGetter
	verifier   *gateway.WebhookVerifier
	store      Store
	metrics    *telemetry.ReconcileMetrics
	adminToken string
	logger     *slog.Logger
}

func NewHandler(engine Reconciler, sessions SessionGetter, verifier *gateway.WebhookVerifier, store Store, metrics *telemetry.ReconcileMetrics, adminToken string, logger *slog.Logger) *Handler {
	return &Handler{
		engine:     engine,
		sessions:   sessions,
		verifier:   verifier,
		store:      store,
		metrics:    metrics,
		adminToken: adminToken,
		logger:     logger,
	}
}

// HandleWebhook authenticates a gateway delivery and reconciles the checkout
// named in the verified payload. Duplicates are acknowledged with 200 so the
// gateway stops redelivering.
func (h *Handler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "unreadable request body")
		return
	}

	if err := h.verifier.Verify(body, r.Header.Get(SignatureHeader)); err != nil {
		h.metrics.RecordBadSignature(r.Context())
		h.logger.Warn("webhook signature rejected", "error", err)
		h.writeError(w, http.StatusBadRequest, "invalid signature")
		return
	}

	event, err := gateway.ParseWebhookEvent(body)
	if err != nil {
		h.logger.Warn("malformed webhook payload", "error", err)
		h.writeError(w, http.StatusBadRequest, "malformed payload")
		return
	}

	if event.Type != gateway.EventCheckoutSessionCompleted {
		h.writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}

	checkoutID := event.Session.Metadata[gateway.MetadataCheckoutID]
	if checkoutID == "" {
		h.writeError(w, http.StatusBadRequest, "event missing checkout id")
		return
	}

	result, err := h.engine.Reconcile(r.Context(), checkoutID)
	if err != nil {
		if errors.Is(err, database.ErrCheckoutNotFound) {
			h.logger.Warn("webhook for unknown checkout", "checkout_id", checkoutID)
			h.writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
			return
		}
		h.logger.Error("webhook reconciliation failed", "error", err, "checkout_id", checkoutID)
		h.writeError(w, http.StatusInternalServerError, "reconciliation failed")
		return
	}

	if result.AlreadyProcessed {
		h.logger.Info("webhook duplicate acknowledged", "checkout_id", checkoutID, "order_id", result.OrderID)
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "order_id": result.OrderID})
}

// HandleReturn serves the browser redirect after hosted checkout. The session
// id comes from an untrusted query parameter, so payment status is re-queried
// from the gateway before anything is claimed. When the gateway is
// unreachable or the session is not paid yet, the response degrades to
// "processing" and the webhook remains the source of truth.
func (h *Handler) HandleReturn(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		h.writeProcessing(w)
		return
	}

	session, err := h.sessions.GetSession(r.Context(), sessionID)
	if err != nil {
		h.logger.Warn("session status query failed, deferring to webhook", "error", err, "session_id", sessionID)
		h.writeProcessing(w)
		return
	}

	if session.PaymentStatus != gateway.PaymentStatusPaid {
		h.logger.Info("redirect for unpaid session", "session_id", sessionID, "payment_status", session.PaymentStatus)
		h.writeProcessing(w)
		return
	}

	checkoutID := session.Metadata[gateway.MetadataCheckoutID]
	if checkoutID == "" {
		h.logger.Warn("paid session missing checkout metadata", "session_id", sessionID)
		h.writeProcessing(w)
		return
	}

	result, err := h.engine.Reconcile(r.Context(), checkoutID)
	if err != nil {
		h.logger.Error("redirect reconciliation failed, deferring to webhook", "error", err, "checkout_id", checkoutID)
		h.writeProcessing(w)
		return
	}

	if result.OrderID == "" {
		// Claimed by a concurrent caller that has not committed yet.
		h.writeProcessing(w)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{"status": "confirmed", "order_id": result.OrderID})
}

// HandleForceReconcile is an operator diagnostic. Routes are only registered
// outside production, and the admin token is checked on top of that.
func (h *Handler) HandleForceReconcile(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(r) {
		h.writeError(w, http.StatusForbidden, "forbidden")
		return
	}

	checkoutID := r.PathValue("id")
	if checkoutID == "" {
		h.writeError(w, http.StatusBadRequest, "missing checkout id")
		return
	}

	result, err := h.engine.Reconcile(r.Context(), checkoutID)
	if err != nil {
		if errors.Is(err, database.ErrCheckoutNotFound) {
			h.writeError(w, http.StatusNotFound, "checkout not found")
			return
		}
		h.logger.Error("forced reconciliation failed", "error", err, "checkout_id", checkoutID)
		h.writeError(w, http.StatusInternalServerError, "reconciliation failed")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"order_id":          result.OrderID,
		"already_processed": result.AlreadyProcessed,
	})
}

// HandleListPending lists staged checkouts awaiting confirmation.
func (h *Handler) HandleListPending(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(r) {
		h.writeError(w, http.StatusForbidden, "forbidden")
		return
	}

	pendings, err := h.store.ListUnprocessed(r.Context())
	if err != nil {
		h.logger.Error("failed to list pending checkouts", "error", err)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.writeJSON(w, http.StatusOK, pendings)
}

func (h *Handler) authorized(r *http.Request) bool {
	if h.adminToken == "" {
		return false
	}
	token := r.Header.Get("X-Admin-Token")
	return subtle.ConstantTimeCompare([]byte(token), []byte(h.adminToken)) == 1
}

func (h *Handler) writeProcessing(w http.ResponseWriter) {
	h.writeJSON(w, http.StatusOK, map[string]string{
		"status":  "processing",
		"message": "Payment received. We are finalizing your order and will email a confirmation shortly.",
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
