package checkout

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/fastbite/payments/internal/database"
	"github.com/fastbite/payments/internal/domain"
	"github.com/fastbite/payments/internal/gateway"
)

type Handler struct {
	service *Service
	logger  *slog.Logger
}

func NewHandler(service *Service, logger *slog.Logger) *Handler {
	return &Handler{
		service: service,
		logger:  logger,
	}
}

type stageRequest struct {
	CustomerID      *string           `json:"customer_id,omitempty"`
	CustomerName    string            `json:"customer_name"`
	CustomerEmail   string            `json:"customer_email"`
	DeliveryAddress string            `json:"delivery_address"`
	PhoneNumber     string            `json:"phone_number"`
	Items           []domain.CartLine `json:"items"`
}

type stageResponse struct {
	CheckoutID  string `json:"checkout_id"`
	RedirectURL string `json:"redirect_url"`
	Amount      string `json:"amount"`
}

func (h *Handler) HandleStage(w http.ResponseWriter, r *http.Request) {
	var req stageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := h.service.Stage(r.Context(), StageParams{
		CustomerID:      req.CustomerID,
		CustomerName:    req.CustomerName,
		CustomerEmail:   req.CustomerEmail,
		DeliveryAddress: req.DeliveryAddress,
		PhoneNumber:     req.PhoneNumber,
		Cart:            req.Items,
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrEmptyCart), errors.Is(err, ErrBadQuantity):
			h.writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, database.ErrProductNotFound):
			h.writeError(w, http.StatusNotFound, "cart references an unknown product")
		case errors.Is(err, gateway.ErrNoSessionURL), errors.Is(err, gateway.ErrUnavailable):
			h.logger.Error("checkout session creation failed", "error", err)
			h.writeError(w, http.StatusBadGateway, "unable to start payment, please try again")
		default:
			h.logger.Error("failed to stage checkout", "error", err)
			h.writeError(w, http.StatusInternalServerError, "internal server error")
		}
		return
	}

	h.writeJSON(w, http.StatusCreated, stageResponse{
		CheckoutID:  result.CheckoutID,
		RedirectURL: result.RedirectURL,
		Amount:      result.Amount.StringFixed(2),
	})
}

type statusResponse struct {
	CheckoutID string  `json:"checkout_id"`
	Status     string  `json:"status"`
	OrderID    *string `json:"order_id,omitempty"`
}

func (h *Handler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	checkoutID := r.PathValue("id")
	if checkoutID == "" {
		h.writeError(w, http.StatusBadRequest, "missing checkout id")
		return
	}

	pending, err := h.service.Status(r.Context(), checkoutID)
	if err != nil {
		if errors.Is(err, database.ErrCheckoutNotFound) {
			h.writeError(w, http.StatusNotFound, "checkout not found")
			return
		}
		h.logger.Error("failed to get checkout status", "error", err, "checkout_id", checkoutID)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	status := "awaiting_payment"
	switch {
	case pending.Committed():
		status = "completed"
	case pending.ClaimedAt != nil:
		status = "processing"
	}

	h.writeJSON(w, http.StatusOK, statusResponse{
		CheckoutID: pending.ID,
		Status:     status,
		OrderID:    pending.OrderID,
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
