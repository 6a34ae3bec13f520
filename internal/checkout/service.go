package checkout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/fastbite/payments/internal/config"
	"github.com/fastbite/payments/internal/database"
	"github.com/fastbite/payments/internal/domain"
	"github.com/fastbite/payments/internal/gateway"
)

var (
	ErrEmptyCart   = errors.New("cart is empty")
	ErrBadQuantity = errors.New("cart line quantity must be positive")
)

// SessionCreator is the gateway surface staging needs.
type SessionCreator interface {
	CreateSession(ctx context.Context, params gateway.CreateSessionParams) (*gateway.Session, error)
}

// Store is the persistence surface staging needs. Repository implements it.
type Store interface {
	GetProducts(ctx context.Context, productIDs []int64) (map[int64]domain.Product, error)
	InsertPending(ctx context.Context, pending *domain.PendingCheckout) error
	GetPending(ctx context.Context, checkoutID string) (*domain.PendingCheckout, error)
}

type StageParams struct {
	CustomerID      *string
	CustomerName    string
	CustomerEmail   string
	DeliveryAddress string
	PhoneNumber     string
	Cart            []domain.CartLine
}

type StageResult struct {
	CheckoutID  string
	SessionID   string
	RedirectURL string
	Amount      decimal.Decimal
}

// Service stages a checkout attempt: it freezes the cart snapshot, computes
// the amount from the current catalog and opens a hosted checkout session
// with the checkout id in the session metadata.
type Service struct {
	repo    Store
	gw      SessionCreator
	gateway config.GatewayConfig
	logger  *slog.Logger
}

func NewService(repo Store, gw SessionCreator, gatewayCfg config.GatewayConfig, logger *slog.Logger) *Service {
	return &Service{
		repo:    repo,
		gw:      gw,
		gateway: gatewayCfg,
		logger:  logger,
	}
}

func (s *Service) Stage(ctx context.Context, params StageParams) (*StageResult, error) {
	if len(params.Cart) == 0 {
		return nil, ErrEmptyCart
	}

	productIDs := make([]int64, 0, len(params.Cart))
	for _, line := range params.Cart {
		if line.Quantity <= 0 {
			return nil, ErrBadQuantity
		}
		productIDs = append(productIDs, line.ProductID)
	}

	products, err := s.repo.GetProducts(ctx, productIDs)
	if err != nil {
		return nil, fmt.Errorf("resolve cart products: %w", err)
	}

	amount := decimal.Zero
	for _, line := range params.Cart {
		product, ok := products[line.ProductID]
		if !ok {
			return nil, fmt.Errorf("product %d: %w", line.ProductID, database.ErrProductNotFound)
		}
		amount = amount.Add(product.Price.Mul(decimal.NewFromInt(int64(line.Quantity))))
	}

	pending := &domain.PendingCheckout{
		ID:              uuid.New().String(),
		CustomerID:      params.CustomerID,
		Cart:            params.Cart,
		CustomerName:    params.CustomerName,
		CustomerEmail:   params.CustomerEmail,
		DeliveryAddress: params.DeliveryAddress,
		PhoneNumber:     params.PhoneNumber,
		Amount:          amount,
		CreatedAt:       time.Now().UTC(),
	}

	if err := s.repo.InsertPending(ctx, pending); err != nil {
		return nil, fmt.Errorf("stage pending checkout: %w", err)
	}

	metadata := map[string]string{gateway.MetadataCheckoutID: pending.ID}
	if params.CustomerID != nil {
		metadata["customer_id"] = *params.CustomerID
	}

	session, err := s.gw.CreateSession(ctx, gateway.CreateSessionParams{
		AmountCents: amount.Mul(decimal.NewFromInt(100)).Round(0).IntPart(),
		Currency:    s.gateway.Currency,
		Description: fmt.Sprintf("Order payment for checkout %s", pending.ID),
		SuccessURL:  s.gateway.SuccessURL,
		CancelURL:   s.gateway.CancelURL,
		Metadata:    metadata,
	})
	if err != nil {
		// The staged row stays behind unclaimed; the customer simply retries
		// checkout and the abandoned row never commits.
		return nil, fmt.Errorf("create checkout session: %w", err)
	}

	s.logger.Info("checkout staged", "checkout_id", pending.ID, "session_id", session.ID, "amount", amount)

	return &StageResult{
		CheckoutID:  pending.ID,
		SessionID:   session.ID,
		RedirectURL: session.URL,
		Amount:      amount,
	}, nil
}

// Status reports where a staged checkout is in its lifecycle.
func (s *Service) Status(ctx context.Context, checkoutID string) (*domain.PendingCheckout, error) {
	return s.repo.GetPending(ctx, checkoutID)
}
