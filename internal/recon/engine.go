package recon

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/fastbite/payments/internal/database"
	"github.com/fastbite/payments/internal/domain"
	"github.com/fastbite/payments/internal/telemetry"
)

// amountTolerance is the rounding slack allowed between the staged amount and
// the total recomputed from line items before the discrepancy is audited.
var amountTolerance = decimal.NewFromFloat(0.01)

// Engine converts a confirmed payment signal into exactly one committed
// order. All three entry points (webhook, redirect, operator retry) delegate
// here; the claim inside the store is the sole synchronization point.
type Engine struct {
	store      Store
	dispatcher Dispatcher
	metrics    *telemetry.ReconcileMetrics
	logger     *slog.Logger
}

func NewEngine(store Store, dispatcher Dispatcher, metrics *telemetry.ReconcileMetrics, logger *slog.Logger) *Engine {
	return &Engine{
		store:      store,
		dispatcher: dispatcher,
		metrics:    metrics,
		logger:     logger,
	}
}

// Reconcile commits the order for a staged checkout at most once. Duplicate
// and concurrent calls for the same checkout return AlreadyProcessed with the
// prior order id instead of creating a second order.
func (e *Engine) Reconcile(ctx context.Context, checkoutID string) (Result, error) {
	won, err := e.store.Claim(ctx, checkoutID)
	if err != nil {
		return Result{}, fmt.Errorf("claim checkout %s: %w", checkoutID, err)
	}

	if !won {
		orderID, committed, err := e.store.CommittedOrderID(ctx, checkoutID)
		if err != nil {
			return Result{}, fmt.Errorf("look up committed order for %s: %w", checkoutID, err)
		}
		if !committed {
			e.logger.Info("checkout claimed by concurrent caller", "checkout_id", checkoutID)
		}
		e.metrics.RecordOutcome(ctx, "duplicate")
		return Result{OrderID: orderID, AlreadyProcessed: true}, nil
	}

	pending, err := e.store.GetPending(ctx, checkoutID)
	if err != nil {
		e.release(ctx, checkoutID)
		return Result{}, fmt.Errorf("load pending checkout %s: %w", checkoutID, err)
	}

	order, audit, err := e.buildOrder(ctx, pending)
	if err != nil {
		e.release(ctx, checkoutID)
		return Result{}, err
	}

	if err := e.store.CommitOrder(ctx, checkoutID, order, audit); err != nil {
		e.release(ctx, checkoutID)
		e.metrics.RecordOutcome(ctx, "released")
		e.logger.Error("order commit failed, claim released for retry",
			"error", err, "checkout_id", checkoutID, "retryable", database.IsRetryable(err))
		return Result{}, fmt.Errorf("commit order for checkout %s: %w", checkoutID, err)
	}

	e.metrics.RecordOutcome(ctx, "committed")
	e.logger.Info("order committed", "checkout_id", checkoutID, "order_id", order.ID, "total", order.TotalAmount)

	e.notify(ctx, pending, order)

	return Result{OrderID: order.ID}, nil
}

// buildOrder resolves the cart snapshot against the current catalog. Lines
// whose product has vanished are skipped and the total recomputed from the
// resolvable lines; the discrepancy is recorded in the audit entry. A cart
// with no resolvable lines at all fails the commit.
func (e *Engine) buildOrder(ctx context.Context, pending *domain.PendingCheckout) (*domain.Order, *domain.AuditEntry, error) {
	productIDs := make([]int64, 0, len(pending.Cart))
	for _, line := range pending.Cart {
		productIDs = append(productIDs, line.ProductID)
	}

	products, err := e.store.ResolveProducts(ctx, productIDs)
	if err != nil {
		return nil, nil, fmt.Errorf("resolve products for checkout %s: %w", pending.ID, err)
	}

	orderID := uuid.New().String()
	now := time.Now().UTC()

	var items []domain.OrderLineItem
	var skipped []int64
	total := decimal.Zero

	for _, line := range pending.Cart {
		product, ok := products[line.ProductID]
		if !ok {
			skipped = append(skipped, line.ProductID)
			continue
		}
		items = append(items, domain.OrderLineItem{
			ID:        uuid.New().String(),
			OrderID:   orderID,
			ProductID: line.ProductID,
			Quantity:  line.Quantity,
			UnitPrice: product.Price,
		})
		total = total.Add(product.Price.Mul(decimal.NewFromInt(int64(line.Quantity))))
	}

	if len(items) == 0 {
		return nil, nil, fmt.Errorf("checkout %s: %w", pending.ID, ErrNoResolvableItems)
	}

	order := &domain.Order{
		ID:              orderID,
		CustomerID:      pending.CustomerID,
		CustomerName:    pending.CustomerName,
		DeliveryAddress: pending.DeliveryAddress,
		PhoneNumber:     pending.PhoneNumber,
		TotalAmount:     total,
		Status:          domain.OrderStatusPending,
		Items:           items,
		CreatedAt:       now,
	}

	detail := fmt.Sprintf("order created from checkout %s, amount %s", pending.ID, total.StringFixed(2))
	if len(skipped) > 0 {
		detail += fmt.Sprintf("; skipped vanished products %v", skipped)
	}
	if total.Sub(pending.Amount).Abs().GreaterThan(amountTolerance) {
		detail += fmt.Sprintf("; staged amount was %s", pending.Amount.StringFixed(2))
		e.logger.Warn("order total differs from staged amount",
			"checkout_id", pending.ID, "staged", pending.Amount, "committed", total)
	}

	actor := "system"
	if pending.CustomerID != nil {
		actor = *pending.CustomerID
	}

	audit := &domain.AuditEntry{
		ID:        uuid.New().String(),
		Actor:     actor,
		Action:    "order.commit",
		Entity:    "order",
		EntityID:  orderID,
		Detail:    detail,
		CreatedAt: now,
	}

	return order, audit, nil
}

// release clears the claim after a failed attempt. It must run even when the
// caller's context is already gone, otherwise the attempt is stranded
// claimed-forever.
func (e *Engine) release(ctx context.Context, checkoutID string) {
	releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if err := e.store.ReleaseClaim(releaseCtx, checkoutID); err != nil {
		e.logger.Error("failed to release claim, checkout is stranded until manual retry",
			"error", err, "checkout_id", checkoutID)
	}
}

func (e *Engine) notify(ctx context.Context, pending *domain.PendingCheckout, order *domain.Order) {
	if e.dispatcher == nil {
		return
	}

	event := domain.OrderConfirmedEvent{
		OrderID:       order.ID,
		CheckoutID:    pending.ID,
		CustomerName:  pending.CustomerName,
		CustomerEmail: pending.CustomerEmail,
		TotalAmount:   order.TotalAmount,
		Timestamp:     order.CreatedAt,
	}

	if err := e.dispatcher.OrderConfirmed(ctx, event); err != nil {
		e.logger.Error("failed to publish order confirmed event", "error", err, "order_id", order.ID)
	}
}
