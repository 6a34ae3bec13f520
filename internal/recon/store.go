package recon

import (
	"context"
	"errors"

	"github.com/fastbite/payments/internal/domain"
)

// ErrNoResolvableItems means every cart line referenced a product that no
// longer exists. The commit is failed and the claim released so an operator
// can resolve the attempt manually.
var ErrNoResolvableItems = errors.New("no cart lines resolve to existing products")

// Store is the persistence surface the engine needs. Claim must be a single
// atomic conditional write: two concurrent callers for the same checkout must
// see exactly one true. CommitOrder must apply all its writes in one
// transaction.
type Store interface {
	// Claim transitions claimed_at from null to now for the given checkout
	// and reports whether this caller won the transition.
	Claim(ctx context.Context, checkoutID string) (bool, error)

	// ReleaseClaim clears claimed_at back to null after a failed commit so a
	// redelivery can retry the attempt.
	ReleaseClaim(ctx context.Context, checkoutID string) error

	// GetPending loads the staged checkout. Amounts and customer fields are
	// always read from here, never from the triggering request.
	GetPending(ctx context.Context, checkoutID string) (*domain.PendingCheckout, error)

	// ResolveProducts returns the current catalog rows for the given ids.
	// Missing ids are simply absent from the result.
	ResolveProducts(ctx context.Context, productIDs []int64) (map[int64]domain.Product, error)

	// CommitOrder inserts the order, its line items and the audit entry, and
	// marks the pending checkout committed, all in one transaction.
	CommitOrder(ctx context.Context, checkoutID string, order *domain.Order, audit *domain.AuditEntry) error

	// CommittedOrderID returns the order a checkout already committed to, if
	// any.
	CommittedOrderID(ctx context.Context, checkoutID string) (string, bool, error)

	// ListUnprocessed returns staged checkouts that have not committed yet.
	// Operator diagnostics only.
	ListUnprocessed(ctx context.Context) ([]domain.PendingCheckout, error)
}

// Dispatcher delivers the post-commit confirmation event. Failures are logged
// and ignored; they never affect the commit.
type Dispatcher interface {
	OrderConfirmed(ctx context.Context, event domain.OrderConfirmedEvent) error
}

// Result of a Reconcile call. AlreadyProcessed marks the benign duplicate
// path: the attempt was claimed or committed by an earlier caller, and
// OrderID carries the prior commit's order when one exists.
type Result struct {
	OrderID          string
	AlreadyProcessed bool
}
