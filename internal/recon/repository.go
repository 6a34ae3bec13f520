package recon

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/lib/pq"

	"github.com/fastbite/payments/internal/database"
	"github.com/fastbite/payments/internal/domain"
)

// Repository is the Postgres-backed Store. The claim is a single conditional
// UPDATE whose affected-row count is the only signal for who won; there is no
// read-then-write window for two callers to race through.
type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Claim(ctx context.Context, checkoutID string) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE pending_checkouts
		SET claimed_at = NOW()
		WHERE id = $1 AND claimed_at IS NULL
	`, checkoutID)
	if err != nil {
		return false, err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}

	return rowsAffected == 1, nil
}

func (r *Repository) ReleaseClaim(ctx context.Context, checkoutID string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE pending_checkouts
		SET claimed_at = NULL
		WHERE id = $1 AND order_id IS NULL
	`, checkoutID)
	return err
}

func (r *Repository) GetPending(ctx context.Context, checkoutID string) (*domain.PendingCheckout, error) {
	pending := &domain.PendingCheckout{}
	var cartJSON []byte

	err := r.db.QueryRowContext(ctx, `
		SELECT id, customer_id, cart, customer_name, customer_email,
		       delivery_address, phone_number, amount, created_at, claimed_at, order_id
		FROM pending_checkouts
		WHERE id = $1
	`, checkoutID).Scan(
		&pending.ID,
		&pending.CustomerID,
		&cartJSON,
		&pending.CustomerName,
		&pending.CustomerEmail,
		&pending.DeliveryAddress,
		&pending.PhoneNumber,
		&pending.Amount,
		&pending.CreatedAt,
		&pending.ClaimedAt,
		&pending.OrderID,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, database.ErrCheckoutNotFound
		}
		return nil, err
	}

	if err := json.Unmarshal(cartJSON, &pending.Cart); err != nil {
		return nil, fmt.Errorf("decode cart snapshot: %w", err)
	}

	return pending, nil
}

func (r *Repository) ResolveProducts(ctx context.Context, productIDs []int64) (map[int64]domain.Product, error) {
	if len(productIDs) == 0 {
		return map[int64]domain.Product{}, nil
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, price, available
		FROM products
		WHERE id = ANY($1)
	`, pq.Array(productIDs))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	products := make(map[int64]domain.Product)
	for rows.Next() {
		var product domain.Product
		if err := rows.Scan(&product.ID, &product.Name, &product.Price, &product.Available); err != nil {
			return nil, err
		}
		products[product.ID] = product
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return products, nil
}

func (r *Repository) CommitOrder(ctx context.Context, checkoutID string, order *domain.Order, audit *domain.AuditEntry) error {
	return database.WithTransaction(ctx, r.db, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO orders (id, customer_id, customer_name, delivery_address,
			                    phone_number, total_amount, status, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, order.ID, order.CustomerID, order.CustomerName, order.DeliveryAddress,
			order.PhoneNumber, order.TotalAmount, order.Status, order.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert order: %w", err)
		}

		for _, item := range order.Items {
			_, err = tx.ExecContext(ctx, `
				INSERT INTO order_items (id, order_id, product_id, quantity, unit_price)
				VALUES ($1, $2, $3, $4, $5)
			`, item.ID, order.ID, item.ProductID, item.Quantity, item.UnitPrice)
			if err != nil {
				return fmt.Errorf("insert order item: %w", err)
			}
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO audit_log (id, actor, action, entity, entity_id, detail, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, audit.ID, audit.Actor, audit.Action, audit.Entity, audit.EntityID, audit.Detail, audit.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert audit entry: %w", err)
		}

		result, err := tx.ExecContext(ctx, `
			UPDATE pending_checkouts
			SET order_id = $2
			WHERE id = $1 AND claimed_at IS NOT NULL AND order_id IS NULL
		`, checkoutID, order.ID)
		if err != nil {
			return fmt.Errorf("mark checkout committed: %w", err)
		}

		rowsAffected, err := result.RowsAffected()
		if err != nil {
			return err
		}
		if rowsAffected == 0 {
			return fmt.Errorf("checkout %s is not in a claimable state", checkoutID)
		}

		return nil
	})
}

func (r *Repository) CommittedOrderID(ctx context.Context, checkoutID string) (string, bool, error) {
	var orderID sql.NullString

	err := r.db.QueryRowContext(ctx, `
		SELECT order_id FROM pending_checkouts WHERE id = $1
	`, checkoutID).Scan(&orderID)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", false, database.ErrCheckoutNotFound
		}
		return "", false, err
	}

	return orderID.String, orderID.Valid, nil
}

func (r *Repository) ListUnprocessed(ctx context.Context) ([]domain.PendingCheckout, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, amount, created_at, claimed_at
		FROM pending_checkouts
		WHERE order_id IS NULL
		ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var pendings []domain.PendingCheckout
	for rows.Next() {
		var pending domain.PendingCheckout
		if err := rows.Scan(&pending.ID, &pending.Amount, &pending.CreatedAt, &pending.ClaimedAt); err != nil {
			return nil, err
		}
		pendings = append(pendings, pending)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return pendings, nil
}
