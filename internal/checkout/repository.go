package checkout

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/lib/pq"

	"github.com/fastbite/payments/internal/database"
	"github.com/fastbite/payments/internal/domain"
)

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) GetProducts(ctx context.Context, productIDs []int64) (map[int64]domain.Product, error) {
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

func (r *Repository) InsertPending(ctx context.Context, pending *domain.PendingCheckout) error {
	cartJSON, err := json.Marshal(pending.Cart)
	if err != nil {
		return fmt.Errorf("encode cart snapshot: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO pending_checkouts (id, customer_id, cart, customer_name, customer_email,
		                               delivery_address, phone_number, amount, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, pending.ID, pending.CustomerID, cartJSON, pending.CustomerName, pending.CustomerEmail,
		pending.DeliveryAddress, pending.PhoneNumber, pending.Amount, pending.CreatedAt)
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
