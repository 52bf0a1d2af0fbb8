package carts

import (
	"context"
	"errors"
	"fmt"

	"paybridge/internal/commerce"
	"paybridge/internal/infra/dbx"

	"github.com/jackc/pgx/v5"
)

type Repository struct {
	db dbx.Querier
}

func NewRepository(q dbx.Querier) *Repository {
	return &Repository{db: q}
}

// Retrieve loads the cart and takes a row lock on it.
//
// Two notifications for the same cart serialize here: the second one blocks until the first
// transaction commits and then sees the order / swap state the first one produced.
// Must be called inside a transaction for the lock to mean anything.
func (r *Repository) Retrieve(ctx context.Context, cartID string) (*commerce.Cart, error) {
	return r.get(ctx, cartID, "FOR UPDATE")
}

// Find loads the cart without locking it.
func (r *Repository) Find(ctx context.Context, cartID string) (*commerce.Cart, error) {
	return r.get(ctx, cartID, "")
}

func (r *Repository) get(ctx context.Context, cartID, lock string) (*commerce.Cart, error) {
	var c commerce.Cart
	err := r.db.QueryRow(ctx, `
SELECT id, type, total_cents, currency, payment_provider_id, payment_status,
       payment_authorized_at, created_at, updated_at
FROM carts
WHERE id = $1
`+lock, cartID).Scan(
		&c.ID,
		&c.Type,
		&c.TotalCents,
		&c.Currency,
		&c.PaymentProviderID,
		&c.PaymentStatus,
		&c.PaymentAuthorized,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("cart %s: %w", cartID, commerce.ErrNotFound)
		}
		return nil, fmt.Errorf("get cart: %w", err)
	}
	return &c, nil
}

func (r *Repository) SetPaymentSession(ctx context.Context, cartID, providerID string) error {
	tag, err := r.db.Exec(ctx, `
UPDATE carts
SET payment_provider_id = $2,
    updated_at = now()
WHERE id = $1
`, cartID, providerID)
	if err != nil {
		return fmt.Errorf("set payment session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("set payment session on cart %s: %w", cartID, commerce.ErrNotFound)
	}
	return nil
}

// AuthorizePayment marks the cart's payment as authorized. The cart must already carry a
// payment session; authorizing twice keeps the first timestamp.
func (r *Repository) AuthorizePayment(ctx context.Context, cartID string) error {
	tag, err := r.db.Exec(ctx, `
UPDATE carts
SET payment_status = 'authorized',
    payment_authorized_at = COALESCE(payment_authorized_at, now()),
    updated_at = now()
WHERE id = $1
  AND payment_provider_id IS NOT NULL
`, cartID)
	if err != nil {
		return fmt.Errorf("authorize cart payment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("authorize cart %s: no payment session", cartID)
	}
	return nil
}
