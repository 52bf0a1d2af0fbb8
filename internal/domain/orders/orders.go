package orders

import (
	"context"
	"errors"
	"fmt"

	"paybridge/internal/commerce"
	"paybridge/internal/infra/dbx"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var ErrOrderExists = commerce.ErrOrderExists

type Repository struct {
	q   dbx.Querier
	gen *OrderNumberGenerator
}

func NewRepository(q dbx.Querier, gen *OrderNumberGenerator) *Repository {
	if gen == nil {
		panic("orders: OrderNumberGenerator is nil")
	}
	return &Repository{
		q:   q,
		gen: gen,
	}
}

func (r *Repository) RetrieveByCartID(ctx context.Context, cartID string) (*commerce.Order, error) {
	var o commerce.Order
	err := r.q.QueryRow(ctx, `
SELECT id, cart_id, order_number, status, payment_status, total_cents, created_at
FROM orders WHERE cart_id = $1`, cartID).
		Scan(&o.ID, &o.CartID, &o.OrderNumber, &o.Status, &o.PaymentStatus, &o.TotalCents, &o.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("order for cart %s: %w", cartID, commerce.ErrNotFound)
		}
		return nil, fmt.Errorf("get order by cart: %w", err)
	}
	return &o, nil
}

// CreateFromCart creates the order snapshot for a cart whose payment is authorized and marks
// the cart completed.
//
// orders.cart_id is UNIQUE: if a concurrent transaction slipped past the caller's existence
// check, the insert fails with ErrOrderExists instead of producing a second order.
//
// Assumes this is called INSIDE a transaction.
func (r *Repository) CreateFromCart(ctx context.Context, cartID string) (*commerce.Order, error) {
	o := &commerce.Order{
		ID:          "order_" + uuid.NewString(),
		CartID:      cartID,
		OrderNumber: r.gen.Generate(cartID),
	}

	err := r.q.QueryRow(ctx, `
INSERT INTO orders (id, cart_id, order_number, status, payment_status, total_cents)
SELECT $1, c.id, $3, 'pending', 'authorized', c.total_cents
FROM carts c
WHERE c.id = $2
  AND c.payment_status = 'authorized'
RETURNING status, payment_status, total_cents, created_at
`, o.ID, cartID, o.OrderNumber).Scan(&o.Status, &o.PaymentStatus, &o.TotalCents, &o.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("create order: cart %s is not authorized", cartID)
		}
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, fmt.Errorf("order for cart %s: %w", cartID, ErrOrderExists)
		}
		return nil, fmt.Errorf("create order: %w", err)
	}

	if _, err := r.q.Exec(ctx, `
UPDATE carts
SET completed_at = now(),
    updated_at = now()
WHERE id = $1
`, cartID); err != nil {
		return nil, fmt.Errorf("complete cart: %w", err)
	}

	return o, nil
}
