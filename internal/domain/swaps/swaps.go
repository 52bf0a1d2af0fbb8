package swaps

import (
	"context"
	"errors"
	"fmt"

	"paybridge/internal/commerce"
	"paybridge/internal/infra/dbx"

	"github.com/jackc/pgx/v5"
)

type Store interface {
	RetrieveByCartID(ctx context.Context, cartID string) (*commerce.Swap, error)
	RegisterCartCompletion(ctx context.Context, swapID string) error
}

type Repository struct{ q dbx.Querier }

func NewRepository(q dbx.Querier) *Repository { return &Repository{q: q} }

func (r *Repository) RetrieveByCartID(ctx context.Context, cartID string) (*commerce.Swap, error) {
	var s commerce.Swap
	err := r.q.QueryRow(ctx, `
SELECT id, cart_id, order_id, confirmed_at
FROM swaps
WHERE cart_id = $1
`, cartID).Scan(&s.ID, &s.CartID, &s.OrderID, &s.ConfirmedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("swap for cart %s: %w", cartID, commerce.ErrNotFound)
		}
		return nil, fmt.Errorf("get swap by cart: %w", err)
	}
	return &s, nil
}

// RegisterCartCompletion confirms the swap once its difference cart has been paid.
func (r *Repository) RegisterCartCompletion(ctx context.Context, swapID string) error {
	tag, err := r.q.Exec(ctx, `
UPDATE swaps
SET confirmed_at = now(),
    payment_status = 'authorized',
    updated_at = now()
WHERE id = $1
  AND confirmed_at IS NULL
`, swapID)
	if err != nil {
		return fmt.Errorf("register swap cart completion: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("swap %s not found or already confirmed", swapID)
	}
	return nil
}
