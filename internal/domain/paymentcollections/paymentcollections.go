package paymentcollections

import (
	"context"
	"errors"
	"fmt"

	"paybridge/internal/commerce"
	"paybridge/internal/infra/dbx"

	"github.com/jackc/pgx/v5"
)

type Store interface {
	Retrieve(ctx context.Context, id string) (*commerce.PaymentCollection, error)
	Find(ctx context.Context, id string) (*commerce.PaymentCollection, error)
	Authorize(ctx context.Context, id string) error
}

type Repository struct{ q dbx.Querier }

func NewRepository(q dbx.Querier) *Repository { return &Repository{q: q} }

// Retrieve locks the collection row until the surrounding transaction ends.
func (r *Repository) Retrieve(ctx context.Context, id string) (*commerce.PaymentCollection, error) {
	return r.get(ctx, id, "FOR UPDATE")
}

func (r *Repository) Find(ctx context.Context, id string) (*commerce.PaymentCollection, error) {
	return r.get(ctx, id, "")
}

func (r *Repository) get(ctx context.Context, id, lock string) (*commerce.PaymentCollection, error) {
	var p commerce.PaymentCollection
	err := r.q.QueryRow(ctx, `
SELECT id, amount_cents, currency, status, authorized_at
FROM payment_collections
WHERE id = $1
`+lock, id).Scan(&p.ID, &p.AmountCents, &p.Currency, &p.Status, &p.AuthorizedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("payment collection %s: %w", id, commerce.ErrNotFound)
		}
		return nil, fmt.Errorf("get payment collection: %w", err)
	}
	return &p, nil
}

// Authorize is idempotent: an already authorized collection is left untouched.
func (r *Repository) Authorize(ctx context.Context, id string) error {
	_, err := r.q.Exec(ctx, `
UPDATE payment_collections
SET status = 'authorized',
    authorized_at = now(),
    updated_at = now()
WHERE id = $1
  AND status <> 'authorized'
`, id)
	if err != nil {
		return fmt.Errorf("authorize payment collection: %w", err)
	}
	return nil
}
