package orders

import (
	"context"

	"paybridge/internal/commerce"
)

type Store interface {
	RetrieveByCartID(ctx context.Context, cartID string) (*commerce.Order, error)
	// CreateFromCart snapshots an authorized cart into a new order.
	CreateFromCart(ctx context.Context, cartID string) (*commerce.Order, error)
}
