package carts

import (
	"context"

	"paybridge/internal/commerce"
)

type Store interface {
	Retrieve(ctx context.Context, cartID string) (*commerce.Cart, error)
	Find(ctx context.Context, cartID string) (*commerce.Cart, error)
	SetPaymentSession(ctx context.Context, cartID, providerID string) error
	AuthorizePayment(ctx context.Context, cartID string) error
}
