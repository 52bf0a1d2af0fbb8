// Package commerce is the contract between the payment relay and the store that owns carts,
// orders, swaps and payment collections. Every operation on Tx participates in the caller's
// transaction.
package commerce

import (
	"context"
	"errors"
)

var (
	ErrNotFound = errors.New("resource not found")
	// ErrOrderExists is the unique order per cart rejecting a second order.
	ErrOrderExists = errors.New("order already exists for cart")
)

type Tx interface {
	// RetrieveCart returns the cart and locks it until the transaction ends.
	RetrieveCart(ctx context.Context, cartID string) (*Cart, error)
	RetrieveOrderByCartID(ctx context.Context, cartID string) (*Order, error)
	RetrieveSwapByCartID(ctx context.Context, cartID string) (*Swap, error)
	SetPaymentSession(ctx context.Context, cartID, providerID string) error
	AuthorizePayment(ctx context.Context, cartID string) error
	CreateOrderFromCart(ctx context.Context, cartID string) (*Order, error)
	RegisterCartCompletion(ctx context.Context, swapID string) error

	// RetrievePaymentCollection returns the collection and locks it until the transaction ends.
	RetrievePaymentCollection(ctx context.Context, collectionID string) (*PaymentCollection, error)
	// AuthorizePaymentCollection is a no-op for an already authorized collection.
	AuthorizePaymentCollection(ctx context.Context, collectionID string) error
}

// Store runs fn inside one transaction. fn returning an error rolls everything back.
type Store interface {
	WithTx(ctx context.Context, fn func(tx Tx) error) error
}

// Reader looks aggregates up outside any transaction, without locking them.
type Reader interface {
	FindCart(ctx context.Context, cartID string) (*Cart, error)
	FindPaymentCollection(ctx context.Context, collectionID string) (*PaymentCollection, error)
}
