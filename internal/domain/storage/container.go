package storage

import (
	"context"
	"fmt"

	"paybridge/internal/commerce"
	"paybridge/internal/domain/carts"
	"paybridge/internal/domain/notifylogs"
	"paybridge/internal/domain/orders"
	"paybridge/internal/domain/paymentcollections"
	"paybridge/internal/domain/swaps"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Container struct {
	pool        *pgxpool.Pool // IMPORTANT: set the pool so WithTx works
	orderNumber *orders.OrderNumberGenerator
	NotifyLogs  notifylogs.Store
}

func NewContainer(db *pgxpool.Pool, gen *orders.OrderNumberGenerator) *Container {
	return &Container{
		pool:        db,
		orderNumber: gen,
		NotifyLogs:  notifylogs.NewRepository(db),
	}
}

// CommerceTx is a temporary, tx-scoped set of repos for one reconciliation.
type CommerceTx struct {
	Carts       carts.Store
	Orders      orders.Store
	Swaps       swaps.Store
	Collections paymentcollections.Store
}

var (
	_ commerce.Tx     = (*CommerceTx)(nil)
	_ commerce.Store  = (*Container)(nil)
	_ commerce.Reader = (*Container)(nil)
)

// WithTx runs a commerce unit-of-work atomically.
func (c *Container) WithTx(ctx context.Context, fn func(tx commerce.Tx) error) error {
	if c.pool == nil {
		return fmt.Errorf("storage container pool is nil (did you forget to set pool in NewContainer?)")
	}

	tx, err := c.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return err
	}

	defer func() {
		_ = tx.Rollback(ctx) // safe even if already committed
	}()

	s := &CommerceTx{
		Carts:       carts.NewRepository(tx),
		Orders:      orders.NewRepository(tx, c.orderNumber),
		Swaps:       swaps.NewRepository(tx),
		Collections: paymentcollections.NewRepository(tx),
	}

	if err := fn(s); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func (s *CommerceTx) RetrieveCart(ctx context.Context, cartID string) (*commerce.Cart, error) {
	return s.Carts.Retrieve(ctx, cartID)
}

func (s *CommerceTx) RetrieveOrderByCartID(ctx context.Context, cartID string) (*commerce.Order, error) {
	return s.Orders.RetrieveByCartID(ctx, cartID)
}

func (s *CommerceTx) RetrieveSwapByCartID(ctx context.Context, cartID string) (*commerce.Swap, error) {
	return s.Swaps.RetrieveByCartID(ctx, cartID)
}

func (s *CommerceTx) SetPaymentSession(ctx context.Context, cartID, providerID string) error {
	return s.Carts.SetPaymentSession(ctx, cartID, providerID)
}

func (s *CommerceTx) AuthorizePayment(ctx context.Context, cartID string) error {
	return s.Carts.AuthorizePayment(ctx, cartID)
}

func (s *CommerceTx) CreateOrderFromCart(ctx context.Context, cartID string) (*commerce.Order, error) {
	return s.Orders.CreateFromCart(ctx, cartID)
}

func (s *CommerceTx) RegisterCartCompletion(ctx context.Context, swapID string) error {
	return s.Swaps.RegisterCartCompletion(ctx, swapID)
}

func (s *CommerceTx) RetrievePaymentCollection(ctx context.Context, collectionID string) (*commerce.PaymentCollection, error) {
	return s.Collections.Retrieve(ctx, collectionID)
}

func (s *CommerceTx) AuthorizePaymentCollection(ctx context.Context, collectionID string) error {
	return s.Collections.Authorize(ctx, collectionID)
}

func (c *Container) FindCart(ctx context.Context, cartID string) (*commerce.Cart, error) {
	return carts.NewRepository(c.pool).Find(ctx, cartID)
}

func (c *Container) FindPaymentCollection(ctx context.Context, collectionID string) (*commerce.PaymentCollection, error) {
	return paymentcollections.NewRepository(c.pool).Find(ctx, collectionID)
}
