// Package reconcile applies a verified payment notification to commerce state in one
// transaction and announces the result on the notification bus.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"paybridge/internal/commerce"
	"paybridge/internal/notify"
)

// PaymentCollectionPrefix marks correlation ids that settle a payment collection instead of
// a cart.
const PaymentCollectionPrefix = "paycol_"

// IsPaymentCollection reports whether id settles a payment collection.
func IsPaymentCollection(id string) bool {
	return strings.HasPrefix(id, PaymentCollectionPrefix) && len(id) > len(PaymentCollectionPrefix)
}

// CollectionID strips the payment collection prefix.
func CollectionID(id string) string {
	return strings.TrimPrefix(id, PaymentCollectionPrefix)
}

type checkoutKind int

const (
	plainCheckout checkoutKind = iota
	swapCheckout
)

func kindOf(c *commerce.Cart) checkoutKind {
	if c.Type == commerce.CartTypeSwap {
		return swapCheckout
	}
	return plainCheckout
}

type Engine struct {
	store      commerce.Store
	publisher  notify.Publisher
	providerID string
	logger     *zap.SugaredLogger
}

func NewEngine(store commerce.Store, publisher notify.Publisher, providerID string, logger *zap.SugaredLogger) *Engine {
	return &Engine{
		store:      store,
		publisher:  publisher,
		providerID: providerID,
		logger:     logger,
	}
}

// Reconcile authorizes the payment for correlationID if declared matches the expected total.
// Running it again for an already settled id changes nothing and still succeeds. Exactly one
// outcome is published per call, after the transaction has settled.
//
// The returned error wraps ErrAmountMismatch, ErrAggregateNotFound or ErrTransactionFailure.
func (e *Engine) Reconcile(ctx context.Context, correlationID string, declared decimal.Decimal) (notify.Outcome, error) {
	var err error
	if IsPaymentCollection(correlationID) {
		err = e.store.WithTx(ctx, func(tx commerce.Tx) error {
			return e.authorizeCollection(ctx, tx, CollectionID(correlationID), declared)
		})
	} else {
		err = e.store.WithTx(ctx, func(tx commerce.Tx) error {
			return e.authorizeCart(ctx, tx, correlationID, declared)
		})
	}

	if err != nil && !errors.Is(err, ErrAmountMismatch) && !errors.Is(err, ErrAggregateNotFound) {
		err = fmt.Errorf("%w: %w", ErrTransactionFailure, err)
	}

	outcome := notify.Outcome{
		CorrelationID: correlationID,
		Succeeded:     err == nil,
		Reason:        reasonFor(err),
	}
	if pubErr := e.publisher.Publish(ctx, outcome); pubErr != nil {
		e.logger.Warnw("outcome not published", "correlation_id", correlationID, "err", pubErr)
	}

	return outcome, err
}

// Pending announces that correlationID has a verified notification without a confirmed
// payment. Nothing is written to the store.
func (e *Engine) Pending(ctx context.Context, correlationID string) notify.Outcome {
	outcome := notify.Outcome{CorrelationID: correlationID, Reason: ReasonPending}
	if err := e.publisher.Publish(ctx, outcome); err != nil {
		e.logger.Warnw("pending outcome not published", "correlation_id", correlationID, "err", err)
	}
	return outcome
}

func (e *Engine) authorizeCart(ctx context.Context, tx commerce.Tx, cartID string, declared decimal.Decimal) error {
	cart, err := tx.RetrieveCart(ctx, cartID)
	if err != nil {
		if errors.Is(err, commerce.ErrNotFound) {
			return fmt.Errorf("%w: %w", ErrAggregateNotFound, err)
		}
		return err
	}

	if expected := cart.ExpectedAmount(); !declared.Equal(expected) {
		return fmt.Errorf("%w: cart %s expects %s, gateway declared %s", ErrAmountMismatch, cartID, expected, declared)
	}

	switch kindOf(cart) {
	case swapCheckout:
		return e.completeSwap(ctx, tx, cart)
	default:
		return e.completeCheckout(ctx, tx, cart)
	}
}

func (e *Engine) completeSwap(ctx context.Context, tx commerce.Tx, cart *commerce.Cart) error {
	swap, err := tx.RetrieveSwapByCartID(ctx, cart.ID)
	if err != nil {
		if errors.Is(err, commerce.ErrNotFound) {
			return fmt.Errorf("%w: %w", ErrAggregateNotFound, err)
		}
		return err
	}
	if swap.Confirmed() {
		e.logger.Infow("swap already confirmed", "cart_id", cart.ID, "swap_id", swap.ID)
		return nil
	}

	if err := e.authorize(ctx, tx, cart.ID); err != nil {
		return err
	}
	if err := tx.RegisterCartCompletion(ctx, swap.ID); err != nil {
		return fmt.Errorf("register cart completion for swap %s: %w", swap.ID, err)
	}

	e.logger.Infow("swap payment authorized", "cart_id", cart.ID, "swap_id", swap.ID)
	return nil
}

func (e *Engine) completeCheckout(ctx context.Context, tx commerce.Tx, cart *commerce.Cart) error {
	order, err := tx.RetrieveOrderByCartID(ctx, cart.ID)
	switch {
	case err == nil:
		e.logger.Infow("cart already has an order", "cart_id", cart.ID, "order_id", order.ID)
		return nil
	case !errors.Is(err, commerce.ErrNotFound):
		return err
	}

	if err := e.authorize(ctx, tx, cart.ID); err != nil {
		return err
	}
	order, err = tx.CreateOrderFromCart(ctx, cart.ID)
	if err != nil {
		return fmt.Errorf("create order from cart %s: %w", cart.ID, err)
	}

	e.logger.Infow("cart payment authorized", "cart_id", cart.ID, "order_id", order.ID, "order_number", order.OrderNumber)
	return nil
}

func (e *Engine) authorize(ctx context.Context, tx commerce.Tx, cartID string) error {
	if err := tx.SetPaymentSession(ctx, cartID, e.providerID); err != nil {
		return fmt.Errorf("set payment session on cart %s: %w", cartID, err)
	}
	if err := tx.AuthorizePayment(ctx, cartID); err != nil {
		return fmt.Errorf("authorize payment on cart %s: %w", cartID, err)
	}
	return nil
}

func (e *Engine) authorizeCollection(ctx context.Context, tx commerce.Tx, collectionID string, declared decimal.Decimal) error {
	pc, err := tx.RetrievePaymentCollection(ctx, collectionID)
	if err != nil {
		if errors.Is(err, commerce.ErrNotFound) {
			return fmt.Errorf("%w: %w", ErrAggregateNotFound, err)
		}
		return err
	}

	if expected := pc.ExpectedAmount(); !declared.Equal(expected) {
		return fmt.Errorf("%w: payment collection %s expects %s, gateway declared %s", ErrAmountMismatch, collectionID, expected, declared)
	}
	if pc.Authorized() {
		e.logger.Infow("payment collection already authorized", "collection_id", collectionID)
		return nil
	}

	if err := tx.AuthorizePaymentCollection(ctx, collectionID); err != nil {
		return fmt.Errorf("authorize payment collection %s: %w", collectionID, err)
	}
	e.logger.Infow("payment collection authorized", "collection_id", collectionID)
	return nil
}
