package reconcile

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"paybridge/internal/commerce"
)

// ExpectedAmount reads the total the gateway must collect for correlationID without locking
// anything. It returns an error wrapping ErrAggregateNotFound when nothing backs the id.
func ExpectedAmount(ctx context.Context, r commerce.Reader, correlationID string) (decimal.Decimal, error) {
	if IsPaymentCollection(correlationID) {
		pc, err := r.FindPaymentCollection(ctx, CollectionID(correlationID))
		if err != nil {
			return decimal.Zero, lookupError(err)
		}
		return pc.ExpectedAmount(), nil
	}

	cart, err := r.FindCart(ctx, correlationID)
	if err != nil {
		return decimal.Zero, lookupError(err)
	}
	return cart.ExpectedAmount(), nil
}

func lookupError(err error) error {
	if errors.Is(err, commerce.ErrNotFound) {
		return fmt.Errorf("%w: %w", ErrAggregateNotFound, err)
	}
	return err
}
