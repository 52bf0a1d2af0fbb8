package reconcile

import (
	"errors"

	"paybridge/internal/notify"
)

var (
	// ErrAggregateNotFound means no cart, swap or payment collection exists for the id.
	ErrAggregateNotFound = errors.New("no aggregate for correlation id")
	// ErrAmountMismatch means the gateway declared a different amount than the expected total.
	ErrAmountMismatch = errors.New("declared amount does not match expected total")
	// ErrTransactionFailure wraps any other store failure. The transaction was rolled back.
	ErrTransactionFailure = errors.New("reconciliation transaction failed")
)

// Reasons carried by failed outcomes.
const (
	ReasonAmountMismatch    = "amount_mismatch"
	ReasonNotFound          = "not_found"
	ReasonTransactionFailed = "transaction_failed"
	ReasonPending           = notify.ReasonPending
)

func reasonFor(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrAmountMismatch):
		return ReasonAmountMismatch
	case errors.Is(err, ErrAggregateNotFound):
		return ReasonNotFound
	default:
		return ReasonTransactionFailed
	}
}
