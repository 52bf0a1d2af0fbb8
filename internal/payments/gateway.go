package payments

import (
	"context"

	"github.com/shopspring/decimal"
)

// PaymentGateway defines a common interface for all payment providers
type PaymentGateway interface {
	// CreatePayableSession returns the URL the buyer is redirected to.
	CreatePayableSession(ctx context.Context, req PaymentRequest) (PaymentResponse, error)
	QueryTransaction(ctx context.Context, transactionID string) (TransactionStatus, error)
	CloseTransaction(ctx context.Context, transactionID string) error
	Refund(ctx context.Context, transactionID string, amount decimal.Decimal) (RefundResult, error)

	// CheckNotifySign reports whether an asynchronous notification carries a valid signature.
	CheckNotifySign(fields map[string]string) bool
}
