package payments

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var ErrGatewayNotRegistered = errors.New("gateway not registered")

type PaymentManager struct {
	gateways map[string]PaymentGateway
}

func NewPaymentManager() *PaymentManager {
	return &PaymentManager{gateways: make(map[string]PaymentGateway)}
}

func (m *PaymentManager) RegisterGateway(name string, gateway PaymentGateway) {
	m.gateways[name] = gateway
}

func (m *PaymentManager) Gateway(method string) (PaymentGateway, error) {
	gateway, ok := m.gateways[method]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrGatewayNotRegistered, method)
	}
	return gateway, nil
}

func (m *PaymentManager) CreatePayableSession(ctx context.Context, method string, req PaymentRequest) (PaymentResponse, error) {
	gateway, err := m.Gateway(method)
	if err != nil {
		return PaymentResponse{}, err
	}
	return gateway.CreatePayableSession(ctx, req)
}

func (m *PaymentManager) QueryTransaction(ctx context.Context, method, transactionID string) (TransactionStatus, error) {
	gateway, err := m.Gateway(method)
	if err != nil {
		return TransactionStatus{}, err
	}
	return gateway.QueryTransaction(ctx, transactionID)
}

func (m *PaymentManager) CloseTransaction(ctx context.Context, method, transactionID string) error {
	gateway, err := m.Gateway(method)
	if err != nil {
		return err
	}
	return gateway.CloseTransaction(ctx, transactionID)
}

func (m *PaymentManager) Refund(ctx context.Context, method, transactionID string, amount decimal.Decimal) (RefundResult, error) {
	gateway, err := m.Gateway(method)
	if err != nil {
		return RefundResult{}, err
	}
	return gateway.Refund(ctx, transactionID, amount)
}
