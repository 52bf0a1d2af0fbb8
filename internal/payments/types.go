package payments

import "github.com/shopspring/decimal"

const ProviderAlipay = "alipay"

type PaymentRequest struct {
	TransactionID string
	Amount        decimal.Decimal
	ProductName   string
}

type PaymentResponse struct {
	PaymentURL string
	Data       map[string]string
}

// TradeStatus is the gateway's own trade state.
type TradeStatus string

const (
	TradeWaitBuyerPay TradeStatus = "WAIT_BUYER_PAY"
	TradeClosed       TradeStatus = "TRADE_CLOSED"
	TradeSuccess      TradeStatus = "TRADE_SUCCESS"
	TradeFinished     TradeStatus = "TRADE_FINISHED"
)

// SessionStatus is the commerce side's view of a payment session.
type SessionStatus string

const (
	SessionPending    SessionStatus = "pending"
	SessionAuthorized SessionStatus = "authorized"
	SessionCanceled   SessionStatus = "canceled"
)

func (t TradeStatus) Paid() bool {
	return t == TradeSuccess || t == TradeFinished
}

func (t TradeStatus) SessionStatus() SessionStatus {
	switch t {
	case TradeSuccess, TradeFinished:
		return SessionAuthorized
	case TradeClosed:
		return SessionCanceled
	default:
		return SessionPending
	}
}

type TransactionStatus struct {
	TransactionID string
	TradeNo       string
	TradeStatus   TradeStatus
	TotalAmount   decimal.Decimal
}

func (s TransactionStatus) SessionStatus() SessionStatus { return s.TradeStatus.SessionStatus() }

type RefundResult struct {
	TransactionID string
	TradeNo       string
	RefundFee     decimal.Decimal
	FundChange    bool
}
