package payments

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"
	_ "time/tzdata" // the SDK stamps requests in China Standard Time

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/smartwalle/alipay/v3"
)

const (
	AlipayProductionGateway = "https://openapi.alipay.com/gateway.do"
	AlipaySandboxGateway    = "https://openapi-sandbox.dl.alipaydev.com/gateway.do"
)

type AlipayConfig struct {
	AppID string
	// PrivateKey signs requests. Bare base64 as issued by the Alipay console, PKCS#1 or PKCS#8.
	PrivateKey string
	// PublicKey is Alipay's key, used to check notifications and responses.
	PublicKey  string
	GatewayURL string
	NotifyURL  string
	ReturnURL  string
	Subject    string
	Timeout    time.Duration
}

type AlipayAdapter struct {
	appID     string
	notifyURL string
	returnURL string
	subject   string
	client    *alipay.Client
}

func NewAlipayAdapter(cfg AlipayConfig) (*AlipayAdapter, error) {
	gatewayURL := cfg.GatewayURL
	if gatewayURL == "" {
		gatewayURL = AlipaySandboxGateway
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	loc, err := time.LoadLocation("Asia/Shanghai")
	if err != nil {
		loc = time.FixedZone("CST", 8*60*60)
	}

	client, err := alipay.New(cfg.AppID, cfg.PrivateKey, gatewayURL != AlipaySandboxGateway,
		alipay.WithTimeLocation(loc),
		alipay.WithHTTPClient(&http.Client{Timeout: timeout}),
		alipay.WithSandboxGateway(gatewayURL),
		alipay.WithProductionGateway(gatewayURL),
	)
	if err != nil {
		return nil, fmt.Errorf("alipay private key: %w", err)
	}
	if err := client.LoadAliPayPublicKey(cfg.PublicKey); err != nil {
		return nil, fmt.Errorf("alipay public key: %w", err)
	}

	return &AlipayAdapter{
		appID:     cfg.AppID,
		notifyURL: cfg.NotifyURL,
		returnURL: cfg.ReturnURL,
		subject:   cfg.Subject,
		client:    client,
	}, nil
}

func (a *AlipayAdapter) AppID() string { return a.appID }

func (a *AlipayAdapter) CreatePayableSession(_ context.Context, req PaymentRequest) (PaymentResponse, error) {
	if req.TransactionID == "" {
		return PaymentResponse{}, errors.New("alipay page pay requires a transaction id")
	}
	if !req.Amount.IsPositive() {
		return PaymentResponse{}, fmt.Errorf("alipay page pay requires a positive amount, got %s", req.Amount)
	}

	subject := req.ProductName
	if subject == "" {
		subject = a.subject
	}
	total := req.Amount.StringFixed(2)

	var p alipay.TradePagePay
	p.NotifyURL = a.notifyURL
	p.ReturnURL = a.returnURL
	p.Subject = subject
	p.OutTradeNo = req.TransactionID
	p.TotalAmount = total
	p.ProductCode = "FAST_INSTANT_TRADE_PAY"

	u, err := a.client.TradePagePay(p)
	if err != nil {
		return PaymentResponse{}, fmt.Errorf("alipay page pay: %w", err)
	}

	return PaymentResponse{
		PaymentURL: u.String(),
		Data: map[string]string{
			"out_trade_no": req.TransactionID,
			"total_amount": total,
		},
	}, nil
}

func (a *AlipayAdapter) QueryTransaction(ctx context.Context, transactionID string) (TransactionStatus, error) {
	const method = "alipay.trade.query"

	rsp, err := a.client.TradeQuery(ctx, alipay.TradeQuery{OutTradeNo: transactionID})
	if err != nil {
		return TransactionStatus{}, gatewayError(method, err)
	}
	if rsp.IsFailure() {
		return TransactionStatus{}, newAlipayError(method, rsp.Error)
	}

	total, err := parseAmount(rsp.TotalAmount)
	if err != nil {
		return TransactionStatus{}, fmt.Errorf("alipay %s total_amount: %w", method, err)
	}
	return TransactionStatus{
		TransactionID: rsp.OutTradeNo,
		TradeNo:       rsp.TradeNo,
		TradeStatus:   TradeStatus(rsp.TradeStatus),
		TotalAmount:   total,
	}, nil
}

func (a *AlipayAdapter) CloseTransaction(ctx context.Context, transactionID string) error {
	const method = "alipay.trade.close"

	rsp, err := a.client.TradeClose(ctx, alipay.TradeClose{OutTradeNo: transactionID})
	if err != nil {
		return gatewayError(method, err)
	}
	if rsp.IsFailure() {
		return newAlipayError(method, rsp.Error)
	}
	return nil
}

func (a *AlipayAdapter) Refund(ctx context.Context, transactionID string, amount decimal.Decimal) (RefundResult, error) {
	const method = "alipay.trade.refund"

	if !amount.IsPositive() {
		return RefundResult{}, fmt.Errorf("alipay refund requires a positive amount, got %s", amount)
	}

	rsp, err := a.client.TradeRefund(ctx, alipay.TradeRefund{
		OutTradeNo:   transactionID,
		RefundAmount: amount.StringFixed(2),
		OutRequestNo: uuid.NewString(),
	})
	if err != nil {
		return RefundResult{}, gatewayError(method, err)
	}
	if rsp.IsFailure() {
		return RefundResult{}, newAlipayError(method, rsp.Error)
	}

	fee, err := parseAmount(rsp.RefundFee)
	if err != nil {
		return RefundResult{}, fmt.Errorf("alipay %s refund_fee: %w", method, err)
	}
	return RefundResult{
		TransactionID: rsp.OutTradeNo,
		TradeNo:       rsp.TradeNo,
		RefundFee:     fee,
		FundChange:    rsp.FundChange == "Y",
	}, nil
}

// CheckNotifySign verifies an RSA2 notification signature against Alipay's public key.
func (a *AlipayAdapter) CheckNotifySign(fields map[string]string) bool {
	if fields["sign"] == "" {
		return false
	}
	if st := fields["sign_type"]; st != "" && st != "RSA2" {
		return false
	}

	values := make(url.Values, len(fields))
	for k, v := range fields {
		values.Set(k, v)
	}
	return a.client.VerifySign(values) == nil
}

// AlipayError is a business failure reported by the gateway.
type AlipayError struct {
	Method  string
	Code    string
	Msg     string
	SubCode string
	SubMsg  string
}

func (e *AlipayError) Error() string {
	return fmt.Sprintf("alipay %s failed: code=%s msg=%s sub_code=%s sub_msg=%s", e.Method, e.Code, e.Msg, e.SubCode, e.SubMsg)
}

func newAlipayError(method string, e alipay.Error) *AlipayError {
	return &AlipayError{Method: method, Code: string(e.Code), Msg: e.Msg, SubCode: e.SubCode, SubMsg: e.SubMsg}
}

// gatewayError keeps the gateway's business codes visible to callers matching on AlipayError.
func gatewayError(method string, err error) error {
	var v alipay.Error
	if errors.As(err, &v) {
		return newAlipayError(method, v)
	}
	var p *alipay.Error
	if errors.As(err, &p) && p != nil {
		return newAlipayError(method, *p)
	}
	return fmt.Errorf("alipay %s: %w", method, err)
}

func parseAmount(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}
