// Package webhook authenticates asynchronous gateway notifications and turns them into typed
// values. It never touches commerce state.
package webhook

import (
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"paybridge/internal/payments"
)

const (
	FieldAppID         = "app_id"
	FieldCorrelationID = "out_trade_no"
	FieldTotalAmount   = "total_amount"
	FieldTradeStatus   = "trade_status"
	FieldTradeNo       = "trade_no"
	FieldSign          = "sign"
)

var (
	// ErrVerificationFailed means the notification is not authentic and must not be acted on.
	ErrVerificationFailed = errors.New("notification verification failed")
	ErrMalformed          = errors.New("malformed notification")
)

// SignatureChecker is the gateway's signature check.
type SignatureChecker interface {
	CheckNotifySign(fields map[string]string) bool
}

type Notification struct {
	CorrelationID  string
	DeclaredAmount decimal.Decimal
	TradeStatus    payments.TradeStatus
	TradeNo        string
	Fields         map[string]string
}

// Paid reports whether the notification confirms payment. Notifications without a trade
// status are treated as paid.
func (n Notification) Paid() bool {
	return n.TradeStatus == "" || n.TradeStatus.Paid()
}

type Verifier struct {
	checker SignatureChecker
	appID   string
	logger  *zap.SugaredLogger
}

// NewVerifier checks signatures with checker. A non-empty appID must also match the
// notification's app_id.
func NewVerifier(checker SignatureChecker, appID string, logger *zap.SugaredLogger) *Verifier {
	return &Verifier{checker: checker, appID: appID, logger: logger}
}

// Verify reports whether fields form an authentic notification. It never panics: a checker
// failure counts as invalid.
func (v *Verifier) Verify(fields map[string]string) (valid bool) {
	defer func() {
		if r := recover(); r != nil {
			v.logger.Errorw("notification signature check panicked", "panic", r)
			valid = false
		}
	}()

	if len(fields) == 0 || fields[FieldSign] == "" {
		return false
	}
	if v.appID != "" && fields[FieldAppID] != v.appID {
		v.logger.Warnw("notification for another app", "app_id", fields[FieldAppID])
		return false
	}
	return v.checker.CheckNotifySign(fields)
}

// Authenticate verifies fields and parses them. Nothing is parsed from an unverified
// notification.
func (v *Verifier) Authenticate(fields map[string]string) (Notification, error) {
	if !v.Verify(fields) {
		return Notification{}, ErrVerificationFailed
	}
	return Parse(fields)
}

// Parse extracts the typed notification. Only call it on verified fields.
func Parse(fields map[string]string) (Notification, error) {
	id := strings.TrimSpace(fields[FieldCorrelationID])
	if id == "" {
		return Notification{}, fmt.Errorf("%w: missing %s", ErrMalformed, FieldCorrelationID)
	}
	amount, err := decimal.NewFromString(strings.TrimSpace(fields[FieldTotalAmount]))
	if err != nil {
		return Notification{}, fmt.Errorf("%w: %s: %w", ErrMalformed, FieldTotalAmount, err)
	}

	return Notification{
		CorrelationID:  id,
		DeclaredAmount: amount,
		TradeStatus:    payments.TradeStatus(fields[FieldTradeStatus]),
		TradeNo:        fields[FieldTradeNo],
		Fields:         fields,
	}, nil
}

// ReadFields collects notification fields from the query string (GET) or from a form or JSON
// body (POST).
func ReadFields(w http.ResponseWriter, r *http.Request) (map[string]string, error) {
	fields := map[string]string{}

	switch r.Method {
	case http.MethodGet:
		for k, vs := range r.URL.Query() {
			if len(vs) > 0 {
				fields[k] = vs[0]
			}
		}
		return fields, nil

	case http.MethodPost:
		r.Body = http.MaxBytesReader(w, r.Body, 64<<10)

		mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
		if mediaType == "application/json" {
			var raw map[string]any
			if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
				return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
			}
			for k, v := range raw {
				if s, ok := v.(string); ok {
					fields[k] = s
				} else if v != nil {
					fields[k] = fmt.Sprint(v)
				}
			}
			return fields, nil
		}

		if err := r.ParseForm(); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
		}
		for k, vs := range r.Form {
			if len(vs) > 0 {
				fields[k] = vs[0]
			}
		}
		return fields, nil

	default:
		return nil, fmt.Errorf("%w: method %s", ErrMalformed, r.Method)
	}
}
