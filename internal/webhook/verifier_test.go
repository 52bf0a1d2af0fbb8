package webhook

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"paybridge/internal/payments"
)

type checkerFunc func(fields map[string]string) bool

func (f checkerFunc) CheckNotifySign(fields map[string]string) bool { return f(fields) }

func signedFields() map[string]string {
	return map[string]string{
		"app_id":       "app1",
		"out_trade_no": "cart_1",
		"total_amount": "88.88",
		"trade_status": "TRADE_SUCCESS",
		"sign":         "c2lnbmF0dXJl",
	}
}

func TestVerify(t *testing.T) {
	accept := checkerFunc(func(map[string]string) bool { return true })
	reject := checkerFunc(func(map[string]string) bool { return false })

	tests := []struct {
		name    string
		checker SignatureChecker
		appID   string
		fields  map[string]string
		want    bool
	}{
		{"valid", accept, "app1", signedFields(), true},
		{"bad signature", reject, "app1", signedFields(), false},
		{"missing sign", accept, "", map[string]string{"out_trade_no": "cart_1"}, false},
		{"empty", accept, "", map[string]string{}, false},
		{"other app", accept, "app2", signedFields(), false},
		{"no app configured", accept, "", signedFields(), true},
		{"checker panics", checkerFunc(func(map[string]string) bool { panic("bad key") }), "", signedFields(), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := NewVerifier(tt.checker, tt.appID, zap.NewNop().Sugar())
			if got := v.Verify(tt.fields); got != tt.want {
				t.Fatalf("Verify = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestVerifyDoesNotCallCheckerWithoutSign(t *testing.T) {
	called := false
	v := NewVerifier(checkerFunc(func(map[string]string) bool { called = true; return true }), "", zap.NewNop().Sugar())
	v.Verify(map[string]string{"out_trade_no": "cart_1"})
	if called {
		t.Fatal("checker called for unsigned notification")
	}
}

func TestParse(t *testing.T) {
	n, err := Parse(signedFields())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n.CorrelationID != "cart_1" || n.TradeStatus != payments.TradeSuccess {
		t.Fatalf("unexpected notification %+v", n)
	}
	if !n.DeclaredAmount.Equal(decimal.RequireFromString("88.88")) {
		t.Fatalf("unexpected amount %s", n.DeclaredAmount)
	}
	if !n.Paid() {
		t.Fatal("TRADE_SUCCESS should be paid")
	}
}

func TestParseRejectsMalformed(t *testing.T) {
	for name, mutate := range map[string]func(map[string]string){
		"missing id":     func(f map[string]string) { delete(f, "out_trade_no") },
		"missing amount": func(f map[string]string) { delete(f, "total_amount") },
		"bad amount":     func(f map[string]string) { f["total_amount"] = "eighty" },
	} {
		t.Run(name, func(t *testing.T) {
			f := signedFields()
			mutate(f)
			if _, err := Parse(f); !errors.Is(err, ErrMalformed) {
				t.Fatalf("expected ErrMalformed, got %v", err)
			}
		})
	}
}

func TestPaid(t *testing.T) {
	for status, want := range map[payments.TradeStatus]bool{
		"":                         true,
		payments.TradeSuccess:      true,
		payments.TradeFinished:     true,
		payments.TradeWaitBuyerPay: false,
		payments.TradeClosed:       false,
	} {
		if got := (Notification{TradeStatus: status}).Paid(); got != want {
			t.Errorf("Paid(%q) = %v, want %v", status, got, want)
		}
	}
}

func TestReadFields(t *testing.T) {
	form := url.Values{"out_trade_no": {"cart_1"}, "total_amount": {"1.00"}}

	tests := []struct {
		name string
		req  func() *http.Request
	}{
		{"query", func() *http.Request {
			return httptest.NewRequest(http.MethodGet, "/notify?"+form.Encode(), nil)
		}},
		{"form", func() *http.Request {
			r := httptest.NewRequest(http.MethodPost, "/notify", strings.NewReader(form.Encode()))
			r.Header.Set("Content-Type", "application/x-www-form-urlencoded; charset=utf-8")
			return r
		}},
		{"json", func() *http.Request {
			r := httptest.NewRequest(http.MethodPost, "/notify", strings.NewReader(`{"out_trade_no":"cart_1","total_amount":"1.00"}`))
			r.Header.Set("Content-Type", "application/json")
			return r
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fields, err := ReadFields(httptest.NewRecorder(), tt.req())
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if fields["out_trade_no"] != "cart_1" || fields["total_amount"] != "1.00" {
				t.Fatalf("unexpected fields %v", fields)
			}
		})
	}
}

func TestReadFieldsRejectsBadJSON(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/notify", strings.NewReader(`{`))
	r.Header.Set("Content-Type", "application/json")
	if _, err := ReadFields(httptest.NewRecorder(), r); !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}
}

func TestAuthenticate(t *testing.T) {
	v := NewVerifier(checkerFunc(func(map[string]string) bool { return false }), "", zap.NewNop().Sugar())
	if _, err := v.Authenticate(signedFields()); !errors.Is(err, ErrVerificationFailed) {
		t.Fatalf("expected ErrVerificationFailed, got %v", err)
	}

	v = NewVerifier(checkerFunc(func(map[string]string) bool { return true }), "", zap.NewNop().Sugar())
	n, err := v.Authenticate(signedFields())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n.CorrelationID != "cart_1" {
		t.Fatalf("unexpected notification %+v", n)
	}
}
