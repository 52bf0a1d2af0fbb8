package main

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"paybridge/internal/domain/notifylogs"
	"paybridge/internal/params"
	"paybridge/internal/payments"
	"paybridge/internal/reconcile"
)

type createPaymentSessionPayload struct {
	CorrelationID string `json:"correlation_id" validate:"required,max=64,printascii"`
	Amount        string `json:"amount" validate:"omitempty,money"` // must equal the stored total when sent
	Subject       string `json:"subject" validate:"omitempty,max=256"`
}

type paymentSessionResponse struct {
	URL         string `json:"url"`
	Amount      string `json:"amount"`
	StreamToken string `json:"stream_token,omitempty"`
}

func (app *application) createPaymentSessionHandler(w http.ResponseWriter, r *http.Request) {
	var payload createPaymentSessionPayload
	if err := readJSON(w, r, &payload); err != nil {
		app.badRequestResponse(w, r, err)
		return
	}
	if err := Validate.Struct(payload); err != nil {
		app.badRequestResponse(w, r, err)
		return
	}

	if subject := storefrontSubject(r); subject != payload.CorrelationID {
		app.forbiddenResponse(w, r, fmt.Errorf("token for %q used for %q", subject, payload.CorrelationID))
		return
	}

	amount, err := reconcile.ExpectedAmount(r.Context(), app.commerce, payload.CorrelationID)
	if err != nil {
		if errors.Is(err, reconcile.ErrAggregateNotFound) {
			app.notFoundResponse(w, r, err)
			return
		}
		app.internalServerError(w, r, err)
		return
	}
	if payload.Amount != "" {
		declared, err := decimal.NewFromString(payload.Amount)
		if err != nil {
			app.badRequestResponse(w, r, err)
			return
		}
		if !declared.Equal(amount) {
			app.badRequestResponse(w, r, fmt.Errorf("amount %s does not match the expected total %s", declared, amount.StringFixed(2)))
			return
		}
	}

	resp, err := app.payments.CreatePayableSession(r.Context(), payments.ProviderAlipay, payments.PaymentRequest{
		TransactionID: payload.CorrelationID,
		Amount:        amount,
		ProductName:   payload.Subject,
	})
	if err != nil {
		app.badGatewayResponse(w, r, err)
		return
	}

	out := paymentSessionResponse{URL: resp.PaymentURL, Amount: amount.StringFixed(2)}
	if app.streamAuth != nil {
		token, err := app.streamAuth.GenerateToken(payload.CorrelationID)
		if err != nil {
			app.internalServerError(w, r, err)
			return
		}
		out.StreamToken = token
	}

	if err := app.jsonResponse(w, http.StatusCreated, out); err != nil {
		app.internalServerError(w, r, err)
	}
}

type paymentStatusResponse struct {
	CorrelationID string                 `json:"correlation_id"`
	TradeNo       string                 `json:"trade_no,omitempty"`
	TradeStatus   payments.TradeStatus   `json:"trade_status"`
	Status        payments.SessionStatus `json:"status"`
	TotalAmount   string                 `json:"total_amount"`
}

func (app *application) paymentStatusHandler(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "correlationID"))

	st, err := app.payments.QueryTransaction(r.Context(), payments.ProviderAlipay, id)
	if err != nil {
		var aerr *payments.AlipayError
		if errors.As(err, &aerr) && aerr.SubCode == "ACQ.TRADE_NOT_EXIST" {
			app.notFoundResponse(w, r, err)
			return
		}
		app.badGatewayResponse(w, r, err)
		return
	}

	out := paymentStatusResponse{
		CorrelationID: id,
		TradeNo:       st.TradeNo,
		TradeStatus:   st.TradeStatus,
		Status:        st.SessionStatus(),
		TotalAmount:   st.TotalAmount.StringFixed(2),
	}
	if err := app.jsonResponse(w, http.StatusOK, out); err != nil {
		app.internalServerError(w, r, err)
	}
}

func (app *application) closePaymentHandler(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "correlationID"))

	if err := app.payments.CloseTransaction(r.Context(), payments.ProviderAlipay, id); err != nil {
		app.badGatewayResponse(w, r, err)
		return
	}

	app.logger.Infow("payment closed", "correlation_id", id)
	if err := app.jsonResponse(w, http.StatusOK, map[string]string{"correlation_id": id, "status": string(payments.SessionCanceled)}); err != nil {
		app.internalServerError(w, r, err)
	}
}

type refundPayload struct {
	Amount string `json:"amount" validate:"required,money"`
}

type refundResponse struct {
	CorrelationID string `json:"correlation_id"`
	TradeNo       string `json:"trade_no,omitempty"`
	RefundFee     string `json:"refund_fee"`
	FundChange    bool   `json:"fund_change"`
}

func (app *application) refundPaymentHandler(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "correlationID"))

	var payload refundPayload
	if err := readJSON(w, r, &payload); err != nil {
		app.badRequestResponse(w, r, err)
		return
	}
	if err := Validate.Struct(payload); err != nil {
		app.badRequestResponse(w, r, err)
		return
	}
	amount, err := decimal.NewFromString(payload.Amount)
	if err != nil {
		app.badRequestResponse(w, r, err)
		return
	}

	res, err := app.payments.Refund(r.Context(), payments.ProviderAlipay, id, amount)
	if err != nil {
		app.badGatewayResponse(w, r, err)
		return
	}

	app.logger.Infow("payment refunded", "correlation_id", id, "refund_fee", res.RefundFee.String(), "fund_change", res.FundChange)
	out := refundResponse{
		CorrelationID: id,
		TradeNo:       res.TradeNo,
		RefundFee:     res.RefundFee.StringFixed(2),
		FundChange:    res.FundChange,
	}
	if err := app.jsonResponse(w, http.StatusOK, out); err != nil {
		app.internalServerError(w, r, err)
	}
}

type notificationLogsResponse struct {
	Logs       []notifylogs.NotificationLog `json:"logs"`
	Pagination params.Pagination            `json:"pagination"`
}

func (app *application) listNotificationLogsHandler(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "correlationID"))
	p := params.ParsePagination(r.URL.Query())

	logs, total, err := app.notifyLogs.List(r.Context(), id, p.Limit, p.Offset)
	if err != nil {
		app.internalServerError(w, r, err)
		return
	}
	p.ComputeMeta(total)

	if err := app.jsonResponse(w, http.StatusOK, notificationLogsResponse{Logs: logs, Pagination: p}); err != nil {
		app.internalServerError(w, r, err)
	}
}
