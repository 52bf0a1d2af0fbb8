package main

import (
	"context"
	"errors"
	"net/http"

	"paybridge/internal/payments"
	"paybridge/internal/reconcile"
	"paybridge/internal/webhook"
)

const (
	ackSuccess = "success"
	ackFail    = "fail"
)

// alipayNotifyHandler receives the gateway's asynchronous payment notification. The gateway
// keeps retrying until it reads "success".
func (app *application) alipayNotifyHandler(w http.ResponseWriter, r *http.Request) {
	fields, err := webhook.ReadFields(w, r)
	if err != nil {
		app.logger.Warnw("unreadable payment notification", "method", r.Method, "err", err)
		writeGatewayAck(w, http.StatusBadRequest, ackFail)
		return
	}

	n, err := app.verifier.Authenticate(fields)
	if err != nil {
		app.logger.Warnw("payment notification rejected", "out_trade_no", fields[webhook.FieldCorrelationID], "err", err)
		writeGatewayAck(w, http.StatusBadRequest, ackFail)
		return
	}

	// the gateway is already waiting on us, so the outcome must not depend on the caller staying
	ctx := context.WithoutCancel(r.Context())

	if err := app.notifyLogs.Insert(ctx, n.CorrelationID, payments.ProviderAlipay, "notify", n.Fields); err != nil {
		app.logger.Warnw("payment notification not logged", "correlation_id", n.CorrelationID, "err", err)
	}

	if !n.Paid() {
		app.logger.Infow("payment notification without payment", "correlation_id", n.CorrelationID, "trade_status", n.TradeStatus)
		app.reconciler.Pending(ctx, n.CorrelationID)
		writeGatewayAck(w, http.StatusOK, ackSuccess)
		return
	}

	outcome, err := app.reconciler.Reconcile(ctx, n.CorrelationID, n.DeclaredAmount)
	switch {
	case err == nil:
		app.logger.Infow("payment reconciled", "correlation_id", n.CorrelationID, "trade_no", n.TradeNo)
		writeGatewayAck(w, http.StatusOK, ackSuccess)

	case errors.Is(err, reconcile.ErrAmountMismatch), errors.Is(err, reconcile.ErrAggregateNotFound):
		app.logger.Warnw("payment not reconciled", "correlation_id", n.CorrelationID, "reason", outcome.Reason, "err", err)
		writeGatewayAck(w, http.StatusOK, ackFail)

	default:
		app.logger.Errorw("payment reconciliation failed", "correlation_id", n.CorrelationID, "err", err)
		writeGatewayAck(w, http.StatusBadRequest, "notify error: "+err.Error())
	}
}
