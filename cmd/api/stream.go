package main

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"paybridge/internal/stream"
)

// paymentStreamHandler holds a server-sent events connection open until the outcome for the
// correlation id arrives or the client goes away.
func (app *application) paymentStreamHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	id := strings.TrimSpace(q.Get("correlation_id"))
	if id == "" {
		id = strings.TrimSpace(q.Get("cart_id"))
	}
	if id == "" {
		app.badRequestResponse(w, r, fmt.Errorf("missing correlation_id query param"))
		return
	}

	if app.streamAuth != nil {
		if _, err := app.streamAuth.ValidateTokenFor(q.Get("token"), id); err != nil {
			app.unauthorizedErrorResponse(w, r, err)
			return
		}
	}

	sw, err := stream.NewSSEWriter(w)
	if err != nil {
		app.internalServerError(w, r, err)
		return
	}

	session := stream.NewSession(app.bus, sw, app.config.stream, app.logger)
	if err := session.Subscribe(id); err != nil {
		app.logger.Errorw("stream subscribe failed", "session", session.ID, "correlation_id", id, "err", err)
		return
	}
	app.logger.Infow("stream opened", "session", session.ID, "correlation_id", id)

	err = session.Run(r.Context())
	switch {
	case errors.Is(err, stream.ErrBudgetExceeded):
		app.logger.Warnw("stream closed after failed writes", "session", session.ID, "correlation_id", id, "err", err)
	case err != nil:
		app.logger.Errorw("stream ended with error", "session", session.ID, "correlation_id", id, "err", err)
	default:
		app.logger.Infow("stream closed", "session", session.ID, "correlation_id", id)
	}
}
