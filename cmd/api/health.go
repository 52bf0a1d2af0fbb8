package main

import (
	"context"
	"net/http"
	"time"
)

func (app *application) healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	data := map[string]any{
		"status":  "ok",
		"env":     app.config.env,
		"version": version,
		"streams": app.bus.Stats().Subscribers,
	}

	if app.ping != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := app.ping(ctx); err != nil {
			app.logger.Errorw("health check database ping failed", "err", err)
			data["status"] = "degraded"
			app.jsonResponse(w, http.StatusServiceUnavailable, data)
			return
		}
	}

	if err := app.jsonResponse(w, http.StatusOK, data); err != nil {
		app.internalServerError(w, r, err)
	}
}
