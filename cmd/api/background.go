package main

import (
	"context"
	"time"

	"paybridge/internal/notify"
)

// runRelay keeps the cross-replica relay running, restarting it after failures, until ctx is
// done.
func (app *application) runRelay(ctx context.Context, relay notify.Relay) {
	go func() {
		const backoff = 5 * time.Second

		for {
			err := relay.Run(ctx)
			if ctx.Err() != nil {
				return
			}
			if err != nil {
				app.logger.Errorw("outcome relay stopped, restarting", "err", err, "backoff", backoff.String())
			}

			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
		}
	}()
}

// logBusStatsEvery logs live stream counts so stuck sessions show up in the logs.
func (app *application) logBusStatsEvery(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				st := app.bus.Stats()
				app.logger.Infow("notification bus",
					"correlation_ids", st.CorrelationIDs,
					"subscribers", st.Subscribers,
					"published", st.Published,
					"delivered", st.Delivered,
					"dropped", st.Dropped,
				)
			}
		}
	}()
}
