package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lib/pq"
	"go.uber.org/zap"
)

// PgRelay fans outcomes out to every replica with Postgres NOTIFY / LISTEN.
// NOTIFY goes through the pgx pool; LISTEN uses a dedicated lib/pq listener that reconnects
// on its own.
type PgRelay struct {
	dsn     string
	pool    *pgxpool.Pool
	channel string
	bus     *Bus
	out     chan Outcome
	logger  *zap.SugaredLogger
}

func NewPgRelay(dsn string, pool *pgxpool.Pool, channel string, bus *Bus, logger *zap.SugaredLogger) *PgRelay {
	if channel == "" {
		channel = DefaultChannel
	}
	return &PgRelay{
		dsn:     dsn,
		pool:    pool,
		channel: channel,
		bus:     bus,
		out:     make(chan Outcome, outboundBuffer),
		logger:  logger,
	}
}

func (r *PgRelay) Publish(_ context.Context, o Outcome) error {
	return enqueue(r.out, o)
}

func (r *PgRelay) Run(ctx context.Context) error {
	listener := pq.NewListener(r.dsn, 2*time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			r.logger.Warnw("postgres relay listener event", "event", ev, "err", err)
		}
	})
	defer listener.Close()

	if err := listener.Listen(r.channel); err != nil {
		return fmt.Errorf("postgres relay listen %s: %w", r.channel, err)
	}
	r.logger.Infow("postgres relay listening", "channel", r.channel)

	ping := time.NewTicker(90 * time.Second)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case o := <-r.out:
			payload, err := encodeOutcome(o)
			if err != nil {
				r.logger.Errorw("postgres relay encode failed", "correlation_id", o.CorrelationID, "err", err)
				continue
			}
			if _, err := r.pool.Exec(ctx, `SELECT pg_notify($1, $2)`, r.channel, payload); err != nil {
				r.logger.Errorw("postgres relay notify failed, delivering locally", "correlation_id", o.CorrelationID, "err", err)
				r.bus.Deliver(o)
			}

		case n := <-listener.Notify:
			// nil after a reconnect; anything sent while disconnected is lost
			if n == nil {
				r.logger.Warnw("postgres relay reconnected", "channel", r.channel)
				continue
			}
			o, err := decodeOutcome(n.Extra)
			if err != nil {
				r.logger.Warnw("postgres relay dropped notification", "channel", n.Channel, "err", err)
				continue
			}
			r.bus.Deliver(o)

		case <-ping.C:
			if err := listener.Ping(); err != nil {
				r.logger.Warnw("postgres relay ping failed", "err", err)
			}
		}
	}
}
