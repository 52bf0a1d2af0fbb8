package main

import (
	"context"
	"errors"
	"expvar"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"paybridge/internal/auth"
	"paybridge/internal/commerce"
	"paybridge/internal/domain/notifylogs"
	"paybridge/internal/notify"
	"paybridge/internal/payments"
	"paybridge/internal/ratelimiter"
	"paybridge/internal/stream"
	"paybridge/internal/webhook"
)

type notificationAuthenticator interface {
	Authenticate(fields map[string]string) (webhook.Notification, error)
}

type reconciler interface {
	Reconcile(ctx context.Context, correlationID string, declared decimal.Decimal) (notify.Outcome, error)
	Pending(ctx context.Context, correlationID string) notify.Outcome
}

type application struct {
	config        config
	logger        *zap.SugaredLogger
	payments      *payments.PaymentManager
	verifier      notificationAuthenticator
	reconciler    reconciler
	notifyLogs    notifylogs.Store
	bus           *notify.Bus
	commerce      commerce.Reader
	streamAuth    auth.Authenticator // nil when stream tokens are off
	storefront    auth.Authenticator // nil rejects every session request
	rateLimiter   ratelimiter.Limiter
	ping          func(ctx context.Context) error
}

type config struct {
	addr        string
	db          dbConfig
	env         string
	apiURL      string
	alipay      payments.AlipayConfig
	relay       relayConfig
	stream      stream.Config
	auth        authConfig
	rateLimiter ratelimiter.Config
	orderSecret string
}

type authConfig struct {
	basic      basicConfig
	token      tokenConfig
	storefront tokenConfig
}

type tokenConfig struct {
	secret string
	exp    time.Duration
	iss    string
}

type basicConfig struct {
	user     string
	passHash string
}

type dbConfig struct {
	addr        string
	maxConns    int32
	maxIdleTime string
}

type relayConfig struct {
	backend       string // local, redis, postgres
	channel       string
	redisAddr     string
	redisPassword string
	redisDB       int
}

func (app *application) mount() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token", "Last-Event-ID"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: false,
		MaxAge:           300, // Maximum value not ignored by any of major browsers
	}))

	r.Route("/v1", func(r chi.Router) {
		// the event stream outlives any request timeout
		r.With(app.RateLimiterMiddleware).Get("/store/payments/stream", app.paymentStreamHandler)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(60 * time.Second))

			r.Get("/health", app.healthCheckHandler)
			r.With(app.BasicAuthMiddleware()).Get("/debug/vars", expvar.Handler().ServeHTTP)

			r.Route("/store/payments/alipay", func(r chi.Router) {
				r.Get("/notify", app.alipayNotifyHandler)
				r.Post("/notify", app.alipayNotifyHandler)
				r.With(app.StorefrontAuthMiddleware).Post("/sessions", app.createPaymentSessionHandler)
				r.Get("/{correlationID}/status", app.paymentStatusHandler)
			})

			r.Route("/admin/payments/alipay/{correlationID}", func(r chi.Router) {
				r.Use(app.BasicAuthMiddleware())
				r.Post("/close", app.closePaymentHandler)
				r.Post("/refund", app.refundPaymentHandler)
				r.Get("/logs", app.listNotificationLogsHandler)
			})
		})
	})
	return r
}

func (app *application) run(mux http.Handler) error {
	// cancelled on shutdown so open event streams let go of their connections
	baseCtx, stopStreams := context.WithCancel(context.Background())
	defer stopStreams()

	srv := &http.Server{
		Addr:         app.config.addr,
		Handler:      mux,
		WriteTimeout: time.Second * 30,
		ReadTimeout:  time.Second * 10,
		IdleTimeout:  time.Minute,
		BaseContext:  func(net.Listener) context.Context { return baseCtx },
	}

	// Implementing graceful shutdown
	shutdown := make(chan error)

	go func() {
		quit := make(chan os.Signal, 1)

		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		s := <-quit

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		app.logger.Infow("signal caught", "signal", s.String())

		stopStreams()
		shutdown <- srv.Shutdown(ctx)
	}()

	app.logger.Infow("server has started", "addr", app.config.addr, "env", app.config.env)

	err := srv.ListenAndServe()
	if !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	err = <-shutdown
	if err != nil {
		return err
	}

	app.logger.Infow("server has stopped", "addr", app.config.addr, "env", app.config.env)

	return nil
}
