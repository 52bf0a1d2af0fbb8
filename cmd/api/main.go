package main

import (
	"context"
	"expvar"
	"fmt"
	"log"
	"os"
	"runtime"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"paybridge/internal/auth"
	"paybridge/internal/db"
	"paybridge/internal/domain/orders"
	"paybridge/internal/domain/storage"
	"paybridge/internal/notify"
	"paybridge/internal/payments"
	"paybridge/internal/ratelimiter"
	"paybridge/internal/reconcile"
	"paybridge/internal/stream"
	"paybridge/internal/webhook"
)

func envInt(key string, def int) int {
	if val, exists := os.LookupEnv(key); exists {
		if parsedVal, err := strconv.Atoi(val); err == nil {
			return parsedVal
		}
		fmt.Println("Invalid", key, "defaulting to", def)
	}
	return def
}

func envBool(key string, def bool) bool {
	if val, exists := os.LookupEnv(key); exists {
		if parsedVal, err := strconv.ParseBool(val); err == nil {
			return parsedVal
		}
		fmt.Println("Invalid", key, "defaulting to", def)
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if val, exists := os.LookupEnv(key); exists {
		if parsedVal, err := time.ParseDuration(val); err == nil {
			return parsedVal
		}
		fmt.Println("Invalid", key, "defaulting to", def)
	}
	return def
}

func envString(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

// LoadRateLimiterConfig retrieves rate limiter settings from environment variables
func LoadRateLimiterConfig() ratelimiter.Config {
	return ratelimiter.Config{
		RequestsPerTimeFrame: envInt("RATELIMITER_REQUESTS_COUNT", 20),
		TimeFrame:            5 * time.Second,
		Enabled:              envBool("RATE_LIMITER_ENABLED", false),
	}
}

// LoadStreamConfig retrieves event stream timings from environment variables
func LoadStreamConfig() stream.Config {
	d := stream.DefaultConfig()
	return stream.Config{
		Heartbeat:          envDuration("SSE_HEARTBEAT", d.Heartbeat),
		RetryBackoff:       envDuration("SSE_RETRY_BACKOFF", d.RetryBackoff),
		MaxAttempts:        envInt("SSE_MAX_ATTEMPTS", d.MaxAttempts),
		CloseAfterDelivery: envBool("SSE_CLOSE_AFTER_DELIVERY", false),
	}
}

func loadConfig() config {
	return config{
		addr:   envString("ADDR", ":8080"),
		env:    envString("ENV", "development"),
		apiURL: os.Getenv("EXTERNAL_URL"),
		db: dbConfig{
			addr:        os.Getenv("DB_ADDR"),
			maxConns:    int32(envInt("DB_MAX_CONNS", 20)),
			maxIdleTime: envString("DB_MAX_IDLE_TIME", "15m"),
		},
		alipay: payments.AlipayConfig{
			AppID:      os.Getenv("ALIPAY_APP_ID"),
			PrivateKey: os.Getenv("ALIPAY_PRIVATE_KEY"),
			PublicKey:  os.Getenv("ALIPAY_PUBLIC_KEY"),
			GatewayURL: envString("ALIPAY_GATEWAY_URL", payments.AlipaySandboxGateway),
			NotifyURL:  os.Getenv("ALIPAY_NOTIFY_URL"),
			ReturnURL:  os.Getenv("ALIPAY_RETURN_URL"),
			Subject:    envString("ALIPAY_SUBJECT", "Order"),
		},
		relay: relayConfig{
			backend:       envString("RELAY_BACKEND", "local"),
			channel:       envString("RELAY_CHANNEL", notify.DefaultChannel),
			redisAddr:     envString("REDIS_ADDR", "localhost:6379"),
			redisPassword: os.Getenv("REDIS_PASSWORD"),
			redisDB:       envInt("REDIS_DB", 0),
		},
		stream: LoadStreamConfig(),
		auth: authConfig{
			basic: basicConfig{
				user:     os.Getenv("AUTH_BASIC_USER"),
				passHash: os.Getenv("AUTH_BASIC_PASS_HASH"),
			},
			token: tokenConfig{
				secret: os.Getenv("STREAM_TOKEN_SECRET"),
				exp:    envDuration("STREAM_TOKEN_TTL", 30*time.Minute),
				iss:    "paybridge",
			},
			storefront: tokenConfig{
				secret: os.Getenv("STOREFRONT_TOKEN_SECRET"),
				exp:    envDuration("STOREFRONT_TOKEN_TTL", 5*time.Minute),
				iss:    envString("STOREFRONT_TOKEN_ISSUER", "storefront"),
			},
		},
		rateLimiter: LoadRateLimiterConfig(),
		orderSecret: os.Getenv("ORDER_NUMBER_SECRET"),
	}
}

// NewLogger creates a new zap logger with color.
func NewLogger() (*zap.SugaredLogger, error) {
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder

	consoleEncoder := zapcore.NewConsoleEncoder(encoderCfg)
	level := zapcore.InfoLevel

	core := zapcore.NewCore(consoleEncoder, zapcore.NewMultiWriteSyncer(zapcore.AddSync(os.Stdout)), level)

	logger := zap.New(core)

	return logger.Sugar(), nil
}

var version = "0.3.0"

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("no .env file loaded: %v", err)
	}

	cfg := loadConfig()

	// Logger
	logger, err := NewLogger()
	if err != nil {
		fmt.Println("Error creating logger:", err)
		return
	}
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Database
	pool, err := db.New(cfg.db.addr, cfg.db.maxConns, cfg.db.maxIdleTime)
	if err != nil {
		logger.Fatal(err)
	}
	defer pool.Close()
	logger.Info("database connection pool established")

	if cfg.orderSecret == "" {
		logger.Warn("ORDER_NUMBER_SECRET is empty, order numbers are not keyed")
	}
	store := storage.NewContainer(pool, orders.NewOrderNumberGenerator(cfg.orderSecret))

	// Gateway
	alipay, err := payments.NewAlipayAdapter(cfg.alipay)
	if err != nil {
		logger.Fatal(err)
	}
	paymentManager := payments.NewPaymentManager()
	paymentManager.RegisterGateway(payments.ProviderAlipay, alipay)

	// Outcome fan-out
	bus := notify.NewBus()
	var publisher notify.Publisher = bus
	var relay notify.Relay

	switch cfg.relay.backend {
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.relay.redisAddr,
			Password: cfg.relay.redisPassword,
			DB:       cfg.relay.redisDB,
		})
		defer client.Close()

		if err := client.Ping(ctx).Err(); err != nil {
			logger.Fatalw("redis ping failed", "addr", cfg.relay.redisAddr, "err", err)
		}
		relay = notify.NewRedisRelay(client, cfg.relay.channel, bus, logger)
	case "postgres":
		relay = notify.NewPgRelay(cfg.db.addr, pool, cfg.relay.channel, bus, logger)
	case "local", "":
	default:
		logger.Fatalw("unknown relay backend", "backend", cfg.relay.backend)
	}
	if relay != nil {
		publisher = relay
	}

	// Rate limiter
	rateLimiter := ratelimiter.NewFixedWindowLimiter(
		ctx,
		cfg.rateLimiter.RequestsPerTimeFrame,
		cfg.rateLimiter.TimeFrame,
	)

	app := &application{
		config:      cfg,
		logger:      logger,
		payments:    paymentManager,
		verifier:    webhook.NewVerifier(alipay, cfg.alipay.AppID, logger),
		reconciler:  reconcile.NewEngine(store, publisher, payments.ProviderAlipay, logger),
		notifyLogs:  store.NotifyLogs,
		bus:         bus,
		commerce:    store,
		rateLimiter: rateLimiter,
		ping:        pool.Ping,
	}

	// Stream tokens
	if cfg.auth.token.secret != "" {
		app.streamAuth = auth.NewJWTAuthenticator(
			cfg.auth.token.secret,
			cfg.auth.token.iss,
			cfg.auth.token.iss,
			cfg.auth.token.exp,
		)
	}

	// Storefront backend tokens
	if cfg.auth.storefront.secret != "" {
		app.storefront = auth.NewJWTAuthenticator(
			cfg.auth.storefront.secret,
			"paybridge",
			cfg.auth.storefront.iss,
			cfg.auth.storefront.exp,
		)
	} else {
		logger.Warn("STOREFRONT_TOKEN_SECRET is empty, payment sessions cannot be created")
	}

	if relay != nil {
		app.runRelay(ctx, relay)
		logger.Infow("outcome relay started", "backend", cfg.relay.backend, "channel", cfg.relay.channel)
	}
	app.logBusStatsEvery(ctx, 5*time.Minute)

	//Metrics collected http://localhost:8080/v1/debug/vars
	expvar.NewString("version").Set(version)
	expvar.Publish("database", expvar.Func(func() any {
		st := pool.Stat()
		return map[string]any{
			"total_conns":    st.TotalConns(),
			"idle_conns":     st.IdleConns(),
			"acquired_conns": st.AcquiredConns(),
			"max_conns":      st.MaxConns(),
		}
	}))
	expvar.Publish("goroutines", expvar.Func(func() any {
		return runtime.NumGoroutine()
	}))
	expvar.Publish("notification_bus", expvar.Func(func() any {
		return bus.Stats()
	}))

	mux := app.mount()

	logger.Fatal(app.run(mux))
}
