package main

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/prenotaly/prenotaly/libs/config"
	"github.com/prenotaly/prenotaly/libs/db"
	"github.com/prenotaly/prenotaly/libs/httpx"
	"github.com/prenotaly/prenotaly/libs/kafkax"
	otelx "github.com/prenotaly/prenotaly/libs/otel"
	"github.com/prenotaly/prenotaly/libs/runtime"
	"github.com/prenotaly/prenotaly/services/booking-service/internal/arbiter"
	"github.com/prenotaly/prenotaly/services/booking-service/internal/consumer"
	"github.com/prenotaly/prenotaly/services/booking-service/internal/handlers"
	"github.com/prenotaly/prenotaly/services/booking-service/internal/inbox"
	"github.com/prenotaly/prenotaly/services/booking-service/internal/outbox"
	"github.com/prenotaly/prenotaly/services/booking-service/internal/policy"
	"github.com/prenotaly/prenotaly/services/booking-service/internal/storage"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func mustInt(key string, fallback int) int {
	v, err := config.Int(key, fallback)
	if err != nil {
		panic(err)
	}
	return v
}

func mustDuration(key string, fallback time.Duration) time.Duration {
	v, err := config.Duration(key, fallback)
	if err != nil {
		panic(err)
	}
	return v
}

// notesLocation resolves the timezone used to stamp audit notes on
// appointments. Notes are customer-facing, so they follow the tenant's
// wall clock rather than UTC.
func notesLocation(name string, logger *slog.Logger) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		logger.Warn("invalid notes timezone; falling back to UTC", "value", name)
		return time.UTC
	}
	return loc
}

func main() {
	service := config.String("SERVICE_NAME", "booking-service")
	port, err := config.Port("PORT", "8083")
	if err != nil {
		panic(err)
	}
	logger := runtime.NewLogger(service)

	ctx, stop := runtime.SignalContext()
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	dbURL, err := config.RequiredString("DATABASE_URL")
	if err != nil {
		panic(err)
	}

	pool, err := db.Open(ctx, dbURL, db.Options{
		MaxConns: int32(mustInt("DB_MAX_CONNS", 0)),
	})
	if err != nil {
		logger.Error("db connection failed", "err", err)
		panic(err)
	}
	defer pool.Close()

	outboxRepo := outbox.NewRepository(pool)
	repo := storage.NewBookingRepository(pool, outboxRepo, mustDuration("LOCK_TIMEOUT", 3*time.Second))
	sourcePolicy := policy.New(
		config.List("BOT_SOURCE_TAGS", []string{"whatsapp"}),
		notesLocation(config.String("NOTES_TIMEZONE", "Europe/Rome"), logger),
	)
	svc := arbiter.New(repo, sourcePolicy, logger)

	brokers := config.String("KAFKA_BROKERS", "")
	outboxPublisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
		Brokers:   brokers,
		PollEvery: mustDuration("OUTBOX_POLL_INTERVAL", 2*time.Second),
		BatchSize: mustInt("OUTBOX_BATCH_SIZE", 50),
	})
	go outboxPublisher.Run(ctx)

	inboxRepo := inbox.NewRepository(pool)
	replyTopic := config.String("KAFKA_CONSUME_TOPIC", "chat.booking.reply.v1")
	if strings.TrimSpace(brokers) != "" && strings.TrimSpace(replyTopic) != "" {
		replyConsumer := consumer.New(logger, inboxRepo, consumer.Config{
			Brokers: brokers,
			GroupID: config.String("KAFKA_GROUP_ID", "booking-service"),
			Topic:   replyTopic,
		}, consumer.NewReplyHandler(svc, logger))
		go replyConsumer.Run(ctx)
	}

	bookingHandler := handlers.NewBookingHandler(svc, repo, logger)

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(brokers)},
	)
	mux.HandleFunc("/api/v1/appointments/book", bookingHandler.Book)
	mux.HandleFunc("/api/v1/appointments/reschedule", bookingHandler.Reschedule)
	mux.HandleFunc("/api/v1/appointments/cancel", bookingHandler.Cancel)
	mux.HandleFunc("/api/v1/appointments/confirm", bookingHandler.Confirm)
	mux.HandleFunc("/api/v1/appointments/checkin", bookingHandler.CheckIn)
	mux.HandleFunc("/api/v1/appointments/complete", bookingHandler.Complete)
	mux.HandleFunc("/api/v1/appointments", bookingHandler.List)

	limitPerMinute := mustInt("RATE_LIMIT_PER_MINUTE", 60)
	failOpen := config.Bool("RATE_LIMIT_FAIL_OPEN", true)
	var limiter httpx.Limiter
	if addr := strings.TrimSpace(config.String("REDIS_ADDR", "")); addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: config.String("REDIS_PASSWORD", ""),
			DB:       mustInt("REDIS_DB", 0),
		})
		defer rdb.Close()
		limiter = httpx.NewRedisLimiter(rdb, limitPerMinute, time.Minute, config.String("RATE_LIMIT_PREFIX", "rl"))
		logger.Info("rate limiting enabled (redis)", "limit_per_minute", limitPerMinute, "fail_open", failOpen)
	} else {
		limiter = httpx.NewMemoryLimiter(limitPerMinute, time.Minute)
		logger.Info("rate limiting enabled (in-memory)", "limit_per_minute", limitPerMinute)
	}

	httpHandler := httpx.Chain(mux,
		httpx.WithCORS(httpx.CORSPolicy{
			AllowedOrigins:   config.List("CORS_ALLOWED_ORIGINS", []string{"*"}),
			AllowedMethods:   config.List("CORS_ALLOWED_METHODS", []string{"GET", "POST", "OPTIONS"}),
			AllowedHeaders:   config.List("CORS_ALLOWED_HEADERS", []string{"Content-Type", "Authorization", "X-Tenant-Id", "Idempotency-Key"}),
			AllowCredentials: config.Bool("CORS_ALLOW_CREDENTIALS", false),
			MaxAge:           time.Duration(mustInt("CORS_MAX_AGE_SECONDS", 600)) * time.Second,
		}),
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithBodyLimit(int64(mustInt("REQUEST_BODY_LIMIT_BYTES", 1<<20))),
		httpx.WithTimeout(time.Duration(mustInt("REQUEST_TIMEOUT_SECONDS", 10))*time.Second),
		httpx.WithRateLimit(limiter, logger, failOpen),
	)
	httpHandler = otelhttp.NewHandler(httpHandler, "booking")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           httpHandler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "err", err)
		}
	}()

	if err := startGrpcServer(ctx, logger, svc); err != nil {
		logger.Error("grpc server failed to start", "err", err)
	}

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}
	logger.Info("http server stopped")
}
