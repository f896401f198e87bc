package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"qms/place-queue/internal/audit"
	"qms/place-queue/internal/config"
	"qms/place-queue/internal/directory"
	dirpostgres "qms/place-queue/internal/directory/postgres"
	"qms/place-queue/internal/events"
	"qms/place-queue/internal/httpapi"
	"qms/place-queue/internal/hub"
	"qms/place-queue/internal/logging"
	"qms/place-queue/internal/queue"
	"qms/place-queue/internal/realtime"
	"qms/place-queue/internal/store"
	"qms/place-queue/internal/store/memory"
	"qms/place-queue/internal/store/postgres"
	"qms/place-queue/internal/store/sqlite"
	"qms/place-queue/internal/telemetry"

	"github.com/go-redis/redis/v8"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

const serviceName = "queue-service"

func main() {
	cfg := config.Load()

	logs, err := logging.NewFactory(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logs.Sync()
	logger := logs.Create("main")

	shutdownTelemetry := telemetry.Setup(telemetry.Config{
		ServiceName: serviceName,
		Endpoint:    cfg.OTelEndpoint,
		Insecure:    cfg.OTelInsecure,
	}, logs.Create("telemetry"))
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTelemetry(ctx)
	}()

	location, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		logger.Fatal("queue timezone", zap.String("timezone", cfg.Timezone), zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var pool *pgxpool.Pool
	if cfg.StoreDriver == config.StoreDriverPostgres || cfg.DirectoryFile == "" {
		pool, err = pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal("db connect", zap.Error(err))
		}
		defer pool.Close()
	}

	tickets, closeStore, err := openTicketStore(ctx, cfg, pool)
	if err != nil {
		logger.Fatal("ticket store", zap.String("driver", cfg.StoreDriver), zap.Error(err))
	}
	defer closeStore()

	dir, err := openDirectory(cfg, pool)
	if err != nil {
		logger.Fatal("directory", zap.Error(err))
	}

	h := hub.New(logs.Create("hub"))
	publisher, err := startEvents(ctx, cfg, h, logs.Create("events"))
	if err != nil {
		logger.Fatal("events backend", zap.String("backend", cfg.EventsBackend), zap.Error(err))
	}
	fanout := events.NewFanout(logs.Create("fanout"), publisher)

	var sink audit.Sink = audit.NewLogSink(logs.Create("audit"))
	if len(cfg.KafkaBrokers) > 0 {
		kafkaSink := audit.NewKafkaSink(cfg.KafkaBrokers, cfg.AuditTopic, logs.Create("audit"))
		defer func() { _ = kafkaSink.Close() }()
		sink = kafkaSink
	}

	service := queue.NewService(tickets, dir, fanout, queue.Options{
		Location:   location,
		MaxRetries: cfg.ConflictMaxRetries,
		Logger:     logs.Create("queue"),
		Audit:      sink,
	})

	limiter := httpapi.NewRateLimiter(httpapi.RateLimitConfig{
		PerMinute:         cfg.RateLimitPerMinute,
		Burst:             cfg.RateLimitBurst,
		TrustProxyHeaders: cfg.TrustProxyHeaders,
	})
	handler := httpapi.NewHandler(service, httpapi.Options{
		QRSize:  cfg.QRSize,
		Logger:  logs.Create("http"),
		Limiter: limiter,
	})
	router := handler.Routes()
	router.Handle("/realtime/*", realtime.SockJSHandler("/realtime", h, cfg.HubClientBuffer, logs.Create("sockjs")))
	router.Handle("/ws", realtime.NewWebSocketHandler(h, realtime.WebSocketOptions{
		Buffer:       cfg.HubClientBuffer,
		PingInterval: cfg.WSPingInterval,
		Logger:       logs.Create("websocket"),
	}))

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      otelhttp.NewHandler(router, serviceName),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("listening", zap.String("addr", server.Addr), zap.String("store", cfg.StoreDriver))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", zap.Error(err))
	}
}

func openTicketStore(ctx context.Context, cfg config.Config, pool *pgxpool.Pool) (store.TicketStore, func(), error) {
	switch cfg.StoreDriver {
	case config.StoreDriverPostgres:
		return postgres.NewStore(pool), func() {}, nil
	case config.StoreDriverSQLite:
		db, err := sqlite.Open(cfg.SQLiteDSN)
		if err != nil {
			return nil, nil, err
		}
		s := sqlite.NewStore(db)
		if err := s.Init(ctx); err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		return s, func() { _ = db.Close() }, nil
	case config.StoreDriverMemory:
		return memory.NewStore(), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}

// openDirectory prefers a YAML file so the sqlite and memory drivers can run
// without Postgres.
func openDirectory(cfg config.Config, pool *pgxpool.Pool) (queue.Directory, error) {
	if cfg.DirectoryFile != "" {
		static, err := directory.LoadStatic(cfg.DirectoryFile)
		if err != nil {
			return nil, err
		}
		return static, nil
	}
	if pool == nil {
		return nil, errors.New("DIRECTORY_FILE or DB_DSN is required")
	}
	return dirpostgres.NewDirectory(pool), nil
}

// startEvents returns the publisher events are fanned out to. With Redis,
// every instance publishes there and relays the channels back into its own
// hub; otherwise the hub is published to directly.
func startEvents(ctx context.Context, cfg config.Config, h *hub.Hub, logger *zap.Logger) (events.Publisher, error) {
	switch cfg.EventsBackend {
	case config.EventsBackendLocal:
		return h, nil
	case config.EventsBackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("redis ping: %w", err)
		}
		relay := events.NewRedisRelay(client, h, logger)
		ready := make(chan struct{})
		go func() {
			if err := relay.Run(ctx, ready); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("redis relay stopped", zap.Error(err))
			}
		}()
		select {
		case <-ready:
		case <-time.After(5 * time.Second):
			logger.Warn("redis relay not ready, continuing")
		}
		return events.NewRedisPublisher(client), nil
	default:
		return nil, fmt.Errorf("unknown events backend %q", cfg.EventsBackend)
	}
}
