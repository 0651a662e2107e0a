package main

import (
	"context"
	"errors"
	"log"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/vizzle/studio/internal/auth"
	"github.com/vizzle/studio/internal/client"
	"github.com/vizzle/studio/internal/config"
	"github.com/vizzle/studio/internal/history"
	"github.com/vizzle/studio/internal/logger"
	"github.com/vizzle/studio/internal/metrics"
	"github.com/vizzle/studio/internal/middleware"
	"github.com/vizzle/studio/internal/orchestrator"
	"github.com/vizzle/studio/internal/poller"
	"github.com/vizzle/studio/internal/server"
	"github.com/vizzle/studio/internal/service"
	"github.com/vizzle/studio/internal/store"
	"github.com/vizzle/studio/internal/telemetry"
	ws "github.com/vizzle/studio/internal/websocket"
	"github.com/vizzle/studio/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	appLog, err := logger.New(cfg.Server.Env, cfg.Server.LogLevel)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer appLog.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.SetupTracing(ctx, cfg.Telemetry, appLog)
	if err != nil {
		appLog.Fatal("failed to set up tracing", "error", err)
	}

	m := metrics.New()

	// Redis backs the durable store tier, the rate limiter and the history queue
	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	redisUp := true
	if err := redisClient.Ping(ctx).Err(); err != nil {
		appLog.Warn("redis not available, state is kept in memory only", "addr", cfg.Redis.Addr, "error", err)
		redisUp = false
	}

	var backend store.Backend = store.NewExpiringMemoryBackend(cfg.Storage.TTL)
	var limiterRedis *redis.Client
	if redisUp {
		backend = store.NewRedisBackend(redisClient, cfg.Storage.TTL)
		limiterRedis = redisClient
	}
	guarded := store.NewGuardedStore(backend, cfg.Storage.AdmissionThreshold, appLog, m,
		store.WithVolatileTTL(cfg.Storage.VolatileTTL))
	go guarded.RunJanitor(ctx)
	prefix := cfg.Storage.KeyPrefix

	// Remote job service
	vizzle := client.NewVizzleClient(&cfg.Vizzle, appLog)
	jobPoller := poller.New(vizzle, poller.OptionsFromConfig(cfg.Poll), appLog, m)

	// History: Postgres through the asynq queue when configured, memory otherwise
	var (
		historyStore    history.Store = history.NewMemoryStore()
		historyRecorder history.Recorder
		pool            *pgxpool.Pool
		asynqClient     *asynq.Client
	)
	historyRecorder = historyStore
	if cfg.Postgres.DSN != "" {
		pool, err = history.NewPostgresPool(ctx, cfg.Postgres.DSN)
		if err != nil {
			appLog.Fatal("failed to connect to postgres", "error", err)
		}
		defer pool.Close()

		pg := history.NewPostgresStore(pool)
		if err := pg.EnsureSchema(ctx); err != nil {
			appLog.Fatal("failed to create history schema", "error", err)
		}
		historyStore = pg
		historyRecorder = pg

		if redisUp {
			asynqClient = asynq.NewClient(redisOpt)
			defer asynqClient.Close()
			historyRecorder = history.NewQueueRecorder(asynqClient)
		}
	} else {
		appLog.Info("postgres not configured, history is kept in memory")
	}

	// Result archive (optional)
	var archive client.ResultArchive
	if cfg.R2.AccessKeyID != "" && cfg.R2.SecretAccessKey != "" {
		r2Client, err := client.NewR2Client(&cfg.R2)
		if err != nil {
			appLog.Warn("R2 archive not initialized", "error", err)
		} else {
			archive = r2Client
		}
	} else {
		appLog.Info("R2 storage not configured, results are not archived")
	}

	// Auth
	var verifier auth.TokenVerifier
	if auth.IssuerOf(&cfg.Zitadel) != "" {
		jwks, err := auth.NewJWKSVerifier(&cfg.Zitadel)
		if err != nil {
			appLog.Warn("JWKS verifier not initialized", "error", err)
		} else {
			defer jwks.Close()
			verifier = jwks
		}
	}
	authenticator := auth.NewAuthenticator(verifier, cfg.JWT.Secret)

	hub := ws.NewHub(appLog)
	go hub.Run(ctx)

	results := store.NewResultStore(guarded, prefix)
	sessions := service.NewSessionService(orchestrator.Deps{
		Jobs:           vizzle,
		Media:          vizzle,
		Poller:         jobPoller,
		History:        historyRecorder,
		Results:        results,
		Metrics:        m,
		Log:            appLog,
		MaxUploadBytes: cfg.Vizzle.MaxUploadBytes,
	}, archive, hub, appLog, cfg.Storage.SessionIdleTTL)
	go sessions.RunEviction(ctx, time.Minute)

	if cfg.Gateway.Enabled {
		appLog.Info("gateway mode enabled, using header-based auth")
	}

	app := server.New(server.Options{
		Services: server.Services{
			Sessions: sessions,
			Uploads:  service.NewUploadService(vizzle, vizzle, store.NewUploadStateStore(guarded, prefix), cfg.Vizzle.MaxUploadBytes, appLog),
			Pages:    service.NewPageService(store.NewPageStore(guarded, prefix), appLog),
			Wishlist: service.NewWishlistService(store.NewWishlistStore(guarded, prefix)),
			History:  service.NewHistoryService(historyStore),
			Safety:   service.NewSafetyService(vizzle, appLog),
		},
		Authenticator: authenticator,
		Gateway:       cfg.Gateway.Enabled,
		Limiter:       middleware.NewRateLimiter(limiterRedis, appLog),
		RateLimits:    cfg.RateLimit,
		Hub:           hub,
		Metrics:       m,
		Health: func() fiber.Map {
			return fiber.Map{
				"redis":    redisUp,
				"postgres": pool != nil,
				"r2":       archive != nil,
				"auth":     authenticator.Configured(),
			}
		},
		Log:       appLog,
		AccessLog: strings.EqualFold(cfg.Server.LogLevel, "debug"),
	})

	// History worker
	var workerSrv *asynq.Server
	if asynqClient != nil {
		workerSrv = asynq.NewServer(redisOpt, asynq.Config{
			Concurrency: 4,
			Queues:      map[string]int{history.QueueName: 1},
			LogLevel:    asynqLogLevel(cfg.Server.LogLevel),
		})
		mux := asynq.NewServeMux()
		worker.NewHistoryWorker(historyStore, appLog).Register(mux)
		go func() {
			if err := workerSrv.Run(mux); err != nil {
				appLog.Error("asynq worker error", "error", err)
			}
		}()
	}

	addr := ":" + cfg.Server.Port
	appLog.Info("server starting", "addr", addr, "env", cfg.Server.Env)
	serve(ctx, func() error { return app.Listen(addr) }, func() error {
		sessions.Shutdown()
		return app.ShutdownWithTimeout(10 * time.Second)
	}, appLog)

	if workerSrv != nil {
		workerSrv.Shutdown()
	}

	// commit what is still only in memory while redis is open; oversized
	// payloads stay out
	snapCtx, cancelSnap := context.WithTimeout(context.Background(), 5*time.Second)
	committed, err := guarded.Snapshot(snapCtx)
	cancelSnap()
	if err != nil {
		appLog.Error("state snapshot failed", "error", err)
	} else {
		appLog.Info("state snapshot committed", "keys", len(committed))
	}

	flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := shutdownTracing(flushCtx); err != nil {
		appLog.Warn("tracer shutdown error", "error", err)
	}
}

// serve runs listen until ctx is done or listen fails, then runs shutdown. It
// returns only after shutdown has finished, since listen returns as soon as the
// listener closes while in-flight requests are still draining.
func serve(ctx context.Context, listen, shutdown func() error, log *logger.Logger) {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		<-ctx.Done()
		log.Info("shutting down server")
		if err := shutdown(); err != nil {
			log.Error("server shutdown error", "error", err)
		}
	}()

	if err := listen(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("server error", "error", err)
	}
	cancel()
	<-done
}

func asynqLogLevel(level string) asynq.LogLevel {
	switch strings.ToLower(level) {
	case "debug":
		return asynq.DebugLevel
	case "warn":
		return asynq.WarnLevel
	case "error":
		return asynq.ErrorLevel
	default:
		return asynq.InfoLevel
	}
}
