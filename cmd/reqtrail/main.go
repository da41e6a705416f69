package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/xela07ax/reqtrail/internal/analytics"
	"github.com/xela07ax/reqtrail/internal/delivery"
	"github.com/xela07ax/reqtrail/internal/engine"
	"github.com/xela07ax/reqtrail/internal/gateway"
	"github.com/xela07ax/reqtrail/internal/identity"
	"github.com/xela07ax/reqtrail/internal/infra"
	"github.com/xela07ax/reqtrail/internal/repository/memory"
	"github.com/xela07ax/reqtrail/internal/repository/postgres"
	redisrepo "github.com/xela07ax/reqtrail/internal/repository/redis"
	"github.com/xela07ax/reqtrail/internal/revision"
)

func main() {
	// 1. Конфиг и логгер
	cfg, err := infra.LoadConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger, err := infra.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()

	// Контекст для управления жизненным циклом фоновых горутин
	appCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Метрики
	reg := prometheus.NewRegistry()
	metrics := engine.NewMetrics(reg)

	// 2. Инфраструктура: поднимаем только то, что нужно выбранным режимам
	var rdb *redis.Client
	if cfg.Store.Kind == "redis" || cfg.Gateway.Kind == "redis" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		defer rdb.Close()
		if err := infra.WaitReady(appCtx, logger, "redis", func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}); err != nil {
			logger.Fatal("redis init failed", zap.Error(err))
		}
	}

	var db *sql.DB
	if cfg.Store.Kind == "postgres" || cfg.Gateway.Kind == "postgres" {
		db, err = postgres.Open(cfg.Database.URL, cfg.Database.MaxConns, cfg.Database.MinConns)
		if err != nil {
			logger.Fatal("postgres init failed", zap.Error(err))
		}
		defer db.Close()
		if err := infra.WaitReady(appCtx, logger, "postgres", db.PingContext); err != nil {
			logger.Fatal("postgres init failed", zap.Error(err))
		}
	}

	// 3. Хранилище сессий
	var store engine.SessionStore
	switch cfg.Store.Kind {
	case "redis":
		store = redisrepo.NewSessionStore(rdb, cfg.Store.TTL)
	case "postgres":
		repo := postgres.NewSessionRepo(db, cfg.Store.TTL)
		go purgeExpired(appCtx, repo, logger)
		store = repo
	default:
		mem := memory.NewSessionStore(cfg.Store.TTL)
		go mem.StartSweeper(appCtx, time.Minute)
		store = mem
	}

	// 4. Доставка отчетов
	var gw engine.Gateway
	switch cfg.Gateway.Kind {
	case "http":
		gw = gateway.NewHTTPGateway(cfg.Gateway.URL, gateway.HTTPOptions{
			Timeout:       cfg.Gateway.Timeout,
			RateLimit:     cfg.Gateway.RateLimit,
			Burst:         cfg.Gateway.Burst,
			CBMaxRequests: cfg.Gateway.CBMaxRequests,
			CBInterval:    cfg.Gateway.CBInterval,
			CBTimeout:     cfg.Gateway.CBTimeout,
			BreakerState:  metrics.CircuitBreakerState,
		}, logger)
	case "redis":
		gw = gateway.NewRedisGateway(rdb, infra.RedisChanReports, logger)
	case "grpc":
		conn, err := grpc.NewClient(cfg.Gateway.URL, grpc.WithTransportCredentials(insecure.NewCredentials()))
		if err != nil {
			logger.Fatal("failed to connect to collector", zap.Error(err))
		}
		defer conn.Close()
		gw = gateway.NewGRPCGateway(conn, cfg.Gateway.Timeout, logger)
	case "postgres":
		// Без коллектора: отчеты пачками пишутся прямо в таблицу reports
		batcher := delivery.NewBatcher(postgres.NewReportRepo(db), delivery.BatcherOptions{
			BufferSize:    cfg.Gateway.BufferSize,
			BatchSize:     cfg.Gateway.BatchSize,
			FlushInterval: cfg.Gateway.FlushInterval,
			BufferFill:    metrics.BatchBufferFill,
		}, logger)
		batcher.Start()
		defer batcher.Stop()
		gw = gateway.NewBatchGateway(batcher)
	}

	// 5. Кто пользователь и какая ревизия
	var ident engine.IdentityResolver
	switch cfg.Identity.Kind {
	case "jwt":
		pub, err := identity.ParseRSAPublicKey(cfg.Identity.PublicKey)
		if err != nil {
			logger.Fatal("identity key", zap.Error(err))
		}
		ident = identity.NewJWTResolver(pub)
	case "header":
		ident = identity.NewHeaderResolver(cfg.Identity.Header)
	}

	var rev engine.RevisionResolver
	switch {
	case cfg.Analytics.RevisionHeader != "":
		rev = revision.Header(cfg.Analytics.RevisionHeader)
	case cfg.Analytics.Revision != "":
		rev = revision.Static(cfg.Analytics.Revision)
	default:
		if r := revision.FromBuildInfo(); r != "" {
			rev = r
		}
	}

	sanitizer, err := analytics.NewSanitizer(cfg.Analytics.ExcludeURLs, cfg.Analytics.ExcludeParams)
	if err != nil {
		logger.Fatal("sanitizer", zap.Error(err))
	}

	// 6. Core (Сборка перехватчика)
	interceptor := engine.NewInterceptor(store, engine.Options{
		ReportPath:       cfg.Analytics.ReportPath,
		SessionAttribute: cfg.Analytics.SessionAttribute,
		MaxHistorySize:   cfg.Analytics.MaxHistorySize,
		Sanitizer:        sanitizer,
		Gateway:          gw,
		Identity:         ident,
		Revision:         rev,
	}, metrics, logger)

	// 7. HTTP Server
	// Порядок важен: Recoverer снаружи перехватчика, чтобы паника,
	// которую перехватчик пробросил дальше, превратилась в 500
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(engine.SessionMiddleware(cfg.Analytics.SessionCookie))
	r.Use(interceptor.Middleware)
	mountApp(r)

	srv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Экспортируем метрики для Prometheus
	metricsSrv := &http.Server{
		Addr:    cfg.Metrics.Addr,
		Handler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", zap.Error(err))
		}
	}()

	// 8. Graceful Shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("reqtrail started", zap.String("addr", srv.Addr), zap.String("store", cfg.Store.Kind), zap.String("gateway", cfg.Gateway.Kind))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("listen failed", zap.Error(err))
		}
	}()

	<-stop // Ждем сигнал
	logger.Info("reqtrail stopping")

	// Даем 5 секунд на завершение запросов
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", zap.Error(err))
	}
	_ = metricsSrv.Shutdown(shutdownCtx)
	cancel()
	logger.Info("reqtrail exited properly")
}

// purgeExpired периодически чистит истекшие сессии в Postgres.
func purgeExpired(ctx context.Context, repo *postgres.SessionRepo, logger *zap.Logger) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := repo.DeleteExpired(ctx)
			if err != nil {
				logger.Warn("session purge failed", zap.Error(err))
				continue
			}
			if n > 0 {
				logger.Debug("expired sessions purged", zap.Int64("count", n))
			}
		}
	}
}
