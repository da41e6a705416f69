package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/xela07ax/reqtrail/internal/collector"
	"github.com/xela07ax/reqtrail/internal/delivery"
	"github.com/xela07ax/reqtrail/internal/infra"
	"github.com/xela07ax/reqtrail/internal/repository/postgres"
)

func main() {
	cfg, err := infra.LoadConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.Database.URL == "" {
		log.Fatal("database.url is required for collector")
	}
	logger, err := infra.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()

	appCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 1. Postgres для отчетов
	db, err := postgres.Open(cfg.Database.URL, cfg.Database.MaxConns, cfg.Database.MinConns)
	if err != nil {
		logger.Fatal("postgres init failed", zap.Error(err))
	}
	defer db.Close()
	if err := infra.WaitReady(appCtx, logger, "postgres", db.PingContext); err != nil {
		logger.Fatal("postgres init failed", zap.Error(err))
	}

	reg := prometheus.NewRegistry()
	bufferFill := promauto.With(reg).NewGauge(prometheus.GaugeOpts{
		Name: "reqtrail_collector_buffer_utilization",
		Help: "Current number of reports waiting to be written.",
	})

	// Теперь отчеты полетят в базу пачками
	batcher := delivery.NewBatcher(postgres.NewReportRepo(db), delivery.BatcherOptions{
		BufferSize:    cfg.Gateway.BufferSize,
		BatchSize:     cfg.Gateway.BatchSize,
		FlushInterval: cfg.Gateway.FlushInterval,
		BufferFill:    bufferFill,
	}, logger)
	batcher.Start()

	// 2. Redis Pub/Sub (для RedisGateway)
	if cfg.Collector.SubscribeRedis {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		defer rdb.Close()
		go collector.ListenReports(appCtx, rdb, infra.RedisChanReports, batcher, logger)
	}

	// 3. gRPC (для GRPCGateway)
	grpcSrv := grpc.NewServer(grpc.UnaryInterceptor(collector.UnaryLoggingInterceptor(logger)))
	collector.RegisterGRPCServer(grpcSrv, collector.NewGRPCServer(batcher, logger))

	go func() {
		lis, err := net.Listen("tcp", cfg.Collector.GRPCAddr)
		if err != nil {
			logger.Fatal("failed to listen gRPC", zap.Error(err))
		}
		logger.Info("collector gRPC server started", zap.String("addr", cfg.Collector.GRPCAddr))
		if err := grpcSrv.Serve(lis); err != nil {
			logger.Error("failed to serve gRPC", zap.Error(err))
		}
	}()

	// 4. HTTP (для HTTPGateway)
	srv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      collector.NewServer(batcher, logger),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	metricsSrv := &http.Server{
		Addr:    cfg.Metrics.Addr,
		Handler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("collector started", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("listen failed", zap.Error(err))
		}
	}()

	<-stop
	logger.Info("collector stopping")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", zap.Error(err))
	}
	grpcSrv.GracefulStop()
	cancel()
	_ = metricsSrv.Shutdown(shutdownCtx)

	// Останавливаем прием и ждем финальный flush
	batcher.Stop()
	logger.Info("collector exited properly")
}
