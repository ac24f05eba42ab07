package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"

	"github.com/rl1809/custody-ledger/internal/adapter/handler"
	"github.com/rl1809/custody-ledger/internal/adapter/storage"
	"github.com/rl1809/custody-ledger/internal/config"
	"github.com/rl1809/custody-ledger/internal/core/domain"
	"github.com/rl1809/custody-ledger/internal/core/service"
	"github.com/rl1809/custody-ledger/internal/platform/logger"
	"github.com/rl1809/custody-ledger/internal/platform/metrics"
	"github.com/rl1809/custody-ledger/internal/platform/tracing"
	"github.com/rl1809/custody-ledger/internal/port"
)

const serviceName = "custody-ledger"

type store interface {
	port.DatabaseRepository
	port.SerialRepository
	port.Roster
}

func main() {
	cfg, warnings := config.Load()

	log, err := logger.New(cfg.LogMode)
	if err != nil {
		panic(err)
	}
	defer log.Sync()
	for _, w := range warnings {
		log.Warn("config", "warning", w)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing := tracing.Init(ctx, log, tracing.Config{
		Enabled:     cfg.OTelEnabled,
		ServiceName: serviceName,
		Environment: cfg.Environment,
		Endpoint:    cfg.OTelEndpoint,
		Insecure:    cfg.OTelInsecure,
		SampleRatio: cfg.OTelSampleRatio,
	})

	// Initialize store
	var (
		db      store
		closeDB = func() {}
	)
	if cfg.StoreDriver == storage.DriverMemory {
		db = storage.NewMemoryAdapter()
		log.Warn("using in-memory store, data is lost on restart")
	} else {
		sqlStore, err := storage.OpenSQL(ctx, cfg.StoreDriver, cfg.StoreDSN)
		if err != nil {
			log.Fatal("failed to open store", "driver", cfg.StoreDriver, "error", err)
		}
		db = sqlStore
		closeDB = func() { sqlStore.DB().Close() }
		log.Info("connected to store", "dialect", sqlStore.Dialect())
	}

	recorder := metrics.NewRecorder()
	opts := []service.Option{
		service.WithMetrics(recorder),
		service.WithMaxRetries(cfg.ApplyMaxRetries),
		service.WithSerializedCategories(cfg.SerializedCategories...),
	}

	// Initialize Redis
	var rdb *redis.Client
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			PoolSize: 100,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Fatal("failed to connect redis", "addr", cfg.RedisAddr, "error", err)
		}
		redisAdapter := storage.NewRedisAdapter(rdb)
		opts = append(opts, service.WithCache(redisAdapter), service.WithLocker(redisAdapter))
		log.Info("connected to redis", "addr", cfg.RedisAddr)
	}

	// Initialize services
	custodyService := service.NewCustodyService(db, log, opts...)
	inventoryService := service.NewInventoryService(db, log, cfg.SerializedCategories...)
	stockService := service.NewStockService(db, db, log, cfg.AggregateConcurrency)

	// Start periodic reconcile
	var wg sync.WaitGroup
	if cfg.ReconcileInterval > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			reconcileLoop(ctx, log, custodyService, cfg.ReconcileCategories, cfg.ReconcileInterval, cfg.ReconcileWorkers)
		}()
		log.Info("started reconcile loop", "interval", cfg.ReconcileInterval, "categories", cfg.ReconcileCategories)
	}

	// Initialize gRPC server
	grpcServer := grpc.NewServer(grpc.StatsHandler(otelgrpc.NewServerHandler()))
	handler.RegisterCustodyServer(grpcServer, handler.NewGRPCHandler(custodyService, stockService, log))

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		log.Fatal("failed to listen", "addr", cfg.GRPCAddr, "error", err)
	}

	go func() {
		log.Info("gRPC server listening", "addr", cfg.GRPCAddr)
		if err := grpcServer.Serve(lis); err != nil {
			log.Error("gRPC server error", "error", err)
		}
	}()

	// Initialize HTTP server
	httpHandler := handler.NewHTTPHandler(custodyService, inventoryService, stockService, log, cfg.ReconcileWorkers)
	router := handler.NewRouter(handler.RouterConfig{
		Handler:        httpHandler,
		Metrics:        recorder.Handler(),
		AllowedOrigins: cfg.AllowedOrigins,
		ServiceName:    serviceName,
	})

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("HTTP server listening", "addr", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			log.Error("HTTP server error", "error", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn("HTTP shutdown", "error", err)
	}
	log.Info("HTTP server stopped")

	grpcServer.GracefulStop()
	log.Info("gRPC server stopped")

	// Stop the reconcile loop and wait for an in-flight sweep
	cancel()
	wg.Wait()

	if err := shutdownTracing(shutdownCtx); err != nil {
		log.Warn("tracing shutdown", "error", err)
	}
	if rdb != nil {
		rdb.Close()
	}
	closeDB()
	log.Info("connections closed")
}

// reconcileLoop sweeps every configured category on each tick until ctx ends.
func reconcileLoop(ctx context.Context, log *logger.Logger, custody *service.CustodyService, categories []domain.Category, interval time.Duration, workers int) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		for _, category := range categories {
			report, err := custody.ReconcileAll(ctx, category, workers)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				log.Error("reconcile sweep failed", "category", category, "error", err)
				continue
			}
			if report.Rebuilt > 0 || len(report.Failed) > 0 {
				log.Warn("reconcile sweep repaired drift",
					"category", category,
					"checked", report.Checked,
					"rebuilt", report.Rebuilt,
					"failed", len(report.Failed),
					"duration", report.Duration,
				)
			} else {
				log.Debug("reconcile sweep clean", "category", category, "checked", report.Checked)
			}
		}
	}
}
