package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"design-service/config"
	"design-service/internal/api"
	"design-service/internal/broker"
	"design-service/internal/gateway"
	"design-service/internal/lock"
	"design-service/internal/redisclient"
	"design-service/internal/service"
	"design-service/internal/store"
	"design-service/internal/util"
	"design-service/internal/worker"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

func main() {
	app := &cli.App{
		Name:  "design-service",
		Usage: "set design workflow and payment settlement",
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "run the HTTP API and background workers",
				Action: serve,
			},
			{
				Name:   "migrate",
				Usage:  "apply database migrations and exit",
				Action: migrateDB,
			},
		},
		DefaultCommand: "serve",
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

type repositories interface {
	service.DesignRepository
	service.PaymentRepository
	service.OrderRepository
}

func migrateDB(_ *cli.Context) error {
	cfg := config.Load()

	db, err := store.NewStore(cfg.Storage.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		return err
	}
	log.Println("Migrations applied")
	return nil
}

func serve(_ *cli.Context) error {
	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env, cfg.Server.LogLevel); err != nil {
		return fmt.Errorf("initialize logger: %w", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting design service")

	tp, err := util.InitTracer("design-service", cfg.Observ.JaegerEndpoint)
	if err != nil {
		return fmt.Errorf("initialize tracer: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			logger.Warn("Error shutting down tracer", zap.Error(err))
		}
	}()

	checks := map[string]api.ReadinessCheck{}

	var repos repositories
	switch cfg.Storage.Backend {
	case "memory":
		repos = store.NewMemoryStore()
		logger.Warn("Using in-memory storage; data is lost on restart")
	default:
		db, err := store.NewStore(cfg.Storage.DatabaseURL)
		if err != nil {
			return fmt.Errorf("connect database: %w", err)
		}
		defer db.Close()
		if err := db.Migrate(); err != nil {
			return err
		}
		repos = db
		checks["postgres"] = func(ctx context.Context) error { return db.GetDB().PingContext(ctx) }
		logger.Info("Database connected")
	}

	var locker lock.Locker
	switch cfg.Payments.LockBackend {
	case "local":
		locker = lock.NewLocal(cfg.Payments.LockWait)
		logger.Warn("Using process-local target locks; run a single replica")
	default:
		redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer redisClient.Close()
		locker = redisclient.NewLocker(redisClient, cfg.Payments.LockTTL, cfg.Payments.LockWait)
		checks["redis"] = redisClient.Ping
		logger.Info("Redis connected")
	}

	var (
		notifier service.Notifier
		queue    *broker.EventPublisher
	)
	if len(cfg.Kafka.Brokers) > 0 {
		producer := broker.NewProducer(cfg.Kafka.Brokers)
		defer producer.Close()
		queue = broker.NewEventPublisher(producer, cfg.Kafka.TopicEvents, cfg.Kafka.TopicCallbacks)
		notifier = queue
		logger.Info("Kafka producer initialized", zap.Strings("brokers", cfg.Kafka.Brokers))
	} else {
		notifier = broker.NewLogPublisher()
		logger.Warn("No Kafka brokers configured; events are only logged")
	}

	client := gateway.NewClient(gateway.ClientOptions{
		Timeout:    cfg.Gateways.Timeout,
		MaxRetries: cfg.Gateways.MaxRetries,
	})
	registry := gateway.NewRegistry(
		gateway.NewProviderA(gateway.ProviderAConfig{
			BaseURL:     cfg.Gateways.ProviderABaseURL,
			MerchantID:  cfg.Gateways.ProviderAMerchantID,
			CallbackURL: cfg.Gateways.ProviderACallbackURL,
		}, client),
		gateway.NewProviderB(gateway.ProviderBConfig{
			BaseURL:     cfg.Gateways.ProviderBBaseURL,
			APIKey:      cfg.Gateways.ProviderBAPIKey,
			Sandbox:     cfg.Gateways.ProviderBSandbox,
			CallbackURL: cfg.Gateways.ProviderBCallbackURL,
		}, client),
		gateway.NewInternal(),
	)

	ledger := service.NewPaymentLedger(repos)
	orderService := service.NewOrderService(repos, ledger)
	workflow := service.NewDesignWorkflow(repos, orderService, ledger, locker, notifier, service.WorkflowOptions{
		AllowRevisionAfterCompletion: cfg.Workflow.AllowRevisionAfterCompletion,
	})
	coordinator := service.NewSettlementCoordinator(registry, ledger, workflow, orderService, locker, notifier)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	var callbackWorker *worker.CallbackWorker
	if queue != nil {
		consumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicCallbacks, cfg.Kafka.ConsumerGroup)
		callbackWorker = worker.NewCallbackWorker(consumer, coordinator)
		go func() {
			if err := callbackWorker.Start(workerCtx); err != nil && workerCtx.Err() == nil {
				logger.Error("Callback worker error", zap.Error(err))
			}
		}()
	}

	sweeper := worker.NewPaymentSweeper(coordinator, cfg.Payments.SweepInterval, cfg.Payments.AttemptTTL)
	go func() {
		_ = sweeper.Start(workerCtx)
	}()

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handler := api.NewHandler(orderService, workflow, ledger, coordinator)
	if queue != nil {
		handler.WithCallbackQueue(queue)
	}
	for name, check := range checks {
		handler.WithReadinessCheck(name, check)
	}
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		logger.Info("Starting HTTP server", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	var metricsSrv *http.Server
	if port := cfg.Observ.PrometheusPort; port != "" && port != cfg.Server.Port {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsSrv = &http.Server{Addr: fmt.Sprintf(":%s", port), Handler: mux}
		go func() {
			logger.Info("Starting metrics server", zap.String("port", port))
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("Metrics server failed", zap.Error(err))
			}
		}()
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}
	if metricsSrv != nil {
		_ = metricsSrv.Shutdown(shutdownCtx)
	}

	workerCancel()
	sweeper.Stop()
	if callbackWorker != nil {
		if err := callbackWorker.Stop(); err != nil {
			logger.Warn("Error stopping callback worker", zap.Error(err))
		}
	}

	logger.Info("Server exited")
	return nil
}
