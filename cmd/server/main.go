package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"mchango-payments/config"
	"mchango-payments/internal/events"
	"mchango-payments/internal/handler"
	"mchango-payments/internal/provider/mpesa"
	"mchango-payments/internal/repository"
	"mchango-payments/internal/router"
	"mchango-payments/internal/sweeper"
	"mchango-payments/internal/usecase"
	"mchango-payments/pkg/security"
)

func main() {
	logger, err := newLogger(os.Getenv("ENVIRONMENT"))
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer logger.Sync()

	logger.Info("starting payment service")

	cfg, err := config.Load(logger)
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	ctx := context.Background()

	dbPool, err := pgxpool.New(ctx, cfg.DSN())
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer dbPool.Close()

	if err := dbPool.Ping(ctx); err != nil {
		logger.Fatal("database unreachable", zap.Error(err))
	}
	logger.Info("connected to database", zap.String("database", cfg.Database.DBName))

	// Optional redis: shared token cache and sweep election
	var (
		redisClient *redis.Client
		locker      sweeper.Locker
	)
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()

		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Fatal("redis unreachable", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
		}
		locker = sweeper.NewRedisLocker(redisClient)
		logger.Info("connected to redis", zap.String("addr", cfg.Redis.Addr))
	}

	var publisher events.Publisher = events.NopPublisher{}
	if len(cfg.Kafka.Brokers) > 0 {
		publisher = events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic, logger)
		logger.Info("publishing payment events", zap.Strings("brokers", cfg.Kafka.Brokers), zap.String("topic", cfg.Kafka.Topic))
	}
	defer publisher.Close()

	var encrypter *security.Encrypter
	if cfg.Mpesa.CertPath != "" {
		encrypter, err = security.LoadEncrypter(cfg.Mpesa.CertPath)
		if err != nil {
			logger.Fatal("failed to load mpesa certificate", zap.String("path", cfg.Mpesa.CertPath), zap.Error(err))
		}
	}

	// Repositories
	configRepo := repository.NewChannelConfigRepository(dbPool)
	pendingRepo := repository.NewPendingPaymentRepository(dbPool)
	ledgerRepo := repository.NewLedgerRepository(dbPool)
	withdrawalRepo := repository.NewWithdrawalRepository(dbPool)

	// Payment network
	mpesaOpts := []mpesa.Option{
		mpesa.WithHTTPClient(&http.Client{Timeout: cfg.Mpesa.HTTPTimeout}),
		mpesa.WithBaseURLs(cfg.Mpesa.SandboxBaseURL, cfg.Mpesa.ProductionBaseURL),
	}
	switch {
	case !cfg.Mpesa.CacheTokens:
	case redisClient != nil:
		mpesaOpts = append(mpesaOpts, mpesa.WithTokenCache(mpesa.NewRedisTokenCache(redisClient, logger)))
	default:
		mpesaOpts = append(mpesaOpts, mpesa.WithTokenCache(mpesa.NewMemoryTokenCache()))
	}
	mpesaClient := mpesa.NewClient(logger, mpesaOpts...)

	// Usecases
	resolver := usecase.NewConfigResolver(configRepo, encrypter, cfg.CallbackBaseURL, logger)
	paymentUC := usecase.NewPaymentUsecase(resolver, mpesaClient, pendingRepo, ledgerRepo, logger)
	callbackUC := usecase.NewCallbackUsecase(ledgerRepo, withdrawalRepo, publisher, logger)
	disbursementUC := usecase.NewDisbursementUsecase(resolver, mpesaClient, withdrawalRepo, logger)

	sweep := sweeper.New(paymentUC, locker, sweeper.Options{
		Schedule:   cfg.Reconciliation.SweepSchedule,
		PendingTTL: cfg.Reconciliation.PendingTTL,
		BatchSize:  cfg.Reconciliation.SweepBatchSize,
	}, logger)
	if err := sweep.Start(); err != nil {
		logger.Fatal("failed to start sweeper", zap.Error(err))
	}

	r := router.SetupRoutes(router.Handlers{
		Payments:      handler.NewPaymentHandler(paymentUC, logger),
		Callbacks:     handler.NewCallbackHandler(callbackUC, cfg.Reconciliation.CallbackTimeout, logger),
		Disbursements: handler.NewDisbursementHandler(disbursementUC, logger),
	}, cfg.Auth.AdminJWTSecret, logger)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 65 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server starting", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}
	select {
	case <-sweep.Stop().Done():
	case <-shutdownCtx.Done():
		logger.Warn("sweep still running at shutdown")
	}

	logger.Info("server stopped")
}

func newLogger(env string) (*zap.Logger, error) {
	if env == "production" {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}
