package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"wallet-ledger/config"
	httpHandler "wallet-ledger/internal/adapter/http/handler"
	"wallet-ledger/internal/adapter/messaging/rabbitmq"
	"wallet-ledger/internal/adapter/messaging/schema"
	"wallet-ledger/internal/adapter/metrics"
	"wallet-ledger/internal/adapter/storage/mongodb"
	pgStorage "wallet-ledger/internal/adapter/storage/postgres"
	redisStorage "wallet-ledger/internal/adapter/storage/redis"
	"wallet-ledger/internal/core/ports"
	"wallet-ledger/internal/service"
	"wallet-ledger/pkg/logger"
)

func main() {
	// Load configuration
	cfg, err := config.Load("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New("wallet-ledger-api", cfg.Log.Level, cfg.Log.Pretty)

	log.Info().
		Str("mode", cfg.Server.Mode).
		Int("port", cfg.Server.Port).
		Msg("Starting Wallet Ledger API")

	ctx := context.Background()

	// Initialize PostgreSQL pool
	pool, err := pgStorage.NewPool(ctx, cfg.Database, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	// Initialize Redis client
	rdb, err := redisStorage.NewClient(ctx, cfg.Redis, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()

	// Initialize MongoDB client
	mongoClient, err := mongodb.NewClient(ctx, cfg.Mongo, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to MongoDB")
	}
	defer mongoClient.Disconnect(context.Background()) //nolint:errcheck

	// Initialize RabbitMQ connection and topology
	conn, ch, err := rabbitmq.Connect(cfg.Rabbit, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to RabbitMQ")
	}
	defer conn.Close()
	if err := rabbitmq.DeclareTopology(ch, schema.Topics()); err != nil {
		log.Fatal().Err(err).Msg("Failed to declare broker topology")
	}

	collector := metrics.NewCollector()

	// Messaging: schema-registry codec and transactional publisher
	codec := schema.NewCodec(schema.NewRegistryClient(cfg.Registry.URL))
	tokens := rabbitmq.NewTokenIssuer(cfg.Rabbit.InternalSecret, cfg.Rabbit.ClientID)
	publisher := rabbitmq.NewPublisher(ch, codec, tokens, collector, log)

	// Ledger store: postgres behind the redis read-through cache
	ledgerRepo := pgStorage.NewLedgerRepo(pool, collector)
	ledgerStore := redisStorage.NewCachedLedgerStore(ledgerRepo, rdb, log, collector)

	// User storage
	userRepo := mongodb.NewUserRepo(mongoClient, cfg.Mongo.Database)
	if err := userRepo.EnsureIndexes(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to ensure MongoDB indexes")
	}

	// Core services
	hashSvc := service.NewArgon2HashService()
	tokenSvc := service.NewJWTTokenService(cfg.JWT.Secret, cfg.JWT.Expiry, cfg.JWT.Issuer)
	walletSvc := service.NewWalletService(ledgerStore, publisher, log)
	userSvc := service.NewUserService(userRepo, hashSvc, tokenSvc, publisher, log)
	activity := redisStorage.NewWalletEventStore(rdb)

	// Health checkers
	pgHealth := pgStorage.NewHealthCheck(pool)
	redisHealth := redisStorage.NewHealthCheck(rdb)
	mongoHealth := mongodb.NewHealthCheck(mongoClient)

	// Setup Gin router with all routes
	router := httpHandler.SetupRouter(httpHandler.RouterDeps{
		WalletSvc:      walletSvc,
		UserSvc:        userSvc,
		TokenSvc:       tokenSvc,
		Activity:       activity,
		HealthCheckers: []ports.HealthChecker{pgHealth, redisHealth, mongoHealth},
		Metrics:        collector,
		Logger:         log,
	})

	// HTTP Server with graceful shutdown
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	// Start server in goroutine
	go func() {
		log.Info().Str("addr", addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited")
}
