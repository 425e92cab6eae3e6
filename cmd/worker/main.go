package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"wallet-ledger/config"
	"wallet-ledger/internal/adapter/messaging/rabbitmq"
	"wallet-ledger/internal/adapter/messaging/schema"
	"wallet-ledger/internal/adapter/metrics"
	pgStorage "wallet-ledger/internal/adapter/storage/postgres"
	redisStorage "wallet-ledger/internal/adapter/storage/redis"
	"wallet-ledger/internal/core/domain"
	"wallet-ledger/internal/service"
	"wallet-ledger/pkg/logger"
)

const (
	sweepInterval = time.Minute
	sweepMaxAge   = 15 * time.Minute
)

// The worker runs both consumers plus the periodic stale-saga sweep:
// the wallet side materializes a wallet for every users.created event,
// the users side records each user's latest wallet transaction.
func main() {
	cfg, err := config.Load("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New("wallet-ledger-worker", cfg.Log.Level, cfg.Log.Pretty)
	log.Info().Msg("Starting Wallet Ledger worker")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgStorage.NewPool(ctx, cfg.Database, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	rdb, err := redisStorage.NewClient(ctx, cfg.Redis, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()

	conn, ch, err := rabbitmq.Connect(cfg.Rabbit, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to RabbitMQ")
	}
	defer conn.Close()
	if err := rabbitmq.DeclareTopology(ch, schema.Topics()); err != nil {
		log.Fatal().Err(err).Msg("Failed to declare broker topology")
	}

	collector := metrics.NewCollector()
	codec := schema.NewCodec(schema.NewRegistryClient(cfg.Registry.URL))
	tokens := rabbitmq.NewTokenIssuer(cfg.Rabbit.InternalSecret, cfg.Rabbit.ClientID)
	publisher := rabbitmq.NewPublisher(ch, codec, tokens, collector, log)

	ledgerRepo := pgStorage.NewLedgerRepo(pool, collector)
	ledgerStore := redisStorage.NewCachedLedgerStore(ledgerRepo, rdb, log, collector)
	walletSvc := service.NewWalletService(ledgerStore, publisher, log)
	activity := redisStorage.NewWalletEventStore(rdb)

	usersTopic, err := codec.ResolveTopic(domain.EventUserCreated)
	if err != nil {
		log.Fatal().Err(err).Msg("Unknown event kind")
	}
	walletTopic, err := codec.ResolveTopic(domain.EventWalletTransactionCreated)
	if err != nil {
		log.Fatal().Err(err).Msg("Unknown event kind")
	}

	// Channels are not safe for concurrent use, so each consumer gets
	// its own.
	usersCh, err := conn.Channel()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open channel")
	}
	walletCh, err := conn.Channel()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open channel")
	}

	ensureWallet := service.NewEnsureWalletHandler(walletSvc, log)
	recordActivity := service.NewWalletActivityHandler(activity, log)

	usersConsumer := rabbitmq.NewConsumer(usersCh, codec, tokens, ensureWallet, usersTopic, collector, log)
	walletConsumer := rabbitmq.NewConsumer(walletCh, codec, tokens, recordActivity, walletTopic, collector, log)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := usersConsumer.Start(ctx); err != nil {
			log.Error().Err(err).Str("topic", usersTopic).Msg("consumer stopped")
			stop()
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := walletConsumer.Start(ctx); err != nil {
			log.Error().Err(err).Str("topic", walletTopic).Msg("consumer stopped")
			stop()
		}
	}()

	// Periodic stale-saga sweep
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := walletSvc.SweepStaleSagas(ctx, sweepMaxAge); err != nil {
					log.Error().Err(err).Msg("stale saga sweep failed")
				}
			}
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down worker...")
	wg.Wait()
	log.Info().Msg("Worker exited")
}
