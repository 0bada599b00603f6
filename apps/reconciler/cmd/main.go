package main

import (
	"context"
	"database/sql"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"shield/apps/reconciler/internal/api"
	"shield/apps/reconciler/internal/config"
	"shield/apps/reconciler/internal/crawler"
	"shield/apps/reconciler/internal/event_publisher"
	"shield/apps/reconciler/internal/events"
	"shield/apps/reconciler/internal/nav"
	"shield/apps/reconciler/internal/protocol"
	"shield/apps/reconciler/internal/recommendation_ingester"
	"shield/apps/reconciler/internal/reconciler"
	"shield/apps/reconciler/internal/repository"
	"shield/apps/reconciler/internal/submitter"
	"shield/apps/reconciler/internal/weights"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer logger.Sync()

	cfg := config.NewConfig()
	if err := cfg.Validate(); err != nil {
		logger.Fatal("Invalid configuration", zap.Error(err))
	}

	logger.Info("Starting reconciler with configuration",
		zap.Int64("chain_id", cfg.ChainID),
		zap.String("kafka_broker", cfg.KafkaBroker),
		zap.String("kafka_events_topic", cfg.KafkaTopic),
		zap.String("kafka_recommendations_topic", cfg.KafkaRecTopic),
		zap.String("vault_manager", cfg.VaultManagerAddress.Hex()),
		zap.String("basket_manager", cfg.BasketManagerAddress.Hex()),
		zap.Uint64("start_block", cfg.StartBlock),
		zap.Duration("poll_interval", cfg.PollInterval),
		zap.Duration("nav_update_interval", cfg.NAVUpdateInterval),
		zap.Int("api_port", cfg.APIPort),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := sql.Open("postgres", cfg.DbURL)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	if err := repository.InitMigration(db); err != nil {
		logger.Fatal("Failed to initialize database", zap.Error(err))
	}

	client, err := ethclient.DialContext(ctx, cfg.RpcURL)
	if err != nil {
		logger.Fatal("Failed to connect to Ethereum client", zap.Error(err))
	}
	defer client.Close()

	sub, err := submitter.NewSubmitter(client, cfg.HotWalletKey, cfg.ChainID, cfg.GasLimitBump, cfg.ReceiptTimeout, cfg.RPCTimeout, logger)
	if err != nil {
		logger.Fatal("Failed to create transaction submitter", zap.Error(err))
	}
	logger.Info("Hot wallet loaded", zap.String("address", sub.Address().Hex()))

	service, err := protocol.NewService(cfg, client, sub, logger)
	if err != nil {
		logger.Fatal("Failed to create protocol service", zap.Error(err))
	}

	checkpointRepository := repository.NewCheckpointRepository(db, logger)
	intentRepository := repository.NewIntentRepository(db, logger)
	auditRepository := repository.NewAuditRepository(db, logger)
	navRepository := repository.NewNAVRepository(db, logger)
	outboxRepository := repository.NewOutboxRepository(db, logger)
	recommendationRepository := repository.NewRecommendationRepository(db, logger)

	// the hot wallet signs NAV reports as well as transactions
	calculator := nav.NewCalculator(service, navRepository, sub.PrivateKey(), logger)
	scheduler := nav.NewScheduler(calculator, intentRepository, cfg.NAVUpdateInterval, logger)

	engine := reconciler.NewEngine(service, intentRepository, auditRepository, scheduler, cfg.RebalanceCooldown, logger)
	defer engine.Close()

	dispatcher, err := events.NewDispatcher(cfg.VaultManagerAddress, cfg.BasketManagerAddress, engine, logger)
	if err != nil {
		logger.Fatal("Failed to create event dispatcher", zap.Error(err))
	}

	blockCrawler := crawler.NewBlockCrawler(cfg, client, checkpointRepository, dispatcher, logger)

	eventPublisher, err := event_publisher.NewEventPublisher(cfg.KafkaBroker, cfg.KafkaTopic, logger, outboxRepository)
	if err != nil {
		logger.Fatal("Failed to create event publisher", zap.Error(err))
	}
	defer eventPublisher.Close()

	ingester, err := recommendation_ingester.NewIngester(cfg.KafkaBroker, cfg.KafkaRecTopic, logger, recommendationRepository)
	if err != nil {
		logger.Fatal("Failed to create recommendation ingester", zap.Error(err))
	}
	defer ingester.Close()

	apiServer := api.NewServer(cfg.APIPort,
		api.NewIntentHandler(intentRepository, auditRepository, checkpointRepository, logger),
		api.NewNAVHandler(navRepository, scheduler, logger),
		api.NewWeightsHandler(recommendationRepository, weights.NewStoredRecommender(recommendationRepository), weights.NewUpdater(service, logger), logger),
		logger,
	)

	var wg sync.WaitGroup
	run := func(name string, fn func() error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(); err != nil {
				logger.Error("Component failed, shutting down", zap.String("component", name), zap.Error(err))
				stop()
			}
		}()
	}

	run("crawler", func() error { return blockCrawler.Start(ctx) })
	run("nav_scheduler", func() error { return scheduler.Start(ctx) })
	run("event_publisher", func() error { eventPublisher.Start(ctx); return nil })
	run("recommendation_ingester", func() error { return ingester.Start(ctx) })
	go func() {
		if err := apiServer.Start(); err != nil {
			logger.Error("API server failed", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("Received shutdown signal, starting graceful shutdown...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := apiServer.Stop(shutdownCtx); err != nil {
		logger.Error("Error shutting down API server", zap.Error(err))
	}

	// the crawler finishes the block it is on before returning
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-shutdownCtx.Done():
		logger.Warn("Timed out waiting for components to stop")
	}

	logger.Info("Application shutdown complete")
}
