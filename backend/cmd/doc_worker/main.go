package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/IBM/sarama"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"neodocs/backend/config"
	"neodocs/backend/internal/logging"
	"neodocs/backend/internal/store"
	"neodocs/backend/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "init config failed: %v\n", err)
		os.Exit(1)
	}
	logging.Setup(cfg.Log.Level, cfg.Log.Pretty)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Fatal().Err(err).Msg("document worker stopped")
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	db, err := store.Open(cfg.Mysql.DSN, cfg.Mysql.Debug)
	if err != nil {
		return fmt.Errorf("open mysql: %w", err)
	}
	defer store.Close(db)
	if err := store.AutoMigrate(db); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	group, err := sarama.NewConsumerGroup(cfg.Kafka.Brokers, cfg.Kafka.GroupID, worker.NewConsumerConfig(cfg.Kafka.ClientID))
	if err != nil {
		return fmt.Errorf("kafka consumer group: %w", err)
	}

	rec := worker.NewReconciler(store.NewDocumentStore(db), store.NewOperationStore(db), store.NewActivityStore(db)).
		WithTopics(cfg.Kafka.OperationsTopic, cfg.Kafka.EventsTopic)
	runner := worker.NewRunner(group, rec)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Strs("topics", rec.Topics()).Str("group", cfg.Kafka.GroupID).Msg("document worker consuming")
		return runner.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		return runner.Close()
	})
	return g.Wait()
}
