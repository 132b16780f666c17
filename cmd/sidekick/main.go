package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/0xsequence/sidekick-sub001/internal/api"
	"github.com/0xsequence/sidekick-sub001/internal/config"
	"github.com/0xsequence/sidekick-sub001/internal/database"
	"github.com/0xsequence/sidekick-sub001/internal/queue"
	"github.com/0xsequence/sidekick-sub001/internal/services"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	_ = godotenv.Load()

	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	db, err := database.NewDatabase(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize database")
	}
	defer db.Close()

	q := queue.New(db.DB, queue.Options{
		PollInterval: cfg.QueuePollInterval,
		LeaseTimeout: cfg.QueueLeaseTimeout,
		Concurrency:  cfg.QueueConcurrency,
	})

	chainService := services.NewChainService(db.DB)
	txLogService := services.NewTransactionLogService(db.DB)

	signerService, err := services.NewSignerService(cfg.SignerPrivateKey, chainService)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize signer")
	}

	executor := services.NewExecutorService(db.DB, signerService, txLogService, services.ExecutorOptions{
		RetryPolicy:         cfg.RetryPolicy,
		ConfirmationTimeout: cfg.ConfirmationTimeout,
	})
	q.RegisterHandler(services.TaskRewardTransfer, executor.Handle)

	scheduler := services.NewSchedulerService(db.DB, q)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := scheduler.Reconcile(ctx); err != nil {
		log.Error().Err(err).Msg("startup reconciliation failed")
	}

	go q.Run(ctx)

	server := api.NewAPIServer(scheduler, chainService, txLogService, cfg.SecretKey)
	go func() {
		log.Info().Int("port", cfg.Port).Msg("http server starting")
		if err := server.Start(cfg.Port); err != nil {
			log.Fatal().Err(err).Msg("http server failed")
		}
	}()

	// Graceful shutdown
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c

	log.Info().Msg("shutting down")
	if err := server.Shutdown(); err != nil {
		log.Error().Err(err).Msg("error shutting down http server")
	}
	cancel()
	q.Stop()
}
