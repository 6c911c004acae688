package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/unclebandit/campaign-dispatch/internal/app"
	"github.com/unclebandit/campaign-dispatch/internal/config"
	"github.com/unclebandit/campaign-dispatch/internal/logger"
	"github.com/unclebandit/campaign-dispatch/internal/queue"
)

// The worker consumes batch jobs published by the server with async
// send-batch requests. It needs RABBITMQ_URL; without it the server runs
// jobs in-process and no worker is needed.
func main() {
	cfg, _, err := config.Load()
	if err != nil {
		bootLog := logger.New("info", "json")
		bootLog.Fatal().Err(err).Msg("invalid configuration")
	}
	log := logger.New(cfg.Level, cfg.Format).With().Str("component", "worker").Logger()
	if cfg.RabbitConfig.URL == "" {
		log.Fatal().Msg("RABBITMQ_URL is required for the worker")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("startup failed")
	}
	defer a.Close()

	if err := a.Queue.Subscribe(cfg.RabbitConfig.Queue, jobHandler(a, log)); err != nil {
		log.Fatal().Err(err).Msg("failed to register consumer")
	}

	log.Info().Str("queue", cfg.RabbitConfig.Queue).Msg("worker running, waiting for batch jobs")
	<-ctx.Done()
	log.Info().Msg("worker stopping")
}

func jobHandler(a *app.App, log zerolog.Logger) func(payload any) error {
	return queue.BatchSendHandler(a.SendBatch, log)
}
