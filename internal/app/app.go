// Package app wires config into the stores, transports and services shared
// by the server and worker binaries.
package app

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/unclebandit/campaign-dispatch/internal/cache"
	"github.com/unclebandit/campaign-dispatch/internal/config"
	"github.com/unclebandit/campaign-dispatch/internal/db"
	"github.com/unclebandit/campaign-dispatch/internal/queue"
	"github.com/unclebandit/campaign-dispatch/internal/repository"
	"github.com/unclebandit/campaign-dispatch/internal/service"
	"github.com/unclebandit/campaign-dispatch/internal/transport"
)

type App struct {
	Config     *config.Config
	Log        zerolog.Logger
	Store      *repository.Store
	Tracker    *service.Tracker
	Dispatcher *service.Dispatcher
	Campaigns  *service.CampaignService
	Directory  *service.DirectoryService

	// Queue is RabbitMQ when RABBITMQ_URL is set, otherwise the in-process
	// queue with the batch subscriber already attached.
	Queue queue.Queue

	conn    *sql.DB
	closers []func() error
}

// New builds every dependency. The caller owns Close.
func New(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*App, error) {
	a := &App{Config: cfg, Log: log}
	if err := a.openStore(ctx); err != nil {
		return nil, err
	}

	sender, err := transport.FromConfig(log, cfg.MailConfig)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("mail transport: %w", err)
	}
	log.Info().Str("provider", sender.Name()).Float64("rate_per_second", cfg.RatePerSecond).Msg("mail transport ready")

	var progress cache.ProgressCache = cache.NoopCache{}
	if cfg.RedisConfig.URL != "" {
		rc, err := cache.NewRedisProgressCache(ctx, cfg.RedisConfig.URL, cfg.ProgressTTL, log)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("progress cache: %w", err)
		}
		a.closers = append(a.closers, rc.Close)
		progress = rc
	}

	renderer := service.NewRenderer()
	a.Tracker = service.NewTracker(a.Store, progress, log)
	a.Dispatcher = &service.Dispatcher{
		Store:    a.Store,
		Renderer: renderer,
		Sender:   sender,
		Tracker:  a.Tracker,
		Timeout:  cfg.BatchTimeout,
		Log:      log,
	}

	if err := a.openQueue(); err != nil {
		a.Close()
		return nil, err
	}

	a.Campaigns = &service.CampaignService{
		Store:      a.Store,
		Dispatcher: a.Dispatcher,
		Tracker:    a.Tracker,
		Renderer:   renderer,
		Queue:      a.Queue,
		QueueTopic: cfg.RabbitConfig.Queue,
		BatchSize:  cfg.DispatchConfig.BatchSize,
		Log:        log,
	}
	a.Directory = &service.DirectoryService{Store: a.Store, Log: log}
	return a, nil
}

func (a *App) openStore(ctx context.Context) error {
	if a.Config.Store == "memory" {
		a.Store, _ = repository.NewMemoryBackedStore()
		a.Log.Warn().Msg("using in-memory store; state is lost on restart")
		return nil
	}

	conn, err := db.Open(ctx, a.Config.DatabaseConfig.DSN(), a.Log)
	if err != nil {
		return err
	}
	if a.Config.DatabaseConfig.Migrate {
		if err := db.Migrate(ctx, conn); err != nil {
			conn.Close()
			return err
		}
	}
	a.conn = conn
	a.closers = append(a.closers, conn.Close)
	a.Store = repository.NewPostgresStore(conn)
	return nil
}

func (a *App) openQueue() error {
	if a.Config.RabbitConfig.URL != "" {
		rq, err := queue.NewRabbitQueue(a.Config.RabbitConfig.URL, a.Log)
		if err != nil {
			return fmt.Errorf("rabbitmq: %w", err)
		}
		a.closers = append(a.closers, rq.Close)
		a.Queue = rq
		return nil
	}

	mq := queue.NewInMemoryQueue(a.Log)
	if err := queue.StartBatchSendSubscriber(mq, a.Config.RabbitConfig.Queue, a.SendBatch, a.Log); err != nil {
		return err
	}
	a.Queue = mq
	return nil
}

// SendBatch adapts the dispatcher to the queue's job handler.
func (a *App) SendBatch(ctx context.Context, campaignID string, batchNumber int) error {
	_, err := a.Dispatcher.SendBatch(ctx, campaignID, batchNumber)
	return err
}

// Ready pings the database when there is one.
func (a *App) Ready(ctx context.Context) error {
	if a.conn == nil {
		return nil
	}
	return a.conn.PingContext(ctx)
}

// Drain waits for in-process jobs. It is a no-op for RabbitMQ.
func (a *App) Drain(ctx context.Context) error {
	if mq, ok := a.Queue.(*queue.InMemoryQueue); ok {
		return mq.Drain(ctx)
	}
	return nil
}

func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.Log.Warn().Err(err).Msg("close failed")
		}
	}
	a.closers = nil
}
