// cmd/server/main.go
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/unclebandit/campaign-dispatch/internal/app"
	"github.com/unclebandit/campaign-dispatch/internal/config"
	"github.com/unclebandit/campaign-dispatch/internal/handler"
	"github.com/unclebandit/campaign-dispatch/internal/logger"
)

func main() {
	cfg, loadedEnv, err := config.Load()
	if err != nil {
		bootLog := logger.New("info", "json")
		bootLog.Fatal().Err(err).Msg("invalid configuration")
	}
	log := logger.New(cfg.Level, cfg.Format)
	if !loadedEnv {
		log.Info().Msg("no .env file found, relying on OS environment variables")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("startup failed")
	}
	defer a.Close()

	srv := newServer(cfg, a)

	go func() {
		log.Info().Str("addr", srv.Addr).Msg("server running")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}
	if err := a.Drain(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("queued batches still running at exit; reset them once the process is gone")
	}
}

func newServer(cfg *config.Config, a *app.App) *http.Server {
	return &http.Server{
		Addr:              ":" + cfg.HTTPConfig.Port,
		ReadHeaderTimeout: 10 * time.Second,
		Handler: handler.NewRouter(handler.RouterDeps{
			Campaigns: a.Campaigns,
			Directory: a.Directory,
			Log:       a.Log,
			Ready:     a.Ready,
		}),
	}
}
