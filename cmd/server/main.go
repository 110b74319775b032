package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	router "github.com/avdeyev/roulette/internal/adapters/http"
	wssignal "github.com/avdeyev/roulette/internal/adapters/signal"
	"github.com/avdeyev/roulette/internal/app"
	"github.com/avdeyev/roulette/internal/config"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	// Human-friendly output for terminal; in production you may want JSON only.
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	broker := app.NewRoomBroker()
	registry := app.NewRegistry()
	relay := app.NewSignalingRelay(broker, registry)
	life := &app.SessionLifecycle{Broker: broker, Registry: registry}

	limiter := wssignal.NewQueueRateLimiter(cfg.QueueRateLimit, cfg.QueueRateEvery)
	ctl := wssignal.NewWSController(life, relay, limiter, cfg.ReadLimit, cfg.PingPeriod, cfg.ICEServers)
	// The WS controller is the transport-facing notifier for pairing and
	// teardown events.
	life.Notifier = ctl

	r := router.SetupRouter(ctx, cfg, ctl, broker, registry)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("roulette server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Server exited gracefully")
}
