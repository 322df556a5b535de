package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/mcdev12/duelsync/go/internal/config"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

func main() {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}

	flags := parseFlags()

	cfg, err := config.Load(flags.configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if flags.playerID != "" {
		cfg.PlayerID = flags.playerID
	}

	setupLogging(cfg.LogLevel)

	log.Info().
		Str("api_base_url", cfg.APIBaseURL).
		Str("realtime_url", cfg.RealtimeURL).
		Str("queue_backend", cfg.Queue.Backend).
		Str("player_id", cfg.PlayerID).
		Msg("starting duelsync client")

	services, err := setupServices(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to set up services")
	}
	defer services.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, services); err != nil {
		log.Error().Err(err).Msg("duelsync client stopped with error")
		return
	}
	log.Info().Msg("duelsync client shutdown complete")
}

// run starts the connectivity monitor and the realtime session and blocks
// until ctx is canceled.
func run(ctx context.Context, services *Services) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := services.Monitor.Start(ctx); err != nil {
			return err
		}
		<-ctx.Done()
		return services.Monitor.Stop()
	})

	g.Go(func() error {
		if services.Coordinator.PlayerID() == "" {
			log.Warn().Msg("no player identity configured, realtime session disabled")
			return nil
		}
		if err := services.Session.Connect(); err != nil {
			return err
		}
		<-ctx.Done()
		if err := services.Session.Disconnect(); err != nil {
			log.Warn().Err(err).Msg("realtime session shutdown")
		}
		return nil
	})

	g.Go(func() error {
		duels := services.Coordinator.FetchOfflineDuels(ctx)
		log.Info().
			Int("offline_duels", len(duels)).
			Int("pending", services.Coordinator.PendingOperations()).
			Str("state", services.Coordinator.State().String()).
			Msg("startup catch-up complete")
		return nil
	})

	return g.Wait()
}
