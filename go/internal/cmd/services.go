package main

import (
	"encoding/json"
	"fmt"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/duelsync/go/clients/duel_api_client"
	"github.com/mcdev12/duelsync/go/internal/config"
	"github.com/mcdev12/duelsync/go/internal/connectivity"
	"github.com/mcdev12/duelsync/go/internal/coordinator"
	"github.com/mcdev12/duelsync/go/internal/events"
	"github.com/mcdev12/duelsync/go/internal/offline"
	"github.com/mcdev12/duelsync/go/internal/realtime"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
)

type Services struct {
	Dispatcher  *events.Dispatcher
	Relay       *events.NATSRelay
	Queue       *offline.Queue
	Coordinator *coordinator.Coordinator
	Monitor     *connectivity.Monitor
	Session     *realtime.Session

	closers []func() error
}

func setupServices(cfg config.Config) (*Services, error) {
	// Wire up dependency injection chain
	// Store → Queue → Coordinator → Monitor / Session
	clock := clockwork.NewRealClock()
	s := &Services{}

	store, closeStore, err := setupQueueStore(cfg.Queue)
	if err != nil {
		return nil, err
	}
	if closeStore != nil {
		s.closers = append(s.closers, closeStore)
	}

	s.Queue = offline.NewQueue(store)
	s.Queue.Load()

	s.Dispatcher = events.NewDispatcher()
	s.Dispatcher.OnSync(func(success bool) error {
		log.Info().Bool("success", success).Msg("player sync finished")
		return nil
	})
	s.Dispatcher.OnDuel(func(tag string, payload json.RawMessage) error {
		log.Info().Str("type", tag).RawJSON("payload", payload).Msg("duel event")
		return nil
	})

	if cfg.NATS.Enabled {
		relayCfg := events.DefaultNATSRelayConfig()
		relayCfg.URL = cfg.NATS.URL
		relayCfg.SubjectPrefix = cfg.NATS.SubjectPrefix

		relay, err := events.NewNATSRelay(relayCfg)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("failed to start NATS relay: %w", err)
		}
		relay.Attach(s.Dispatcher)
		s.Relay = relay
		s.closers = append(s.closers, func() error {
			relay.Close()
			return nil
		})
	}

	remote := duel_api_client.NewDuelApiClient(cfg.APIBaseURL, cfg.RequestTimeout)
	probe := connectivity.NewProbe(cfg.APIBaseURL, cfg.ProbeTimeout)

	s.Coordinator = coordinator.New(remote, s.Queue, probe, s.Dispatcher, clock)
	if cfg.PlayerID != "" {
		s.Coordinator.SetPlayerIdentity(cfg.PlayerID)
	}

	s.Monitor = connectivity.NewMonitor(s.Coordinator, connectivity.MonitorConfig{
		Interval: cfg.ProbeInterval,
	}, clock)

	sessionCfg := realtime.DefaultSessionConfig(cfg.RealtimeURL)
	sessionCfg.Reconnect = realtime.ReconnectConfig{
		Enabled:        cfg.Reconnect.Enabled,
		InitialBackoff: cfg.Reconnect.InitialBackoff,
		MaxBackoff:     cfg.Reconnect.MaxBackoff,
	}
	s.Session = realtime.NewSession(sessionCfg, s.Coordinator, s.Coordinator.ConnectionState(), s.Dispatcher, clock)

	return s, nil
}

// setupQueueStore opens the configured persistence backend. The returned
// close func is nil when the backend holds no resources.
func setupQueueStore(cfg config.QueueConfig) (offline.Store, func() error, error) {
	switch cfg.Backend {
	case config.QueueBackendBadger:
		store, err := offline.NewBadgerStore(cfg.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open badger queue store: %w", err)
		}
		log.Info().Str("path", cfg.Path).Msg("using badger offline queue")
		return store, store.Close, nil
	default:
		log.Info().Str("path", cfg.Path).Msg("using file offline queue")
		return offline.NewFileStore(afero.NewOsFs(), cfg.Path), nil, nil
	}
}

func (s *Services) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			log.Error().Err(err).Msg("failed to close resource")
		}
	}
	s.closers = nil
}
