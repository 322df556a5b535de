package connectivity

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// Checker runs one connectivity check and reports whether the service is reachable.
type Checker interface {
	CheckConnectivity(ctx context.Context) bool
}

type MonitorConfig struct {
	Interval time.Duration
}

func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{
		Interval: 15 * time.Second,
	}
}

// Monitor calls a Checker on a fixed interval so a queued backlog is replayed
// once the service comes back, even without user activity.
type Monitor struct {
	checker Checker
	config  MonitorConfig
	clock   clockwork.Clock

	mu       sync.Mutex
	running  bool
	stopChan chan struct{}
	wg       sync.WaitGroup
}

func NewMonitor(checker Checker, cfg MonitorConfig, clock clockwork.Clock) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultMonitorConfig().Interval
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Monitor{
		checker: checker,
		config:  cfg,
		clock:   clock,
	}
}

func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return fmt.Errorf("connectivity monitor already running")
	}
	m.running = true
	m.stopChan = make(chan struct{})
	m.mu.Unlock()

	m.wg.Add(1)
	go m.run(ctx)

	log.Info().Dur("interval", m.config.Interval).Msg("connectivity monitor started")
	return nil
}

func (m *Monitor) Stop() error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return fmt.Errorf("connectivity monitor not running")
	}
	m.running = false
	close(m.stopChan)
	m.mu.Unlock()

	m.wg.Wait()
	log.Info().Msg("connectivity monitor stopped")
	return nil
}

func (m *Monitor) run(ctx context.Context) {
	defer m.wg.Done()

	ticker := m.clock.NewTicker(m.config.Interval)
	defer ticker.Stop()

	// Check immediately on start
	m.checker.CheckConnectivity(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopChan:
			return
		case <-ticker.Chan():
			m.checker.CheckConnectivity(ctx)
		}
	}
}
