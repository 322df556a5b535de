package connectivity

import (
	"context"
	"time"

	"github.com/mcdev12/duelsync/go/clients/duel_api_client"
	"github.com/rs/zerolog/log"
)

// MaxProbeTimeout bounds a single reachability check.
const MaxProbeTimeout = duel_api_client.HealthCheckTimeout

// Probe checks whether the remote duel service answers its health endpoint.
type Probe struct {
	client  *duel_api_client.DuelApiClient
	timeout time.Duration
}

// NewProbe builds a probe against baseURL. Timeouts above MaxProbeTimeout are clamped.
func NewProbe(baseURL string, timeout time.Duration) *Probe {
	if timeout <= 0 || timeout > MaxProbeTimeout {
		timeout = MaxProbeTimeout
	}
	return &Probe{
		client:  duel_api_client.NewDuelApiClient(baseURL, timeout),
		timeout: timeout,
	}
}

// IsReachable reports false on any transport error, non-2xx status or timeout.
func (p *Probe) IsReachable(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	if err := p.client.Health(ctx); err != nil {
		log.Debug().Err(err).Str("base_url", p.client.BaseURL()).Msg("health check failed")
		return false
	}
	return true
}
