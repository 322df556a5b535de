package duel_api_client

import "time"

const (
	// API Endpoints
	HealthEndpoint          = "/health"
	RegisterPlayerEndpoint  = "/players/register"
	PlayerEndpointFmt       = "/players/%s"
	OpponentsEndpointFmt    = "/players/%s/opponents?limit=%d"
	OfflineDuelsEndpointFmt = "/players/%s/offline_duels"
	DuelRequestEndpoint     = "/duels/request"
	DuelResultEndpointFmt   = "/duels/%s/result"

	// Timeouts
	DefaultRequestTimeout = 10 * time.Second
	HealthCheckTimeout    = 5 * time.Second
)
