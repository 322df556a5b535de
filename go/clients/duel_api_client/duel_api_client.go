package duel_api_client

import (
	"context"
	"time"

	"github.com/mcdev12/duelsync/go/clients"
)

// DuelApiClient talks to the authoritative duel server's REST contract.
type DuelApiClient struct {
	*clients.BaseClient
}

func NewDuelApiClient(baseURL string, timeout time.Duration) *DuelApiClient {
	client := &DuelApiClient{
		BaseClient: clients.NewBaseClient(baseURL),
	}

	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	client.SetTimeout(timeout)
	client.SetHeader("Accept", "application/json")

	return client
}

// Health calls the health-check endpoint. Any non-nil error means unreachable.
func (c *DuelApiClient) Health(ctx context.Context) error {
	_, err := c.Get(ctx, HealthEndpoint)
	return err
}
