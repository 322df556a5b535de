package duel_api_client

import (
	"context"
	"fmt"
	"net/url"
)

// PlayerData is the opaque player record exchanged with the server.
// The client only ever reads or sets the "id" key.
type PlayerData map[string]interface{}

// Opponent is an opaque opponent record as listed by the server.
type Opponent map[string]interface{}

// Duel is an opaque duel record as reported by the server.
type Duel map[string]interface{}

type OpponentsResponse struct {
	Opponents []Opponent `json:"opponents"`
}

type OfflineDuelsResponse struct {
	Duels []Duel `json:"duels"`
}

// RegisterPlayer creates or overwrites the player record identified by data["id"].
func (c *DuelApiClient) RegisterPlayer(ctx context.Context, data PlayerData) error {
	if err := c.PostJSON(ctx, RegisterPlayerEndpoint, data, nil); err != nil {
		return fmt.Errorf("failed to register player: %w", err)
	}
	return nil
}

func (c *DuelApiClient) GetPlayer(ctx context.Context, playerID string) (PlayerData, error) {
	var player PlayerData
	if err := c.GetJSON(ctx, fmt.Sprintf(PlayerEndpointFmt, url.PathEscape(playerID)), &player); err != nil {
		return nil, fmt.Errorf("failed to get player: %w", err)
	}
	return player, nil
}

func (c *DuelApiClient) GetOpponents(ctx context.Context, playerID string, limit int) ([]Opponent, error) {
	var response OpponentsResponse
	endpoint := fmt.Sprintf(OpponentsEndpointFmt, url.PathEscape(playerID), limit)
	if err := c.GetJSON(ctx, endpoint, &response); err != nil {
		return nil, fmt.Errorf("failed to get opponents: %w", err)
	}

	opponents := response.Opponents
	if limit >= 0 && len(opponents) > limit {
		opponents = opponents[:limit]
	}
	return opponents, nil
}

func (c *DuelApiClient) GetOfflineDuels(ctx context.Context, playerID string) ([]Duel, error) {
	var response OfflineDuelsResponse
	if err := c.GetJSON(ctx, fmt.Sprintf(OfflineDuelsEndpointFmt, url.PathEscape(playerID)), &response); err != nil {
		return nil, fmt.Errorf("failed to get offline duels: %w", err)
	}
	return response.Duels, nil
}
