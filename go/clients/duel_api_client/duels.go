package duel_api_client

import (
	"context"
	"fmt"
	"net/url"
)

type DuelRequest struct {
	PlayerID    string `json:"player_id"`
	RatingRange int    `json:"rating_range"`
}

type DuelRequestResponse struct {
	Status string `json:"status"`
	DuelID string `json:"duel_id,omitempty"`
}

type DuelResult struct {
	WinnerID string      `json:"winner_id"`
	LoserID  string      `json:"loser_id"`
	DuelLog  interface{} `json:"duel_log"`
}

func (c *DuelApiClient) RequestDuel(ctx context.Context, req DuelRequest) (*DuelRequestResponse, error) {
	var response DuelRequestResponse
	if err := c.PostJSON(ctx, DuelRequestEndpoint, req, &response); err != nil {
		return nil, fmt.Errorf("failed to request duel: %w", err)
	}
	return &response, nil
}

func (c *DuelApiClient) SubmitDuelResult(ctx context.Context, duelID string, result DuelResult) error {
	endpoint := fmt.Sprintf(DuelResultEndpointFmt, url.PathEscape(duelID))
	if err := c.PostJSON(ctx, endpoint, result, nil); err != nil {
		return fmt.Errorf("failed to submit duel result: %w", err)
	}
	return nil
}
