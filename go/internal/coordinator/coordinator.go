package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/duelsync/go/clients/duel_api_client"
	"github.com/mcdev12/duelsync/go/internal/offline"
	"github.com/rs/zerolog/log"
)

// RemoteService defines what the coordinator needs from the duel server client
type RemoteService interface {
	RegisterPlayer(ctx context.Context, data duel_api_client.PlayerData) error
	GetPlayer(ctx context.Context, playerID string) (duel_api_client.PlayerData, error)
	GetOpponents(ctx context.Context, playerID string, limit int) ([]duel_api_client.Opponent, error)
	RequestDuel(ctx context.Context, req duel_api_client.DuelRequest) (*duel_api_client.DuelRequestResponse, error)
	SubmitDuelResult(ctx context.Context, duelID string, result duel_api_client.DuelResult) error
	GetOfflineDuels(ctx context.Context, playerID string) ([]duel_api_client.Duel, error)
}

// OperationQueue defines what the coordinator needs from the offline queue
type OperationQueue interface {
	Append(op offline.Operation) bool
	Drain() []offline.Operation
	Acknowledge(n int)
	Len() int
}

// Prober reports whether the remote service is reachable
type Prober interface {
	IsReachable(ctx context.Context) bool
}

// SyncNotifier receives the outcome of sync attempts
type SyncNotifier interface {
	NotifySync(success bool)
}

// Coordinator owns the online/offline state, queues player syncs that fail
// to reach the server and replays them once the server is reachable again.
type Coordinator struct {
	remote   RemoteService
	queue    OperationQueue
	probe    Prober
	notifier SyncNotifier
	clock    clockwork.Clock
	state    *ConnectionState

	identityMu sync.RWMutex
	playerID   string

	// replayMu serializes replay cycles
	replayMu sync.Mutex
}

// New creates a coordinator. A nil clock uses the real clock.
func New(remote RemoteService, queue OperationQueue, probe Prober, notifier SyncNotifier, clock clockwork.Clock) *Coordinator {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Coordinator{
		remote:   remote,
		queue:    queue,
		probe:    probe,
		notifier: notifier,
		clock:    clock,
		state:    NewConnectionState(),
	}
}

// ConnectionState exposes the shared state object for the realtime session.
func (c *Coordinator) ConnectionState() *ConnectionState {
	return c.state
}

func (c *Coordinator) State() State {
	return c.state.Get()
}

func (c *Coordinator) PendingOperations() int {
	return c.queue.Len()
}

// SetPlayerIdentity records the identity used by every later remote call.
func (c *Coordinator) SetPlayerIdentity(id string) {
	c.identityMu.Lock()
	defer c.identityMu.Unlock()

	if c.playerID == id {
		return
	}
	c.playerID = id
	log.Info().Str("player_id", id).Msg("player identity set")
}

func (c *Coordinator) PlayerID() string {
	c.identityMu.RLock()
	defer c.identityMu.RUnlock()
	return c.playerID
}

// SyncPlayerData sends data (with the current identity attached) to the
// server. Older queued syncs are replayed first so this payload is the last
// one the server applies. On failure the payload is queued for replay and
// false is returned. Sync observers are notified either way.
func (c *Coordinator) SyncPlayerData(ctx context.Context, data map[string]interface{}) bool {
	playerID := c.PlayerID()
	payload := withIdentity(data, playerID)

	if playerID == "" {
		log.Warn().Msg("player sync without identity, queueing")
		c.enqueue(payload)
		c.notifier.NotifySync(false)
		return false
	}

	if _, err := c.replay(ctx); errors.Is(err, ErrNetwork) {
		log.Warn().Err(err).Str("player_id", playerID).Msg("server unreachable during replay, queueing")
		c.enqueue(payload)
		c.notifier.NotifySync(false)
		return false
	}

	if err := c.remote.RegisterPlayer(ctx, payload); err != nil {
		log.Warn().Err(err).Str("player_id", playerID).Msg("player sync failed, queueing")
		c.markFailure(err)
		c.enqueue(payload)
		c.notifier.NotifySync(false)
		return false
	}

	c.state.Set(Online)
	c.notifier.NotifySync(true)
	return true
}

// FetchPlayerData returns the server's record for the current player.
// Reads are never queued.
func (c *Coordinator) FetchPlayerData(ctx context.Context) (duel_api_client.PlayerData, bool) {
	playerID := c.PlayerID()
	if playerID == "" {
		return nil, false
	}

	player, err := c.remote.GetPlayer(ctx, playerID)
	if err != nil {
		log.Debug().Err(err).Str("player_id", playerID).Msg("fetch player failed")
		c.markFailure(err)
		return nil, false
	}

	c.markReachable(ctx)
	return player, true
}

// FetchOpponents returns at most limit opponents, or an empty slice on any error.
func (c *Coordinator) FetchOpponents(ctx context.Context, limit int) []duel_api_client.Opponent {
	playerID := c.PlayerID()
	if playerID == "" {
		return []duel_api_client.Opponent{}
	}

	opponents, err := c.remote.GetOpponents(ctx, playerID, limit)
	if err != nil {
		log.Debug().Err(err).Str("player_id", playerID).Msg("fetch opponents failed")
		c.markFailure(err)
		return []duel_api_client.Opponent{}
	}

	c.markReachable(ctx)
	if opponents == nil {
		opponents = []duel_api_client.Opponent{}
	}
	return opponents
}

// RequestDuel asks the server for a duel. A stale request is meaningless,
// so failures are returned and never queued.
func (c *Coordinator) RequestDuel(ctx context.Context, ratingRange int) (*duel_api_client.DuelRequestResponse, error) {
	playerID := c.PlayerID()
	if playerID == "" {
		return nil, ErrNoIdentity
	}

	resp, err := c.remote.RequestDuel(ctx, duel_api_client.DuelRequest{
		PlayerID:    playerID,
		RatingRange: ratingRange,
	})
	if err != nil {
		c.markFailure(err)
		return nil, fmt.Errorf("%w: %w", ErrNetwork, err)
	}

	c.markReachable(ctx)
	return resp, nil
}

// SubmitDuelResult reports a duel outcome. Failures are not queued.
func (c *Coordinator) SubmitDuelResult(ctx context.Context, duelID, winnerID, loserID string, duelLog interface{}) bool {
	if c.PlayerID() == "" {
		log.Warn().Str("duel_id", duelID).Msg("duel result without identity")
		return false
	}

	err := c.remote.SubmitDuelResult(ctx, duelID, duel_api_client.DuelResult{
		WinnerID: winnerID,
		LoserID:  loserID,
		DuelLog:  duelLog,
	})
	if err != nil {
		log.Warn().Err(err).Str("duel_id", duelID).Msg("submit duel result failed")
		c.markFailure(err)
		return false
	}

	c.markReachable(ctx)
	return true
}

// FetchOfflineDuels returns duels resolved server-side while the client was away.
func (c *Coordinator) FetchOfflineDuels(ctx context.Context) []duel_api_client.Duel {
	playerID := c.PlayerID()
	if playerID == "" {
		return []duel_api_client.Duel{}
	}

	duels, err := c.remote.GetOfflineDuels(ctx, playerID)
	if err != nil {
		log.Debug().Err(err).Str("player_id", playerID).Msg("fetch offline duels failed")
		c.markFailure(err)
		return []duel_api_client.Duel{}
	}

	c.markReachable(ctx)
	if duels == nil {
		duels = []duel_api_client.Duel{}
	}
	return duels
}

// CheckConnectivity probes the service and updates the state. Reaching the
// service after being offline triggers a replay, as does a backlog left
// behind while online.
func (c *Coordinator) CheckConnectivity(ctx context.Context) bool {
	if !c.probe.IsReachable(ctx) {
		c.state.Set(Offline)
		return false
	}
	if prev := c.state.Set(Online); prev == Online && (c.queue.Len() == 0 || c.PlayerID() == "") {
		return true
	}
	c.replayAndNotify(ctx)
	return true
}

// markReachable flips the state Online and replays on an Offline to Online
// transition.
func (c *Coordinator) markReachable(ctx context.Context) {
	if prev := c.state.Set(Online); prev == Online {
		return
	}
	c.replayAndNotify(ctx)
}

// replayAndNotify tells observers the outcome when there was something to replay.
func (c *Coordinator) replayAndNotify(ctx context.Context) {
	if attempted, err := c.replay(ctx); attempted > 0 {
		c.notifier.NotifySync(err == nil)
	}
}

// markFailure goes Offline when err means the service was not reached. An
// error status below 500 still proves the service is up.
func (c *Coordinator) markFailure(err error) {
	if isNetworkFailure(err) {
		c.state.Set(Offline)
	}
}

func (c *Coordinator) enqueue(payload map[string]interface{}) {
	c.queue.Append(offline.NewOperation(offline.OperationPlayerSync, payload, c.clock.Now()))
}

// replay resends the queued snapshot in FIFO order and stops at the first
// failure, leaving the whole snapshot queued. The snapshot is removed only
// when every entry was delivered. It returns how many entries the snapshot
// held and, on failure, an error that wraps ErrNetwork when the service
// could not be reached.
func (c *Coordinator) replay(ctx context.Context) (int, error) {
	c.replayMu.Lock()
	defer c.replayMu.Unlock()

	snapshot := c.queue.Drain()
	if len(snapshot) == 0 {
		return 0, nil
	}

	playerID := c.PlayerID()
	log.Info().Int("pending", len(snapshot)).Msg("replaying offline queue")

	for i, op := range snapshot {
		if op.Type != offline.OperationPlayerSync {
			log.Warn().Str("operation_id", op.ID.String()).Str("type", string(op.Type)).Msg("unknown queued operation type")
			return len(snapshot), fmt.Errorf("%w: %s", ErrUnknownOperation, op.Type)
		}

		payload := op.Data
		if id, _ := payload["id"].(string); id == "" {
			if playerID == "" {
				log.Warn().Str("operation_id", op.ID.String()).Msg("replay needs a player identity")
				return len(snapshot), ErrNoIdentity
			}
			payload = withIdentity(payload, playerID)
		}

		if err := c.remote.RegisterPlayer(ctx, payload); err != nil {
			log.Warn().
				Err(err).
				Str("operation_id", op.ID.String()).
				Int("replayed", i).
				Int("pending", len(snapshot)).
				Msg("replay failed, keeping queue")
			c.markFailure(err)
			if isNetworkFailure(err) {
				return len(snapshot), fmt.Errorf("%w: %w", ErrNetwork, err)
			}
			return len(snapshot), err
		}
	}

	c.queue.Acknowledge(len(snapshot))
	log.Info().Int("replayed", len(snapshot)).Msg("offline queue replayed")
	return len(snapshot), nil
}

// withIdentity copies data and sets its "id" key when playerID is known.
func withIdentity(data map[string]interface{}, playerID string) duel_api_client.PlayerData {
	payload := make(duel_api_client.PlayerData, len(data)+1)
	for k, v := range data {
		payload[k] = v
	}
	if playerID != "" {
		payload["id"] = playerID
	}
	return payload
}
