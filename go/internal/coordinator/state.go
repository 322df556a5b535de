package coordinator

import (
	"sync"

	"github.com/rs/zerolog/log"
)

// State is the client's view of connectivity to the remote service.
type State int

const (
	Offline State = iota
	Online
)

func (s State) String() string {
	switch s {
	case Online:
		return "online"
	default:
		return "offline"
	}
}

// ConnectionState is owned by the coordinator and shared with the realtime
// session. It starts Offline.
type ConnectionState struct {
	mu    sync.RWMutex
	state State
}

func NewConnectionState() *ConnectionState {
	return &ConnectionState{state: Offline}
}

func (c *ConnectionState) Get() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Set stores next and returns the previous state.
func (c *ConnectionState) Set(next State) State {
	c.mu.Lock()
	prev := c.state
	c.state = next
	c.mu.Unlock()

	if prev != next {
		log.Info().Str("from", prev.String()).Str("to", next.String()).Msg("connection state changed")
	}
	return prev
}

func (c *ConnectionState) SetOffline() {
	c.Set(Offline)
}
