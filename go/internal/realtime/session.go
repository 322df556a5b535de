package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

var (
	// ErrNoIdentity is returned by Connect before a player identity is known.
	ErrNoIdentity = errors.New("no identity")

	// ErrAlreadyConnected is returned by Connect while a session loop is running.
	ErrAlreadyConnected = errors.New("session already running")

	// ErrStopTimeout is returned by Disconnect when the loop did not exit in time.
	ErrStopTimeout = errors.New("session did not stop in time, abandoned")
)

// SessionState is the lifecycle state of the realtime connection.
type SessionState int

const (
	Disconnected SessionState = iota
	Connecting
	Connected
)

func (s SessionState) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "disconnected"
	}
}

// IdentitySource provides the player id the channel is keyed by
type IdentitySource interface {
	PlayerID() string
}

// OfflineMarker is flipped when the channel drops
type OfflineMarker interface {
	SetOffline()
}

// DuelSink receives duel events from the session
type DuelSink interface {
	NotifyDuel(tag string, payload json.RawMessage)
}

// SessionConfig holds configuration for the realtime session
type SessionConfig struct {
	URL              string // ws:// or wss:// base; the player path is appended
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	ReadTimeout      time.Duration // zero disables the read deadline
	MaxMessageSize   int64
	EventBuffer      int
	StopTimeout      time.Duration
	Reconnect        ReconnectConfig
}

// ReconnectConfig controls redialing after an unexpected drop
type ReconnectConfig struct {
	Enabled        bool
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultSessionConfig returns default realtime session configuration
func DefaultSessionConfig(baseURL string) SessionConfig {
	return SessionConfig{
		URL:              baseURL,
		HandshakeTimeout: 5 * time.Second,
		WriteTimeout:     5 * time.Second,
		MaxMessageSize:   64 * 1024,
		EventBuffer:      64,
		StopTimeout:      time.Second,
		Reconnect: ReconnectConfig{
			Enabled:        false,
			InitialBackoff: time.Second,
			MaxBackoff:     30 * time.Second,
		},
	}
}

// Session owns one realtime channel. A single goroutine dials and reads the
// connection and is the only writer of data frames; duel events are handed
// to a forwarder goroutine over a channel so observers never run on the
// receive loop.
type Session struct {
	config    SessionConfig
	identity  IdentitySource
	connState OfflineMarker
	sink      DuelSink
	clock     clockwork.Clock
	dialer    *websocket.Dialer

	mu      sync.Mutex
	state   SessionState
	running bool
	conn    *websocket.Conn
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewSession creates a disconnected session. A nil clock uses the real clock.
func NewSession(config SessionConfig, identity IdentitySource, connState OfflineMarker, sink DuelSink, clock clockwork.Clock) *Session {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if config.EventBuffer <= 0 {
		config.EventBuffer = 64
	}
	if config.StopTimeout <= 0 || config.StopTimeout > time.Second {
		config.StopTimeout = time.Second
	}
	if config.Reconnect.InitialBackoff <= 0 {
		config.Reconnect.InitialBackoff = time.Second
	}
	if config.Reconnect.MaxBackoff < config.Reconnect.InitialBackoff {
		config.Reconnect.MaxBackoff = config.Reconnect.InitialBackoff
	}

	return &Session{
		config:    config,
		identity:  identity,
		connState: connState,
		sink:      sink,
		clock:     clock,
		dialer: &websocket.Dialer{
			HandshakeTimeout: config.HandshakeTimeout,
		},
		state: Disconnected,
	}
}

func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Connect starts the session loop in the background and returns immediately.
func (s *Session) Connect() error {
	playerID := s.identity.PlayerID()
	if playerID == "" {
		return ErrNoIdentity
	}

	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrAlreadyConnected
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.running = true
	s.cancel = cancel
	s.done = done
	s.state = Connecting
	s.mu.Unlock()

	go s.run(ctx, playerID, done)
	return nil
}

// Disconnect stops the loop and waits up to StopTimeout for it to exit.
func (s *Session) Disconnect() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.cancel()
	conn := s.conn
	done := s.done
	s.mu.Unlock()

	if conn != nil {
		deadline := time.Now().Add(100 * time.Millisecond)
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		conn.Close()
	}

	select {
	case <-done:
		log.Info().Msg("realtime session stopped")
		return nil
	case <-time.After(s.config.StopTimeout):
		log.Warn().Dur("timeout", s.config.StopTimeout).Msg("realtime session did not stop in time, abandoning")
		return ErrStopTimeout
	}
}

func (s *Session) endpoint(playerID string) string {
	return strings.TrimRight(s.config.URL, "/") + "/ws/" + url.PathEscape(playerID)
}

func (s *Session) run(ctx context.Context, playerID string, done chan struct{}) {
	events := make(chan DuelEvent, s.config.EventBuffer)
	forwarded := make(chan struct{})
	go func() {
		defer close(forwarded)
		s.forward(events)
	}()

	defer func() {
		close(events)
		<-forwarded

		s.mu.Lock()
		s.running = false
		s.state = Disconnected
		s.conn = nil
		s.mu.Unlock()
		close(done)
	}()

	backoff := s.config.Reconnect.InitialBackoff
	for {
		conn, err := s.dial(ctx, playerID)
		if err == nil {
			backoff = s.config.Reconnect.InitialBackoff
			s.receive(ctx, conn, events)
			conn.Close()
		} else if ctx.Err() == nil {
			log.Warn().Err(err).Str("player_id", playerID).Msg("realtime dial failed")
		}

		s.setState(Disconnected, nil)
		if ctx.Err() != nil {
			return
		}
		s.connState.SetOffline()

		if !s.config.Reconnect.Enabled {
			return
		}

		log.Info().Dur("backoff", backoff).Str("player_id", playerID).Msg("realtime session reconnecting")
		select {
		case <-ctx.Done():
			return
		case <-s.clock.After(backoff):
		}
		backoff *= 2
		if backoff > s.config.Reconnect.MaxBackoff {
			backoff = s.config.Reconnect.MaxBackoff
		}
		s.setState(Connecting, nil)
	}
}

func (s *Session) dial(ctx context.Context, playerID string) (*websocket.Conn, error) {
	endpoint := s.endpoint(playerID)
	conn, _, err := s.dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", endpoint, err)
	}

	// Disconnect may have run between the dial finishing and now.
	s.mu.Lock()
	if ctx.Err() != nil {
		s.mu.Unlock()
		conn.Close()
		return nil, ctx.Err()
	}
	s.state = Connected
	s.conn = conn
	s.mu.Unlock()

	log.Info().Str("player_id", playerID).Str("url", endpoint).Msg("realtime session connected")
	return conn, nil
}

func (s *Session) setState(state SessionState, conn *websocket.Conn) {
	s.mu.Lock()
	s.state = state
	s.conn = conn
	s.mu.Unlock()
}

// receive reads frames until the connection fails or is closed.
func (s *Session) receive(ctx context.Context, conn *websocket.Conn, events chan<- DuelEvent) {
	if s.config.MaxMessageSize > 0 {
		conn.SetReadLimit(s.config.MaxMessageSize)
	}

	for {
		if s.config.ReadTimeout > 0 {
			conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil && websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Error().Err(err).Msg("unexpected realtime close error")
			} else {
				log.Debug().Err(err).Msg("realtime connection closed")
			}
			return
		}

		s.handle(ctx, conn, data, events)
	}
}

func (s *Session) handle(ctx context.Context, conn *websocket.Conn, data []byte, events chan<- DuelEvent) {
	msg, err := ParseMessage(data)
	if err != nil {
		log.Warn().Err(err).Int("size", len(data)).Msg("dropping malformed realtime message")
		return
	}

	switch {
	case msg.Type == MessageTypePing:
		if s.config.WriteTimeout > 0 {
			conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
		}
		if err := conn.WriteMessage(websocket.TextMessage, pongFrame); err != nil {
			log.Error().Err(err).Msg("failed to send pong")
		}

	case msg.IsDuelEvent():
		select {
		case events <- DuelEvent{Tag: string(msg.Type), Payload: msg.Raw}:
		case <-ctx.Done():
		}

	case msg.Type == MessageTypePong:
		log.Debug().Msg("received pong")

	default:
		log.Debug().RawJSON("message", data).Msg("ignoring unknown realtime message")
	}
}

// forward delivers duel events to the sink in arrival order.
func (s *Session) forward(events <-chan DuelEvent) {
	for ev := range events {
		s.sink.NotifyDuel(ev.Tag, ev.Payload)
	}
}
