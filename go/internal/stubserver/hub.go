package stubserver

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// Hub holds the realtime connections of the stub, one per player.
type Hub struct {
	mu       sync.Mutex
	conns    map[string]*hubConn
	pongs    map[string]int
	upgrader websocket.Upgrader
}

type hubConn struct {
	playerID string
	conn     *websocket.Conn
	writeMu  sync.Mutex
}

func NewHub() *Hub {
	return &Hub{
		conns: make(map[string]*hubConn),
		pongs: make(map[string]int),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// Upgrade turns the request into a realtime connection for playerID.
func (h *Hub) Upgrade(w http.ResponseWriter, r *http.Request, playerID string) error {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return fmt.Errorf("failed to upgrade connection: %w", err)
	}

	c := &hubConn{playerID: playerID, conn: conn}
	h.mu.Lock()
	if old, ok := h.conns[playerID]; ok {
		old.conn.Close()
	}
	h.conns[playerID] = c
	h.mu.Unlock()

	log.Debug().Str("player_id", playerID).Msg("stub realtime connection established")
	go h.readPump(c)
	return nil
}

func (h *Hub) readPump(c *hubConn) {
	defer func() {
		h.mu.Lock()
		if h.conns[c.playerID] == c {
			delete(h.conns, c.playerID)
		}
		h.mu.Unlock()
		c.conn.Close()
	}()

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var envelope struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(message, &envelope); err != nil {
			continue
		}
		if envelope.Type == "pong" {
			h.mu.Lock()
			h.pongs[c.playerID]++
			h.mu.Unlock()
		}
	}
}

// Connected reports whether playerID currently holds a realtime connection.
func (h *Hub) Connected(playerID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.conns[playerID]
	return ok
}

// Pongs returns how many pong replies playerID has sent.
func (h *Hub) Pongs(playerID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.pongs[playerID]
}

// Push marshals msg and writes it to playerID's connection.
func (h *Hub) Push(playerID string, msg interface{}) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	return h.PushRaw(playerID, data)
}

// PushRaw writes data verbatim, which lets tests send malformed frames.
func (h *Hub) PushRaw(playerID string, data []byte) error {
	h.mu.Lock()
	c, ok := h.conns[playerID]
	h.mu.Unlock()
	if !ok {
		return fmt.Errorf("player %s not connected", playerID)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Kick closes playerID's connection from the server side.
func (h *Hub) Kick(playerID string) {
	h.mu.Lock()
	c, ok := h.conns[playerID]
	h.mu.Unlock()
	if ok {
		c.conn.Close()
	}
}

// Close drops every realtime connection.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, c := range h.conns {
		c.conn.Close()
		delete(h.conns, id)
	}
}
