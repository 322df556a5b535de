package stubserver

import (
	"encoding/json"
	"net/http"
	"sort"
	"strconv"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"
)

// Route names used for fault injection.
const (
	RouteHealth       = "health"
	RouteRegister     = "register"
	RouteGetPlayer    = "get_player"
	RouteOpponents    = "opponents"
	RouteOfflineDuels = "offline_duels"
	RouteDuelRequest  = "duel_request"
	RouteDuelResult   = "duel_result"
	RouteRealtime     = "realtime"
)

// DuelResultRecord is what the stub stores for a reported duel outcome.
type DuelResultRecord struct {
	DuelID   string          `json:"duel_id"`
	WinnerID string          `json:"winner_id"`
	LoserID  string          `json:"loser_id"`
	DuelLog  json.RawMessage `json:"duel_log"`
}

// Server is an in-memory stand-in for the authoritative duel server.
// Player registration is overwrite-by-id, so replaying a payload is idempotent.
type Server struct {
	mu            sync.Mutex
	players       map[string]map[string]interface{}
	registerCalls int
	duelRequests  []map[string]interface{}
	results       []DuelResultRecord
	offlineDuels  map[string][]map[string]interface{}
	faults        map[string]int
	down          bool

	hub *Hub
}

func New() *Server {
	return &Server{
		players:      make(map[string]map[string]interface{}),
		offlineDuels: make(map[string][]map[string]interface{}),
		faults:       make(map[string]int),
		hub:          NewHub(),
	}
}

// Hub returns the realtime hub of the stub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// FailNext makes the next n calls to route answer 503.
func (s *Server) FailNext(route string, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults[route] += n
}

// SetDown makes every route answer 503 until cleared.
func (s *Server) SetDown(down bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.down = down
}

func (s *Server) RegisterCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.registerCalls
}

// Player returns a copy of the stored record for id.
func (s *Server) Player(id string) (map[string]interface{}, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.players[id]
	if !ok {
		return nil, false
	}
	out := make(map[string]interface{}, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out, true
}

func (s *Server) PlayerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.players)
}

func (s *Server) DuelRequestCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.duelRequests)
}

func (s *Server) Results() []DuelResultRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]DuelResultRecord(nil), s.results...)
}

// AddOfflineDuel records a duel resolved while playerID was away.
func (s *Server) AddOfflineDuel(playerID string, duel map[string]interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.offlineDuels[playerID] = append(s.offlineDuels[playerID], duel)
}

// Handler returns the routes of the remote contract.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.guard(RouteHealth, s.handleHealth))
	mux.HandleFunc("POST /players/register", s.guard(RouteRegister, s.handleRegister))
	mux.HandleFunc("GET /players/{id}", s.guard(RouteGetPlayer, s.handleGetPlayer))
	mux.HandleFunc("GET /players/{id}/opponents", s.guard(RouteOpponents, s.handleOpponents))
	mux.HandleFunc("GET /players/{id}/offline_duels", s.guard(RouteOfflineDuels, s.handleOfflineDuels))
	mux.HandleFunc("POST /duels/request", s.guard(RouteDuelRequest, s.handleDuelRequest))
	mux.HandleFunc("POST /duels/{id}/result", s.guard(RouteDuelResult, s.handleDuelResult))
	mux.HandleFunc("GET /ws/{id}", s.guard(RouteRealtime, s.handleRealtime))
	return mux
}

// CORSHandler wraps Handler with permissive CORS for browser-based tooling.
func (s *Server) CORSHandler() http.Handler {
	c := cors.New(cors.Options{
		AllowedMethods: []string{
			http.MethodHead,
			http.MethodGet,
			http.MethodPost,
		},
		AllowedOrigins: []string{"*"},
		AllowedHeaders: []string{"*"},
	})
	return c.Handler(s.Handler())
}

func (s *Server) guard(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		fail := s.down
		if !fail && s.faults[route] > 0 {
			s.faults[route]--
			fail = true
		}
		s.mu.Unlock()

		if fail {
			log.Debug().Str("route", route).Msg("stub injecting failure")
			http.Error(w, "service unavailable", http.StatusServiceUnavailable)
			return
		}
		next(w, r)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var data map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&data); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	id, _ := data["id"].(string)
	if id == "" {
		http.Error(w, "id is required", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	s.players[id] = data
	s.registerCalls++
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ok", "id": id})
}

func (s *Server) handleGetPlayer(w http.ResponseWriter, r *http.Request) {
	player, ok := s.Player(r.PathValue("id"))
	if !ok {
		http.Error(w, "player not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, player)
}

func (s *Server) handleOpponents(w http.ResponseWriter, r *http.Request) {
	self := r.PathValue("id")
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit < 0 {
		limit = 10
	}

	s.mu.Lock()
	ids := make([]string, 0, len(s.players))
	for id := range s.players {
		if id != self {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	opponents := make([]map[string]interface{}, 0, limit)
	for _, id := range ids {
		if len(opponents) >= limit {
			break
		}
		opponents = append(opponents, s.players[id])
	}
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]interface{}{"opponents": opponents})
}

func (s *Server) handleOfflineDuels(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	duels := append([]map[string]interface{}{}, s.offlineDuels[r.PathValue("id")]...)
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]interface{}{"duels": duels})
}

func (s *Server) handleDuelRequest(w http.ResponseWriter, r *http.Request) {
	var req map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	playerID, _ := req["player_id"].(string)
	if playerID == "" {
		http.Error(w, "player_id is required", http.StatusBadRequest)
		return
	}

	duelID := uuid.New().String()
	s.mu.Lock()
	s.duelRequests = append(s.duelRequests, req)
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "matched", "duel_id": duelID})
}

func (s *Server) handleDuelResult(w http.ResponseWriter, r *http.Request) {
	var record DuelResultRecord
	if err := json.NewDecoder(r.Body).Decode(&record); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	record.DuelID = r.PathValue("id")

	s.mu.Lock()
	s.results = append(s.results, record)
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "recorded"})
}

func (s *Server) handleRealtime(w http.ResponseWriter, r *http.Request) {
	if err := s.hub.Upgrade(w, r, r.PathValue("id")); err != nil {
		log.Error().Err(err).Str("player_id", r.PathValue("id")).Msg("failed to upgrade realtime connection")
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}
