package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/duelsync/go/internal/stubserver"
)

type fixedIdentity string

func (f fixedIdentity) PlayerID() string { return string(f) }

type offlineCounter struct {
	calls atomic.Int32
}

func (o *offlineCounter) SetOffline() { o.calls.Add(1) }

type recordingSink struct {
	mu     sync.Mutex
	events []DuelEvent
}

func (r *recordingSink) NotifyDuel(tag string, payload json.RawMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, DuelEvent{Tag: tag, Payload: payload})
}

func (r *recordingSink) snapshot() []DuelEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]DuelEvent(nil), r.events...)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

type sessionHarness struct {
	stub    *stubserver.Server
	server  *httptest.Server
	session *Session
	offline *offlineCounter
	sink    *recordingSink
	clock   clockwork.FakeClock
}

func newSessionHarness(t *testing.T, playerID string, reconnect bool) *sessionHarness {
	t.Helper()
	stub := stubserver.New()
	server := httptest.NewServer(stub.Handler())
	t.Cleanup(func() {
		stub.Hub().Close()
		server.Close()
	})

	cfg := DefaultSessionConfig("ws" + strings.TrimPrefix(server.URL, "http"))
	cfg.Reconnect.Enabled = reconnect
	cfg.Reconnect.InitialBackoff = time.Second
	cfg.Reconnect.MaxBackoff = 4 * time.Second

	h := &sessionHarness{
		stub:    stub,
		server:  server,
		offline: &offlineCounter{},
		sink:    &recordingSink{},
		clock:   clockwork.NewFakeClock(),
	}
	h.session = NewSession(cfg, fixedIdentity(playerID), h.offline, h.sink, h.clock)
	t.Cleanup(func() { h.session.Disconnect() })
	return h
}

func (h *sessionHarness) connect(t *testing.T, playerID string) {
	t.Helper()
	if err := h.session.Connect(); err != nil {
		t.Fatalf("connect: %v", err)
	}
	waitFor(t, "session connected", func() bool {
		return h.session.State() == Connected && h.stub.Hub().Connected(playerID)
	})
}

func TestConnectRequiresIdentity(t *testing.T) {
	h := newSessionHarness(t, "", false)
	if err := h.session.Connect(); !errors.Is(err, ErrNoIdentity) {
		t.Fatalf("expected ErrNoIdentity, got %v", err)
	}
	if h.session.State() != Disconnected {
		t.Fatalf("expected disconnected, got %s", h.session.State())
	}
}

func TestConnectTwiceFails(t *testing.T) {
	h := newSessionHarness(t, "p1", false)
	h.connect(t, "p1")
	if err := h.session.Connect(); !errors.Is(err, ErrAlreadyConnected) {
		t.Fatalf("expected ErrAlreadyConnected, got %v", err)
	}
}

func TestDuelEventsForwardedVerbatimInOrder(t *testing.T) {
	h := newSessionHarness(t, "p1", false)
	h.connect(t, "p1")

	frames := []string{
		`{"type":"duel_request","duel_id":"d1","from":"p2"}`,
		`{"type":"duel_result","duel_id":"d1","winner_id":"p1"}`,
	}
	for _, f := range frames {
		if err := h.stub.Hub().PushRaw("p1", []byte(f)); err != nil {
			t.Fatalf("push: %v", err)
		}
	}

	waitFor(t, "two duel events", func() bool { return len(h.sink.snapshot()) == 2 })
	got := h.sink.snapshot()
	if got[0].Tag != "duel_request" || string(got[0].Payload) != frames[0] {
		t.Fatalf("unexpected first event %s %s", got[0].Tag, got[0].Payload)
	}
	if got[1].Tag != "duel_result" || string(got[1].Payload) != frames[1] {
		t.Fatalf("unexpected second event %s %s", got[1].Tag, got[1].Payload)
	}
}

func TestEveryPingGetsExactlyOnePong(t *testing.T) {
	h := newSessionHarness(t, "p1", false)
	h.connect(t, "p1")

	for i := 0; i < 3; i++ {
		if err := h.stub.Hub().Push("p1", map[string]string{"type": "ping"}); err != nil {
			t.Fatalf("push ping: %v", err)
		}
	}

	waitFor(t, "three pongs", func() bool { return h.stub.Hub().Pongs("p1") == 3 })
	time.Sleep(50 * time.Millisecond)
	if got := h.stub.Hub().Pongs("p1"); got != 3 {
		t.Fatalf("expected exactly 3 pongs, got %d", got)
	}
	if len(h.sink.snapshot()) != 0 {
		t.Fatal("pings must not reach duel observers")
	}
}

func TestUnknownAndMalformedMessagesAreIgnored(t *testing.T) {
	h := newSessionHarness(t, "p1", false)
	h.connect(t, "p1")

	for _, f := range []string{
		`{"type":"matchmaking_update","queue":3}`,
		`this is not json`,
		`{"no_type":true}`,
		`{"type":"duel_request","duel_id":"d2"}`,
	} {
		if err := h.stub.Hub().PushRaw("p1", []byte(f)); err != nil {
			t.Fatalf("push: %v", err)
		}
	}

	waitFor(t, "duel event after junk", func() bool { return len(h.sink.snapshot()) == 1 })
	if h.session.State() != Connected {
		t.Fatalf("session should stay connected, got %s", h.session.State())
	}
	if ev := h.sink.snapshot()[0]; ev.Tag != "duel_request" {
		t.Fatalf("unexpected event %s", ev.Tag)
	}
	if h.offline.calls.Load() != 0 {
		t.Fatal("junk messages must not flip the connection state")
	}
}

func TestServerCloseGoesOfflineWithoutReconnect(t *testing.T) {
	h := newSessionHarness(t, "p1", false)
	h.connect(t, "p1")

	h.stub.Hub().Kick("p1")

	waitFor(t, "session disconnected", func() bool { return h.session.State() == Disconnected })
	waitFor(t, "offline flip", func() bool { return h.offline.calls.Load() == 1 })

	// The loop has exited, so a fresh Connect is allowed.
	waitFor(t, "loop exit", func() bool {
		err := h.session.Connect()
		return err == nil
	})
	waitFor(t, "reconnected manually", func() bool { return h.session.State() == Connected })
}

func TestDisconnectStopsPromptly(t *testing.T) {
	h := newSessionHarness(t, "p1", true)
	h.connect(t, "p1")

	start := time.Now()
	if err := h.session.Disconnect(); err != nil {
		t.Fatalf("disconnect: %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("disconnect took %s", elapsed)
	}
	if h.session.State() != Disconnected {
		t.Fatalf("expected disconnected, got %s", h.session.State())
	}
	if h.offline.calls.Load() != 0 {
		t.Fatal("a requested disconnect must not flip the connection state")
	}
	waitFor(t, "server side closed", func() bool { return !h.stub.Hub().Connected("p1") })

	if err := h.session.Disconnect(); err != nil {
		t.Fatalf("second disconnect: %v", err)
	}
}

func TestReconnectWithBackoff(t *testing.T) {
	h := newSessionHarness(t, "p1", true)
	h.connect(t, "p1")

	h.stub.Hub().Kick("p1")
	waitFor(t, "offline flip", func() bool { return h.offline.calls.Load() == 1 })

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := h.clock.BlockUntilContext(ctx, 1); err != nil {
		t.Fatalf("waiting for backoff timer: %v", err)
	}
	if h.session.State() == Connected {
		t.Fatal("session should wait for the backoff before redialing")
	}
	h.clock.Advance(time.Second)

	waitFor(t, "session reconnected", func() bool {
		return h.session.State() == Connected && h.stub.Hub().Connected("p1")
	})

	if err := h.stub.Hub().PushRaw("p1", []byte(`{"type":"duel_request","duel_id":"d3"}`)); err != nil {
		t.Fatalf("push after reconnect: %v", err)
	}
	waitFor(t, "event after reconnect", func() bool { return len(h.sink.snapshot()) == 1 })
}

func TestDialFailureGoesOffline(t *testing.T) {
	stub := stubserver.New()
	server := httptest.NewServer(stub.Handler())
	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	server.Close()

	marker := &offlineCounter{}
	session := NewSession(DefaultSessionConfig(wsURL), fixedIdentity("p1"), marker, &recordingSink{}, nil)
	if err := session.Connect(); err != nil {
		t.Fatalf("connect should return immediately without error: %v", err)
	}

	waitFor(t, "offline after failed dial", func() bool { return marker.calls.Load() == 1 })
	waitFor(t, "disconnected", func() bool { return session.State() == Disconnected })
	if err := session.Disconnect(); err != nil {
		t.Fatalf("disconnect: %v", err)
	}
}

func TestStopTimeoutAbandonsStuckSession(t *testing.T) {
	h := newSessionHarness(t, "p1", false)
	release := make(chan struct{})
	h.session.sink = blockingSink{release: release}
	h.connect(t, "p1")

	if err := h.stub.Hub().PushRaw("p1", []byte(`{"type":"duel_request","duel_id":"d4"}`)); err != nil {
		t.Fatalf("push: %v", err)
	}
	time.Sleep(50 * time.Millisecond)

	start := time.Now()
	err := h.session.Disconnect()
	if !errors.Is(err, ErrStopTimeout) {
		t.Fatalf("expected ErrStopTimeout, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("disconnect blocked for %s", elapsed)
	}
	close(release)
}

type blockingSink struct {
	release chan struct{}
}

func (b blockingSink) NotifyDuel(tag string, payload json.RawMessage) {
	<-b.release
}
