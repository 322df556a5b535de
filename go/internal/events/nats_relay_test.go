package events

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

type recordingPublisher struct {
	subjects []string
	bodies   [][]byte
	err      error
}

func (p *recordingPublisher) Publish(subject string, data []byte) error {
	if p.err != nil {
		return p.err
	}
	p.subjects = append(p.subjects, subject)
	p.bodies = append(p.bodies, data)
	return nil
}

func TestRelayPublishesSyncAndDuelEvents(t *testing.T) {
	pub := &recordingPublisher{}
	relay := NewRelay(pub, "duelsync")
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	relay.now = func() time.Time { return fixed }

	d := NewDispatcher()
	relay.Attach(d)

	d.NotifySync(true)
	d.NotifyDuel("duel_result", json.RawMessage(`{"type":"duel_result","winner_id":"p1"}`))

	if len(pub.subjects) != 2 {
		t.Fatalf("expected 2 publishes, got %d", len(pub.subjects))
	}
	if pub.subjects[0] != "duelsync.sync" || pub.subjects[1] != "duelsync.duel.duel_result" {
		t.Fatalf("unexpected subjects %v", pub.subjects)
	}

	var syncEnv RelayEnvelope
	if err := json.Unmarshal(pub.bodies[0], &syncEnv); err != nil {
		t.Fatalf("decode sync envelope: %v", err)
	}
	if syncEnv.Kind != KindSync || syncEnv.Success == nil || !*syncEnv.Success {
		t.Fatalf("unexpected sync envelope %+v", syncEnv)
	}
	if !syncEnv.Timestamp.Equal(fixed) {
		t.Fatalf("unexpected timestamp %s", syncEnv.Timestamp)
	}

	var duelEnv RelayEnvelope
	if err := json.Unmarshal(pub.bodies[1], &duelEnv); err != nil {
		t.Fatalf("decode duel envelope: %v", err)
	}
	if duelEnv.Tag != "duel_result" || string(duelEnv.Payload) != `{"type":"duel_result","winner_id":"p1"}` {
		t.Fatalf("unexpected duel envelope %+v", duelEnv)
	}
}

func TestRelayFailureDoesNotBlockOtherObservers(t *testing.T) {
	relay := NewRelay(&recordingPublisher{err: errors.New("nats down")}, "duelsync")
	d := NewDispatcher()
	relay.Attach(d)

	delivered := false
	d.OnSync(func(bool) error { delivered = true; return nil })
	d.NotifySync(false)

	if !delivered {
		t.Fatal("observer after failing relay was not called")
	}
}
