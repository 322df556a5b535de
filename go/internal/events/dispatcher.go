package events

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Kind identifies an event class observers can register for.
type Kind string

const (
	KindSync Kind = "sync"
	KindDuel Kind = "duel"
)

// SyncObserver is told whether a sync attempt reached the server.
type SyncObserver func(success bool) error

// DuelObserver receives a realtime duel event tag and the raw message.
type DuelObserver func(tag string, payload json.RawMessage) error

// SubscriptionID identifies a registered observer.
type SubscriptionID uuid.UUID

func (id SubscriptionID) String() string {
	return uuid.UUID(id).String()
}

type handler struct {
	id     SubscriptionID
	onSync SyncObserver
	onDuel DuelObserver
}

// Dispatcher fans sync and duel events out to registered observers in
// registration order. A returned error or a panic in one observer is
// logged and does not stop delivery to the others.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[Kind][]handler
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		handlers: make(map[Kind][]handler),
	}
}

func (d *Dispatcher) OnSync(fn SyncObserver) SubscriptionID {
	return d.register(KindSync, handler{onSync: fn})
}

func (d *Dispatcher) OnDuel(fn DuelObserver) SubscriptionID {
	return d.register(KindDuel, handler{onDuel: fn})
}

func (d *Dispatcher) register(kind Kind, h handler) SubscriptionID {
	h.id = SubscriptionID(uuid.New())

	d.mu.Lock()
	d.handlers[kind] = append(d.handlers[kind], h)
	count := len(d.handlers[kind])
	d.mu.Unlock()

	log.Debug().
		Str("kind", string(kind)).
		Str("subscription_id", h.id.String()).
		Int("observers", count).
		Msg("observer registered")
	return h.id
}

// Unsubscribe removes an observer. It reports whether id was registered.
func (d *Dispatcher) Unsubscribe(id SubscriptionID) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	for kind, hs := range d.handlers {
		for i, h := range hs {
			if h.id != id {
				continue
			}
			d.handlers[kind] = append(hs[:i:i], hs[i+1:]...)
			return true
		}
	}
	return false
}

// Count returns the number of observers registered for kind.
func (d *Dispatcher) Count(kind Kind) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.handlers[kind])
}

func (d *Dispatcher) NotifySync(success bool) {
	for _, h := range d.snapshot(KindSync) {
		d.invoke(KindSync, h.id, func() error { return h.onSync(success) })
	}
}

func (d *Dispatcher) NotifyDuel(tag string, payload json.RawMessage) {
	for _, h := range d.snapshot(KindDuel) {
		d.invoke(KindDuel, h.id, func() error { return h.onDuel(tag, payload) })
	}
}

// snapshot copies the handler list so observers run without the lock held
// and may register or unsubscribe from inside a callback.
func (d *Dispatcher) snapshot(kind Kind) []handler {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]handler(nil), d.handlers[kind]...)
}

func (d *Dispatcher) invoke(kind Kind, id SubscriptionID, call func() error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Str("kind", string(kind)).
				Str("subscription_id", id.String()).
				Str("panic", fmt.Sprint(r)).
				Msg("observer panicked")
		}
	}()

	if err := call(); err != nil {
		log.Error().
			Err(err).
			Str("kind", string(kind)).
			Str("subscription_id", id.String()).
			Msg("observer failed")
	}
}
