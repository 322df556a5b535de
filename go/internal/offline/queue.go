package offline

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"sync"

	"github.com/rs/zerolog/log"
)

// ErrNoQueue is returned by a Store that has never saved a queue.
var ErrNoQueue = errors.New("no stored queue")

// Queue is the durable FIFO of operations that failed to reach the server.
// Every mutation persists the full queue while holding the lock, so
// concurrent appends and replays never interleave on disk. The in-memory
// copy stays authoritative when persisting fails.
type Queue struct {
	mu    sync.Mutex
	ops   []Operation
	store Store
}

func NewQueue(store Store) *Queue {
	return &Queue{store: store}
}

// Load replaces the in-memory queue with the stored one. Missing or
// unreadable storage starts an empty queue.
func (q *Queue) Load() {
	q.mu.Lock()
	defer q.mu.Unlock()

	ops, err := q.store.Load()
	switch {
	case err == nil:
		q.ops = ops
	case errors.Is(err, os.ErrNotExist), errors.Is(err, ErrNoQueue):
		q.ops = nil
		log.Debug().Msg("no offline queue stored, starting empty")
	default:
		q.ops = nil
		log.Warn().Err(err).Msg("offline queue unreadable, starting empty")
	}

	log.Info().Int("pending", len(q.ops)).Msg("offline queue loaded")
}

// Append adds op to the tail and persists. It returns false when the tail
// entry already carries the same type and payload; an equal write anywhere
// earlier in the queue is still appended so the newest state replays last.
func (q *Queue) Append(op Operation) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if n := len(q.ops); n > 0 && sameOperation(q.ops[n-1], op) {
		log.Debug().
			Str("operation_id", q.ops[n-1].ID.String()).
			Str("type", string(op.Type)).
			Msg("identical operation at queue tail")
		return false
	}

	q.ops = append(q.ops, op)
	q.persist()

	log.Info().
		Str("operation_id", op.ID.String()).
		Str("type", string(op.Type)).
		Int("pending", len(q.ops)).
		Msg("operation queued for replay")
	return true
}

// sameOperation compares payloads by their JSON encoding, so entries
// reloaded from storage (float64 or sized integers) still match fresh ones.
func sameOperation(a, b Operation) bool {
	if a.Type != b.Type {
		return false
	}
	ab, err := json.Marshal(a.Data)
	if err != nil {
		return false
	}
	bb, err := json.Marshal(b.Data)
	if err != nil {
		return false
	}
	return bytes.Equal(ab, bb)
}

// Drain returns the queued operations in FIFO order without removing them.
func (q *Queue) Drain() []Operation {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]Operation(nil), q.ops...)
}

// Acknowledge removes the first n operations after they were delivered.
// Operations appended after the drained snapshot are kept.
func (q *Queue) Acknowledge(n int) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if n <= 0 {
		return
	}
	if n >= len(q.ops) {
		q.ops = nil
	} else {
		q.ops = append([]Operation(nil), q.ops[n:]...)
	}
	q.persist()
}

// Clear empties the queue and persists the empty state.
func (q *Queue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.ops = nil
	q.persist()
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ops)
}

// persist must be called with mu held.
func (q *Queue) persist() {
	if err := q.store.Save(q.ops); err != nil {
		log.Error().Err(err).Int("pending", len(q.ops)).Msg("failed to persist offline queue")
	}
}
