package offline

import (
	"reflect"
	"testing"
	"time"

	"github.com/spf13/afero"
)

func newTestQueue(t *testing.T) (*Queue, *FileStore, afero.Fs) {
	t.Helper()
	fs := afero.NewMemMapFs()
	store := NewFileStore(fs, "/data/offline_queue.json")
	q := NewQueue(store)
	q.Load()
	return q, store, fs
}

func playerSync(username string, at time.Time) Operation {
	return NewOperation(OperationPlayerSync, map[string]interface{}{"id": "p1", "username": username}, at)
}

func TestQueueAppendPersistsInOrder(t *testing.T) {
	q, store, _ := newTestQueue(t)
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	for i, name := range []string{"a", "b", "c"} {
		if !q.Append(playerSync(name, base.Add(time.Duration(i)*time.Second))) {
			t.Fatalf("append %s rejected", name)
		}
	}

	stored, err := store.Load()
	if err != nil {
		t.Fatalf("store load: %v", err)
	}
	if len(stored) != 3 {
		t.Fatalf("expected 3 persisted operations, got %d", len(stored))
	}
	for i, want := range []string{"a", "b", "c"} {
		if got := stored[i].Data["username"]; got != want {
			t.Fatalf("persisted[%d] = %v, want %s", i, got, want)
		}
	}

	drained := q.Drain()
	if len(drained) != 3 || drained[0].Data["username"] != "a" || drained[2].Data["username"] != "c" {
		t.Fatalf("unexpected drain order: %+v", drained)
	}
	if q.Len() != 3 {
		t.Fatalf("drain must not remove entries, len=%d", q.Len())
	}
}

func TestQueueCoalescesIdenticalOperations(t *testing.T) {
	q, _, _ := newTestQueue(t)
	now := time.Now()

	if !q.Append(playerSync("X", now)) {
		t.Fatal("first append rejected")
	}
	if q.Append(playerSync("X", now.Add(time.Second))) {
		t.Fatal("identical append should be coalesced")
	}
	if q.Len() != 1 {
		t.Fatalf("expected 1 entry, got %d", q.Len())
	}
	if !q.Append(playerSync("Y", now)) {
		t.Fatal("different payload rejected")
	}
	if q.Len() != 2 {
		t.Fatalf("expected 2 entries, got %d", q.Len())
	}
}

func TestQueueCoalescesOnlyAgainstTail(t *testing.T) {
	q, _, _ := newTestQueue(t)
	now := time.Now()

	for _, name := range []string{"A", "B", "A"} {
		if !q.Append(playerSync(name, now)) {
			t.Fatalf("append %s rejected", name)
		}
	}

	ops := q.Drain()
	var names []interface{}
	for _, op := range ops {
		names = append(names, op.Data["username"])
	}
	if want := []interface{}{"A", "B", "A"}; !reflect.DeepEqual(names, want) {
		t.Fatalf("queued %v, want %v", names, want)
	}
}

func TestQueueCoalescesAfterRestart(t *testing.T) {
	q, _, fs := newTestQueue(t)
	level := func() Operation {
		return NewOperation(OperationPlayerSync, map[string]interface{}{"id": "p1", "level": 7}, time.Now())
	}
	q.Append(level())

	restarted := NewQueue(NewFileStore(fs, "/data/offline_queue.json"))
	restarted.Load()
	if restarted.Append(level()) {
		t.Fatal("payload equal to the reloaded tail should be coalesced")
	}
	if restarted.Len() != 1 {
		t.Fatalf("expected 1 entry, got %d", restarted.Len())
	}
}

func TestQueueAcknowledgeKeepsLaterAppends(t *testing.T) {
	q, store, _ := newTestQueue(t)
	now := time.Now()
	q.Append(playerSync("a", now))
	q.Append(playerSync("b", now))

	snapshot := q.Drain()
	q.Append(playerSync("late", now))
	q.Acknowledge(len(snapshot))

	remaining := q.Drain()
	if len(remaining) != 1 || remaining[0].Data["username"] != "late" {
		t.Fatalf("unexpected remaining queue: %+v", remaining)
	}
	stored, err := store.Load()
	if err != nil {
		t.Fatalf("store load: %v", err)
	}
	if len(stored) != 1 {
		t.Fatalf("expected 1 persisted entry, got %d", len(stored))
	}
}

func TestQueueClearPersistsEmpty(t *testing.T) {
	q, store, _ := newTestQueue(t)
	q.Append(playerSync("a", time.Now()))
	q.Clear()

	if q.Len() != 0 {
		t.Fatalf("expected empty queue, got %d", q.Len())
	}
	stored, err := store.Load()
	if err != nil {
		t.Fatalf("store load: %v", err)
	}
	if len(stored) != 0 {
		t.Fatalf("expected empty persisted queue, got %d", len(stored))
	}
}

func TestQueueSurvivesRestart(t *testing.T) {
	q, _, fs := newTestQueue(t)
	q.Append(playerSync("a", time.Now()))
	q.Append(playerSync("b", time.Now()))

	restarted := NewQueue(NewFileStore(fs, "/data/offline_queue.json"))
	restarted.Load()

	ops := restarted.Drain()
	if len(ops) != 2 || ops[0].Data["username"] != "a" || ops[1].Data["username"] != "b" {
		t.Fatalf("unexpected queue after restart: %+v", ops)
	}
	if ops[0].Type != OperationPlayerSync {
		t.Fatalf("unexpected type %q", ops[0].Type)
	}
}

func TestQueueLoadMissingStoreIsEmpty(t *testing.T) {
	q := NewQueue(NewFileStore(afero.NewMemMapFs(), "/nowhere/queue.json"))
	q.Load()
	if q.Len() != 0 {
		t.Fatalf("expected empty queue, got %d", q.Len())
	}
}

func TestQueueLoadCorruptStoreIsEmpty(t *testing.T) {
	fs := afero.NewMemMapFs()
	if err := afero.WriteFile(fs, "/data/offline_queue.json", []byte("{not json"), 0o644); err != nil {
		t.Fatalf("seed corrupt file: %v", err)
	}

	q := NewQueue(NewFileStore(fs, "/data/offline_queue.json"))
	q.Load()
	if q.Len() != 0 {
		t.Fatalf("expected empty queue, got %d", q.Len())
	}

	q.Append(playerSync("a", time.Now()))
	if q.Len() != 1 {
		t.Fatalf("queue should be usable after corrupt load, len=%d", q.Len())
	}
}

func TestQueuePersistFailureKeepsMemoryQueue(t *testing.T) {
	ro := afero.NewReadOnlyFs(afero.NewMemMapFs())
	q := NewQueue(NewFileStore(ro, "/data/offline_queue.json"))
	q.Load()

	q.Append(playerSync("a", time.Now()))
	q.Append(playerSync("b", time.Now()))
	if q.Len() != 2 {
		t.Fatalf("expected in-memory queue of 2, got %d", q.Len())
	}
	q.Acknowledge(1)
	if q.Len() != 1 {
		t.Fatalf("expected in-memory queue of 1, got %d", q.Len())
	}
}
