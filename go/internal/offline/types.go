package offline

import (
	"time"

	"github.com/google/uuid"
)

// OperationType names the kinds of state-changing calls that may be queued.
type OperationType string

const (
	// OperationPlayerSync replays a player registration/update. The remote
	// endpoint overwrites by player id, so replays are idempotent.
	OperationPlayerSync OperationType = "player-sync"
)

// Operation is one pending state-changing call awaiting delivery.
type Operation struct {
	ID        uuid.UUID              `json:"id" msgpack:"id"`
	Type      OperationType          `json:"type" msgpack:"type"`
	Data      map[string]interface{} `json:"data" msgpack:"data"`
	Timestamp time.Time              `json:"timestamp" msgpack:"timestamp"`
}

// NewOperation stamps a new operation with an id and the given time.
func NewOperation(opType OperationType, data map[string]interface{}, at time.Time) Operation {
	return Operation{
		ID:        uuid.New(),
		Type:      opType,
		Data:      data,
		Timestamp: at,
	}
}

// Store loads and saves the whole queue in one piece.
type Store interface {
	Load() ([]Operation, error)
	Save(ops []Operation) error
}
