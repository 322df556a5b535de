package offline

import (
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/vmihailenco/msgpack/v5"
)

var queueKey = []byte("duelsync/offline_queue")

// BadgerStore keeps the whole queue as one msgpack value in a Badger database.
type BadgerStore struct {
	db *badger.DB
}

func NewBadgerStore(path string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

// NewInMemoryBadgerStore opens a Badger database that lives only in memory.
func NewInMemoryBadgerStore() (*BadgerStore, error) {
	opts := badger.DefaultOptions("").WithInMemory(true)
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}

// Load returns ErrNoQueue when nothing was ever saved.
func (s *BadgerStore) Load() ([]Operation, error) {
	var ops []Operation
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(queueKey)
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ErrNoQueue
			}
			return err
		}
		return item.Value(func(val []byte) error {
			return msgpack.Unmarshal(val, &ops)
		})
	})
	if err != nil {
		return nil, fmt.Errorf("load queue: %w", err)
	}
	return ops, nil
}

func (s *BadgerStore) Save(ops []Operation) error {
	if ops == nil {
		ops = []Operation{}
	}
	data, err := msgpack.Marshal(ops)
	if err != nil {
		return fmt.Errorf("encode queue: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(queueKey, data)
	})
}
