package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dgraph-io/badger/v3"

	"github.com/annel0/wordle-server/internal/logging"
)

var snapshotKey = []byte("wordle:snapshot")

// BadgerStore хранит снимок во встроенной BadgerDB
type BadgerStore struct {
	db       *badger.DB
	compress bool
	mu       sync.RWMutex
	isReady  bool
	logger   *logging.Logger
}

// NewBadgerStore открывает BadgerDB в каталоге dir
func NewBadgerStore(dir string, compress bool) (*BadgerStore, error) {
	if dir == "" {
		dir = "data/badger"
	}
	opts := badger.DefaultOptions(dir)
	opts.Logger = nil // Отключаем логирование BadgerDB

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("не удалось открыть BadgerDB: %w", err)
	}

	logger := logging.GetStorageLogger()
	logger.Info("🗄️ BadgerDB открыта: %s", dir)
	return &BadgerStore{db: db, compress: compress, isReady: true, logger: logger}, nil
}

func (bs *BadgerStore) Load(_ context.Context) (*Snapshot, error) {
	bs.mu.RLock()
	defer bs.mu.RUnlock()

	if !bs.isReady {
		return nil, fmt.Errorf("хранилище не готово")
	}

	var data []byte
	err := bs.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(snapshotKey)
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return &Snapshot{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения из BadgerDB: %w", err)
	}
	return decode(data)
}

func (bs *BadgerStore) Save(_ context.Context, snap *Snapshot) error {
	data, err := encode(snap, bs.compress)
	if err != nil {
		return err
	}

	bs.mu.RLock()
	defer bs.mu.RUnlock()

	if !bs.isReady {
		return fmt.Errorf("хранилище не готово")
	}
	err = bs.db.Update(func(txn *badger.Txn) error {
		return txn.Set(snapshotKey, data)
	})
	if err != nil {
		return fmt.Errorf("ошибка сохранения в BadgerDB: %w", err)
	}
	return nil
}

// Close закрывает хранилище данных
func (bs *BadgerStore) Close() error {
	bs.mu.Lock()
	defer bs.mu.Unlock()

	if !bs.isReady {
		return nil
	}
	bs.isReady = false
	return bs.db.Close()
}
