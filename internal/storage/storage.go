// Package storage сохраняет пользователей и состояние слова между перезапусками.
package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/annel0/wordle-server/internal/config"
	"github.com/annel0/wordle-server/internal/game"
	"github.com/annel0/wordle-server/internal/word"
)

// Snapshot сохраняемое состояние сервера
type Snapshot struct {
	Users   []game.User `json:"users"`
	Word    word.State  `json:"word"`
	SavedAt time.Time   `json:"saved_at"`
}

// Store бэкенд хранения. Load на пустом хранилище возвращает пустой снимок.
type Store interface {
	Load(ctx context.Context) (*Snapshot, error)
	Save(ctx context.Context, snap *Snapshot) error
	Close() error
}

// zstd frame magic
var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

// encode сериализует снимок в JSON, при compress сжимает zstd
func encode(snap *Snapshot, compress bool) ([]byte, error) {
	data, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("marshal snapshot: %w", err)
	}
	if !compress {
		return data, nil
	}

	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("zstd writer: %w", err)
	}
	defer enc.Close()
	return enc.EncodeAll(data, nil), nil
}

// decode разбирает снимок; сжатие определяется по сигнатуре кадра
func decode(data []byte) (*Snapshot, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return &Snapshot{}, nil
	}

	if bytes.HasPrefix(data, zstdMagic) {
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return nil, fmt.Errorf("zstd reader: %w", err)
		}
		defer dec.Close()
		data, err = dec.DecodeAll(data, nil)
		if err != nil {
			return nil, fmt.Errorf("zstd decode: %w", err)
		}
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return &snap, nil
}

// Open создаёт бэкенд по cfg.Driver
func Open(ctx context.Context, cfg config.StorageConfig) (Store, error) {
	switch cfg.Driver {
	case "", "file":
		return NewFileStore(cfg.Path, cfg.Compress), nil
	case "badger":
		return NewBadgerStore(cfg.Path, cfg.Compress)
	case "redis":
		return NewRedisStore(ctx, cfg.DSN, cfg.KeyPrefix, cfg.Compress)
	case "mysql":
		return NewMySQLStore(ctx, cfg.DSN)
	case "mongo":
		return NewMongoStore(ctx, cfg.DSN, cfg.Database)
	case "none":
		return NopStore{}, nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

// NopStore ничего не сохраняет
type NopStore struct{}

func (NopStore) Load(context.Context) (*Snapshot, error) { return &Snapshot{}, nil }
func (NopStore) Save(context.Context, *Snapshot) error   { return nil }
func (NopStore) Close() error                            { return nil }
