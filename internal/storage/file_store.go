package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/annel0/wordle-server/internal/logging"
)

// FileStore хранит снимок в одном JSON файле (опционально zstd)
type FileStore struct {
	path     string
	compress bool
	mu       sync.Mutex
	logger   *logging.Logger
}

// NewFileStore создаёт файловое хранилище
func NewFileStore(path string, compress bool) *FileStore {
	if path == "" {
		path = "data/users.json"
	}
	return &FileStore{path: path, compress: compress, logger: logging.GetStorageLogger()}
}

// Load читает снимок; отсутствующий файл - пустое состояние
func (fs *FileStore) Load(_ context.Context) (*Snapshot, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	data, err := os.ReadFile(fs.path)
	if errors.Is(err, os.ErrNotExist) {
		fs.logger.Info("📂 Файл %s не найден, начинаем с пустого состояния", fs.path)
		return &Snapshot{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", fs.path, err)
	}
	return decode(data)
}

// Save записывает снимок через временный файл и rename
func (fs *FileStore) Save(_ context.Context, snap *Snapshot) error {
	data, err := encode(snap, fs.compress)
	if err != nil {
		return err
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(fs.path), 0o755); err != nil {
		return fmt.Errorf("create dir for %s: %w", fs.path, err)
	}
	tmp := fs.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, fs.path); err != nil {
		return fmt.Errorf("rename %s: %w", tmp, err)
	}
	fs.logger.Debug("💾 Снимок сохранён в %s (%d байт)", fs.path, len(data))
	return nil
}

func (fs *FileStore) Close() error { return nil }
