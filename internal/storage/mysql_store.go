package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "github.com/go-sql-driver/mysql"

	"github.com/annel0/wordle-server/internal/game"
	"github.com/annel0/wordle-server/internal/word"
)

// MySQLStore хранит пользователей построчно в MariaDB/MySQL.
// Таблицы wordle_users и wordle_state создаются при подключении.
type MySQLStore struct {
	db *sql.DB
}

// NewMySQLStore подключается по DSN (user:pass@tcp(host:port)/dbname?parseTime=true)
func NewMySQLStore(ctx context.Context, dsn string) (*MySQLStore, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("не удалось подключиться к MariaDB: %w", err)
	}

	// Проверяем соединение
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("не удалось проверить соединение с MariaDB: %w", err)
	}

	store := &MySQLStore{db: db}
	if err := store.createTables(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("не удалось создать таблицы: %w", err)
	}
	return store, nil
}

func (s *MySQLStore) createTables(ctx context.Context) error {
	queries := []string{`
		CREATE TABLE IF NOT EXISTS wordle_users (
			username   VARCHAR(128) PRIMARY KEY,
			seq        BIGINT       NOT NULL,
			data       LONGBLOB     NOT NULL,
			updated_at TIMESTAMP    DEFAULT CURRENT_TIMESTAMP
			           ON UPDATE    CURRENT_TIMESTAMP,
			INDEX idx_seq (seq)
		) ENGINE=InnoDB`, `
		CREATE TABLE IF NOT EXISTS wordle_state (
			id         TINYINT   PRIMARY KEY,
			data       LONGBLOB  NOT NULL,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
			           ON UPDATE CURRENT_TIMESTAMP
		) ENGINE=InnoDB`,
	}
	for _, q := range queries {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (s *MySQLStore) Load(ctx context.Context) (*Snapshot, error) {
	snap := &Snapshot{}

	rows, err := s.db.QueryContext(ctx, `SELECT data FROM wordle_users ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("ошибка загрузки пользователей: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("ошибка чтения строки: %w", err)
		}
		var u game.User
		if err := json.Unmarshal(data, &u); err != nil {
			return nil, fmt.Errorf("повреждённая запись пользователя: %w", err)
		}
		snap.Users = append(snap.Users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var state []byte
	err = s.db.QueryRowContext(ctx, `SELECT data FROM wordle_state WHERE id = 1`).Scan(&state)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return nil, fmt.Errorf("ошибка загрузки слова: %w", err)
	default:
		var ws word.State
		if err := json.Unmarshal(state, &ws); err != nil {
			return nil, fmt.Errorf("повреждённое состояние слова: %w", err)
		}
		snap.Word = ws
	}
	return snap, nil
}

// Save записывает снимок одной транзакцией
func (s *MySQLStore) Save(ctx context.Context, snap *Snapshot) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO wordle_users (username, seq, data)
		VALUES (?, ?, ?)
		ON DUPLICATE KEY UPDATE
			seq = VALUES(seq),
			data = VALUES(data)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i := range snap.Users {
		u := &snap.Users[i]
		data, err := json.Marshal(u)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, u.Username, u.Seq, data); err != nil {
			return fmt.Errorf("ошибка сохранения пользователя %s: %w", u.Username, err)
		}
	}

	state, err := json.Marshal(snap.Word)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO wordle_state (id, data) VALUES (1, ?)
		ON DUPLICATE KEY UPDATE data = VALUES(data)`, state)
	if err != nil {
		return fmt.Errorf("ошибка сохранения слова: %w", err)
	}
	return tx.Commit()
}

func (s *MySQLStore) Close() error {
	return s.db.Close()
}
