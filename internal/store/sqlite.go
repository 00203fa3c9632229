package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3" // driver "sqlite3" (cgo)
	_ "modernc.org/sqlite"          // driver "sqlite" (pure Go)

	"harvestreport/internal/logging"
	"harvestreport/internal/types"
)

// SQLiteStore implements KV on a single SQLite table.
type SQLiteStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	now    func() time.Time
	closed bool
}

// Open opens (creating if needed) the database at path with the named driver,
// either "sqlite3" (mattn/go-sqlite3) or "sqlite" (modernc.org/sqlite).
func Open(driver, path string) (*SQLiteStore, error) {
	timer := logging.StartTimer(logging.CategoryStore, "Open")
	defer timer.Stop()

	logging.Store("Opening %s store at %s", driver, path)

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			logging.Get(logging.CategoryStore).Error("Failed to create directory %s: %v", dir, err)
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open(driver, path)
	if err != nil {
		logging.Get(logging.CategoryStore).Error("Failed to open database at %s: %v", path, err)
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logging.StoreDebug("Failed to set sqlite busy_timeout: %v", err)
	}
	if path != ":memory:" {
		if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
			logging.StoreDebug("Failed to set sqlite journal_mode=WAL: %v", err)
		}
		if _, err := db.Exec("PRAGMA synchronous = NORMAL"); err != nil {
			logging.StoreDebug("Failed to set sqlite synchronous=NORMAL: %v", err)
		}
	}

	if err := initSchema(db); err != nil {
		logging.Get(logging.CategoryStore).Error("Failed to initialize schema: %v", err)
		db.Close()
		return nil, err
	}
	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, err
	}

	s := newWithDB(db)
	logging.Store("Store ready at %s (schema v%d)", path, schemaVersion(db))
	return s, nil
}

func newWithDB(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db, now: time.Now}
}

func (s *SQLiteStore) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var value []byte
	err := s.db.QueryRowContext(ctx, "SELECT value FROM kv WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		logging.Get(logging.CategoryStore).Warn("get %s failed: %v", key, err)
		return nil, &types.StorageError{Op: "get", Key: key, Err: err}
	}
	return value, nil
}

const upsertSQL = `INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
	ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`

func (s *SQLiteStore) Set(ctx context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, upsertSQL, key, value, s.now().UnixMilli()); err != nil {
		logging.Get(logging.CategoryStore).Warn("set %s failed: %v", key, err)
		return &types.StorageError{Op: "set", Key: key, Err: err}
	}
	logging.StoreDebug("set %s (%d bytes)", key, len(value))
	return nil
}

func (s *SQLiteStore) Remove(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, "DELETE FROM kv WHERE key = ?", key); err != nil {
		logging.Get(logging.CategoryStore).Warn("remove %s failed: %v", key, err)
		return &types.StorageError{Op: "remove", Key: key, Err: err}
	}
	return nil
}

// SetMany upserts every pair in one transaction, in key order.
func (s *SQLiteStore) SetMany(ctx context.Context, values map[string][]byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &types.StorageError{Op: "set_many", Err: err}
	}
	now := s.now().UnixMilli()
	for _, k := range keys {
		if _, err := tx.ExecContext(ctx, upsertSQL, k, values[k], now); err != nil {
			_ = tx.Rollback()
			logging.Get(logging.CategoryStore).Warn("set_many rolled back at %s: %v", k, err)
			return &types.StorageError{Op: "set_many", Key: k, Err: err}
		}
	}
	if err := tx.Commit(); err != nil {
		return &types.StorageError{Op: "set_many", Err: err}
	}
	logging.StoreDebug("set_many committed %d keys", len(keys))
	return nil
}

// Keys lists stored keys in order, with their last update time.
func (s *SQLiteStore) Keys(ctx context.Context) (map[string]time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, "SELECT key, updated_at FROM kv ORDER BY key")
	if err != nil {
		return nil, &types.StorageError{Op: "keys", Err: err}
	}
	defer rows.Close()

	out := make(map[string]time.Time)
	for rows.Next() {
		var key string
		var ms int64
		if err := rows.Scan(&key, &ms); err != nil {
			return nil, &types.StorageError{Op: "keys", Err: err}
		}
		out[key] = time.UnixMilli(ms).UTC()
	}
	if err := rows.Err(); err != nil {
		return nil, &types.StorageError{Op: "keys", Err: err}
	}
	return out, nil
}

// Close closes the database. It is safe to call more than once.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
