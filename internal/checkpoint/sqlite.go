package checkpoint

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using SQLite
type SQLiteStore struct {
	db      *sqlx.DB
	closed  bool
	writeMu sync.Mutex
}

type row struct {
	Key    string `db:"key"`
	Record string `db:"record"`
}

// NewSQLiteStore creates a new SQLite results ledger
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dsn := fmt.Sprintf("%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(60000)", dbPath)
	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// the batch is sequential, a single writer connection is enough
	db.SetMaxOpenConns(1)

	store := &SQLiteStore{db: db}
	if err := store.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) createTables() error {
	query := `
	CREATE TABLE IF NOT EXISTS results (
		key TEXT NOT NULL PRIMARY KEY,
		record TEXT NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_results_updated_at ON results(updated_at);
	`

	_, err := s.db.Exec(query)
	return err
}

// Get retrieves one record
func (s *SQLiteStore) Get(key string) (Record, error) {
	if s.closed {
		return nil, fmt.Errorf("database store is closed")
	}

	var r row
	err := s.retryOnBusy(func() error {
		return s.db.Get(&r, `SELECT key, record FROM results WHERE key = ?`, key)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return decode(r.Record)
}

// Put saves or replaces one record
func (s *SQLiteStore) Put(key string, record Record) error {
	if s.closed {
		return fmt.Errorf("database store is closed")
	}

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode record %s: %w", key, err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	return s.retryOnBusy(func() error {
		return s.saveWithTransaction(key, string(data))
	})
}

func (s *SQLiteStore) saveWithTransaction(key, data string) error {
	tx, err := s.db.Beginx()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() // This will be ignored if Commit() succeeds

	query := `
	INSERT INTO results (key, record, updated_at)
	VALUES (?, ?, ?)
	ON CONFLICT(key) DO UPDATE SET
		record = excluded.record,
		updated_at = excluded.updated_at
	`

	if _, err := tx.Exec(query, key, data, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to execute upsert: %w", err)
	}

	return tx.Commit()
}

// All returns every record keyed by batch key
func (s *SQLiteStore) All() (map[string]Record, error) {
	if s.closed {
		return nil, fmt.Errorf("database store is closed")
	}

	var rows []row
	if err := s.db.Select(&rows, `SELECT key, record FROM results ORDER BY key`); err != nil {
		return nil, err
	}

	out := make(map[string]Record, len(rows))
	for _, r := range rows {
		rec, err := decode(r.Record)
		if err != nil {
			return nil, fmt.Errorf("record %s: %w", r.Key, err)
		}
		out[r.Key] = rec
	}
	return out, nil
}

// retryOnBusy retries the operation if SQLite is busy
func (s *SQLiteStore) retryOnBusy(operation func() error) error {
	maxRetries := 5
	baseDelay := 50 * time.Millisecond

	var err error
	for attempt := 0; attempt < maxRetries; attempt++ {
		err = operation()
		if err == nil || !isSQLiteBusyError(err) {
			return err
		}
		time.Sleep(baseDelay * time.Duration(1<<uint(attempt)))
	}

	return err
}

func isSQLiteBusyError(err error) bool {
	if err == nil {
		return false
	}
	errorStr := err.Error()
	return strings.Contains(errorStr, "database is locked") ||
		strings.Contains(errorStr, "SQLITE_BUSY")
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

func decode(data string) (Record, error) {
	var rec Record
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return nil, fmt.Errorf("failed to decode record: %w", err)
	}
	return rec, nil
}
