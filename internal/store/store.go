package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - Initial schema (pre-migration)
// 1 - Added index on change_log.record_id for compaction
const currentSchemaVersion = 1

// DefaultMaxLogEntries bounds the change log when no option overrides it.
const DefaultMaxLogEntries = 10000

const (
	keyDeviceID = "device_id"
	keyCursor   = "remote_cursor"
)

// Store is the durable on-device record store.
type Store struct {
	db       *sql.DB
	mu       sync.RWMutex
	deviceID string
	maxLog   int
	now      func() time.Time
	log      zerolog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithDeviceID fixes this device's origin id instead of the persisted or generated one.
func WithDeviceID(id string) Option {
	return func(s *Store) { s.deviceID = id }
}

// WithMaxLogEntries bounds the change log. Values < 1 keep the default.
func WithMaxLogEntries(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxLog = n
		}
	}
}

// WithClock replaces the wall clock used for display timestamps and "today".
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithLogger sets the store's logger. The default discards everything.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Store) { s.log = l }
}

// Open creates or opens a SQLite database at the given path.
// Applies required pragmas and migrations automatically.
//
// This function is idempotent - safe to call multiple times.
func Open(path string, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, storageErr("open database", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, storageErr("connect to database", err)
	}

	// SQLite only supports one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, storageErr("apply pragmas", err)
	}

	if err := applySchema(db); err != nil {
		db.Close()
		return nil, storageErr("apply schema", err)
	}

	s := &Store{
		db:     db,
		maxLog: DefaultMaxLogEntries,
		now:    time.Now,
		log:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.initDeviceID(); err != nil {
		db.Close()
		return nil, err
	}

	s.log.Debug().Str("path", path).Str("device", s.deviceID).Msg("store opened")
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DeviceID returns the origin id stamped on this device's writes.
func (s *Store) DeviceID() string { return s.deviceID }

// initDeviceID loads the persisted device id, persisting a new UUIDv7 (or the
// WithDeviceID value) on first open.
func (s *Store) initDeviceID() error {
	var stored string
	err := s.db.QueryRow(`SELECT value FROM sync_state WHERE key = ?`, keyDeviceID).Scan(&stored)
	if err != nil && err != sql.ErrNoRows {
		return storageErr("load device id", err)
	}

	switch {
	case s.deviceID == "" && stored != "":
		s.deviceID = stored
		return nil
	case s.deviceID == "":
		s.deviceID = uuid.Must(uuid.NewV7()).String()
	case s.deviceID == stored:
		return nil
	}

	_, err = s.db.Exec(`
		INSERT INTO sync_state (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, keyDeviceID, s.deviceID)
	if err != nil {
		return storageErr("save device id", err)
	}
	return nil
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = FULL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}

// applySchema creates tables if they don't exist and runs migrations.
// This function is idempotent.
func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	if err := runMigrations(db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// runMigrations applies incremental schema migrations based on user_version.
func runMigrations(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}

	if version < 1 {
		if err := migrateToV1(db); err != nil {
			return err
		}
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}

	return nil
}

// migrateToV1 indexes change_log by record for per-record compaction.
func migrateToV1(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_change_log_record
		ON change_log(record_id, seq)
	`)
	if err != nil {
		return fmt.Errorf("migrate to v1: %w", err)
	}
	return nil
}

// verifyPragma checks that a pragma is set to the expected value.
// Used for testing.
func (s *Store) verifyPragma(name, expected string) error {
	var value string
	query := fmt.Sprintf("PRAGMA %s", name)
	if err := s.db.QueryRow(query).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}

// withTx runs fn inside a write transaction under the store's writer lock.
// The transaction runs to completion even if ctx is cancelled mid-way.
func (s *Store) withTx(ctx context.Context, op string, fn func(*sql.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ctx = context.WithoutCancel(ctx)
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr(op+": begin tx", err)
	}
	defer tx.Rollback() // No-op if committed

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return storageErr(op+": commit", err)
	}
	return nil
}
