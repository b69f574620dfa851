/*
Package sqlite provides the SQLite-backed key persistence store.

PURPOSE:
  Implements keys.Store on an embedded database file. One durable
  mapping table and one counter row per key type, plus an optional
  append-only audit history.

KEY TABLES:
  current_keys:    account_id -> key_value, one row set per key type
  key_counters:    next_key per key type (monotone, never decremented)
  historical_keys: dated copy of every published run (append mode only)
  publishes:       one log row per successful publish

ATOMIC PUBLISH:
  Publish runs as a single transaction: delete the key type's rows,
  insert today's assignments, advance the counter, append history. A
  crash mid-publish rolls back wholesale, so the counter can never
  regress relative to the mapping and readers never observe a partially
  written run.

CONCURRENCY:
  Uses a sync.Mutex around writers; WAL mode lets downstream readers
  (reports joining on the mapping) run concurrently without blocking.
  Across processes, Publish checks the caller's base counter against
  the stored one inside an immediate transaction: of two runs that
  reconciled from the same snapshot, the second publish is refused
  rather than reissuing the keys the first just minted.

USAGE:
  st, err := sqlite.New("./data/r360.db", sqlite.Options{
      History: map[keys.KeyType]keys.HistoryMode{
          keys.KeyPortfolio: keys.HistoryAppend,
      },
  })
  if err != nil { ... }
  defer st.Close()

SEE ALSO:
  - keys/store.go: interface contract
  - keys/store/memory.go: in-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/r360/key-engine/keys"
)

// Options configures storage policy, not reconciliation behavior.
type Options struct {
	// History selects, per key type, whether publishes retain the dated
	// audit rows. Unlisted key types default to HistoryOverwrite.
	History map[keys.KeyType]keys.HistoryMode

	// ReadOnly refuses Publish. The dry-run safety switch for
	// environments where the production file is mounted for inspection.
	ReadOnly bool
}

// Store implements keys.Store using SQLite.
type Store struct {
	db   *sql.DB
	opts Options
	mu   sync.Mutex // serializes writers; readers go through WAL
}

// New opens (creating if needed) the database at dbPath.
// Use ":memory:" for an in-memory database.
func New(dbPath string, opts Options) (*Store, error) {
	// _txlock=immediate takes the write lock at BEGIN, so the counter
	// check inside Publish reads the committed state, not a stale WAL
	// snapshot raced by another process.
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection keeps :memory: databases coherent and avoids
	// writer contention on file databases.
	db.SetMaxOpenConns(1)

	store := &Store{db: db, opts: opts}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Current mapping: the authoritative join table
	CREATE TABLE IF NOT EXISTS current_keys (
		key_type   TEXT NOT NULL,
		account_id TEXT NOT NULL,
		key_value  INTEGER NOT NULL CHECK (key_value > 0),
		PRIMARY KEY (key_type, account_id)
	);

	CREATE INDEX IF NOT EXISTS idx_current_keys_value
		ON current_keys(key_type, key_value);

	-- Monotone counters, one row per key type
	CREATE TABLE IF NOT EXISTS key_counters (
		key_type TEXT PRIMARY KEY,
		next_key INTEGER NOT NULL CHECK (next_key > 0)
	);

	-- Append-only audit history (populated in append mode)
	CREATE TABLE IF NOT EXISTS historical_keys (
		run_id       TEXT NOT NULL,
		published_at TEXT NOT NULL,
		key_type     TEXT NOT NULL,
		account_id   TEXT NOT NULL,
		key_value    INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_historical_keys_account
		ON historical_keys(key_type, account_id, published_at DESC);

	-- Publish log, one row per successful publish
	CREATE TABLE IF NOT EXISTS publishes (
		run_id       TEXT NOT NULL,
		key_type     TEXT NOT NULL,
		published_at TEXT NOT NULL,
		accounts     INTEGER NOT NULL,
		next_key     INTEGER NOT NULL,
		PRIMARY KEY (run_id, key_type)
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// SNAPSHOT (keys.Store interface)
// =============================================================================

// Snapshot reads the last published mapping and counter for a key type.
// A key type that has never published reads as the first-run state.
func (s *Store) Snapshot(ctx context.Context, keyType keys.KeyType) (keys.Snapshot, error) {
	snap := keys.Snapshot{Keys: make(map[keys.AccountID]keys.KeyValue), NextKey: 1}

	var next int64
	err := s.db.QueryRowContext(ctx,
		"SELECT next_key FROM key_counters WHERE key_type = ?", string(keyType),
	).Scan(&next)
	switch {
	case err == sql.ErrNoRows:
		// First run for this key type.
	case err != nil:
		return keys.Snapshot{}, fmt.Errorf("failed to read counter: %w", err)
	default:
		snap.NextKey = keys.KeyValue(next)
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT account_id, key_value FROM current_keys WHERE key_type = ?", string(keyType))
	if err != nil {
		return keys.Snapshot{}, fmt.Errorf("failed to read mapping: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		var key int64
		if err := rows.Scan(&id, &key); err != nil {
			return keys.Snapshot{}, fmt.Errorf("failed to scan mapping row: %w", err)
		}
		snap.Keys[keys.AccountID(id)] = keys.KeyValue(key)
	}
	if err := rows.Err(); err != nil {
		return keys.Snapshot{}, fmt.Errorf("failed to read mapping: %w", err)
	}
	return snap, nil
}

// =============================================================================
// PUBLISH (keys.Store interface)
// =============================================================================

// Publish atomically replaces the mapping and advances the counter.
// The write is refused when the stored counter differs from base: the
// snapshot this run reconciled against is stale, and another process
// has already issued key values from it.
func (s *Store) Publish(ctx context.Context, keyType keys.KeyType, assignments keys.Assignments, base, nextKey keys.KeyValue, runID string) error {
	if s.opts.ReadOnly {
		return keys.ErrWritesDisabled
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin publish: %w", err)
	}
	defer tx.Rollback()

	// Optimistic counter check. The read and the writes below share one
	// transaction, so two processes racing on the same file cannot both
	// observe their base and both commit.
	stored := keys.KeyValue(1) // never-published key types read as the first-run counter
	var raw int64
	err = tx.QueryRowContext(ctx,
		"SELECT next_key FROM key_counters WHERE key_type = ?", string(keyType),
	).Scan(&raw)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("failed to read counter: %w", err)
	}
	if err == nil {
		stored = keys.KeyValue(raw)
	}
	if stored != base {
		return &keys.PublishConflictError{KeyType: keyType, Base: base, Stored: stored}
	}

	if _, err := tx.ExecContext(ctx,
		"DELETE FROM current_keys WHERE key_type = ?", string(keyType)); err != nil {
		return fmt.Errorf("failed to clear mapping: %w", err)
	}

	insert, err := tx.PrepareContext(ctx,
		"INSERT INTO current_keys (key_type, account_id, key_value) VALUES (?, ?, ?)")
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer insert.Close()

	publishedAt := time.Now().UTC().Format(time.RFC3339)
	appendHistory := s.opts.History[keyType] == keys.HistoryAppend

	var histInsert *sql.Stmt
	if appendHistory {
		histInsert, err = tx.PrepareContext(ctx,
			"INSERT INTO historical_keys (run_id, published_at, key_type, account_id, key_value) VALUES (?, ?, ?, ?, ?)")
		if err != nil {
			return fmt.Errorf("failed to prepare history insert: %w", err)
		}
		defer histInsert.Close()
	}

	for id, key := range assignments {
		if _, err := insert.ExecContext(ctx, string(keyType), string(id), int64(key)); err != nil {
			return fmt.Errorf("failed to insert mapping row: %w", err)
		}
		if appendHistory {
			if _, err := histInsert.ExecContext(ctx, runID, publishedAt, string(keyType), string(id), int64(key)); err != nil {
				return fmt.Errorf("failed to insert history row: %w", err)
			}
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO key_counters (key_type, next_key) VALUES (?, ?)
		ON CONFLICT(key_type) DO UPDATE SET next_key = excluded.next_key`,
		string(keyType), int64(nextKey)); err != nil {
		return fmt.Errorf("failed to advance counter: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO publishes (run_id, key_type, published_at, accounts, next_key) VALUES (?, ?, ?, ?, ?)",
		runID, string(keyType), publishedAt, len(assignments), int64(nextKey)); err != nil {
		return fmt.Errorf("failed to log publish: %w", err)
	}

	return tx.Commit()
}

// Lookup returns the current key for one account.
func (s *Store) Lookup(ctx context.Context, keyType keys.KeyType, id keys.AccountID) (keys.KeyValue, error) {
	var key int64
	err := s.db.QueryRowContext(ctx,
		"SELECT key_value FROM current_keys WHERE key_type = ? AND account_id = ?",
		string(keyType), string(id),
	).Scan(&key)
	if err == sql.ErrNoRows {
		return 0, keys.ErrAccountNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to look up account: %w", err)
	}
	return keys.KeyValue(key), nil
}

// =============================================================================
// HISTORY (keys.Store interface)
// =============================================================================

// History returns every key an account has held, newest first.
// Only meaningful for key types configured with HistoryAppend.
func (s *Store) History(ctx context.Context, keyType keys.KeyType, id keys.AccountID) ([]keys.HistoryEntry, error) {
	if s.opts.History[keyType] != keys.HistoryAppend {
		return nil, keys.ErrNoHistory
	}

	// rowid breaks ties between runs published within the same second.
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, published_at, key_value
		FROM historical_keys
		WHERE key_type = ? AND account_id = ?
		ORDER BY published_at DESC, rowid DESC`,
		string(keyType), string(id))
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var entries []keys.HistoryEntry
	for rows.Next() {
		var e keys.HistoryEntry
		var publishedAt string
		var key int64
		if err := rows.Scan(&e.RunID, &publishedAt, &key); err != nil {
			return nil, fmt.Errorf("failed to scan history row: %w", err)
		}
		e.PublishedAt, _ = time.Parse(time.RFC3339, publishedAt)
		e.Key = keys.KeyValue(key)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// =============================================================================
// PUBLISH LOG
// =============================================================================

// PublishRecord is one row of the publish log.
type PublishRecord struct {
	RunID       string
	KeyType     keys.KeyType
	PublishedAt time.Time
	Accounts    int
	NextKey     keys.KeyValue
}

// Publishes returns the most recent publish log rows, newest first.
func (s *Store) Publishes(ctx context.Context, limit int) ([]PublishRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, key_type, published_at, accounts, next_key
		FROM publishes
		ORDER BY published_at DESC, key_type ASC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query publish log: %w", err)
	}
	defer rows.Close()

	var records []PublishRecord
	for rows.Next() {
		var r PublishRecord
		var keyType, publishedAt string
		var next int64
		if err := rows.Scan(&r.RunID, &keyType, &publishedAt, &r.Accounts, &next); err != nil {
			return nil, fmt.Errorf("failed to scan publish row: %w", err)
		}
		r.KeyType = keys.KeyType(keyType)
		r.PublishedAt, _ = time.Parse(time.RFC3339, publishedAt)
		r.NextKey = keys.KeyValue(next)
		records = append(records, r)
	}
	return records, rows.Err()
}
