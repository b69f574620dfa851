/*
store.go - Persistence contracts for durable keys

PURPOSE:
  Defines the interface between the reconciler and the durable store.
  One mapping table and one counter per key type; the reconciler reads a
  Snapshot, the store writer publishes the replacement atomically.

OWNERSHIP:
  The store is owned exclusively by the engine. Other components treat
  it as read-only input (downstream joins) or write-only output (the
  publish at the end of a run), never both in the same pass.

PUBLISH CONTRACT:
  Publish replaces the full mapping AND persists the advanced counter in
  a single transaction. A crash between the two must not be observable:
  a regressed counter makes key collisions possible on the next run.
  Publish is also the write half of an optimistic read-modify-write:
  it carries the counter the snapshot was taken at and is refused if
  the stored counter has moved, so a run working from a stale snapshot
  can never reissue a key another process just minted.
  Accounts absent from the new mapping (closed) drop out of the table;
  their key values stay retired forever because the counter is monotone.

HISTORY MODES:
  HistoryOverwrite keeps only the current mapping. HistoryAppend also
  retains every published run's rows for audit trend analysis. The mode
  is storage policy, not reconciliation behavior.

IMPLEMENTATIONS:
  - store/sqlite:    production, embedded database file
  - keys/store:      in-memory, for tests and dry-run deployments

SEE ALSO:
  - reconcile.go: consumes Snapshot
  - engine.go:    calls Publish
*/
package keys

import (
	"context"
	"time"
)

// =============================================================================
// SNAPSHOT - prior-day state for one key type
// =============================================================================

// Snapshot is the last published state for a key type: the last known
// key per account and the next value the counter will mint.
type Snapshot struct {
	Keys    map[AccountID]KeyValue
	NextKey KeyValue
}

// Validate checks the snapshot invariants: a positive counter strictly
// greater than every persisted key. An empty mapping with NextKey 1 is
// the valid first-run state.
func (s Snapshot) Validate(keyType KeyType) error {
	if s.NextKey < 1 {
		return &CounterError{KeyType: keyType, Counter: s.NextKey}
	}
	var maxKey KeyValue
	for _, k := range s.Keys {
		if k < 1 {
			return &CounterError{KeyType: keyType, Counter: s.NextKey, MaxKey: k}
		}
		if k > maxKey {
			maxKey = k
		}
	}
	if s.NextKey <= maxKey {
		return &CounterError{KeyType: keyType, Counter: s.NextKey, MaxKey: maxKey}
	}
	return nil
}

// =============================================================================
// STORE INTERFACES
// =============================================================================

// HistoryMode selects what the store retains beyond the current mapping.
type HistoryMode string

const (
	HistoryOverwrite HistoryMode = "overwrite"
	HistoryAppend    HistoryMode = "append"
)

// HistoryEntry is one audit row: the key an account held as of a run.
type HistoryEntry struct {
	RunID       string
	PublishedAt time.Time
	Key         KeyValue
}

// Store is the durable key persistence store.
type Store interface {
	// Snapshot returns the last published state for a key type. A store
	// that has never published returns an empty mapping with NextKey 1.
	// Any storage failure must surface as an error: fabricating an empty
	// snapshot would silently discard all key continuity.
	Snapshot(ctx context.Context, keyType KeyType) (Snapshot, error)

	// Publish atomically replaces the mapping and counter for a key
	// type. base is the counter the run's Snapshot was taken at; a
	// store whose counter has moved past it refuses the publish with
	// ErrPublishConflict, so two overlapping runs minting from the same
	// snapshot can never both land. Readers never observe a partial
	// mapping.
	Publish(ctx context.Context, keyType KeyType, assignments Assignments, base, nextKey KeyValue, runID string) error

	// Lookup returns the current key for one account, or
	// ErrAccountNotFound. The id must already be canonical.
	Lookup(ctx context.Context, keyType KeyType, id AccountID) (KeyValue, error)

	// History returns every key an account has held, newest first.
	// Stores without append history return ErrNoHistory.
	History(ctx context.Context, keyType KeyType, id AccountID) ([]HistoryEntry, error)
}

// =============================================================================
// RUN CONFIGURATION
// =============================================================================

// KeyTypeConfig controls one key family's run behavior.
type KeyTypeConfig struct {
	Enabled bool
	History HistoryMode

	// WriteEnabled gates Publish. False is the dry-run safety switch:
	// keys are computed and reported but nothing is persisted.
	WriteEnabled bool
}

// Config is the full engine configuration.
type Config struct {
	KeyTypes map[KeyType]KeyTypeConfig

	// OwnershipRoles defaults to DefaultOwnershipRoles when empty.
	OwnershipRoles []string

	Exclusions Exclusions
}

// DefaultConfig mirrors the production setup: portfolio on with
// overwrite history, address and ownership available but disabled.
func DefaultConfig() Config {
	return Config{
		KeyTypes: map[KeyType]KeyTypeConfig{
			KeyPortfolio: {Enabled: true, History: HistoryOverwrite, WriteEnabled: true},
			KeyAddress:   {Enabled: false, History: HistoryOverwrite, WriteEnabled: true},
			KeyOwnership: {Enabled: false, History: HistoryOverwrite, WriteEnabled: true},
		},
	}
}
