/*
errors.go - Centralized error types for the key engine

PURPOSE:
  All error types in one place. Storage implementations and the API
  layer wrap these with additional context; callers branch with
  errors.Is / errors.As.

ERROR CATEGORIES:
  1. Input errors   - malformed extract records
  2. Store errors   - persistence unavailable or refusing writes
  3. State errors   - counter corruption, the one condition that must
                      halt a key type before any output is written

SEE ALSO:
  - reconcile.go: raises ErrCounterCorrupt
  - engine.go:    collects per-key-type failures without cross-blocking
*/
package keys

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrMissingAccountID is returned for an extract record whose account
	// identifier is empty after normalization. Such records are dropped
	// and counted, never emitted with an empty id.
	ErrMissingAccountID = errors.New("record missing account identifier")

	// ErrUnknownKeyType is returned for a key type outside the three
	// supported families.
	ErrUnknownKeyType = errors.New("unknown key type")

	// ErrStoreUnavailable is returned when the persistence store for an
	// enabled key type cannot be read. The run for that key type must
	// fail rather than silently minting fresh keys for every account.
	ErrStoreUnavailable = errors.New("key persistence store unavailable")

	// ErrCounterCorrupt is returned when the persisted next-key counter
	// is non-positive or not strictly greater than every persisted key.
	// Proceeding would risk reissuing an already-active key value.
	ErrCounterCorrupt = errors.New("next-key counter corrupt")

	// ErrWritesDisabled is returned by Publish when the store was opened
	// read-only (dry-run safety switch).
	ErrWritesDisabled = errors.New("store writes disabled")

	// ErrPublishConflict is returned by Publish when the persisted
	// counter no longer matches the snapshot the run reconciled against:
	// another process published in the interim, and accepting this
	// publish could issue the same key value twice.
	ErrPublishConflict = errors.New("counter moved since snapshot")

	// ErrNoHistory is returned by audit lookups when the store keeps no
	// append history for the key type.
	ErrNoHistory = errors.New("no history retained for key type")

	// ErrAccountNotFound is returned by single-account lookups when the
	// account holds no key of the requested type.
	ErrAccountNotFound = errors.New("account not found")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// CounterError reports the corrupt counter state that halted a run.
type CounterError struct {
	KeyType KeyType
	Counter KeyValue
	MaxKey  KeyValue
}

func (e *CounterError) Error() string {
	return fmt.Sprintf("%s: counter %d with max persisted key %d", e.KeyType, e.Counter, e.MaxKey)
}

func (e *CounterError) Unwrap() error { return ErrCounterCorrupt }

// PublishConflictError reports a publish raced by another process.
type PublishConflictError struct {
	KeyType KeyType
	Base    KeyValue // counter the run's snapshot was taken at
	Stored  KeyValue // counter found at publish time
}

func (e *PublishConflictError) Error() string {
	return fmt.Sprintf("%s: snapshot counter %d but store counter %d", e.KeyType, e.Base, e.Stored)
}

func (e *PublishConflictError) Unwrap() error { return ErrPublishConflict }

// StoreError wraps a storage failure with the key type it affected.
type StoreError struct {
	KeyType KeyType
	Op      string // "snapshot", "publish", "history"
	Err     error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("%s store %s: %v", e.KeyType, e.Op, e.Err)
}

func (e *StoreError) Unwrap() []error { return []error{ErrStoreUnavailable, e.Err} }
