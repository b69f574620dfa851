// Package store provides keys.Store implementations.
package store

import (
	"context"
	"sync"
	"time"

	"github.com/r360/key-engine/keys"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dry runs)
// =============================================================================

// Memory keeps mappings, counters and full append history in memory.
// It honors the same publish contract as the SQLite store: the mapping
// and counter swap under one lock, so a concurrent Snapshot never sees
// a half-published run.
type Memory struct {
	mu       sync.RWMutex
	mappings map[keys.KeyType]map[keys.AccountID]keys.KeyValue
	counters map[keys.KeyType]keys.KeyValue
	history  map[keys.KeyType]map[keys.AccountID][]keys.HistoryEntry
}

func NewMemory() *Memory {
	return &Memory{
		mappings: make(map[keys.KeyType]map[keys.AccountID]keys.KeyValue),
		counters: make(map[keys.KeyType]keys.KeyValue),
		history:  make(map[keys.KeyType]map[keys.AccountID][]keys.HistoryEntry),
	}
}

// Snapshot returns the last published state; a never-published key type
// reads as the valid first-run state (empty mapping, counter 1).
func (m *Memory) Snapshot(_ context.Context, keyType keys.KeyType) (keys.Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snap := keys.Snapshot{Keys: make(map[keys.AccountID]keys.KeyValue), NextKey: 1}
	for id, k := range m.mappings[keyType] {
		snap.Keys[id] = k
	}
	if next, ok := m.counters[keyType]; ok {
		snap.NextKey = next
	}
	return snap, nil
}

// Publish replaces the mapping and counter and appends the audit rows.
// A base that no longer matches the stored counter means the caller
// reconciled against a stale snapshot; the publish is refused.
func (m *Memory) Publish(_ context.Context, keyType keys.KeyType, assignments keys.Assignments, base, nextKey keys.KeyValue, runID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored := keys.KeyValue(1)
	if next, ok := m.counters[keyType]; ok {
		stored = next
	}
	if stored != base {
		return &keys.PublishConflictError{KeyType: keyType, Base: base, Stored: stored}
	}

	mapping := make(map[keys.AccountID]keys.KeyValue, len(assignments))
	for id, k := range assignments {
		mapping[id] = k
	}
	m.mappings[keyType] = mapping
	m.counters[keyType] = nextKey

	hist := m.history[keyType]
	if hist == nil {
		hist = make(map[keys.AccountID][]keys.HistoryEntry)
		m.history[keyType] = hist
	}
	now := time.Now().UTC()
	for id, k := range assignments {
		entry := keys.HistoryEntry{RunID: runID, PublishedAt: now, Key: k}
		hist[id] = append([]keys.HistoryEntry{entry}, hist[id]...)
	}
	return nil
}

// Lookup returns the current key for one account.
func (m *Memory) Lookup(_ context.Context, keyType keys.KeyType, id keys.AccountID) (keys.KeyValue, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if k, ok := m.mappings[keyType][id]; ok {
		return k, nil
	}
	return 0, keys.ErrAccountNotFound
}

// History returns every key the account has held, newest first.
func (m *Memory) History(_ context.Context, keyType keys.KeyType, id keys.AccountID) ([]keys.HistoryEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entries := m.history[keyType][id]
	out := make([]keys.HistoryEntry, len(entries))
	copy(out, entries)
	return out, nil
}
