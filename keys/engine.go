/*
engine.go - Run orchestration

PURPOSE:
  Ties the pipeline together for one daily run:

    normalize -> cluster -> reconcile -> publish

  once per enabled key type, all over the same normalized population.

FAILURE ISOLATION:
  Each key type's reconciliation is independent. A key type whose store
  cannot be read, or whose counter is corrupt, is recorded in the
  report's Failures and writes nothing; the prior day's state for that
  type stays intact. The other key types proceed normally.

SINGLE-THREADED BY DESIGN:
  The whole active-account snapshot fits in memory and the dominant cost
  lives in the warehouse extraction outside this module, so there is no
  parallel clustering within a run. The engine serializes whole runs
  with a mutex; the store additionally serializes writers so that two
  overlapping processes cannot interleave counter reads and writes.
*/
package keys

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"
)

// Engine executes daily key runs against a Store.
type Engine struct {
	store  Store
	config Config
	norm   *Normalizer

	runMu chan struct{} // buffered(1); serializes runs, honors ctx

	mu         sync.RWMutex
	lastReport *RunReport
}

// NewEngine builds an engine. A zero-value Config falls back to
// DefaultConfig.
func NewEngine(store Store, config Config) *Engine {
	if len(config.KeyTypes) == 0 {
		config = DefaultConfig()
	}
	e := &Engine{
		store:  store,
		config: config,
		norm:   NewNormalizer(config.OwnershipRoles),
		runMu:  make(chan struct{}, 1),
	}
	e.runMu <- struct{}{}
	return e
}

// Run executes one full run over the extract. The returned report is
// always non-nil; per-key-type failures are collected rather than
// returned, and the error is non-nil only when the run could not start
// at all (context cancelled while waiting for a prior run).
func (e *Engine) Run(ctx context.Context, raws []RawAccount, runID string) (*RunReport, error) {
	select {
	case <-e.runMu:
		defer func() { e.runMu <- struct{}{} }()
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	accounts, dropped := e.norm.NormalizeAll(raws)
	report := &RunReport{
		RunID:     runID,
		StartedAt: time.Now().UTC(),
		Accounts:  len(accounts),
		Dropped:   dropped,
		Results:   make(map[KeyType]*RunResult),
		Failures:  make(map[KeyType]string),
	}
	if dropped > 0 {
		log.Printf("run %s: dropped %d record(s) with no account identifier", runID, dropped)
	}

	for _, kt := range AllKeyTypes {
		cfg, ok := e.config.KeyTypes[kt]
		if !ok || !cfg.Enabled {
			continue
		}
		result, err := e.runKeyType(ctx, kt, cfg, accounts, runID)
		if err != nil {
			log.Printf("run %s: %s failed: %v", runID, kt, err)
			report.Failures[kt] = err.Error()
			continue
		}
		report.Results[kt] = result
		log.Printf("run %s: %s: %d accounts, %d clusters, %d reused, %d minted, %d merges, %d splits",
			runID, kt, len(result.Assignments), result.Stats.Clusters,
			result.Stats.Reused, result.Stats.Minted, result.Stats.Merges, result.Stats.Splits)
	}

	if len(report.Failures) == 0 {
		report.Failures = nil
	}
	e.mu.Lock()
	e.lastReport = report
	e.mu.Unlock()
	return report, nil
}

// runKeyType reconciles and publishes a single key family.
func (e *Engine) runKeyType(ctx context.Context, kt KeyType, cfg KeyTypeConfig, accounts []Account, runID string) (*RunResult, error) {
	snap, err := e.store.Snapshot(ctx, kt)
	if err != nil {
		return nil, &StoreError{KeyType: kt, Op: "snapshot", Err: err}
	}

	clusters := ClusterAccounts(accounts, kt.EdgePolicy(), e.config.Exclusions)

	assignments, next, stats, err := Reconcile(kt, clusters, snap)
	if err != nil {
		return nil, err
	}
	if len(assignments) != len(accounts) {
		// Every account must receive exactly one key.
		return nil, fmt.Errorf("%s: assigned %d of %d accounts", kt, len(assignments), len(accounts))
	}

	result := &RunResult{
		KeyType:     kt,
		Assignments: assignments,
		NextKey:     next,
		Stats:       stats,
	}

	if !cfg.WriteEnabled {
		return result, nil
	}
	if err := e.store.Publish(ctx, kt, assignments, snap.NextKey, next, runID); err != nil {
		return nil, &StoreError{KeyType: kt, Op: "publish", Err: err}
	}
	result.Published = true
	return result, nil
}

// LastReport returns the most recent run report, or nil before any run.
func (e *Engine) LastReport() *RunReport {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lastReport
}

// Config returns the engine configuration (read-only view).
func (e *Engine) Config() Config { return e.config }
