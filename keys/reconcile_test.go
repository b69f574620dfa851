package keys_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/r360/key-engine/keys"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func cluster(ids ...keys.AccountID) keys.Cluster {
	return keys.Cluster{Representative: ids[0], Members: ids}
}

func snapshot(nextKey keys.KeyValue, pairs map[keys.AccountID]keys.KeyValue) keys.Snapshot {
	if pairs == nil {
		pairs = map[keys.AccountID]keys.KeyValue{}
	}
	return keys.Snapshot{Keys: pairs, NextKey: nextKey}
}

// =============================================================================
// CONTINUITY
// =============================================================================

func TestReconcile_FirstRunMintsSequentially(t *testing.T) {
	// GIVEN: An empty store and three clusters
	clusters := []keys.Cluster{
		cluster("1", "2"),
		cluster("3"),
		cluster("4", "5"),
	}

	// WHEN: Reconciling against a fresh snapshot
	assigned, next, stats, err := keys.Reconcile(keys.KeyPortfolio, clusters, snapshot(1, nil))
	require.NoError(t, err)

	// THEN: Keys mint sequentially in representative order
	assert.Equal(t, keys.Assignments{
		"1": 1, "2": 1,
		"3": 2,
		"4": 3, "5": 3,
	}, assigned)
	assert.Equal(t, keys.KeyValue(4), next)
	assert.Equal(t, 3, stats.Minted)
	assert.Equal(t, 0, stats.Reused)
}

func TestReconcile_UnchangedClusterKeepsKey(t *testing.T) {
	// GIVEN: Yesterday's cluster {1,2} held key 7
	clusters := []keys.Cluster{cluster("1", "2")}
	snap := snapshot(8, map[keys.AccountID]keys.KeyValue{"1": 7, "2": 7})

	// WHEN: The same cluster appears today
	assigned, next, stats, err := keys.Reconcile(keys.KeyPortfolio, clusters, snap)
	require.NoError(t, err)

	// THEN: It keeps key 7 and the counter does not move
	assert.Equal(t, keys.Assignments{"1": 7, "2": 7}, assigned)
	assert.Equal(t, keys.KeyValue(8), next)
	assert.Equal(t, 1, stats.Reused)
	assert.Equal(t, 0, stats.Minted)
}

func TestReconcile_NewMemberJoinsExistingKey(t *testing.T) {
	// A brand-new account joining an existing household inherits its key.
	clusters := []keys.Cluster{cluster("1", "2", "9")}
	snap := snapshot(8, map[keys.AccountID]keys.KeyValue{"1": 7, "2": 7})

	assigned, _, stats, err := keys.Reconcile(keys.KeyPortfolio, clusters, snap)
	require.NoError(t, err)

	assert.Equal(t, keys.KeyValue(7), assigned["9"])
	assert.Equal(t, 1, stats.Reused)
	assert.Equal(t, 0, stats.Minted)
}

// =============================================================================
// MERGES
// =============================================================================

func TestReconcile_MergeMajorityWins(t *testing.T) {
	// GIVEN: A merged cluster where three members held K1 and one held K2
	clusters := []keys.Cluster{cluster("1", "2", "3", "4")}
	snap := snapshot(3, map[keys.AccountID]keys.KeyValue{
		"1": 1, "2": 1, "3": 1,
		"4": 2,
	})

	// WHEN: Reconciling
	assigned, next, stats, err := keys.Reconcile(keys.KeyPortfolio, clusters, snap)
	require.NoError(t, err)

	// THEN: The cluster takes K1; K2 is retired, never reissued
	assert.Equal(t, keys.Assignments{"1": 1, "2": 1, "3": 1, "4": 1}, assigned)
	assert.Equal(t, keys.KeyValue(3), next)
	assert.Equal(t, 1, stats.Merges)
	assert.Equal(t, 1, stats.Retired)
}

func TestReconcile_MergeTallyTieTakesLowestKey(t *testing.T) {
	// Two former keys with equal member counts: the lower key value wins.
	clusters := []keys.Cluster{cluster("1", "2", "3", "4")}
	snap := snapshot(6, map[keys.AccountID]keys.KeyValue{
		"1": 5, "2": 5,
		"3": 2, "4": 2,
	})

	assigned, _, stats, err := keys.Reconcile(keys.KeyPortfolio, clusters, snap)
	require.NoError(t, err)

	assert.Equal(t, keys.KeyValue(2), assigned["1"])
	assert.Equal(t, 1, stats.Merges)
	assert.Equal(t, 1, stats.Retired)
}

// =============================================================================
// SPLITS
// =============================================================================

func TestReconcile_SplitLargerFragmentKeepsKey(t *testing.T) {
	// GIVEN: Yesterday's key 4 group of five split into fragments of 3 and 2
	clusters := []keys.Cluster{
		cluster("1", "2", "3"),
		cluster("4", "5"),
	}
	snap := snapshot(5, map[keys.AccountID]keys.KeyValue{
		"1": 4, "2": 4, "3": 4, "4": 4, "5": 4,
	})

	// WHEN: Reconciling
	assigned, next, stats, err := keys.Reconcile(keys.KeyPortfolio, clusters, snap)
	require.NoError(t, err)

	// THEN: The larger fragment keeps 4, the smaller mints 5
	assert.Equal(t, keys.Assignments{
		"1": 4, "2": 4, "3": 4,
		"4": 5, "5": 5,
	}, assigned)
	assert.Equal(t, keys.KeyValue(6), next)
	assert.Equal(t, 1, stats.Splits)
	assert.Equal(t, 1, stats.NewSplits)
	assert.Equal(t, 1, stats.Minted)
}

func TestReconcile_SplitTieBreaksToSmallestRepresentative(t *testing.T) {
	// Equal fragments: the one holding the smallest account id keeps the key.
	clusters := []keys.Cluster{
		cluster("10", "11"),
		cluster("2", "30"),
	}
	snap := snapshot(2, map[keys.AccountID]keys.KeyValue{
		"10": 1, "11": 1, "2": 1, "30": 1,
	})

	assigned, _, _, err := keys.Reconcile(keys.KeyPortfolio, clusters, snap)
	require.NoError(t, err)

	// Representative "2" sorts before "10" numerically
	assert.Equal(t, keys.KeyValue(1), assigned["2"])
	assert.Equal(t, keys.KeyValue(1), assigned["30"])
	assert.Equal(t, keys.KeyValue(2), assigned["10"])
	assert.Equal(t, keys.KeyValue(2), assigned["11"])
}

func TestReconcile_SplitLoserNeverFallsBackToSecondChoice(t *testing.T) {
	// GIVEN: A cluster whose members held K1 (2 members) and K2 (1 member),
	// losing the K1 contest to a bigger fragment
	clusters := []keys.Cluster{
		cluster("1", "2", "3"), // three former K1 members, the main successor
		cluster("4", "5", "6"), // two K1 members plus one K2 member
	}
	snap := snapshot(3, map[keys.AccountID]keys.KeyValue{
		"1": 1, "2": 1, "3": 1,
		"4": 1, "5": 1,
		"6": 2,
	})

	// WHEN: Reconciling
	assigned, next, stats, err := keys.Reconcile(keys.KeyPortfolio, clusters, snap)
	require.NoError(t, err)

	// THEN: The loser mints fresh rather than claiming K2
	assert.Equal(t, keys.KeyValue(1), assigned["1"])
	assert.Equal(t, keys.KeyValue(3), assigned["4"])
	assert.Equal(t, keys.KeyValue(3), assigned["6"])
	assert.Equal(t, keys.KeyValue(4), next)
	// K2 had a member but was nobody's winning candidate: retired
	assert.Equal(t, 1, stats.Retired)
	assert.Equal(t, 1, stats.Merges)
}

// =============================================================================
// COUNTER INTEGRITY
// =============================================================================

func TestReconcile_CounterNeverReissuesRetiredKeys(t *testing.T) {
	// GIVEN: Key 2 was retired in the past; counter already at 6
	clusters := []keys.Cluster{
		cluster("1"),
		cluster("9"), // new cluster
	}
	snap := snapshot(6, map[keys.AccountID]keys.KeyValue{"1": 5})

	// WHEN: Minting for the new cluster
	assigned, next, _, err := keys.Reconcile(keys.KeyPortfolio, clusters, snap)
	require.NoError(t, err)

	// THEN: The mint comes from the counter, not from the gap
	assert.Equal(t, keys.KeyValue(6), assigned["9"])
	assert.Equal(t, keys.KeyValue(7), next)
}

func TestReconcile_CorruptCounterRejected(t *testing.T) {
	clusters := []keys.Cluster{cluster("1")}

	// Counter not strictly greater than the max persisted key
	snap := snapshot(5, map[keys.AccountID]keys.KeyValue{"1": 5})
	_, _, _, err := keys.Reconcile(keys.KeyPortfolio, clusters, snap)
	assert.ErrorIs(t, err, keys.ErrCounterCorrupt)

	// Non-positive counter
	_, _, _, err = keys.Reconcile(keys.KeyPortfolio, clusters, snapshot(0, nil))
	assert.ErrorIs(t, err, keys.ErrCounterCorrupt)

	var cerr *keys.CounterError
	_, _, _, err = keys.Reconcile(keys.KeyPortfolio, clusters, snap)
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, keys.KeyPortfolio, cerr.KeyType)
}

// =============================================================================
// TOTALITY AND DETERMINISM
// =============================================================================

func TestReconcile_EveryMemberAssigned(t *testing.T) {
	clusters := []keys.Cluster{
		cluster("1", "2"),
		cluster("3", "4", "5"),
		cluster("6"),
	}
	snap := snapshot(10, map[keys.AccountID]keys.KeyValue{
		"1": 3, "3": 9, "4": 9, "6": 2,
	})

	assigned, _, _, err := keys.Reconcile(keys.KeyPortfolio, clusters, snap)
	require.NoError(t, err)

	for _, c := range clusters {
		first := assigned[c.Members[0]]
		for _, m := range c.Members {
			k, ok := assigned[m]
			require.True(t, ok, "member %s unassigned", m)
			assert.Equal(t, first, k, "cluster of %s not uniform", c.Representative)
			assert.Positive(t, int64(k))
		}
	}
}

func TestReconcile_DeterministicAcrossCalls(t *testing.T) {
	clusters := []keys.Cluster{
		cluster("1", "2"),
		cluster("3"),
		cluster("4", "5", "6"),
	}
	snap := snapshot(4, map[keys.AccountID]keys.KeyValue{
		"1": 1, "3": 2, "4": 3, "5": 3,
	})

	first, firstNext, firstStats, err := keys.Reconcile(keys.KeyPortfolio, clusters, snap)
	require.NoError(t, err)

	// Map iteration order must not leak into the outcome.
	for i := 0; i < 20; i++ {
		again, next, stats, err := keys.Reconcile(keys.KeyPortfolio, clusters, snap)
		require.NoError(t, err)
		assert.Equal(t, first, again)
		assert.Equal(t, firstNext, next)
		assert.Equal(t, firstStats, stats)
	}
}

func TestReconcile_EmptyPopulationRetiresEverything(t *testing.T) {
	// No clusters today: every historical key is retired, counter unmoved.
	snap := snapshot(4, map[keys.AccountID]keys.KeyValue{"1": 1, "2": 1, "3": 3})

	assigned, next, stats, err := keys.Reconcile(keys.KeyPortfolio, nil, snap)
	require.NoError(t, err)

	assert.Empty(t, assigned)
	assert.Equal(t, keys.KeyValue(4), next)
	assert.Equal(t, 2, stats.Retired)
}
