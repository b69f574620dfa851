/*
reconcile.go - Key Reconciler

PURPOSE:
  Decides, for each of today's clusters, whether to reuse a historical
  key, mint a new one, or resolve a merge/split. This is where the
  cross-run stability of the keys is earned.

POLICY (in order):
  1. A cluster with no historical keys among its members mints from the
     counter.
  2. A cluster with historical keys claims the key most of its members
     held yesterday; tally ties break to the lowest key value.
  3. When several clusters claim the same historical key (a split), only
     the cluster with the most of that key's former members keeps it.
     Ties break to the smallest representative id, then the smallest
     member account id. Every losing cluster mints a brand-new key; it
     never falls back to a second-choice historical key. A cluster that
     is no longer the main successor of its old relationship gets a
     fresh identity on purpose.
  4. Losing historical keys are retired: assigned to nobody today, but
     never deleted from the audit history and never reissued.

  Minting iterates clusters in representative order so that key values
  are reproducible for a given (clusters, snapshot) pair.

PURITY:
  Reconcile is a pure function of (clusters, snapshot). The counter is
  part of the injected snapshot, not process state, which is what makes
  the merge/split policy unit-testable.

SEE ALSO:
  - cluster.go: produces the input partition
  - store.go:   Snapshot definition
*/
package keys

import "sort"

// Reconcile assigns a durable key to every account in every cluster.
// It returns the full assignment map, the advanced counter, and event
// statistics. The snapshot is validated first: a non-positive counter,
// or one not strictly greater than every persisted key, aborts with
// ErrCounterCorrupt before anything is decided.
func Reconcile(keyType KeyType, clusters []Cluster, snap Snapshot) (Assignments, KeyValue, ReconcileStats, error) {
	if err := snap.Validate(keyType); err != nil {
		return nil, 0, ReconcileStats{}, err
	}

	stats := ReconcileStats{Clusters: len(clusters)}

	// Step 1: tally, per cluster, how many members held each historical
	// key, and pick each cluster's candidate (highest tally, then lowest
	// key value).
	candidate := make([]KeyValue, len(clusters)) // 0 = no historical key
	claims := make(map[KeyValue][]claim)
	for ci, c := range clusters {
		tallies := make(map[KeyValue]int)
		for _, m := range c.Members {
			if k, ok := snap.Keys[m]; ok {
				tallies[k]++
			}
		}
		if len(tallies) == 0 {
			continue
		}
		if len(tallies) > 1 {
			stats.Merges++
		}
		best := KeyValue(0)
		bestTally := -1
		for k, t := range tallies {
			if t > bestTally || (t == bestTally && k < best) {
				best, bestTally = k, t
			}
		}
		candidate[ci] = best
		claims[best] = append(claims[best], claim{cluster: ci, tally: bestTally})
	}

	// Step 2: resolve contested keys. The cluster with the largest
	// former-member count wins; ties break to the smallest
	// representative id, then the smallest member id (a total order, so
	// resolution always terminates).
	assigned := make(Assignments)
	var needMint []int
	for ci := range clusters {
		if candidate[ci] != 0 {
			continue
		}
		needMint = append(needMint, ci)
	}
	for k, cs := range claims {
		winner := cs[0]
		for _, c := range cs[1:] {
			if beats(c, winner, clusters) {
				winner = c
			}
		}
		if len(cs) > 1 {
			stats.Splits++
			stats.NewSplits += len(cs) - 1
		}
		for _, c := range cs {
			if c.cluster == winner.cluster {
				continue
			}
			needMint = append(needMint, c.cluster)
		}
		for _, m := range clusters[winner.cluster].Members {
			assigned[m] = k
		}
		stats.Reused++
	}

	// Step 3: mint for new clusters and split losers, in representative
	// order for determinism.
	sort.Slice(needMint, func(a, b int) bool {
		return lessAccountID(clusters[needMint[a]].Representative, clusters[needMint[b]].Representative)
	})
	next := snap.NextKey
	for _, ci := range needMint {
		for _, m := range clusters[ci].Members {
			assigned[m] = next
		}
		next++
		stats.Minted++
	}

	// Historical keys that no cluster carries forward are retired.
	active := make(map[KeyValue]bool, len(claims))
	for _, k := range assigned {
		active[k] = true
	}
	seen := make(map[KeyValue]bool)
	for _, k := range snap.Keys {
		if !seen[k] {
			seen[k] = true
			if !active[k] {
				stats.Retired++
			}
		}
	}

	return assigned, next, stats, nil
}

// claim is one cluster's bid on a historical key.
type claim struct {
	cluster int
	tally   int // members of the cluster that held the key yesterday
}

// beats reports whether claim a is a better successor than claim b:
// more former members, then smaller representative, then smaller
// smallest-member id (representatives are unique per run, so the final
// criterion only matters as a guarantee of totality).
func beats(a, b claim, clusters []Cluster) bool {
	if a.tally != b.tally {
		return a.tally > b.tally
	}
	ra, rb := clusters[a.cluster].Representative, clusters[b.cluster].Representative
	if ra != rb {
		return lessAccountID(ra, rb)
	}
	return lessAccountID(clusters[a.cluster].Members[0], clusters[b.cluster].Members[0])
}
