/*
cluster.go - Union-Find Clustering Engine

PURPOSE:
  Computes connected components over the day's account population for
  one of three edge policies. Accounts sharing an address fingerprint
  are unioned; accounts sharing any single owning entity are unioned;
  the portfolio policy feeds BOTH edge generations into the same forest,
  so one bridging account can merge an address household with an
  ownership group.

DETERMINISM:
  The component partition depends only on the edges. Representatives are
  the smallest member account id (numeric-aware), so downstream
  tie-breaks are reproducible for a given input regardless of ordering.

EXCLUSIONS:
  Certain fingerprints connect accounts that are not really related: a
  law firm's IOLTA program address, or a shared trustee entity. Those
  come in as exclusion sets and generate no edges. The empty address
  sentinel is always excluded.

SEE ALSO:
  - unionfind.go: the forest itself
  - reconcile.go: consumes the clusters
*/
package keys

import "sort"

// EdgePolicy selects which attribute relations generate edges.
type EdgePolicy int

const (
	EdgeAddressOnly EdgePolicy = iota
	EdgeOwnershipOnly
	EdgeAddressOrOwnership
)

// Exclusions are attribute values that must not generate edges.
type Exclusions struct {
	// AddressFingerprints that connect unrelated accounts (shared
	// facility addresses and the like).
	AddressFingerprints map[string]bool

	// OwnerEntities excluded from ownership grouping (e.g. umbrella
	// program entities attached to thousands of accounts).
	OwnerEntities map[string]bool
}

// ClusterAccounts partitions accounts into connected components under
// the given edge policy. Every input account lands in exactly one
// cluster; the returned slice is sorted by representative id.
func ClusterAccounts(accounts []Account, policy EdgePolicy, excl Exclusions) []Cluster {
	n := len(accounts)
	uf := newUnionFind(n)

	if policy == EdgeAddressOnly || policy == EdgeAddressOrOwnership {
		addEdges(uf, accounts, func(a Account) []string {
			fp := a.AddressFingerprint
			if fp == "" || excl.AddressFingerprints[fp] {
				return nil
			}
			return []string{fp}
		})
	}
	if policy == EdgeOwnershipOnly || policy == EdgeAddressOrOwnership {
		addEdges(uf, accounts, func(a Account) []string {
			if len(a.OwnerEntities) == 0 {
				return nil
			}
			if excl.OwnerEntities == nil {
				return a.OwnerEntities
			}
			kept := a.OwnerEntities[:0:0]
			for _, e := range a.OwnerEntities {
				if !excl.OwnerEntities[e] {
					kept = append(kept, e)
				}
			}
			return kept
		})
	}

	// Collect components. Roots are transient; members sort to make the
	// smallest id the representative.
	byRoot := make(map[int][]int, n)
	for i := 0; i < n; i++ {
		root := uf.find(i)
		byRoot[root] = append(byRoot[root], i)
	}

	clusters := make([]Cluster, 0, len(byRoot))
	for _, idxs := range byRoot {
		members := make([]AccountID, len(idxs))
		for j, i := range idxs {
			members[j] = accounts[i].ID
		}
		sort.Slice(members, func(a, b int) bool { return lessAccountID(members[a], members[b]) })
		clusters = append(clusters, Cluster{Representative: members[0], Members: members})
	}
	sort.Slice(clusters, func(a, b int) bool {
		return lessAccountID(clusters[a].Representative, clusters[b].Representative)
	})
	return clusters
}

// addEdges unions every pair of accounts sharing an attribute value.
// An inverted value -> first-seen-index map makes this linear: each
// later holder unions with the first, and chaining through union-find
// closes the transitive hull (A~B via owner 1, B~C via owner 2 puts A
// and C together even though they share nothing directly).
func addEdges(uf *unionFind, accounts []Account, valuesOf func(Account) []string) {
	firstSeen := make(map[string]int)
	for i, a := range accounts {
		for _, v := range valuesOf(a) {
			if j, ok := firstSeen[v]; ok {
				uf.union(i, j)
			} else {
				firstSeen[v] = i
			}
		}
	}
}

// lessAccountID orders account ids numerically when both are numeric
// (shorter digit strings first), lexically otherwise. Canonical ids are
// zero-stripped, so digit-length comparison is a valid numeric order.
func lessAccountID(a, b AccountID) bool {
	an, bn := isDigits(string(a)), isDigits(string(b))
	if an && bn {
		if len(a) != len(b) {
			return len(a) < len(b)
		}
		return a < b
	}
	if an != bn {
		return an // numeric ids sort before alphanumeric ones
	}
	return a < b
}
