/*
unionfind.go - Disjoint-set forest

PURPOSE:
  The clustering workhorse: an arena of parent/size slices indexed by a
  dense integer mapping of account ids. Union by size plus path
  compression gives amortized near-linear time over the full daily
  account population (up to low millions of accounts).

  Deliberately NOT a graph of pointer-linked nodes: two flat slices
  keep allocation flat and sidestep cyclic references entirely.
*/
package keys

// unionFind is a disjoint-set forest over n dense indexes.
type unionFind struct {
	parent []int
	size   []int
}

func newUnionFind(n int) *unionFind {
	uf := &unionFind{
		parent: make([]int, n),
		size:   make([]int, n),
	}
	for i := range uf.parent {
		uf.parent[i] = i
		uf.size[i] = 1
	}
	return uf
}

// find returns the root of x, halving the path as it walks.
func (uf *unionFind) find(x int) int {
	for x != uf.parent[x] {
		uf.parent[x] = uf.parent[uf.parent[x]] // path compression
		x = uf.parent[x]
	}
	return x
}

// union merges the sets containing a and b. The larger set keeps root
// status. Returns false when a and b were already joined.
func (uf *unionFind) union(a, b int) bool {
	ra, rb := uf.find(a), uf.find(b)
	if ra == rb {
		return false
	}
	if uf.size[ra] < uf.size[rb] {
		ra, rb = rb, ra
	}
	uf.parent[rb] = ra
	uf.size[ra] += uf.size[rb]
	return true
}
