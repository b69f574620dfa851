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

// addrAcct builds an account with only an address fingerprint.
func addrAcct(id, addr string) keys.Account {
	return keys.Account{
		ID:                 keys.AccountID(id),
		AddressFingerprint: fpOf(addr),
	}
}

// ownedAcct builds an account with only owning entities.
func ownedAcct(id string, owners ...string) keys.Account {
	return keys.Account{ID: keys.AccountID(id), OwnerEntities: owners}
}

// fpOf treats the empty string as the no-address sentinel and hashes
// anything else, so tests can write literal "addresses".
func fpOf(addr string) string {
	if addr == "" {
		return ""
	}
	return keys.Fingerprint(addr)
}

// memberSets flattens clusters for easy comparison.
func memberSets(clusters []keys.Cluster) [][]keys.AccountID {
	out := make([][]keys.AccountID, len(clusters))
	for i, c := range clusters {
		out[i] = c.Members
	}
	return out
}

// =============================================================================
// EDGE POLICIES
// =============================================================================

func TestCluster_AddressOnly(t *testing.T) {
	// GIVEN: Two accounts at one address, a third at another
	accounts := []keys.Account{
		addrAcct("1", "A"),
		addrAcct("2", "A"),
		addrAcct("3", "B"),
	}

	// WHEN: Clustering by address
	clusters := keys.ClusterAccounts(accounts, keys.EdgeAddressOnly, keys.Exclusions{})

	// THEN: Two clusters, ordered by representative
	require.Len(t, clusters, 2)
	assert.Equal(t, [][]keys.AccountID{{"1", "2"}, {"3"}}, memberSets(clusters))
}

func TestCluster_OwnershipTransitive(t *testing.T) {
	// GIVEN: A~B share owner P1, B~C share owner P2, A and C share nothing
	accounts := []keys.Account{
		ownedAcct("1", "P1"),
		ownedAcct("2", "P1", "P2"),
		ownedAcct("3", "P2"),
	}

	// WHEN: Clustering by ownership
	clusters := keys.ClusterAccounts(accounts, keys.EdgeOwnershipOnly, keys.Exclusions{})

	// THEN: The transitive hull joins all three
	require.Len(t, clusters, 1)
	assert.Equal(t, []keys.AccountID{"1", "2", "3"}, clusters[0].Members)
}

func TestCluster_PortfolioBridgesAddressAndOwnership(t *testing.T) {
	// GIVEN: 1 and 2 share an address; 2 and 3 share an owner
	accounts := []keys.Account{
		addrAcct("1", "A"),
		{ID: "2", AddressFingerprint: fpOf("A"), OwnerEntities: []string{"P9"}},
		ownedAcct("3", "P9"),
	}

	// WHEN: Clustering under each policy
	portfolio := keys.ClusterAccounts(accounts, keys.EdgeAddressOrOwnership, keys.Exclusions{})
	address := keys.ClusterAccounts(accounts, keys.EdgeAddressOnly, keys.Exclusions{})
	ownership := keys.ClusterAccounts(accounts, keys.EdgeOwnershipOnly, keys.Exclusions{})

	// THEN: Portfolio merges all three via the bridging account;
	// the single-attribute policies keep them apart
	require.Len(t, portfolio, 1)
	assert.Equal(t, []keys.AccountID{"1", "2", "3"}, portfolio[0].Members)
	assert.Len(t, address, 2)
	assert.Len(t, ownership, 2)
}

// =============================================================================
// SENTINELS AND EXCLUSIONS
// =============================================================================

func TestCluster_EmptyAddressNeverClusters(t *testing.T) {
	// Two accounts without an address are NOT co-located.
	accounts := []keys.Account{
		addrAcct("1", ""),
		addrAcct("2", ""),
	}

	clusters := keys.ClusterAccounts(accounts, keys.EdgeAddressOnly, keys.Exclusions{})

	assert.Len(t, clusters, 2)
}

func TestCluster_ExcludedAddressGeneratesNoEdges(t *testing.T) {
	// GIVEN: A facility address shared by unrelated accounts
	facility := fpOf("PO BOX 1, FACILITY")
	accounts := []keys.Account{
		addrAcct("1", "PO BOX 1, FACILITY"),
		addrAcct("2", "PO BOX 1, FACILITY"),
		addrAcct("3", "B"),
		addrAcct("4", "B"),
	}
	excl := keys.Exclusions{AddressFingerprints: map[string]bool{facility: true}}

	// WHEN: Clustering with the exclusion in force
	clusters := keys.ClusterAccounts(accounts, keys.EdgeAddressOnly, excl)

	// THEN: The facility accounts stay singletons; the real household merges
	require.Len(t, clusters, 3)
	assert.Equal(t, [][]keys.AccountID{{"1"}, {"2"}, {"3", "4"}}, memberSets(clusters))
}

func TestCluster_ExcludedOwnerEntity(t *testing.T) {
	// An umbrella program entity attached to everything must not merge.
	accounts := []keys.Account{
		ownedAcct("1", "O999", "P1"),
		ownedAcct("2", "O999", "P1"),
		ownedAcct("3", "O999"),
	}
	excl := keys.Exclusions{OwnerEntities: map[string]bool{"O999": true}}

	clusters := keys.ClusterAccounts(accounts, keys.EdgeOwnershipOnly, excl)

	// 1 and 2 still merge via P1; 3 had only the excluded entity
	require.Len(t, clusters, 2)
	assert.Equal(t, [][]keys.AccountID{{"1", "2"}, {"3"}}, memberSets(clusters))
}

// =============================================================================
// DETERMINISM
// =============================================================================

func TestCluster_RepresentativeIsSmallestNumericAware(t *testing.T) {
	// GIVEN: Members whose lexical and numeric orders differ
	accounts := []keys.Account{
		addrAcct("100", "A"),
		addrAcct("20", "A"),
		addrAcct("3", "A"),
	}

	clusters := keys.ClusterAccounts(accounts, keys.EdgeAddressOnly, keys.Exclusions{})

	// THEN: Numeric order decides: 3 < 20 < 100
	require.Len(t, clusters, 1)
	assert.Equal(t, keys.AccountID("3"), clusters[0].Representative)
	assert.Equal(t, []keys.AccountID{"3", "20", "100"}, clusters[0].Members)
}

func TestCluster_InputOrderIrrelevant(t *testing.T) {
	// GIVEN: The same population in two different input orders
	forward := []keys.Account{
		addrAcct("1", "A"),
		addrAcct("2", "A"),
		ownedAcct("3", "P7"),
		ownedAcct("4", "P7"),
	}
	reversed := []keys.Account{forward[3], forward[1], forward[2], forward[0]}

	// WHEN: Clustering both
	a := keys.ClusterAccounts(forward, keys.EdgeAddressOrOwnership, keys.Exclusions{})
	b := keys.ClusterAccounts(reversed, keys.EdgeAddressOrOwnership, keys.Exclusions{})

	// THEN: Identical partitions, identical ordering
	assert.Equal(t, a, b)
}

func TestCluster_EveryAccountInExactlyOneCluster(t *testing.T) {
	accounts := []keys.Account{
		addrAcct("1", "A"),
		addrAcct("2", "A"),
		addrAcct("3", ""),
		ownedAcct("4", "P1"),
	}

	clusters := keys.ClusterAccounts(accounts, keys.EdgeAddressOrOwnership, keys.Exclusions{})

	seen := map[keys.AccountID]int{}
	for _, c := range clusters {
		for _, m := range c.Members {
			seen[m]++
		}
	}
	assert.Len(t, seen, len(accounts))
	for id, count := range seen {
		assert.Equal(t, 1, count, "account %s appears %d times", id, count)
	}
}

func TestCluster_EmptyPopulation(t *testing.T) {
	clusters := keys.ClusterAccounts(nil, keys.EdgeAddressOrOwnership, keys.Exclusions{})
	assert.Empty(t, clusters)
}
