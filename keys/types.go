/*
Package keys computes durable customer relationship keys.

PURPOSE:
  This package contains the core engine that clusters a bank's active
  account population by shared attributes and assigns each cluster a
  durable integer key that survives daily re-runs. Three key types are
  produced from the same snapshot:

    - portfolio: accounts related by shared address OR shared ownership
    - address:   accounts at the same physical address (households)
    - ownership: accounts with overlapping legal/beneficial owners

KEY CONCEPTS IN THIS FILE (types.go):
  - RawAccount: the boundary shape delivered by the warehouse extract
  - Account: a normalized record with comparison fingerprints
  - Cluster: a connected component, valid for one run only
  - Assignments: the reconciled account -> key mapping for one key type
  - RunReport: per-key-type outcome of a daily run

DESIGN PRINCIPLES:
  1. Determinism: representatives and tie-breaks depend only on input
     content, never on map iteration order
  2. Continuity: an unchanged cluster keeps its key across runs
  3. Monotonicity: key values are minted from a counter and never reused
  4. Isolation: each key type reconciles and fails independently

SEE ALSO:
  - normalize.go:  RawAccount -> Account
  - cluster.go:    Account population -> clusters
  - reconcile.go:  clusters + history -> durable keys
  - store.go:      persistence contracts
*/
package keys

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// KEY TYPES
// =============================================================================

// KeyType identifies one of the three durable key families.
type KeyType string

const (
	KeyPortfolio KeyType = "portfolio"
	KeyAddress   KeyType = "address"
	KeyOwnership KeyType = "ownership"
)

// AllKeyTypes lists the key families in their canonical processing order.
var AllKeyTypes = []KeyType{KeyPortfolio, KeyAddress, KeyOwnership}

// Valid reports whether kt is a known key type.
func (kt KeyType) Valid() bool {
	switch kt {
	case KeyPortfolio, KeyAddress, KeyOwnership:
		return true
	}
	return false
}

// EdgePolicy returns the clustering edge policy for this key type.
func (kt KeyType) EdgePolicy() EdgePolicy {
	switch kt {
	case KeyAddress:
		return EdgeAddressOnly
	case KeyOwnership:
		return EdgeOwnershipOnly
	default:
		return EdgeAddressOrOwnership
	}
}

// =============================================================================
// IDENTIFIERS
// =============================================================================

// AccountID is a canonicalized account number. Always produced by
// NormalizeAccountID; raw extract values must never be used directly as
// AccountIDs or persistence lookups will silently miss.
type AccountID string

// KeyValue is a durable relationship key. Positive, minted from a
// monotone counter, never reused once issued.
type KeyValue int64

// =============================================================================
// RAW INPUT - boundary shape of the warehouse extract
// =============================================================================

// RawOwner is one role row linking an owning entity to an account.
// Exactly one of PersonNumber / OrgNumber is set.
type RawOwner struct {
	PersonNumber string `json:"person_number,omitempty"`
	OrgNumber    string `json:"org_number,omitempty"`
	RoleCode     string `json:"role_code"`
}

// RawAccount is one extracted account record as of the run date.
// The extraction itself (warehouse SQL) is an external collaborator;
// the engine only requires this shape.
type RawAccount struct {
	AccountID string `json:"account_id"`

	// Primary-owner mailing address components.
	Street string `json:"street,omitempty"`
	City   string `json:"city,omitempty"`
	State  string `json:"state,omitempty"`
	Zip    string `json:"zip,omitempty"`

	// Every role row attached to the account. The normalizer keeps only
	// ownership-relevant roles.
	Owners []RawOwner `json:"owners,omitempty"`

	// Enrichment fields carried through to snapshots and the join table.
	OwnerName   string          `json:"owner_name,omitempty"`
	Product     string          `json:"product,omitempty"`
	Status      string          `json:"status,omitempty"`
	MajorType   string          `json:"major_type,omitempty"`
	BookBalance decimal.Decimal `json:"book_balance,omitempty"`
	NoteRate    decimal.Decimal `json:"note_rate,omitempty"`
}

// =============================================================================
// NORMALIZED ACCOUNT - immutable for the duration of one run
// =============================================================================

// Account is a normalized account record with derived comparison keys.
type Account struct {
	ID AccountID

	// AddressFingerprint is a hash of the normalized address, or empty
	// ("no address" sentinel) when any required component is missing.
	// The sentinel never participates in clustering.
	AddressFingerprint string

	// OwnerEntities holds the P<persnbr>/O<orgnbr> identifiers attached
	// via an ownership-relevant role. Empty means no ownership edges.
	OwnerEntities []string

	OwnerName   string
	Product     string
	Status      string
	MajorType   string
	BookBalance decimal.Decimal
	NoteRate    decimal.Decimal
}

// =============================================================================
// CLUSTERS - transient, one run only
// =============================================================================

// Cluster is a connected component for one key type. Representative is
// the smallest member AccountID (numeric-aware) and carries no meaning
// across runs; it exists for deterministic tie-breaks and must never be
// persisted.
type Cluster struct {
	Representative AccountID
	Members        []AccountID
}

// =============================================================================
// ASSIGNMENTS AND RUN RESULTS
// =============================================================================

// Assignments is the reconciled account -> key mapping for one key type.
type Assignments map[AccountID]KeyValue

// ReconcileStats summarizes what the reconciler decided.
type ReconcileStats struct {
	Clusters  int `json:"clusters"`
	Reused    int `json:"reused"`         // clusters that kept a historical key
	Minted    int `json:"minted"`         // brand-new keys issued
	Merges    int `json:"merges"`         // clusters holding 2+ historical keys
	Splits    int `json:"splits"`         // historical keys claimed by 2+ clusters
	Retired   int `json:"retired"`        // historical keys no longer assigned
	NewSplits int `json:"new_split_keys"` // mints forced by lost split tie-breaks
}

// RunResult is the outcome for one key type within a run.
type RunResult struct {
	KeyType     KeyType        `json:"key_type"`
	Assignments Assignments    `json:"-"`
	NextKey     KeyValue       `json:"next_key"`
	Stats       ReconcileStats `json:"stats"`
	Published   bool           `json:"published"`
}

// RunReport is the outcome of a full engine run across key types.
type RunReport struct {
	RunID     string                 `json:"run_id"`
	StartedAt time.Time              `json:"started_at"`
	Accounts  int                    `json:"accounts"`
	Dropped   int                    `json:"dropped"` // malformed records excluded
	Results   map[KeyType]*RunResult `json:"results"`
	Failures  map[KeyType]string     `json:"failures,omitempty"`
}

// Failed reports whether any enabled key type failed.
func (r *RunReport) Failed() bool { return len(r.Failures) > 0 }
