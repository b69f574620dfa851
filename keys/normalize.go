/*
normalize.go - Attribute Normalizer

PURPOSE:
  Turns raw extract records into Accounts with canonical identifiers and
  comparison fingerprints. Pure functions, no state, no side effects.

WHY CANONICAL IDS MATTER:
  Account numbers arrive from the warehouse in inconsistent shapes:
  padded with whitespace, left-padded with zeros, or mangled into float
  text ("12345.0") by spreadsheet round-trips. The exact same
  canonicalization must be applied before every persistence lookup or
  every account would look brand new on every run and all continuity
  would be lost.

FINGERPRINTS:
  Addresses hash with BLAKE2b (8-byte digest, URL-safe base64), the same
  construction downstream systems already store. A missing required
  component yields the empty sentinel, which never clusters: two
  accounts without an address are NOT co-located.

SEE ALSO:
  - cluster.go: consumes the fingerprints
  - factory/config.go: ownership role codes and exclusion lists
*/
package keys

import (
	"encoding/base64"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// DefaultOwnershipRoles are the role codes that establish ownership for
// clustering purposes. Signer-only and notification roles are excluded.
var DefaultOwnershipRoles = []string{"OWN", "GUAR", "LNCO", "Tax Owner"}

// Normalizer converts raw extract records into Accounts.
type Normalizer struct {
	// OwnershipRoles is the set of ownership-relevant role codes.
	// Nil means DefaultOwnershipRoles.
	OwnershipRoles []string

	roleSet map[string]bool
}

// NewNormalizer builds a Normalizer for the given role codes.
func NewNormalizer(roles []string) *Normalizer {
	if len(roles) == 0 {
		roles = DefaultOwnershipRoles
	}
	set := make(map[string]bool, len(roles))
	for _, r := range roles {
		set[strings.ToUpper(strings.TrimSpace(r))] = true
	}
	return &Normalizer{OwnershipRoles: roles, roleSet: set}
}

// =============================================================================
// ACCOUNT ID CANONICALIZATION
// =============================================================================

// NormalizeAccountID coerces a raw account number into its canonical
// form: trimmed, float-export artifacts removed, leading zeros stripped
// for numeric ids. Returns "" when nothing identifiable remains.
func NormalizeAccountID(raw string) AccountID {
	s := strings.TrimSpace(raw)
	// Spreadsheet float round-trip: "12345.0" means 12345.
	if i := strings.IndexByte(s, '.'); i >= 0 && allZeros(s[i+1:]) && isDigits(s[:i]) {
		s = s[:i]
	}
	if isDigits(s) {
		s = strings.TrimLeft(s, "0")
		if s == "" {
			// "000" is account 0; keep a single digit rather than losing it.
			s = "0"
		}
	}
	return AccountID(s)
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

func allZeros(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] != '0' {
			return false
		}
	}
	return true
}

// =============================================================================
// FINGERPRINTS
// =============================================================================

// Fingerprint hashes a normalized attribute string: BLAKE2b with an
// 8-byte digest, URL-safe base64 with padding. Matches the hashes
// already persisted by earlier generations of this pipeline.
func Fingerprint(s string) string {
	h, _ := blake2b.New(8, nil)
	h.Write([]byte(s))
	return base64.URLEncoding.EncodeToString(h.Sum(nil))
}

// AddressFingerprint derives the address comparison key, or the empty
// sentinel when any required component is missing.
func AddressFingerprint(street, city, state, zip string) string {
	parts := [4]string{
		normalizeField(street),
		normalizeField(city),
		normalizeField(state),
		normalizeField(zip),
	}
	for _, p := range parts {
		if p == "" {
			return ""
		}
	}
	return Fingerprint(strings.Join(parts[:], ", "))
}

// normalizeField upper-cases and collapses internal whitespace so that
// "1  Main St" and "1 MAIN ST " compare equal.
func normalizeField(s string) string {
	return strings.ToUpper(strings.Join(strings.Fields(s), " "))
}

// =============================================================================
// NORMALIZATION
// =============================================================================

// Normalize converts one raw record. Returns ErrMissingAccountID when
// the identifier normalizes to empty.
func (n *Normalizer) Normalize(raw RawAccount) (Account, error) {
	id := NormalizeAccountID(raw.AccountID)
	if id == "" {
		return Account{}, ErrMissingAccountID
	}

	acct := Account{
		ID:                 id,
		AddressFingerprint: AddressFingerprint(raw.Street, raw.City, raw.State, raw.Zip),
		OwnerEntities:      n.ownerEntities(raw.Owners),
		OwnerName:          strings.TrimSpace(raw.OwnerName),
		Product:            strings.TrimSpace(raw.Product),
		Status:             strings.TrimSpace(raw.Status),
		MajorType:          strings.TrimSpace(raw.MajorType),
		BookBalance:        raw.BookBalance,
		NoteRate:           raw.NoteRate,
	}
	return acct, nil
}

// ownerEntities builds the deduplicated owning-entity set. Person and
// organization numbers share one namespace via the P/O prefix.
func (n *Normalizer) ownerEntities(owners []RawOwner) []string {
	if len(owners) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(owners))
	var out []string
	for _, o := range owners {
		if !n.roleSet[strings.ToUpper(strings.TrimSpace(o.RoleCode))] {
			continue
		}
		var entity string
		switch {
		case strings.TrimSpace(o.OrgNumber) != "":
			entity = "O" + string(NormalizeAccountID(o.OrgNumber))
		case strings.TrimSpace(o.PersonNumber) != "":
			entity = "P" + string(NormalizeAccountID(o.PersonNumber))
		default:
			continue
		}
		if !seen[entity] {
			seen[entity] = true
			out = append(out, entity)
		}
	}
	return out
}

// NormalizeAll converts a full extract, dropping and counting malformed
// records. Later duplicates of the same canonical id win: the extract
// is ordered and the warehouse emits the freshest row last.
func (n *Normalizer) NormalizeAll(raws []RawAccount) (accounts []Account, dropped int) {
	index := make(map[AccountID]int, len(raws))
	for _, raw := range raws {
		acct, err := n.Normalize(raw)
		if err != nil {
			dropped++
			continue
		}
		if i, ok := index[acct.ID]; ok {
			accounts[i] = acct
			continue
		}
		index[acct.ID] = len(accounts)
		accounts = append(accounts, acct)
	}
	return accounts, dropped
}
