/*
export.go - Dated CSV snapshots

PURPOSE:
  Writes the reconciled mapping as r360_<type>_YYYYMMDD.csv with the
  enrichment columns downstream analysts expect. These files are for
  validation and trend eyeballing; the durable store remains the
  authoritative join source.
*/
package keys

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"
)

var csvHeader = []string{
	"account_id", "key_value", "owner_name", "product",
	"status", "major_type", "book_balance", "note_rate",
}

// ExportCSV writes one key type's snapshot into dir, named by run date.
// Rows are ordered by account id so consecutive days diff cleanly.
func ExportCSV(dir string, keyType KeyType, date time.Time, accounts []Account, assignments Assignments) (_ string, err error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, fmt.Sprintf("r360_%s_%s.csv", keyType, date.Format("20060102")))

	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()

	sorted := make([]Account, len(accounts))
	copy(sorted, accounts)
	sort.Slice(sorted, func(a, b int) bool { return lessAccountID(sorted[a].ID, sorted[b].ID) })

	w := csv.NewWriter(f)
	if err := w.Write(csvHeader); err != nil {
		return "", err
	}
	for _, a := range sorted {
		key, ok := assignments[a.ID]
		if !ok {
			return "", fmt.Errorf("account %s has no %s key", a.ID, keyType)
		}
		row := []string{
			string(a.ID),
			fmt.Sprintf("%d", key),
			a.OwnerName,
			a.Product,
			a.Status,
			a.MajorType,
			a.BookBalance.StringFixed(2),
			a.NoteRate.StringFixed(2),
		}
		if err := w.Write(row); err != nil {
			return "", err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", err
	}
	return path, nil
}
