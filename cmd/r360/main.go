/*
main.go - Daily batch runner

PURPOSE:
  Executes one full key run from a warehouse extract file: normalize,
  cluster, reconcile against the durable store, publish, and write the
  dated CSV snapshots. This is the scheduled entry point; the service
  in cmd/server is the interactive one.

COMMAND-LINE FLAGS:
  -db       SQLite database path (default: r360.db)
  -input    Extract file, one JSON account per line (required)
  -config   Engine configuration JSON (default: built-in defaults)
  -out      Directory for dated CSV snapshots (default: ./out)
  -dry-run  Reconcile and export CSVs but never write the database

EXIT CODES:
  0  all enabled key types published
  1  startup failure or any key type failed

INPUT FORMAT (JSON Lines):
  {"account_id":"1001","street":"123 Main St","city":"Springfield",
   "state":"IL","zip":"62704","owners":[{"person_number":"501",
   "role_code":"OWN"}],"owner_name":"DOE, JANE","book_balance":"1500.00"}

EXAMPLES:
  # Nightly production run
  ./r360 -db=./data/r360.db -input=./extract/accounts.jsonl -out=./out

  # Validate a reconciliation without touching the database
  ./r360 -db=./data/r360.db -input=./extract/accounts.jsonl -dry-run

SEE ALSO:
  - keys/engine.go: Run orchestration
  - keys/export.go: CSV snapshot format
  - cmd/server/main.go: HTTP service
*/
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/r360/key-engine/factory"
	"github.com/r360/key-engine/keys"
	"github.com/r360/key-engine/store/sqlite"
)

func main() {
	dbPath := flag.String("db", "r360.db", "SQLite database path")
	input := flag.String("input", "", "extract file, one JSON account per line")
	configPath := flag.String("config", "", "engine configuration JSON (optional)")
	outDir := flag.String("out", "./out", "directory for dated CSV snapshots")
	dryRun := flag.Bool("dry-run", false, "reconcile and export but never write the database")
	flag.Parse()

	if *input == "" {
		log.Fatal("-input is required")
	}

	cfg, err := factory.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if *dryRun {
		// Disable writes everywhere; the store-level ReadOnly guard
		// below backstops this in case of future config drift.
		for kt, c := range cfg.KeyTypes {
			c.WriteEnabled = false
			cfg.KeyTypes[kt] = c
		}
	}

	raws, err := readExtract(*input)
	if err != nil {
		log.Fatalf("Failed to read extract: %v", err)
	}
	log.Printf("Loaded %d account records from %s", len(raws), *input)

	store, err := sqlite.New(*dbPath, sqlite.Options{
		History:  factory.HistoryOptions(cfg),
		ReadOnly: *dryRun,
	})
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer store.Close()

	engine := keys.NewEngine(store, cfg)

	runID := uuid.NewString()
	runDate := time.Now()
	log.Printf("Starting run %s (dry-run=%v)", runID, *dryRun)

	report, err := engine.Run(context.Background(), raws, runID)
	if err != nil {
		log.Fatalf("Run failed: %v", err)
	}

	// CSV snapshots need the enrichment fields, which live on the
	// normalized accounts rather than in the report.
	norm := keys.NewNormalizer(cfg.OwnershipRoles)
	accounts, _ := norm.NormalizeAll(raws)

	for _, kt := range keys.AllKeyTypes {
		res, ok := report.Results[kt]
		if !ok {
			continue
		}
		path, err := keys.ExportCSV(*outDir, kt, runDate, accounts, res.Assignments)
		if err != nil {
			log.Fatalf("Failed to export %s snapshot: %v", kt, err)
		}
		log.Printf("Wrote %s", path)
	}

	for kt, msg := range report.Failures {
		log.Printf("ERROR %s: %s", kt, msg)
	}
	if report.Failed() {
		os.Exit(1)
	}
	log.Printf("Run %s complete: %d accounts, %d dropped", runID, report.Accounts, report.Dropped)
}

// readExtract parses a JSON Lines extract file. Blank lines are
// skipped; a malformed line aborts with its line number so the
// warehouse export can be fixed at the source.
func readExtract(path string) ([]keys.RawAccount, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var raws []keys.RawAccount
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 1024*1024), 16*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := scanner.Bytes()
		if len(text) == 0 {
			continue
		}
		var raw keys.RawAccount
		if err := json.Unmarshal(text, &raw); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		raws = append(raws, raw)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return raws, nil
}
