/*
Package factory provides JSON to Go run-configuration conversion.

PURPOSE:
  Converts a JSON run configuration into keys.Config. This keeps
  business knobs (which key types run, history retention, exclusion
  lists, ownership role codes) out of code, so operations can adjust a
  deployment without a rebuild.

JSON SCHEMA:
  {
    "key_types": {
      "portfolio": {"enabled": true,  "history": "append",    "write_enabled": true},
      "address":   {"enabled": false, "history": "overwrite", "write_enabled": true},
      "ownership": {"enabled": false, "history": "overwrite", "write_enabled": true}
    },
    "ownership_roles": ["OWN", "GUAR", "LNCO", "Tax Owner"],
    "excluded_address_fingerprints": ["-grcQPptQrw="],
    "excluded_owner_entities": ["O500", "O501"]
  }

KEY FEATURES:
  - Validates key type names and history modes
  - Missing key types default to disabled
  - Missing role list falls back to keys.DefaultOwnershipRoles
  - "write_enabled": false turns a key type into a dry run

USAGE:
  cfg, err := factory.ParseConfig(jsonBytes)
  engine := keys.NewEngine(store, cfg)

SEE ALSO:
  - keys/store.go: Config and KeyTypeConfig definitions
*/
package factory

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/r360/key-engine/keys"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// ConfigJSON is the JSON representation of a run configuration.
type ConfigJSON struct {
	KeyTypes                    map[string]KeyTypeJSON `json:"key_types"`
	OwnershipRoles              []string               `json:"ownership_roles,omitempty"`
	ExcludedAddressFingerprints []string               `json:"excluded_address_fingerprints,omitempty"`
	ExcludedOwnerEntities       []string               `json:"excluded_owner_entities,omitempty"`
}

// KeyTypeJSON configures one key family.
type KeyTypeJSON struct {
	Enabled      bool   `json:"enabled"`
	History      string `json:"history,omitempty"` // "overwrite" (default) or "append"
	WriteEnabled *bool  `json:"write_enabled,omitempty"`
}

// =============================================================================
// PARSING
// =============================================================================

// ParseConfig converts JSON into a validated keys.Config.
func ParseConfig(data []byte) (keys.Config, error) {
	var cj ConfigJSON
	if err := json.Unmarshal(data, &cj); err != nil {
		return keys.Config{}, fmt.Errorf("invalid config JSON: %w", err)
	}

	cfg := keys.Config{
		KeyTypes:       make(map[keys.KeyType]keys.KeyTypeConfig, len(cj.KeyTypes)),
		OwnershipRoles: cj.OwnershipRoles,
		Exclusions:     buildExclusions(cj),
	}

	for name, ktj := range cj.KeyTypes {
		kt := keys.KeyType(name)
		if !kt.Valid() {
			return keys.Config{}, fmt.Errorf("%w: %q", keys.ErrUnknownKeyType, name)
		}
		history := keys.HistoryMode(ktj.History)
		switch history {
		case "":
			history = keys.HistoryOverwrite
		case keys.HistoryOverwrite, keys.HistoryAppend:
		default:
			return keys.Config{}, fmt.Errorf("key type %q: unknown history mode %q", name, ktj.History)
		}
		write := true
		if ktj.WriteEnabled != nil {
			write = *ktj.WriteEnabled
		}
		cfg.KeyTypes[kt] = keys.KeyTypeConfig{
			Enabled:      ktj.Enabled,
			History:      history,
			WriteEnabled: write,
		}
	}

	// Key types absent from the file are present but disabled, so the
	// engine's report makes the omission visible rather than silent.
	for _, kt := range keys.AllKeyTypes {
		if _, ok := cfg.KeyTypes[kt]; !ok {
			cfg.KeyTypes[kt] = keys.KeyTypeConfig{History: keys.HistoryOverwrite, WriteEnabled: true}
		}
	}

	return cfg, nil
}

// LoadConfig reads and parses a config file. An empty path returns the
// default configuration.
func LoadConfig(path string) (keys.Config, error) {
	if path == "" {
		return keys.DefaultConfig(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return keys.Config{}, fmt.Errorf("failed to read config: %w", err)
	}
	return ParseConfig(data)
}

func buildExclusions(cj ConfigJSON) keys.Exclusions {
	excl := keys.Exclusions{}
	if len(cj.ExcludedAddressFingerprints) > 0 {
		excl.AddressFingerprints = make(map[string]bool, len(cj.ExcludedAddressFingerprints))
		for _, fp := range cj.ExcludedAddressFingerprints {
			excl.AddressFingerprints[fp] = true
		}
	}
	if len(cj.ExcludedOwnerEntities) > 0 {
		excl.OwnerEntities = make(map[string]bool, len(cj.ExcludedOwnerEntities))
		for _, e := range cj.ExcludedOwnerEntities {
			excl.OwnerEntities[e] = true
		}
	}
	return excl
}

// HistoryOptions extracts the per-key-type history modes in the shape
// the SQLite store takes as Options.History.
func HistoryOptions(cfg keys.Config) map[keys.KeyType]keys.HistoryMode {
	modes := make(map[keys.KeyType]keys.HistoryMode, len(cfg.KeyTypes))
	for kt, ktc := range cfg.KeyTypes {
		modes[kt] = ktc.History
	}
	return modes
}
