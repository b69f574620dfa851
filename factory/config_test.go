package factory_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/r360/key-engine/factory"
	"github.com/r360/key-engine/keys"
)

func TestParseConfig_FullDocument(t *testing.T) {
	// GIVEN: A complete run configuration
	data := []byte(`{
		"key_types": {
			"portfolio": {"enabled": true, "history": "append"},
			"address":   {"enabled": true, "write_enabled": false},
			"ownership": {"enabled": false}
		},
		"ownership_roles": ["OWN", "GUAR"],
		"excluded_address_fingerprints": ["-grcQPptQrw="],
		"excluded_owner_entities": ["O500"]
	}`)

	// WHEN: Parsing
	cfg, err := factory.ParseConfig(data)
	require.NoError(t, err)

	// THEN: Every knob lands in the right place
	pf := cfg.KeyTypes[keys.KeyPortfolio]
	assert.True(t, pf.Enabled)
	assert.Equal(t, keys.HistoryAppend, pf.History)
	assert.True(t, pf.WriteEnabled)

	ad := cfg.KeyTypes[keys.KeyAddress]
	assert.True(t, ad.Enabled)
	assert.Equal(t, keys.HistoryOverwrite, ad.History)
	assert.False(t, ad.WriteEnabled)

	assert.False(t, cfg.KeyTypes[keys.KeyOwnership].Enabled)

	assert.Equal(t, []string{"OWN", "GUAR"}, cfg.OwnershipRoles)
	assert.True(t, cfg.Exclusions.AddressFingerprints["-grcQPptQrw="])
	assert.True(t, cfg.Exclusions.OwnerEntities["O500"])
}

func TestParseConfig_MissingKeyTypesDisabled(t *testing.T) {
	// Key types absent from the file must still appear, disabled, so the
	// omission is visible in reports.
	cfg, err := factory.ParseConfig([]byte(`{
		"key_types": {"portfolio": {"enabled": true}}
	}`))
	require.NoError(t, err)

	require.Len(t, cfg.KeyTypes, 3)
	assert.False(t, cfg.KeyTypes[keys.KeyAddress].Enabled)
	assert.False(t, cfg.KeyTypes[keys.KeyOwnership].Enabled)
	assert.True(t, cfg.KeyTypes[keys.KeyAddress].WriteEnabled)
}

func TestParseConfig_Rejections(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"unknown key type", `{"key_types": {"household": {"enabled": true}}}`},
		{"unknown history mode", `{"key_types": {"portfolio": {"enabled": true, "history": "rolling"}}}`},
		{"malformed JSON", `{"key_types": `},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := factory.ParseConfig([]byte(tt.data))
			assert.Error(t, err)
		})
	}
}

func TestLoadConfig_EmptyPathUsesDefaults(t *testing.T) {
	cfg, err := factory.LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, keys.DefaultConfig(), cfg)
	assert.True(t, cfg.KeyTypes[keys.KeyPortfolio].Enabled)
}

func TestLoadConfig_FromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"key_types": {"portfolio": {"enabled": true, "history": "append"}}
	}`), 0o644))

	cfg, err := factory.LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, keys.HistoryAppend, cfg.KeyTypes[keys.KeyPortfolio].History)

	_, err = factory.LoadConfig(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestHistoryOptions(t *testing.T) {
	cfg, err := factory.ParseConfig([]byte(`{
		"key_types": {"portfolio": {"enabled": true, "history": "append"}}
	}`))
	require.NoError(t, err)

	modes := factory.HistoryOptions(cfg)
	assert.Equal(t, keys.HistoryAppend, modes[keys.KeyPortfolio])
	assert.Equal(t, keys.HistoryOverwrite, modes[keys.KeyAddress])
}
