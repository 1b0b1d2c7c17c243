package mapping

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadRuleSetFileYAML(t *testing.T) {
	path := writeTempFile(t, "contrib.yaml", `
id: rs-yaml-1
source_system: adp
destination_system: recordkeeper
mapping_type: contribution
version: 3
is_active: true
rules:
  field_mappings:
    - source_field: pretax
      destination_field: employeePreTax
      transformation: to_cents
      required: true
  default_values:
    - destination_field: recordType
      value: CONTRIB
      apply_when: always
`)

	rs, err := LoadRuleSetFile(path)
	require.NoError(t, err)

	assert.Equal(t, "rs-yaml-1", rs.ID)
	assert.Equal(t, 3, rs.Version)
	assert.True(t, rs.IsActive)
	require.Len(t, rs.Rules.FieldMappings, 1)
	assert.Equal(t, "to_cents", rs.Rules.FieldMappings[0].Transformation)
	assert.True(t, rs.Rules.FieldMappings[0].Required)
	require.Len(t, rs.Rules.DefaultValues, 1)
	assert.Equal(t, ApplyAlways, rs.Rules.DefaultValues[0].ApplyWhen)
}

func TestLoadRuleSetFileJSON(t *testing.T) {
	path := writeTempFile(t, "contrib.json", `{
		"id": "rs-json-1",
		"rules": {
			"field_mappings": [
				{"source_field": "roth", "destination_field": "employeeRoth"}
			]
		}
	}`)

	rs, err := LoadRuleSetFile(path)
	require.NoError(t, err)
	assert.Equal(t, "rs-json-1", rs.ID)
	require.Len(t, rs.Rules.FieldMappings, 1)
}

func TestLoadRuleSetFileErrors(t *testing.T) {
	t.Run("unsupported extension", func(t *testing.T) {
		path := writeTempFile(t, "rules.txt", "nope")
		_, err := LoadRuleSetFile(path)
		assert.Error(t, err)
	})

	t.Run("empty rules", func(t *testing.T) {
		path := writeTempFile(t, "empty.json", `{"id": "rs-empty", "rules": {}}`)
		_, err := LoadRuleSetFile(path)
		assert.Error(t, err)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadRuleSetFile(filepath.Join(t.TempDir(), "missing.yaml"))
		assert.Error(t, err)
	})
}

func TestLoadRecordsAndLookupTables(t *testing.T) {
	recordsPath := writeTempFile(t, "records.json", `[{"pretax": "50.00"}, {"pretax": null}]`)
	records, err := LoadRecordsFile(recordsPath)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "50.00", records[0]["pretax"])

	tablesPath := writeTempFile(t, "tables.json", `{"divisions": {"100": "Corporate"}}`)
	tables, err := LoadLookupTablesFile(tablesPath)
	require.NoError(t, err)
	assert.Equal(t, "Corporate", tables["divisions"]["100"])
}
