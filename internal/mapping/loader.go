package mapping

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// loader.go reads rule sets, source batches, and lookup tables from files
// for the CLI workflows. Rule sets may be authored in YAML or JSON; record
// batches and lookup tables are JSON.

// LoadRuleSetFile reads a rule set from a .yaml/.yml or .json file.
func LoadRuleSetFile(path string) (*RuleSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rule set file: %w", err)
	}

	var rs RuleSet
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &rs); err != nil {
			return nil, fmt.Errorf("failed to parse rule set YAML: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, &rs); err != nil {
			return nil, fmt.Errorf("failed to parse rule set JSON: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported rule set file extension %q (want .yaml, .yml or .json)", filepath.Ext(path))
	}

	if len(rs.Rules.FieldMappings) == 0 && len(rs.Rules.ConditionalMappings) == 0 &&
		len(rs.Rules.CalculatedFields) == 0 && len(rs.Rules.LookupMappings) == 0 &&
		len(rs.Rules.DefaultValues) == 0 {
		return nil, fmt.Errorf("rule set file %s contains no rules", path)
	}
	return &rs, nil
}

// LoadRecordsFile reads a JSON array of flat records.
func LoadRecordsFile(path string) ([]Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read records file: %w", err)
	}
	var records []Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("failed to parse records JSON: %w", err)
	}
	return records, nil
}

// LoadLookupTablesFile reads a JSON object of named lookup tables:
// {"table_name": {"key": "value", ...}, ...}.
func LoadLookupTablesFile(path string) (map[string]map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read lookup tables file: %w", err)
	}
	var tables map[string]map[string]any
	if err := json.Unmarshal(data, &tables); err != nil {
		return nil, fmt.Errorf("failed to parse lookup tables JSON: %w", err)
	}
	return tables, nil
}
