package validation

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// LoadRulesFile reads validation rules from a YAML or JSON file.
func LoadRulesFile(path string) ([]Rule, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read validation rules: %w", err)
	}

	var rules []Rule
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(raw, &rules)
	case ".json":
		err = json.Unmarshal(raw, &rules)
	default:
		return nil, fmt.Errorf("unsupported rules file extension %q", filepath.Ext(path))
	}
	if err != nil {
		return nil, fmt.Errorf("parse validation rules %s: %w", path, err)
	}
	if len(rules) == 0 {
		return nil, fmt.Errorf("validation rules file %s defines no rules", path)
	}
	return rules, nil
}
