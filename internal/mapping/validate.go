package mapping

import (
	"fmt"
	"strings"

	"payroll-bridge/internal/registry"
)

// validate.go compiles a rule set into executable form and surfaces every
// rule-definition problem up front. Unresolvable transformation names,
// unparsable expressions, and malformed lookup references are activation
// failures, never discovered mid-batch.

// CompiledConditional pairs a parsed condition with its assignments.
type CompiledConditional struct {
	Condition *Condition
	Mappings  []ConditionalSetValue
}

// CompiledCalculated pairs a parsed formula with its destination.
type CompiledCalculated struct {
	DestinationField string
	Formula          *Formula
	Rounding         string
}

// CompiledLookup is a lookup mapping with its table resolved and keys
// normalized to strings.
type CompiledLookup struct {
	SourceField      string
	DestinationField string
	Table            map[string]any
	Default          any
	HasDefault       bool
}

// CompiledRules is a RuleSet ready for execution.
type CompiledRules struct {
	FieldMappings []FieldMapping
	Conditionals  []CompiledConditional
	Calculated    []CompiledCalculated
	Lookups       []CompiledLookup
	Defaults      []DefaultValue

	// defaulted marks destination fields covered by a default value, used
	// to defer required-field errors that a default will fill anyway.
	defaulted map[string]bool
}

// InvalidRuleSetError reports every definition problem found in one pass.
type InvalidRuleSetError struct {
	Issues []string
}

func (e *InvalidRuleSetError) Error() string {
	return fmt.Sprintf("invalid rule set: %s", strings.Join(e.Issues, "; "))
}

// Validate checks the rule set against the registry without needing the
// caller's named lookup tables. Used at rule-set activation time.
func Validate(ruleSet *RuleSet, reg *registry.Registry) error {
	_, err := compile(ruleSet, reg, nil, false)
	return err
}

// Compile validates and compiles a rule set for execution. Named lookup
// tables must all be present in lookupTables.
func Compile(ruleSet *RuleSet, reg *registry.Registry, lookupTables map[string]map[string]any) (*CompiledRules, error) {
	return compile(ruleSet, reg, lookupTables, true)
}

func compile(ruleSet *RuleSet, reg *registry.Registry, lookupTables map[string]map[string]any, resolveNamed bool) (*CompiledRules, error) {
	var issues []string
	compiled := &CompiledRules{
		FieldMappings: ruleSet.Rules.FieldMappings,
		Defaults:      ruleSet.Rules.DefaultValues,
		defaulted:     make(map[string]bool),
	}

	for i, fm := range ruleSet.Rules.FieldMappings {
		if fm.SourceField == "" || fm.DestinationField == "" {
			issues = append(issues, fmt.Sprintf("field_mappings[%d]: source_field and destination_field are required", i))
		}
		if fm.Transformation != "" && !reg.Has(fm.Transformation) {
			issues = append(issues, fmt.Sprintf("field_mappings[%d]: unknown transformation %q", i, fm.Transformation))
		}
	}

	for i, cm := range ruleSet.Rules.ConditionalMappings {
		cond, err := ParseCondition(cm.Condition)
		if err != nil {
			issues = append(issues, fmt.Sprintf("conditional_mappings[%d]: %v", i, err))
			continue
		}
		if len(cm.Mappings) == 0 {
			issues = append(issues, fmt.Sprintf("conditional_mappings[%d]: at least one mapping is required", i))
			continue
		}
		compiled.Conditionals = append(compiled.Conditionals, CompiledConditional{
			Condition: cond,
			Mappings:  cm.Mappings,
		})
	}

	for i, cf := range ruleSet.Rules.CalculatedFields {
		formula, err := ParseFormula(cf.Formula)
		if err != nil {
			issues = append(issues, fmt.Sprintf("calculated_fields[%d]: %v", i, err))
			continue
		}
		switch cf.Rounding {
		case "", RoundCents, RoundDollars, RoundNone:
		default:
			issues = append(issues, fmt.Sprintf("calculated_fields[%d]: unknown rounding mode %q", i, cf.Rounding))
			continue
		}
		compiled.Calculated = append(compiled.Calculated, CompiledCalculated{
			DestinationField: cf.DestinationField,
			Formula:          formula,
			Rounding:         cf.Rounding,
		})
	}

	for i, lm := range ruleSet.Rules.LookupMappings {
		if lm.InlineTable == nil && lm.LookupTable == "" {
			issues = append(issues, fmt.Sprintf("lookup_mappings[%d]: either inline_table or lookup_table is required", i))
			continue
		}

		table := make(map[string]any)
		if lm.InlineTable != nil {
			for k, v := range lm.InlineTable {
				table[k] = v
			}
		} else if resolveNamed {
			named, ok := lookupTables[lm.LookupTable]
			if !ok {
				issues = append(issues, fmt.Sprintf("lookup_mappings[%d]: named lookup table %q was not supplied", i, lm.LookupTable))
				continue
			}
			for k, v := range named {
				table[k] = v
			}
		}

		compiled.Lookups = append(compiled.Lookups, CompiledLookup{
			SourceField:      lm.SourceField,
			DestinationField: lm.DestinationField,
			Table:            table,
			Default:          lm.DefaultValue,
			HasDefault:       lm.DefaultValue != nil,
		})
	}

	for i, dv := range ruleSet.Rules.DefaultValues {
		switch dv.ApplyWhen {
		case ApplyAlways, ApplyIfNull, ApplyIfEmpty:
			compiled.defaulted[dv.DestinationField] = true
		default:
			issues = append(issues, fmt.Sprintf("default_values[%d]: unknown apply_when %q", i, dv.ApplyWhen))
		}
	}

	if len(issues) > 0 {
		return nil, &InvalidRuleSetError{Issues: issues}
	}
	return compiled, nil
}
