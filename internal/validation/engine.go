// Package validation evaluates declarative business rules (limits,
// patterns, required fields) over already-mapped records. It runs as an
// independent pass after mapping, never inside the mapping loop, so
// mapping behavior and business-rule checks stay separately testable.
package validation

import (
	"fmt"
	"path"
	"regexp"
	"strconv"
	"strings"

	"payroll-bridge/internal/mapping"
)

// Severity levels share the mapping error vocabulary. ERROR blocks
// downstream acceptance of the record; WARNING and INFO are advisory.
type Severity string

const (
	SeverityError   Severity = "ERROR"
	SeverityWarning Severity = "WARNING"
	SeverityInfo    Severity = "INFO"
)

// RuleLogic is the declarative comparison applied to each matched field.
type RuleLogic struct {
	Operator string  `json:"operator" yaml:"operator"` // equals, not_equals, greater_than, less_than, between, in, not_in, matches, not_empty
	Value    any     `json:"value,omitempty" yaml:"value,omitempty"`
	Min      float64 `json:"min,omitempty" yaml:"min,omitempty"`
	Max      float64 `json:"max,omitempty" yaml:"max,omitempty"`
	Pattern  string  `json:"pattern,omitempty" yaml:"pattern,omitempty"`
	Values   []any   `json:"values,omitempty" yaml:"values,omitempty"`
}

// Rule scopes one RuleLogic to fields matching AppliesTo (a path-style
// glob, e.g. "employee*" or "ssn").
type Rule struct {
	ID        string    `json:"id" yaml:"id"`
	Name      string    `json:"name" yaml:"name"`
	AppliesTo string    `json:"applies_to" yaml:"applies_to"`
	Logic     RuleLogic `json:"logic" yaml:"logic"`
	Severity  Severity  `json:"severity" yaml:"severity"`
	Message   string    `json:"message,omitempty" yaml:"message,omitempty"`
	IsActive  bool      `json:"is_active" yaml:"is_active"`
}

// Error is one rule violation on one field of one record.
type Error struct {
	RecordIndex int      `json:"record_index"`
	Field       string   `json:"field"`
	Code        string   `json:"code"`
	Message     string   `json:"message"`
	Value       any      `json:"value,omitempty"`
	Severity    Severity `json:"severity"`
}

// Engine evaluates a fixed set of rules. Rules are compiled once at
// construction so pattern problems surface before any record is checked.
type Engine struct {
	rules    []Rule
	patterns map[string]*regexp.Regexp // rule ID -> compiled "matches" pattern
}

// NewEngine compiles the rule list. Inactive rules are retained but
// skipped at evaluation time so operators can toggle them without
// rebuilding the engine.
func NewEngine(rules []Rule) (*Engine, error) {
	e := &Engine{rules: rules, patterns: make(map[string]*regexp.Regexp)}
	for _, rule := range rules {
		if !validOperator(rule.Logic.Operator) {
			return nil, fmt.Errorf("rule %s: unsupported operator %q", rule.ID, rule.Logic.Operator)
		}
		if rule.Logic.Operator == "matches" {
			re, err := regexp.Compile(rule.Logic.Pattern)
			if err != nil {
				return nil, fmt.Errorf("rule %s: invalid pattern: %w", rule.ID, err)
			}
			e.patterns[rule.ID] = re
		}
	}
	return e, nil
}

func validOperator(op string) bool {
	switch op {
	case "equals", "not_equals", "greater_than", "less_than", "between", "in", "not_in", "matches", "not_empty":
		return true
	default:
		return false
	}
}

// ValidateBatch checks every record and stamps RecordIndex on each
// violation.
func (e *Engine) ValidateBatch(records []mapping.Record) []Error {
	var all []Error
	for i, record := range records {
		for _, violation := range e.ValidateRecord(record) {
			violation.RecordIndex = i
			all = append(all, violation)
		}
	}
	return all
}

// ValidateRecord applies every active rule to the fields its AppliesTo
// pattern matches.
func (e *Engine) ValidateRecord(record mapping.Record) []Error {
	var violations []Error
	for _, rule := range e.rules {
		if !rule.IsActive {
			continue
		}

		matchedAny := false
		for field, value := range record {
			if !fieldMatches(rule.AppliesTo, field) {
				continue
			}
			matchedAny = true
			if violation, ok := e.check(rule, field, value); !ok {
				violations = append(violations, violation)
			}
		}

		// A literal (non-glob) not_empty target that is absent entirely is
		// itself a violation.
		if !matchedAny && rule.Logic.Operator == "not_empty" && !strings.ContainsAny(rule.AppliesTo, "*?[") {
			violations = append(violations, e.violation(rule, rule.AppliesTo, nil))
		}
	}
	return violations
}

// BlocksAcceptance reports whether any violation carries ERROR severity.
func BlocksAcceptance(violations []Error) bool {
	for _, v := range violations {
		if v.Severity == SeverityError {
			return true
		}
	}
	return false
}

func fieldMatches(pattern, field string) bool {
	if pattern == "" || pattern == "*" {
		return true
	}
	ok, err := path.Match(pattern, field)
	return err == nil && ok
}

func (e *Engine) check(rule Rule, field string, value any) (Error, bool) {
	logic := rule.Logic
	passed := false

	switch logic.Operator {
	case "equals":
		passed = looseEqual(value, logic.Value)
	case "not_equals":
		passed = !looseEqual(value, logic.Value)
	case "greater_than":
		f, err := toFloat(value)
		passed = err == nil && f > mustFloat(logic.Value)
	case "less_than":
		f, err := toFloat(value)
		passed = err == nil && f < mustFloat(logic.Value)
	case "between":
		f, err := toFloat(value)
		passed = err == nil && f >= logic.Min && f <= logic.Max
	case "in":
		passed = containsValue(logic.Values, value)
	case "not_in":
		passed = !containsValue(logic.Values, value)
	case "matches":
		passed = e.patterns[rule.ID].MatchString(stringify(value))
	case "not_empty":
		passed = value != nil && stringify(value) != ""
	}

	if passed {
		return Error{}, true
	}
	return e.violation(rule, field, value), false
}

func (e *Engine) violation(rule Rule, field string, value any) Error {
	message := rule.Message
	if message == "" {
		message = fmt.Sprintf("field %q failed rule %s (%s)", field, rule.Name, rule.Logic.Operator)
	}
	return Error{
		Field:    field,
		Code:     ruleCode(rule),
		Message:  message,
		Value:    value,
		Severity: rule.Severity,
	}
}

func ruleCode(rule Rule) string {
	if rule.ID != "" {
		return rule.ID
	}
	return "RULE_" + strings.ToUpper(rule.Logic.Operator)
}

// =============================================================================
// Value helpers
// =============================================================================

func stringify(value any) string {
	if value == nil {
		return ""
	}
	if s, ok := value.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", value)
}

func toFloat(value any) (float64, error) {
	switch v := value.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case string:
		return strconv.ParseFloat(strings.TrimSpace(v), 64)
	default:
		return 0, fmt.Errorf("value of type %T is not numeric", value)
	}
}

func mustFloat(value any) float64 {
	f, err := toFloat(value)
	if err != nil {
		return 0
	}
	return f
}

func looseEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	fa, errA := toFloat(a)
	fb, errB := toFloat(b)
	if errA == nil && errB == nil {
		return fa == fb
	}
	return stringify(a) == stringify(b)
}

func containsValue(values []any, value any) bool {
	for _, candidate := range values {
		if looseEqual(candidate, value) {
			return true
		}
	}
	return false
}
