// Package mapping implements the rule-driven record transformation engine:
// a versioned, declarative rule set interpreted against batches of flat
// source records, producing destination records plus structured errors,
// warnings, and metrics.
//
// Rule evaluation per record runs in a fixed category order (field
// mappings, conditional mappings, calculated fields, lookup mappings,
// then default values), with each category able to see fields set by
// earlier categories on the same record.
package mapping

// Record is one flat, JSON-serializable key-value record.
type Record = map[string]any

// RuleSet is a versioned, declarative specification of how source fields
// map to destination fields. Once an execution has referenced a rule set
// it is immutable; edits create a new version.
type RuleSet struct {
	ID                string `json:"id" yaml:"id" db:"rule_set_id"`
	SourceSystem      string `json:"source_system" yaml:"source_system" db:"source_system"`
	DestinationSystem string `json:"destination_system" yaml:"destination_system" db:"destination_system"`
	MappingType       string `json:"mapping_type" yaml:"mapping_type" db:"mapping_type"`
	Rules             Rules  `json:"rules" yaml:"rules"`
	Version           int    `json:"version" yaml:"version" db:"version"`
	IsActive          bool   `json:"is_active" yaml:"is_active" db:"is_active"`
}

// Rules aggregates the five rule categories in their execution order.
type Rules struct {
	FieldMappings       []FieldMapping       `json:"field_mappings" yaml:"field_mappings"`
	ConditionalMappings []ConditionalMapping `json:"conditional_mappings,omitempty" yaml:"conditional_mappings,omitempty"`
	CalculatedFields    []CalculatedField    `json:"calculated_fields,omitempty" yaml:"calculated_fields,omitempty"`
	LookupMappings      []LookupMapping      `json:"lookup_mappings,omitempty" yaml:"lookup_mappings,omitempty"`
	DefaultValues       []DefaultValue       `json:"default_values,omitempty" yaml:"default_values,omitempty"`
}

// FieldMapping copies one source field to one destination field, optionally
// through a named registered transformation.
type FieldMapping struct {
	SourceField          string         `json:"source_field" yaml:"source_field"`
	DestinationField     string         `json:"destination_field" yaml:"destination_field"`
	Transformation       string         `json:"transformation,omitempty" yaml:"transformation,omitempty"`
	TransformationParams map[string]any `json:"transformation_params,omitempty" yaml:"transformation_params,omitempty"`
	Required             bool           `json:"required" yaml:"required"`
}

// ConditionalMapping assigns fixed values when a restricted boolean
// condition over the combined source + mapped view evaluates true.
type ConditionalMapping struct {
	Condition string                `json:"condition" yaml:"condition"`
	Mappings  []ConditionalSetValue `json:"mappings" yaml:"mappings"`
}

// ConditionalSetValue is one destination assignment of a conditional rule.
type ConditionalSetValue struct {
	DestinationField string `json:"destination_field" yaml:"destination_field"`
	Value            any    `json:"value" yaml:"value"`
}

// Rounding modes for calculated fields.
const (
	RoundCents   = "cents"
	RoundDollars = "dollars"
	RoundNone    = "none"
)

// CalculatedField derives a destination value from a restricted arithmetic
// formula over source fields.
type CalculatedField struct {
	DestinationField string `json:"destination_field" yaml:"destination_field"`
	Formula          string `json:"formula" yaml:"formula"`
	Rounding         string `json:"rounding,omitempty" yaml:"rounding,omitempty"` // cents, dollars, none
}

// LookupMapping resolves a destination value through a key/value table,
// either inline or named (supplied by the caller at execution time).
type LookupMapping struct {
	SourceField      string         `json:"source_field" yaml:"source_field"`
	LookupTable      string         `json:"lookup_table,omitempty" yaml:"lookup_table,omitempty"`
	InlineTable      map[string]any `json:"inline_table,omitempty" yaml:"inline_table,omitempty"`
	DestinationField string         `json:"destination_field" yaml:"destination_field"`
	DefaultValue     any            `json:"default_value,omitempty" yaml:"default_value,omitempty"`
}

// ApplyWhen policies for default values.
const (
	ApplyAlways  = "always"
	ApplyIfNull  = "if_null"
	ApplyIfEmpty = "if_empty"
)

// DefaultValue fills a destination field according to its ApplyWhen policy.
// Defaults run last so they only fill genuine gaps.
type DefaultValue struct {
	DestinationField string `json:"destination_field" yaml:"destination_field"`
	Value            any    `json:"value" yaml:"value"`
	ApplyWhen        string `json:"apply_when" yaml:"apply_when"` // always, if_null, if_empty
}

// Per-record mapping error codes.
const (
	CodeTransformationError  = "TRANSFORMATION_ERROR"
	CodeRequiredFieldMissing = "REQUIRED_FIELD_MISSING"
	CodeCalculationError     = "CALCULATION_ERROR"
	CodeConditionError       = "CONDITION_ERROR"
	CodeLookupMiss           = "LOOKUP_NO_MATCH"
)

// FieldError is one per-record, per-field mapping failure. Errors never
// abort the batch; they accumulate on the Result.
type FieldError struct {
	RecordIndex int    `json:"record_index"`
	Field       string `json:"field,omitempty"`
	Code        string `json:"code"`
	Message     string `json:"message"`
	SourceValue any    `json:"source_value,omitempty"`
}

// Warning is advisory only and never affects success classification under
// the default policy.
type Warning struct {
	RecordIndex int    `json:"record_index"`
	Field       string `json:"field,omitempty"`
	Code        string `json:"code"`
	Message     string `json:"message"`
	SourceValue any    `json:"source_value,omitempty"`
}

// Metrics summarizes one engine execution.
type Metrics struct {
	TotalRecords       int     `json:"total_records"`
	SuccessfulRecords  int     `json:"successful_records"`
	FailedRecords      int     `json:"failed_records"`
	ProcessingTimeMs   int64   `json:"processing_time_ms"`
	AvgTimePerRecordMs float64 `json:"avg_time_per_record_ms"`
}

// Result is the outcome of executing a rule set over a batch. Data always
// holds exactly one destination record per source record; Errors
// cross-reference incomplete rows by RecordIndex.
type Result struct {
	Success  bool         `json:"success"`
	Data     []Record     `json:"data"`
	Errors   []FieldError `json:"errors"`
	Warnings []Warning    `json:"warnings"`
	Metrics  Metrics      `json:"metrics"`
}
