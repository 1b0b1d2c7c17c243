package mapping

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"payroll-bridge/internal/registry"
)

// SuccessPolicy decides whether lookup warnings exclude a record from the
// successful count. The source behavior is ambiguous on this point, so
// both interpretations are explicit policies rather than a guess.
type SuccessPolicy int

const (
	// StrictRecordSuccess counts a record successful iff it produced zero
	// errors; warnings never affect classification. This is the default.
	StrictRecordSuccess SuccessPolicy = iota
	// WarningsFailRecord additionally excludes records that produced any
	// warning from the successful count.
	WarningsFailRecord
)

// BatchObserver receives batch-level outcomes, typically for Prometheus
// collectors. Implementations must be safe for concurrent use.
type BatchObserver interface {
	ObserveBatch(ruleSetID string, metrics Metrics)
}

// Engine interprets a RuleSet against batches of source records using a
// transformation registry. The registry is read-only during execution, so
// records are independent of each other and may be processed in parallel.
type Engine struct {
	registry *registry.Registry
	workers  int
	policy   SuccessPolicy
	observer BatchObserver
}

// Option configures an Engine.
type Option func(*Engine)

// WithWorkers sets the number of records processed concurrently. Values
// below 2 keep the default sequential path.
func WithWorkers(n int) Option {
	return func(e *Engine) { e.workers = n }
}

// WithSuccessPolicy selects the record success classification policy.
func WithSuccessPolicy(p SuccessPolicy) Option {
	return func(e *Engine) { e.policy = p }
}

// WithObserver attaches a batch-level metrics observer.
func WithObserver(o BatchObserver) Option {
	return func(e *Engine) { e.observer = o }
}

// NewEngine creates a mapping engine backed by reg.
func NewEngine(reg *registry.Registry, opts ...Option) *Engine {
	e := &Engine{registry: reg, workers: 1, policy: StrictRecordSuccess}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ExecOptions carries per-execution context supplied by the caller.
type ExecOptions struct {
	// OrganizationID scopes the execution for logging and error-queue
	// escalation done by callers; the engine itself only threads it through.
	OrganizationID string
	// LookupTables resolves named (non-inline) lookup table references.
	LookupTables map[string]map[string]any
}

// Execute runs the rule set over sourceRecords and returns one destination
// record per source record. Per-record failures accumulate in
// Result.Errors and never abort the batch; rule-definition problems fail
// fast before any record is touched.
func (e *Engine) Execute(ctx context.Context, ruleSet *RuleSet, sourceRecords []Record, opts ExecOptions) (*Result, error) {
	start := time.Now()

	compiled, err := Compile(ruleSet, e.registry, opts.LookupTables)
	if err != nil {
		return nil, fmt.Errorf("rule set %s: %w", ruleSet.ID, err)
	}

	type recordOutcome struct {
		record   Record
		errors   []FieldError
		warnings []Warning
	}
	outcomes := make([]recordOutcome, len(sourceRecords))

	process := func(i int) {
		rec, errs, warns := e.mapRecord(compiled, sourceRecords[i], i)
		outcomes[i] = recordOutcome{record: rec, errors: errs, warnings: warns}
	}

	if e.workers > 1 && len(sourceRecords) > 1 {
		// Outcomes land in the per-index slice, so ordering stays stable
		// by record index regardless of scheduling.
		var wg sync.WaitGroup
		indexes := make(chan int)
		workers := e.workers
		if workers > len(sourceRecords) {
			workers = len(sourceRecords)
		}
		for w := 0; w < workers; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for i := range indexes {
					process(i)
				}
			}()
		}
	feed:
		for i := range sourceRecords {
			select {
			case <-ctx.Done():
				break feed
			case indexes <- i:
			}
		}
		close(indexes)
		wg.Wait()
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	} else {
		for i := range sourceRecords {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			process(i)
		}
	}

	result := &Result{
		Data:     make([]Record, len(sourceRecords)),
		Errors:   []FieldError{},
		Warnings: []Warning{},
	}
	for i, out := range outcomes {
		result.Data[i] = out.record
		result.Errors = append(result.Errors, out.errors...)
		result.Warnings = append(result.Warnings, out.warnings...)

		failed := len(out.errors) > 0
		if e.policy == WarningsFailRecord && len(out.warnings) > 0 {
			failed = true
		}
		if failed {
			result.Metrics.FailedRecords++
		} else {
			result.Metrics.SuccessfulRecords++
		}
	}

	result.Metrics.TotalRecords = len(sourceRecords)
	result.Metrics.ProcessingTimeMs = time.Since(start).Milliseconds()
	if result.Metrics.TotalRecords > 0 {
		result.Metrics.AvgTimePerRecordMs = float64(result.Metrics.ProcessingTimeMs) / float64(result.Metrics.TotalRecords)
	}
	result.Success = result.Metrics.FailedRecords == 0

	if e.observer != nil {
		e.observer.ObserveBatch(ruleSet.ID, result.Metrics)
	}
	return result, nil
}

// mapRecord applies the five rule categories in order. The view combines
// the source record with destination fields assigned so far; later
// categories see what earlier ones wrote.
func (e *Engine) mapRecord(compiled *CompiledRules, source Record, index int) (Record, []FieldError, []Warning) {
	var errs []FieldError
	var warns []Warning

	mapped := make(Record)
	view := make(Record, len(source))
	for k, v := range source {
		view[k] = v
	}
	assign := func(field string, value any) {
		mapped[field] = value
		view[field] = value
	}

	// 1. Field mappings. A failed transformation affects its field only.
	for _, fm := range compiled.FieldMappings {
		value, present := source[fm.SourceField]

		if fm.Transformation != "" && present && value != nil {
			out, err := e.registry.Transform(fm.Transformation, value, fm.TransformationParams)
			if err != nil {
				errs = append(errs, FieldError{
					RecordIndex: index,
					Field:       fm.DestinationField,
					Code:        CodeTransformationError,
					Message:     err.Error(),
					SourceValue: value,
				})
				continue
			}
			value = out
		}

		if fm.Required && (!present || value == nil) && !compiled.defaulted[fm.DestinationField] {
			errs = append(errs, FieldError{
				RecordIndex: index,
				Field:       fm.DestinationField,
				Code:        CodeRequiredFieldMissing,
				Message:     fmt.Sprintf("required field %q is missing from source field %q", fm.DestinationField, fm.SourceField),
			})
			continue
		}
		if present && value != nil {
			assign(fm.DestinationField, value)
		}
	}

	// 2. Conditional mappings. Last write wins by rule order.
	for _, cm := range compiled.Conditionals {
		matched, err := cm.Condition.Eval(view)
		if err != nil {
			errs = append(errs, FieldError{
				RecordIndex: index,
				Code:        CodeConditionError,
				Message:     fmt.Sprintf("condition %q: %v", cm.Condition.String(), err),
			})
			continue
		}
		if !matched {
			continue
		}
		for _, m := range cm.Mappings {
			assign(m.DestinationField, m.Value)
		}
	}

	// 3. Calculated fields.
	for _, cf := range compiled.Calculated {
		value, err := cf.Formula.Eval(view)
		if err != nil {
			errs = append(errs, FieldError{
				RecordIndex: index,
				Field:       cf.DestinationField,
				Code:        CodeCalculationError,
				Message:     fmt.Sprintf("formula %q: %v", cf.Formula.String(), err),
			})
			continue
		}
		assign(cf.DestinationField, applyRounding(value, cf.Rounding))
	}

	// 4. Lookup mappings. Misses are best-effort enrichment, never errors.
	for _, lm := range compiled.Lookups {
		key := stringify(source[lm.SourceField])
		if resolved, ok := lm.Table[key]; ok {
			assign(lm.DestinationField, resolved)
			continue
		}
		if lm.HasDefault {
			assign(lm.DestinationField, lm.Default)
			continue
		}
		assign(lm.DestinationField, nil)
		warns = append(warns, Warning{
			RecordIndex: index,
			Field:       lm.DestinationField,
			Code:        CodeLookupMiss,
			Message:     fmt.Sprintf("no lookup match for %q and no default", key),
			SourceValue: source[lm.SourceField],
		})
	}

	// 5. Default values run last so they only fill genuine gaps.
	for _, dv := range compiled.Defaults {
		current, present := mapped[dv.DestinationField]
		switch dv.ApplyWhen {
		case ApplyAlways:
			assign(dv.DestinationField, dv.Value)
		case ApplyIfNull:
			if !present || current == nil {
				assign(dv.DestinationField, dv.Value)
			}
		case ApplyIfEmpty:
			if !present || isEmptyValue(current) {
				assign(dv.DestinationField, dv.Value)
			}
		}
	}

	return mapped, errs, warns
}

// applyRounding applies the calculated-field rounding mode. Cents rounds
// to the nearest whole cent, dollars to the nearest whole unit; amounts
// stay in the formula's own units.
func applyRounding(value float64, mode string) any {
	switch mode {
	case RoundCents:
		return math.Round(value*100) / 100
	case RoundDollars:
		return math.Round(value)
	default:
		return value
	}
}
