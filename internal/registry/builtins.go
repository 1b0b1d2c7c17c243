package registry

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// builtins.go defines the built-in transformation catalog for payroll and
// 401(k) record conversion: money handling, SSN/phone/date formatting,
// numeric arithmetic, and string normalization.

// RegisterBuiltins installs the built-in catalog into reg. Deployments may
// re-register any name afterwards to override a built-in.
func RegisterBuiltins(reg *Registry) {
	for _, b := range builtinCatalog() {
		// Register only fails on empty name/nil fn, neither of which can
		// happen for the static catalog.
		_ = reg.Register(b.def.Name, b.fn, b.def)
	}
}

type builtin struct {
	def Definition
	fn  Func
}

func builtinCatalog() []builtin {
	return []builtin{
		{
			def: Definition{
				Name: "to_cents", Category: "money",
				InputType: "string|number", OutputType: "integer",
				Description: "Converts a dollar amount to integer cents",
			},
			fn: toCents,
		},
		{
			def: Definition{
				Name: "from_cents", Category: "money",
				InputType: "number", OutputType: "string",
				Description: "Converts integer cents to a dollar string with two decimals",
			},
			fn: fromCents,
		},
		{
			def: Definition{
				Name: "trim", Category: "string",
				InputType: "string", OutputType: "string",
			},
			fn: stringFn(strings.TrimSpace),
		},
		{
			def: Definition{
				Name: "uppercase", Category: "string",
				InputType: "string", OutputType: "string",
			},
			fn: stringFn(strings.ToUpper),
		},
		{
			def: Definition{
				Name: "lowercase", Category: "string",
				InputType: "string", OutputType: "string",
			},
			fn: stringFn(strings.ToLower),
		},
		{
			def: Definition{
				Name: "title_case", Category: "string",
				InputType: "string", OutputType: "string",
			},
			fn: titleCase,
		},
		{
			def: Definition{
				Name: "format_ssn", Category: "identity",
				InputType: "string", OutputType: "string",
				Description: "Formats a 9-digit SSN as XXX-XX-XXXX",
			},
			fn: formatSSN,
		},
		{
			def: Definition{
				Name: "strip_ssn", Category: "identity",
				InputType: "string", OutputType: "string",
				Description: "Strips an SSN down to its 9 digits",
			},
			fn: stripSSN,
		},
		{
			def: Definition{
				Name: "format_phone", Category: "identity",
				InputType: "string", OutputType: "string",
				Description: "Formats a 10-digit US phone number as (XXX) XXX-XXXX",
			},
			fn: formatPhone,
		},
		{
			def: Definition{
				Name: "format_date", Category: "date",
				InputType: "string", OutputType: "string",
				Params: []ParamSpec{
					{Name: "input_format", Type: "string", Description: "Go layout of the input, default 2006-01-02"},
					{Name: "output_format", Type: "string", Description: "Go layout of the output, default 01/02/2006"},
				},
			},
			fn: formatDate,
		},
		{
			def: Definition{
				Name: "parse_date", Category: "date",
				InputType: "string", OutputType: "string",
				Description: "Parses a date in one of the common payroll layouts and emits ISO 8601 (2006-01-02)",
			},
			fn: parseDate,
		},
		{
			def: Definition{
				Name: "multiply", Category: "numeric",
				InputType: "string|number", OutputType: "number",
				Params: []ParamSpec{{Name: "factor", Type: "number", Required: true}},
			},
			fn: multiply,
		},
		{
			def: Definition{
				Name: "divide", Category: "numeric",
				InputType: "string|number", OutputType: "number",
				Params: []ParamSpec{{Name: "divisor", Type: "number", Required: true}},
			},
			fn: divide,
		},
		{
			def: Definition{
				Name: "round", Category: "numeric",
				InputType: "string|number", OutputType: "number",
				Params: []ParamSpec{{Name: "precision", Type: "number", Description: "Decimal places, default 0"}},
			},
			fn: roundTo,
		},
		{
			def: Definition{
				Name: "prefix", Category: "string",
				InputType: "string", OutputType: "string",
				Params: []ParamSpec{{Name: "value", Type: "string", Required: true}},
			},
			fn: prefix,
		},
		{
			def: Definition{
				Name: "suffix", Category: "string",
				InputType: "string", OutputType: "string",
				Params: []ParamSpec{{Name: "value", Type: "string", Required: true}},
			},
			fn: suffix,
		},
		{
			def: Definition{
				Name: "substring", Category: "string",
				InputType: "string", OutputType: "string",
				Params: []ParamSpec{
					{Name: "start", Type: "number", Required: true},
					{Name: "length", Type: "number"},
				},
			},
			fn: substring,
		},
		{
			def: Definition{
				Name: "pad_left", Category: "string",
				InputType: "string", OutputType: "string",
				Params: []ParamSpec{
					{Name: "length", Type: "number", Required: true},
					{Name: "pad", Type: "string", Description: "Pad character, default '0'"},
				},
			},
			fn: padLeft,
		},
		{
			def: Definition{
				Name: "default_if_empty", Category: "string",
				InputType: "any", OutputType: "any",
				Params: []ParamSpec{{Name: "default", Type: "string", Required: true}},
			},
			fn: defaultIfEmpty,
		},
		{
			def: Definition{
				Name: "to_string", Category: "string",
				InputType: "any", OutputType: "string",
			},
			fn: toStringFn,
		},
		{
			def: Definition{
				Name: "to_number", Category: "numeric",
				InputType: "string|number", OutputType: "number",
			},
			fn: toNumber,
		},
		{
			def: Definition{
				Name: "map_boolean", Category: "string",
				InputType: "any", OutputType: "string",
				Params: []ParamSpec{
					{Name: "true_value", Type: "string", Description: "Output for truthy input, default \"Y\""},
					{Name: "false_value", Type: "string", Description: "Output for falsy input, default \"N\""},
				},
			},
			fn: mapBoolean,
		},
	}
}

// ==============================================================================
// Money
// ==============================================================================

func toCents(value any, _ map[string]any) (any, error) {
	f, err := coerceFloat(value)
	if err != nil {
		return nil, fmt.Errorf("to_cents: %w", err)
	}
	return int64(math.Round(f * 100)), nil
}

func fromCents(value any, _ map[string]any) (any, error) {
	f, err := coerceFloat(value)
	if err != nil {
		return nil, fmt.Errorf("from_cents: %w", err)
	}
	return strconv.FormatFloat(f/100, 'f', 2, 64), nil
}

// ==============================================================================
// Strings
// ==============================================================================

func stringFn(f func(string) string) Func {
	return func(value any, _ map[string]any) (any, error) {
		s, err := coerceString(value)
		if err != nil {
			return nil, err
		}
		return f(s), nil
	}
}

func titleCase(value any, _ map[string]any) (any, error) {
	s, err := coerceString(value)
	if err != nil {
		return nil, err
	}
	words := strings.Fields(strings.ToLower(s))
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " "), nil
}

func prefix(value any, params map[string]any) (any, error) {
	s, err := coerceString(value)
	if err != nil {
		return nil, err
	}
	p, err := requireStringParam(params, "value", "prefix")
	if err != nil {
		return nil, err
	}
	return p + s, nil
}

func suffix(value any, params map[string]any) (any, error) {
	s, err := coerceString(value)
	if err != nil {
		return nil, err
	}
	p, err := requireStringParam(params, "value", "suffix")
	if err != nil {
		return nil, err
	}
	return s + p, nil
}

func substring(value any, params map[string]any) (any, error) {
	s, err := coerceString(value)
	if err != nil {
		return nil, err
	}
	start, err := requireIntParam(params, "start", "substring")
	if err != nil {
		return nil, err
	}
	if start < 0 || start > len(s) {
		return "", nil
	}
	out := s[start:]
	if raw, ok := params["length"]; ok {
		length, err := coerceInt(raw)
		if err != nil {
			return nil, fmt.Errorf("substring: length: %w", err)
		}
		if length >= 0 && length < len(out) {
			out = out[:length]
		}
	}
	return out, nil
}

func padLeft(value any, params map[string]any) (any, error) {
	s, err := coerceString(value)
	if err != nil {
		return nil, err
	}
	length, err := requireIntParam(params, "length", "pad_left")
	if err != nil {
		return nil, err
	}
	pad := "0"
	if raw, ok := params["pad"]; ok {
		if ps, ok := raw.(string); ok && ps != "" {
			pad = ps[:1]
		}
	}
	for len(s) < length {
		s = pad + s
	}
	return s, nil
}

func defaultIfEmpty(value any, params map[string]any) (any, error) {
	def, err := requireStringParam(params, "default", "default_if_empty")
	if err != nil {
		return nil, err
	}
	if value == nil {
		return def, nil
	}
	if s, ok := value.(string); ok && strings.TrimSpace(s) == "" {
		return def, nil
	}
	return value, nil
}

func toStringFn(value any, _ map[string]any) (any, error) {
	if value == nil {
		return "", nil
	}
	return fmt.Sprintf("%v", value), nil
}

func mapBoolean(value any, params map[string]any) (any, error) {
	trueVal := "Y"
	falseVal := "N"
	if s, ok := params["true_value"].(string); ok {
		trueVal = s
	}
	if s, ok := params["false_value"].(string); ok {
		falseVal = s
	}

	switch v := value.(type) {
	case bool:
		if v {
			return trueVal, nil
		}
		return falseVal, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true", "yes", "y", "1", "t":
			return trueVal, nil
		default:
			return falseVal, nil
		}
	case nil:
		return falseVal, nil
	default:
		f, err := coerceFloat(value)
		if err != nil {
			return falseVal, nil
		}
		if f != 0 {
			return trueVal, nil
		}
		return falseVal, nil
	}
}

// ==============================================================================
// Identity fields
// ==============================================================================

func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func formatSSN(value any, _ map[string]any) (any, error) {
	s, err := coerceString(value)
	if err != nil {
		return nil, err
	}
	digits := digitsOnly(s)
	if len(digits) != 9 {
		return nil, fmt.Errorf("format_ssn: expected 9 digits, got %d", len(digits))
	}
	return digits[:3] + "-" + digits[3:5] + "-" + digits[5:], nil
}

func stripSSN(value any, _ map[string]any) (any, error) {
	s, err := coerceString(value)
	if err != nil {
		return nil, err
	}
	digits := digitsOnly(s)
	if len(digits) != 9 {
		return nil, fmt.Errorf("strip_ssn: expected 9 digits, got %d", len(digits))
	}
	return digits, nil
}

func formatPhone(value any, _ map[string]any) (any, error) {
	s, err := coerceString(value)
	if err != nil {
		return nil, err
	}
	digits := digitsOnly(s)
	// Tolerate a leading US country code.
	if len(digits) == 11 && digits[0] == '1' {
		digits = digits[1:]
	}
	if len(digits) != 10 {
		return nil, fmt.Errorf("format_phone: expected 10 digits, got %d", len(digits))
	}
	return "(" + digits[:3] + ") " + digits[3:6] + "-" + digits[6:], nil
}

// ==============================================================================
// Dates
// ==============================================================================

// commonDateLayouts are tried in order by parse_date. Payroll exports are
// inconsistent about date formats, so the parser is deliberately lenient.
var commonDateLayouts = []string{
	"2006-01-02",
	"01/02/2006",
	"1/2/2006",
	"01-02-2006",
	"20060102",
	time.RFC3339,
	"2006-01-02 15:04:05",
}

func formatDate(value any, params map[string]any) (any, error) {
	s, err := coerceString(value)
	if err != nil {
		return nil, err
	}
	inFormat := "2006-01-02"
	outFormat := "01/02/2006"
	if f, ok := params["input_format"].(string); ok && f != "" {
		inFormat = f
	}
	if f, ok := params["output_format"].(string); ok && f != "" {
		outFormat = f
	}

	t, err := time.Parse(inFormat, strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("format_date: %w", err)
	}
	return t.Format(outFormat), nil
}

func parseDate(value any, _ map[string]any) (any, error) {
	s, err := coerceString(value)
	if err != nil {
		return nil, err
	}
	trimmed := strings.TrimSpace(s)
	for _, layout := range commonDateLayouts {
		if t, err := time.Parse(layout, trimmed); err == nil {
			return t.Format("2006-01-02"), nil
		}
	}
	return nil, fmt.Errorf("parse_date: unrecognized date %q", s)
}

// ==============================================================================
// Numerics
// ==============================================================================

func multiply(value any, params map[string]any) (any, error) {
	f, err := coerceFloat(value)
	if err != nil {
		return nil, fmt.Errorf("multiply: %w", err)
	}
	factor, err := requireFloatParam(params, "factor", "multiply")
	if err != nil {
		return nil, err
	}
	return f * factor, nil
}

func divide(value any, params map[string]any) (any, error) {
	f, err := coerceFloat(value)
	if err != nil {
		return nil, fmt.Errorf("divide: %w", err)
	}
	divisor, err := requireFloatParam(params, "divisor", "divide")
	if err != nil {
		return nil, err
	}
	if divisor == 0 {
		return nil, fmt.Errorf("divide: divisor must not be zero")
	}
	return f / divisor, nil
}

func roundTo(value any, params map[string]any) (any, error) {
	f, err := coerceFloat(value)
	if err != nil {
		return nil, fmt.Errorf("round: %w", err)
	}
	precision := 0
	if raw, ok := params["precision"]; ok {
		precision, err = coerceInt(raw)
		if err != nil {
			return nil, fmt.Errorf("round: precision: %w", err)
		}
	}
	shift := math.Pow(10, float64(precision))
	return math.Round(f*shift) / shift, nil
}

func toNumber(value any, _ map[string]any) (any, error) {
	f, err := coerceFloat(value)
	if err != nil {
		return nil, fmt.Errorf("to_number: %w", err)
	}
	return f, nil
}

// ==============================================================================
// Coercion helpers
// ==============================================================================

func coerceString(value any) (string, error) {
	switch v := value.(type) {
	case nil:
		return "", fmt.Errorf("value is null")
	case string:
		return v, nil
	default:
		return fmt.Sprintf("%v", v), nil
	}
}

func coerceFloat(value any) (float64, error) {
	switch v := value.(type) {
	case nil:
		return 0, fmt.Errorf("value is null")
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int32:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case string:
		// Tolerate currency formatting from CSV payroll exports.
		cleaned := strings.TrimSpace(v)
		cleaned = strings.TrimPrefix(cleaned, "$")
		cleaned = strings.ReplaceAll(cleaned, ",", "")
		if cleaned == "" {
			return 0, fmt.Errorf("value is empty")
		}
		f, err := strconv.ParseFloat(cleaned, 64)
		if err != nil {
			return 0, fmt.Errorf("value %q is not numeric", v)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("value of type %T is not numeric", value)
	}
}

func coerceInt(value any) (int, error) {
	f, err := coerceFloat(value)
	if err != nil {
		return 0, err
	}
	return int(f), nil
}

func requireStringParam(params map[string]any, key, op string) (string, error) {
	raw, ok := params[key]
	if !ok {
		return "", fmt.Errorf("%s: missing required param %q", op, key)
	}
	s, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("%s: param %q must be a string", op, key)
	}
	return s, nil
}

func requireFloatParam(params map[string]any, key, op string) (float64, error) {
	raw, ok := params[key]
	if !ok {
		return 0, fmt.Errorf("%s: missing required param %q", op, key)
	}
	f, err := coerceFloat(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: param %q: %w", op, key, err)
	}
	return f, nil
}

func requireIntParam(params map[string]any, key, op string) (int, error) {
	f, err := requireFloatParam(params, key, op)
	if err != nil {
		return 0, err
	}
	return int(f), nil
}
