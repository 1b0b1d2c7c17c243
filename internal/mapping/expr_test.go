package mapping

import (
	"testing"
)

func evalCondition(t *testing.T, input string, view Record) bool {
	t.Helper()
	cond, err := ParseCondition(input)
	if err != nil {
		t.Fatalf("ParseCondition(%q) failed: %v", input, err)
	}
	got, err := cond.Eval(view)
	if err != nil {
		t.Fatalf("Eval(%q) failed: %v", input, err)
	}
	return got
}

func TestConditionOperators(t *testing.T) {
	view := Record{
		"status":     "A",
		"gross":      2500.0,
		"pretax":     "150.00",
		"last_name":  "Anderson",
		"terminated": nil,
		"notes":      "",
	}

	cases := []struct {
		input string
		want  bool
	}{
		{`status equals "A"`, true},
		{`status == "A"`, true},
		{`status equals "T"`, false},
		{`status not_equals "T"`, true},
		{`gross greater_than 1000`, true},
		{`gross > 2500`, false},
		{`gross >= 2500`, true},
		{`gross less_than 3000`, true},
		{`gross <= 2499`, false},
		{`pretax greater_than 100`, true}, // string field compares numerically
		{`pretax equals 150`, true},        // "150.00" and 150 are numerically equal
		{`gross equals "2500.0"`, true},
		{`last_name contains "ders"`, true},
		{`last_name starts_with "And"`, true},
		{`last_name ends_with "son"`, true},
		{`last_name ends_with "sen"`, false},
		{`terminated is_null`, true},
		{`terminated is_not_null`, false},
		{`missing_field is_null`, true},
		{`notes is_empty`, true},
		{`notes is_not_empty`, false},
		{`last_name is_not_empty`, true},
		{`status equals A`, true}, // bare word literal
	}

	for _, tc := range cases {
		t.Run(tc.input, func(t *testing.T) {
			if got := evalCondition(t, tc.input, view); got != tc.want {
				t.Errorf("Eval(%q) = %v, want %v", tc.input, got, tc.want)
			}
		})
	}
}

func TestConditionConjunctions(t *testing.T) {
	view := Record{"status": "A", "gross": 2500.0, "division": "100"}

	cases := []struct {
		input string
		want  bool
	}{
		{`status equals "A" and gross greater_than 1000`, true},
		{`status equals "T" and gross greater_than 1000`, false},
		{`status equals "T" or gross greater_than 1000`, true},
		{`status equals "T" or gross less_than 1000`, false},
		{`(status equals "A" or status equals "T") and division equals "100"`, true},
		{`status equals "A" AND gross > 0`, true}, // keywords are case-insensitive
	}

	for _, tc := range cases {
		t.Run(tc.input, func(t *testing.T) {
			if got := evalCondition(t, tc.input, view); got != tc.want {
				t.Errorf("Eval(%q) = %v, want %v", tc.input, got, tc.want)
			}
		})
	}
}

func TestConditionParseErrors(t *testing.T) {
	inputs := []string{
		"",
		"status",
		"status maps_to 4",
		`status equals "unterminated`,
		`(status equals "A"`,
		`status equals "A" garbage`,
	}

	for _, input := range inputs {
		if _, err := ParseCondition(input); err == nil {
			t.Errorf("ParseCondition(%q) should have failed", input)
		}
	}
}

func TestFormulaEvaluation(t *testing.T) {
	view := Record{
		"pretax": 100.0,
		"roth":   "50.5",
		"match":  25,
		"rate":   0.5,
	}

	cases := []struct {
		input string
		want  float64
	}{
		{"pretax + roth", 150.5},
		{"pretax - match", 75},
		{"pretax * rate", 50},
		{"pretax / match", 4},
		{"pretax + roth + match", 175.5},
		{"(pretax + match) * rate", 62.5},
		{"pretax + match * 2", 150}, // precedence
		{"-pretax + 150", 50},
		{"42", 42},
		{"pretax * 1.5", 150},
	}

	for _, tc := range cases {
		t.Run(tc.input, func(t *testing.T) {
			formula, err := ParseFormula(tc.input)
			if err != nil {
				t.Fatalf("ParseFormula(%q) failed: %v", tc.input, err)
			}
			got, err := formula.Eval(view)
			if err != nil {
				t.Fatalf("Eval(%q) failed: %v", tc.input, err)
			}
			if got != tc.want {
				t.Errorf("Eval(%q) = %v, want %v", tc.input, got, tc.want)
			}
		})
	}
}

func TestFormulaErrors(t *testing.T) {
	t.Run("parse errors", func(t *testing.T) {
		inputs := []string{
			"",
			"pretax +",
			"pretax ** 2",
			"(pretax + roth",
			"pretax roth",
			`pretax + "text"`,
		}
		for _, input := range inputs {
			if _, err := ParseFormula(input); err == nil {
				t.Errorf("ParseFormula(%q) should have failed", input)
			}
		}
	})

	t.Run("eval errors", func(t *testing.T) {
		formula, err := ParseFormula("pretax / divisor")
		if err != nil {
			t.Fatalf("ParseFormula failed: %v", err)
		}
		if _, err := formula.Eval(Record{"pretax": 10.0, "divisor": 0}); err == nil {
			t.Error("expected division by zero error")
		}
		if _, err := formula.Eval(Record{"pretax": 10.0}); err == nil {
			t.Error("expected missing field error")
		}
		if _, err := formula.Eval(Record{"pretax": 10.0, "divisor": "abc"}); err == nil {
			t.Error("expected non-numeric field error")
		}
	})
}
