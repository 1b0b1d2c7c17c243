package mapping

import (
	"fmt"
	"strconv"
	"strings"
)

// expr.go implements the restricted expression language used by
// conditional mappings and calculated fields. The operator set is closed
// by design: a small hand-written tokenizer and recursive-descent parser
// produce a fixed AST, never an embedded scripting facility.
//
// Conditions:  <field> <op> [<literal>] combined with AND/OR and parentheses.
// Formulas:    + - * /, parentheses, numeric literals, field references.

// =============================================================================
// Tokenizer
// =============================================================================

type tokenKind int

const (
	tokenEOF tokenKind = iota
	tokenIdent
	tokenNumber
	tokenString
	tokenLParen
	tokenRParen
	tokenOperator // symbolic: == != > >= < <= + - * /
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

func tokenize(input string) ([]token, error) {
	var tokens []token
	i := 0
	for i < len(input) {
		c := input[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case c == '(':
			tokens = append(tokens, token{tokenLParen, "(", i})
			i++
		case c == ')':
			tokens = append(tokens, token{tokenRParen, ")", i})
			i++
		case c == '\'' || c == '"':
			quote := c
			j := i + 1
			for j < len(input) && input[j] != quote {
				j++
			}
			if j >= len(input) {
				return nil, fmt.Errorf("unterminated string literal at position %d", i)
			}
			tokens = append(tokens, token{tokenString, input[i+1 : j], i})
			i = j + 1
		case c == '=' || c == '!' || c == '<' || c == '>':
			j := i + 1
			if j < len(input) && input[j] == '=' {
				j++
			}
			op := input[i:j]
			if op == "=" {
				op = "=="
			}
			tokens = append(tokens, token{tokenOperator, op, i})
			i = j
		case c == '+' || c == '-' || c == '*' || c == '/':
			tokens = append(tokens, token{tokenOperator, string(c), i})
			i++
		case c >= '0' && c <= '9' || c == '.':
			j := i
			for j < len(input) && (input[j] >= '0' && input[j] <= '9' || input[j] == '.') {
				j++
			}
			tokens = append(tokens, token{tokenNumber, input[i:j], i})
			i = j
		case isIdentChar(c):
			j := i
			for j < len(input) && (isIdentChar(input[j]) || input[j] >= '0' && input[j] <= '9') {
				j++
			}
			tokens = append(tokens, token{tokenIdent, input[i:j], i})
			i = j
		default:
			return nil, fmt.Errorf("unexpected character %q at position %d", c, i)
		}
	}
	return tokens, nil
}

func isIdentChar(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c == '_' || c == '.'
}

// =============================================================================
// Conditions
// =============================================================================

// Comparison operators accepted in conditions. Word forms are the
// canonical rule-schema spelling; symbolic forms are accepted for
// operator convenience when authoring rules by hand.
var conditionOps = map[string]string{
	"equals":                "equals",
	"==":                    "equals",
	"not_equals":            "not_equals",
	"!=":                    "not_equals",
	"greater_than":          "greater_than",
	">":                     "greater_than",
	"greater_than_or_equal": "greater_than_or_equal",
	">=":                    "greater_than_or_equal",
	"less_than":             "less_than",
	"<":                     "less_than",
	"less_than_or_equal":    "less_than_or_equal",
	"<=":                    "less_than_or_equal",
	"contains":              "contains",
	"starts_with":           "starts_with",
	"ends_with":             "ends_with",
	"is_null":               "is_null",
	"is_not_null":           "is_not_null",
	"is_empty":              "is_empty",
	"is_not_empty":          "is_not_empty",
}

// unaryConditionOps take no right-hand literal.
var unaryConditionOps = map[string]bool{
	"is_null":      true,
	"is_not_null":  true,
	"is_empty":     true,
	"is_not_empty": true,
}

// Condition is a parsed restricted boolean expression evaluated against
// the combined source + already-mapped destination view of a record.
type Condition struct {
	root condNode
	raw  string
}

type condNode interface {
	eval(view Record) (bool, error)
}

type condBinary struct {
	op          string // "and", "or"
	left, right condNode
}

func (n *condBinary) eval(view Record) (bool, error) {
	left, err := n.left.eval(view)
	if err != nil {
		return false, err
	}
	// Short-circuit.
	if n.op == "and" && !left {
		return false, nil
	}
	if n.op == "or" && left {
		return true, nil
	}
	return n.right.eval(view)
}

type condCompare struct {
	field   string
	op      string
	literal any
}

func (n *condCompare) eval(view Record) (bool, error) {
	value, present := view[n.field]

	switch n.op {
	case "is_null":
		return !present || value == nil, nil
	case "is_not_null":
		return present && value != nil, nil
	case "is_empty":
		return isEmptyValue(value) || !present, nil
	case "is_not_empty":
		return present && !isEmptyValue(value), nil
	}

	switch n.op {
	case "equals":
		return looseEqual(value, n.literal), nil
	case "not_equals":
		return !looseEqual(value, n.literal), nil
	case "greater_than", "greater_than_or_equal", "less_than", "less_than_or_equal":
		cmp, err := looseCompare(value, n.literal)
		if err != nil {
			return false, fmt.Errorf("field %q: %w", n.field, err)
		}
		switch n.op {
		case "greater_than":
			return cmp > 0, nil
		case "greater_than_or_equal":
			return cmp >= 0, nil
		case "less_than":
			return cmp < 0, nil
		default:
			return cmp <= 0, nil
		}
	case "contains":
		return strings.Contains(stringify(value), stringify(n.literal)), nil
	case "starts_with":
		return strings.HasPrefix(stringify(value), stringify(n.literal)), nil
	case "ends_with":
		return strings.HasSuffix(stringify(value), stringify(n.literal)), nil
	default:
		return false, fmt.Errorf("unsupported operator %q", n.op)
	}
}

// ParseCondition parses a restricted boolean condition. Parse failures are
// rule-definition errors surfaced at rule-set activation time.
func ParseCondition(input string) (*Condition, error) {
	tokens, err := tokenize(input)
	if err != nil {
		return nil, err
	}
	p := &parser{tokens: tokens, input: input}
	root, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if !p.done() {
		return nil, fmt.Errorf("unexpected trailing input at position %d", p.peek().pos)
	}
	return &Condition{root: root, raw: input}, nil
}

// Eval evaluates the condition against the combined record view.
func (c *Condition) Eval(view Record) (bool, error) {
	return c.root.eval(view)
}

// String returns the original condition text.
func (c *Condition) String() string { return c.raw }

type parser struct {
	tokens []token
	pos    int
	input  string
}

func (p *parser) done() bool { return p.pos >= len(p.tokens) }

func (p *parser) peek() token {
	if p.done() {
		return token{kind: tokenEOF, pos: len(p.input)}
	}
	return p.tokens[p.pos]
}

func (p *parser) next() token {
	t := p.peek()
	p.pos++
	return t
}

func (p *parser) parseOr() (condNode, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for !p.done() && p.peek().kind == tokenIdent && strings.EqualFold(p.peek().text, "or") {
		p.next()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &condBinary{op: "or", left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseAnd() (condNode, error) {
	left, err := p.parseCondUnary()
	if err != nil {
		return nil, err
	}
	for !p.done() && p.peek().kind == tokenIdent && strings.EqualFold(p.peek().text, "and") {
		p.next()
		right, err := p.parseCondUnary()
		if err != nil {
			return nil, err
		}
		left = &condBinary{op: "and", left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseCondUnary() (condNode, error) {
	if p.peek().kind == tokenLParen {
		p.next()
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if p.peek().kind != tokenRParen {
			return nil, fmt.Errorf("expected ')' at position %d", p.peek().pos)
		}
		p.next()
		return inner, nil
	}
	return p.parseComparison()
}

func (p *parser) parseComparison() (condNode, error) {
	fieldTok := p.next()
	if fieldTok.kind != tokenIdent {
		return nil, fmt.Errorf("expected field name at position %d", fieldTok.pos)
	}

	opTok := p.next()
	if opTok.kind != tokenIdent && opTok.kind != tokenOperator {
		return nil, fmt.Errorf("expected operator after %q at position %d", fieldTok.text, opTok.pos)
	}
	op, ok := conditionOps[strings.ToLower(opTok.text)]
	if !ok {
		return nil, fmt.Errorf("unsupported operator %q at position %d", opTok.text, opTok.pos)
	}

	node := &condCompare{field: fieldTok.text, op: op}
	if unaryConditionOps[op] {
		return node, nil
	}

	litTok := p.next()
	switch litTok.kind {
	case tokenString:
		node.literal = litTok.text
	case tokenNumber:
		f, err := strconv.ParseFloat(litTok.text, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid number %q at position %d", litTok.text, litTok.pos)
		}
		node.literal = f
	case tokenIdent:
		switch strings.ToLower(litTok.text) {
		case "true":
			node.literal = true
		case "false":
			node.literal = false
		case "null":
			node.literal = nil
		default:
			// Bare words compare as strings; rule authors rarely quote
			// enumeration codes like ACTIVE.
			node.literal = litTok.text
		}
	default:
		return nil, fmt.Errorf("expected literal after operator %q at position %d", opTok.text, litTok.pos)
	}
	return node, nil
}

// =============================================================================
// Formulas
// =============================================================================

// Formula is a parsed restricted arithmetic expression over numeric
// source fields.
type Formula struct {
	root formulaNode
	raw  string
}

type formulaNode interface {
	eval(view Record) (float64, error)
}

type formulaNumber struct{ value float64 }

func (n *formulaNumber) eval(Record) (float64, error) { return n.value, nil }

type formulaField struct{ name string }

func (n *formulaField) eval(view Record) (float64, error) {
	value, ok := view[n.name]
	if !ok || value == nil {
		return 0, fmt.Errorf("field %q is missing or null", n.name)
	}
	f, err := numericValue(value)
	if err != nil {
		return 0, fmt.Errorf("field %q: %w", n.name, err)
	}
	return f, nil
}

type formulaBinary struct {
	op          byte // + - * /
	left, right formulaNode
}

func (n *formulaBinary) eval(view Record) (float64, error) {
	left, err := n.left.eval(view)
	if err != nil {
		return 0, err
	}
	right, err := n.right.eval(view)
	if err != nil {
		return 0, err
	}
	switch n.op {
	case '+':
		return left + right, nil
	case '-':
		return left - right, nil
	case '*':
		return left * right, nil
	default:
		if right == 0 {
			return 0, fmt.Errorf("division by zero")
		}
		return left / right, nil
	}
}

type formulaNegate struct{ inner formulaNode }

func (n *formulaNegate) eval(view Record) (float64, error) {
	v, err := n.inner.eval(view)
	return -v, err
}

// ParseFormula parses a restricted arithmetic formula. Parse failures are
// rule-definition errors surfaced at rule-set activation time.
func ParseFormula(input string) (*Formula, error) {
	tokens, err := tokenize(input)
	if err != nil {
		return nil, err
	}
	p := &parser{tokens: tokens, input: input}
	root, err := p.parseSum()
	if err != nil {
		return nil, err
	}
	if !p.done() {
		return nil, fmt.Errorf("unexpected trailing input at position %d", p.peek().pos)
	}
	return &Formula{root: root, raw: input}, nil
}

// Eval evaluates the formula against the combined record view.
func (f *Formula) Eval(view Record) (float64, error) {
	return f.root.eval(view)
}

// String returns the original formula text.
func (f *Formula) String() string { return f.raw }

func (p *parser) parseSum() (formulaNode, error) {
	left, err := p.parseProduct()
	if err != nil {
		return nil, err
	}
	for !p.done() && p.peek().kind == tokenOperator && (p.peek().text == "+" || p.peek().text == "-") {
		op := p.next().text[0]
		right, err := p.parseProduct()
		if err != nil {
			return nil, err
		}
		left = &formulaBinary{op: op, left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseProduct() (formulaNode, error) {
	left, err := p.parseFactor()
	if err != nil {
		return nil, err
	}
	for !p.done() && p.peek().kind == tokenOperator && (p.peek().text == "*" || p.peek().text == "/") {
		op := p.next().text[0]
		right, err := p.parseFactor()
		if err != nil {
			return nil, err
		}
		left = &formulaBinary{op: op, left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseFactor() (formulaNode, error) {
	tok := p.peek()
	switch tok.kind {
	case tokenNumber:
		p.next()
		f, err := strconv.ParseFloat(tok.text, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid number %q at position %d", tok.text, tok.pos)
		}
		return &formulaNumber{value: f}, nil
	case tokenIdent:
		p.next()
		return &formulaField{name: tok.text}, nil
	case tokenLParen:
		p.next()
		inner, err := p.parseSum()
		if err != nil {
			return nil, err
		}
		if p.peek().kind != tokenRParen {
			return nil, fmt.Errorf("expected ')' at position %d", p.peek().pos)
		}
		p.next()
		return inner, nil
	case tokenOperator:
		if tok.text == "-" {
			p.next()
			inner, err := p.parseFactor()
			if err != nil {
				return nil, err
			}
			return &formulaNegate{inner: inner}, nil
		}
	}
	return nil, fmt.Errorf("unexpected token %q at position %d", tok.text, tok.pos)
}

// =============================================================================
// Value helpers
// =============================================================================

func isEmptyValue(value any) bool {
	switch v := value.(type) {
	case nil:
		return true
	case string:
		return v == ""
	case []any:
		return len(v) == 0
	default:
		return false
	}
}

func stringify(value any) string {
	if value == nil {
		return ""
	}
	if s, ok := value.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", value)
}

// numericValue converts record values to float64 for arithmetic and
// ordering comparisons. Strings are parsed so CSV-sourced batches compare
// naturally.
func numericValue(value any) (float64, error) {
	switch v := value.(type) {
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
	case bool:
		if v {
			return 1, nil
		}
		return 0, nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, fmt.Errorf("value %q is not numeric", v)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("value of type %T is not numeric", value)
	}
}

// looseEqual compares numerically when both sides parse as numbers, so
// "50" and "50.0" both equal 50. Non-numeric values fall back to their
// string form.
func looseEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	fa, errA := numericValue(a)
	fb, errB := numericValue(b)
	if errA == nil && errB == nil {
		return fa == fb
	}
	return stringify(a) == stringify(b)
}

// looseCompare returns -1/0/1. Ordering requires both sides numeric or
// falls back to lexical comparison of their string forms.
func looseCompare(a, b any) (int, error) {
	if a == nil || b == nil {
		return 0, fmt.Errorf("cannot order null values")
	}
	fa, errA := numericValue(a)
	fb, errB := numericValue(b)
	if errA == nil && errB == nil {
		switch {
		case fa < fb:
			return -1, nil
		case fa > fb:
			return 1, nil
		default:
			return 0, nil
		}
	}
	return strings.Compare(stringify(a), stringify(b)), nil
}
