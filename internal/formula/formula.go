// Package formula evaluates restricted pricing expressions. Formulas
// are parsed into an explicit expression tree over a closed operator
// and function set and interpreted against the supplied variables, so
// no formula text is ever handed to a general-purpose evaluator.
package formula

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// ErrSecurity marks a formula rejected for containing constructs that
// have no place in a pricing expression.
var ErrSecurity = errors.New("formula: forbidden construct")

// funcs is the whitelist of callable functions.
var funcs = map[string]struct {
	minArgs int
	maxArgs int
}{
	"abs":   {1, 1},
	"min":   {2, -1},
	"max":   {2, -1},
	"round": {1, 2},
	"pow":   {2, 2},
}

// denied are substrings that immediately fail a formula with a
// security error before parsing. The parser would reject them anyway,
// but a hostile formula should be reported as hostile, not malformed.
var denied = []string{"import", "__", "exec(", "eval(", "open("}

// Evaluate parses and interprets a formula against the supplied
// variables. Variables outside the map are unresolvable and fail the
// evaluation.
func Evaluate(formula string, vars map[string]float64) (float64, error) {
	node, err := Parse(formula)
	if err != nil {
		return 0, err
	}
	return node.eval(vars)
}

// Validate parses the formula and interprets it against placeholder
// values, reporting syntax and security failures without side effects.
func Validate(formula string) error {
	_, err := Evaluate(formula, map[string]float64{
		"area":       100,
		"base_price": 0,
		"rate":       0.05,
		"length":     10,
		"width":      10,
	})
	return err
}

// Parse compiles a formula into an expression tree.
func Parse(formula string) (node, error) {
	trimmed := strings.TrimSpace(formula)
	if trimmed == "" {
		return nil, fmt.Errorf("formula is empty")
	}

	lowered := strings.ToLower(trimmed)
	for _, d := range denied {
		if strings.Contains(lowered, d) {
			return nil, fmt.Errorf("%q: %w", d, ErrSecurity)
		}
	}

	toks, err := lex(trimmed)
	if err != nil {
		return nil, err
	}

	p := &parser{toks: toks}
	n, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if !p.atEnd() {
		return nil, fmt.Errorf("unexpected %q at position %d", p.peek().text, p.peek().pos)
	}
	return n, nil
}

// --- lexer ---

type tokenKind int

const (
	tokNumber tokenKind = iota
	tokIdent
	tokOp
	tokLParen
	tokRParen
	tokComma
)

type token struct {
	kind tokenKind
	text string
	num  float64
	pos  int
}

func lex(src string) ([]token, error) {
	var toks []token
	i := 0
	for i < len(src) {
		c := src[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case c >= '0' && c <= '9' || c == '.':
			start := i
			seenDot := false
			for i < len(src) && (src[i] >= '0' && src[i] <= '9' || src[i] == '.') {
				if src[i] == '.' {
					if seenDot {
						return nil, fmt.Errorf("malformed number at position %d", start)
					}
					seenDot = true
				}
				i++
			}
			text := src[start:i]
			var num float64
			if _, err := fmt.Sscanf(text, "%g", &num); err != nil {
				return nil, fmt.Errorf("malformed number %q at position %d", text, start)
			}
			toks = append(toks, token{kind: tokNumber, text: text, num: num, pos: start})
		case isIdentStart(c):
			start := i
			for i < len(src) && isIdentPart(src[i]) {
				i++
			}
			toks = append(toks, token{kind: tokIdent, text: strings.ToLower(src[start:i]), pos: start})
		case c == '(':
			toks = append(toks, token{kind: tokLParen, text: "(", pos: i})
			i++
		case c == ')':
			toks = append(toks, token{kind: tokRParen, text: ")", pos: i})
			i++
		case c == ',':
			toks = append(toks, token{kind: tokComma, text: ",", pos: i})
			i++
		default:
			// Multi-character operators first
			two := ""
			if i+1 < len(src) {
				two = src[i : i+2]
			}
			switch two {
			case "**", "<=", ">=", "==", "!=", "&&", "||":
				toks = append(toks, token{kind: tokOp, text: two, pos: i})
				i += 2
				continue
			}
			switch c {
			case '+', '-', '*', '/', '%', '<', '>', '!':
				toks = append(toks, token{kind: tokOp, text: string(c), pos: i})
				i++
			default:
				return nil, fmt.Errorf("unexpected character %q at position %d", string(c), i)
			}
		}
	}
	return toks, nil
}

func isIdentStart(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c == '_'
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || c >= '0' && c <= '9'
}

// --- AST ---

type node interface {
	eval(vars map[string]float64) (float64, error)
}

type numberNode float64

func (n numberNode) eval(map[string]float64) (float64, error) { return float64(n), nil }

type varNode string

func (n varNode) eval(vars map[string]float64) (float64, error) {
	v, ok := vars[string(n)]
	if !ok {
		return 0, fmt.Errorf("unknown variable %q", string(n))
	}
	return v, nil
}

type unaryNode struct {
	op string
	x  node
}

func (n unaryNode) eval(vars map[string]float64) (float64, error) {
	v, err := n.x.eval(vars)
	if err != nil {
		return 0, err
	}
	switch n.op {
	case "-":
		return -v, nil
	case "+":
		return v, nil
	case "not":
		return boolVal(v == 0), nil
	}
	return 0, fmt.Errorf("unknown unary operator %q", n.op)
}

type binaryNode struct {
	op   string
	l, r node
}

func (n binaryNode) eval(vars map[string]float64) (float64, error) {
	l, err := n.l.eval(vars)
	if err != nil {
		return 0, err
	}

	// Short-circuit boolean operators
	switch n.op {
	case "and":
		if l == 0 {
			return 0, nil
		}
		return n.r.eval(vars)
	case "or":
		if l != 0 {
			return l, nil
		}
		return n.r.eval(vars)
	}

	r, err := n.r.eval(vars)
	if err != nil {
		return 0, err
	}

	switch n.op {
	case "+":
		return l + r, nil
	case "-":
		return l - r, nil
	case "*":
		return l * r, nil
	case "/":
		if r == 0 {
			return 0, fmt.Errorf("division by zero")
		}
		return l / r, nil
	case "%":
		if r == 0 {
			return 0, fmt.Errorf("modulo by zero")
		}
		return math.Mod(l, r), nil
	case "**":
		return math.Pow(l, r), nil
	case "<":
		return boolVal(l < r), nil
	case ">":
		return boolVal(l > r), nil
	case "<=":
		return boolVal(l <= r), nil
	case ">=":
		return boolVal(l >= r), nil
	case "==":
		return boolVal(l == r), nil
	case "!=":
		return boolVal(l != r), nil
	}
	return 0, fmt.Errorf("unknown operator %q", n.op)
}

type condNode struct {
	cond, then, els node
}

func (n condNode) eval(vars map[string]float64) (float64, error) {
	c, err := n.cond.eval(vars)
	if err != nil {
		return 0, err
	}
	if c != 0 {
		return n.then.eval(vars)
	}
	return n.els.eval(vars)
}

type callNode struct {
	name string
	args []node
}

func (n callNode) eval(vars map[string]float64) (float64, error) {
	vals := make([]float64, len(n.args))
	for i, a := range n.args {
		v, err := a.eval(vars)
		if err != nil {
			return 0, err
		}
		vals[i] = v
	}

	switch n.name {
	case "abs":
		return math.Abs(vals[0]), nil
	case "min":
		m := vals[0]
		for _, v := range vals[1:] {
			m = math.Min(m, v)
		}
		return m, nil
	case "max":
		m := vals[0]
		for _, v := range vals[1:] {
			m = math.Max(m, v)
		}
		return m, nil
	case "round":
		if len(vals) == 2 {
			shift := math.Pow(10, vals[1])
			return math.Round(vals[0]*shift) / shift, nil
		}
		return math.Round(vals[0]), nil
	case "pow":
		return math.Pow(vals[0], vals[1]), nil
	}
	return 0, fmt.Errorf("unknown function %q", n.name)
}

func boolVal(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// --- parser ---

type parser struct {
	toks []token
	i    int
}

func (p *parser) peek() token {
	if p.i < len(p.toks) {
		return p.toks[p.i]
	}
	return token{kind: tokOp, text: "", pos: -1}
}

func (p *parser) next() token {
	t := p.peek()
	p.i++
	return t
}

func (p *parser) atEnd() bool { return p.i >= len(p.toks) }

func (p *parser) acceptIdent(word string) bool {
	if t := p.peek(); t.kind == tokIdent && t.text == word {
		p.i++
		return true
	}
	return false
}

func (p *parser) acceptOp(ops ...string) (string, bool) {
	t := p.peek()
	if t.kind != tokOp {
		return "", false
	}
	for _, op := range ops {
		if t.text == op {
			p.i++
			return op, true
		}
	}
	return "", false
}

// parseExpr handles both conditional forms. Branches may themselves
// be conditionals.
//
//	if COND then A else B
//	A if COND else B
func (p *parser) parseExpr() (node, error) {
	if p.acceptIdent("if") {
		cond, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if !p.acceptIdent("then") {
			return nil, fmt.Errorf("expected 'then' in conditional")
		}
		then, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if !p.acceptIdent("else") {
			return nil, fmt.Errorf("expected 'else' in conditional")
		}
		els, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		return condNode{cond: cond, then: then, els: els}, nil
	}

	value, err := p.parseOr()
	if err != nil {
		return nil, err
	}

	// Trailing ternary: VALUE if COND else OTHER
	if p.acceptIdent("if") {
		cond, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if !p.acceptIdent("else") {
			return nil, fmt.Errorf("expected 'else' in conditional")
		}
		els, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		return condNode{cond: cond, then: value, els: els}, nil
	}

	return value, nil
}

func (p *parser) parseOr() (node, error) {
	l, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for {
		if _, ok := p.acceptOp("||"); !ok && !p.acceptIdent("or") {
			return l, nil
		}
		r, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		l = binaryNode{op: "or", l: l, r: r}
	}
}

func (p *parser) parseAnd() (node, error) {
	l, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for {
		if _, ok := p.acceptOp("&&"); !ok && !p.acceptIdent("and") {
			return l, nil
		}
		r, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		l = binaryNode{op: "and", l: l, r: r}
	}
}

func (p *parser) parseNot() (node, error) {
	if _, ok := p.acceptOp("!"); ok || p.acceptIdent("not") {
		x, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return unaryNode{op: "not", x: x}, nil
	}
	return p.parseComparison()
}

func (p *parser) parseComparison() (node, error) {
	l, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}
	if op, ok := p.acceptOp("<=", ">=", "==", "!=", "<", ">"); ok {
		r, err := p.parseAdditive()
		if err != nil {
			return nil, err
		}
		return binaryNode{op: op, l: l, r: r}, nil
	}
	return l, nil
}

func (p *parser) parseAdditive() (node, error) {
	l, err := p.parseMultiplicative()
	if err != nil {
		return nil, err
	}
	for {
		op, ok := p.acceptOp("+", "-")
		if !ok {
			return l, nil
		}
		r, err := p.parseMultiplicative()
		if err != nil {
			return nil, err
		}
		l = binaryNode{op: op, l: l, r: r}
	}
}

func (p *parser) parseMultiplicative() (node, error) {
	l, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		op, ok := p.acceptOp("*", "/", "%")
		if !ok {
			return l, nil
		}
		r, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		l = binaryNode{op: op, l: l, r: r}
	}
}

func (p *parser) parseUnary() (node, error) {
	if op, ok := p.acceptOp("-", "+"); ok {
		x, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return unaryNode{op: op, x: x}, nil
	}
	return p.parsePower()
}

func (p *parser) parsePower() (node, error) {
	base, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	// Right-associative exponentiation
	if _, ok := p.acceptOp("**"); ok {
		exp, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return binaryNode{op: "**", l: base, r: exp}, nil
	}
	return base, nil
}

func (p *parser) parsePrimary() (node, error) {
	t := p.peek()
	switch t.kind {
	case tokNumber:
		p.next()
		return numberNode(t.num), nil
	case tokIdent:
		// Keywords cannot start a primary expression
		switch t.text {
		case "if", "then", "else", "and", "or", "not":
			return nil, fmt.Errorf("unexpected keyword %q at position %d", t.text, t.pos)
		}
		p.next()
		if p.peek().kind == tokLParen {
			return p.parseCall(t)
		}
		return varNode(t.text), nil
	case tokLParen:
		p.next()
		inner, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if p.peek().kind != tokRParen {
			return nil, fmt.Errorf("expected ')' at position %d", p.peek().pos)
		}
		p.next()
		return inner, nil
	}
	return nil, fmt.Errorf("unexpected %q at position %d", t.text, t.pos)
}

func (p *parser) parseCall(name token) (node, error) {
	spec, ok := funcs[name.text]
	if !ok {
		return nil, fmt.Errorf("function %q: %w", name.text, ErrSecurity)
	}

	p.next() // consume '('

	var args []node
	if p.peek().kind != tokRParen {
		for {
			arg, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			args = append(args, arg)
			if p.peek().kind == tokComma {
				p.next()
				continue
			}
			break
		}
	}

	if p.peek().kind != tokRParen {
		return nil, fmt.Errorf("expected ')' after arguments to %q", name.text)
	}
	p.next()

	if len(args) < spec.minArgs || (spec.maxArgs >= 0 && len(args) > spec.maxArgs) {
		return nil, fmt.Errorf("function %q: wrong number of arguments (%d)", name.text, len(args))
	}

	return callNode{name: name.text, args: args}, nil
}
