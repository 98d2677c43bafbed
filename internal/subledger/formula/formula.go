// Package formula evaluates bill-head charge formulas.
//
// A formula is plain arithmetic over decimal literals and a fixed set of
// variables. Nothing else is accepted: there are no function calls, no
// assignments and no access to anything outside the bound variables.
//
// Grammar:
//
//	expression → term (('+' | '-') term)*
//	term       → factor (('*' | '/') factor)*
//	factor     → NUMBER | IDENT | '(' expression ')' | '-' factor
package formula

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

const (
	// VarUnitUsage is the metered consumption of the billed unit.
	VarUnitUsage = "unitUsage"
	// VarRate is the bill head's per-unit rate.
	VarRate = "rate"

	maxLength = 256
	maxDepth  = 32
)

// ErrInvalidFormula is returned for formulas that do not parse.
var ErrInvalidFormula = errors.New("formula: invalid expression")

// ErrDivisionByZero is returned when a divisor evaluates to zero.
var ErrDivisionByZero = errors.New("formula: division by zero")

var allowedVars = map[string]struct{}{
	VarUnitUsage: {},
	VarRate:      {},
}

// Vars binds variable names to values for a single evaluation.
type Vars map[string]decimal.Decimal

// Expr is a compiled formula.
type Expr struct {
	source string
	root   node
}

// Parse compiles src, rejecting unknown identifiers and malformed input.
func Parse(src string) (*Expr, error) {
	src = strings.TrimSpace(src)
	if src == "" {
		return nil, fmt.Errorf("%w: empty formula", ErrInvalidFormula)
	}
	if len(src) > maxLength {
		return nil, fmt.Errorf("%w: formula longer than %d characters", ErrInvalidFormula, maxLength)
	}
	toks, err := lex(src)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}
	root, err := p.parseExpression(0)
	if err != nil {
		return nil, err
	}
	if tok := p.peek(); tok.kind != tokEOF {
		return nil, fmt.Errorf("%w: unexpected %q at offset %d", ErrInvalidFormula, tok.text, tok.pos)
	}
	return &Expr{source: src, root: root}, nil
}

// String returns the formula source.
func (e *Expr) String() string {
	if e == nil {
		return ""
	}
	return e.source
}

// Eval evaluates the expression. Variables missing from vars evaluate to zero.
func (e *Expr) Eval(vars Vars) (decimal.Decimal, error) {
	if e == nil || e.root == nil {
		return decimal.Zero, fmt.Errorf("%w: empty formula", ErrInvalidFormula)
	}
	return e.root.eval(vars)
}

// Evaluate parses and evaluates src in one step.
func Evaluate(src string, vars Vars) (decimal.Decimal, error) {
	expr, err := Parse(src)
	if err != nil {
		return decimal.Zero, err
	}
	return expr.Eval(vars)
}

type node interface {
	eval(vars Vars) (decimal.Decimal, error)
}

type numberNode struct{ value decimal.Decimal }

func (n numberNode) eval(Vars) (decimal.Decimal, error) { return n.value, nil }

type varNode struct{ name string }

func (n varNode) eval(vars Vars) (decimal.Decimal, error) {
	if v, ok := vars[n.name]; ok {
		return v, nil
	}
	return decimal.Zero, nil
}

type negNode struct{ operand node }

func (n negNode) eval(vars Vars) (decimal.Decimal, error) {
	v, err := n.operand.eval(vars)
	if err != nil {
		return decimal.Zero, err
	}
	return v.Neg(), nil
}

type binaryNode struct {
	op          byte
	left, right node
}

func (n binaryNode) eval(vars Vars) (decimal.Decimal, error) {
	left, err := n.left.eval(vars)
	if err != nil {
		return decimal.Zero, err
	}
	right, err := n.right.eval(vars)
	if err != nil {
		return decimal.Zero, err
	}
	switch n.op {
	case '+':
		return left.Add(right), nil
	case '-':
		return left.Sub(right), nil
	case '*':
		return left.Mul(right), nil
	case '/':
		if right.IsZero() {
			return decimal.Zero, ErrDivisionByZero
		}
		return left.Div(right), nil
	}
	return decimal.Zero, fmt.Errorf("%w: unknown operator %q", ErrInvalidFormula, n.op)
}

type parser struct {
	toks []token
	pos  int
}

func (p *parser) peek() token {
	return p.toks[p.pos]
}

func (p *parser) advance() token {
	tok := p.toks[p.pos]
	if tok.kind != tokEOF {
		p.pos++
	}
	return tok
}

func (p *parser) parseExpression(depth int) (node, error) {
	if depth > maxDepth {
		return nil, fmt.Errorf("%w: nesting deeper than %d", ErrInvalidFormula, maxDepth)
	}
	left, err := p.parseTerm(depth)
	if err != nil {
		return nil, err
	}
	for {
		tok := p.peek()
		if tok.kind != tokOp || (tok.text != "+" && tok.text != "-") {
			return left, nil
		}
		p.advance()
		right, err := p.parseTerm(depth)
		if err != nil {
			return nil, err
		}
		left = binaryNode{op: tok.text[0], left: left, right: right}
	}
}

func (p *parser) parseTerm(depth int) (node, error) {
	left, err := p.parseFactor(depth)
	if err != nil {
		return nil, err
	}
	for {
		tok := p.peek()
		if tok.kind != tokOp || (tok.text != "*" && tok.text != "/") {
			return left, nil
		}
		p.advance()
		right, err := p.parseFactor(depth)
		if err != nil {
			return nil, err
		}
		left = binaryNode{op: tok.text[0], left: left, right: right}
	}
}

func (p *parser) parseFactor(depth int) (node, error) {
	tok := p.advance()
	switch tok.kind {
	case tokNumber:
		d, err := decimal.NewFromString(tok.text)
		if err != nil {
			return nil, fmt.Errorf("%w: bad number %q", ErrInvalidFormula, tok.text)
		}
		return numberNode{value: d}, nil
	case tokIdent:
		if _, ok := allowedVars[tok.text]; !ok {
			return nil, fmt.Errorf("%w: unknown variable %q", ErrInvalidFormula, tok.text)
		}
		return varNode{name: tok.text}, nil
	case tokLParen:
		inner, err := p.parseExpression(depth + 1)
		if err != nil {
			return nil, err
		}
		if p.peek().kind != tokRParen {
			return nil, fmt.Errorf("%w: expected ')' at offset %d", ErrInvalidFormula, p.peek().pos)
		}
		p.advance()
		return inner, nil
	case tokOp:
		if tok.text == "-" {
			if depth > maxDepth {
				return nil, fmt.Errorf("%w: nesting deeper than %d", ErrInvalidFormula, maxDepth)
			}
			operand, err := p.parseFactor(depth + 1)
			if err != nil {
				return nil, err
			}
			return negNode{operand: operand}, nil
		}
	case tokEOF:
		return nil, fmt.Errorf("%w: unexpected end of formula", ErrInvalidFormula)
	}
	return nil, fmt.Errorf("%w: unexpected %q at offset %d", ErrInvalidFormula, tok.text, tok.pos)
}
