package query

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/hupe1980/idb/internal/search"
)

// ErrSyntax is returned by strict parsing for a malformed expression.
var ErrSyntax = errors.New("query: syntax error")

// Op combines the running result with a clause result.
type Op int

const (
	// And keeps ids present in both.
	And Op = iota
	// Or keeps ids present in either.
	Or
	// Not removes the clause ids from the running result.
	Not
)

func (o Op) String() string {
	switch o {
	case And:
		return "AND"
	case Or:
		return "OR"
	case Not:
		return "NOT"
	default:
		return fmt.Sprintf("Op(%d)", int(o))
	}
}

// Clause is one search condition. Op is ignored for the first clause.
type Clause struct {
	Op   Op
	Mode search.Mode
	Expr []byte
}

func (c Clause) String() string {
	return fmt.Sprintf("%s %s %q", c.Op, c.Mode, c.Expr)
}

// Diagnostic describes a skipped part of an expression.
type Diagnostic struct {
	Pos int
	Msg string
}

func (d Diagnostic) String() string {
	return fmt.Sprintf("%d: %s", d.Pos, d.Msg)
}

// Plan is a parsed expression.
type Plan struct {
	Clauses     []Clause
	Diagnostics []Diagnostic
}

type lexeme struct {
	pos    int
	text   string
	quoted bool
}

var ops = map[string]Op{
	"AND": And, "&&": And,
	"OR": Or, "||": Or,
	"NOT": Not, "ANDNOT": Not, "!!": Not,
}

func (l lexeme) op() (Op, bool) {
	if l.quoted {
		return 0, false
	}
	op, ok := ops[l.text]
	return op, ok
}

// mode reports whether l names a mode. Mode and operator keywords are
// upper case only; a lower case "full" is an operand. known is false for a
// "#n" with an out of range n.
func (l lexeme) mode() (m search.Mode, isMode, known bool) {
	if l.quoted {
		return 0, false, false
	}
	if n, ok := strings.CutPrefix(l.text, "#"); ok && n != "" {
		v, err := strconv.Atoi(n)
		if err != nil || !search.Mode(v).Valid() {
			return 0, true, false
		}
		return search.Mode(v), true, true
	}
	if l.text != strings.ToUpper(l.text) || isDigits(l.text) {
		return 0, false, false
	}
	if m, err := search.ParseMode(l.text); err == nil {
		return m, true, true
	}
	return 0, false, false
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}

type parser struct {
	strict bool
	plan   Plan
}

func (p *parser) diag(pos int, format string, args ...any) error {
	d := Diagnostic{Pos: pos, Msg: fmt.Sprintf(format, args...)}
	if p.strict {
		return fmt.Errorf("%w at %s", ErrSyntax, d)
	}
	p.plan.Diagnostics = append(p.plan.Diagnostics, d)
	return nil
}

// Parse parses expr. With strict set the first malformed clause fails the
// parse; otherwise it is skipped and recorded in the plan's diagnostics.
func Parse(expr string, strict bool) (*Plan, error) {
	p := &parser{strict: strict}

	lexemes, err := p.lex(expr)
	if err != nil {
		return nil, err
	}

	op, opPos, haveOp := And, 0, false
	for i := 0; i < len(lexemes); i++ {
		lx := lexemes[i]

		if o, ok := lx.op(); ok {
			switch {
			case len(p.plan.Clauses) == 0:
				err = p.diag(lx.pos, "operator %s without left operand", lx.text)
			case haveOp:
				err = p.diag(opPos, "operator %s followed by operator %s", op, lx.text)
			}
			if err != nil {
				return nil, err
			}
			op, opPos, haveOp = o, lx.pos, true
			continue
		}

		mode := search.Token
		operand := lx
		if m, isMode, known := lx.mode(); isMode {
			if i+1 >= len(lexemes) {
				if err := p.diag(lx.pos, "mode %s without operand", lx.text); err != nil {
					return nil, err
				}
				continue
			}
			next := lexemes[i+1]
			if _, isOp := next.op(); isOp {
				if err := p.diag(lx.pos, "mode %s without operand", lx.text); err != nil {
					return nil, err
				}
				continue
			}
			i++
			if !known {
				if err := p.diag(lx.pos, "unknown mode %s", lx.text); err != nil {
					return nil, err
				}
				continue
			}
			mode, operand = m, next
		}

		p.plan.Clauses = append(p.plan.Clauses, Clause{Op: op, Mode: mode, Expr: []byte(operand.text)})
		op, haveOp = And, false
	}

	if haveOp {
		if err := p.diag(opPos, "dangling operator %s", op); err != nil {
			return nil, err
		}
	}
	return &p.plan, nil
}

// lex splits expr on whitespace and decodes quoted strings.
func (p *parser) lex(expr string) ([]lexeme, error) {
	var out []lexeme
	i := 0
	for i < len(expr) {
		c := expr[i]
		if isSpace(c) {
			i++
			continue
		}
		start := i
		if c != '"' {
			for i < len(expr) && !isSpace(expr[i]) {
				i++
			}
			out = append(out, lexeme{pos: start, text: expr[start:i]})
			continue
		}

		var sb strings.Builder
		i++
		closed := false
		for i < len(expr) {
			c := expr[i]
			if c == '\\' && i+1 < len(expr) && (expr[i+1] == '"' || expr[i+1] == '\\') {
				sb.WriteByte(expr[i+1])
				i += 2
				continue
			}
			i++
			if c == '"' {
				closed = true
				break
			}
			sb.WriteByte(c)
		}
		if !closed {
			if err := p.diag(start, "unterminated quote"); err != nil {
				return nil, err
			}
			continue
		}
		out = append(out, lexeme{pos: start, text: sb.String(), quoted: true})
	}
	return out, nil
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\v' || c == '\f'
}
