package metrics

import (
	"fmt"
	"strconv"
	"unicode"

	"github.com/verdictlabs/verdict/engine/pkg/types"
)

// EvalExpr evaluates an arithmetic expression over the frozen metric totals.
// Supported grammar: numbers, metric identifiers, + - * /, unary minus, and
// parentheses. Unknown identifiers and division by zero return errors; the
// caller decides how soft to fail.
func EvalExpr(expr string, env map[string]float64) (float64, error) {
	p := &parser{input: []rune(expr), env: env}
	v, err := p.parseExpr()
	if err != nil {
		return 0, err
	}
	p.skipSpace()
	if p.pos < len(p.input) {
		return 0, fmt.Errorf("unexpected %q at position %d", p.input[p.pos], p.pos)
	}
	return v, nil
}

// ComputeDerived evaluates each derived metric independently. One failing
// expression reports its error inline and never affects the others.
func ComputeDerived(derived []types.DerivedMetric, env map[string]float64) []types.DerivedMetricResult {
	results := make([]types.DerivedMetricResult, len(derived))
	for i, d := range derived {
		results[i].Name = d.Name
		v, err := EvalExpr(d.Expression, env)
		if err != nil {
			results[i].Error = err.Error()
			continue
		}
		results[i].Value = v
	}
	return results
}

type parser struct {
	input []rune
	pos   int
	env   map[string]float64
}

func (p *parser) parseExpr() (float64, error) {
	left, err := p.parseTerm()
	if err != nil {
		return 0, err
	}
	for {
		p.skipSpace()
		if p.pos >= len(p.input) {
			return left, nil
		}
		switch p.input[p.pos] {
		case '+':
			p.pos++
			right, err := p.parseTerm()
			if err != nil {
				return 0, err
			}
			left += right
		case '-':
			p.pos++
			right, err := p.parseTerm()
			if err != nil {
				return 0, err
			}
			left -= right
		default:
			return left, nil
		}
	}
}

func (p *parser) parseTerm() (float64, error) {
	left, err := p.parseUnary()
	if err != nil {
		return 0, err
	}
	for {
		p.skipSpace()
		if p.pos >= len(p.input) {
			return left, nil
		}
		switch p.input[p.pos] {
		case '*':
			p.pos++
			right, err := p.parseUnary()
			if err != nil {
				return 0, err
			}
			left *= right
		case '/':
			p.pos++
			right, err := p.parseUnary()
			if err != nil {
				return 0, err
			}
			if right == 0 {
				return 0, fmt.Errorf("division by zero")
			}
			left /= right
		default:
			return left, nil
		}
	}
}

func (p *parser) parseUnary() (float64, error) {
	p.skipSpace()
	if p.pos < len(p.input) && p.input[p.pos] == '-' {
		p.pos++
		v, err := p.parseUnary()
		if err != nil {
			return 0, err
		}
		return -v, nil
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (float64, error) {
	p.skipSpace()
	if p.pos >= len(p.input) {
		return 0, fmt.Errorf("unexpected end of expression")
	}

	c := p.input[p.pos]
	switch {
	case c == '(':
		p.pos++
		v, err := p.parseExpr()
		if err != nil {
			return 0, err
		}
		p.skipSpace()
		if p.pos >= len(p.input) || p.input[p.pos] != ')' {
			return 0, fmt.Errorf("missing closing parenthesis")
		}
		p.pos++
		return v, nil

	case unicode.IsDigit(c) || c == '.':
		start := p.pos
		for p.pos < len(p.input) && (unicode.IsDigit(p.input[p.pos]) || p.input[p.pos] == '.') {
			p.pos++
		}
		v, err := strconv.ParseFloat(string(p.input[start:p.pos]), 64)
		if err != nil {
			return 0, fmt.Errorf("bad number %q", string(p.input[start:p.pos]))
		}
		return v, nil

	case unicode.IsLetter(c) || c == '_':
		start := p.pos
		for p.pos < len(p.input) && (unicode.IsLetter(p.input[p.pos]) || unicode.IsDigit(p.input[p.pos]) || p.input[p.pos] == '_') {
			p.pos++
		}
		name := string(p.input[start:p.pos])
		v, ok := p.env[name]
		if !ok {
			return 0, fmt.Errorf("unknown metric %q", name)
		}
		return v, nil

	default:
		return 0, fmt.Errorf("unexpected %q at position %d", c, p.pos)
	}
}

func (p *parser) skipSpace() {
	for p.pos < len(p.input) && unicode.IsSpace(p.input[p.pos]) {
		p.pos++
	}
}
