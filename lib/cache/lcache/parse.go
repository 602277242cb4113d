package lcache

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/ValentinKolb/dCache/lib/cache"
	"github.com/cockroachdb/errors"
	"github.com/spf13/cast"
)

// The engine understands a small query language:
//
//	(SELECT | DELETE) [FROM] <type | *> [WHERE <cond> {AND <cond>}]
//	<cond> = [this.]<attr> <op> <operand> | [this.]<attr> IN (<operand> {, <operand>})
//	<op>   = = | == | != | <> | < | <= | > | >= | LIKE
//
// Operands are ?, numbers, 'strings', true, false and null. A ? binds the
// parameter named like the attribute. If the parameter holds a list the n-th
// ? of an attribute binds the n-th element and IN binds the whole list.
// Attributes are looked up in the named tags of an item.

type operator uint8

const (
	opEq operator = iota
	opNe
	opLt
	opLe
	opGt
	opGe
	opLike
	opIn
)

type operand struct {
	param bool
	value any
}

type condition struct {
	attr     string
	op       operator
	operands []operand
}

// compiledQuery is a parsed query whose parameters are bound
type compiledQuery struct {
	delete bool
	typ    string
	conds  []condition
}

// --------------------------------------------------------------------------
// Tokenizer
// --------------------------------------------------------------------------

type tokenKind uint8

const (
	tokIdent tokenKind = iota
	tokString
	tokNumber
	tokSymbol
)

type token struct {
	kind tokenKind
	text string
}

func tokenize(q string) ([]token, error) {
	var tokens []token
	runes := []rune(q)
	for i := 0; i < len(runes); {
		r := runes[i]
		switch {
		case unicode.IsSpace(r):
			i++
		case r == '\'':
			var sb strings.Builder
			j := i + 1
			for ; j < len(runes); j++ {
				if runes[j] == '\'' {
					if j+1 < len(runes) && runes[j+1] == '\'' {
						sb.WriteRune('\'')
						j++
						continue
					}
					break
				}
				sb.WriteRune(runes[j])
			}
			if j >= len(runes) {
				return nil, errors.Newf("unterminated string at %d", i)
			}
			tokens = append(tokens, token{tokString, sb.String()})
			i = j + 1
		case unicode.IsDigit(r) || (r == '-' && i+1 < len(runes) && unicode.IsDigit(runes[i+1])):
			j := i + 1
			for j < len(runes) && (unicode.IsDigit(runes[j]) || runes[j] == '.') {
				j++
			}
			tokens = append(tokens, token{tokNumber, string(runes[i:j])})
			i = j
		case unicode.IsLetter(r) || r == '_' || r == '$':
			j := i + 1
			for j < len(runes) && (unicode.IsLetter(runes[j]) || unicode.IsDigit(runes[j]) || strings.ContainsRune("_$.", runes[j])) {
				j++
			}
			tokens = append(tokens, token{tokIdent, string(runes[i:j])})
			i = j
		case strings.ContainsRune("=!<>", r):
			j := i + 1
			if j < len(runes) && strings.ContainsRune("=>", runes[j]) {
				j++
			}
			tokens = append(tokens, token{tokSymbol, string(runes[i:j])})
			i = j
		case strings.ContainsRune("(),?*", r):
			tokens = append(tokens, token{tokSymbol, string(r)})
			i++
		default:
			return nil, errors.Newf("unexpected character %q at %d", r, i)
		}
	}
	return tokens, nil
}

// --------------------------------------------------------------------------
// Parser
// --------------------------------------------------------------------------

type parser struct {
	tokens []token
	pos    int
}

func (p *parser) peek() (token, bool) {
	if p.pos >= len(p.tokens) {
		return token{}, false
	}
	return p.tokens[p.pos], true
}

func (p *parser) next() (token, bool) {
	t, ok := p.peek()
	if ok {
		p.pos++
	}
	return t, ok
}

// keyword consumes the next token if it is the given keyword
func (p *parser) keyword(kw string) bool {
	t, ok := p.peek()
	if ok && t.kind == tokIdent && strings.EqualFold(t.text, kw) {
		p.pos++
		return true
	}
	return false
}

func (p *parser) symbol(sym string) bool {
	t, ok := p.peek()
	if ok && t.kind == tokSymbol && t.text == sym {
		p.pos++
		return true
	}
	return false
}

// parseQuery parses q. The result still has to be bound to parameters.
func parseQuery(q string) (*compiledQuery, error) {
	tokens, err := tokenize(q)
	if err != nil {
		return nil, errors.Wrapf(cache.ErrInvalidQuery, "%q: %v", q, err)
	}
	p := &parser{tokens: tokens}
	cq, err := p.query()
	if err != nil {
		return nil, errors.Wrapf(cache.ErrInvalidQuery, "%q: %v", q, err)
	}
	return cq, nil
}

func (p *parser) query() (*compiledQuery, error) {
	cq := &compiledQuery{}
	switch {
	case p.keyword("SELECT"):
	case p.keyword("DELETE"):
		cq.delete = true
	default:
		return nil, errors.New("expected SELECT or DELETE")
	}
	p.keyword("FROM")

	t, ok := p.next()
	switch {
	case !ok:
		return nil, errors.New("expected type")
	case t.kind == tokIdent:
		cq.typ = t.text
	case t.kind == tokSymbol && t.text == "*":
		cq.typ = "*"
	default:
		return nil, errors.Newf("expected type, got %q", t.text)
	}

	if p.keyword("WHERE") {
		for {
			cond, err := p.condition()
			if err != nil {
				return nil, err
			}
			cq.conds = append(cq.conds, cond)
			if !p.keyword("AND") {
				break
			}
		}
	}
	if t, ok := p.peek(); ok {
		return nil, errors.Newf("unexpected %q", t.text)
	}
	return cq, nil
}

func (p *parser) condition() (condition, error) {
	t, ok := p.next()
	if !ok || t.kind != tokIdent {
		return condition{}, errors.New("expected attribute")
	}
	cond := condition{attr: strings.TrimPrefix(t.text, "this.")}

	if p.keyword("IN") {
		cond.op = opIn
		if !p.symbol("(") {
			return condition{}, errors.New("expected ( after IN")
		}
		for {
			o, err := p.operand()
			if err != nil {
				return condition{}, err
			}
			cond.operands = append(cond.operands, o)
			if p.symbol(")") {
				return cond, nil
			}
			if !p.symbol(",") {
				return condition{}, errors.New("expected , or )")
			}
		}
	}

	if p.keyword("LIKE") {
		cond.op = opLike
	} else {
		t, ok := p.next()
		if !ok || t.kind != tokSymbol {
			return condition{}, errors.Newf("expected operator after %s", cond.attr)
		}
		switch t.text {
		case "=", "==":
			cond.op = opEq
		case "!=", "<>":
			cond.op = opNe
		case "<":
			cond.op = opLt
		case "<=":
			cond.op = opLe
		case ">":
			cond.op = opGt
		case ">=":
			cond.op = opGe
		default:
			return condition{}, errors.Newf("unknown operator %q", t.text)
		}
	}
	o, err := p.operand()
	if err != nil {
		return condition{}, err
	}
	cond.operands = []operand{o}
	return cond, nil
}

func (p *parser) operand() (operand, error) {
	t, ok := p.next()
	if !ok {
		return operand{}, errors.New("expected operand")
	}
	switch t.kind {
	case tokString:
		return operand{value: t.text}, nil
	case tokNumber:
		f, err := strconv.ParseFloat(t.text, 64)
		if err != nil {
			return operand{}, errors.Newf("bad number %q", t.text)
		}
		return operand{value: f}, nil
	case tokSymbol:
		if t.text == "?" {
			return operand{param: true}, nil
		}
	case tokIdent:
		switch strings.ToLower(t.text) {
		case "true":
			return operand{value: true}, nil
		case "false":
			return operand{value: false}, nil
		case "null":
			return operand{value: nil}, nil
		}
	}
	return operand{}, errors.Newf("unexpected operand %q", t.text)
}

// --------------------------------------------------------------------------
// Binding and evaluation
// --------------------------------------------------------------------------

// bind returns a copy of q whose ? operands carry the parameter values
func (q *compiledQuery) bind(params map[string]any) (*compiledQuery, error) {
	out := &compiledQuery{delete: q.delete, typ: q.typ, conds: make([]condition, len(q.conds))}
	used := make(map[string]int)
	for i, cond := range q.conds {
		bound := condition{attr: cond.attr, op: cond.op}
		for _, o := range cond.operands {
			if !o.param {
				bound.operands = append(bound.operands, o)
				continue
			}
			v, ok := params[cond.attr]
			if !ok {
				return nil, errors.Wrapf(cache.ErrInvalidQuery, "no value for parameter %q", cond.attr)
			}
			list, isList := v.([]any)
			switch {
			case !isList:
				bound.operands = append(bound.operands, operand{value: v})
			case cond.op == opIn && len(cond.operands) == 1:
				for _, el := range list {
					bound.operands = append(bound.operands, operand{value: el})
				}
			default:
				n := used[cond.attr]
				if n >= len(list) {
					return nil, errors.Wrapf(cache.ErrInvalidQuery, "too few values for parameter %q", cond.attr)
				}
				used[cond.attr] = n + 1
				bound.operands = append(bound.operands, operand{value: list[n]})
			}
		}
		out.conds[i] = bound
	}
	return out, nil
}

// matches reports whether rec satisfies every condition of the bound query
func (q *compiledQuery) matches(rec *record) bool {
	if q.typ != "*" && !strings.EqualFold(q.typ, rec.typ) {
		return false
	}
	for _, cond := range q.conds {
		if !cond.matches(rec.named) {
			return false
		}
	}
	return true
}

func (c condition) matches(attrs map[string]any) bool {
	v, ok := attrs[c.attr]
	if !ok {
		return false
	}
	if c.op == opIn {
		for _, o := range c.operands {
			if cmp, ok := compare(v, o.value); ok && cmp == 0 {
				return true
			}
		}
		return false
	}
	want := c.operands[0].value
	if c.op == opLike {
		s, ok1 := v.(string)
		pattern, ok2 := want.(string)
		return ok1 && ok2 && wildcardMatch(pattern, s)
	}
	if want == nil || v == nil {
		switch c.op {
		case opEq:
			return want == nil && v == nil
		case opNe:
			return (want == nil) != (v == nil)
		}
		return false
	}
	cmp, ok := compare(v, want)
	if !ok {
		return c.op == opNe
	}
	switch c.op {
	case opEq:
		return cmp == 0
	case opNe:
		return cmp != 0
	case opLt:
		return cmp < 0
	case opLe:
		return cmp <= 0
	case opGt:
		return cmp > 0
	case opGe:
		return cmp >= 0
	}
	return false
}

// compare orders a against b. ok is false if the values are not comparable.
func compare(a, b any) (int, bool) {
	switch av := a.(type) {
	case time.Time:
		bv, ok := b.(time.Time)
		if !ok {
			return 0, false
		}
		return av.Compare(bv), true
	case string:
		bv, ok := b.(string)
		if !ok {
			return 0, false
		}
		return strings.Compare(av, bv), true
	case bool:
		bv, ok := b.(bool)
		if !ok || av != bv {
			return 1, ok
		}
		return 0, true
	case rune:
		if bv, ok := b.(string); ok {
			return strings.Compare(string(av), bv), true
		}
	}
	af, err := cast.ToFloat64E(a)
	if err != nil {
		return 0, false
	}
	if _, isString := b.(string); isString {
		return 0, false
	}
	bf, err := cast.ToFloat64E(b)
	if err != nil {
		return 0, false
	}
	switch {
	case af < bf:
		return -1, true
	case af > bf:
		return 1, true
	}
	return 0, true
}

// wildcardMatch matches s against a pattern where * is any sequence and ?
// any single character
func wildcardMatch(pattern, s string) bool {
	p, r := []rune(pattern), []rune(s)
	pi, si := 0, 0
	star, mark := -1, 0
	for si < len(r) {
		switch {
		case pi < len(p) && (p[pi] == '?' || p[pi] == r[si]):
			pi++
			si++
		case pi < len(p) && p[pi] == '*':
			star, mark = pi, si
			pi++
		case star >= 0:
			pi = star + 1
			mark++
			si = mark
		default:
			return false
		}
	}
	for pi < len(p) && p[pi] == '*' {
		pi++
	}
	return pi == len(p)
}

func (o operator) String() string {
	switch o {
	case opEq:
		return "="
	case opNe:
		return "!="
	case opLt:
		return "<"
	case opLe:
		return "<="
	case opGt:
		return ">"
	case opGe:
		return ">="
	case opLike:
		return "LIKE"
	case opIn:
		return "IN"
	default:
		return fmt.Sprintf("op(%d)", uint8(o))
	}
}
