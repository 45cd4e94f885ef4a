// Package expr parses and evaluates the mapping expressions of a rule set.
//
// An expression is either a query in the language of the source document
// (XPath for XML, JSONPath for JSON, var:attr for NetCDF), a quoted literal,
// or a call to one of a closed set of helpers:
//
//	/Earth_Explorer_Header/Fixed_Header/Mission
//	WKT(//gml:posList, input_mode='lonlat')
//	date_format(/root/Time/Begin, '%Y-%m-%dT%H:%M:%SZ')
//	map('B02', $.bands[1].wavelength, 'B03', $.bands[2].wavelength)
//
// Helper names are resolved at parse time. A call to a name that is not a
// helper is left to the document's query language, so XPath functions such
// as string() or normalize-space() keep working.
package expr

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/agentic-research/stacgen/api"
)

// Expr is a parsed expression. It is immutable and safe for concurrent use.
type Expr struct {
	text string
	root node
}

// String returns the source text.
func (e *Expr) String() string { return e.text }

// Queries returns the text of every document query in e, in source order.
// Helper options are visited in name order after the positional arguments.
func (e *Expr) Queries() []string {
	var out []string
	var walk func(n node)
	walk = func(n node) {
		switch n := n.(type) {
		case query:
			out = append(out, n.text)
		case *call:
			for _, a := range n.args {
				walk(a)
			}
			names := make([]string, 0, len(n.opts))
			for k := range n.opts {
				names = append(names, k)
			}
			sort.Strings(names)
			for _, k := range names {
				walk(n.opts[k])
			}
		}
	}
	walk(e.root)
	return out
}

type node interface {
	eval(c *evalCtx) (any, error)
}

type literal struct {
	value any
}

type query struct {
	text string
}

type call struct {
	helper *helper
	args   []node
	opts   map[string]node
}

// Parse compiles text. Syntax errors, unknown helper options and wrong
// helper arity are returned as *api.ConfigError.
func Parse(text string) (*Expr, error) {
	p := &parser{src: text}
	root, err := p.parseExpr(true)
	if err != nil {
		return nil, p.fail(err.Error())
	}
	p.skipSpace()
	if p.pos != len(p.src) {
		return nil, p.fail(fmt.Sprintf("unexpected %q", p.src[p.pos:]))
	}
	return &Expr{text: text, root: root}, nil
}

// MustParse is Parse for expressions known to be valid.
func MustParse(text string) *Expr {
	e, err := Parse(text)
	if err != nil {
		panic(err)
	}
	return e
}

type parser struct {
	src string
	pos int
}

func (p *parser) fail(msg string) error {
	return api.Configf("expression", "%s at offset %d in %q", msg, p.pos, p.src)
}

func (p *parser) skipSpace() {
	for p.pos < len(p.src) && isSpace(p.src[p.pos]) {
		p.pos++
	}
}

func (p *parser) parseExpr(top bool) (node, error) {
	p.skipSpace()
	if p.pos >= len(p.src) {
		return nil, fmt.Errorf("empty expression")
	}
	c := p.src[p.pos]
	if c == '\'' || c == '"' {
		s, err := p.parseString()
		if err != nil {
			return nil, err
		}
		return literal{value: s}, nil
	}
	if name, end := p.peekIdent(); name != "" {
		if h, ok := lookupHelper(name); ok && p.nextNonSpace(end) == '(' {
			return p.parseCall(h, end)
		}
	}
	if !top {
		if n, ok := p.parseNumber(); ok {
			return n, nil
		}
	}
	return p.parseQuery(top)
}

func (p *parser) parseString() (string, error) {
	quote := p.src[p.pos]
	p.pos++
	var b strings.Builder
	for p.pos < len(p.src) {
		c := p.src[p.pos]
		switch {
		case c == '\\' && p.pos+1 < len(p.src) && (p.src[p.pos+1] == quote || p.src[p.pos+1] == '\\'):
			b.WriteByte(p.src[p.pos+1])
			p.pos += 2
		case c == quote:
			p.pos++
			return b.String(), nil
		default:
			b.WriteByte(c)
			p.pos++
		}
	}
	return "", fmt.Errorf("unterminated string")
}

func (p *parser) peekIdent() (string, int) {
	i := p.pos
	for i < len(p.src) && isIdent(p.src[i], i == p.pos) {
		i++
	}
	return p.src[p.pos:i], i
}

func (p *parser) nextNonSpace(i int) byte {
	for i < len(p.src) && isSpace(p.src[i]) {
		i++
	}
	if i >= len(p.src) {
		return 0
	}
	return p.src[i]
}

func (p *parser) parseCall(h *helper, nameEnd int) (node, error) {
	p.pos = nameEnd
	p.skipSpace()
	p.pos++ // (
	c := &call{helper: h, opts: map[string]node{}}
	p.skipSpace()
	if p.pos < len(p.src) && p.src[p.pos] == ')' {
		p.pos++
		return c, h.check(c)
	}
	for {
		p.skipSpace()
		if opt, end := p.peekIdent(); opt != "" && p.nextNonSpace(end) == '=' && !strings.HasPrefix(p.src[p.skipTo(end):], "==") {
			p.pos = p.skipTo(end) + 1
			v, err := p.parseExpr(false)
			if err != nil {
				return nil, err
			}
			if _, dup := c.opts[opt]; dup {
				return nil, fmt.Errorf("%s: option %s given twice", h.name, opt)
			}
			c.opts[opt] = v
		} else {
			if len(c.opts) > 0 {
				return nil, fmt.Errorf("%s: positional argument after option", h.name)
			}
			arg, err := p.parseExpr(false)
			if err != nil {
				return nil, err
			}
			c.args = append(c.args, arg)
		}
		p.skipSpace()
		if p.pos >= len(p.src) {
			return nil, fmt.Errorf("%s: missing ')'", h.name)
		}
		switch p.src[p.pos] {
		case ',':
			p.pos++
		case ')':
			p.pos++
			return c, h.check(c)
		default:
			return nil, fmt.Errorf("%s: expected ',' or ')'", h.name)
		}
	}
}

func (p *parser) skipTo(i int) int {
	for i < len(p.src) && isSpace(p.src[i]) {
		i++
	}
	return i
}

func (p *parser) parseNumber() (node, bool) {
	i := p.pos
	if i < len(p.src) && (p.src[i] == '-' || p.src[i] == '+') {
		i++
	}
	start := i
	for i < len(p.src) && (isDigit(p.src[i]) || p.src[i] == '.') {
		i++
	}
	if i == start {
		return nil, false
	}
	if next := p.nextNonSpace(i); next != ',' && next != ')' {
		return nil, false
	}
	text := p.src[p.pos:i]
	if n, err := strconv.ParseInt(text, 10, 64); err == nil {
		p.pos = i
		return literal{value: n}, true
	}
	if f, err := strconv.ParseFloat(text, 64); err == nil {
		p.pos = i
		return literal{value: f}, true
	}
	return nil, false
}

// parseQuery consumes query text. At the top level the query is the rest of
// the input; inside a call it ends at the first ',' or ')' outside brackets,
// parentheses and quotes.
func (p *parser) parseQuery(top bool) (node, error) {
	if top {
		text := strings.TrimSpace(p.src[p.pos:])
		p.pos = len(p.src)
		if err := balanced(text); err != nil {
			return nil, err
		}
		return query{text: text}, nil
	}
	start := p.pos
	depth := 0
	var quote byte
	for p.pos < len(p.src) {
		c := p.src[p.pos]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}
		case c == '\'' || c == '"':
			quote = c
		case c == '[' || c == '(':
			depth++
		case c == ']' || c == ')':
			if depth == 0 {
				if c == ']' {
					return nil, fmt.Errorf("unbalanced ']'")
				}
				return p.endQuery(start)
			}
			depth--
		case c == ',' && depth == 0:
			return p.endQuery(start)
		}
		p.pos++
	}
	if quote != 0 {
		return nil, fmt.Errorf("unterminated string")
	}
	return nil, fmt.Errorf("missing ')'")
}

func (p *parser) endQuery(start int) (node, error) {
	text := strings.TrimSpace(p.src[start:p.pos])
	if text == "" {
		return nil, fmt.Errorf("empty argument")
	}
	return query{text: text}, nil
}

func balanced(text string) error {
	var stack []byte
	var quote byte
	for i := 0; i < len(text); i++ {
		c := text[i]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}
		case c == '\'' || c == '"':
			quote = c
		case c == '[' || c == '(':
			stack = append(stack, c)
		case c == ']' || c == ')':
			want := byte('[')
			if c == ')' {
				want = '('
			}
			if len(stack) == 0 || stack[len(stack)-1] != want {
				return fmt.Errorf("unbalanced %q", c)
			}
			stack = stack[:len(stack)-1]
		}
	}
	if quote != 0 {
		return fmt.Errorf("unterminated string")
	}
	if len(stack) > 0 {
		return fmt.Errorf("unclosed %q", stack[len(stack)-1])
	}
	return nil
}

func isSpace(c byte) bool { return c == ' ' || c == '\t' || c == '\n' || c == '\r' }

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func isIdent(c byte, first bool) bool {
	if c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') {
		return true
	}
	return !first && isDigit(c)
}
