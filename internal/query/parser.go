package query

import (
	"strconv"
	"strings"
	"time"
	"unicode"
)

// ParseFilter parses an OData-subset filter expression into the portable
// AST. An empty expression parses to Empty. Unsupported constructs return
// *Error.
func ParseFilter(input string) (Filter, error) {
	if strings.TrimSpace(input) == "" {
		return Empty{}, nil
	}
	p := &parser{lex: newLexer(input)}
	if err := p.next(); err != nil {
		return nil, err
	}
	f, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.tok.kind != tokEOF {
		return nil, Errorf("unsupported construct at %q", p.tok.text)
	}
	return f, nil
}

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokIdent
	tokString
	tokNumber
	tokLParen
	tokRParen
	tokComma
)

type token struct {
	kind tokenKind
	text string
}

type lexer struct {
	in  string
	pos int
}

func newLexer(in string) *lexer { return &lexer{in: in} }

func (l *lexer) lex() (token, error) {
	for l.pos < len(l.in) && (l.in[l.pos] == ' ' || l.in[l.pos] == '\t') {
		l.pos++
	}
	if l.pos >= len(l.in) {
		return token{kind: tokEOF}, nil
	}
	c := l.in[l.pos]
	switch {
	case c == '(':
		l.pos++
		return token{kind: tokLParen, text: "("}, nil
	case c == ')':
		l.pos++
		return token{kind: tokRParen, text: ")"}, nil
	case c == ',':
		l.pos++
		return token{kind: tokComma, text: ","}, nil
	case c == '\'':
		return l.lexString()
	case c == '-' || c == '+' || unicode.IsDigit(rune(c)):
		return l.lexNumber()
	case c == '_' || unicode.IsLetter(rune(c)):
		start := l.pos
		for l.pos < len(l.in) && isIdentByte(l.in[l.pos]) {
			l.pos++
		}
		return token{kind: tokIdent, text: l.in[start:l.pos]}, nil
	default:
		return token{}, Errorf("unexpected character %q", string(c))
	}
}

func isIdentByte(c byte) bool {
	return c == '_' || c == '.' ||
		(c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

func (l *lexer) lexString() (token, error) {
	// Opening quote already sighted. Doubled quotes escape a literal quote.
	l.pos++
	var sb strings.Builder
	for l.pos < len(l.in) {
		c := l.in[l.pos]
		if c == '\'' {
			if l.pos+1 < len(l.in) && l.in[l.pos+1] == '\'' {
				sb.WriteByte('\'')
				l.pos += 2
				continue
			}
			l.pos++
			return token{kind: tokString, text: sb.String()}, nil
		}
		sb.WriteByte(c)
		l.pos++
	}
	return token{}, Errorf("unterminated string literal")
}

func (l *lexer) lexNumber() (token, error) {
	start := l.pos
	if c := l.in[l.pos]; c == '-' || c == '+' {
		l.pos++
	}
	for l.pos < len(l.in) {
		c := l.in[l.pos]
		if unicode.IsDigit(rune(c)) || c == '.' || c == 'e' || c == 'E' {
			l.pos++
			continue
		}
		// type suffixes: L(long) d(double) f(float) m(decimal)
		if c == 'L' || c == 'l' || c == 'd' || c == 'D' || c == 'f' || c == 'F' || c == 'm' || c == 'M' {
			l.pos++
		}
		break
	}
	return token{kind: tokNumber, text: l.in[start:l.pos]}, nil
}

type parser struct {
	lex *lexer
	tok token
}

func (p *parser) next() error {
	t, err := p.lex.lex()
	if err != nil {
		return err
	}
	p.tok = t
	return nil
}

func (p *parser) parseOr() (Filter, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.tok.kind == tokIdent && strings.EqualFold(p.tok.text, "or") {
		if err := p.next(); err != nil {
			return nil, err
		}
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = Logical{Op: OpOr, Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseAnd() (Filter, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.tok.kind == tokIdent && strings.EqualFold(p.tok.text, "and") {
		if err := p.next(); err != nil {
			return nil, err
		}
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = Logical{Op: OpAnd, Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseUnary() (Filter, error) {
	if p.tok.kind == tokIdent && strings.EqualFold(p.tok.text, "not") {
		if err := p.next(); err != nil {
			return nil, err
		}
		inner, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return Not{Inner: inner}, nil
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (Filter, error) {
	switch p.tok.kind {
	case tokLParen:
		if err := p.next(); err != nil {
			return nil, err
		}
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if p.tok.kind != tokRParen {
			return nil, Errorf("expected ')' at %q", p.tok.text)
		}
		if err := p.next(); err != nil {
			return nil, err
		}
		return inner, nil
	case tokIdent:
		name := p.tok.text
		if kind, ok := matchKind(name); ok {
			return p.parseTextMatch(kind)
		}
		return p.parseComparison(name)
	default:
		return nil, Errorf("unsupported construct at %q", p.tok.text)
	}
}

func matchKind(name string) (MatchKind, bool) {
	switch strings.ToLower(name) {
	case "contains":
		return MatchContains, true
	case "startswith":
		return MatchStartsWith, true
	case "endswith":
		return MatchEndsWith, true
	}
	return "", false
}

func (p *parser) parseTextMatch(kind MatchKind) (Filter, error) {
	if err := p.next(); err != nil {
		return nil, err
	}
	if p.tok.kind != tokLParen {
		return nil, Errorf("%s requires arguments", kind)
	}
	if err := p.next(); err != nil {
		return nil, err
	}
	if p.tok.kind != tokIdent {
		return nil, Errorf("%s: first argument must be a property", kind)
	}
	field := p.tok.text
	if err := p.next(); err != nil {
		return nil, err
	}
	if p.tok.kind != tokComma {
		return nil, Errorf("%s: expected ','", kind)
	}
	if err := p.next(); err != nil {
		return nil, err
	}
	if p.tok.kind != tokString {
		return nil, Errorf("%s: second argument must be a string literal", kind)
	}
	value := p.tok.text
	if err := p.next(); err != nil {
		return nil, err
	}
	if p.tok.kind != tokRParen {
		return nil, Errorf("%s: expected ')'", kind)
	}
	if err := p.next(); err != nil {
		return nil, err
	}
	return TextMatch{Field: field, Kind: kind, Value: value}, nil
}

func (p *parser) parseComparison(field string) (Filter, error) {
	if err := p.next(); err != nil {
		return nil, err
	}
	if p.tok.kind != tokIdent {
		return nil, Errorf("expected comparison operator after %q", field)
	}
	var op CompareOp
	switch strings.ToLower(p.tok.text) {
	case "eq":
		op = OpEq
	case "ne":
		op = OpNe
	case "gt":
		op = OpGt
	case "ge":
		op = OpGe
	case "lt":
		op = OpLt
	case "le":
		op = OpLe
	default:
		return nil, Errorf("unsupported construct %q", p.tok.text)
	}
	if err := p.next(); err != nil {
		return nil, err
	}
	val, err := p.parseConstant()
	if err != nil {
		return nil, err
	}
	return Comparison{Field: field, Op: op, Value: val}, nil
}

func (p *parser) parseConstant() (Value, error) {
	switch p.tok.kind {
	case tokString:
		v := Value{V: p.tok.text}
		return v, p.next()
	case tokNumber:
		v, err := parseNumber(p.tok.text)
		if err != nil {
			return Value{}, err
		}
		return v, p.next()
	case tokIdent:
		switch strings.ToLower(p.tok.text) {
		case "true":
			return Value{V: true}, p.next()
		case "false":
			return Value{V: false}, p.next()
		case "null":
			return Value{V: nil}, p.next()
		case "datetime", "datetimeoffset":
			// OData v3 literal form: datetime'2024-01-31T00:00:00Z'
			if err := p.next(); err != nil {
				return Value{}, err
			}
			if p.tok.kind != tokString {
				return Value{}, Errorf("datetime literal requires a quoted value")
			}
			t, err := parseDateTime(p.tok.text)
			if err != nil {
				return Value{}, err
			}
			return Value{V: t}, p.next()
		}
		return Value{}, Errorf("unsupported construct %q", p.tok.text)
	default:
		return Value{}, Errorf("expected constant at %q", p.tok.text)
	}
}

func parseNumber(text string) (Value, error) {
	isFloat := strings.ContainsAny(text, ".eE")
	switch {
	case strings.HasSuffix(text, "L"), strings.HasSuffix(text, "l"):
		n, err := strconv.ParseInt(text[:len(text)-1], 10, 64)
		if err != nil {
			return Value{}, Errorf("invalid long literal %q", text)
		}
		return Value{V: n}, nil
	case strings.ContainsAny(text, "dDfFmM"):
		f, err := strconv.ParseFloat(strings.TrimRight(text, "dDfFmM"), 64)
		if err != nil {
			return Value{}, Errorf("invalid numeric literal %q", text)
		}
		return Value{V: f}, nil
	case isFloat:
		f, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return Value{}, Errorf("invalid numeric literal %q", text)
		}
		return Value{V: f}, nil
	default:
		n, err := strconv.ParseInt(text, 10, 64)
		if err != nil {
			return Value{}, Errorf("invalid integer literal %q", text)
		}
		return Value{V: n}, nil
	}
}

var dateTimeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02",
}

func parseDateTime(text string) (time.Time, error) {
	for _, layout := range dateTimeLayouts {
		if t, err := time.Parse(layout, text); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, Errorf("invalid datetime literal %q", text)
}
