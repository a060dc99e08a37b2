// Package parser turns HogTrace probe source into a syntax tree.
//
// The grammar is deliberately small: a program is a sequence of probes,
// each `spec predicate? { body }`. Expressions follow the usual C-family
// precedence ladder with no control flow and no user-defined functions.
//
// One wrinkle worth knowing about: predicates are delimited by slashes,
// and `/` is also the division operator. Inside a predicate the parser
// treats `/` as division only when the token after it can begin an
// expression; otherwise it terminates the predicate. `/ a / 2 /` therefore
// parses as the expression `a / 2` wrapped in predicate delimiters.
package parser

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/hogtrace/hogtrace/internal/ast"
	"github.com/hogtrace/hogtrace/internal/lexer"
	"github.com/hogtrace/hogtrace/internal/token"
)

// SyntaxError reports a lexical or structural failure with its source
// position.
type SyntaxError struct {
	Line    int
	Column  int
	Message string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("syntax error at line %d, column %d: %s", e.Line, e.Column, e.Message)
}

// Operator precedence, low to high. Mirrors the surface grammar.
const (
	precLowest = iota
	precOr
	precAnd
	precEquality
	precRelational
	precAdditive
	precMultiplicative
	precUnary
)

var precedences = map[token.Type]int{
	token.OrOr:      precOr,
	token.AndAnd:    precAnd,
	token.Eq:        precEquality,
	token.NotEq:     precEquality,
	token.Less:      precRelational,
	token.LessEq:    precRelational,
	token.Greater:   precRelational,
	token.GreaterEq: precRelational,
	token.Plus:      precAdditive,
	token.Minus:     precAdditive,
	token.Star:      precMultiplicative,
	token.Slash:     precMultiplicative,
	token.Percent:   precMultiplicative,
}

// Parser consumes a token stream and produces an ast.Program.
type Parser struct {
	tokens []token.Token
	pos    int

	// inPredicate enables the slash disambiguation rule.
	inPredicate bool
}

// Parse tokenizes and parses a complete probe program.
func Parse(source string) (*ast.Program, error) {
	tokens, err := lexer.New(source).Tokenize()
	if err != nil {
		bad := tokens[len(tokens)-1]
		return nil, &SyntaxError{Line: bad.Line, Column: bad.Column, Message: fmt.Sprintf("unknown token %q", bad.Literal)}
	}
	p := &Parser{tokens: tokens}
	return p.parseProgram()
}

func (p *Parser) cur() token.Token { return p.tokens[p.pos] }

func (p *Parser) peek() token.Token {
	if p.pos+1 < len(p.tokens) {
		return p.tokens[p.pos+1]
	}
	return p.tokens[len(p.tokens)-1]
}

func (p *Parser) advance() token.Token {
	t := p.tokens[p.pos]
	if p.pos < len(p.tokens)-1 {
		p.pos++
	}
	return t
}

func (p *Parser) errf(t token.Token, format string, args ...any) *SyntaxError {
	return &SyntaxError{Line: t.Line, Column: t.Column, Message: fmt.Sprintf(format, args...)}
}

func (p *Parser) expect(tt token.Type, what string) (token.Token, error) {
	if p.cur().Type != tt {
		return token.Token{}, p.errf(p.cur(), "expected %s, found %q", what, p.cur().Literal)
	}
	return p.advance(), nil
}

func (p *Parser) parseProgram() (*ast.Program, error) {
	prog := &ast.Program{}
	for p.cur().Type != token.EOF {
		probe, err := p.parseProbe()
		if err != nil {
			return nil, err
		}
		prog.Probes = append(prog.Probes, probe)
	}
	if len(prog.Probes) == 0 {
		return nil, p.errf(p.cur(), "program contains no probes")
	}
	return prog, nil
}

func (p *Parser) parseProbe() (*ast.Probe, error) {
	start := p.cur()
	spec, err := p.parseSpec()
	if err != nil {
		return nil, err
	}

	probe := &ast.Probe{Spec: spec}
	probe.Line, probe.Column = start.Line, start.Column

	if p.cur().Type == token.Slash {
		pred, err := p.parsePredicate()
		if err != nil {
			return nil, err
		}
		probe.Predicate = pred
	}

	body, err := p.parseBody()
	if err != nil {
		return nil, err
	}
	probe.Body = body
	return probe, nil
}

// parseSpec parses provider:moduleFunction:probePoint.
func (p *Parser) parseSpec() (*ast.ProbeSpec, error) {
	start := p.cur()
	spec := &ast.ProbeSpec{}
	spec.Line, spec.Column = start.Line, start.Column

	prov, err := p.expect(token.Ident, "probe provider")
	if err != nil {
		return nil, err
	}
	if prov.Literal != ast.ProviderFn && prov.Literal != ast.ProviderPy {
		return nil, p.errf(prov, "invalid probe spec: unknown provider %q", prov.Literal)
	}
	spec.Provider = prov.Literal

	if _, err := p.expect(token.Colon, "':' after provider"); err != nil {
		return nil, err
	}

	specifier, err := p.parseSpecifier()
	if err != nil {
		return nil, err
	}
	spec.Specifier = specifier

	if _, err := p.expect(token.Colon, "':' before probe point"); err != nil {
		return nil, err
	}

	pt, err := p.expect(token.Ident, "probe point")
	if err != nil {
		return nil, err
	}
	if pt.Literal != ast.PointEntry && pt.Literal != ast.PointExit {
		return nil, p.errf(pt, "invalid probe spec: unknown probe point %q", pt.Literal)
	}
	spec.Point = pt.Literal

	if p.cur().Type == token.Plus {
		p.advance()
		off, err := p.expect(token.Int, "probe point offset")
		if err != nil {
			return nil, err
		}
		n, err2 := strconv.ParseInt(off.Literal, 10, 64)
		if err2 != nil {
			return nil, p.errf(off, "invalid probe point offset %q", off.Literal)
		}
		spec.Offset = n
		spec.Offsetted = true
	}

	return spec, nil
}

// parseSpecifier parses the dotted module path, allowing a trailing `*`
// wildcard segment.
func (p *Parser) parseSpecifier() (string, error) {
	var segments []string
	for {
		switch p.cur().Type {
		case token.Star:
			p.advance()
			segments = append(segments, "*")
			return strings.Join(segments, "."), nil
		case token.Ident:
			segments = append(segments, p.advance().Literal)
		default:
			return "", p.errf(p.cur(), "invalid probe spec: expected identifier, found %q", p.cur().Literal)
		}
		if p.cur().Type != token.Dot {
			return strings.Join(segments, "."), nil
		}
		p.advance()
	}
}

func (p *Parser) parsePredicate() (ast.Expression, error) {
	if _, err := p.expect(token.Slash, "'/'"); err != nil {
		return nil, err
	}
	p.inPredicate = true
	expr, err := p.parseExpression(precLowest)
	p.inPredicate = false
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(token.Slash, "closing '/' after predicate"); err != nil {
		return nil, err
	}
	return expr, nil
}

func (p *Parser) parseBody() ([]ast.Statement, error) {
	if _, err := p.expect(token.LBrace, "'{'"); err != nil {
		return nil, err
	}
	var stmts []ast.Statement
	for p.cur().Type != token.RBrace {
		if p.cur().Type == token.EOF {
			return nil, p.errf(p.cur(), "unexpected end of input in probe body")
		}
		stmt, err := p.parseStatement()
		if err != nil {
			return nil, err
		}
		stmts = append(stmts, stmt)
	}
	p.advance() // consume '}'
	return stmts, nil
}

func (p *Parser) parseStatement() (ast.Statement, error) {
	switch p.cur().Type {
	case token.ReqVar:
		return p.parseAssign()
	case token.Sample:
		return p.parseSample()
	case token.Capture, token.Send:
		return p.parseCapture()
	default:
		return nil, p.errf(p.cur(), "statement must be an assignment, sample, capture or send, found %q", p.cur().Literal)
	}
}

func (p *Parser) parseAssign() (ast.Statement, error) {
	start := p.advance() // $req / $request
	if _, err := p.expect(token.Dot, "'.' after request-variable prefix"); err != nil {
		return nil, err
	}
	name, err := p.expect(token.Ident, "request-variable name")
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(token.Assign, "'='"); err != nil {
		return nil, err
	}
	value, err := p.parseExpression(precLowest)
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(token.Semicolon, "';'"); err != nil {
		return nil, err
	}
	stmt := &ast.AssignStatement{Name: name.Literal, Value: value}
	stmt.Line, stmt.Column = start.Line, start.Column
	return stmt, nil
}

func (p *Parser) parseSample() (ast.Statement, error) {
	start := p.advance() // sample
	stmt := &ast.SampleStatement{}
	stmt.Line, stmt.Column = start.Line, start.Column

	num := p.cur()
	if num.Type != token.Int && num.Type != token.Float {
		return nil, p.errf(num, "sample rate must be a number, found %q", num.Literal)
	}
	p.advance()

	switch p.cur().Type {
	case token.Percent:
		p.advance()
		v, err := strconv.ParseFloat(num.Literal, 64)
		if err != nil {
			return nil, p.errf(num, "invalid sample percentage %q", num.Literal)
		}
		stmt.Percent = v
		stmt.Raw = num.Literal + "%"
	case token.Slash:
		if num.Type != token.Int {
			return nil, p.errf(num, "sample ratio numerator must be an integer")
		}
		p.advance()
		den, err := p.expect(token.Int, "sample ratio denominator")
		if err != nil {
			return nil, err
		}
		a, _ := strconv.ParseInt(num.Literal, 10, 64)
		b, err2 := strconv.ParseInt(den.Literal, 10, 64)
		if err2 != nil {
			return nil, p.errf(den, "invalid sample denominator %q", den.Literal)
		}
		stmt.Ratio = true
		stmt.Num = a
		stmt.Den = b
		stmt.Raw = num.Literal + "/" + den.Literal
	default:
		return nil, p.errf(p.cur(), "sample rate must be PERCENT%% or A/B, found %q", p.cur().Literal)
	}

	if _, err := p.expect(token.Semicolon, "';'"); err != nil {
		return nil, err
	}
	return stmt, nil
}

func (p *Parser) parseCapture() (ast.Statement, error) {
	start := p.advance() // capture / send
	stmt := &ast.CaptureStatement{}
	stmt.Line, stmt.Column = start.Line, start.Column

	if _, err := p.expect(token.LParen, "'('"); err != nil {
		return nil, err
	}
	for p.cur().Type != token.RParen {
		arg := ast.CaptureArg{}
		if p.cur().Type == token.Ident && p.peek().Type == token.Assign {
			arg.Name = p.advance().Literal
			p.advance() // '='
		}
		value, err := p.parseExpression(precLowest)
		if err != nil {
			return nil, err
		}
		arg.Value = value
		stmt.Args = append(stmt.Args, arg)
		if p.cur().Type != token.Comma {
			break
		}
		p.advance()
	}
	if _, err := p.expect(token.RParen, "')'"); err != nil {
		return nil, err
	}
	if _, err := p.expect(token.Semicolon, "';'"); err != nil {
		return nil, err
	}
	return stmt, nil
}

// parseExpression implements precedence climbing over the binary operator
// ladder.
func (p *Parser) parseExpression(minPrec int) (ast.Expression, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}

	for {
		op := p.cur()
		prec, isOp := precedences[op.Type]
		if !isOp || prec < minPrec {
			return left, nil
		}
		if op.Type == token.Slash && p.inPredicate && !p.startsExpression(p.peek()) {
			// Closing predicate delimiter, not division.
			return left, nil
		}
		p.advance()
		right, err := p.parseExpression(prec + 1)
		if err != nil {
			return nil, err
		}
		infix := &ast.InfixExpression{Operator: op.Literal, Left: left, Right: right}
		infix.Line, infix.Column = op.Line, op.Column
		left = infix
	}
}

func (p *Parser) parseUnary() (ast.Expression, error) {
	if p.cur().Type == token.Bang {
		op := p.advance()
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		expr := &ast.PrefixExpression{Operator: "!", Right: right}
		expr.Line, expr.Column = op.Line, op.Column
		return expr, nil
	}
	return p.parsePostfix()
}

// parsePostfix parses a primary followed by any chain of .field, [key]
// and (args) suffixes.
func (p *Parser) parsePostfix() (ast.Expression, error) {
	expr, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}

	for {
		switch p.cur().Type {
		case token.Dot:
			dot := p.advance()
			field, err := p.expect(token.Ident, "field name after '.'")
			if err != nil {
				return nil, err
			}
			attr := &ast.AttributeExpression{Object: expr, Field: field.Literal}
			attr.Line, attr.Column = dot.Line, dot.Column
			expr = attr
		case token.LBracket:
			lb := p.advance()
			key, err := p.parseExpression(precLowest)
			if err != nil {
				return nil, err
			}
			if _, err := p.expect(token.RBracket, "']'"); err != nil {
				return nil, err
			}
			idx := &ast.IndexExpression{Object: expr, Key: key}
			idx.Line, idx.Column = lb.Line, lb.Column
			expr = idx
		case token.LParen:
			ident, ok := expr.(*ast.Identifier)
			if !ok {
				return nil, p.errf(p.cur(), "call target must be a function name")
			}
			args, err := p.parseCallArgs()
			if err != nil {
				return nil, err
			}
			call := &ast.CallExpression{Name: ident.Name, Args: args}
			call.Line, call.Column = ident.Line, ident.Column
			expr = call
		default:
			return expr, nil
		}
	}
}

func (p *Parser) parseCallArgs() ([]ast.Expression, error) {
	p.advance() // '('
	var args []ast.Expression
	for p.cur().Type != token.RParen {
		arg, err := p.parseExpression(precLowest)
		if err != nil {
			return nil, err
		}
		args = append(args, arg)
		if p.cur().Type != token.Comma {
			break
		}
		p.advance()
	}
	if _, err := p.expect(token.RParen, "')'"); err != nil {
		return nil, err
	}
	return args, nil
}

func (p *Parser) parsePrimary() (ast.Expression, error) {
	t := p.cur()
	switch t.Type {
	case token.Int:
		p.advance()
		v, err := strconv.ParseInt(t.Literal, 10, 64)
		if err != nil {
			return nil, p.errf(t, "invalid integer literal %q", t.Literal)
		}
		lit := &ast.IntLiteral{Value: v}
		lit.Line, lit.Column = t.Line, t.Column
		return lit, nil
	case token.Float:
		p.advance()
		v, err := strconv.ParseFloat(t.Literal, 64)
		if err != nil {
			return nil, p.errf(t, "invalid float literal %q", t.Literal)
		}
		lit := &ast.FloatLiteral{Value: v}
		lit.Line, lit.Column = t.Line, t.Column
		return lit, nil
	case token.String:
		p.advance()
		lit := &ast.StringLiteral{Value: t.Literal}
		lit.Line, lit.Column = t.Line, t.Column
		return lit, nil
	case token.True, token.False:
		p.advance()
		lit := &ast.BoolLiteral{Value: t.Type == token.True}
		lit.Line, lit.Column = t.Line, t.Column
		return lit, nil
	case token.None:
		p.advance()
		lit := &ast.NoneLiteral{}
		lit.Line, lit.Column = t.Line, t.Column
		return lit, nil
	case token.Ident:
		p.advance()
		ident := &ast.Identifier{Name: t.Literal}
		ident.Line, ident.Column = t.Line, t.Column
		return ident, nil
	case token.ReqVar:
		p.advance()
		if _, err := p.expect(token.Dot, "'.' after request-variable prefix"); err != nil {
			return nil, err
		}
		name, err := p.expect(token.Ident, "request-variable name")
		if err != nil {
			return nil, err
		}
		rv := &ast.RequestVar{Name: name.Literal}
		rv.Line, rv.Column = t.Line, t.Column
		return rv, nil
	case token.LParen:
		p.advance()
		expr, err := p.parseExpression(precLowest)
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(token.RParen, "')'"); err != nil {
			return nil, err
		}
		return expr, nil
	default:
		return nil, p.errf(t, "expected expression, found %q", t.Literal)
	}
}

// startsExpression reports whether a token can begin a primary or unary
// expression. Used to tell a division operator apart from the closing
// predicate delimiter.
func (p *Parser) startsExpression(t token.Token) bool {
	switch t.Type {
	case token.Int, token.Float, token.String, token.Ident, token.ReqVar,
		token.True, token.False, token.None, token.LParen, token.Bang:
		return true
	}
	return false
}
