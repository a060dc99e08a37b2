package lexer

import (
	"testing"

	"github.com/hogtrace/hogtrace/internal/token"
)

func TestNextTokenBasics(t *testing.T) {
	input := `fn:m.f:entry / arg0 == "admin" / { capture(arg0); }`

	want := []struct {
		typ     token.Type
		literal string
	}{
		{token.Ident, "fn"},
		{token.Colon, ":"},
		{token.Ident, "m"},
		{token.Dot, "."},
		{token.Ident, "f"},
		{token.Colon, ":"},
		{token.Ident, "entry"},
		{token.Slash, "/"},
		{token.Ident, "arg0"},
		{token.Eq, "=="},
		{token.String, "admin"},
		{token.Slash, "/"},
		{token.LBrace, "{"},
		{token.Capture, "capture"},
		{token.LParen, "("},
		{token.Ident, "arg0"},
		{token.RParen, ")"},
		{token.Semicolon, ";"},
		{token.RBrace, "}"},
		{token.EOF, ""},
	}

	l := New(input)
	for i, w := range want {
		tok := l.NextToken()
		if tok.Type != w.typ || tok.Literal != w.literal {
			t.Fatalf("token %d = (%s, %q), want (%s, %q)", i, tok.Type, tok.Literal, w.typ, w.literal)
		}
	}
}

func TestOperators(t *testing.T) {
	input := `|| && == != < <= > >= + - * / % ! = [ ] , $req $request`
	want := []token.Type{
		token.OrOr, token.AndAnd, token.Eq, token.NotEq,
		token.Less, token.LessEq, token.Greater, token.GreaterEq,
		token.Plus, token.Minus, token.Star, token.Slash, token.Percent,
		token.Bang, token.Assign, token.LBracket, token.RBracket, token.Comma,
		token.ReqVar, token.ReqVar, token.EOF,
	}

	l := New(input)
	for i, w := range want {
		tok := l.NextToken()
		if tok.Type != w {
			t.Fatalf("token %d = %s (%q), want %s", i, tok.Type, tok.Literal, w)
		}
	}
}

func TestNumbers(t *testing.T) {
	tests := []struct {
		input   string
		typ     token.Type
		literal string
	}{
		{"0", token.Int, "0"},
		{"42", token.Int, "42"},
		{"3.14", token.Float, "3.14"},
		{"1e9", token.Float, "1e9"},
		{"2.5e-3", token.Float, "2.5e-3"},
		{"1E+6", token.Float, "1E+6"},
	}

	for _, tt := range tests {
		tok := New(tt.input).NextToken()
		if tok.Type != tt.typ || tok.Literal != tt.literal {
			t.Fatalf("lex(%q) = (%s, %q), want (%s, %q)", tt.input, tok.Type, tok.Literal, tt.typ, tt.literal)
		}
	}
}

func TestStringsAndEscapes(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{`'hello'`, "hello"},
		{`"hello"`, "hello"},
		{`'it\'s'`, "it's"},
		{`"tab\there"`, "tab\there"},
		{`"line\n"`, "line\n"},
		{`"back\\slash"`, `back\slash`},
	}

	for _, tt := range tests {
		tok := New(tt.input).NextToken()
		if tok.Type != token.String || tok.Literal != tt.want {
			t.Fatalf("lex(%s) = (%s, %q), want (STRING, %q)", tt.input, tok.Type, tok.Literal, tt.want)
		}
	}
}

func TestUnterminatedString(t *testing.T) {
	tok := New(`'oops`).NextToken()
	if tok.Type != token.Illegal {
		t.Fatalf("unterminated string lexed as %s", tok.Type)
	}
}

func TestComments(t *testing.T) {
	input := "# line comment\narg0 /* block\ncomment */ arg1"
	l := New(input)

	tok := l.NextToken()
	if tok.Type != token.Ident || tok.Literal != "arg0" {
		t.Fatalf("first token = (%s, %q)", tok.Type, tok.Literal)
	}
	if tok.Line != 2 {
		t.Fatalf("arg0 on line %d, want 2", tok.Line)
	}

	tok = l.NextToken()
	if tok.Type != token.Ident || tok.Literal != "arg1" {
		t.Fatalf("second token = (%s, %q)", tok.Type, tok.Literal)
	}
	if tok.Line != 3 {
		t.Fatalf("arg1 on line %d, want 3", tok.Line)
	}
}

func TestKeywords(t *testing.T) {
	tests := []struct {
		input string
		typ   token.Type
	}{
		{"True", token.True},
		{"False", token.False},
		{"None", token.None},
		{"sample", token.Sample},
		{"capture", token.Capture},
		{"send", token.Send},
		{"entry", token.Ident}, // contextual, not reserved lexically
		{"truthy", token.Ident},
	}

	for _, tt := range tests {
		tok := New(tt.input).NextToken()
		if tok.Type != tt.typ {
			t.Fatalf("lex(%q) = %s, want %s", tt.input, tok.Type, tt.typ)
		}
	}
}

func TestBadReqVar(t *testing.T) {
	tok := New("$bogus").NextToken()
	if tok.Type != token.Illegal {
		t.Fatalf("$bogus lexed as %s", tok.Type)
	}
}

func TestTokenizeStopsOnIllegal(t *testing.T) {
	_, err := New("arg0 @ arg1").Tokenize()
	if err == nil {
		t.Fatal("expected error for illegal token")
	}
}
