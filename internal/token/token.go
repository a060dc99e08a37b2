// Package token defines the lexical tokens of the HogTrace probe language.
package token

// Type identifies the kind of a lexical token.
type Type int

const (
	// Special tokens
	EOF Type = iota
	Illegal

	// Literals
	Int
	Float
	String

	// Identifiers and keywords
	Ident
	True
	False
	None
	Sample
	Capture
	Send

	// Request-variable prefix: $req or $request
	ReqVar

	// Delimiters
	Colon     // :
	Semicolon // ;
	Comma     // ,
	Dot       // .
	LParen    // (
	RParen    // )
	LBracket  // [
	RBracket  // ]
	LBrace    // {
	RBrace    // }

	// Operators
	Assign  // =
	Plus    // +
	Minus   // -
	Star    // *
	Slash   // /
	Percent // %
	Eq      // ==
	NotEq   // !=
	Less    // <
	LessEq  // <=
	Greater // >
	GreaterEq
	AndAnd // &&
	OrOr   // ||
	Bang   // !
)

// Token is a single lexical token with its source position.
type Token struct {
	Type    Type
	Literal string
	Line    int
	Column  int
}

var names = map[Type]string{
	EOF:       "EOF",
	Illegal:   "ILLEGAL",
	Int:       "INT",
	Float:     "FLOAT",
	String:    "STRING",
	Ident:     "IDENT",
	True:      "TRUE",
	False:     "FALSE",
	None:      "NONE",
	Sample:    "SAMPLE",
	Capture:   "CAPTURE",
	Send:      "SEND",
	ReqVar:    "REQVAR",
	Colon:     "COLON",
	Semicolon: "SEMICOLON",
	Comma:     "COMMA",
	Dot:       "DOT",
	LParen:    "LPAREN",
	RParen:    "RPAREN",
	LBracket:  "LBRACKET",
	RBracket:  "RBRACKET",
	LBrace:    "LBRACE",
	RBrace:    "RBRACE",
	Assign:    "ASSIGN",
	Plus:      "PLUS",
	Minus:     "MINUS",
	Star:      "STAR",
	Slash:     "SLASH",
	Percent:   "PERCENT",
	Eq:        "EQ",
	NotEq:     "NOT_EQ",
	Less:      "LESS",
	LessEq:    "LESS_EQ",
	Greater:   "GREATER",
	GreaterEq: "GREATER_EQ",
	AndAnd:    "AND_AND",
	OrOr:      "OR_OR",
	Bang:      "BANG",
}

// String returns a human-readable name for the token type.
func (t Type) String() string {
	if s, ok := names[t]; ok {
		return s
	}
	return "UNKNOWN"
}

// LookupIdent maps reserved words to their keyword token type. Anything
// else is a plain identifier; fn/py/entry/exit are contextual and only
// carry meaning inside a probe spec.
func LookupIdent(ident string) Type {
	switch ident {
	case "True":
		return True
	case "False":
		return False
	case "None":
		return None
	case "sample":
		return Sample
	case "capture":
		return Capture
	case "send":
		return Send
	default:
		return Ident
	}
}
