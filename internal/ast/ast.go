// Package ast defines the syntax tree for HogTrace probe programs.
package ast

import (
	"fmt"
	"strconv"
	"strings"
)

// Node is implemented by every syntax tree node.
type Node interface {
	// Pos returns the 1-based line and column where the node starts.
	Pos() (line, column int)
	// String renders the node back to canonical source form. Probe ids are
	// fingerprinted from this rendering, so it must be deterministic.
	String() string
}

// Expression is a value-producing node.
type Expression interface {
	Node
	expressionNode()
}

// Statement is an action-body statement.
type Statement interface {
	Node
	statementNode()
}

type position struct {
	Line   int
	Column int
}

func (p position) Pos() (int, int) { return p.Line, p.Column }

// Program is the root node: an ordered sequence of probes.
type Program struct {
	Probes []*Probe
}

func (p *Program) Pos() (int, int) {
	if len(p.Probes) > 0 {
		return p.Probes[0].Pos()
	}
	return 1, 1
}

func (p *Program) String() string {
	parts := make([]string, len(p.Probes))
	for i, pb := range p.Probes {
		parts[i] = pb.String()
	}
	return strings.Join(parts, "\n")
}

// Probe is one spec/predicate/body triple.
type Probe struct {
	position
	Spec      *ProbeSpec
	Predicate Expression // nil when the probe has no predicate
	Body      []Statement
}

func (p *Probe) String() string {
	var b strings.Builder
	b.WriteString(p.Spec.String())
	if p.Predicate != nil {
		b.WriteString(" / ")
		b.WriteString(p.Predicate.String())
		b.WriteString(" /")
	}
	b.WriteString(" { ")
	for _, s := range p.Body {
		b.WriteString(s.String())
		b.WriteString(" ")
	}
	b.WriteString("}")
	return b.String()
}

// Provider names accepted in a probe spec.
const (
	ProviderFn = "fn"
	ProviderPy = "py"
)

// Probe point names accepted in a probe spec.
const (
	PointEntry = "entry"
	PointExit  = "exit"
)

// ProbeSpec identifies where a probe fires: provider:specifier:point.
type ProbeSpec struct {
	position
	Provider  string // "fn" or "py"
	Specifier string // dotted path, optionally ending in ".*"
	Point     string // "entry" or "exit"
	Offset    int64  // valid when Offsetted
	Offsetted bool
}

func (s *ProbeSpec) String() string {
	if s.Offsetted {
		return fmt.Sprintf("%s:%s:%s+%d", s.Provider, s.Specifier, s.Point, s.Offset)
	}
	return fmt.Sprintf("%s:%s:%s", s.Provider, s.Specifier, s.Point)
}

// AssignStatement is a request-variable assignment: $req.name = expr ;
type AssignStatement struct {
	position
	Name  string // canonical slot name, without the $req. prefix
	Value Expression
}

func (s *AssignStatement) statementNode() {}
func (s *AssignStatement) String() string {
	return fmt.Sprintf("$req.%s = %s;", s.Name, s.Value.String())
}

// SampleStatement is a sampling directive: sample 10% ; or sample 1/3 ;
// Ratio form keeps numerator and denominator so the analyzer can reject a
// zero denominator instead of the parser dividing by it.
type SampleStatement struct {
	position
	Ratio   bool
	Percent float64 // percent form: the literal before '%'
	Num     int64   // ratio form numerator
	Den     int64   // ratio form denominator
	Raw     string  // source form, kept for rendering
}

func (s *SampleStatement) statementNode() {}
func (s *SampleStatement) String() string { return fmt.Sprintf("sample %s;", s.Raw) }

// Rate resolves the directive to a firing rate in [0,1]. The caller must
// have rejected Den == 0 beforehand.
func (s *SampleStatement) Rate() float64 {
	if s.Ratio {
		return float64(s.Num) / float64(s.Den)
	}
	return s.Percent / 100
}

// CaptureArg is one argument of a capture/send call. Name is empty for
// positional arguments.
type CaptureArg struct {
	Name  string
	Value Expression
}

// CaptureStatement emits a capture event: capture(...) or send(...).
type CaptureStatement struct {
	position
	Args []CaptureArg
}

func (s *CaptureStatement) statementNode() {}
func (s *CaptureStatement) String() string {
	parts := make([]string, len(s.Args))
	for i, a := range s.Args {
		if a.Name != "" {
			parts[i] = a.Name + " = " + a.Value.String()
		} else {
			parts[i] = a.Value.String()
		}
	}
	return "capture(" + strings.Join(parts, ", ") + ");"
}

// IntLiteral is a decimal integer literal.
type IntLiteral struct {
	position
	Value int64
}

func (e *IntLiteral) expressionNode() {}
func (e *IntLiteral) String() string  { return strconv.FormatInt(e.Value, 10) }

// FloatLiteral is a floating-point literal.
type FloatLiteral struct {
	position
	Value float64
}

func (e *FloatLiteral) expressionNode() {}
func (e *FloatLiteral) String() string  { return strconv.FormatFloat(e.Value, 'g', -1, 64) }

// StringLiteral holds the decoded (unescaped) string value.
type StringLiteral struct {
	position
	Value string
}

func (e *StringLiteral) expressionNode() {}
func (e *StringLiteral) String() string  { return strconv.Quote(e.Value) }

// BoolLiteral is True or False.
type BoolLiteral struct {
	position
	Value bool
}

func (e *BoolLiteral) expressionNode() {}
func (e *BoolLiteral) String() string {
	if e.Value {
		return "True"
	}
	return "False"
}

// NoneLiteral is the None literal.
type NoneLiteral struct {
	position
}

func (e *NoneLiteral) expressionNode() {}
func (e *NoneLiteral) String() string  { return "None" }

// Identifier references a host-provided frame variable.
type Identifier struct {
	position
	Name string
}

func (e *Identifier) expressionNode() {}
func (e *Identifier) String() string  { return e.Name }

// RequestVar references a request-scoped slot: $req.name / $request.name.
// The parser canonicalizes both spellings to the same node.
type RequestVar struct {
	position
	Name string
}

func (e *RequestVar) expressionNode() {}
func (e *RequestVar) String() string  { return "$req." + e.Name }

// PrefixExpression is a unary operator application, currently only "!".
type PrefixExpression struct {
	position
	Operator string
	Right    Expression
}

func (e *PrefixExpression) expressionNode() {}
func (e *PrefixExpression) String() string {
	return "(" + e.Operator + e.Right.String() + ")"
}

// InfixExpression is a binary operator application.
type InfixExpression struct {
	position
	Operator string
	Left     Expression
	Right    Expression
}

func (e *InfixExpression) expressionNode() {}
func (e *InfixExpression) String() string {
	return "(" + e.Left.String() + " " + e.Operator + " " + e.Right.String() + ")"
}

// AttributeExpression is postfix field access: obj.field.
type AttributeExpression struct {
	position
	Object Expression
	Field  string
}

func (e *AttributeExpression) expressionNode() {}
func (e *AttributeExpression) String() string  { return e.Object.String() + "." + e.Field }

// IndexExpression is postfix subscript access: obj[key].
type IndexExpression struct {
	position
	Object Expression
	Key    Expression
}

func (e *IndexExpression) expressionNode() {}
func (e *IndexExpression) String() string  { return e.Object.String() + "[" + e.Key.String() + "]" }

// CallExpression is a function call. Calls are only valid on bare function
// names; the callee is resolved by the dispatcher at run time.
type CallExpression struct {
	position
	Name string
	Args []Expression
}

func (e *CallExpression) expressionNode() {}
func (e *CallExpression) String() string {
	parts := make([]string, len(e.Args))
	for i, a := range e.Args {
		parts[i] = a.String()
	}
	return e.Name + "(" + strings.Join(parts, ", ") + ")"
}
