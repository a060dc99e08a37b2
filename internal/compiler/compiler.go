// Package compiler lowers parsed probe programs to bytecode.
//
// # Pipeline
//
// Compile parses the source, runs semantic analysis on each probe, then
// lowers every probe into two independent linear instruction streams
// (predicate and body) that share one interned constant pool. The output
// Program is immutable and safe to share.
//
// # Sampling lowering
//
// sample directives are statements in the surface syntax but gates in
// the compiled form: each one is hoisted out of the body and folded into
// the predicate as an implicit AND of `__sample__(rate)` calls, ahead of
// the source predicate. Multiple directives can therefore only tighten
// the firing rate. The __sample__ gate reads a per-request uniform draw,
// so every probe in a request sees the same verdict.
//
// # No branches
//
// The instruction set has no jumps, so source-level short-circuit of
// && and || is not preserved: both sides always execute. Built-in calls
// are pure except rand() and timestamp(), which keeps that harmless.
package compiler

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"github.com/hogtrace/hogtrace/internal/ast"
	"github.com/hogtrace/hogtrace/internal/parser"
	"github.com/hogtrace/hogtrace/internal/program"
)

// SampleFunc is the compiler-generated gate function name. The VM serves
// it itself; dispatchers never see calls to it.
const SampleFunc = "__sample__"

// Option configures compilation.
type Option func(*Compiler)

// WithSampling sets the program's global sampling rate. Rates outside
// [0,1] are clamped.
func WithSampling(rate float32) Option {
	return func(c *Compiler) {
		if rate < 0 {
			rate = 0
		}
		if rate > 1 {
			rate = 1
		}
		c.sampling = rate
	}
}

// Compiler holds the state of one compilation: the program being built
// and the stream currently being emitted into.
type Compiler struct {
	prog     *program.Program
	sampling float32
	code     []byte // current stream
}

// Compile parses and compiles a complete probe program.
func Compile(source string, opts ...Option) (*program.Program, error) {
	root, err := parser.Parse(source)
	if err != nil {
		return nil, err
	}
	c := &Compiler{prog: program.New(), sampling: 1.0}
	for _, opt := range opts {
		opt(c)
	}
	c.prog.Sampling = c.sampling

	for i, probe := range root.Probes {
		compiled, err := c.compileProbe(probe, i)
		if err != nil {
			return nil, err
		}
		c.prog.Probes = append(c.prog.Probes, compiled)
	}
	return c.prog, nil
}

func (c *Compiler) compileProbe(probe *ast.Probe, ordinal int) (*program.Probe, error) {
	if err := analyzeProbe(probe); err != nil {
		return nil, err
	}

	spec, err := lowerSpec(probe.Spec)
	if err != nil {
		return nil, err
	}

	// Hoist sample directives out of the body; they gate the predicate.
	var samples []*ast.SampleStatement
	var body []ast.Statement
	for _, stmt := range probe.Body {
		if s, ok := stmt.(*ast.SampleStatement); ok {
			samples = append(samples, s)
			continue
		}
		body = append(body, stmt)
	}

	predicate, err := c.compilePredicate(probe.Predicate, samples)
	if err != nil {
		return nil, err
	}
	bodyCode, err := c.compileBody(body)
	if err != nil {
		return nil, err
	}

	return &program.Probe{
		ID:        fingerprint(probe, ordinal),
		Spec:      spec,
		Predicate: predicate,
		Body:      bodyCode,
	}, nil
}

// fingerprint derives the stable probe id from the canonical source
// rendering and the probe's position in the program.
func fingerprint(probe *ast.Probe, ordinal int) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%d", probe.String(), ordinal)
	return hex.EncodeToString(h.Sum(nil))[:16]
}

func lowerSpec(spec *ast.ProbeSpec) (program.ProbeSpec, error) {
	out := program.ProbeSpec{Specifier: spec.Specifier}
	switch spec.Provider {
	case ast.ProviderFn:
		out.Provider = program.ProviderFn
	case ast.ProviderPy:
		out.Provider = program.ProviderPy
	default:
		line, col := spec.Pos()
		return out, errAt(BadProbeSpec, line, col, "unknown provider %q", spec.Provider)
	}
	switch {
	case spec.Point == ast.PointEntry && spec.Offsetted:
		out.Target = program.TargetEntryOffset
		out.Offset = uint32(spec.Offset)
	case spec.Point == ast.PointEntry:
		out.Target = program.TargetEntry
	case spec.Point == ast.PointExit && spec.Offsetted:
		out.Target = program.TargetExitOffset
		out.Offset = uint32(spec.Offset)
	case spec.Point == ast.PointExit:
		out.Target = program.TargetExit
	default:
		line, col := spec.Pos()
		return out, errAt(BadProbeSpec, line, col, "unknown probe point %q", spec.Point)
	}
	return out, nil
}

// compilePredicate emits the sampling gates followed by the source
// predicate, joined with AND. An empty return means always-true.
func (c *Compiler) compilePredicate(pred ast.Expression, samples []*ast.SampleStatement) ([]byte, error) {
	if pred == nil && len(samples) == 0 {
		return nil, nil
	}
	c.code = nil

	terms := 0
	for _, s := range samples {
		if err := c.emitSampleGate(s); err != nil {
			return nil, err
		}
		terms++
		if terms > 1 {
			c.emit(program.OpAnd)
		}
	}
	if pred != nil {
		if err := c.compileExpr(pred); err != nil {
			return nil, err
		}
		terms++
		if terms > 1 {
			c.emit(program.OpAnd)
		}
	}

	c.emit(program.OpHalt)
	return c.take(), nil
}

func (c *Compiler) emitSampleGate(s *ast.SampleStatement) error {
	idx, err := c.addConstAt(program.FloatConst(s.Rate()), s)
	if err != nil {
		return err
	}
	c.emitIdx(program.OpPushConst, idx)
	fn, err := c.addConstAt(program.FuncConst(SampleFunc), s)
	if err != nil {
		return err
	}
	c.emitCall(fn, 1)
	return nil
}

func (c *Compiler) compileBody(body []ast.Statement) ([]byte, error) {
	if len(body) == 0 {
		return nil, nil
	}
	c.code = nil
	for _, stmt := range body {
		switch s := stmt.(type) {
		case *ast.AssignStatement:
			if err := c.compileExpr(s.Value); err != nil {
				return nil, err
			}
			idx, err := c.addConstAt(program.IdentConst(s.Name), s)
			if err != nil {
				return nil, err
			}
			c.emitIdx(program.OpStoreReq, idx)
		case *ast.CaptureStatement:
			if err := c.compileCapture(s); err != nil {
				return nil, err
			}
		default:
			line, col := stmt.Pos()
			return nil, errAt(BadProbeSpec, line, col, "unsupported statement %T", stmt)
		}
	}
	c.emit(program.OpHalt)
	return c.take(), nil
}

func (c *Compiler) compileCapture(s *ast.CaptureStatement) error {
	line, col := s.Pos()
	if len(s.Args) > 255 {
		return errAt(TooManyArgs, line, col, "capture takes at most 255 arguments")
	}
	named := len(s.Args) > 0 && s.Args[0].Name != ""
	for _, arg := range s.Args {
		if err := c.compileExpr(arg.Value); err != nil {
			return err
		}
		if named {
			idx, err := c.addConstAt(program.StringConst(arg.Name), s)
			if err != nil {
				return err
			}
			c.emitIdx(program.OpPushConst, idx)
		}
	}
	if named {
		c.emitCapture(0, uint8(len(s.Args)))
	} else {
		c.emitCapture(uint8(len(s.Args)), 0)
	}
	return nil
}

func (c *Compiler) compileExpr(expr ast.Expression) error {
	switch e := expr.(type) {
	case *ast.IntLiteral:
		return c.emitPushConst(program.IntConst(e.Value), e)
	case *ast.FloatLiteral:
		return c.emitPushConst(program.FloatConst(e.Value), e)
	case *ast.StringLiteral:
		return c.emitPushConst(program.StringConst(e.Value), e)
	case *ast.BoolLiteral:
		return c.emitPushConst(program.BoolConst(e.Value), e)
	case *ast.NoneLiteral:
		return c.emitPushConst(program.NoneConst(), e)
	case *ast.Identifier:
		idx, err := c.addConstAt(program.IdentConst(e.Name), e)
		if err != nil {
			return err
		}
		c.emitIdx(program.OpLoadVar, idx)
		return nil
	case *ast.RequestVar:
		idx, err := c.addConstAt(program.IdentConst(e.Name), e)
		if err != nil {
			return err
		}
		c.emitIdx(program.OpLoadReq, idx)
		return nil
	case *ast.AttributeExpression:
		if err := c.compileExpr(e.Object); err != nil {
			return err
		}
		idx, err := c.addConstAt(program.FieldConst(e.Field), e)
		if err != nil {
			return err
		}
		c.emitIdx(program.OpGetAttr, idx)
		return nil
	case *ast.IndexExpression:
		if err := c.compileExpr(e.Object); err != nil {
			return err
		}
		if err := c.compileExpr(e.Key); err != nil {
			return err
		}
		c.emit(program.OpGetItem)
		return nil
	case *ast.CallExpression:
		if len(e.Args) > 255 {
			line, col := e.Pos()
			return errAt(TooManyArgs, line, col, "%s takes at most 255 arguments", e.Name)
		}
		for _, arg := range e.Args {
			if err := c.compileExpr(arg); err != nil {
				return err
			}
		}
		idx, err := c.addConstAt(program.FuncConst(e.Name), e)
		if err != nil {
			return err
		}
		c.emitCall(idx, uint8(len(e.Args)))
		return nil
	case *ast.PrefixExpression:
		if err := c.compileExpr(e.Right); err != nil {
			return err
		}
		c.emit(program.OpNot)
		return nil
	case *ast.InfixExpression:
		if err := c.compileExpr(e.Left); err != nil {
			return err
		}
		if err := c.compileExpr(e.Right); err != nil {
			return err
		}
		op, ok := infixOps[e.Operator]
		if !ok {
			line, col := e.Pos()
			return errAt(BadProbeSpec, line, col, "unsupported operator %q", e.Operator)
		}
		c.emit(op)
		return nil
	default:
		line, col := expr.Pos()
		return errAt(BadProbeSpec, line, col, "unsupported expression %T", expr)
	}
}

var infixOps = map[string]program.Opcode{
	"+":  program.OpAdd,
	"-":  program.OpSub,
	"*":  program.OpMul,
	"/":  program.OpDiv,
	"%":  program.OpMod,
	"==": program.OpEq,
	"!=": program.OpNe,
	"<":  program.OpLt,
	">":  program.OpGt,
	"<=": program.OpLe,
	">=": program.OpGe,
	"&&": program.OpAnd,
	"||": program.OpOr,
}

// Emission helpers. Operands are little-endian, matching the wire format.

func (c *Compiler) emit(op program.Opcode) {
	c.code = append(c.code, byte(op))
}

func (c *Compiler) emitIdx(op program.Opcode, idx uint16) {
	c.code = append(c.code, byte(op), 0, 0)
	binary.LittleEndian.PutUint16(c.code[len(c.code)-2:], idx)
}

func (c *Compiler) emitCall(idx uint16, argc uint8) {
	c.code = append(c.code, byte(program.OpCallFunc), 0, 0, argc)
	binary.LittleEndian.PutUint16(c.code[len(c.code)-3:len(c.code)-1], idx)
}

func (c *Compiler) emitCapture(argc, namedc uint8) {
	c.code = append(c.code, byte(program.OpCapture), argc, namedc)
}

func (c *Compiler) emitPushConst(con program.Constant, node ast.Node) error {
	idx, err := c.addConstAt(con, node)
	if err != nil {
		return err
	}
	c.emitIdx(program.OpPushConst, idx)
	return nil
}

func (c *Compiler) addConstAt(con program.Constant, node ast.Node) (uint16, error) {
	idx, err := c.prog.Pool.Add(con)
	if err != nil {
		line, col := node.Pos()
		return 0, errAt(PoolOverflow, line, col, "%v", err)
	}
	return idx, nil
}

func (c *Compiler) take() []byte {
	code := c.code
	c.code = nil
	return code
}
