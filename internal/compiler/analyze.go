package compiler

import (
	"github.com/hogtrace/hogtrace/internal/ast"
)

// Names the host guarantees to resolve through the dispatcher. argN names
// are matched separately. __sample_ok__ is the reserved per-request
// sampling verdict, which the VM serves without the dispatcher.
var hostNames = map[string]bool{
	"args":          true,
	"kwargs":        true,
	"self":          true,
	"retval":        true,
	"exception":     true,
	"__sample_ok__": true,
}

func isHostName(name string) bool {
	if hostNames[name] {
		return true
	}
	// arg0..argN
	if len(name) > 3 && name[:3] == "arg" {
		for i := 3; i < len(name); i++ {
			if name[i] < '0' || name[i] > '9' {
				return false
			}
		}
		return true
	}
	return false
}

// analyzeProbe runs the semantic checks on one probe before lowering:
// identifier resolution, capture argument shape, sample rates and probe
// point offsets. Request-variable reads need no declaration; an unset
// slot reads as None by design.
func analyzeProbe(probe *ast.Probe) error {
	if probe.Spec.Offsetted && probe.Spec.Offset < 0 {
		line, col := probe.Spec.Pos()
		return errAt(BadProbeSpec, line, col, "probe point offset must be non-negative")
	}

	if probe.Predicate != nil {
		if err := analyzeExpr(probe.Predicate); err != nil {
			return err
		}
	}

	for _, stmt := range probe.Body {
		switch s := stmt.(type) {
		case *ast.AssignStatement:
			if err := analyzeExpr(s.Value); err != nil {
				return err
			}
		case *ast.SampleStatement:
			if err := analyzeSample(s); err != nil {
				return err
			}
		case *ast.CaptureStatement:
			if err := analyzeCapture(s); err != nil {
				return err
			}
		}
	}
	return nil
}

func analyzeExpr(expr ast.Expression) error {
	switch e := expr.(type) {
	case *ast.Identifier:
		if !isHostName(e.Name) {
			line, col := e.Pos()
			return errAt(UnknownVariable, line, col, "unknown variable %q", e.Name)
		}
	case *ast.PrefixExpression:
		return analyzeExpr(e.Right)
	case *ast.InfixExpression:
		if err := analyzeExpr(e.Left); err != nil {
			return err
		}
		return analyzeExpr(e.Right)
	case *ast.AttributeExpression:
		return analyzeExpr(e.Object)
	case *ast.IndexExpression:
		if err := analyzeExpr(e.Object); err != nil {
			return err
		}
		return analyzeExpr(e.Key)
	case *ast.CallExpression:
		// Function names resolve at run time through the dispatcher, so an
		// unknown function is a dispatcher error, not a compile error.
		for _, arg := range e.Args {
			if err := analyzeExpr(arg); err != nil {
				return err
			}
		}
	}
	return nil
}

func analyzeSample(s *ast.SampleStatement) error {
	line, col := s.Pos()
	if s.Ratio {
		if s.Den == 0 {
			return errAt(BadSample, line, col, "sample ratio denominator must be non-zero")
		}
		if s.Num < 0 || s.Den < 0 {
			return errAt(BadSample, line, col, "sample ratio must be non-negative")
		}
		return nil
	}
	if s.Percent < 0 || s.Percent > 100 {
		return errAt(BadSample, line, col, "sample percentage must be in [0, 100]")
	}
	return nil
}

func analyzeCapture(s *ast.CaptureStatement) error {
	line, col := s.Pos()
	named := 0
	seen := make(map[string]bool)
	for _, arg := range s.Args {
		if arg.Name != "" {
			named++
			if seen[arg.Name] {
				return errAt(DuplicateName, line, col, "duplicate capture name %q", arg.Name)
			}
			seen[arg.Name] = true
		}
		if err := analyzeExpr(arg.Value); err != nil {
			return err
		}
	}
	if named != 0 && named != len(s.Args) {
		return errAt(BadMix, line, col, "capture arguments must be all positional or all named")
	}
	return nil
}
