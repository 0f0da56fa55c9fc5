// Package hclengine runs per-sample scripts written as HCL expressions.
//
// A script is either a bare expression, evaluated once per sample and
// channel to produce the output sample:
//
//	x * (0.5 + 0.5 * sin(2 * pi() * 3 * t))
//
// or an HCL body with a required out attribute. Other attributes are
// helpers, visible as local.<name> to the attributes that follow them:
//
//	lfo = 0.5 + 0.5 * sin(2 * pi() * p.macro1 * 10 * t)
//	out = x * local.lfo * p.gain
package hclengine

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"sync/atomic"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/justyntemme/scriptfx/pkg/script"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"
)

// Name is the engine name used in configuration.
const Name = "hcl"

const filename = "script.hcl"

var (
	errClosed = errors.New("program closed")

	// bodyForm matches sources with at least one line that starts an attribute.
	bodyForm = regexp.MustCompile(`(?m)^\s*[A-Za-z_][A-Za-z0-9_-]*\s*=[^=]`)
)

// Variables every script can read, besides p and local.
var builtins = map[string]struct{}{
	"x": {}, "t": {}, "ch": {}, "n": {}, "sr": {},
	"note": {}, "velocity": {}, "gate": {}, "freq": {},
	"bend": {}, "mod": {}, "pressure": {},
}

// Engine compiles HCL scripts.
type Engine struct{}

// New creates an HCL engine.
func New() *Engine {
	return &Engine{}
}

func (e *Engine) Name() string {
	return Name
}

// attribute is one named expression in evaluation order.
type attribute struct {
	name string
	expr hclsyntax.Expression
}

// Compile parses and binds a script.
func (e *Engine) Compile(source string, env script.Environment) (script.Program, error) {
	locals, out, err := parse(source)
	if err != nil {
		return nil, err
	}

	params := make(map[string]struct{}, len(env.Params))
	for _, b := range env.Params {
		params[b.Name] = struct{}{}
	}

	seen := make(map[string]struct{}, len(locals))
	for _, a := range locals {
		if err := bind(a.expr, params, seen); err != nil {
			return nil, err
		}
		seen[a.name] = struct{}{}
	}
	if err := bind(out, params, seen); err != nil {
		return nil, err
	}

	return newProgram(locals, out, env), nil
}

func parse(source string) ([]attribute, hclsyntax.Expression, error) {
	if !bodyForm.MatchString(source) {
		expr, diags := hclsyntax.ParseExpression([]byte(source), filename, hcl.InitialPos)
		if diags.HasErrors() {
			return nil, nil, diagError(script.PhaseParse, diags)
		}
		return nil, expr, nil
	}

	file, diags := hclsyntax.ParseConfig([]byte(source), filename, hcl.InitialPos)
	if diags.HasErrors() {
		return nil, nil, diagError(script.PhaseParse, diags)
	}
	body := file.Body.(*hclsyntax.Body)
	if len(body.Blocks) > 0 {
		r := body.Blocks[0].TypeRange
		return nil, nil, &script.CompileError{
			Engine: Name, Phase: script.PhaseBind,
			Line: r.Start.Line, Column: r.Start.Column,
			Message: fmt.Sprintf("blocks are not supported (found %q)", body.Blocks[0].Type),
		}
	}

	attrs := make([]*hclsyntax.Attribute, 0, len(body.Attributes))
	for _, a := range body.Attributes {
		attrs = append(attrs, a)
	}
	sort.Slice(attrs, func(i, j int) bool {
		return attrs[i].SrcRange.Start.Byte < attrs[j].SrcRange.Start.Byte
	})

	var out hclsyntax.Expression
	locals := make([]attribute, 0, len(attrs))
	for _, a := range attrs {
		if a.Name == "out" {
			out = a.Expr
			continue
		}
		if _, ok := builtins[a.Name]; ok || a.Name == "p" || a.Name == "local" {
			return nil, nil, &script.CompileError{
				Engine: Name, Phase: script.PhaseBind,
				Line: a.NameRange.Start.Line, Column: a.NameRange.Start.Column,
				Message: fmt.Sprintf("%q is a reserved name", a.Name),
			}
		}
		locals = append(locals, attribute{name: a.Name, expr: a.Expr})
	}
	if out == nil {
		return nil, nil, &script.CompileError{
			Engine: Name, Phase: script.PhaseBind, Line: 1, Column: 1,
			Message: `missing required attribute "out"`,
		}
	}
	return locals, out, nil
}

// bind rejects references to unknown variables, parameters, locals, and
// functions, so typos surface at compile time instead of on the audio path.
func bind(expr hclsyntax.Expression, params, locals map[string]struct{}) error {
	for _, tr := range expr.Variables() {
		root := tr.RootName()
		r := tr.SourceRange()
		fail := func(format string, args ...any) error {
			return &script.CompileError{
				Engine: Name, Phase: script.PhaseBind,
				Line: r.Start.Line, Column: r.Start.Column,
				Message: fmt.Sprintf(format, args...),
			}
		}

		switch root {
		case "p", "local":
			if len(tr) < 2 {
				return fail("%s must be followed by a name", root)
			}
			attr, ok := tr[1].(hcl.TraverseAttr)
			if !ok {
				return fail("%s must be followed by .name", root)
			}
			known := params
			if root == "local" {
				known = locals
			}
			if _, ok := known[attr.Name]; !ok {
				if root == "p" {
					return fail("unknown parameter %q", attr.Name)
				}
				return fail("unknown or later local %q", attr.Name)
			}
		default:
			if _, ok := builtins[root]; !ok {
				return fail("unknown variable %q", root)
			}
		}
	}

	called := make(map[string]hcl.Range)
	walkForFunctions(expr, called)
	names := make([]string, 0, len(called))
	for name := range called {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if _, ok := functions[name]; !ok {
			r := called[name]
			return &script.CompileError{
				Engine: Name, Phase: script.PhaseBind,
				Line: r.Start.Line, Column: r.Start.Column,
				Message: fmt.Sprintf("unknown function %q", name),
			}
		}
	}
	return nil
}

// walkForFunctions records every function call in the syntax tree.
func walkForFunctions(expr hclsyntax.Expression, called map[string]hcl.Range) {
	if expr == nil {
		return
	}
	switch e := expr.(type) {
	case *hclsyntax.FunctionCallExpr:
		if _, ok := called[e.Name]; !ok {
			called[e.Name] = e.NameRange
		}
		for _, arg := range e.Args {
			walkForFunctions(arg, called)
		}
	case *hclsyntax.BinaryOpExpr:
		walkForFunctions(e.LHS, called)
		walkForFunctions(e.RHS, called)
	case *hclsyntax.ConditionalExpr:
		walkForFunctions(e.Condition, called)
		walkForFunctions(e.TrueResult, called)
		walkForFunctions(e.FalseResult, called)
	case *hclsyntax.UnaryOpExpr:
		walkForFunctions(e.Val, called)
	case *hclsyntax.TupleConsExpr:
		for _, item := range e.Exprs {
			walkForFunctions(item, called)
		}
	case *hclsyntax.ObjectConsExpr:
		for _, item := range e.Items {
			walkForFunctions(item.KeyExpr, called)
			walkForFunctions(item.ValueExpr, called)
		}
	case *hclsyntax.ForExpr:
		walkForFunctions(e.CollExpr, called)
		walkForFunctions(e.KeyExpr, called)
		walkForFunctions(e.ValExpr, called)
		walkForFunctions(e.CondExpr, called)
	case *hclsyntax.IndexExpr:
		walkForFunctions(e.Collection, called)
		walkForFunctions(e.Key, called)
	case *hclsyntax.SplatExpr:
		walkForFunctions(e.Source, called)
		walkForFunctions(e.Each, called)
	case *hclsyntax.ParenthesesExpr:
		walkForFunctions(e.Expression, called)
	case *hclsyntax.TemplateExpr:
		for _, part := range e.Parts {
			walkForFunctions(part, called)
		}
	case *hclsyntax.TemplateWrapExpr:
		walkForFunctions(e.Wrapped, called)
	}
}

func diagError(phase string, diags hcl.Diagnostics) *script.CompileError {
	ce := &script.CompileError{Engine: Name, Phase: phase, Err: diags}
	for _, d := range diags {
		if d.Severity != hcl.DiagError {
			continue
		}
		ce.Message = d.Summary
		if d.Detail != "" {
			ce.Message += ": " + d.Detail
		}
		if d.Subject != nil {
			ce.Line = d.Subject.Start.Line
			ce.Column = d.Subject.Start.Column
		}
		break
	}
	return ce
}

// program evaluates the bound expressions sample by sample.
type program struct {
	locals []attribute
	out    hclsyntax.Expression
	env    script.Environment

	ctx       *hcl.EvalContext
	localVals map[string]cty.Value
	paramVals map[string]cty.Value

	closed atomic.Bool
}

func newProgram(locals []attribute, out hclsyntax.Expression, env script.Environment) *program {
	return &program{
		locals:    locals,
		out:       out,
		env:       env,
		ctx:       &hcl.EvalContext{Variables: make(map[string]cty.Value, 16), Functions: functions},
		localVals: make(map[string]cty.Value, len(locals)),
		paramVals: make(map[string]cty.Value, len(env.Params)),
	}
}

func (p *program) Process(f *script.Frame) error {
	vars := p.ctx.Variables

	// Block-constant inputs.
	for _, b := range p.env.Params {
		p.paramVals[b.Name] = cty.NumberFloatVal(b.Value(f.Params))
	}
	if len(p.paramVals) > 0 {
		vars["p"] = cty.ObjectVal(p.paramVals)
	} else {
		vars["p"] = cty.EmptyObjectVal
	}
	vars["sr"] = cty.NumberFloatVal(f.SampleRate)
	vars["note"] = cty.NumberIntVal(int64(f.MIDI.Note))
	vars["velocity"] = cty.NumberFloatVal(f.MIDI.Velocity)
	vars["gate"] = cty.BoolVal(f.MIDI.Gate)
	vars["freq"] = cty.NumberFloatVal(f.MIDI.Frequency())
	vars["bend"] = cty.NumberFloatVal(f.MIDI.PitchBend)
	vars["mod"] = cty.NumberFloatVal(f.MIDI.ModWheel)
	vars["pressure"] = cty.NumberFloatVal(f.MIDI.Pressure)
	vars["local"] = cty.EmptyObjectVal

	for ch := 0; ch < f.Channels(); ch++ {
		in, out := f.Input[ch], f.Output[ch]
		vars["ch"] = cty.NumberIntVal(int64(ch))
		for n := 0; n < f.Frames; n++ {
			if p.closed.Load() {
				return errClosed
			}
			vars["x"] = cty.NumberFloatVal(float64(in[n]))
			vars["t"] = cty.NumberFloatVal(f.SampleTime(n))
			vars["n"] = cty.NumberIntVal(int64(n))

			if len(p.locals) > 0 {
				vars["local"] = cty.EmptyObjectVal
				for _, a := range p.locals {
					v, err := p.eval(a.expr)
					if err != nil {
						return fmt.Errorf("local.%s: %w", a.name, err)
					}
					p.localVals[a.name] = v
					vars["local"] = cty.ObjectVal(p.localVals)
				}
			}

			v, err := p.eval(p.out)
			if err != nil {
				return err
			}
			out[n] = float32(toFloat(v))
		}
	}
	return nil
}

func (p *program) eval(expr hclsyntax.Expression) (cty.Value, error) {
	v, diags := expr.Value(p.ctx)
	if diags.HasErrors() {
		return cty.NilVal, diags
	}
	if !v.IsKnown() || v.IsNull() {
		return cty.NilVal, errNotANumber
	}
	if v.Type() == cty.Bool {
		if v.True() {
			return cty.NumberIntVal(1), nil
		}
		return cty.NumberIntVal(0), nil
	}
	num, err := convert.Convert(v, cty.Number)
	if err != nil {
		return cty.NilVal, fmt.Errorf("%w: %v", errNotANumber, err)
	}
	return num, nil
}

func (p *program) Close() {
	p.closed.Store(true)
}
