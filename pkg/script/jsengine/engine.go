// Package jsengine runs scripts written in JavaScript on an embedded goja
// runtime.
//
// A script either defines process(x, t, ch, p), returning one output sample,
// or gain(t, p), returning a factor applied to every channel of the frame.
// Any other source is taken as the body of gain:
//
//	0.5 + 0.5 * Math.sin(2 * Math.PI * 3 * t)
//
// becomes function gain(t, p) { return 0.5 + 0.5 * Math.sin(...); }.
// The globals sr and n, and the MIDI summary note, velocity, gate, freq,
// bend, mod and pressure, are updated before each call.
package jsengine

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/dop251/goja"
	"github.com/justyntemme/scriptfx/pkg/script"
)

// Name is the engine name used in configuration.
const Name = "js"

// setupTimeout bounds top-level script code run at compile time.
const setupTimeout = time.Second

var (
	errClosed = errors.New("program closed")

	moduleForm = regexp.MustCompile(`\bfunction\s+(process|gain)\s*\(|\b(process|gain)\s*=`)
	linePos    = regexp.MustCompile(`Line (\d+):(\d+)`)
)

// Engine compiles JavaScript scripts.
type Engine struct{}

// New creates a JavaScript engine.
func New() *Engine {
	return &Engine{}
}

func (e *Engine) Name() string {
	return Name
}

// Wrap turns a bare expression into a gain function.
func Wrap(expr string) string {
	return fmt.Sprintf("function gain(t, p) { return %s; }", expr)
}

// Compile parses the source, runs its top level once, and binds the entry
// point.
func (e *Engine) Compile(source string, env script.Environment) (script.Program, error) {
	if !moduleForm.MatchString(source) {
		source = Wrap(source)
	}

	prg, err := goja.Compile("script.js", source, false)
	if err != nil {
		return nil, syntaxError(err)
	}

	vm := goja.New()
	p := &program{vm: vm, env: env, params: vm.NewObject()}
	for _, b := range env.Params {
		p.params.Set(b.Name, 0)
	}
	vm.Set("sr", env.SampleRate)
	vm.Set("n", 0)
	vm.Set("note", 0)
	vm.Set("velocity", 0)
	vm.Set("gate", false)
	vm.Set("freq", 0)
	vm.Set("bend", 0)
	vm.Set("mod", 0)
	vm.Set("pressure", 0)

	timer := time.AfterFunc(setupTimeout, func() {
		vm.Interrupt(fmt.Sprintf("top-level code ran longer than %v", setupTimeout))
	})
	_, err = vm.RunProgram(prg)
	timer.Stop()
	vm.ClearInterrupt()
	if err != nil {
		return nil, &script.CompileError{
			Engine: Name, Phase: script.PhaseValidate,
			Message: err.Error(), Err: err,
		}
	}

	if fn, ok := goja.AssertFunction(vm.Get("process")); ok {
		p.process = fn
	} else if fn, ok := goja.AssertFunction(vm.Get("gain")); ok {
		p.gain = fn
	} else {
		return nil, &script.CompileError{
			Engine: Name, Phase: script.PhaseBind,
			Message: "script must define a process(x, t, ch, p) or gain(t, p) function",
		}
	}
	return p, nil
}

func syntaxError(err error) *script.CompileError {
	ce := &script.CompileError{Engine: Name, Phase: script.PhaseParse, Message: err.Error(), Err: err}
	var se *goja.CompilerSyntaxError
	if errors.As(err, &se) {
		ce.Message = se.Message
		if se.File != nil {
			pos := se.File.Position(se.Offset)
			ce.Line, ce.Column = pos.Line, pos.Column
			return ce
		}
	}
	// Parser errors carry the position only in the message.
	if m := linePos.FindStringSubmatch(ce.Message); m != nil {
		ce.Line, _ = strconv.Atoi(m[1])
		ce.Column, _ = strconv.Atoi(m[2])
	}
	return ce
}

type program struct {
	vm      *goja.Runtime
	env     script.Environment
	params  *goja.Object
	process goja.Callable
	gain    goja.Callable

	closed atomic.Bool
}

func (p *program) Process(f *script.Frame) error {
	vm := p.vm
	for _, b := range p.env.Params {
		p.params.Set(b.Name, b.Value(f.Params))
	}
	vm.Set("sr", f.SampleRate)
	vm.Set("note", int(f.MIDI.Note))
	vm.Set("velocity", f.MIDI.Velocity)
	vm.Set("gate", f.MIDI.Gate)
	vm.Set("freq", f.MIDI.Frequency())
	vm.Set("bend", f.MIDI.PitchBend)
	vm.Set("mod", f.MIDI.ModWheel)
	vm.Set("pressure", f.MIDI.Pressure)

	channels := f.Channels()
	for n := 0; n < f.Frames; n++ {
		if p.closed.Load() {
			return errClosed
		}
		vm.Set("n", n)
		t := vm.ToValue(f.SampleTime(n))

		if p.gain != nil {
			v, err := p.gain(goja.Undefined(), t, p.params)
			if err != nil {
				return err
			}
			g := float32(v.ToFloat())
			for ch := 0; ch < channels; ch++ {
				f.Output[ch][n] = f.Input[ch][n] * g
			}
			continue
		}

		for ch := 0; ch < channels; ch++ {
			v, err := p.process(goja.Undefined(), vm.ToValue(float64(f.Input[ch][n])), t, vm.ToValue(ch), p.params)
			if err != nil {
				return err
			}
			f.Output[ch][n] = float32(v.ToFloat())
		}
	}
	return nil
}

// Close interrupts any call still running on the runtime.
func (p *program) Close() {
	if p.closed.CompareAndSwap(false, true) {
		p.vm.Interrupt(errClosed)
	}
}
