// Package script defines the contract between the script host and the
// embedded language engines that turn user source into a block processor.
package script

import (
	"github.com/justyntemme/scriptfx/pkg/dsp/gain"
	"github.com/justyntemme/scriptfx/pkg/framework/param"
	"github.com/justyntemme/scriptfx/pkg/midi"
)

// Engine compiles source text into a Program.
type Engine interface {
	Name() string
	// Compile returns a *CompileError when the source cannot be used.
	Compile(source string, env Environment) (Program, error)
}

// Program processes one block at a time. A Program is not safe for
// concurrent use; the isolation layer serializes calls into it.
type Program interface {
	Process(f *Frame) error
	// Close releases the program. It may be called while Process is still
	// running on another goroutine and must make that call return soon.
	Close()
}

// Binding exposes one parameter snapshot slot to scripts as p.<Name>.
type Binding struct {
	Name  string
	Index int
	// Decibels converts the plain dB value to a linear factor for scripts.
	Decibels bool
}

// Value reads the script-facing value from a snapshot.
func (b Binding) Value(s *param.Snapshot) float64 {
	v := s.At(b.Index)
	if b.Decibels {
		return gain.DbToLinear(v)
	}
	return v
}

// Environment is what a program is bound against at compile time.
type Environment struct {
	Params     []Binding
	Channels   int
	SampleRate float64
	MaxFrames  int
}

// BindRegistry builds bindings for every parameter with a string id, in
// snapshot order. Parameters with unit "dB" are exposed as linear gain.
func BindRegistry(r *param.Registry) []Binding {
	all := r.All()
	out := make([]Binding, 0, len(all))
	for i, p := range all {
		if p.ID == "" {
			continue
		}
		out = append(out, Binding{Name: p.ID, Index: i, Decibels: p.Unit == "dB"})
	}
	return out
}

// Frame is the input and output of one Program.Process call.
type Frame struct {
	Input      [][]float32
	Output     [][]float32
	Frames     int
	SampleRate float64
	Time       float64 // seconds at the first frame
	Params     *param.Snapshot
	MIDI       midi.State
}

// Channels returns the number of channels processed.
func (f *Frame) Channels() int {
	n := len(f.Input)
	if len(f.Output) < n {
		n = len(f.Output)
	}
	return n
}

// SampleTime returns the time in seconds of frame n.
func (f *Frame) SampleTime(n int) float64 {
	if f.SampleRate <= 0 {
		return f.Time
	}
	return f.Time + float64(n)/f.SampleRate
}
