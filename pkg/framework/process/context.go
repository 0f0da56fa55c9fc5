// Package process provides the per-callback audio processing context.
package process

import (
	"github.com/justyntemme/scriptfx/pkg/framework/param"
	"github.com/justyntemme/scriptfx/pkg/midi"
)

// maxEvents is the event capacity preallocated per context.
const maxEvents = 512

// Context provides a clean API for audio processing with zero allocations
type Context struct {
	Input      [][]float32
	Output     [][]float32
	SampleRate float64

	inputEvents []midi.Event

	// Parameter access
	params *param.Registry
}

// NewContext creates a new process context with a preallocated event list
func NewContext(params *param.Registry) *Context {
	return &Context{
		inputEvents: make([]midi.Event, 0, maxEvents),
		params:      params,
	}
}

// Param returns the current value of a parameter (0-1 normalized)
func (c *Context) Param(key param.Key) float64 {
	if c.params == nil {
		return 0
	}
	if p := c.params.Get(key); p != nil {
		return p.GetValue()
	}
	return 0
}

// ParamPlain returns the current plain value of a parameter
func (c *Context) ParamPlain(key param.Key) float64 {
	if c.params == nil {
		return 0
	}
	return c.params.Value(key)
}

// NumSamples returns the number of samples to process
func (c *Context) NumSamples() int {
	if len(c.Input) > 0 && len(c.Input[0]) > 0 {
		return len(c.Input[0])
	}
	if len(c.Output) > 0 && len(c.Output[0]) > 0 {
		return len(c.Output[0])
	}
	return 0
}

// NumInputChannels returns the number of input channels
func (c *Context) NumInputChannels() int {
	return len(c.Input)
}

// NumOutputChannels returns the number of output channels
func (c *Context) NumOutputChannels() int {
	return len(c.Output)
}

// PassThrough copies input to output (for bypass). Output channels without
// a matching input are cleared.
func (c *Context) PassThrough() {
	for ch := range c.Output {
		if ch < len(c.Input) {
			copy(c.Output[ch], c.Input[ch])
			continue
		}
		clear(c.Output[ch])
	}
}

// Clear zeros the output buffers
func (c *Context) Clear() {
	for ch := range c.Output {
		clear(c.Output[ch])
	}
}

// AddInputEvent queues a MIDI event for this block. Events beyond the
// preallocated capacity are dropped and reported as false.
func (c *Context) AddInputEvent(e midi.Event) bool {
	if len(c.inputEvents) == cap(c.inputEvents) {
		return false
	}
	c.inputEvents = append(c.inputEvents, e)
	return true
}

// InputEvents returns the block's events in arrival order. The slice is
// reused after ClearInputEvents.
func (c *Context) InputEvents() []midi.Event {
	return c.inputEvents
}

// HasInputEvents reports whether any event is queued.
func (c *Context) HasInputEvents() bool {
	return len(c.inputEvents) > 0
}

// AppendInputEvents appends events with a sample offset in [start, end) to dst.
func (c *Context) AppendInputEvents(dst []midi.Event, start, end int32) []midi.Event {
	for _, e := range c.inputEvents {
		if off := e.SampleOffset(); off >= start && off < end {
			dst = append(dst, e)
		}
	}
	return dst
}

// ClearInputEvents empties the event list, keeping its storage.
func (c *Context) ClearInputEvents() {
	clear(c.inputEvents)
	c.inputEvents = c.inputEvents[:0]
}
