package process

import (
	"testing"

	"github.com/justyntemme/scriptfx/pkg/framework/param"
	"github.com/justyntemme/scriptfx/pkg/midi"
)

func TestContextEventProcessing(t *testing.T) {
	ctx := NewContext(param.NewRegistry())
	ctx.Input = [][]float32{make([]float32, 512)}
	ctx.Output = [][]float32{make([]float32, 512)}

	noteOn := midi.NoteOnEvent{
		BaseEvent:  midi.BaseEvent{EventChannel: 0, Offset: 100},
		NoteNumber: 60,
		Velocity:   100,
	}
	noteOff := midi.NoteOffEvent{
		BaseEvent:  midi.BaseEvent{EventChannel: 0, Offset: 200},
		NoteNumber: 60,
	}

	ctx.AddInputEvent(noteOn)
	ctx.AddInputEvent(noteOff)

	if events := ctx.InputEvents(); len(events) != 2 {
		t.Errorf("Expected 2 input events, got %d", len(events))
	}
	if !ctx.HasInputEvents() {
		t.Error("Expected HasInputEvents to return true")
	}

	var buf []midi.Event
	if events := ctx.AppendInputEvents(buf[:0], 0, 150); len(events) != 1 {
		t.Errorf("Expected 1 event in range [0, 150), got %d", len(events))
	}
	if events := ctx.AppendInputEvents(buf[:0], 150, 300); len(events) != 1 {
		t.Errorf("Expected 1 event in range [150, 300), got %d", len(events))
	}

	ctx.ClearInputEvents()
	if ctx.HasInputEvents() {
		t.Error("Expected no input events after clear")
	}
}

func TestContextEventCapacity(t *testing.T) {
	ctx := NewContext(nil)
	for i := 0; i < maxEvents; i++ {
		if !ctx.AddInputEvent(midi.NoteOnEvent{NoteNumber: 60, Velocity: 1}) {
			t.Fatalf("Event %d rejected below capacity", i)
		}
	}
	if ctx.AddInputEvent(midi.NoteOnEvent{}) {
		t.Error("Expected the event list to refuse events past capacity")
	}
}

func TestContextPassThroughAndClear(t *testing.T) {
	ctx := NewContext(nil)
	ctx.Input = [][]float32{{0.5, -0.5}}
	ctx.Output = [][]float32{{1, 1}, {1, 1}}

	ctx.PassThrough()
	if ctx.Output[0][0] != 0.5 || ctx.Output[0][1] != -0.5 {
		t.Errorf("Channel 0 not copied: %v", ctx.Output[0])
	}
	if ctx.Output[1][0] != 0 || ctx.Output[1][1] != 0 {
		t.Errorf("Channel without input should be silent: %v", ctx.Output[1])
	}

	ctx.Clear()
	for ch := range ctx.Output {
		for i, v := range ctx.Output[ch] {
			if v != 0 {
				t.Errorf("Output[%d][%d] = %v after Clear", ch, i, v)
			}
		}
	}
}

func TestContextParams(t *testing.T) {
	r := param.NewRegistry()
	r.Add(param.GainParameter(param.Key(0), "gain", "Gain", -30, 30).Build())
	r.Set(param.Key(0), 15)

	ctx := NewContext(r)
	if got := ctx.ParamPlain(param.Key(0)); got != 15 {
		t.Errorf("Expected plain 15, got %v", got)
	}
	if got := ctx.Param(param.Key(0)); got != 0.75 {
		t.Errorf("Expected normalized 0.75, got %v", got)
	}
	if got := ctx.ParamPlain(param.Key(9)); got != 0 {
		t.Errorf("Unknown key should read 0, got %v", got)
	}
}
