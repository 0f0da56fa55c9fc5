package editorlink

import (
	"errors"
	"math"

	"github.com/justyntemme/scriptfx/pkg/bridge"
	"github.com/justyntemme/scriptfx/pkg/dsp/gain"
	"github.com/justyntemme/scriptfx/pkg/script"
)

// Message types.
const (
	// Editor to plugin.
	TypeSource = "source" // store source in a slot (0 = selected) and load it if selected
	TypePreset = "preset" // select a slot
	TypeReload = "reload"
	TypeParam  = "param"

	// Plugin to editor.
	TypeStatus       = "status"
	TypeLoaded       = "loaded"
	TypeStored       = "stored"
	TypeCompileError = "compile_error"
	TypeError        = "error"
)

// Message is the JSON envelope of every frame in both directions.
type Message struct {
	Type string `json:"type"`

	Slot   int      `json:"slot,omitempty"`
	Source string   `json:"source,omitempty"`
	ID     string   `json:"id,omitempty"`
	Value  *float64 `json:"value,omitempty"`
	Text   string   `json:"text,omitempty"` // param value as display text, used when Value is absent

	Generation uint64     `json:"generation,omitempty"`
	Version    string     `json:"version,omitempty"`
	Error      *ErrorInfo `json:"error,omitempty"`
	Status     *Status    `json:"status,omitempty"`
}

// ErrorInfo describes a failure. Line and column are set for compile
// errors that carry a position.
type ErrorInfo struct {
	Engine  string `json:"engine,omitempty"`
	Phase   string `json:"phase,omitempty"`
	Line    int    `json:"line,omitempty"`
	Column  int    `json:"column,omitempty"`
	Message string `json:"message"`
}

// Status is what the editor displays.
type Status struct {
	Engine    string             `json:"engine"`
	State     string             `json:"state"`
	Live      uint64             `json:"live"`
	Version   string             `json:"version,omitempty"`
	Preset    int                `json:"preset"`
	Params    map[string]float64 `json:"params"`
	Texts     map[string]string  `json:"texts"`
	PeakDB    float64            `json:"peak_db"`
	LastError string             `json:"last_error,omitempty"`

	Processed         uint64 `json:"processed"`
	Failed            uint64 `json:"failed"`
	ConsecutiveFaults uint64 `json:"consecutive_faults"`
	Overflows         uint64 `json:"overflows"`
	Fallbacks         uint64 `json:"fallbacks"`
	Stale             uint64 `json:"stale"`
}

func newStatus(s bridge.Status) *Status {
	st := &Status{
		Engine:            s.Engine,
		State:             s.State.String(),
		Live:              s.Live,
		Preset:            s.Preset,
		Params:            s.Params,
		Texts:             s.Texts,
		PeakDB:            math.Max(s.Audio.PeakDB, gain.MinDB), // JSON has no -Inf
		LastError:         s.LastError,
		Processed:         s.Host.Processed,
		Failed:            s.Host.Failed,
		ConsecutiveFaults: s.Host.ConsecutiveFaults,
		Overflows:         s.Audio.Overflows,
		Fallbacks:         s.Audio.Fallbacks,
		Stale:             s.Audio.Stale + s.Host.Stale,
	}
	if s.Active != nil {
		st.Version = s.Active.ID.String()
	}
	return st
}

// errorMessage turns err into a compile_error or error message.
func errorMessage(err error) Message {
	var ce *script.CompileError
	if errors.As(err, &ce) {
		return Message{Type: TypeCompileError, Error: &ErrorInfo{
			Engine:  ce.Engine,
			Phase:   ce.Phase,
			Line:    ce.Line,
			Column:  ce.Column,
			Message: ce.Message,
		}}
	}
	return Message{Type: TypeError, Error: &ErrorInfo{Message: err.Error()}}
}
