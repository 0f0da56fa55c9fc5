// Package midi holds the MIDI events a host delivers with an audio block and
// a per-block summary that scripts can read.
package midi

import (
	"fmt"
	"math"
)

// Kind identifies the message an Event carries.
type Kind uint8

const (
	KindNoteOff Kind = iota
	KindNoteOn
	KindControlChange
	KindChannelPressure
	KindPitchBend
)

var kindNames = [...]string{"NoteOff", "NoteOn", "CC", "Pressure", "PitchBend"}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", k)
}

// Event is one message, positioned by its sample offset in the block.
// Only the kinds the Tracker folds into a State are modelled.
type Event interface {
	Kind() Kind
	Channel() uint8
	SampleOffset() int32
}

// BaseEvent carries the fields every event has.
type BaseEvent struct {
	EventChannel uint8
	Offset       int32
}

func (e BaseEvent) Channel() uint8      { return e.EventChannel }
func (e BaseEvent) SampleOffset() int32 { return e.Offset }

type NoteOnEvent struct {
	BaseEvent
	NoteNumber uint8
	Velocity   uint8 // 0 means note off
}

type NoteOffEvent struct {
	BaseEvent
	NoteNumber uint8
	Velocity   uint8
}

type ControlChangeEvent struct {
	BaseEvent
	Controller uint8
	Value      uint8
}

// Controllers the Tracker understands.
const (
	CCModWheel    uint8 = 1
	CCAllSoundOff uint8 = 120
	CCAllNotesOff uint8 = 123
)

type ChannelPressureEvent struct {
	BaseEvent
	Pressure uint8
}

type PitchBendEvent struct {
	BaseEvent
	Value int16 // -8192..8191, 0 is center
}

func (NoteOnEvent) Kind() Kind          { return KindNoteOn }
func (NoteOffEvent) Kind() Kind         { return KindNoteOff }
func (ControlChangeEvent) Kind() Kind   { return KindControlChange }
func (ChannelPressureEvent) Kind() Kind { return KindChannelPressure }
func (PitchBendEvent) Kind() Kind       { return KindPitchBend }

// NormalizedValue maps the bend to -1..1.
func (e PitchBendEvent) NormalizedValue() float64 {
	return float64(e.Value) / 8192.0
}

// Format renders an event for logs, as in "NoteOn ch=0 @100 60/64".
func Format(e Event) string {
	head := fmt.Sprintf("%s ch=%d @%d", e.Kind(), e.Channel(), e.SampleOffset())
	switch ev := e.(type) {
	case NoteOnEvent:
		return fmt.Sprintf("%s %d/%d", head, ev.NoteNumber, ev.Velocity)
	case NoteOffEvent:
		return fmt.Sprintf("%s %d/%d", head, ev.NoteNumber, ev.Velocity)
	case ControlChangeEvent:
		return fmt.Sprintf("%s %d=%d", head, ev.Controller, ev.Value)
	case ChannelPressureEvent:
		return fmt.Sprintf("%s %d", head, ev.Pressure)
	case PitchBendEvent:
		return fmt.Sprintf("%s %d", head, ev.Value)
	}
	return head
}

// NoteToFrequency converts a MIDI note number to Hz. A zero tuning means
// A4 = 440.
func NoteToFrequency(note uint8, tuningA4 float64) float64 {
	if tuningA4 == 0 {
		tuningA4 = 440.0
	}
	return tuningA4 * math.Exp2((float64(note)-69.0)/12.0)
}
