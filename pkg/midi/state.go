package midi

import "math"

// maxHeld is how many simultaneously held notes the tracker remembers.
const maxHeld = 16

// BendRange is the pitch bend range in semitones used by Frequency.
const BendRange = 2.0

// State summarizes the MIDI input at the end of a block. It is a small
// value type so it can be copied into a block snapshot.
type State struct {
	Note      uint8   // most recently pressed held note, or the last released one
	Velocity  float64 // 0..1, velocity of Note
	Gate      bool    // true while any note is held
	PitchBend float64 // -1..1
	ModWheel  float64 // 0..1
	Pressure  float64 // 0..1, channel aftertouch
}

// Frequency is the pitch of Note in Hz with the bend applied.
func (s State) Frequency() float64 {
	return NoteToFrequency(s.Note, 0) * math.Exp2(s.PitchBend*BendRange/12)
}

// Tracker folds a block's events into a State with last-note priority.
// It keeps a fixed-size stack of held notes and never allocates, so it can
// run on the audio goroutine.
type Tracker struct {
	held     [maxHeld]uint8
	velocity [maxHeld]uint8
	count    int
	state    State
}

// Apply folds events, in order, into the running state and returns it.
func (t *Tracker) Apply(events []Event) State {
	for _, e := range events {
		switch ev := e.(type) {
		case NoteOnEvent:
			if ev.Velocity == 0 {
				t.release(ev.NoteNumber)
				continue
			}
			t.press(ev.NoteNumber, ev.Velocity)
		case NoteOffEvent:
			t.release(ev.NoteNumber)
		case PitchBendEvent:
			t.state.PitchBend = ev.NormalizedValue()
		case ChannelPressureEvent:
			t.state.Pressure = float64(ev.Pressure) / 127.0
		case ControlChangeEvent:
			switch ev.Controller {
			case CCModWheel:
				t.state.ModWheel = float64(ev.Value) / 127.0
			case CCAllNotesOff, CCAllSoundOff:
				t.count = 0
			}
		}
	}
	t.refresh()
	return t.state
}

// State returns the summary without applying anything.
func (t *Tracker) State() State {
	return t.state
}

// Reset forgets held notes and controller positions.
func (t *Tracker) Reset() {
	*t = Tracker{}
}

func (t *Tracker) press(note, velocity uint8) {
	t.remove(note)
	if t.count == maxHeld {
		// Drop the oldest held note.
		copy(t.held[:], t.held[1:])
		copy(t.velocity[:], t.velocity[1:])
		t.count--
	}
	t.held[t.count] = note
	t.velocity[t.count] = velocity
	t.count++
}

func (t *Tracker) release(note uint8) {
	if t.remove(note) {
		t.state.Note = note
	}
}

func (t *Tracker) remove(note uint8) bool {
	for i := 0; i < t.count; i++ {
		if t.held[i] == note {
			copy(t.held[i:t.count], t.held[i+1:t.count])
			copy(t.velocity[i:t.count], t.velocity[i+1:t.count])
			t.count--
			return true
		}
	}
	return false
}

func (t *Tracker) refresh() {
	t.state.Gate = t.count > 0
	if t.count > 0 {
		t.state.Note = t.held[t.count-1]
		t.state.Velocity = float64(t.velocity[t.count-1]) / 127.0
	}
}
