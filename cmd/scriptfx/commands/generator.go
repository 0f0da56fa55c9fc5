package commands

import (
	"fmt"
	"math"
	"math/rand"
)

// generator produces the test input of render and serve.
type generator struct {
	kind       string
	freq       float64
	amp        float64
	sampleRate float64

	pos int64
	rng *rand.Rand
}

var signalKinds = []string{"sine", "noise", "impulse", "silence"}

func newGenerator(kind string, freq, amp, sampleRate float64) (*generator, error) {
	switch kind {
	case "sine", "noise", "impulse", "silence":
	default:
		return nil, fmt.Errorf("unknown signal %q, want one of %v", kind, signalKinds)
	}
	return &generator{
		kind:       kind,
		freq:       freq,
		amp:        amp,
		sampleRate: sampleRate,
		rng:        rand.New(rand.NewSource(1)),
	}, nil
}

// fill writes the next frames of the signal to every channel.
func (s *generator) fill(channels [][]float32, frames int) {
	for n := 0; n < frames; n++ {
		var v float64
		switch s.kind {
		case "sine":
			v = s.amp * math.Sin(2*math.Pi*s.freq*float64(s.pos)/s.sampleRate)
		case "noise":
			v = s.amp * (2*s.rng.Float64() - 1)
		case "impulse":
			if s.pos == 0 {
				v = s.amp
			}
		}
		for ch := range channels {
			channels[ch][n] = float32(v)
		}
		s.pos++
	}
}
