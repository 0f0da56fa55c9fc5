package analysis

import (
	"math"
	"sync/atomic"
)

// Default peak meter ballistics: fall 12 dB in 150 ms.
const (
	DefaultDecayMs = 150.0
	DefaultDecayDB = 12.0
)

// PeakMeter follows the absolute value of the channel average with a
// per-sample exponential decay. Process must only be called from one
// goroutine; Peak, PeakDB and Hold may be called from any goroutine.
type PeakMeter struct {
	sampleRate float64
	decayMs    float64
	decayDB    float64
	weight     float64 // per-sample decay factor

	level float64 // writer-owned
	hold  float64 // writer-owned

	peakBits atomic.Uint64
	holdBits atomic.Uint64
	reset    atomic.Bool
}

// NewPeakMeter creates a peak meter with the default ballistics.
func NewPeakMeter(sampleRate float64) *PeakMeter {
	pm := &PeakMeter{decayMs: DefaultDecayMs, decayDB: DefaultDecayDB}
	pm.SetSampleRate(sampleRate)
	return pm
}

// SetDecay sets how many dB the level falls over the given time. Call it
// from the writer goroutine, or before processing starts.
func (pm *PeakMeter) SetDecay(ms, db float64) {
	pm.decayMs, pm.decayDB = ms, db
	pm.updateWeight()
}

// SetSampleRate updates the decay for a new sample rate. Same caller rules
// as SetDecay.
func (pm *PeakMeter) SetSampleRate(sampleRate float64) {
	if sampleRate <= 0 {
		sampleRate = 44100
	}
	pm.sampleRate = sampleRate
	pm.updateWeight()
}

func (pm *PeakMeter) updateWeight() {
	samples := pm.sampleRate * pm.decayMs / 1000
	if samples <= 0 || pm.decayDB <= 0 {
		pm.weight = 0
		return
	}
	// weight^samples == 10^(-decayDB/20)
	pm.weight = math.Pow(math.Pow(10, -pm.decayDB/20), 1/samples)
}

// Weight returns the per-sample decay factor.
func (pm *PeakMeter) Weight() float64 {
	return pm.weight
}

// Process runs the first frames of every channel through the meter.
// It does not allocate.
func (pm *PeakMeter) Process(channels [][]float32, frames int) {
	if pm.reset.CompareAndSwap(true, false) {
		pm.level, pm.hold = 0, 0
	}
	if len(channels) == 0 {
		pm.publish()
		return
	}
	scale := 1 / float64(len(channels))
	for n := 0; n < frames; n++ {
		var sum float64
		for _, ch := range channels {
			if n < len(ch) {
				sum += float64(ch[n])
			}
		}
		abs := math.Abs(sum * scale)
		if math.IsNaN(abs) || math.IsInf(abs, 0) {
			continue
		}
		pm.level = math.Max(abs, pm.level*pm.weight)
	}
	pm.hold = math.Max(pm.hold, pm.level)
	pm.publish()
}

func (pm *PeakMeter) publish() {
	pm.peakBits.Store(math.Float64bits(pm.level))
	pm.holdBits.Store(math.Float64bits(pm.hold))
}

// Peak returns the current level (linear).
func (pm *PeakMeter) Peak() float64 {
	return math.Float64frombits(pm.peakBits.Load())
}

// PeakDB returns the current level in decibels, -Inf for silence.
func (pm *PeakMeter) PeakDB() float64 {
	return toDB(pm.Peak())
}

// Hold returns the highest level seen since the last Reset (linear).
func (pm *PeakMeter) Hold() float64 {
	return math.Float64frombits(pm.holdBits.Load())
}

// Reset asks the writer to clear the level and hold on its next Process.
// The published values are cleared immediately.
func (pm *PeakMeter) Reset() {
	pm.reset.Store(true)
	pm.peakBits.Store(0)
	pm.holdBits.Store(0)
}

func toDB(v float64) float64 {
	if v > 0 {
		return 20.0 * math.Log10(v)
	}
	return math.Inf(-1)
}
