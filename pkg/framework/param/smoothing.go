package param

import "math"

// Smoothing holds the per-block smoothing state for every registered
// parameter. It belongs to the audio goroutine: it is not safe for
// concurrent use, and none of its methods allocate or lock.
type Smoothing struct {
	registry   *Registry
	sampleRate float64
	defaultMs  float64

	current [MaxParams]float64
	primed  [MaxParams]bool
}

// NewSmoothing creates block smoothing for a registry. defaultMs is the
// time constant used by parameters that do not set their own.
func NewSmoothing(registry *Registry, sampleRate, defaultMs float64) *Smoothing {
	return &Smoothing{
		registry:   registry,
		sampleRate: sampleRate,
		defaultMs:  defaultMs,
	}
}

// GetSmoothed advances the smoothing state of one parameter by a block of
// frames and returns the new smoothed plain value. Unknown keys yield zero.
func (s *Smoothing) GetSmoothed(key Key, frames int) float64 {
	t := s.registry.table.Load()
	i, ok := t.byKey[key]
	if !ok {
		return 0
	}
	return s.advance(i, t.order[i], frames)
}

// Advance moves every parameter forward by one block and writes the
// smoothed values into dst.
func (s *Smoothing) Advance(frames int, dst *Snapshot) {
	t := s.registry.table.Load()
	dst.Count = len(t.order)
	for i, p := range t.order {
		dst.Values[i] = s.advance(i, p, frames)
	}
}

// Reset snaps every smoothed value to its current target.
func (s *Smoothing) Reset() {
	for i := range s.primed {
		s.primed[i] = false
	}
}

// SetSampleRate changes the rate used to derive block coefficients.
func (s *Smoothing) SetSampleRate(sampleRate float64) {
	s.sampleRate = sampleRate
}

func (s *Smoothing) advance(i int, p *Parameter, frames int) float64 {
	target := p.GetPlainValue()
	if !s.primed[i] || p.IsDiscrete() {
		s.current[i] = target
		s.primed[i] = true
		return target
	}

	coeff := s.coefficient(p, frames)
	y := target + (s.current[i]-target)*coeff
	// One-pole output stays between the previous value and the target, both
	// of which are in range; clamp anyway against rounding at the edges.
	y = p.ClampPlain(y)
	s.current[i] = y
	return y
}

// coefficient is the one-pole decay across a whole block.
func (s *Smoothing) coefficient(p *Parameter, frames int) float64 {
	ms := p.SmoothingMs
	if ms == 0 {
		ms = s.defaultMs
	}
	if frames <= 0 {
		return 1
	}
	if ms <= 0 || s.sampleRate <= 0 {
		return 0
	}
	tau := ms / 1000.0 * s.sampleRate
	return math.Exp(-float64(frames) / tau)
}
