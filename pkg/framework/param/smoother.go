// Package param provides the parameter registry shared by the control and audio goroutines.
package param

import "math"

// logFloor keeps logarithmic ramps away from zero.
const logFloor = 1e-3

// Smoother ramps a per-sample value, such as the output gain, to a target
// over a fixed time. CurveLinear ramps in equal steps, CurveLog in equal
// ratios. A Smoother belongs to one goroutine.
type Smoother struct {
	curve  Curve
	length int // ramp length in samples

	current   float64
	target    float64
	step      float64 // increment, or factor for CurveLog
	remaining int
}

// NewSmoother creates a smoother with the given curve. CurveStepped jumps.
// Call SetTime before use; a zero length also jumps.
func NewSmoother(curve Curve) *Smoother {
	return &Smoother{curve: curve}
}

// SetTime sets the ramp length from a time in milliseconds. A ramp in
// progress keeps its old length.
func (s *Smoother) SetTime(sampleRate, timeMs float64) {
	s.length = max(int(math.Round(sampleRate*timeMs/1000)), 0)
}

// SetTarget starts a ramp from the current value. Setting the same target
// again does not restart it.
func (s *Smoother) SetTarget(target float64) {
	if target == s.target {
		return
	}
	s.target = target
	if s.length == 0 || s.curve == CurveStepped {
		s.current, s.remaining = target, 0
		return
	}
	s.remaining = s.length
	if s.curve == CurveLog {
		from, to := max(s.current, logFloor), max(target, logFloor)
		s.current = from
		s.step = math.Pow(to/from, 1/float64(s.length))
		return
	}
	s.step = (target - s.current) / float64(s.length)
}

// Next advances one sample and returns the value.
func (s *Smoother) Next() float64 {
	if s.remaining == 0 {
		return s.current
	}
	s.remaining--
	switch {
	case s.remaining == 0:
		s.current = s.target
	case s.curve == CurveLog:
		s.current *= s.step
	default:
		s.current += s.step
	}
	return s.current
}

// IsSmoothing reports whether a ramp is in progress.
func (s *Smoother) IsSmoothing() bool {
	return s.remaining > 0
}

// Value returns the current value without advancing.
func (s *Smoother) Value() float64 {
	return s.current
}

// Reset jumps to value.
func (s *Smoother) Reset(value float64) {
	s.current, s.target, s.remaining = value, value, 0
}
