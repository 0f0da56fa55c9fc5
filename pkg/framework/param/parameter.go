package param

import (
	"fmt"
	"math"
	"strconv"
	"sync/atomic"
)

// Key is the stable enumerated identity of a parameter.
type Key uint32

// Curve is the automation-curve hint exposed to the host.
type Curve int

const (
	CurveLinear Curve = iota
	CurveLog
	CurveStepped
)

// String returns the hint name used in parameter declarations.
func (c Curve) String() string {
	switch c {
	case CurveLog:
		return "log"
	case CurveStepped:
		return "stepped"
	default:
		return "linear"
	}
}

// Parameter represents a plugin parameter
type Parameter struct {
	Key          Key
	ID           string // stable string key used by state blobs and scripts
	Name         string
	ShortName    string
	Unit         string
	Min          float64
	Max          float64
	DefaultValue float64 // normalized
	StepCount    int32
	Flags        uint32
	Curve        Curve

	// SmoothingMs overrides the registry smoothing time. Zero uses the
	// default, negative disables smoothing.
	SmoothingMs float64

	// Normalized value stored as float64 bits for lock-free access
	value atomic.Uint64

	formatFunc func(float64) string
	parseFunc  func(string) (float64, error)
}

// Flags for parameters
const (
	CanAutomate     uint32 = 1 << 0
	IsReadOnly      uint32 = 1 << 1
	IsWrapAround    uint32 = 1 << 2
	IsList          uint32 = 1 << 3
	IsHidden        uint32 = 1 << 4
	IsProgramChange uint32 = 1 << 15
	IsBypass        uint32 = 1 << 16
)

// GetValue returns the current normalized value (0-1)
func (p *Parameter) GetValue() float64 {
	return math.Float64frombits(p.value.Load())
}

// SetValue sets the normalized value (0-1). Discrete parameters snap to
// their nearest step.
func (p *Parameter) SetValue(value float64) {
	p.value.Store(math.Float64bits(p.quantize(clamp01(value))))
}

// GetPlainValue converts normalized to plain value
func (p *Parameter) GetPlainValue() float64 {
	return p.Denormalize(p.GetValue())
}

// SetPlainValue converts plain to normalized value
func (p *Parameter) SetPlainValue(plain float64) {
	p.SetValue(p.Normalize(plain))
}

// IsDiscrete reports whether the parameter moves in steps.
func (p *Parameter) IsDiscrete() bool {
	return p.StepCount > 0
}

// DefaultPlain returns the default in plain units.
func (p *Parameter) DefaultPlain() float64 {
	return p.Denormalize(p.DefaultValue)
}

// Reset restores the default value.
func (p *Parameter) Reset() {
	p.SetValue(p.DefaultValue)
}

// FormatValue returns formatted parameter value
func (p *Parameter) FormatValue(normalized float64) string {
	plain := p.Denormalize(normalized)
	if p.formatFunc != nil {
		return p.formatFunc(plain)
	}
	if p.StepCount > 0 {
		return fmt.Sprintf("%.0f", plain)
	}
	return fmt.Sprintf("%.2f", plain)
}

// Text formats the current value.
func (p *Parameter) Text() string {
	return p.FormatValue(p.GetValue())
}

// ParseValue parses string to normalized value
func (p *Parameter) ParseValue(str string) (float64, error) {
	if p.parseFunc != nil {
		plain, err := p.parseFunc(str)
		if err != nil {
			return 0, err
		}
		return p.Normalize(plain), nil
	}
	plain, err := strconv.ParseFloat(str, 64)
	if err != nil {
		return 0, err
	}
	return p.Normalize(plain), nil
}

// Normalize converts plain value to normalized (0-1)
func (p *Parameter) Normalize(plain float64) float64 {
	if p.Max <= p.Min || math.IsNaN(plain) {
		return 0
	}
	return clamp01((plain - p.Min) / (p.Max - p.Min))
}

// Denormalize converts normalized (0-1) to plain value
func (p *Parameter) Denormalize(normalized float64) float64 {
	return p.Min + clamp01(normalized)*(p.Max-p.Min)
}

// ClampPlain limits a plain value to the declared range.
func (p *Parameter) ClampPlain(plain float64) float64 {
	if plain < p.Min {
		return p.Min
	}
	if plain > p.Max {
		return p.Max
	}
	return plain
}

func (p *Parameter) quantize(normalized float64) float64 {
	if p.StepCount <= 0 {
		return normalized
	}
	steps := float64(p.StepCount)
	return math.Round(normalized*steps) / steps
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
