package plugin

import (
	"github.com/justyntemme/scriptfx/pkg/framework/param"
)

// ParameterInfo is the declaration of one parameter as a host sees it.
// Values are plain, in the parameter's own unit.
type ParameterInfo struct {
	Key       param.Key
	ID        string
	Name      string
	ShortName string
	Unit      string
	Min       float64
	Max       float64
	Default   float64
	Steps     int32
	Curve     string // automation-curve hint: linear, log or stepped

	Automatable   bool
	ReadOnly      bool
	Bypass        bool
	ProgramChange bool
}

func describe(p *param.Parameter) ParameterInfo {
	return ParameterInfo{
		Key:           p.Key,
		ID:            p.ID,
		Name:          p.Name,
		ShortName:     p.ShortName,
		Unit:          p.Unit,
		Min:           p.Min,
		Max:           p.Max,
		Default:       p.DefaultPlain(),
		Steps:         p.StepCount,
		Curve:         p.Curve.String(),
		Automatable:   p.Flags&param.CanAutomate != 0,
		ReadOnly:      p.Flags&param.IsReadOnly != 0,
		Bypass:        p.Flags&param.IsBypass != 0,
		ProgramChange: p.Flags&param.IsProgramChange != 0,
	}
}

// DescribeParameters lists the declarations of every parameter in
// registration order. Hidden parameters are skipped.
func DescribeParameters(r *param.Registry) []ParameterInfo {
	all := r.All()
	out := make([]ParameterInfo, 0, len(all))
	for _, p := range all {
		if p.Flags&param.IsHidden != 0 {
			continue
		}
		out = append(out, describe(p))
	}
	return out
}

// ParameterInfoAt returns the declaration at a registry index.
func ParameterInfoAt(r *param.Registry, index int32) (ParameterInfo, bool) {
	p := r.GetByIndex(index)
	if p == nil {
		return ParameterInfo{}, false
	}
	return describe(p), true
}
