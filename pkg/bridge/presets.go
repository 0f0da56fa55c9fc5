package bridge

import (
	"github.com/justyntemme/scriptfx/pkg/framework/param"
	"github.com/justyntemme/scriptfx/pkg/script/jsengine"
)

// NumPresets is the size of the preset bank.
const NumPresets = 6

// Parameter keys.
const (
	ParamGain param.Key = iota
	ParamPreset
	ParamMacro1
	ParamMacro2
	ParamMacro3
	ParamMacro4
	ParamBypass
)

// DefineParameters adds the plugin parameters to r.
func DefineParameters(r *param.Registry) error {
	return r.Add(
		// The audio engine smooths gain per sample.
		param.GainParameter(ParamGain, "gain", "Gain", -30, 30).Smoothing(-1).Build(),
		param.IntegerParameter(ParamPreset, "preset", "Preset", 1, NumPresets, 1).
			Flags(param.CanAutomate|param.IsProgramChange).Build(),
		param.MacroParameter(ParamMacro1, "macro1", "Macro 1").Build(),
		param.MacroParameter(ParamMacro2, "macro2", "Macro 2").Build(),
		param.MacroParameter(ParamMacro3, "macro3", "Macro 3").Build(),
		param.MacroParameter(ParamMacro4, "macro4", "Macro 4").Build(),
		param.BypassParameter(ParamBypass, "bypass", "Bypass").Build(),
	)
}

var hclPresets = [NumPresets]string{
	"x",
	"x * 0.5",
	"x * (0.5 + 0.5 * sin(2 * pi() * p.macro1 * 10 * t))",
	"tanh(x * (1 + p.macro2 * 9))",
	"x * sin(2 * pi() * (100 + p.macro3 * 900) * t)",
	"gate ? x * velocity : 0",
}

var jsPresets = [NumPresets]string{
	"1",
	"0.5",
	"0.5 + 0.5 * Math.sin(2 * Math.PI * p.macro1 * 10 * t)",
	"function process(x, t, ch, p) { return Math.tanh(x * (1 + p.macro2 * 9)); }",
	"Math.sin(2 * Math.PI * (100 + p.macro3 * 900) * t)",
	"gate ? velocity : 0",
}

// DefaultPresets returns the factory bank for an engine.
func DefaultPresets(engine string) [NumPresets]string {
	if engine == jsengine.Name {
		return jsPresets
	}
	return hclPresets
}

// clampSlot maps a preset parameter value to a slot in 1..NumPresets.
func clampSlot(v float64) int {
	slot := int(v + 0.5)
	return min(max(slot, 1), NumPresets)
}
