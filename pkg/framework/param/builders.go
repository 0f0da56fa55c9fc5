package param

import (
	"fmt"
	"strings"
)

// ChoiceOption represents a single choice in a list parameter
type ChoiceOption struct {
	Value   float64
	Name    string
	Aliases []string
}

// Choice creates a parameter builder for a multiple choice parameter
func Choice(key Key, id, name string, options []ChoiceOption) *Builder {
	formatter := func(value float64) string {
		for _, opt := range options {
			if opt.Value == value {
				return opt.Name
			}
		}
		return "Unknown"
	}

	parser := func(str string) (float64, error) {
		str = strings.TrimSpace(str)
		for _, opt := range options {
			if strings.EqualFold(str, opt.Name) {
				return opt.Value, nil
			}
			for _, alias := range opt.Aliases {
				if strings.EqualFold(str, alias) {
					return opt.Value, nil
				}
			}
		}
		return 0, fmt.Errorf("unknown option: %s", str)
	}

	minVal, maxVal := 0.0, 0.0
	if len(options) > 0 {
		minVal = options[0].Value
		maxVal = options[len(options)-1].Value
	}

	b := New(key, id, name).
		Range(minVal, maxVal).
		Steps(int32(len(options) - 1)).
		Formatter(formatter, parser).
		Flags(CanAutomate | IsList)
	if len(options) > 0 {
		b.Default(options[0].Value)
	}
	return b
}

// GainParameter creates a decibel gain parameter over [minDB, maxDB].
func GainParameter(key Key, id, name string, minDB, maxDB float64) *Builder {
	return New(key, id, name).
		Range(minDB, maxDB).
		Default(0).
		Unit("dB").
		Curve(CurveLog).
		Formatter(FormatDecibels, ParseDecibels)
}

// MacroParameter creates a free 0..1 control that scripts read by id.
func MacroParameter(key Key, id, name string) *Builder {
	return New(key, id, name).
		Range(0, 1).
		Default(0.5).
		Formatter(FormatPercent, ParsePercent)
}

// IntegerParameter creates a stepped parameter over whole numbers.
func IntegerParameter(key Key, id, name string, min, max, defaultVal int) *Builder {
	return New(key, id, name).
		Range(float64(min), float64(max)).
		Steps(int32(max - min)).
		Default(float64(defaultVal))
}

// BypassParameter creates a bypass on/off switch
func BypassParameter(key Key, id, name string) *Builder {
	return Choice(key, id, name, []ChoiceOption{
		{Value: 0, Name: "Active", Aliases: []string{"off"}},
		{Value: 1, Name: "Bypassed", Aliases: []string{"on"}},
	}).Bypass()
}
