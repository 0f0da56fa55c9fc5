package hclengine

import (
	"errors"
	"math"

	"github.com/justyntemme/scriptfx/pkg/dsp/gain"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/function"
	"github.com/zclconf/go-cty/cty/function/stdlib"
)

var errNotANumber = errors.New("result is not a number")

// functions is the fixed function table available to scripts.
var functions = map[string]function.Function{
	"abs":    stdlib.AbsoluteFunc,
	"ceil":   stdlib.CeilFunc,
	"floor":  stdlib.FloorFunc,
	"log":    stdlib.LogFunc,
	"max":    stdlib.MaxFunc,
	"min":    stdlib.MinFunc,
	"pow":    stdlib.PowFunc,
	"signum": stdlib.SignumFunc,

	"sin":   unaryFunc(math.Sin),
	"cos":   unaryFunc(math.Cos),
	"tan":   unaryFunc(math.Tan),
	"tanh":  unaryFunc(math.Tanh),
	"exp":   unaryFunc(math.Exp),
	"sqrt":  unaryFunc(math.Sqrt),
	"clamp": clampFunc,
	"pi":    piFunc,

	"db":       unaryFunc(gain.DbToLinear),
	"softclip": softclipFunc,
}

func unaryFunc(fn func(float64) float64) function.Function {
	return function.New(&function.Spec{
		Params: []function.Parameter{
			{Name: "num", Type: cty.Number},
		},
		Type: function.StaticReturnType(cty.Number),
		Impl: func(args []cty.Value, retType cty.Type) (cty.Value, error) {
			return numberVal(fn(toFloat(args[0])))
		},
	})
}

var clampFunc = function.New(&function.Spec{
	Params: []function.Parameter{
		{Name: "num", Type: cty.Number},
		{Name: "lo", Type: cty.Number},
		{Name: "hi", Type: cty.Number},
	},
	Type: function.StaticReturnType(cty.Number),
	Impl: func(args []cty.Value, retType cty.Type) (cty.Value, error) {
		v, lo, hi := toFloat(args[0]), toFloat(args[1]), toFloat(args[2])
		if lo > hi {
			lo, hi = hi, lo
		}
		return numberVal(math.Max(lo, math.Min(hi, v)))
	},
})

var softclipFunc = function.New(&function.Spec{
	Params: []function.Parameter{
		{Name: "num", Type: cty.Number},
		{Name: "threshold", Type: cty.Number},
	},
	Type: function.StaticReturnType(cty.Number),
	Impl: func(args []cty.Value, retType cty.Type) (cty.Value, error) {
		return numberVal(gain.SoftClip(toFloat(args[0]), toFloat(args[1])))
	},
})

var piFunc = function.New(&function.Spec{
	Type: function.StaticReturnType(cty.Number),
	Impl: func(args []cty.Value, retType cty.Type) (cty.Value, error) {
		return cty.NumberFloatVal(math.Pi), nil
	},
})

func toFloat(v cty.Value) float64 {
	f, _ := v.AsBigFloat().Float64()
	return f
}

// numberVal guards against NaN, which cty numbers cannot represent.
func numberVal(f float64) (cty.Value, error) {
	if math.IsNaN(f) {
		return cty.NilVal, errNotANumber
	}
	return cty.NumberFloatVal(f), nil
}
