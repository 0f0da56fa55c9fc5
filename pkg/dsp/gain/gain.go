// Package gain provides decibel conversion and gain stages for output
// processing.
package gain

import "math"

// MinDB stands in for minus infinity wherever a finite value is needed,
// such as in status reports.
const MinDB = -200.0

// LinearToDb converts a linear amplitude to decibels.
// Returns MinDB for values <= 0.
func LinearToDb(linear float64) float64 {
	if linear <= 0 {
		return MinDB
	}
	return 20.0 * math.Log10(linear)
}

// DbToLinear converts decibels to a linear amplitude.
// Values <= MinDB return 0.
func DbToLinear(db float64) float64 {
	if db <= MinDB {
		return 0
	}
	return math.Pow(10.0, db/20.0)
}

// ApplyBuffer applies gain to an entire buffer in-place.
func ApplyBuffer(buffer []float32, gain float32) {
	for i := range buffer {
		buffer[i] *= gain
	}
}

// SoftClip limits x to +-threshold with a tanh-like knee above the
// threshold. Values inside it pass unchanged.
func SoftClip(x, threshold float64) float64 {
	if threshold <= 0 {
		return 0
	}
	if math.Abs(x) <= threshold {
		return x
	}
	return threshold * fastTanh(x/threshold)
}

// fastTanh approximates tanh; it saturates at +-3.
func fastTanh(x float64) float64 {
	if x < -3 {
		return -1
	}
	if x > 3 {
		return 1
	}
	x2 := x * x
	return x * (27 + x2) / (27 + 9*x2)
}
