package debug

import (
	"fmt"
	"math"
	"strings"
)

// AudioAnalyzer summarizes rendered audio buffers.
type AudioAnalyzer struct {
	ClippingThreshold float32
	SilenceThreshold  float32
}

// NewAudioAnalyzer creates an analyzer with default thresholds.
func NewAudioAnalyzer() *AudioAnalyzer {
	return &AudioAnalyzer{
		ClippingThreshold: 0.99,
		SilenceThreshold:  0.0001,
	}
}

// AnalysisResult contains the results of audio buffer analysis.
type AnalysisResult struct {
	Samples        int
	Peak           float32
	RMS            float32
	DC             float32
	ClippedSamples int
	Silent         bool
	NonFinite      int // NaN or Inf samples, excluded from the other figures
	ZeroCrossings  int
}

// Analyze computes peak, RMS, DC offset and clipping for one buffer.
func (a *AudioAnalyzer) Analyze(buffer []float32) AnalysisResult {
	result := AnalysisResult{Samples: len(buffer)}
	if len(buffer) == 0 {
		return result
	}

	var sum, sumSquares float64
	var last float32
	finite := 0
	for _, sample := range buffer {
		if !IsFinite(sample) {
			result.NonFinite++
			continue
		}
		abs := float32(math.Abs(float64(sample)))
		result.Peak = max(result.Peak, abs)
		if abs >= a.ClippingThreshold {
			result.ClippedSamples++
		}
		sum += float64(sample)
		sumSquares += float64(sample) * float64(sample)
		if finite > 0 && (last < 0) != (sample < 0) {
			result.ZeroCrossings++
		}
		last = sample
		finite++
	}

	if finite > 0 {
		result.RMS = float32(math.Sqrt(sumSquares / float64(finite)))
		result.DC = float32(sum / float64(finite))
	}
	result.Silent = result.RMS < a.SilenceThreshold
	return result
}

// Merge combines the result of another buffer, such as a second channel.
// RMS and DC are weighted by sample count.
func (r AnalysisResult) Merge(o AnalysisResult) AnalysisResult {
	total := r.Samples + o.Samples
	if total == 0 {
		return r
	}
	w1, w2 := float64(r.Samples)/float64(total), float64(o.Samples)/float64(total)
	rms := math.Sqrt(w1*float64(r.RMS)*float64(r.RMS) + w2*float64(o.RMS)*float64(o.RMS))
	return AnalysisResult{
		Samples:        total,
		Peak:           max(r.Peak, o.Peak),
		RMS:            float32(rms),
		DC:             float32(w1*float64(r.DC) + w2*float64(o.DC)),
		ClippedSamples: r.ClippedSamples + o.ClippedSamples,
		Silent:         r.Silent && o.Silent,
		NonFinite:      r.NonFinite + o.NonFinite,
		ZeroCrossings:  r.ZeroCrossings + o.ZeroCrossings,
	}
}

// String formats the result for reports.
func (r AnalysisResult) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "samples=%d peak=%.3f (%.1f dB) rms=%.3f dc=%.6f",
		r.Samples, r.Peak, 20*math.Log10(math.Max(float64(r.Peak), 1e-9)), r.RMS, r.DC)
	if r.ClippedSamples > 0 {
		fmt.Fprintf(&sb, " clipped=%d", r.ClippedSamples)
	}
	if r.NonFinite > 0 {
		fmt.Fprintf(&sb, " non-finite=%d", r.NonFinite)
	}
	if r.Silent {
		sb.WriteString(" silent")
	}
	return sb.String()
}

// IsFinite reports whether a sample is neither NaN nor infinite.
func IsFinite(sample float32) bool {
	f := float64(sample)
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// FirstNonFinite returns the channel and frame of the first NaN or Inf
// sample among the first frames of each channel, or ok=false if there is none.
func FirstNonFinite(channels [][]float32, frames int) (ch, frame int, ok bool) {
	for ch, buf := range channels {
		n := min(frames, len(buf))
		for i := 0; i < n; i++ {
			if !IsFinite(buf[i]) {
				return ch, i, true
			}
		}
	}
	return 0, 0, false
}
