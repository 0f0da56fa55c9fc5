package param

import (
	"math"
	"math/rand"
	"testing"
)

func TestSmoothingFirstBlockJumps(t *testing.T) {
	r := testRegistry(t)
	r.Set(keyGain, 12)

	s := NewSmoothing(r, 48000, 50)
	if got := s.GetSmoothed(keyGain, 128); math.Abs(got-12) > 1e-9 {
		t.Errorf("First block should start at the target, got %v", got)
	}
}

func TestSmoothingOnePole(t *testing.T) {
	r := testRegistry(t)
	s := NewSmoothing(r, 48000, 10)
	s.GetSmoothed(keyGain, 128) // prime at 0 dB

	r.Set(keyGain, 30)
	coeff := math.Exp(-128.0 / (0.010 * 48000))
	want := 30 + (0-30)*coeff

	got := s.GetSmoothed(keyGain, 128)
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("Expected %v, got %v", want, got)
	}

	// Deterministic: a fresh smoother fed the same history gives the same value.
	r2 := testRegistry(t)
	s2 := NewSmoothing(r2, 48000, 10)
	s2.GetSmoothed(keyGain, 128)
	r2.Set(keyGain, 30)
	if got2 := s2.GetSmoothed(keyGain, 128); got2 != got {
		t.Errorf("Smoothing is not deterministic: %v vs %v", got, got2)
	}

	for i := 0; i < 200; i++ {
		got = s.GetSmoothed(keyGain, 128)
	}
	if math.Abs(got-30) > 1e-6 {
		t.Errorf("Should converge to 30, got %v", got)
	}
}

func TestSmoothingDiscreteJumps(t *testing.T) {
	r := testRegistry(t)
	s := NewSmoothing(r, 48000, 1000)
	s.GetSmoothed(keyPreset, 64)

	r.Set(keyPreset, 5)
	if got := s.GetSmoothed(keyPreset, 64); got != 5 {
		t.Errorf("Discrete parameter should jump to 5, got %v", got)
	}
}

func TestSmoothingDisabled(t *testing.T) {
	r := NewRegistry()
	r.Add(New(Key(0), "raw", "Raw").Range(0, 10).Smoothing(-1).Build())
	s := NewSmoothing(r, 48000, 50)
	s.GetSmoothed(Key(0), 32)

	r.Set(Key(0), 7)
	if got := s.GetSmoothed(Key(0), 32); got != 7 {
		t.Errorf("Negative smoothing time should disable smoothing, got %v", got)
	}
}

func TestSmoothingNeverLeavesRange(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	r := testRegistry(t)
	s := NewSmoothing(r, 44100, 20)
	keys := []Key{keyGain, keyPreset, keyMacro}

	var snap Snapshot
	for step := 0; step < 20000; step++ {
		k := keys[rng.Intn(len(keys))]
		p := r.Get(k)
		// Includes wildly out-of-range requests; Set must clamp them.
		r.Set(k, (rng.Float64()*4-2)*(p.Max-p.Min)+p.Min)

		frames := 1 + rng.Intn(1024)
		if rng.Intn(2) == 0 {
			v := s.GetSmoothed(k, frames)
			if v < p.Min || v > p.Max {
				t.Fatalf("step %d: %s smoothed to %v outside [%v, %v]", step, p.ID, v, p.Min, p.Max)
			}
			continue
		}
		s.Advance(frames, &snap)
		for i := 0; i < snap.Count; i++ {
			q := r.GetByIndex(int32(i))
			if v := snap.Values[i]; v < q.Min || v > q.Max {
				t.Fatalf("step %d: %s smoothed to %v outside [%v, %v]", step, q.ID, v, q.Min, q.Max)
			}
		}
	}
}

func TestSmoothingAdvanceAllocatesNothing(t *testing.T) {
	r := testRegistry(t)
	s := NewSmoothing(r, 48000, 20)
	var snap Snapshot

	allocs := testing.AllocsPerRun(100, func() {
		r.Set(keyMacro, 0.1)
		s.Advance(256, &snap)
		_ = s.GetSmoothed(keyGain, 256)
	})
	if allocs != 0 {
		t.Errorf("Expected zero allocations, got %v", allocs)
	}
}
