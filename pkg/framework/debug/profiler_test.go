package debug

import (
	"strings"
	"testing"
	"time"
)

func TestProfiler(t *testing.T) {
	t.Run("Record", func(t *testing.T) {
		p := NewProfiler(10)
		p.Record("invoke", 2*time.Millisecond)
		p.Record("invoke", 4*time.Millisecond)

		m, ok := p.Get("invoke")
		if !ok {
			t.Fatal("measurement missing")
		}
		if m.Count != 2 {
			t.Errorf("Expected count 2, got %d", m.Count)
		}
		if m.Min != 2*time.Millisecond || m.Max != 4*time.Millisecond {
			t.Errorf("Unexpected min/max %v/%v", m.Min, m.Max)
		}
		if m.Average() != 3*time.Millisecond {
			t.Errorf("Expected average 3ms, got %v", m.Average())
		}
	})

	t.Run("Disabled", func(t *testing.T) {
		p := NewProfiler(10)
		p.SetEnabled(false)
		p.Start("x")()
		if _, ok := p.Get("x"); ok {
			t.Error("Disabled profiler should not record")
		}
	})

	t.Run("Percentile", func(t *testing.T) {
		p := NewProfiler(100)
		for i := 100; i >= 1; i-- {
			p.Record("s", time.Duration(i)*time.Microsecond)
		}
		m, _ := p.Get("s")
		if got := m.Percentile(50); got != 50*time.Microsecond {
			t.Errorf("Expected p50 of 50us, got %v", got)
		}
		if got := m.Percentile(100); got != 100*time.Microsecond {
			t.Errorf("Expected p100 of 100us, got %v", got)
		}
	})

	t.Run("RingKeepsRecentSamples", func(t *testing.T) {
		p := NewProfiler(4)
		for i := 1; i <= 10; i++ {
			p.Record("s", time.Duration(i)*time.Millisecond)
		}
		m, _ := p.Get("s")
		if got := m.Percentile(0); got != 7*time.Millisecond {
			t.Errorf("Expected oldest kept sample 7ms, got %v", got)
		}
		if m.Count != 10 {
			t.Errorf("Expected count 10, got %d", m.Count)
		}
	})

	t.Run("Load", func(t *testing.T) {
		m := Measurement{Count: 1, Total: 500 * time.Microsecond}
		// 48 frames at 48 kHz is 1 ms.
		if got := m.Load(48, 48000); got < 49.9 || got > 50.1 {
			t.Errorf("Expected 50%% load, got %v", got)
		}
		if m.Load(0, 48000) != 0 {
			t.Error("Zero frames should report zero load")
		}
	})

	t.Run("Report", func(t *testing.T) {
		p := NewProfiler(10)
		if p.Report() != "No measurements recorded" {
			t.Error("Unexpected report for an empty profiler")
		}
		p.Record("b", time.Millisecond)
		p.Record("a", time.Millisecond)
		report := p.Report()
		if strings.Index(report, "a:") > strings.Index(report, "b:") {
			t.Errorf("Report should be sorted:\n%s", report)
		}
		p.Reset()
		if _, ok := p.Get("a"); ok {
			t.Error("Reset should clear measurements")
		}
	})
}
