package debug

import (
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Profiler collects timing statistics for named sections, such as script
// invocations on the host goroutine.
type Profiler struct {
	mu           sync.Mutex
	measurements map[string]*Measurement
	enabled      atomic.Bool
	maxSamples   int
}

// Measurement holds timing statistics for a profiled section.
type Measurement struct {
	Name  string
	Count uint64
	Total time.Duration
	Min   time.Duration
	Max   time.Duration
	Last  time.Duration

	samples []time.Duration // ring of recent samples
	next    int
}

// NewProfiler creates a profiler keeping maxSamples recent samples per
// section for percentiles.
func NewProfiler(maxSamples int) *Profiler {
	if maxSamples < 1 {
		maxSamples = 1
	}
	p := &Profiler{
		measurements: make(map[string]*Measurement),
		maxSamples:   maxSamples,
	}
	p.enabled.Store(true)
	return p
}

// SetEnabled enables or disables profiling.
func (p *Profiler) SetEnabled(enabled bool) {
	p.enabled.Store(enabled)
}

// Start begins timing a named section; call the returned func to stop.
func (p *Profiler) Start(name string) func() {
	if !p.enabled.Load() {
		return func() {}
	}
	start := time.Now()
	return func() {
		p.Record(name, time.Since(start))
	}
}

// Record stores one timing sample.
func (p *Profiler) Record(name string, elapsed time.Duration) {
	if !p.enabled.Load() {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	m, ok := p.measurements[name]
	if !ok {
		m = &Measurement{Name: name, Min: elapsed, Max: elapsed}
		p.measurements[name] = m
	}
	m.Count++
	m.Total += elapsed
	m.Last = elapsed
	m.Min = min(m.Min, elapsed)
	m.Max = max(m.Max, elapsed)

	if len(m.samples) < p.maxSamples {
		m.samples = append(m.samples, elapsed)
	} else {
		m.samples[m.next] = elapsed
	}
	m.next = (m.next + 1) % p.maxSamples
}

// Get returns a copy of the measurement for a named section.
func (p *Profiler) Get(name string) (Measurement, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	m, ok := p.measurements[name]
	if !ok {
		return Measurement{}, false
	}
	cp := *m
	cp.samples = slices.Clone(m.samples)
	return cp, true
}

// Reset clears all measurements.
func (p *Profiler) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.measurements = make(map[string]*Measurement)
}

// Report formats every measurement, sorted by name.
func (p *Profiler) Report() string {
	p.mu.Lock()
	names := make([]string, 0, len(p.measurements))
	for name := range p.measurements {
		names = append(names, name)
	}
	p.mu.Unlock()

	if len(names) == 0 {
		return "No measurements recorded"
	}
	sort.Strings(names)

	var sb strings.Builder
	for _, name := range names {
		m, ok := p.Get(name)
		if !ok {
			continue
		}
		fmt.Fprintf(&sb, "%s: count=%d avg=%v p99=%v min=%v max=%v\n",
			name, m.Count, m.Average(), m.Percentile(99), m.Min, m.Max)
	}
	return sb.String()
}

// Average returns the mean time of the section.
func (m *Measurement) Average() time.Duration {
	if m.Count == 0 {
		return 0
	}
	return m.Total / time.Duration(m.Count)
}

// Percentile returns the p-th percentile (0..100) of recent samples.
func (m *Measurement) Percentile(p float64) time.Duration {
	if len(m.samples) == 0 {
		return 0
	}
	sorted := slices.Clone(m.samples)
	slices.Sort(sorted)
	p = min(max(p, 0), 100)
	return sorted[int(float64(len(sorted)-1)*p/100.0)]
}

// Load reports a section's average time as a percentage of a block's
// real-time duration.
func (m *Measurement) Load(frames int, sampleRate float64) float64 {
	if frames <= 0 || sampleRate <= 0 {
		return 0
	}
	block := time.Duration(float64(frames) / sampleRate * float64(time.Second))
	return float64(m.Average()) / float64(block) * 100
}
