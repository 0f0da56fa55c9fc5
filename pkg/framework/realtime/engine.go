// Package realtime is the audio-callback side of the script bridge. Every
// method called from the host's audio callback restricts itself to atomic
// loads and stores, ring try-operations and a non-blocking doorbell: no
// locks, no allocation, no logging.
package realtime

import (
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/justyntemme/scriptfx/pkg/dsp/analysis"
	"github.com/justyntemme/scriptfx/pkg/dsp/gain"
	"github.com/justyntemme/scriptfx/pkg/framework/param"
	"github.com/justyntemme/scriptfx/pkg/framework/process"
	"github.com/justyntemme/scriptfx/pkg/framework/transport"
	"github.com/justyntemme/scriptfx/pkg/midi"
)

// Fallback selects what a block sounds like when no script result is
// available for it.
type Fallback int32

const (
	FallbackSilence Fallback = iota
	FallbackPassthrough
)

func (f Fallback) String() string {
	switch f {
	case FallbackSilence:
		return "silence"
	case FallbackPassthrough:
		return "passthrough"
	default:
		return fmt.Sprintf("fallback(%d)", int32(f))
	}
}

// ParseFallback parses "silence" or "passthrough".
func ParseFallback(s string) (Fallback, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "silence":
		return FallbackSilence, nil
	case "passthrough", "bypass":
		return FallbackPassthrough, nil
	}
	return FallbackSilence, fmt.Errorf("unknown fallback %q", s)
}

// DefaultGainSmoothingMs is the per-sample smoothing time of the output gain.
const DefaultGainSmoothingMs = 50.0

// Options wires an engine to its collaborators.
type Options struct {
	Registry *param.Registry
	// Live is the published generation, 0 when nothing is live.
	Live     *atomic.Uint64
	AudioIn  *transport.Ring[transport.Block]
	AudioOut *transport.Ring[transport.Block]
	Doorbell *transport.Doorbell
	// Results is rung by the script host after each result; AwaitResult
	// sleeps on it. Optional.
	Results *transport.Doorbell

	Channels   int
	MaxFrames  int
	SampleRate float64

	// GainKey names a dB parameter applied to the output. HasGain must be
	// set for it to be used; the same goes for BypassKey.
	GainKey   param.Key
	HasGain   bool
	BypassKey param.Key
	HasBypass bool

	SmoothingMs     float64
	GainSmoothingMs float64
	Fallback        Fallback

	// Meter receives the final output; one is created when nil.
	Meter *analysis.PeakMeter
}

// Engine runs inside the audio callback. Process must be called from one
// goroutine at a time; the accessors may be called from anywhere.
type Engine struct {
	registry *param.Registry
	live     *atomic.Uint64
	in, out  *transport.Ring[transport.Block]
	bell     *transport.Doorbell
	results  *transport.Doorbell

	channels   int
	maxFrames  int
	sampleRate float64

	gainIdx   int // -1 when absent
	bypassIdx int

	observed atomic.Uint64
	fallback atomic.Int32

	smoothing *param.Smoothing
	snapshot  param.Snapshot
	tracker   midi.Tracker
	gain      *param.Smoother
	meter     *analysis.PeakMeter

	inView  [][]float32
	outView [][]float32

	// Results with lastEmitted < Seq <= seq may be emitted.
	seq         uint64 // last submitted sequence
	lastEmitted uint64
	time        float64

	blocks    atomic.Uint64
	emitted   atomic.Uint64
	fallbacks atomic.Uint64
	stale     atomic.Uint64
}

// New creates an engine.
func New(opts Options) *Engine {
	if opts.SmoothingMs <= 0 {
		opts.SmoothingMs = 10
	}
	if opts.GainSmoothingMs <= 0 {
		opts.GainSmoothingMs = DefaultGainSmoothingMs
	}
	if opts.Meter == nil {
		opts.Meter = analysis.NewPeakMeter(opts.SampleRate)
	}
	e := &Engine{
		registry:   opts.Registry,
		live:       opts.Live,
		in:         opts.AudioIn,
		out:        opts.AudioOut,
		bell:       opts.Doorbell,
		results:    opts.Results,
		channels:   opts.Channels,
		maxFrames:  opts.MaxFrames,
		sampleRate: opts.SampleRate,
		gainIdx:    -1,
		bypassIdx:  -1,
		smoothing:  param.NewSmoothing(opts.Registry, opts.SampleRate, opts.SmoothingMs),
		gain:       param.NewSmoother(param.CurveLog),
		meter:      opts.Meter,
		inView:     make([][]float32, opts.Channels),
		outView:    make([][]float32, opts.Channels),
	}
	if opts.HasGain {
		if i, ok := opts.Registry.Index(opts.GainKey); ok {
			e.gainIdx = i
		}
	}
	if opts.HasBypass {
		if i, ok := opts.Registry.Index(opts.BypassKey); ok {
			e.bypassIdx = i
		}
	}
	e.gain.SetTime(opts.SampleRate, opts.GainSmoothingMs)
	e.fallback.Store(int32(opts.Fallback))
	e.resetGain()
	return e
}

func (e *Engine) resetGain() {
	g := 1.0
	if e.gainIdx >= 0 {
		if p := e.registry.GetByIndex(int32(e.gainIdx)); p != nil {
			g = gain.DbToLinear(p.GetPlainValue())
		}
	}
	e.gain.Reset(g)
}

// SetFallback changes the fallback at runtime. Safe from any goroutine.
func (e *Engine) SetFallback(f Fallback) {
	e.fallback.Store(int32(f))
}

// Fallback returns the current fallback.
func (e *Engine) Fallback() Fallback {
	return Fallback(e.fallback.Load())
}

// Observed returns the generation seen by the most recent callback.
func (e *Engine) Observed() uint64 {
	return e.observed.Load()
}

// Meter returns the output peak meter.
func (e *Engine) Meter() *analysis.PeakMeter {
	return e.meter
}

// Reset clears per-stream state: smoothing, MIDI, running time and any
// results in flight. Call it from the audio goroutine or while the audio
// callback is not running.
func (e *Engine) Reset() {
	e.smoothing.Reset()
	e.tracker.Reset()
	e.resetGain()
	e.out.Discard()
	e.lastEmitted = e.seq
	e.time = 0
}

// Process handles one host callback. Blocks longer than the configured
// maximum are handled in chunks.
func (e *Engine) Process(ctx *process.Context) {
	live := e.live.Load()
	e.observed.Store(live)

	state := e.tracker.Apply(ctx.InputEvents())

	frames := ctx.NumSamples()
	for off := 0; off < frames; off += e.maxFrames {
		n := min(e.maxFrames, frames-off)
		e.processChunk(ctx, off, n, live, state)
	}
}

func (e *Engine) processChunk(ctx *process.Context, off, frames int, live uint64, state midi.State) {
	e.blocks.Add(1)
	e.smoothing.Advance(frames, &e.snapshot)

	// Views of this chunk, reusing preallocated slice headers.
	inCh := min(len(ctx.Input), e.channels)
	outCh := min(len(ctx.Output), e.channels)
	in, out := e.inView[:inCh], e.outView[:outCh]
	for ch := range in {
		in[ch] = ctx.Input[ch][off : off+frames]
	}
	for ch := range out {
		out[ch] = ctx.Output[ch][off : off+frames]
	}
	for ch := outCh; ch < len(ctx.Output); ch++ {
		clear(ctx.Output[ch][off : off+frames])
	}

	bypass := e.bypassIdx >= 0 && e.snapshot.At(e.bypassIdx) >= 0.5
	if bypass || live == 0 {
		e.stale.Add(uint64(e.out.Discard()))
		e.lastEmitted = e.seq
		if bypass {
			passthrough(in, out)
		} else {
			e.writeFallback(in, out)
		}
		e.fallbacks.Add(1)
		if !bypass {
			e.applyGain(out, frames)
		}
		e.meter.Process(out, frames)
		e.time += float64(frames) / e.sampleRate
		return
	}

	if e.emit(out, frames, inCh) {
		e.emitted.Add(1)
	} else {
		e.writeFallback(in, out)
		e.fallbacks.Add(1)
	}
	e.applyGain(out, frames)
	e.submit(in, frames, live, state)
	e.meter.Process(out, frames)
	e.time += float64(frames) / e.sampleRate
}

// emit copies the oldest pending result into out. Results that were
// already passed over, that belong to no outstanding submission, or whose
// shape does not match this chunk are stale.
func (e *Engine) emit(out [][]float32, frames, channels int) bool {
	for {
		r := e.out.Front()
		if r == nil {
			return false
		}
		if !e.pending(r) || r.Frames != frames || r.Channels != channels {
			e.stale.Add(1)
			e.out.Release()
			continue
		}
		for ch := range out {
			if ch < r.Channels {
				copy(out[ch], r.Samples[ch][:frames])
			} else {
				clear(out[ch])
			}
		}
		e.lastEmitted = r.Seq
		e.out.Release()
		return true
	}
}

func (e *Engine) pending(r *transport.Block) bool {
	return r.Seq > e.lastEmitted && r.Seq <= e.seq
}

func (e *Engine) submit(in [][]float32, frames int, live uint64, state midi.State) {
	e.seq++
	slot := e.in.Reserve()
	if slot == nil {
		return
	}
	slot.Seq = e.seq
	slot.Generation = live
	slot.Frames = frames
	slot.Channels = len(in)
	slot.SampleRate = e.sampleRate
	slot.Time = e.time
	slot.Params = e.snapshot
	slot.MIDI = state
	for ch := range in {
		copy(slot.Samples[ch][:frames], in[ch])
	}
	e.in.Commit()
	e.bell.Ring()
}

func (e *Engine) writeFallback(in, out [][]float32) {
	if e.Fallback() == FallbackPassthrough {
		passthrough(in, out)
		return
	}
	for ch := range out {
		clear(out[ch])
	}
}

func passthrough(in, out [][]float32) {
	for ch := range out {
		if ch < len(in) {
			copy(out[ch], in[ch])
		} else {
			clear(out[ch])
		}
	}
}

func (e *Engine) applyGain(out [][]float32, frames int) {
	if e.gainIdx < 0 {
		return
	}
	e.gain.SetTarget(gain.DbToLinear(e.snapshot.At(e.gainIdx)))
	if !e.gain.IsSmoothing() {
		g := float32(e.gain.Next())
		if g == 1 {
			return
		}
		for ch := range out {
			gain.ApplyBuffer(out[ch][:frames], g)
		}
		return
	}
	for n := 0; n < frames; n++ {
		g := float32(e.gain.Next())
		for ch := range out {
			out[ch][n] *= g
		}
	}
}

// AwaitResult waits until a result is queued for the next callback or the
// timeout passes. It reports false at once when no submission is
// outstanding. It is for offline drivers that pace the engine with a
// simulated clock and must be called from the goroutine that calls
// Process; it never runs inside a real audio callback.
func (e *Engine) AwaitResult(timeout time.Duration) bool {
	if e.seq == e.lastEmitted {
		return false
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	// Without a results doorbell, fall back to polling.
	var (
		wake <-chan struct{}
		tick <-chan time.Time
	)
	if e.results != nil {
		wake = e.results.C()
	} else {
		poll := time.NewTicker(100 * time.Microsecond)
		defer poll.Stop()
		tick = poll.C
	}
	for {
		if r := e.out.Front(); r != nil {
			if e.pending(r) {
				return true
			}
			e.stale.Add(1)
			e.out.Release()
			continue
		}
		select {
		case <-wake:
		case <-tick:
		case <-timer.C:
			r := e.out.Front()
			return r != nil && e.pending(r)
		}
	}
}

// Stats is a snapshot of engine counters.
type Stats struct {
	Blocks    uint64
	Emitted   uint64
	Fallbacks uint64
	Overflows uint64
	Stale     uint64
	Observed  uint64
	PeakDB    float64
}

// Stats returns the engine counters. Safe from any goroutine.
func (e *Engine) Stats() Stats {
	return Stats{
		Blocks:    e.blocks.Load(),
		Emitted:   e.emitted.Load(),
		Fallbacks: e.fallbacks.Load(),
		Overflows: e.in.Overflows(),
		Stale:     e.stale.Load(),
		Observed:  e.observed.Load(),
		PeakDB:    e.meter.PeakDB(),
	}
}
