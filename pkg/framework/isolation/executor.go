package isolation

import (
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	fxdebug "github.com/justyntemme/scriptfx/pkg/framework/debug"
	"github.com/justyntemme/scriptfx/pkg/framework/param"
	"github.com/justyntemme/scriptfx/pkg/framework/transport"
	"github.com/justyntemme/scriptfx/pkg/script"
)

// ErrClosed is returned by Invoke after Close.
var ErrClosed = errors.New("isolation: executor closed")

// ProfileInvoke is the profiler section every call is recorded under.
const ProfileInvoke = "invoke"

type request struct {
	done chan error
}

// Executor serializes all calls into one program on a dedicated goroutine.
// Invoke is meant to be called from a single goroutine (the script host).
type Executor struct {
	gen     uint64
	program script.Program
	cfg     Config

	// Executor-owned buffers; the program never sees ring storage.
	input  [][]float32
	output [][]float32
	params param.Snapshot
	frame  script.Frame

	requests chan request
	quit     chan struct{}
	stopOnce sync.Once
	busy     atomic.Bool
	started  atomic.Int64 // unix nanoseconds of the running call

	profiler *fxdebug.Profiler

	calls    atomic.Uint64
	failures atomic.Uint64
	timeouts atomic.Uint64
	refused  atomic.Uint64
}

// NewExecutor starts the goroutine for one compiled version.
func NewExecutor(gen uint64, program script.Program, channels, maxFrames int, cfg Config) *Executor {
	e := &Executor{
		gen:      gen,
		program:  program,
		cfg:      cfg,
		input:    make([][]float32, channels),
		output:   make([][]float32, channels),
		requests: make(chan request, 1),
		quit:     make(chan struct{}),
	}
	for ch := 0; ch < channels; ch++ {
		e.input[ch] = make([]float32, maxFrames)
		e.output[ch] = make([]float32, maxFrames)
	}
	go e.loop()
	return e
}

// SetProfiler records the duration of every completed call. Call it
// before the first Invoke.
func (e *Executor) SetProfiler(p *fxdebug.Profiler) {
	e.profiler = p
}

// Generation returns the version this executor runs.
func (e *Executor) Generation() uint64 {
	return e.gen
}

func (e *Executor) loop() {
	for {
		select {
		case req := <-e.requests:
			start := time.Now()
			err := e.execute()
			if e.profiler != nil {
				e.profiler.Record(ProfileInvoke, time.Since(start))
			}
			// Clear busy first so a caller that has given up on this
			// call can start the next one as soon as the result is known.
			e.busy.Store(false)
			req.done <- err
		case <-e.quit:
			return
		}
	}
}

// execute runs the program, recovering from panics.
func (e *Executor) execute() (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	return e.program.Process(&e.frame)
}

// Invoke processes in and, on success, writes the result into out. out
// receives in's header and the program's samples. On failure out is not
// touched and the error is a *script.InvocationError or a
// *script.TimeoutError.
func (e *Executor) Invoke(in, out *transport.Block) error {
	e.calls.Add(1)
	select {
	case <-e.quit:
		return &script.InvocationError{Generation: e.gen, Cause: ErrClosed}
	default:
	}
	if e.busy.Load() {
		e.refused.Add(1)
		return &script.TimeoutError{Generation: e.gen, Busy: true, Elapsed: e.Running()}
	}
	if err := e.prepare(in); err != nil {
		e.failures.Add(1)
		return &script.InvocationError{Generation: e.gen, Cause: err}
	}

	req := request{done: make(chan error, 1)}
	e.started.Store(time.Now().UnixNano())
	e.busy.Store(true)
	select {
	case e.requests <- req:
	case <-e.quit:
		e.busy.Store(false)
		return &script.InvocationError{Generation: e.gen, Cause: ErrClosed}
	}

	budget := e.cfg.Budget(in.Frames, in.SampleRate)
	timer := time.NewTimer(budget)
	defer timer.Stop()

	select {
	case err := <-req.done:
		if err != nil {
			e.failures.Add(1)
			return &script.InvocationError{Generation: e.gen, Cause: err}
		}
	case <-timer.C:
		e.timeouts.Add(1)
		return &script.TimeoutError{Generation: e.gen, Budget: budget}
	case <-e.quit:
		return &script.InvocationError{Generation: e.gen, Cause: ErrClosed}
	}

	if ch, n, ok := fxdebug.FirstNonFinite(e.output[:in.Channels], in.Frames); ok {
		e.failures.Add(1)
		return &script.InvocationError{
			Generation: e.gen,
			Cause:      fmt.Errorf("non-finite output at channel %d frame %d", ch, n),
		}
	}

	if !out.Fits(in.Channels, in.Frames) {
		e.failures.Add(1)
		return &script.InvocationError{Generation: e.gen, Cause: errors.New("output block too small")}
	}
	copyHeader(out, in)
	for ch := 0; ch < in.Channels; ch++ {
		copy(out.Samples[ch][:in.Frames], e.output[ch][:in.Frames])
	}
	return nil
}

// prepare copies the input block into executor storage. Only called while
// the worker is idle.
func (e *Executor) prepare(in *transport.Block) error {
	if in.Channels > len(e.input) {
		return fmt.Errorf("block has %d channels, executor has %d", in.Channels, len(e.input))
	}
	if in.Channels > 0 && in.Frames > len(e.input[0]) {
		return fmt.Errorf("block has %d frames, executor holds %d", in.Frames, len(e.input[0]))
	}
	for ch := 0; ch < in.Channels; ch++ {
		copy(e.input[ch][:in.Frames], in.Samples[ch][:in.Frames])
		clear(e.output[ch][:in.Frames])
	}
	e.params = in.Params
	e.frame = script.Frame{
		Input:      e.input[:in.Channels],
		Output:     e.output[:in.Channels],
		Frames:     in.Frames,
		SampleRate: in.SampleRate,
		Time:       in.Time,
		Params:     &e.params,
		MIDI:       in.MIDI,
	}
	return nil
}

func copyHeader(dst, src *transport.Block) {
	dst.Seq = src.Seq
	dst.Generation = src.Generation
	dst.Frames = src.Frames
	dst.Channels = src.Channels
	dst.SampleRate = src.SampleRate
	dst.Time = src.Time
	dst.Params = src.Params
	dst.MIDI = src.MIDI
}

// Running returns how long the current call has been running, or 0 when
// the executor is idle.
func (e *Executor) Running() time.Duration {
	if !e.busy.Load() {
		return 0
	}
	return time.Duration(time.Now().UnixNano() - e.started.Load())
}

// Idle reports whether no call, abandoned or not, is running.
func (e *Executor) Idle() bool {
	return !e.busy.Load()
}

// Close stops the goroutine and closes the program, which interrupts a
// call that is still running. Safe to call more than once.
func (e *Executor) Close() {
	e.stopOnce.Do(func() {
		close(e.quit)
		e.program.Close()
	})
}

// Stats is a snapshot of executor counters.
type Stats struct {
	Calls    uint64
	Failures uint64
	Timeouts uint64
	Refused  uint64 // calls turned away while an abandoned call ran
}

// Stats returns the executor counters.
func (e *Executor) Stats() Stats {
	return Stats{
		Calls:    e.calls.Load(),
		Failures: e.failures.Load(),
		Timeouts: e.timeouts.Load(),
		Refused:  e.refused.Load(),
	}
}
