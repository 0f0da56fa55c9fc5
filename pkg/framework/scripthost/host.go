// Package scripthost runs script versions off the audio goroutine. It
// compiles and validates new sources, swaps them in through the lifecycle
// machine, and turns audio-in blocks into audio-out results through the
// isolation layer.
package scripthost

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/justyntemme/scriptfx/pkg/framework/debug"
	"github.com/justyntemme/scriptfx/pkg/framework/isolation"
	"github.com/justyntemme/scriptfx/pkg/framework/lifecycle"
	"github.com/justyntemme/scriptfx/pkg/framework/param"
	"github.com/justyntemme/scriptfx/pkg/framework/transport"
	"github.com/justyntemme/scriptfx/pkg/script"
)

// collectInterval bounds how long a retired version waits for collection
// when no audio arrives.
const collectInterval = 20 * time.Millisecond

// Options wires a host to its collaborators.
type Options struct {
	Engine    script.Engine
	Registry  *param.Registry
	Machine   *lifecycle.Machine
	AudioIn   *transport.Ring[transport.Block]
	AudioOut  *transport.Ring[transport.Block]
	Control   *transport.Ring[Control]
	Doorbell  *transport.Doorbell
	// Results, when set, is rung after every result pushed to AudioOut.
	Results   *transport.Doorbell
	Isolation isolation.Config

	Channels   int
	MaxFrames  int
	SampleRate float64

	// Observed returns the generation the audio goroutine last used.
	Observed func() uint64

	Logger   *debug.Logger
	Profiler *debug.Profiler
}

type compileResult struct {
	version *lifecycle.Version
	program script.Program
	err     error
	ctl     Control
}

// Host owns every engine instance and version.
type Host struct {
	engine   script.Engine
	env      script.Environment
	registry *param.Registry
	machine  *lifecycle.Machine
	in, out  *transport.Ring[transport.Block]
	control  *transport.Ring[Control]
	bell     *transport.Doorbell
	results  *transport.Doorbell
	iso      isolation.Config
	observed func() uint64
	log      *debug.Logger
	profiler *debug.Profiler

	ctlMu sync.Mutex

	faults    *isolation.FaultCounter
	executors map[uint64]*isolation.Executor
	compiles  chan compileResult
	compiling bool
	inflight  *lifecycle.Version
	queued    []Control
	lastSrc   string

	result  transport.Block
	dryIn   transport.Block
	dryOut  transport.Block
	running atomic.Bool
	closed  atomic.Bool

	processed atomic.Uint64
	failed    atomic.Uint64
	dropped   atomic.Uint64
	stale     atomic.Uint64
	skipped   atomic.Uint64
}

// New creates a host. Call Run to start it.
func New(opts Options) *Host {
	if opts.Observed == nil {
		opts.Observed = opts.Machine.Live
	}
	h := &Host{
		engine:   opts.Engine,
		registry: opts.Registry,
		machine:  opts.Machine,
		in:       opts.AudioIn,
		out:      opts.AudioOut,
		control:  opts.Control,
		bell:     opts.Doorbell,
		results:  opts.Results,
		iso:      opts.Isolation,
		observed: opts.Observed,
		log:      debug.OrDefault(opts.Logger).With("component", "scripthost", "engine", opts.Engine.Name()),
		profiler: opts.Profiler,
		env: script.Environment{
			Params:     script.BindRegistry(opts.Registry),
			Channels:   opts.Channels,
			SampleRate: opts.SampleRate,
			MaxFrames:  opts.MaxFrames,
		},
		faults:    isolation.NewFaultCounter(opts.Isolation.Threshold),
		executors: make(map[uint64]*isolation.Executor),
		compiles:  make(chan compileResult, 1),
		result:    transport.NewBlock(opts.Channels, opts.MaxFrames),
		dryIn:     transport.NewBlock(opts.Channels, opts.MaxFrames),
		dryOut:    transport.NewBlock(opts.Channels, opts.MaxFrames),
	}
	return h
}

// Environment returns what programs are compiled against.
func (h *Host) Environment() script.Environment {
	return h.env
}

// Faults returns the fault counter of the active version.
func (h *Host) Faults() *isolation.FaultCounter {
	return h.faults
}

// Run serves control messages and audio blocks until ctx is done. The
// live version survives a return from Run, so a later Run picks it up
// again; Close releases it.
func (h *Host) Run(ctx context.Context) error {
	if !h.running.CompareAndSwap(false, true) {
		return errors.New("scripthost: already running")
	}
	defer h.running.Store(false)
	if h.closed.Load() {
		return ErrClosed
	}
	defer h.shutdown(ctx.Err)

	ticker := time.NewTicker(collectInterval)
	defer ticker.Stop()

	h.log.Debug("script host started")
	for {
		h.drainControl()
		observed := h.observed()
		h.drainAudio()
		h.collect(observed)

		select {
		case <-ctx.Done():
			h.log.Debug("script host stopping")
			return ctx.Err()
		case <-h.bell.C():
		case res := <-h.compiles:
			h.finishCompile(res)
			h.startQueued()
		case <-ticker.C:
		}
	}
}

func (h *Host) drainControl() {
	for {
		c, ok := h.control.TryPop()
		if !ok {
			return
		}
		h.handle(c)
	}
}

func (h *Host) handle(c Control) {
	if h.compiling {
		h.queued = append(h.queued, c)
		return
	}

	var source string
	ev := lifecycle.EventLoad
	switch c.Kind {
	case KindLoad:
		source = c.Source
	case KindReload:
		if h.lastSrc == "" {
			c.reply(Result{Err: ErrNothingLoaded})
			return
		}
		source, ev = h.lastSrc, lifecycle.EventReload
	case KindReset:
		active := h.machine.Active()
		if active == nil {
			c.reply(Result{Err: ErrNothingLoaded})
			return
		}
		source, ev = active.Source, lifecycle.EventReload
	default:
		c.reply(Result{Err: fmt.Errorf("scripthost: unknown control %d", c.Kind)})
		return
	}
	h.lastSrc = source

	v, err := h.machine.Begin(source, h.engine.Name(), ev)
	if err != nil {
		c.reply(Result{Err: err})
		return
	}
	h.log.Debug("compiling generation %d (%s)", v.Generation, c.Kind)

	h.compiling = true
	h.inflight = v
	engine, env, results := h.engine, h.env, h.compiles
	go func() {
		prog, err := engine.Compile(source, env)
		results <- compileResult{version: v, program: prog, err: err, ctl: c}
	}()
}

func (h *Host) startQueued() {
	for len(h.queued) > 0 && !h.compiling {
		c := h.queued[0]
		h.queued = h.queued[1:]
		h.handle(c)
	}
}

func (h *Host) finishCompile(res compileResult) {
	h.compiling = false
	h.inflight = nil
	v := res.version

	if res.err != nil {
		h.reject(v, res.ctl, res.err)
		return
	}
	if err := h.machine.Compiled(v, res.program); err != nil {
		res.program.Close()
		h.reject(v, res.ctl, err)
		return
	}

	exec := isolation.NewExecutor(v.Generation, res.program, h.env.Channels, h.env.MaxFrames, h.iso)
	if h.profiler != nil {
		exec.SetProfiler(h.profiler)
	}
	if err := h.dryRun(exec); err != nil {
		exec.Close()
		h.reject(v, res.ctl, &script.CompileError{
			Engine:  h.engine.Name(),
			Phase:   script.PhaseValidate,
			Message: err.Error(),
			Err:     err,
		})
		return
	}

	retired, err := h.machine.Activate(v)
	if err != nil {
		h.log.Error("activating generation %d: %v", v.Generation, err)
		exec.Close()
		h.reject(v, res.ctl, err)
		return
	}
	h.executors[v.Generation] = exec
	h.faults.Reset()
	if retired != nil {
		h.log.Info("generation %d active, generation %d retired", v.Generation, retired.Generation)
	} else {
		h.log.Info("generation %d active", v.Generation)
	}
	res.ctl.reply(Result{Handle: VersionHandle{Generation: v.Generation, ID: v.ID, Engine: v.Engine}})
}

// dryRun processes one silent block with the current parameters.
func (h *Host) dryRun(exec *isolation.Executor) error {
	b := &h.dryIn
	b.Seq, b.Generation = 0, exec.Generation()
	b.Frames, b.Channels = h.env.MaxFrames, h.env.Channels
	b.SampleRate, b.Time = h.env.SampleRate, 0
	for ch := 0; ch < b.Channels; ch++ {
		clear(b.Samples[ch])
	}
	h.registry.Snapshot(&b.Params)
	return exec.Invoke(b, &h.dryOut)
}

func (h *Host) reject(v *lifecycle.Version, c Control, err error) {
	if ferr := h.machine.Fail(v, err); ferr != nil {
		h.log.Error("generation %d: %v", v.Generation, ferr)
	}
	h.log.Warn("generation %d rejected: %v", v.Generation, err)
	c.reply(Result{Err: err})
}

func (h *Host) drainAudio() {
	for {
		blk := h.in.Front()
		if blk == nil {
			return
		}
		h.process(blk)
		h.in.Release()
	}
}

func (h *Host) process(blk *transport.Block) {
	exec, ok := h.executors[blk.Generation]
	if !ok {
		h.stale.Add(1)
		return
	}
	active := h.machine.Live() == blk.Generation

	// Counters are bumped last so observers that wait on them also see
	// the result and any fault.
	err := exec.Invoke(blk, &h.result)
	var te *script.TimeoutError
	if errors.As(err, &te) && te.Busy {
		// The overrunning call was already counted once. Only a call that
		// stays stuck for a whole threshold of budgets faults the version.
		if active && te.Elapsed >= h.stallLimit(blk) {
			h.fault(blk.Generation, err)
		}
		h.skipped.Add(1)
		return
	}
	if err != nil {
		if active {
			h.recordFailure(blk.Generation, err)
		}
		h.failed.Add(1)
		return
	}
	if active {
		h.faults.RecordSuccess()
	}

	if slot := h.out.Reserve(); slot != nil {
		slot.CopyFrom(&h.result)
		h.out.Commit()
		if h.results != nil {
			h.results.Ring()
		}
	} else {
		h.dropped.Add(1)
	}
	h.processed.Add(1)
}

// stallLimit is how long one abandoned call may keep an executor busy
// before the version counts as failing.
func (h *Host) stallLimit(blk *transport.Block) time.Duration {
	return time.Duration(max(h.faults.Threshold(), 1)) * h.iso.Budget(blk.Frames, blk.SampleRate)
}

func (h *Host) recordFailure(gen uint64, err error) {
	h.log.Debug("generation %d: %v", gen, err)
	if !h.faults.RecordFailure() {
		return
	}
	h.fault(gen, fmt.Errorf("%d consecutive failures, last: %w", h.faults.Consecutive(), err))
}

// fault unpublishes gen if it is still the active version.
func (h *Host) fault(gen uint64, cause error) {
	v := h.machine.Active()
	if v == nil || v.Generation != gen {
		return
	}
	if ferr := h.machine.Fault(v, cause); ferr != nil {
		h.log.Error("faulting generation %d: %v", gen, ferr)
		return
	}
	h.log.Error("generation %d faulted: %v", gen, cause)
}

func (h *Host) collect(observed uint64) {
	// A faulted version may be stuck in a call; closing it interrupts
	// the call.
	versions := h.machine.Collect(observed, func(v *lifecycle.Version) bool {
		exec, ok := h.executors[v.Generation]
		return !ok || exec.Idle() || v.Status == lifecycle.Faulted
	})
	for _, v := range versions {
		if exec, ok := h.executors[v.Generation]; ok {
			exec.Close()
			delete(h.executors, v.Generation)
		} else if v.Program != nil {
			v.Program.Close()
		}
		h.log.Debug("generation %d collected (%s)", v.Generation, v.Status)
	}
}

func (h *Host) shutdown(cause func() error) {
	err := ErrStopped
	if c := cause(); c != nil {
		err = fmt.Errorf("%w: %w", ErrStopped, c)
	}
	for _, c := range h.queued {
		c.reply(Result{Err: err})
	}
	h.queued = nil
	for {
		c, ok := h.control.TryPop()
		if !ok {
			break
		}
		c.reply(Result{Err: err})
	}
	if h.compiling {
		// Fail the version now so the next Run can begin another; the
		// compile itself finishes in the background on its own channel.
		if ferr := h.machine.Fail(h.inflight, err); ferr != nil {
			h.log.Error("generation %d: %v", h.inflight.Generation, ferr)
		}
		h.compiling, h.inflight = false, nil
		pending := h.compiles
		h.compiles = make(chan compileResult, 1)
		go func() {
			res := <-pending
			if res.program != nil {
				res.program.Close()
			}
			res.ctl.reply(Result{Err: err})
		}()
	}
}

// Close unpublishes the live version and releases every executor. Call it
// after Run has returned; the host cannot run again.
func (h *Host) Close() error {
	if h.running.Load() {
		return errors.New("scripthost: Close while running")
	}
	if !h.closed.CompareAndSwap(false, true) {
		return nil
	}
	if v := h.machine.Unpublish(); v != nil {
		h.log.Debug("generation %d unpublished", v.Generation)
	}
	for gen, exec := range h.executors {
		exec.Close()
		delete(h.executors, gen)
	}
	return nil
}

// Stats is a snapshot of host counters.
type Stats struct {
	Processed         uint64
	Failed            uint64
	Dropped           uint64 // results lost to a full audio-out queue
	Stale             uint64 // blocks for a generation that was already collected
	Skipped           uint64 // blocks that found the executor busy with an abandoned call
	ConsecutiveFaults uint64
	TotalFaults       uint64
}

// Stats returns the host counters. Safe from any goroutine.
func (h *Host) Stats() Stats {
	return Stats{
		Processed:         h.processed.Load(),
		Failed:            h.failed.Load(),
		Dropped:           h.dropped.Load(),
		Stale:             h.stale.Load(),
		Skipped:           h.skipped.Load(),
		ConsecutiveFaults: h.faults.Consecutive(),
		TotalFaults:       h.faults.Total(),
	}
}
