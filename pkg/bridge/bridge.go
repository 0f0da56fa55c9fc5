// Package bridge assembles the script bridge: parameter registry, lifecycle
// machine, script host, real-time engine, preset bank and session state,
// behind the load/restore contract the host integration layer uses.
package bridge

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/justyntemme/scriptfx/pkg/framework/config"
	"github.com/justyntemme/scriptfx/pkg/framework/debug"
	"github.com/justyntemme/scriptfx/pkg/framework/isolation"
	"github.com/justyntemme/scriptfx/pkg/framework/lifecycle"
	"github.com/justyntemme/scriptfx/pkg/framework/param"
	"github.com/justyntemme/scriptfx/pkg/framework/process"
	"github.com/justyntemme/scriptfx/pkg/framework/realtime"
	"github.com/justyntemme/scriptfx/pkg/framework/scripthost"
	"github.com/justyntemme/scriptfx/pkg/framework/state"
	"github.com/justyntemme/scriptfx/pkg/framework/transport"
	"golang.org/x/sync/errgroup"
)

// presetPoll is how often the preset parameter is checked for changes made
// by host automation.
const presetPoll = 20 * time.Millisecond

var (
	// ErrNotRunning is returned by calls that need a started bridge.
	ErrNotRunning = errors.New("bridge: not running")
	// ErrEngineMismatch reports a session saved with another engine.
	ErrEngineMismatch = errors.New("bridge: session engine mismatch")
	// ErrClosed is returned by Start after Close.
	ErrClosed = errors.New("bridge: closed")
)

// Options configures a bridge.
type Options struct {
	Engine     string
	Channels   int
	MaxFrames  int
	SampleRate float64

	QueueCapacity   int
	ControlCapacity int
	Isolation       isolation.Config
	Fallback        realtime.Fallback
	SmoothingMs     float64

	// Presets overrides the leading slots of the factory bank.
	Presets []string
	// Registry receives the plugin parameters; one is created when nil.
	Registry *param.Registry

	Logger   *debug.Logger
	Profiler *debug.Profiler
}

// OptionsFromConfig maps a configuration onto bridge options.
func OptionsFromConfig(cfg config.Config) Options {
	return Options{
		Engine:          cfg.Bridge.Engine,
		Channels:        cfg.Audio.Channels,
		MaxFrames:       cfg.Audio.BlockSize,
		SampleRate:      cfg.Audio.SampleRate,
		QueueCapacity:   cfg.Bridge.QueueCapacity,
		ControlCapacity: cfg.Bridge.ControlCapacity,
		Isolation:       cfg.Isolation(),
		Fallback:        cfg.Fallback(),
		SmoothingMs:     cfg.Bridge.SmoothingMs,
		Presets:         cfg.Bridge.Presets,
	}
}

func (o *Options) setDefaults() {
	if o.Engine == "" {
		o.Engine = "hcl"
	}
	if o.Channels <= 0 {
		o.Channels = 2
	}
	if o.MaxFrames <= 0 {
		o.MaxFrames = 256
	}
	if o.SampleRate <= 0 {
		o.SampleRate = 48000
	}
	if o.QueueCapacity <= 0 {
		o.QueueCapacity = 4
	}
	if o.ControlCapacity <= 0 {
		o.ControlCapacity = 16
	}
	if o.Isolation == (isolation.Config{}) {
		o.Isolation = isolation.DefaultConfig()
	}
}

// Bridge is one plugin instance. Process belongs to the audio goroutine;
// everything else may be called from control goroutines.
type Bridge struct {
	engineName string
	log        *debug.Logger
	registry   *param.Registry
	machine    *lifecycle.Machine
	host       *scripthost.Host
	audio      *realtime.Engine
	state      *state.Manager

	mu      sync.Mutex // guards presets and preset selection
	presets [NumPresets]string
	preset  atomic.Int32 // slot whose source was last submitted

	runMu   sync.Mutex
	cancel  context.CancelFunc
	group   *errgroup.Group
	running atomic.Bool
	closed  bool
}

// New assembles a bridge. Call Start before loading scripts.
func New(opts Options) (*Bridge, error) {
	opts.setDefaults()
	if err := opts.Isolation.Validate(); err != nil {
		return nil, err
	}
	if opts.Channels > 2 {
		return nil, fmt.Errorf("bridge: %d channels, want 1 or 2", opts.Channels)
	}
	if len(opts.Presets) > NumPresets {
		return nil, fmt.Errorf("bridge: %d presets, the bank holds %d", len(opts.Presets), NumPresets)
	}
	engine, err := NewEngine(opts.Engine)
	if err != nil {
		return nil, err
	}

	reg := opts.Registry
	if reg == nil {
		reg = param.NewRegistry()
	}
	if err := DefineParameters(reg); err != nil {
		return nil, err
	}

	log := debug.OrDefault(opts.Logger)
	machine := lifecycle.NewMachine()
	in := transport.NewBlockRing(opts.QueueCapacity, opts.Channels, opts.MaxFrames)
	out := transport.NewBlockRing(opts.QueueCapacity, opts.Channels, opts.MaxFrames)
	bell, results := transport.NewDoorbell(), transport.NewDoorbell()

	audio := realtime.New(realtime.Options{
		Registry:    reg,
		Live:        machine.LiveCell(),
		AudioIn:     in,
		AudioOut:    out,
		Doorbell:    bell,
		Results:     results,
		Channels:    opts.Channels,
		MaxFrames:   opts.MaxFrames,
		SampleRate:  opts.SampleRate,
		GainKey:     ParamGain,
		HasGain:     true,
		BypassKey:   ParamBypass,
		HasBypass:   true,
		SmoothingMs: opts.SmoothingMs,
		Fallback:    opts.Fallback,
	})

	b := &Bridge{
		engineName: engine.Name(),
		log:        log.With("component", "bridge"),
		registry:   reg,
		machine:    machine,
		audio:      audio,
		state:      state.NewManager(reg),
		presets:    DefaultPresets(engine.Name()),
	}
	copy(b.presets[:], opts.Presets)
	b.host = scripthost.New(scripthost.Options{
		Engine:     engine,
		Registry:   reg,
		Machine:    machine,
		AudioIn:    in,
		AudioOut:   out,
		Control:    transport.NewRing[scripthost.Control](opts.ControlCapacity, nil),
		Doorbell:   bell,
		Results:    results,
		Isolation:  opts.Isolation,
		Channels:   opts.Channels,
		MaxFrames:  opts.MaxFrames,
		SampleRate: opts.SampleRate,
		Observed:   audio.Observed,
		Logger:     log,
		Profiler:   opts.Profiler,
	})
	return b, nil
}

// Start runs the script host and the preset watcher until Stop or until
// ctx is done. Nothing is loaded; call Load or SelectPreset.
func (b *Bridge) Start(ctx context.Context) error {
	b.runMu.Lock()
	defer b.runMu.Unlock()
	if b.closed {
		return ErrClosed
	}
	if b.cancel != nil {
		return errors.New("bridge: already started")
	}

	b.preset.Store(int32(b.currentSlot()))

	ctx, cancel := context.WithCancel(ctx)
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return b.host.Run(ctx)
	})
	g.Go(func() error {
		return b.watchPresets(ctx)
	})
	b.cancel, b.group = cancel, g
	b.running.Store(true)
	b.log.Info("bridge started (engine %s)", b.engineName)
	return nil
}

// Stop shuts the bridge down and waits for its goroutines. The live
// version stays published, so a later Start resumes it; Close releases it.
func (b *Bridge) Stop() error {
	b.runMu.Lock()
	defer b.runMu.Unlock()
	return b.stopLocked()
}

func (b *Bridge) stopLocked() error {
	if b.cancel == nil {
		return nil
	}
	b.running.Store(false)
	b.cancel()
	err := b.group.Wait()
	b.cancel, b.group = nil, nil
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	b.log.Info("bridge stopped")
	return err
}

// Close stops the bridge and releases every script version. The bridge
// cannot be started again.
func (b *Bridge) Close() error {
	b.runMu.Lock()
	defer b.runMu.Unlock()
	if b.closed {
		return nil
	}
	err := b.stopLocked()
	b.closed = true
	return errors.Join(err, b.host.Close())
}

// Running reports whether Start has been called without Stop.
func (b *Bridge) Running() bool {
	return b.running.Load()
}

func (b *Bridge) watchPresets(ctx context.Context) error {
	ticker := time.NewTicker(presetPoll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			b.checkPreset()
		}
	}
}

// checkPreset loads the selected slot when automation changed it.
func (b *Bridge) checkPreset() {
	b.mu.Lock()
	slot := b.currentSlot()
	if int32(slot) == b.preset.Load() {
		b.mu.Unlock()
		return
	}
	b.preset.Store(int32(slot))
	source := b.presets[slot-1]
	b.mu.Unlock()

	b.log.Debug("preset %d selected", slot)
	if err := b.host.Submit(scripthost.Control{Kind: scripthost.KindLoad, Source: source}); err != nil {
		b.log.Warn("preset %d: %v", slot, err)
	}
}

func (b *Bridge) currentSlot() int {
	return clampSlot(b.registry.Value(ParamPreset))
}

// Load compiles source and makes it the live version. A *script.CompileError
// leaves the previous version live.
func (b *Bridge) Load(ctx context.Context, source string) (scripthost.VersionHandle, error) {
	if !b.Running() {
		return scripthost.VersionHandle{}, ErrNotRunning
	}
	return b.host.Load(ctx, source)
}

// Reload recompiles the last loaded source, which also leaves the faulted
// state.
func (b *Bridge) Reload(ctx context.Context) (scripthost.VersionHandle, error) {
	if !b.Running() {
		return scripthost.VersionHandle{}, ErrNotRunning
	}
	return b.host.Reload(ctx)
}

// SelectPreset switches to a preset slot and loads its source.
func (b *Bridge) SelectPreset(ctx context.Context, slot int) (scripthost.VersionHandle, error) {
	if slot < 1 || slot > NumPresets {
		return scripthost.VersionHandle{}, fmt.Errorf("bridge: preset %d out of range [1, %d]", slot, NumPresets)
	}
	b.mu.Lock()
	b.preset.Store(int32(slot))
	b.registry.Set(ParamPreset, float64(slot))
	source := b.presets[slot-1]
	b.mu.Unlock()
	return b.Load(ctx, source)
}

// SubmitPreset queues the selected preset for loading without waiting for
// the result. Failures show up in Status.
func (b *Bridge) SubmitPreset() error {
	if !b.Running() {
		return ErrNotRunning
	}
	b.mu.Lock()
	slot := b.currentSlot()
	b.preset.Store(int32(slot))
	source := b.presets[slot-1]
	b.mu.Unlock()
	return b.host.Submit(scripthost.Control{Kind: scripthost.KindLoad, Source: source})
}

// StorePreset replaces the source of a slot, 0 meaning the selected one.
// When the slot is selected the source is loaded and its handle returned;
// otherwise the zero handle is returned.
func (b *Bridge) StorePreset(ctx context.Context, slot int, source string) (scripthost.VersionHandle, error) {
	b.mu.Lock()
	if slot == 0 {
		slot = int(b.preset.Load())
	}
	if slot < 1 || slot > NumPresets {
		b.mu.Unlock()
		return scripthost.VersionHandle{}, fmt.Errorf("bridge: preset %d out of range [1, %d]", slot, NumPresets)
	}
	b.presets[slot-1] = source
	selected := int(b.preset.Load()) == slot
	b.mu.Unlock()

	if !selected {
		return scripthost.VersionHandle{}, nil
	}
	return b.Load(ctx, source)
}

// Presets returns a copy of the bank.
func (b *Bridge) Presets() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.presets[:]...)
}

// SetParameter stores a plain value by string id.
func (b *Bridge) SetParameter(id string, plain float64) error {
	p := b.registry.Lookup(id)
	if p == nil {
		return fmt.Errorf("bridge: unknown parameter %q", id)
	}
	p.SetPlainValue(plain)
	return nil
}

// SetParameterText parses display text, such as "-6 dB" or "25%", and
// stores the value by string id.
func (b *Bridge) SetParameterText(id, text string) error {
	p := b.registry.Lookup(id)
	if p == nil {
		return fmt.Errorf("bridge: unknown parameter %q", id)
	}
	v, err := p.ParseValue(text)
	if err != nil {
		return fmt.Errorf("bridge: parameter %q: cannot parse %q: %w", id, text, err)
	}
	p.SetValue(v)
	return nil
}

// SnapshotParameters returns every plain parameter value by id.
func (b *Bridge) SnapshotParameters() map[string]float64 {
	return b.registry.Values()
}

// RestoreParameters applies plain values by id; unknown ids are ignored.
func (b *Bridge) RestoreParameters(values map[string]float64) int {
	return b.registry.Restore(values)
}

// Parameters returns the registry.
func (b *Bridge) Parameters() *param.Registry {
	return b.registry
}

// Engine returns the script engine name.
func (b *Bridge) Engine() string {
	return b.engineName
}

// SaveState returns the session blob: parameters, preset bank and the
// active source.
func (b *Bridge) SaveState() ([]byte, error) {
	s := state.Session{Engine: b.engineName, Presets: b.Presets()}
	if v := b.machine.Active(); v != nil {
		s.Source = v.Source
	}
	return b.state.Bytes(s)
}

// LoadState restores a blob written by SaveState and loads its active
// source, or the selected preset when the session had none.
func (b *Bridge) LoadState(ctx context.Context, data []byte) (scripthost.VersionHandle, error) {
	if !b.Running() {
		return scripthost.VersionHandle{}, ErrNotRunning
	}
	b.mu.Lock()
	s, err := b.state.Load(bytes.NewReader(data))
	if err != nil {
		b.mu.Unlock()
		return scripthost.VersionHandle{}, err
	}
	if s.Engine != "" && s.Engine != b.engineName {
		b.mu.Unlock()
		return scripthost.VersionHandle{}, fmt.Errorf("%w: saved with %q, running %q", ErrEngineMismatch, s.Engine, b.engineName)
	}
	copy(b.presets[:], s.Presets)
	slot := b.currentSlot()
	b.preset.Store(int32(slot))
	source := s.Source
	if source == "" {
		source = b.presets[slot-1]
	}
	b.mu.Unlock()

	return b.Load(ctx, source)
}

// Process runs one audio callback. Call it from the audio goroutine only.
func (b *Bridge) Process(ctx *process.Context) {
	b.audio.Process(ctx)
}

// Reset clears stream state between playback sessions.
func (b *Bridge) Reset() {
	b.audio.Reset()
}

// AwaitResult paces offline drivers; see realtime.Engine.AwaitResult.
func (b *Bridge) AwaitResult(timeout time.Duration) bool {
	return b.audio.AwaitResult(timeout)
}

// SetFallback changes what unprocessed blocks sound like.
func (b *Bridge) SetFallback(f realtime.Fallback) {
	b.audio.SetFallback(f)
}

// Status is a point-in-time view for editors and diagnostics.
type Status struct {
	Engine    string
	State     lifecycle.Status
	Live      uint64
	Active    *lifecycle.VersionInfo
	LastError string
	Preset    int
	Params    map[string]float64
	Texts     map[string]string // formatted Params
	Host      scripthost.Stats
	Audio     realtime.Stats
	SwapRaces uint64
}

// Status returns the current status.
func (b *Bridge) Status() Status {
	snap := b.machine.Snapshot()
	st := Status{
		Engine:    b.engineName,
		State:     snap.State,
		Live:      snap.Live,
		Active:    snap.Active,
		Preset:    int(b.preset.Load()),
		Params:    b.registry.Values(),
		Texts:     b.registry.Texts(),
		Host:      b.host.Stats(),
		Audio:     b.audio.Stats(),
		SwapRaces: snap.SwapRaces,
	}
	switch {
	case snap.Last != nil && snap.Last.Err != "":
		st.LastError = snap.Last.Err
	case snap.Active != nil && snap.Active.Err != "":
		st.LastError = snap.Active.Err
	}
	return st
}

// Machine exposes the lifecycle machine for diagnostics.
func (b *Bridge) Machine() *lifecycle.Machine {
	return b.machine
}
