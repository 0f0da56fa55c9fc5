package plugin

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/justyntemme/scriptfx/pkg/bridge"
	"github.com/justyntemme/scriptfx/pkg/framework/debug"
	"github.com/justyntemme/scriptfx/pkg/framework/plugin"
	"github.com/justyntemme/scriptfx/pkg/framework/process"
)

// restoreTimeout bounds loading a session restored before activation.
const restoreTimeout = 10 * time.Second

// Info is the metadata of the script plugin.
var Info = plugin.Info{
	ID:       "com.scriptfx.plugin",
	Name:     "ScriptFX",
	Version:  "0.1.0",
	Vendor:   "scriptfx",
	Category: "Fx",
}

// ScriptPlugin creates script processors with shared options.
type ScriptPlugin struct {
	Options bridge.Options
}

// GetInfo implements Plugin.
func (p *ScriptPlugin) GetInfo() plugin.Info {
	return Info
}

// CreateProcessor implements Plugin.
func (p *ScriptPlugin) CreateProcessor() (Processor, error) {
	return NewScriptProcessor(p.Options)
}

// ScriptProcessor runs user scripts through the bridge. The bridge is
// built on Initialize, once the stream format is known, and runs while the
// processor is active.
type ScriptProcessor struct {
	*plugin.BaseProcessor

	opts bridge.Options
	log  *debug.Logger

	mu      sync.Mutex // serializes setup calls
	bridge  atomic.Pointer[bridge.Bridge]
	pending []byte // state set before activation
}

var (
	_ Processor         = (*ScriptProcessor)(nil)
	_ StatefulProcessor = (*ScriptProcessor)(nil)
)

// NewScriptProcessor creates a processor. opts.Channels selects the layout;
// sample rate and block size come from Initialize.
func NewScriptProcessor(opts bridge.Options) (*ScriptProcessor, error) {
	p := &ScriptProcessor{
		BaseProcessor: plugin.NewBaseProcessor(opts.Channels),
		opts:          opts,
		log:           debug.OrDefault(opts.Logger).With("component", "processor"),
	}
	if err := bridge.DefineParameters(p.Parameters()); err != nil {
		return nil, fmt.Errorf("defining parameters: %w", err)
	}
	p.OnInitialize(p.initialize)
	p.OnSetActive(p.setActive)
	p.OnReset(p.reset)
	return p, nil
}

func (p *ScriptProcessor) initialize(sampleRate float64, maxBlockSize int32) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if old := p.bridge.Load(); old != nil {
		if err := old.Close(); err != nil {
			p.log.Warn("closing previous bridge: %v", err)
		}
	}

	opts := p.opts
	opts.Channels = p.Channels()
	opts.SampleRate = sampleRate
	opts.MaxFrames = int(maxBlockSize)
	opts.Registry = p.Parameters()
	b, err := bridge.New(opts)
	if err != nil {
		return err
	}
	p.bridge.Store(b)
	return nil
}

func (p *ScriptProcessor) setActive(active bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	b := p.bridge.Load()
	if b == nil {
		return fmt.Errorf("plugin: SetActive before Initialize")
	}
	if !active {
		return b.Stop()
	}

	if err := b.Start(context.Background()); err != nil {
		return err
	}
	if p.pending != nil {
		blob := p.pending
		p.pending = nil
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), restoreTimeout)
			defer cancel()
			if _, err := b.LoadState(ctx, blob); err != nil {
				p.log.Warn("restoring session: %v", err)
			}
		}()
		return nil
	}
	return b.SubmitPreset()
}

func (p *ScriptProcessor) reset() {
	if b := p.Bridge(); b != nil {
		b.Reset()
	}
}

// ProcessAudio implements Processor. Before Initialize the output is
// silent.
func (p *ScriptProcessor) ProcessAudio(ctx *process.Context) {
	b := p.bridge.Load()
	if b == nil {
		ctx.Clear()
		return
	}
	b.Process(ctx)
}

// Bridge returns the bridge built by Initialize, or nil.
func (p *ScriptProcessor) Bridge() *bridge.Bridge {
	return p.bridge.Load()
}

// GetState implements StatefulProcessor.
func (p *ScriptProcessor) GetState() ([]byte, error) {
	b := p.Bridge()
	if b == nil {
		return nil, fmt.Errorf("plugin: GetState before Initialize")
	}
	return b.SaveState()
}

// SetState implements StatefulProcessor. A state set while inactive is
// applied on activation.
func (p *ScriptProcessor) SetState(data []byte) error {
	p.mu.Lock()
	b := p.bridge.Load()
	if b == nil || !b.Running() {
		p.pending = append([]byte(nil), data...)
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), restoreTimeout)
	defer cancel()
	_, err := b.LoadState(ctx, data)
	return err
}
