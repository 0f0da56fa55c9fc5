// Package plugin provides plugin metadata and base processor functionality
// shared by host-facing processors.
package plugin

import (
	"fmt"

	"github.com/justyntemme/scriptfx/pkg/framework/param"
)

// BaseProcessor provides common functionality for audio processors
type BaseProcessor struct {
	params       *param.Registry
	channels     int
	sampleRate   float64
	maxBlockSize int32
	active       bool

	// Optional callbacks for customization
	onInitialize func(sampleRate float64, maxBlockSize int32) error
	onSetActive  func(active bool) error
	onReset      func()
}

// NewBaseProcessor creates a base processor for a mono (1) or stereo (2)
// layout. Zero selects stereo.
func NewBaseProcessor(channels int) *BaseProcessor {
	if channels == 0 {
		channels = 2
	}
	return &BaseProcessor{
		params:   param.NewRegistry(),
		channels: channels,
	}
}

// Initialize records the stream format and runs the initialize callback.
func (b *BaseProcessor) Initialize(sampleRate float64, maxBlockSize int32) error {
	if b.channels != 1 && b.channels != 2 {
		return fmt.Errorf("plugin: unsupported channel count %d", b.channels)
	}
	if sampleRate <= 0 || maxBlockSize <= 0 {
		return fmt.Errorf("plugin: invalid stream format (%v Hz, %d frames)", sampleRate, maxBlockSize)
	}
	b.sampleRate = sampleRate
	b.maxBlockSize = maxBlockSize

	if b.onInitialize != nil {
		return b.onInitialize(sampleRate, maxBlockSize)
	}

	return nil
}

// GetParameters implements the Processor interface
func (b *BaseProcessor) GetParameters() *param.Registry {
	return b.params
}

// SetActive implements the Processor interface
func (b *BaseProcessor) SetActive(active bool) error {
	if !active && b.onReset != nil {
		b.onReset()
	}

	if b.onSetActive != nil {
		if err := b.onSetActive(active); err != nil {
			return err
		}
	}
	b.active = active
	return nil
}

// IsActive reports whether processing is running.
func (b *BaseProcessor) IsActive() bool {
	return b.active
}

// GetLatencySamples implements the Processor interface - default no latency
func (b *BaseProcessor) GetLatencySamples() int32 {
	return 0
}

// GetTailSamples implements the Processor interface - default no tail
func (b *BaseProcessor) GetTailSamples() int32 {
	return 0
}

// SampleRate returns the current sample rate
func (b *BaseProcessor) SampleRate() float64 {
	return b.sampleRate
}

// MaxBlockSize returns the largest block the host will send.
func (b *BaseProcessor) MaxBlockSize() int32 {
	return b.maxBlockSize
}

// Channels returns the channel count of the layout.
func (b *BaseProcessor) Channels() int {
	return b.channels
}

// Parameters returns the parameter registry for adding parameters
func (b *BaseProcessor) Parameters() *param.Registry {
	return b.params
}

// OnInitialize sets a callback for initialization
func (b *BaseProcessor) OnInitialize(fn func(sampleRate float64, maxBlockSize int32) error) {
	b.onInitialize = fn
}

// OnSetActive sets a callback for activation/deactivation
func (b *BaseProcessor) OnSetActive(fn func(active bool) error) {
	b.onSetActive = fn
}

// OnReset sets a callback for when the processor should reset its state
func (b *BaseProcessor) OnReset(fn func()) {
	b.onReset = fn
}
