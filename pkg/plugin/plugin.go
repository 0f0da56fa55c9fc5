// Package plugin is the host-facing side of scriptfx: the Plugin and
// Processor contracts a host integration layer drives, and the script
// processor that implements them on top of the bridge.
package plugin

import (
	"github.com/justyntemme/scriptfx/pkg/framework/param"
	"github.com/justyntemme/scriptfx/pkg/framework/plugin"
	"github.com/justyntemme/scriptfx/pkg/framework/process"
)

// Plugin is the main interface that users implement
type Plugin interface {
	// GetInfo returns plugin metadata
	GetInfo() plugin.Info

	// CreateProcessor creates a new instance of the audio processor
	CreateProcessor() (Processor, error)
}

// Processor handles the actual audio processing
type Processor interface {
	// Initialize is called when the plugin is created
	Initialize(sampleRate float64, maxBlockSize int32) error

	// ProcessAudio processes audio - ZERO ALLOCATIONS!
	ProcessAudio(ctx *process.Context)

	// GetParameters returns the parameter registry
	GetParameters() *param.Registry

	// SetActive is called when processing starts/stops
	SetActive(active bool) error

	// GetLatencySamples returns the plugin's latency in samples
	GetLatencySamples() int32

	// GetTailSamples returns the tail length in samples
	GetTailSamples() int32
}

// StatefulProcessor is implemented by processors whose session state the
// host stores as an opaque blob.
type StatefulProcessor interface {
	GetState() ([]byte, error)
	SetState(data []byte) error
}
