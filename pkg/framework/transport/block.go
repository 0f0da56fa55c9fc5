package transport

import (
	"github.com/justyntemme/scriptfx/pkg/framework/param"
	"github.com/justyntemme/scriptfx/pkg/midi"
)

// Block is one audio block in flight between the audio goroutine and the
// script host. Sample storage is allocated once per ring slot; Frames and
// Channels say how much of it is in use.
type Block struct {
	Seq        uint64  // submission sequence, starts at 1
	Generation uint64  // live generation observed at submission
	Frames     int
	Channels   int
	SampleRate float64
	Time       float64 // block start, seconds since activation of the stream
	Params     param.Snapshot
	MIDI       midi.State
	Samples    [][]float32
}

// NewBlock allocates sample storage for channels x maxFrames.
func NewBlock(channels, maxFrames int) Block {
	b := Block{Samples: make([][]float32, channels)}
	for ch := range b.Samples {
		b.Samples[ch] = make([]float32, maxFrames)
	}
	return b
}

// NewBlockRing creates a ring whose slots each own preallocated storage.
func NewBlockRing(capacity, channels, maxFrames int) *Ring[Block] {
	return NewRing(capacity, func(b *Block) {
		*b = NewBlock(channels, maxFrames)
	})
}

// Fits reports whether a block of the given shape fits the storage.
func (b *Block) Fits(channels, frames int) bool {
	return channels <= len(b.Samples) && (channels == 0 || frames <= len(b.Samples[0]))
}

// Channel returns the in-use samples of one channel.
func (b *Block) Channel(ch int) []float32 {
	return b.Samples[ch][:b.Frames]
}

// CopyFrom copies the header and the in-use samples of src. Storage is not
// shared, and src must fit b.
func (b *Block) CopyFrom(src *Block) {
	b.Seq = src.Seq
	b.Generation = src.Generation
	b.Frames = src.Frames
	b.Channels = src.Channels
	b.SampleRate = src.SampleRate
	b.Time = src.Time
	b.Params = src.Params
	b.MIDI = src.MIDI
	for ch := 0; ch < src.Channels; ch++ {
		copy(b.Samples[ch][:src.Frames], src.Samples[ch][:src.Frames])
	}
}
