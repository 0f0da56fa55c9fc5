package commands

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"time"

	"github.com/justyntemme/scriptfx/pkg/bridge"
	"github.com/justyntemme/scriptfx/pkg/framework/config"
	"github.com/justyntemme/scriptfx/pkg/framework/debug"
	"github.com/justyntemme/scriptfx/pkg/framework/isolation"
	"github.com/justyntemme/scriptfx/pkg/framework/process"
	"github.com/justyntemme/scriptfx/pkg/framework/realtime"
	"github.com/justyntemme/scriptfx/pkg/framework/scripthost"
	"github.com/justyntemme/scriptfx/pkg/midi"
	"github.com/justyntemme/scriptfx/pkg/script"
	"github.com/spf13/cobra"
)

// resultWait bounds the wait for one block's script result. A block that
// misses it plays the fallback, as it would in a real host.
const resultWait = 2 * time.Second

type renderOptions struct {
	Signal   string
	Freq     float64
	Amp      float64
	Duration time.Duration
	Preset   int // 0 renders the selected preset
	Note     int // MIDI note held for the whole render, -1 for none
	Raw      io.Writer
}

type renderSummary struct {
	Blocks   int
	Frames   int
	Missed   int // blocks whose result did not arrive in time
	Version  string
	Output   debug.AnalysisResult
	Invoke   debug.Measurement
	Load     float64 // invoke time as a percentage of the block period
	Host     scripthost.Stats
	Audio    realtime.Stats
	Channels int
}

var (
	renderSignal   string
	renderFreq     float64
	renderAmp      float64
	renderDuration time.Duration
	renderPreset   int
	renderNote     int
	renderRaw      string
)

var renderCmd = &cobra.Command{
	Use:   "render [script]",
	Short: "Run a script offline through the bridge",
	Long: `Render a test signal through the full bridge: parameter registry,
script host, per-version executor and real-time engine. The one block of
latency the bridge adds is compensated, so the output lines up with the
input.

Without a script the selected preset (or --preset) is rendered.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		var source string
		if len(args) == 1 {
			if source, err = readScript(cmd, args[0]); err != nil {
				return err
			}
		}

		opts := renderOptions{
			Signal:   renderSignal,
			Freq:     renderFreq,
			Amp:      renderAmp,
			Duration: renderDuration,
			Preset:   renderPreset,
			Note:     renderNote,
		}
		if renderRaw != "" {
			f, err := os.Create(renderRaw)
			if err != nil {
				return failure(cmd.ErrOrStderr(), "Cannot create output", err.Error())
			}
			defer f.Close()
			w := bufio.NewWriter(f)
			defer w.Flush()
			opts.Raw = w
		}

		out := cmd.OutOrStdout()
		step(out, "Rendering %v of %s at %.0f Hz (%s engine)", opts.Duration, opts.Signal, cfg.Audio.SampleRate, cfg.Bridge.Engine)
		sum, err := render(cmd.Context(), cfg, source, opts)
		var ce *script.CompileError
		switch {
		case errors.As(err, &ce):
			return failure(cmd.ErrOrStderr(), fmt.Sprintf("Script does not compile (%s)", ce.Phase), describeCompileError(ce))
		case err != nil:
			return failure(cmd.ErrOrStderr(), "Render failed", err.Error())
		}
		printSummary(out, sum, cfg)
		if renderRaw != "" {
			success(out, "Wrote %d interleaved float32 frames to %s", sum.Frames, renderRaw)
		}
		return nil
	},
}

func init() {
	f := renderCmd.Flags()
	f.StringVar(&renderSignal, "signal", "sine", "input signal: sine, noise, impulse or silence")
	f.Float64Var(&renderFreq, "freq", 440, "sine frequency in Hz")
	f.Float64Var(&renderAmp, "amp", 0.5, "input amplitude")
	f.DurationVar(&renderDuration, "duration", time.Second, "length of the render")
	f.IntVar(&renderPreset, "preset", 0, "preset slot to render when no script is given")
	f.IntVar(&renderNote, "note", -1, "MIDI note held during the render")
	f.StringVar(&renderRaw, "raw", "", "write the output as raw little-endian float32 to this file")
	rootCmd.AddCommand(renderCmd)
}

// render drives a bridge block by block with a simulated clock.
func render(ctx context.Context, cfg config.Config, source string, opts renderOptions) (renderSummary, error) {
	var sum renderSummary
	sig, err := newGenerator(opts.Signal, opts.Freq, opts.Amp, cfg.Audio.SampleRate)
	if err != nil {
		return sum, err
	}
	if opts.Duration <= 0 {
		return sum, fmt.Errorf("duration must be positive, got %v", opts.Duration)
	}

	profiler := debug.NewProfiler(1024)
	bo := bridge.OptionsFromConfig(cfg)
	bo.Profiler = profiler
	b, err := bridge.New(bo)
	if err != nil {
		return sum, err
	}
	if err := b.Start(ctx); err != nil {
		return sum, err
	}
	defer b.Close()

	var vh scripthost.VersionHandle
	switch {
	case source != "":
		vh, err = b.Load(ctx, source)
	case opts.Preset != 0:
		vh, err = b.SelectPreset(ctx, opts.Preset)
	default:
		vh, err = b.SelectPreset(ctx, b.Status().Preset)
	}
	if err != nil {
		return sum, err
	}
	sum.Version = vh.ID.String()

	channels, block := cfg.Audio.Channels, cfg.Audio.BlockSize
	total := int(math.Round(opts.Duration.Seconds() * cfg.Audio.SampleRate))
	in, out := makeBuffers(channels, block), makeBuffers(channels, block)
	pctx := process.NewContext(b.Parameters())
	pctx.SampleRate = cfg.Audio.SampleRate

	analyzer := debug.NewAudioAnalyzer()
	sum.Channels = channels
	var frame []byte
	if opts.Raw != nil {
		frame = make([]byte, 4*channels)
	}

	// One extra block flushes the result of the last input block.
	blocks := (total+block-1)/block + 1
	for i := 0; i < blocks; i++ {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		for ch := range in {
			clear(in[ch])
		}
		last := i == blocks-1
		if !last {
			sig.fill(in, min(block, total-i*block))
		}
		if i == 0 && opts.Note >= 0 {
			pctx.AddInputEvent(midi.NoteOnEvent{NoteNumber: uint8(opts.Note), Velocity: 100})
		}
		pctx.Input, pctx.Output = in, out
		b.Process(pctx)
		pctx.ClearInputEvents()
		sum.Blocks++

		if !last && !b.AwaitResult(resultWait) {
			sum.Missed++
		}
		if i == 0 {
			// Output of the first block predates any result.
			continue
		}

		// This output belongs to the previous input block.
		valid := min(block, total-(i-1)*block)
		for ch := range out {
			sum.Output = sum.Output.Merge(analyzer.Analyze(out[ch][:valid]))
		}
		if opts.Raw != nil {
			if err := writeFrames(opts.Raw, frame, out, valid); err != nil {
				return sum, err
			}
		}
		sum.Frames += valid
	}

	if m, ok := profiler.Get(isolation.ProfileInvoke); ok {
		sum.Invoke = m
		sum.Load = m.Load(block, cfg.Audio.SampleRate)
	}
	sum.Host = b.Status().Host
	sum.Audio = b.Status().Audio
	return sum, nil
}

func makeBuffers(channels, frames int) [][]float32 {
	bufs := make([][]float32, channels)
	for ch := range bufs {
		bufs[ch] = make([]float32, frames)
	}
	return bufs
}

// writeFrames writes frames interleaved, one float32 per channel.
func writeFrames(w io.Writer, frame []byte, bufs [][]float32, frames int) error {
	for n := 0; n < frames; n++ {
		for ch := range bufs {
			binary.LittleEndian.PutUint32(frame[4*ch:], math.Float32bits(bufs[ch][n]))
		}
		if _, err := w.Write(frame); err != nil {
			return err
		}
	}
	return nil
}

func printSummary(w io.Writer, sum renderSummary, cfg config.Config) {
	fmt.Fprintf(w, "\nVersion:  %s\n", sum.Version)
	fmt.Fprintf(w, "Blocks:   %d of %d frames, %d channel(s)\n", sum.Blocks, cfg.Audio.BlockSize, sum.Channels)
	fmt.Fprintf(w, "Output:   %s\n", sum.Output)
	if sum.Invoke.Count > 0 {
		fmt.Fprintf(w, "Script:   avg=%v p99=%v max=%v load=%.1f%%\n",
			sum.Invoke.Average(), sum.Invoke.Percentile(99), sum.Invoke.Max, sum.Load)
	}
	fmt.Fprintf(w, "Host:     processed=%d failed=%d dropped=%d faults=%d\n",
		sum.Host.Processed, sum.Host.Failed, sum.Host.Dropped, sum.Host.TotalFaults)
	fmt.Fprintf(w, "Audio:    emitted=%d fallbacks=%d overflows=%d peak=%.1f dB\n",
		sum.Audio.Emitted, sum.Audio.Fallbacks, sum.Audio.Overflows, sum.Audio.PeakDB)
	fmt.Fprintln(w)

	switch {
	case sum.Missed > 0:
		warning(w, "%d block(s) missed their deadline and played the fallback", sum.Missed)
	case sum.Output.NonFinite > 0:
		warning(w, "output contains %d non-finite samples", sum.Output.NonFinite)
	case sum.Output.ClippedSamples > 0:
		warning(w, "output clips on %d samples", sum.Output.ClippedSamples)
	default:
		success(w, "Rendered %d frames", sum.Frames)
	}
}
