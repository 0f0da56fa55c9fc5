package bridge

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/justyntemme/scriptfx/pkg/framework/debug"
	"github.com/justyntemme/scriptfx/pkg/framework/isolation"
	"github.com/justyntemme/scriptfx/pkg/framework/lifecycle"
	"github.com/justyntemme/scriptfx/pkg/framework/process"
	"github.com/justyntemme/scriptfx/pkg/script"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const frames = 64

func newBridge(t *testing.T, engine string) *Bridge {
	t.Helper()
	iso := isolation.DefaultConfig()
	iso.MinTimeout = 2 * time.Second

	b, err := New(Options{
		Engine:     engine,
		Channels:   2,
		MaxFrames:  frames,
		SampleRate: 48000,
		Isolation:  iso,
		Logger:     debug.Discard(),
	})
	require.NoError(t, err)
	require.NoError(t, b.Start(context.Background()))
	t.Cleanup(func() {
		assert.NoError(t, b.Close())
	})
	return b
}

func testCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func level(v float32) [][]float32 {
	in := [][]float32{make([]float32, frames), make([]float32, frames)}
	for ch := range in {
		for n := range in[ch] {
			in[ch][n] = v
		}
	}
	return in
}

// step runs one callback and waits until its result is ready for the next.
func step(t *testing.T, b *Bridge, pc *process.Context, in [][]float32) [][]float32 {
	t.Helper()
	out := level(0)
	pc.Input, pc.Output = in, out
	b.Process(pc)
	b.AwaitResult(10 * time.Second)
	return out
}

func TestLoadAndProcess(t *testing.T) {
	b := newBridge(t, "hcl")
	vh, err := b.Load(testCtx(t), "x * 0.5")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), vh.Generation)

	pc := process.NewContext(b.Parameters())
	first := step(t, b, pc, level(0.8))
	assert.Empty(t, cmp.Diff(level(0), first), "the first block has no result yet")

	out := step(t, b, pc, level(0.8))
	assert.Empty(t, cmp.Diff(level(0.4), out))

	st := b.Status()
	assert.Equal(t, lifecycle.Active, st.State)
	assert.Equal(t, uint64(1), st.Live)
	assert.Equal(t, uint64(1), st.Audio.Emitted)
	assert.Empty(t, st.LastError)
}

func TestJavaScriptEngine(t *testing.T) {
	b := newBridge(t, "js")
	_, err := b.Load(testCtx(t), "0.25")
	require.NoError(t, err)

	pc := process.NewContext(b.Parameters())
	step(t, b, pc, level(1))
	out := step(t, b, pc, level(1))
	assert.Empty(t, cmp.Diff(level(0.25), out))
}

func TestNotRunning(t *testing.T) {
	b, err := New(Options{Logger: debug.Discard()})
	require.NoError(t, err)
	_, err = b.Load(context.Background(), "x")
	assert.ErrorIs(t, err, ErrNotRunning)
	assert.NoError(t, b.Stop())
	assert.NoError(t, b.Close())
}

func TestNewRejectsBadOptions(t *testing.T) {
	_, err := New(Options{Engine: "lua"})
	assert.ErrorContains(t, err, "unknown engine")

	_, err = New(Options{Presets: make([]string, NumPresets+1)})
	assert.ErrorContains(t, err, "presets")

	_, err = New(Options{Channels: 6})
	assert.ErrorContains(t, err, "channels")
}

func TestCompileErrorKeepsLiveVersion(t *testing.T) {
	b := newBridge(t, "hcl")
	_, err := b.Load(testCtx(t), "x")
	require.NoError(t, err)

	_, err = b.Load(testCtx(t), "x * nope")
	var ce *script.CompileError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, script.PhaseBind, ce.Phase)

	st := b.Status()
	assert.Equal(t, uint64(1), st.Live)
	assert.Equal(t, lifecycle.Active, st.State)
	assert.Contains(t, st.LastError, "nope")
}

func TestSelectPreset(t *testing.T) {
	b := newBridge(t, "hcl")
	presets := DefaultPresets("hcl")

	_, err := b.SelectPreset(testCtx(t), 2)
	require.NoError(t, err)
	assert.Equal(t, presets[1], b.Machine().Active().Source)
	assert.Equal(t, 2.0, b.Parameters().Value(ParamPreset))
	assert.Equal(t, 2, b.Status().Preset)

	_, err = b.SelectPreset(testCtx(t), NumPresets+1)
	assert.ErrorContains(t, err, "out of range")
}

func TestStorePreset(t *testing.T) {
	b := newBridge(t, "hcl")
	_, err := b.SelectPreset(testCtx(t), 1)
	require.NoError(t, err)

	vh, err := b.StorePreset(testCtx(t), 4, "x * 0.1")
	require.NoError(t, err)
	assert.Zero(t, vh.Generation, "an unselected slot is not loaded")
	assert.Equal(t, "x * 0.1", b.Presets()[3])

	vh, err = b.StorePreset(testCtx(t), 0, "x * 0.2")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), vh.Generation)
	assert.Equal(t, "x * 0.2", b.Machine().Active().Source)
	assert.Equal(t, "x * 0.2", b.Presets()[0])
}

func TestPresetAutomationLoadsSlot(t *testing.T) {
	b := newBridge(t, "hcl")
	presets := DefaultPresets("hcl")

	require.NoError(t, b.SetParameter("preset", 3))
	require.Eventually(t, func() bool {
		v := b.Machine().Active()
		return v != nil && v.Source == presets[2]
	}, 10*time.Second, 5*time.Millisecond)
	assert.Equal(t, 3, b.Status().Preset)
}

func TestParameters(t *testing.T) {
	b := newBridge(t, "hcl")

	require.NoError(t, b.SetParameter("macro1", 0.25))
	assert.ErrorContains(t, b.SetParameter("missing", 1), "unknown parameter")

	values := b.SnapshotParameters()
	assert.Equal(t, 0.25, values["macro1"])
	assert.Equal(t, 0.0, values["gain"])
	assert.Len(t, values, 7)

	n := b.RestoreParameters(map[string]float64{"macro2": 0.75, "gain": 100, "future": 1})
	assert.Equal(t, 2, n)
	assert.Equal(t, 0.75, b.Parameters().Value(ParamMacro2))
	assert.Equal(t, 30.0, b.Parameters().Value(ParamGain), "values are clamped to range")

	require.NoError(t, b.SetParameterText("gain", "-6 dB"))
	assert.Equal(t, "-6.0 dB", b.Status().Texts["gain"])
	require.NoError(t, b.SetParameterText("bypass", "on"))
	assert.Equal(t, 1.0, b.Parameters().Value(ParamBypass))
	assert.ErrorContains(t, b.SetParameterText("macro1", "lots"), "cannot parse")
	assert.ErrorContains(t, b.SetParameterText("missing", "1"), "unknown parameter")
}

func TestStateRestoresSession(t *testing.T) {
	src := newBridge(t, "hcl")
	_, err := src.Load(testCtx(t), "x * p.macro1")
	require.NoError(t, err)
	require.NoError(t, src.SetParameter("macro1", 0.25))
	_, err = src.StorePreset(testCtx(t), 5, "x * 0.3")
	require.NoError(t, err)

	blob, err := src.SaveState()
	require.NoError(t, err)

	dst := newBridge(t, "hcl")
	vh, err := dst.LoadState(testCtx(t), blob)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), vh.Generation)
	assert.Equal(t, "x * p.macro1", dst.Machine().Active().Source)
	assert.Equal(t, 0.25, dst.Parameters().Value(ParamMacro1))
	assert.Equal(t, src.Presets(), dst.Presets())
}

func TestStateEngineMismatch(t *testing.T) {
	js := newBridge(t, "js")
	blob, err := js.SaveState()
	require.NoError(t, err)

	hcl := newBridge(t, "hcl")
	_, err = hcl.LoadState(testCtx(t), blob)
	assert.ErrorIs(t, err, ErrEngineMismatch)

	_, err = hcl.LoadState(testCtx(t), []byte("garbage"))
	assert.Error(t, err)
}

func TestDefaultPresetsCompile(t *testing.T) {
	for _, name := range EngineNames() {
		t.Run(name, func(t *testing.T) {
			b := newBridge(t, name)
			for slot := 1; slot <= NumPresets; slot++ {
				_, err := b.SelectPreset(testCtx(t), slot)
				require.NoError(t, err, "preset %d", slot)
			}
		})
	}
}

func TestBypass(t *testing.T) {
	b := newBridge(t, "hcl")
	_, err := b.Load(testCtx(t), "0")
	require.NoError(t, err)
	require.NoError(t, b.SetParameter("bypass", 1))

	pc := process.NewContext(b.Parameters())
	out := level(0)
	pc.Input, pc.Output = level(0.5), out
	b.Process(pc)
	assert.Empty(t, cmp.Diff(level(0.5), out))
}

func TestStateRestoreNeedsRunningBridge(t *testing.T) {
	src := newBridge(t, "hcl")
	_, err := src.StorePreset(testCtx(t), 5, "x * 0.3")
	require.NoError(t, err)
	blob, err := src.SaveState()
	require.NoError(t, err)

	dst, err := New(Options{Logger: debug.Discard()})
	require.NoError(t, err)
	_, err = dst.LoadState(testCtx(t), blob)
	require.ErrorIs(t, err, ErrNotRunning)
	assert.Equal(t, DefaultPresets("hcl")[4], dst.Presets()[4], "a refused restore leaves the bank alone")
}

func TestStopDuringCompileRecovers(t *testing.T) {
	b := newBridge(t, "js")
	slow := `var end = Date.now() + 300; while (Date.now() < end) {}
function gain(t) { return 1; }`

	first := make(chan error, 1)
	go func() {
		_, err := b.Load(context.Background(), slow)
		first <- err
	}()
	require.Eventually(t, func() bool {
		return b.Status().State == lifecycle.Compiling
	}, 10*time.Second, time.Millisecond)

	require.NoError(t, b.Stop())
	assert.NotEqual(t, lifecycle.Compiling, b.Status().State)
	require.NoError(t, b.Start(context.Background()))

	vh, err := b.Load(testCtx(t), "0.5")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), vh.Generation)
	assert.Equal(t, lifecycle.Active, b.Status().State)

	select {
	case err := <-first:
		assert.Error(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("interrupted load never answered")
	}
}

func TestRestartKeepsLiveVersionAudible(t *testing.T) {
	b := newBridge(t, "hcl")
	_, err := b.Load(testCtx(t), "x * 0.5")
	require.NoError(t, err)
	pc := process.NewContext(b.Parameters())
	step(t, b, pc, level(0.8))

	require.NoError(t, b.Stop())
	require.NoError(t, b.Start(context.Background()))

	_, err = b.Load(testCtx(t), "x *")
	var ce *script.CompileError
	require.ErrorAs(t, err, &ce)

	for i := 0; i < 10; i++ {
		out := step(t, b, pc, level(0.8))
		assert.Empty(t, cmp.Diff(level(0.4), out), "block %d", i)
	}
	st := b.Status()
	assert.Equal(t, lifecycle.Active, st.State)
	assert.Equal(t, uint64(1), st.Live)
	assert.Equal(t, uint64(10), st.Audio.Emitted)
	assert.Zero(t, st.Host.Stale)
}

func TestClose(t *testing.T) {
	b := newBridge(t, "hcl")
	_, err := b.Load(testCtx(t), "x")
	require.NoError(t, err)

	require.NoError(t, b.Close())
	require.NoError(t, b.Close())
	assert.False(t, b.Running())
	assert.Zero(t, b.Status().Live)
	assert.ErrorIs(t, b.Start(context.Background()), ErrClosed)

	h := b.Machine().History()
	require.NotEmpty(t, h)
	assert.Equal(t, lifecycle.EventRetire, h[len(h)-1].Reason)
}
