package plugin

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/justyntemme/scriptfx/pkg/bridge"
	"github.com/justyntemme/scriptfx/pkg/framework/debug"
	"github.com/justyntemme/scriptfx/pkg/framework/isolation"
	"github.com/justyntemme/scriptfx/pkg/framework/process"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const blockSize = 32

func testOptions(channels int) bridge.Options {
	iso := isolation.DefaultConfig()
	iso.MinTimeout = 2 * time.Second
	return bridge.Options{Channels: channels, Isolation: iso, Logger: debug.Discard()}
}

func buffers(channels int, v float32) [][]float32 {
	out := make([][]float32, channels)
	for ch := range out {
		out[ch] = make([]float32, blockSize)
		for n := range out[ch] {
			out[ch][n] = v
		}
	}
	return out
}

func newActive(t *testing.T, channels int) *ScriptProcessor {
	t.Helper()
	p, err := NewScriptProcessor(testOptions(channels))
	require.NoError(t, err)
	require.NoError(t, p.Initialize(48000, blockSize))
	require.NoError(t, p.SetActive(true))
	t.Cleanup(func() {
		assert.NoError(t, p.SetActive(false))
	})
	return p
}

func waitLive(t *testing.T, p *ScriptProcessor) {
	t.Helper()
	require.Eventually(t, func() bool {
		return p.Bridge().Status().Live != 0
	}, 10*time.Second, time.Millisecond)
}

func TestScriptPluginInfo(t *testing.T) {
	sp := &ScriptPlugin{Options: testOptions(2)}
	info := sp.GetInfo()
	assert.Equal(t, "com.scriptfx.plugin", info.ID)
	require.NoError(t, info.ValidateUID())

	proc, err := sp.CreateProcessor()
	require.NoError(t, err)
	assert.Equal(t, int32(0), proc.GetLatencySamples())
	assert.Equal(t, int32(0), proc.GetTailSamples())
	assert.Equal(t, int32(7), proc.GetParameters().Count())
}

func TestDescribeParameters(t *testing.T) {
	p, err := NewScriptProcessor(testOptions(2))
	require.NoError(t, err)

	infos := DescribeParameters(p.GetParameters())
	require.Len(t, infos, 7)

	byID := make(map[string]ParameterInfo, len(infos))
	for _, info := range infos {
		byID[info.ID] = info
	}

	gain := byID["gain"]
	assert.Equal(t, "dB", gain.Unit)
	assert.Equal(t, -30.0, gain.Min)
	assert.Equal(t, 30.0, gain.Max)
	assert.Equal(t, 0.0, gain.Default)
	assert.Equal(t, "log", gain.Curve)
	assert.True(t, gain.Automatable)

	preset := byID["preset"]
	assert.Equal(t, int32(5), preset.Steps)
	assert.Equal(t, 1.0, preset.Default)
	assert.Equal(t, "stepped", preset.Curve)
	assert.True(t, preset.ProgramChange)

	assert.True(t, byID["bypass"].Bypass)
	assert.Equal(t, 0.5, byID["macro3"].Default)

	first, ok := ParameterInfoAt(p.GetParameters(), 0)
	require.True(t, ok)
	assert.Equal(t, infos[0], first)
	_, ok = ParameterInfoAt(p.GetParameters(), 99)
	assert.False(t, ok)
}

func TestProcessBeforeInitializeIsSilent(t *testing.T) {
	p, err := NewScriptProcessor(testOptions(2))
	require.NoError(t, err)

	ctx := process.NewContext(p.GetParameters())
	ctx.Input, ctx.Output = buffers(2, 1), buffers(2, 1)
	p.ProcessAudio(ctx)
	assert.Empty(t, cmp.Diff(buffers(2, 0), ctx.Output))

	assert.Error(t, p.SetActive(true))
	_, err = p.GetState()
	assert.Error(t, err)
}

func TestActivationLoadsSelectedPreset(t *testing.T) {
	for _, channels := range []int{1, 2} {
		p := newActive(t, channels)
		waitLive(t, p)

		// The first factory preset passes audio through.
		ctx := process.NewContext(p.GetParameters())
		ctx.Input, ctx.Output = buffers(channels, 0.5), buffers(channels, 0)
		p.ProcessAudio(ctx)
		require.True(t, p.Bridge().AwaitResult(10*time.Second))

		ctx.Output = buffers(channels, 0)
		p.ProcessAudio(ctx)
		assert.Empty(t, cmp.Diff(buffers(channels, 0.5), ctx.Output), "channels=%d", channels)
	}
}

func TestStateRestoredOnActivation(t *testing.T) {
	src := newActive(t, 2)
	waitLive(t, src)
	_, err := src.Bridge().StorePreset(testContext(t), 1, "x * 0.5")
	require.NoError(t, err)
	require.NoError(t, src.Bridge().SetParameter("macro4", 0.1))
	blob, err := src.GetState()
	require.NoError(t, err)

	dst, err := NewScriptProcessor(testOptions(2))
	require.NoError(t, err)
	require.NoError(t, dst.SetState(blob), "state before initialize is deferred")
	require.NoError(t, dst.Initialize(48000, blockSize))
	require.NoError(t, dst.SetActive(true))
	t.Cleanup(func() { assert.NoError(t, dst.SetActive(false)) })

	require.Eventually(t, func() bool {
		v := dst.Bridge().Machine().Active()
		return v != nil && v.Source == "x * 0.5"
	}, 10*time.Second, time.Millisecond)
	assert.Equal(t, 0.1, dst.GetParameters().Value(bridge.ParamMacro4))
}

func TestSetStateWhileActive(t *testing.T) {
	src := newActive(t, 2)
	waitLive(t, src)
	_, err := src.Bridge().Load(testContext(t), "x * 0.25")
	require.NoError(t, err)
	blob, err := src.GetState()
	require.NoError(t, err)

	dst := newActive(t, 2)
	waitLive(t, dst)
	require.NoError(t, dst.SetState(blob))
	assert.Equal(t, "x * 0.25", dst.Bridge().Machine().Active().Source)
}

func TestReinitialize(t *testing.T) {
	p, err := NewScriptProcessor(testOptions(2))
	require.NoError(t, err)
	require.NoError(t, p.Initialize(48000, blockSize))
	first := p.Bridge()
	require.NoError(t, p.Initialize(96000, 2*blockSize))
	assert.NotSame(t, first, p.Bridge())
	assert.Equal(t, 96000.0, p.SampleRate())
}

// testContext stands in for t.Context (Go 1.24+): the context is canceled
// when the test finishes.
func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return ctx
}
