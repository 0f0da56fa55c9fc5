package lifecycle

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/justyntemme/scriptfx/pkg/script"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopProgram struct{}

func (nopProgram) Process(*script.Frame) error { return nil }
func (nopProgram) Close()                      {}

func activate(t *testing.T, m *Machine, source string) *Version {
	t.Helper()
	v, err := m.Begin(source, "hcl", EventLoad)
	require.NoError(t, err)
	require.NoError(t, m.Compiled(v, nopProgram{}))
	_, err = m.Activate(v)
	require.NoError(t, err)
	return v
}

func TestNext(t *testing.T) {
	tests := []struct {
		from Status
		ev   Event
		to   Status
		ok   bool
	}{
		{Idle, EventLoad, Compiling, true},
		{Compiling, EventSuccess, Ready, true},
		{Compiling, EventError, Faulted, true},
		{Ready, EventValidated, Active, true},
		{Ready, EventError, Faulted, true},
		{Active, EventSustainedFailure, Faulted, true},
		{Active, EventRetire, Retired, true},
		{Faulted, EventReload, Compiling, true},
		{Idle, EventValidated, Idle, false},
		{Idle, EventReload, Idle, false},
		{Compiling, EventLoad, Compiling, false},
		{Retired, EventLoad, Retired, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.ev)+" from "+tt.from.String(), func(t *testing.T) {
			to, err := Next(tt.from, tt.ev)
			if tt.ok {
				require.NoError(t, err)
			} else {
				require.ErrorIs(t, err, ErrInvalidTransition)
			}
			assert.Equal(t, tt.to, to)
		})
	}
}

func TestMachineLoadActivate(t *testing.T) {
	m := NewMachine()
	assert.Equal(t, Idle, m.State())
	assert.Zero(t, m.Live())

	v, err := m.Begin("x", "hcl", EventLoad)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), v.Generation)
	assert.NotEqual(t, v.ID.String(), "00000000-0000-0000-0000-000000000000")
	assert.Equal(t, Compiling, m.State())
	assert.Zero(t, m.Live(), "compiling version must not be live")

	// A second load while compiling is refused.
	_, err = m.Begin("y", "hcl", EventLoad)
	require.ErrorIs(t, err, ErrInvalidTransition)

	require.NoError(t, m.Compiled(v, nopProgram{}))
	assert.Equal(t, Ready, m.State())
	assert.Zero(t, m.Live())

	retired, err := m.Activate(v)
	require.NoError(t, err)
	assert.Nil(t, retired)
	assert.Equal(t, Active, m.State())
	assert.Equal(t, uint64(1), m.Live())
	assert.Same(t, v, m.Active())

	h := m.History()
	require.Len(t, h, 1)
	assert.Equal(t, Publish{From: 0, To: 1, At: h[0].At, Reason: EventValidated}, h[0])
}

func TestMachineSwapRetiresPrevious(t *testing.T) {
	m := NewMachine()
	v1 := activate(t, m, "a")

	v2, err := m.Begin("b", "hcl", EventLoad)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), m.Live(), "previous version stays live while compiling")
	require.NoError(t, m.Compiled(v2, nopProgram{}))

	retired, err := m.Activate(v2)
	require.NoError(t, err)
	assert.Same(t, v1, retired)
	assert.Equal(t, Retired, v1.Status)
	assert.Equal(t, uint64(2), m.Live())
}

func TestMachineCompileErrorKeepsActive(t *testing.T) {
	m := NewMachine()
	activate(t, m, "a")

	v2, err := m.Begin("bad(", "hcl", EventLoad)
	require.NoError(t, err)
	cause := &script.CompileError{Engine: "hcl", Phase: script.PhaseParse, Message: "oops"}
	require.NoError(t, m.Fail(v2, cause))

	assert.Equal(t, Faulted, v2.Status)
	assert.Equal(t, uint64(1), m.Live())
	assert.Equal(t, Active, m.State())

	snap := m.Snapshot()
	assert.Equal(t, uint64(1), snap.Active.Generation)
	assert.Equal(t, uint64(2), snap.Last.Generation)
	assert.Contains(t, snap.Last.Err, "oops")

	// Never published, so collectable immediately.
	got := m.Collect(1, nil)
	require.Len(t, got, 1)
	assert.Same(t, v2, got[0])
}

func TestMachineFaultAndReload(t *testing.T) {
	m := NewMachine()
	v1 := activate(t, m, "a")

	require.NoError(t, m.Fault(v1, errors.New("too many failures")))
	assert.Equal(t, Faulted, m.State())
	assert.Zero(t, m.Live())

	// Fault is only valid for the active version.
	require.ErrorIs(t, m.Fault(v1, nil), ErrInvalidTransition)

	v2, err := m.Begin("a", "hcl", EventReload)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), v2.Generation)
	require.NoError(t, m.Compiled(v2, nopProgram{}))
	retired, err := m.Activate(v2)
	require.NoError(t, err)
	assert.Nil(t, retired)
	assert.Equal(t, uint64(2), m.Live())

	h := m.History()
	require.Len(t, h, 3)
	assert.Equal(t, EventSustainedFailure, h[1].Reason)
	assert.Zero(t, h[1].To)
}

func TestMachineFailWhileCompiling(t *testing.T) {
	m := NewMachine()
	v1, err := m.Begin("a", "hcl", EventLoad)
	require.NoError(t, err)

	// A second load is refused while the first is compiling.
	_, err = m.Begin("b", "hcl", EventLoad)
	require.ErrorIs(t, err, ErrInvalidTransition)

	require.NoError(t, m.Fail(v1, errors.New("stopped")))
	assert.Equal(t, Faulted, m.State())
	v2, err := m.Begin("b", "hcl", EventLoad)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), v2.Generation)
}

func TestMachineUnpublish(t *testing.T) {
	m := NewMachine()
	assert.Nil(t, m.Unpublish())

	v := activate(t, m, "a")
	assert.Same(t, v, m.Unpublish())
	assert.Zero(t, m.Live())
	assert.Equal(t, Retired, v.Status)
	assert.Nil(t, m.Active())
	assert.Equal(t, Idle, m.State())
	assert.Zero(t, m.SwapRaces())

	h := m.History()
	require.Len(t, h, 2)
	assert.Equal(t, Publish{From: 1, To: 0, At: h[1].At, Reason: EventRetire}, h[1])

	// The retired version is collected once the audio side moved on.
	require.Len(t, m.Collect(0, nil), 1)
}

func TestMachineInvalidActivate(t *testing.T) {
	m := NewMachine()
	v, err := m.Begin("a", "hcl", EventLoad)
	require.NoError(t, err)
	_, err = m.Activate(v)
	require.ErrorIs(t, err, ErrInvalidTransition)
	assert.Zero(t, m.Live())
}

func TestMachineSwapRace(t *testing.T) {
	m := NewMachine()
	activate(t, m, "a")
	v2, err := m.Begin("b", "hcl", EventLoad)
	require.NoError(t, err)
	require.NoError(t, m.Compiled(v2, nopProgram{}))

	// Someone other than the machine wrote the cell.
	m.LiveCell().Store(99)
	_, err = m.Activate(v2)
	require.ErrorIs(t, err, ErrSwapRace)
	assert.Equal(t, uint64(1), m.SwapRaces())
	assert.Equal(t, Ready, v2.Status)
}

func TestMachineCollectWaitsForObserver(t *testing.T) {
	m := NewMachine()
	v1 := activate(t, m, "a")
	activate(t, m, "b")

	// The audio goroutine still reports generation 1.
	assert.Empty(t, m.Collect(1, nil))

	// Observed the new generation, but the executor is busy.
	assert.Empty(t, m.Collect(2, func(*Version) bool { return false }))

	got := m.Collect(2, func(v *Version) bool { return true })
	require.Len(t, got, 1)
	assert.Same(t, v1, got[0])
	_, ok := m.Lookup(1)
	assert.False(t, ok)
	assert.Equal(t, 1, m.Len())
}

func TestMachineHistoryBounded(t *testing.T) {
	m := NewMachine()
	for i := 0; i < historySize+10; i++ {
		activate(t, m, "a")
		m.Collect(m.Live(), nil)
	}
	h := m.History()
	require.Len(t, h, historySize)
	assert.Equal(t, uint64(historySize+10), h[len(h)-1].To)
}

// A reader polling the live generation only ever sees published versions,
// and generations never go backwards.
func TestMachineReaderNeverSeesUnpublished(t *testing.T) {
	m := NewMachine()
	stop := make(chan struct{})
	var bad atomic.Value
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		var last uint64
		for {
			select {
			case <-stop:
				return
			default:
			}
			g := m.Live()
			if g == 0 {
				continue
			}
			if g < last {
				bad.Store("generation went backwards")
				return
			}
			last = g
			if v, ok := m.Lookup(g); ok && !v.published {
				bad.Store("observed an unpublished generation")
				return
			}
		}
	}()

	for i := 0; i < 500; i++ {
		v, err := m.Begin("src", "hcl", EventLoad)
		require.NoError(t, err)
		require.NoError(t, m.Compiled(v, nopProgram{}))
		if i%3 == 0 {
			require.NoError(t, m.Fail(v, errors.New("dry run failed")))
		} else {
			_, err = m.Activate(v)
			require.NoError(t, err)
		}
		m.Collect(m.Live(), nil)
	}
	close(stop)
	wg.Wait()

	assert.Nil(t, bad.Load())
	assert.Zero(t, m.SwapRaces())
}

func TestStatusString(t *testing.T) {
	assert.Equal(t, "active", Active.String())
	assert.Equal(t, "retired", Retired.String())
	assert.Equal(t, "status(42)", Status(42).String())
}
