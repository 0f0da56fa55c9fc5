// Package lifecycle tracks script versions from load to retirement and
// owns the single value the audio goroutine reads: the live generation.
package lifecycle

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/justyntemme/scriptfx/pkg/script"
)

var (
	// ErrInvalidTransition is returned for a transition the state table
	// does not allow.
	ErrInvalidTransition = errors.New("lifecycle: invalid transition")
	// ErrSwapRace means the live generation changed under an activation.
	// Only the machine publishes, so this is an invariant violation.
	ErrSwapRace = errors.New("lifecycle: live generation changed during swap")
)

// Status is the state of one version, or of the machine as a whole.
type Status int

const (
	Idle Status = iota
	Compiling
	Ready
	Active
	Faulted
	Retired
)

func (s Status) String() string {
	switch s {
	case Idle:
		return "idle"
	case Compiling:
		return "compiling"
	case Ready:
		return "ready"
	case Active:
		return "active"
	case Faulted:
		return "faulted"
	case Retired:
		return "retired"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Event drives a transition.
type Event string

const (
	EventLoad             Event = "load"
	EventSuccess          Event = "success"
	EventError            Event = "error"
	EventValidated        Event = "validated"
	EventSustainedFailure Event = "sustained_failure"
	EventReload           Event = "reload"
	EventRetire           Event = "retire"
)

var transitions = map[Status]map[Event]Status{
	Idle:      {EventLoad: Compiling},
	Compiling: {EventSuccess: Ready, EventError: Faulted},
	Ready:     {EventValidated: Active, EventError: Faulted},
	Active:    {EventSustainedFailure: Faulted, EventRetire: Retired, EventLoad: Compiling, EventReload: Compiling},
	Faulted:   {EventReload: Compiling, EventLoad: Compiling},
}

// Next returns the state reached from s on ev.
func Next(s Status, ev Event) (Status, error) {
	if to, ok := transitions[s][ev]; ok {
		return to, nil
	}
	return s, fmt.Errorf("%w: %s --%s-->", ErrInvalidTransition, s, ev)
}

// Version is one compiled (or compiling) script.
type Version struct {
	Generation uint64
	ID         uuid.UUID
	Source     string
	Engine     string
	Program    script.Program
	Status     Status
	Err        error
	Created    time.Time

	published bool
}

// Publish records one change of the live generation.
type Publish struct {
	From, To uint64
	At       time.Time
	Reason   Event
}

const historySize = 64

// VersionInfo is a copy of the descriptive fields of a Version.
type VersionInfo struct {
	Generation uint64
	ID         uuid.UUID
	Engine     string
	Status     Status
	Err        string
	Created    time.Time
}

// Snapshot is a consistent view of the machine for status readers.
type Snapshot struct {
	State     Status
	Live      uint64
	Active    *VersionInfo
	Last      *VersionInfo
	Versions  int
	SwapRaces uint64
}

func info(v *Version) *VersionInfo {
	if v == nil {
		return nil
	}
	vi := &VersionInfo{
		Generation: v.Generation,
		ID:         v.ID,
		Engine:     v.Engine,
		Status:     v.Status,
		Created:    v.Created,
	}
	if v.Err != nil {
		vi.Err = v.Err.Error()
	}
	return vi
}

// Machine owns every version. Mutating methods are called from the script
// host goroutine; Live, State and the snapshot accessors may be called
// from any goroutine.
type Machine struct {
	live atomic.Uint64 // 0 when nothing is live

	mu        sync.Mutex
	nextGen   uint64
	versions  map[uint64]*Version
	active    *Version
	pending   *Version // compiling or ready
	last      *Version // most recently loaded
	history   []Publish
	swapRaces atomic.Uint64
	now       func() time.Time
}

// NewMachine creates a machine with nothing live.
func NewMachine() *Machine {
	return &Machine{
		versions: make(map[uint64]*Version),
		now:      time.Now,
	}
}

// Live returns the generation the audio goroutine should use.
func (m *Machine) Live() uint64 {
	return m.live.Load()
}

// LiveCell exposes the published generation for lock-free readers.
func (m *Machine) LiveCell() *atomic.Uint64 {
	return &m.live
}

// State summarizes the machine: the status of a version being built, else
// Active when something is live, else the status of the last load.
func (m *Machine) State() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stateLocked()
}

func (m *Machine) stateLocked() Status {
	switch {
	case m.pending != nil:
		return m.pending.Status
	case m.active != nil:
		return Active
	case m.last != nil && m.last.Status == Faulted:
		return Faulted
	default:
		return Idle
	}
}

// Begin creates a new compiling version with the next generation. ev is
// EventLoad for new source or EventReload to recompile.
func (m *Machine) Begin(source, engine string, ev Event) (*Version, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, err := Next(m.stateLocked(), ev); err != nil {
		return nil, err
	}
	m.nextGen++
	v := &Version{
		Generation: m.nextGen,
		ID:         uuid.New(),
		Source:     source,
		Engine:     engine,
		Status:     Compiling,
		Created:    m.now(),
	}
	m.versions[v.Generation] = v
	m.pending = v
	m.last = v
	return v, nil
}

// Compiled moves a compiling version to Ready.
func (m *Machine) Compiled(v *Version, program script.Program) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.transition(v, EventSuccess); err != nil {
		return err
	}
	v.Program = program
	return nil
}

// Fail marks a compiling or ready version Faulted. The live version is
// unaffected.
func (m *Machine) Fail(v *Version, cause error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.transition(v, EventError); err != nil {
		return err
	}
	v.Err = cause
	if m.pending == v {
		m.pending = nil
	}
	return nil
}

// Activate publishes a ready version. The previous active version, if
// any, is retired. The publish is a compare-and-swap against the
// generation being replaced.
func (m *Machine) Activate(v *Version) (retired *Version, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if v.Status != Ready {
		return nil, fmt.Errorf("%w: %s --%s-->", ErrInvalidTransition, v.Status, EventValidated)
	}
	var from uint64
	if m.active != nil {
		from = m.active.Generation
	}
	if !m.live.CompareAndSwap(from, v.Generation) {
		m.swapRaces.Add(1)
		return nil, fmt.Errorf("%w: expected %d, found %d", ErrSwapRace, from, m.live.Load())
	}

	if err := m.transition(v, EventValidated); err != nil {
		return nil, err
	}
	v.published = true
	if m.active != nil {
		retired = m.active
		_ = m.transition(retired, EventRetire)
	}
	m.active = v
	if m.pending == v {
		m.pending = nil
	}
	m.record(from, v.Generation, EventValidated)
	return retired, nil
}

// Fault marks the active version Faulted after sustained failure and
// unpublishes it, so the audio goroutine falls back.
func (m *Machine) Fault(v *Version, cause error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active != v {
		return fmt.Errorf("%w: generation %d is not active", ErrInvalidTransition, v.Generation)
	}
	if err := m.transition(v, EventSustainedFailure); err != nil {
		return err
	}
	if !m.live.CompareAndSwap(v.Generation, 0) {
		m.swapRaces.Add(1)
		return fmt.Errorf("%w: expected %d, found %d", ErrSwapRace, v.Generation, m.live.Load())
	}
	v.Err = cause
	m.active = nil
	m.last = v
	m.record(v.Generation, 0, EventSustainedFailure)
	return nil
}

// Unpublish retires the active version so nothing is live. It returns the
// retired version, or nil when nothing was active.
func (m *Machine) Unpublish() *Version {
	m.mu.Lock()
	defer m.mu.Unlock()

	v := m.active
	if v == nil {
		return nil
	}
	if !m.live.CompareAndSwap(v.Generation, 0) {
		m.swapRaces.Add(1)
		m.live.Store(0)
	}
	_ = m.transition(v, EventRetire)
	m.active = nil
	m.record(v.Generation, 0, EventRetire)
	return v
}

func (m *Machine) transition(v *Version, ev Event) error {
	to, err := Next(v.Status, ev)
	if err != nil {
		return fmt.Errorf("generation %d: %w", v.Generation, err)
	}
	v.Status = to
	return nil
}

func (m *Machine) record(from, to uint64, reason Event) {
	if len(m.history) == historySize {
		copy(m.history, m.history[1:])
		m.history = m.history[:historySize-1]
	}
	m.history = append(m.history, Publish{From: from, To: to, At: m.now(), Reason: reason})
}

// Collect removes and returns versions that are no longer live and can
// be released: the audio goroutine has observed a different generation,
// and release reports that nothing is still running in them. Versions
// that were never published are collected right away.
func (m *Machine) Collect(observed uint64, release func(*Version) bool) []*Version {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*Version
	for gen, v := range m.versions {
		if v == m.active || v == m.pending {
			continue
		}
		if v.Status != Retired && v.Status != Faulted {
			continue
		}
		if v.published && observed == gen {
			continue
		}
		if release != nil && !release(v) {
			continue
		}
		delete(m.versions, gen)
		out = append(out, v)
	}
	return out
}

// Snapshot returns the current state of the machine.
func (m *Machine) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Snapshot{
		State:     m.stateLocked(),
		Live:      m.live.Load(),
		Active:    info(m.active),
		Last:      info(m.last),
		Versions:  len(m.versions),
		SwapRaces: m.swapRaces.Load(),
	}
}

// Active returns the active version, or nil.
func (m *Machine) Active() *Version {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// Last returns the most recently loaded version, or nil.
func (m *Machine) Last() *Version {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}

// Lookup returns a version that has not been collected.
func (m *Machine) Lookup(gen uint64) (*Version, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.versions[gen]
	return v, ok
}

// Len returns the number of versions not yet collected.
func (m *Machine) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.versions)
}

// History returns a copy of the recent publishes, oldest first.
func (m *Machine) History() []Publish {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Publish(nil), m.history...)
}

// SwapRaces counts failed publishes.
func (m *Machine) SwapRaces() uint64 {
	return m.swapRaces.Load()
}
