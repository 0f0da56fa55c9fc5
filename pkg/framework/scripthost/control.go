package scripthost

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/justyntemme/scriptfx/pkg/framework/transport"
)

var (
	// ErrNothingLoaded is returned by Reload before any source was loaded.
	ErrNothingLoaded = errors.New("scripthost: no source loaded")
	// ErrStopped answers control messages still pending when Run returns.
	ErrStopped = errors.New("scripthost: stopped")
	// ErrClosed is returned by Run after Close.
	ErrClosed = errors.New("scripthost: closed")
)

// Kind identifies a control message.
type Kind int

const (
	// KindLoad compiles Source and, if it validates, makes it active.
	KindLoad Kind = iota
	// KindReload recompiles the last loaded source.
	KindReload
	// KindReset recompiles the active source, dropping any script state.
	KindReset
)

func (k Kind) String() string {
	switch k {
	case KindLoad:
		return "load"
	case KindReload:
		return "reload"
	case KindReset:
		return "reset"
	default:
		return "unknown"
	}
}

// VersionHandle identifies a version that became active.
type VersionHandle struct {
	Generation uint64
	ID         uuid.UUID
	Engine     string
}

// Result answers a control message.
type Result struct {
	Handle VersionHandle
	Err    error
}

// Control is a message from a control goroutine to the host.
type Control struct {
	Kind   Kind
	Source string
	// Reply, when non-nil, receives exactly one Result. It must be
	// buffered so the host never waits on it.
	Reply chan Result
}

func (c Control) reply(r Result) {
	if c.Reply != nil {
		c.Reply <- r
	}
}

// Submit queues a control message for the host without waiting for it to
// be handled. It returns transport.ErrOverflow when the control queue is
// full. Safe for concurrent use.
func (h *Host) Submit(c Control) error {
	h.ctlMu.Lock()
	ok := h.control.TryPush(c)
	h.ctlMu.Unlock()
	if !ok {
		return transport.ErrOverflow
	}
	h.bell.Ring()
	return nil
}

// call submits a control message and waits for its result.
func (h *Host) call(ctx context.Context, kind Kind, source string) (VersionHandle, error) {
	reply := make(chan Result, 1)
	if err := h.Submit(Control{Kind: kind, Source: source, Reply: reply}); err != nil {
		return VersionHandle{}, err
	}
	select {
	case r := <-reply:
		return r.Handle, r.Err
	case <-ctx.Done():
		return VersionHandle{}, ctx.Err()
	}
}

// Load compiles source and activates it. Compile and dry-run failures are
// returned as *script.CompileError; the previous version stays live.
func (h *Host) Load(ctx context.Context, source string) (VersionHandle, error) {
	return h.call(ctx, KindLoad, source)
}

// Reload recompiles the last loaded source, for example to leave the
// faulted state.
func (h *Host) Reload(ctx context.Context) (VersionHandle, error) {
	return h.call(ctx, KindReload, "")
}

// Reset recompiles the active source so scripts start from a clean state.
func (h *Host) Reset(ctx context.Context) (VersionHandle, error) {
	return h.call(ctx, KindReset, "")
}
