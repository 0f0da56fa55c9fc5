// Package editorlink connects an external script editor to a running
// bridge over a WebSocket. The server pushes status at a fixed interval
// and applies source, preset, reload and param messages. Compile errors
// go back to the editor as compile_error messages.
package editorlink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/justyntemme/scriptfx/pkg/bridge"
	"github.com/justyntemme/scriptfx/pkg/framework/debug"
	"github.com/justyntemme/scriptfx/pkg/framework/scripthost"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultStatusInterval is used when Options.StatusInterval is zero.
	DefaultStatusInterval = 100 * time.Millisecond

	writeWait      = 5 * time.Second
	commandTimeout = 10 * time.Second
	maxMessageSize = 1 << 20
	outboxSize     = 16
)

// Bridge is the part of the bridge the editor drives.
type Bridge interface {
	Status() bridge.Status
	StorePreset(ctx context.Context, slot int, source string) (scripthost.VersionHandle, error)
	SelectPreset(ctx context.Context, slot int) (scripthost.VersionHandle, error)
	Reload(ctx context.Context) (scripthost.VersionHandle, error)
	SetParameter(id string, plain float64) error
	SetParameterText(id, text string) error
}

// Options configures a server.
type Options struct {
	StatusInterval time.Duration
	Logger         *debug.Logger
}

// Server serves editor connections.
type Server struct {
	bridge   Bridge
	interval time.Duration
	log      *debug.Logger
	upgrader websocket.Upgrader
	clients  atomic.Int64
}

// NewServer creates a server for b.
func NewServer(b Bridge, opts Options) *Server {
	if opts.StatusInterval <= 0 {
		opts.StatusInterval = DefaultStatusInterval
	}
	return &Server{
		bridge:   b,
		interval: opts.StatusInterval,
		log:      debug.OrDefault(opts.Logger).With("component", "editorlink"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}
}

// Clients returns the number of connected editors.
func (s *Server) Clients() int {
	return int(s.clients.Load())
}

// ListenAndServe listens on addr and serves until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("editorlink: %w", err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is done. It returns nil after
// a clean shutdown.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:     s,
		BaseContext: func(net.Listener) context.Context { return ctx },
	}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.log.Info("editor link listening on %s", ln.Addr())
		if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), writeWait)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// ServeHTTP upgrades the request and serves one editor.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("upgrade from %s: %v", r.RemoteAddr, err)
		return
	}
	s.clients.Add(1)
	defer s.clients.Add(-1)

	s.log.Info("editor connected from %s", r.RemoteAddr)
	err = s.serve(r.Context(), conn)
	s.log.Info("editor %s disconnected: %v", r.RemoteAddr, err)
}

// serve runs one reader and one writer. Only the writer touches the
// connection for writing; it closes the connection on exit, which stops
// the reader.
func (s *Server) serve(ctx context.Context, conn *websocket.Conn) error {
	conn.SetReadLimit(maxMessageSize)
	outbox := make(chan Message, outboxSize)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.read(ctx, conn, outbox)
	})
	g.Go(func() error {
		defer conn.Close()
		return s.write(ctx, conn, outbox)
	})
	err := g.Wait()
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (s *Server) read(ctx context.Context, conn *websocket.Conn, outbox chan<- Message) error {
	for {
		_, r, err := conn.NextReader()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		var msg Message
		if err := json.NewDecoder(r).Decode(&msg); err != nil {
			// A frame that is not a message is reported, not fatal.
			if !send(ctx, outbox, errorMessage(fmt.Errorf("invalid message: %w", err))) {
				return ctx.Err()
			}
			continue
		}
		reply, ok := s.handle(ctx, msg)
		if ok && !send(ctx, outbox, reply) {
			return ctx.Err()
		}
	}
}

func send(ctx context.Context, outbox chan<- Message, m Message) bool {
	select {
	case outbox <- m:
		return true
	case <-ctx.Done():
		return false
	}
}

// handle applies one editor message. It reports false when there is
// nothing to answer.
func (s *Server) handle(ctx context.Context, msg Message) (Message, bool) {
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	var (
		vh  scripthost.VersionHandle
		err error
	)
	switch msg.Type {
	case TypeSource:
		vh, err = s.bridge.StorePreset(ctx, msg.Slot, msg.Source)
	case TypePreset:
		vh, err = s.bridge.SelectPreset(ctx, msg.Slot)
	case TypeReload:
		vh, err = s.bridge.Reload(ctx)
	case TypeParam:
		switch {
		case msg.Value != nil:
			err = s.bridge.SetParameter(msg.ID, *msg.Value)
		case msg.Text != "":
			err = s.bridge.SetParameterText(msg.ID, msg.Text)
		default:
			err = fmt.Errorf("param %q: missing value", msg.ID)
		}
		if err != nil {
			return errorMessage(err), true
		}
		return Message{}, false
	default:
		return errorMessage(fmt.Errorf("unknown message type %q", msg.Type)), true
	}

	if err != nil {
		s.log.Debug("%s: %v", msg.Type, err)
		return errorMessage(err), true
	}
	if vh.Generation == 0 {
		return Message{Type: TypeStored, Slot: msg.Slot}, true
	}
	return Message{Type: TypeLoaded, Slot: msg.Slot, Generation: vh.Generation, Version: vh.ID.String()}, true
}

func (s *Server) write(ctx context.Context, conn *websocket.Conn, outbox <-chan Message) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	if err := s.writeJSON(conn, s.statusMessage()); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			deadline := time.Now().Add(writeWait)
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"), deadline)
			return ctx.Err()
		case m := <-outbox:
			if err := s.writeJSON(conn, m); err != nil {
				return err
			}
		case <-ticker.C:
			if err := s.writeJSON(conn, s.statusMessage()); err != nil {
				return err
			}
		}
	}
}

func (s *Server) writeJSON(conn *websocket.Conn, m Message) error {
	if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return conn.WriteJSON(m)
}

func (s *Server) statusMessage() Message {
	return Message{Type: TypeStatus, Status: newStatus(s.bridge.Status())}
}
