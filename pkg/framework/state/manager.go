// Package state saves and restores the plugin session as an opaque blob
// for the host: a short binary header followed by a canonical CBOR body.
package state

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"
	"github.com/justyntemme/scriptfx/pkg/framework/param"
)

// Magic starts every state blob.
const Magic = "SCRIPTFX"

// Version is the current blob format.
const Version uint32 = 1

// maxBody bounds how much a Load will read.
const maxBody = 4 << 20

// ErrFormat reports a blob that is not a session state.
var ErrFormat = errors.New("state: invalid format")

var encMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("state: failed to create CBOR enc mode: %v", err))
	}
	encMode = em
}

// Session is the non-parameter part of the state.
type Session struct {
	Engine  string   `cbor:"1,keyasint,omitempty"`
	Source  string   `cbor:"2,keyasint,omitempty"` // active source
	Presets []string `cbor:"3,keyasint,omitempty"` // preset bank slots
}

type body struct {
	Params  map[string]float64 `cbor:"1,keyasint"`
	Session Session            `cbor:"2,keyasint"`
}

// Manager handles plugin state saving and loading.
type Manager struct {
	version  uint32
	registry *param.Registry
}

// NewManager creates a new state manager.
func NewManager(registry *param.Registry) *Manager {
	return &Manager{
		version:  Version,
		registry: registry,
	}
}

// Save writes the parameter values and the session.
func (m *Manager) Save(w io.Writer, s Session) error {
	data, err := encMode.Marshal(body{Params: m.registry.Values(), Session: s})
	if err != nil {
		return fmt.Errorf("state: encode: %w", err)
	}

	if _, err := io.WriteString(w, Magic); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, m.version); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(len(data))); err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

// Bytes returns the state as a byte slice.
func (m *Manager) Bytes(s Session) ([]byte, error) {
	var buf bytes.Buffer
	if err := m.Save(&buf, s); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Load reads a state blob, restores known parameters into the registry and
// returns the session. Unknown parameters are ignored for forward
// compatibility. The registry is untouched when the blob is invalid.
func (m *Manager) Load(r io.Reader) (Session, error) {
	header := make([]byte, len(Magic))
	if _, err := io.ReadFull(r, header); err != nil {
		return Session{}, fmt.Errorf("%w: %v", ErrFormat, err)
	}
	if string(header) != Magic {
		return Session{}, ErrFormat
	}

	var version, size uint32
	if err := binary.Read(r, binary.LittleEndian, &version); err != nil {
		return Session{}, fmt.Errorf("%w: %v", ErrFormat, err)
	}
	if version > m.version {
		return Session{}, fmt.Errorf("state version %d is newer than supported version %d", version, m.version)
	}
	if err := binary.Read(r, binary.LittleEndian, &size); err != nil {
		return Session{}, fmt.Errorf("%w: %v", ErrFormat, err)
	}
	if size > maxBody {
		return Session{}, fmt.Errorf("%w: body of %d bytes", ErrFormat, size)
	}

	data := make([]byte, size)
	if _, err := io.ReadFull(r, data); err != nil {
		return Session{}, fmt.Errorf("%w: %v", ErrFormat, err)
	}
	var b body
	if err := cbor.Unmarshal(data, &b); err != nil {
		return Session{}, fmt.Errorf("state: decode: %w", err)
	}

	m.registry.Restore(b.Params)
	return b.Session, nil
}
