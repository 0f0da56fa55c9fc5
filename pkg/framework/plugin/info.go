package plugin

import (
	"errors"
	"strings"

	"github.com/google/uuid"
)

// Info contains plugin metadata
type Info struct {
	ID       string // Unique plugin identifier (e.g., "com.example.myplugin")
	Name     string // Display name
	Version  string // Semantic version (e.g., "1.0.0")
	Vendor   string // Company/developer name
	Category string // Plugin category (e.g., "Fx", "Instrument")
}

// ClassID returns the name-based UUID derived from the plugin ID. Plugin
// IDs are reverse-DNS names, so they are hashed in the DNS namespace.
func (i Info) ClassID() uuid.UUID {
	return uuid.NewSHA1(uuid.NameSpaceDNS, []byte(i.ID))
}

// UID returns the 16-byte class ID hosts use to identify the plugin.
func (i Info) UID() [16]byte {
	return [16]byte(i.ClassID())
}

// ValidateUID checks that the ID can produce a stable class ID.
func (i Info) ValidateUID() error {
	if strings.TrimSpace(i.ID) == "" {
		return errors.New("plugin: empty plugin ID")
	}
	if strings.ContainsAny(i.ID, " \t\n") {
		return errors.New("plugin: plugin ID must not contain whitespace")
	}
	return nil
}
