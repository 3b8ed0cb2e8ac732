// Package snapshot persists bolt state keyed by (ProcessorId, Clock). The
// store is append-only: a save never overwrites an older cut, and a crashed
// bolt restarts from the latest complete entry.
package snapshot

import (
	"errors"
	"fmt"

	"github.com/tarungka/monsoon/internal/models"
)

var (
	// ErrStoreNotOpen is returned when a store is used after Close.
	ErrStoreNotOpen = errors.New("snapshot store not open")

	// ErrNoSnapshot is returned when a processor has no saved snapshot.
	ErrNoSnapshot = errors.New("no snapshot for processor")

	// ErrUnknownBackend is returned by the factory for an unknown backend
	// name.
	ErrUnknownBackend = errors.New("unknown snapshot backend")
)

// Store is the capability bolts persist through.
type Store interface {
	// Save durably writes state under (id, clock) and moves the
	// processor's latest pointer to clock.
	Save(id models.ProcessorId, clock models.Clock, state []byte) error

	// Load reads the state saved under (id, clock).
	Load(id models.ProcessorId, clock models.Clock) ([]byte, error)

	// Latest returns the most recently saved (clock, state) for id, or
	// ErrNoSnapshot.
	Latest(id models.ProcessorId) (models.Clock, []byte, error)

	Close() error
}

// Config selects and locates a backend.
type Config struct {
	// Backend is one of: badgerdb, boltdb.
	Backend string
	// Dir is the backend's on-disk location.
	Dir string
}

// New opens a snapshot store for the configured backend.
func New(c *Config) (Store, error) {
	switch c.Backend {
	case "badgerdb", "":
		return openBadger(c.Dir)
	case "boltdb":
		return openBolt(c.Dir)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, c.Backend)
	}
}

func snapKey(id models.ProcessorId, clock models.Clock) []byte {
	return []byte("snap/" + id.String() + "/" + clock.Canonical())
}

func latestKey(id models.ProcessorId) []byte {
	return []byte("latest/" + id.String())
}
