// Package configstore holds the most recently fetched configuration
// snapshot behind a single read/write lock, giving evaluators a wait-free-ish
// read path and callers of Set a single well-defined writer section (§4.7).
package configstore

import (
	"sync"
	"time"

	"github.com/alextanhongpin/flagcore/config"
)

// Store holds the current configuration snapshot. The zero value is a valid
// empty store: Get returns nil until the first Set.
type Store struct {
	mu  sync.RWMutex
	cur *config.Snapshot
}

// New returns an empty Store.
func New() *Store {
	return &Store{}
}

// Get returns the current snapshot, or nil if none has been set yet.
// Evaluators treat a nil snapshot as ConfigurationMissing (§4.3).
func (s *Store) Get() *config.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cur
}

// Set installs a new snapshot, replacing whatever was there before. Set is
// safe to call concurrently with itself and with Get; the poller is the
// store's sole writer in normal operation, but Set does not assume that.
func (s *Store) Set(snap *config.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cur = snap
}

// Age reports how long ago the current snapshot was fetched. It returns 0
// if no snapshot has been set.
func (s *Store) Age(now time.Time) time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cur.Age(now)
}
