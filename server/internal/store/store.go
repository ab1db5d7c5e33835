package store

import (
	"sync/atomic"
	"time"

	"github.com/bazaarmirror/bazaarmirror/pkg/types"
)

// Store is the current-snapshot holder shared by the refresher and every
// query. The zero value is not usable; call New.
type Store struct {
	current     atomic.Pointer[types.Snapshot]
	publishedAt atomic.Int64     // unix nanos of the last Publish, 0 before the first
	now         func() time.Time // injectable for deterministic tests
}

// New creates a Store holding the empty, never-populated snapshot.
func New() *Store {
	s := &Store{now: time.Now}
	s.current.Store(types.EmptySnapshot())
	return s
}

// Get returns the snapshot that is current at the time of the call.
func (s *Store) Get() *types.Snapshot {
	return s.current.Load()
}

// Publish atomically replaces the current snapshot. A nil snap is ignored.
// Callers must not publish concurrently.
func (s *Store) Publish(snap *types.Snapshot) {
	if snap == nil {
		return
	}
	s.current.Store(snap)
	s.publishedAt.Store(s.now().UnixNano())
}

// PublishedAt returns the wall-clock time of the last Publish, or the zero
// time if nothing has been published since startup.
func (s *Store) PublishedAt() time.Time {
	ns := s.publishedAt.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}
