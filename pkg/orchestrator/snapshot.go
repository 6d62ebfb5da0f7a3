package orchestrator

import (
	"sync"
	"time"

	"github.com/openclaw/launcher/pkg/types"
)

// reconcilerState is the in-memory status snapshot and restart counters,
// shared by request handlers and the reconciler. The single mutex is held
// only for map operations; no runtime call happens under it.
type reconcilerState struct {
	mu        sync.Mutex
	snapshots map[string]types.StatusSnapshot
	restarts  map[string]uint64

	startOnce sync.Mutex
	started   bool
}

func (s *reconcilerState) init() {
	s.snapshots = make(map[string]types.StatusSnapshot)
	s.restarts = make(map[string]uint64)
}

// seed marks a freshly created instance as starting with zero telemetry.
// The next reconciler pass overwrites it with an observed status.
func (s *reconcilerState) seed(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots[id] = types.StatusSnapshot{
		Status:  types.StatusStarting,
		Updated: time.Now(),
	}
}

// invalidate removes the snapshot entry so stale telemetry is not served
// after a lifecycle action. The restart counter is untouched.
func (s *reconcilerState) invalidate(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.snapshots, id)
}

// drop forgets an instance entirely: snapshot and restart counter.
func (s *reconcilerState) drop(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.snapshots, id)
	delete(s.restarts, id)
}

// get returns the snapshot for id, if one exists.
func (s *reconcilerState) get(id string) (types.StatusSnapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.snapshots[id]
	return snap, ok
}

// set writes a snapshot observed by the reconciler.
func (s *reconcilerState) set(id string, snap types.StatusSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots[id] = snap
}

// retain drops snapshot entries whose id is not in keep, maintaining the
// invariant that the snapshot key set is a subset of the store's.
func (s *reconcilerState) retain(keep map[string]struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id := range s.snapshots {
		if _, ok := keep[id]; !ok {
			delete(s.snapshots, id)
		}
	}
}

// bumpRestarts increments the restart counter for id and returns the new
// value.
func (s *reconcilerState) bumpRestarts(id string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.restarts[id]++
	return s.restarts[id]
}

// restartCount returns the restart counter for id (zero if never bumped).
func (s *reconcilerState) restartCount(id string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.restarts[id]
}

// Snapshot returns the current snapshot for an instance, if present.
func (o *Orchestrator) Snapshot(id string) (types.StatusSnapshot, bool) {
	return o.state.get(id)
}

// Restarts returns the in-memory restart counter for an instance.
func (o *Orchestrator) Restarts(id string) uint64 {
	return o.state.restartCount(id)
}
