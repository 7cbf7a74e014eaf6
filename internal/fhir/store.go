package fhir

import (
	"sync"
	"sync/atomic"
	"time"
)

// slot holds the current envelope for one (type,id) behind an atomic
// pointer so readers never block on the map-level lock once the slot
// exists; only creating a brand new slot needs the map mutex.
type slot struct {
	env atomic.Pointer[ResourceEnvelope]
}

// Store is the concurrent, in-memory, versioned resource store. It owns the
// authoritative set of resources and their version history; all reads and
// writes in the REST Engine and Transaction Manager go through it.
type Store struct {
	mu      sync.RWMutex
	slots   map[string]*slot
	version uint64 // atomic counter, fetch-added for every mutation

	history *HistoryLog
}

// NewStore constructs an empty store.
func NewStore() *Store {
	return &Store{
		slots:   make(map[string]*slot),
		history: NewHistoryLog(),
	}
}

func (s *Store) nextVersion() uint64 {
	return atomic.AddUint64(&s.version, 1)
}

func (s *Store) getSlot(key string, create bool) *slot {
	s.mu.RLock()
	sl, ok := s.slots[key]
	s.mu.RUnlock()
	if ok || !create {
		return sl
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if sl, ok = s.slots[key]; ok {
		return sl
	}
	sl = &slot{}
	s.slots[key] = sl
	return sl
}

// Get returns the current envelope for (type,id). ok is false if the key was
// never created. If the resource has been soft-deleted, Get still returns
// the envelope (Deleted=true); callers distinguish "never existed" from
// "deleted" via the Deleted flag.
func (s *Store) Get(resourceType, id string) (env *ResourceEnvelope, ok bool) {
	sl := s.getSlot(StorageKey(resourceType, id), false)
	if sl == nil {
		return nil, false
	}
	e := sl.env.Load()
	if e == nil {
		return nil, false
	}
	return e, true
}

// Exists reports whether (type,id) is present and not soft-deleted.
func (s *Store) Exists(resourceType, id string) bool {
	env, ok := s.Get(resourceType, id)
	return ok && !env.Deleted
}

// Insert creates a brand new (type,id) slot, or revives one that was
// soft-deleted: a deleted slot starts a fresh lineage under the same id,
// recorded as a new Create history entry rather than an Update. Returns
// ErrResourceConflict only if the slot already holds a live envelope.
func (s *Store) Insert(env *ResourceEnvelope) error {
	key := StorageKey(env.ResourceType, env.ID)
	sl := s.getSlot(key, true)
	if cur := sl.env.Load(); cur != nil && !cur.Deleted {
		return ErrResourceConflict
	}
	env.VersionID = s.nextVersion()
	env.LastUpdated = time.Now().UTC()
	stored := env.Clone()
	sl.env.Store(stored)
	s.history.Append(&HistoryEntry{
		ResourceType: env.ResourceType,
		ResourceID:   env.ID,
		VersionID:    stored.VersionID,
		Method:       HistoryCreate,
		Snapshot:     stored.Clone(),
		Timestamp:    stored.LastUpdated,
	})
	return nil
}

// Update replaces the envelope for an existing (type,id), returning the
// prior envelope. Returns ErrResourceNotFound if the slot was never created.
func (s *Store) Update(resourceType, id string, env *ResourceEnvelope) (prior *ResourceEnvelope, err error) {
	key := StorageKey(resourceType, id)
	sl := s.getSlot(key, false)
	if sl == nil {
		return nil, ErrResourceNotFound
	}
	prior = sl.env.Load()
	if prior == nil {
		return nil, ErrResourceNotFound
	}
	env.ResourceType = resourceType
	env.ID = id
	env.VersionID = s.nextVersion()
	env.LastUpdated = time.Now().UTC()
	env.Deleted = false
	stored := env.Clone()
	sl.env.Store(stored)
	s.history.Append(&HistoryEntry{
		ResourceType: resourceType,
		ResourceID:   id,
		VersionID:    stored.VersionID,
		Method:       HistoryUpdate,
		Snapshot:     stored.Clone(),
		Timestamp:    stored.LastUpdated,
	})
	return prior.Clone(), nil
}

// Delete soft-deletes (type,id), returning the pre-delete envelope. If the
// key was never created, Delete returns nil and records no history, so
// deletion remains idempotent without ever exposing ErrResourceNotFound.
func (s *Store) Delete(resourceType, id string) (prior *ResourceEnvelope) {
	key := StorageKey(resourceType, id)
	sl := s.getSlot(key, true)
	current := sl.env.Load()
	now := time.Now().UTC()
	if current == nil {
		// Idempotent delete of an id that never existed: record nothing in
		// history (there is no lineage yet) and leave the slot empty so a
		// later create still goes through Insert's fresh-id path.
		return nil
	}
	prior = current.Clone()
	next := current.Clone()
	next.Deleted = true
	next.VersionID = s.nextVersion()
	next.LastUpdated = now
	sl.env.Store(next)
	s.history.Append(&HistoryEntry{
		ResourceType: resourceType,
		ResourceID:   id,
		VersionID:    next.VersionID,
		Method:       HistoryDelete,
		Snapshot:     next.Clone(),
		Timestamp:    now,
	})
	return prior
}

// ForceInsert unconditionally sets the slot's contents, used only by
// transaction rollback to restore a pre-image (including reviving a
// soft-deleted slot) without going through Insert's conflict check.
func (s *Store) ForceInsert(env *ResourceEnvelope) {
	key := StorageKey(env.ResourceType, env.ID)
	sl := s.getSlot(key, true)
	sl.env.Store(env.Clone())
}

// ForceDelete hard-removes a slot entirely. Used only by transaction
// rollback of a Create (the spec's "rollback = hard-delete the created key").
func (s *Store) ForceDelete(resourceType, id string) {
	key := StorageKey(resourceType, id)
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.slots, key)
}

// Count returns the number of live (non-deleted) resources across all types.
func (s *Store) Count() int {
	return s.CountByType("")
}

// CountByType returns the number of live resources of the given type, or
// across all types if resourceType is empty.
func (s *Store) CountByType(resourceType string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for key, sl := range s.slots {
		env := sl.env.Load()
		if env == nil || env.Deleted {
			continue
		}
		if resourceType != "" && env.ResourceType != resourceType {
			continue
		}
		_ = key
		n++
	}
	return n
}

// History returns the history log backing this store.
func (s *Store) History() *HistoryLog {
	return s.history
}

// allByType returns clones of every live-or-deleted envelope of a type,
// used by the Search Evaluator as its scan set.
func (s *Store) allByType(resourceType string) []*ResourceEnvelope {
	s.mu.RLock()
	slots := make([]*slot, 0, len(s.slots))
	for _, sl := range s.slots {
		slots = append(slots, sl)
	}
	s.mu.RUnlock()

	out := make([]*ResourceEnvelope, 0, len(slots))
	for _, sl := range slots {
		env := sl.env.Load()
		if env == nil || env.ResourceType != resourceType {
			continue
		}
		out = append(out, env)
	}
	return out
}
