// Package store is the reconciliation engine of a synchronized collection.
//
// One Store owns the canonical in-memory list for one dashboard collection.
// Every mutation re-derives the full canonical order rather than patching the
// list incrementally, so concurrent fetches, user actions and push events can
// land in any order and still converge: Upsert and MergeFields are
// commutative and idempotent, and Remove wins over both.
package store

import (
	"sort"
	"sync"

	"github.com/shulesync/shulesync.go/pkg/entity"
)

// ActionKind names a user-triggered mutation for pending-flag bookkeeping.
type ActionKind string

const (
	ActionCreate     ActionKind = "create"
	ActionEdit       ActionKind = "edit"
	ActionDelete     ActionKind = "delete"
	ActionRoleChange ActionKind = "role"
)

type pendingKey struct {
	id   string
	kind ActionKind
}

// Store holds the canonical entity list plus the selection and pending-action
// bookkeeping that must stay consistent with it. Safe for concurrent use.
type Store struct {
	mu       sync.Mutex
	entities []entity.Entity
	selected map[string]struct{}
	pending  map[pendingKey]struct{}
	detached bool
	onChange func()
}

func New() *Store {
	return &Store{
		selected: make(map[string]struct{}),
		pending:  make(map[pendingKey]struct{}),
	}
}

// OnChange registers fn to run after every mutation that changed the list.
// It is invoked outside the store lock.
func (s *Store) OnChange(fn func()) {
	s.mu.Lock()
	s.onChange = fn
	s.mu.Unlock()
}

// Detach permanently disables the store. Every later mutation is a no-op and
// Begin always refuses; responses that arrive after the owning view is gone
// fall on the floor instead of resurrecting it.
func (s *Store) Detach() {
	s.mu.Lock()
	s.detached = true
	s.mu.Unlock()
}

func (s *Store) Detached() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.detached
}

// ReplaceAll swaps the whole collection, as after a full fetch. Selection and
// pending flags for ids that no longer exist are dropped.
func (s *Store) ReplaceAll(entities []entity.Entity) {
	s.mutate(func() bool {
		// last occurrence wins on duplicate ids in the payload
		byID := make(map[string]int, len(entities))
		deduped := entities[:0:0]
		for _, e := range entities {
			if i, ok := byID[e.ID]; ok {
				deduped[i] = e
				continue
			}
			byID[e.ID] = len(deduped)
			deduped = append(deduped, e)
		}
		s.entities = deduped
		entity.Sort(s.entities)

		for id := range s.selected {
			if _, ok := byID[id]; !ok {
				delete(s.selected, id)
			}
		}
		for key := range s.pending {
			if _, ok := byID[key.id]; !ok && key.id != "" {
				delete(s.pending, key)
			}
		}
		return true
	})
}

// Upsert inserts or wholesale-replaces the entity with the same id, then
// re-sorts.
func (s *Store) Upsert(e entity.Entity) {
	s.mutate(func() bool {
		if i, ok := s.find(e.ID); ok {
			s.entities[i] = e
		} else {
			s.entities = append(s.entities, e)
		}
		entity.Sort(s.entities)
		return true
	})
}

// MergeFields applies a field-level patch, last writer wins. An unknown id is
// an implicit add: push edits can outrun the add they follow.
func (s *Store) MergeFields(id string, fields map[string]any) {
	s.mutate(func() bool {
		if i, ok := s.find(id); ok {
			s.entities[i] = s.entities[i].Merge(fields)
		} else {
			s.entities = append(s.entities, entity.New(id, fields))
		}
		entity.Sort(s.entities)
		return true
	})
}

// Remove drops the given ids, cascading into selection and pending cleanup.
// Unknown ids are ignored. It returns the ids actually removed.
func (s *Store) Remove(ids ...string) []string {
	var removed []string
	s.mutate(func() bool {
		drop := make(map[string]struct{}, len(ids))
		for _, id := range ids {
			drop[id] = struct{}{}
		}
		kept := s.entities[:0]
		for _, e := range s.entities {
			if _, gone := drop[e.ID]; gone {
				removed = append(removed, e.ID)
				continue
			}
			kept = append(kept, e)
		}
		s.entities = kept

		for _, id := range removed {
			delete(s.selected, id)
			for key := range s.pending {
				if key.id == id {
					delete(s.pending, key)
				}
			}
		}
		return len(removed) > 0
	})
	return removed
}

// ApplyRoleChange patches the role field in place. Role is not an ordering
// key, so the list is not re-sorted.
func (s *Store) ApplyRoleChange(id, role string) bool {
	var ok bool
	s.mutate(func() bool {
		var i int
		if i, ok = s.find(id); ok {
			s.entities[i] = s.entities[i].Merge(map[string]any{"role": role})
		}
		return ok
	})
	return ok
}

// Snapshot returns a copy of the canonical list. Callers treat the entities
// as read-only values.
func (s *Store) Snapshot() []entity.Entity {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]entity.Entity, len(s.entities))
	copy(out, s.entities)
	return out
}

func (s *Store) Get(id string) (entity.Entity, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i, ok := s.find(id); ok {
		return s.entities[i], true
	}
	return entity.Entity{}, false
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entities)
}

// find assumes the lock is held.
func (s *Store) find(id string) (int, bool) {
	for i, e := range s.entities {
		if e.ID == id {
			return i, true
		}
	}
	return 0, false
}

// mutate runs fn under the lock unless detached, then fires onChange outside
// the lock if fn reported a change.
func (s *Store) mutate(fn func() bool) {
	s.mu.Lock()
	if s.detached {
		s.mu.Unlock()
		return
	}
	changed := fn()
	notify := s.onChange
	s.mu.Unlock()

	if changed && notify != nil {
		notify()
	}
}

// ---- selection -------------------------------------------------------------

// Select marks an existing entity for bulk action. Unknown ids are refused so
// the selection can never reference a record the list does not hold.
func (s *Store) Select(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.detached {
		return false
	}
	if _, ok := s.find(id); !ok {
		return false
	}
	s.selected[id] = struct{}{}
	return true
}

func (s *Store) Deselect(id string) {
	s.mu.Lock()
	delete(s.selected, id)
	s.mu.Unlock()
}

func (s *Store) IsSelected(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.selected[id]
	return ok
}

func (s *Store) ClearSelection() {
	s.mu.Lock()
	s.selected = make(map[string]struct{})
	s.mu.Unlock()
}

// Selected returns the selected ids in ascending order.
func (s *Store) Selected() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.selected))
	for id := range s.selected {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// ---- pending actions -------------------------------------------------------

// Begin claims the (id, kind) pending flag. It refuses when the same pair is
// already in flight, when a pending delete guards the entity, or when the
// store is detached. A successful Begin must be paired with End.
func (s *Store) Begin(id string, kind ActionKind) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.detached {
		return false
	}
	if _, dup := s.pending[pendingKey{id, kind}]; dup {
		return false
	}
	if kind == ActionEdit || kind == ActionDelete {
		if _, deleting := s.pending[pendingKey{id, ActionDelete}]; deleting {
			return false
		}
	}
	s.pending[pendingKey{id, kind}] = struct{}{}
	return true
}

func (s *Store) End(id string, kind ActionKind) {
	s.mu.Lock()
	delete(s.pending, pendingKey{id, kind})
	s.mu.Unlock()
}

func (s *Store) IsPending(id string, kind ActionKind) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.pending[pendingKey{id, kind}]
	return ok
}
