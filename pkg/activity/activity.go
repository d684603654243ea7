// Package activity keeps the per-role recent-activity history: the last few
// entities a user viewed, added, edited or deleted, persisted across
// sessions in local storage.
package activity

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/shulesync/shulesync.go/pkg/localstore"
)

// DefaultLimit caps the history length; the oldest entries fall off first.
const DefaultLimit = 10

// Actions recorded in the history.
const (
	ActionViewed  = "viewed"
	ActionAdded   = "added"
	ActionEdited  = "edited"
	ActionDeleted = "deleted"
)

// Entry is one remembered interaction.
type Entry struct {
	ID        string    `json:"id"`
	EntityID  string    `json:"entityId"`
	Title     string    `json:"title"`
	Type      string    `json:"type"`
	Action    string    `json:"action"`
	Timestamp time.Time `json:"timestamp"`
}

// Log is a bounded, newest-first activity history backed by a localstore
// key. Each role has its own key, so an educator's history never bleeds into
// the student view on a shared machine.
type Log struct {
	mu      sync.Mutex
	store   localstore.Store
	key     string
	limit   int
	entries []Entry
	entropy *rand.Rand
}

// StorageKey returns the localstore key used for a role's history. The
// student key predates the role split, hence the odd name.
func StorageKey(role string) string {
	switch role {
	case "student":
		return "contentHistory"
	case "educator":
		return "educatorHistory"
	default:
		return role + "History"
	}
}

// NewLog loads the history for role from store. Corrupt stored state is
// discarded rather than fatal: the history is a convenience, not a record.
func NewLog(store localstore.Store, role string, limit int) (*Log, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	l := &Log{
		store: store,
		key:   StorageKey(role),
		limit: limit,
		//nolint:gosec // entry ids only need uniqueness, not unpredictability
		entropy: rand.New(rand.NewSource(time.Now().UnixNano())),
	}

	raw, ok, err := store.GetItem(l.key)
	if err != nil {
		return nil, fmt.Errorf("load activity history: %w", err)
	}
	if ok {
		if err := json.Unmarshal([]byte(raw), &l.entries); err != nil {
			l.entries = nil
		}
		if len(l.entries) > limit {
			l.entries = l.entries[:limit]
		}
	}
	return l, nil
}

// Record prepends an interaction, dropping any previous entry for the same
// (entity, action) pair so a re-view moves to the top instead of repeating.
func (l *Log) Record(entityID, title, typ, action string) (Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now().UTC()
	e := Entry{
		ID:        ulid.MustNew(ulid.Timestamp(now), l.entropy).String(),
		EntityID:  entityID,
		Title:     title,
		Type:      typ,
		Action:    action,
		Timestamp: now,
	}

	kept := make([]Entry, 0, len(l.entries)+1)
	kept = append(kept, e)
	for _, old := range l.entries {
		if old.EntityID == entityID && old.Action == action {
			continue
		}
		kept = append(kept, old)
	}
	if len(kept) > l.limit {
		kept = kept[:l.limit]
	}
	l.entries = kept

	return e, l.flush()
}

// Entries returns the history, newest first.
func (l *Log) Entries() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Clear wipes the history.
func (l *Log) Clear() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = nil
	return l.store.RemoveItem(l.key)
}

// flush assumes the lock is held.
func (l *Log) flush() error {
	raw, err := json.Marshal(l.entries)
	if err != nil {
		return err
	}
	return l.store.SetItem(l.key, string(raw))
}
