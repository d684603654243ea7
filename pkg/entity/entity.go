// Package entity defines the generic record managed by a synchronized
// collection: a content item or a user, identified by a stable id, carrying
// free-form semantic fields and optional ordering timestamps.
package entity

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Entity is one record of a collection. ID is immutable for the lifetime of
// the record. Fields holds the raw server representation, including the id
// field itself, so it can be echoed back over the push channel unchanged.
//
// Entities are treated as values: mutations produce a new Entity (see Merge)
// rather than editing Fields in place, so snapshots handed to readers stay
// stable.
type Entity struct {
	ID          string
	Fields      map[string]any
	CreatedAt   time.Time
	LastUpdated time.Time
}

// FromMap builds an Entity from a decoded JSON object. idField names the key
// carrying the identity ("contentId", "userId", ...). Numeric ids are
// stringified. createdAt/lastUpdated are parsed when present; absence is
// fine and only affects ordering (see Compare).
func FromMap(m map[string]any, idField string) Entity {
	e := Entity{Fields: m}
	if v, ok := m[idField]; ok {
		e.ID = stringify(v)
	}
	e.CreatedAt = parseTime(m["createdAt"])
	e.LastUpdated = parseTime(m["lastUpdated"])
	return e
}

// New builds an Entity with an explicit id, for callers that learned the id
// out of band (e.g. from a push frame) rather than from an id field.
func New(id string, fields map[string]any) Entity {
	if fields == nil {
		fields = map[string]any{}
	}
	return Entity{
		ID:          id,
		Fields:      fields,
		CreatedAt:   parseTime(fields["createdAt"]),
		LastUpdated: parseTime(fields["lastUpdated"]),
	}
}

// Merge returns a copy of e with patch applied field by field, last writer
// wins. Ordering timestamps are re-read from the merged fields. The identity
// field in patch, if any, is ignored: ids never change.
func (e Entity) Merge(patch map[string]any) Entity {
	merged := make(map[string]any, len(e.Fields)+len(patch))
	for k, v := range e.Fields {
		merged[k] = v
	}
	for k, v := range patch {
		merged[k] = v
	}
	out := Entity{ID: e.ID, Fields: merged}
	out.CreatedAt = parseTime(merged["createdAt"])
	if out.CreatedAt.IsZero() {
		out.CreatedAt = e.CreatedAt
	}
	out.LastUpdated = parseTime(merged["lastUpdated"])
	if out.LastUpdated.IsZero() {
		out.LastUpdated = e.LastUpdated
	}
	return out
}

// Field resolves a dotted path ("createdBy.name") through nested objects.
func (e Entity) Field(path string) (any, bool) {
	var cur any = map[string]any(e.Fields)
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// String resolves a dotted path and stringifies the value. Missing or nil
// values come back as the empty string, which is also how they sort.
func (e Entity) String(path string) string {
	v, ok := e.Field(path)
	if !ok || v == nil {
		return ""
	}
	return stringify(v)
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	case float64:
		// JSON numbers decode as float64; ids are integral in practice.
		if t == float64(int64(t)) {
			return fmt.Sprintf("%d", int64(t))
		}
		return fmt.Sprintf("%v", t)
	default:
		return fmt.Sprint(v)
	}
}

func parseTime(v any) time.Time {
	switch t := v.(type) {
	case time.Time:
		return t
	case string:
		for _, layout := range []string{time.RFC3339Nano, time.RFC3339} {
			if ts, err := time.Parse(layout, t); err == nil {
				return ts
			}
		}
	}
	return time.Time{}
}
