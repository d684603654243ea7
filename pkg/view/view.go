// Package view derives the UI-facing slice of a collection: searched,
// type-filtered, sorted, and cut into fixed-size pages.
//
// Project is a pure function of its inputs. The same snapshot and state
// always yield the same page, and nothing here mutates the snapshot.
package view

import (
	"math"
	"sort"
	"strings"

	"github.com/shulesync/shulesync.go/pkg/entity"
)

// AllTypes is the sentinel filter value that disables type filtering.
const AllTypes = "all"

// DefaultPageSize matches the dashboards' fixed page length.
const DefaultPageSize = 5

type Direction string

const (
	Asc  Direction = "asc"
	Desc Direction = "desc"
)

// State is the derived-view configuration. It is never persisted.
type State struct {
	Search        string
	TypeFilter    string
	SortField     string // dotted path; empty keeps the canonical order
	SortDirection Direction
	Page          int
	PageSize      int
}

// NewState returns a State on page 1 with no search, no type filter, and
// ascending sort direction.
func NewState(pageSize int) State {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return State{
		TypeFilter:    AllTypes,
		SortDirection: Asc,
		Page:          1,
		PageSize:      pageSize,
	}
}

// SetSearch changes the search text and resets to the first page.
func (s *State) SetSearch(q string) {
	s.Search = q
	s.Page = 1
}

// SetTypeFilter changes the type filter and resets to the first page.
func (s *State) SetTypeFilter(t string) {
	s.TypeFilter = t
	s.Page = 1
}

// ToggleSort activates field. Toggling the already-active field flips the
// direction; a new field starts ascending.
func (s *State) ToggleSort(field string) {
	if s.SortField == field {
		if s.SortDirection == Asc {
			s.SortDirection = Desc
		} else {
			s.SortDirection = Asc
		}
		return
	}
	s.SortField = field
	s.SortDirection = Asc
}

// SetPage moves to page i; values below 1 clamp to 1. The upper clamp
// against the filtered count happens at projection time.
func (s *State) SetPage(i int) {
	if i < 1 {
		i = 1
	}
	s.Page = i
}

// Page is one projected slice of the collection.
type Page struct {
	Items      []entity.Entity
	Index      int // effective page after clamping
	TotalPages int
	TotalItems int // filtered count, before slicing
}

// Projector projects snapshots. SearchFields are the dotted paths matched by
// the search text; an entity matches if any of them contains the text,
// case-insensitively. TypeField is the path compared against the type filter.
type Projector struct {
	SearchFields []string
	TypeField    string
}

// New builds a Projector over the given search fields with the conventional
// "type" field for filtering.
func New(searchFields ...string) *Projector {
	return &Projector{SearchFields: searchFields, TypeField: "type"}
}

// Project computes the visible page for one snapshot and view state.
func (p *Projector) Project(snapshot []entity.Entity, s State) Page {
	filtered := p.filter(snapshot, s)
	p.sortEntities(filtered, s)

	pageSize := s.PageSize
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}

	total := len(filtered)
	totalPages := int(math.Ceil(float64(total) / float64(pageSize)))

	index := s.Page
	if index < 1 {
		index = 1
	}
	if totalPages > 0 && index > totalPages {
		index = totalPages
	}

	start := (index - 1) * pageSize
	end := start + pageSize
	if start > total {
		start = total
	}
	if end > total {
		end = total
	}

	return Page{
		Items:      filtered[start:end],
		Index:      index,
		TotalPages: totalPages,
		TotalItems: total,
	}
}

func (p *Projector) filter(snapshot []entity.Entity, s State) []entity.Entity {
	out := make([]entity.Entity, 0, len(snapshot))
	q := strings.ToLower(strings.TrimSpace(s.Search))

	for _, e := range snapshot {
		if q != "" && !p.matches(e, q) {
			continue
		}
		if s.TypeFilter != "" && s.TypeFilter != AllTypes && e.String(p.TypeField) != s.TypeFilter {
			continue
		}
		out = append(out, e)
	}
	return out
}

func (p *Projector) matches(e entity.Entity, q string) bool {
	for _, field := range p.SearchFields {
		if strings.Contains(strings.ToLower(e.String(field)), q) {
			return true
		}
	}
	return false
}

// sortEntities orders filtered in place (it is already a private copy).
// Comparison is case-insensitive and lexicographic on the stringified field;
// missing values read as the empty string and collect at the ascending front.
// The stable sort keeps the canonical order among equal keys.
func (p *Projector) sortEntities(filtered []entity.Entity, s State) {
	if s.SortField == "" {
		return
	}
	desc := s.SortDirection == Desc
	sort.SliceStable(filtered, func(i, j int) bool {
		a := strings.ToLower(filtered[i].String(s.SortField))
		b := strings.ToLower(filtered[j].String(s.SortField))
		if desc {
			return a > b
		}
		return a < b
	})
}
