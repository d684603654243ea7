package view_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shulesync/shulesync.go/pkg/entity"
	"github.com/shulesync/shulesync.go/pkg/view"
)

func item(id, title, typ, creator string) entity.Entity {
	return entity.FromMap(map[string]any{
		"contentId": id,
		"title":     title,
		"type":      typ,
		"createdBy": map[string]any{"name": creator},
	}, "contentId")
}

func titles(p view.Page) []string {
	out := make([]string, 0, len(p.Items))
	for _, e := range p.Items {
		out = append(out, e.String("title"))
	}
	return out
}

func testProjector() *view.Projector {
	return view.New("title", "description", "createdBy.name")
}

func TestSearchIsCaseInsensitiveSubstringOverAnyField(t *testing.T) {
	snapshot := []entity.Entity{
		item("1", "Alpha", "text", "Mr. Otieno"),
		item("2", "Yellow", "text", "Ms. Wanjiru"),
		item("3", "Notes", "text", "Mr. Yusuf"),
	}
	p := testProjector()

	s := view.NewState(10)
	s.SetSearch("y")
	got := p.Project(snapshot, s)

	// "Yellow" by title, "Notes" by creator name
	assert.ElementsMatch(t, []string{"Yellow", "Notes"}, titles(got))

	s.SetSearch("YELLOW")
	assert.Equal(t, []string{"Yellow"}, titles(p.Project(snapshot, s)))
}

func TestTypeFilterWithAllSentinel(t *testing.T) {
	snapshot := []entity.Entity{
		item("1", "A", "video", "x"),
		item("2", "B", "text", "x"),
	}
	p := testProjector()

	s := view.NewState(10)
	assert.Len(t, p.Project(snapshot, s).Items, 2)

	s.SetTypeFilter("video")
	assert.Equal(t, []string{"A"}, titles(p.Project(snapshot, s)))
}

func TestProjectIsPureAndDeterministic(t *testing.T) {
	snapshot := []entity.Entity{
		item("1", "b", "text", "x"),
		item("2", "a", "text", "x"),
		item("3", "c", "text", "x"),
	}
	p := testProjector()
	s := view.NewState(2)
	s.ToggleSort("title")

	first := p.Project(snapshot, s)
	second := p.Project(snapshot, s)
	assert.Equal(t, first, second)

	// the snapshot itself is untouched
	assert.Equal(t, "1", snapshot[0].ID)
}

func TestToggleSortFlipsAndResets(t *testing.T) {
	snapshot := []entity.Entity{
		item("1", "b", "text", "zed"),
		item("2", "a", "text", "ann"),
	}
	p := testProjector()

	s := view.NewState(10)
	s.ToggleSort("title")
	require.Equal(t, view.Asc, s.SortDirection)
	assert.Equal(t, []string{"a", "b"}, titles(p.Project(snapshot, s)))

	s.ToggleSort("title")
	require.Equal(t, view.Desc, s.SortDirection)
	assert.Equal(t, []string{"b", "a"}, titles(p.Project(snapshot, s)))

	// a new field resets to ascending
	s.ToggleSort("createdBy.name")
	require.Equal(t, view.Asc, s.SortDirection)
	assert.Equal(t, []string{"a", "b"}, titles(p.Project(snapshot, s)))
}

func TestMissingSortValuesReadAsEmpty(t *testing.T) {
	withCreator := item("1", "A", "text", "ann")
	noCreator := entity.FromMap(map[string]any{"contentId": "2", "title": "B", "type": "text"}, "contentId")
	p := testProjector()

	s := view.NewState(10)
	s.ToggleSort("createdBy.name")
	got := p.Project([]entity.Entity{withCreator, noCreator}, s)
	assert.Equal(t, []string{"B", "A"}, titles(got))
}

func TestPagination(t *testing.T) {
	snapshot := make([]entity.Entity, 0, 7)
	for i := 1; i <= 7; i++ {
		snapshot = append(snapshot, item(fmt.Sprintf("%d", i), fmt.Sprintf("t%d", i), "text", "x"))
	}
	p := testProjector()

	s := view.NewState(3)
	got := p.Project(snapshot, s)
	assert.Equal(t, 3, len(got.Items))
	assert.Equal(t, 1, got.Index)
	assert.Equal(t, 3, got.TotalPages)
	assert.Equal(t, 7, got.TotalItems)

	s.SetPage(3)
	got = p.Project(snapshot, s)
	assert.Equal(t, 1, len(got.Items))

	// out-of-range pages clamp
	s.SetPage(99)
	assert.Equal(t, 3, p.Project(snapshot, s).Index)
	s.SetPage(-1)
	assert.Equal(t, 1, p.Project(snapshot, s).Index)
}

func TestSearchChangeResetsPageAndBoundsVisibleCount(t *testing.T) {
	snapshot := make([]entity.Entity, 0, 12)
	for i := 1; i <= 12; i++ {
		snapshot = append(snapshot, item(fmt.Sprintf("%d", i), fmt.Sprintf("lesson %d", i), "text", "x"))
	}
	p := testProjector()

	s := view.NewState(5)
	s.SetPage(3)
	require.Equal(t, 3, p.Project(snapshot, s).Index)

	s.SetSearch("lesson")
	got := p.Project(snapshot, s)
	assert.Equal(t, 1, s.Page)
	assert.Equal(t, 1, got.Index)
	assert.LessOrEqual(t, len(got.Items), 5)
}

func TestEmptyFilteredSetYieldsEmptyFirstPage(t *testing.T) {
	p := testProjector()
	s := view.NewState(5)
	s.SetSearch("no such thing")

	got := p.Project([]entity.Entity{item("1", "A", "text", "x")}, s)
	assert.Empty(t, got.Items)
	assert.Equal(t, 1, got.Index)
	assert.Equal(t, 0, got.TotalPages)
	assert.Equal(t, 0, got.TotalItems)
}
