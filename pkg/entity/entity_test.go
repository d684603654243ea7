package entity_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shulesync/shulesync.go/pkg/entity"
)

func TestFromMap(t *testing.T) {
	e := entity.FromMap(map[string]any{
		"contentId":   float64(42),
		"title":       "Algebra I",
		"createdAt":   "2026-03-01T10:00:00Z",
		"lastUpdated": "2026-03-02T10:00:00Z",
		"createdBy":   map[string]any{"name": "Ms. Achieng"},
	}, "contentId")

	assert.Equal(t, "42", e.ID)
	assert.Equal(t, time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC), e.CreatedAt)
	assert.Equal(t, time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC), e.LastUpdated)
	assert.Equal(t, "Ms. Achieng", e.String("createdBy.name"))
}

func TestFieldMissingPath(t *testing.T) {
	e := entity.FromMap(map[string]any{"contentId": "c1", "title": "X"}, "contentId")

	_, ok := e.Field("createdBy.name")
	assert.False(t, ok)
	assert.Equal(t, "", e.String("createdBy.name"))

	_, ok = e.Field("title.nested")
	assert.False(t, ok)
}

func TestMergeLastWriterWins(t *testing.T) {
	e := entity.FromMap(map[string]any{
		"contentId":   "c2",
		"title":       "Y",
		"description": "old",
		"lastUpdated": "2026-03-01T00:00:00Z",
	}, "contentId")

	merged := e.Merge(map[string]any{"title": "Z"})

	assert.Equal(t, "Z", merged.String("title"))
	assert.Equal(t, "old", merged.String("description"))
	assert.Equal(t, "c2", merged.ID)
	// merge without a new timestamp keeps the ordering key
	assert.Equal(t, e.LastUpdated, merged.LastUpdated)

	// the original is untouched
	assert.Equal(t, "Y", e.String("title"))
}

func TestMergeUpdatesOrderingTimestamp(t *testing.T) {
	e := entity.FromMap(map[string]any{"contentId": "c3", "lastUpdated": "2026-03-01T00:00:00Z"}, "contentId")
	merged := e.Merge(map[string]any{"lastUpdated": "2026-04-01T00:00:00Z"})
	require.Equal(t, time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC), merged.LastUpdated)
}

func TestCanonicalOrder(t *testing.T) {
	t1 := "2026-03-03T00:00:00Z"
	t2 := "2026-03-02T00:00:00Z"

	byLastUpdated := entity.FromMap(map[string]any{"contentId": "1", "lastUpdated": t1}, "contentId")
	byCreatedAt := entity.FromMap(map[string]any{"contentId": "2", "createdAt": t2}, "contentId")
	bare9 := entity.FromMap(map[string]any{"contentId": "9"}, "contentId")
	bare5 := entity.FromMap(map[string]any{"contentId": "5"}, "contentId")

	got := []entity.Entity{bare5, byCreatedAt, bare9, byLastUpdated}
	entity.Sort(got)

	ids := make([]string, 0, len(got))
	for _, e := range got {
		ids = append(ids, e.ID)
	}
	// timestamped first, newest first; untimestamped after, id descending
	assert.Equal(t, []string{"1", "2", "9", "5"}, ids)
}

func TestCompareTieBrokenByIDAscending(t *testing.T) {
	ts := "2026-03-03T00:00:00Z"
	a := entity.FromMap(map[string]any{"contentId": "a", "lastUpdated": ts}, "contentId")
	b := entity.FromMap(map[string]any{"contentId": "b", "lastUpdated": ts}, "contentId")

	assert.Negative(t, entity.Compare(a, b))
	assert.Positive(t, entity.Compare(b, a))
	assert.Zero(t, entity.Compare(a, a))
}
