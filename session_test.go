package shulesync_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	shulesync "github.com/shulesync/shulesync.go"
	"github.com/shulesync/shulesync.go/internal/fakeapi"
	"github.com/shulesync/shulesync.go/pkg/activity"
	"github.com/shulesync/shulesync.go/pkg/api"
	"github.com/shulesync/shulesync.go/pkg/config"
	"github.com/shulesync/shulesync.go/pkg/localstore"
	"github.com/shulesync/shulesync.go/pkg/view"
)

const waitFor = 3 * time.Second

func newServer(t *testing.T) *fakeapi.Server {
	t.Helper()
	srv := fakeapi.New()
	t.Cleanup(srv.Close)
	srv.SeedUser("edu-1", "Ms. Achieng", "edu@school.test", "educator", "pw")
	srv.SeedUser("stu-1", "Brian", "stu@school.test", "student", "pw")
	srv.SeedUser("adm-1", "Root", "adm@school.test", "admin", "pw")
	srv.SeedContent(map[string]any{
		"contentId": "c1", "title": "Fractions", "description": "intro", "type": "text",
		"createdAt": "2026-03-01T00:00:00Z",
		"createdBy": map[string]any{"name": "Ms. Achieng"},
	})
	srv.SeedContent(map[string]any{
		"contentId": "c2", "title": "Cells", "description": "biology", "type": "video",
		"lastUpdated": "2026-03-02T00:00:00Z",
		"createdBy":   map[string]any{"name": "Ms. Achieng"},
	})
	return srv
}

func newSession(t *testing.T, srv *fakeapi.Server, email string) *shulesync.Session {
	t.Helper()
	sess := shulesync.New(&config.Config{
		BaseURL:        srv.URL(),
		PageSize:       5,
		RequestTimeout: 5 * time.Second,
		HistoryLimit:   10,
	}, localstore.NewMemStore())
	t.Cleanup(sess.Close)

	require.NoError(t, sess.Login(context.Background(), email, "pw"))
	require.NoError(t, sess.Start(context.Background()))
	return sess
}

func TestEducatorSessionLifecycle(t *testing.T) {
	srv := newServer(t)
	sess := newSession(t, srv, "edu@school.test")

	assert.Equal(t, shulesync.RoleEducator, sess.Role())
	assert.Equal(t, "edu-1", sess.User().ID)
	require.Equal(t, 2, sess.Content().Len())
	assert.True(t, sess.PushConnected())

	// canonical order: c2 has the newer ordering key
	snapshot := sess.Content().Snapshot()
	assert.Equal(t, "c2", snapshot[0].ID)
	assert.Equal(t, "c1", snapshot[1].ID)

	created, err := sess.CreateContent(context.Background(), api.ContentPayload{
		Title: "Photosynthesis", Description: "how plants eat", Type: "video",
	})
	require.NoError(t, err)
	require.NotEmpty(t, created.ID)
	assert.Equal(t, 3, sess.Content().Len())

	entries := sess.History().Entries()
	require.NotEmpty(t, entries)
	assert.Equal(t, activity.ActionAdded, entries[0].Action)
	assert.Equal(t, created.ID, entries[0].EntityID)
}

func TestPushEventsFoldIntoStore(t *testing.T) {
	srv := newServer(t)
	sess := newSession(t, srv, "stu@school.test")

	srv.Broadcast(map[string]any{
		"contentId": "c2",
		"action":    "edit",
		"data":      map[string]any{"title": "Cells, revised"},
	})

	require.Eventually(t, func() bool {
		e, ok := sess.Content().Get("c2")
		return ok && e.String("title") == "Cells, revised"
	}, waitFor, 10*time.Millisecond)

	// order unchanged: the edit carried no ordering field
	assert.Equal(t, "c2", sess.Content().Snapshot()[0].ID)

	srv.Broadcast(map[string]any{
		"contentId": "c3",
		"action":    "add",
		"data": map[string]any{
			"contentId": "c3", "title": "Maps", "type": "image",
			"lastUpdated": "2026-03-09T00:00:00Z",
		},
	})

	require.Eventually(t, func() bool {
		return sess.Content().Len() == 3
	}, waitFor, 10*time.Millisecond)
	assert.Equal(t, "c3", sess.Content().Snapshot()[0].ID)

	// edits for unknown ids are implicit adds
	srv.Broadcast(map[string]any{
		"contentId": "c9",
		"action":    "edit",
		"data":      map[string]any{"title": "Ahead of its add"},
	})
	require.Eventually(t, func() bool {
		_, ok := sess.Content().Get("c9")
		return ok
	}, waitFor, 10*time.Millisecond)
}

func TestUpdatesSignalCoalesces(t *testing.T) {
	srv := newServer(t)
	sess := newSession(t, srv, "stu@school.test")

	// drain whatever the initial fetch signalled
	select {
	case <-sess.Updates():
	default:
	}

	srv.Broadcast(map[string]any{
		"contentId": "c2", "action": "edit",
		"data": map[string]any{"title": "tick"},
	})

	select {
	case <-sess.Updates():
	case <-time.After(waitFor):
		t.Fatal("no update signal after a push event")
	}
}

func TestTwoSessionsConvergeViaEcho(t *testing.T) {
	srv := newServer(t)
	educator := newSession(t, srv, "edu@school.test")
	student := newSession(t, srv, "stu@school.test")

	created, err := educator.CreateContent(context.Background(), api.ContentPayload{
		Title: "Volcanoes", Description: "geology", Type: "text",
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		e, ok := student.Content().Get(created.ID)
		return ok && e.String("title") == "Volcanoes"
	}, waitFor, 10*time.Millisecond)
}

func TestContentViewProjection(t *testing.T) {
	srv := newServer(t)
	sess := newSession(t, srv, "stu@school.test")

	state := view.NewState(5)
	state.SetSearch("cell")
	page := sess.ContentView(state)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "c2", page.Items[0].ID)

	state = view.NewState(5)
	state.SetTypeFilter("text")
	page = sess.ContentView(state)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "c1", page.Items[0].ID)
}

func TestAdminBulkDeleteIsNonAtomic(t *testing.T) {
	srv := newServer(t)
	srv.SeedContent(map[string]any{"contentId": "c3", "title": "Doomed", "type": "text"})
	srv.FailDelete["c2"] = true

	sess := newSession(t, srv, "adm@school.test")
	require.NotNil(t, sess.Users())

	require.True(t, sess.Content().Select("c1"))
	require.True(t, sess.Content().Select("c2"))
	require.True(t, sess.Content().Select("c3"))

	r := sess.DeleteSelectedContent(context.Background())
	assert.False(t, r.Committed())
	assert.Equal(t, []string{"c1", "c3"}, r.Succeeded)
	assert.Equal(t, []string{"c2"}, r.FailedIDs())

	_, retained := sess.Content().Get("c2")
	assert.True(t, retained)
	assert.Equal(t, []string{"c2"}, sess.Content().Selected(), "succeeded ids leave the selection")
}

func TestAdminRoleChangeAndSelfGuard(t *testing.T) {
	srv := newServer(t)
	sess := newSession(t, srv, "adm@school.test")

	require.NoError(t, sess.ChangeUserRole(context.Background(), "stu-1", "educator"))
	e, ok := sess.Users().Get("stu-1")
	require.True(t, ok)
	assert.Equal(t, "educator", e.String("role"))

	err := sess.ChangeUserRole(context.Background(), "adm-1", "student")
	require.Error(t, err)

	require.True(t, sess.Users().Select("adm-1"))
	r := sess.DeleteSelectedUsers(context.Background())
	assert.False(t, r.Committed())
	_, stillThere := sess.Users().Get("adm-1")
	assert.True(t, stillThere)
}

func TestRefreshResynchronizesAfterGap(t *testing.T) {
	srv := newServer(t)
	sess := newSession(t, srv, "edu@school.test")

	// a mutation the push channel never told us about
	srv.SeedContent(map[string]any{"contentId": "c7", "title": "Missed", "type": "text"})

	require.NoError(t, sess.Refresh(context.Background()))
	_, ok := sess.Content().Get("c7")
	assert.True(t, ok)
}

func TestCloseDetachesState(t *testing.T) {
	srv := newServer(t)
	sess := newSession(t, srv, "edu@school.test")
	before := sess.Content().Len()

	sess.Close()
	sess.Close() // idempotent

	// whatever arrives after teardown must not apply
	sess.Content().Upsert(sess.Content().Snapshot()[0].Merge(map[string]any{"title": "ghost"}))
	assert.Equal(t, before, sess.Content().Len())
	assert.True(t, sess.Content().Detached())
	assert.False(t, sess.PushConnected())
}

func TestResumeAndAuthFailure(t *testing.T) {
	srv := newServer(t)
	ls := localstore.NewMemStore()
	cfg := &config.Config{BaseURL: srv.URL(), PageSize: 5, RequestTimeout: 5 * time.Second, HistoryLimit: 10}

	first := shulesync.New(cfg, ls)
	require.NoError(t, first.Login(context.Background(), "edu@school.test", "pw"))
	first.Close()

	// same local storage, new session: the stored token resumes
	second := shulesync.New(cfg, ls)
	t.Cleanup(second.Close)
	require.NoError(t, second.Resume(context.Background()))
	assert.Equal(t, shulesync.RoleEducator, second.Role())

	// a rejected credential is fatal and clears local state
	require.NoError(t, ls.SetItem("token", "tok-revoked"))
	third := shulesync.New(cfg, ls)
	t.Cleanup(third.Close)
	err := third.Resume(context.Background())
	require.Error(t, err)
	assert.True(t, third.HandleAuthError(err))
	_, ok, _ := ls.GetItem("token")
	assert.False(t, ok, "credential cleared after auth failure")
}
