package shulesync

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/shulesync/shulesync.go/pkg/activity"
	"github.com/shulesync/shulesync.go/pkg/api"
	"github.com/shulesync/shulesync.go/pkg/config"
	"github.com/shulesync/shulesync.go/pkg/coordinator"
	"github.com/shulesync/shulesync.go/pkg/credential"
	"github.com/shulesync/shulesync.go/pkg/entity"
	"github.com/shulesync/shulesync.go/pkg/localstore"
	"github.com/shulesync/shulesync.go/pkg/logger"
	"github.com/shulesync/shulesync.go/pkg/push"
	"github.com/shulesync/shulesync.go/pkg/store"
	"github.com/shulesync/shulesync.go/pkg/view"
)

// Role gates which collections a session operates on.
type Role string

const (
	RoleStudent  Role = "student"
	RoleEducator Role = "educator"
	RoleAdmin    Role = "admin"
)

// ErrNotStarted is returned by operations that need Start to have run.
var ErrNotStarted = errors.New("session not started")

// Session is one dashboard session: one user, one role, one push channel,
// and the collection state those feed.
type Session struct {
	id    string
	cfg   config.Config
	ls    localstore.Store
	creds *credential.Store
	cl    *api.Client
	log   logger.Logger

	role Role
	user entity.Entity

	content      *store.Store
	users        *store.Store
	contentCoord *coordinator.Coordinator
	usersCoord   *coordinator.Coordinator

	contentProj *view.Projector
	usersProj   *view.Projector

	history *activity.Log
	channel *push.Channel

	updates   chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

type Option func(*Session)

func WithLogger(log logger.Logger) Option {
	return func(s *Session) { s.log = log }
}

// New builds a session. ls backs the durable slice of state (credential,
// activity history); use localstore.NewFileStore to survive restarts.
func New(cfg *config.Config, ls localstore.Store, opts ...Option) *Session {
	s := &Session{
		id:    uuid.NewString(),
		cfg:   *cfg,
		ls:    ls,
		creds: credential.NewStore(ls),
		log:   logger.Nop(),

		contentProj: view.New("title", "description", "createdBy.name"),
		usersProj:   view.New("name", "email"),
		updates:     make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.cl = api.NewClient(cfg.BaseURL, s.creds,
		api.WithTimeout(cfg.RequestTimeout), api.WithLogger(s.log))
	return s
}

// ID is the session's unique identifier, used in logs.
func (s *Session) ID() string { return s.id }

// Role reports the authenticated role; empty before Login or Resume.
func (s *Session) Role() Role { return s.role }

// User is the authenticated user record.
func (s *Session) User() entity.Entity { return s.user }

// Client exposes the underlying API client, e.g. for Register.
func (s *Session) Client() *api.Client { return s.cl }

// Login authenticates, stores the bearer token, and pins the session role
// from the server's user record.
func (s *Session) Login(ctx context.Context, email, password string) error {
	token, user, err := s.cl.Login(ctx, email, password)
	if err != nil {
		return err
	}
	if err := s.creds.SetToken(token); err != nil {
		return err
	}
	s.user = user
	s.role = Role(user.String("role"))
	s.log.Info("logged in", "session", s.id, "user", user.ID, "role", s.role)
	return nil
}

// Resume picks up a previously stored credential without a fresh login. An
// AuthError means the token is gone or stale; HandleAuthError deals with it.
func (s *Session) Resume(ctx context.Context) error {
	if s.creds.Expired() {
		_ = s.creds.Clear()
		return &api.AuthError{Op: "resume", Err: credential.ErrNoToken}
	}
	user, err := s.cl.Me(ctx)
	if err != nil {
		return err
	}
	s.user = user
	s.role = Role(user.String("role"))
	return nil
}

// HandleAuthError clears the credential when err is fatal to the session and
// reports whether the caller should redirect to login.
func (s *Session) HandleAuthError(err error) bool {
	if !api.IsAuth(err) {
		return false
	}
	_ = s.creds.Clear()
	s.log.Warn("credential rejected, session over", "session", s.id)
	return true
}

// Logout drops the stored credential.
func (s *Session) Logout() error { return s.creds.Clear() }

// Start performs the initial parallel fetch for the session's role, opens
// the push channel, and begins folding push events into the content store.
// A push dial failure is non-fatal: the session runs on fetched state alone.
func (s *Session) Start(ctx context.Context) error {
	if s.role == "" {
		return fmt.Errorf("start: role unknown, call Login or Resume first")
	}

	history, err := activity.NewLog(s.ls, string(s.role), s.cfg.HistoryLimit)
	if err != nil {
		return err
	}
	s.history = history

	contentPath := "/api/content"
	if s.role == RoleAdmin {
		contentPath = "/api/admin/content"
	}
	contentCol := s.cl.Collection(contentPath, "contentId", "content")

	s.content = store.New()
	s.content.OnChange(s.signal)

	if s.role == RoleAdmin {
		s.users = store.New()
		s.users.OnChange(s.signal)
	}

	if err := s.fetchAll(ctx, contentCol); err != nil {
		return err
	}

	channel, err := push.Dial(ctx, s.cfg.PushURL(), push.WithLogger(s.log))
	if err != nil {
		s.log.Warn("push channel unavailable, continuing without live updates",
			"session", s.id, "error", err)
	} else {
		s.channel = channel
		s.wg.Add(1)
		go s.pump()
	}

	coordOpts := []coordinator.Option{
		coordinator.WithSelfID(s.user.ID),
		coordinator.WithLogger(s.log),
	}
	if s.channel != nil {
		coordOpts = append(coordOpts, coordinator.WithBroadcaster(s.channel))
	}
	s.contentCoord = coordinator.New(s.content, contentCol, coordOpts...)

	if s.role == RoleAdmin {
		usersCol := s.cl.Collection("/api/admin/users", "userId", "user")
		s.usersCoord = coordinator.New(s.users, usersCol,
			coordinator.WithRoleRemote(usersCol),
			coordinator.WithSelfID(s.user.ID),
			coordinator.WithLogger(s.log))
	}

	s.log.Info("session started", "session", s.id, "role", s.role,
		"content", s.content.Len())
	return nil
}

// fetchAll runs the role's initial fetches in parallel and joins them.
// Completion order is irrelevant: each result replaces its own store.
func (s *Session) fetchAll(ctx context.Context, contentCol *api.Collection) error {
	errs := make(chan error, 2)
	fetches := 1

	go func() {
		entities, err := contentCol.List(ctx)
		if err == nil {
			s.content.ReplaceAll(entities)
		}
		errs <- err
	}()

	if s.role == RoleAdmin {
		fetches++
		go func() {
			entities, err := s.cl.Collection("/api/admin/users", "userId", "user").List(ctx)
			if err == nil {
				s.users.ReplaceAll(entities)
			}
			errs <- err
		}()
	}

	var firstErr error
	for i := 0; i < fetches; i++ {
		if err := <-errs; err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Refresh re-fetches the session's collections. The push channel does not
// replay missed events, so this is how a caller resynchronizes after a
// detected gap.
func (s *Session) Refresh(ctx context.Context) error {
	if s.content == nil {
		return ErrNotStarted
	}
	contentPath := "/api/content"
	if s.role == RoleAdmin {
		contentPath = "/api/admin/content"
	}
	return s.fetchAll(ctx, s.cl.Collection(contentPath, "contentId", "content"))
}

// pump folds push frames into the content store until the channel ends.
// Each frame maps to exactly one store operation.
func (s *Session) pump() {
	defer s.wg.Done()
	for f := range s.channel.Frames() {
		applyFrame(s.content, f)
	}
	if err := s.channel.Err(); err != nil && !errors.Is(err, push.ErrClosed) {
		// non-fatal: the session keeps serving the last known state;
		// callers may Refresh and redial through a new session
		s.log.Warn("push channel lost", "session", s.id, "error", err)
	}
}

// applyFrame translates one push frame into one store operation: add is an
// idempotent upsert, edit a field merge (implicit add for unknown ids).
func applyFrame(st *store.Store, f push.Frame) {
	switch f.Action {
	case push.ActionAdd:
		e := entity.FromMap(f.Data, "contentId")
		if e.ID == "" {
			e = entity.New(f.EntityID, f.Data)
		}
		st.Upsert(e)
	case push.ActionEdit:
		st.MergeFields(f.EntityID, f.Data)
	}
}

// signal coalesces change notifications into the updates channel.
func (s *Session) signal() {
	select {
	case s.updates <- struct{}{}:
	default:
	}
}

// Updates signals after any collection change, however it arrived. The UI
// re-projects its views on each tick; signals are coalesced, never queued.
func (s *Session) Updates() <-chan struct{} { return s.updates }

// Content is the canonical content store.
func (s *Session) Content() *store.Store { return s.content }

// Users is the canonical user store; nil outside admin sessions.
func (s *Session) Users() *store.Store { return s.users }

// History is the session's recent-activity log.
func (s *Session) History() *activity.Log { return s.history }

// PushConnected reports whether the live channel is still up.
func (s *Session) PushConnected() bool {
	return s.channel != nil && s.channel.Err() == nil
}

// ContentView projects the content collection for the given view state.
func (s *Session) ContentView(state view.State) view.Page {
	if s.content == nil {
		return view.Page{Index: 1}
	}
	return s.contentProj.Project(s.content.Snapshot(), state)
}

// UsersView projects the user collection for the given view state.
func (s *Session) UsersView(state view.State) view.Page {
	if s.users == nil {
		return view.Page{Index: 1}
	}
	return s.usersProj.Project(s.users.Snapshot(), state)
}

// RecordView notes that the user opened an entity, for the recent-activity
// sidebar.
func (s *Session) RecordView(e entity.Entity) {
	if s.history == nil {
		return
	}
	if _, err := s.history.Record(e.ID, e.String("title"), e.String("type"), activity.ActionViewed); err != nil {
		s.log.Warn("failed to record view", "session", s.id, "error", err)
	}
}

// CreateContent submits a new content item and records it in the history.
func (s *Session) CreateContent(ctx context.Context, p api.ContentPayload) (entity.Entity, error) {
	if s.contentCoord == nil {
		return entity.Entity{}, ErrNotStarted
	}
	e, err := s.contentCoord.Create(ctx, p)
	if err != nil {
		return entity.Entity{}, err
	}
	s.record(e, activity.ActionAdded)
	return e, nil
}

// EditContent submits changed fields for a content item.
func (s *Session) EditContent(ctx context.Context, id string, p api.ContentPayload) (entity.Entity, error) {
	if s.contentCoord == nil {
		return entity.Entity{}, ErrNotStarted
	}
	e, err := s.contentCoord.Edit(ctx, id, p)
	if err != nil {
		return entity.Entity{}, err
	}
	s.record(e, activity.ActionEdited)
	return e, nil
}

// DeleteContent removes one content item.
func (s *Session) DeleteContent(ctx context.Context, id string) error {
	if s.contentCoord == nil {
		return ErrNotStarted
	}
	before, _ := s.content.Get(id)
	if err := s.contentCoord.Delete(ctx, id); err != nil {
		return err
	}
	s.record(before, activity.ActionDeleted)
	return nil
}

// DeleteSelectedContent bulk-deletes the checked content items and clears
// the selection of whatever was removed (the store cascades that).
func (s *Session) DeleteSelectedContent(ctx context.Context) coordinator.BulkResult {
	if s.contentCoord == nil {
		return coordinator.BulkResult{}
	}
	return s.contentCoord.BulkDelete(ctx, s.content.Selected())
}

// DeleteSelectedUsers bulk-deletes the checked users. Admin only.
func (s *Session) DeleteSelectedUsers(ctx context.Context) coordinator.BulkResult {
	if s.usersCoord == nil {
		return coordinator.BulkResult{}
	}
	return s.usersCoord.BulkDelete(ctx, s.users.Selected())
}

// ChangeUserRole updates another user's role. Admin only.
func (s *Session) ChangeUserRole(ctx context.Context, id, role string) error {
	if s.usersCoord == nil {
		return ErrNotStarted
	}
	return s.usersCoord.ChangeRole(ctx, id, role)
}

func (s *Session) record(e entity.Entity, action string) {
	if s.history == nil || e.ID == "" {
		return
	}
	if _, err := s.history.Record(e.ID, e.String("title"), e.String("type"), action); err != nil {
		s.log.Warn("failed to record activity", "session", s.id, "error", err)
	}
}

// Close tears the session down: the push channel is closed and both stores
// detach, so responses still in flight no-op instead of mutating a view
// that no longer exists. Idempotent.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		if s.channel != nil {
			_ = s.channel.Close()
		}
		if s.content != nil {
			s.content.Detach()
		}
		if s.users != nil {
			s.users.Detach()
		}
		s.wg.Wait()
		s.log.Info("session closed", "session", s.id)
	})
}
