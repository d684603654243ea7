// Package coordinator sequences user-triggered mutations against the remote
// API and reconciles their outcomes into the collection store.
//
// Every action runs Idle -> Pending -> Committed or Failed. The pending flag
// is claimed before the request leaves and released when the outcome lands,
// so duplicate submissions for the same (entity, action) pair are refused at
// the door. Failures leave the store exactly as it was; there is no partial
// apply and no automatic retry; retrying is the user re-invoking the action.
package coordinator

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/shulesync/shulesync.go/pkg/api"
	"github.com/shulesync/shulesync.go/pkg/entity"
	"github.com/shulesync/shulesync.go/pkg/logger"
	"github.com/shulesync/shulesync.go/pkg/push"
	"github.com/shulesync/shulesync.go/pkg/store"
)

var (
	// ErrActionInFlight means the same (entity, action) pair is already
	// pending, or a pending delete guards the entity.
	ErrActionInFlight = errors.New("action already in flight")

	// ErrSelfTarget refuses destructive admin actions aimed at the admin's
	// own account.
	ErrSelfTarget = errors.New("refusing to target the current user")

	// ErrRolesUnsupported is returned by ChangeRole when the bound remote
	// has no role endpoint.
	ErrRolesUnsupported = errors.New("role changes not supported for this collection")
)

// Remote is the mutation surface of one collection. *api.Collection
// implements it.
type Remote interface {
	Create(ctx context.Context, payload any) (entity.Entity, error)
	Update(ctx context.Context, id string, payload any) (entity.Entity, error)
	Delete(ctx context.Context, id string) error
}

// RoleRemote is the optional role endpoint of user collections.
type RoleRemote interface {
	UpdateRole(ctx context.Context, id, role string) (entity.Entity, error)
}

// Broadcaster echoes committed mutations to co-viewers. *push.Channel
// implements it.
type Broadcaster interface {
	Send(f push.Frame) error
}

// Coordinator drives one store against one remote collection.
type Coordinator struct {
	store  *store.Store
	remote Remote
	roles  RoleRemote
	echo   Broadcaster
	selfID string
	log    logger.Logger
}

type Option func(*Coordinator)

// WithBroadcaster turns on push echo of committed creates and edits.
func WithBroadcaster(b Broadcaster) Option {
	return func(c *Coordinator) { c.echo = b }
}

// WithRoleRemote enables ChangeRole.
func WithRoleRemote(r RoleRemote) Option {
	return func(c *Coordinator) { c.roles = r }
}

// WithSelfID sets the current user's id, used to stamp echo frames and to
// refuse self-targeted deletes and role changes.
func WithSelfID(id string) Option {
	return func(c *Coordinator) { c.selfID = id }
}

func WithLogger(log logger.Logger) Option {
	return func(c *Coordinator) { c.log = log }
}

func New(st *store.Store, remote Remote, opts ...Option) *Coordinator {
	c := &Coordinator{store: st, remote: remote, log: logger.Nop()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Create submits a new entity. The store only learns about it from the
// server's authoritative response; there is no optimistic insert to roll
// back. The empty id keys the pending flag, which also serializes creates.
func (c *Coordinator) Create(ctx context.Context, payload any) (entity.Entity, error) {
	if !c.store.Begin("", store.ActionCreate) {
		return entity.Entity{}, ErrActionInFlight
	}
	defer c.store.End("", store.ActionCreate)

	e, err := c.remote.Create(ctx, payload)
	if err != nil {
		return entity.Entity{}, err
	}
	c.store.Upsert(e)
	c.broadcast(push.ActionAdd, e)
	return e, nil
}

// Edit submits changed fields for an existing entity. A pending delete on
// the same entity refuses the edit. If the server reports the entity gone,
// it is removed locally and the NotFound error is surfaced for a soft report.
func (c *Coordinator) Edit(ctx context.Context, id string, payload any) (entity.Entity, error) {
	if !c.store.Begin(id, store.ActionEdit) {
		return entity.Entity{}, ErrActionInFlight
	}
	defer c.store.End(id, store.ActionEdit)

	e, err := c.remote.Update(ctx, id, payload)
	if err != nil {
		if api.IsNotFound(err) {
			c.store.Remove(id)
		}
		return entity.Entity{}, err
	}
	c.store.Upsert(e)
	c.broadcast(push.ActionEdit, e)
	return e, nil
}

// Delete removes one entity. The local removal happens only after the server
// acknowledged it, except for NotFound, where the entity is gone either way.
func (c *Coordinator) Delete(ctx context.Context, id string) error {
	if id != "" && id == c.selfID {
		return ErrSelfTarget
	}
	if !c.store.Begin(id, store.ActionDelete) {
		return ErrActionInFlight
	}
	defer c.store.End(id, store.ActionDelete)

	if err := c.remote.Delete(ctx, id); err != nil {
		if api.IsNotFound(err) {
			c.store.Remove(id)
		}
		return err
	}
	c.store.Remove(id)
	return nil
}

// BulkFailure names one id a bulk operation could not delete, and why.
type BulkFailure struct {
	ID  string
	Err error
}

// BulkResult is the aggregate outcome of a bulk delete. The operation is
// explicitly non-atomic: succeeded removals stay applied even when others
// fail.
type BulkResult struct {
	Succeeded []string
	Failed    []BulkFailure
}

// Committed reports whether every id was removed.
func (r BulkResult) Committed() bool { return len(r.Failed) == 0 }

// FailedIDs lists the ids that were not removed, in ascending order.
func (r BulkResult) FailedIDs() []string {
	out := make([]string, 0, len(r.Failed))
	for _, f := range r.Failed {
		out = append(out, f.ID)
	}
	return out
}

// BulkDelete issues one independent delete per id, concurrently, and joins
// them into an aggregate report. Completion order between the deletes is
// deliberately irrelevant: each success removes exactly its own id.
func (c *Coordinator) BulkDelete(ctx context.Context, ids []string) BulkResult {
	results := make([]error, len(ids))

	var wg sync.WaitGroup
	for i, id := range ids {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			results[i] = c.Delete(ctx, id)
		}(i, id)
	}
	wg.Wait()

	var r BulkResult
	for i, id := range ids {
		if err := results[i]; err != nil {
			r.Failed = append(r.Failed, BulkFailure{ID: id, Err: err})
			continue
		}
		r.Succeeded = append(r.Succeeded, id)
	}
	sort.Strings(r.Succeeded)
	sort.Slice(r.Failed, func(i, j int) bool { return r.Failed[i].ID < r.Failed[j].ID })

	if !r.Committed() {
		c.log.Warn("bulk delete partially failed",
			"succeeded", len(r.Succeeded), "failed", r.FailedIDs())
	}
	return r
}

// ChangeRole updates a user's role. The role field is patched locally from
// the server's response; role is not an ordering key, so the list keeps its
// order.
func (c *Coordinator) ChangeRole(ctx context.Context, id, role string) error {
	if c.roles == nil {
		return ErrRolesUnsupported
	}
	if id != "" && id == c.selfID {
		return ErrSelfTarget
	}
	if !c.store.Begin(id, store.ActionRoleChange) {
		return ErrActionInFlight
	}
	defer c.store.End(id, store.ActionRoleChange)

	e, err := c.roles.UpdateRole(ctx, id, role)
	if err != nil {
		if api.IsNotFound(err) {
			c.store.Remove(id)
		}
		return err
	}
	if granted := e.String("role"); granted != "" {
		role = granted
	}
	c.store.ApplyRoleChange(id, role)
	return nil
}

// broadcast echoes a committed mutation so co-viewers converge without a
// re-fetch. Best effort only.
func (c *Coordinator) broadcast(action push.Action, e entity.Entity) {
	if c.echo == nil {
		return
	}
	err := c.echo.Send(push.Frame{
		EntityID: e.ID,
		UserID:   c.selfID,
		Action:   action,
		Data:     e.Fields,
	})
	if err != nil {
		c.log.Debug("push echo failed", "id", e.ID, "action", action, "error", err)
	}
}
