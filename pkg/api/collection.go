package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/shulesync/shulesync.go/pkg/entity"
)

// Collection binds the generic list/create/update/delete contract to one
// resource path. The dashboards bind:
//
//	client.Collection("/api/content", "contentId", "content")        // educator, student
//	client.Collection("/api/admin/content", "contentId", "content")  // admin
//	client.Collection("/api/admin/users", "userId", "user")          // admin
//
// envelope names the key wrapping single-entity responses; list responses
// are bare JSON arrays.
type Collection struct {
	c        *Client
	path     string
	idField  string
	envelope string
}

func (c *Client) Collection(path, idField, envelope string) *Collection {
	return &Collection{c: c, path: path, idField: idField, envelope: envelope}
}

// IDField reports the identity key this collection's entities carry.
func (col *Collection) IDField() string { return col.idField }

// List fetches the whole collection.
func (col *Collection) List(ctx context.Context) ([]entity.Entity, error) {
	raw, err := col.c.do(ctx, "list", http.MethodGet, col.path, "", nil, true)
	if err != nil {
		return nil, err
	}

	var items []map[string]any
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, &ServerError{Op: "list", Status: http.StatusOK, Message: "expected an array"}
	}
	entities := make([]entity.Entity, 0, len(items))
	for _, m := range items {
		entities = append(entities, entity.FromMap(m, col.idField))
	}
	return entities, nil
}

// ContentPayload is the create/edit form for content items. The file itself
// is uploaded elsewhere; FileURL arrives as an opaque reference.
type ContentPayload struct {
	Title       string `json:"title" validate:"required"`
	Description string `json:"description" validate:"required"`
	Type        string `json:"type" validate:"required,oneof=text image video document"`
	FileURL     string `json:"fileUrl,omitempty"`
}

// Create posts a new entity and returns the server's authoritative record.
// Struct payloads are validated locally first; a local failure never reaches
// the wire.
func (col *Collection) Create(ctx context.Context, payload any) (entity.Entity, error) {
	if err := col.c.validatePayload(payload); err != nil {
		return entity.Entity{}, err
	}
	raw, err := col.c.do(ctx, "create", http.MethodPost, col.path, "", payload, true)
	if err != nil {
		return entity.Entity{}, err
	}
	return decodeEntity(raw, col.envelope, col.idField, "create")
}

// Update replaces the entity's editable fields and returns the authoritative
// record.
func (col *Collection) Update(ctx context.Context, id string, payload any) (entity.Entity, error) {
	if err := col.c.validatePayload(payload); err != nil {
		return entity.Entity{}, err
	}
	raw, err := col.c.do(ctx, "update", http.MethodPut, col.path+"/"+id, id, payload, true)
	if err != nil {
		return entity.Entity{}, err
	}
	return decodeEntity(raw, col.envelope, col.idField, "update")
}

// Delete removes the entity.
func (col *Collection) Delete(ctx context.Context, id string) error {
	_, err := col.c.do(ctx, "delete", http.MethodDelete, col.path+"/"+id, id, nil, true)
	return err
}

// UpdateRole patches the role of a user entity and returns the updated
// record. Only meaningful on user collections.
func (col *Collection) UpdateRole(ctx context.Context, id, role string) (entity.Entity, error) {
	body := map[string]string{"role": role}
	raw, err := col.c.do(ctx, "update role", http.MethodPut, col.path+"/"+id+"/role", id, body, true)
	if err != nil {
		return entity.Entity{}, err
	}
	return decodeEntity(raw, col.envelope, col.idField, "update role")
}
