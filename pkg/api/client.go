// Package api is the thin contract wrapper over the platform's REST API.
//
// It issues single-shot requests and maps every failure into the typed
// taxonomy in errors.go. There is no retry at this layer, and none above it
// either: retrying is always a user decision.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/shulesync/shulesync.go/pkg/entity"
	"github.com/shulesync/shulesync.go/pkg/logger"
)

// DefaultTimeout bounds every remote call. A request that outlives it is
// surfaced as a NetworkError with Timeout set, never left hanging.
const DefaultTimeout = 10 * time.Second

// CredentialSource supplies the current bearer token. Implemented by
// credential.Store; tests use TokenFunc.
type CredentialSource interface {
	Token() (string, error)
}

// TokenFunc adapts a function to a CredentialSource.
type TokenFunc func() (string, error)

func (f TokenFunc) Token() (string, error) { return f() }

// Client talks to one platform API.
type Client struct {
	baseURL  string
	http     *http.Client
	creds    CredentialSource
	validate *validator.Validate
	log      logger.Logger
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.http.Timeout = d }
}

func WithLogger(log logger.Logger) Option {
	return func(c *Client) { c.log = log }
}

// NewClient builds a client for baseURL (no trailing slash needed). creds
// supplies the bearer token attached to every authenticated call.
func NewClient(baseURL string, creds CredentialSource, opts ...Option) *Client {
	c := &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		http:     &http.Client{Timeout: DefaultTimeout},
		creds:    creds,
		validate: validator.New(),
		log:      logger.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Login exchanges credentials for a bearer token and the logged-in user.
func (c *Client) Login(ctx context.Context, email, password string) (string, entity.Entity, error) {
	body := map[string]string{"email": email, "password": password}
	raw, err := c.do(ctx, "login", http.MethodPost, "/api/login", "", body, false)
	if err != nil {
		return "", entity.Entity{}, err
	}

	var resp struct {
		Token string         `json:"token"`
		User  map[string]any `json:"user"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", entity.Entity{}, &ServerError{Op: "login", Status: http.StatusOK, Message: "malformed response"}
	}
	if resp.Token == "" {
		return "", entity.Entity{}, &AuthError{Op: "login", Err: errors.New("no token in response")}
	}
	return resp.Token, entity.FromMap(resp.User, "userId"), nil
}

// RegisterPayload is the sign-up form.
type RegisterPayload struct {
	Name     string `json:"name" validate:"required"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6"`
	Role     string `json:"role" validate:"required,oneof=student educator"`
}

// Register creates an account. The caller logs in afterwards; no token is
// issued here.
func (c *Client) Register(ctx context.Context, p RegisterPayload) error {
	if err := c.validatePayload(p); err != nil {
		return err
	}
	_, err := c.do(ctx, "register", http.MethodPost, "/api/register", "", p, false)
	return err
}

// Me fetches the current user for the held credential.
func (c *Client) Me(ctx context.Context) (entity.Entity, error) {
	raw, err := c.do(ctx, "me", http.MethodGet, "/api/me", "", nil, true)
	if err != nil {
		return entity.Entity{}, err
	}
	return decodeEntity(raw, "user", "userId", "me")
}

func (c *Client) validatePayload(payload any) error {
	if payload == nil {
		return nil
	}
	v := reflect.ValueOf(payload)
	for v.Kind() == reflect.Pointer {
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		// raw maps pass through; only typed payloads carry validate tags
		return nil
	}
	err := c.validate.Struct(payload)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return &ValidationError{Message: err.Error()}
	}
	fields := make([]FieldError, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, FieldError{
			Field: strings.ToLower(fe.Field()),
			Error: fmt.Sprintf("failed on %q", fe.Tag()),
		})
	}
	return &ValidationError{Message: "invalid payload", Fields: fields}
}

// do performs one request and returns the raw 2xx body. id is only used to
// label NotFound errors.
func (c *Client) do(ctx context.Context, op, method, path, id string, payload any, auth bool) ([]byte, error) {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, &ValidationError{Message: fmt.Sprintf("unencodable payload: %v", err)}
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, &NetworkError{Op: op, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if auth {
		token, err := c.creds.Token()
		if err != nil || token == "" {
			if err == nil {
				err = ErrNoToken
			}
			return nil, &AuthError{Op: op, Err: err}
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, transportError(op, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &NetworkError{Op: op, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var errBody struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(raw, &errBody)
		c.log.Debug("request failed", "op", op, "status", resp.StatusCode, "error", errBody.Error)
		return nil, classifyStatus(op, id, resp.StatusCode, errBody.Error)
	}
	return raw, nil
}

func transportError(op string, err error) error {
	var ne net.Error
	timeout := errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout())
	return &NetworkError{Op: op, Timeout: timeout, Err: err}
}

// decodeEntity unwraps a single-entity response body, tolerating both the
// enveloped form {"user": {...}} and a bare object.
func decodeEntity(raw []byte, envelope, idField, op string) (entity.Entity, error) {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return entity.Entity{}, &ServerError{Op: op, Status: http.StatusOK, Message: "malformed response"}
	}
	if envelope != "" {
		if inner, ok := m[envelope].(map[string]any); ok {
			m = inner
		}
	}
	return entity.FromMap(m, idField), nil
}
