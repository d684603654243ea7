// Package push maintains the duplex WebSocket channel delivering out-of-band
// add/edit events for entities mutated by other clients.
//
// The channel carries no replay: events missed while disconnected are gone,
// and the owner resynchronizes with a full re-fetch. Reconnection is likewise
// the owner's job; a dropped channel is reported, not repaired.
package push

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/shulesync/shulesync.go/pkg/logger"
)

// ErrClosed is returned by Send after Close or after the connection dropped.
var ErrClosed = errors.New("push channel closed")

// DefaultDialer is the gorilla dialer used by Dial, with compression enabled.
var DefaultDialer = &websocket.Dialer{
	Proxy:             websocket.DefaultDialer.Proxy,
	HandshakeTimeout:  websocket.DefaultDialer.HandshakeTimeout,
	EnableCompression: true,
}

// Action is the kind of remote mutation a frame announces.
type Action string

const (
	ActionAdd  Action = "add"
	ActionEdit Action = "edit"
)

// Frame is one push event. EntityID travels as "contentId" on the wire for
// historical reasons, whichever collection the entity belongs to.
type Frame struct {
	EntityID string
	UserID   string
	Action   Action
	Data     map[string]any
}

func (f Frame) MarshalJSON() ([]byte, error) {
	out := map[string]any{
		"contentId": f.EntityID,
		"action":    f.Action,
		"data":      f.Data,
	}
	if f.UserID != "" {
		out["userId"] = f.UserID
	}
	return json.Marshal(out)
}

func (f *Frame) UnmarshalJSON(raw []byte) error {
	var aux struct {
		ContentID any            `json:"contentId"`
		UserID    any            `json:"userId"`
		Action    Action         `json:"action"`
		Data      map[string]any `json:"data"`
	}
	if err := json.Unmarshal(raw, &aux); err != nil {
		return err
	}
	f.EntityID = idString(aux.ContentID)
	f.UserID = idString(aux.UserID)
	f.Action = aux.Action
	f.Data = aux.Data
	return nil
}

// ids arrive as strings or numbers depending on the producing client
func idString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		if t == float64(int64(t)) {
			return fmt.Sprintf("%d", int64(t))
		}
		return fmt.Sprintf("%v", t)
	default:
		return fmt.Sprint(v)
	}
}

// Channel is one live push connection. One per dashboard session.
type Channel struct {
	conn   *websocket.Conn
	frames chan Frame
	log    logger.Logger

	writeMu   sync.Mutex
	closeOnce sync.Once

	errMu sync.Mutex
	err   error
}

type Option func(*dialConfig)

type dialConfig struct {
	header http.Header
	log    logger.Logger
	buffer int
}

// WithHeader adds headers to the opening handshake.
func WithHeader(h http.Header) Option {
	return func(c *dialConfig) { c.header = h }
}

func WithLogger(log logger.Logger) Option {
	return func(c *dialConfig) { c.log = log }
}

// Dial opens the channel against a ws:// or wss:// URL and starts the read
// loop.
func Dial(ctx context.Context, url string, opts ...Option) (*Channel, error) {
	cfg := &dialConfig{log: logger.Nop(), buffer: 64}
	for _, opt := range opts {
		opt(cfg)
	}

	conn, resp, err := DefaultDialer.DialContext(ctx, url, cfg.header)
	if err != nil {
		return nil, fmt.Errorf("dial push channel: %w", err)
	}
	if resp != nil && resp.Body != nil {
		defer resp.Body.Close()
	}

	ch := &Channel{
		conn:   conn,
		frames: make(chan Frame, cfg.buffer),
		log:    cfg.log,
	}
	go ch.readLoop()
	return ch, nil
}

// Frames is the inbound event stream. It is closed when the connection ends,
// for any reason; consult Err afterwards.
func (c *Channel) Frames() <-chan Frame { return c.frames }

// Send echoes a committed mutation to co-viewers. Best effort: a failed echo
// does not undo the mutation it described.
func (c *Channel) Send(f Frame) error {
	if c.Err() != nil {
		return ErrClosed
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.WriteJSON(f); err != nil {
		return fmt.Errorf("send push frame: %w", err)
	}
	return nil
}

// Close tears the connection down. Idempotent.
func (c *Channel) Close() error {
	c.closeOnce.Do(func() {
		c.setErr(ErrClosed)
		c.writeMu.Lock()
		_ = c.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.writeMu.Unlock()
		_ = c.conn.Close()
	})
	return nil
}

// Err reports why the channel ended, nil while it is live.
func (c *Channel) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

func (c *Channel) setErr(err error) {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	if c.err == nil {
		c.err = err
	}
}

func (c *Channel) readLoop() {
	defer close(c.frames)
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			// non-fatal to the session: the owner keeps serving the last
			// known state and decides whether to redial
			c.setErr(err)
			c.log.Warn("push channel closed", "error", err)
			return
		}

		var f Frame
		if err := json.Unmarshal(raw, &f); err != nil {
			c.log.Warn("dropping malformed push frame", "error", err)
			continue
		}
		if f.Action != ActionAdd && f.Action != ActionEdit {
			c.log.Debug("dropping frame with unknown action", "action", f.Action)
			continue
		}
		c.frames <- f
	}
}
