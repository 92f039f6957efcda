// Package remote talks to the row store of another candle server over its
// REST and WebSocket API, so several devices can share one party.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/oszuidwest/zwfm-candles/internal/store"
	"github.com/oszuidwest/zwfm-candles/internal/types"
	"github.com/oszuidwest/zwfm-candles/internal/util"
)

const (
	httpTimeout      = 15 * time.Second
	handshakeTimeout = 10 * time.Second
	maxErrorBody     = 4096
)

// ErrClientClosed is returned after Close.
var ErrClientClosed = errors.New("remote client closed")

// Client is a row store backed by a remote candle server.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	dialer     *websocket.Dialer

	mu     sync.Mutex
	conns  map[*websocket.Conn]struct{}
	closed bool
}

// New creates a client for the server at baseURL (http or https).
func New(baseURL string) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, util.WrapError("parse server URL", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("server URL must use http or https, got %q", u.Scheme)
	}
	return &Client{
		baseURL:    u,
		httpClient: &http.Client{Timeout: httpTimeout},
		dialer:     &websocket.Dialer{HandshakeTimeout: handshakeTimeout},
		conns:      make(map[*websocket.Conn]struct{}),
	}, nil
}

// URL returns the server base URL.
func (c *Client) URL() string {
	return c.baseURL.String()
}

func (c *Client) roomURL(room, table string) string {
	return c.baseURL.String() + "/api/rooms/" + url.PathEscape(room) + "/" + table
}

// InsertBlow records ev on the server.
func (c *Client) InsertBlow(ctx context.Context, ev *types.BlowEvent) error {
	if ev.Room == "" {
		return fmt.Errorf("room is required")
	}
	return c.post(ctx, c.roomURL(ev.Room, "blows"), ev, ev)
}

// BlowsByRoom returns the room's events, newest first.
func (c *Client) BlowsByRoom(ctx context.Context, room string) ([]types.BlowEvent, error) {
	var events []types.BlowEvent
	if err := c.get(ctx, c.roomURL(room, "blows"), &events); err != nil {
		return nil, err
	}
	return events, nil
}

// InsertEntry records a guestbook entry on the server.
func (c *Client) InsertEntry(ctx context.Context, e *types.GuestbookEntry) error {
	if e.Room == "" {
		return fmt.Errorf("room is required")
	}
	return c.post(ctx, c.roomURL(e.Room, "guestbook"), e, e)
}

// EntriesByRoom returns the room's guestbook, newest first.
func (c *Client) EntriesByRoom(ctx context.Context, room string) ([]types.GuestbookEntry, error) {
	var entries []types.GuestbookEntry
	if err := c.get(ctx, c.roomURL(room, "guestbook"), &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// InsertMessage posts msg to the room's message board on the server.
func (c *Client) InsertMessage(ctx context.Context, msg *types.Message) error {
	if msg.Room == "" {
		return fmt.Errorf("room is required")
	}
	return c.post(ctx, c.roomURL(msg.Room, "messages"), msg, msg)
}

// MessagesByRoom returns the room's message board, newest first.
func (c *Client) MessagesByRoom(ctx context.Context, room string) ([]types.Message, error) {
	var messages []types.Message
	if err := c.get(ctx, c.roomURL(room, "messages"), &messages); err != nil {
		return nil, err
	}
	return messages, nil
}

// DeleteMessage removes a board message on the server.
func (c *Client) DeleteMessage(ctx context.Context, room, id string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.roomURL(room, "messages")+"/"+url.PathEscape(id), http.NoBody)
	if err != nil {
		return util.WrapError("create request", err)
	}
	err = c.do(req, nil)
	var se *StatusError
	if errors.As(err, &se) && se.Code == http.StatusNotFound {
		return store.ErrMessageNotFound
	}
	return err
}

func (c *Client) get(ctx context.Context, u string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, http.NoBody)
	if err != nil {
		return util.WrapError("create request", err)
	}
	return c.do(req, out)
}

func (c *Client) post(ctx context.Context, u string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return util.WrapError("marshal request", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(data))
	if err != nil {
		return util.WrapError("create request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	if c.isClosed() {
		return ErrClientClosed
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return util.WrapError("send request", err)
	}
	defer util.SafeCloseFunc(resp.Body, "response body")()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return responseError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return util.WrapError("decode response", err)
	}
	return nil
}

// StatusError is returned when the server answers with a non-2xx status.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.Code, e.Message)
}

// responseError turns an error response into a *StatusError, using the
// server's {"error": "..."} message when present.
func responseError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	var apiErr struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &apiErr) == nil && apiErr.Error != "" {
		return &StatusError{Code: resp.StatusCode, Message: apiErr.Error}
	}
	return &StatusError{Code: resp.StatusCode, Message: strings.TrimSpace(string(body))}
}

// Subscribe streams changes to room. The channel is closed when ctx is
// cancelled or the connection drops.
func (c *Client) Subscribe(ctx context.Context, room string) (<-chan types.Change, error) {
	wsURL := *c.baseURL
	switch wsURL.Scheme {
	case "https":
		wsURL.Scheme = "wss"
	default:
		wsURL.Scheme = "ws"
	}
	wsURL.Path += "/api/rooms/" + url.PathEscape(room) + "/subscribe"
	wsURL.RawPath = ""

	conn, resp, err := c.dialer.DialContext(ctx, wsURL.String(), nil)
	if resp != nil && resp.Body != nil {
		util.SafeCloseFunc(resp.Body, "handshake body")()
	}
	if err != nil {
		return nil, util.WrapError("subscribe to "+room, err)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = conn.Close()
		return nil, ErrClientClosed
	}
	c.conns[conn] = struct{}{}
	c.mu.Unlock()

	out := make(chan types.Change)
	stop := context.AfterFunc(ctx, func() {
		_ = conn.Close()
	})

	go func() {
		defer close(out)
		defer stop()
		defer c.forget(conn)

		for {
			var ch types.Change
			if err := conn.ReadJSON(&ch); err != nil {
				if ctx.Err() == nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					slog.Warn("remote subscription ended", "room", room, "error", err)
				}
				return
			}
			if ch.Room != "" && ch.Room != room {
				continue
			}
			select {
			case out <- ch:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}

// SubscribeBlows streams blow events inserted into room.
func (c *Client) SubscribeBlows(ctx context.Context, room string) (<-chan types.BlowEvent, error) {
	changes, err := c.Subscribe(ctx, room)
	if err != nil {
		return nil, err
	}
	out := make(chan types.BlowEvent)
	go func() {
		defer close(out)
		for ch := range changes {
			if ch.Type != types.ChangeBlow || ch.Blow == nil {
				continue
			}
			select {
			case out <- *ch.Blow:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (c *Client) forget(conn *websocket.Conn) {
	c.mu.Lock()
	delete(c.conns, conn)
	c.mu.Unlock()
	_ = conn.Close()
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Close ends every open subscription.
func (c *Client) Close() error {
	c.mu.Lock()
	c.closed = true
	conns := make([]*websocket.Conn, 0, len(c.conns))
	for conn := range c.conns {
		conns = append(conns, conn)
	}
	c.mu.Unlock()

	for _, conn := range conns {
		_ = conn.Close()
	}
	c.httpClient.CloseIdleConnections()
	return nil
}
