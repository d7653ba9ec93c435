// Package protocol is the group-activity wire protocol: tagged JSON envelopes
// over one websocket per session.
package protocol

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// WellKnownPath is appended to the base endpoint, followed by the session id.
const WellKnownPath = "/group_activity/ws/"

const (
	writeWait     = 5 * time.Second
	inboundBuffer = 64
)

// Client owns one websocket connection. Inbound envelopes are delivered on
// Messages in frame order; the channel is closed when the connection ends.
// Frames read before a remote close are still delivered, while a local Close
// drops whatever has not been taken yet.
type Client struct {
	conn *websocket.Conn
	log  *zap.Logger

	frames   chan Envelope
	messages chan Envelope
	done     chan struct{}
	// closing is closed by a local Close; pending frames are dropped
	closing chan struct{}

	writeMu sync.Mutex

	mu        sync.Mutex
	closed    bool
	err       error
	closeOnce sync.Once
	stopOnce  sync.Once
}

// Endpoint builds the websocket URL of a session from the base endpoint.
func Endpoint(baseURL, sessionID string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return "", fmt.Errorf("base url scheme %q: want ws or wss", u.Scheme)
	}
	if sessionID == "" {
		return "", errors.New("session id required")
	}
	return strings.TrimRight(baseURL, "/") + WellKnownPath + url.PathEscape(sessionID), nil
}

// Dial connects to the session endpoint. The connection lives until Close is
// called, ctx is done, or the remote side goes away.
func Dial(ctx context.Context, baseURL, sessionID string, header http.Header, log *zap.Logger) (*Client, error) {
	endpoint, err := Endpoint(baseURL, sessionID)
	if err != nil {
		return nil, err
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, endpoint, header)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %v: %w", endpoint, err, ErrTransportFailure)
	}
	if log == nil {
		log = zap.NewNop()
	}

	c := &Client{
		conn:     conn,
		log:      log.With(zap.String("session_id", sessionID)),
		frames:   make(chan Envelope, inboundBuffer),
		messages: make(chan Envelope),
		done:     make(chan struct{}),
		closing:  make(chan struct{}),
	}
	go c.readLoop()
	go c.deliverLoop()
	go func() {
		select {
		case <-ctx.Done():
			_ = c.Close()
		case <-c.done:
		}
	}()
	return c, nil
}

func (c *Client) Messages() <-chan Envelope {
	return c.messages
}

// Done is closed once the connection has ended for any reason.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err reports why the connection ended: nil after a local Close, otherwise an
// error wrapping ErrTransportFailure.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed
}

// Send writes env right away. It never queues.
func (c *Client) Send(env Envelope) error {
	if !c.Connected() {
		return ErrNotConnected
	}
	if !env.Type.Valid() {
		return fmt.Errorf("send type %q: %w", env.Type, ErrMalformedMessage)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteJSON(env); err != nil {
		if !c.Connected() {
			return ErrNotConnected
		}
		failure := fmt.Errorf("write %s: %v: %w", env.Type, err, ErrTransportFailure)
		c.shutdown(failure)
		return failure
	}
	return nil
}

// Close sends a close frame and releases the connection. Frames not yet
// taken from Messages are dropped.
func (c *Client) Close() error {
	c.stopOnce.Do(func() { close(c.closing) })
	if !c.Connected() {
		return nil
	}
	c.writeMu.Lock()
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
	c.writeMu.Unlock()
	c.shutdown(nil)
	return nil
}

func (c *Client) shutdown(err error) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.err = err
		c.mu.Unlock()
		close(c.done)
		_ = c.conn.Close()
	})
}

func (c *Client) readLoop() {
	defer close(c.frames)
	for {
		_, frame, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Warn("group activity connection lost", zap.Error(err))
			}
			c.shutdown(fmt.Errorf("read: %v: %w", err, ErrTransportFailure))
			return
		}

		env, err := ParseEnvelope(frame)
		if err != nil {
			c.log.Warn("dropping inbound frame", zap.Error(err))
			continue
		}

		select {
		case c.frames <- env:
		case <-c.done:
			return
		}
	}
}

// deliverLoop hands frames to Messages one at a time. After a remote close
// the frames already read are still delivered; after a local Close nothing
// more is.
func (c *Client) deliverLoop() {
	defer close(c.messages)
	for {
		select {
		case <-c.closing:
			return
		case env, ok := <-c.frames:
			if !ok {
				return
			}
			select {
			case <-c.closing:
				return
			default:
			}
			select {
			case c.messages <- env:
			case <-c.closing:
				return
			}
		}
	}
}
