// Package client connects to a groupchat server over websocket.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/galadrimteam/groupchat/internal/chat"
	"github.com/galadrimteam/groupchat/internal/protocol"
)

// ErrClosed is returned when publishing on a closed client.
var ErrClosed = errors.New("client closed")

type options struct {
	logger         *zap.Logger
	dialer         *websocket.Dialer
	attempts       int
	backoff        time.Duration
	reconnectDelay time.Duration
}

// Option configures Dial and Listen.
type Option func(*options)

// WithLogger sets the client logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithRetry sets how many times Dial tries and the initial backoff, which
// doubles after each failure.
func WithRetry(attempts int, backoff time.Duration) Option {
	return func(o *options) {
		if attempts > 0 {
			o.attempts = attempts
		}
		if backoff > 0 {
			o.backoff = backoff
		}
	}
}

// WithReconnectDelay sets the pause between Listen reconnects.
func WithReconnectDelay(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.reconnectDelay = d
		}
	}
}

func newOptions(opts []Option) options {
	o := options{
		logger:         zap.NewNop(),
		dialer:         websocket.DefaultDialer,
		attempts:       5,
		backoff:        time.Second,
		reconnectDelay: time.Second,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

type reply struct {
	ack chat.Ack
	err error
}

// Client is one websocket subscription. Messages arrive on Messages; Publish
// sends on the subscribed topic and waits for the server's answer.
type Client struct {
	conn    *websocket.Conn
	session protocol.SessionInfo
	logger  *zap.Logger

	writeCh   chan []byte
	messages  chan chat.Message
	stop      chan struct{}
	closing   chan struct{}
	done      chan struct{}
	writeDone chan struct{}

	sendMu sync.Mutex // orders writes with pending replies

	mu      sync.Mutex
	closed  bool
	pending []chan reply
	err     error

	closeOnce sync.Once
}

// WebSocketURL turns a server base URL (http, https, ws or wss) into the
// subscription endpoint for topic.
func WebSocketURL(base, topic string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse server url: %w", err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws/chat"
	q := url.Values{}
	if topic != "" {
		q.Set("topic", topic)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Dial connects to the server with retry and waits for the session frame.
func Dial(ctx context.Context, base, topic string, opts ...Option) (*Client, error) {
	o := newOptions(opts)
	target, err := WebSocketURL(base, topic)
	if err != nil {
		return nil, err
	}

	var conn *websocket.Conn
	backoff := o.backoff
	for attempt := 0; attempt < o.attempts; attempt++ {
		conn, _, err = o.dialer.DialContext(ctx, target, nil)
		if err == nil {
			break
		}
		if attempt == o.attempts-1 {
			break
		}
		o.logger.Warn("websocket connection failed, retrying",
			zap.Int("attempt", attempt+1),
			zap.Int("attempts", o.attempts),
			zap.Duration("backoff", backoff),
			zap.Error(err),
		)
		select {
		case <-time.After(backoff):
			backoff *= 2
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, fmt.Errorf("connect to %s after %d attempts: %w", target, o.attempts, err)
	}

	var first protocol.Frame
	if err := conn.ReadJSON(&first); err != nil {
		conn.Close()
		return nil, fmt.Errorf("read session frame: %w", err)
	}
	if err := first.Err(); err != nil {
		conn.Close()
		return nil, err
	}
	if first.Session == nil {
		conn.Close()
		return nil, errors.New("server did not send a session frame")
	}

	c := &Client{
		conn:      conn,
		session:   *first.Session,
		logger:    o.logger,
		writeCh:   make(chan []byte, 64),
		messages:  make(chan chat.Message, 256),
		stop:      make(chan struct{}),
		closing:   make(chan struct{}),
		done:      make(chan struct{}),
		writeDone: make(chan struct{}),
	}
	c.logger.Info("connected",
		zap.String("session_id", c.session.ID),
		zap.String("topic", c.session.Topic),
	)

	go c.readLoop()
	go c.writeLoop()

	return c, nil
}

// Session identifies the server-side session.
func (c *Client) Session() protocol.SessionInfo {
	return c.session
}

// Messages yields chat messages in delivery order. It is closed when the
// connection ends.
func (c *Client) Messages() <-chan chat.Message {
	return c.messages
}

// Done is closed when the read loop has stopped.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err returns the error that ended the connection, or nil after a clean
// close.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *Client) readLoop() {
	defer close(c.done)
	defer close(c.messages)

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Info("websocket closed by server")
				err = nil
			} else if c.isClosed() {
				err = nil
			} else {
				c.logger.Warn("websocket read failed", zap.Error(err))
			}
			c.finish(err)
			return
		}

		var f protocol.Frame
		if err := json.Unmarshal(data, &f); err != nil {
			c.logger.Warn("invalid frame", zap.Error(err))
			continue
		}

		switch {
		case f.Ack != nil:
			c.resolve(reply{ack: *f.Ack})
		case f.Error != nil:
			c.resolve(reply{err: f.Err()})
		case f.Session != nil:
		default:
			select {
			case c.messages <- f.Message:
			case <-c.closing:
				c.finish(nil)
				return
			}
		}
	}
}

func (c *Client) writeLoop() {
	defer close(c.writeDone)
	for msg := range c.writeCh {
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			c.logger.Warn("websocket write failed", zap.Error(err))
			_ = c.conn.Close()
			for range c.writeCh {
			}
			return
		}
	}
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// resolve answers the oldest pending Publish. The server replies in request
// order.
func (c *Client) resolve(r reply) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.pending) == 0 {
		return
	}
	ch := c.pending[0]
	c.pending = c.pending[1:]
	ch <- r
}

func (c *Client) finish(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.err = err
	for _, ch := range c.pending {
		ch <- reply{err: ErrClosed}
	}
	c.pending = nil
}

// Publish sends content as sender on the subscribed topic and returns the
// server's acknowledgment.
func (c *Client) Publish(ctx context.Context, sender, content string) (chat.Ack, error) {
	data, err := json.Marshal(protocol.PublishFrame{Sender: sender, Content: content})
	if err != nil {
		return chat.Ack{}, err
	}

	c.sendMu.Lock()
	ch := make(chan reply, 1)
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		c.sendMu.Unlock()
		return chat.Ack{}, ErrClosed
	}
	c.pending = append(c.pending, ch)
	c.mu.Unlock()

	select {
	case c.writeCh <- data:
		err = nil
	case <-c.stop:
		err = ErrClosed
	case <-c.done:
		err = ErrClosed
	case <-ctx.Done():
		err = ctx.Err()
	}
	if err != nil {
		c.dropPending(ch)
	}
	c.sendMu.Unlock()
	if err != nil {
		return chat.Ack{}, err
	}

	select {
	case r := <-ch:
		return r.ack, r.err
	case <-c.done:
		return chat.Ack{}, ErrClosed
	case <-ctx.Done():
		return chat.Ack{}, ctx.Err()
	}
}

func (c *Client) dropPending(ch chan reply) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n := len(c.pending); n > 0 && c.pending[n-1] == ch {
		c.pending = c.pending[:n-1]
	}
}

// Close flushes pending writes, says goodbye and waits for the read loop.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		close(c.stop)

		c.sendMu.Lock()
		close(c.writeCh)
		c.sendMu.Unlock()
		<-c.writeDone

		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		close(c.closing)
		select {
		case <-c.done:
		case <-time.After(time.Second):
		}
		err = c.conn.Close()
		<-c.done
	})
	return err
}
