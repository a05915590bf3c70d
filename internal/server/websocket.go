package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/galadrimteam/groupchat/internal/chat"
	"github.com/galadrimteam/groupchat/internal/protocol"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

var errConnClosed = errors.New("connection closed")

// wsConn adapts a websocket to chat.Conn. Writes are serialized; deliveries
// wait until the session frame went out.
type wsConn struct {
	ws           *websocket.Conn
	writeTimeout time.Duration

	mu     sync.Mutex
	closed bool

	ready     chan struct{}
	readyOnce sync.Once
	closeOnce sync.Once
}

func newWSConn(ws *websocket.Conn, writeTimeout time.Duration) *wsConn {
	return &wsConn{
		ws:           ws,
		writeTimeout: writeTimeout,
		ready:        make(chan struct{}),
	}
}

func (c *wsConn) markReady() {
	c.readyOnce.Do(func() { close(c.ready) })
}

func (c *wsConn) Send(ctx context.Context, msg chat.Message) error {
	select {
	case <-c.ready:
	case <-ctx.Done():
		return ctx.Err()
	}
	return c.write(ctx, msg)
}

func (c *wsConn) write(ctx context.Context, v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errConnClosed
	}
	deadline := time.Now().Add(c.writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.ws.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return c.ws.WriteJSON(v)
}

func (c *wsConn) ping() error {
	return c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.writeTimeout))
}

func (c *wsConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		c.markReady()
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		err = c.ws.Close()
	})
	return err
}

// HandleWebSocket subscribes the socket to ?topic= (default topic when
// absent). Every text frame the client sends is published on that topic and
// answered with an ack or error frame.
func (h *Handlers) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	topic := h.topicParam(r)
	if err := chat.ValidateTopic(topic); err != nil {
		writeError(w, err)
		return
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.Logger.Error("upgrade failed", zap.Error(err), zap.String("topic", topic))
		return
	}
	conn := newWSConn(ws, h.WriteTimeout)

	sess, err := h.Gateway.Connect(topic, conn)
	if err != nil {
		_ = conn.write(r.Context(), protocol.NewError(err))
		_ = conn.Close()
		return
	}

	frame := protocol.SessionFrame{Session: protocol.SessionInfo{ID: sess.ID, Topic: sess.Topic}}
	if err := conn.write(r.Context(), frame); err != nil {
		h.Gateway.Fail(sess, err)
		return
	}
	conn.markReady()

	ws.SetReadLimit(maxBodyBytes)
	_ = ws.SetReadDeadline(time.Now().Add(h.PongTimeout))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(h.PongTimeout))
	})

	go h.pingLoop(sess, conn)

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.Gateway.Disconnect(sess)
			} else {
				h.Gateway.Fail(sess, err)
			}
			return
		}

		var reply any
		var req protocol.PublishFrame
		if err := json.Unmarshal(data, &req); err != nil {
			reply = protocol.InvalidPayload(err)
		} else {
			ack, err := h.Publisher.Publish(r.Context(), chat.PublishRequest{
				Sender:  req.Sender,
				Content: req.Content,
				Topic:   sess.Topic,
			})
			if err != nil {
				reply = protocol.NewError(err)
			} else {
				reply = protocol.AckFrame{Ack: ack}
			}
		}

		if err := conn.write(r.Context(), reply); err != nil {
			h.Gateway.Fail(sess, err)
			return
		}
	}
}

func (h *Handlers) pingLoop(sess *chat.Session, conn *wsConn) {
	ticker := time.NewTicker(h.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-sess.Done():
			return
		case <-ticker.C:
			if err := conn.ping(); err != nil {
				h.Gateway.Fail(sess, err)
				return
			}
		}
	}
}
