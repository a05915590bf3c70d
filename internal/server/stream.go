package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/galadrimteam/groupchat/internal/chat"
	"github.com/galadrimteam/groupchat/internal/protocol"
)

// sseConn adapts a Server-Sent Events response to chat.Conn. Every event is
// a single data line carrying one JSON frame.
type sseConn struct {
	w            http.ResponseWriter
	rc           *http.ResponseController
	writeTimeout time.Duration

	mu     sync.Mutex
	closed bool

	ready     chan struct{}
	readyOnce sync.Once
}

func newSSEConn(w http.ResponseWriter, writeTimeout time.Duration) *sseConn {
	return &sseConn{
		w:            w,
		rc:           http.NewResponseController(w),
		writeTimeout: writeTimeout,
		ready:        make(chan struct{}),
	}
}

func (c *sseConn) markReady() {
	c.readyOnce.Do(func() { close(c.ready) })
}

func (c *sseConn) Send(ctx context.Context, msg chat.Message) error {
	select {
	case <-c.ready:
	case <-ctx.Done():
		return ctx.Err()
	}
	return c.event(msg)
}

func (c *sseConn) event(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.write("data: %s\n\n", data)
}

func (c *sseConn) heartbeat() error {
	return c.write(": ping\n\n")
}

func (c *sseConn) write(format string, args ...any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errConnClosed
	}
	if err := c.rc.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil && !errors.Is(err, http.ErrNotSupported) {
		return err
	}
	if _, err := fmt.Fprintf(c.w, format, args...); err != nil {
		return err
	}
	return c.rc.Flush()
}

// Close stops further writes. The response itself ends when the handler
// returns.
func (c *sseConn) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.markReady()
	return nil
}

// HandleStream provides a Server-Sent Events subscription to ?topic=. The
// first event is the session frame; chat messages follow as bare JSON.
func (h *Handlers) HandleStream(w http.ResponseWriter, r *http.Request) {
	topic := h.topicParam(r)
	if err := chat.ValidateTopic(topic); err != nil {
		writeError(w, err)
		return
	}

	if _, ok := w.(http.Flusher); !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	conn := newSSEConn(w, h.WriteTimeout)
	sess, err := h.Gateway.Connect(topic, conn)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	frame := protocol.SessionFrame{Session: protocol.SessionInfo{ID: sess.ID, Topic: sess.Topic}}
	if err := conn.event(frame); err != nil {
		h.Gateway.Fail(sess, err)
		return
	}
	conn.markReady()

	ticker := time.NewTicker(h.PingInterval)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			h.Gateway.Disconnect(sess)
			return
		case <-sess.Done():
			return
		case <-ticker.C:
			if err := conn.heartbeat(); err != nil {
				h.Gateway.Fail(sess, err)
				return
			}
		}
	}
}
