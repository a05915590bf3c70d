package chat

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// recordConn collects delivered messages. When gate is non-nil every Send
// waits for a value on it first.
type recordConn struct {
	mu     sync.Mutex
	msgs   []Message
	closed int
	gate   chan struct{}
	err    error
	sent   chan Message
}

func newRecordConn() *recordConn {
	return &recordConn{sent: make(chan Message, 1024)}
}

func (c *recordConn) Send(ctx context.Context, msg Message) error {
	if c.gate != nil {
		select {
		case <-c.gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	c.mu.Lock()
	err := c.err
	if err == nil {
		c.msgs = append(c.msgs, msg)
	}
	c.mu.Unlock()
	if err != nil {
		return err
	}
	c.sent <- msg
	return nil
}

func (c *recordConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed++
	return nil
}

func (c *recordConn) fail(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.err = err
}

func (c *recordConn) messages() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Message(nil), c.msgs...)
}

func (c *recordConn) closeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

var errBrokenPipe = errors.New("broken pipe")

func waitMessages(t *testing.T, c *recordConn, n int) []Message {
	t.Helper()
	require.Eventually(t, func() bool {
		return len(c.messages()) >= n
	}, 2*time.Second, 5*time.Millisecond, "expected %d messages", n)
	return c.messages()
}

func contents(msgs []Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Content
	}
	return out
}
