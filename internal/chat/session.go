package chat

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// State is a session lifecycle state.
type State int32

const (
	StateConnecting State = iota
	StateActive
	StateDraining
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateDraining:
		return "draining"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Conn is the client connection a session delivers to. Send is only ever
// called from the session's drain loop.
type Conn interface {
	Send(ctx context.Context, msg Message) error
	Close() error
}

// Session is one connected client: a bounded delivery queue drained by a
// dedicated goroutine into its Conn. Only the Gateway changes its state; the
// Broker only enqueues.
type Session struct {
	ID        string
	Topic     string
	Connected time.Time

	conn  Conn
	queue chan Message
	state atomic.Int32

	lagging   atomic.Uint64
	delivered atomic.Uint64

	drain chan struct{} // closed on entering Draining
	done  chan struct{} // closed on entering Closed
}

func newSession(topic string, conn Conn, queueSize int) *Session {
	if queueSize < 1 {
		queueSize = 1
	}
	return &Session{
		ID:        uuid.NewString(),
		Topic:     topic,
		Connected: time.Now().UTC(),
		conn:      conn,
		queue:     make(chan Message, queueSize),
		drain:     make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	return State(s.state.Load())
}

// Lagging counts messages evicted from this session's queue by drop-oldest.
func (s *Session) Lagging() uint64 {
	return s.lagging.Load()
}

// Delivered counts messages written to the connection.
func (s *Session) Delivered() uint64 {
	return s.delivered.Load()
}

// Queued returns the number of messages waiting in the queue.
func (s *Session) Queued() int {
	return len(s.queue)
}

// Capacity returns the queue bound.
func (s *Session) Capacity() int {
	return cap(s.queue)
}

// Done is closed once the session reaches StateClosed.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// enqueue adds msg to the queue, evicting the oldest entry when full.
// It reports whether the message was accepted and whether an eviction
// happened. Sessions that are not Active refuse new messages.
//
// Producers for one session are serialized by the topic fan-out lock, so the
// retry loop terminates: once a slot is freed only the drain loop touches it.
func (s *Session) enqueue(msg Message) (accepted, evicted bool) {
	if s.State() != StateActive {
		return false, false
	}
	for {
		select {
		case s.queue <- msg:
			return true, evicted
		default:
		}
		select {
		case <-s.queue:
			s.lagging.Add(1)
			evicted = true
		default:
		}
	}
}

func (s *Session) activate() bool {
	return s.state.CompareAndSwap(int32(StateConnecting), int32(StateActive))
}

// beginDrain moves the session to Draining. Only the first caller wins.
func (s *Session) beginDrain() bool {
	for {
		cur := s.state.Load()
		if cur >= int32(StateDraining) {
			return false
		}
		if s.state.CompareAndSwap(cur, int32(StateDraining)) {
			close(s.drain)
			return true
		}
	}
}

func (s *Session) markClosed() {
	s.state.Store(int32(StateClosed))
	close(s.done)
}

// run is the drain loop. It returns nil after a graceful drain, the context
// error when cancelled, or an ErrTransportFailure wrapping the Conn error.
func (s *Session) run(ctx context.Context, flushTimeout time.Duration) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.drain:
			return s.flush(ctx, flushTimeout)
		case msg := <-s.queue:
			if err := s.deliver(ctx, msg); err != nil {
				return err
			}
		}
	}
}

// flush writes whatever is still queued, bounded by timeout.
func (s *Session) flush(ctx context.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	for {
		select {
		case msg := <-s.queue:
			if err := s.deliver(ctx, msg); err != nil {
				return err
			}
		default:
			return nil
		}
	}
}

func (s *Session) deliver(ctx context.Context, msg Message) error {
	if err := s.conn.Send(ctx, msg); err != nil {
		return fmt.Errorf("%w: session %s: %w", ErrTransportFailure, s.ID, err)
	}
	s.delivered.Add(1)
	return nil
}
