package chat

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	defaultQueueSize    = 16
	defaultDrainTimeout = 5 * time.Second
)

// Gateway creates and destroys sessions. Graceful disconnects, transport
// failures and shutdown all go through the same teardown.
type Gateway struct {
	registry     *Registry
	observer     Observer
	logger       *zap.Logger
	queueSize    int
	drainTimeout time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.RWMutex
	sessions map[string]*Session
	closed   bool
}

// GatewayOption configures a Gateway.
type GatewayOption func(*Gateway)

// WithQueueSize bounds each session's delivery queue.
func WithQueueSize(n int) GatewayOption {
	return func(g *Gateway) {
		if n > 0 {
			g.queueSize = n
		}
	}
}

// WithDrainTimeout bounds how long a disconnecting session may spend flushing.
func WithDrainTimeout(d time.Duration) GatewayOption {
	return func(g *Gateway) {
		if d > 0 {
			g.drainTimeout = d
		}
	}
}

// WithGatewayObserver sets the observer for session lifecycle events.
func WithGatewayObserver(o Observer) GatewayOption {
	return func(g *Gateway) {
		if o != nil {
			g.observer = o
		}
	}
}

// WithGatewayLogger sets the gateway logger.
func WithGatewayLogger(l *zap.Logger) GatewayOption {
	return func(g *Gateway) {
		if l != nil {
			g.logger = l
		}
	}
}

// NewGateway creates a gateway registering sessions in registry.
func NewGateway(registry *Registry, opts ...GatewayOption) *Gateway {
	ctx, cancel := context.WithCancel(context.Background())
	g := &Gateway{
		registry:     registry,
		observer:     nopObserver{},
		logger:       zap.NewNop(),
		queueSize:    defaultQueueSize,
		drainTimeout: defaultDrainTimeout,
		ctx:          ctx,
		cancel:       cancel,
		sessions:     make(map[string]*Session),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Connect opens a session on topic delivering to conn and starts its drain
// loop. The caller keeps conn open until the session is Done.
func (g *Gateway) Connect(topic string, conn Conn) (*Session, error) {
	if err := ValidateTopic(topic); err != nil {
		return nil, err
	}

	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return nil, ErrGatewayClosed
	}
	s := newSession(topic, conn, g.queueSize)
	g.sessions[s.ID] = s
	g.wg.Add(1)
	g.mu.Unlock()

	if err := g.registry.Subscribe(topic, s); err != nil {
		g.mu.Lock()
		delete(g.sessions, s.ID)
		g.mu.Unlock()
		g.wg.Done()
		return nil, err
	}
	s.activate()
	g.observer.SessionOpened(topic)

	g.logger.Info("session connected",
		zap.String("session_id", s.ID),
		zap.String("topic", topic),
	)

	go g.serve(s)
	return s, nil
}

// serve runs the drain loop and finishes teardown once it returns.
func (g *Gateway) serve(s *Session) {
	defer g.wg.Done()

	err := s.run(g.ctx, g.drainTimeout)
	failed := err != nil && !errors.Is(err, context.Canceled)
	if failed {
		g.logger.Warn("session transport failed",
			zap.String("session_id", s.ID),
			zap.String("topic", s.Topic),
			zap.Error(err),
		)
	}

	g.teardown(s)
	if cerr := s.conn.Close(); cerr != nil {
		g.logger.Debug("close connection",
			zap.String("session_id", s.ID),
			zap.Error(cerr),
		)
	}

	g.mu.Lock()
	delete(g.sessions, s.ID)
	g.mu.Unlock()

	s.markClosed()
	g.observer.SessionClosed(s.Topic, failed)
	g.logger.Info("session closed",
		zap.String("session_id", s.ID),
		zap.String("topic", s.Topic),
		zap.Uint64("delivered", s.Delivered()),
		zap.Uint64("lagging", s.Lagging()),
	)
}

// teardown stops new deliveries and unregisters the session.
func (g *Gateway) teardown(s *Session) {
	if s.beginDrain() {
		g.registry.Unsubscribe(s.Topic, s)
	}
}

// Disconnect drains and closes s, returning once it is Closed. Calling it
// again, or on a session that already failed, is a no-op.
func (g *Gateway) Disconnect(s *Session) {
	if s == nil {
		return
	}
	g.teardown(s)
	<-s.done
}

// Fail reports a transport error observed outside the drain loop, such as a
// read error or a missed heartbeat, and tears the session down.
func (g *Gateway) Fail(s *Session, err error) {
	if s == nil {
		return
	}
	if s.State() < StateDraining {
		g.logger.Warn("session transport failed",
			zap.String("session_id", s.ID),
			zap.String("topic", s.Topic),
			zap.Error(err),
		)
	}
	g.Disconnect(s)
}

// DisconnectID disconnects the session with the given id, if any.
func (g *Gateway) DisconnectID(id string) {
	s, err := g.Session(id)
	if err != nil {
		return
	}
	g.Disconnect(s)
}

// Session looks up a live session.
func (g *Gateway) Session(id string) (*Session, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	s, ok := g.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// Count returns the number of sessions not yet Closed.
func (g *Gateway) Count() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.sessions)
}

// Close refuses new connections and disconnects every session. If ctx ends
// before all sessions drained, remaining drain loops are cancelled.
func (g *Gateway) Close(ctx context.Context) error {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return nil
	}
	g.closed = true
	sessions := make([]*Session, 0, len(g.sessions))
	for _, s := range g.sessions {
		sessions = append(sessions, s)
	}
	g.mu.Unlock()

	for _, s := range sessions {
		g.teardown(s)
	}

	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		g.cancel()
		return nil
	case <-ctx.Done():
		g.cancel()
		<-done
		return ctx.Err()
	}
}
