package chat

import (
	"context"

	"go.uber.org/zap"
)

// Relay carries an accepted message to the brokers that fan it out. The Broker
// is itself the in-process relay.
//
// Publish returns the message as the relay finalized it; the publisher acks
// with its timestamp.
type Relay interface {
	Publish(ctx context.Context, topic string, msg Message) (Message, error)
}

// Broker fans messages out to the sessions subscribed to a topic. It keeps
// no state of its own between calls.
type Broker struct {
	registry *Registry
	observer Observer
	logger   *zap.Logger
}

// BrokerOption configures a Broker.
type BrokerOption func(*Broker)

// WithBrokerObserver sets the observer notified for each enqueue and eviction.
func WithBrokerObserver(o Observer) BrokerOption {
	return func(b *Broker) {
		if o != nil {
			b.observer = o
		}
	}
}

// WithBrokerLogger sets the broker logger.
func WithBrokerLogger(l *zap.Logger) BrokerOption {
	return func(b *Broker) {
		if l != nil {
			b.logger = l
		}
	}
}

// NewBroker creates a broker reading subscribers from registry.
func NewBroker(registry *Registry, opts ...BrokerOption) *Broker {
	b := &Broker{
		registry: registry,
		observer: nopObserver{},
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Broadcast enqueues msg on every session subscribed to topic and returns the
// message as delivered. Topics without subscribers drop the message.
//
// The snapshot and the enqueues run under the topic's fan-out lock, so two
// broadcasts to the same topic never interleave. The timestamp is raised to
// the topic's previous one when clocks would otherwise step backwards.
// Never blocks on a slow subscriber: full queues evict their oldest entry.
func (b *Broker) Broadcast(topic string, msg Message) Message {
	t := b.registry.lookup(topic)
	if t == nil {
		return msg
	}

	t.fanout.Lock()
	defer t.fanout.Unlock()

	if msg.Timestamp.Before(t.last) {
		msg.Timestamp = t.last
	}
	t.last = msg.Timestamp

	for _, s := range t.snapshot() {
		accepted, evicted := s.enqueue(msg)
		if !accepted {
			// Session is draining or gone.
			continue
		}
		b.observer.Enqueued(topic)
		if evicted {
			b.observer.Evicted(topic)
			b.logger.Debug("subscriber lagging, dropped oldest message",
				zap.String("session_id", s.ID),
				zap.String("topic", topic),
				zap.Uint64("lagging", s.Lagging()),
			)
		}
	}
	return msg
}

// Publish implements Relay by broadcasting locally. The returned message
// carries the timestamp subscribers received.
func (b *Broker) Publish(_ context.Context, topic string, msg Message) (Message, error) {
	return b.Broadcast(topic, msg), nil
}
