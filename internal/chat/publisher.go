package chat

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

// PublishRequest is an outbound chat message from a client.
type PublishRequest struct {
	Sender  string
	Content string
	Topic   string
}

// Ack confirms a message was accepted for broadcast. It says nothing about
// delivery to any subscriber.
type Ack struct {
	Topic     string    `json:"topic"`
	Timestamp time.Time `json:"timestamp"`
}

// Publisher validates outbound messages, stamps and colors them, and hands
// them to the relay.
type Publisher struct {
	relay    Relay
	colors   *ColorAssigner
	now      func() time.Time
	observer Observer
	logger   *zap.Logger
}

// PublisherOption configures a Publisher.
type PublisherOption func(*Publisher)

// WithColors sets the sender color cache.
func WithColors(c *ColorAssigner) PublisherOption {
	return func(p *Publisher) {
		if c != nil {
			p.colors = c
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) PublisherOption {
	return func(p *Publisher) {
		if now != nil {
			p.now = now
		}
	}
}

// WithPublisherObserver sets the observer for accepted and rejected messages.
func WithPublisherObserver(o Observer) PublisherOption {
	return func(p *Publisher) {
		if o != nil {
			p.observer = o
		}
	}
}

// WithPublisherLogger sets the publisher logger.
func WithPublisherLogger(l *zap.Logger) PublisherOption {
	return func(p *Publisher) {
		if l != nil {
			p.logger = l
		}
	}
}

// NewPublisher creates a publisher forwarding to relay.
func NewPublisher(relay Relay, opts ...PublisherOption) *Publisher {
	p := &Publisher{
		relay:    relay,
		colors:   NewColorAssigner(),
		now:      time.Now,
		observer: nopObserver{},
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Publish validates req and forwards the resulting message. Validation errors
// never reach the relay.
func (p *Publisher) Publish(ctx context.Context, req PublishRequest) (Ack, error) {
	if strings.TrimSpace(req.Sender) == "" {
		p.observer.Rejected(ErrorCode(ErrEmptySender))
		return Ack{}, ErrEmptySender
	}
	if err := ValidateTopic(req.Topic); err != nil {
		p.observer.Rejected(ErrorCode(err))
		return Ack{}, err
	}

	msg := Message{
		Sender:    req.Sender,
		Content:   req.Content,
		Timestamp: p.now().UTC(),
		Color:     p.colors.Color(req.Sender),
	}

	sent, err := p.relay.Publish(ctx, req.Topic, msg)
	if err != nil {
		p.observer.Rejected(ErrorCode(ErrRelayFailure))
		p.logger.Error("relay publish failed",
			zap.String("topic", req.Topic),
			zap.String("sender", req.Sender),
			zap.Error(err),
		)
		return Ack{}, fmt.Errorf("%w: %w", ErrRelayFailure, err)
	}

	p.observer.Published(req.Topic)
	return Ack{Topic: req.Topic, Timestamp: sent.Timestamp}, nil
}
