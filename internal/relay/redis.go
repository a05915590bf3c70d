// Package relay carries accepted chat messages between server instances
// through Redis pub/sub. Every instance publishes to Redis and broadcasts
// what it receives back to its local subscribers, so clients connected to
// different instances share the same topics.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/galadrimteam/groupchat/internal/chat"
)

var ErrEmptyConnectionURL = errors.New("empty redis connection URL")

// Broadcaster is the local fan-out the relay feeds.
type Broadcaster interface {
	Broadcast(topic string, msg chat.Message) chat.Message
}

// envelope is the payload stored on the Redis channel.
type envelope struct {
	Topic   string       `json:"topic"`
	Message chat.Message `json:"message"`
}

// Redis implements chat.Relay over Redis pub/sub.
type Redis struct {
	client *redis.Client
	prefix string
	local  Broadcaster
	logger *zap.Logger
}

// NewRedis creates a relay publishing on channels named prefix+topic.
func NewRedis(client *redis.Client, prefix string, local Broadcaster, logger *zap.Logger) *Redis {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Redis{
		client: client,
		prefix: prefix,
		local:  local,
		logger: logger,
	}
}

// Publish sends msg to every instance, this one included. Each instance's
// broker clamps timestamps on its own, so the returned message is msg as sent.
func (r *Redis) Publish(ctx context.Context, topic string, msg chat.Message) (chat.Message, error) {
	data, err := json.Marshal(envelope{Topic: topic, Message: msg})
	if err != nil {
		return chat.Message{}, fmt.Errorf("encode message: %w", err)
	}
	if err := r.client.Publish(ctx, r.prefix+topic, data).Err(); err != nil {
		return chat.Message{}, fmt.Errorf("redis publish: %w", err)
	}
	return msg, nil
}

// Run consumes relayed messages and broadcasts them locally until ctx ends.
func (r *Redis) Run(ctx context.Context) error {
	pubsub := r.client.PSubscribe(ctx, r.prefix+"*")
	defer pubsub.Close()

	// Wait for the subscription to be confirmed so nothing published after
	// Run returns control is missed.
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("redis subscribe: %w", err)
	}
	r.logger.Info("redis relay subscribed", zap.String("pattern", r.prefix+"*"))

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case m, ok := <-ch:
			if !ok {
				return nil
			}
			r.dispatch(m)
		}
	}
}

func (r *Redis) dispatch(m *redis.Message) {
	topic, msg, err := decode(r.prefix, m.Channel, []byte(m.Payload))
	if err != nil {
		r.logger.Warn("dropping malformed relay message",
			zap.String("channel", m.Channel),
			zap.Error(err),
		)
		return
	}
	r.local.Broadcast(topic, msg)
}

func decode(prefix, channel string, payload []byte) (string, chat.Message, error) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return "", chat.Message{}, err
	}
	if env.Topic == "" {
		env.Topic = strings.TrimPrefix(channel, prefix)
	}
	if err := chat.ValidateTopic(env.Topic); err != nil {
		return "", chat.Message{}, err
	}
	if env.Message.Sender == "" {
		return "", chat.Message{}, chat.ErrEmptySender
	}
	return env.Topic, env.Message, nil
}

// Connect parses url, dials Redis and retries PING until it answers or
// attempts run out.
func Connect(ctx context.Context, url string, attempts int, interval time.Duration) (*redis.Client, error) {
	if url == "" {
		return nil, ErrEmptyConnectionURL
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	if attempts < 1 {
		attempts = 1
	}
	for attempt := 1; ; attempt++ {
		err = client.Ping(ctx).Err()
		if err == nil {
			return client, nil
		}
		if attempt >= attempts {
			break
		}
		select {
		case <-time.After(interval):
		case <-ctx.Done():
			_ = client.Close()
			return nil, ctx.Err()
		}
	}
	_ = client.Close()
	return nil, fmt.Errorf("redis not ready after %d attempts: %w", attempts, err)
}
