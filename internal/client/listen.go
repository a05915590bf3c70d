package client

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/galadrimteam/groupchat/internal/chat"
)

// Listen subscribes to topic and calls handle for every message until ctx
// ends. Dropped connections are re-established after a pause; messages
// published while disconnected are not replayed.
func Listen(ctx context.Context, base, topic string, handle func(chat.Message), opts ...Option) error {
	o := newOptions(opts)

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		c, err := Dial(ctx, base, topic, opts...)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			o.logger.Warn("subscription failed, restarting", zap.Error(err))
		} else {
			if stopped := consume(ctx, c, handle); stopped {
				return nil
			}
			o.logger.Warn("subscription lost, reconnecting",
				zap.String("session_id", c.Session().ID),
				zap.Error(c.Err()),
			)
		}

		select {
		case <-time.After(o.reconnectDelay):
		case <-ctx.Done():
			return nil
		}
	}
}

// consume hands messages to handle until the connection ends or ctx is
// cancelled. It reports whether ctx stopped it.
func consume(ctx context.Context, c *Client, handle func(chat.Message)) bool {
	defer c.Close()
	for {
		select {
		case <-ctx.Done():
			return true
		case msg, ok := <-c.Messages():
			if !ok {
				return false
			}
			handle(msg)
		}
	}
}
