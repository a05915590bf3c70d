package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/galadrimteam/groupchat/internal/chat"
)

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse()
	require.NoError(t, err)

	assert.Equal(t, "3000", cfg.Port)
	assert.Equal(t, ":3000", cfg.Addr())
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, chat.DefaultTopic, cfg.DefaultTopic)
	assert.Equal(t, 16, cfg.QueueSize)
	assert.Equal(t, 5*time.Second, cfg.DrainTimeout)
	assert.Equal(t, 30*time.Second, cfg.PingInterval)
	assert.Equal(t, 90*time.Second, cfg.PongTimeout)
	assert.Empty(t, cfg.RedisURL)
	assert.Equal(t, "chat:", cfg.RedisChannelPrefix)
}

func TestParse_Overrides(t *testing.T) {
	t.Setenv("PORT", "8081")
	t.Setenv("CHAT_QUEUE_SIZE", "4")
	t.Setenv("CHAT_PING_INTERVAL", "1s")
	t.Setenv("CHAT_PONG_TIMEOUT", "3s")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")

	cfg, err := Parse()
	require.NoError(t, err)

	assert.Equal(t, ":8081", cfg.Addr())
	assert.Equal(t, 4, cfg.QueueSize)
	assert.Equal(t, time.Second, cfg.PingInterval)
	assert.Equal(t, 3*time.Second, cfg.PongTimeout)
	assert.Equal(t, "redis://localhost:6379/0", cfg.RedisURL)
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"zero queue", map[string]string{"CHAT_QUEUE_SIZE": "0"}},
		{"bad duration", map[string]string{"CHAT_DRAIN_TIMEOUT": "soon"}},
		{"pong before ping", map[string]string{"CHAT_PING_INTERVAL": "10s", "CHAT_PONG_TIMEOUT": "5s"}},
		{"blank topic", map[string]string{"CHAT_DEFAULT_TOPIC": "  "}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Parse()
			assert.Error(t, err)
		})
	}
}
