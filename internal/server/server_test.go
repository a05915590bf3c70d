package server

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/galadrimteam/groupchat/internal/chat"
	"github.com/galadrimteam/groupchat/internal/protocol"
)

type testServer struct {
	*httptest.Server
	gateway  *chat.Gateway
	registry *chat.Registry
}

func newTestServer(t *testing.T, opts ...func(*Handlers)) *testServer {
	t.Helper()
	registry := chat.NewRegistry()
	broker := chat.NewBroker(registry)
	gateway := chat.NewGateway(registry, chat.WithDrainTimeout(time.Second))
	h := &Handlers{
		Gateway:      gateway,
		Publisher:    chat.NewPublisher(broker),
		Registry:     registry,
		Logger:       zap.NewNop(),
		DefaultTopic: chat.DefaultTopic,
		PingInterval: time.Hour,
		PongTimeout:  time.Hour,
		WriteTimeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(h)
	}
	srv := httptest.NewServer(NewRouter(h, nil))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { _ = gateway.Close(context.Background()) })
	return &testServer{Server: srv, gateway: gateway, registry: registry}
}

func (s *testServer) dial(t *testing.T, topic string) (*websocket.Conn, protocol.SessionInfo) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(s.URL, "http") + "/ws/chat?topic=" + topic
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	f := readFrame(t, conn)
	require.NotNil(t, f.Session, "first frame must identify the session")
	return conn, *f.Session
}

func readFrame(t *testing.T, conn *websocket.Conn) protocol.Frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var f protocol.Frame
	require.NoError(t, conn.ReadJSON(&f))
	return f
}

// readMessage skips acks until a chat message arrives.
func readMessage(t *testing.T, conn *websocket.Conn) chat.Message {
	t.Helper()
	for {
		f := readFrame(t, conn)
		require.Nil(t, f.Error)
		if f.IsMessage() {
			return f.Message
		}
	}
}

func (s *testServer) post(t *testing.T, body string) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.Post(s.URL+"/api/messages", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func TestPublish_Accepted(t *testing.T) {
	s := newTestServer(t)

	before := time.Now().UTC()
	resp, body := s.post(t, `{"sender":"alice","content":"hi"}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var ack chat.Ack
	require.NoError(t, json.Unmarshal(body, &ack))
	assert.Equal(t, chat.DefaultTopic, ack.Topic)
	assert.False(t, ack.Timestamp.Before(before.Truncate(time.Second)))
}

func TestPublish_Rejected(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name string
		body string
		code string
	}{
		{"invalid json", `{"sender":`, protocol.CodeInvalidPayload},
		{"empty sender", `{"sender":"  ","content":"hi"}`, "empty_sender"},
		{"invalid topic", `{"sender":"alice","content":"hi","topic":"a\u0001b"}`, "invalid_topic"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := s.post(t, tt.body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

			var f protocol.ErrorFrame
			require.NoError(t, json.Unmarshal(body, &f))
			assert.Equal(t, tt.code, f.Error.Code)
		})
	}
}

func TestPublish_GatewayClosedStillAccepts(t *testing.T) {
	s := newTestServer(t)
	require.NoError(t, s.gateway.Close(context.Background()))

	resp, _ := s.post(t, `{"sender":"alice","content":"hi"}`)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
}

func TestWebSocket_PublishReachesEverySubscriber(t *testing.T) {
	s := newTestServer(t)

	alice, info := s.dial(t, "group")
	assert.Equal(t, "group", info.Topic)
	assert.NotEmpty(t, info.ID)
	bob, _ := s.dial(t, "group")

	require.NoError(t, alice.WriteJSON(protocol.PublishFrame{Sender: "alice", Content: "hi"}))

	for _, conn := range []*websocket.Conn{alice, bob} {
		msg := readMessage(t, conn)
		assert.Equal(t, "alice", msg.Sender)
		assert.Equal(t, "hi", msg.Content)
		assert.Contains(t, chat.Palette, msg.Color)
		assert.False(t, msg.Timestamp.IsZero())
	}
}

func TestWebSocket_AckAndError(t *testing.T) {
	s := newTestServer(t)
	conn, _ := s.dial(t, "group")

	require.NoError(t, conn.WriteJSON(protocol.PublishFrame{Sender: "", Content: "hi"}))
	f := readFrame(t, conn)
	require.NotNil(t, f.Error)
	assert.Equal(t, "empty_sender", f.Error.Code)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("nope")))
	f = readFrame(t, conn)
	require.NotNil(t, f.Error)
	assert.Equal(t, protocol.CodeInvalidPayload, f.Error.Code)

	require.NoError(t, conn.WriteJSON(protocol.PublishFrame{Sender: "alice", Content: "ok"}))
	var acked, delivered bool
	for !acked || !delivered {
		f := readFrame(t, conn)
		switch {
		case f.Ack != nil:
			assert.Equal(t, "group", f.Ack.Topic)
			acked = true
		case f.IsMessage():
			assert.Equal(t, "ok", f.Content)
			delivered = true
		default:
			t.Fatalf("unexpected frame %+v", f)
		}
	}
}

func TestWebSocket_TopicsAreIsolated(t *testing.T) {
	s := newTestServer(t)
	general, _ := s.dial(t, "general")
	random, _ := s.dial(t, "random")

	resp, _ := s.post(t, `{"sender":"alice","content":"to random","topic":"random"}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	resp, _ = s.post(t, `{"sender":"alice","content":"to general","topic":"general"}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	assert.Equal(t, "to random", readMessage(t, random).Content)
	assert.Equal(t, "to general", readMessage(t, general).Content)
}

func TestWebSocket_InvalidTopicRejectedBeforeUpgrade(t *testing.T) {
	s := newTestServer(t)
	url := "ws" + strings.TrimPrefix(s.URL, "http") + "/ws/chat?topic=%01"

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestWebSocket_ClientCloseUnsubscribes(t *testing.T) {
	s := newTestServer(t)
	conn, _ := s.dial(t, "group")
	require.Equal(t, 1, s.gateway.Count())

	require.NoError(t, conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	require.NoError(t, conn.Close())

	require.Eventually(t, func() bool {
		return s.gateway.Count() == 0 && len(s.registry.Snapshot("group")) == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWebSocket_HeartbeatTimeoutTearsDown(t *testing.T) {
	s := newTestServer(t, func(h *Handlers) {
		h.PingInterval = 50 * time.Millisecond
		h.PongTimeout = 150 * time.Millisecond
	})

	// Pongs are only sent while reading, so a client that stops reading
	// after the session frame never answers a ping.
	_, _ = s.dial(t, "group")

	alive, info := s.dial(t, "group")
	require.NoError(t, alive.SetReadDeadline(time.Time{}))
	go func() {
		for {
			if _, _, err := alive.ReadMessage(); err != nil {
				return
			}
		}
	}()
	require.Equal(t, 2, s.gateway.Count())

	require.Eventually(t, func() bool {
		return s.gateway.Count() == 1 && len(s.registry.Snapshot("group")) == 1
	}, 2*time.Second, 10*time.Millisecond)

	// The reading client keeps answering pings past the timeout.
	time.Sleep(300 * time.Millisecond)
	subs := s.registry.Snapshot("group")
	require.Len(t, subs, 1)
	assert.Equal(t, info.ID, subs[0].ID)
}

func TestWebSocket_HeartbeatTimeoutEmptiesTopic(t *testing.T) {
	s := newTestServer(t, func(h *Handlers) {
		h.PingInterval = 50 * time.Millisecond
		h.PongTimeout = 150 * time.Millisecond
	})

	_, _ = s.dial(t, "group")
	require.Equal(t, 1, s.gateway.Count())

	require.Eventually(t, func() bool {
		return s.gateway.Count() == 0 && len(s.registry.Snapshot("group")) == 0
	}, 2*time.Second, 10*time.Millisecond)
	assert.Empty(t, s.registry.Topics())
}

func TestWebSocket_ReconnectGetsNoReplay(t *testing.T) {
	s := newTestServer(t)
	first, _ := s.dial(t, "group")
	require.NoError(t, first.Close())
	require.Eventually(t, func() bool { return s.gateway.Count() == 0 }, 2*time.Second, 10*time.Millisecond)

	resp, _ := s.post(t, `{"sender":"alice","content":"missed"}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	second, _ := s.dial(t, "group")
	resp, _ = s.post(t, `{"sender":"alice","content":"live"}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	assert.Equal(t, "live", readMessage(t, second).Content)
}

func TestSessions_InspectAndDelete(t *testing.T) {
	s := newTestServer(t)
	conn, info := s.dial(t, "group")

	resp, err := http.Get(s.URL + "/api/sessions/" + info.ID)
	require.NoError(t, err)
	var got sessionResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, info.ID, got.ID)
	assert.Equal(t, "active", got.State)
	assert.Equal(t, 16, got.Capacity)

	req, err := http.NewRequest(http.MethodDelete, s.URL+"/api/sessions/"+info.ID, nil)
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)

	resp, err = http.Get(s.URL + "/api/sessions/" + info.ID)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	// Deleting again is harmless.
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestTopicsAndHealth(t *testing.T) {
	s := newTestServer(t)
	s.dial(t, "general")
	s.dial(t, "general")
	s.dial(t, "random")

	resp, err := http.Get(s.URL + "/api/topics")
	require.NoError(t, err)
	var topics topicsResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&topics))
	resp.Body.Close()
	assert.Equal(t, []chat.TopicInfo{
		{Name: "general", Subscribers: 2},
		{Name: "random", Subscribers: 1},
	}, topics.Topics)

	resp, err = http.Get(s.URL + "/healthz")
	require.NoError(t, err)
	var health healthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	resp.Body.Close()
	assert.Equal(t, healthResponse{Status: "ok", Sessions: 3}, health)
}

func TestIndex(t *testing.T) {
	s := newTestServer(t)
	resp, err := http.Get(s.URL + "/")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/html")
}

func readEvent(t *testing.T, r *bufio.Reader) protocol.Frame {
	t.Helper()
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		data, ok := strings.CutPrefix(strings.TrimRight(line, "\n"), "data: ")
		if !ok {
			continue
		}
		var f protocol.Frame
		require.NoError(t, json.Unmarshal([]byte(data), &f))
		return f
	}
}

func TestStream(t *testing.T) {
	s := newTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL+"/stream?topic=general", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	r := bufio.NewReader(resp.Body)
	first := readEvent(t, r)
	require.NotNil(t, first.Session)
	assert.Equal(t, "general", first.Session.Topic)

	pub, _ := s.post(t, `{"sender":"alice","content":"hi","topic":"general"}`)
	require.Equal(t, http.StatusAccepted, pub.StatusCode)

	msg := readEvent(t, r)
	require.True(t, msg.IsMessage())
	assert.Equal(t, "alice", msg.Sender)
	assert.Equal(t, "hi", msg.Content)

	cancel()
	require.Eventually(t, func() bool { return s.gateway.Count() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestStream_InvalidTopic(t *testing.T) {
	s := newTestServer(t)
	resp, err := http.Get(s.URL + "/stream?topic=%7F")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
