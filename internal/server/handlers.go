// Package server exposes the broadcast core over HTTP: a REST publish
// endpoint, websocket and SSE subscriptions, and diagnostics.
package server

import (
	"embed"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/galadrimteam/groupchat/internal/chat"
	"github.com/galadrimteam/groupchat/internal/protocol"
)

//go:embed index.html
var staticFS embed.FS

const maxBodyBytes = 64 << 10

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	Gateway   *chat.Gateway
	Publisher *chat.Publisher
	Registry  *chat.Registry
	Logger    *zap.Logger

	DefaultTopic string
	PingInterval time.Duration
	PongTimeout  time.Duration
	WriteTimeout time.Duration
}

// HandleIndex serves the embedded test page.
func (h *Handlers) HandleIndex(w http.ResponseWriter, r *http.Request) {
	data, err := staticFS.ReadFile("index.html")
	if err != nil {
		http.Error(w, "index.html not found", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(data)
}

type healthResponse struct {
	Status   string `json:"status"`
	Sessions int    `json:"sessions"`
}

// HandleHealth reports liveness and the open session count.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Sessions: h.Gateway.Count()})
}

// HandlePublish accepts a chat message and acknowledges it once the relay
// took it. The acknowledgment is not a delivery receipt.
func (h *Handlers) HandlePublish(w http.ResponseWriter, r *http.Request) {
	var req protocol.PublishRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, protocol.InvalidPayload(err))
		return
	}
	if req.Topic == "" {
		req.Topic = h.DefaultTopic
	}

	ack, err := h.Publisher.Publish(r.Context(), chat.PublishRequest{
		Sender:  req.Sender,
		Content: req.Content,
		Topic:   req.Topic,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, ack)
}

type topicsResponse struct {
	Topics []chat.TopicInfo `json:"topics"`
}

// HandleTopics lists known topics and their subscriber counts.
func (h *Handlers) HandleTopics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, topicsResponse{Topics: h.Registry.Topics()})
}

type sessionResponse struct {
	ID        string    `json:"id"`
	Topic     string    `json:"topic"`
	State     string    `json:"state"`
	Connected time.Time `json:"connected"`
	Queued    int       `json:"queued"`
	Capacity  int       `json:"capacity"`
	Delivered uint64    `json:"delivered"`
	Lagging   uint64    `json:"lagging"`
}

// HandleGetSession returns delivery diagnostics for one session.
func (h *Handlers) HandleGetSession(w http.ResponseWriter, r *http.Request) {
	s, err := h.Gateway.Session(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{
		ID:        s.ID,
		Topic:     s.Topic,
		State:     s.State().String(),
		Connected: s.Connected,
		Queued:    s.Queued(),
		Capacity:  s.Capacity(),
		Delivered: s.Delivered(),
		Lagging:   s.Lagging(),
	})
}

// HandleDeleteSession disconnects a session. Unknown ids are not an error.
func (h *Handlers) HandleDeleteSession(w http.ResponseWriter, r *http.Request) {
	h.Gateway.DisconnectID(chi.URLParam(r, "id"))
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) topicParam(r *http.Request) string {
	if topic := r.URL.Query().Get("topic"); topic != "" {
		return topic
	}
	return h.DefaultTopic
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), protocol.NewError(err))
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, chat.ErrInvalidTopic), errors.Is(err, chat.ErrEmptySender):
		return http.StatusBadRequest
	case errors.Is(err, chat.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, chat.ErrGatewayClosed), errors.Is(err, chat.ErrRelayFailure):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
