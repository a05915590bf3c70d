// Package protocol defines the JSON frames exchanged with chat clients over
// HTTP, websocket and SSE.
package protocol

import (
	"github.com/galadrimteam/groupchat/internal/chat"
)

// PublishRequest is the body of POST /api/messages.
type PublishRequest struct {
	Sender  string `json:"sender"`
	Content string `json:"content"`
	Topic   string `json:"topic,omitempty"`
}

// PublishFrame is a client→server websocket frame. The topic is the one the
// socket subscribed to.
type PublishFrame struct {
	Sender  string `json:"sender"`
	Content string `json:"content"`
}

// SessionInfo identifies the session behind a subscription.
type SessionInfo struct {
	ID    string `json:"id"`
	Topic string `json:"topic"`
}

// SessionFrame is the first frame of every subscription.
type SessionFrame struct {
	Session SessionInfo `json:"session"`
}

// AckFrame answers an accepted websocket publish.
type AckFrame struct {
	Ack chat.Ack `json:"ack"`
}

// ErrorBody is the payload of an error frame: a stable code from
// chat.ErrorCode and a human-readable message.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ErrorFrame answers a rejected request, over HTTP or websocket.
type ErrorFrame struct {
	Error ErrorBody `json:"error"`
}

// CodeInvalidPayload marks bodies that are not valid JSON.
const CodeInvalidPayload = "invalid_payload"

// NewError builds the error frame for err.
func NewError(err error) ErrorFrame {
	return ErrorFrame{Error: ErrorBody{Code: chat.ErrorCode(err), Message: err.Error()}}
}

// InvalidPayload builds the error frame for an undecodable body.
func InvalidPayload(err error) ErrorFrame {
	return ErrorFrame{Error: ErrorBody{Code: CodeInvalidPayload, Message: err.Error()}}
}

// Frame is any server→client frame as seen by a client. Chat messages are
// sent bare, so a frame without session, ack or error is a Message.
type Frame struct {
	chat.Message
	Session *SessionInfo `json:"session,omitempty"`
	Ack     *chat.Ack    `json:"ack,omitempty"`
	Error   *ErrorBody   `json:"error,omitempty"`
}

// IsMessage reports whether f carries a chat message.
func (f Frame) IsMessage() bool {
	return f.Session == nil && f.Ack == nil && f.Error == nil
}

// Err returns the frame's error, if any. It matches the chat sentinel for its
// code under errors.Is.
func (f Frame) Err() error {
	if f.Error == nil {
		return nil
	}
	return &RemoteError{Code: f.Error.Code, Message: f.Error.Message}
}

// RemoteError is an error reported by the server in an error frame.
type RemoteError struct {
	Code    string
	Message string
}

func (e *RemoteError) Error() string {
	return e.Code + ": " + e.Message
}

// Unwrap returns the chat sentinel for the code, or nil.
func (e *RemoteError) Unwrap() error {
	return chat.ErrorForCode(e.Code)
}
