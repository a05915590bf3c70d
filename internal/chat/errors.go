package chat

import "errors"

var (
	// ErrInvalidTopic rejects a topic that is empty, too long or holds
	// control characters.
	ErrInvalidTopic = errors.New("invalid topic")
	// ErrEmptySender rejects a publish whose sender is blank.
	ErrEmptySender = errors.New("empty sender")
	// ErrSessionNotFound is returned for an unknown session ID.
	ErrSessionNotFound = errors.New("session not found")
	// ErrTransportFailure wraps a send or receive error on a subscriber's
	// connection.
	ErrTransportFailure = errors.New("transport failure")
	// ErrGatewayClosed refuses new sessions once shutdown has begun.
	ErrGatewayClosed = errors.New("gateway closed")
	// ErrRelayFailure wraps an error from the relay behind the publisher.
	ErrRelayFailure = errors.New("relay failure")
)

// ErrorCode maps an error to the stable code sent to clients.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidTopic):
		return "invalid_topic"
	case errors.Is(err, ErrEmptySender):
		return "empty_sender"
	case errors.Is(err, ErrSessionNotFound):
		return "session_not_found"
	case errors.Is(err, ErrTransportFailure):
		return "transport_failure"
	case errors.Is(err, ErrGatewayClosed):
		return "unavailable"
	case errors.Is(err, ErrRelayFailure):
		return "relay_failure"
	default:
		return "internal"
	}
}

// ErrorForCode is the inverse of ErrorCode: it returns the sentinel a client
// code stands for, or nil when the code has none.
func ErrorForCode(code string) error {
	switch code {
	case "invalid_topic":
		return ErrInvalidTopic
	case "empty_sender":
		return ErrEmptySender
	case "session_not_found":
		return ErrSessionNotFound
	case "transport_failure":
		return ErrTransportFailure
	case "unavailable":
		return ErrGatewayClosed
	case "relay_failure":
		return ErrRelayFailure
	default:
		return nil
	}
}
