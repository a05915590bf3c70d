// Package chat implements the broadcast core: messages, subscriber sessions,
// the topic registry, the fan-out broker, the connection gateway and the
// publish endpoint.
package chat

import (
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

// DefaultTopic is the well-known topic used when a publisher omits one.
const DefaultTopic = "group"

// MaxTopicLength bounds topic names in bytes.
const MaxTopicLength = 256

// Message is one chat utterance. It is passed by value so every subscriber
// queue holds its own copy.
type Message struct {
	Sender    string    `json:"sender"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	Color     string    `json:"color"`
}

// ValidateTopic reports ErrInvalidTopic for names that are blank, too long,
// not UTF-8 or contain control characters.
func ValidateTopic(topic string) error {
	if strings.TrimSpace(topic) == "" {
		return ErrInvalidTopic
	}
	if len(topic) > MaxTopicLength || !utf8.ValidString(topic) {
		return ErrInvalidTopic
	}
	if strings.IndexFunc(topic, unicode.IsControl) >= 0 {
		return ErrInvalidTopic
	}
	return nil
}
