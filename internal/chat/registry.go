package chat

import (
	"sort"
	"sync"
	"time"
)

// TopicInfo describes one topic for diagnostics.
type TopicInfo struct {
	Name        string `json:"name"`
	Subscribers int    `json:"subscribers"`
}

type topicEntry struct {
	name string

	// fanout serializes broadcasts on this topic. It is never held while
	// subscribing or unsubscribing.
	fanout sync.Mutex
	last   time.Time // guarded by fanout

	mu   sync.RWMutex
	subs map[*Session]struct{}
}

func (t *topicEntry) snapshot() []*Session {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*Session, 0, len(t.subs))
	for s := range t.subs {
		out = append(out, s)
	}
	return out
}

func (t *topicEntry) len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.subs)
}

// Registry maps topic names to the sessions subscribed to them. It holds
// non-owning references; the Gateway owns session lifetime.
//
// A topic entry is dropped when its last subscriber leaves. A broadcast still
// holding a dropped entry fans out to nobody, and a later Subscribe creates a
// fresh entry, so live subscribers always share one fan-out lock.
type Registry struct {
	mu     sync.RWMutex
	topics map[string]*topicEntry
	owners map[*Session]string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		topics: make(map[string]*topicEntry),
		owners: make(map[*Session]string),
	}
}

// Subscribe registers s under topic. A session belongs to at most one topic,
// so a previous registration elsewhere is removed.
func (r *Registry) Subscribe(topic string, s *Session) error {
	if err := ValidateTopic(topic); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.owners[s]; ok {
		if prev == topic {
			return nil
		}
		r.remove(prev, s)
	}

	t, ok := r.topics[topic]
	if !ok {
		t = &topicEntry{name: topic, subs: make(map[*Session]struct{})}
		r.topics[topic] = t
	}
	t.mu.Lock()
	t.subs[s] = struct{}{}
	t.mu.Unlock()
	r.owners[s] = topic
	return nil
}

// Unsubscribe removes s from topic. Unknown pairs are ignored.
func (r *Registry) Unsubscribe(topic string, s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.owners[s] != topic {
		return
	}
	r.remove(topic, s)
}

// remove requires r.mu held for writing.
func (r *Registry) remove(topic string, s *Session) {
	if t, ok := r.topics[topic]; ok {
		t.mu.Lock()
		delete(t.subs, s)
		empty := len(t.subs) == 0
		t.mu.Unlock()
		if empty {
			delete(r.topics, topic)
		}
	}
	delete(r.owners, s)
}

// Snapshot returns a point-in-time copy of the topic's subscribers.
func (r *Registry) Snapshot(topic string) []*Session {
	t := r.lookup(topic)
	if t == nil {
		return nil
	}
	return t.snapshot()
}

// TopicOf returns the topic s is registered under.
func (r *Registry) TopicOf(s *Session) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	topic, ok := r.owners[s]
	return topic, ok
}

// Topics lists topics with at least one subscriber, in name order.
func (r *Registry) Topics() []TopicInfo {
	r.mu.RLock()
	entries := make([]*topicEntry, 0, len(r.topics))
	for _, t := range r.topics {
		entries = append(entries, t)
	}
	r.mu.RUnlock()

	out := make([]TopicInfo, 0, len(entries))
	for _, t := range entries {
		out = append(out, TopicInfo{Name: t.name, Subscribers: t.len()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (r *Registry) lookup(topic string) *topicEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.topics[topic]
}
