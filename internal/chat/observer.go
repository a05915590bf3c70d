package chat

// Observer receives counters from the broadcast path. Implementations must be
// safe for concurrent use and must not block.
type Observer interface {
	Published(topic string)
	Rejected(code string)
	Enqueued(topic string)
	Evicted(topic string)
	SessionOpened(topic string)
	SessionClosed(topic string, transportFailure bool)
}

type nopObserver struct{}

func (nopObserver) Published(string)           {}
func (nopObserver) Rejected(string)            {}
func (nopObserver) Enqueued(string)            {}
func (nopObserver) Evicted(string)             {}
func (nopObserver) SessionOpened(string)       {}
func (nopObserver) SessionClosed(string, bool) {}
