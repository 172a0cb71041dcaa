package session

import (
	"sync"
	"time"
)

// EventKind enumerates session lifecycle notifications.
type EventKind string

const (
	// EventInvalid is published when the provider rejected the session and
	// the user must be sent back to the sign-in screen.
	EventInvalid EventKind = "session.invalid"
	// EventSignedOut is published after an explicit sign-out.
	EventSignedOut EventKind = "session.signed_out"
)

// Notice is the user-visible message attached to an event.
type Notice struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Variant     string `json:"variant"`
}

// Event describes a session lifecycle change.
type Event struct {
	Kind        EventKind `json:"kind"`
	PrincipalID string    `json:"principal_id,omitempty"`
	RedirectTo  string    `json:"redirect_to,omitempty"`
	Notice      Notice    `json:"notice"`
	At          time.Time `json:"at"`
}

// ExpiredNotice is shown when a session is rejected.
var ExpiredNotice = Notice{
	Title:       "Session expired",
	Description: "Please sign in again",
	Variant:     "destructive",
}

// SignInPath is where the UI shell navigates on EventInvalid.
const SignInPath = "/login"

// Broadcaster fans events out to subscribers. Slow subscribers drop events
// rather than blocking the publisher.
type Broadcaster struct {
	mu     sync.Mutex
	next   int
	subs   map[int]chan Event
	buffer int
}

// NewBroadcaster builds a Broadcaster whose subscriber channels hold buffer events.
func NewBroadcaster(buffer int) *Broadcaster {
	if buffer <= 0 {
		buffer = 1
	}
	return &Broadcaster{subs: make(map[int]chan Event), buffer: buffer}
}

// Subscribe registers a listener. The returned function unsubscribes and
// closes the channel.
func (b *Broadcaster) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.next
	b.next++
	ch := make(chan Event, b.buffer)
	b.subs[id] = ch
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if sub, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(sub)
			}
		})
	}
}

// Publish delivers ev to every subscriber with room in its buffer.
func (b *Broadcaster) Publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
