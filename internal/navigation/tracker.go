// Package navigation records route history and learns route-to-route
// transition frequencies for the predictive prefetcher.
package navigation

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event is a single recorded navigation.
type Event struct {
	Route     string
	Timestamp time.Time
	SessionID string
}

// Tracker keeps a bounded ring of navigation events for one session and is
// the only writer to it. Each record feeds the transition model with the
// (previous, current) edge.
type Tracker struct {
	mu        sync.Mutex
	sessionID string
	events    []Event
	head      int
	count     int
	prev      string
	hasPrev   bool
	model     *Model
	now       func() time.Time
}

// NewTracker creates a tracker retaining the most recent capacity events.
// model may be nil when transition learning is disabled.
func NewTracker(capacity int, model *Model) *Tracker {
	if capacity <= 0 {
		capacity = 50
	}
	return &Tracker{
		sessionID: uuid.NewString(),
		events:    make([]Event, capacity),
		model:     model,
		now:       time.Now,
	}
}

// SessionID returns the tracker's session identifier.
func (t *Tracker) SessionID() string {
	return t.sessionID
}

// Record appends a navigation event, dropping the oldest once the ring is
// full, and updates the transition model when a previous route exists.
func (t *Tracker) Record(route string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	event := Event{
		Route:     route,
		Timestamp: t.now(),
		SessionID: t.sessionID,
	}

	idx := (t.head + t.count) % len(t.events)
	t.events[idx] = event
	if t.count < len(t.events) {
		t.count++
	} else {
		t.head = (t.head + 1) % len(t.events)
	}

	if t.hasPrev && t.model != nil {
		t.model.Update(t.prev, route)
	}
	t.prev = route
	t.hasPrev = true
}

// History returns the retained events in order, oldest first. The returned
// slice is a copy.
func (t *Tracker) History() []Event {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]Event, 0, t.count)
	for i := 0; i < t.count; i++ {
		out = append(out, t.events[(t.head+i)%len(t.events)])
	}
	return out
}
