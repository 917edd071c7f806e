package store

import (
	"time"

	"netsentinel/internal/model"
)

// EventKind names a store change.
type EventKind string

const (
	EventSample  EventKind = "sample"
	EventStarted EventKind = "started"
	EventStopped EventKind = "stopped"
	EventCleared EventKind = "cleared"
	EventView    EventKind = "view"
)

// Event is published to subscribers after each mutation.
type Event struct {
	Kind      EventKind     `json:"kind"`
	EpochID   string        `json:"epoch_id,omitempty"`
	SessionID string        `json:"session_id,omitempty"`
	TargetID  string        `json:"target_id,omitempty"`
	Sample    *model.Sample `json:"sample,omitempty"`
	At        time.Time     `json:"at"`
}

// Subscribe registers a listener. Delivery is non-blocking: a subscriber that
// falls more than buffer events behind misses events. The returned func
// unsubscribes and closes the channel.
func (s *Store) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Event, buffer)

	s.mu.Lock()
	s.subs[ch] = struct{}{}
	s.mu.Unlock()

	var once bool
	return ch, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if once {
			return
		}
		once = true
		delete(s.subs, ch)
		close(ch)
	}
}

func (s *Store) publishLocked(ev Event) {
	for ch := range s.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
