package stream

import (
	"context"
	"sync"
	"time"
)

// Event kinds published by the distribution components.
const (
	KindGrantCreated = "grant_created"
	KindClaim        = "claim"
	KindPurchase     = "purchase"
	KindWithdrawal   = "withdrawal"
	KindLimitChanged = "limit_changed"
)

// Event is one domain occurrence delivered to subscribers (SSE clients).
type Event struct {
	Kind      string         `json:"kind"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data"`
}

// Publisher accepts events. A nil Publisher is valid and discards them.
type Publisher interface {
	Publish(Event)
}

// Emit publishes to p if it is set.
func Emit(p Publisher, kind string, at time.Time, data map[string]any) {
	if p == nil {
		return
	}
	p.Publish(Event{Kind: kind, Timestamp: at.UTC(), Data: data})
}

// Stream fans events out to all active subscribers.
type Stream struct {
	mu   sync.RWMutex
	subs map[int]chan Event
	next int
}

// New initialises an empty stream.
func New() *Stream {
	return &Stream{subs: make(map[int]chan Event)}
}

// Subscribe registers a subscriber and returns a channel which will receive events.
// The channel is closed when the provided context ends.
func (s *Stream) Subscribe(ctx context.Context) <-chan Event {
	ch := make(chan Event, 16)

	s.mu.Lock()
	id := s.next
	s.next++
	s.subs[id] = ch
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.subs, id)
		close(ch)
		s.mu.Unlock()
	}()

	return ch
}

// Subscribers reports how many subscribers are attached.
func (s *Stream) Subscribers() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subs)
}

// Publish fan-outs the event to all subscribers.
func (s *Stream) Publish(evt Event) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ch := range s.subs {
		select {
		case ch <- evt:
		default:
			// Drop when subscriber is slow to avoid blocking.
		}
	}
}
