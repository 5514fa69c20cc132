// Package streaming publishes machine events over gRPC and reports the
// machine's readiness through the standard gRPC health service.
package streaming

import (
	"fmt"
	"sync"
	"time"

	"google.golang.org/protobuf/types/known/structpb"
)

const subscriberBuffer = 100

type EventStreamer struct {
	mu          sync.RWMutex
	subscribers map[chan *structpb.Struct]struct{}
	dropped     int
	closed      bool
}

func NewEventStreamer() *EventStreamer {
	return &EventStreamer{
		subscribers: make(map[chan *structpb.Struct]struct{}),
	}
}

func (s *EventStreamer) Subscribe() <-chan *structpb.Struct {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := make(chan *structpb.Struct, subscriberBuffer)
	if s.closed {
		close(ch)
		return ch
	}
	s.subscribers[ch] = struct{}{}
	return ch
}

func (s *EventStreamer) Unsubscribe(ch <-chan *structpb.Struct) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for sub := range s.subscribers {
		if sub == ch {
			delete(s.subscribers, sub)
			close(sub)
			return
		}
	}
}

// Publish converts an event to a Struct of type, timestamp and data and
// hands it to every subscriber. Full subscribers miss the event.
func (s *EventStreamer) Publish(eventType string, at time.Time, data map[string]any) error {
	ev, err := structpb.NewStruct(map[string]any{
		"type":      eventType,
		"timestamp": at.UTC().Format(time.RFC3339Nano),
		"data":      data,
	})
	if err != nil {
		return fmt.Errorf("failed to convert %s event: %w", eventType, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for ch := range s.subscribers {
		select {
		case ch <- ev:
		default:
			s.dropped++
		}
	}
	return nil
}

// Close ends every subscription, so running watches return and a graceful
// gRPC stop can finish. Later subscriptions are closed immediately.
func (s *EventStreamer) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	for ch := range s.subscribers {
		delete(s.subscribers, ch)
		close(ch)
	}
}

func (s *EventStreamer) SubscriberCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subscribers)
}

// Dropped counts events a full subscriber missed.
func (s *EventStreamer) Dropped() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dropped
}
