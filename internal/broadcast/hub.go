// Package broadcast provides channel-keyed publish/subscribe for encounter
// events, bridging the combat engine to whatever transport consumes it.
package broadcast

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Subscriber routes published events to a Go channel, bridging the encounter
// to a consumer goroutine.
type Subscriber struct {
	id      string
	channel string
	events  chan []byte
	mu      sync.Mutex
	closed  bool
}

// ID returns the subscriber's unique identifier.
func (s *Subscriber) ID() string { return s.id }

// Channel returns the channel name the subscriber is attached to.
func (s *Subscriber) Channel() string { return s.channel }

// Events returns the read-only events channel. The consumer goroutine reads
// from this channel; it is closed by Unsubscribe.
func (s *Subscriber) Events() <-chan []byte {
	return s.events
}

// push enqueues data without blocking.
//
// Postcondition: data is enqueued, or an error if the subscriber is closed
// or its buffer is full.
func (s *Subscriber) push(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("subscriber %s is closed", s.id)
	}
	select {
	case s.events <- data:
		return nil
	default:
		return fmt.Errorf("subscriber %s event buffer full", s.id)
	}
}

func (s *Subscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.events)
	}
}

// IsClosed reports whether the subscriber has been closed.
func (s *Subscriber) IsClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Hub is a channel-keyed pub/sub fan-out. Publishing never blocks: a slow or
// closed subscriber drops the event, other subscribers still receive it.
// All methods are safe for concurrent use.
type Hub struct {
	mu       sync.RWMutex
	channels map[string]map[string]*Subscriber // channel → subscriber ID → subscriber
	nextID   int
	logger   *zap.Logger
}

// NewHub creates an empty Hub.
//
// Precondition: logger must be non-nil.
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		channels: make(map[string]map[string]*Subscriber),
		logger:   logger,
	}
}

// Subscribe attaches a new subscriber to the named channel.
//
// Precondition: channel must be non-empty; bufferSize <= 0 selects the
// default of 64.
// Postcondition: the subscriber receives every subsequent Publish to the
// channel in publish order, until Unsubscribe.
func (h *Hub) Subscribe(channel string, bufferSize int) *Subscriber {
	if bufferSize <= 0 {
		bufferSize = 64
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	sub := &Subscriber{
		id:      fmt.Sprintf("%s#%d", channel, h.nextID),
		channel: channel,
		events:  make(chan []byte, bufferSize),
	}
	if h.channels[channel] == nil {
		h.channels[channel] = make(map[string]*Subscriber)
	}
	h.channels[channel][sub.id] = sub
	return sub
}

// Unsubscribe detaches sub and closes its events channel. Idempotent.
func (h *Hub) Unsubscribe(sub *Subscriber) {
	h.mu.Lock()
	if subs, ok := h.channels[sub.channel]; ok {
		delete(subs, sub.id)
		if len(subs) == 0 {
			delete(h.channels, sub.channel)
		}
	}
	h.mu.Unlock()
	sub.close()
}

// Publish delivers data to every subscriber of the named channel. Fire and
// forget: full or closed subscribers drop the event and the drop is logged
// at debug level; the publisher never blocks.
func (h *Hub) Publish(channel string, data []byte) {
	h.mu.RLock()
	subs := make([]*Subscriber, 0, len(h.channels[channel]))
	for _, sub := range h.channels[channel] {
		subs = append(subs, sub)
	}
	h.mu.RUnlock()

	for _, sub := range subs {
		if err := sub.push(data); err != nil {
			h.logger.Debug("broadcast: dropped event",
				zap.String("channel", channel),
				zap.String("subscriber", sub.ID()),
				zap.Error(err),
			)
		}
	}
}

// SubscriberCount returns the number of subscribers on the named channel.
func (h *Hub) SubscriberCount(channel string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.channels[channel])
}

// EncounterChannel names the public event channel for an encounter.
func EncounterChannel(encounterID string) string {
	return "encounter:" + encounterID
}

// ActorChannel names the private event channel for an actor.
func ActorChannel(actorID string) string {
	return "actor:" + actorID
}
