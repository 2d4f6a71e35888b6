// ABOUTME: In-memory fan-out event broadcaster keyed by room
// ABOUTME: Delivers relay events to every subscriber of a conversation room or the global room

package conversation

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

const (
	// subscriberBufferSize is the channel buffer for each subscriber.
	// Turns publish one event per delta, so rooms need more headroom than a
	// message-level feed.
	subscriberBufferSize = 256

	// GlobalRoom receives index-level events for every conversation.
	GlobalRoom = "*"
)

// EventBroadcaster provides in-memory pub/sub for relay events. Subscribers
// register for a room (a conversation id, or GlobalRoom) and receive events
// published to it. Publishing never blocks: a subscriber whose buffer is
// full misses the event.
type EventBroadcaster struct {
	mu          sync.RWMutex
	subscribers map[string]map[string]chan *Event // room -> subID -> ch
	closed      bool
	logger      *slog.Logger
}

// NewEventBroadcaster creates a broadcaster. Pass nil logger for default.
func NewEventBroadcaster(logger *slog.Logger) *EventBroadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventBroadcaster{
		subscribers: make(map[string]map[string]chan *Event),
		logger:      logger.With("component", "broadcaster"),
	}
}

// Subscribe registers a subscriber for events on room. It returns the event
// channel and a subscription ID for Unsubscribe. The subscription is removed
// and its channel closed when ctx is cancelled.
func (b *EventBroadcaster) Subscribe(ctx context.Context, room string) (<-chan *Event, string) {
	subID := uuid.New().String()
	ch := make(chan *Event, subscriberBufferSize)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, subID
	}
	if _, ok := b.subscribers[room]; !ok {
		b.subscribers[room] = make(map[string]chan *Event)
	}
	b.subscribers[room][subID] = ch
	b.mu.Unlock()

	b.logger.Debug("subscriber added", "room", room, "sub_id", subID)

	go func() {
		<-ctx.Done()
		b.Unsubscribe(room, subID)
	}()

	return ch, subID
}

// Publish sends event to all subscribers of room.
func (b *EventBroadcaster) Publish(room string, event *Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	// Sends happen under the read lock so Unsubscribe cannot close a channel
	// mid-send; they never block, so the lock is held briefly.
	for id, ch := range b.subscribers[room] {
		select {
		case ch <- event:
		default:
			b.logger.Debug("dropped event for slow subscriber",
				"room", room,
				"sub_id", id,
				"type", event.Type)
		}
	}
}

// Subscribers returns the number of subscribers in room.
func (b *EventBroadcaster) Subscribers(room string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[room])
}

// Unsubscribe removes a subscription and closes its channel.
func (b *EventBroadcaster) Unsubscribe(room, subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.subscribers[room]
	if !ok {
		return
	}

	ch, exists := subs[subID]
	if !exists {
		return
	}

	delete(subs, subID)
	close(ch)

	if len(subs) == 0 {
		delete(b.subscribers, room)
	}

	b.logger.Debug("subscriber removed", "room", room, "sub_id", subID)
}

// Close shuts down the broadcaster and closes all subscriber channels.
// Later subscriptions receive an already-closed channel.
func (b *EventBroadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for room, subs := range b.subscribers {
		for subID, ch := range subs {
			close(ch)
			delete(subs, subID)
		}
		delete(b.subscribers, room)
	}
	b.closed = true

	b.logger.Debug("broadcaster closed")
}
