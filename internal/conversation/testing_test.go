// ABOUTME: Shared fixtures for conversation tests: a recording sink and scripted upstreams
// ABOUTME: recordingSink keeps every event in emission order for ordering assertions

package conversation

import (
	"context"
	"errors"
	"iter"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/2389/chatrelay/internal/store"
	"github.com/2389/chatrelay/internal/upstream"
)

var errUpstreamDown = errors.New("connection refused")

// recordingSink captures events in the order they were emitted.
type recordingSink struct {
	mu     sync.Mutex
	events []Event
}

func (r *recordingSink) add(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recordingSink) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func (r *recordingSink) OfType(t EventType) []Event {
	var out []Event
	for _, e := range r.Events() {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

// indexOf returns the position of the first event of type t, or -1.
func (r *recordingSink) indexOf(t EventType) int {
	for i, e := range r.Events() {
		if e.Type == t {
			return i
		}
	}
	return -1
}

func (r *recordingSink) Chunk(conversationID, messageID, content string, sequence int) {
	r.add(Event{Type: EventChunk, ConversationID: conversationID, MessageID: messageID, Content: content, Sequence: sequence})
}

func (r *recordingSink) Complete(conversationID, messageID string, totalChunks int, completeResponse string) {
	r.add(Event{Type: EventComplete, ConversationID: conversationID, MessageID: messageID, TotalChunks: &totalChunks, CompleteResponse: completeResponse})
}

func (r *recordingSink) Error(conversationID, messageID, description string) {
	r.add(Event{Type: EventError, ConversationID: conversationID, MessageID: messageID, Error: description})
}

func (r *recordingSink) Updated(conversationID string) {
	r.add(Event{Type: EventUpdated, ConversationID: conversationID})
}

func (r *recordingSink) Renamed(conversationID, title string) {
	r.add(Event{Type: EventRenamed, ConversationID: conversationID, Title: title})
}

func (r *recordingSink) Deleted(conversationID string) {
	r.add(Event{Type: EventDeleted, ConversationID: conversationID})
}

func (r *recordingSink) MessageSaved(conversationID string, msg store.Message) {
	r.add(Event{Type: EventMessageSaved, ConversationID: conversationID, MessageID: msg.ID, Content: msg.Content, Role: msg.Role})
}

func (r *recordingSink) JobStatus(conversationID, status, detail string) {
	r.add(Event{Type: EventJobStatus, ConversationID: conversationID, Status: status, Content: detail})
}

// deltas streams the given deltas and ends.
func deltas(parts ...string) upstream.Streamer {
	return upstream.StreamFunc(func(ctx context.Context, prompt string, history []store.Message) iter.Seq2[string, error] {
		return func(yield func(string, error) bool) {
			for _, p := range parts {
				if !yield(p, nil) {
					return
				}
			}
		}
	})
}

// failingAfter streams parts and then yields err.
func failingAfter(err error, parts ...string) upstream.Streamer {
	return upstream.StreamFunc(func(ctx context.Context, prompt string, history []store.Message) iter.Seq2[string, error] {
		return func(yield func(string, error) bool) {
			for _, p := range parts {
				if !yield(p, nil) {
					return
				}
			}
			yield("", err)
		}
	})
}

// countingStreamer counts Stream calls.
type countingStreamer struct {
	upstream.Streamer
	calls atomic.Int32
}

func (c *countingStreamer) Stream(ctx context.Context, prompt string, history []store.Message) iter.Seq2[string, error] {
	c.calls.Add(1)
	return c.Streamer.Stream(ctx, prompt, history)
}

// gatedStreamer yields "first", then blocks until release is closed or ctx
// ends. Each call records its prompt and history.
type gatedStreamer struct {
	release chan struct{}
	started chan struct{}

	mu      sync.Mutex
	prompts []string
	history [][]store.Message
}

func newGatedStreamer() *gatedStreamer {
	return &gatedStreamer{release: make(chan struct{}), started: make(chan struct{}, 16)}
}

func (g *gatedStreamer) Stream(ctx context.Context, prompt string, history []store.Message) iter.Seq2[string, error] {
	g.mu.Lock()
	g.prompts = append(g.prompts, prompt)
	g.history = append(g.history, append([]store.Message(nil), history...))
	g.mu.Unlock()

	return func(yield func(string, error) bool) {
		if !yield("first", nil) {
			return
		}
		g.started <- struct{}{}
		select {
		case <-g.release:
			yield(" second", nil)
		case <-ctx.Done():
			yield("", ctx.Err())
		}
	}
}

type fixture struct {
	store   *store.ConversationStore
	backend *store.MockBackend
	sink    *recordingSink
	coord   *Coordinator
}

func newFixture(t *testing.T, up upstream.Streamer) *fixture {
	t.Helper()
	backend := store.NewMockBackend()
	st := store.NewConversationStore(backend, nil)
	sink := &recordingSink{}
	coord := NewCoordinator(st, up, sink, nil)
	t.Cleanup(func() {
		require.NoError(t, coord.Shutdown(context.Background()))
	})
	return &fixture{store: st, backend: backend, sink: sink, coord: coord}
}
