// ABOUTME: Server-Sent Events endpoints: per-turn streams for POST /api/send and room feeds
// ABOUTME: Both subscribe to the broadcaster before work starts so no early chunk is missed

package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/2389/chatrelay/internal/conversation"
	"github.com/2389/chatrelay/internal/store"
)

// sseKeepAlive is the interval between comment frames on idle feeds.
const sseKeepAlive = 15 * time.Second

// SSE event names used by POST /api/send.
const (
	sseStarted  = "started"
	sseChunk    = "chunk"
	sseComplete = "complete"
	sseError    = "error"
)

// StartedEvent is the first event of a /api/send stream.
type StartedEvent struct {
	ConversationID string `json:"conversation_id"`
	MessageID      string `json:"message_id"`
	UserMessageID  string `json:"user_message_id,omitempty"`
}

func setSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}

// writeSSEEvent writes a single SSE event to the response writer.
func (g *Gateway) writeSSEEvent(w http.ResponseWriter, event string, data any) {
	dataJSON, err := json.Marshal(data)
	if err != nil {
		g.logger.Error("failed to marshal SSE data", "error", err)
		return
	}

	fmt.Fprintf(w, "event: %s\n", event)
	fmt.Fprintf(w, "data: %s\n\n", dataJSON)
}

// handleSendMessage handles POST /api/send. It starts a turn and streams
// that turn's chunk, complete, and error events as SSE. The turn keeps
// running if the client disconnects; its reply is still committed.
func (g *Gateway) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var req SendMessageRequest
	if err := decodeJSON(r, &req); err != nil {
		g.sendError(w, r, "send", err)
		return
	}

	// Check streaming support before sending (fail fast)
	flusher, ok := w.(http.Flusher)
	if !ok {
		g.logger.Error("streaming not supported")
		sendJSONError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	// The room must exist before the turn starts so the subscription sees
	// the first chunk.
	convID := req.ConversationID
	if convID == "" {
		conv, err := g.store.Create(r.Context(), "")
		if err != nil {
			g.sendError(w, r, "send", err)
			return
		}
		convID = conv.ID
	}
	msgID := req.MessageID
	if msgID == "" {
		msgID = store.NewMessageID()
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	events, _ := g.broadcaster.Subscribe(ctx, convID)

	turn, err := g.coord.StartTurn(r.Context(), conversation.TurnRequest{
		ConversationID: convID,
		Content:        req.Message,
		MessageID:      msgID,
		ReuseMessage:   req.Regenerate,
	})
	if err != nil {
		g.sendError(w, r, "send", err)
		return
	}

	setSSEHeaders(w)
	g.writeSSEEvent(w, sseStarted, StartedEvent{
		ConversationID: turn.ConversationID,
		MessageID:      turn.MessageID,
		UserMessageID:  turn.UserMessageID,
	})
	flusher.Flush()

	g.streamTurn(ctx, w, flusher, turn, events)
}

// streamTurn forwards the turn's own events until it completes or fails.
// Events dropped by a full subscription are covered by the turn result.
func (g *Gateway) streamTurn(ctx context.Context, w http.ResponseWriter, flusher http.Flusher, turn *conversation.Turn, events <-chan *conversation.Event) {
	forward := func(e *conversation.Event) (terminal bool) {
		if e.MessageID != turn.MessageID {
			return false
		}
		switch e.Type {
		case conversation.EventChunk:
			g.writeSSEEvent(w, sseChunk, e)
		case conversation.EventComplete:
			g.writeSSEEvent(w, sseComplete, e)
			terminal = true
		case conversation.EventError:
			g.writeSSEEvent(w, sseError, e)
			terminal = true
		default:
			return false
		}
		flusher.Flush()
		return terminal
	}

	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			if forward(e) {
				return
			}
		case <-turn.Done():
			if drain(events, forward) {
				return
			}
			g.writeTurnResult(ctx, w, turn)
			flusher.Flush()
			return
		}
	}
}

// drain forwards buffered events and reports whether a terminal one was
// among them.
func drain(events <-chan *conversation.Event, forward func(*conversation.Event) bool) bool {
	for {
		select {
		case e, ok := <-events:
			if !ok {
				return false
			}
			if forward(e) {
				return true
			}
		default:
			return false
		}
	}
}

// writeTurnResult writes the terminal event from the turn's result.
func (g *Gateway) writeTurnResult(ctx context.Context, w http.ResponseWriter, turn *conversation.Turn) {
	res, err := turn.Wait(ctx)
	if err != nil || res == nil {
		return
	}
	if res.State == conversation.StateFailed {
		msg := "turn failed"
		if res.Err != nil {
			msg = res.Err.Error()
		}
		g.writeSSEEvent(w, sseError, &conversation.Event{
			Type:           conversation.EventError,
			ConversationID: res.ConversationID,
			MessageID:      res.MessageID,
			Error:          msg,
		})
		return
	}
	total := res.Chunks
	g.writeSSEEvent(w, sseComplete, &conversation.Event{
		Type:             conversation.EventComplete,
		ConversationID:   res.ConversationID,
		MessageID:        res.MessageID,
		TotalChunks:      &total,
		CompleteResponse: res.Text,
	})
}

// handleConversationEvents handles GET /api/conversations/{id}/events,
// streaming every event published to the room until the client leaves.
// The id "*" subscribes to the global room.
func (g *Gateway) handleConversationEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		sendJSONError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	room := chi.URLParam(r, "id")
	events, _ := g.broadcaster.Subscribe(r.Context(), room)

	setSSEHeaders(w)
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ticker := time.NewTicker(sseKeepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			fmt.Fprint(w, ": keep-alive\n\n")
			flusher.Flush()
		case e, ok := <-events:
			if !ok {
				return
			}
			g.writeSSEEvent(w, string(e.Type), e)
			flusher.Flush()
		}
	}
}
