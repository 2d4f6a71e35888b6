// ABOUTME: Tests for the SSE endpoints: per-turn streams on /api/send and room feeds
// ABOUTME: Streams are parsed frame by frame from a live httptest server

package gateway

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/chatrelay/internal/conversation"
	"github.com/2389/chatrelay/internal/store"
)

type sseFrame struct {
	Event string
	Data  string
}

// readSSE collects frames until stop returns true or the stream ends.
func readSSE(t *testing.T, resp *http.Response, stop func(sseFrame) bool) []sseFrame {
	t.Helper()
	var (
		frames []sseFrame
		cur    sseFrame
	)
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			cur.Event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			cur.Data = strings.TrimPrefix(line, "data: ")
		case line == "":
			if cur.Event == "" {
				continue
			}
			frames = append(frames, cur)
			if stop(cur) {
				return frames
			}
			cur = sseFrame{}
		}
	}
	return frames
}

func terminal(f sseFrame) bool {
	return f.Event == sseComplete || f.Event == sseError
}

func TestSendMessage_StreamsTurn(t *testing.T) {
	env := newTestEnv(t, scripted("A capital ", "é ", "Paris."), nil)

	resp := env.do(t, http.MethodPost, "/api/send", SendMessageRequest{Message: "Qual é a capital da França?"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	frames := readSSE(t, resp, terminal)
	require.GreaterOrEqual(t, len(frames), 2)

	assert.Equal(t, sseStarted, frames[0].Event)
	var started StartedEvent
	require.NoError(t, json.Unmarshal([]byte(frames[0].Data), &started))
	require.NotEmpty(t, started.ConversationID)
	require.NotEmpty(t, started.MessageID)

	last := frames[len(frames)-1]
	require.Equal(t, sseComplete, last.Event)
	var done conversation.Event
	require.NoError(t, json.Unmarshal([]byte(last.Data), &done))
	assert.Equal(t, "A capital é Paris.", done.CompleteResponse)
	assert.Equal(t, started.MessageID, done.MessageID)

	var text strings.Builder
	seq := 0
	for _, f := range frames[1 : len(frames)-1] {
		require.Equal(t, sseChunk, f.Event)
		var e conversation.Event
		require.NoError(t, json.Unmarshal([]byte(f.Data), &e))
		assert.Greater(t, e.Sequence, seq, "chunks arrive in order")
		seq = e.Sequence
		text.WriteString(e.Content)
	}
	assert.Equal(t, done.CompleteResponse, text.String())

	env.gw.coord.Wait()
	conv, err := env.store.Get(t.Context(), started.ConversationID)
	require.NoError(t, err)
	require.Len(t, conv.Messages, 2)
	assert.Equal(t, store.RoleUser, conv.Messages[0].Role)
	assert.Equal(t, "A capital é Paris.", conv.Messages[1].Content)
	assert.Equal(t, started.MessageID, conv.Messages[1].ID)
}

func TestSendMessage_ExistingConversation(t *testing.T) {
	env := newTestEnv(t, scripted("ok"), nil)
	conv, err := env.store.Create(t.Context(), "")
	require.NoError(t, err)

	resp := env.do(t, http.MethodPost, "/api/send", SendMessageRequest{ConversationID: conv.ID, Message: "oi", MessageID: "reply-1"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	frames := readSSE(t, resp, terminal)

	var started StartedEvent
	require.NoError(t, json.Unmarshal([]byte(frames[0].Data), &started))
	assert.Equal(t, conv.ID, started.ConversationID)
	assert.Equal(t, "reply-1", started.MessageID)
	assert.Equal(t, sseComplete, frames[len(frames)-1].Event)
}

func TestSendMessage_UpstreamFailure(t *testing.T) {
	env := newTestEnv(t, broken(errors.New("connection reset"), "parcial"), nil)

	resp := env.do(t, http.MethodPost, "/api/send", SendMessageRequest{Message: "oi"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	frames := readSSE(t, resp, terminal)
	last := frames[len(frames)-1]
	require.Equal(t, sseError, last.Event)
	var e conversation.Event
	require.NoError(t, json.Unmarshal([]byte(last.Data), &e))
	assert.NotEmpty(t, e.Error)

	var started StartedEvent
	require.NoError(t, json.Unmarshal([]byte(frames[0].Data), &started))

	env.gw.coord.Wait()
	conv, err := env.store.Get(t.Context(), started.ConversationID)
	require.NoError(t, err)
	require.Len(t, conv.Messages, 1, "partial reply is not committed")
	assert.Equal(t, store.RoleUser, conv.Messages[0].Role)
}

func TestSendMessage_Validation(t *testing.T) {
	env := newTestEnv(t, scripted("x"), nil)

	resp := env.do(t, http.MethodPost, "/api/send", SendMessageRequest{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = env.do(t, http.MethodPost, "/api/send", SendMessageRequest{Message: "x", MessageID: strings.Repeat("a", 200)})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSendMessage_RejectedRequestCreatesNothing(t *testing.T) {
	tests := []struct {
		name string
		req  SendMessageRequest
	}{
		{"blank message", SendMessageRequest{Message: "   \n\t"}},
		{"regenerate without conversation", SendMessageRequest{Message: "oi", MessageID: "m1", Regenerate: true}},
		{"regenerate without message id", SendMessageRequest{ConversationID: "c1", Message: "oi", Regenerate: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, scripted("x"), nil)

			resp := env.do(t, http.MethodPost, "/api/send", tt.req)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

			entries, err := env.store.ListIndex(t.Context())
			require.NoError(t, err)
			assert.Empty(t, entries)
			assert.Equal(t, 0, env.backend.Saves())
		})
	}
}

func TestSendMessage_ReplayedTurnConflicts(t *testing.T) {
	env := newTestEnv(t, scripted("ok"), nil)
	conv, err := env.store.Create(t.Context(), "")
	require.NoError(t, err)
	req := SendMessageRequest{ConversationID: conv.ID, Message: "oi", MessageID: "reply-1"}

	resp := env.do(t, http.MethodPost, "/api/send", req)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	readSSE(t, resp, terminal)
	env.gw.coord.Wait()

	resp = env.do(t, http.MethodPost, "/api/send", req)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestConversationEvents_RoomFeed(t *testing.T) {
	env := newTestEnv(t, scripted("x"), nil)
	conv, err := env.store.Create(t.Context(), "")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, env.srv.URL+"/api/conversations/"+conv.ID+"/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// The headers are flushed after the subscription is registered.
	save := env.do(t, http.MethodPost, "/api/messages", SaveMessageRequest{ConversationID: conv.ID, Content: "salvo", Role: "user"})
	require.Equal(t, http.StatusCreated, save.StatusCode)

	frames := readSSE(t, resp, func(f sseFrame) bool { return f.Event == string(conversation.EventMessageSaved) })
	require.NotEmpty(t, frames)
	var e conversation.Event
	require.NoError(t, json.Unmarshal([]byte(frames[len(frames)-1].Data), &e))
	assert.Equal(t, conv.ID, e.ConversationID)
	assert.Equal(t, "salvo", e.Content)
	assert.Equal(t, store.RoleUser, e.Role)
}

func TestConversationEvents_GlobalFeed(t *testing.T) {
	env := newTestEnv(t, scripted("x"), nil)
	conv, err := env.store.Create(t.Context(), "")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, env.srv.URL+"/api/conversations/*/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	del := env.do(t, http.MethodDelete, "/api/conversations/"+conv.ID, nil)
	require.Equal(t, http.StatusNoContent, del.StatusCode)

	frames := readSSE(t, resp, func(f sseFrame) bool { return f.Event == string(conversation.EventDeleted) })
	require.NotEmpty(t, frames)
	assert.Equal(t, string(conversation.EventDeleted), frames[len(frames)-1].Event)
}
