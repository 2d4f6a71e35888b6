// ABOUTME: Tests for the admin CLI commands against a temporary file backend
// ABOUTME: The chat command is exercised against a stub SSE server

package main

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/chatrelay/internal/store"
)

func init() {
	color.NoColor = true
}

// seedStore creates a file-backed store in a temp dir and returns its path.
func seedStore(t *testing.T) (string, *store.Conversation) {
	t.Helper()
	dir := t.TempDir()
	backend, err := store.OpenBackend("file", dir)
	require.NoError(t, err)
	st := store.NewConversationStore(backend, nil)
	defer st.Close()

	conv, err := st.Create(context.Background(), "Receitas")
	require.NoError(t, err)
	_, err = st.AppendMessage(context.Background(), conv.ID, store.RoleUser, "Como faço pão?", "")
	require.NoError(t, err)
	_, err = st.AppendMessage(context.Background(), conv.ID, store.RoleAssistant, "Farinha, água e sal.", "")
	require.NoError(t, err)
	return dir, conv
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--config", filepath.Join(t.TempDir(), "missing.yaml")}, args...))
	err := cmd.ExecuteContext(t.Context())
	return out.String(), err
}

func TestList(t *testing.T) {
	dir, conv := seedStore(t)

	out, err := run(t, "--path", dir, "list")
	require.NoError(t, err)
	assert.Contains(t, out, conv.ID)
	assert.Contains(t, out, "Receitas")
}

func TestList_Empty(t *testing.T) {
	out, err := run(t, "--path", t.TempDir(), "list")
	require.NoError(t, err)
	assert.Contains(t, out, "(no conversations)")
}

func TestShow(t *testing.T) {
	dir, conv := seedStore(t)

	out, err := run(t, "--path", dir, "show", conv.ID)
	require.NoError(t, err)
	assert.Contains(t, out, "2 messages")
	assert.Contains(t, out, "Como faço pão?")
	assert.Contains(t, out, "Farinha, água e sal.")
}

func TestShow_NotFound(t *testing.T) {
	_, err := run(t, "--path", t.TempDir(), "show", store.NewConversationID())
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestRenameAndDelete(t *testing.T) {
	dir, conv := seedStore(t)

	out, err := run(t, "--path", dir, "rename", conv.ID, "Pães")
	require.NoError(t, err)
	assert.Contains(t, out, "Pães")

	out, err = run(t, "--path", dir, "list")
	require.NoError(t, err)
	assert.Contains(t, out, "Pães")

	_, err = run(t, "--path", dir, "delete", conv.ID)
	require.NoError(t, err)

	out, err = run(t, "--path", dir, "list")
	require.NoError(t, err)
	assert.Contains(t, out, "(no conversations)")
}

func TestReindex(t *testing.T) {
	dir, _ := seedStore(t)

	out, err := run(t, "--path", dir, "reindex")
	require.NoError(t, err)
	assert.Contains(t, out, "Indexed 1 conversations")
}

func TestUnknownDriver(t *testing.T) {
	_, err := run(t, "--driver", "mongo", "list")
	require.ErrorIs(t, err, store.ErrValidation)
}

func sseServer(t *testing.T, frames ...string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/send", r.URL.Path)
		w.Header().Set("Content-Type", "text/event-stream")
		for _, f := range frames {
			fmt.Fprint(w, f)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestChat_StreamsReply(t *testing.T) {
	srv := sseServer(t,
		"event: started\ndata: {\"conversation_id\":\"c-1\",\"message_id\":\"m-1\"}\n\n",
		"event: chunk\ndata: {\"content\":\"Olá\"}\n\n",
		"event: chunk\ndata: {\"content\":\", mundo\"}\n\n",
		"event: complete\ndata: {\"complete_response\":\"Olá, mundo\"}\n\n",
	)

	out, err := run(t, "chat", "--server", srv.URL, "oi")
	require.NoError(t, err)
	assert.Contains(t, out, "[conversation c-1]")
	assert.Contains(t, out, "Olá, mundo")
}

func TestChat_UpstreamError(t *testing.T) {
	srv := sseServer(t,
		"event: started\ndata: {\"conversation_id\":\"c-1\"}\n\n",
		"event: error\ndata: {\"error\":\"connection reset\"}\n\n",
	)

	_, err := run(t, "chat", "--server", srv.URL, "oi")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
}

func TestChat_TruncatedStream(t *testing.T) {
	srv := sseServer(t, "event: chunk\ndata: {\"content\":\"Ol\"}\n\n")

	_, err := run(t, "chat", "--server", srv.URL, "oi")
	require.Error(t, err)
}

func TestChat_RejectedRequest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error":"rate limit exceeded"}`)
	}))
	t.Cleanup(srv.Close)

	_, err := run(t, "chat", "--server", srv.URL, "oi")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limit exceeded")
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "curto", truncate("curto", 10))
	assert.Equal(t, "ação...", truncate("açãoçãoção", 7))
}
