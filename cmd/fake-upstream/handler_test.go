// ABOUTME: Tests that the fake upstream speaks the streaming protocol the real client expects
// ABOUTME: Drives the handler through the production upstream client

package main

import (
	"context"
	"iter"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/chatrelay/internal/upstream"
)

func client(t *testing.T, failOn string) *upstream.Client {
	t.Helper()
	srv := httptest.NewServer(newHandler(0, failOn))
	t.Cleanup(srv.Close)
	return upstream.New(upstream.Config{BaseURL: srv.URL + "/v1", Model: "fake"}, slog.Default())
}

func drain(seq iter.Seq2[string, error]) (string, error) {
	var b strings.Builder
	for delta, err := range seq {
		if err != nil {
			return b.String(), err
		}
		b.WriteString(delta)
	}
	return b.String(), nil
}

func TestHandler_StreamsEcho(t *testing.T) {
	c := client(t, "")

	text, err := drain(c.Stream(t.Context(), "bom dia", nil))
	require.NoError(t, err)
	assert.Equal(t, echoReply("bom dia"), text)
}

func TestHandler_MarkdownReply(t *testing.T) {
	c := client(t, "")

	text, err := drain(c.Stream(t.Context(), "me dê uma lista", nil))
	require.NoError(t, err)
	assert.Contains(t, text, "- Primeiro item")
}

func TestHandler_FailOnDropsStream(t *testing.T) {
	c := client(t, "quebre")

	text, err := drain(c.Stream(context.Background(), "por favor quebre", nil))
	require.Error(t, err)
	assert.NotEqual(t, echoReply("por favor quebre"), text)
}

func TestHandler_RejectsNonStreaming(t *testing.T) {
	srv := httptest.NewServer(newHandler(0, ""))
	t.Cleanup(srv.Close)

	resp, err := http.Post(srv.URL+"/v1/chat/completions", "application/json", strings.NewReader(`{"model":"fake","messages":[]}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
