// ABOUTME: Streaming client for OpenAI-compatible chat completion endpoints
// ABOUTME: Exposes each reply as a lazy, single-pass sequence of text deltas

package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/2389/chatrelay/internal/store"
)

// Defaults applied by New when Config leaves a field zero.
const (
	DefaultHistoryWindow = 10
	DefaultTimeout       = 120 * time.Second
)

// Config describes the model endpoint.
type Config struct {
	BaseURL       string
	Model         string
	APIKey        string
	SystemPrompt  string
	HistoryWindow int
	Timeout       time.Duration
	// HTTPClient overrides the transport; nil uses http.DefaultClient semantics.
	HTTPClient *http.Client
}

// Streamer produces a reply to prompt as a sequence of deltas. The sequence
// ends after the last delta, or yields exactly one non-nil error and ends.
type Streamer interface {
	Stream(ctx context.Context, prompt string, history []store.Message) iter.Seq2[string, error]
}

// Client streams completions from an OpenAI-compatible endpoint such as Ollama.
type Client struct {
	api    *openai.Client
	cfg    Config
	logger *slog.Logger
}

// New builds a Client. A nil logger uses slog.Default().
func New(cfg Config, logger *slog.Logger) *Client {
	switch {
	case cfg.HistoryWindow == 0:
		cfg.HistoryWindow = DefaultHistoryWindow
	case cfg.HistoryWindow < 0:
		// Negative disables history.
		cfg.HistoryWindow = 0
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}

	apiCfg := openai.DefaultConfig(cfg.APIKey)
	apiCfg.BaseURL = cfg.BaseURL
	if cfg.HTTPClient != nil {
		apiCfg.HTTPClient = cfg.HTTPClient
	}

	return &Client{
		api:    openai.NewClientWithConfig(apiCfg),
		cfg:    cfg,
		logger: logger.With("component", "upstream"),
	}
}

// StatusMessage is the synthetic delta yielded when the endpoint answers with
// a non-success HTTP status.
func StatusMessage(code int) string {
	return fmt.Sprintf("Erro: o modelo respondeu com status %d", code)
}

// BuildMessages assembles the request: the system instruction, the trailing
// window of history, and prompt unless it already ends that window as a
// user turn. A window of zero or less sends no history.
func BuildMessages(systemPrompt string, window int, history []store.Message, prompt string) []openai.ChatCompletionMessage {
	msgs := make([]openai.ChatCompletionMessage, 0, max(window, 0)+2)
	if systemPrompt != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: systemPrompt,
		})
	}

	switch {
	case window <= 0:
		history = nil
	case len(history) > window:
		history = history[len(history)-window:]
	}

	for _, m := range history {
		role := openai.ChatMessageRoleUser
		if m.Role == store.RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		msgs = append(msgs, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}

	tailIsPrompt := len(history) > 0 &&
		history[len(history)-1].Role == store.RoleUser &&
		history[len(history)-1].Content == prompt
	if !tailIsPrompt {
		msgs = append(msgs, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleUser,
			Content: prompt,
		})
	}
	return msgs
}

// Stream implements Streamer. The call is bounded by the configured timeout.
// A non-success status yields StatusMessage and ends without error; frames
// that fail to decode are logged and skipped; transport failures end the
// sequence with an error.
func (c *Client) Stream(ctx context.Context, prompt string, history []store.Message) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()

		req := openai.ChatCompletionRequest{
			Model:    c.cfg.Model,
			Messages: BuildMessages(c.cfg.SystemPrompt, c.cfg.HistoryWindow, history, prompt),
			Stream:   true,
		}

		stream, err := c.api.CreateChatCompletionStream(ctx, req)
		if err != nil {
			if code, ok := statusCode(err); ok {
				c.logger.Warn("upstream returned non-success status", "status", code, "error", err)
				yield(StatusMessage(code), nil)
				return
			}
			yield("", fmt.Errorf("opening upstream stream: %w", err))
			return
		}
		defer stream.Close()

		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				if isMalformedFrame(err) {
					c.logger.Warn("skipping malformed upstream frame", "error", err)
					continue
				}
				yield("", fmt.Errorf("reading upstream stream: %w", err))
				return
			}

			if len(resp.Choices) == 0 {
				continue
			}
			delta := resp.Choices[0].Delta.Content
			if delta == "" {
				continue
			}
			if !yield(delta, nil) {
				return
			}
		}
	}
}

// statusCode extracts the HTTP status from go-openai's error types.
func statusCode(err error) (int, bool) {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode != 0 {
		return apiErr.HTTPStatusCode, true
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode != 0 {
		return reqErr.HTTPStatusCode, true
	}
	return 0, false
}

func isMalformedFrame(err error) bool {
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	return errors.As(err, &syntaxErr) || errors.As(err, &typeErr)
}

// StreamFunc adapts a function to the Streamer interface.
type StreamFunc func(ctx context.Context, prompt string, history []store.Message) iter.Seq2[string, error]

// Stream calls f.
func (f StreamFunc) Stream(ctx context.Context, prompt string, history []store.Message) iter.Seq2[string, error] {
	return f(ctx, prompt, history)
}
