// ABOUTME: Chat completions handler for the fake upstream
// ABOUTME: Encodes frames with the go-openai wire types so the real client decodes them unchanged

package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

func newHandler(delay time.Duration, failOn string) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		var req openai.ChatCompletionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, `{"error":{"message":"invalid request body"}}`, http.StatusBadRequest)
			return
		}
		if !req.Stream {
			http.Error(w, `{"error":{"message":"only streaming requests are supported"}}`, http.StatusBadRequest)
			return
		}

		prompt := lastUserMessage(req.Messages)
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming not supported", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")

		words := strings.SplitAfter(echoReply(prompt), " ")
		fail := failOn != "" && strings.Contains(prompt, failOn)
		for i, word := range words {
			if fail && i == len(words)/2 {
				fmt.Fprint(w, "data: {\"error\":{\"message\":\"upstream overloaded\",\"type\":\"server_error\"}}\n\n")
				flusher.Flush()
				return
			}
			writeFrame(w, req.Model, word)
			flusher.Flush()

			select {
			case <-r.Context().Done():
				return
			case <-time.After(delay):
			}
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
		flusher.Flush()
	})
	return mux
}

func writeFrame(w http.ResponseWriter, model, content string) {
	frame := openai.ChatCompletionStreamResponse{
		ID:      "chatcmpl-fake",
		Object:  "chat.completion.chunk",
		Created: time.Now().Unix(),
		Model:   model,
		Choices: []openai.ChatCompletionStreamChoice{{
			Index: 0,
			Delta: openai.ChatCompletionStreamChoiceDelta{Content: content},
		}},
	}
	data, _ := json.Marshal(frame)
	fmt.Fprintf(w, "data: %s\n\n", data)
}

func lastUserMessage(msgs []openai.ChatCompletionMessage) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == openai.ChatMessageRoleUser {
			return msgs[i].Content
		}
	}
	return ""
}

func echoReply(input string) string {
	lower := strings.ToLower(input)
	if strings.Contains(lower, "markdown") || strings.Contains(lower, "lista") || strings.Contains(lower, "list") {
		return "Aqui está uma resposta em **markdown**:\n\n- Primeiro item\n- Segundo item com `código`\n- Terceiro item\n\n> Uma citação.\n"
	}
	return fmt.Sprintf("Eco: **%s**\n\nRecebi sua mensagem e respondo com texto *formatado*.", input)
}
