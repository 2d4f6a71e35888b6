// ABOUTME: chat command that sends a message to a running server and prints the streamed reply
// ABOUTME: Reads the /api/send SSE stream frame by frame

package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

// sendRequest mirrors the body of POST /api/send.
type sendRequest struct {
	ConversationID string `json:"conversation_id,omitempty"`
	Message        string `json:"message"`
}

// streamFrame holds the fields of the SSE payloads the CLI reads.
type streamFrame struct {
	ConversationID   string `json:"conversation_id"`
	MessageID        string `json:"message_id"`
	Content          string `json:"content"`
	CompleteResponse string `json:"complete_response"`
	Error            string `json:"error"`
}

func newChatCmd(opts *options) *cobra.Command {
	var server, conversationID string

	cmd := &cobra.Command{
		Use:   "chat <message>",
		Short: "Send a message to a running server and stream the reply",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if server == "" {
				cfg, err := opts.loadConfig()
				if err != nil {
					return err
				}
				server = "http://" + cfg.Server.HTTPAddr
			}
			return sendAndStream(cmd.Context(), cmd.OutOrStdout(), server, sendRequest{
				ConversationID: conversationID,
				Message:        strings.Join(args, " "),
			})
		},
	}
	cmd.Flags().StringVar(&server, "server", "", "server URL (default from config)")
	cmd.Flags().StringVarP(&conversationID, "conversation", "c", "", "continue an existing conversation")
	return cmd
}

func sendAndStream(ctx context.Context, out io.Writer, server string, body sendRequest) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(server, "/")+"/api/send", bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("sending message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var apiErr struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, apiErr.Error)
	}

	gray := color.New(color.FgHiBlack)
	var event string
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimPrefix(line, "event: ")
			continue
		case !strings.HasPrefix(line, "data: "):
			continue
		}

		var f streamFrame
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &f); err != nil {
			return fmt.Errorf("decoding %s event: %w", event, err)
		}

		switch event {
		case "started":
			gray.Fprintf(out, "[conversation %s]\n", f.ConversationID)
		case "chunk":
			fmt.Fprint(out, f.Content)
		case "complete":
			fmt.Fprintln(out)
			return nil
		case "error":
			fmt.Fprintln(out)
			return fmt.Errorf("upstream error: %s", f.Error)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading stream: %w", err)
	}
	return fmt.Errorf("stream ended before the reply completed")
}
