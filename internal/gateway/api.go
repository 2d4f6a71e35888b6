// ABOUTME: HTTP API handlers for conversations, messages, and transcript jobs
// ABOUTME: Request bodies are validated with struct tags before any state is touched

package gateway

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/go-playground/validator/v10/non-standard/validators"
	"github.com/yuin/goldmark"

	"github.com/2389/chatrelay/internal/conversation"
	"github.com/2389/chatrelay/internal/metrics"
	"github.com/2389/chatrelay/internal/store"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// defaultPageSize is used when GET .../messages omits limit.
const defaultPageSize = 50

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	if err := v.RegisterValidation("notblank", validators.NotBlank); err != nil {
		panic(err)
	}
	return v
}

// CreateConversationRequest is the JSON body for POST /api/conversations.
type CreateConversationRequest struct {
	Title string `json:"title" validate:"max=100"`
}

// RenameRequest is the JSON body for POST /api/conversations/{id}/rename.
type RenameRequest struct {
	Title string `json:"title" validate:"required"`
}

// SaveMessageRequest is the JSON body for POST /api/messages.
type SaveMessageRequest struct {
	ConversationID string `json:"conversation_id" validate:"required"`
	Content        string `json:"content" validate:"required"`
	Role           string `json:"role" validate:"required,oneof=user assistant"`
	MessageID      string `json:"message_id,omitempty"`
}

// SendMessageRequest is the JSON body for POST /api/send. Regenerating
// needs both ids.
type SendMessageRequest struct {
	ConversationID string `json:"conversation_id,omitempty" validate:"required_if=Regenerate true"`
	Message        string `json:"message" validate:"notblank"`
	MessageID      string `json:"message_id,omitempty" validate:"required_if=Regenerate true,max=128"`
	Regenerate     bool   `json:"regenerate,omitempty"`
}

// TranscriptRequest is the JSON body for the transcript job endpoints.
type TranscriptRequest struct {
	ConversationID string `json:"conversation_id" validate:"required"`
	URL            string `json:"url" validate:"required,url"`
}

// RenameResponse is returned by the rename endpoint.
type RenameResponse struct {
	ConversationID string `json:"conversation_id"`
	Title          string `json:"title"`
}

// JobResponse acknowledges an accepted transcript job.
type JobResponse struct {
	ConversationID string `json:"conversation_id"`
	Status         string `json:"status"`
}

// decodeJSON decodes r's body into dst and validates it.
func decodeJSON(r *http.Request, dst any) error {
	body := io.LimitReader(r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(dst); err != nil {
		return fmt.Errorf("%w: invalid JSON body", store.ErrValidation)
	}
	if err := validate.Struct(dst); err != nil {
		return fmt.Errorf("%w: %s", store.ErrValidation, validationMessage(err))
	}
	return nil
}

// validationMessage flattens validator errors into "field: tag" pairs.
func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("%s: %s", strings.ToLower(fe.Field()), fe.Tag()))
	}
	return strings.Join(parts, ", ")
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrDuplicateMessage),
		errors.Is(err, conversation.ErrSessionExists),
		errors.Is(err, conversation.ErrDuplicateTurn):
		return http.StatusConflict
	case errors.Is(err, conversation.ErrShuttingDown):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// sendError writes err with its mapped status. Internal errors are logged
// and hidden from the client.
func (g *Gateway) sendError(w http.ResponseWriter, r *http.Request, op string, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		var se *store.StorageError
		if errors.As(err, &se) {
			metrics.StoreError(se.Op)
		}
		g.logger.Error("request failed", "op", op, "path", r.URL.Path, "error", err)
		sendJSONError(w, status, "internal server error")
		return
	}
	sendJSONError(w, status, err.Error())
}

// sendJSONError writes a JSON error response.
func sendJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// handleListConversations handles GET /api/conversations.
func (g *Gateway) handleListConversations(w http.ResponseWriter, r *http.Request) {
	entries, err := g.store.ListIndex(r.Context())
	if err != nil {
		g.sendError(w, r, "list", err)
		return
	}
	if entries == nil {
		entries = []store.IndexEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// handleCreateConversation handles POST /api/conversations. An empty body
// creates a conversation with the default title.
func (g *Gateway) handleCreateConversation(w http.ResponseWriter, r *http.Request) {
	var req CreateConversationRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			g.sendError(w, r, "create", err)
			return
		}
	}

	conv, err := g.store.Create(r.Context(), req.Title)
	if err != nil {
		g.sendError(w, r, "create", err)
		return
	}
	g.sink.Updated(conv.ID)
	writeJSON(w, http.StatusCreated, conv)
}

// handleGetConversation handles GET /api/conversations/{id}.
func (g *Gateway) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	conv, err := g.store.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		g.sendError(w, r, "get", err)
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

// handleConversationMessages handles GET /api/conversations/{id}/messages.
func (g *Gateway) handleConversationMessages(w http.ResponseWriter, r *http.Request) {
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		g.sendError(w, r, "page", err)
		return
	}
	limit, err := queryInt(r, "limit", defaultPageSize)
	if err != nil {
		g.sendError(w, r, "page", err)
		return
	}

	page, err := g.store.GetPage(r.Context(), chi.URLParam(r, "id"), offset, limit)
	if err != nil {
		g.sendError(w, r, "page", err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be an integer", store.ErrValidation, key)
	}
	return n, nil
}

// handleRenameConversation handles POST /api/conversations/{id}/rename.
func (g *Gateway) handleRenameConversation(w http.ResponseWriter, r *http.Request) {
	var req RenameRequest
	if err := decodeJSON(r, &req); err != nil {
		g.sendError(w, r, "rename", err)
		return
	}

	id := chi.URLParam(r, "id")
	title, err := g.store.Rename(r.Context(), id, req.Title)
	if err != nil {
		g.sendError(w, r, "rename", err)
		return
	}
	g.sink.Renamed(id, title)
	writeJSON(w, http.StatusOK, RenameResponse{ConversationID: id, Title: title})
}

// handleDeleteConversation handles DELETE /api/conversations/{id}. Deleting
// a missing conversation succeeds.
func (g *Gateway) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := g.store.Delete(r.Context(), id); err != nil {
		g.sendError(w, r, "delete", err)
		return
	}
	g.sink.Deleted(id)
	w.WriteHeader(http.StatusNoContent)
}

// handleSaveMessage handles POST /api/messages.
func (g *Gateway) handleSaveMessage(w http.ResponseWriter, r *http.Request) {
	var req SaveMessageRequest
	if err := decodeJSON(r, &req); err != nil {
		g.sendError(w, r, "save_message", err)
		return
	}

	msg, err := g.store.AppendMessage(r.Context(), req.ConversationID, store.Role(req.Role), req.Content, req.MessageID)
	if err != nil {
		g.sendError(w, r, "save_message", err)
		return
	}
	g.sink.MessageSaved(req.ConversationID, *msg)
	g.sink.Updated(req.ConversationID)
	writeJSON(w, http.StatusCreated, msg)
}

// handleTranscribe handles POST /api/transcripts.
func (g *Gateway) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	g.startJob(w, r, g.summarizer.StartTranscribe)
}

// handleSummarize handles POST /api/transcripts/summarize.
func (g *Gateway) handleSummarize(w http.ResponseWriter, r *http.Request) {
	g.startJob(w, r, g.summarizer.StartSummary)
}

func (g *Gateway) startJob(w http.ResponseWriter, r *http.Request, start func(conversation.SummaryRequest) error) {
	var req TranscriptRequest
	if err := decodeJSON(r, &req); err != nil {
		g.sendError(w, r, "job", err)
		return
	}

	err := start(conversation.SummaryRequest{ConversationID: req.ConversationID, URL: req.URL})
	if err != nil {
		g.sendError(w, r, "job", err)
		return
	}
	writeJSON(w, http.StatusAccepted, JobResponse{ConversationID: req.ConversationID, Status: conversation.JobProcessing})
}

// handleExportConversation handles GET /api/conversations/{id}/export,
// rendering the conversation's Markdown as a standalone HTML page.
func (g *Gateway) handleExportConversation(w http.ResponseWriter, r *http.Request) {
	conv, err := g.store.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		g.sendError(w, r, "export", err)
		return
	}

	var htmlBuf bytes.Buffer
	if err := goldmark.Convert([]byte(exportMarkdown(conv)), &htmlBuf); err != nil {
		g.logger.Error("failed to convert markdown", "conversation_id", conv.ID, "error", err)
		htmlBuf.Reset()
		htmlBuf.WriteString("<p>Failed to render conversation.</p>")
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "<!DOCTYPE html>\n<html><head><meta charset=\"utf-8\"><title>%s</title></head><body>\n", html.EscapeString(conv.Title))
	_, _ = w.Write(htmlBuf.Bytes())
	_, _ = io.WriteString(w, "</body></html>\n")
}

// exportMarkdown lays a conversation out as one Markdown document.
func exportMarkdown(conv *store.Conversation) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", conv.Title)
	for _, m := range conv.Messages {
		speaker := "Assistente"
		if m.Role == store.RoleUser {
			speaker = "Você"
		}
		fmt.Fprintf(&b, "**%s** (%s)\n\n%s\n\n---\n\n", speaker, m.Timestamp.Format("2006-01-02 15:04"), m.Content)
	}
	return b.String()
}
