// ABOUTME: Summarizer turns a video transcript into one streamed, block-by-block summary message
// ABOUTME: Each transcript chunk gets its own upstream pass; a failed chunk becomes an inline notice

package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/2389/chatrelay/internal/metrics"
	"github.com/2389/chatrelay/internal/store"
	"github.com/2389/chatrelay/internal/transcript"
)

// ErrNoTranscript is returned when a job has no usable transcript text.
var ErrNoTranscript = errors.New("no usable transcript")

// DefaultExcerptChars is how much of a failed chunk is quoted back.
const DefaultExcerptChars = 150

const (
	summaryHeaderFormat = "**Resumo do vídeo '%s':**\n\n*O vídeo foi dividido em %d blocos para resumo detalhado.*\n\n"
	blockHeaderFormat   = "\n\n### Bloco %d/%d\n\n"
	chunkPromptFormat   = "Resumir o seguinte trecho de uma transcrição de vídeo do YouTube em um parágrafo conciso, mas mantendo todos os pontos importantes:\n\n\"%s\"\n\nResumo detalhado:"
	chunkFailureFormat  = "*Erro ao gerar resumo para este bloco*\n\n**Trecho original:**\n\n%s..."
	transcriptFormat    = "**Legendas do vídeo '%s':**\n\n%s"

	summaryCommand    = "/youtube_resumo "
	transcribeCommand = "/youtube "

	unknownTitle = "desconhecido"
)

// SummaryRequest names a conversation and the video to process.
type SummaryRequest struct {
	ConversationID string
	URL            string
}

// SummaryResult describes a finished summary.
type SummaryResult struct {
	ConversationID string
	MessageID      string
	Title          string
	Blocks         int
	FailedBlocks   int
	Text           string
}

// Summarizer runs transcript jobs on top of a Coordinator: it shares the
// coordinator's store, upstream, sink, and session table.
type Summarizer struct {
	coord         *Coordinator
	source        transcript.Source
	wordsPerChunk int
	excerptChars  int
	logger        *slog.Logger
}

// NewSummarizer builds a Summarizer. Non-positive sizes use the defaults.
func NewSummarizer(coord *Coordinator, source transcript.Source, wordsPerChunk, excerptChars int) *Summarizer {
	if wordsPerChunk < 1 {
		wordsPerChunk = transcript.DefaultWordsPerChunk
	}
	if excerptChars < 1 {
		excerptChars = DefaultExcerptChars
	}
	return &Summarizer{
		coord:         coord,
		source:        source,
		wordsPerChunk: wordsPerChunk,
		excerptChars:  excerptChars,
		logger:        coord.logger.With("component", "summarizer"),
	}
}

// StartSummary validates req and runs Run in the background.
func (z *Summarizer) StartSummary(req SummaryRequest) error {
	if err := validateJob(req); err != nil {
		return err
	}
	if !z.coord.Go(func(ctx context.Context) { _, _ = z.Run(ctx, req) }) {
		return ErrShuttingDown
	}
	return nil
}

// StartTranscribe validates req and runs Transcribe in the background.
func (z *Summarizer) StartTranscribe(req SummaryRequest) error {
	if err := validateJob(req); err != nil {
		return err
	}
	if !z.coord.Go(func(ctx context.Context) { _ = z.Transcribe(ctx, req) }) {
		return ErrShuttingDown
	}
	return nil
}

// Run records the summary command, fetches the transcript for req.URL, and
// summarizes it into a single assistant message.
func (z *Summarizer) Run(ctx context.Context, req SummaryRequest) (*SummaryResult, error) {
	if err := validateJob(req); err != nil {
		return nil, err
	}
	convID := req.ConversationID

	if err := z.recordCommand(ctx, convID, summaryCommand+req.URL); err != nil {
		return nil, err
	}
	z.coord.sink.JobStatus(convID, JobProcessing, "Processando vídeo para resumo...")

	t, err := z.fetch(ctx, convID, req.URL)
	if err != nil {
		return nil, err
	}
	return z.RunTranscript(ctx, convID, t)
}

// RunTranscript summarizes t into conversationID. It commits a header
// message first and then revises that same message as each block finishes,
// so exactly one message is stored however many blocks fail.
func (z *Summarizer) RunTranscript(ctx context.Context, conversationID string, t transcript.Transcript) (*SummaryResult, error) {
	title := t.Title
	if title == "" {
		title = unknownTitle
	}

	chunks := transcript.Split(t.Text, z.wordsPerChunk)
	if len(chunks) == 0 {
		msg := fmt.Sprintf("Falha ao dividir a transcrição do vídeo '%s' em blocos.", title)
		z.reportJobError(conversationID, msg)
		return nil, fmt.Errorf("%w: %s", ErrNoTranscript, msg)
	}

	header := fmt.Sprintf(summaryHeaderFormat, title, len(chunks))
	msgID := store.NewMessageID()
	key := SessionKey{ConversationID: conversationID, MessageID: msgID}
	s := NewSession(key)
	if !z.coord.sessions.Insert(s) {
		return nil, fmt.Errorf("%w: %s", ErrSessionExists, key)
	}
	outcome := metrics.OutcomeFailed
	defer func() {
		z.coord.sessions.Remove(key)
		metrics.TurnFinished(outcome, time.Since(s.Started).Seconds())
	}()

	if _, err := z.coord.store.AppendMessage(ctx, conversationID, store.RoleAssistant, header, msgID); err != nil {
		err = fmt.Errorf("committing summary header: %w", err)
		if ferr := s.fail(err); ferr != nil {
			z.logger.Error("failing summary session", "session", key, "error", ferr)
		}
		z.reportJobError(conversationID, err.Error())
		return nil, err
	}
	if err := z.advance(s, StateStreaming); err != nil {
		return nil, err
	}
	z.coord.emit(s, header)

	result := &SummaryResult{
		ConversationID: conversationID,
		MessageID:      msgID,
		Title:          title,
		Blocks:         len(chunks),
	}

	for i, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			z.abort(s, fmt.Errorf("summary cancelled after %d of %d blocks: %w", i, len(chunks), err))
			return nil, err
		}

		z.coord.emit(s, fmt.Sprintf(blockHeaderFormat, i+1, len(chunks)))

		prompt := fmt.Sprintf(chunkPromptFormat, chunk)
		if err := z.coord.pump(ctx, s, prompt, nil); err != nil {
			if ctx.Err() != nil {
				z.abort(s, fmt.Errorf("summary cancelled in block %d: %w", i+1, err))
				return nil, ctx.Err()
			}
			z.logger.Warn("block summary failed",
				"conversation_id", conversationID,
				"block", i+1,
				"error", err)
			z.coord.emit(s, fmt.Sprintf(chunkFailureFormat, excerpt(chunk, z.excerptChars)))
			result.FailedBlocks++
			metrics.SummaryChunk(metrics.OutcomeFailed)
		} else {
			metrics.SummaryChunk(metrics.OutcomeDone)
		}

		z.checkpoint(ctx, key, s.Text())
	}

	if err := z.advance(s, StateCommitting); err != nil {
		return nil, err
	}
	text := s.Text()
	z.coord.sink.Complete(conversationID, msgID, s.Sequence(), text)

	pctx, cancel := persistContext(ctx)
	defer cancel()
	if err := z.coord.store.UpdateMessage(pctx, conversationID, msgID, text); err != nil {
		err = fmt.Errorf("committing summary: %w", err)
		if ferr := s.fail(err); ferr != nil {
			z.logger.Error("failing summary session", "session", key, "error", ferr)
		}
		z.coord.sink.Error(conversationID, msgID, err.Error())
		z.coord.sink.JobStatus(conversationID, JobError, err.Error())
		return nil, err
	}
	z.coord.sink.Updated(conversationID)
	z.coord.sink.JobStatus(conversationID, JobSuccess, "")
	if err := s.transition(StateDone); err != nil {
		z.logger.Error("finishing summary session", "session", key, "error", err)
	}

	outcome = metrics.OutcomeDone
	result.Text = text
	z.logger.Info("summary complete",
		"conversation_id", conversationID,
		"message_id", msgID,
		"blocks", len(chunks),
		"failed_blocks", result.FailedBlocks)
	return result, nil
}

// Transcribe records the transcript command and stores the cleaned
// subtitles as one assistant message.
func (z *Summarizer) Transcribe(ctx context.Context, req SummaryRequest) error {
	if err := validateJob(req); err != nil {
		return err
	}
	convID := req.ConversationID

	if err := z.recordCommand(ctx, convID, transcribeCommand+req.URL); err != nil {
		return err
	}
	z.coord.sink.JobStatus(convID, JobProcessing, "Processando vídeo...")

	t, err := z.fetch(ctx, convID, req.URL)
	if err != nil {
		return err
	}

	content := fmt.Sprintf(transcriptFormat, t.Title, t.Text)
	msg, err := z.coord.store.AppendMessage(ctx, convID, store.RoleAssistant, content, "")
	if err != nil {
		err = fmt.Errorf("saving transcript: %w", err)
		z.reportJobError(convID, err.Error())
		return err
	}
	z.coord.sink.MessageSaved(convID, *msg)
	z.coord.sink.JobStatus(convID, JobSuccess, "")
	z.coord.sink.Updated(convID)
	return nil
}

// fetch resolves url to a transcript with text, reporting a user-facing
// error for a missing video or missing subtitles.
func (z *Summarizer) fetch(ctx context.Context, conversationID, url string) (transcript.Transcript, error) {
	t, err := z.source.Fetch(ctx, url)
	if err != nil {
		z.logger.Warn("transcript fetch failed", "url", url, "error", err)
		t = transcript.Transcript{}
	}
	if strings.TrimSpace(t.Text) != "" {
		return t, nil
	}

	var msg string
	if t.Title != "" {
		msg = fmt.Sprintf("Não foi possível processar as legendas do vídeo '%s' em PT-BR, PT ou EN.", t.Title)
	} else {
		msg = fmt.Sprintf("Vídeo não encontrado ou indisponível: %s", url)
	}
	z.reportJobError(conversationID, msg)
	return transcript.Transcript{}, fmt.Errorf("%w: %s", ErrNoTranscript, msg)
}

func (z *Summarizer) recordCommand(ctx context.Context, conversationID, content string) error {
	msg, err := z.coord.store.AppendMessage(ctx, conversationID, store.RoleUser, content, "")
	if err != nil {
		return fmt.Errorf("recording command: %w", err)
	}
	z.coord.sink.MessageSaved(conversationID, *msg)
	return nil
}

// checkpoint saves the summary so far. A failed checkpoint is logged and
// retried by the final commit.
func (z *Summarizer) checkpoint(ctx context.Context, key SessionKey, text string) {
	pctx, cancel := persistContext(ctx)
	defer cancel()
	if err := z.coord.store.UpdateMessage(pctx, key.ConversationID, key.MessageID, text); err != nil {
		z.logger.Warn("summary checkpoint failed", "session", key, "error", err)
	}
}

// advance moves s to next, aborting the job if the move is not allowed.
func (z *Summarizer) advance(s *Session, next State) error {
	if err := s.transition(next); err != nil {
		z.abort(s, err)
		return err
	}
	return nil
}

// abort stops a summary mid-way. The last checkpoint stays stored.
func (z *Summarizer) abort(s *Session, cause error) {
	z.checkpoint(context.Background(), s.Key, s.Text())
	if err := s.fail(cause); err != nil {
		z.logger.Error("failing summary session", "session", s.Key, "error", err)
	}
	z.coord.sink.Error(s.Key.ConversationID, s.Key.MessageID, cause.Error())
	z.coord.sink.JobStatus(s.Key.ConversationID, JobError, cause.Error())
}

func (z *Summarizer) reportJobError(conversationID, msg string) {
	z.coord.sink.Error(conversationID, "", msg)
	z.coord.sink.JobStatus(conversationID, JobError, msg)
}

func validateJob(req SummaryRequest) error {
	if req.ConversationID == "" {
		return fmt.Errorf("%w: conversation id is required", store.ErrValidation)
	}
	if strings.TrimSpace(req.URL) == "" {
		return fmt.Errorf("%w: url is required", store.ErrValidation)
	}
	return nil
}

// excerpt returns the first n runes of s.
func excerpt(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
