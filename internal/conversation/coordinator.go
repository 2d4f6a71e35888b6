// ABOUTME: Coordinator drives one chat turn from user message to committed assistant reply
// ABOUTME: Record first, then stream: the user message is durable before the upstream is called

package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/2389/chatrelay/internal/dedupe"
	"github.com/2389/chatrelay/internal/metrics"
	"github.com/2389/chatrelay/internal/store"
	"github.com/2389/chatrelay/internal/upstream"
)

var (
	// ErrDuplicateTurn is returned when a turn reuses the message id of a
	// turn that already finished.
	ErrDuplicateTurn = errors.New("turn already completed")

	// ErrShuttingDown is returned once the coordinator stops accepting work.
	ErrShuttingDown = errors.New("coordinator shutting down")
)

const (
	// persistTimeout bounds commits made on a detached context.
	persistTimeout = 5 * time.Second

	recentTurnTTL   = 10 * time.Minute
	recentTurnLimit = 4096
)

// Store is what the coordinator needs from conversation storage.
type Store interface {
	Create(ctx context.Context, title string) (*store.Conversation, error)
	Get(ctx context.Context, id string) (*store.Conversation, error)
	AppendMessage(ctx context.Context, conversationID string, role store.Role, content, messageID string) (*store.Message, error)
	UpdateMessage(ctx context.Context, conversationID, messageID, content string) error
}

// TurnRequest starts a turn.
type TurnRequest struct {
	// ConversationID is optional; empty creates a conversation, and an
	// unknown id is created on first append.
	ConversationID string
	Content        string

	// MessageID is the id the assistant reply is stored under. Clients may
	// supply it to correlate events; empty assigns one.
	MessageID string

	// ReuseMessage regenerates the existing message MessageID in place.
	// The user message is not recorded again.
	ReuseMessage bool
}

// TurnResult describes a finished turn.
type TurnResult struct {
	ConversationID string
	UserMessageID  string
	MessageID      string
	Text           string
	Chunks         int
	State          State
	Err            error
}

// Turn is a turn running in the background.
type Turn struct {
	ConversationID string
	UserMessageID  string
	MessageID      string

	done   chan struct{}
	result *TurnResult
}

// Done is closed when the turn finishes.
func (t *Turn) Done() <-chan struct{} { return t.done }

// Wait blocks until the turn finishes or ctx is done.
func (t *Turn) Wait(ctx context.Context) (*TurnResult, error) {
	select {
	case <-t.done:
		return t.result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Coordinator runs turns and background jobs. Each turn owns one Session in
// the shared SessionTable from the moment the user message is recorded until
// the reply is committed or the turn fails.
type Coordinator struct {
	store    Store
	upstream upstream.Streamer
	sink     EventSink
	sessions *SessionTable
	recent   *dedupe.Cache[SessionKey]
	logger   *slog.Logger

	// ctx is the parent of every background task; cancel stops them.
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewCoordinator wires a coordinator. A nil logger uses slog.Default().
func NewCoordinator(st Store, up upstream.Streamer, sink EventSink, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		store:    st,
		upstream: up,
		sink:     sink,
		sessions: NewSessionTable(),
		recent:   dedupe.New[SessionKey](recentTurnTTL, recentTurnLimit, 0),
		logger:   logger.With("component", "coordinator"),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Sessions returns the in-flight sessions.
func (c *Coordinator) Sessions() []SessionInfo {
	return c.sessions.Snapshot()
}

// ActiveSessions returns the number of in-flight sessions.
func (c *Coordinator) ActiveSessions() int {
	return c.sessions.Len()
}

// RunTurn runs a turn to completion on the caller's goroutine. The returned
// error is non-nil only when the turn could not start; stream and commit
// failures are reported through the sink and in TurnResult.Err.
func (c *Coordinator) RunTurn(ctx context.Context, req TurnRequest) (*TurnResult, error) {
	s, userMsgID, err := c.begin(ctx, req)
	if err != nil {
		return nil, err
	}
	return c.run(ctx, s, req, userMsgID), nil
}

// StartTurn records the user message and then streams the reply in the
// background. The turn runs on the coordinator's context, so it outlives ctx
// and is cancelled only by Shutdown.
func (c *Coordinator) StartTurn(ctx context.Context, req TurnRequest) (*Turn, error) {
	s, userMsgID, err := c.begin(ctx, req)
	if err != nil {
		return nil, err
	}

	t := &Turn{
		ConversationID: s.Key.ConversationID,
		UserMessageID:  userMsgID,
		MessageID:      s.Key.MessageID,
		done:           make(chan struct{}),
	}
	started := c.Go(func(ctx context.Context) {
		defer close(t.done)
		t.result = c.run(ctx, s, req, userMsgID)
	})
	if !started {
		c.sessions.Remove(s.Key)
		return nil, ErrShuttingDown
	}
	return t, nil
}

// Go runs fn on its own goroutine with the coordinator's context. It
// returns false without running fn after Shutdown.
func (c *Coordinator) Go(fn func(ctx context.Context)) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.wg.Go(func() { fn(c.ctx) })
	return true
}

// Wait blocks until every background task has returned.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}

// Shutdown stops accepting work, cancels running tasks, and waits for them
// until ctx is done.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	c.cancel()
	defer c.recent.Close()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for tasks: %w", ctx.Err())
	}
}

// begin validates the request, claims the session, and records the user
// message. On return the session is in StateCreated and owned by the caller.
func (c *Coordinator) begin(ctx context.Context, req TurnRequest) (*Session, string, error) {
	if strings.TrimSpace(req.Content) == "" {
		return nil, "", fmt.Errorf("%w: message content is required", store.ErrValidation)
	}
	if req.ReuseMessage && (req.ConversationID == "" || req.MessageID == "") {
		return nil, "", fmt.Errorf("%w: regenerating requires conversation and message ids", store.ErrValidation)
	}

	convID := req.ConversationID
	if convID == "" {
		conv, err := c.store.Create(ctx, "")
		if err != nil {
			return nil, "", fmt.Errorf("creating conversation: %w", err)
		}
		convID = conv.ID
	}

	msgID := req.MessageID
	if msgID == "" {
		msgID = store.NewMessageID()
	}

	key := SessionKey{ConversationID: convID, MessageID: msgID}
	if !req.ReuseMessage && c.recent.Seen(key) {
		return nil, "", fmt.Errorf("%w: %s", ErrDuplicateTurn, key)
	}
	s := NewSession(key)
	if !c.sessions.Insert(s) {
		return nil, "", fmt.Errorf("%w: %s", ErrSessionExists, key)
	}

	if req.ReuseMessage {
		return s, "", nil
	}

	// The replay cache forgets on restart and after recentTurnTTL; a reply
	// already committed under msgID is the durable record of the turn.
	if req.MessageID != "" && req.ConversationID != "" {
		committed, err := c.committed(ctx, key)
		if err != nil {
			c.sessions.Remove(key)
			return nil, "", err
		}
		if committed {
			c.sessions.Remove(key)
			c.recent.Add(key)
			return nil, "", fmt.Errorf("%w: %s", ErrDuplicateTurn, key)
		}
	}

	userMsg, err := c.store.AppendMessage(ctx, convID, store.RoleUser, req.Content, "")
	if err != nil {
		c.sessions.Remove(key)
		return nil, "", fmt.Errorf("recording user message: %w", err)
	}
	c.sink.MessageSaved(convID, *userMsg)

	c.logger.Debug("turn started",
		"conversation_id", convID,
		"message_id", msgID,
		"user_message_id", userMsg.ID)

	return s, userMsg.ID, nil
}

// run streams the reply into s and commits it. The session is removed from
// the table on every path.
func (c *Coordinator) run(ctx context.Context, s *Session, req TurnRequest, userMsgID string) *TurnResult {
	key := s.Key
	outcome := metrics.OutcomeFailed
	defer func() {
		c.sessions.Remove(key)
		metrics.TurnFinished(outcome, time.Since(s.Started).Seconds())
	}()

	result := &TurnResult{
		ConversationID: key.ConversationID,
		UserMessageID:  userMsgID,
		MessageID:      key.MessageID,
	}
	finish := func() *TurnResult {
		result.Text = s.Text()
		result.Chunks = s.Sequence()
		result.State = s.State()
		result.Err = s.Err()
		return result
	}

	conv, err := c.store.Get(ctx, key.ConversationID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		c.failSession(s, fmt.Errorf("loading history: %w", err))
		return finish()
	}
	var history []store.Message
	if conv != nil {
		history = historyBefore(conv.Messages, key.MessageID, req.ReuseMessage)
	}

	if err := s.transition(StateStreaming); err != nil {
		c.failSession(s, err)
		return finish()
	}
	if err := c.pump(ctx, s, req.Content, history); err != nil {
		c.failSession(s, fmt.Errorf("upstream stream: %w", err))
		return finish()
	}

	if err := s.transition(StateCommitting); err != nil {
		c.failSession(s, err)
		return finish()
	}
	text := s.Text()
	if text != "" {
		if err := c.commit(ctx, key, text, req.ReuseMessage); err != nil {
			c.failSession(s, err)
			return finish()
		}
	}

	c.sink.Complete(key.ConversationID, key.MessageID, s.Sequence(), text)
	c.sink.Updated(key.ConversationID)
	if err := s.transition(StateDone); err != nil {
		c.logger.Error("finishing session", "session", key, "error", err)
	}
	c.recent.Add(key)

	outcome = metrics.OutcomeDone
	if text == "" {
		outcome = metrics.OutcomeEmpty
	}
	c.logger.Info("turn complete",
		"conversation_id", key.ConversationID,
		"message_id", key.MessageID,
		"chunks", s.Sequence())
	return finish()
}

// pump streams prompt into s, forwarding every non-empty delta as a chunk
// event. It returns the first stream error, or ctx's error if the context
// ended while streaming.
func (c *Coordinator) pump(ctx context.Context, s *Session, prompt string, history []store.Message) error {
	for delta, err := range c.upstream.Stream(ctx, prompt, history) {
		if err != nil {
			return err
		}
		if delta == "" {
			continue
		}
		c.emit(s, delta)
	}
	return ctx.Err()
}

// emit appends delta to s and publishes it with the next sequence number.
func (c *Coordinator) emit(s *Session, delta string) {
	seq := s.Append(delta)
	metrics.DeltaStreamed()
	c.sink.Chunk(s.Key.ConversationID, s.Key.MessageID, delta, seq)
}

// commit stores the finished reply. It runs on a detached context so a
// cancelled request cannot lose a reply that already streamed in full.
func (c *Coordinator) commit(ctx context.Context, key SessionKey, text string, reuse bool) error {
	ctx, cancel := persistContext(ctx)
	defer cancel()

	if reuse {
		err := c.store.UpdateMessage(ctx, key.ConversationID, key.MessageID, text)
		if !errors.Is(err, store.ErrNotFound) {
			if err != nil {
				return fmt.Errorf("updating reply: %w", err)
			}
			return nil
		}
		c.logger.Warn("regenerated message missing, appending instead", "session", key)
	}

	if _, err := c.store.AppendMessage(ctx, key.ConversationID, store.RoleAssistant, text, key.MessageID); err != nil {
		return fmt.Errorf("committing reply: %w", err)
	}
	return nil
}

// committed reports whether the conversation already holds a message with
// key's message id. A missing conversation holds nothing.
func (c *Coordinator) committed(ctx context.Context, key SessionKey) (bool, error) {
	conv, err := c.store.Get(ctx, key.ConversationID)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking for replay: %w", err)
	}
	for _, m := range conv.Messages {
		if m.ID == key.MessageID {
			return true, nil
		}
	}
	return false, nil
}

// failSession moves s to StateFailed and reports cause. Partial text is
// never committed; clients already received it as chunks.
func (c *Coordinator) failSession(s *Session, cause error) {
	if err := s.fail(cause); err != nil {
		c.logger.Error("failing session", "session", s.Key, "error", err)
	}
	c.sink.Error(s.Key.ConversationID, s.Key.MessageID, cause.Error())
	c.logger.Warn("turn failed",
		"conversation_id", s.Key.ConversationID,
		"message_id", s.Key.MessageID,
		"chunks", s.Sequence(),
		"error", cause)
}

// historyBefore returns the messages that precede messageID when
// regenerating, so the reply being replaced is not fed back upstream.
func historyBefore(messages []store.Message, messageID string, reuse bool) []store.Message {
	if !reuse {
		return messages
	}
	for i, m := range messages {
		if m.ID == messageID {
			return messages[:i]
		}
	}
	return messages
}

// persistContext detaches ctx from cancellation and bounds it.
func persistContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
}
