// ABOUTME: ConversationStore serializes per-conversation read-modify-write over a Backend
// ABOUTME: Owns title derivation, index synchronization, paging, and error classification

package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// ConversationStore is the durable store of conversations and their messages.
// Mutations of one conversation are serialized; different conversations
// proceed independently. It is safe for concurrent use.
type ConversationStore struct {
	backend Backend
	logger  *slog.Logger
	now     func() time.Time

	mu    sync.Mutex
	locks map[string]*idLock

	// indexMu serializes load-modify-save cycles on the index.
	indexMu sync.Mutex
}

type idLock struct {
	mu   sync.Mutex
	refs int
}

// NewConversationStore wraps backend. A nil logger uses slog.Default().
func NewConversationStore(backend Backend, logger *slog.Logger) *ConversationStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &ConversationStore{
		backend: backend,
		logger:  logger.With("component", "conversation_store"),
		now:     func() time.Time { return time.Now().UTC() },
		locks:   make(map[string]*idLock),
	}
}

// OpenBackend builds the Backend named by driver ("file" or "sqlite").
func OpenBackend(driver, path string) (Backend, error) {
	switch driver {
	case "", "file":
		return NewFileBackend(path)
	case "sqlite":
		return NewSQLiteBackend(path)
	default:
		return nil, fmt.Errorf("%w: unknown storage driver %q", ErrValidation, driver)
	}
}

// Close releases the backend.
func (s *ConversationStore) Close() error {
	return s.backend.Close()
}

// Ping checks that the backend is reachable.
func (s *ConversationStore) Ping(ctx context.Context) error {
	if p, ok := s.backend.(interface{ Ping(context.Context) error }); ok {
		if err := p.Ping(ctx); err != nil {
			return &StorageError{Op: "ping", Err: err}
		}
		return nil
	}
	if _, err := s.backend.LoadIndex(ctx); err != nil {
		return &StorageError{Op: "ping", Err: err}
	}
	return nil
}

// lock acquires the per-conversation mutex and returns its release func.
func (s *ConversationStore) lock(id string) func() {
	s.mu.Lock()
	l, ok := s.locks[id]
	if !ok {
		l = &idLock{}
		s.locks[id] = l
	}
	l.refs++
	s.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		s.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, id)
		}
		s.mu.Unlock()
	}
}

// validateID rejects ids that could escape a file backend's directory.
func validateID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: conversation id is required", ErrValidation)
	}
	if strings.ContainsAny(id, `/\`) || strings.Contains(id, "..") {
		return fmt.Errorf("%w: invalid conversation id %q", ErrValidation, id)
	}
	return nil
}

// classify maps backend errors onto the store's error kinds.
func classify(op, id string, err error) error {
	if err == nil || errors.Is(err, ErrNotFound) {
		return err
	}
	return &StorageError{Op: op, ID: id, Err: err}
}

// NewConversationID returns a fresh conversation id. UUIDv7 ids sort by
// creation time.
func NewConversationID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// NewMessageID returns a fresh message id.
func NewMessageID() string {
	return uuid.NewString()
}

// DeriveTitle returns the first 30 characters of content, with "..." appended
// when it was truncated. Blank content yields DefaultTitle.
func DeriveTitle(content string) string {
	content = strings.TrimSpace(content)
	if content == "" {
		return DefaultTitle
	}
	if utf8.RuneCountInString(content) <= derivedTitleLength {
		return content
	}
	runes := []rune(content)
	return string(runes[:derivedTitleLength]) + "..."
}

// Create stores a new empty conversation. An empty title uses DefaultTitle.
func (s *ConversationStore) Create(ctx context.Context, title string) (*Conversation, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		title = DefaultTitle
	}
	if utf8.RuneCountInString(title) > MaxTitleLength {
		return nil, fmt.Errorf("%w: title exceeds %d characters", ErrValidation, MaxTitleLength)
	}

	conv := &Conversation{
		ID:        NewConversationID(),
		Title:     title,
		Timestamp: s.now(),
		Messages:  []Message{},
	}

	unlock := s.lock(conv.ID)
	defer unlock()

	if err := s.save(ctx, conv); err != nil {
		return nil, err
	}
	s.logger.Debug("conversation created", "conversation_id", conv.ID)
	return conv, nil
}

// Get returns the full conversation or ErrNotFound.
func (s *ConversationStore) Get(ctx context.Context, id string) (*Conversation, error) {
	if err := validateID(id); err != nil {
		return nil, err
	}
	conv, err := s.backend.LoadConversation(ctx, id)
	if err != nil {
		return nil, classify("load", id, err)
	}
	if conv.Messages == nil {
		conv.Messages = []Message{}
	}
	return conv, nil
}

// GetPage returns messages[offset:offset+limit] clamped to bounds. HasMore
// reports whether messages remain past the returned window.
func (s *ConversationStore) GetPage(ctx context.Context, id string, offset, limit int) (*Page, error) {
	if offset < 0 || limit < 0 {
		return nil, fmt.Errorf("%w: offset and limit must not be negative", ErrValidation)
	}
	conv, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	total := len(conv.Messages)
	start := min(offset, total)
	end := min(start+limit, total)

	return &Page{
		Messages: append([]Message{}, conv.Messages[start:end]...),
		Total:    total,
		HasMore:  end < total,
	}, nil
}

// AppendMessage adds a message to the conversation, creating the conversation
// first if it does not exist. An empty messageID gets a fresh id; an id that
// already exists in the conversation returns ErrDuplicateMessage. The first
// user message of a conversation still carrying DefaultTitle names it.
func (s *ConversationStore) AppendMessage(ctx context.Context, conversationID string, role Role, content, messageID string) (*Message, error) {
	if err := validateID(conversationID); err != nil {
		return nil, err
	}
	if !role.Valid() {
		return nil, fmt.Errorf("%w: unknown role %q", ErrValidation, role)
	}
	if messageID == "" {
		messageID = NewMessageID()
	}

	unlock := s.lock(conversationID)
	defer unlock()

	now := s.now()
	conv, err := s.backend.LoadConversation(ctx, conversationID)
	switch {
	case errors.Is(err, ErrNotFound):
		s.logger.Info("creating missing conversation on append", "conversation_id", conversationID)
		conv = &Conversation{ID: conversationID, Title: DefaultTitle, Timestamp: now}
	case err != nil:
		return nil, classify("load", conversationID, err)
	}

	if conv.message(messageID) != nil {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateMessage, messageID)
	}

	if role == RoleUser && !conv.hasUserMessage() && conv.Title == DefaultTitle {
		conv.Title = DeriveTitle(content)
	}

	msg := Message{
		ID:        messageID,
		Role:      role,
		Content:   content,
		Timestamp: now,
	}
	conv.Messages = append(conv.Messages, msg)
	conv.Timestamp = now

	if err := s.save(ctx, conv); err != nil {
		return nil, err
	}
	return &msg, nil
}

// UpdateMessage replaces the content of an existing message and stamps
// UpdatedAt. It returns ErrNotFound when the conversation or message is
// missing, leaving storage untouched.
func (s *ConversationStore) UpdateMessage(ctx context.Context, conversationID, messageID, content string) error {
	if err := validateID(conversationID); err != nil {
		return err
	}

	unlock := s.lock(conversationID)
	defer unlock()

	conv, err := s.backend.LoadConversation(ctx, conversationID)
	if err != nil {
		return classify("load", conversationID, err)
	}

	msg := conv.message(messageID)
	if msg == nil {
		return fmt.Errorf("message %s: %w", messageID, ErrNotFound)
	}

	now := s.now()
	msg.Content = content
	msg.UpdatedAt = &now
	conv.Timestamp = now

	return s.save(ctx, conv)
}

// Rename trims title and stores it. Titles must be 1..100 characters after
// trimming. It returns the stored title.
func (s *ConversationStore) Rename(ctx context.Context, id, title string) (string, error) {
	if err := validateID(id); err != nil {
		return "", err
	}
	title = strings.TrimSpace(title)
	if title == "" {
		return "", fmt.Errorf("%w: title must not be empty", ErrValidation)
	}
	if utf8.RuneCountInString(title) > MaxTitleLength {
		return "", fmt.Errorf("%w: title exceeds %d characters", ErrValidation, MaxTitleLength)
	}

	unlock := s.lock(id)
	defer unlock()

	conv, err := s.backend.LoadConversation(ctx, id)
	if err != nil {
		return "", classify("load", id, err)
	}

	conv.Title = title
	conv.Timestamp = s.now()
	if err := s.save(ctx, conv); err != nil {
		return "", err
	}
	return title, nil
}

// Delete removes the conversation and its index entry. Deleting a
// conversation whose record is already gone succeeds.
func (s *ConversationStore) Delete(ctx context.Context, id string) error {
	if err := validateID(id); err != nil {
		return err
	}

	unlock := s.lock(id)
	defer unlock()

	existed, err := s.backend.DeleteConversation(ctx, id)
	if err != nil {
		return classify("delete", id, err)
	}
	if !existed {
		s.logger.Debug("delete of missing conversation", "conversation_id", id)
	}

	return s.updateIndex(ctx, func(entries []IndexEntry) []IndexEntry {
		return removeEntry(entries, id)
	})
}

// ListIndex returns the index newest first. Entries whose record no longer
// exists are dropped and the pruned index is written back.
func (s *ConversationStore) ListIndex(ctx context.Context) ([]IndexEntry, error) {
	s.indexMu.Lock()
	defer s.indexMu.Unlock()

	entries, err := s.backend.LoadIndex(ctx)
	if err != nil {
		return nil, classify("load_index", "", err)
	}

	live := make([]IndexEntry, 0, len(entries))
	for _, e := range entries {
		ok, err := s.backend.ConversationExists(ctx, e.ID)
		if err != nil {
			return nil, classify("stat", e.ID, err)
		}
		if ok {
			live = append(live, e)
		}
	}
	sortEntries(live)

	if pruned := len(entries) - len(live); pruned > 0 {
		s.logger.Info("pruned stale index entries", "count", pruned)
		if err := s.backend.SaveIndex(ctx, live); err != nil {
			return nil, classify("save_index", "", err)
		}
	}
	return live, nil
}

// RebuildIndex regenerates the index from the stored records and returns the
// number of entries written.
func (s *ConversationStore) RebuildIndex(ctx context.Context) (int, error) {
	ids, err := s.backend.ListConversationIDs(ctx)
	if err != nil {
		return 0, classify("list", "", err)
	}

	entries := make([]IndexEntry, 0, len(ids))
	for _, id := range ids {
		conv, err := s.backend.LoadConversation(ctx, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			s.logger.Warn("skipping unreadable conversation", "conversation_id", id, "error", err)
			continue
		}
		entries = append(entries, IndexEntry{
			ID:        conv.ID,
			Title:     conv.Title,
			Timestamp: conv.Timestamp,
			Location:  s.location(conv.ID),
		})
	}
	sortEntries(entries)

	s.indexMu.Lock()
	defer s.indexMu.Unlock()
	if err := s.backend.SaveIndex(ctx, entries); err != nil {
		return 0, classify("save_index", "", err)
	}
	return len(entries), nil
}

// location predicts the reference a backend would return for id.
func (s *ConversationStore) location(id string) string {
	switch s.backend.(type) {
	case *FileBackend:
		return fileName(id)
	case *SQLiteBackend:
		return sqliteLocationPrefix + id
	default:
		return "memory:" + id
	}
}

// save writes conv and re-syncs its index entry. Callers hold the
// conversation's lock.
func (s *ConversationStore) save(ctx context.Context, conv *Conversation) error {
	loc, err := s.backend.SaveConversation(ctx, conv)
	if err != nil {
		return classify("save", conv.ID, err)
	}

	entry := IndexEntry{ID: conv.ID, Title: conv.Title, Timestamp: conv.Timestamp, Location: loc}
	return s.updateIndex(ctx, func(entries []IndexEntry) []IndexEntry {
		return append(removeEntry(entries, conv.ID), entry)
	})
}

func (s *ConversationStore) updateIndex(ctx context.Context, mutate func([]IndexEntry) []IndexEntry) error {
	s.indexMu.Lock()
	defer s.indexMu.Unlock()

	entries, err := s.backend.LoadIndex(ctx)
	if err != nil {
		return classify("load_index", "", err)
	}
	entries = mutate(entries)
	sortEntries(entries)
	if err := s.backend.SaveIndex(ctx, entries); err != nil {
		return classify("save_index", "", err)
	}
	return nil
}

func removeEntry(entries []IndexEntry, id string) []IndexEntry {
	out := entries[:0]
	for _, e := range entries {
		if e.ID != id {
			out = append(out, e)
		}
	}
	return out
}

// sortEntries orders newest first, breaking ties by id.
func sortEntries(entries []IndexEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if !entries[i].Timestamp.Equal(entries[j].Timestamp) {
			return entries[i].Timestamp.After(entries[j].Timestamp)
		}
		return entries[i].ID > entries[j].ID
	})
}
