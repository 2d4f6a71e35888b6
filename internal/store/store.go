// ABOUTME: Conversation data types, error kinds, and the Backend interface for chatrelay persistence
// ABOUTME: Backends persist whole conversation documents plus a rebuildable index

package store

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a requested conversation or message does not exist
var ErrNotFound = errors.New("not found")

// ErrValidation is returned when an argument is rejected before touching storage
var ErrValidation = errors.New("validation failed")

// ErrStorage classifies failures of the durable medium itself
var ErrStorage = errors.New("storage failure")

// ErrDuplicateMessage is returned when appending a message whose id already exists
var ErrDuplicateMessage = errors.New("message already exists")

// DefaultTitle is given to conversations until the first user message names them.
const DefaultTitle = "Nova conversa"

// MaxTitleLength bounds renamed titles, counted in characters.
const MaxTitleLength = 100

// derivedTitleLength is how many characters of the first user message become the title.
const derivedTitleLength = 30

// Role identifies who authored a message
type Role string

// Message roles
const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// Message is a single entry in a conversation's history. Role and Timestamp
// never change after creation; updates replace Content and set UpdatedAt.
type Message struct {
	ID        string     `json:"message_id"`
	Role      Role       `json:"role"`
	Content   string     `json:"content"`
	Timestamp time.Time  `json:"timestamp"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
}

// Conversation is the durable record for one chat. Timestamp is the time of
// the last mutation.
type Conversation struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Timestamp time.Time `json:"timestamp"`
	Messages  []Message `json:"messages"`
}

// message returns a pointer to the message with the given id, or nil.
func (c *Conversation) message(id string) *Message {
	for i := range c.Messages {
		if c.Messages[i].ID == id {
			return &c.Messages[i]
		}
	}
	return nil
}

func (c *Conversation) hasUserMessage() bool {
	for _, m := range c.Messages {
		if m.Role == RoleUser {
			return true
		}
	}
	return false
}

// IndexEntry is the summary row listed for each conversation. Location is the
// backend-specific reference to the full record.
type IndexEntry struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Timestamp time.Time `json:"timestamp"`
	Location  string    `json:"location"`
}

// Page is a window over a conversation's messages.
type Page struct {
	Messages []Message `json:"messages"`
	Total    int       `json:"total"`
	HasMore  bool      `json:"has_more"`
}

// StorageError wraps a failure of the durable medium. It matches ErrStorage
// with errors.Is and exposes the underlying cause through Unwrap.
type StorageError struct {
	Op  string
	ID  string
	Err error
}

func (e *StorageError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("storage %s %s: %v", e.Op, e.ID, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrStorage) match any StorageError.
func (e *StorageError) Is(target error) bool { return target == ErrStorage }

// Backend persists whole conversation documents and the conversation index.
// Implementations need not be safe for concurrent writes to the same
// conversation; ConversationStore serializes those.
type Backend interface {
	// LoadConversation returns ErrNotFound when no record exists for id.
	LoadConversation(ctx context.Context, id string) (*Conversation, error)
	// SaveConversation writes the full record and returns its location reference.
	SaveConversation(ctx context.Context, conv *Conversation) (string, error)
	// DeleteConversation removes the record and reports whether it existed.
	DeleteConversation(ctx context.Context, id string) (bool, error)
	// ConversationExists reports whether a record is present for id.
	ConversationExists(ctx context.Context, id string) (bool, error)
	// ListConversationIDs returns the ids of every stored record.
	ListConversationIDs(ctx context.Context) ([]string, error)

	LoadIndex(ctx context.Context) ([]IndexEntry, error)
	SaveIndex(ctx context.Context, entries []IndexEntry) error

	// Close releases any resources held by the backend
	Close() error
}
