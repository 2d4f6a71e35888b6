// ABOUTME: Relay event types and the EventSink the coordinator publishes through
// ABOUTME: BroadcastSink routes turn events to conversation rooms and index events to the global room

package conversation

import (
	"time"

	"github.com/2389/chatrelay/internal/store"
)

// EventType names an outbound event.
type EventType string

// Event types delivered to clients.
const (
	EventChunk        EventType = "message_chunk"
	EventComplete     EventType = "response_complete"
	EventError        EventType = "stream_error"
	EventUpdated      EventType = "conversation_updated"
	EventRenamed      EventType = "conversation_renamed"
	EventDeleted      EventType = "conversation_deleted"
	EventMessageSaved EventType = "message_saved"
	EventJobStatus    EventType = "job_status"
)

// Job status values carried by EventJobStatus.
const (
	JobProcessing = "processing"
	JobSuccess    = "success"
	JobError      = "error"
)

// Event is one outbound notification. Fields beyond Type and ConversationID
// are set according to Type.
type Event struct {
	Type           EventType `json:"type"`
	ConversationID string    `json:"conversation_id"`
	MessageID      string    `json:"message_id,omitempty"`
	Timestamp      time.Time `json:"timestamp"`

	// message_chunk
	Content  string `json:"content,omitempty"`
	Sequence int    `json:"sequence_number,omitempty"`

	// response_complete
	TotalChunks      *int   `json:"total_chunks,omitempty"`
	CompleteResponse string `json:"complete_response,omitempty"`

	// stream_error
	Error string `json:"error,omitempty"`

	// conversation_renamed
	Title string `json:"title,omitempty"`

	// message_saved
	Role store.Role `json:"role,omitempty"`

	// job_status
	Status string `json:"status,omitempty"`
}

// EventSink is everything the coordinator and summarizer need from the
// transport. Implementations must not block for long.
type EventSink interface {
	Chunk(conversationID, messageID, content string, sequence int)
	Complete(conversationID, messageID string, totalChunks int, completeResponse string)
	Error(conversationID, messageID, description string)
	Updated(conversationID string)
	Renamed(conversationID, title string)
	Deleted(conversationID string)
	MessageSaved(conversationID string, msg store.Message)
	JobStatus(conversationID, status, detail string)
}

// BroadcastSink publishes events through an EventBroadcaster. Turn-scoped
// events go to the conversation's room; conversation_updated, renamed and
// deleted go to GlobalRoom so index listeners see every conversation.
type BroadcastSink struct {
	b   *EventBroadcaster
	now func() time.Time
}

// NewBroadcastSink wraps b.
func NewBroadcastSink(b *EventBroadcaster) *BroadcastSink {
	return &BroadcastSink{b: b, now: time.Now}
}

func (s *BroadcastSink) publish(room string, e *Event) {
	e.Timestamp = s.now().UTC()
	s.b.Publish(room, e)
}

func (s *BroadcastSink) Chunk(conversationID, messageID, content string, sequence int) {
	s.publish(conversationID, &Event{
		Type:           EventChunk,
		ConversationID: conversationID,
		MessageID:      messageID,
		Content:        content,
		Sequence:       sequence,
	})
}

func (s *BroadcastSink) Complete(conversationID, messageID string, totalChunks int, completeResponse string) {
	s.publish(conversationID, &Event{
		Type:             EventComplete,
		ConversationID:   conversationID,
		MessageID:        messageID,
		TotalChunks:      &totalChunks,
		CompleteResponse: completeResponse,
	})
}

func (s *BroadcastSink) Error(conversationID, messageID, description string) {
	s.publish(conversationID, &Event{
		Type:           EventError,
		ConversationID: conversationID,
		MessageID:      messageID,
		Error:          description,
	})
}

func (s *BroadcastSink) Updated(conversationID string) {
	s.publish(GlobalRoom, &Event{Type: EventUpdated, ConversationID: conversationID})
}

func (s *BroadcastSink) Renamed(conversationID, title string) {
	s.publish(GlobalRoom, &Event{Type: EventRenamed, ConversationID: conversationID, Title: title})
}

func (s *BroadcastSink) Deleted(conversationID string) {
	s.publish(GlobalRoom, &Event{Type: EventDeleted, ConversationID: conversationID})
}

func (s *BroadcastSink) MessageSaved(conversationID string, msg store.Message) {
	s.publish(conversationID, &Event{
		Type:           EventMessageSaved,
		ConversationID: conversationID,
		MessageID:      msg.ID,
		Content:        msg.Content,
		Role:           msg.Role,
	})
}

func (s *BroadcastSink) JobStatus(conversationID, status, detail string) {
	e := &Event{Type: EventJobStatus, ConversationID: conversationID, Status: status}
	if status == JobError {
		e.Error = detail
	} else {
		e.Content = detail
	}
	s.publish(conversationID, e)
}
