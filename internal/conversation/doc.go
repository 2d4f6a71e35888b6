// Package conversation runs chat turns and transcript jobs and fans their
// events out to subscribers.
//
// # Turns
//
// A Coordinator owns the lifecycle of one assistant reply:
//
//	coord := conversation.NewCoordinator(store, upstreamClient, sink, logger)
//	turn, err := coord.StartTurn(ctx, conversation.TurnRequest{
//		ConversationID: id,
//		Content:        "hello",
//	})
//
// The user message is stored before the upstream is called. Each delta is
// appended to the turn's Session and published as a chunk event with a
// 1-based, gapless sequence number. When the stream ends the reply is
// committed, then response_complete and conversation_updated are published
// in that order. If the stream fails, a stream_error event is published and
// nothing is committed for the reply.
//
// # Sessions
//
// Sessions live in a SessionTable keyed by (conversation id, message id).
// Inserts are insert-if-absent, so a second turn with the same key fails
// with ErrSessionExists. Every path out of a turn removes its session.
//
// # Transcript jobs
//
// A Summarizer splits a transcript into word chunks and summarizes each one
// with its own upstream pass. All blocks stream into one message that is
// stored up front, checkpointed after every block, and revised in place at
// the end. A failed block becomes an inline notice quoting the start of the
// original text.
//
// # Events
//
// Coordinator and Summarizer publish through the EventSink interface.
// BroadcastSink delivers events through an EventBroadcaster: turn events go
// to the conversation's room, index changes go to GlobalRoom.
package conversation
