// Package store provides durable storage for conversations.
//
// # Architecture
//
// Storage is split in two layers:
//
//   - Backend: reads and writes whole conversation documents and the index.
//     FileBackend keeps one JSON file per conversation plus index.json;
//     SQLiteBackend keeps the same documents as rows. MockBackend is an
//     in-memory implementation for tests.
//   - ConversationStore: the operations callers use. It serializes
//     read-modify-write cycles per conversation id, derives titles, keeps
//     the index in sync, and classifies errors.
//
// # Data Models
//
//   - Conversation: id, title, last-mutation timestamp, ordered messages
//   - Message: id, role (user or assistant), content, timestamps
//   - IndexEntry: summary row pointing at the full record
//
// # Errors
//
//	ErrNotFound          conversation or message does not exist
//	ErrValidation        argument rejected before any I/O
//	ErrDuplicateMessage  message id already present in the conversation
//	ErrStorage           matched by every *StorageError (I/O failures)
//
// Storage errors are surfaced to the caller and never retried here.
//
// # Index
//
// The index is derived data. ListIndex drops entries whose record has
// disappeared and writes the pruned list back; RebuildIndex regenerates it
// from the records themselves.
package store
