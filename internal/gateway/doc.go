// Package gateway serves chatrelay over HTTP.
//
// # Overview
//
// The gateway owns the conversation store, the upstream client, the event
// broadcaster, and the turn coordinator, and exposes them through a chi
// router. It is the only package that knows about HTTP.
//
// # HTTP API
//
//   - GET /health - Liveness check
//   - GET /health/ready - Readiness check with in-flight sessions
//   - GET /api/conversations - List the conversation index, newest first
//   - POST /api/conversations - Create a conversation
//   - GET /api/conversations/{id} - Full conversation
//   - DELETE /api/conversations/{id} - Delete (idempotent)
//   - GET /api/conversations/{id}/messages - Paged messages (offset, limit)
//   - POST /api/conversations/{id}/rename - Rename
//   - GET /api/conversations/{id}/export - Conversation rendered as HTML
//   - GET /api/conversations/{id}/events - Room feed as SSE ("*" for the index feed)
//   - POST /api/messages - Store a message without contacting the upstream
//   - POST /api/send - Start a turn and stream it as SSE
//   - POST /api/transcripts - Store a video's subtitles as a message
//   - POST /api/transcripts/summarize - Summarize a video block by block
//   - GET /ws - WebSocket room subscriptions
//   - GET / and /static/* - Embedded browser chat client
//
// /api/send and the transcript endpoints start upstream work and sit behind
// a per-client token bucket.
//
// # SSE Streaming
//
// POST /api/send answers with:
//
//	event: started
//	data: {"conversation_id": "...", "message_id": "..."}
//
//	event: chunk
//	data: {"type": "message_chunk", "content": "Olá", "sequence_number": 1, ...}
//
//	event: complete
//	data: {"type": "response_complete", "complete_response": "Olá!", ...}
//
// A failed turn ends with an error event instead of complete. The turn keeps
// running when the client disconnects.
//
// # WebSocket
//
// Each connection receives the index events (updated, renamed, deleted) and
// may join conversation rooms:
//
//	{"type": "join", "conversation_id": "..."}
//	{"type": "leave", "conversation_id": "..."}
//	{"type": "ping"}
//
// # Lifecycle
//
//	gw, err := gateway.New(cfg, logger)
//	err = gw.Run(ctx) // returns after ctx is canceled and shutdown finishes
package gateway
