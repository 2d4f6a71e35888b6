// ABOUTME: WebSocket endpoint that lets a client join and leave conversation rooms
// ABOUTME: Every connection also receives global index events such as renames and deletions

package gateway

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/2389/chatrelay/internal/conversation"
)

// wsMessage is a client frame on /ws.
type wsMessage struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id,omitempty"`
}

// wsReply acknowledges a client frame.
type wsReply struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id,omitempty"`
	Error          string `json:"error,omitempty"`
}

// wsClient tracks one connection's room subscriptions.
type wsClient struct {
	g    *Gateway
	conn *websocket.Conn
	ctx  context.Context

	mu    sync.Mutex
	rooms map[string]context.CancelFunc
	wg    sync.WaitGroup
}

// handleWebSocket handles GET /ws.
func (g *Gateway) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		g.logger.Error("failed to accept websocket", "error", err)
		return
	}
	defer func() {
		if closeErr := conn.Close(websocket.StatusNormalClosure, "bye"); closeErr != nil {
			g.logger.Debug("failed to close websocket", "error", closeErr)
		}
	}()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	c := &wsClient{g: g, conn: conn, ctx: ctx, rooms: make(map[string]context.CancelFunc)}
	c.join(conversation.GlobalRoom)
	defer c.wg.Wait()
	defer cancel()

	c.readLoop()
}

func (c *wsClient) readLoop() {
	for {
		var msg wsMessage
		if err := wsjson.Read(c.ctx, c.conn, &msg); err != nil {
			if websocket.CloseStatus(err) == -1 && !errors.Is(err, context.Canceled) {
				c.g.logger.Debug("websocket read error", "error", err)
			}
			return
		}

		switch msg.Type {
		case "join":
			if msg.ConversationID == "" {
				c.reply(wsReply{Type: "error", Error: "conversation_id is required"})
				continue
			}
			c.join(msg.ConversationID)
			c.reply(wsReply{Type: "joined", ConversationID: msg.ConversationID})
		case "leave":
			c.leave(msg.ConversationID)
			c.reply(wsReply{Type: "left", ConversationID: msg.ConversationID})
		case "ping":
			c.reply(wsReply{Type: "pong"})
		default:
			c.reply(wsReply{Type: "error", Error: "unknown message type: " + msg.Type})
		}
	}
}

// join subscribes to room and forwards its events until leave or disconnect.
// Joining a room twice is a no-op.
func (c *wsClient) join(room string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.rooms[room]; ok {
		return
	}

	ctx, cancel := context.WithCancel(c.ctx)
	c.rooms[room] = cancel
	events, _ := c.g.broadcaster.Subscribe(ctx, room)

	c.wg.Go(func() {
		for e := range events {
			if err := wsjson.Write(c.ctx, c.conn, e); err != nil {
				c.g.logger.Debug("websocket write error", "room", room, "error", err)
				return
			}
		}
	})
}

func (c *wsClient) leave(room string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cancel, ok := c.rooms[room]; ok {
		cancel()
		delete(c.rooms, room)
	}
}

func (c *wsClient) reply(r wsReply) {
	if err := wsjson.Write(c.ctx, c.conn, r); err != nil {
		c.g.logger.Debug("websocket reply failed", "error", err)
	}
}
