// SPDX-License-Identifier: MIT

package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/johnolamide/echo-mcp-server/internal/metrics"
	"github.com/johnolamide/echo-mcp-server/internal/store"
)

// Store is the persistence surface the chat handler depends on.
type Store interface {
	IsUserActive(ctx context.Context, id int64) (bool, error)
	GetUser(ctx context.Context, id int64) (*store.User, error)
	CreateMessage(ctx context.Context, senderID, receiverID int64, content string) (*store.Message, error)
	MarkMessageRead(ctx context.Context, messageID, receiverID int64) (*store.Message, error)
	MarkConversationRead(ctx context.Context, senderID, receiverID int64) ([]int64, error)
}

// Handler drives one authenticated WebSocket connection: it registers the
// connection, decodes inbound frames into operations and dispatches them.
type Handler struct {
	store     Store
	registry  *Registry
	allowSelf bool
	logger    zerolog.Logger
}

// NewHandler creates a chat protocol handler. allowSelf controls whether a
// user may message themselves.
func NewHandler(st Store, registry *Registry, allowSelf bool, logger zerolog.Logger) *Handler {
	return &Handler{store: st, registry: registry, allowSelf: allowSelf, logger: logger}
}

type frame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Serve runs the connection's read loop until the peer goes away. The
// caller has already authenticated the user; registration happens here.
func (h *Handler) Serve(ctx context.Context, userID int64, ws *websocket.Conn) {
	conn := NewConn(ws)
	if err := h.registry.Connect(ctx, userID, conn); err != nil {
		h.logger.Error().Err(err).Int64("user_id", userID).Msg("registry connect failed")
		_ = conn.Close()
		return
	}
	defer h.registry.Disconnect(conn)

	h.registry.SendToConn(conn, Event{
		Type: EventConnectionConfirmed,
		Data: map[string]any{
			"user_id":   userID,
			"message":   "Connected to chat server",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		},
	})

	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug().Err(err).Int64("user_id", userID).Msg("websocket closed unexpectedly")
			}
			return
		}
		h.HandleFrame(ctx, userID, conn, raw)
	}
}

// HandleFrame decodes one inbound frame and dispatches it. Malformed frames
// produce an error event on the same connection; the connection stays open.
func (h *Handler) HandleFrame(ctx context.Context, userID int64, conn Conn, raw []byte) {
	var f frame
	if err := json.Unmarshal(raw, &f); err != nil {
		h.registry.SendToConn(conn, errorEvent("malformed frame"))
		return
	}
	metrics.ChatFramesTotal.WithLabelValues(f.Type).Inc()

	var err error
	switch f.Type {
	case OpSendMessage:
		err = h.handleSendMessage(ctx, userID, f.Data)
	case OpTypingIndicator:
		err = h.handleTyping(ctx, userID, f.Data)
	case OpMarkRead:
		err = h.handleMarkRead(ctx, userID, f.Data)
	case OpOnlineStatus:
		err = h.handleOnlineStatus(userID, conn, f.Data)
	default:
		h.registry.SendToConn(conn, errorEvent(fmt.Sprintf("unknown message type: %s", f.Type)))
		return
	}
	if err != nil {
		h.logger.Warn().Err(err).Str("op", f.Type).Int64("user_id", userID).Msg("chat operation failed")
		h.registry.SendToConn(conn, errorEvent(err.Error()))
	}
}

type sendMessagePayload struct {
	ReceiverID int64  `json:"receiver_id"`
	Content    string `json:"content"`
}

func (h *Handler) handleSendMessage(ctx context.Context, senderID int64, data json.RawMessage) error {
	var p sendMessagePayload
	if err := json.Unmarshal(data, &p); err != nil || p.ReceiverID == 0 || p.Content == "" {
		return errors.New("receiver_id and content are required")
	}
	_, err := h.SendMessage(ctx, senderID, p.ReceiverID, p.Content)
	return err
}

// SendMessage validates, persists and fans out one message. It backs both
// the send_message frame and the REST send endpoint so the two surfaces
// cannot drift.
func (h *Handler) SendMessage(ctx context.Context, senderID, receiverID int64, content string) (*store.Message, error) {
	if receiverID == senderID && !h.allowSelf {
		return nil, errors.New("sending messages to yourself is not allowed")
	}

	active, err := h.store.IsUserActive(ctx, receiverID)
	if err != nil {
		return nil, errors.New("failed to send message")
	}
	if !active {
		return nil, errors.New("receiver not found or inactive")
	}

	// Persist before fan-out: a crash between the two loses a live
	// delivery, never the stored message.
	msg, err := h.store.CreateMessage(ctx, senderID, receiverID, strings.TrimSpace(content))
	if err != nil {
		if errors.Is(err, store.ErrInvalidContent) {
			return nil, err
		}
		return nil, errors.New("failed to send message")
	}

	payload := h.messagePayload(ctx, msg)
	h.registry.SendToUser(ctx, msg.ReceiverID, Event{Type: EventNewMessage, Data: payload})
	if msg.SenderID != msg.ReceiverID {
		h.registry.SendToUser(ctx, msg.SenderID, Event{Type: EventMessageSent, Data: payload})
	}
	return msg, nil
}

// messagePayload builds the wire form of a stored message, decorated with
// usernames when the lookups succeed.
func (h *Handler) messagePayload(ctx context.Context, msg *store.Message) map[string]any {
	payload := map[string]any{
		"id":          msg.ID,
		"sender_id":   msg.SenderID,
		"receiver_id": msg.ReceiverID,
		"content":     msg.Content,
		"timestamp":   msg.Timestamp.Format(time.RFC3339),
		"is_read":     msg.IsRead,
	}
	if sender, err := h.store.GetUser(ctx, msg.SenderID); err == nil {
		payload["sender_username"] = sender.Username
	}
	if receiver, err := h.store.GetUser(ctx, msg.ReceiverID); err == nil {
		payload["receiver_username"] = receiver.Username
	}
	return payload
}

type typingPayload struct {
	TargetUserID int64 `json:"target_user_id"`
	IsTyping     bool  `json:"is_typing"`
}

func (h *Handler) handleTyping(ctx context.Context, userID int64, data json.RawMessage) error {
	var p typingPayload
	if err := json.Unmarshal(data, &p); err != nil || p.TargetUserID == 0 {
		return errors.New("target_user_id is required")
	}
	h.registry.SetTyping(userID, p.TargetUserID, p.IsTyping)
	h.registry.SendToUser(ctx, p.TargetUserID, Event{
		Type: EventTypingIndicator,
		Data: map[string]any{
			"user_id":   userID,
			"is_typing": p.IsTyping,
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		},
	})
	return nil
}

type markReadPayload struct {
	MessageID int64 `json:"message_id"`
	SenderID  int64 `json:"sender_id"`
}

// handleMarkRead flips read flags. With message_id one message is marked
// and one receipt emitted; with sender_id every unread message from that
// sender is marked and a single batch receipt goes back.
func (h *Handler) handleMarkRead(ctx context.Context, userID int64, data json.RawMessage) error {
	var p markReadPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return errors.New("message_id or sender_id is required")
	}

	switch {
	case p.MessageID != 0:
		msg, err := h.store.MarkMessageRead(ctx, p.MessageID, userID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil // already read or not addressed to this user
			}
			return errors.New("failed to mark message as read")
		}
		h.registry.SendToUser(ctx, msg.SenderID, Event{
			Type: EventReadReceipt,
			Data: map[string]any{
				"message_id": msg.ID,
				"read_by":    userID,
				"timestamp":  time.Now().UTC().Format(time.RFC3339),
			},
		})
		return nil

	case p.SenderID != 0:
		_, err := h.MarkConversationRead(ctx, p.SenderID, userID)
		return err

	default:
		return errors.New("message_id or sender_id is required")
	}
}

// MarkConversationRead marks every unread message from senderID to
// readerID as read and emits a single batch receipt to the sender. Shared
// by the mark_read frame and the REST read endpoint.
func (h *Handler) MarkConversationRead(ctx context.Context, senderID, readerID int64) ([]int64, error) {
	ids, err := h.store.MarkConversationRead(ctx, senderID, readerID)
	if err != nil {
		return nil, errors.New("failed to mark messages as read")
	}
	if len(ids) == 0 {
		return nil, nil
	}
	h.registry.SendToUser(ctx, senderID, Event{
		Type: EventReadReceipt,
		Data: map[string]any{
			"message_ids": ids,
			"read_by":     readerID,
			"timestamp":   time.Now().UTC().Format(time.RFC3339),
		},
	})
	return ids, nil
}

type onlineStatusPayload struct {
	UserIDs []int64 `json:"user_ids"`
}

func (h *Handler) handleOnlineStatus(userID int64, conn Conn, data json.RawMessage) error {
	var p onlineStatusPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return errors.New("user_ids is required")
	}
	status := make(map[string]bool, len(p.UserIDs))
	for _, id := range p.UserIDs {
		status[fmt.Sprintf("%d", id)] = h.registry.IsOnline(id)
	}
	h.registry.SendToConn(conn, Event{
		Type: EventOnlineStatus,
		Data: map[string]any{
			"online_status": status,
			"timestamp":     time.Now().UTC().Format(time.RFC3339),
		},
	})
	return nil
}
