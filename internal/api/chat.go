// SPDX-License-Identifier: MIT

package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	xlog "github.com/johnolamide/echo-mcp-server/internal/log"
)

func (s *Server) handleChatHistory(w http.ResponseWriter, r *http.Request) {
	otherID, err := pathID(r, "userID")
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "invalid user id")
		return
	}
	limit, offset := parsePagination(r, 50, 200)
	user := userFrom(r.Context())

	msgs, err := s.store.GetHistory(r.Context(), user.ID, otherID, limit, offset)
	if err != nil {
		writeInternal(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": msgs})
}

func (s *Server) handleChatConversations(w http.ResponseWriter, r *http.Request) {
	limit, _ := parsePagination(r, 50, 200)
	user := userFrom(r.Context())

	convs, err := s.store.GetConversations(r.Context(), user.ID, limit)
	if err != nil {
		writeInternal(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"conversations": convs})
}

type chatSendRequest struct {
	ReceiverID int64  `json:"receiver_id"`
	Content    string `json:"content"`
}

// handleChatSend persists and fans out through the same path as the
// send_message WebSocket frame.
func (s *Server) handleChatSend(w http.ResponseWriter, r *http.Request) {
	var req chatSendRequest
	if err := decodeJSON(r, &req); err != nil || req.ReceiverID == 0 || req.Content == "" {
		writeError(w, http.StatusUnprocessableEntity, "receiver_id and content are required")
		return
	}
	user := userFrom(r.Context())

	msg, err := s.chat.SendMessage(r.Context(), user.ID, req.ReceiverID, req.Content)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

func (s *Server) handleChatMarkRead(w http.ResponseWriter, r *http.Request) {
	senderID, err := pathID(r, "senderID")
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "invalid sender id")
		return
	}
	user := userFrom(r.Context())

	ids, err := s.chat.MarkConversationRead(r.Context(), senderID, user.ID)
	if err != nil {
		writeInternal(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"marked_read": len(ids), "message_ids": ids})
}

func (s *Server) handleChatUnreadCount(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r.Context())
	n, err := s.store.UnreadCount(r.Context(), user.ID)
	if err != nil {
		writeInternal(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"unread_count": n})
}

func (s *Server) handleChatOnlineStatus(w http.ResponseWriter, r *http.Request) {
	status := make(map[string]bool)
	for _, part := range strings.Split(r.URL.Query().Get("user_ids"), ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, "user_ids must be a comma-separated list of ids")
			return
		}
		status[part] = s.registry.IsOnline(id)
	}
	writeJSON(w, http.StatusOK, map[string]any{"online_status": status})
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The token, not the origin, is the trust boundary here.
	CheckOrigin: func(*http.Request) bool { return true },
}

// handleChatWS upgrades and then authenticates, so auth failures can be
// reported with a proper close frame (1008) instead of a plain HTTP error
// the browser WebSocket API cannot read.
func (s *Server) handleChatWS(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return // Upgrade already wrote the HTTP error
	}

	user, _, err := s.authenticate(r, true)
	if err != nil {
		msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "authentication failed")
		_ = ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(5*time.Second))
		_ = ws.Close()
		return
	}

	logger := xlog.WithContext(r.Context(), s.logger)
	logger.Info().Int64("user_id", user.ID).Msg("websocket session started")
	s.chat.Serve(r.Context(), user.ID, ws)
}
