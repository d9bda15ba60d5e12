// SPDX-License-Identifier: MIT

// Package chat implements the real-time messaging subsystem: a registry of
// live WebSocket connections, a Redis-backed distribution bus for
// cross-process fan-out, and the frame protocol handler.
package chat

import "time"

// Server-to-client event types.
const (
	EventConnectionConfirmed = "connection_confirmed"
	EventNewMessage          = "new_message"
	EventMessageSent         = "message_sent"
	EventTypingIndicator     = "typing_indicator"
	EventReadReceipt         = "read_receipt"
	EventOnlineStatus        = "online_status"
	EventError               = "error"
)

// Client-to-server operation kinds.
const (
	OpSendMessage     = "send_message"
	OpTypingIndicator = "typing_indicator"
	OpMarkRead        = "mark_read"
	OpOnlineStatus    = "get_online_status"
)

// Event is the frame format in both directions: a type tag and a payload.
type Event struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}

func errorEvent(message string) Event {
	return Event{
		Type: EventError,
		Data: map[string]any{
			"message":   message,
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		},
	}
}
