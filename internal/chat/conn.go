// SPDX-License-Identifier: MIT

package chat

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Conn is one live duplex channel. The registry owns the set of Conns;
// everything else talks to users, not connections.
type Conn interface {
	WriteEvent(Event) error
	Close() error
}

const writeTimeout = 10 * time.Second

// wsConn wraps a gorilla connection with a write mutex. gorilla/websocket
// allows at most one concurrent writer per connection.
type wsConn struct {
	ws *websocket.Conn
	mu sync.Mutex
}

// NewConn wraps a WebSocket connection for registry use.
func NewConn(ws *websocket.Conn) Conn {
	return &wsConn{ws: ws}
}

func (c *wsConn) WriteEvent(ev Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.ws.WriteJSON(ev)
}

func (c *wsConn) Close() error {
	return c.ws.Close()
}
