// SPDX-License-Identifier: MIT

package chat

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/johnolamide/echo-mcp-server/internal/metrics"
)

// Registry owns the mapping from user identity to live connections, plus
// the ephemeral typing state. All state lives behind this API with internal
// synchronization; nothing else mutates it.
//
// A user is online while they hold at least one connection. The first
// connection subscribes the user's bus channel so events published by any
// process reach this one; the last disconnect unsubscribes and drops the
// user's typing state.
type Registry struct {
	mu     sync.Mutex
	conns  map[int64][]Conn
	users  map[Conn]int64
	typing map[int64]map[int64]struct{} // typing user -> targets

	bus    Bus
	logger zerolog.Logger
}

// NewRegistry creates a Registry. The bus may be nil, in which case
// SendToUser delivers only to connections held by this process.
func NewRegistry(bus Bus, logger zerolog.Logger) *Registry {
	return &Registry{
		conns:  make(map[int64][]Conn),
		users:  make(map[Conn]int64),
		typing: make(map[int64]map[int64]struct{}),
		bus:    bus,
		logger: logger,
	}
}

// Connect registers a live connection for a user.
func (r *Registry) Connect(ctx context.Context, userID int64, conn Conn) error {
	r.mu.Lock()
	first := len(r.conns[userID]) == 0
	r.conns[userID] = append(r.conns[userID], conn)
	r.users[conn] = userID
	r.mu.Unlock()

	metrics.ChatConnectionsActive.Inc()

	if first && r.bus != nil {
		uid := userID
		if err := r.bus.Subscribe(ctx, UserChannel(uid), func(ev Event) {
			r.deliverLocal(uid, ev)
		}); err != nil {
			return err
		}
	}
	r.logger.Info().Int64("user_id", userID).Msg("user connected")
	return nil
}

// Disconnect removes a connection from whichever user holds it. When the
// user's set becomes empty, their bus channel is unsubscribed and any
// typing state they held is dropped. Unknown connections are ignored.
func (r *Registry) Disconnect(conn Conn) {
	r.mu.Lock()
	userID, known := r.users[conn]
	if !known {
		r.mu.Unlock()
		return
	}
	delete(r.users, conn)

	remaining := r.conns[userID][:0]
	for _, c := range r.conns[userID] {
		if c != conn {
			remaining = append(remaining, c)
		}
	}
	last := len(remaining) == 0
	if last {
		delete(r.conns, userID)
		delete(r.typing, userID)
	} else {
		r.conns[userID] = remaining
	}
	r.mu.Unlock()

	metrics.ChatConnectionsActive.Dec()
	_ = conn.Close()

	if last && r.bus != nil {
		if err := r.bus.Unsubscribe(context.Background(), UserChannel(userID)); err != nil {
			r.logger.Warn().Err(err).Int64("user_id", userID).Msg("bus unsubscribe failed")
		}
	}
	r.logger.Info().Int64("user_id", userID).Msg("user disconnected")
}

// SendToUser delivers an event to every live connection the user holds, on
// any process. With a bus the event goes through publish/subscribe so the
// sending process's own subscription delivers it locally exactly once.
func (r *Registry) SendToUser(ctx context.Context, userID int64, ev Event) {
	if r.bus == nil {
		r.deliverLocal(userID, ev)
		return
	}
	if err := r.bus.Publish(ctx, UserChannel(userID), ev); err != nil {
		r.logger.Warn().Err(err).Int64("user_id", userID).Msg("bus publish failed, delivering locally")
		r.deliverLocal(userID, ev)
	}
}

// deliverLocal fans an event out to the user's connections on this process.
// A connection whose send fails is treated as implicitly disconnected, not
// as an error surfaced to the caller.
func (r *Registry) deliverLocal(userID int64, ev Event) {
	r.mu.Lock()
	snapshot := make([]Conn, len(r.conns[userID]))
	copy(snapshot, r.conns[userID])
	r.mu.Unlock()

	for _, conn := range snapshot {
		if err := conn.WriteEvent(ev); err != nil {
			r.logger.Warn().Err(err).Int64("user_id", userID).Msg("send failed, dropping connection")
			r.Disconnect(conn)
		}
	}
}

// SendToConn writes an event to one specific connection (error replies).
func (r *Registry) SendToConn(conn Conn, ev Event) {
	if err := conn.WriteEvent(ev); err != nil {
		r.Disconnect(conn)
	}
}

// IsOnline reports whether the user holds at least one connection on this
// process. Point-in-time read with no guarantee across a concurrent
// disconnect.
func (r *Registry) IsOnline(userID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns[userID]) > 0
}

// OnlineUserIDs returns the users currently holding connections here.
func (r *Registry) OnlineUserIDs() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]int64, 0, len(r.conns))
	for id := range r.conns {
		ids = append(ids, id)
	}
	return ids
}

// ConnectionCount returns the number of live connections a user holds here.
func (r *Registry) ConnectionCount(userID int64) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns[userID])
}

// SetTyping records or clears "userID is typing to targetID".
func (r *Registry) SetTyping(userID, targetID int64, isTyping bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if isTyping {
		if r.typing[userID] == nil {
			r.typing[userID] = make(map[int64]struct{})
		}
		r.typing[userID][targetID] = struct{}{}
		return
	}
	if targets, ok := r.typing[userID]; ok {
		delete(targets, targetID)
		if len(targets) == 0 {
			delete(r.typing, userID)
		}
	}
}

// IsTyping reports whether userID is currently typing to targetID.
func (r *Registry) IsTyping(userID, targetID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.typing[userID][targetID]
	return ok
}
