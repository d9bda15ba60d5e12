// SPDX-License-Identifier: MIT

package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/johnolamide/echo-mcp-server/internal/metrics"
)

// Bus broadcasts chat events across backend processes. One logical channel
// per user; delivery is at-most-once and best-effort. Stored chat history,
// not the bus, is the durability mechanism.
type Bus interface {
	Publish(ctx context.Context, channel string, ev Event) error
	Subscribe(ctx context.Context, channel string, handler func(Event)) error
	Unsubscribe(ctx context.Context, channel string) error
	Close() error
}

// UserChannel names the bus channel carrying events for one user.
func UserChannel(userID int64) string {
	return "chat:" + strconv.FormatInt(userID, 10)
}

// RedisBus implements Bus on Redis Pub/Sub. A single long-lived listener
// goroutine fans messages out to the registered handlers and re-establishes
// itself after transport errors.
type RedisBus struct {
	client *redis.Client
	pubsub *redis.PubSub
	logger zerolog.Logger

	mu       sync.Mutex
	handlers map[string]func(Event)
	closed   bool
}

// NewRedisBus starts the bus and its listener.
func NewRedisBus(client *redis.Client, logger zerolog.Logger) *RedisBus {
	b := &RedisBus{
		client:   client,
		pubsub:   client.Subscribe(context.Background()),
		logger:   logger,
		handlers: make(map[string]func(Event)),
	}
	go b.listen()
	return b
}

// Publish sends an event to every process subscribed to the channel.
func (b *RedisBus) Publish(ctx context.Context, channel string, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("bus: encode event: %w", err)
	}
	if err := b.client.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("bus: publish to %s: %w", channel, err)
	}
	return nil
}

// Subscribe registers a handler for a channel. One handler per channel;
// subscribing again replaces it.
func (b *RedisBus) Subscribe(ctx context.Context, channel string, handler func(Event)) error {
	b.mu.Lock()
	b.handlers[channel] = handler
	b.mu.Unlock()

	if err := b.pubsub.Subscribe(ctx, channel); err != nil {
		b.mu.Lock()
		delete(b.handlers, channel)
		b.mu.Unlock()
		return fmt.Errorf("bus: subscribe %s: %w", channel, err)
	}
	return nil
}

// Unsubscribe stops delivery for a channel.
func (b *RedisBus) Unsubscribe(ctx context.Context, channel string) error {
	b.mu.Lock()
	delete(b.handlers, channel)
	b.mu.Unlock()

	if err := b.pubsub.Unsubscribe(ctx, channel); err != nil {
		return fmt.Errorf("bus: unsubscribe %s: %w", channel, err)
	}
	return nil
}

// Close tears down the listener.
func (b *RedisBus) Close() error {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	return b.pubsub.Close()
}

// listen is the single long-lived listener task. Receive errors short of a
// close are retried with backoff; the listener must never silently stop
// delivering to an otherwise-online user.
func (b *RedisBus) listen() {
	for {
		msg, err := b.pubsub.ReceiveMessage(context.Background())
		if err != nil {
			b.mu.Lock()
			closed := b.closed
			b.mu.Unlock()
			if closed {
				return
			}
			metrics.BusReconnectsTotal.Inc()
			b.logger.Warn().Err(err).Msg("bus: receive failed, retrying")
			time.Sleep(time.Second)
			continue
		}

		var ev Event
		if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
			b.logger.Warn().Err(err).Str("channel", msg.Channel).Msg("bus: dropping undecodable message")
			continue
		}

		b.mu.Lock()
		handler := b.handlers[msg.Channel]
		b.mu.Unlock()
		if handler != nil {
			handler(ev)
		}
	}
}
