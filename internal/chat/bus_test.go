// SPDX-License-Identifier: MIT

package chat

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBus(t *testing.T) (*miniredis.Miniredis, *RedisBus) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	bus := NewRedisBus(client, zerolog.Nop())
	t.Cleanup(func() { _ = bus.Close() })
	return mr, bus
}

func waitForEvent(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for bus event")
		return Event{}
	}
}

func TestRedisBusPublishSubscribe(t *testing.T) {
	_, bus := newTestBus(t)
	ctx := context.Background()

	got := make(chan Event, 1)
	require.NoError(t, bus.Subscribe(ctx, UserChannel(7), func(ev Event) { got <- ev }))

	sent := Event{Type: EventNewMessage, Data: map[string]any{"content": "hello"}}
	require.NoError(t, bus.Publish(ctx, UserChannel(7), sent))

	ev := waitForEvent(t, got)
	assert.Equal(t, EventNewMessage, ev.Type)
	assert.Equal(t, "hello", ev.Data["content"])
}

func TestRedisBusChannelIsolation(t *testing.T) {
	_, bus := newTestBus(t)
	ctx := context.Background()

	gotA := make(chan Event, 1)
	require.NoError(t, bus.Subscribe(ctx, UserChannel(1), func(ev Event) { gotA <- ev }))

	require.NoError(t, bus.Publish(ctx, UserChannel(2), Event{Type: EventNewMessage}))
	require.NoError(t, bus.Publish(ctx, UserChannel(1), Event{Type: EventTypingIndicator}))

	ev := waitForEvent(t, gotA)
	assert.Equal(t, EventTypingIndicator, ev.Type, "only the subscribed channel delivers")
}

func TestRedisBusUnsubscribeStopsDelivery(t *testing.T) {
	_, bus := newTestBus(t)
	ctx := context.Background()

	got := make(chan Event, 4)
	require.NoError(t, bus.Subscribe(ctx, UserChannel(3), func(ev Event) { got <- ev }))
	require.NoError(t, bus.Unsubscribe(ctx, UserChannel(3)))

	require.NoError(t, bus.Publish(ctx, UserChannel(3), Event{Type: EventNewMessage}))

	select {
	case <-got:
		t.Fatal("event delivered after unsubscribe")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestUserChannelNaming(t *testing.T) {
	assert.Equal(t, "chat:42", UserChannel(42))
}
