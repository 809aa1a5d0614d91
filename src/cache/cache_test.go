package cache

import (
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternbot/tern/src/structs"
)

func testCache(t *testing.T) *Cache {
	t.Helper()
	return NewCache(Options{
		IdleThreshold: 50 * time.Millisecond,
		Logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
}

func TestUpsertMergesPartialFields(t *testing.T) {
	c := testCache(t)
	c.Upsert(KindUser, "u1", map[string]any{"username": "harper"})
	c.Upsert(KindUser, "u1", map[string]any{"global_name": "Harper"})

	entry, ok := c.Get(KindUser, "u1")
	require.True(t, ok)
	assert.Equal(t, "harper", entry.Fields["username"])
	assert.Equal(t, "Harper", entry.Fields["global_name"])
}

func TestUpsertIdempotence(t *testing.T) {
	c := testCache(t)
	fields := map[string]any{"username": "harper", "bot": false}
	c.Upsert(KindUser, "u1", fields)
	first, ok := c.Get(KindUser, "u1")
	require.True(t, ok)

	c.Upsert(KindUser, "u1", fields)
	second, ok := c.Get(KindUser, "u1")
	require.True(t, ok)

	// Visible fields unchanged aside from LastTouched.
	assert.Equal(t, first.Fields, second.Fields)
	assert.False(t, second.LastTouched.Before(first.LastTouched))
}

func TestGetMissIsNormal(t *testing.T) {
	c := testCache(t)
	_, ok := c.Get(KindChannel, "nope")
	assert.False(t, ok)
}

func TestGetReturnsCopy(t *testing.T) {
	c := testCache(t)
	c.Upsert(KindGuild, "g1", map[string]any{"name": "guild"})
	entry, ok := c.Get(KindGuild, "g1")
	require.True(t, ok)
	entry.Fields["name"] = "mutated"

	again, ok := c.Get(KindGuild, "g1")
	require.True(t, ok)
	assert.Equal(t, "guild", again.Fields["name"])
}

func TestEvictIsImmediate(t *testing.T) {
	c := testCache(t)
	c.Upsert(KindChannel, "c1", map[string]any{"name": "general"})
	c.Evict(KindChannel, "c1")
	_, ok := c.Get(KindChannel, "c1")
	assert.False(t, ok)
}

func TestGuildEvictionReclaimsItsChannels(t *testing.T) {
	c := testCache(t)
	c.Upsert(KindGuild, "g1", map[string]any{"name": "guild"})
	c.Upsert(KindChannel, "c1", map[string]any{"guild_id": "g1"})
	c.Evict(KindGuild, "g1")
	_, ok := c.Get(KindChannel, "c1")
	assert.False(t, ok)
}

func TestSweepSkipsReferencedChannels(t *testing.T) {
	c := testCache(t)
	c.Upsert(KindGuild, "g1", map[string]any{"name": "guild"})
	c.Upsert(KindChannel, "c1", map[string]any{"guild_id": "g1"})
	c.Upsert(KindChannel, "orphan", map[string]any{"name": "dm"})
	c.Upsert(KindMessage, "m1", map[string]any{"content": "hi"})

	reclaimed := c.Sweep(time.Now().Add(time.Hour))
	assert.Equal(t, 2, reclaimed) // orphan channel + message

	_, ok := c.Get(KindChannel, "c1")
	assert.True(t, ok, "channel referenced by a live guild must survive the sweep")
	_, ok = c.Get(KindChannel, "orphan")
	assert.False(t, ok)
	_, ok = c.Get(KindMessage, "m1")
	assert.False(t, ok)
	assert.Equal(t, 1, c.Len(KindGuild), "guilds are contexts, not sweep targets")
}

func TestSweepLeavesFreshEntries(t *testing.T) {
	c := testCache(t)
	c.Upsert(KindMessage, "m1", map[string]any{"content": "hi"})
	assert.Equal(t, 0, c.Sweep(time.Now()))
}

func TestClear(t *testing.T) {
	c := testCache(t)
	c.Upsert(KindGuild, "g1", map[string]any{"name": "guild"})
	c.Upsert(KindUser, "u1", map[string]any{"username": "harper"})
	c.Clear()
	assert.Equal(t, 0, c.Len(KindGuild))
	assert.Equal(t, 0, c.Len(KindUser))
}

func dispatchFrame(t *testing.T, eventName string, d any) *structs.RawEvent {
	t.Helper()
	raw, err := json.Marshal(d)
	require.NoError(t, err)
	return &structs.RawEvent{Op: 0, T: eventName, D: raw}
}

func TestHandleEventMessageCreate(t *testing.T) {
	c := testCache(t)
	c.HandleEvent(dispatchFrame(t, structs.EventNameMessageCreate, structs.Message{
		ID:        "m1",
		ChannelID: "c1",
		Author:    structs.User{ID: "u1", Username: "harper"},
		Content:   "hello",
	}))

	msg, ok := c.Get(KindMessage, "m1")
	require.True(t, ok)
	assert.Equal(t, "hello", msg.Fields["content"])
	assert.Equal(t, "c1", msg.Fields["channel_id"])

	user, ok := c.Get(KindUser, "u1")
	require.True(t, ok)
	assert.Equal(t, "harper", user.Fields["username"])
}

func TestHandleEventChannelDeleteEvicts(t *testing.T) {
	c := testCache(t)
	c.Upsert(KindChannel, "c1", map[string]any{"name": "general"})
	c.HandleEvent(dispatchFrame(t, structs.EventNameChannelDelete, structs.Channel{ID: "c1"}))
	_, ok := c.Get(KindChannel, "c1")
	assert.False(t, ok)
}

func TestHandleEventReadySnapshot(t *testing.T) {
	c := testCache(t)
	c.HandleEvent(dispatchFrame(t, structs.EventNameReady, structs.ReadyEvent{
		User:      structs.User{ID: "bot", Username: "tern"},
		SessionID: "abc",
		Guilds: []structs.Guild{
			{ID: "g1", Name: "guild", Channels: []structs.Channel{{ID: "c1"}}},
		},
	}))
	_, ok := c.Get(KindGuild, "g1")
	assert.True(t, ok)
	ch, ok := c.Get(KindChannel, "c1")
	require.True(t, ok)
	assert.Equal(t, "g1", ch.Fields["guild_id"])
}

func TestHandleEventMalformedPayloadDropped(t *testing.T) {
	c := testCache(t)
	c.HandleEvent(&structs.RawEvent{Op: 0, T: structs.EventNameGuildCreate, D: []byte(`"not an object"`)})
	assert.Equal(t, 0, c.Len(KindGuild))
}
