package queue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) (*miniredis.Miniredis, *Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, NewClient(rdb, 0)
}

func TestEnsureGroupIsIdempotent(t *testing.T) {
	_, c := newTestClient(t)
	ctx := context.Background()
	require.NoError(t, c.EnsureGroup(ctx, MessageStream, MessageGroup))
	require.NoError(t, c.EnsureGroup(ctx, MessageStream, MessageGroup))
}

func TestAppendReadAck(t *testing.T) {
	_, c := newTestClient(t)
	ctx := context.Background()
	require.NoError(t, c.EnsureGroup(ctx, MessageStream, MessageGroup))

	at := time.Date(2024, 5, 1, 3, 0, 0, 123_000_000, time.UTC)
	in := MessageFields{RoomID: "tok", UserID: 42, Contents: "hi", CreatedAt: at}
	id, err := c.Append(ctx, MessageStream, in.Values())
	require.NoError(t, err)
	require.NotEmpty(t, id)

	entries, err := c.ReadGroup(ctx, MessageStream, MessageGroup, "c-1", 10, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, id, entries[0].ID)
	assert.Equal(t, MessageStream, entries[0].Stream)

	got, err := DecodeMessage(entries[0])
	require.NoError(t, err)
	assert.Equal(t, in.RoomID, got.RoomID)
	assert.Equal(t, in.UserID, got.UserID)
	assert.Equal(t, in.Contents, got.Contents)
	assert.True(t, at.Equal(got.CreatedAt))

	n, err := c.Pending(ctx, MessageStream, MessageGroup)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	require.NoError(t, c.Ack(ctx, MessageStream, MessageGroup, id))
	n, err = c.Pending(ctx, MessageStream, MessageGroup)
	require.NoError(t, err)
	assert.Zero(t, n)

	again, err := c.ReadGroup(ctx, MessageStream, MessageGroup, "c-1", 10, 0)
	require.NoError(t, err)
	assert.Empty(t, again)
}

func TestClaimAndDeliveries(t *testing.T) {
	_, c := newTestClient(t)
	ctx := context.Background()
	require.NoError(t, c.EnsureGroup(ctx, ReadStream, ReadGroup))

	r := ReadFields{RoomID: "tok", UserID: 7, CreatedAt: time.Now().UTC()}
	id, err := c.Append(ctx, ReadStream, r.Values())
	require.NoError(t, err)

	_, err = c.ReadGroup(ctx, ReadStream, ReadGroup, "crashed", 10, 0)
	require.NoError(t, err)

	claimed, err := c.Claim(ctx, ReadStream, ReadGroup, "survivor", 0, 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, id, claimed[0].ID)

	counts, err := c.Deliveries(ctx, ReadStream, ReadGroup, []string{id, "0-1"})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, counts[id], int64(1))
	_, ok := counts["0-1"]
	assert.False(t, ok)
}

func TestDeadLetter(t *testing.T) {
	_, c := newTestClient(t)
	ctx := context.Background()
	require.NoError(t, c.EnsureGroup(ctx, MessageStream, MessageGroup))

	_, err := c.Append(ctx, MessageStream, map[string]any{FieldRoomID: "bad"})
	require.NoError(t, err)
	entries, err := c.ReadGroup(ctx, MessageStream, MessageGroup, "c-1", 10, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	_, err = DecodeMessage(entries[0])
	require.Error(t, err)

	deadID, err := c.DeadLetter(ctx, MessageGroup, entries[0], "decode")
	require.NoError(t, err)
	assert.NotEmpty(t, deadID)

	n, err := c.Pending(ctx, MessageStream, MessageGroup)
	require.NoError(t, err)
	assert.Zero(t, n, "dead-lettered entry is acknowledged")

	dead, err := c.Range(ctx, DeadStream(MessageStream), 10)
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, entries[0].ID, dead[0].Values["originId"])
	assert.Equal(t, "decode", dead[0].Values["reason"])
	assert.Equal(t, "bad", dead[0].Values[FieldRoomID])
}

func TestDecodeRejectsIncompleteEntries(t *testing.T) {
	tests := []struct {
		name   string
		values map[string]any
	}{
		{"no room", map[string]any{FieldUserID: "1", FieldCreatedAt: "2024-05-01T00:00:00Z"}},
		{"bad user", map[string]any{FieldRoomID: "t", FieldUserID: "abc", FieldCreatedAt: "2024-05-01T00:00:00Z"}},
		{"bad time", map[string]any{FieldRoomID: "t", FieldUserID: "1", FieldCreatedAt: "yesterday"}},
		{"no time", map[string]any{FieldRoomID: "t", FieldUserID: "1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeRead(Entry{Stream: ReadStream, ID: "1-0", Values: tt.values})
			assert.Error(t, err)
		})
	}
}

func TestLessID(t *testing.T) {
	assert.True(t, lessID("9-0", "10-0"))
	assert.True(t, lessID("10-1", "10-2"))
	assert.False(t, lessID("10-2", "10-2"))
}
