package chat

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"usedtrade/tools/chrono"
	"usedtrade/tools/errs"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadFrames(t *testing.T) {
	t.Run("send with escaped header", func(t *testing.T) {
		frames, err := ReadFrames([]byte("SEND\ndestination:/abc\nnote:a\\cb\\nc\n\n{\"x\":1}\x00"))
		require.NoError(t, err)
		require.Len(t, frames, 1)
		f := frames[0]
		assert.Equal(t, CmdSend, f.Command)
		assert.Equal(t, "/abc", f.Header.Get(HdrDestination))
		assert.Equal(t, "a:b\nc", f.Header.Get("note"))
		assert.Equal(t, `{"x":1}`, string(f.Body))
	})

	t.Run("first repeated header wins", func(t *testing.T) {
		frames, err := ReadFrames([]byte("SUBSCRIBE\nid:1\nid:2\n\n\x00"))
		require.NoError(t, err)
		require.Len(t, frames, 1)
		assert.Equal(t, "1", frames[0].Header.Get(HdrID))
	})

	t.Run("batch with heart-beats", func(t *testing.T) {
		a := Encode(NewFrame(CmdSubscribe, HdrID, "1"))
		b := Encode(NewFrame(CmdSubscribe, HdrID, "2"))
		data := append(append([]byte("\n"), a...), append([]byte("\n\n"), b...)...)
		frames, err := ReadFrames(data)
		require.NoError(t, err)
		require.Len(t, frames, 2)
		assert.Equal(t, "2", frames[1].Header.Get(HdrID))
	})

	t.Run("only heart-beats", func(t *testing.T) {
		frames, err := ReadFrames([]byte("\n\n"))
		require.NoError(t, err)
		assert.Empty(t, frames)
	})

	t.Run("bad header", func(t *testing.T) {
		_, err := ReadFrames([]byte("SEND\nnocolon\n\n\x00"))
		assert.True(t, errs.ErrDecode.Is(err), "got %v", err)
	})
}

func TestEncodeRoundTrip(t *testing.T) {
	f := NewFrame(CmdMessage, HdrDestination, "/receive/x", "odd", "a:b")
	f.Body = []byte("hi")
	b := Encode(f)
	assert.Equal(t, byte(0), b[len(b)-1])
	assert.Contains(t, string(b), "odd:a\\cb\n")

	frames, err := ReadFrames(b)
	require.NoError(t, err)
	require.Len(t, frames, 1)
	got := frames[0]
	assert.Equal(t, CmdMessage, got.Command)
	assert.Equal(t, "/receive/x", got.Header.Get(HdrDestination))
	assert.Equal(t, "a:b", got.Header.Get("odd"))
	assert.Equal(t, "hi", string(got.Body))
}

func TestErrorFrame(t *testing.T) {
	f := ErrorFrame(errs.ErrDuplicateSubscription.WrapMsg("duplicate subscription"), "r-1")
	assert.Equal(t, CmdError, f.Command)
	assert.Equal(t, "1401", f.Header.Get(HdrErrorCode))
	assert.Equal(t, "r-1", f.Header.Get(HdrReceiptID))
	assert.Contains(t, string(f.Body), "duplicate subscription")

	f = ErrorFrame(errors.New("boom"), "")
	assert.Equal(t, "500", f.Header.Get(HdrErrorCode))
	assert.Empty(t, f.Header.Get(HdrReceiptID))
}

func TestParsePayload(t *testing.T) {
	display := chrono.MustDisplay("+09:00")
	now := time.Date(2024, 5, 1, 3, 0, 0, 0, time.UTC)

	t.Run("message in display zone", func(t *testing.T) {
		p, err := ParsePayload([]byte(`{"type":"MESSAGE","roomId":"tok","sender":"7","message":"hi","createdAt":"2024-05-01T12:00:00"}`), display, now)
		require.NoError(t, err)
		require.Equal(t, KindMessage, p.Kind)
		assert.Nil(t, p.Receipt)
		assert.Equal(t, "tok", p.RoomID())
		assert.Equal(t, int64(7), p.Message.SenderID)
		assert.Equal(t, now, p.Message.CreatedAt)

		body, err := p.BroadcastBody(display)
		require.NoError(t, err)
		var out map[string]any
		require.NoError(t, json.Unmarshal(body, &out))
		assert.Equal(t, "2024-05-01T12:00:00+09:00", out["createdAt"])
		assert.Equal(t, "hi", out["message"])
		assert.Equal(t, "MESSAGE", out["type"])
	})

	t.Run("numeric sender and missing time", func(t *testing.T) {
		p, err := ParsePayload([]byte(`{"type":"MESSAGE","roomId":"tok","sender":7,"message":"hi"}`), display, now)
		require.NoError(t, err)
		assert.Equal(t, int64(7), p.SenderID())
		assert.Equal(t, now, p.Message.CreatedAt)
	})

	t.Run("receipt", func(t *testing.T) {
		p, err := ParsePayload([]byte(`{"type":"RECEIVE","roomId":"tok","receiver":"8","receiveAt":"2024-05-01T03:00:00Z"}`), display, now)
		require.NoError(t, err)
		require.Equal(t, KindReadReceipt, p.Kind)
		assert.Nil(t, p.Message)
		assert.Equal(t, int64(8), p.Receipt.ReceiverID)
		assert.Equal(t, now, p.Receipt.ReceiveAt)
	})

	t.Run("receipt with createdAt", func(t *testing.T) {
		p, err := ParsePayload([]byte(`{"type":"RECEIVE","roomId":"tok","receiver":"8","createdAt":"2024-05-01T10:00:00"}`), display, now.Add(9*time.Hour))
		require.NoError(t, err)
		require.Equal(t, KindReadReceipt, p.Kind)
		assert.Equal(t, time.Date(2024, 5, 1, 1, 0, 0, 0, time.UTC), p.Receipt.ReceiveAt)
	})

	t.Run("receiveAt wins over createdAt", func(t *testing.T) {
		p, err := ParsePayload([]byte(`{"type":"RECEIVE","roomId":"tok","receiver":"8","receiveAt":"2024-05-01T11:00:00","createdAt":"2024-05-01T10:00:00"}`), display, now)
		require.NoError(t, err)
		assert.Equal(t, time.Date(2024, 5, 1, 2, 0, 0, 0, time.UTC), p.Receipt.ReceiveAt)
	})

	t.Run("fallback time is truncated", func(t *testing.T) {
		p, err := ParsePayload([]byte(`{"type":"MESSAGE","roomId":"tok","sender":"7","message":"hi"}`), display, now.Add(123456789))
		require.NoError(t, err)
		assert.Equal(t, now.Add(123*time.Millisecond), p.Message.CreatedAt)
	})

	t.Run("set sender rewrites broadcast", func(t *testing.T) {
		p, err := ParsePayload([]byte(`{"type":"MESSAGE","roomId":"tok","message":"hi"}`), display, now)
		require.NoError(t, err)
		p.SetSender(9)
		assert.Equal(t, int64(9), p.SenderID())
		body, err := p.BroadcastBody(display)
		require.NoError(t, err)
		assert.Contains(t, string(body), `"sender":"9"`)
	})

	for name, tc := range map[string]struct {
		body string
		code *errs.CodeError
	}{
		"not json":     {`nope`, errs.ErrDecode},
		"array":        {`[1]`, errs.ErrDecode},
		"no room":      {`{"type":"MESSAGE"}`, errs.ErrArgs},
		"unknown type": {`{"type":"TYPING","roomId":"x"}`, errs.ErrArgs},
		"bad sender":   {`{"type":"MESSAGE","roomId":"x","sender":"abc"}`, errs.ErrArgs},
		"bad time":     {`{"type":"MESSAGE","roomId":"x","createdAt":"yesterday"}`, errs.ErrArgs},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := ParsePayload([]byte(tc.body), display, now)
			assert.True(t, tc.code.Is(err), "got %v", err)
		})
	}
}

func TestConnManagerSubscriptions(t *testing.T) {
	m := NewConnManager(4)
	a, err := m.Add("a", "127.0.0.1")
	require.NoError(t, err)
	_, err = m.Add("b", "127.0.0.1")
	require.NoError(t, err)
	_, err = m.Add("a", "127.0.0.1")
	assert.True(t, errs.ErrArgs.Is(err))

	dest := ReceiveDestination("room")
	require.NoError(t, m.Subscribe("a", "sub-0", dest))
	require.NoError(t, m.Subscribe("b", "sub-0", dest))

	err = m.Subscribe("a", "sub-1", dest)
	assert.True(t, errs.ErrDuplicateSubscription.Is(err))
	assert.Len(t, m.Subscribers(dest), 2)
	assert.Equal(t, []string{dest}, a.Destinations())

	err = m.Subscribe("nobody", "sub-0", dest)
	assert.True(t, errs.ErrNotFound.Is(err))

	m.Unsubscribe("b", "sub-0")
	assert.Len(t, m.Subscribers(dest), 1)
	require.NoError(t, m.Subscribe("b", "sub-9", dest))

	_, ok := m.Remove("a")
	assert.True(t, ok)
	subs := m.Subscribers(dest)
	require.Len(t, subs, 1)
	assert.Equal(t, "b", subs[0].Conn.ConnID)
	assert.Empty(t, a.Destinations())
	assert.False(t, a.Send(NewFrame(CmdReceipt)))

	_, ok = m.Remove("a")
	assert.False(t, ok)
	m.Close()
	assert.Equal(t, 0, m.Len())
	assert.Empty(t, m.Subscribers(dest))
}

type recordingRelay struct {
	rooms  []string
	bodies [][]byte
}

func (r *recordingRelay) Publish(roomID string, body []byte) error {
	r.rooms = append(r.rooms, roomID)
	r.bodies = append(r.bodies, body)
	return nil
}

func TestBroadcaster(t *testing.T) {
	m := NewConnManager(1)
	a, err := m.Add("a", "")
	require.NoError(t, err)
	slow, err := m.Add("slow", "")
	require.NoError(t, err)
	other, err := m.Add("other", "")
	require.NoError(t, err)

	require.NoError(t, m.Subscribe("a", "s1", ReceiveDestination("r1")))
	require.NoError(t, m.Subscribe("slow", "s2", ReceiveDestination("r1")))
	require.NoError(t, m.Subscribe("other", "s3", ReceiveDestination("r2")))
	require.True(t, slow.Send(NewFrame(CmdReceipt)))

	relay := &recordingRelay{}
	b := NewBroadcaster(m, relay)
	n := b.Publish("r1", []byte(`{"message":"hi"}`))
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"r1"}, relay.rooms)

	frames, err := ReadFrames(<-a.send)
	require.NoError(t, err)
	require.Len(t, frames, 1)
	f := frames[0]
	assert.Equal(t, CmdMessage, f.Command)
	assert.Equal(t, "/receive/r1", f.Header.Get(HdrDestination))
	assert.Equal(t, "s1", f.Header.Get(HdrSubscription))
	assert.NotEmpty(t, f.Header.Get(HdrMessageID))
	assert.Equal(t, `{"message":"hi"}`, string(f.Body))

	_, ok := m.Get("slow")
	assert.False(t, ok, "a subscriber with a full queue is dropped")
	assert.Len(t, other.send, 0)

	assert.Equal(t, 0, b.Deliver("r3", []byte("x")))
	assert.Len(t, relay.rooms, 1)
}

func TestRoomOfDestination(t *testing.T) {
	room, ok := RoomOfReceive("/receive/abc")
	assert.True(t, ok)
	assert.Equal(t, "abc", room)
	_, ok = RoomOfReceive("/topic/abc")
	assert.False(t, ok)
	_, ok = RoomOfReceive("/receive/")
	assert.False(t, ok)

	room, ok = RoomOfSend("/abc")
	assert.True(t, ok)
	assert.Equal(t, "abc", room)
	_, ok = RoomOfSend("/receive/abc")
	assert.False(t, ok)
	_, ok = RoomOfSend("abc")
	assert.False(t, ok)
}
