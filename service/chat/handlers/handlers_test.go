package handlers

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"usedtrade/service/chat"
	"usedtrade/service/queue"
	"usedtrade/service/storage"
	"usedtrade/tools/chrono"
	"usedtrade/tools/codec"
	"usedtrade/tools/security"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const channelID = 42

type readPoint struct {
	channelID, userID int64
	at                time.Time
}

type fakeReadPoints struct {
	mu     sync.Mutex
	points []readPoint
}

func (f *fakeReadPoints) SaveOrUpdate(_ context.Context, channelID, userID int64, ts time.Time, _ bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.points = append(f.points, readPoint{channelID, userID, ts})
	return nil
}

func (f *fakeReadPoints) all() []readPoint {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]readPoint(nil), f.points...)
}

type env struct {
	url        string
	server     *chat.Server
	token      string
	jwt        security.Options
	queue      *queue.Client
	sessions   *storage.SessionTracker
	index      *storage.MessageIndex
	detail     *storage.DetailStore
	readPoints *fakeReadPoints
}

func newEnv(t *testing.T) *env {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	c, err := codec.NewRoomCodec([]byte("0123456789abcdef"))
	require.NoError(t, err)
	e := &env{
		token:      c.Encode(channelID),
		jwt:        security.DefaultOptions([]byte("secret")),
		queue:      queue.NewClient(rdb, 0),
		sessions:   storage.NewSessionTracker(rdb, 0),
		index:      storage.NewMessageIndex(rdb, 0),
		detail:     storage.NewDetailStore(rdb, 0),
		readPoints: &fakeReadPoints{},
	}
	e.server = chat.NewServer(chat.Config{}, nil, e.sessions)
	RegisterAll(e.server, &Deps{
		Codec:      c,
		Queue:      e.queue,
		Sessions:   e.sessions,
		Index:      e.index,
		Detail:     e.detail,
		ReadPoints: e.readPoints,
		Display:    chrono.MustDisplay("+09:00"),
		JWT:        e.jwt,
	})

	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/ws", e.server.HandleWS)
	ts := httptest.NewServer(r)
	t.Cleanup(func() {
		e.server.Close()
		ts.Close()
	})
	e.url = "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	return e
}

type client struct {
	t  *testing.T
	ws *websocket.Conn
}

func (e *env) dial(t *testing.T) *client {
	t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial(e.url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })
	return &client{t: t, ws: ws}
}

func (c *client) send(f *chat.Frame) {
	c.t.Helper()
	require.NoError(c.t, c.ws.WriteMessage(websocket.TextMessage, chat.Encode(f)))
}

func (c *client) read() *chat.Frame {
	c.t.Helper()
	require.NoError(c.t, c.ws.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, data, err := c.ws.ReadMessage()
	require.NoError(c.t, err)
	frames, err := chat.ReadFrames(data)
	require.NoError(c.t, err)
	require.Len(c.t, frames, 1)
	return frames[0]
}

func (c *client) connect(token string) *chat.Frame {
	c.t.Helper()
	f := chat.NewFrame(chat.CmdConnect, "accept-version", "1.2")
	if token != "" {
		f.Header.Set(chat.HdrAuthorization, "Bearer "+token)
	}
	c.send(f)
	reply := c.read()
	require.Equal(c.t, chat.CmdConnected, reply.Command)
	return reply
}

func (e *env) userToken(t *testing.T, id string) string {
	t.Helper()
	tok, _, err := security.Generate(e.jwt, id, nil)
	require.NoError(t, err)
	return tok
}

func sendFrame(room string, body any, receipt string) *chat.Frame {
	f := chat.NewFrame(chat.CmdSend, chat.HdrDestination, "/"+room, chat.HdrContentType, chat.ContentTypeJSON)
	if receipt != "" {
		f.Header.Set(chat.HdrReceipt, receipt)
	}
	f.Body, _ = json.Marshal(body)
	return f
}

func TestCommandsBeforeConnectAreRejected(t *testing.T) {
	e := newEnv(t)
	c := e.dial(t)
	c.send(chat.NewFrame(chat.CmdSubscribe, chat.HdrDestination, chat.ReceiveDestination(e.token), chat.HdrID, "s"))
	f := c.read()
	assert.Equal(t, chat.CmdError, f.Command)
	assert.Equal(t, "1101", f.Header.Get(chat.HdrErrorCode))
}

func TestGatewayFlow(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	c := e.dial(t)

	connected := c.connect(e.userToken(t, "7"))
	connID := connected.Header.Get(chat.HdrSession)
	require.NotEmpty(t, connID)
	assert.Equal(t, "1.2", connected.Header.Get(chat.HdrVersion))
	assert.Equal(t, "0,25000", connected.Header.Get(chat.HdrHeartBeat))
	assert.Equal(t, "7", connected.Header.Get(chat.HdrUserName))
	ttl, err := e.sessions.TTL(ctx, connID)
	require.NoError(t, err)
	assert.InDelta(t, storage.DefaultSessionTTL.Seconds(), ttl.Seconds(), 2)

	dest := chat.ReceiveDestination(e.token)
	t.Run("subscribe once", func(t *testing.T) {
		c.send(chat.NewFrame(chat.CmdSubscribe, chat.HdrDestination, dest, chat.HdrID, "sub-0", chat.HdrReceipt, "r-1"))
		f := c.read()
		assert.Equal(t, chat.CmdReceipt, f.Command)
		assert.Equal(t, "r-1", f.Header.Get(chat.HdrReceiptID))

		c.send(chat.NewFrame(chat.CmdSubscribe, chat.HdrDestination, dest, chat.HdrID, "sub-1"))
		f = c.read()
		assert.Equal(t, chat.CmdError, f.Command)
		assert.Equal(t, "1401", f.Header.Get(chat.HdrErrorCode))
		assert.Len(t, e.server.ConnMgr().Subscribers(dest), 1)
	})

	t.Run("message is stored and broadcast", func(t *testing.T) {
		c.send(sendFrame(e.token, map[string]any{
			"type": "MESSAGE", "roomId": e.token, "sender": "7",
			"message": "hello", "createdAt": "2024-05-01T12:00:00",
		}, ""))
		f := c.read()
		require.Equal(t, chat.CmdMessage, f.Command)
		assert.Equal(t, dest, f.Header.Get(chat.HdrDestination))
		assert.Equal(t, "sub-0", f.Header.Get(chat.HdrSubscription))
		var body map[string]any
		require.NoError(t, json.Unmarshal(f.Body, &body))
		assert.Equal(t, "hello", body["message"])
		assert.Equal(t, "2024-05-01T12:00:00+09:00", body["createdAt"])

		at := time.Date(2024, 5, 1, 3, 0, 0, 0, time.UTC)
		id := chrono.MessageID(at, 7)
		ids, err := e.index.MultiGet(ctx, channelID, nil, 10)
		require.NoError(t, err)
		assert.Equal(t, []string{id}, ids)
		d, err := e.detail.Find(ctx, channelID, id)
		require.NoError(t, err)
		assert.Equal(t, "hello", d.Message)
		assert.Equal(t, e.token, d.RoomID)
		assert.Equal(t, int64(7), d.SenderID)

		n, err := e.queue.Len(ctx, queue.MessageStream)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
		n, err = e.queue.Len(ctx, queue.ReadStream)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		entries, err := e.queue.Range(ctx, queue.MessageStream, 10)
		require.NoError(t, err)
		require.Len(t, entries, 1)
		m, err := queue.DecodeMessage(entries[0])
		require.NoError(t, err)
		assert.Equal(t, e.token, m.RoomID)
		assert.Equal(t, int64(7), m.UserID)
		assert.Equal(t, at, m.CreatedAt)

		assert.Contains(t, e.readPoints.all(), readPoint{channelID, 7, at})
	})

	t.Run("rejected sends leave no trace", func(t *testing.T) {
		bad := "not-a-room"
		c.send(sendFrame(bad, map[string]any{"type": "MESSAGE", "roomId": bad, "message": "x"}, ""))
		f := c.read()
		assert.Equal(t, chat.CmdError, f.Command)
		assert.Equal(t, "1002", f.Header.Get(chat.HdrErrorCode))

		c.send(sendFrame(e.token, map[string]any{"type": "MESSAGE", "roomId": e.token, "sender": "8", "message": "x"}, ""))
		f = c.read()
		assert.Equal(t, chat.CmdError, f.Command)
		assert.Equal(t, "1201", f.Header.Get(chat.HdrErrorCode))

		n, err := e.queue.Len(ctx, queue.MessageStream)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
	})

	t.Run("read receipt is not broadcast", func(t *testing.T) {
		c.send(sendFrame(e.token, map[string]any{
			"type": "RECEIVE", "roomId": e.token, "receiver": "7", "receiveAt": "2024-05-01T03:05:00Z",
		}, "r-2"))
		f := c.read()
		assert.Equal(t, chat.CmdReceipt, f.Command)
		assert.Equal(t, "r-2", f.Header.Get(chat.HdrReceiptID))

		assert.Contains(t, e.readPoints.all(), readPoint{channelID, 7, time.Date(2024, 5, 1, 3, 5, 0, 0, time.UTC)})
		n, err := e.queue.Len(ctx, queue.ReadStream)
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)
	})

	t.Run("disconnect tears down the session", func(t *testing.T) {
		c.send(chat.NewFrame(chat.CmdDisconnect, chat.HdrReceipt, "bye"))
		f := c.read()
		assert.Equal(t, chat.CmdReceipt, f.Command)
		assert.Equal(t, "bye", f.Header.Get(chat.HdrReceiptID))

		assert.Eventually(t, func() bool {
			return e.server.ConnMgr().Len() == 0
		}, 2*time.Second, 10*time.Millisecond)
		assert.Empty(t, e.server.ConnMgr().Subscribers(dest))
		assert.Eventually(t, func() bool {
			u, err := e.sessions.User(ctx, connID)
			return err == nil && u == ""
		}, 2*time.Second, 10*time.Millisecond)
	})
}

func TestBroadcastReachesOtherConnections(t *testing.T) {
	e := newEnv(t)
	sender := e.dial(t)
	sender.connect(e.userToken(t, "7"))
	peer := e.dial(t)
	peer.connect(e.userToken(t, "8"))

	peer.send(chat.NewFrame(chat.CmdSubscribe, chat.HdrDestination, chat.ReceiveDestination(e.token), chat.HdrID, "p", chat.HdrReceipt, "ok"))
	require.Equal(t, chat.CmdReceipt, peer.read().Command)

	sender.send(sendFrame(e.token, map[string]any{"type": "MESSAGE", "roomId": e.token, "message": "hi"}, "sent"))
	require.Equal(t, chat.CmdReceipt, sender.read().Command)

	f := peer.read()
	require.Equal(t, chat.CmdMessage, f.Command)
	var body map[string]any
	require.NoError(t, json.Unmarshal(f.Body, &body))
	assert.Equal(t, "7", body["sender"])
	assert.Equal(t, "hi", body["message"])
}

func TestAnonymousSend(t *testing.T) {
	e := newEnv(t)
	c := e.dial(t)
	connected := c.connect("garbage")
	assert.Empty(t, connected.Header.Get(chat.HdrUserName))

	u, err := e.sessions.User(context.Background(), connected.Header.Get(chat.HdrSession))
	require.NoError(t, err)
	assert.NotEmpty(t, u, "the session is recorded without a valid token")

	c.send(sendFrame(e.token, map[string]any{"type": "MESSAGE", "roomId": e.token, "sender": "7", "message": "x"}, ""))
	f := c.read()
	assert.Equal(t, chat.CmdError, f.Command)
	assert.Equal(t, "1101", f.Header.Get(chat.HdrErrorCode))
}
