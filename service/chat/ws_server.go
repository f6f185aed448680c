package chat

import (
	"context"
	"net/http"
	"time"

	"usedtrade/logger"
	"usedtrade/middleware"
	"usedtrade/tools/ids"
	"usedtrade/tools/safe"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	DefaultPingInterval = 25 * time.Second
	DefaultWriteWait    = 10 * time.Second
	DefaultPongWait     = 60 * time.Second
	DefaultMaxFrameSize = 64 << 10

	teardownTimeout = 2 * time.Second
)

type Config struct {
	AllowedOrigins []string
	SendQueue      int
	PingInterval   time.Duration
	WriteWait      time.Duration
	PongWait       time.Duration
	MaxFrameSize   int64
}

func (c *Config) norm() {
	if c.SendQueue <= 0 {
		c.SendQueue = DefaultSendQueue
	}
	if c.PingInterval <= 0 {
		c.PingInterval = DefaultPingInterval
	}
	if c.WriteWait <= 0 {
		c.WriteWait = DefaultWriteWait
	}
	if c.PongWait <= c.PingInterval {
		c.PongWait = c.PingInterval + DefaultPongWait - DefaultPingInterval
	}
	if c.MaxFrameSize <= 0 {
		c.MaxFrameSize = DefaultMaxFrameSize
	}
}

// SessionRemover ends a liveness session when its socket goes away.
type SessionRemover interface {
	Remove(ctx context.Context, connID string, userID int64) error
}

// Server accepts websocket connections and feeds their frames to the dispatcher.
type Server struct {
	conf     Config
	conns    *ConnManager
	bc       *Broadcaster
	disp     *Dispatcher
	sessions SessionRemover
	upgrader websocket.Upgrader
}

func NewServer(conf Config, relay Relay, sessions SessionRemover) *Server {
	conf.norm()
	safe.MustNotNil(sessions, "sessions")
	conns := NewConnManager(conf.SendQueue)
	s := &Server{
		conf:     conf,
		conns:    conns,
		bc:       NewBroadcaster(conns, relay),
		disp:     NewDispatcher(),
		sessions: sessions,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		Subprotocols:    []string{"v12.stomp", "v11.stomp", "v10.stomp"},
		CheckOrigin: func(r *http.Request) bool {
			return middleware.OriginAllowed(r.Header.Get("Origin"), conf.AllowedOrigins)
		},
	}
	return s
}

func (s *Server) ConnMgr() *ConnManager     { return s.conns }
func (s *Server) Broadcaster() *Broadcaster { return s.bc }
func (s *Server) Dispatcher() *Dispatcher   { return s.disp }
func (s *Server) Register(hs ...Handler)    { s.disp.Register(hs...) }

// HandleWS upgrades the request and serves the connection until it closes.
func (s *Server) HandleWS(c *gin.Context) {
	ws, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warnf("[WS] upgrade failed remote=%s: %v", c.ClientIP(), err)
		return
	}
	conn, err := s.conns.Add(ids.GenerateString(), c.ClientIP())
	if err != nil {
		logger.Errorf("[WS] register failed: %v", err)
		_ = ws.Close()
		return
	}
	logger.Infof("[WS] open conn=%s remote=%s", conn.ConnID, conn.Remote)

	ctx, cancel := context.WithCancel(context.WithoutCancel(c.Request.Context()))
	defer cancel()

	writerDone := make(chan struct{})
	safe.Go("ws.write."+conn.ConnID, func() {
		defer close(writerDone)
		s.writePump(ws, conn)
	})

	s.readLoop(ctx, ws, conn)
	s.teardown(conn)
	<-writerDone
}

func (s *Server) readLoop(ctx context.Context, ws *websocket.Conn, conn *WsConn) {
	ws.SetReadLimit(s.conf.MaxFrameSize)
	_ = ws.SetReadDeadline(time.Now().Add(s.conf.PongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(s.conf.PongWait))
	})
	hctx := &Context{Context: ctx, S: s}
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Warnf("[WS] read conn=%s: %v", conn.ConnID, err)
			}
			return
		}
		_ = ws.SetReadDeadline(time.Now().Add(s.conf.PongWait))
		frames, err := ReadFrames(data)
		if err != nil {
			conn.Send(ErrorFrame(err, ""))
		}
		for _, f := range frames {
			_ = s.disp.Dispatch(hctx, f, conn)
			if f.Command == CmdDisconnect {
				return
			}
		}
		select {
		case <-conn.Done():
			return
		default:
		}
	}
}

// writePump owns all writes to ws. Frames still queued when the connection
// closes are flushed before the close frame.
func (s *Server) writePump(ws *websocket.Conn, conn *WsConn) {
	ticker := time.NewTicker(s.conf.PingInterval)
	defer func() {
		ticker.Stop()
		_ = ws.SetWriteDeadline(time.Now().Add(s.conf.WriteWait))
		_ = ws.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		_ = ws.Close()
	}()
	write := func(b []byte) bool {
		_ = ws.SetWriteDeadline(time.Now().Add(s.conf.WriteWait))
		if err := ws.WriteMessage(websocket.TextMessage, b); err != nil {
			logger.Debugf("[WS] write conn=%s: %v", conn.ConnID, err)
			return false
		}
		return true
	}
	for {
		select {
		case b := <-conn.send:
			if !write(b) {
				conn.Close()
				return
			}
		case <-ticker.C:
			_ = ws.SetWriteDeadline(time.Now().Add(s.conf.WriteWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				conn.Close()
				return
			}
		case <-conn.Done():
			for {
				select {
				case b := <-conn.send:
					if !write(b) {
						return
					}
				default:
					return
				}
			}
		}
	}
}

// teardown drops every subscription of conn and ends its liveness session.
func (s *Server) teardown(conn *WsConn) {
	s.conns.Remove(conn.ConnID)
	ctx, cancel := context.WithTimeout(context.Background(), teardownTimeout)
	defer cancel()
	if err := s.sessions.Remove(ctx, conn.ConnID, conn.UserID()); err != nil {
		logger.Warnf("[WS] session remove conn=%s: %v", conn.ConnID, err)
	}
	logger.Infof("[WS] closed conn=%s user=%d", conn.ConnID, conn.UserID())
}

// Close disconnects every client.
func (s *Server) Close() {
	s.conns.Close()
}
