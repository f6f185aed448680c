package handlers

import (
	"strconv"

	"usedtrade/logger"
	"usedtrade/service/chat"
	"usedtrade/tools/security"
)

const heartBeat = "0,25000"

// ConnectHandler authenticates the optional bearer token and opens the
// liveness session whether or not the token was valid.
type ConnectHandler struct {
	d   *Deps
	cmd string
}

func NewConnectHandler(d *Deps, cmd string) chat.Handler { return &ConnectHandler{d: d, cmd: cmd} }
func (h *ConnectHandler) Command() string                { return h.cmd }

func (h *ConnectHandler) Handle(ctx *chat.Context, f *chat.Frame, conn *chat.WsConn) error {
	var userID int64
	if header := authorization(f); header != "" {
		id, err := security.Authenticate(h.d.JWT, header)
		if err != nil {
			logger.Infof("[WS] CONNECT without valid token conn=%s: %v", conn.ConnID, err)
		} else {
			userID = id
		}
	}
	conn.MarkConnected(userID)
	if _, err := h.d.Sessions.Touch(ctx, conn.ConnID, userID); err != nil {
		logger.Warnf("[WS] session touch conn=%s: %v", conn.ConnID, err)
	}

	reply := chat.NewFrame(chat.CmdConnected,
		chat.HdrVersion, "1.2",
		chat.HdrHeartBeat, heartBeat,
		chat.HdrSession, conn.ConnID,
	)
	if userID != 0 {
		reply.Header.Set(chat.HdrUserName, strconv.FormatInt(userID, 10))
	}
	conn.Send(reply)
	return nil
}

func authorization(f *chat.Frame) string {
	if v := f.Header.Get(chat.HdrAuthorization); v != "" {
		return v
	}
	return f.Header.Get("authorization")
}
