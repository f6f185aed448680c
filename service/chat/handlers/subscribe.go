package handlers

import (
	"usedtrade/service/chat"
	"usedtrade/tools/errs"
)

type SubscribeHandler struct{}

func NewSubscribeHandler() chat.Handler     { return &SubscribeHandler{} }
func (h *SubscribeHandler) Command() string { return chat.CmdSubscribe }

func (h *SubscribeHandler) Handle(ctx *chat.Context, f *chat.Frame, conn *chat.WsConn) error {
	dest := f.Header.Get(chat.HdrDestination)
	if _, ok := chat.RoomOfReceive(dest); !ok {
		return errs.ErrUnknownDestination.WrapMsg("cannot subscribe", "destination", dest)
	}
	id := f.Header.Get(chat.HdrID)
	if id == "" {
		return errs.ErrArgs.WrapMsg("SUBSCRIBE without id")
	}
	return ctx.S.ConnMgr().Subscribe(conn.ConnID, id, dest)
}

type UnsubscribeHandler struct{}

func NewUnsubscribeHandler() chat.Handler     { return &UnsubscribeHandler{} }
func (h *UnsubscribeHandler) Command() string { return chat.CmdUnsubscribe }

func (h *UnsubscribeHandler) Handle(ctx *chat.Context, f *chat.Frame, conn *chat.WsConn) error {
	id := f.Header.Get(chat.HdrID)
	if id == "" {
		return errs.ErrArgs.WrapMsg("UNSUBSCRIBE without id")
	}
	ctx.S.ConnMgr().Unsubscribe(conn.ConnID, id)
	return nil
}

// DisconnectHandler only acknowledges; the server tears the connection
// down once the receipt is queued.
type DisconnectHandler struct{}

func NewDisconnectHandler() chat.Handler     { return &DisconnectHandler{} }
func (h *DisconnectHandler) Command() string { return chat.CmdDisconnect }

func (h *DisconnectHandler) Handle(*chat.Context, *chat.Frame, *chat.WsConn) error { return nil }
