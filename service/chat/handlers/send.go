package handlers

import (
	"time"

	"usedtrade/logger"
	"usedtrade/service/chat"
	"usedtrade/service/queue"
	"usedtrade/service/storage"
	"usedtrade/tools/chrono"
	"usedtrade/tools/errs"
)

// maxReceiptSkew bounds how far ahead of the server a read receipt may be stamped.
const maxReceiptSkew = 5 * time.Second

// SendHandler accepts chat messages and read receipts.
type SendHandler struct{ d *Deps }

func NewSendHandler(d *Deps) chat.Handler { return &SendHandler{d: d} }
func (h *SendHandler) Command() string    { return chat.CmdSend }

func (h *SendHandler) Handle(ctx *chat.Context, f *chat.Frame, conn *chat.WsConn) error {
	dest := f.Header.Get(chat.HdrDestination)
	room, ok := chat.RoomOfSend(dest)
	if !ok {
		return errs.ErrUnknownDestination.WrapMsg("cannot send", "destination", dest)
	}
	p, err := chat.ParsePayload(f.Body, h.d.Display, h.d.now())
	if err != nil {
		return err
	}
	if p.RoomID() != room {
		return errs.ErrArgs.WrapMsg("roomId does not match destination", "destination", dest)
	}
	if err := h.bindSender(p, conn); err != nil {
		return err
	}
	channelID, err := h.d.Codec.Decode(room)
	if err != nil {
		return err
	}
	switch p.Kind {
	case chat.KindMessage:
		return h.message(ctx, conn, channelID, p)
	case chat.KindReadReceipt:
		return h.receipt(ctx, conn, channelID, p.Receipt)
	}
	return errs.ErrArgs.WrapMsg("empty payload")
}

// bindSender makes the authenticated principal the sender. Anonymous
// connections may only send when allowed, under the payload's sender.
func (h *SendHandler) bindSender(p *chat.Payload, conn *chat.WsConn) error {
	principal := conn.UserID()
	if principal == 0 {
		if !h.d.AllowAnonymousSend {
			return errs.ErrUnauthenticated.WrapMsg("SEND requires an authenticated connection")
		}
		if p.SenderID() <= 0 {
			return errs.ErrArgs.WrapMsg("payload has no sender")
		}
		return nil
	}
	if claimed := p.SenderID(); claimed != 0 && claimed != principal {
		return errs.ErrAuthorization.WrapMsg("sender is not the connected user", "sender", claimed, "user", principal)
	}
	p.SetSender(principal)
	return nil
}

// message queues the durable write, fills the fast tier and broadcasts.
// Queue failures are logged; the broadcast happens regardless.
func (h *SendHandler) message(ctx *chat.Context, conn *chat.WsConn, channelID int64, p *chat.Payload) error {
	m := p.Message
	if _, err := h.d.Queue.Append(ctx, queue.MessageStream, queue.MessageFields{
		RoomID: m.RoomID, UserID: m.SenderID, Contents: m.Message, CreatedAt: m.CreatedAt,
	}.Values()); err != nil {
		logger.Errorf("[WS] message enqueue failed channel=%d sender=%d: %v", channelID, m.SenderID, err)
	}
	if _, err := h.d.Queue.Append(ctx, queue.ReadStream, queue.ReadFields{
		RoomID: m.RoomID, UserID: m.SenderID, CreatedAt: m.CreatedAt,
	}.Values()); err != nil {
		logger.Errorf("[WS] read enqueue failed channel=%d sender=%d: %v", channelID, m.SenderID, err)
	}
	h.touch(ctx, conn, m.SenderID)

	id := chrono.MessageID(m.CreatedAt, m.SenderID)
	if err := h.d.Index.Save(ctx, channelID, id, m.CreatedAt); err != nil {
		logger.Warnf("[WS] index save channel=%d id=%s: %v", channelID, id, err)
	}
	if err := h.d.Detail.Save(ctx, channelID, id, storage.MessageDetail{
		Type:      storage.KindMessage,
		RoomID:    m.RoomID,
		SenderID:  m.SenderID,
		Message:   m.Message,
		CreatedAt: m.CreatedAt,
	}); err != nil {
		logger.Warnf("[WS] detail save channel=%d id=%s: %v", channelID, id, err)
	}
	if err := h.d.ReadPoints.SaveOrUpdate(ctx, channelID, m.SenderID, m.CreatedAt, false); err != nil {
		logger.Warnf("[WS] read point channel=%d user=%d: %v", channelID, m.SenderID, err)
	}

	body, err := p.BroadcastBody(h.d.Display)
	if err != nil {
		return err
	}
	n := ctx.S.Broadcaster().Publish(m.RoomID, body)
	logger.Debugf("[WS] message channel=%d id=%s delivered=%d", channelID, id, n)
	return nil
}

// receipt moves the receiver's read point and mirrors it to the read stream.
func (h *SendHandler) receipt(ctx *chat.Context, conn *chat.WsConn, channelID int64, r *chat.ReadReceipt) error {
	if limit := h.d.now().Add(maxReceiptSkew); r.ReceiveAt.After(limit) {
		r.ReceiveAt = chrono.Truncate(limit)
	}
	if err := h.d.ReadPoints.SaveOrUpdate(ctx, channelID, r.ReceiverID, r.ReceiveAt, false); err != nil {
		return errs.ErrTransientStore.WrapMsg(err.Error(), "channel", channelID)
	}
	if _, err := h.d.Queue.Append(ctx, queue.ReadStream, queue.ReadFields{
		RoomID: r.RoomID, UserID: r.ReceiverID, CreatedAt: r.ReceiveAt,
	}.Values()); err != nil {
		logger.Errorf("[WS] read enqueue failed channel=%d user=%d: %v", channelID, r.ReceiverID, err)
	}
	h.touch(ctx, conn, r.ReceiverID)
	return nil
}

func (h *SendHandler) touch(ctx *chat.Context, conn *chat.WsConn, userID int64) {
	if _, err := h.d.Sessions.Touch(ctx, conn.ConnID, userID); err != nil {
		logger.Warnf("[WS] session touch conn=%s: %v", conn.ConnID, err)
	}
}
