package chat

import (
	"context"

	"usedtrade/logger"
	"usedtrade/tools/errs"
	"usedtrade/tools/safe"
)

// Handler serves one STOMP client command.
type Handler interface {
	Command() string
	Handle(ctx *Context, f *Frame, conn *WsConn) error
}

// Context is what a handler sees of the gateway.
type Context struct {
	context.Context
	S *Server
}

type Dispatcher struct {
	handlers map[string]Handler
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{handlers: make(map[string]Handler)}
}

func (d *Dispatcher) Register(hs ...Handler) {
	for _, h := range hs {
		d.handlers[h.Command()] = h
	}
}

func (d *Dispatcher) GetHandler(command string) Handler {
	return d.handlers[command]
}

// Dispatch runs the handler of f and answers with a RECEIPT or an ERROR
// frame. Only CONNECT is accepted before the connection is established.
func (d *Dispatcher) Dispatch(ctx *Context, f *Frame, conn *WsConn) error {
	receipt := f.Header.Get(HdrReceipt)
	err := d.dispatch(ctx, f, conn)
	if err != nil {
		logger.Debugf("[WS] %s failed conn=%s: %v", f.Command, conn.ConnID, err)
		conn.Send(ErrorFrame(err, receipt))
		return err
	}
	if receipt != "" && f.Command != CmdConnect && f.Command != CmdStomp {
		conn.Send(NewFrame(CmdReceipt, HdrReceiptID, receipt))
	}
	return nil
}

func (d *Dispatcher) dispatch(ctx *Context, f *Frame, conn *WsConn) (err error) {
	h, ok := d.handlers[f.Command]
	if !ok {
		return errs.ErrArgs.WrapMsg("unsupported command", "command", f.Command)
	}
	if f.Command != CmdConnect && f.Command != CmdStomp && !conn.Connected() {
		return errs.ErrUnauthenticated.WrapMsg("CONNECT first")
	}
	if perr := safe.Run("ws."+f.Command, func() { err = h.Handle(ctx, f, conn) }); perr != nil {
		return perr
	}
	return err
}
