package handlers

import (
	"context"
	"time"

	"usedtrade/service/chat"
	"usedtrade/service/storage"
	"usedtrade/tools/chrono"
	"usedtrade/tools/codec"
	"usedtrade/tools/safe"
	"usedtrade/tools/security"
)

type Appender interface {
	Append(ctx context.Context, stream string, fields map[string]any) (string, error)
}

type SessionToucher interface {
	Touch(ctx context.Context, connID string, userID int64) (bool, error)
}

type ReadPointWriter interface {
	SaveOrUpdate(ctx context.Context, channelID, userID int64, ts time.Time, fromDurable bool) error
}

// Deps are the collaborators of the command handlers.
type Deps struct {
	Codec      *codec.RoomCodec
	Queue      Appender
	Sessions   SessionToucher
	Index      *storage.MessageIndex
	Detail     *storage.DetailStore
	ReadPoints ReadPointWriter
	Display    *chrono.Display
	JWT        security.Options

	// AllowAnonymousSend lets connections without a valid token SEND with
	// the sender named in the payload.
	AllowAnonymousSend bool

	Now func() time.Time
}

func (d *Deps) now() time.Time {
	if d.Now != nil {
		return d.Now().UTC()
	}
	return time.Now().UTC()
}

// RegisterAll installs every command handler on s.
func RegisterAll(s *chat.Server, d *Deps) {
	safe.MustNotNil(d.Codec, "codec")
	safe.MustNotNil(d.Queue, "queue")
	safe.MustNotNil(d.Sessions, "sessions")
	safe.MustNotNil(d.Index, "index")
	safe.MustNotNil(d.Detail, "detail")
	safe.MustNotNil(d.ReadPoints, "read points")
	if d.Display == nil {
		d.Display = chrono.MustDisplay("+00:00")
	}
	s.Register(
		NewConnectHandler(d, chat.CmdConnect),
		NewConnectHandler(d, chat.CmdStomp),
		NewSubscribeHandler(),
		NewUnsubscribeHandler(),
		NewSendHandler(d),
		NewDisconnectHandler(),
	)
}
