package consumer

import (
	"context"

	"usedtrade/logger"
	"usedtrade/module/chat/model"
	"usedtrade/module/chat/repo"
	"usedtrade/service/queue"
	"usedtrade/tools/codec"
	"usedtrade/tools/errs"
)

// Handlers persist stream entries into the relational store.
type Handlers struct {
	codec *codec.RoomCodec
	repos *repo.Repos
}

func NewHandlers(c *codec.RoomCodec, r *repo.Repos) *Handlers {
	return &Handlers{codec: c, repos: r}
}

// Pipelines returns the message and read pipelines for consumer name.
func (h *Handlers) Pipelines(consumer string) []Pipeline {
	return []Pipeline{
		{Name: "message", Stream: queue.MessageStream, Group: queue.MessageGroup, Consumer: consumer, Handle: h.Message},
		{Name: "read", Stream: queue.ReadStream, Group: queue.ReadGroup, Consumer: consumer, Handle: h.Read},
	}
}

// Message inserts the chat message unless an earlier delivery already did,
// then moves the channel's last chat time forward.
func (h *Handlers) Message(ctx context.Context, e queue.Entry) error {
	f, err := queue.DecodeMessage(e)
	if err != nil {
		return err
	}
	ch, err := h.channel(ctx, f.RoomID, f.UserID)
	if err != nil {
		return err
	}
	m := &model.Message{
		ChannelID: ch.ID,
		SenderID:  f.UserID,
		Body:      f.Contents,
		CreatedAt: f.CreatedAt,
		IdemKey:   model.MessageKey(ch.ID, f.UserID, f.CreatedAt),
	}
	inserted, err := h.repos.Messages.InsertIgnore(ctx, m)
	if err != nil {
		return err
	}
	if !inserted {
		logger.Debugf("[Consumer] duplicate message ignored channel=%d id=%s", ch.ID, e.ID)
	}
	return h.repos.Channels.TouchLastChat(ctx, ch.ID, f.CreatedAt)
}

// Read mirrors a read-point update into the relational store.
func (h *Handlers) Read(ctx context.Context, e queue.Entry) error {
	f, err := queue.DecodeRead(e)
	if err != nil {
		return err
	}
	ch, err := h.channel(ctx, f.RoomID, f.UserID)
	if err != nil {
		return err
	}
	return h.repos.ReadPoints.Upsert(ctx, ch.ID, f.UserID, f.CreatedAt)
}

func (h *Handlers) channel(ctx context.Context, token string, userID int64) (*model.Channel, error) {
	id, err := h.codec.Decode(token)
	if err != nil {
		return nil, err
	}
	ch, err := h.repos.Channels.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ch.IsParticipant(userID) {
		return nil, errs.ErrAuthorization.WrapMsg("not a participant", "channel", id, "user", userID)
	}
	return ch, nil
}
