package service

import (
	"context"
	"strconv"
	"time"

	"usedtrade/logger"
	"usedtrade/module/chat/repo"
	"usedtrade/service/storage"
	"usedtrade/tools/chrono"
	"usedtrade/tools/codec"

	"golang.org/x/sync/singleflight"
)

// Hydrator rebuilds a channel's fast-tier index and details from the
// relational store. Concurrent hydrations of one channel share a single run.
type Hydrator struct {
	codec    *codec.RoomCodec
	messages *repo.Messages
	index    *storage.MessageIndex
	detail   *storage.DetailStore
	group    singleflight.Group
}

func NewHydrator(c *codec.RoomCodec, messages *repo.Messages, index *storage.MessageIndex, detail *storage.DetailStore) *Hydrator {
	return &Hydrator{codec: c, messages: messages, index: index, detail: detail}
}

// EnsureWarm hydrates the channel when its index holds fewer messages older
// than before than the relational store does; a nil before covers the whole
// history. The index may also hold messages not yet persisted, so a lost
// cache refilled by new sends still counts as cold. It returns how many
// messages were written; 0 when nothing was missing.
func (h *Hydrator) EnsureWarm(ctx context.Context, channelID int64, before *time.Time) (int, error) {
	cached, err := h.index.CountBefore(ctx, channelID, before)
	if err != nil {
		return 0, err
	}
	durable, err := h.messages.CountBefore(ctx, channelID, before)
	if err != nil {
		return 0, err
	}
	if cached >= durable {
		return 0, nil
	}
	logger.Debugf("[Hydrate] channel=%d cached=%d durable=%d", channelID, cached, durable)
	return h.Hydrate(ctx, channelID)
}

// Hydrate copies every durable message of the channel into the index and
// the detail store, oldest first. Running it again overwrites the same keys.
func (h *Hydrator) Hydrate(ctx context.Context, channelID int64) (int, error) {
	v, err, shared := h.group.Do(strconv.FormatInt(channelID, 10), func() (any, error) {
		return h.hydrate(ctx, channelID)
	})
	if err != nil {
		return 0, err
	}
	if shared {
		logger.Debugf("[Hydrate] channel=%d joined a running hydration", channelID)
	}
	return v.(int), nil
}

func (h *Hydrator) hydrate(ctx context.Context, channelID int64) (int, error) {
	rows, err := h.messages.ListAsc(ctx, channelID)
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}
	token := h.codec.Encode(channelID)
	for _, m := range rows {
		at := m.CreatedAt.UTC()
		id := chrono.MessageID(at, m.SenderID)
		if err := h.index.Save(ctx, channelID, id, at); err != nil {
			return 0, err
		}
		d := storage.MessageDetail{RoomID: token, SenderID: m.SenderID, Message: m.Body, CreatedAt: at}
		if err := h.detail.Save(ctx, channelID, id, d); err != nil {
			return 0, err
		}
	}
	logger.Infof("[Hydrate] channel=%d restored %d messages", channelID, len(rows))
	return len(rows), nil
}
