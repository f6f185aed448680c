package storage

import (
	"context"
	"strconv"
	"time"

	"usedtrade/tools/chrono"
	"usedtrade/tools/errs"

	"github.com/redis/go-redis/v9"
)

const (
	DefaultCacheTTL = 7 * 24 * time.Hour
	DefaultPageSize = 100
)

// MessageIndex is the per-channel, time-ordered index of message ids
// (the "total message" sorted set). It is a rebuildable projection of the
// relational store.
type MessageIndex struct {
	rdb redis.UniversalClient
	ttl time.Duration
}

func NewMessageIndex(rdb redis.UniversalClient, ttl time.Duration) *MessageIndex {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &MessageIndex{rdb: rdb, ttl: ttl}
}

// Save adds messageID at createdAt and refreshes the key expiry.
func (x *MessageIndex) Save(ctx context.Context, channelID int64, messageID string, createdAt time.Time) error {
	key := indexKey(channelID)
	pipe := x.rdb.TxPipeline()
	pipe.ZAdd(ctx, key, redis.Z{Score: chrono.Score(createdAt), Member: messageID})
	pipe.Expire(ctx, key, x.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return errs.WrapMsg(err, "index save", "channel", channelID)
	}
	return nil
}

// Latest returns the newest message id, "" when the index is empty.
func (x *MessageIndex) Latest(ctx context.Context, channelID int64) (string, error) {
	ids, err := x.rdb.ZRevRange(ctx, indexKey(channelID), 0, 0).Result()
	if err != nil {
		return "", errs.WrapMsg(err, "index latest", "channel", channelID)
	}
	if len(ids) == 0 {
		return "", nil
	}
	return ids[0], nil
}

// MultiGet returns up to limit ids strictly older than before, newest first.
// A nil before means "from the newest".
func (x *MessageIndex) MultiGet(ctx context.Context, channelID int64, before *time.Time, limit int64) ([]string, error) {
	return x.page(ctx, channelID, before, 0, limit)
}

// HasMore probes one position past a page of size limit.
func (x *MessageIndex) HasMore(ctx context.Context, channelID int64, before *time.Time, limit int64) (bool, error) {
	ids, err := x.page(ctx, channelID, before, limit, 1)
	if err != nil {
		return false, err
	}
	return len(ids) > 0, nil
}

func (x *MessageIndex) page(ctx context.Context, channelID int64, before *time.Time, offset, limit int64) ([]string, error) {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	ids, err := x.rdb.ZRevRangeByScore(ctx, indexKey(channelID), &redis.ZRangeBy{
		Max:    maxBound(before),
		Min:    "-inf",
		Offset: offset,
		Count:  limit,
	}).Result()
	if err != nil {
		return nil, errs.WrapMsg(err, "index range", "channel", channelID)
	}
	return ids, nil
}

// Count returns how many messages are strictly newer than since.
func (x *MessageIndex) Count(ctx context.Context, channelID int64, since time.Time) (int64, error) {
	n, err := x.rdb.ZCount(ctx, indexKey(channelID), "("+formatScore(chrono.Score(since)), "+inf").Result()
	if err != nil {
		return 0, errs.WrapMsg(err, "index count", "channel", channelID)
	}
	return n, nil
}

// CountBefore counts ids strictly older than before; a nil before counts all.
func (x *MessageIndex) CountBefore(ctx context.Context, channelID int64, before *time.Time) (int64, error) {
	n, err := x.rdb.ZCount(ctx, indexKey(channelID), "-inf", maxBound(before)).Result()
	if err != nil {
		return 0, errs.WrapMsg(err, "index count", "channel", channelID)
	}
	return n, nil
}

func (x *MessageIndex) Len(ctx context.Context, channelID int64) (int64, error) {
	n, err := x.rdb.ZCard(ctx, indexKey(channelID)).Result()
	if err != nil {
		return 0, errs.WrapMsg(err, "index len", "channel", channelID)
	}
	return n, nil
}

func (x *MessageIndex) Delete(ctx context.Context, channelID int64) error {
	return errs.Wrap(x.rdb.Del(ctx, indexKey(channelID)).Err())
}

// All returns every id of the channel, oldest first.
func (x *MessageIndex) All(ctx context.Context, channelID int64) ([]string, error) {
	ids, err := x.rdb.ZRange(ctx, indexKey(channelID), 0, -1).Result()
	if err != nil {
		return nil, errs.WrapMsg(err, "index all", "channel", channelID)
	}
	return ids, nil
}

func maxBound(before *time.Time) string {
	if before == nil {
		return "+inf"
	}
	return "(" + formatScore(chrono.Score(*before))
}

func formatScore(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
