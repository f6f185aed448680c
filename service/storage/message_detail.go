package storage

import (
	"context"
	"encoding/json"
	"time"

	"usedtrade/logger"
	"usedtrade/tools/errs"

	"github.com/redis/go-redis/v9"
)

const (
	KindMessage = "MESSAGE"
	KindNone    = "NONE"

	// NoMessageText is what callers render when a detail entry is gone.
	NoMessageText = "메세지가 존재하지 않습니다!"
)

// MessageDetail is the cached payload of one message. Times are UTC.
type MessageDetail struct {
	Type      string    `json:"type"`
	RoomID    string    `json:"roomId"`
	ChannelID int64     `json:"channelId"`
	SenderID  int64     `json:"sender,string"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"createdAt"`
}

// Missing reports whether d is the "no message" sentinel.
func (d MessageDetail) Missing() bool { return d.Type == KindNone }

// NoMessage is the sentinel returned instead of "absent".
func NoMessage() MessageDetail {
	return MessageDetail{Type: KindNone, Message: NoMessageText}
}

// DetailStore keeps full message payloads keyed by message id.
type DetailStore struct {
	rdb redis.UniversalClient
	ttl time.Duration
}

func NewDetailStore(rdb redis.UniversalClient, ttl time.Duration) *DetailStore {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &DetailStore{rdb: rdb, ttl: ttl}
}

func (s *DetailStore) Save(ctx context.Context, channelID int64, messageID string, d MessageDetail) error {
	if d.Type == "" {
		d.Type = KindMessage
	}
	d.ChannelID = channelID
	d.CreatedAt = d.CreatedAt.UTC()
	b, err := json.Marshal(d)
	if err != nil {
		return errs.WrapMsg(err, "detail marshal")
	}
	if err := s.rdb.Set(ctx, detailKey(channelID, messageID), b, s.ttl).Err(); err != nil {
		return errs.WrapMsg(err, "detail save", "channel", channelID, "message", messageID)
	}
	return nil
}

// Find never reports absence: a missing or unreadable entry yields NoMessage().
func (s *DetailStore) Find(ctx context.Context, channelID int64, messageID string) (MessageDetail, error) {
	if messageID == "" {
		return NoMessage(), nil
	}
	raw, err := s.rdb.Get(ctx, detailKey(channelID, messageID)).Bytes()
	if errs.Is(err, redis.Nil) {
		return NoMessage(), nil
	}
	if err != nil {
		return MessageDetail{}, errs.WrapMsg(err, "detail find", "message", messageID)
	}
	return decodeDetail(messageID, raw), nil
}

// FindMany resolves ids in one round trip, preserving order.
func (s *DetailStore) FindMany(ctx context.Context, channelID int64, messageIDs []string) ([]MessageDetail, error) {
	if len(messageIDs) == 0 {
		return nil, nil
	}
	keys := make([]string, len(messageIDs))
	for i, id := range messageIDs {
		keys[i] = detailKey(channelID, id)
	}
	vals, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, errs.WrapMsg(err, "detail mget", "channel", channelID)
	}
	out := make([]MessageDetail, len(vals))
	for i, v := range vals {
		str, ok := v.(string)
		if !ok {
			out[i] = NoMessage()
			continue
		}
		out[i] = decodeDetail(messageIDs[i], []byte(str))
	}
	return out, nil
}

func (s *DetailStore) Delete(ctx context.Context, channelID int64, messageIDs ...string) error {
	if len(messageIDs) == 0 {
		return nil
	}
	keys := make([]string, len(messageIDs))
	for i, id := range messageIDs {
		keys[i] = detailKey(channelID, id)
	}
	return errs.Wrap(s.rdb.Del(ctx, keys...).Err())
}

func decodeDetail(messageID string, raw []byte) MessageDetail {
	var d MessageDetail
	if err := json.Unmarshal(raw, &d); err != nil {
		logger.Warnf("[Detail] undecodable entry messageId=%s err=%v", messageID, err)
		return NoMessage()
	}
	return d
}
