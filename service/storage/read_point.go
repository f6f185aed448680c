package storage

import (
	"context"
	"strconv"
	"time"

	"usedtrade/tools/errs"

	"github.com/redis/go-redis/v9"
)

// Only move a read point forward.
// KEYS[1] = readPoint:<channel>
// ARGV[1] = userId
// ARGV[2] = unix millis
// returns 1 when stored, 0 when the existing value is newer or equal
const luaAdvanceReadPoint = `
local cur = redis.call("HGET", KEYS[1], ARGV[1])
local nv  = tonumber(ARGV[2])
if cur and tonumber(cur) >= nv then
  return 0
end
redis.call("HSET", KEYS[1], ARGV[1], ARGV[2])
return 1
`

// ReadPointCache is the fast-tier hash of read points: one hash per channel,
// one field per user, value in unix millis.
type ReadPointCache struct {
	rdb     redis.UniversalClient
	advance *redis.Script
}

func NewReadPointCache(rdb redis.UniversalClient) *ReadPointCache {
	return &ReadPointCache{rdb: rdb, advance: redis.NewScript(luaAdvanceReadPoint)}
}

// Get returns the cached read point and whether it exists.
func (c *ReadPointCache) Get(ctx context.Context, channelID, userID int64) (time.Time, bool, error) {
	v, err := c.rdb.HGet(ctx, readPointKey(channelID), strconv.FormatInt(userID, 10)).Result()
	if errs.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, errs.WrapMsg(err, "read point get", "channel", channelID, "user", userID)
	}
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}, false, errs.ErrDecode.WrapMsg("read point value", "value", v)
	}
	return time.UnixMilli(ms).UTC(), true, nil
}

// Advance stores ts unless a newer value is already cached.
func (c *ReadPointCache) Advance(ctx context.Context, channelID, userID int64, ts time.Time) (bool, error) {
	n, err := c.advance.Run(ctx, c.rdb,
		[]string{readPointKey(channelID)},
		strconv.FormatInt(userID, 10), ts.UTC().UnixMilli(),
	).Int()
	if err != nil {
		return false, errs.WrapMsg(err, "read point advance", "channel", channelID, "user", userID)
	}
	return n == 1, nil
}

// All returns every cached read point of the channel.
func (c *ReadPointCache) All(ctx context.Context, channelID int64) (map[int64]time.Time, error) {
	m, err := c.rdb.HGetAll(ctx, readPointKey(channelID)).Result()
	if err != nil {
		return nil, errs.WrapMsg(err, "read point all", "channel", channelID)
	}
	out := make(map[int64]time.Time, len(m))
	for k, v := range m {
		uid, err1 := strconv.ParseInt(k, 10, 64)
		ms, err2 := strconv.ParseInt(v, 10, 64)
		if err1 != nil || err2 != nil {
			continue
		}
		out[uid] = time.UnixMilli(ms).UTC()
	}
	return out, nil
}

func (c *ReadPointCache) Delete(ctx context.Context, channelID int64) error {
	return errs.Wrap(c.rdb.Del(ctx, readPointKey(channelID)).Err())
}
