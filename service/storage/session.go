package storage

import (
	"context"
	"strconv"
	"time"

	"usedtrade/tools/errs"

	"github.com/redis/go-redis/v9"
)

const (
	DefaultSessionTTL = 10 * time.Minute
	AnonymousUser     = "anonymous"
)

// Create or refresh a session and index it under its user.
// KEYS[1] = sessions:u:<user>
// KEYS[2] = session:<conn>
// ARGV[1] = ttlSec
// ARGV[2] = nowUnix
// ARGV[3] = expAt
// ARGV[4] = member (conn id)
// ARGV[5] = value (user id)
// returns 1 when the session was new, 0 when refreshed
const luaTouchSession = `
local zUser  = KEYS[1]
local kConn  = KEYS[2]
local ttlSec = tonumber(ARGV[1])
local now    = tonumber(ARGV[2])
local expAt  = tonumber(ARGV[3])

local existed = redis.call('EXISTS', kConn)
redis.call('SET', kConn, ARGV[5], 'EX', ttlSec)

redis.call('ZREMRANGEBYSCORE', zUser, '-inf', now)
redis.call('ZADD', zUser, expAt, ARGV[4])
redis.call('EXPIRE', zUser, ttlSec * 2)

if existed == 1 then
  return 0
end
return 1
`

// Drop sessions whose score is in the past and return the live members.
// KEYS[1] = sessions:u:<user>
// ARGV[1] = nowUnix
const luaActiveSessions = `
local zUser = KEYS[1]
local now   = tonumber(ARGV[1])

local victims = redis.call('ZRANGEBYSCORE', zUser, '-inf', now)
for _, v in ipairs(victims) do
  redis.call('ZREM', zUser, v)
  redis.call('DEL', 'session:' .. v)
end

return redis.call('ZRANGEBYSCORE', zUser, '(' .. now, '+inf')
`

// SessionTracker records which connections are alive. A session expires
// ttl after its last Touch unless it is touched again.
type SessionTracker struct {
	rdb    redis.UniversalClient
	ttl    time.Duration
	now    func() time.Time
	touch  *redis.Script
	active *redis.Script
}

func NewSessionTracker(rdb redis.UniversalClient, ttl time.Duration) *SessionTracker {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &SessionTracker{
		rdb:    rdb,
		ttl:    ttl,
		now:    time.Now,
		touch:  redis.NewScript(luaTouchSession),
		active: redis.NewScript(luaActiveSessions),
	}
}

// Touch creates or refreshes session:<connID>. userID 0 is recorded as anonymous.
func (s *SessionTracker) Touch(ctx context.Context, connID string, userID int64) (bool, error) {
	if connID == "" {
		return false, errs.ErrArgs.WrapMsg("empty connection id")
	}
	user := userKey(userID)
	now := s.now()
	ttlSec := int64(s.ttl / time.Second)
	if ttlSec <= 0 {
		ttlSec = 1
	}
	n, err := s.touch.Run(ctx, s.rdb,
		[]string{sessionIndexKey(user), sessionKey(connID)},
		ttlSec, now.Unix(), now.Unix()+ttlSec, connID, user,
	).Int()
	if err != nil {
		return false, errs.WrapMsg(err, "session touch", "conn", connID, "user", user)
	}
	return n == 1, nil
}

// Remove ends a session. Removing an unknown session is a no-op.
func (s *SessionTracker) Remove(ctx context.Context, connID string, userID int64) error {
	pipe := s.rdb.TxPipeline()
	pipe.Del(ctx, sessionKey(connID))
	pipe.ZRem(ctx, sessionIndexKey(userKey(userID)), connID)
	if _, err := pipe.Exec(ctx); err != nil {
		return errs.WrapMsg(err, "session remove", "conn", connID)
	}
	return nil
}

// TTL returns the remaining lifetime of a session, 0 when it is gone.
func (s *SessionTracker) TTL(ctx context.Context, connID string) (time.Duration, error) {
	d, err := s.rdb.TTL(ctx, sessionKey(connID)).Result()
	if err != nil {
		return 0, errs.WrapMsg(err, "session ttl", "conn", connID)
	}
	if d < 0 {
		return 0, nil
	}
	return d, nil
}

// User returns the user bound to a session, "" when it is gone.
func (s *SessionTracker) User(ctx context.Context, connID string) (string, error) {
	v, err := s.rdb.Get(ctx, sessionKey(connID)).Result()
	if errs.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", errs.WrapMsg(err, "session user", "conn", connID)
	}
	return v, nil
}

// Active lists the live connection ids of a user, sweeping expired ones.
func (s *SessionTracker) Active(ctx context.Context, userID int64) ([]string, error) {
	conns, err := s.active.Run(ctx, s.rdb,
		[]string{sessionIndexKey(userKey(userID))},
		s.now().Unix(),
	).StringSlice()
	if err != nil && !errs.Is(err, redis.Nil) {
		return nil, errs.WrapMsg(err, "session active", "user", userID)
	}
	return conns, nil
}

func (s *SessionTracker) IsOnline(ctx context.Context, userID int64) (bool, error) {
	conns, err := s.Active(ctx, userID)
	if err != nil {
		return false, err
	}
	return len(conns) > 0, nil
}

func userKey(userID int64) string {
	if userID <= 0 {
		return AnonymousUser
	}
	return strconv.FormatInt(userID, 10)
}
