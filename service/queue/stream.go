// Package queue is the durable, append-only queue between the gateway and the
// consumers. It is a thin layer over Redis Streams with consumer groups.
package queue

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"time"

	"usedtrade/logger"
	"usedtrade/tools/errs"

	"github.com/redis/go-redis/v9"
)

const (
	MessageStream = "chat-message-stream"
	MessageGroup  = "chat-consumer-group"
	ReadStream    = "chat-read-stream"
	ReadGroup     = "chat-read-group"

	DefaultMaxLen = 100_000

	deadSuffix = ":dead"
)

// Entry is one stream record as handed to a consumer.
type Entry struct {
	Stream     string
	ID         string
	Values     map[string]any
	Deliveries int64
}

type Client struct {
	rdb    redis.UniversalClient
	maxLen int64
}

func NewClient(rdb redis.UniversalClient, maxLen int64) *Client {
	if maxLen <= 0 {
		maxLen = DefaultMaxLen
	}
	return &Client{rdb: rdb, maxLen: maxLen}
}

// DeadStream names the dead-letter stream of stream.
func DeadStream(stream string) string { return stream + deadSuffix }

// Append adds an entry and trims the stream approximately to maxLen.
func (c *Client) Append(ctx context.Context, stream string, fields map[string]any) (string, error) {
	args := &redis.XAddArgs{Stream: stream, Values: fields, Approx: true, MaxLen: c.maxLen}
	id, err := c.rdb.XAdd(ctx, args).Result()
	if err != nil {
		return "", errs.WrapMsg(err, "xadd", "stream", stream)
	}
	return id, nil
}

// EnsureGroup creates the group (and the stream) when missing. An existing
// group is not an error.
func (c *Client) EnsureGroup(ctx context.Context, stream, group string) error {
	err := c.rdb.XGroupCreateMkStream(ctx, stream, group, "$").Err()
	if err == nil {
		logger.Infof("[Queue] group created stream=%s group=%s", stream, group)
		return nil
	}
	if strings.HasPrefix(err.Error(), "BUSYGROUP") {
		logger.Warnf("[Queue] group already exists stream=%s group=%s", stream, group)
		return nil
	}
	return errs.WrapMsg(err, "xgroup create", "stream", stream, "group", group)
}

// ReadGroup fetches up to count new entries for consumer, blocking up to block.
// A timeout yields an empty slice; block <= 0 polls without blocking.
func (c *Client) ReadGroup(ctx context.Context, stream, group, consumer string, count int64, block time.Duration) ([]Entry, error) {
	if block <= 0 {
		block = -1
	}
	res, err := c.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{stream, ">"},
		Count:    count,
		Block:    block,
	}).Result()
	if errs.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, errs.WrapMsg(err, "xreadgroup", "stream", stream, "group", group)
	}
	var out []Entry
	for _, s := range res {
		out = append(out, toEntries(s.Stream, s.Messages)...)
	}
	return out, nil
}

func (c *Client) Ack(ctx context.Context, stream, group string, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := c.rdb.XAck(ctx, stream, group, ids...).Err(); err != nil {
		return errs.WrapMsg(err, "xack", "stream", stream, "ids", ids)
	}
	return nil
}

// Claim takes over entries that stayed pending longer than minIdle, whichever
// consumer they were delivered to.
func (c *Client) Claim(ctx context.Context, stream, group, consumer string, minIdle time.Duration, count int64) ([]Entry, error) {
	msgs, _, err := c.rdb.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   stream,
		Group:    group,
		Consumer: consumer,
		MinIdle:  minIdle,
		Start:    "0-0",
		Count:    count,
	}).Result()
	if errs.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, errs.WrapMsg(err, "xautoclaim", "stream", stream, "group", group)
	}
	return toEntries(stream, msgs), nil
}

// Deliveries returns how many times each pending id has been delivered.
// Ids that are not pending are absent from the result.
func (c *Client) Deliveries(ctx context.Context, stream, group string, ids []string) (map[string]int64, error) {
	out := make(map[string]int64, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	sorted := append([]string(nil), ids...)
	sort.Slice(sorted, func(i, j int) bool { return lessID(sorted[i], sorted[j]) })

	pending, err := c.rdb.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: stream,
		Group:  group,
		Start:  sorted[0],
		End:    sorted[len(sorted)-1],
		Count:  int64(len(sorted)) * 4,
	}).Result()
	if err != nil && !errs.Is(err, redis.Nil) {
		return nil, errs.WrapMsg(err, "xpending", "stream", stream, "group", group)
	}
	want := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}
	for _, p := range pending {
		if _, ok := want[p.ID]; ok {
			out[p.ID] = p.RetryCount
		}
	}
	return out, nil
}

// Pending is the number of delivered but unacknowledged entries of the group.
func (c *Client) Pending(ctx context.Context, stream, group string) (int64, error) {
	p, err := c.rdb.XPending(ctx, stream, group).Result()
	if err != nil {
		return 0, errs.WrapMsg(err, "xpending summary", "stream", stream, "group", group)
	}
	return p.Count, nil
}

// DeadLetter copies e to the dead-letter stream with the failure reason and
// acknowledges the original so it is never delivered again.
func (c *Client) DeadLetter(ctx context.Context, group string, e Entry, reason string) (string, error) {
	values := make(map[string]any, len(e.Values)+4)
	for k, v := range e.Values {
		values[k] = v
	}
	values["originId"] = e.ID
	values["originGroup"] = group
	values["deliveries"] = e.Deliveries
	values["reason"] = reason

	pipe := c.rdb.TxPipeline()
	add := pipe.XAdd(ctx, &redis.XAddArgs{Stream: DeadStream(e.Stream), Values: values, Approx: true, MaxLen: c.maxLen})
	pipe.XAck(ctx, e.Stream, group, e.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return "", errs.WrapMsg(err, "dead letter", "stream", e.Stream, "id", e.ID)
	}
	return add.Val(), nil
}

func (c *Client) Len(ctx context.Context, stream string) (int64, error) {
	n, err := c.rdb.XLen(ctx, stream).Result()
	if err != nil {
		return 0, errs.WrapMsg(err, "xlen", "stream", stream)
	}
	return n, nil
}

// Range reads entries without a consumer group, oldest first.
func (c *Client) Range(ctx context.Context, stream string, count int64) ([]Entry, error) {
	msgs, err := c.rdb.XRangeN(ctx, stream, "-", "+", count).Result()
	if err != nil {
		return nil, errs.WrapMsg(err, "xrange", "stream", stream)
	}
	return toEntries(stream, msgs), nil
}

func toEntries(stream string, msgs []redis.XMessage) []Entry {
	out := make([]Entry, 0, len(msgs))
	for _, m := range msgs {
		// XAUTOCLAIM reports entries deleted by trimming with nil values.
		if m.Values == nil {
			continue
		}
		out = append(out, Entry{Stream: stream, ID: m.ID, Values: m.Values})
	}
	return out
}

// lessID orders stream ids "<ms>-<seq>" numerically.
func lessID(a, b string) bool {
	am, as := splitID(a)
	bm, bs := splitID(b)
	if am != bm {
		return am < bm
	}
	return as < bs
}

func splitID(id string) (uint64, uint64) {
	ms, seq, _ := strings.Cut(id, "-")
	m, _ := strconv.ParseUint(ms, 10, 64)
	s, _ := strconv.ParseUint(seq, 10, 64)
	return m, s
}
