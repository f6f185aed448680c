package consumer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"usedtrade/data/database/sqldb"
	"usedtrade/module/chat/model"
	"usedtrade/module/chat/repo"
	"usedtrade/service/queue"
	"usedtrade/tools/codec"
	"usedtrade/tools/errs"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testOpts = Options{Batch: 10, Block: 20 * time.Millisecond, MaxDeliveries: 3, BackoffMin: time.Millisecond, BackoffMax: 10 * time.Millisecond}

type fixture struct {
	q     *queue.Client
	repos *repo.Repos
	codec *codec.RoomCodec
	ch    *model.Channel
	token string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	db, err := sqldb.Open(sqldb.Config{
		Driver:       "sqlite",
		DSN:          fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name()),
		MaxOpenConns: 1,
		Models:       model.Owned(),
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	c, err := codec.NewRoomCodec([]byte("0123456789abcdef"))
	require.NoError(t, err)

	r := repo.New(db)
	created := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	ch := &model.Channel{BuyerID: 1, SellerID: 2, PostID: 10, LastChatTime: created, CreatedAt: created}
	require.NoError(t, r.Channels.Create(context.Background(), ch))

	return &fixture{q: queue.NewClient(rdb, 0), repos: r, codec: c, ch: ch, token: c.Encode(ch.ID)}
}

func (f *fixture) start(t *testing.T, q Queue, pipelines ...Pipeline) *Supervisor {
	t.Helper()
	s := NewSupervisor(q, testOpts, pipelines...)
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = s.Shutdown(ctx)
	})
	return s
}

func TestPipelinesPersistEntries(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.start(t, f.q, NewHandlers(f.codec, f.repos).Pipelines("node-1")...)

	at := time.Date(2024, 5, 1, 9, 30, 0, 500, time.UTC)
	msg := queue.MessageFields{RoomID: f.token, UserID: 1, Contents: "is it still available?", CreatedAt: at}
	// a redelivered message arrives as a second entry with identical fields
	for i := 0; i < 2; i++ {
		_, err := f.q.Append(ctx, queue.MessageStream, msg.Values())
		require.NoError(t, err)
	}
	_, err := f.q.Append(ctx, queue.ReadStream, queue.ReadFields{RoomID: f.token, UserID: 2, CreatedAt: at}.Values())
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return s.Stats("message").Acked == 2 && s.Stats("read").Acked == 1
	}, 3*time.Second, 10*time.Millisecond)

	n, err := f.repos.Messages.Count(ctx, f.ch.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n, "duplicate entry is ignored")

	got, err := f.repos.Channels.FindByID(ctx, f.ch.ID)
	require.NoError(t, err)
	assert.True(t, at.Equal(got.LastChatTime.UTC()))

	rp, ok, err := f.repos.ReadPoints.Find(ctx, f.ch.ID, 2)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, at.Equal(rp))

	pending, err := f.q.Pending(ctx, queue.MessageStream, queue.MessageGroup)
	require.NoError(t, err)
	assert.Zero(t, pending)
}

type recordingSink struct {
	mu      sync.Mutex
	reasons []string
}

func (r *recordingSink) Publish(_ string, _ queue.Entry, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reasons = append(r.reasons, reason)
	return nil
}

func (r *recordingSink) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.reasons)
}

func TestPoisonEntriesAreDeadLettered(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sink := &recordingSink{}
	h := NewHandlers(f.codec, f.repos)

	s := NewSupervisor(f.q, testOpts, h.Pipelines("node-1")...).WithDeadLetterSink(sink)
	require.NoError(t, s.Start(ctx))
	defer func() { s.Stop(); s.Wait() }()

	tests := []map[string]any{
		{queue.FieldRoomID: f.token},
		queue.MessageFields{RoomID: "not-a-token", UserID: 1, Contents: "x", CreatedAt: time.Now()}.Values(),
		queue.MessageFields{RoomID: f.token, UserID: 99, Contents: "x", CreatedAt: time.Now()}.Values(),
		queue.MessageFields{RoomID: f.codec.Encode(4040), UserID: 1, Contents: "x", CreatedAt: time.Now()}.Values(),
	}
	for _, v := range tests {
		_, err := f.q.Append(ctx, queue.MessageStream, v)
		require.NoError(t, err)
	}

	require.Eventually(t, func() bool {
		return s.Stats("message").DeadLettered == int64(len(tests))
	}, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, len(tests), sink.count())

	dead, err := f.q.Len(ctx, queue.DeadStream(queue.MessageStream))
	require.NoError(t, err)
	assert.EqualValues(t, len(tests), dead)

	n, err := f.repos.Messages.Count(ctx, f.ch.ID)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestFailedEntriesStayPending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	var calls sync.Map
	p := Pipeline{
		Name: "flaky", Stream: queue.ReadStream, Group: queue.ReadGroup, Consumer: "node-1",
		Handle: func(_ context.Context, e queue.Entry) error {
			calls.Store(e.ID, true)
			return errs.ErrTransientStore.WrapMsg("db down")
		},
	}
	s := f.start(t, f.q, p)

	id, err := f.q.Append(ctx, queue.ReadStream, queue.ReadFields{RoomID: f.token, UserID: 1, CreatedAt: time.Now()}.Values())
	require.NoError(t, err)

	require.Eventually(t, func() bool { return s.Stats("flaky").Failed == 1 }, 3*time.Second, 10*time.Millisecond)
	_, seen := calls.Load(id)
	assert.True(t, seen)

	pending, err := f.q.Pending(ctx, queue.ReadStream, queue.ReadGroup)
	require.NoError(t, err)
	assert.EqualValues(t, 1, pending)
	assert.Zero(t, s.Stats("flaky").DeadLettered)
}

func TestPanickingHandlerDoesNotStopPipeline(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	var handled sync.Map
	p := Pipeline{
		Name: "fragile", Stream: queue.ReadStream, Group: queue.ReadGroup, Consumer: "node-1",
		Handle: func(_ context.Context, e queue.Entry) error {
			if e.Values[queue.FieldUserID] == "1" {
				panic("boom")
			}
			handled.Store(e.ID, true)
			return nil
		},
	}
	s := f.start(t, f.q, p)

	_, err := f.q.Append(ctx, queue.ReadStream, queue.ReadFields{RoomID: f.token, UserID: 1, CreatedAt: time.Now()}.Values())
	require.NoError(t, err)
	_, err = f.q.Append(ctx, queue.ReadStream, queue.ReadFields{RoomID: f.token, UserID: 2, CreatedAt: time.Now()}.Values())
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		st := s.Stats("fragile")
		return st.Failed == 1 && st.Acked == 1
	}, 3*time.Second, 10*time.Millisecond)
}

// overDelivered reports every entry as delivered more often than allowed.
type overDelivered struct {
	*queue.Client
}

func (o overDelivered) Deliveries(_ context.Context, _, _ string, ids []string) (map[string]int64, error) {
	out := make(map[string]int64, len(ids))
	for _, id := range ids {
		out[id] = testOpts.MaxDeliveries + 1
	}
	return out, nil
}

func TestMaxDeliveriesDeadLetters(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	handled := make(chan struct{}, 1)
	p := Pipeline{
		Name: "capped", Stream: queue.MessageStream, Group: queue.MessageGroup, Consumer: "node-1",
		Handle: func(context.Context, queue.Entry) error {
			handled <- struct{}{}
			return nil
		},
	}
	s := f.start(t, overDelivered{f.q}, p)

	_, err := f.q.Append(ctx, queue.MessageStream, queue.MessageFields{RoomID: f.token, UserID: 1, Contents: "x", CreatedAt: time.Now()}.Values())
	require.NoError(t, err)

	require.Eventually(t, func() bool { return s.Stats("capped").DeadLettered == 1 }, 3*time.Second, 10*time.Millisecond)
	assert.Empty(t, handled, "handler is not run past the delivery cap")

	dead, err := f.q.Range(ctx, queue.DeadStream(queue.MessageStream), 10)
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Contains(t, dead[0].Values["reason"], "delivered")
}

type brokenQueue struct {
	*queue.Client
	mu    sync.Mutex
	reads int
}

func (b *brokenQueue) ReadGroup(context.Context, string, string, string, int64, time.Duration) ([]queue.Entry, error) {
	b.mu.Lock()
	b.reads++
	b.mu.Unlock()
	return nil, errors.New("connection refused")
}

func TestStopJoinsWorkersWhileReadsFail(t *testing.T) {
	f := newFixture(t)
	bq := &brokenQueue{Client: f.q}
	s := NewSupervisor(bq, testOpts, Pipeline{
		Name: "down", Stream: queue.ReadStream, Group: queue.ReadGroup, Consumer: "node-1",
		Handle: func(context.Context, queue.Entry) error { return nil },
	})
	require.NoError(t, s.Start(context.Background()))

	require.Eventually(t, func() bool {
		bq.mu.Lock()
		defer bq.mu.Unlock()
		return bq.reads >= 2
	}, 3*time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))
}

func TestIsPoison(t *testing.T) {
	assert.True(t, IsPoison(errs.ErrDecode.WrapMsg("bad")))
	assert.True(t, IsPoison(errs.ErrNotFound.WrapMsg("gone")))
	assert.True(t, IsPoison(errs.ErrAuthorization.WrapMsg("nope")))
	assert.False(t, IsPoison(errs.ErrTransientStore.WrapMsg("later")))
	assert.False(t, IsPoison(errors.New("plain")))
}
