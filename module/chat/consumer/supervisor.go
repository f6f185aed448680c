// Package consumer drains the chat streams into the relational store.
package consumer

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"usedtrade/logger"
	"usedtrade/service/queue"
	"usedtrade/tools/errs"
	"usedtrade/tools/safe"
)

// Queue is the subset of the stream client a pipeline needs.
type Queue interface {
	EnsureGroup(ctx context.Context, stream, group string) error
	ReadGroup(ctx context.Context, stream, group, consumer string, count int64, block time.Duration) ([]queue.Entry, error)
	Ack(ctx context.Context, stream, group string, ids ...string) error
	Claim(ctx context.Context, stream, group, consumer string, minIdle time.Duration, count int64) ([]queue.Entry, error)
	Deliveries(ctx context.Context, stream, group string, ids []string) (map[string]int64, error)
	DeadLetter(ctx context.Context, group string, e queue.Entry, reason string) (string, error)
}

// DeadLetterSink mirrors abandoned entries outside Redis.
type DeadLetterSink interface {
	Publish(group string, e queue.Entry, reason string) error
}

// HandleFunc persists one entry. Returning an error leaves the entry pending;
// poison errors (see IsPoison) dead-letter it at once.
type HandleFunc func(ctx context.Context, e queue.Entry) error

type Pipeline struct {
	Name     string
	Stream   string
	Group    string
	Consumer string
	Handle   HandleFunc
}

type Options struct {
	Batch         int64
	Block         time.Duration
	ClaimIdle     time.Duration
	MaxDeliveries int64
	HandleTimeout time.Duration
	BackoffMin    time.Duration
	BackoffMax    time.Duration
}

func (o Options) withDefaults() Options {
	if o.Batch <= 0 {
		o.Batch = 10
	}
	if o.Block <= 0 {
		o.Block = 2 * time.Second
	}
	if o.ClaimIdle <= 0 {
		o.ClaimIdle = 30 * time.Second
	}
	if o.MaxDeliveries <= 0 {
		o.MaxDeliveries = 5
	}
	if o.HandleTimeout <= 0 {
		o.HandleTimeout = 10 * time.Second
	}
	if o.BackoffMin <= 0 {
		o.BackoffMin = 50 * time.Millisecond
	}
	if o.BackoffMax <= 0 {
		o.BackoffMax = 2 * time.Second
	}
	return o
}

// Stats counts what a pipeline did since start.
type Stats struct {
	Acked        int64
	Failed       int64
	DeadLettered int64
}

type counters struct {
	acked, failed, dead atomic.Int64
}

// Supervisor owns one worker goroutine per pipeline. Stop cancels them and
// Wait joins them; a worker finishes its current batch before it exits.
type Supervisor struct {
	q         Queue
	sink      DeadLetterSink
	pipelines []Pipeline

	mu    sync.RWMutex
	opts  Options
	stats map[string]*counters

	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

func NewSupervisor(q Queue, opts Options, pipelines ...Pipeline) *Supervisor {
	safe.MustNotNil(q, "queue")
	s := &Supervisor{
		q:         q,
		pipelines: pipelines,
		opts:      opts.withDefaults(),
		stats:     make(map[string]*counters, len(pipelines)),
	}
	for _, p := range pipelines {
		s.stats[p.Name] = &counters{}
	}
	return s
}

// WithDeadLetterSink adds a mirror for dead-lettered entries.
func (s *Supervisor) WithDeadLetterSink(sink DeadLetterSink) *Supervisor {
	s.sink = sink
	return s
}

// Tune replaces the options; workers pick them up on their next batch.
func (s *Supervisor) Tune(opts Options) {
	s.mu.Lock()
	s.opts = opts.withDefaults()
	s.mu.Unlock()
	logger.Infof("[Consumer] tuned batch=%d block=%s claimIdle=%s maxDeliveries=%d",
		opts.Batch, opts.Block, opts.ClaimIdle, opts.MaxDeliveries)
}

func (s *Supervisor) options() Options {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.opts
}

func (s *Supervisor) Stats(name string) Stats {
	c, ok := s.stats[name]
	if !ok {
		return Stats{}
	}
	return Stats{Acked: c.acked.Load(), Failed: c.failed.Load(), DeadLettered: c.dead.Load()}
}

// Start creates the consumer groups and launches the workers.
func (s *Supervisor) Start(ctx context.Context) error {
	for _, p := range s.pipelines {
		if err := s.q.EnsureGroup(ctx, p.Stream, p.Group); err != nil {
			return err
		}
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	for _, p := range s.pipelines {
		p := p
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.supervise(runCtx, p)
		}()
		logger.Infof("[Consumer] started pipeline=%s stream=%s group=%s consumer=%s", p.Name, p.Stream, p.Group, p.Consumer)
	}
	return nil
}

func (s *Supervisor) Stop() {
	s.once.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
	})
}

func (s *Supervisor) Wait() {
	s.wg.Wait()
}

// Shutdown stops the workers and waits for them until ctx expires.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.Stop()
	done := make(chan struct{})
	go func() {
		s.Wait()
		close(done)
	}()
	select {
	case <-done:
		logger.Info("[Consumer] all pipelines stopped")
		return nil
	case <-ctx.Done():
		return errs.WrapMsg(ctx.Err(), "consumer shutdown")
	}
}

// supervise restarts the worker loop after a panic until ctx is done.
func (s *Supervisor) supervise(ctx context.Context, p Pipeline) {
	w := &worker{s: s, p: p, stats: s.stats[p.Name]}
	for ctx.Err() == nil {
		if err := safe.Run("consumer:"+p.Name, func() { w.loop(ctx) }); err != nil {
			sleep(ctx, s.options().BackoffMax)
		}
	}
	logger.Infof("[Consumer] stopped pipeline=%s", p.Name)
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
