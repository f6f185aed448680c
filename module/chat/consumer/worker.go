package consumer

import (
	"context"
	"fmt"
	"time"

	"usedtrade/logger"
	"usedtrade/service/queue"
	"usedtrade/tools/errs"
	"usedtrade/tools/safe"
)

type worker struct {
	s         *Supervisor
	p         Pipeline
	stats     *counters
	lastClaim time.Time
}

func (w *worker) loop(ctx context.Context) {
	backoff := time.Duration(0)
	for ctx.Err() == nil {
		o := w.s.options()
		entries, err := w.fetch(ctx, o)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if backoff == 0 {
				backoff = o.BackoffMin
			} else if backoff *= 2; backoff > o.BackoffMax {
				backoff = o.BackoffMax
			}
			logger.Warnf("[Consumer] %s read failed, retry in %s: %v", w.p.Name, backoff, err)
			sleep(ctx, backoff)
			continue
		}
		backoff = 0
		if len(entries) > 0 {
			w.process(ctx, o, entries)
		}
	}
}

// fetch reclaims entries abandoned by crashed consumers at most once per
// ClaimIdle and then reads new ones.
func (w *worker) fetch(ctx context.Context, o Options) ([]queue.Entry, error) {
	var out []queue.Entry
	if time.Since(w.lastClaim) >= o.ClaimIdle {
		claimed, err := w.s.q.Claim(ctx, w.p.Stream, w.p.Group, w.p.Consumer, o.ClaimIdle, o.Batch)
		if err != nil {
			return nil, err
		}
		w.lastClaim = time.Now()
		if len(claimed) > 0 {
			logger.Infof("[Consumer] %s reclaimed %d pending entries", w.p.Name, len(claimed))
			out = append(out, claimed...)
		}
	}
	fresh, err := w.s.q.ReadGroup(ctx, w.p.Stream, w.p.Group, w.p.Consumer, o.Batch, o.Block)
	if err != nil {
		return nil, err
	}
	return append(out, fresh...), nil
}

// process handles one batch to the end even when ctx is cancelled meanwhile.
func (w *worker) process(ctx context.Context, o Options, entries []queue.Entry) {
	bctx := context.WithoutCancel(ctx)

	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.ID
	}
	counts, err := w.s.q.Deliveries(bctx, w.p.Stream, w.p.Group, ids)
	if err != nil {
		logger.Warnf("[Consumer] %s delivery counts unavailable: %v", w.p.Name, err)
	}

	for _, e := range entries {
		e.Deliveries = counts[e.ID]
		if e.Deliveries > o.MaxDeliveries {
			w.deadLetter(bctx, e, fmt.Sprintf("delivered %d times", e.Deliveries))
			continue
		}

		hctx, cancel := context.WithTimeout(bctx, o.HandleTimeout)
		err := w.handle(hctx, e)
		cancel()

		switch {
		case err == nil:
			if err := w.s.q.Ack(bctx, w.p.Stream, w.p.Group, e.ID); err != nil {
				logger.Warnf("[Consumer] %s ack id=%s failed: %v", w.p.Name, e.ID, err)
				continue
			}
			w.stats.acked.Add(1)
		case IsPoison(err):
			w.deadLetter(bctx, e, err.Error())
		default:
			w.stats.failed.Add(1)
			logger.Warnf("[Consumer] %s id=%s left pending (delivery %d): %v", w.p.Name, e.ID, e.Deliveries, err)
		}
	}
}

func (w *worker) handle(ctx context.Context, e queue.Entry) (err error) {
	if perr := safe.Run("handle:"+w.p.Name, func() { err = w.p.Handle(ctx, e) }); perr != nil {
		return perr
	}
	return err
}

func (w *worker) deadLetter(ctx context.Context, e queue.Entry, reason string) {
	if _, err := w.s.q.DeadLetter(ctx, w.p.Group, e, reason); err != nil {
		logger.Errorf("[Consumer] %s dead letter id=%s failed: %v", w.p.Name, e.ID, err)
		return
	}
	w.stats.dead.Add(1)
	logger.Warnf("[Consumer] %s dead-lettered id=%s reason=%s", w.p.Name, e.ID, reason)
	if w.s.sink != nil {
		if err := w.s.sink.Publish(w.p.Group, e, reason); err != nil {
			logger.Warnf("[Consumer] %s dead letter mirror id=%s failed: %v", w.p.Name, e.ID, err)
		}
	}
}

// IsPoison reports errors that no redelivery can fix.
func IsPoison(err error) bool {
	return errs.ErrDecode.Is(err) ||
		errs.ErrArgs.Is(err) ||
		errs.ErrNotFound.Is(err) ||
		errs.ErrAuthorization.Is(err)
}
