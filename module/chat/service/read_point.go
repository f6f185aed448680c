package service

import (
	"context"
	"time"

	"usedtrade/logger"
	"usedtrade/module/chat/model"
	"usedtrade/module/chat/repo"
	"usedtrade/service/storage"
	"usedtrade/tools/chrono"
)

// maxClockSkew bounds how far ahead of the server a client-stamped read
// point may be.
const maxClockSkew = 5 * time.Second

// ReadPointStore reads through the fast tier to the durable rows.
type ReadPointStore struct {
	cache   *storage.ReadPointCache
	durable *repo.ReadPoints
	now     func() time.Time
}

func NewReadPointStore(cache *storage.ReadPointCache, durable *repo.ReadPoints) *ReadPointStore {
	return &ReadPointStore{cache: cache, durable: durable, now: time.Now}
}

// Find returns chrono.Epoch for a user who never read the channel. A fast
// tier miss falls back to the durable row and re-warms the cache.
func (s *ReadPointStore) Find(ctx context.Context, channelID, userID int64) (time.Time, error) {
	ts, ok, err := s.cache.Get(ctx, channelID, userID)
	if err != nil {
		return time.Time{}, err
	}
	if ok {
		return ts, nil
	}
	ts, ok, err = s.durable.Find(ctx, channelID, userID)
	if err != nil {
		return time.Time{}, err
	}
	if !ok {
		return chrono.Epoch, nil
	}
	if _, err := s.cache.Advance(ctx, channelID, userID, ts); err != nil {
		logger.Warnf("[ReadPoint] re-warm channel=%d user=%d failed: %v", channelID, userID, err)
	}
	return ts.UTC(), nil
}

// SaveOrUpdate advances the fast tier. Timestamps loaded from the durable
// store are kept as they are; fresh event timestamps come from clients and
// are clamped so a fast clock cannot mark future messages as read.
func (s *ReadPointStore) SaveOrUpdate(ctx context.Context, channelID, userID int64, ts time.Time, fromDurable bool) error {
	if !fromDurable {
		if limit := s.now().Add(maxClockSkew); ts.After(limit) {
			ts = limit
		}
	}
	_, err := s.cache.Advance(ctx, channelID, userID, ts.UTC())
	return err
}

// FindAll returns every cached read point of the channel.
func (s *ReadPointStore) FindAll(ctx context.Context, channelID int64) (map[int64]time.Time, error) {
	all, err := s.cache.All(ctx, channelID)
	if err != nil {
		return nil, err
	}
	if len(all) > 0 {
		return all, nil
	}
	rows, err := s.durable.ListByChannel(ctx, channelID)
	if err != nil {
		return nil, err
	}
	for _, r := range rows {
		all[r.UserID] = r.ReadAt.UTC()
		if _, err := s.cache.Advance(ctx, channelID, r.UserID, r.ReadAt); err != nil {
			return nil, err
		}
	}
	return all, nil
}

// WarmAll copies every durable read point into the fast tier.
func (s *ReadPointStore) WarmAll(ctx context.Context) (int, error) {
	n := 0
	err := s.durable.Each(ctx, 500, func(r model.ReadPoint) error {
		if err := s.SaveOrUpdate(ctx, r.ChannelID, r.UserID, r.ReadAt, true); err != nil {
			return err
		}
		n++
		return nil
	})
	if err != nil {
		return n, err
	}
	logger.Infof("[ReadPoint] warmed %d read points", n)
	return n, nil
}

func (s *ReadPointStore) Delete(ctx context.Context, channelID int64) error {
	return s.cache.Delete(ctx, channelID)
}
