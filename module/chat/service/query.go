package service

import (
	"context"
	"time"

	"usedtrade/logger"
	"usedtrade/module/chat/model"
	"usedtrade/service/storage"

	"golang.org/x/sync/errgroup"
)

// ListChannelsForUser pages the user's channels by last activity, newest
// first. before is an exclusive cursor on the last chat time.
func (s *Service) ListChannelsForUser(ctx context.Context, userID int64, before *time.Time) (Slice[ChannelSummary], error) {
	rows, hasNext, err := s.Repos.Channels.ListByUser(ctx, userID, before, ChannelPageSize)
	if err != nil {
		return Slice[ChannelSummary]{}, err
	}
	if len(rows) == 0 {
		return newSlice[ChannelSummary](nil, false), nil
	}

	userIDs := make([]int64, 0, len(rows))
	postIDs := make([]int64, 0, len(rows))
	for _, c := range rows {
		userIDs = append(userIDs, c.Opponent(userID))
		postIDs = append(postIDs, c.PostID)
	}

	var nicknames, titles map[int64]string
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		nicknames, err = s.Users.Nicknames(gctx, userIDs)
		return err
	})
	g.Go(func() (err error) {
		titles, err = s.Listings.Titles(gctx, postIDs)
		return err
	})
	if err := g.Wait(); err != nil {
		return Slice[ChannelSummary]{}, err
	}

	out := make([]ChannelSummary, len(rows))
	g, gctx = errgroup.WithContext(ctx)
	g.SetLimit(summaryFanout)
	for i := range rows {
		i := i
		c := rows[i]
		g.Go(func() error {
			sum, err := s.summarize(gctx, userID, c)
			if err != nil {
				return err
			}
			sum.ChattingUserNickname = nicknames[c.Opponent(userID)]
			sum.PostTitle = titles[c.PostID]
			out[i] = sum
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Slice[ChannelSummary]{}, err
	}
	return newSlice(out, hasNext), nil
}

// summarize resolves the fast-tier facts of one channel, hydrating it first
// when the index is missing durable history.
func (s *Service) summarize(ctx context.Context, userID int64, c model.Channel) (ChannelSummary, error) {
	if _, err := s.Hydrator.EnsureWarm(ctx, c.ID, nil); err != nil {
		return ChannelSummary{}, err
	}
	readAt, err := s.ReadPoints.Find(ctx, c.ID, userID)
	if err != nil {
		return ChannelSummary{}, err
	}
	unread, err := s.Index.Count(ctx, c.ID, readAt)
	if err != nil {
		return ChannelSummary{}, err
	}
	latest, err := s.Index.Latest(ctx, c.ID)
	if err != nil {
		return ChannelSummary{}, err
	}
	last, err := s.Detail.Find(ctx, c.ID, latest)
	if err != nil {
		return ChannelSummary{}, err
	}
	return ChannelSummary{
		RoomID:       s.Codec.Encode(c.ID),
		PostID:       c.PostID,
		NonReadCount: unread,
		LastMessage:  last.Message,
		LastChatTime: s.Display.Format(c.LastChatTime),
	}, nil
}

// ListMessagesForChannel returns up to MessagePageSize messages older than
// before, newest first.
func (s *Service) ListMessagesForChannel(ctx context.Context, userID int64, token string, before *time.Time) (Slice[MessageView], error) {
	ch, err := s.participantChannel(ctx, userID, token)
	if err != nil {
		return Slice[MessageView]{}, err
	}

	ids, more, err := s.page(ctx, ch.ID, before)
	if err != nil {
		return Slice[MessageView]{}, err
	}
	// a short page may sit on top of history the cache has lost
	if !more {
		n, err := s.Hydrator.EnsureWarm(ctx, ch.ID, before)
		if err != nil {
			return Slice[MessageView]{}, err
		}
		if n > 0 {
			if ids, more, err = s.page(ctx, ch.ID, before); err != nil {
				return Slice[MessageView]{}, err
			}
		}
	}

	details, err := s.Detail.FindMany(ctx, ch.ID, ids)
	if err != nil {
		return Slice[MessageView]{}, err
	}
	if anyMissing(details) {
		if _, err := s.Hydrator.Hydrate(ctx, ch.ID); err != nil {
			return Slice[MessageView]{}, err
		}
		if details, err = s.Detail.FindMany(ctx, ch.ID, ids); err != nil {
			return Slice[MessageView]{}, err
		}
	}
	return newSlice(s.views(userID, ids, details), more), nil
}

func (s *Service) page(ctx context.Context, channelID int64, before *time.Time) ([]string, bool, error) {
	ids, err := s.Index.MultiGet(ctx, channelID, before, MessagePageSize)
	if err != nil {
		return nil, false, err
	}
	more, err := s.Index.HasMore(ctx, channelID, before, MessagePageSize)
	if err != nil {
		return nil, false, err
	}
	return ids, more, nil
}

func anyMissing(details []storage.MessageDetail) bool {
	for _, d := range details {
		if d.Missing() {
			return true
		}
	}
	return false
}

func (s *Service) views(userID int64, ids []string, details []storage.MessageDetail) []MessageView {
	out := make([]MessageView, 0, len(details))
	for i, d := range details {
		if d.Missing() {
			logger.Warnf("[Query] indexed message has no detail messageId=%s", ids[i])
			continue
		}
		out = append(out, MessageView{
			SenderID:  d.SenderID,
			Message:   d.Message,
			ToSend:    d.SenderID == userID,
			CreatedAt: s.Display.Format(d.CreatedAt),
		})
	}
	return out
}
