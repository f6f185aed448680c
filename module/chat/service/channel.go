package service

import (
	"context"
	"time"

	"usedtrade/data/database/sqldb"
	"usedtrade/logger"
	"usedtrade/module/chat/model"
	"usedtrade/tools/errs"
)

// CreateChannel opens the buyer's channel about a listing, or returns the
// existing one. Both participants start with a read point at creation time.
func (s *Service) CreateChannel(ctx context.Context, userID, listingID int64) (token string, created bool, err error) {
	listing, err := s.Listings.Find(ctx, listingID)
	if err != nil {
		return "", false, err
	}
	if listing.UserID == userID {
		return "", false, errs.ErrArgs.WrapMsg("cannot open a chat on your own listing", "listing", listingID)
	}

	if ch, err := s.Repos.Channels.FindByBuyerAndPost(ctx, userID, listingID); err == nil {
		return s.Codec.Encode(ch.ID), false, nil
	} else if !errs.ErrNotFound.Is(err) {
		return "", false, err
	}

	now := s.now().UTC()
	ch := &model.Channel{BuyerID: userID, SellerID: listing.UserID, PostID: listingID, LastChatTime: now, CreatedAt: now}
	if err := s.Repos.Channels.Create(ctx, ch); err != nil {
		if !sqldb.IsUniqueViolation(err) {
			return "", false, err
		}
		// lost a race with a concurrent create
		existing, ferr := s.Repos.Channels.FindByBuyerAndPost(ctx, userID, listingID)
		if ferr != nil {
			return "", false, ferr
		}
		return s.Codec.Encode(existing.ID), false, nil
	}

	for _, u := range []int64{ch.BuyerID, ch.SellerID} {
		if err := s.Repos.ReadPoints.Upsert(ctx, ch.ID, u, now); err != nil {
			return "", false, err
		}
		if err := s.ReadPoints.SaveOrUpdate(ctx, ch.ID, u, now, true); err != nil {
			logger.Warnf("[Channel] seed read point channel=%d user=%d: %v", ch.ID, u, err)
		}
	}
	logger.Infof("[Channel] created channel=%d buyer=%d seller=%d listing=%d", ch.ID, ch.BuyerID, ch.SellerID, listingID)
	return s.Codec.Encode(ch.ID), true, nil
}

// DeleteChannel removes the channel, its history and its fast-tier keys.
func (s *Service) DeleteChannel(ctx context.Context, userID int64, token string) error {
	ch, err := s.participantChannel(ctx, userID, token)
	if err != nil {
		return err
	}
	ids, err := s.Index.All(ctx, ch.ID)
	if err != nil {
		return err
	}
	if err := s.Repos.Channels.Delete(ctx, ch.ID); err != nil {
		return err
	}
	if err := s.Detail.Delete(ctx, ch.ID, ids...); err != nil {
		logger.Warnf("[Channel] drop details channel=%d: %v", ch.ID, err)
	}
	if err := s.Index.Delete(ctx, ch.ID); err != nil {
		logger.Warnf("[Channel] drop index channel=%d: %v", ch.ID, err)
	}
	if err := s.ReadPoints.Delete(ctx, ch.ID); err != nil {
		logger.Warnf("[Channel] drop read points channel=%d: %v", ch.ID, err)
	}
	logger.Infof("[Channel] deleted channel=%d by user=%d", ch.ID, userID)
	return nil
}

// PeerReadTime is how far the other participant has read the channel.
func (s *Service) PeerReadTime(ctx context.Context, userID int64, token string) (time.Time, error) {
	ch, err := s.participantChannel(ctx, userID, token)
	if err != nil {
		return time.Time{}, err
	}
	return s.ReadPoints.Find(ctx, ch.ID, ch.Opponent(userID))
}
