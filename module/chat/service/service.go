// Package service answers chat queries from the fast tier, rebuilding it
// from the relational store when it has gone cold, and manages the channel
// lifecycle.
package service

import (
	"context"
	"time"

	"usedtrade/module/chat/directory"
	"usedtrade/module/chat/model"
	"usedtrade/module/chat/repo"
	"usedtrade/service/storage"
	"usedtrade/tools/chrono"
	"usedtrade/tools/codec"
	"usedtrade/tools/errs"
	"usedtrade/tools/safe"
)

const (
	ChannelPageSize = 10
	MessagePageSize = 100

	summaryFanout = 4
)

// Slice is one page of a cursor-paginated listing.
type Slice[T any] struct {
	Content []T  `json:"content"`
	Size    int  `json:"size"`
	HasNext bool `json:"hasNext"`
}

func newSlice[T any](content []T, hasNext bool) Slice[T] {
	if content == nil {
		content = []T{}
	}
	return Slice[T]{Content: content, Size: len(content), HasNext: hasNext}
}

// ChannelSummary is one row of a user's channel list.
type ChannelSummary struct {
	RoomID               string `json:"roomId"`
	PostID               int64  `json:"postId"`
	PostTitle            string `json:"postTitle"`
	ChattingUserNickname string `json:"chattingUserNickname"`
	NonReadCount         int64  `json:"nonReadCount"`
	LastMessage          string `json:"lastMessage"`
	LastChatTime         string `json:"lastChatTime"`
}

// MessageView is one message as shown to a participant.
type MessageView struct {
	SenderID  int64  `json:"senderId"`
	Message   string `json:"message"`
	ToSend    bool   `json:"toSend"`
	CreatedAt string `json:"createdAt"`
}

// Deps wires the collaborators of a Service.
type Deps struct {
	Codec      *codec.RoomCodec
	Repos      *repo.Repos
	Index      *storage.MessageIndex
	Detail     *storage.DetailStore
	ReadPoints *ReadPointStore
	Hydrator   *Hydrator
	Users      directory.Users
	Listings   directory.Listings
	Display    *chrono.Display
}

type Service struct {
	Deps
	now func() time.Time
}

func New(d Deps) *Service {
	safe.MustNotNil(d.Codec, "codec")
	safe.MustNotNil(d.Repos, "repos")
	safe.MustNotNil(d.Users, "users")
	safe.MustNotNil(d.Listings, "listings")
	if d.Display == nil {
		d.Display = chrono.MustDisplay("+00:00")
	}
	if d.Hydrator == nil {
		d.Hydrator = NewHydrator(d.Codec, d.Repos.Messages, d.Index, d.Detail)
	}
	return &Service{Deps: d, now: time.Now}
}

// participantChannel decodes token and loads the channel, failing unless
// userID takes part in it.
func (s *Service) participantChannel(ctx context.Context, userID int64, token string) (*model.Channel, error) {
	id, err := s.Codec.Decode(token)
	if err != nil {
		return nil, err
	}
	ch, err := s.Repos.Channels.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ch.IsParticipant(userID) {
		return nil, errs.ErrAuthorization.WrapMsg("not a participant of this channel", "user", userID)
	}
	return ch, nil
}
