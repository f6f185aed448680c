// Package model holds the relational records of the chat pipeline. Every
// time column is written in UTC.
package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Channel is a one-to-one conversation about a listing.
type Channel struct {
	ID           int64     `gorm:"column:id;primaryKey;autoIncrement"`
	BuyerID      int64     `gorm:"column:buyer_id;not null;uniqueIndex:uk_channel_buyer_post,priority:1;index:idx_channel_buyer"`
	SellerID     int64     `gorm:"column:seller_id;not null;index:idx_channel_seller"`
	PostID       int64     `gorm:"column:post_id;not null;uniqueIndex:uk_channel_buyer_post,priority:2"`
	LastChatTime time.Time `gorm:"column:last_chat_time;not null;index:idx_channel_last_chat"`
	CreatedAt    time.Time `gorm:"column:created_at;not null"`
}

func (Channel) TableName() string { return "chat_channels" }

func (c Channel) IsParticipant(userID int64) bool {
	return userID == c.BuyerID || userID == c.SellerID
}

// Opponent returns the other participant; 0 when userID is not a participant.
func (c Channel) Opponent(userID int64) int64 {
	switch userID {
	case c.BuyerID:
		return c.SellerID
	case c.SellerID:
		return c.BuyerID
	}
	return 0
}

// Message is written only by the message consumer. IdemKey is derived from
// (channel, sender, created_at) so a redelivered stream entry is ignored.
type Message struct {
	ID        int64     `gorm:"column:id;primaryKey;autoIncrement"`
	ChannelID int64     `gorm:"column:channel_id;not null;index:idx_msg_channel_created,priority:1"`
	SenderID  int64     `gorm:"column:sender_id;not null"`
	Body      string    `gorm:"column:body;type:text;not null"`
	CreatedAt time.Time `gorm:"column:created_at;not null;index:idx_msg_channel_created,priority:2"`
	IdemKey   string    `gorm:"column:idem_key;size:36;not null;uniqueIndex:uk_msg_idem"`
}

func (Message) TableName() string { return "chat_messages" }

// ReadPoint is the last moment a user had read a channel. It never moves back.
type ReadPoint struct {
	ID        int64     `gorm:"column:id;primaryKey;autoIncrement"`
	ChannelID int64     `gorm:"column:channel_id;not null;uniqueIndex:uk_read_point,priority:1"`
	UserID    int64     `gorm:"column:user_id;not null;uniqueIndex:uk_read_point,priority:2"`
	ReadAt    time.Time `gorm:"column:read_at;not null"`
}

func (ReadPoint) TableName() string { return "read_points" }

// Listing is the marketplace item a channel is about. Owned by the catalog.
type Listing struct {
	ID     int64  `gorm:"column:id;primaryKey"`
	UserID int64  `gorm:"column:user_id;not null"`
	Title  string `gorm:"column:title;size:255"`
}

func (Listing) TableName() string { return "sales_items" }

// User is the slice of the account table the chat needs. Owned by the
// account service.
type User struct {
	ID       int64  `gorm:"column:id;primaryKey"`
	Nickname string `gorm:"column:nickname;size:64"`
}

func (User) TableName() string { return "users" }

// Owned lists the tables the chat itself migrates.
func Owned() []any {
	return []any{&Channel{}, &Message{}, &ReadPoint{}}
}

var idemNamespace = uuid.MustParse("6f1f7a4e-3a52-4a8e-9a57-2f0c4b1d9e11")

// MessageKey is the idempotency key of a message: a name-based UUID over
// channel, sender and the UTC creation instant.
func MessageKey(channelID, senderID int64, createdAt time.Time) string {
	name := fmt.Sprintf("%d|%d|%s", channelID, senderID, createdAt.UTC().Truncate(time.Millisecond).Format(time.RFC3339Nano))
	return uuid.NewSHA1(idemNamespace, []byte(name)).String()
}
