package repo

import (
	"context"
	"time"

	"usedtrade/data/database/sqldb"
	"usedtrade/module/chat/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Messages struct {
	db *gorm.DB
}

// InsertIgnore stores m unless a row with the same idempotency key exists.
// inserted is false for a duplicate.
func (r *Messages) InsertIgnore(ctx context.Context, m *model.Message) (bool, error) {
	m.CreatedAt = m.CreatedAt.UTC()
	if m.IdemKey == "" {
		m.IdemKey = model.MessageKey(m.ChannelID, m.SenderID, m.CreatedAt)
	}
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "idem_key"}}, DoNothing: true}).
		Create(m)
	if res.Error != nil {
		return false, sqldb.Classify(res.Error, "insert message", "channel", m.ChannelID, "key", m.IdemKey)
	}
	return res.RowsAffected > 0, nil
}

// ListAsc returns the whole history of a channel, oldest first.
func (r *Messages) ListAsc(ctx context.Context, channelID int64) ([]model.Message, error) {
	var rows []model.Message
	err := r.db.WithContext(ctx).
		Where("channel_id = ?", channelID).
		Order("created_at ASC").Order("id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, sqldb.Classify(err, "list messages", "channel", channelID)
	}
	return rows, nil
}

func (r *Messages) Exists(ctx context.Context, channelID int64) (bool, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&model.Message{}).
		Where("channel_id = ?", channelID).
		Limit(1).
		Count(&n).Error
	if err != nil {
		return false, sqldb.Classify(err, "count messages", "channel", channelID)
	}
	return n > 0, nil
}

func (r *Messages) Count(ctx context.Context, channelID int64) (int64, error) {
	return r.CountBefore(ctx, channelID, nil)
}

// CountBefore counts the channel's messages strictly older than before; a
// nil before counts them all.
func (r *Messages) CountBefore(ctx context.Context, channelID int64, before *time.Time) (int64, error) {
	var n int64
	q := r.db.WithContext(ctx).Model(&model.Message{}).Where("channel_id = ?", channelID)
	if before != nil {
		q = q.Where("created_at < ?", before.UTC())
	}
	err := q.Count(&n).Error
	if err != nil {
		return 0, sqldb.Classify(err, "count messages", "channel", channelID)
	}
	return n, nil
}
