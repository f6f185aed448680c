package repo

import (
	"context"
	"errors"
	"time"

	"usedtrade/data/database/sqldb"
	"usedtrade/module/chat/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ReadPoints struct {
	db *gorm.DB
}

// Upsert records at for (channel, user) and keeps the later of the stored
// and the new value.
func (r *ReadPoints) Upsert(ctx context.Context, channelID, userID int64, at time.Time) error {
	rp := model.ReadPoint{ChannelID: channelID, UserID: userID, ReadAt: at.UTC()}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "channel_id"}, {Name: "user_id"}},
		DoUpdates: clause.Set{{
			Column: clause.Column{Name: "read_at"},
			Value: gorm.Expr("CASE WHEN excluded.read_at > " + rp.TableName() + ".read_at THEN excluded.read_at ELSE " +
				rp.TableName() + ".read_at END"),
		}},
	}).Create(&rp).Error
	return sqldb.Classify(err, "upsert read point", "channel", channelID, "user", userID)
}

// Find returns the durable read point and whether it exists.
func (r *ReadPoints) Find(ctx context.Context, channelID, userID int64) (time.Time, bool, error) {
	var rp model.ReadPoint
	err := r.db.WithContext(ctx).
		Where("channel_id = ? AND user_id = ?", channelID, userID).
		First(&rp).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, sqldb.Classify(err, "find read point", "channel", channelID, "user", userID)
	}
	return rp.ReadAt.UTC(), true, nil
}

func (r *ReadPoints) ListByChannel(ctx context.Context, channelID int64) ([]model.ReadPoint, error) {
	var rows []model.ReadPoint
	if err := r.db.WithContext(ctx).Where("channel_id = ?", channelID).Find(&rows).Error; err != nil {
		return nil, sqldb.Classify(err, "list read points", "channel", channelID)
	}
	return rows, nil
}

// Each walks every read point in batches.
func (r *ReadPoints) Each(ctx context.Context, batch int, fn func(model.ReadPoint) error) error {
	if batch <= 0 {
		batch = 500
	}
	var rows []model.ReadPoint
	res := r.db.WithContext(ctx).Order("id").FindInBatches(&rows, batch, func(tx *gorm.DB, _ int) error {
		for _, rp := range rows {
			if err := fn(rp); err != nil {
				return err
			}
		}
		return nil
	})
	return sqldb.Classify(res.Error, "walk read points")
}
