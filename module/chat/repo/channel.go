package repo

import (
	"context"
	"time"

	"usedtrade/data/database/sqldb"
	"usedtrade/module/chat/model"
	"usedtrade/tools/errs"

	"gorm.io/gorm"
)

type Channels struct {
	db *gorm.DB
}

// Create inserts c. A concurrent create of the same (buyer, post) surfaces
// as a unique violation the caller can resolve with FindByBuyerAndPost.
func (r *Channels) Create(ctx context.Context, c *model.Channel) error {
	c.CreatedAt = c.CreatedAt.UTC()
	c.LastChatTime = c.LastChatTime.UTC()
	if err := r.db.WithContext(ctx).Create(c).Error; err != nil {
		if sqldb.IsUniqueViolation(err) {
			return errs.WrapMsg(err, "channel exists", "buyer", c.BuyerID, "post", c.PostID)
		}
		return sqldb.Classify(err, "create channel", "buyer", c.BuyerID, "post", c.PostID)
	}
	return nil
}

func (r *Channels) FindByID(ctx context.Context, id int64) (*model.Channel, error) {
	var c model.Channel
	if err := r.db.WithContext(ctx).First(&c, "id = ?", id).Error; err != nil {
		return nil, sqldb.Classify(err, "find channel", "id", id)
	}
	return &c, nil
}

func (r *Channels) FindByBuyerAndPost(ctx context.Context, buyerID, postID int64) (*model.Channel, error) {
	var c model.Channel
	err := r.db.WithContext(ctx).
		Where("buyer_id = ? AND post_id = ?", buyerID, postID).
		First(&c).Error
	if err != nil {
		return nil, sqldb.Classify(err, "find channel", "buyer", buyerID, "post", postID)
	}
	return &c, nil
}

// ListByUser pages the channels the user takes part in, newest activity
// first. before is an exclusive cursor on last_chat_time; hasNext is probed
// by fetching one extra row.
func (r *Channels) ListByUser(ctx context.Context, userID int64, before *time.Time, size int) ([]model.Channel, bool, error) {
	if size <= 0 {
		size = 10
	}
	q := r.db.WithContext(ctx).
		Where("(buyer_id = ? OR seller_id = ?)", userID, userID)
	if before != nil {
		q = q.Where("last_chat_time < ?", before.UTC())
	}
	var rows []model.Channel
	err := q.Order("last_chat_time DESC").Order("id DESC").
		Limit(size + 1).
		Find(&rows).Error
	if err != nil {
		return nil, false, sqldb.Classify(err, "list channels", "user", userID)
	}
	hasNext := len(rows) > size
	if hasNext {
		rows = rows[:size]
	}
	return rows, hasNext, nil
}

// TouchLastChat moves last_chat_time forward only.
func (r *Channels) TouchLastChat(ctx context.Context, id int64, at time.Time) error {
	at = at.UTC()
	err := r.db.WithContext(ctx).Model(&model.Channel{}).
		Where("id = ? AND last_chat_time < ?", id, at).
		Update("last_chat_time", at).Error
	return sqldb.Classify(err, "touch channel", "id", id)
}

// Delete removes the channel with its messages and read points.
func (r *Channels) Delete(ctx context.Context, id int64) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("channel_id = ?", id).Delete(&model.Message{}).Error; err != nil {
			return err
		}
		if err := tx.Where("channel_id = ?", id).Delete(&model.ReadPoint{}).Error; err != nil {
			return err
		}
		res := tx.Delete(&model.Channel{}, "id = ?", id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return nil
	})
	return sqldb.Classify(err, "delete channel", "id", id)
}
