package directory

import (
	"context"

	"usedtrade/data/database/sqldb"
	"usedtrade/module/chat/model"

	"gorm.io/gorm"
)

// SQLUsers reads nicknames from the account table.
type SQLUsers struct {
	db *gorm.DB
}

func NewSQLUsers(db *gorm.DB) *SQLUsers { return &SQLUsers{db: db} }

func (u *SQLUsers) Nicknames(ctx context.Context, ids []int64) (map[int64]string, error) {
	out := make(map[int64]string, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var rows []model.User
	if err := u.db.WithContext(ctx).Where("id IN ?", ids).Find(&rows).Error; err != nil {
		return nil, sqldb.Classify(err, "user nicknames")
	}
	for _, r := range rows {
		out[r.ID] = r.Nickname
	}
	return out, nil
}

// SQLListings reads the catalog table.
type SQLListings struct {
	db *gorm.DB
}

func NewSQLListings(db *gorm.DB) *SQLListings { return &SQLListings{db: db} }

func (l *SQLListings) Find(ctx context.Context, id int64) (*model.Listing, error) {
	var row model.Listing
	if err := l.db.WithContext(ctx).First(&row, "id = ?", id).Error; err != nil {
		return nil, sqldb.Classify(err, "find listing", "id", id)
	}
	return &row, nil
}

func (l *SQLListings) Titles(ctx context.Context, ids []int64) (map[int64]string, error) {
	out := make(map[int64]string, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var rows []model.Listing
	if err := l.db.WithContext(ctx).Select("id", "title").Where("id IN ?", ids).Find(&rows).Error; err != nil {
		return nil, sqldb.Classify(err, "listing titles")
	}
	for _, r := range rows {
		out[r.ID] = r.Title
	}
	return out, nil
}
