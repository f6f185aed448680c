// Package repo is the relational side of the chat: channels, messages and
// read points.
package repo

import (
	"gorm.io/gorm"
)

type Repos struct {
	DB         *gorm.DB
	Channels   *Channels
	Messages   *Messages
	ReadPoints *ReadPoints
}

func New(db *gorm.DB) *Repos {
	return &Repos{
		DB:         db,
		Channels:   &Channels{db: db},
		Messages:   &Messages{db: db},
		ReadPoints: &ReadPoints{db: db},
	}
}
