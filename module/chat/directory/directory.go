// Package directory resolves the collaborators the chat does not own:
// user nicknames and marketplace listings.
package directory

import (
	"context"

	"usedtrade/module/chat/model"
)

// Users resolves display names. Unknown users resolve to "".
type Users interface {
	Nicknames(ctx context.Context, ids []int64) (map[int64]string, error)
}

// Listings resolves the item a channel is about.
type Listings interface {
	Find(ctx context.Context, id int64) (*model.Listing, error)
	Titles(ctx context.Context, ids []int64) (map[int64]string, error)
}

// Nickname is a convenience for a single lookup.
func Nickname(ctx context.Context, u Users, id int64) (string, error) {
	m, err := u.Nicknames(ctx, []int64{id})
	if err != nil {
		return "", err
	}
	return m[id], nil
}
