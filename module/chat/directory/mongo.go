package directory

import (
	"context"

	"usedtrade/tools/errs"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// userDoc is the projection of the profile collection.
type userDoc struct {
	UserID   int64  `bson:"user_id"`
	Nickname string `bson:"nickname"`
}

// MongoUsers reads nicknames from the profile collection.
type MongoUsers struct {
	coll *mongo.Collection
}

func NewMongoUsers(db *mongo.Database, collection string) *MongoUsers {
	if collection == "" {
		collection = "users"
	}
	return &MongoUsers{coll: db.Collection(collection)}
}

func (u *MongoUsers) Nicknames(ctx context.Context, ids []int64) (map[int64]string, error) {
	out := make(map[int64]string, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	opts := options.Find().SetProjection(bson.M{"user_id": 1, "nickname": 1, "_id": 0})
	cur, err := u.coll.Find(ctx, bson.M{"user_id": bson.M{"$in": ids}}, opts)
	if err != nil {
		return nil, errs.WrapMsg(err, "mongo find users")
	}
	var docs []userDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, errs.WrapMsg(err, "mongo decode users")
	}
	for _, d := range docs {
		out[d.UserID] = d.Nickname
	}
	return out, nil
}

// EnsureIndexes creates the unique user_id index used by Nicknames.
func (u *MongoUsers) EnsureIndexes(ctx context.Context) error {
	_, err := u.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "user_id", Value: 1}},
		Options: options.Index().SetUnique(true).SetName("uk_user_id"),
	})
	return errs.WrapMsg(err, "mongo ensure index")
}
