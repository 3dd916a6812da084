// Copyright 2020 gorse Project Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package data

import (
	"context"
	"strconv"
	"time"

	"github.com/gorse-io/mfrec/storage"
	"github.com/juju/errors"
	"github.com/samber/lo"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsontype"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoDB reads ratings from the reviews collection. Ids may be stored as strings or
// ObjectIds and ratings as any BSON type.
type MongoDB struct {
	storage.TablePrefix
	client *mongo.Client
	dbName string
}

type mongoReview struct {
	UserId    bson.RawValue `bson:"user_id"`
	BookId    bson.RawValue `bson:"book_id"`
	Rating    bson.RawValue `bson:"rating"`
	IsDeleted bool          `bson:"is_deleted"`
	CreatedAt bson.RawValue `bson:"created_at"`
}

func (r *mongoReview) toRating() Rating {
	rating := Rating{
		UserId:    identifier(r.UserId),
		ItemId:    identifier(r.BookId),
		Value:     numeric(r.Rating),
		IsDeleted: r.IsDeleted,
	}
	if r.CreatedAt.Type == bsontype.DateTime {
		rating.Timestamp = r.CreatedAt.Time().UTC()
	}
	return rating
}

func identifier(v bson.RawValue) string {
	switch v.Type {
	case bsontype.String:
		return v.StringValue()
	case bsontype.ObjectID:
		return v.ObjectID().Hex()
	case bsontype.Int32:
		return strconv.FormatInt(int64(v.Int32()), 10)
	case bsontype.Int64:
		return strconv.FormatInt(v.Int64(), 10)
	default:
		return v.String()
	}
}

// numeric returns nil for missing values and for types other than numbers. Booleans
// count as 0 and 1.
func numeric(v bson.RawValue) *float64 {
	var f float64
	switch v.Type {
	case bsontype.Double:
		f = v.Double()
	case bsontype.Int32:
		f = float64(v.Int32())
	case bsontype.Int64:
		f = float64(v.Int64())
	case bsontype.Boolean:
		if v.Boolean() {
			f = 1
		}
	case bsontype.Decimal128:
		parsed, err := strconv.ParseFloat(v.Decimal128().String(), 64)
		if err != nil {
			return nil
		}
		f = parsed
	default:
		return nil
	}
	return &f
}

// Init creates the reviews collection and its index.
func (db *MongoDB) Init() error {
	ctx := context.Background()
	d := db.client.Database(db.dbName)
	collections, err := d.ListCollectionNames(ctx, bson.M{})
	if err != nil {
		return errors.Trace(err)
	}
	if !lo.Contains(collections, db.ReviewsTable()) {
		if err = d.CreateCollection(ctx, db.ReviewsTable()); err != nil {
			return errors.Trace(err)
		}
	}
	_, err = d.Collection(db.ReviewsTable()).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "is_deleted", Value: 1}},
	})
	return errors.Trace(err)
}

func (db *MongoDB) Close() error {
	return db.client.Disconnect(context.Background())
}

func (db *MongoDB) Purge() error {
	_, err := db.client.Database(db.dbName).Collection(db.ReviewsTable()).DeleteMany(context.Background(), bson.M{})
	return errors.Trace(err)
}

func (db *MongoDB) BatchInsertRatings(ctx context.Context, ratings []Rating) error {
	if len(ratings) == 0 {
		return nil
	}
	docs := make([]any, 0, len(ratings))
	for _, r := range ratings {
		doc := bson.M{
			"user_id":    r.UserId,
			"book_id":    r.ItemId,
			"is_deleted": r.IsDeleted,
			"created_at": lo.Ternary(r.Timestamp.IsZero(), time.Now(), r.Timestamp).UTC(),
		}
		if r.Value != nil {
			doc["rating"] = *r.Value
		} else {
			doc["rating"] = nil
		}
		docs = append(docs, doc)
	}
	_, err := db.client.Database(db.dbName).Collection(db.ReviewsTable()).InsertMany(ctx, docs)
	return errors.Trace(err)
}

func (db *MongoDB) ListRatings(ctx context.Context) ([]Rating, error) {
	return db.find(ctx, bson.M{"is_deleted": false})
}

func (db *MongoDB) ListUserRatings(ctx context.Context, userId string) ([]Rating, error) {
	ids := bson.A{userId}
	if oid, err := primitive.ObjectIDFromHex(userId); err == nil {
		ids = append(ids, oid)
	}
	return db.find(ctx, bson.M{"is_deleted": false, "user_id": bson.M{"$in": ids}})
}

func (db *MongoDB) find(ctx context.Context, filter bson.M) ([]Rating, error) {
	c := db.client.Database(db.dbName).Collection(db.ReviewsTable())
	opt := options.Find().SetProjection(bson.M{"_id": 0, "user_id": 1, "book_id": 1, "rating": 1, "is_deleted": 1, "created_at": 1})
	cur, err := c.Find(ctx, filter, opt)
	if err != nil {
		return nil, errors.Trace(err)
	}
	defer cur.Close(ctx)
	var ratings []Rating
	for cur.Next(ctx) {
		var review mongoReview
		if err = cur.Decode(&review); err != nil {
			return nil, errors.Trace(err)
		}
		ratings = append(ratings, review.toRating())
	}
	return ratings, errors.Trace(cur.Err())
}
