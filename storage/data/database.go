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
	"strings"
	"time"

	"github.com/gorse-io/mfrec/storage"
	"github.com/juju/errors"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/x/mongo/driver/connstring"
)

// Rating is a review record as stored. Value is nil when the stored rating is missing
// or not a number.
type Rating struct {
	UserId    string
	ItemId    string
	Value     *float64
	IsDeleted bool
	Timestamp time.Time
}

// NewRating creates a non-deleted rating with a numeric value.
func NewRating(userId, itemId string, value float64) Rating {
	return Rating{UserId: userId, ItemId: itemId, Value: &value}
}

// Database is the read side of the ratings store plus the bootstrap operations needed
// to seed it.
type Database interface {
	Init() error
	Close() error
	Purge() error
	BatchInsertRatings(ctx context.Context, ratings []Rating) error
	// ListRatings returns all ratings that are not deleted.
	ListRatings(ctx context.Context) ([]Rating, error)
	// ListUserRatings returns the ratings of a user that are not deleted.
	ListUserRatings(ctx context.Context, userId string) ([]Rating, error)
}

// Open a connection to a ratings store.
func Open(path, tablePrefix string, opts ...storage.Option) (Database, error) {
	if storage.IsSQL(path) {
		gormDB, _, err := storage.OpenGORM(path, tablePrefix, opts...)
		if err != nil {
			return nil, errors.Trace(err)
		}
		return &SQLDatabase{
			TablePrefix: storage.TablePrefix(tablePrefix),
			gormDB:      gormDB,
		}, nil
	} else if strings.HasPrefix(path, storage.MongoPrefix) || strings.HasPrefix(path, storage.MongoSrvPrefix) {
		database := new(MongoDB)
		var err error
		if database.client, err = mongo.Connect(context.Background(), options.Client().ApplyURI(path)); err != nil {
			return nil, errors.Trace(err)
		}
		// parse DSN and extract database name
		cs, err := connstring.ParseAndValidate(path)
		if err != nil {
			return nil, errors.Trace(err)
		}
		database.dbName = cs.Database
		database.TablePrefix = storage.TablePrefix(tablePrefix)
		return database, nil
	}
	return nil, errors.NotSupportedf("ratings store %s", path)
}
