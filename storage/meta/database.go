// Copyright 2024 gorse Project Authors
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

package meta

import (
	"context"
	"strings"
	"time"

	"github.com/gorse-io/mfrec/storage"
	"github.com/juju/errors"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/x/mongo/driver/connstring"
)

// LatestModelId is the only model slot.
const LatestModelId = "latest"

// ModelDocument is the persisted latest model together with the encoders its indices
// refer to.
type ModelDocument struct {
	Id        string    `json:"_id" bson:"_id"`
	Kind      string    `json:"kind" bson:"kind"`
	Model     []byte    `json:"model" bson:"model"`
	UserIds   []string  `json:"user_encoder" bson:"user_encoder"`
	ItemIds   []string  `json:"item_encoder" bson:"item_encoder"`
	CreatedAt time.Time `json:"created_at" bson:"created_at"`
}

// Recommendation is the last recommendation result of a user.
type Recommendation struct {
	UserId    string    `json:"user_id" bson:"user_id"`
	ItemIds   []string  `json:"recommendedItemIds" bson:"recommendedItemIds"`
	UpdatedAt time.Time `json:"updatedAt" bson:"updatedAt"`
}

type Database interface {
	Init() error
	Close() error
	Purge() error
	// SaveModel replaces the latest model document.
	SaveModel(ctx context.Context, doc *ModelDocument) error
	// LoadModel returns the latest model document or a NotFound error.
	LoadModel(ctx context.Context) (*ModelDocument, error)
	// SaveRecommendation upserts the recommendation of a user.
	SaveRecommendation(ctx context.Context, recommendation *Recommendation) error
	// GetRecommendation returns the recommendation of a user or a NotFound error.
	GetRecommendation(ctx context.Context, userId string) (*Recommendation, error)
}

// Open a connection to a database.
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
	} else if strings.HasPrefix(path, storage.RedisPrefix) || strings.HasPrefix(path, storage.RedissPrefix) {
		opt, err := redis.ParseURL(path)
		if err != nil {
			return nil, errors.Trace(err)
		}
		database := new(Redis)
		database.client = redis.NewClient(opt)
		database.TablePrefix = storage.TablePrefix(tablePrefix)
		return database, nil
	}
	return nil, errors.NotSupportedf("meta store %s", path)
}
