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

	"github.com/gorse-io/mfrec/storage"
	"github.com/juju/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoDB keeps the model in recommendation_matrices and results in recommendations.
type MongoDB struct {
	storage.TablePrefix
	client *mongo.Client
	dbName string
}

func (m *MongoDB) Init() error {
	ctx := context.Background()
	d := m.client.Database(m.dbName)
	// list collections
	var (
		hasModels          bool
		hasRecommendations bool
	)
	collections, err := d.ListCollectionNames(ctx, bson.M{})
	if err != nil {
		return errors.Trace(err)
	}
	for _, collectionName := range collections {
		switch collectionName {
		case m.ModelsTable():
			hasModels = true
		case m.RecommendationsTable():
			hasRecommendations = true
		}
	}
	// create collections
	if !hasModels {
		if err = d.CreateCollection(ctx, m.ModelsTable()); err != nil {
			return errors.Trace(err)
		}
	}
	if !hasRecommendations {
		if err = d.CreateCollection(ctx, m.RecommendationsTable()); err != nil {
			return errors.Trace(err)
		}
	}
	// create index
	_, err = d.Collection(m.RecommendationsTable()).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "user_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	return errors.Trace(err)
}

func (m *MongoDB) Close() error {
	return m.client.Disconnect(context.Background())
}

func (m *MongoDB) Purge() error {
	ctx := context.Background()
	for _, name := range []string{m.ModelsTable(), m.RecommendationsTable()} {
		if _, err := m.client.Database(m.dbName).Collection(name).DeleteMany(ctx, bson.M{}); err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}

func (m *MongoDB) SaveModel(ctx context.Context, doc *ModelDocument) error {
	c := m.client.Database(m.dbName).Collection(m.ModelsTable())
	_, err := c.ReplaceOne(ctx, bson.M{"_id": LatestModelId}, ModelDocument{
		Id:        LatestModelId,
		Kind:      doc.Kind,
		Model:     doc.Model,
		UserIds:   doc.UserIds,
		ItemIds:   doc.ItemIds,
		CreatedAt: doc.CreatedAt.UTC(),
	}, options.Replace().SetUpsert(true))
	return errors.Trace(err)
}

func (m *MongoDB) LoadModel(ctx context.Context) (*ModelDocument, error) {
	c := m.client.Database(m.dbName).Collection(m.ModelsTable())
	var doc ModelDocument
	if err := c.FindOne(ctx, bson.M{"_id": LatestModelId}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, errors.NotFoundf("model %s", LatestModelId)
		}
		return nil, errors.Trace(err)
	}
	doc.CreatedAt = doc.CreatedAt.UTC()
	return &doc, nil
}

func (m *MongoDB) SaveRecommendation(ctx context.Context, recommendation *Recommendation) error {
	c := m.client.Database(m.dbName).Collection(m.RecommendationsTable())
	_, err := c.UpdateOne(ctx, bson.M{"user_id": recommendation.UserId}, bson.M{
		"$set": bson.M{
			"recommendedItemIds": recommendation.ItemIds,
			"updatedAt":          recommendation.UpdatedAt.UTC(),
		},
	}, options.Update().SetUpsert(true))
	return errors.Trace(err)
}

func (m *MongoDB) GetRecommendation(ctx context.Context, userId string) (*Recommendation, error) {
	c := m.client.Database(m.dbName).Collection(m.RecommendationsTable())
	var recommendation Recommendation
	if err := c.FindOne(ctx, bson.M{"user_id": userId}).Decode(&recommendation); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, errors.NotFoundf("recommendation for %s", userId)
		}
		return nil, errors.Trace(err)
	}
	recommendation.UpdatedAt = recommendation.UpdatedAt.UTC()
	return &recommendation, nil
}
