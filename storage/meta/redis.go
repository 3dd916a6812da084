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

	"github.com/goccy/go-json"
	"github.com/gorse-io/mfrec/storage"
	"github.com/juju/errors"
	"github.com/redis/go-redis/v9"
)

// Redis keeps the model as a JSON string and results in a hash keyed by user id.
type Redis struct {
	storage.TablePrefix
	client *redis.Client
}

func (r *Redis) modelKey() string {
	return r.ModelsTable() + ":" + LatestModelId
}

// Init nothing.
func (r *Redis) Init() error {
	return nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}

func (r *Redis) Purge() error {
	return errors.Trace(r.client.Del(context.Background(), r.modelKey(), r.RecommendationsTable()).Err())
}

func (r *Redis) SaveModel(ctx context.Context, doc *ModelDocument) error {
	saved := *doc
	saved.Id = LatestModelId
	saved.CreatedAt = doc.CreatedAt.UTC()
	data, err := json.Marshal(saved)
	if err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(r.client.Set(ctx, r.modelKey(), data, 0).Err())
}

func (r *Redis) LoadModel(ctx context.Context) (*ModelDocument, error) {
	data, err := r.client.Get(ctx, r.modelKey()).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, errors.NotFoundf("model %s", LatestModelId)
		}
		return nil, errors.Trace(err)
	}
	var doc ModelDocument
	if err = json.Unmarshal(data, &doc); err != nil {
		return nil, errors.Trace(err)
	}
	return &doc, nil
}

func (r *Redis) SaveRecommendation(ctx context.Context, recommendation *Recommendation) error {
	saved := *recommendation
	saved.UpdatedAt = recommendation.UpdatedAt.UTC()
	data, err := json.Marshal(saved)
	if err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(r.client.HSet(ctx, r.RecommendationsTable(), recommendation.UserId, data).Err())
}

func (r *Redis) GetRecommendation(ctx context.Context, userId string) (*Recommendation, error) {
	data, err := r.client.HGet(ctx, r.RecommendationsTable(), userId).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, errors.NotFoundf("recommendation for %s", userId)
		}
		return nil, errors.Trace(err)
	}
	var recommendation Recommendation
	if err = json.Unmarshal(data, &recommendation); err != nil {
		return nil, errors.Trace(err)
	}
	return &recommendation, nil
}
