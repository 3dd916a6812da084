// Copyright 2026 gorse Project Authors
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

package logics

import (
	"context"
	"time"

	"github.com/gorse-io/mfrec/base/log"
	"github.com/gorse-io/mfrec/config"
	"github.com/gorse-io/mfrec/dataset"
	"github.com/gorse-io/mfrec/model"
	"github.com/gorse-io/mfrec/model/cf"
	"github.com/gorse-io/mfrec/model/codec"
	"github.com/gorse-io/mfrec/storage"
	"github.com/gorse-io/mfrec/storage/data"
	"github.com/gorse-io/mfrec/storage/meta"
	"github.com/gorse-io/mfrec/storage/vectors"
	"github.com/juju/errors"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

const vectorBatchSize = 1000

// TrainResult summarizes a finished training.
type TrainResult struct {
	Kind      string    `json:"kind"`
	Users     int       `json:"users"`
	Items     int       `json:"items"`
	Ratings   int       `json:"ratings"`
	RMSE      float64   `json:"rmse"`
	CreatedAt time.Time `json:"created_at"`
}

// Trainer fits the configured backend on all ratings and persists the result.
type Trainer struct {
	config      *config.Config
	dataStore   data.Database
	metaStore   meta.Database
	vectorStore vectors.Database
}

// NewTrainer creates a trainer. vectorStore is nil if no vector store is configured.
func NewTrainer(cfg *config.Config, dataStore data.Database, metaStore meta.Database, vectorStore vectors.Database) *Trainer {
	return &Trainer{
		config:      cfg,
		dataStore:   dataStore,
		metaStore:   metaStore,
		vectorStore: vectorStore,
	}
}

// Train loads ratings, fits a model and replaces the latest model document. Embeddings
// are then published to the vector store. Failures of the vector store are logged and
// do not fail training since the model document is already saved.
func (t *Trainer) Train(ctx context.Context) (*TrainResult, error) {
	start := time.Now()
	ratings, err := t.dataStore.ListRatings(ctx)
	if err != nil {
		return nil, errors.Trace(err)
	}
	trainSet, err := dataset.Build(ratings)
	if err != nil {
		return nil, errors.Trace(err)
	}
	m, err := NewModel(t.config)
	if err != nil {
		return nil, errors.Trace(err)
	}
	if err = m.Fit(ctx, trainSet, newFitConfig(t.config)); err != nil {
		return nil, errors.Trace(err)
	}

	kind, err := codec.Kind(m)
	if err != nil {
		return nil, errors.Trace(err)
	}
	payload, err := codec.Marshal(m)
	if err != nil {
		return nil, errors.Trace(err)
	}
	doc := &meta.ModelDocument{
		Id:        meta.LatestModelId,
		Kind:      kind,
		Model:     payload,
		UserIds:   trainSet.UserEncoder().Classes(),
		ItemIds:   trainSet.ItemEncoder().Classes(),
		CreatedAt: time.Now().UTC(),
	}
	if err = t.metaStore.SaveModel(ctx, doc); err != nil {
		return nil, errors.Trace(err)
	}

	if t.vectorStore != nil {
		if err = t.publishEmbeddings(ctx, m, trainSet); err != nil {
			log.Logger().Warn("failed to publish embeddings", zap.Error(err))
		}
	}

	result := &TrainResult{
		Kind:      kind,
		Users:     trainSet.CountUsers(),
		Items:     trainSet.CountItems(),
		Ratings:   trainSet.CountRatings(),
		RMSE:      model.RMSE(m, trainSet),
		CreatedAt: doc.CreatedAt,
	}
	if mf, ok := m.(*cf.MatrixFactorization); ok {
		TrainLoss.Set(mf.Loss())
	}
	TrainRMSE.Set(result.RMSE)
	TrainRatings.Set(float64(result.Ratings))
	TrainSeconds.Observe(time.Since(start).Seconds())
	log.Logger().Info("train model complete",
		zap.String("kind", kind),
		zap.Int("n_users", result.Users),
		zap.Int("n_items", result.Items),
		zap.Int("n_ratings", result.Ratings),
		zap.Float64("rmse", result.RMSE),
		zap.Duration("duration", time.Since(start)))
	return result, nil
}

func (t *Trainer) publishEmbeddings(ctx context.Context, m model.Model, trainSet *dataset.Dataset) error {
	prefix := storage.TablePrefix(t.config.Database.TablePrefix)
	users := lo.Map(trainSet.UserEncoder().Classes(), func(id string, i int) vectors.Vector {
		return vectors.Vector{Id: id, Vector: float32s(m.UserEmbedding(int32(i)))}
	})
	items := lo.Map(trainSet.ItemEncoder().Classes(), func(id string, i int) vectors.Vector {
		return vectors.Vector{Id: id, Vector: float32s(m.ItemEmbedding(int32(i)))}
	})
	if err := replaceCollection(ctx, t.vectorStore, prefix.UsersCollection(), users); err != nil {
		return errors.Annotate(err, "users")
	}
	if err := replaceCollection(ctx, t.vectorStore, prefix.ItemsCollection(), items); err != nil {
		return errors.Annotate(err, "items")
	}
	return nil
}

// replaceCollection drops a collection and fills it again with vectors.
func replaceCollection(ctx context.Context, db vectors.Database, name string, vecs []vectors.Vector) error {
	if len(vecs) == 0 {
		return nil
	}
	if err := db.DeleteCollection(ctx, name); err != nil && !errors.Is(err, errors.NotFound) {
		return errors.Trace(err)
	}
	if err := db.AddCollection(ctx, name, len(vecs[0].Vector), vectors.Dot); err != nil {
		return errors.Trace(err)
	}
	for _, chunk := range lo.Chunk(vecs, vectorBatchSize) {
		if err := db.AddVectors(ctx, name, chunk); err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}
