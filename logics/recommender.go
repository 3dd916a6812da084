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
	"sort"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/gorse-io/mfrec/base/log"
	"github.com/gorse-io/mfrec/config"
	"github.com/gorse-io/mfrec/dataset"
	"github.com/gorse-io/mfrec/model"
	"github.com/gorse-io/mfrec/model/codec"
	"github.com/gorse-io/mfrec/storage"
	"github.com/gorse-io/mfrec/storage/data"
	"github.com/gorse-io/mfrec/storage/meta"
	"github.com/gorse-io/mfrec/storage/vectors"
	"github.com/jellydator/ttlcache/v3"
	"github.com/juju/errors"
	"github.com/samber/lo"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
)

const (
	BackendVectorStore = "vector_store"
	BackendModel       = "model"
)

// Result is the recommendation returned to callers.
type Result struct {
	ItemIds []string `json:"recommendedItemIds"`
	Warning string   `json:"warning,omitempty"`
	Backend string   `json:"backend,omitempty"`
}

// servingModel is a decoded model together with the ratings it was re-hydrated with.
// It is shared between requests and never mutated.
type servingModel struct {
	model    model.Model
	trainSet *dataset.Dataset
}

// Recommender serves top-K recommendations. The vector store is queried first and the
// model scores all unrated items if the vector store cannot answer.
type Recommender struct {
	config      *config.Config
	dataStore   data.Database
	metaStore   meta.Database
	vectorStore vectors.Database
	models      *ttlcache.Cache[string, *servingModel]
	breaker     *gobreaker.CircuitBreaker[[]string]

	// generation is bumped by Invalidate. Models loaded in an older generation are not
	// cached.
	generation   uint64
	generationMu sync.Mutex
}

// NewRecommender creates a recommender. vectorStore is nil if no vector store is
// configured.
func NewRecommender(cfg *config.Config, dataStore data.Database, metaStore meta.Database, vectorStore vectors.Database) *Recommender {
	r := &Recommender{
		config:      cfg,
		dataStore:   dataStore,
		metaStore:   metaStore,
		vectorStore: vectorStore,
		models: ttlcache.New[string, *servingModel](
			ttlcache.WithTTL[string, *servingModel](cfg.Recommend.CacheTTL),
			ttlcache.WithDisableTouchOnHit[string, *servingModel](),
		),
	}
	failures := max(cfg.Recommend.BreakerFailures, 1)
	r.breaker = gobreaker.NewCircuitBreaker[[]string](gobreaker.Settings{
		Name:        "vector-store",
		MaxRequests: 1,
		Timeout:     cfg.Recommend.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Logger().Info("circuit breaker state changed",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
			VectorStoreBreakerState.Set(float64(to))
		},
		// a missing embedding is an answer, not a failure of the store
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, errors.NotFound)
		},
	})
	return r
}

// Invalidate drops the cached model so that the next request loads the latest one.
func (r *Recommender) Invalidate() {
	r.generationMu.Lock()
	defer r.generationMu.Unlock()
	r.generation++
	r.models.DeleteAll()
}

// BreakerState returns the state of the circuit breaker around the vector store.
func (r *Recommender) BreakerState() gobreaker.State {
	return r.breaker.State()
}

func (r *Recommender) loadModel(ctx context.Context) (*servingModel, error) {
	if r.config.Recommend.CacheTTL > 0 {
		if item := r.models.Get(meta.LatestModelId); item != nil {
			return item.Value(), nil
		}
	}
	r.generationMu.Lock()
	generation := r.generation
	r.generationMu.Unlock()
	doc, err := r.metaStore.LoadModel(ctx)
	if err != nil {
		return nil, errors.Trace(err)
	}
	ratings, err := r.dataStore.ListRatings(ctx)
	if err != nil {
		return nil, errors.Trace(err)
	}
	trainSet := dataset.BuildWithEncoders(ratings, dataset.NewEncoder(doc.UserIds...), dataset.NewEncoder(doc.ItemIds...))
	m, err := codec.Unmarshal(doc.Model, trainSet)
	if err != nil {
		return nil, errors.Annotatef(err, "model %s", doc.Id)
	}
	log.Logger().Debug("load model",
		zap.String("kind", doc.Kind),
		zap.Time("created_at", doc.CreatedAt),
		zap.Int("n_ratings", trainSet.CountRatings()))
	sm := &servingModel{model: m, trainSet: trainSet}
	if r.config.Recommend.CacheTTL > 0 {
		r.generationMu.Lock()
		if generation == r.generation {
			r.models.Set(meta.LatestModelId, sm, ttlcache.DefaultTTL)
		}
		r.generationMu.Unlock()
	}
	return sm, nil
}

// Recommend returns at most K unrated items for a user and saves them as the latest
// recommendation of the user. Unknown users get an empty list.
func (r *Recommender) Recommend(ctx context.Context, userId string) (*Result, error) {
	start := time.Now()
	sm, err := r.loadModel(ctx)
	if err != nil {
		return nil, errors.Trace(err)
	}
	result := &Result{ItemIds: []string{}}
	userIndex := sm.trainSet.UserEncoder().Index(userId)
	if userIndex < 0 {
		log.Logger().Debug("recommend for unknown user", zap.String("user_id", userId))
	} else if r.vectorStore == nil {
		result.ItemIds = r.recommendModel(sm, userIndex)
		result.Backend = BackendModel
	} else {
		userRatings, err := r.dataStore.ListUserRatings(ctx, userId)
		if err != nil {
			return nil, errors.Trace(err)
		}
		rated := mapset.NewThreadUnsafeSet(lo.Map(userRatings, func(rating data.Rating, _ int) string {
			return rating.ItemId
		})...)
		if itemIds, err := r.recommendVectors(ctx, userId, rated); err == nil {
			result.ItemIds = itemIds
			result.Backend = BackendVectorStore
		} else {
			reason := FallbackReasonUnavailable
			if errors.Is(err, errors.NotFound) {
				reason = FallbackReasonNotFound
			}
			log.Logger().Warn("fallback to model",
				zap.String("user_id", userId),
				zap.String("reason", reason),
				zap.Error(err))
			FallbackTotal.WithLabelValues(reason).Inc()
			result.Warning = err.Error()
			result.ItemIds = r.recommendModel(sm, userIndex)
			result.Backend = BackendModel
		}
	}
	if err = r.metaStore.SaveRecommendation(ctx, &meta.Recommendation{
		UserId:    userId,
		ItemIds:   result.ItemIds,
		UpdatedAt: time.Now().UTC(),
	}); err != nil {
		return nil, errors.Trace(err)
	}
	RecommendSeconds.Observe(time.Since(start).Seconds())
	return result, nil
}

// recommendVectors searches items near the user embedding. It returns a NotFound error
// if the user has no embedding or no unrated item is found.
func (r *Recommender) recommendVectors(ctx context.Context, userId string, rated mapset.Set[string]) ([]string, error) {
	prefix := storage.TablePrefix(r.config.Database.TablePrefix)
	topK := r.config.Recommend.TopK
	return r.breaker.Execute(func() ([]string, error) {
		user, err := r.vectorStore.GetVector(ctx, prefix.UsersCollection(), userId)
		if err != nil {
			return nil, errors.Trace(err)
		}
		neighbors, err := r.vectorStore.QueryVectors(ctx, prefix.ItemsCollection(), user.Vector, topK+rated.Cardinality())
		if err != nil {
			return nil, errors.Trace(err)
		}
		itemIds := lo.FilterMap(neighbors, func(v vectors.Vector, _ int) (string, bool) {
			return v.Id, !rated.Contains(v.Id)
		})
		if len(itemIds) == 0 {
			return nil, errors.NotFoundf("neighbors of user %s", userId)
		}
		if len(itemIds) > topK {
			itemIds = itemIds[:topK]
		}
		return itemIds, nil
	})
}

// recommendModel ranks the unrated items of a user by predicted score.
func (r *Recommender) recommendModel(sm *servingModel, userIndex int32) []string {
	predictions := sm.model.PredictAll(userIndex)
	sort.SliceStable(predictions, func(i, j int) bool {
		return predictions[i].Score > predictions[j].Score
	})
	if len(predictions) > r.config.Recommend.TopK {
		predictions = predictions[:r.config.Recommend.TopK]
	}
	itemIds := make([]string, 0, len(predictions))
	for _, p := range predictions {
		if itemId, ok := sm.trainSet.ItemEncoder().Id(p.ItemIndex); ok {
			itemIds = append(itemIds, itemId)
		}
	}
	return itemIds
}
