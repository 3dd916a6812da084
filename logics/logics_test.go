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
	"fmt"
	"math"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/gorse-io/mfrec/base"
	"github.com/gorse-io/mfrec/config"
	"github.com/gorse-io/mfrec/storage"
	"github.com/gorse-io/mfrec/storage/data"
	"github.com/gorse-io/mfrec/storage/meta"
	"github.com/gorse-io/mfrec/storage/vectors"
	"github.com/juju/errors"
	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/suite"
)

// failingStore answers every lookup with a connection error.
type failingStore struct {
	vectors.Database
	calls atomic.Int32
}

func (s *failingStore) GetVector(_ context.Context, _, _ string) (*vectors.Vector, error) {
	s.calls.Add(1)
	return nil, errors.New("connection refused")
}

// invalidatingStore calls invalidate after each model is read, as if a training
// finished while the model was being decoded.
type invalidatingStore struct {
	meta.Database
	invalidate func()
}

func (s *invalidatingStore) LoadModel(ctx context.Context) (*meta.ModelDocument, error) {
	doc, err := s.Database.LoadModel(ctx)
	if s.invalidate != nil {
		s.invalidate()
	}
	return doc, err
}

type LogicsTestSuite struct {
	suite.Suite
	config      *config.Config
	dataStore   data.Database
	metaStore   meta.Database
	vectorStore *vectors.Memory
	rated       map[string]mapset.Set[string]
}

func (suite *LogicsTestSuite) SetupTest() {
	var err error
	dir := suite.T().TempDir()
	suite.dataStore, err = data.Open(storage.SQLitePrefix+filepath.Join(dir, "data.db"), "mfrec_")
	suite.NoError(err)
	suite.NoError(suite.dataStore.Init())
	suite.metaStore, err = meta.Open(storage.SQLitePrefix+filepath.Join(dir, "meta.db"), "mfrec_")
	suite.NoError(err)
	suite.NoError(suite.metaStore.Init())
	suite.vectorStore = vectors.NewMemory()

	suite.config = config.GetDefaultConfig()
	suite.config.Database.TablePrefix = "mfrec_"
	suite.config.Model.NFactors = 4
	suite.config.Model.NEpochs = 20
	suite.config.Model.Lr = 0.05
	suite.config.Recommend.TopK = 5
	suite.config.SVD.MaxRank = 4

	// about half of a 20 × 15 rating matrix
	rng := base.NewRandomGenerator(0)
	suite.rated = make(map[string]mapset.Set[string])
	var ratings []data.Rating
	for u := 0; u < 20; u++ {
		userId := fmt.Sprintf("u%02d", u)
		suite.rated[userId] = mapset.NewSet[string]()
		for i := 0; i < 15; i++ {
			if rng.Float64() < 0.5 || i == u%15 {
				itemId := fmt.Sprintf("b%02d", i)
				ratings = append(ratings, data.NewRating(userId, itemId, float64(rng.Intn(5)+1)))
				suite.rated[userId].Add(itemId)
			}
		}
	}
	suite.NoError(suite.dataStore.BatchInsertRatings(context.Background(), ratings))
}

func (suite *LogicsTestSuite) TearDownTest() {
	suite.NoError(suite.dataStore.Close())
	suite.NoError(suite.metaStore.Close())
}

func (suite *LogicsTestSuite) train(vectorStore vectors.Database) *TrainResult {
	result, err := NewTrainer(suite.config, suite.dataStore, suite.metaStore, vectorStore).Train(context.Background())
	suite.NoError(err)
	return result
}

func (suite *LogicsTestSuite) TestTrain() {
	ctx := context.Background()
	result := suite.train(suite.vectorStore)
	suite.Equal("mf", result.Kind)
	suite.Equal(20, result.Users)
	suite.Equal(15, result.Items)
	suite.False(math.IsNaN(result.RMSE))

	doc, err := suite.metaStore.LoadModel(ctx)
	suite.NoError(err)
	suite.Equal(meta.LatestModelId, doc.Id)
	suite.Equal("mf", doc.Kind)
	suite.Len(doc.UserIds, 20)
	suite.Len(doc.ItemIds, 15)
	suite.NotEmpty(doc.Model)

	collections, err := suite.vectorStore.ListCollections(ctx)
	suite.NoError(err)
	suite.Equal([]string{"mfrec_items", "mfrec_users"}, collections)
	user, err := suite.vectorStore.GetVector(ctx, "mfrec_users", "u03")
	suite.NoError(err)
	suite.Len(user.Vector, 4)

	// training again replaces collections
	suite.train(suite.vectorStore)
	collections, err = suite.vectorStore.ListCollections(ctx)
	suite.NoError(err)
	suite.Len(collections, 2)
}

func (suite *LogicsTestSuite) TestTrainEmpty() {
	suite.NoError(suite.dataStore.Purge())
	_, err := NewTrainer(suite.config, suite.dataStore, suite.metaStore, nil).Train(context.Background())
	suite.True(errors.Is(err, errors.NotFound))
}

func (suite *LogicsTestSuite) TestRecommendVectors() {
	ctx := context.Background()
	suite.train(suite.vectorStore)
	recommender := NewRecommender(suite.config, suite.dataStore, suite.metaStore, suite.vectorStore)
	for userId, rated := range suite.rated {
		result, err := recommender.Recommend(ctx, userId)
		suite.NoError(err)
		suite.Equal(BackendVectorStore, result.Backend)
		suite.Empty(result.Warning)
		suite.NotEmpty(result.ItemIds)
		suite.LessOrEqual(len(result.ItemIds), 5)
		for _, itemId := range result.ItemIds {
			suite.False(rated.Contains(itemId), "%s rated %s", userId, itemId)
		}
		saved, err := suite.metaStore.GetRecommendation(ctx, userId)
		suite.NoError(err)
		suite.Equal(result.ItemIds, saved.ItemIds)
	}
}

func (suite *LogicsTestSuite) TestRecommendVectorsNewRating() {
	ctx := context.Background()
	suite.config.Recommend.TopK = 15
	suite.train(suite.vectorStore)
	recommender := NewRecommender(suite.config, suite.dataStore, suite.metaStore, suite.vectorStore)
	unrated := mapset.NewSet[string]()
	for i := 0; i < 15; i++ {
		if itemId := fmt.Sprintf("b%02d", i); !suite.rated["u00"].Contains(itemId) {
			unrated.Add(itemId)
		}
	}
	suite.False(unrated.IsEmpty())
	result, err := recommender.Recommend(ctx, "u00")
	suite.NoError(err)
	suite.Equal(BackendVectorStore, result.Backend)
	suite.ElementsMatch(unrated.ToSlice(), result.ItemIds)

	// ratings after training are excluded without retraining
	itemId, _ := unrated.Pop()
	suite.NoError(suite.dataStore.BatchInsertRatings(ctx, []data.Rating{data.NewRating("u00", itemId, 4)}))
	result, err = recommender.Recommend(ctx, "u00")
	suite.NoError(err)
	suite.Equal(BackendVectorStore, result.Backend)
	suite.NotContains(result.ItemIds, itemId)
	suite.ElementsMatch(unrated.ToSlice(), result.ItemIds)
}

func (suite *LogicsTestSuite) TestRecommendModel() {
	ctx := context.Background()
	suite.train(nil)
	recommender := NewRecommender(suite.config, suite.dataStore, suite.metaStore, nil)
	result, err := recommender.Recommend(ctx, "u00")
	suite.NoError(err)
	suite.Equal(BackendModel, result.Backend)
	suite.Empty(result.Warning)
	suite.Len(result.ItemIds, min(5, 15-suite.rated["u00"].Cardinality()))
	for _, itemId := range result.ItemIds {
		suite.False(suite.rated["u00"].Contains(itemId))
	}
}

func (suite *LogicsTestSuite) TestFallback() {
	ctx := context.Background()
	suite.train(nil)
	store := new(failingStore)
	fallback, err := NewRecommender(suite.config, suite.dataStore, suite.metaStore, store).Recommend(ctx, "u01")
	suite.NoError(err)
	suite.Equal(BackendModel, fallback.Backend)
	suite.Contains(fallback.Warning, "connection refused")

	// same result as the model alone
	expected, err := NewRecommender(suite.config, suite.dataStore, suite.metaStore, nil).Recommend(ctx, "u01")
	suite.NoError(err)
	suite.Equal(expected.ItemIds, fallback.ItemIds)
}

func (suite *LogicsTestSuite) TestFallbackMissingEmbedding() {
	ctx := context.Background()
	// the vector store is empty
	suite.train(nil)
	recommender := NewRecommender(suite.config, suite.dataStore, suite.metaStore, suite.vectorStore)
	for i := 0; i < 10; i++ {
		result, err := recommender.Recommend(ctx, "u02")
		suite.NoError(err)
		suite.Equal(BackendModel, result.Backend)
		suite.NotEmpty(result.Warning)
		suite.NotEmpty(result.ItemIds)
	}
	// not found is not a failure of the store
	suite.Equal(gobreaker.StateClosed, recommender.BreakerState())
}

func (suite *LogicsTestSuite) TestBreaker() {
	ctx := context.Background()
	suite.config.Recommend.BreakerFailures = 2
	suite.config.Recommend.BreakerTimeout = time.Hour
	suite.train(nil)
	store := new(failingStore)
	recommender := NewRecommender(suite.config, suite.dataStore, suite.metaStore, store)
	for i := 0; i < 5; i++ {
		result, err := recommender.Recommend(ctx, "u04")
		suite.NoError(err)
		suite.Equal(BackendModel, result.Backend)
		suite.NotEmpty(result.ItemIds)
	}
	suite.Equal(gobreaker.StateOpen, recommender.BreakerState())
	suite.Equal(int32(2), store.calls.Load())
}

func (suite *LogicsTestSuite) TestUnknownUser() {
	ctx := context.Background()
	suite.train(suite.vectorStore)
	recommender := NewRecommender(suite.config, suite.dataStore, suite.metaStore, suite.vectorStore)
	result, err := recommender.Recommend(ctx, "stranger")
	suite.NoError(err)
	suite.Empty(result.ItemIds)
	suite.Empty(result.Warning)
	saved, err := suite.metaStore.GetRecommendation(ctx, "stranger")
	suite.NoError(err)
	suite.Empty(saved.ItemIds)
}

func (suite *LogicsTestSuite) TestNoModel() {
	recommender := NewRecommender(suite.config, suite.dataStore, suite.metaStore, nil)
	_, err := recommender.Recommend(context.Background(), "u00")
	suite.True(errors.Is(err, errors.NotFound))
}

func (suite *LogicsTestSuite) TestInvalidate() {
	ctx := context.Background()
	suite.train(nil)
	recommender := NewRecommender(suite.config, suite.dataStore, suite.metaStore, nil)
	result, err := recommender.Recommend(ctx, "newcomer")
	suite.NoError(err)
	suite.Empty(result.ItemIds)

	suite.NoError(suite.dataStore.BatchInsertRatings(ctx, []data.Rating{
		data.NewRating("newcomer", "b00", 5),
		data.NewRating("newcomer", "b01", 1),
	}))
	suite.train(nil)
	// the cached model does not know the newcomer
	result, err = recommender.Recommend(ctx, "newcomer")
	suite.NoError(err)
	suite.Empty(result.ItemIds)

	recommender.Invalidate()
	result, err = recommender.Recommend(ctx, "newcomer")
	suite.NoError(err)
	suite.Len(result.ItemIds, 5)
	suite.NotContains(result.ItemIds, "b00")
	suite.NotContains(result.ItemIds, "b01")
}

func (suite *LogicsTestSuite) TestInvalidateWhileLoading() {
	ctx := context.Background()
	suite.train(nil)
	store := &invalidatingStore{Database: suite.metaStore}
	recommender := NewRecommender(suite.config, suite.dataStore, store, nil)
	store.invalidate = recommender.Invalidate
	_, err := recommender.Recommend(ctx, "u00")
	suite.NoError(err)
	// the model read before invalidation is not cached
	suite.Zero(recommender.models.Len())

	store.invalidate = nil
	_, err = recommender.Recommend(ctx, "u00")
	suite.NoError(err)
	suite.Equal(1, recommender.models.Len())
}

func (suite *LogicsTestSuite) TestSVD() {
	ctx := context.Background()
	suite.config.Model.Backend = config.BackendSVD
	result := suite.train(suite.vectorStore)
	suite.Equal("svd", result.Kind)
	user, err := suite.vectorStore.GetVector(ctx, "mfrec_users", "u05")
	suite.NoError(err)
	suite.Len(user.Vector, 4)

	recommender := NewRecommender(suite.config, suite.dataStore, suite.metaStore, nil)
	recommendation, err := recommender.Recommend(ctx, "u05")
	suite.NoError(err)
	suite.NotEmpty(recommendation.ItemIds)
	for _, itemId := range recommendation.ItemIds {
		suite.False(suite.rated["u05"].Contains(itemId))
	}
}

func (suite *LogicsTestSuite) TestEvaluate() {
	result, err := Evaluate(context.Background(), suite.config, suite.dataStore)
	suite.NoError(err)
	total := 0
	for _, rated := range suite.rated {
		total += rated.Cardinality()
	}
	suite.Equal(total, result.TrainSize+result.TestSize)
	suite.Positive(result.TestSize)
	suite.False(math.IsNaN(result.RMSE))
	suite.GreaterOrEqual(result.RMSE, 0.0)
}

func (suite *LogicsTestSuite) TestUnsupportedBackend() {
	suite.config.Model.Backend = "als"
	_, err := NewModel(suite.config)
	suite.True(errors.Is(err, errors.NotSupported))
}

func TestLogics(t *testing.T) {
	suite.Run(t, new(LogicsTestSuite))
}
