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

package vectors

import (
	"context"
	"os"
	"testing"

	"github.com/gorse-io/mfrec/storage"
	"github.com/juju/errors"
	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
)

var (
	milvusUri   string
	qdrantUri   string
	weaviateUri string
)

func init() {
	// get environment variables
	env := func(key, defaultValue string) string {
		if value := os.Getenv(key); value != "" {
			return value
		}
		return defaultValue
	}
	milvusUri = env("MILVUS_URI", "")
	qdrantUri = env("QDRANT_URI", "")
	weaviateUri = env("WEAVIATE_URI", "")
}

type vectorsTestSuite struct {
	suite.Suite
	Database
	uri string
}

func (suite *vectorsTestSuite) SetupSuite() {
	var err error
	suite.Database, err = Open(suite.uri, "mfrec_")
	suite.NoError(err)
	err = suite.Database.Init()
	suite.NoError(err)
}

func (suite *vectorsTestSuite) TearDownSuite() {
	err := suite.Database.Close()
	suite.NoError(err)
}

func (suite *vectorsTestSuite) SetupTest() {
	// purge
	ctx := context.Background()
	collections, err := suite.Database.ListCollections(ctx)
	suite.NoError(err)
	for _, collection := range collections {
		err = suite.Database.DeleteCollection(ctx, collection)
		suite.NoError(err)
	}
}

func (suite *vectorsTestSuite) TestCollections() {
	ctx := context.Background()
	// list collections
	collections, err := suite.Database.ListCollections(ctx)
	suite.NoError(err)
	suite.Empty(collections)
	// create collection
	err = suite.Database.AddCollection(ctx, "test", 3, Dot)
	suite.NoError(err)
	// list collections
	collections, err = suite.Database.ListCollections(ctx)
	suite.NoError(err)
	suite.Equal([]string{"test"}, collections)
	// delete collection
	err = suite.Database.DeleteCollection(ctx, "test")
	suite.NoError(err)
	// list collections
	collections, err = suite.Database.ListCollections(ctx)
	suite.NoError(err)
	suite.Empty(collections)
	// delete non-existent collection
	err = suite.Database.DeleteCollection(ctx, "non-existent")
	suite.True(errors.Is(err, errors.NotFound))
}

func (suite *vectorsTestSuite) TestVectors() {
	ctx := context.Background()
	err := suite.Database.AddCollection(ctx, "items", 2, Dot)
	suite.NoError(err)
	err = suite.Database.AddVectors(ctx, "items", []Vector{
		{Id: "b1", Vector: []float32{1, 0}},
		{Id: "b2", Vector: []float32{0, 1}},
		{Id: "b3", Vector: []float32{2, 2}},
		{Id: "b4", Vector: []float32{-1, -1}},
	})
	suite.NoError(err)
	// upsert
	err = suite.Database.AddVectors(ctx, "items", []Vector{{Id: "b2", Vector: []float32{0, 3}}})
	suite.NoError(err)

	v, err := suite.Database.GetVector(ctx, "items", "b2")
	suite.NoError(err)
	suite.Equal("b2", v.Id)
	suite.Equal([]float32{0, 3}, v.Vector)
	_, err = suite.Database.GetVector(ctx, "items", "b9")
	suite.True(errors.Is(err, errors.NotFound))

	// q·b2 = 3, q·b3 = 2, q·b1 = 0, q·b4 = -1
	results, err := suite.Database.QueryVectors(ctx, "items", []float32{0, 1}, 3)
	suite.NoError(err)
	suite.Equal([]string{"b2", "b3", "b1"}, lo.Map(results, func(v Vector, _ int) string { return v.Id }))
	results, err = suite.Database.QueryVectors(ctx, "items", []float32{0, 1}, 0)
	suite.NoError(err)
	suite.Empty(results)
}

func TestMemory(t *testing.T) {
	suite.Run(t, &vectorsTestSuite{uri: storage.MemoryPrefix})
}

func TestMilvus(t *testing.T) {
	if milvusUri == "" {
		t.Skip("MILVUS_URI is not set")
	}
	suite.Run(t, &vectorsTestSuite{uri: milvusUri})
}

func TestQdrant(t *testing.T) {
	if qdrantUri == "" {
		t.Skip("QDRANT_URI is not set")
	}
	suite.Run(t, &vectorsTestSuite{uri: qdrantUri})
}

func TestWeaviate(t *testing.T) {
	if weaviateUri == "" {
		t.Skip("WEAVIATE_URI is not set")
	}
	suite.Run(t, &vectorsTestSuite{uri: weaviateUri})
}

func TestMemorySimilarity(t *testing.T) {
	assert.Equal(t, float32(11), similarity(Dot, []float32{1, 2}, []float32{3, 4}))
	assert.Equal(t, float32(-8), similarity(Euclidean, []float32{1, 2}, []float32{3, 4}))
	assert.InDelta(t, 1, similarity(Cosine, []float32{1, 2}, []float32{2, 4}), 1e-6)
	assert.Zero(t, similarity(Cosine, []float32{0, 0}, []float32{2, 4}))
}

func TestMemoryDimensions(t *testing.T) {
	ctx := context.Background()
	db := NewMemory()
	assert.NoError(t, db.AddCollection(ctx, "users", 2, Cosine))
	assert.True(t, errors.Is(db.AddCollection(ctx, "users", 2, Cosine), errors.AlreadyExists))
	assert.True(t, errors.Is(db.AddVectors(ctx, "users", []Vector{{Id: "u1", Vector: []float32{1}}}), errors.NotValid))
	_, err := db.QueryVectors(ctx, "users", []float32{1, 2, 3}, 1)
	assert.True(t, errors.Is(err, errors.NotValid))
	_, err = db.GetVector(ctx, "items", "b1")
	assert.True(t, errors.Is(err, errors.NotFound))
}

func TestOpenUnsupported(t *testing.T) {
	_, err := Open("faiss://127.0.0.1", "")
	assert.True(t, errors.Is(err, errors.NotSupported))
}
