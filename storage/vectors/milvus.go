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
	"fmt"
	"net/url"
	"strconv"

	"github.com/gorse-io/mfrec/storage"
	"github.com/juju/errors"
	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
)

const (
	milvusIdField     = "id"
	milvusVectorField = "vector"
)

func init() {
	Register([]string{storage.MilvusPrefix}, func(path, tablePrefix string, opts ...storage.Option) (Database, error) {
		database := new(Milvus)
		u, err := url.Parse(path)
		if err != nil {
			return nil, errors.Trace(err)
		}
		database.client, err = client.NewClient(context.Background(), client.Config{
			Address: u.Host,
		})
		if err != nil {
			return nil, errors.Trace(err)
		}
		return database, nil
	})
}

type Milvus struct {
	client client.Client
}

func (db *Milvus) Init() error {
	return nil
}

func (db *Milvus) Close() error {
	return db.client.Close()
}

func (db *Milvus) ListCollections(ctx context.Context) ([]string, error) {
	collections, err := db.client.ListCollections(ctx)
	if err != nil {
		return nil, errors.Trace(err)
	}
	var names []string
	for _, collection := range collections {
		names = append(names, collection.Name)
	}
	return names, nil
}

func milvusMetricType(distance Distance) (entity.MetricType, error) {
	switch distance {
	case Cosine:
		return entity.COSINE, nil
	case Euclidean:
		return entity.L2, nil
	case Dot:
		return entity.IP, nil
	default:
		return "", errors.NotSupportedf("distance method")
	}
}

func (db *Milvus) AddCollection(ctx context.Context, name string, dimensions int, distance Distance) error {
	metricType, err := milvusMetricType(distance)
	if err != nil {
		return errors.Trace(err)
	}
	schema := entity.NewSchema().WithName(name).WithDescription("mfrec embeddings").
		WithField(entity.NewField().WithName(milvusIdField).WithDataType(entity.FieldTypeVarChar).WithMaxLength(65535).WithIsPrimaryKey(true)).
		WithField(entity.NewField().WithName(milvusVectorField).WithDataType(entity.FieldTypeFloatVector).WithDim(int64(dimensions)))
	if err = db.client.CreateCollection(ctx, schema, entity.DefaultShardNumber); err != nil {
		return errors.Trace(err)
	}

	// Create index
	idx, err := entity.NewIndexHNSW(metricType, 8, 200)
	if err != nil {
		return errors.Trace(err)
	}
	if err = db.client.CreateIndex(ctx, name, milvusVectorField, idx, false); err != nil {
		return errors.Trace(err)
	}

	// Load collection
	err = db.client.LoadCollection(ctx, name, false)
	return errors.Trace(err)
}

func (db *Milvus) DeleteCollection(ctx context.Context, name string) error {
	exists, err := db.client.HasCollection(ctx, name)
	if err != nil {
		return errors.Trace(err)
	}
	if !exists {
		return errors.NotFoundf("collection %s", name)
	}
	err = db.client.DropCollection(ctx, name)
	return errors.Trace(err)
}

func (db *Milvus) AddVectors(ctx context.Context, collection string, vectors []Vector) error {
	if len(vectors) == 0 {
		return nil
	}
	ids := make([]string, 0, len(vectors))
	data := make([][]float32, 0, len(vectors))
	for _, v := range vectors {
		ids = append(ids, v.Id)
		data = append(data, v.Vector)
	}
	idCol := entity.NewColumnVarChar(milvusIdField, ids)
	vectorCol := entity.NewColumnFloatVector(milvusVectorField, len(data[0]), data)
	_, err := db.client.Upsert(ctx, collection, "", idCol, vectorCol)
	return errors.Trace(err)
}

func (db *Milvus) GetVector(ctx context.Context, collection, id string) (*Vector, error) {
	results, err := db.client.Query(ctx, collection, []string{}, fmt.Sprintf("%s == %s", milvusIdField, strconv.Quote(id)),
		[]string{milvusIdField, milvusVectorField}, client.WithSearchQueryConsistencyLevel(entity.ClStrong))
	if err != nil {
		return nil, errors.Trace(err)
	}
	col, ok := results.GetColumn(milvusVectorField).(*entity.ColumnFloatVector)
	if !ok || col.Len() == 0 {
		return nil, errors.NotFoundf("vector %s", id)
	}
	return &Vector{Id: id, Vector: col.Data()[0]}, nil
}

// metricType reads the metric of the vector index created by AddCollection.
func (db *Milvus) metricType(ctx context.Context, collection string) (entity.MetricType, error) {
	indexes, err := db.client.DescribeIndex(ctx, collection, milvusVectorField)
	if err != nil {
		return "", errors.Trace(err)
	}
	for _, idx := range indexes {
		if metricType, ok := idx.Params()["metric_type"]; ok {
			return entity.MetricType(metricType), nil
		}
	}
	return entity.IP, nil
}

func (db *Milvus) QueryVectors(ctx context.Context, collection string, q []float32, topK int) ([]Vector, error) {
	if topK <= 0 {
		return []Vector{}, nil
	}
	metricType, err := db.metricType(ctx, collection)
	if err != nil {
		return nil, errors.Trace(err)
	}
	searchParam, _ := entity.NewIndexHNSWSearchParam(64)
	results, err := db.client.Search(ctx, collection, []string{}, "", []string{milvusIdField}, []entity.Vector{entity.FloatVector(q)}, milvusVectorField, metricType, topK, searchParam, client.WithSearchQueryConsistencyLevel(entity.ClStrong))
	if err != nil {
		return nil, errors.Trace(err)
	}

	var vectors []Vector
	for _, result := range results {
		var idCol *entity.ColumnVarChar
		if col := result.Fields.GetColumn(milvusIdField); col != nil {
			idCol = col.(*entity.ColumnVarChar)
		} else if result.IDs != nil {
			idCol = result.IDs.(*entity.ColumnVarChar)
		}
		if idCol == nil {
			continue
		}
		for i := 0; i < result.ResultCount; i++ {
			id, err := idCol.ValueByIdx(i)
			if err != nil {
				return nil, errors.Trace(err)
			}
			vectors = append(vectors, Vector{Id: id})
		}
	}
	return vectors, nil
}
