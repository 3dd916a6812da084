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
	"net/url"
	"strconv"

	"github.com/google/uuid"
	"github.com/gorse-io/mfrec/storage"
	"github.com/juju/errors"
	"github.com/qdrant/go-client/qdrant"
	"github.com/samber/lo"
)

// qdrantPayloadIdKey keeps the original id since point ids must be UUIDs or integers.
const qdrantPayloadIdKey = "id"

func init() {
	Register([]string{storage.QdrantPrefix}, func(path, tablePrefix string, opts ...storage.Option) (Database, error) {
		database := new(Qdrant)
		u, err := url.Parse(path)
		if err != nil {
			return nil, errors.Trace(err)
		}
		portInt, err := strconv.Atoi(u.Port())
		if err != nil {
			return nil, errors.Trace(err)
		}
		database.client, err = qdrant.NewClient(&qdrant.Config{
			Host: u.Hostname(),
			Port: portInt,
		})
		if err != nil {
			return nil, errors.Trace(err)
		}
		return database, nil
	})
}

type Qdrant struct {
	client *qdrant.Client
}

func qdrantPointId(id string) *qdrant.PointId {
	return qdrant.NewID(uuid.NewMD5(uuid.NameSpaceURL, []byte(id)).String())
}

func (db *Qdrant) Init() error {
	return nil
}

func (db *Qdrant) Close() error {
	return db.client.Close()
}

func (db *Qdrant) ListCollections(ctx context.Context) ([]string, error) {
	collections, err := db.client.ListCollections(ctx)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return collections, nil
}

func (db *Qdrant) AddCollection(ctx context.Context, name string, dimensions int, distance Distance) error {
	var qdrantDistance qdrant.Distance
	switch distance {
	case Cosine:
		qdrantDistance = qdrant.Distance_Cosine
	case Euclidean:
		qdrantDistance = qdrant.Distance_Euclid
	case Dot:
		qdrantDistance = qdrant.Distance_Dot
	default:
		return errors.NotSupportedf("distance method")
	}
	err := db.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: name,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(dimensions),
			Distance: qdrantDistance,
		}),
	})
	return errors.Trace(err)
}

func (db *Qdrant) DeleteCollection(ctx context.Context, name string) error {
	exists, err := db.client.CollectionExists(ctx, name)
	if err != nil {
		return errors.Trace(err)
	}
	if !exists {
		return errors.NotFoundf("collection %s", name)
	}
	return errors.Trace(db.client.DeleteCollection(ctx, name))
}

func (db *Qdrant) AddVectors(ctx context.Context, collection string, vectors []Vector) error {
	if len(vectors) == 0 {
		return nil
	}
	points := lo.Map(vectors, func(v Vector, _ int) *qdrant.PointStruct {
		return &qdrant.PointStruct{
			Id:      qdrantPointId(v.Id),
			Vectors: qdrant.NewVectors(v.Vector...),
			Payload: qdrant.NewValueMap(map[string]any{qdrantPayloadIdKey: v.Id}),
		}
	})
	_, err := db.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: collection,
		Wait:           lo.ToPtr(true),
		Points:         points,
	})
	return errors.Trace(err)
}

func (db *Qdrant) GetVector(ctx context.Context, collection, id string) (*Vector, error) {
	points, err := db.client.Get(ctx, &qdrant.GetPoints{
		CollectionName: collection,
		Ids:            []*qdrant.PointId{qdrantPointId(id)},
		WithVectors:    qdrant.NewWithVectors(true),
	})
	if err != nil {
		return nil, errors.Trace(err)
	}
	if len(points) == 0 {
		return nil, errors.NotFoundf("vector %s", id)
	}
	return &Vector{Id: id, Vector: points[0].GetVectors().GetVector().GetData()}, nil
}

func (db *Qdrant) QueryVectors(ctx context.Context, collection string, q []float32, topK int) ([]Vector, error) {
	if topK <= 0 {
		return []Vector{}, nil
	}
	points, err := db.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: collection,
		Query:          qdrant.NewQuery(q...),
		Limit:          lo.ToPtr(uint64(topK)),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, errors.Trace(err)
	}
	return lo.Map(points, func(p *qdrant.ScoredPoint, _ int) Vector {
		return Vector{Id: p.GetPayload()[qdrantPayloadIdKey].GetStringValue()}
	}), nil
}
