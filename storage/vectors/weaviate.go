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
	"net/http"
	"net/url"
	"strings"

	"github.com/go-openapi/strfmt"
	"github.com/google/uuid"
	"github.com/gorse-io/mfrec/storage"
	"github.com/juju/errors"
	"github.com/weaviate/weaviate-go-client/v4/weaviate"
	"github.com/weaviate/weaviate-go-client/v4/weaviate/fault"
	"github.com/weaviate/weaviate-go-client/v4/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"
)

const weaviateOriginalIdKey = "originalId"

func init() {
	Register([]string{storage.WeaviatePrefix, storage.WeaviatesPrefix}, func(path, tablePrefix string, opts ...storage.Option) (Database, error) {
		database := new(Weaviate)
		u, err := url.Parse(path)
		if err != nil {
			return nil, errors.Trace(err)
		}
		scheme := "http"
		if strings.HasPrefix(path, storage.WeaviatesPrefix) {
			scheme = "https"
		}
		cfg := weaviate.Config{
			Host:   u.Host,
			Scheme: scheme,
		}
		database.client, err = weaviate.NewClient(cfg)
		if err != nil {
			return nil, errors.Trace(err)
		}
		return database, nil
	})
}

type Weaviate struct {
	client *weaviate.Client
}

func weaviateObjectId(id string) strfmt.UUID {
	return strfmt.UUID(uuid.NewMD5(uuid.NameSpaceURL, []byte(id)).String())
}

func (db *Weaviate) Init() error {
	return nil
}

func (db *Weaviate) Close() error {
	return nil
}

func (db *Weaviate) ListCollections(ctx context.Context) ([]string, error) {
	s, err := db.client.Schema().Getter().Do(ctx)
	if err != nil {
		return nil, errors.Trace(err)
	}
	var names []string
	for _, class := range s.Classes {
		names = append(names, uncapitalize(class.Class))
	}
	return names, nil
}

func (db *Weaviate) AddCollection(ctx context.Context, name string, dimensions int, distance Distance) error {
	var weaviateDistance string
	switch distance {
	case Cosine:
		weaviateDistance = "cosine"
	case Euclidean:
		weaviateDistance = "l2-squared"
	case Dot:
		weaviateDistance = "dot"
	default:
		return errors.NotSupportedf("distance method")
	}
	class := &models.Class{
		Class:      capitalize(name),
		Vectorizer: "none",
		Properties: []*models.Property{
			{
				Name:     weaviateOriginalIdKey,
				DataType: []string{"string"},
			},
		},
		VectorIndexConfig: map[string]interface{}{
			"distance": weaviateDistance,
		},
	}
	err := db.client.Schema().ClassCreator().WithClass(class).Do(ctx)
	return errors.Trace(err)
}

func (db *Weaviate) DeleteCollection(ctx context.Context, name string) error {
	exists, err := db.client.Schema().ClassExistenceChecker().WithClassName(capitalize(name)).Do(ctx)
	if err != nil {
		return errors.Trace(err)
	}
	if !exists {
		return errors.NotFoundf("collection %s", name)
	}
	err = db.client.Schema().ClassDeleter().WithClassName(capitalize(name)).Do(ctx)
	return errors.Trace(err)
}

func (db *Weaviate) AddVectors(ctx context.Context, collection string, vectors []Vector) error {
	if len(vectors) == 0 {
		return nil
	}
	objects := make([]*models.Object, 0, len(vectors))
	for _, vector := range vectors {
		objects = append(objects, &models.Object{
			Class: capitalize(collection),
			ID:    weaviateObjectId(vector.Id),
			Properties: map[string]interface{}{
				weaviateOriginalIdKey: vector.Id,
			},
			Vector: models.C11yVector(vector.Vector),
		})
	}
	_, err := db.client.Batch().ObjectsBatcher().WithObjects(objects...).Do(ctx)
	return errors.Trace(err)
}

func (db *Weaviate) GetVector(ctx context.Context, collection, id string) (*Vector, error) {
	objects, err := db.client.Data().ObjectsGetter().
		WithClassName(capitalize(collection)).
		WithID(weaviateObjectId(id).String()).
		WithVector().
		Do(ctx)
	if err != nil {
		var clientErr *fault.WeaviateClientError
		if errors.As(err, &clientErr) && clientErr.StatusCode == http.StatusNotFound {
			return nil, errors.NotFoundf("vector %s", id)
		}
		return nil, errors.Trace(err)
	}
	if len(objects) == 0 {
		return nil, errors.NotFoundf("vector %s", id)
	}
	return &Vector{Id: id, Vector: objects[0].Vector}, nil
}

func (db *Weaviate) QueryVectors(ctx context.Context, collection string, q []float32, topK int) ([]Vector, error) {
	if topK <= 0 {
		return []Vector{}, nil
	}
	nearVector := db.client.GraphQL().NearVectorArgBuilder().WithVector(q)
	result, err := db.client.GraphQL().Get().
		WithClassName(capitalize(collection)).
		WithFields(graphql.Field{Name: weaviateOriginalIdKey}).
		WithNearVector(nearVector).
		WithLimit(topK).
		Do(ctx)
	if err != nil {
		return nil, errors.Trace(err)
	}
	if len(result.Errors) > 0 {
		return nil, errors.New(result.Errors[0].Message)
	}

	data := result.Data["Get"].(map[string]interface{})
	items := data[capitalize(collection)].([]interface{})
	results := make([]Vector, 0, len(items))
	for _, item := range items {
		m := item.(map[string]interface{})
		results = append(results, Vector{Id: m[weaviateOriginalIdKey].(string)})
	}
	return results, nil
}

func capitalize(s string) string {
	if len(s) == 0 {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func uncapitalize(s string) string {
	if len(s) == 0 {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}
