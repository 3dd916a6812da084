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

package vectors

import (
	"context"
	"slices"
	"sort"
	"sync"

	"github.com/chewxy/math32"
	"github.com/gorse-io/mfrec/storage"
	"github.com/juju/errors"
	"github.com/samber/lo"
)

func init() {
	Register([]string{storage.MemoryPrefix}, func(path, tablePrefix string, opts ...storage.Option) (Database, error) {
		return NewMemory(), nil
	})
}

type memoryCollection struct {
	dimensions int
	distance   Distance
	vectors    map[string][]float32
}

// Memory is a brute-force vector store living in the process.
type Memory struct {
	mu          sync.RWMutex
	collections map[string]*memoryCollection
}

func NewMemory() *Memory {
	return &Memory{collections: make(map[string]*memoryCollection)}
}

func (db *Memory) Init() error {
	return nil
}

func (db *Memory) Close() error {
	return nil
}

func (db *Memory) ListCollections(_ context.Context) ([]string, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	names := lo.Keys(db.collections)
	sort.Strings(names)
	return names, nil
}

func (db *Memory) AddCollection(_ context.Context, name string, dimensions int, distance Distance) error {
	if distance != Cosine && distance != Euclidean && distance != Dot {
		return errors.NotSupportedf("distance method")
	}
	db.mu.Lock()
	defer db.mu.Unlock()
	if _, exist := db.collections[name]; exist {
		return errors.AlreadyExistsf("collection %s", name)
	}
	db.collections[name] = &memoryCollection{
		dimensions: dimensions,
		distance:   distance,
		vectors:    make(map[string][]float32),
	}
	return nil
}

func (db *Memory) DeleteCollection(_ context.Context, name string) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if _, exist := db.collections[name]; !exist {
		return errors.NotFoundf("collection %s", name)
	}
	delete(db.collections, name)
	return nil
}

func (db *Memory) collection(name string) (*memoryCollection, error) {
	c, exist := db.collections[name]
	if !exist {
		return nil, errors.NotFoundf("collection %s", name)
	}
	return c, nil
}

func (db *Memory) AddVectors(_ context.Context, collection string, vectors []Vector) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	c, err := db.collection(collection)
	if err != nil {
		return errors.Trace(err)
	}
	for _, v := range vectors {
		if len(v.Vector) != c.dimensions {
			return errors.NotValidf("vector %s with %d dimensions in collection of %d dimensions", v.Id, len(v.Vector), c.dimensions)
		}
	}
	for _, v := range vectors {
		c.vectors[v.Id] = slices.Clone(v.Vector)
	}
	return nil
}

func (db *Memory) GetVector(_ context.Context, collection, id string) (*Vector, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	c, err := db.collection(collection)
	if err != nil {
		return nil, errors.Trace(err)
	}
	v, exist := c.vectors[id]
	if !exist {
		return nil, errors.NotFoundf("vector %s", id)
	}
	return &Vector{Id: id, Vector: slices.Clone(v)}, nil
}

func (db *Memory) QueryVectors(_ context.Context, collection string, q []float32, topK int) ([]Vector, error) {
	if topK <= 0 {
		return []Vector{}, nil
	}
	db.mu.RLock()
	defer db.mu.RUnlock()
	c, err := db.collection(collection)
	if err != nil {
		return nil, errors.Trace(err)
	}
	if len(q) != c.dimensions {
		return nil, errors.NotValidf("query with %d dimensions in collection of %d dimensions", len(q), c.dimensions)
	}
	type scored struct {
		id    string
		score float32
	}
	candidates := make([]scored, 0, len(c.vectors))
	for id, v := range c.vectors {
		candidates = append(candidates, scored{id: id, score: similarity(c.distance, q, v)})
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].id < candidates[j].id
	})
	if len(candidates) > topK {
		candidates = candidates[:topK]
	}
	return lo.Map(candidates, func(s scored, _ int) Vector {
		return Vector{Id: s.id, Vector: slices.Clone(c.vectors[s.id])}
	}), nil
}

// similarity is larger for closer vectors.
func similarity(distance Distance, a, b []float32) float32 {
	var dot, normA, normB, squared float32
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
		squared += (a[i] - b[i]) * (a[i] - b[i])
	}
	switch distance {
	case Cosine:
		if normA == 0 || normB == 0 {
			return 0
		}
		return dot / (math32.Sqrt(normA) * math32.Sqrt(normB))
	case Euclidean:
		return -squared
	default:
		return dot
	}
}
